package relay

import (
	"context"

	"github.com/mcdev12/tabletop/go/internal/protocol"
	"github.com/rs/zerolog/log"
)

// intentDispatcher applies intents from one client to the hub. It must
// implement every protocol.IntentHandler method, so adding an intent without
// a handler here fails to compile.
type intentDispatcher struct {
	hub    *Hub
	client *Client
}

var _ protocol.IntentHandler = intentDispatcher{}

func (d intentDispatcher) HandleClientConnected(ctx context.Context, msg protocol.ClientConnected) {
	d.client.setRole(msg.Role, msg.Viewport)

	log.Info().
		Str("client_id", d.client.ID).
		Str("role", string(msg.Role)).
		Msg("client announced role")

	d.hub.send(d.client, protocol.NewWelcome(msg.Role))
	d.hub.broadcast(ctx, protocol.NewClientConnected(msg.Role, msg.Viewport), d.client)
	d.hub.send(d.client, protocol.NewSessionState(d.hub.store.Get()))
}

func (d intentDispatcher) HandleRequestSession(ctx context.Context, msg protocol.RequestSession) {
	d.hub.send(d.client, protocol.NewSessionState(d.hub.store.Get()))
}

func (d intentDispatcher) HandleViewportChange(ctx context.Context, msg protocol.ViewportChange) {
	d.hub.store.SetViewport(msg.Viewport)
	d.hub.broadcast(ctx, protocol.NewViewportChange(msg.Viewport), d.client)
}

func (d intentDispatcher) HandleTableSize(ctx context.Context, msg protocol.TableSize) {
	d.hub.store.SetTableSize(msg.Size)
	d.hub.broadcast(ctx, protocol.NewTableSize(msg.Size), d.client)
}

func (d intentDispatcher) HandleTableViewportChange(ctx context.Context, msg protocol.TableViewportChange) {
	d.hub.store.SetTableViewport(msg.Viewport)
	d.hub.broadcast(ctx, protocol.NewTableViewportChange(msg.Viewport), d.client)
}

// HandleGridUpdate broadcasts before persisting so clients never wait on
// disk. Persistence still completes before the next intent is applied.
func (d intentDispatcher) HandleGridUpdate(ctx context.Context, msg protocol.GridUpdate) {
	d.hub.store.SetGrid(msg.Grid)
	d.hub.broadcast(ctx, protocol.NewGridUpdate(msg.Grid), d.client)

	current := d.hub.store.Map()
	if d.hub.grids == nil || !current.HasGridMetadata() {
		return
	}
	if err := d.hub.grids.Write(ctx, current.Filename, msg.Grid); err != nil {
		log.Error().
			Err(err).
			Str("filename", current.Filename).
			Msg("failed to persist grid settings")
	}
}

// HandleMapChange re-applies the stored grid of a map when one exists. The
// stored grid wins over any grid on the incoming descriptor, and is sent as
// a separate grid-update too for clients that only watch that channel.
func (d intentDispatcher) HandleMapChange(ctx context.Context, msg protocol.MapChange) {
	target := msg.Map

	if d.hub.grids != nil && target.HasGridMetadata() {
		stored, err := d.hub.grids.Grid(ctx, target.Filename)
		if err != nil {
			log.Error().
				Err(err).
				Str("filename", target.Filename).
				Msg("failed to read stored grid settings")
		}
		if stored != nil {
			target.Grid = stored
			d.hub.store.SetMapWithGrid(target, *stored)
			d.hub.broadcast(ctx, protocol.NewMapChange(target), d.client)
			d.hub.broadcast(ctx, protocol.NewGridUpdate(*stored), d.client)
			return
		}
	}

	d.hub.store.SetMap(target)
	d.hub.broadcast(ctx, protocol.NewMapChange(target), d.client)
}

func (d intentDispatcher) HandleArtworkDisplay(ctx context.Context, msg protocol.ArtworkDisplay) {
	d.hub.store.SetArtwork(msg.Artwork)
	d.hub.broadcast(ctx, protocol.NewArtworkDisplay(msg.Artwork), d.client)
}

func (d intentDispatcher) HandleLockViewport(ctx context.Context, msg protocol.LockViewport) {
	d.hub.store.SetLocked(msg.Locked)
	d.hub.broadcast(ctx, protocol.NewLockViewport(msg.Locked), d.client)
}

func (d intentDispatcher) HandlePing(ctx context.Context, msg protocol.Ping) {
	d.hub.send(d.client, protocol.NewPong(msg.Timestamp))
}
