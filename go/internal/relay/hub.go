package relay

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/tabletop/go/internal/protocol"
	"github.com/mcdev12/tabletop/go/internal/session"
	"github.com/rs/zerolog/log"
)

var (
	errClientClosed   = errors.New("client closed")
	errSendBufferFull = errors.New("send buffer full")
)

// GridStore is what the hub needs from the grid metadata store
type GridStore interface {
	Grid(ctx context.Context, filename string) (*session.GridSettings, error)
	Write(ctx context.Context, filename string, grid session.GridSettings) error
}

// HubConfig configures a Hub. Zero values fall back to defaults.
type HubConfig struct {
	Store             *session.Store
	Grids             GridStore
	Publisher         Publisher
	SendBufferSize    int
	InboundBufferSize int
}

// Hub owns the authoritative session, applies client intents to it and
// relays the resulting changes to every other connected client. All intents
// are applied by one dispatch loop, one at a time, in arrival order.
type Hub struct {
	store     *session.Store
	grids     GridStore
	publisher Publisher

	clients map[*Client]struct{}
	mu      sync.RWMutex

	sendBufferSize int
	inbound        chan inboundFrame
	stopped        chan struct{}
	stopOnce       sync.Once
	running        atomic.Bool

	applied atomic.Uint64
	dropped atomic.Uint64
}

type inboundFrame struct {
	client *Client
	raw    []byte
}

// Client is the hub's handle for one connected peer
type Client struct {
	ID          string
	RemoteAddr  string
	ConnectedAt time.Time

	send chan []byte
	done chan struct{}

	mu       sync.Mutex
	role     session.Role
	viewport *session.Dimensions
	closed   bool
}

// Role returns the role the client announced, "table" until it announces one
func (c *Client) Role() session.Role {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role
}

// Viewport returns the display size the client announced, if any
func (c *Client) Viewport() *session.Dimensions {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.viewport == nil {
		return nil
	}
	v := *c.viewport
	return &v
}

// Outbound yields encoded frames queued for this client
func (c *Client) Outbound() <-chan []byte {
	return c.send
}

// Done is closed once the client has been unregistered
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) setRole(role session.Role, viewport *session.Dimensions) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.role = role
	c.viewport = viewport
}

func (c *Client) enqueue(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errClientClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		return errSendBufferFull
	}
}

// close marks the client closed, reporting whether this call closed it
func (c *Client) close() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.closed = true
	close(c.done)
	return true
}

// NewHub creates a hub
func NewHub(cfg HubConfig) *Hub {
	if cfg.Store == nil {
		cfg.Store = session.NewStore()
	}
	if cfg.Publisher == nil {
		cfg.Publisher = NopPublisher{}
	}
	if cfg.SendBufferSize <= 0 {
		cfg.SendBufferSize = 256
	}
	if cfg.InboundBufferSize <= 0 {
		cfg.InboundBufferSize = 1024
	}

	return &Hub{
		store:          cfg.Store,
		grids:          cfg.Grids,
		publisher:      cfg.Publisher,
		clients:        make(map[*Client]struct{}),
		sendBufferSize: cfg.SendBufferSize,
		inbound:        make(chan inboundFrame, cfg.InboundBufferSize),
		stopped:        make(chan struct{}),
	}
}

// Session returns a snapshot of the authoritative session
func (h *Hub) Session() session.State {
	return h.store.Get()
}

// Register adds a new client. It starts as a "table" client until it sends
// client-connected.
func (h *Hub) Register(remoteAddr string) *Client {
	client := &Client{
		ID:          uuid.New().String(),
		RemoteAddr:  remoteAddr,
		ConnectedAt: time.Now(),
		send:        make(chan []byte, h.sendBufferSize),
		done:        make(chan struct{}),
		role:        session.RoleTable,
	}

	h.mu.Lock()
	h.clients[client] = struct{}{}
	total := len(h.clients)
	h.mu.Unlock()

	log.Info().
		Str("client_id", client.ID).
		Str("remote_addr", remoteAddr).
		Int("total_clients", total).
		Msg("client registered")
	return client
}

// Unregister removes a client. Further broadcasts skip it; session changes
// it already caused are kept. Safe to call more than once.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	_, exists := h.clients[client]
	delete(h.clients, client)
	total := len(h.clients)
	h.mu.Unlock()

	if client.close() && exists {
		log.Info().
			Str("client_id", client.ID).
			Str("role", string(client.Role())).
			Int("total_clients", total).
			Msg("client unregistered")
	}
}

// Submit queues a raw frame from client for the dispatch loop. It blocks
// while the queue is full and returns false once the hub has stopped.
func (h *Hub) Submit(client *Client, raw []byte) bool {
	select {
	case <-h.stopped:
		return false
	default:
	}

	select {
	case h.inbound <- inboundFrame{client: client, raw: raw}:
		return true
	case <-h.stopped:
		return false
	}
}

// Run applies submitted frames until ctx is cancelled
func (h *Hub) Run(ctx context.Context) {
	log.Info().Msg("relay hub started")
	h.running.Store(true)
	defer func() {
		h.running.Store(false)
		h.stopOnce.Do(func() { close(h.stopped) })
	}()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("relay hub shutting down")
			return
		case frame := <-h.inbound:
			h.HandleMessage(ctx, frame.client, frame.raw)
		}
	}
}

// HandleMessage decodes and applies one raw frame from client. Malformed
// frames and unknown types are dropped; nothing is sent back for them.
func (h *Hub) HandleMessage(ctx context.Context, client *Client, raw []byte) {
	intent, err := protocol.DecodeIntent(raw)
	if err != nil {
		h.dropped.Add(1)
		log.Debug().
			Err(err).
			Str("client_id", client.ID).
			Str("frame", string(raw)).
			Msg("dropping client frame")
		return
	}

	if e := log.Debug(); e.Enabled() {
		e.Str("client_id", client.ID).
			Str("type", string(intent.MessageType())).
			RawJSON("message", raw).
			Msg("received client message")
	}

	protocol.Dispatch(ctx, intent, intentDispatcher{hub: h, client: client})
	h.applied.Add(1)
}

// Running reports whether the dispatch loop is active
func (h *Hub) Running() bool {
	return h.running.Load()
}

// send queues msg for a single client
func (h *Hub) send(client *Client, msg protocol.Message) {
	data, err := protocol.Encode(msg)
	if err != nil {
		log.Error().Err(err).Msg("failed to encode message")
		return
	}
	h.deliver(client, data, msg.MessageType())
}

// broadcast queues msg for every client except the sender and hands it to
// the publisher
func (h *Hub) broadcast(ctx context.Context, msg protocol.Message, sender *Client) {
	data, err := protocol.Encode(msg)
	if err != nil {
		log.Error().Err(err).Msg("failed to encode broadcast")
		return
	}

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		if c == sender {
			continue
		}
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.deliver(c, data, msg.MessageType())
	}

	if err := h.publisher.Publish(ctx, msg); err != nil {
		log.Warn().
			Err(err).
			Str("type", string(msg.MessageType())).
			Msg("failed to publish session event")
	}

	log.Debug().
		Str("type", string(msg.MessageType())).
		Int("clients", len(targets)).
		Msg("broadcasted")
}

func (h *Hub) deliver(c *Client, data []byte, t protocol.Type) {
	switch err := c.enqueue(data); {
	case err == nil:
	case errors.Is(err, errSendBufferFull):
		log.Warn().
			Str("client_id", c.ID).
			Str("type", string(t)).
			Msg("client send buffer full, disconnecting")
		h.Unregister(c)
	}
}

// Stats counts connected clients by role and frames handled
type Stats struct {
	TotalConnections int    `json:"total_connections"`
	DM               int    `json:"dm"`
	Table            int    `json:"table"`
	FramesApplied    uint64 `json:"frames_applied"`
	FramesDropped    uint64 `json:"frames_dropped"`
}

// Stats returns connection counts
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	stats := Stats{
		TotalConnections: len(h.clients),
		FramesApplied:    h.applied.Load(),
		FramesDropped:    h.dropped.Load(),
	}
	for c := range h.clients {
		switch c.Role() {
		case session.RoleDM:
			stats.DM++
		default:
			stats.Table++
		}
	}
	return stats
}
