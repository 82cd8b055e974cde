package relay

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/mcdev12/tabletop/go/internal/gridmeta"
	"github.com/mcdev12/tabletop/go/internal/protocol"
	"github.com/mcdev12/tabletop/go/internal/session"
)

type frame map[string]any

func recv(t *testing.T, c *Client) frame {
	t.Helper()
	select {
	case data := <-c.Outbound():
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			t.Fatalf("unmarshal %s: %v", data, err)
		}
		return f
	case <-time.After(2 * time.Second):
		t.Fatalf("client %s received nothing", c.ID)
		return nil
	}
}

func expectType(t *testing.T, c *Client, want protocol.Type) frame {
	t.Helper()
	f := recv(t, c)
	if f["type"] != string(want) {
		t.Fatalf("expected %q, got %v", want, f)
	}
	return f
}

func expectNothing(t *testing.T, c *Client) {
	t.Helper()
	select {
	case data := <-c.Outbound():
		t.Fatalf("client %s unexpectedly received %s", c.ID, data)
	case <-time.After(50 * time.Millisecond):
	}
}

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []protocol.Message
	err  error
}

func (p *recordingPublisher) Publish(_ context.Context, msg protocol.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
	return p.err
}

func (p *recordingPublisher) types() []protocol.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]protocol.Type, len(p.msgs))
	for i, m := range p.msgs {
		out[i] = m.MessageType()
	}
	return out
}

type failingGrids struct{}

func (failingGrids) Grid(context.Context, string) (*session.GridSettings, error) {
	return nil, errors.New("disk on fire")
}
func (failingGrids) Write(context.Context, string, session.GridSettings) error {
	return errors.New("disk on fire")
}

func newTestHub(t *testing.T) (*Hub, *gridmeta.Store) {
	t.Helper()
	grids := gridmeta.NewStoreInDir(filepath.Join(t.TempDir(), "maps"))
	return NewHub(HubConfig{Grids: grids}), grids
}

func handle(h *Hub, c *Client, raw string) {
	h.HandleMessage(context.Background(), c, []byte(raw))
}

func TestClientConnectedHandshake(t *testing.T) {
	h, _ := newTestHub(t)
	a := h.Register("a")
	b := h.Register("b")

	handle(h, a, `{"type":"client-connected","role":"dm","viewport":{"width":800,"height":600}}`)

	welcome := expectType(t, a, protocol.TypeWelcome)
	if welcome["role"] != "dm" {
		t.Fatalf("unexpected welcome %v", welcome)
	}
	snap := expectType(t, a, protocol.TypeSessionState)
	if _, ok := snap["session"].(map[string]any); !ok {
		t.Fatalf("session-state without session: %v", snap)
	}
	expectNothing(t, a)

	peer := expectType(t, b, protocol.TypeClientConnected)
	if peer["role"] != "dm" {
		t.Fatalf("unexpected peer frame %v", peer)
	}
	expectNothing(t, b)

	if a.Role() != session.RoleDM {
		t.Fatalf("expected role dm, got %s", a.Role())
	}
	if v := a.Viewport(); v == nil || v.Width != 800 {
		t.Fatalf("unexpected viewport %+v", v)
	}
	if stats := h.Stats(); stats.TotalConnections != 2 || stats.DM != 1 || stats.Table != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestRequestSessionRepliesToSenderOnly(t *testing.T) {
	h, _ := newTestHub(t)
	a := h.Register("a")
	b := h.Register("b")

	handle(h, a, `{"type":"request-session"}`)
	expectType(t, a, protocol.TypeSessionState)
	expectNothing(t, b)
}

func TestBroadcastIntentsReachOthersButNotSender(t *testing.T) {
	frames := map[protocol.Type]string{
		protocol.TypeViewportChange:      `{"type":"viewport-change","viewport":{"x":5,"y":6,"zoom":2}}`,
		protocol.TypeTableSize:           `{"type":"table-size","size":{"width":1280,"height":720}}`,
		protocol.TypeTableViewportChange: `{"type":"table-viewport-change","viewport":{"x":1,"y":1,"zoom":0.5}}`,
		protocol.TypeGridUpdate:          `{"type":"grid-update","grid":{"size":64}}`,
		protocol.TypeMapChange:           `{"type":"map-change","map":{"id":"cave.png","name":"cave","filename":"cave.png"}}`,
		protocol.TypeArtworkDisplay:      `{"type":"artwork-display","artwork":{"id":"dragon.png","name":"dragon","filename":"dragon.png"}}`,
		protocol.TypeLockViewport:        `{"type":"lock-viewport","locked":true}`,
		protocol.TypeClientConnected:     `{"type":"client-connected","role":"table"}`,
	}

	for typ, raw := range frames {
		t.Run(string(typ), func(t *testing.T) {
			h, _ := newTestHub(t)
			a := h.Register("a")
			b := h.Register("b")
			c := h.Register("c")

			handle(h, a, raw)

			expectType(t, b, typ)
			expectType(t, c, typ)
			expectNothing(t, b)
			expectNothing(t, c)

			// the sender only ever gets direct replies, never its own broadcast
			for {
				select {
				case data := <-a.Outbound():
					var f frame
					_ = json.Unmarshal(data, &f)
					if f["type"] == string(typ) {
						t.Fatalf("sender received its own %s broadcast", typ)
					}
					continue
				case <-time.After(50 * time.Millisecond):
				}
				break
			}
		})
	}
}

func TestIntentsMutateSession(t *testing.T) {
	h, _ := newTestHub(t)
	a := h.Register("a")

	handle(h, a, `{"type":"viewport-change","viewport":{"x":5,"y":6,"zoom":2}}`)
	handle(h, a, `{"type":"table-size","size":{"width":1280,"height":720}}`)
	handle(h, a, `{"type":"table-viewport-change","viewport":{"x":1,"y":1,"zoom":0.5,"rotation":90}}`)
	handle(h, a, `{"type":"lock-viewport","locked":true}`)
	handle(h, a, `{"type":"artwork-display","artwork":{"id":"dragon.png","name":"dragon","filename":"dragon.png"}}`)

	s := h.Session()
	if s.Viewport.X != 5 || s.Viewport.Zoom != 2 {
		t.Fatalf("unexpected viewport %+v", s.Viewport)
	}
	if s.TableSize.Width != 1280 {
		t.Fatalf("unexpected table size %+v", s.TableSize)
	}
	if s.TableViewport.Rotation == nil || *s.TableViewport.Rotation != 90 {
		t.Fatalf("unexpected table viewport %+v", s.TableViewport)
	}
	if !s.Locked {
		t.Fatal("expected locked")
	}
	if s.Artwork == nil || s.Artwork.Filename != "dragon.png" {
		t.Fatalf("unexpected artwork %+v", s.Artwork)
	}

	handle(h, a, `{"type":"artwork-display"}`)
	if h.Session().Artwork != nil {
		t.Fatal("artwork-display without artwork must clear the overlay")
	}
}

func TestPingRepliesPongToSenderOnly(t *testing.T) {
	h, _ := newTestHub(t)
	a := h.Register("a")
	b := h.Register("b")

	handle(h, a, `{"type":"ping","timestamp":1700000000123}`)

	pong := expectType(t, a, protocol.TypePong)
	if pong["timestamp"] != float64(1700000000123) {
		t.Fatalf("timestamp not echoed: %v", pong)
	}
	expectNothing(t, a)
	expectNothing(t, b)
}

func TestMalformedFramesAreDropped(t *testing.T) {
	h, _ := newTestHub(t)
	pub := &recordingPublisher{}
	h.publisher = pub
	a := h.Register("a")
	b := h.Register("b")
	before := h.Session()

	for _, raw := range []string{
		`not json`,
		`[]`,
		`42`,
		`{"grid":{"size":10}}`,
		`{"type":false}`,
		`{"type":"teleport","to":"moon"}`,
		`{"type":"pong","timestamp":1}`,
		`{"type":"map-change","map":null}`,
		`{"type":"map-change","map":{"name":"nameless","filename":"x.png"}}`,
		`{"type":"grid-update","grid":null}`,
	} {
		handle(h, a, raw)
	}

	expectNothing(t, a)
	expectNothing(t, b)
	if len(pub.types()) != 0 {
		t.Fatalf("nothing should be published, got %v", pub.types())
	}
	if after := h.Session(); after.Grid.Size != before.Grid.Size || after.Map != before.Map {
		t.Fatalf("session changed: %+v", after)
	}
	if h.Stats().TotalConnections != 2 {
		t.Fatal("malformed frames must not disconnect anyone")
	}
}

func TestNullGridDoesNotOverwriteStoredGrid(t *testing.T) {
	h, grids := newTestHub(t)
	ctx := context.Background()
	dm := h.Register("dm")
	table := h.Register("table")

	handle(h, dm, `{"type":"map-change","map":{"id":"forest.png","name":"forest","filename":"forest.png"}}`)
	expectType(t, table, protocol.TypeMapChange)
	handle(h, dm, `{"type":"grid-update","grid":{"size":60}}`)
	expectType(t, table, protocol.TypeGridUpdate)

	handle(h, dm, `{"type":"grid-update","grid":null}`)
	expectNothing(t, table)

	stored, err := grids.Grid(ctx, "forest.png")
	if err != nil || stored == nil || stored.Size != 60 {
		t.Fatalf("expected stored grid of 60, got %+v %v", stored, err)
	}
	if got := h.Session().Grid.Size; got != 60 {
		t.Fatalf("expected session grid 60, got %v", got)
	}
}

func TestGridUpdatePersistsForCurrentMap(t *testing.T) {
	ctx := context.Background()
	h, grids := newTestHub(t)
	dm := h.Register("dm")
	table := h.Register("table")

	handle(h, dm, `{"type":"map-change","map":{"id":"forest.png","name":"forest","filename":"forest.png"}}`)
	expectType(t, table, protocol.TypeMapChange)

	handle(h, dm, `{"type":"grid-update","grid":{"size":60}}`)
	got := expectType(t, table, protocol.TypeGridUpdate)
	if grid := got["grid"].(map[string]any); grid["size"] != float64(60) {
		t.Fatalf("unexpected grid %v", got)
	}

	all, err := grids.ReadAll(ctx)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if rec, ok := all["forest.png"]; !ok || rec.Grid == nil || rec.Grid.Size != 60 {
		t.Fatalf("expected forest.png -> size 60, got %+v", all)
	}
	if h.Session().Grid.Size != 60 {
		t.Fatalf("session grid not updated: %+v", h.Session().Grid)
	}
}

func TestGridUpdateOnBlankMapIsNotPersisted(t *testing.T) {
	ctx := context.Background()
	h, grids := newTestHub(t)
	dm := h.Register("dm")

	handle(h, dm, `{"type":"grid-update","grid":{"size":60}}`)

	all, err := grids.ReadAll(ctx)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(all) != 0 {
		t.Fatalf("blank map must not be grid-mapped, got %+v", all)
	}
}

func TestMapChangeRestoresStoredGrid(t *testing.T) {
	ctx := context.Background()
	h, grids := newTestHub(t)
	dm := h.Register("dm")
	table := h.Register("table")

	if err := grids.Write(ctx, "forest.png", session.GridSettings{Size: 72, Color: "#abcdef"}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	handle(h, dm, `{"type":"map-change","map":{"id":"forest.png","name":"forest","filename":"forest.png","grid":{"size":10}}}`)

	mc := expectType(t, table, protocol.TypeMapChange)
	mapGrid := mc["map"].(map[string]any)["grid"].(map[string]any)
	if mapGrid["size"] != float64(72) || mapGrid["color"] != "#abcdef" {
		t.Fatalf("stored grid must override the incoming one, got %v", mapGrid)
	}
	gu := expectType(t, table, protocol.TypeGridUpdate)
	if gu["grid"].(map[string]any)["size"] != float64(72) {
		t.Fatalf("unexpected grid-update %v", gu)
	}
	expectNothing(t, table)
	expectNothing(t, dm)

	s := h.Session()
	if s.Grid.Size != 72 || s.Map.Grid == nil || s.Map.Grid.Size != 72 {
		t.Fatalf("session not merged: %+v", s)
	}
}

func TestMapChangeWithoutStoredGrid(t *testing.T) {
	h, _ := newTestHub(t)
	dm := h.Register("dm")
	table := h.Register("table")

	handle(h, dm, `{"type":"map-change","map":{"id":"cave.png","name":"cave","filename":"cave.png","grid":{"size":10}}}`)

	mc := expectType(t, table, protocol.TypeMapChange)
	if mc["map"].(map[string]any)["grid"].(map[string]any)["size"] != float64(10) {
		t.Fatalf("map must pass through unchanged, got %v", mc)
	}
	expectNothing(t, table)

	s := h.Session()
	if s.Map.Filename != "cave.png" {
		t.Fatalf("unexpected map %+v", s.Map)
	}
	if s.Grid.Size != 48 {
		t.Fatalf("session grid must be untouched without stored grid, got %v", s.Grid.Size)
	}
}

func TestMapChangeToBlankSkipsLookup(t *testing.T) {
	h := NewHub(HubConfig{Grids: failingGrids{}})
	dm := h.Register("dm")
	table := h.Register("table")

	handle(h, dm, `{"type":"map-change","map":{"id":"blank","name":"Blank","filename":""}}`)
	expectType(t, table, protocol.TypeMapChange)
	expectNothing(t, table)
}

func TestMetadataFailuresDoNotBlockBroadcasts(t *testing.T) {
	h := NewHub(HubConfig{Grids: failingGrids{}})
	dm := h.Register("dm")
	table := h.Register("table")

	handle(h, dm, `{"type":"map-change","map":{"id":"forest.png","name":"forest","filename":"forest.png"}}`)
	expectType(t, table, protocol.TypeMapChange)
	expectNothing(t, table)

	handle(h, dm, `{"type":"grid-update","grid":{"size":60}}`)
	expectType(t, table, protocol.TypeGridUpdate)
}

func TestPublisherSeesBroadcastsOnly(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker down")}
	h := NewHub(HubConfig{Publisher: pub})
	a := h.Register("a")

	handle(h, a, `{"type":"ping","timestamp":1}`)
	handle(h, a, `{"type":"request-session"}`)
	handle(h, a, `{"type":"lock-viewport","locked":true}`)
	handle(h, a, `{"type":"client-connected","role":"dm"}`)

	got := pub.types()
	want := []protocol.Type{protocol.TypeLockViewport, protocol.TypeClientConnected}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestUnregisterStopsDeliveryButKeepsState(t *testing.T) {
	h, _ := newTestHub(t)
	a := h.Register("a")
	b := h.Register("b")

	handle(h, a, `{"type":"lock-viewport","locked":true}`)
	expectType(t, b, protocol.TypeLockViewport)

	h.Unregister(a)
	h.Unregister(a)

	select {
	case <-a.Done():
	default:
		t.Fatal("expected done closed after unregister")
	}

	handle(h, b, `{"type":"lock-viewport","locked":false}`)
	expectNothing(t, a)
	if h.Session().Locked {
		t.Fatal("expected unlocked")
	}
	if h.Stats().TotalConnections != 1 {
		t.Fatalf("unexpected stats %+v", h.Stats())
	}
}

func TestSlowClientIsDisconnected(t *testing.T) {
	h := NewHub(HubConfig{SendBufferSize: 1})
	a := h.Register("a")
	slow := h.Register("slow")

	handle(h, a, `{"type":"lock-viewport","locked":true}`)
	handle(h, a, `{"type":"lock-viewport","locked":false}`)

	select {
	case <-slow.Done():
	case <-time.After(time.Second):
		t.Fatal("slow client should have been disconnected")
	}
	if h.Stats().TotalConnections != 1 {
		t.Fatalf("unexpected stats %+v", h.Stats())
	}
}

func TestRunAppliesSubmittedFramesInOrder(t *testing.T) {
	h, _ := newTestHub(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	dm := h.Register("dm")
	table := h.Register("table")
	for _, size := range []string{"10", "20", "30"} {
		if !h.Submit(dm, []byte(`{"type":"grid-update","grid":{"size":`+size+`}}`)) {
			t.Fatal("submit failed")
		}
	}
	for _, want := range []float64{10, 20, 30} {
		f := expectType(t, table, protocol.TypeGridUpdate)
		if f["grid"].(map[string]any)["size"] != want {
			t.Fatalf("expected size %v, got %v", want, f)
		}
	}

	cancel()
	<-done
	if h.Submit(dm, []byte(`{"type":"request-session"}`)) {
		t.Fatal("submit after stop must report failure")
	}
}
