// Package syncagent keeps a client's local mirror of the shared session in
// step with the relay. It performs the connection handshake, applies relay
// broadcasts to the mirror, sends optimistic intents and runs the heartbeat,
// staleness and reconnect loop.
//
// Send operations change the local mirror first and then emit the intent if
// the socket is open. While disconnected the intent is dropped, so the mirror
// can diverge from the relay until the session-state snapshot that follows
// the next reconnect.
package syncagent

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/tabletop/go/internal/protocol"
	"github.com/mcdev12/tabletop/go/internal/session"
	"github.com/rs/zerolog/log"
)

// Config configures an Agent. Zero values fall back to defaults.
type Config struct {
	URL      string
	Role     session.Role
	Viewport *session.Dimensions

	Health       HealthConfig
	Clock        clockwork.Clock
	Dialer       *websocket.Dialer
	WriteTimeout time.Duration

	// Callbacks run on the goroutine that caused the change and must not
	// block.
	OnSession func(session.State)
	OnStatus  func(Status)
	OnLost    func(bool)
	OnPeer    func(protocol.Message)
}

// Agent is one client's connection to the relay
type Agent struct {
	cfg    Config
	clock  clockwork.Clock
	mirror *session.Store

	// mu guards monitor, conn and gen, and serializes socket writes
	mu      sync.Mutex
	monitor *Monitor
	conn    *websocket.Conn
	gen     uint64
}

type inbound struct {
	gen  uint64
	data []byte
	err  error
}

// New creates an agent. It does nothing until Run is called.
func New(cfg Config) *Agent {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Health == (HealthConfig{}) {
		cfg.Health = DefaultHealthConfig()
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if !cfg.Role.Valid() {
		cfg.Role = session.RoleTable
	}

	return &Agent{
		cfg:     cfg,
		clock:   cfg.Clock,
		mirror:  session.NewStore(),
		monitor: NewMonitor(cfg.Health),
	}
}

// Session returns a snapshot of the local mirror
func (a *Agent) Session() session.State {
	return a.mirror.Get()
}

func (a *Agent) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.monitor.Status()
}

// ConnectionLost reports the debounced connection-lost signal
func (a *Agent) ConnectionLost() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.monitor.Lost()
}

// Run connects and keeps the connection alive until ctx is cancelled. It
// returns ErrNoEndpoint straight away, in the offline status, when no URL is
// configured.
func (a *Agent) Run(ctx context.Context) error {
	if a.cfg.URL == "" {
		a.transition(func(m *Monitor, now time.Time) { m.Offline(now) })
		return ErrNoEndpoint
	}

	log.Info().
		Str("url", a.cfg.URL).
		Str("role", string(a.cfg.Role)).
		Msg("sync agent starting")

	heartbeat := a.clock.NewTicker(a.cfg.Health.HeartbeatInterval)
	frames := make(chan inbound, 64)

	var (
		reconnect clockwork.Timer
		lost      clockwork.Timer
		lostAt    time.Time
	)
	defer func() {
		heartbeat.Stop()
		stopTimer(reconnect)
		stopTimer(lost)
		a.closeConn()
		log.Info().Msg("sync agent stopped")
	}()

	a.connect(ctx, frames)

	for {
		// at most one reconnect timer is outstanding
		a.mu.Lock()
		status := a.monitor.Status()
		deadline, armed := a.monitor.LostDeadline()
		a.mu.Unlock()

		if status == StatusReconnecting && reconnect == nil {
			reconnect = a.clock.NewTimer(a.cfg.Health.ReconnectDelay)
			log.Info().
				Dur("delay", a.cfg.Health.ReconnectDelay).
				Msg("reconnect scheduled")
		}
		if armed && (lost == nil || !deadline.Equal(lostAt)) {
			stopTimer(lost)
			lost, lostAt = a.clock.NewTimer(max(deadline.Sub(a.clock.Now()), 0)), deadline
		} else if !armed && lost != nil {
			stopTimer(lost)
			lost, lostAt = nil, time.Time{}
		}

		select {
		case <-ctx.Done():
			return nil

		case <-heartbeat.Chan():
			a.heartbeat()

		case in := <-frames:
			a.receive(in)

		case <-timerChan(reconnect):
			reconnect = nil
			a.connect(ctx, frames)

		case <-timerChan(lost):
			lost, lostAt = nil, time.Time{}
			a.transition(func(m *Monitor, now time.Time) { m.Tick(now) })
		}
	}
}

// connect dials the relay and performs the handshake. The socket only
// becomes visible to Send calls once client-connected and request-session
// have been written, so they always go first on every connection.
func (a *Agent) connect(ctx context.Context, frames chan<- inbound) {
	a.transition(func(m *Monitor, now time.Time) { m.Connecting(now) })

	conn, _, err := a.cfg.Dialer.DialContext(ctx, a.cfg.URL, nil)
	if err != nil {
		log.Warn().Err(err).Str("url", a.cfg.URL).Msg("failed to connect to relay")
		a.transition(func(m *Monitor, now time.Time) { m.Closed(now) })
		return
	}

	var gen uint64
	var handshakeErr error
	a.transition(func(m *Monitor, now time.Time) {
		if handshakeErr = a.handshake(conn); handshakeErr != nil {
			m.Closed(now)
			return
		}
		a.gen++
		gen = a.gen
		a.conn = conn
		m.Opened(now)
	})
	if handshakeErr != nil {
		log.Warn().Err(handshakeErr).Msg("relay handshake failed")
		conn.Close()
		return
	}

	log.Info().Str("url", a.cfg.URL).Msg("connected to relay")
	go a.readLoop(ctx, conn, gen, frames)
}

// handshake must be called with mu held
func (a *Agent) handshake(conn *websocket.Conn) error {
	if err := a.writeTo(conn, protocol.NewClientConnected(a.cfg.Role, a.cfg.Viewport)); err != nil {
		return err
	}
	return a.writeTo(conn, protocol.NewRequestSession())
}

func (a *Agent) readLoop(ctx context.Context, conn *websocket.Conn, gen uint64, frames chan<- inbound) {
	for {
		_, data, err := conn.ReadMessage()
		select {
		case frames <- inbound{gen: gen, data: data, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

func (a *Agent) receive(in inbound) {
	a.mu.Lock()
	current := in.gen == a.gen && a.conn != nil
	a.mu.Unlock()
	if !current {
		return
	}

	if in.err != nil {
		log.Warn().Err(in.err).Msg("relay connection closed")
		a.transition(func(m *Monitor, now time.Time) {
			a.conn.Close()
			a.conn = nil
			m.Closed(now)
		})
		return
	}

	msg, err := protocol.DecodeServerMessage(in.data)
	if err != nil {
		log.Debug().Err(err).Str("frame", string(in.data)).Msg("ignoring relay frame")
		return
	}
	a.apply(msg)
}

// apply patches the mirror with one relay message
func (a *Agent) apply(msg protocol.Message) {
	switch m := msg.(type) {
	case protocol.SessionState:
		a.mirror.Replace(m.Session)
	case protocol.ViewportChange:
		a.mirror.SetViewport(m.Viewport)
	case protocol.TableSize:
		a.mirror.SetTableSize(m.Size)
	case protocol.TableViewportChange:
		a.mirror.SetTableViewport(m.Viewport)
	case protocol.GridUpdate:
		a.mirror.SetGrid(m.Grid)
	case protocol.MapChange:
		if m.Map.Grid != nil {
			a.mirror.SetMapWithGrid(m.Map, *m.Map.Grid)
		} else {
			a.mirror.SetMap(m.Map)
		}
	case protocol.ArtworkDisplay:
		a.mirror.SetArtwork(m.Artwork)
	case protocol.LockViewport:
		a.mirror.SetLocked(m.Locked)
	case protocol.Pong:
		a.transition(func(mon *Monitor, now time.Time) { mon.Pong(now) })
		return
	case protocol.Welcome, protocol.ClientConnected:
		if a.cfg.OnPeer != nil {
			a.cfg.OnPeer(msg)
		}
		return
	default:
		return
	}
	a.notifySession()
}

func (a *Agent) heartbeat() {
	a.transition(func(m *Monitor, now time.Time) {
		if a.conn != nil {
			if err := a.writeTo(a.conn, protocol.NewPing(float64(now.UnixMilli()))); err != nil {
				log.Warn().Err(err).Msg("failed to send heartbeat")
				// the read loop reports the close
				a.conn.Close()
			}
		}
		m.Heartbeat(now)
	})
}

// transition runs fn against the monitor with mu held and reports any
// status or lost change to the callbacks
func (a *Agent) transition(fn func(m *Monitor, now time.Time)) {
	a.mu.Lock()
	beforeStatus, beforeLost := a.monitor.Status(), a.monitor.Lost()
	fn(a.monitor, a.clock.Now())
	status, lost := a.monitor.Status(), a.monitor.Lost()
	a.mu.Unlock()

	if status != beforeStatus {
		log.Info().
			Str("from", string(beforeStatus)).
			Str("to", string(status)).
			Msg("connection status changed")
		if a.cfg.OnStatus != nil {
			a.cfg.OnStatus(status)
		}
	}
	if lost != beforeLost && a.cfg.OnLost != nil {
		a.cfg.OnLost(lost)
	}
}

func (a *Agent) notifySession() {
	if a.cfg.OnSession != nil {
		a.cfg.OnSession(a.mirror.Get())
	}
}

// writeTo must be called with mu held
func (a *Agent) writeTo(conn *websocket.Conn, msg protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(a.cfg.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// emit writes an intent if the socket is open, reporting whether it did
func (a *Agent) emit(msg protocol.Intent) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.conn == nil {
		log.Debug().
			Str("type", string(msg.MessageType())).
			Msg("not connected, intent applied locally only")
		return false
	}
	if err := a.writeTo(a.conn, msg); err != nil {
		log.Warn().
			Err(err).
			Str("type", string(msg.MessageType())).
			Msg("failed to send intent")
		a.conn.Close()
		return false
	}
	return true
}

func (a *Agent) closeConn() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn == nil {
		return
	}
	a.conn.SetWriteDeadline(time.Now().Add(a.cfg.WriteTimeout))
	a.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	a.conn.Close()
	a.conn = nil
	a.gen++
}

func timerChan(t clockwork.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.Chan()
}

// stopTimer stops a timer and drains its channel
func stopTimer(t clockwork.Timer) {
	if t == nil {
		return
	}
	if !t.Stop() {
		select {
		case <-t.Chan():
		default:
		}
	}
}
