package syncagent

import "time"

// Status is the agent's connection status
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusStale        Status = "stale"
	StatusReconnecting Status = "reconnecting"
	StatusOffline      Status = "offline"
)

// HealthConfig holds the heartbeat and reconnect timings
type HealthConfig struct {
	HeartbeatInterval time.Duration
	StaleAfter        time.Duration
	LostDebounce      time.Duration
	ReconnectDelay    time.Duration
}

// DefaultHealthConfig returns the standard timings
func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		HeartbeatInterval: 5 * time.Second,
		StaleAfter:        10 * time.Second,
		LostDebounce:      300 * time.Millisecond,
		ReconnectDelay:    2 * time.Second,
	}
}

// Monitor is the connection health state machine. It holds no timers of its
// own: callers pass the current time in and arm timers from LostDeadline.
//
//	connecting   -> connected     Opened
//	connected    -> stale         Heartbeat, no pong for StaleAfter
//	stale        -> connected     Pong
//	connecting,
//	connected,
//	stale        -> reconnecting  Closed
//	reconnecting -> connecting    Connecting
//	any          -> offline       Offline
//
// Leaving connected arms the lost debounce; Lost only reports true once the
// status has stayed away from connected for LostDebounce.
type Monitor struct {
	cfg HealthConfig

	status       Status
	lastPong     time.Time
	lostDeadline time.Time
	lost         bool
}

// NewMonitor creates a monitor in the connecting status
func NewMonitor(cfg HealthConfig) *Monitor {
	return &Monitor{cfg: cfg, status: StatusConnecting}
}

func (m *Monitor) Status() Status {
	return m.status
}

// Lost reports the debounced connection-lost signal
func (m *Monitor) Lost() bool {
	return m.lost
}

// LastPong returns when the last pong (or open) was seen
func (m *Monitor) LastPong() time.Time {
	return m.lastPong
}

// LostDeadline returns when the pending lost signal becomes visible
func (m *Monitor) LostDeadline() (time.Time, bool) {
	return m.lostDeadline, !m.lostDeadline.IsZero()
}

// Connecting records the start of a connection attempt
func (m *Monitor) Connecting(now time.Time) bool {
	if m.status == StatusOffline {
		return false
	}
	return m.set(StatusConnecting, now)
}

// Opened records a completed open and handshake
func (m *Monitor) Opened(now time.Time) bool {
	m.lastPong = now
	return m.set(StatusConnected, now)
}

// Pong records a heartbeat reply. A stale connection becomes connected again.
func (m *Monitor) Pong(now time.Time) bool {
	m.lastPong = now
	if m.status == StatusStale {
		return m.set(StatusConnected, now)
	}
	return false
}

// Heartbeat checks staleness. It reports whether the status changed.
func (m *Monitor) Heartbeat(now time.Time) bool {
	if m.status != StatusConnected {
		return false
	}
	if now.Sub(m.lastPong) >= m.cfg.StaleAfter {
		return m.set(StatusStale, now)
	}
	return false
}

// Closed records a socket close or a failed dial. The caller schedules a
// reconnect when this returns true.
func (m *Monitor) Closed(now time.Time) bool {
	switch m.status {
	case StatusConnecting, StatusConnected, StatusStale:
		return m.set(StatusReconnecting, now)
	}
	return false
}

// Offline records that no endpoint could be resolved
func (m *Monitor) Offline(now time.Time) bool {
	return m.set(StatusOffline, now)
}

// Tick exposes the lost signal once its debounce has elapsed. It reports
// whether Lost changed.
func (m *Monitor) Tick(now time.Time) bool {
	if m.lostDeadline.IsZero() || now.Before(m.lostDeadline) {
		return false
	}
	m.lostDeadline = time.Time{}
	if m.status == StatusConnected || m.lost {
		return false
	}
	m.lost = true
	return true
}

func (m *Monitor) set(next Status, now time.Time) bool {
	if m.status == next {
		return false
	}
	m.status = next

	if next == StatusConnected {
		m.lostDeadline = time.Time{}
		m.lost = false
		return true
	}
	// moving between non-connected statuses keeps the pending deadline
	if m.lostDeadline.IsZero() && !m.lost {
		m.lostDeadline = now.Add(m.cfg.LostDebounce)
	}
	return true
}
