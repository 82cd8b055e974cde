package protocol

import (
	"context"

	"github.com/mcdev12/tabletop/go/internal/session"
)

// Type is the string discriminator carried by every frame
type Type string

const (
	TypeClientConnected     Type = "client-connected"
	TypeRequestSession      Type = "request-session"
	TypeViewportChange      Type = "viewport-change"
	TypeTableSize           Type = "table-size"
	TypeTableViewportChange Type = "table-viewport-change"
	TypeGridUpdate          Type = "grid-update"
	TypeMapChange           Type = "map-change"
	TypeArtworkDisplay      Type = "artwork-display"
	TypeLockViewport        Type = "lock-viewport"
	TypePing                Type = "ping"

	// Server to client only
	TypeWelcome      Type = "welcome"
	TypeSessionState Type = "session-state"
	TypePong         Type = "pong"
)

// Message is any frame that can be written to the wire
type Message interface {
	MessageType() Type
}

// Intent is a client to hub message. The set of intents is closed: every
// intent dispatches to exactly one IntentHandler method, so a new intent
// cannot be added without a handler for it.
type Intent interface {
	Message
	dispatch(ctx context.Context, h IntentHandler)
}

// IntentHandler has one method per intent type
type IntentHandler interface {
	HandleClientConnected(ctx context.Context, msg ClientConnected)
	HandleRequestSession(ctx context.Context, msg RequestSession)
	HandleViewportChange(ctx context.Context, msg ViewportChange)
	HandleTableSize(ctx context.Context, msg TableSize)
	HandleTableViewportChange(ctx context.Context, msg TableViewportChange)
	HandleGridUpdate(ctx context.Context, msg GridUpdate)
	HandleMapChange(ctx context.Context, msg MapChange)
	HandleArtworkDisplay(ctx context.Context, msg ArtworkDisplay)
	HandleLockViewport(ctx context.Context, msg LockViewport)
	HandlePing(ctx context.Context, msg Ping)
}

// Dispatch routes intent to the matching handler method
func Dispatch(ctx context.Context, intent Intent, h IntentHandler) {
	intent.dispatch(ctx, h)
}

// ClientConnected announces a client's role. Sent as an intent and
// re-broadcast to the other clients unchanged.
type ClientConnected struct {
	Type     Type                `json:"type"`
	Role     session.Role        `json:"role"`
	Viewport *session.Dimensions `json:"viewport,omitempty"`
}

func NewClientConnected(role session.Role, viewport *session.Dimensions) ClientConnected {
	return ClientConnected{Type: TypeClientConnected, Role: role, Viewport: viewport}
}

func (ClientConnected) MessageType() Type { return TypeClientConnected }
func (m ClientConnected) dispatch(ctx context.Context, h IntentHandler) {
	h.HandleClientConnected(ctx, m)
}

type RequestSession struct {
	Type Type `json:"type"`
}

func NewRequestSession() RequestSession {
	return RequestSession{Type: TypeRequestSession}
}

func (RequestSession) MessageType() Type { return TypeRequestSession }
func (m RequestSession) dispatch(ctx context.Context, h IntentHandler) {
	h.HandleRequestSession(ctx, m)
}

type ViewportChange struct {
	Type     Type                  `json:"type"`
	Viewport session.ViewportState `json:"viewport"`
}

func NewViewportChange(v session.ViewportState) ViewportChange {
	return ViewportChange{Type: TypeViewportChange, Viewport: v}
}

func (ViewportChange) MessageType() Type { return TypeViewportChange }
func (m ViewportChange) dispatch(ctx context.Context, h IntentHandler) {
	h.HandleViewportChange(ctx, m)
}

type TableSize struct {
	Type Type               `json:"type"`
	Size session.Dimensions `json:"size"`
}

func NewTableSize(size session.Dimensions) TableSize {
	return TableSize{Type: TypeTableSize, Size: size}
}

func (TableSize) MessageType() Type { return TypeTableSize }
func (m TableSize) dispatch(ctx context.Context, h IntentHandler) {
	h.HandleTableSize(ctx, m)
}

type TableViewportChange struct {
	Type     Type                  `json:"type"`
	Viewport session.ViewportState `json:"viewport"`
}

func NewTableViewportChange(v session.ViewportState) TableViewportChange {
	return TableViewportChange{Type: TypeTableViewportChange, Viewport: v}
}

func (TableViewportChange) MessageType() Type { return TypeTableViewportChange }
func (m TableViewportChange) dispatch(ctx context.Context, h IntentHandler) {
	h.HandleTableViewportChange(ctx, m)
}

type GridUpdate struct {
	Type Type                 `json:"type"`
	Grid session.GridSettings `json:"grid"`
}

func NewGridUpdate(grid session.GridSettings) GridUpdate {
	return GridUpdate{Type: TypeGridUpdate, Grid: grid}
}

func (GridUpdate) MessageType() Type { return TypeGridUpdate }
func (m GridUpdate) dispatch(ctx context.Context, h IntentHandler) {
	h.HandleGridUpdate(ctx, m)
}

type MapChange struct {
	Type Type                  `json:"type"`
	Map  session.MapDescriptor `json:"map"`
}

func NewMapChange(m session.MapDescriptor) MapChange {
	return MapChange{Type: TypeMapChange, Map: m}
}

func (MapChange) MessageType() Type { return TypeMapChange }
func (m MapChange) dispatch(ctx context.Context, h IntentHandler) {
	h.HandleMapChange(ctx, m)
}

// ArtworkDisplay shows an artwork overlay, or clears it when Artwork is nil
type ArtworkDisplay struct {
	Type    Type                   `json:"type"`
	Artwork *session.MapDescriptor `json:"artwork"`
}

func NewArtworkDisplay(artwork *session.MapDescriptor) ArtworkDisplay {
	return ArtworkDisplay{Type: TypeArtworkDisplay, Artwork: artwork}
}

func (ArtworkDisplay) MessageType() Type { return TypeArtworkDisplay }
func (m ArtworkDisplay) dispatch(ctx context.Context, h IntentHandler) {
	h.HandleArtworkDisplay(ctx, m)
}

type LockViewport struct {
	Type   Type `json:"type"`
	Locked bool `json:"locked"`
}

func NewLockViewport(locked bool) LockViewport {
	return LockViewport{Type: TypeLockViewport, Locked: locked}
}

func (LockViewport) MessageType() Type { return TypeLockViewport }
func (m LockViewport) dispatch(ctx context.Context, h IntentHandler) {
	h.HandleLockViewport(ctx, m)
}

// Ping carries the sender's clock in epoch milliseconds
type Ping struct {
	Type      Type    `json:"type"`
	Timestamp float64 `json:"timestamp"`
}

func NewPing(timestamp float64) Ping {
	return Ping{Type: TypePing, Timestamp: timestamp}
}

func (Ping) MessageType() Type { return TypePing }
func (m Ping) dispatch(ctx context.Context, h IntentHandler) {
	h.HandlePing(ctx, m)
}

// Welcome acknowledges a client-connected intent to its sender
type Welcome struct {
	Type Type         `json:"type"`
	Role session.Role `json:"role"`
}

func NewWelcome(role session.Role) Welcome {
	return Welcome{Type: TypeWelcome, Role: role}
}

func (Welcome) MessageType() Type { return TypeWelcome }

// SessionState carries a full snapshot of the authoritative session
type SessionState struct {
	Type    Type          `json:"type"`
	Session session.State `json:"session"`
}

func NewSessionState(state session.State) SessionState {
	return SessionState{Type: TypeSessionState, Session: state}
}

func (SessionState) MessageType() Type { return TypeSessionState }

// Pong echoes the timestamp of the ping it answers
type Pong struct {
	Type      Type    `json:"type"`
	Timestamp float64 `json:"timestamp"`
}

func NewPong(timestamp float64) Pong {
	return Pong{Type: TypePong, Timestamp: timestamp}
}

func (Pong) MessageType() Type { return TypePong }
