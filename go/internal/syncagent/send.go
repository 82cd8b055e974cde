package syncagent

import (
	"github.com/mcdev12/tabletop/go/internal/protocol"
	"github.com/mcdev12/tabletop/go/internal/session"
)

// Each Send call updates the local mirror, then emits the intent. The
// returned bool reports whether the intent was written to an open socket.

func (a *Agent) SendMapChange(m session.MapDescriptor) bool {
	a.mirror.SetMap(m)
	a.notifySession()
	return a.emit(protocol.NewMapChange(m))
}

func (a *Agent) SendViewportChange(v session.ViewportState) bool {
	a.mirror.SetViewport(v)
	a.notifySession()
	return a.emit(protocol.NewViewportChange(v))
}

func (a *Agent) SendGridUpdate(grid session.GridSettings) bool {
	a.mirror.SetGrid(grid)
	a.notifySession()
	return a.emit(protocol.NewGridUpdate(grid))
}

func (a *Agent) SendTableViewportChange(v session.ViewportState) bool {
	a.mirror.SetTableViewport(v)
	a.notifySession()
	return a.emit(protocol.NewTableViewportChange(v))
}

func (a *Agent) SendTableSize(size session.Dimensions) bool {
	a.mirror.SetTableSize(size)
	a.notifySession()
	return a.emit(protocol.NewTableSize(size))
}

// SendArtworkDisplay shows artwork over the map, or clears it when nil
func (a *Agent) SendArtworkDisplay(artwork *session.MapDescriptor) bool {
	a.mirror.SetArtwork(artwork)
	a.notifySession()
	return a.emit(protocol.NewArtworkDisplay(artwork))
}

func (a *Agent) SendLockViewport(locked bool) bool {
	a.mirror.SetLocked(locked)
	a.notifySession()
	return a.emit(protocol.NewLockViewport(locked))
}
