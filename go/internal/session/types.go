package session

// Role identifies what kind of client is attached to the relay
type Role string

const (
	RoleDM    Role = "dm"
	RoleTable Role = "table"
)

// Valid reports whether r is one of the known roles
func (r Role) Valid() bool {
	return r == RoleDM || r == RoleTable
}

// Point is a position in map coordinates
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Dimensions describes the pixel size of a display surface
type Dimensions struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// ViewportState is the visible window onto the map. X and Y are the
// top-left offset in map coordinates; Zoom is a positive scale factor.
type ViewportState struct {
	X        float64  `json:"x"`
	Y        float64  `json:"y"`
	Zoom     float64  `json:"zoom"`
	Rotation *float64 `json:"rotation,omitempty"`
}

// GridSettings describes the grid overlay drawn on top of the map
type GridSettings struct {
	Size            float64  `json:"size"`
	Origin          *Point   `json:"origin,omitempty"`
	Color           string   `json:"color,omitempty"`
	Opacity         *float64 `json:"opacity,omitempty"`
	BackgroundColor string   `json:"backgroundColor,omitempty"`
}

// Clone returns a copy that shares no pointers with g
func (g *GridSettings) Clone() *GridSettings {
	if g == nil {
		return nil
	}
	out := *g
	if g.Origin != nil {
		origin := *g.Origin
		out.Origin = &origin
	}
	if g.Opacity != nil {
		opacity := *g.Opacity
		out.Opacity = &opacity
	}
	return &out
}

// MapDescriptor identifies a map or artwork asset
type MapDescriptor struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Filename string        `json:"filename"`
	Width    *float64      `json:"width,omitempty"`
	Height   *float64      `json:"height,omitempty"`
	Grid     *GridSettings `json:"grid,omitempty"`
}

// IsBlank reports whether m is the "no map loaded" sentinel
func (m MapDescriptor) IsBlank() bool {
	return m.ID == BlankMapID
}

// HasGridMetadata reports whether grid settings for m can be stored or
// looked up by filename. The blank sentinel never qualifies.
func (m MapDescriptor) HasGridMetadata() bool {
	return !m.IsBlank() && m.Filename != ""
}

// Clone returns a copy that shares no pointers with m
func (m *MapDescriptor) Clone() *MapDescriptor {
	if m == nil {
		return nil
	}
	out := *m
	if m.Width != nil {
		w := *m.Width
		out.Width = &w
	}
	if m.Height != nil {
		h := *m.Height
		out.Height = &h
	}
	out.Grid = m.Grid.Clone()
	return &out
}

// State is the shared record of map, grid, viewports and artwork overlay
type State struct {
	Grid          GridSettings   `json:"grid"`
	Map           MapDescriptor  `json:"map"`
	Artwork       *MapDescriptor `json:"artwork"`
	Locked        bool           `json:"locked"`
	Viewport      *ViewportState `json:"viewport,omitempty"`
	TableViewport *ViewportState `json:"tableViewport,omitempty"`
	TableSize     *Dimensions    `json:"tableSize,omitempty"`
}

// Clone returns a deep copy of s
func (s State) Clone() State {
	out := s
	out.Grid = *s.Grid.Clone()
	out.Map = *s.Map.Clone()
	out.Artwork = s.Artwork.Clone()
	out.Viewport = cloneViewport(s.Viewport)
	out.TableViewport = cloneViewport(s.TableViewport)
	if s.TableSize != nil {
		size := *s.TableSize
		out.TableSize = &size
	}
	return out
}

func cloneViewport(v *ViewportState) *ViewportState {
	if v == nil {
		return nil
	}
	out := *v
	if v.Rotation != nil {
		r := *v.Rotation
		out.Rotation = &r
	}
	return &out
}
