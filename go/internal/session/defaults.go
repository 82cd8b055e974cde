package session

// BlankMapID is the id of the sentinel map meaning "no map loaded"
const BlankMapID = "blank"

// BlankMap returns the "no map loaded" descriptor. It has no filename and is
// never persisted or grid-mapped.
func BlankMap() MapDescriptor {
	return MapDescriptor{ID: BlankMapID, Name: "Blank", Filename: ""}
}

// DefaultGrid returns the grid a fresh session starts with
func DefaultGrid() GridSettings {
	opacity := 0.18
	return GridSettings{
		Size:            48,
		Color:           "#e0e5f5",
		Opacity:         &opacity,
		BackgroundColor: "#0c0d11",
	}
}

// Default returns the session every relay process starts from
func Default() State {
	return State{
		Grid:          DefaultGrid(),
		Map:           BlankMap(),
		Artwork:       nil,
		Locked:        false,
		Viewport:      &ViewportState{X: 0, Y: 0, Zoom: 1},
		TableViewport: &ViewportState{X: 0, Y: 0, Zoom: 1},
		TableSize:     &Dimensions{Width: 1920, Height: 1080},
	}
}
