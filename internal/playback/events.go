package playback

// StateChange is emitted when the playback state changes.
type StateChange struct {
	Previous State
	Current  State
}

// FrameChange is emitted each time a frame is handed to the display,
// whether playback advanced or the user navigated.
type FrameChange struct {
	Index int
	Total int
}

// SpeedChange is emitted when the playback rate changes.
type SpeedChange struct {
	FPS float64
}
