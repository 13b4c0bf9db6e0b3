package loader

import (
	"time"

	"github.com/llehouerou/dcmview/internal/dicom"
)

// Event is one of FirstFrameInfo, FrameReady, Progress, AllFramesLoaded or
// ErrorEvent. Events of one loader arrive in emission order.
type Event interface {
	// SessionID identifies the file the event belongs to.
	SessionID() string
}

// FirstFrameInfo is emitted once the file is open, before any frame.
type FirstFrameInfo struct {
	Session     string
	Identity    dicom.Identity
	TotalFrames int
	// Interval is the display interval derived from the file.
	// FileTiming is false when it is only a modality default.
	Interval   time.Duration
	FileTiming bool
}

// FrameReady is emitted after a frame has been written to the store.
// It carries only the index; the bitmap is read from the store.
type FrameReady struct {
	Session string
	Index   int
}

// Progress is emitted after every FrameReady.
type Progress struct {
	Session string
	Current int
	Total   int
}

// AllFramesLoaded is emitted exactly once after the last frame.
type AllFramesLoaded struct {
	Session     string
	TotalFrames int
}

// ErrorEvent is emitted when loading stops on an error.
type ErrorEvent struct {
	Session string
	Path    string
	Message string // user-facing, from errmsg
	Err     error
}

func (e FirstFrameInfo) SessionID() string  { return e.Session }
func (e FrameReady) SessionID() string      { return e.Session }
func (e Progress) SessionID() string        { return e.Session }
func (e AllFramesLoaded) SessionID() string { return e.Session }
func (e ErrorEvent) SessionID() string      { return e.Session }

// StateChange is emitted when the loader changes state.
type StateChange struct {
	Previous State
	Current  State
}
