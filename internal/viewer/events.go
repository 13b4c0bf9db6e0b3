package viewer

import (
	"image"
	"time"

	"github.com/llehouerou/dcmview/internal/dicom"
)

// Opened is emitted once a file is open and playback starts.
type Opened struct {
	Session     string
	Path        string
	Identity    dicom.Identity
	TotalFrames int
	Interval    time.Duration
}

// FrameShown is emitted when the pacer releases a frame for display.
type FrameShown struct {
	Session string
	Index   int
	Image   *image.Gray
}

// Progress reports first-pass loading progress.
type Progress struct {
	Session string
	Current int
	Total   int
}

// Loaded is emitted once every frame of the file was published.
type Loaded struct {
	Session     string
	TotalFrames int
}

// ErrorEvent carries a user-facing loading error.
type ErrorEvent struct {
	Session string
	Path    string
	Message string
	Err     error
}
