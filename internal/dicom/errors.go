package dicom

import (
	"errors"
	"fmt"
)

// Sentinel errors, matched with errors.Is against the typed errors below.
var (
	ErrUnreadable        = errors.New("file unreadable")
	ErrMissingMetadata   = errors.New("required metadata missing")
	ErrFrameOutOfRange   = errors.New("frame index out of range")
	ErrDimensionMismatch = errors.New("decoded dimensions do not match metadata")
	ErrBackendFailure    = errors.New("decode backend failure")
	ErrClosed            = errors.New("decoder closed")
	ErrNoSession         = errors.New("no file loaded")
	ErrNoRawData         = errors.New("raw pixel data unavailable for this transfer syntax")
	ErrBatchUnsupported  = errors.New("batch decompression unsupported for this session")

	// errBatchOnly is returned by the accelerated backend when asked for a
	// single frame of a multi-frame stream.
	errBatchOnly = errors.New("backend only supports whole-stream decompression")
)

// FileLoadKind classifies a FileLoadError.
type FileLoadKind int

const (
	Unreadable FileLoadKind = iota
	MissingMetadata
)

func (k FileLoadKind) String() string {
	switch k {
	case Unreadable:
		return "Unreadable"
	case MissingMetadata:
		return "MissingMetadata"
	default:
		return "Unknown"
	}
}

// FileLoadError is fatal for the session being opened.
type FileLoadError struct {
	Kind FileLoadKind
	Path string
	Err  error
}

func (e *FileLoadError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("load %s: %s", e.Path, e.sentinel())
	}
	return fmt.Sprintf("load %s: %s: %v", e.Path, e.sentinel(), e.Err)
}

func (e *FileLoadError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.sentinel()}
	}
	return []error{e.sentinel(), e.Err}
}

func (e *FileLoadError) sentinel() error {
	if e.Kind == MissingMetadata {
		return ErrMissingMetadata
	}
	return ErrUnreadable
}

// FrameDecodeKind classifies a FrameDecodeError.
type FrameDecodeKind int

const (
	FrameOutOfRange FrameDecodeKind = iota
	DimensionMismatch
	BackendFailure
)

func (k FrameDecodeKind) String() string {
	switch k {
	case FrameOutOfRange:
		return "FrameOutOfRange"
	case DimensionMismatch:
		return "DimensionMismatch"
	case BackendFailure:
		return "BackendFailure"
	default:
		return "Unknown"
	}
}

// FrameDecodeError is reported per frame and never aborts the session by itself.
type FrameDecodeError struct {
	Kind  FrameDecodeKind
	Index int
	Err   error
}

func (e *FrameDecodeError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("frame %d: %s", e.Index, e.sentinel())
	}
	return fmt.Sprintf("frame %d: %s: %v", e.Index, e.sentinel(), e.Err)
}

func (e *FrameDecodeError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.sentinel()}
	}
	return []error{e.sentinel(), e.Err}
}

func (e *FrameDecodeError) sentinel() error {
	switch e.Kind {
	case FrameOutOfRange:
		return ErrFrameOutOfRange
	case DimensionMismatch:
		return ErrDimensionMismatch
	default:
		return ErrBackendFailure
	}
}

// BackendInitError reports that the accelerated backend could not be set up.
// The decoder falls back to the generic backend when it sees one.
type BackendInitError struct {
	Backend BackendKind
	Err     error
}

func (e *BackendInitError) Error() string {
	return fmt.Sprintf("init %s backend: %v", e.Backend, e.Err)
}

func (e *BackendInitError) Unwrap() error { return e.Err }

func outOfRange(index, total int) error {
	return &FrameDecodeError{
		Kind:  FrameOutOfRange,
		Index: index,
		Err:   fmt.Errorf("index %d, total %d", index, total),
	}
}

func backendFailure(index int, err error) error {
	return &FrameDecodeError{Kind: BackendFailure, Index: index, Err: err}
}
