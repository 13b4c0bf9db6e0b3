package dicom

import (
	"strings"
	"time"
)

// BackendKind identifies the decode strategy chosen for a session.
type BackendKind int

const (
	// BackendGeneric decodes any supported syntax one frame at a time.
	// Each decode builds its own state, so frames may be decoded concurrently.
	BackendGeneric BackendKind = iota
	// BackendAccelerated handles a few encapsulated syntaxes through a single
	// exclusive stream reader. Multi-frame files can only be decompressed whole.
	BackendAccelerated
)

func (k BackendKind) String() string {
	switch k {
	case BackendGeneric:
		return "generic"
	case BackendAccelerated:
		return "accelerated"
	default:
		return "unknown"
	}
}

// Transfer syntax UIDs recognized by the decoder.
const (
	SyntaxImplicitLittle  = "1.2.840.10008.1.2"
	SyntaxExplicitLittle  = "1.2.840.10008.1.2.1"
	SyntaxExplicitBig     = "1.2.840.10008.1.2.2"
	SyntaxJPEGBaseline    = "1.2.840.10008.1.2.4.50"
	SyntaxJPEGExtended    = "1.2.840.10008.1.2.4.51"
	SyntaxJPEGLossless    = "1.2.840.10008.1.2.4.57"
	SyntaxJPEGLosslessSV1 = "1.2.840.10008.1.2.4.70"
	SyntaxRLELossless     = "1.2.840.10008.1.2.5"
)

// acceleratedSyntaxes lists the transfer syntaxes the accelerated backend accepts.
var acceleratedSyntaxes = map[string]bool{
	SyntaxJPEGBaseline: true,
	SyntaxJPEGExtended: true,
	SyntaxRLELossless:  true,
}

// SelectBackend picks the backend for a transfer syntax. Selection depends only
// on the syntax; whether the accelerated backend actually initializes is decided
// later and may still fall back to generic.
func SelectBackend(transferSyntax string) BackendKind {
	if acceleratedSyntaxes[normalizeUID(transferSyntax)] {
		return BackendAccelerated
	}
	return BackendGeneric
}

func isJPEGSyntax(ts string) bool {
	return strings.HasPrefix(ts, "1.2.840.10008.1.2.4.")
}

func normalizeUID(uid string) string {
	return strings.TrimRight(strings.TrimSpace(uid), "\x00 ")
}

// Identity is the descriptive part of a file, forwarded with FirstFrameInfo.
type Identity struct {
	PatientName       string
	PatientID         string
	StudyDescription  string
	SeriesDescription string
	SOPInstanceUID    string
	Modality          string
}

// Timing holds the frame-rate related attributes of a cine file.
// Zero means the attribute is absent.
type Timing struct {
	FrameTime                   float64 // milliseconds
	RecommendedDisplayFrameRate float64
	CineRate                    float64
}

// Session holds everything needed to decode any frame of one open file.
type Session struct {
	ID   string
	Path string

	TotalFrames         int
	Rows                int
	Columns             int
	BitsAllocated       int
	BitsStored          int
	HighBit             int
	PixelRepresentation int // 0 unsigned, 1 signed
	SamplesPerPixel     int
	Photometric         string

	RescaleSlope     float64
	RescaleIntercept float64
	WindowCenter     float64
	WindowWidth      float64

	TransferSyntax string
	Backend        BackendKind

	Identity Identity
	Timing   Timing
}

// Signed reports whether stored pixel values are two's complement.
func (s *Session) Signed() bool { return s.PixelRepresentation == 1 }

// FrameBytes is the size of one decoded 8-bit frame.
func (s *Session) FrameBytes() int64 { return int64(s.Rows) * int64(s.Columns) }

// Frame interval bounds, roughly 60 fps down to 0.5 fps.
const (
	MinFrameInterval = 16 * time.Millisecond
	MaxFrameInterval = 2000 * time.Millisecond
)

// FrameInterval derives the display interval from the file timing attributes.
// Priority: FrameTime, RecommendedDisplayFrameRate, CineRate, then a modality
// default. The result is clamped to [MinFrameInterval, MaxFrameInterval].
// The second return value is false when the file carries no timing at all.
func (s *Session) FrameInterval() (time.Duration, bool) {
	ms, found := 0.0, true
	switch {
	case s.Timing.FrameTime > 0:
		ms = s.Timing.FrameTime
	case s.Timing.RecommendedDisplayFrameRate > 0:
		ms = 1000 / s.Timing.RecommendedDisplayFrameRate
	case s.Timing.CineRate > 0:
		ms = 1000 / s.Timing.CineRate
	default:
		found = false
		switch strings.ToUpper(s.Identity.Modality) {
		case "US":
			ms = 40
		case "XA", "RF":
			ms = 67
		default:
			ms = 100
		}
	}

	d := time.Duration(ms * float64(time.Millisecond))
	d = max(d, MinFrameInterval)
	d = min(d, MaxFrameInterval)
	return d, found
}
