package dicom

import (
	"image"
)

// backend decodes frames of one session. It is chosen once at load time.
type backend interface {
	decodeFrame(index int) (*image.Gray, error)
	// decodeAll decompresses the whole pixel stream in frame order.
	decodeAll() ([]*image.Gray, error)
	supportsBatch() bool
	close()
}

var (
	_ backend = (*genericBackend)(nil)
	_ backend = (*acceleratedBackend)(nil)
)

// genericBackend decodes each frame independently. Every call builds its own
// decode state, so it is safe for concurrent use.
type genericBackend struct {
	s      *Session
	frames []rawFrame
}

func newGenericBackend(s *Session, pf *parsedFile) *genericBackend {
	return &genericBackend{s: s, frames: pf.frames}
}

func (b *genericBackend) decodeFrame(index int) (*image.Gray, error) {
	return renderFrame(b.s, b.frames[index], b.s.WindowCenter, b.s.WindowWidth)
}

func (b *genericBackend) decodeAll() ([]*image.Gray, error) {
	return nil, ErrBatchUnsupported
}

func (b *genericBackend) supportsBatch() bool { return false }

// close is a no-op: frames are immutable and may still be read by decodes
// started before the decoder was closed.
func (b *genericBackend) close() {}

// renderFrame turns a stored frame into a bitmap with the given window.
func renderFrame(s *Session, rf rawFrame, center, width float64) (*image.Gray, error) {
	if rf.data != nil {
		return decodeEncoded(s, rf.data, center, width)
	}
	return renderSamples(s, rf.samples, center, width)
}

// frameSamples returns the stored samples of a frame. Lossy encapsulated
// frames have no exact sample access.
func frameSamples(s *Session, rf rawFrame) ([]int32, error) {
	if rf.data != nil && !losslessSyntaxes[s.TransferSyntax] {
		return nil, ErrNoRawData
	}
	return decodedSamples(s, rf)
}

// decodedSamples returns the samples of a frame, decoding encapsulated data.
func decodedSamples(s *Session, rf rawFrame) ([]int32, error) {
	if rf.data == nil {
		return rf.samples, nil
	}
	return decodeSamples(s, rf.data)
}
