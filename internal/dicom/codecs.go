package dicom

import (
	"sync"

	"github.com/cocosip/go-dicom-codec/codec"
	"github.com/cocosip/go-dicom-codec/jpeg/baseline"
	"github.com/cocosip/go-dicom-codec/jpeg/extended"
	jpeglossless "github.com/cocosip/go-dicom-codec/jpeg/lossless"
	"github.com/cocosip/go-dicom-codec/jpeg/lossless14sv1"
	j2klossless "github.com/cocosip/go-dicom-codec/jpeg2000/lossless"
	jlslossless "github.com/cocosip/go-dicom-codec/jpegls/lossless"
)

// More transfer syntaxes handled through the codec registry.
const (
	SyntaxJPEGLSLossless     = "1.2.840.10008.1.2.4.80"
	SyntaxJPEGLSNearLossless = "1.2.840.10008.1.2.4.81"
	SyntaxJPEG2000Lossless   = "1.2.840.10008.1.2.4.90"
	SyntaxJPEG2000           = "1.2.840.10008.1.2.4.91"
)

// losslessSyntaxes keep the stored samples exactly, so DecodeRaw can serve them.
var losslessSyntaxes = map[string]bool{
	SyntaxRLELossless:      true,
	SyntaxJPEGLossless:     true,
	SyntaxJPEGLosslessSV1:  true,
	SyntaxJPEGLSLossless:   true,
	SyntaxJPEG2000Lossless: true,
}

// Encoder settings of the registered codecs. Only their decoders are used
// for playback.
const (
	codecQuality        = 95
	codecExtendedBits   = 12
	codecFirstPredictor = 1
)

// codecRegistry maps transfer syntax UIDs to image codecs.
type codecRegistry struct {
	mu    sync.RWMutex
	byUID map[string]codec.Codec
}

func newCodecRegistry(codecs ...codec.Codec) *codecRegistry {
	r := &codecRegistry{byUID: make(map[string]codec.Codec)}
	for _, c := range codecs {
		r.register(c)
	}
	return r
}

// register adds c under its own UID.
func (r *codecRegistry) register(c codec.Codec) {
	r.registerAs(c.UID(), c)
}

// registerAs adds c under uid. Decoders that read a whole family of
// bitstreams serve the sibling syntaxes this way.
func (r *codecRegistry) registerAs(uid string, c codec.Codec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byUID[normalizeUID(uid)] = c
}

func (r *codecRegistry) lookup(uid string) (codec.Codec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byUID[normalizeUID(uid)]
	return c, ok
}

var defaultCodecs = func() *codecRegistry {
	r := newCodecRegistry(
		baseline.NewBaselineCodec(codecQuality),
		extended.NewExtendedCodec(codecExtendedBits, codecQuality),
		jpeglossless.NewLosslessCodec(codecFirstPredictor),
		lossless14sv1.NewLosslessSV1Codec(),
		jlslossless.NewJPEGLSLosslessCodec(),
		j2klossless.NewJPEG2000LosslessCodec(),
	)
	// The lossless decoders also read the lossy members of their family.
	if c, ok := r.lookup(SyntaxJPEGLSLossless); ok {
		r.registerAs(SyntaxJPEGLSNearLossless, c)
	}
	if c, ok := r.lookup(SyntaxJPEG2000Lossless); ok {
		r.registerAs(SyntaxJPEG2000, c)
	}
	return r
}()

// Decodable reports whether encapsulated frames of transferSyntax can be
// decoded. Native syntaxes are always decodable.
func Decodable(transferSyntax string) bool {
	ts := normalizeUID(transferSyntax)
	switch ts {
	case SyntaxImplicitLittle, SyntaxExplicitLittle, SyntaxExplicitBig, SyntaxRLELossless:
		return true
	}
	_, ok := defaultCodecs.lookup(ts)
	return ok
}
