package dicom

import (
	"errors"
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llehouerou/dcmview/internal/dicom/dicomtest"
)

// nativeFile builds an unsigned 16-bit native file whose pixel p in frame f
// stores f*100 + p.
func nativeFile(frames, rows, cols int) *parsedFile {
	pf := &parsedFile{session: Session{
		Path:            "/native.dcm",
		TotalFrames:     frames,
		Rows:            rows,
		Columns:         cols,
		BitsAllocated:   16,
		BitsStored:      16,
		HighBit:         15,
		SamplesPerPixel: 1,
		Photometric:     "MONOCHROME2",
		RescaleSlope:    1,
		WindowCenter:    defaultWindowCenter,
		WindowWidth:     defaultWindowWidth,
		TransferSyntax:  SyntaxExplicitLittle,
	}}
	for f := range frames {
		samples := make([]int32, rows*cols)
		for p := range samples {
			samples[p] = int32(f*100 + p)
		}
		pf.frames = append(pf.frames, rawFrame{samples: samples})
	}
	return pf
}

// rleFile builds an 8-bit RLE encapsulated file with one fragment per frame.
func rleFile(frames, rows, cols int) *parsedFile {
	pf := &parsedFile{
		session: Session{
			Path:            "/rle.dcm",
			TotalFrames:     frames,
			Rows:            rows,
			Columns:         cols,
			BitsAllocated:   8,
			BitsStored:      8,
			HighBit:         7,
			SamplesPerPixel: 1,
			Photometric:     "MONOCHROME2",
			RescaleSlope:    1,
			WindowCenter:    128,
			WindowWidth:     256,
			TransferSyntax:  SyntaxRLELossless,
		},
		encapsulated: true,
	}
	for f := range frames {
		plane := make([]byte, rows*cols)
		for p := range plane {
			plane[p] = byte(10*f + p)
		}
		pf.frames = append(pf.frames, rawFrame{data: dicomtest.EncodeRLE(plane)})
	}
	return pf
}

func jpegFile(t *testing.T, frames, rows, cols int) *parsedFile {
	t.Helper()
	return encodedFile(t, SyntaxJPEGBaseline, frames, rows, cols, 8, func(f, _ int) int { return 40 * f })
}

func TestApplyWindowLevel(t *testing.T) {
	tests := []struct {
		name                 string
		value, center, width float64
		want                 uint8
	}{
		{"below window", -1500, 0, 2000, 0},
		{"at lower bound", -1000, 0, 2000, 0},
		{"far below", -5000, 0, 2000, 0},
		{"at upper bound", 1000, 0, 2000, 255},
		{"above window", 4000, 0, 2000, 255},
		{"center", 0, 0, 2000, 127},
		{"quarter", 64, 128, 256, 63},
		{"zero width below", 9, 10, 0, 0},
		{"zero width above", 11, 10, 0, 255},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ApplyWindowLevel(tt.value, tt.center, tt.width); got != tt.want {
				t.Errorf("ApplyWindowLevel(%v, %v, %v) = %d, want %d", tt.value, tt.center, tt.width, got, tt.want)
			}
		})
	}
}

func TestApplyWindowLevel_Monotonic(t *testing.T) {
	prev := uint8(0)
	for v := -1500.0; v <= 1500; v += 7 {
		got := ApplyWindowLevel(v, 0, 2000)
		if got < prev {
			t.Fatalf("ApplyWindowLevel(%v) = %d, below previous %d", v, got, prev)
		}
		prev = got
	}
}

func TestStoredValue(t *testing.T) {
	tests := []struct {
		name   string
		v      int32
		bits   int
		high   int
		signed bool
		want   int32
	}{
		{"unsigned 16", 0xFFFF, 16, 15, false, 0xFFFF},
		{"signed 16 negative", 0xFFFF, 16, 15, true, -1},
		{"signed 12 negative", 0x0FFF, 12, 11, true, -1},
		{"unsigned 12 masks high bits", 0xF800, 12, 11, false, 0x800},
		{"signed 12 positive", 0x07FF, 12, 11, true, 0x7FF},
		{"high bit above stored bits", 0xABC0, 12, 15, false, 0xABC},
		{"signed with high bit offset", 0xFFF0, 12, 15, true, -1},
		{"high bit unset", 0x00FF, 8, 0, false, 0xFF},
		{"full width", -5, 32, 31, true, -5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := storedValue(tt.v, tt.bits, tt.high, tt.signed); got != tt.want {
				t.Errorf("storedValue(%#x, %d, %d, %v) = %d, want %d", tt.v, tt.bits, tt.high, tt.signed, got, tt.want)
			}
		})
	}
}

func TestSelectBackend(t *testing.T) {
	tests := []struct {
		syntax string
		want   BackendKind
	}{
		{SyntaxImplicitLittle, BackendGeneric},
		{SyntaxExplicitLittle, BackendGeneric},
		{SyntaxExplicitBig, BackendGeneric},
		{SyntaxJPEGBaseline, BackendAccelerated},
		{SyntaxJPEGExtended, BackendAccelerated},
		{SyntaxJPEGLossless, BackendGeneric},
		{SyntaxJPEGLosslessSV1, BackendGeneric},
		{SyntaxRLELossless, BackendAccelerated},
		{SyntaxRLELossless + "\x00", BackendAccelerated},
		{"", BackendGeneric},
	}
	for _, tt := range tests {
		if got := SelectBackend(tt.syntax); got != tt.want {
			t.Errorf("SelectBackend(%q) = %v, want %v", tt.syntax, got, tt.want)
		}
	}
}

func TestDecodeFrame_NoSession(t *testing.T) {
	d := New(Options{})
	_, err := d.DecodeFrame(0)
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestDecodeFrame_OutOfRange(t *testing.T) {
	d := New(Options{})
	_, err := d.install(nativeFile(3, 2, 2))
	require.NoError(t, err)

	for _, index := range []int{-1, 3, 100} {
		_, err := d.DecodeFrame(index)
		var fe *FrameDecodeError
		if !errors.As(err, &fe) {
			t.Fatalf("DecodeFrame(%d) error = %v, want FrameDecodeError", index, err)
		}
		assert.Equal(t, FrameOutOfRange, fe.Kind)
		assert.ErrorIs(t, err, ErrFrameOutOfRange)
	}
}

func TestDecodeFrame_Native(t *testing.T) {
	d := New(Options{})
	s, err := d.install(nativeFile(2, 2, 3))
	require.NoError(t, err)
	assert.Equal(t, BackendGeneric, s.Backend)
	assert.NotEmpty(t, s.ID)

	img, err := d.DecodeFrame(1)
	require.NoError(t, err)
	assert.Equal(t, 3, img.Bounds().Dx())
	assert.Equal(t, 2, img.Bounds().Dy())
	for p := range 6 {
		want := ApplyWindowLevel(float64(100+p), defaultWindowCenter, defaultWindowWidth)
		assert.Equal(t, want, img.Pix[p], "pixel %d", p)
	}
}

func TestDecodeFrame_RescaleAndInvert(t *testing.T) {
	pf := nativeFile(1, 1, 2)
	pf.session.RescaleSlope = 2
	pf.session.RescaleIntercept = -100
	pf.session.WindowCenter = 0
	pf.session.WindowWidth = 200
	pf.session.Photometric = "MONOCHROME1"
	pf.frames[0].samples = []int32{0, 100}

	d := New(Options{})
	_, err := d.install(pf)
	require.NoError(t, err)

	img, err := d.DecodeFrame(0)
	require.NoError(t, err)
	// 0 -> -100 -> 0 -> inverted 255; 100 -> 100 -> 255 -> inverted 0.
	assert.Equal(t, []uint8{255, 0}, img.Pix)
}

func TestDecodeFrame_MemoReturnsSameBitmap(t *testing.T) {
	d := New(Options{})
	_, err := d.install(nativeFile(2, 2, 2))
	require.NoError(t, err)

	a, err := d.DecodeFrame(0)
	require.NoError(t, err)
	b, err := d.DecodeFrame(0)
	require.NoError(t, err)
	if a != b {
		t.Error("second decode did not come from the memo")
	}
}

func TestDecodeFrame_MemoEvictsOldestInserted(t *testing.T) {
	d := New(Options{MemoSize: 2})
	_, err := d.install(nativeFile(4, 2, 2))
	require.NoError(t, err)

	for _, i := range []int{0, 1, 0, 2} {
		_, err := d.DecodeFrame(i)
		require.NoError(t, err)
	}

	// Hitting 0 again does not refresh it, so 2 evicts 0.
	assert.False(t, d.memo.Contains(0), "frame 0 should be evicted")
	assert.True(t, d.memo.Contains(1))
	assert.True(t, d.memo.Contains(2))
	assert.Equal(t, 2, d.memo.Len())
}

func TestDecodeFrame_DimensionMismatch(t *testing.T) {
	pf := nativeFile(2, 2, 2)
	pf.frames[1].samples = pf.frames[1].samples[:3]

	d := New(Options{})
	_, err := d.install(pf)
	require.NoError(t, err)

	_, err = d.DecodeFrame(0)
	require.NoError(t, err)

	_, err = d.DecodeFrame(1)
	var fe *FrameDecodeError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, DimensionMismatch, fe.Kind)
	assert.Equal(t, 1, fe.Index)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestDecodeFrame_BackendFailure(t *testing.T) {
	pf := rleFile(1, 2, 2)
	pf.frames[0].data = pf.frames[0].data[:10]

	d := New(Options{})
	_, err := d.install(pf)
	require.NoError(t, err)

	_, err = d.DecodeFrame(0)
	assert.ErrorIs(t, err, ErrBackendFailure)
}

func TestInstall_RLEBatchDecompression(t *testing.T) {
	d := New(Options{})
	s, err := d.install(rleFile(3, 2, 2))
	require.NoError(t, err)

	assert.Equal(t, BackendAccelerated, s.Backend)
	assert.True(t, d.PreDecoded())
	assert.NoError(t, d.PreDecompressAll(), "second call is a no-op")

	for f := range 3 {
		img, err := d.DecodeFrame(f)
		require.NoError(t, err)
		for p := range 4 {
			want := ApplyWindowLevel(float64(10*f+p), 128, 256)
			assert.Equal(t, want, img.Pix[p], "frame %d pixel %d", f, p)
		}
	}
}

func TestInstall_BatchCeilingFallsBackToGeneric(t *testing.T) {
	d := New(Options{BatchMaxFrames: 2})
	s, err := d.install(rleFile(3, 2, 2))
	require.NoError(t, err)

	assert.Equal(t, BackendGeneric, s.Backend)
	assert.False(t, d.PreDecoded())

	img, err := d.DecodeFrame(2)
	require.NoError(t, err)
	assert.Equal(t, ApplyWindowLevel(20, 128, 256), img.Pix[0])
}

func TestInstall_AcceleratedInitFailureFallsBack(t *testing.T) {
	pf := nativeFile(2, 2, 2)
	pf.session.TransferSyntax = SyntaxRLELossless

	d := New(Options{})
	s, err := d.install(pf)
	require.NoError(t, err)
	assert.Equal(t, BackendGeneric, s.Backend)

	_, err = d.DecodeFrame(1)
	assert.NoError(t, err)
}

func TestInstall_DisableAcceleration(t *testing.T) {
	d := New(Options{DisableAcceleration: true})
	s, err := d.install(rleFile(2, 2, 2))
	require.NoError(t, err)
	assert.Equal(t, BackendGeneric, s.Backend)
	assert.False(t, d.PreDecoded())
}

func TestAcceleratedBackend_SingleFrameRejectsMultiFrame(t *testing.T) {
	pf := rleFile(2, 2, 2)
	s := pf.session
	b, err := newAcceleratedBackend(&s, pf, 1)
	require.NoError(t, err)

	_, err = b.decodeFrame(0)
	assert.ErrorIs(t, err, errBatchOnly)
}

func TestPreDecompressAll_GenericUnsupported(t *testing.T) {
	d := New(Options{})
	_, err := d.install(nativeFile(3, 2, 2))
	require.NoError(t, err)
	assert.ErrorIs(t, d.PreDecompressAll(), ErrBatchUnsupported)
}

func TestDecodeFrame_JPEG(t *testing.T) {
	t.Run("single frame", func(t *testing.T) {
		d := New(Options{})
		s, err := d.install(jpegFile(t, 1, 8, 8))
		require.NoError(t, err)
		assert.Equal(t, BackendAccelerated, s.Backend)
		assert.False(t, d.PreDecoded())

		img, err := d.DecodeFrame(0)
		require.NoError(t, err)
		assert.Equal(t, image.Rect(0, 0, 8, 8), img.Bounds())
	})

	t.Run("multi frame", func(t *testing.T) {
		d := New(Options{})
		_, err := d.install(jpegFile(t, 3, 8, 8))
		require.NoError(t, err)
		assert.True(t, d.PreDecoded())

		img, err := d.DecodeFrame(2)
		require.NoError(t, err)
		assert.InDelta(t, 80, int(img.Pix[0]), 2)
	})
}

func TestDecodeRaw(t *testing.T) {
	d := New(Options{})
	_, err := d.install(nativeFile(2, 1, 2))
	require.NoError(t, err)

	raw, err := d.DecodeRaw(1)
	require.NoError(t, err)
	assert.Equal(t, []byte{100, 0, 101, 0}, raw)

	_, err = d.DecodeRaw(2)
	assert.ErrorIs(t, err, ErrFrameOutOfRange)
}

func TestDecodeRaw_JPEGHasNoRawData(t *testing.T) {
	d := New(Options{})
	_, err := d.install(jpegFile(t, 1, 8, 8))
	require.NoError(t, err)

	_, err = d.DecodeRaw(0)
	assert.ErrorIs(t, err, ErrNoRawData)
}

func TestRenderWindowed(t *testing.T) {
	d := New(Options{})
	_, err := d.install(rleFile(1, 2, 2))
	require.NoError(t, err)

	img, err := d.RenderWindowed(0, 1, 2)
	require.NoError(t, err)
	// Values 0..3 with window [0, 2].
	assert.Equal(t, []uint8{0, 127, 255, 255}, img.Pix)
}

func TestClose(t *testing.T) {
	d := New(Options{})
	_, err := d.install(nativeFile(2, 2, 2))
	require.NoError(t, err)

	require.NoError(t, d.Close())
	require.NoError(t, d.Close())

	_, err = d.DecodeFrame(0)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = d.Load("/nowhere.dcm")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestInstall_ReplacesSession(t *testing.T) {
	d := New(Options{})
	first, err := d.install(nativeFile(5, 2, 2))
	require.NoError(t, err)
	second, err := d.install(nativeFile(2, 2, 2))
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.Same(t, second, d.Session())

	_, err = d.DecodeFrame(4)
	assert.ErrorIs(t, err, ErrFrameOutOfRange)
}
