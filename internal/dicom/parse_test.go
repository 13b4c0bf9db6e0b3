package dicom

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llehouerou/dcmview/internal/dicom/dicomtest"
)

func TestLoad_NativeFixture(t *testing.T) {
	path := dicomtest.Write(t, t.TempDir(), "cine.dcm", dicomtest.Fixture{
		Rows:        4,
		Columns:     3,
		Frames:      3,
		Modality:    "US",
		PatientName: "Doe^Jane",
		FrameTime:   33,
	})

	d := New(Options{})
	s, err := d.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 3, s.TotalFrames)
	assert.Equal(t, 4, s.Rows)
	assert.Equal(t, 3, s.Columns)
	assert.Equal(t, 8, s.BitsAllocated)
	assert.Equal(t, SyntaxExplicitLittle, s.TransferSyntax)
	assert.Equal(t, BackendGeneric, s.Backend)
	assert.Equal(t, "US", s.Identity.Modality)
	assert.Equal(t, "Doe^Jane", s.Identity.PatientName)
	assert.InDelta(t, 128.0, s.WindowCenter, 0.001)
	assert.InDelta(t, 256.0, s.WindowWidth, 0.001)

	interval, ok := s.FrameInterval()
	assert.True(t, ok)
	assert.Equal(t, 33*time.Millisecond, interval)

	img, err := d.DecodeFrame(2)
	require.NoError(t, err)
	assert.Equal(t, 3, img.Bounds().Dx())
	assert.Equal(t, 4, img.Bounds().Dy())
	assert.Equal(t, ApplyWindowLevel(2, 128, 256), img.Pix[0])
}

func TestLoad_RLEFixtureUsesBatch(t *testing.T) {
	fx := dicomtest.Fixture{
		Rows:    2,
		Columns: 2,
		Frames:  4,
		RLE:     true,
		Pixel:   func(f, p int) byte { return byte(50*f + p) },
	}
	path := dicomtest.Write(t, t.TempDir(), "rle.dcm", fx)

	d := New(Options{})
	s, err := d.Load(path)
	require.NoError(t, err)
	assert.Equal(t, SyntaxRLELossless, s.TransferSyntax)
	assert.Equal(t, BackendAccelerated, s.Backend)
	assert.Equal(t, 4, s.TotalFrames)
	assert.True(t, d.PreDecoded())

	img, err := d.DecodeFrame(3)
	require.NoError(t, err)
	assert.Equal(t, ApplyWindowLevel(151, 128, 256), img.Pix[1])
}

func TestLoad_Unreadable(t *testing.T) {
	dir := t.TempDir()
	garbage := filepath.Join(dir, "garbage.dcm")
	require.NoError(t, os.WriteFile(garbage, []byte("not a dicom file"), 0o600))

	tests := []struct {
		name string
		path string
	}{
		{"missing file", filepath.Join(dir, "absent.dcm")},
		{"garbage", garbage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(Options{}).Load(tt.path)
			var le *FileLoadError
			require.ErrorAs(t, err, &le)
			assert.Equal(t, Unreadable, le.Kind)
			assert.ErrorIs(t, err, ErrUnreadable)
		})
	}
}

func TestGroupFragments(t *testing.T) {
	soi := func(b byte) []byte { return []byte{0xFF, 0xD8, b} }
	cont := func(b byte) []byte { return []byte{0x00, b} }

	t.Run("one per frame", func(t *testing.T) {
		got, err := groupFragments([][]byte{{1}, {2}}, 2, SyntaxRLELossless)
		require.NoError(t, err)
		assert.Len(t, got, 2)
	})

	t.Run("single frame joins all", func(t *testing.T) {
		got, err := groupFragments([][]byte{{1, 2}, {3}}, 1, SyntaxJPEGBaseline)
		require.NoError(t, err)
		assert.Equal(t, [][]byte{{1, 2, 3}}, got)
	})

	t.Run("jpeg split on SOI", func(t *testing.T) {
		frags := [][]byte{soi(1), cont(2), soi(3), soi(4), cont(5)}
		got, err := groupFragments(frags, 3, SyntaxJPEGBaseline)
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.True(t, bytes.Equal(got[0], []byte{0xFF, 0xD8, 1, 0x00, 2}))
		assert.True(t, bytes.Equal(got[2], []byte{0xFF, 0xD8, 4, 0x00, 5}))
	})

	t.Run("mismatch", func(t *testing.T) {
		_, err := groupFragments([][]byte{{1}, {2}, {3}}, 2, SyntaxRLELossless)
		assert.Error(t, err)
	})
}

func TestUnpackBits(t *testing.T) {
	tests := []struct {
		name string
		src  []byte
		n    int
		want []byte
		err  bool
	}{
		{"literal", []byte{2, 1, 2, 3}, 3, []byte{1, 2, 3}, false},
		{"replicate", []byte{0xFE, 7}, 3, []byte{7, 7, 7}, false},
		{"noop byte skipped", []byte{0x80, 0, 9}, 1, []byte{9}, false},
		{"mixed", []byte{0xFF, 4, 0, 5}, 3, []byte{4, 4, 5}, false},
		{"short", []byte{0xFE, 7}, 4, nil, true},
		{"overflow", []byte{3, 1, 2}, 4, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dst := make([]byte, tt.n)
			err := unpackBits(tt.src, dst)
			if tt.err {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, dst)
		})
	}
}

func TestDecodeRLE_SixteenBit(t *testing.T) {
	s := &Session{Rows: 1, Columns: 2, BitsAllocated: 16, SamplesPerPixel: 1}

	header := make([]byte, 64)
	header[0] = 2
	header[4] = 64
	header[8] = 64 + 3
	// MSB plane {0x01, 0x02}, LSB plane {0x03, 0x04}.
	data := append(header, 1, 0x01, 0x02, 1, 0x03, 0x04)

	samples, err := decodeRLE(s, data)
	require.NoError(t, err)
	assert.Equal(t, []int32{0x0103, 0x0204}, samples)
}

func TestDecodeRLE_WrongSegmentCount(t *testing.T) {
	s := &Session{Rows: 1, Columns: 1, BitsAllocated: 16, SamplesPerPixel: 1}
	_, err := decodeRLE(s, dicomtest.EncodeRLE([]byte{1}))
	if err == nil || errors.Is(err, errSampleCount) {
		t.Fatalf("decodeRLE() error = %v, want segment count error", err)
	}
}
