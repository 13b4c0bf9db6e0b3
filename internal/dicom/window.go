package dicom

import (
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"strings"
)

// ApplyWindowLevel maps a modality value to an 8-bit display value using a
// linear window. Values at or below the lower bound map to 0, values at or
// above the upper bound map to 255. A zero width is treated as 1.
func ApplyWindowLevel(value, center, width float64) uint8 {
	if width <= 0 {
		width = 1
	}
	lo := center - width/2
	hi := center + width/2
	switch {
	case value <= lo:
		return 0
	case value >= hi:
		return 255
	default:
		return uint8((value - lo) / (hi - lo) * 255)
	}
}

var errSampleCount = errors.New("sample count does not match dimensions")

// storedValue extracts the bitsStored bits ending at highBit from a stored
// sample, sign-extending when the representation is two's complement.
func storedValue(v int32, bitsStored, highBit int, signed bool) int32 {
	if bitsStored <= 0 || bitsStored >= 32 {
		return v
	}
	if shift := highBit - bitsStored + 1; shift > 0 && shift < 32 {
		v = int32(uint32(v) >> shift) //nolint:gosec // bit pattern kept
	}
	mask := int32(1)<<bitsStored - 1
	v &= mask
	if signed && v&(int32(1)<<(bitsStored-1)) != 0 {
		v -= int32(1) << bitsStored
	}
	return v
}

// renderSamples converts native samples to an 8-bit grayscale bitmap.
// Monochrome samples go through rescale and the given window; color samples
// are reduced to luminance.
func renderSamples(s *Session, samples []int32, center, width float64) (*image.Gray, error) {
	spp := max(s.SamplesPerPixel, 1)
	pixels := s.Rows * s.Columns
	if len(samples) != pixels*spp {
		return nil, fmt.Errorf("%w: %d samples, want %d", errSampleCount, len(samples), pixels*spp)
	}

	img := image.NewGray(image.Rect(0, 0, s.Columns, s.Rows))
	signed := s.Signed()

	if spp >= 3 {
		shift := max(s.BitsStored-8, 0)
		for p := range pixels {
			r := storedValue(samples[p*spp], s.BitsStored, s.HighBit, false) >> shift
			g := storedValue(samples[p*spp+1], s.BitsStored, s.HighBit, false) >> shift
			b := storedValue(samples[p*spp+2], s.BitsStored, s.HighBit, false) >> shift
			y := (299*r + 587*g + 114*b) / 1000
			img.Pix[p] = uint8(min(max(y, 0), 255))
		}
		return img, nil
	}

	invert := strings.EqualFold(s.Photometric, "MONOCHROME1")
	for p := range pixels {
		v := float64(storedValue(samples[p], s.BitsStored, s.HighBit, signed))
		v = v*s.RescaleSlope + s.RescaleIntercept
		out := ApplyWindowLevel(v, center, width)
		if invert {
			out = 255 - out
		}
		img.Pix[p] = out
	}
	return img, nil
}

// sampleBytes encodes samples little-endian using the allocated sample width.
func sampleBytes(s *Session, samples []int32) []byte {
	switch {
	case s.BitsAllocated <= 8:
		out := make([]byte, len(samples))
		for i, v := range samples {
			out[i] = byte(v)
		}
		return out
	case s.BitsAllocated <= 16:
		out := make([]byte, 2*len(samples))
		for i, v := range samples {
			binary.LittleEndian.PutUint16(out[2*i:], uint16(v)) //nolint:gosec // truncation to allocated width
		}
		return out
	default:
		out := make([]byte, 4*len(samples))
		for i, v := range samples {
			binary.LittleEndian.PutUint32(out[4*i:], uint32(v)) //nolint:gosec // two's complement bits kept
		}
		return out
	}
}
