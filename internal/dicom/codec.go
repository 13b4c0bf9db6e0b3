package dicom

import (
	"encoding/binary"
	"errors"
	"fmt"
	"image"

	"github.com/cocosip/go-dicom-codec/codec"
)

var errUnsupportedSyntax = errors.New("unsupported transfer syntax")

// decodeEncoded decodes one encapsulated frame bitstream and renders it with
// the given window.
func decodeEncoded(s *Session, data []byte, center, width float64) (*image.Gray, error) {
	samples, err := decodeSamples(s, data)
	if err != nil {
		return nil, err
	}
	return renderSamples(s, samples, center, width)
}

// decodeSamples decodes one encapsulated frame bitstream into interleaved
// stored samples.
func decodeSamples(s *Session, data []byte) ([]int32, error) {
	if s.TransferSyntax == SyntaxRLELossless {
		return decodeRLE(s, data)
	}
	c, ok := defaultCodecs.lookup(s.TransferSyntax)
	if !ok {
		return nil, fmt.Errorf("%w: %s", errUnsupportedSyntax, s.TransferSyntax)
	}
	res, err := c.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", c.Name(), err)
	}
	return resultSamples(s, res)
}

// resultSamples unpacks a codec result. Samples wider than 8 bits are little
// endian 16-bit words.
func resultSamples(s *Session, r *codec.DecodeResult) ([]int32, error) {
	if r.Width != s.Columns || r.Height != s.Rows {
		return nil, fmt.Errorf("%w: decoded %dx%d, want %dx%d",
			errSampleCount, r.Width, r.Height, s.Columns, s.Rows)
	}
	n := r.Width * r.Height * max(r.Components, 1)
	if r.BitDepth <= 8 {
		if len(r.PixelData) < n {
			return nil, fmt.Errorf("%w: %d bytes for %d samples", errSampleCount, len(r.PixelData), n)
		}
		out := make([]int32, n)
		for i := range out {
			out[i] = int32(r.PixelData[i])
		}
		return out, nil
	}

	if len(r.PixelData) < 2*n {
		return nil, fmt.Errorf("%w: %d bytes for %d samples", errSampleCount, len(r.PixelData), n)
	}
	out := make([]int32, n)
	for i := range out {
		out[i] = int32(binary.LittleEndian.Uint16(r.PixelData[2*i:]))
	}
	return out, nil
}

const rleHeaderSize = 64

// decodeRLE decodes an RLE Lossless frame into interleaved samples.
// Each segment carries one byte plane, most significant byte first.
func decodeRLE(s *Session, data []byte) ([]int32, error) {
	if len(data) < rleHeaderSize {
		return nil, fmt.Errorf("rle: frame of %d bytes has no header", len(data))
	}

	spp := max(s.SamplesPerPixel, 1)
	bytesPerSample := (s.BitsAllocated + 7) / 8
	want := spp * bytesPerSample

	count := int(binary.LittleEndian.Uint32(data))
	if count != want || count > 15 {
		return nil, fmt.Errorf("rle: %d segments, want %d", count, want)
	}

	offsets := make([]int, count+1)
	for i := range count {
		offsets[i] = int(binary.LittleEndian.Uint32(data[4+4*i:]))
	}
	offsets[count] = len(data)

	pixels := s.Rows * s.Columns
	samples := make([]int32, pixels*spp)
	plane := make([]byte, pixels)

	for seg := range count {
		start, end := offsets[seg], offsets[seg+1]
		if start < rleHeaderSize || start > end || end > len(data) {
			return nil, fmt.Errorf("rle: segment %d bounds [%d,%d) invalid", seg, start, end)
		}
		if err := unpackBits(data[start:end], plane); err != nil {
			return nil, fmt.Errorf("rle: segment %d: %w", seg, err)
		}

		sample := seg / bytesPerSample
		shift := 8 * (bytesPerSample - 1 - seg%bytesPerSample)
		for p, b := range plane {
			samples[p*spp+sample] |= int32(b) << shift
		}
	}
	return samples, nil
}

// unpackBits decodes a PackBits segment, filling dst exactly.
func unpackBits(src, dst []byte) error {
	out := 0
	for i := 0; i < len(src) && out < len(dst); {
		n := int(int8(src[i]))
		i++
		switch {
		case n >= 0:
			run := n + 1
			if i+run > len(src) || out+run > len(dst) {
				return errors.New("literal run overflows")
			}
			copy(dst[out:], src[i:i+run])
			i += run
			out += run
		case n != -128:
			run := 1 - n
			if i >= len(src) || out+run > len(dst) {
				return errors.New("replicate run overflows")
			}
			for k := range run {
				dst[out+k] = src[i]
			}
			i++
			out += run
		}
	}
	if out != len(dst) {
		return fmt.Errorf("decoded %d bytes, want %d", out, len(dst))
	}
	return nil
}
