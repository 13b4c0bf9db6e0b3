// Package dicomtest writes small DICOM Part 10 files for tests.
package dicomtest

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

const (
	explicitLittle = "1.2.840.10008.1.2.1"
	rleLossless    = "1.2.840.10008.1.2.5"
	secondaryCapt  = "1.2.840.10008.5.1.4.1.1.7"
)

// Fixture describes an 8-bit monochrome multi-frame file.
type Fixture struct {
	Rows, Columns int
	Frames        int
	Modality      string
	PatientName   string
	FrameTime     float64 // milliseconds, 0 to omit
	WindowCenter  float64
	WindowWidth   float64
	// RLE stores frames encapsulated as RLE Lossless instead of native.
	RLE bool
	// Pixel returns the stored value of pixel p in frame f. Nil fills with f.
	Pixel func(f, p int) byte
}

// FrameBytes returns the stored pixels of frame f.
func (fx Fixture) FrameBytes(f int) []byte {
	out := make([]byte, fx.Rows*fx.Columns)
	for p := range out {
		if fx.Pixel != nil {
			out[p] = fx.Pixel(f, p)
		} else {
			out[p] = byte(f)
		}
	}
	return out
}

// Write stores the fixture as name inside dir and returns its path.
func Write(tb testing.TB, dir, name string, fx Fixture) string {
	tb.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, Encode(fx), 0o600); err != nil {
		tb.Fatalf("write fixture: %v", err)
	}
	return path
}

// Encode renders the fixture as explicit VR little endian Part 10 bytes.
func Encode(fx Fixture) []byte {
	if fx.WindowWidth == 0 {
		fx.WindowCenter, fx.WindowWidth = 128, 256
	}
	if fx.Frames == 0 {
		fx.Frames = 1
	}
	ts := explicitLittle
	if fx.RLE {
		ts = rleLossless
	}
	instance := "1.2.826.0.1.3680043.2.1125." + strconv.Itoa(fx.Rows*1000+fx.Frames)

	var meta bytes.Buffer
	writeElement(&meta, 0x0002, 0x0001, "OB", []byte{0x00, 0x01})
	writeElement(&meta, 0x0002, 0x0002, "UI", uid(secondaryCapt))
	writeElement(&meta, 0x0002, 0x0003, "UI", uid(instance))
	writeElement(&meta, 0x0002, 0x0010, "UI", uid(ts))

	var out bytes.Buffer
	out.Write(make([]byte, 128))
	out.WriteString("DICM")
	groupLen := make([]byte, 4)
	binary.LittleEndian.PutUint32(groupLen, uint32(meta.Len())) //nolint:gosec // small
	writeElement(&out, 0x0002, 0x0000, "UL", groupLen)
	out.Write(meta.Bytes())

	writeElement(&out, 0x0008, 0x0016, "UI", uid(secondaryCapt))
	writeElement(&out, 0x0008, 0x0018, "UI", uid(instance))
	if fx.Modality != "" {
		writeElement(&out, 0x0008, 0x0060, "CS", text(fx.Modality))
	}
	if fx.PatientName != "" {
		writeElement(&out, 0x0010, 0x0010, "PN", text(fx.PatientName))
	}
	if fx.FrameTime > 0 {
		writeElement(&out, 0x0018, 0x1063, "DS", text(strconv.FormatFloat(fx.FrameTime, 'f', -1, 64)))
	}
	writeElement(&out, 0x0028, 0x0002, "US", u16(1))
	writeElement(&out, 0x0028, 0x0004, "CS", text("MONOCHROME2"))
	writeElement(&out, 0x0028, 0x0008, "IS", text(strconv.Itoa(fx.Frames)))
	writeElement(&out, 0x0028, 0x0010, "US", u16(fx.Rows))
	writeElement(&out, 0x0028, 0x0011, "US", u16(fx.Columns))
	writeElement(&out, 0x0028, 0x0100, "US", u16(8))
	writeElement(&out, 0x0028, 0x0101, "US", u16(8))
	writeElement(&out, 0x0028, 0x0102, "US", u16(7))
	writeElement(&out, 0x0028, 0x0103, "US", u16(0))
	writeElement(&out, 0x0028, 0x1050, "DS", text(strconv.FormatFloat(fx.WindowCenter, 'f', -1, 64)))
	writeElement(&out, 0x0028, 0x1051, "DS", text(strconv.FormatFloat(fx.WindowWidth, 'f', -1, 64)))

	if fx.RLE {
		writeEncapsulated(&out, fx)
	} else {
		var px []byte
		for f := range fx.Frames {
			px = append(px, fx.FrameBytes(f)...)
		}
		writeElement(&out, 0x7FE0, 0x0010, "OB", pad(px, 0))
	}
	return out.Bytes()
}

func writeEncapsulated(out *bytes.Buffer, fx Fixture) {
	writeTag(out, 0x7FE0, 0x0010)
	out.WriteString("OB")
	out.Write([]byte{0, 0})
	_ = binary.Write(out, binary.LittleEndian, uint32(0xFFFFFFFF))

	writeItem(out, nil)
	for f := range fx.Frames {
		writeItem(out, EncodeRLE(fx.FrameBytes(f)))
	}
	writeTag(out, 0xFFFE, 0xE0DD)
	_ = binary.Write(out, binary.LittleEndian, uint32(0))
}

func writeItem(out *bytes.Buffer, data []byte) {
	data = pad(data, 0)
	writeTag(out, 0xFFFE, 0xE000)
	_ = binary.Write(out, binary.LittleEndian, uint32(len(data))) //nolint:gosec // small
	out.Write(data)
}

// EncodeRLE encodes one 8-bit plane as a single-segment RLE Lossless frame
// using literal runs only.
func EncodeRLE(plane []byte) []byte {
	header := make([]byte, 64)
	binary.LittleEndian.PutUint32(header[0:], 1)
	binary.LittleEndian.PutUint32(header[4:], 64)

	out := header
	for len(plane) > 0 {
		n := min(len(plane), 128)
		out = append(out, byte(n-1))
		out = append(out, plane[:n]...)
		plane = plane[n:]
	}
	return out
}

func writeTag(out *bytes.Buffer, group, element uint16) {
	_ = binary.Write(out, binary.LittleEndian, group)
	_ = binary.Write(out, binary.LittleEndian, element)
}

func writeElement(out *bytes.Buffer, group, element uint16, vr string, value []byte) {
	writeTag(out, group, element)
	out.WriteString(vr)
	switch vr {
	case "OB", "OW", "SQ", "UN", "UT":
		out.Write([]byte{0, 0})
		_ = binary.Write(out, binary.LittleEndian, uint32(len(value))) //nolint:gosec // small
	default:
		_ = binary.Write(out, binary.LittleEndian, uint16(len(value))) //nolint:gosec // small
	}
	out.Write(value)
}

func u16(v int) []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, uint16(v)) //nolint:gosec // small
	return b
}

func text(s string) []byte { return pad([]byte(s), ' ') }

func uid(s string) []byte { return pad([]byte(s), 0) }

func pad(b []byte, with byte) []byte {
	if len(b)%2 == 1 {
		return append(b, with)
	}
	return b
}
