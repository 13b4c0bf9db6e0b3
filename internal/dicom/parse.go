package dicom

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"

	dcm "github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// Attributes read from the dataset.
var (
	tagTransferSyntax    = tag.Tag{Group: 0x0002, Element: 0x0010}
	tagSOPInstanceUID    = tag.Tag{Group: 0x0008, Element: 0x0018}
	tagModality          = tag.Tag{Group: 0x0008, Element: 0x0060}
	tagStudyDescription  = tag.Tag{Group: 0x0008, Element: 0x1030}
	tagSeriesDescription = tag.Tag{Group: 0x0008, Element: 0x103E}
	tagRecommendedRate   = tag.Tag{Group: 0x0008, Element: 0x2144}
	tagPatientName       = tag.Tag{Group: 0x0010, Element: 0x0010}
	tagPatientID         = tag.Tag{Group: 0x0010, Element: 0x0020}
	tagCineRate          = tag.Tag{Group: 0x0018, Element: 0x0040}
	tagFrameTime         = tag.Tag{Group: 0x0018, Element: 0x1063}
	tagSamplesPerPixel   = tag.Tag{Group: 0x0028, Element: 0x0002}
	tagPhotometric       = tag.Tag{Group: 0x0028, Element: 0x0004}
	tagNumberOfFrames    = tag.Tag{Group: 0x0028, Element: 0x0008}
	tagRows              = tag.Tag{Group: 0x0028, Element: 0x0010}
	tagColumns           = tag.Tag{Group: 0x0028, Element: 0x0011}
	tagBitsAllocated     = tag.Tag{Group: 0x0028, Element: 0x0100}
	tagBitsStored        = tag.Tag{Group: 0x0028, Element: 0x0101}
	tagHighBit           = tag.Tag{Group: 0x0028, Element: 0x0102}
	tagPixelRep          = tag.Tag{Group: 0x0028, Element: 0x0103}
	tagWindowCenter      = tag.Tag{Group: 0x0028, Element: 0x1050}
	tagWindowWidth       = tag.Tag{Group: 0x0028, Element: 0x1051}
	tagRescaleIntercept  = tag.Tag{Group: 0x0028, Element: 0x1052}
	tagRescaleSlope      = tag.Tag{Group: 0x0028, Element: 0x1053}
	tagPixelData         = tag.Tag{Group: 0x7FE0, Element: 0x0010}
)

// Window used when the file does not specify one.
const (
	defaultWindowCenter = 0.0
	defaultWindowWidth  = 2000.0
)

// rawFrame is one frame as stored in the file: either native samples
// (interleaved when SamplesPerPixel > 1) or an encapsulated bitstream.
type rawFrame struct {
	samples []int32
	data    []byte
}

// parsedFile is the library-independent result of reading a file.
type parsedFile struct {
	session      Session
	encapsulated bool
	frames       []rawFrame
}

// parseFile reads path and converts it to a parsedFile.
func parseFile(path string) (pf *parsedFile, err error) {
	// The parser panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			pf = nil
			err = &FileLoadError{Kind: Unreadable, Path: path, Err: fmt.Errorf("parser panic: %v", r)}
		}
	}()

	ds, err := dcm.ParseFile(path, nil)
	if err != nil {
		return nil, &FileLoadError{Kind: Unreadable, Path: path, Err: err}
	}
	return fromDataset(path, &ds)
}

func fromDataset(path string, ds *dcm.Dataset) (*parsedFile, error) {
	s := Session{
		Path:            path,
		RescaleSlope:    1,
		WindowCenter:    defaultWindowCenter,
		WindowWidth:     defaultWindowWidth,
		SamplesPerPixel: 1,
		Photometric:     "MONOCHROME2",
		TotalFrames:     1,
		BitsAllocated:   16,
		TransferSyntax:  SyntaxImplicitLittle,
	}

	var ok bool
	if s.Rows, ok = intAttr(ds, tagRows); !ok || s.Rows <= 0 {
		return nil, &FileLoadError{Kind: MissingMetadata, Path: path, Err: errors.New("rows")}
	}
	if s.Columns, ok = intAttr(ds, tagColumns); !ok || s.Columns <= 0 {
		return nil, &FileLoadError{Kind: MissingMetadata, Path: path, Err: errors.New("columns")}
	}
	if v, ok := intAttr(ds, tagBitsAllocated); ok && v > 0 {
		s.BitsAllocated = v
	}
	s.BitsStored = s.BitsAllocated
	if v, ok := intAttr(ds, tagBitsStored); ok && v > 0 {
		s.BitsStored = v
	}
	s.HighBit = s.BitsStored - 1
	if v, ok := intAttr(ds, tagHighBit); ok {
		s.HighBit = v
	}
	if v, ok := intAttr(ds, tagPixelRep); ok {
		s.PixelRepresentation = v
	}
	if v, ok := intAttr(ds, tagSamplesPerPixel); ok && v > 0 {
		s.SamplesPerPixel = v
	}
	if v, ok := stringAttr(ds, tagPhotometric); ok && v != "" {
		s.Photometric = strings.ToUpper(v)
	}
	if v, ok := intAttr(ds, tagNumberOfFrames); ok && v > 0 {
		s.TotalFrames = v
	}
	if v, ok := floatAttr(ds, tagRescaleSlope); ok && v != 0 {
		s.RescaleSlope = v
	}
	if v, ok := floatAttr(ds, tagRescaleIntercept); ok {
		s.RescaleIntercept = v
	}
	if v, ok := floatAttr(ds, tagWindowCenter); ok {
		s.WindowCenter = v
	}
	if v, ok := floatAttr(ds, tagWindowWidth); ok && v > 0 {
		s.WindowWidth = v
	}
	if v, ok := stringAttr(ds, tagTransferSyntax); ok && v != "" {
		s.TransferSyntax = normalizeUID(v)
	}

	s.Identity = Identity{
		PatientName:       stringOrEmpty(ds, tagPatientName),
		PatientID:         stringOrEmpty(ds, tagPatientID),
		StudyDescription:  stringOrEmpty(ds, tagStudyDescription),
		SeriesDescription: stringOrEmpty(ds, tagSeriesDescription),
		SOPInstanceUID:    normalizeUID(stringOrEmpty(ds, tagSOPInstanceUID)),
		Modality:          stringOrEmpty(ds, tagModality),
	}
	s.Timing.FrameTime, _ = floatAttr(ds, tagFrameTime)
	s.Timing.RecommendedDisplayFrameRate, _ = floatAttr(ds, tagRecommendedRate)
	s.Timing.CineRate, _ = floatAttr(ds, tagCineRate)

	info, ok := pixelDataInfo(ds)
	if !ok {
		return nil, &FileLoadError{Kind: MissingMetadata, Path: path, Err: errors.New("pixel data")}
	}

	pf := &parsedFile{session: s}
	var fragments [][]byte
	for i := range info.Frames {
		fr := info.Frames[i]
		if fr.Encapsulated {
			pf.encapsulated = true
			if len(fr.EncapsulatedData.Data) > 0 {
				fragments = append(fragments, fr.EncapsulatedData.Data)
			}
			continue
		}
		pf.frames = append(pf.frames, rawFrame{samples: flattenNative(fr.NativeData.Data)})
	}

	if pf.encapsulated {
		grouped, err := groupFragments(fragments, s.TotalFrames, s.TransferSyntax)
		if err != nil {
			grouped = fragments
		}
		for _, data := range grouped {
			pf.frames = append(pf.frames, rawFrame{data: data})
		}
	}

	if len(pf.frames) == 0 {
		return nil, &FileLoadError{Kind: MissingMetadata, Path: path, Err: errors.New("no frames in pixel data")}
	}
	pf.session.TotalFrames = len(pf.frames)
	return pf, nil
}

// groupFragments maps encapsulated fragments onto frames. JPEG frames may span
// several fragments; a new frame starts at each fragment opening with SOI.
func groupFragments(fragments [][]byte, frames int, ts string) ([][]byte, error) {
	switch {
	case len(fragments) == frames:
		return fragments, nil
	case frames == 1:
		return [][]byte{bytes.Join(fragments, nil)}, nil
	case !isJPEGSyntax(ts) || len(fragments) < frames:
		return nil, fmt.Errorf("%d fragments for %d frames", len(fragments), frames)
	}

	grouped := make([][]byte, 0, frames)
	for _, f := range fragments {
		if len(f) >= 2 && f[0] == 0xFF && f[1] == 0xD8 || len(grouped) == 0 {
			grouped = append(grouped, append([]byte(nil), f...))
			continue
		}
		last := len(grouped) - 1
		grouped[last] = append(grouped[last], f...)
	}
	if len(grouped) != frames {
		return nil, fmt.Errorf("%d JPEG streams for %d frames", len(grouped), frames)
	}
	return grouped, nil
}

func flattenNative(data [][]int) []int32 {
	if len(data) == 0 {
		return nil
	}
	spp := len(data[0])
	out := make([]int32, 0, len(data)*spp)
	for _, px := range data {
		for _, v := range px {
			out = append(out, int32(v)) //nolint:gosec // stored values fit in 32 bits
		}
	}
	return out
}

func pixelDataInfo(ds *dcm.Dataset) (dcm.PixelDataInfo, bool) {
	v, ok := attrValue(ds, tagPixelData)
	if !ok {
		return dcm.PixelDataInfo{}, false
	}
	switch info := v.(type) {
	case dcm.PixelDataInfo:
		return info, len(info.Frames) > 0
	case *dcm.PixelDataInfo:
		if info == nil {
			return dcm.PixelDataInfo{}, false
		}
		return *info, len(info.Frames) > 0
	default:
		return dcm.PixelDataInfo{}, false
	}
}

func attrValue(ds *dcm.Dataset, t tag.Tag) (any, bool) {
	el, err := ds.FindElementByTag(t)
	if err != nil || el == nil || el.Value == nil {
		return nil, false
	}
	return el.Value.GetValue(), true
}

func intAttr(ds *dcm.Dataset, t tag.Tag) (int, bool) {
	v, ok := attrValue(ds, t)
	if !ok {
		return 0, false
	}
	switch vv := v.(type) {
	case []int:
		if len(vv) > 0 {
			return vv[0], true
		}
	case []string:
		if len(vv) > 0 {
			n, err := strconv.Atoi(strings.TrimSpace(strings.Trim(vv[0], "\x00")))
			return n, err == nil
		}
	case []float64:
		if len(vv) > 0 {
			return int(vv[0]), true
		}
	}
	return 0, false
}

func floatAttr(ds *dcm.Dataset, t tag.Tag) (float64, bool) {
	v, ok := attrValue(ds, t)
	if !ok {
		return 0, false
	}
	switch vv := v.(type) {
	case []float64:
		if len(vv) > 0 {
			return vv[0], true
		}
	case []int:
		if len(vv) > 0 {
			return float64(vv[0]), true
		}
	case []string:
		if len(vv) > 0 {
			// Multi-valued decimal strings may arrive unsplit.
			first, _, _ := strings.Cut(vv[0], `\`)
			f, err := strconv.ParseFloat(strings.TrimSpace(strings.Trim(first, "\x00")), 64)
			return f, err == nil
		}
	}
	return 0, false
}

func stringAttr(ds *dcm.Dataset, t tag.Tag) (string, bool) {
	v, ok := attrValue(ds, t)
	if !ok {
		return "", false
	}
	vv, ok := v.([]string)
	if !ok || len(vv) == 0 {
		return "", false
	}
	return strings.TrimSpace(strings.Trim(vv[0], "\x00")), true
}

func stringOrEmpty(ds *dcm.Dataset, t tag.Tag) string {
	s, _ := stringAttr(ds, t)
	return s
}
