package dicom

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// Defaults applied when Options leave a field at zero.
const (
	DefaultMemoSize       = 20
	DefaultBatchMaxFrames = 1000
)

// Observer receives decode timings. Implemented by the metrics package.
type Observer interface {
	ObserveDecode(backend string, d time.Duration, err error)
}

// Options configures a Decoder.
type Options struct {
	MemoSize            int
	BatchMaxFrames      int
	BatchWorkers        int
	DisableAcceleration bool
	Logger              *slog.Logger
	Metrics             Observer
}

// Decoder turns frame indices of the loaded file into 8-bit bitmaps.
// Returned bitmaps are shared with the memo and must not be modified.
type Decoder struct {
	opts Options
	log  *slog.Logger

	mu         sync.RWMutex
	session    *Session
	frames     []rawFrame
	backend    backend
	memo       *lru.Cache[int, *image.Gray]
	predecoded []*image.Gray
	closed     bool

	group singleflight.Group
}

// New creates a Decoder with no file loaded.
func New(opts Options) *Decoder {
	if opts.MemoSize <= 0 {
		opts.MemoSize = DefaultMemoSize
	}
	if opts.BatchMaxFrames <= 0 {
		opts.BatchMaxFrames = DefaultBatchMaxFrames
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Decoder{opts: opts, log: log.With("component", "decoder")}
}

// Load opens path, replacing any previously loaded file.
func (d *Decoder) Load(path string) (*Session, error) {
	d.mu.RLock()
	closed := d.closed
	d.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}

	pf, err := parseFile(path)
	if err != nil {
		return nil, err
	}
	return d.install(pf)
}

// install builds the backend for a parsed file and makes it the active session.
func (d *Decoder) install(pf *parsedFile) (*Session, error) {
	s := pf.session
	s.ID = uuid.NewString()
	s.Backend = BackendGeneric
	if !d.opts.DisableAcceleration {
		s.Backend = SelectBackend(s.TransferSyntax)
	}

	var b backend
	if s.Backend == BackendAccelerated {
		ab, err := newAcceleratedBackend(&s, pf, d.opts.BatchWorkers)
		if err != nil {
			d.log.Warn("accelerated backend unavailable, using generic", "path", s.Path, "error", err)
			s.Backend = BackendGeneric
		} else {
			b = ab
		}
	}

	var predecoded []*image.Gray
	if b != nil && s.TotalFrames > 1 {
		imgs, err := d.batch(b, &s)
		if err != nil {
			d.log.Warn("batch decompression failed, using generic", "path", s.Path, "error", err)
			b.close()
			b = nil
			s.Backend = BackendGeneric
		} else {
			predecoded = imgs
		}
	}
	if b == nil {
		b = newGenericBackend(&s, pf)
	}

	memo, err := lru.New[int, *image.Gray](d.opts.MemoSize)
	if err != nil {
		return nil, fmt.Errorf("create memo: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		b.close()
		return nil, ErrClosed
	}
	if d.backend != nil {
		d.backend.close()
	}
	d.session = &s
	d.frames = pf.frames
	d.backend = b
	d.memo = memo
	d.predecoded = predecoded

	d.log.Debug("file loaded",
		"path", s.Path,
		"session", s.ID,
		"frames", s.TotalFrames,
		"syntax", s.TransferSyntax,
		"backend", s.Backend,
		"predecoded", predecoded != nil,
	)
	return &s, nil
}

// batch runs whole-stream decompression and validates every frame.
func (d *Decoder) batch(b backend, s *Session) ([]*image.Gray, error) {
	if !b.supportsBatch() || s.TotalFrames <= 1 {
		return nil, ErrBatchUnsupported
	}
	if s.TotalFrames > d.opts.BatchMaxFrames {
		return nil, fmt.Errorf("%d frames exceeds batch ceiling of %d", s.TotalFrames, d.opts.BatchMaxFrames)
	}

	start := time.Now()
	imgs, err := b.decodeAll()
	d.observe(s.Backend, time.Since(start), err)
	if err != nil {
		return nil, err
	}
	if len(imgs) != s.TotalFrames {
		return nil, fmt.Errorf("batch produced %d frames, want %d", len(imgs), s.TotalFrames)
	}
	for i, img := range imgs {
		if err := checkDimensions(s, i, img); err != nil {
			return nil, err
		}
	}
	return imgs, nil
}

// Session returns the active session, or nil.
func (d *Decoder) Session() *Session {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.session
}

// PreDecoded reports whether the active session was batch decompressed.
func (d *Decoder) PreDecoded() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.predecoded != nil
}

// PreDecompressAll decompresses every frame of the active session at once.
// Load already does this when the backend supports it; calling it again is
// a no-op.
func (d *Decoder) PreDecompressAll() error {
	d.mu.RLock()
	s, b, done, err := d.session, d.backend, d.predecoded != nil, d.usable()
	d.mu.RUnlock()
	if err != nil {
		return err
	}
	if done {
		return nil
	}

	imgs, err := d.batch(b, s)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.session == s {
		d.predecoded = imgs
	}
	return nil
}

// DecodeFrame returns the bitmap of frame index, using the memo and the
// batch result before decoding through the backend.
func (d *Decoder) DecodeFrame(index int) (*image.Gray, error) {
	d.mu.RLock()
	if err := d.usable(); err != nil {
		d.mu.RUnlock()
		return nil, err
	}
	s, b, memo := d.session, d.backend, d.memo
	if index < 0 || index >= s.TotalFrames {
		d.mu.RUnlock()
		return nil, outOfRange(index, s.TotalFrames)
	}
	if img, ok := memo.Peek(index); ok {
		d.mu.RUnlock()
		return img, nil
	}
	if d.predecoded != nil {
		img := d.predecoded[index]
		d.mu.RUnlock()
		return img, nil
	}
	d.mu.RUnlock()

	v, err, _ := d.group.Do(s.ID+"/"+strconv.Itoa(index), func() (any, error) {
		return d.decode(b, s, index)
	})
	if err != nil {
		return nil, err
	}
	img := v.(*image.Gray)
	memo.Add(index, img)
	return img, nil
}

func (d *Decoder) decode(b backend, s *Session, index int) (*image.Gray, error) {
	start := time.Now()
	img, err := b.decodeFrame(index)
	if err == nil {
		err = checkDimensions(s, index, img)
	} else {
		var fe *FrameDecodeError
		switch {
		case errors.As(err, &fe):
		case errors.Is(err, errSampleCount):
			err = &FrameDecodeError{Kind: DimensionMismatch, Index: index, Err: err}
		default:
			err = backendFailure(index, err)
		}
	}
	d.observe(s.Backend, time.Since(start), err)
	if err != nil {
		return nil, err
	}
	d.log.Debug("frame decoded", "session", s.ID, "frame", index, "elapsed", time.Since(start))
	return img, nil
}

// DecodeRaw returns the stored sample bytes of a frame, little endian.
// It fails with ErrNoRawData for lossy encapsulated syntaxes.
func (d *Decoder) DecodeRaw(index int) ([]byte, error) {
	s, rf, err := d.rawFrame(index)
	if err != nil {
		return nil, err
	}
	samples, err := frameSamples(s, rf)
	if err != nil {
		if errors.Is(err, ErrNoRawData) {
			return nil, err
		}
		return nil, backendFailure(index, err)
	}
	return sampleBytes(s, samples), nil
}

// RenderWindowed renders a frame with an explicit window instead of the
// file default.
func (d *Decoder) RenderWindowed(index int, center, width float64) (*image.Gray, error) {
	s, rf, err := d.rawFrame(index)
	if err != nil {
		return nil, err
	}
	samples, err := decodedSamples(s, rf)
	if err == nil {
		var img *image.Gray
		if img, err = renderSamples(s, samples, center, width); err == nil {
			return img, nil
		}
	}
	if errors.Is(err, errSampleCount) {
		return nil, &FrameDecodeError{Kind: DimensionMismatch, Index: index, Err: err}
	}
	return nil, backendFailure(index, err)
}

func (d *Decoder) rawFrame(index int) (*Session, rawFrame, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if err := d.usable(); err != nil {
		return nil, rawFrame{}, err
	}
	if index < 0 || index >= d.session.TotalFrames {
		return nil, rawFrame{}, outOfRange(index, d.session.TotalFrames)
	}
	return d.session, d.frames[index], nil
}

// Close releases the backend and caches. Later calls fail with ErrClosed.
func (d *Decoder) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	if d.backend != nil {
		d.backend.close()
	}
	if d.memo != nil {
		d.memo.Purge()
	}
	d.session = nil
	d.frames = nil
	d.backend = nil
	d.predecoded = nil
	return nil
}

// usable must be called with mu held.
func (d *Decoder) usable() error {
	if d.closed {
		return ErrClosed
	}
	if d.session == nil {
		return ErrNoSession
	}
	return nil
}

func (d *Decoder) observe(k BackendKind, elapsed time.Duration, err error) {
	if d.opts.Metrics != nil {
		d.opts.Metrics.ObserveDecode(k.String(), elapsed, err)
	}
}

func checkDimensions(s *Session, index int, img *image.Gray) error {
	if img == nil {
		return backendFailure(index, errors.New("backend returned no image"))
	}
	b := img.Bounds()
	if b.Dx() != s.Columns || b.Dy() != s.Rows {
		return &FrameDecodeError{
			Kind:  DimensionMismatch,
			Index: index,
			Err:   fmt.Errorf("got %dx%d, want %dx%d", b.Dx(), b.Dy(), s.Columns, s.Rows),
		}
	}
	return nil
}
