package dicom

import (
	"errors"
	"fmt"
	"image"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"
)

// acceleratedBackend copies encapsulated fragments into one reusable stream
// buffer guarded by its mutex. For multi-frame files it only
// supports whole-stream decompression.
type acceleratedBackend struct {
	s       *Session
	workers int

	mu        sync.Mutex
	fragments [][]byte
	stream    []byte
}

func newAcceleratedBackend(s *Session, pf *parsedFile, workers int) (*acceleratedBackend, error) {
	if !pf.encapsulated {
		return nil, &BackendInitError{Backend: BackendAccelerated, Err: errors.New("pixel data is not encapsulated")}
	}
	if len(pf.frames) != s.TotalFrames {
		return nil, &BackendInitError{
			Backend: BackendAccelerated,
			Err:     fmt.Errorf("%d fragments for %d frames", len(pf.frames), s.TotalFrames),
		}
	}

	fragments := make([][]byte, len(pf.frames))
	for i, f := range pf.frames {
		if f.data == nil {
			return nil, &BackendInitError{Backend: BackendAccelerated, Err: fmt.Errorf("frame %d has no fragment", i)}
		}
		fragments[i] = f.data
	}

	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &acceleratedBackend{s: s, workers: workers, fragments: fragments}, nil
}

func (b *acceleratedBackend) decodeFrame(index int) (*image.Gray, error) {
	if b.s.TotalFrames > 1 {
		return nil, errBatchOnly
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fragments == nil {
		return nil, ErrClosed
	}
	b.stream = append(b.stream[:0], b.fragments[index]...)
	return decodeEncoded(b.s, b.stream, b.s.WindowCenter, b.s.WindowWidth)
}

// decodeAll reads every fragment sequentially under the lock, then decodes
// the frames in parallel.
func (b *acceleratedBackend) decodeAll() ([]*image.Gray, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fragments == nil {
		return nil, ErrClosed
	}

	bounds := make([][2]int, 0, len(b.fragments))
	b.stream = b.stream[:0]
	for _, f := range b.fragments {
		start := len(b.stream)
		b.stream = append(b.stream, f...)
		bounds = append(bounds, [2]int{start, len(b.stream)})
	}

	out := make([]*image.Gray, len(bounds))
	var g errgroup.Group
	g.SetLimit(b.workers)
	for i, r := range bounds {
		data := b.stream[r[0]:r[1]]
		g.Go(func() error {
			img, err := decodeEncoded(b.s, data, b.s.WindowCenter, b.s.WindowWidth)
			if err != nil {
				return backendFailure(i, err)
			}
			out[i] = img
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (b *acceleratedBackend) supportsBatch() bool { return true }

func (b *acceleratedBackend) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fragments = nil
	b.stream = nil
}
