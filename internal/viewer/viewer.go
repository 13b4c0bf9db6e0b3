// Package viewer runs the decode, cache and pacing pipeline for one open
// file at a time.
package viewer

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/llehouerou/dcmview/internal/dicom"
	"github.com/llehouerou/dcmview/internal/errmsg"
	"github.com/llehouerou/dcmview/internal/framecache"
	"github.com/llehouerou/dcmview/internal/framestore"
	"github.com/llehouerou/dcmview/internal/loader"
	"github.com/llehouerou/dcmview/internal/pacing"
	"github.com/llehouerou/dcmview/internal/playback"
)

// ErrClosed is returned by Open after Close.
var ErrClosed = errors.New("viewer closed")

// Options configures a Viewer.
type Options struct {
	Decoder dicom.Options
	Cache   framecache.Options

	// FPS is the playback rate. UseFileTiming lets frame timing stored in
	// the file take precedence.
	FPS           float64
	UseFileTiming bool
	Playback      playback.Options

	ThrottleAbove int
	Throttle      time.Duration
	KeepRaw       bool

	Logger        *slog.Logger
	LoaderMetrics loader.Observer
}

// active is the pipeline of the open file.
type active struct {
	session *dicom.Session
	dec     *dicom.Decoder
	ld      *loader.Loader
	cancel  context.CancelFunc
}

// Viewer owns the cache, the frame store and the playback controller, and
// rebuilds the decoder and loader for every opened file.
type Viewer struct {
	opts  Options
	log   *slog.Logger
	sub   *Subscription
	cache *framecache.Manager
	store *framestore.Store
	ctrl  *playback.Controller

	// opMu serializes Open and Close.
	opMu   sync.Mutex
	mu     sync.RWMutex
	cur    *active
	shown  int
	closed bool

	pumps conc.WaitGroup
	bg    conc.WaitGroup
}

// New creates a viewer with no file open.
func New(opts Options) *Viewer {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	if opts.Decoder.Logger == nil {
		opts.Decoder.Logger = log
	}
	if opts.Cache.Logger == nil {
		opts.Cache.Logger = log
	}
	if opts.Playback.Logger == nil {
		opts.Playback.Logger = log
	}
	if opts.Playback.FPS <= 0 {
		opts.Playback.FPS = opts.FPS
	}
	v := &Viewer{
		opts:  opts,
		log:   log.With("component", "viewer"),
		sub:   newSubscription(),
		cache: framecache.New(opts.Cache),
		store: framestore.New(),
		ctrl:  playback.New(opts.Playback),
		shown: -1,
	}
	v.bg.Go(func() { v.cache.Run(context.Background()) })
	return v
}

// Subscribe returns the viewer's event subscription.
func (v *Viewer) Subscribe() *Subscription {
	return v.sub
}

// Cache returns the frame cache, for its events and statistics.
func (v *Viewer) Cache() *framecache.Manager {
	return v.cache
}

// Store returns the first-pass frame store.
func (v *Viewer) Store() *framestore.Store {
	return v.store
}

// Pacer returns the display pacer.
func (v *Viewer) Pacer() *pacing.Pacer {
	return v.ctrl.Pacer()
}

// Playback returns the playback controller of the open file.
func (v *Viewer) Playback() *playback.Controller {
	return v.ctrl
}

// Open closes the current file, if any, and opens path. It returns once the
// file is parsed; frames are then decoded in the background at their own
// pace and released through Subscription.Shown by the playback controller.
func (v *Viewer) Open(ctx context.Context, path string) (*dicom.Session, error) {
	v.opMu.Lock()
	defer v.opMu.Unlock()
	if v.isClosed() {
		return nil, ErrClosed
	}
	v.teardown()

	dec := dicom.New(v.opts.Decoder)
	ld := loader.New(dec, v.store, loader.Options{
		Path:          path,
		ThrottleAbove: v.opts.ThrottleAbove,
		Throttle:      v.opts.Throttle,
		KeepRaw:       v.opts.KeepRaw,
		Logger:        v.opts.Logger,
		Metrics:       v.opts.LoaderMetrics,
	})
	events := ld.Subscribe()

	runCtx, cancel := context.WithCancel(ctx)
	if err := ld.Start(runCtx); err != nil {
		cancel()
		v.closeDecoder(dec)
		return nil, fmt.Errorf("start loader: %w", err)
	}

	info, err := awaitFirstFrame(runCtx, events)
	if err != nil {
		cancel()
		ld.Wait()
		v.closeDecoder(dec)
		v.sub.sendError(ErrorEvent{
			Path:    path,
			Message: errmsg.FormatWith(errmsg.OpFileLoad, path, err),
			Err:     err,
		})
		return nil, err
	}

	s := ld.Session()
	v.mu.Lock()
	v.cur = &active{session: s, dec: dec, ld: ld, cancel: cancel}
	v.shown = -1
	v.mu.Unlock()

	v.cache.SetSession(s.ID, s.TotalFrames, dec)
	fps := v.opts.FPS
	if fps <= 0 {
		fps = pacing.DefaultFPS
	}
	interval := time.Duration(float64(time.Second) / fps)
	if v.opts.UseFileTiming && info.FileTiming {
		interval = info.Interval
	}
	v.ctrl.Begin(s.TotalFrames, interval)
	v.log.Info("file opened",
		"path", path,
		"session", s.ID,
		"frames", s.TotalFrames,
		"backend", s.Backend,
		"fps", v.ctrl.Speed(),
	)
	v.sub.sendOpened(Opened{
		Session:     s.ID,
		Path:        path,
		Identity:    s.Identity,
		TotalFrames: s.TotalFrames,
		Interval:    v.Pacer().Interval(),
	})

	v.pumps.Go(func() { v.pump(runCtx, s.ID, events) })
	v.pumps.Go(func() {
		v.ctrl.Run(runCtx, func(ctx context.Context, i int) bool {
			return v.show(ctx, s.ID, i)
		})
	})
	return s, nil
}

// awaitFirstFrame waits for the loader to open the file.
func awaitFirstFrame(ctx context.Context, sub *loader.Subscription) (loader.FirstFrameInfo, error) {
	handle := func(e loader.Event) (loader.FirstFrameInfo, bool, error) {
		switch e := e.(type) {
		case loader.FirstFrameInfo:
			return e, true, nil
		case loader.ErrorEvent:
			return loader.FirstFrameInfo{}, true, e.Err
		}
		return loader.FirstFrameInfo{}, false, nil
	}
	for {
		select {
		case e := <-sub.Events:
			if info, ok, err := handle(e); ok {
				return info, err
			}
		case <-sub.Done:
			select {
			case e := <-sub.Events:
				if info, ok, err := handle(e); ok {
					return info, err
				}
			default:
			}
			return loader.FirstFrameInfo{}, errors.New("loader stopped before opening the file")
		case <-ctx.Done():
			return loader.FirstFrameInfo{}, ctx.Err()
		}
	}
}

// pump forwards loader events. Published frames are merged into the cache
// and reported to the playback controller; pump never waits for display.
func (v *Viewer) pump(ctx context.Context, session string, sub *loader.Subscription) {
	for {
		select {
		case e := <-sub.Events:
			v.handle(session, e)
		case <-sub.Done:
			for {
				select {
				case e := <-sub.Events:
					v.handle(session, e)
				default:
					return
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

func (v *Viewer) handle(session string, e loader.Event) {
	if e.SessionID() != session {
		v.log.Debug("stale loader event dropped", "session", e.SessionID())
		return
	}
	switch e := e.(type) {
	case loader.FrameReady:
		if v.merge(session, e.Index) {
			v.ctrl.FrameReady(e.Index)
		}
	case loader.Progress:
		v.sub.sendProgress(Progress{Session: session, Current: e.Current, Total: e.Total})
	case loader.AllFramesLoaded:
		v.ctrl.AllFramesLoaded()
		v.sub.sendLoaded(Loaded{Session: session, TotalFrames: e.TotalFrames})
	case loader.ErrorEvent:
		v.sub.sendError(ErrorEvent{Session: session, Path: e.Path, Message: e.Message, Err: e.Err})
	}
}

// merge copies a published frame from the store into the cache. Frames of
// any session but the active one are dropped.
func (v *Viewer) merge(session string, index int) bool {
	if session != v.activeSession() || session != v.store.Session() {
		v.log.Debug("stale frame dropped", "session", session, "frame", index)
		return false
	}
	rec, ok := v.store.Record(index)
	if !ok {
		return false
	}
	v.cache.Add(index, framecache.Record{
		Index:     rec.Index,
		Image:     rec.Image,
		Raw:       rec.Raw,
		DecodedAt: rec.DecodedAt,
	})
	return true
}

func (v *Viewer) show(ctx context.Context, session string, index int) bool {
	if session != v.activeSession() {
		return false
	}
	img, _ := v.Frame(index)
	v.cache.SetCurrentFrame(index)
	v.mu.Lock()
	v.shown = index
	v.mu.Unlock()
	return v.sub.sendShown(ctx, FrameShown{Session: session, Index: index, Image: img})
}

// Frame returns the bitmap of index without blocking. A frame missing from
// the cache is taken from the first-pass store, or requested from the
// decode pool and reported as unavailable.
func (v *Viewer) Frame(index int) (*image.Gray, bool) {
	if img, ok := v.cache.Frame(index); ok {
		return img, true
	}
	if rec, ok := v.store.Record(index); ok && rec.Image != nil {
		v.cache.Add(index, framecache.Record{
			Index:     rec.Index,
			Image:     rec.Image,
			Raw:       rec.Raw,
			DecodedAt: rec.DecodedAt,
		})
		return rec.Image, true
	}
	v.cache.RequestFrame(index, true)
	return nil, false
}

// Seek moves the cache cursor to index and preloads around it. The frame is
// shown once loaded; Seek reports false when the loader has not reached it
// yet.
func (v *Viewer) Seek(index int) bool {
	v.cache.SetCurrentFrame(index)
	return v.ctrl.Seek(index)
}

// Session returns the open session, or nil.
func (v *Viewer) Session() *dicom.Session {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.cur == nil {
		return nil
	}
	return v.cur.session
}

// LastShown returns the index of the last frame released for display, or
// -1 before the first.
func (v *Viewer) LastShown() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.shown
}

// LoaderState returns the state of the current loader.
func (v *Viewer) LoaderState() loader.State {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.cur == nil {
		return loader.Created
	}
	return v.cur.ld.State()
}

// Stats returns the cache statistics.
func (v *Viewer) Stats() framecache.Stats {
	return v.cache.Stats()
}

// CloseFile stops loading and releases the open file, keeping the viewer
// usable.
func (v *Viewer) CloseFile() {
	v.opMu.Lock()
	defer v.opMu.Unlock()
	v.teardown()
}

// Close releases the open file and stops the cache workers.
func (v *Viewer) Close() error {
	v.opMu.Lock()
	defer v.opMu.Unlock()
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return nil
	}
	v.closed = true
	v.mu.Unlock()

	v.teardown()
	v.ctrl.Close()
	v.cache.Close()
	v.bg.Wait()
	v.sub.close()
	return nil
}

// teardown stops the loader, joins the pumps, empties the cache and closes
// the decoder. The caller holds opMu.
func (v *Viewer) teardown() {
	v.mu.Lock()
	a := v.cur
	v.cur = nil
	v.shown = -1
	v.mu.Unlock()
	if a == nil {
		return
	}

	a.cancel()
	a.ld.Stop()
	a.ld.Wait()
	v.pumps.Wait()
	v.ctrl.Clear()

	v.cache.SetSession("", 0, nil)
	v.store.Reset("")
	v.closeDecoder(a.dec)
	v.log.Debug("file closed", "session", a.session.ID)
}

func (v *Viewer) closeDecoder(dec *dicom.Decoder) {
	if err := dec.Close(); err != nil {
		v.log.Warn(errmsg.Format(errmsg.OpFileClose, err))
	}
}

func (v *Viewer) activeSession() string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.cur == nil {
		return ""
	}
	return v.cur.session.ID
}

func (v *Viewer) isClosed() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.closed
}
