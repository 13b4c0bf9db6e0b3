// Package loader walks every frame of a file in the background and publishes
// the decoded bitmaps through a frame store.
package loader

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/llehouerou/dcmview/internal/dicom"
	"github.com/llehouerou/dcmview/internal/errmsg"
	"github.com/llehouerou/dcmview/internal/framestore"
)

// ErrAlreadyStarted is returned by Start on a loader that was started before.
var ErrAlreadyStarted = errors.New("loader already started")

// Defaults applied when Options leave a field at zero.
const (
	DefaultThrottleAbove = 200
	DefaultThrottle      = time.Millisecond
)

// Decoder opens a file and decodes its frames.
type Decoder interface {
	Load(path string) (*dicom.Session, error)
	DecodeFrame(index int) (*image.Gray, error)
	DecodeRaw(index int) ([]byte, error)
	PreDecoded() bool
}

// Store receives published frames.
type Store interface {
	Reset(session string)
	Put(session string, r framestore.Record) bool
}

// Observer counts published frames. Implemented by the metrics package.
type Observer interface {
	FrameLoaded()
}

// Options configures a Loader.
type Options struct {
	Path string
	// ThrottleAbove is the frame count above which the loader sleeps
	// Throttle between frames, unless the file was batch decompressed.
	ThrottleAbove int
	Throttle      time.Duration
	// KeepRaw stores the raw sample bytes next to each bitmap.
	KeepRaw bool
	Logger  *slog.Logger
	Metrics Observer
}

// Loader decodes all frames of one file, in order, exactly once.
type Loader struct {
	dec   Decoder
	store Store
	opts  Options
	log   *slog.Logger
	sub   *Subscription

	mu      sync.Mutex
	state   State
	cancel  context.CancelFunc
	session *dicom.Session
}

// New creates a loader for opts.Path. Nothing happens until Start.
func New(dec Decoder, store Store, opts Options) *Loader {
	if opts.ThrottleAbove <= 0 {
		opts.ThrottleAbove = DefaultThrottleAbove
	}
	if opts.Throttle <= 0 {
		opts.Throttle = DefaultThrottle
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Loader{
		dec:   dec,
		store: store,
		opts:  opts,
		log:   log.With("component", "loader"),
		sub:   newSubscription(),
	}
}

// Subscribe returns the loader's event subscription.
func (l *Loader) Subscribe() *Subscription {
	return l.sub
}

// State returns the current lifecycle state.
func (l *Loader) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Session returns the opened session, or nil before the file is loaded.
func (l *Loader) Session() *dicom.Session {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.session
}

// Start launches the loading goroutine.
func (l *Loader) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != Created {
		return ErrAlreadyStarted
	}

	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.setStateLocked(Running)
	go l.run(ctx)
	return nil
}

// Stop asks the loader to stop. It does not wait; use Wait to join.
func (l *Loader) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch {
	case l.cancel != nil:
		l.cancel()
	case l.state == Created:
		l.setStateLocked(Canceled)
		l.sub.close()
	}
}

// Wait blocks until the loader goroutine has exited. It returns at once if
// the loader was never started.
func (l *Loader) Wait() {
	l.mu.Lock()
	started := l.cancel != nil
	l.mu.Unlock()
	if started || l.State() == Canceled {
		<-l.sub.Done
	}
}

func (l *Loader) run(ctx context.Context) {
	defer l.sub.close()
	defer l.cancel()

	s, err := l.dec.Load(l.opts.Path)
	if err != nil {
		l.fail(ctx, "", errmsg.FormatWith(errmsg.OpFileLoad, l.opts.Path, err), err)
		return
	}

	l.mu.Lock()
	l.session = s
	l.mu.Unlock()
	l.store.Reset(s.ID)

	interval, fileTiming := s.FrameInterval()
	info := FirstFrameInfo{
		Session:     s.ID,
		Identity:    s.Identity,
		TotalFrames: s.TotalFrames,
		Interval:    interval,
		FileTiming:  fileTiming,
	}
	if !l.sub.send(ctx, info) {
		l.setState(Canceled)
		return
	}

	throttle := !l.dec.PreDecoded() && s.TotalFrames > l.opts.ThrottleAbove
	l.log.Debug("loading frames",
		"session", s.ID,
		"frames", s.TotalFrames,
		"backend", s.Backend,
		"throttle", throttle,
	)

	for i := range s.TotalFrames {
		if ctx.Err() != nil {
			l.setState(Canceled)
			return
		}

		img, err := l.dec.DecodeFrame(i)
		if err != nil {
			l.fail(ctx, s.ID, errmsg.Format(errmsg.OpFrameDecode, err), err)
			return
		}
		rec := framestore.Record{Index: i, Image: img}
		if l.opts.KeepRaw {
			raw, err := l.dec.DecodeRaw(i)
			if err != nil && !errors.Is(err, dicom.ErrNoRawData) {
				l.log.Debug("raw data unavailable", "frame", i, "error", err)
			}
			rec.Raw = raw
		}
		l.store.Put(s.ID, rec)
		if l.opts.Metrics != nil {
			l.opts.Metrics.FrameLoaded()
		}

		if !l.sub.send(ctx, FrameReady{Session: s.ID, Index: i}) ||
			!l.sub.send(ctx, Progress{Session: s.ID, Current: i + 1, Total: s.TotalFrames}) {
			l.setState(Canceled)
			return
		}

		if throttle {
			select {
			case <-ctx.Done():
			case <-time.After(l.opts.Throttle):
			}
		} else {
			runtime.Gosched()
		}
	}

	if !l.sub.send(ctx, AllFramesLoaded{Session: s.ID, TotalFrames: s.TotalFrames}) {
		l.setState(Canceled)
		return
	}
	l.setState(Completed)
	l.log.Debug("all frames loaded", "session", s.ID, "frames", s.TotalFrames)
}

func (l *Loader) fail(ctx context.Context, session, msg string, err error) {
	l.log.Warn("loading stopped", "path", l.opts.Path, "error", err)
	l.sub.send(ctx, ErrorEvent{
		Session: session,
		Path:    l.opts.Path,
		Message: msg,
		Err:     fmt.Errorf("load %s: %w", l.opts.Path, err),
	})
	l.setState(Failed)
}

func (l *Loader) setState(s State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.setStateLocked(s)
}

func (l *Loader) setStateLocked(s State) {
	if l.state == s {
		return
	}
	prev := l.state
	l.state = s
	l.sub.sendState(StateChange{Previous: prev, Current: s})
}
