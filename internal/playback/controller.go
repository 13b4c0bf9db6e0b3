// Package playback drives frame display for the open file: play, pause,
// navigation, looping and speed, paced by internal/pacing.
package playback

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/llehouerou/dcmview/internal/pacing"
)

// Playback rate bounds.
const (
	MinFPS = 0.5
	MaxFPS = 60.0
)

// Options configures a Controller.
type Options struct {
	// FPS is the default rate, used when a file carries no timing.
	FPS float64
	// Loop wraps from the last frame to the first instead of pausing.
	Loop     bool
	AutoPlay AutoPlay
	Logger   *slog.Logger
}

// ShowFunc hands frame index to the display. It returns false when the
// display is gone and Run should stop.
type ShowFunc func(ctx context.Context, index int) bool

// Controller decides which frame is shown next and when. Frame readiness is
// reported by the loader through FrameReady and AllFramesLoaded, which never
// block; Run does all the waiting. All methods are safe for concurrent use.
type Controller struct {
	opts  Options
	log   *slog.Logger
	pacer *pacing.Pacer
	sub   *Subscription

	mu              sync.Mutex
	state           State
	total           int
	loaded          int
	current         int
	want            int
	gen             uint64
	loop            bool
	defaultInterval time.Duration
	closed          bool

	wake      chan struct{}
	interrupt chan struct{}
}

// New creates a controller with no file.
func New(opts Options) *Controller {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Controller{
		opts:      opts,
		log:       log.With("component", "playback"),
		pacer:     pacing.New(opts.FPS),
		sub:       newSubscription(),
		current:   -1,
		want:      -1,
		loop:      opts.Loop,
		wake:      make(chan struct{}, 1),
		interrupt: make(chan struct{}, 1),
	}
}

// Subscribe returns the playback event subscription.
func (c *Controller) Subscribe() *Subscription {
	return c.sub
}

// Pacer returns the pacer spacing automatic advances.
func (c *Controller) Pacer() *pacing.Pacer {
	return c.pacer
}

// Begin binds the controller to a file of total frames played every
// interval. Frame 0 is shown as soon as it is loaded.
func (c *Controller) Begin(total int, interval time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.total = total
	c.loaded = 0
	c.current = -1
	c.want = -1
	if total > 0 {
		c.want = 0
	}
	c.defaultInterval = interval
	c.pacer.SetInterval(interval)
	c.setStateLocked(StateLoading)
	c.signal(c.interrupt)
}

// Clear forgets the file and stops playback.
func (c *Controller) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.total = 0
	c.loaded = 0
	c.current = -1
	c.want = -1
	c.setStateLocked(StateStopped)
	c.signal(c.interrupt)
}

// FrameReady records that index was loaded. Frames arrive in order, so
// every frame up to index is available.
func (c *Controller) FrameReady(index int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if index < 0 || index >= c.total {
		return
	}
	c.loaded = max(c.loaded, index+1)
	if c.state == StateLoading && c.opts.AutoPlay == AutoPlayOnFirstFrame && c.total > 1 {
		c.playLocked()
	}
	c.signal(c.wake)
}

// AllFramesLoaded records that the whole file is available.
func (c *Controller) AllFramesLoaded() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loaded = c.total
	if c.state == StateLoading {
		if c.opts.AutoPlay == AutoPlayOnAllLoaded && c.total > 1 {
			c.playLocked()
		} else {
			c.setStateLocked(StateReady)
		}
	}
	c.signal(c.wake)
}

// Play starts automatic playback. It reports false when the file has a
// single frame or nothing is loaded yet. Playing past the last frame without
// looping restarts from the first one.
func (c *Controller) Play() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playLocked()
}

func (c *Controller) playLocked() bool {
	if c.total <= 1 || c.loaded == 0 {
		return false
	}
	if c.state == StatePlaying {
		return true
	}
	if !c.loop && c.current >= c.total-1 {
		c.want = 0
	}
	c.pacer.Reset()
	c.setStateLocked(StatePlaying)
	c.signal(c.interrupt)
	return true
}

// Pause stops automatic playback on the current frame.
func (c *Controller) Pause() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pauseLocked()
}

func (c *Controller) pauseLocked() bool {
	if c.state != StatePlaying {
		return false
	}
	c.gen++
	c.setStateLocked(StatePaused)
	c.signal(c.interrupt)
	return true
}

// Stop halts playback and returns to the first frame.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	if c.total > 0 && c.current != 0 {
		c.want = 0
	}
	c.setStateLocked(StateStopped)
	c.signal(c.interrupt)
}

// Toggle pauses while playing and plays otherwise.
func (c *Controller) Toggle() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StatePlaying {
		c.pauseLocked()
		return false
	}
	return c.playLocked()
}

// Next shows the following frame, wrapping to the first. Manual navigation
// pauses playback. It reports false when the target is not loaded.
func (c *Controller) Next() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.total <= 1 {
		return false
	}
	return c.navigateLocked((max(c.current, 0) + 1) % c.total)
}

// Previous shows the preceding frame, wrapping to the last.
func (c *Controller) Previous() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.total <= 1 {
		return false
	}
	return c.navigateLocked((max(c.current, 0) - 1 + c.total) % c.total)
}

// First shows frame 0.
func (c *Controller) First() bool {
	return c.Seek(0)
}

// Last shows the final frame.
func (c *Controller) Last() bool {
	c.mu.Lock()
	last := c.total - 1
	c.mu.Unlock()
	return c.Seek(last)
}

// Seek shows index. It reports false when index is out of range or not
// loaded yet.
func (c *Controller) Seek(index int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if index < 0 || index >= c.total {
		return false
	}
	return c.navigateLocked(index)
}

func (c *Controller) navigateLocked(index int) bool {
	c.pauseLocked()
	if !c.canNavigateLocked(index) {
		c.log.Debug("frame not loaded yet", "frame", index, "loaded", c.loaded)
		return false
	}
	c.gen++
	c.want = index
	c.signal(c.interrupt)
	return true
}

// CanNavigate reports whether index may be shown: it is in range and loaded.
func (c *Controller) CanNavigate(index int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.canNavigateLocked(index)
}

func (c *Controller) canNavigateLocked(index int) bool {
	return index >= 0 && index < c.total && index < c.loaded
}

// SetSpeed changes the playback rate, clamped to [MinFPS, MaxFPS], and
// returns the rate applied.
func (c *Controller) SetSpeed(fps float64) float64 {
	fps = min(max(fps, MinFPS), MaxFPS)
	c.mu.Lock()
	defer c.mu.Unlock()
	if math.Abs(fps-c.pacer.FPS()) < 0.01 {
		return c.pacer.FPS()
	}
	c.pacer.SetFPS(fps)
	c.sub.sendSpeed(SpeedChange{FPS: fps})
	c.signal(c.interrupt)
	return fps
}

// SetInterval changes the playback rate to one frame every d.
func (c *Controller) SetInterval(d time.Duration) float64 {
	if d <= 0 {
		return c.Speed()
	}
	return c.SetSpeed(float64(time.Second) / float64(d))
}

// ResetSpeed restores the rate chosen when the file was opened, or the
// configured rate without a file.
func (c *Controller) ResetSpeed() float64 {
	c.mu.Lock()
	d := c.defaultInterval
	c.mu.Unlock()
	if d > 0 {
		return c.SetInterval(d)
	}
	fps := c.opts.FPS
	if fps <= 0 {
		fps = pacing.DefaultFPS
	}
	return c.SetSpeed(fps)
}

// Speed returns the playback rate in frames per second.
func (c *Controller) Speed() float64 {
	return c.pacer.FPS()
}

// SetLoop enables or disables wrapping at the last frame.
func (c *Controller) SetLoop(loop bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loop = loop
	c.signal(c.wake)
}

// Loop reports whether playback wraps at the last frame.
func (c *Controller) Loop() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loop
}

// State returns the playback state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Current returns the frame last handed to the display, or -1.
func (c *Controller) Current() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Total returns the frame count of the file.
func (c *Controller) Total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

// Loaded returns how many leading frames are available.
func (c *Controller) Loaded() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loaded
}

// Run hands frames to show until ctx is done or show returns false.
// Requested frames are shown as soon as they are loaded; automatic advances
// wait for their pacer slot and for the loader, and are never skipped.
func (c *Controller) Run(ctx context.Context, show ShowFunc) {
	for {
		c.mu.Lock()
		index, paced, ok := c.nextLocked()
		gen := c.gen
		c.mu.Unlock()

		if !ok {
			select {
			case <-c.wake:
			case <-c.interrupt:
			case <-ctx.Done():
				return
			}
			continue
		}

		if paced {
			c.drain(c.interrupt)
			if !c.pacer.Wait(ctx, c.interrupt) {
				if ctx.Err() != nil {
					return
				}
				continue
			}
		} else {
			c.pacer.Schedule(time.Now())
		}

		if !c.commit(gen, index) {
			continue
		}
		if !show(ctx, index) {
			return
		}
	}
}

// nextLocked returns the frame to show next, whether it waits for a pacer
// slot, and false when there is nothing to show yet.
func (c *Controller) nextLocked() (int, bool, bool) {
	if c.want >= 0 {
		return c.want, false, c.want < c.loaded
	}
	if c.state != StatePlaying || c.total == 0 {
		return 0, false, false
	}
	next := c.current + 1
	if next >= c.total {
		if !c.loop {
			c.setStateLocked(StatePaused)
			return 0, false, false
		}
		next = 0
	}
	return next, true, next < c.loaded
}

// commit makes index current unless a control call intervened since gen.
func (c *Controller) commit(gen uint64, index int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return false
	}
	c.current = index
	if c.want == index {
		c.want = -1
	}
	c.sub.sendFrame(FrameChange{Index: index, Total: c.total})
	return true
}

func (c *Controller) setStateLocked(s State) {
	if c.state == s {
		return
	}
	prev := c.state
	c.state = s
	c.log.Debug("playback state", "from", prev, "to", s)
	c.sub.sendState(StateChange{Previous: prev, Current: s})
}

// Close ends the subscription. Run must have returned.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.sub.close()
}

func (c *Controller) signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (c *Controller) drain(ch chan struct{}) {
	select {
	case <-ch:
	default:
	}
}
