// Package pacing spaces frame delivery to a target frame rate without ever
// dropping a frame.
package pacing

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultFPS is the playback rate used when neither the configuration nor the
// file provides one.
const DefaultFPS = 15

// Pacer hands out display slots one interval apart. A frame that arrives
// after its slot is shown immediately; later frames are delayed, never
// skipped.
type Pacer struct {
	mu       sync.Mutex
	limiter  *rate.Limiter
	interval time.Duration
}

// New creates a pacer for fps frames per second. Non-positive values use
// DefaultFPS.
func New(fps float64) *Pacer {
	p := &Pacer{}
	p.SetFPS(fps)
	return p
}

// SetFPS changes the target rate. Non-positive values use DefaultFPS.
func (p *Pacer) SetFPS(fps float64) {
	if fps <= 0 {
		fps = DefaultFPS
	}
	p.SetInterval(time.Duration(float64(time.Second) / fps))
}

// SetInterval changes the spacing between frames.
func (p *Pacer) SetInterval(d time.Duration) {
	if d <= 0 {
		d = time.Second / DefaultFPS
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.interval = d
	p.limiter = rate.NewLimiter(rate.Every(d), 1)
}

// Interval returns the current spacing between frames.
func (p *Pacer) Interval() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.interval
}

// FPS returns the current target rate.
func (p *Pacer) FPS() float64 {
	return float64(time.Second) / float64(p.Interval())
}

// Schedule claims the next slot and returns how long to wait from now before
// showing the frame. It returns zero when the slot has already passed.
func (p *Pacer) Schedule(now time.Time) time.Duration {
	p.mu.Lock()
	r := p.limiter.ReserveN(now, 1)
	p.mu.Unlock()
	return r.DelayFrom(now)
}

// Reset forgets the slots handed out so far. The next frame is due at once.
func (p *Pacer) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.limiter = rate.NewLimiter(rate.Every(p.interval), 1)
}

// Wait claims the next slot and sleeps until it arrives. It returns false
// when ctx is done or interrupt fires first.
func (p *Pacer) Wait(ctx context.Context, interrupt <-chan struct{}) bool {
	d := p.Schedule(time.Now())
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	case <-interrupt:
		return false
	}
}
