package playback

import (
	"context"
	"sync"
	"testing"
	"testing/synctest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type display struct {
	mu     sync.Mutex
	start  time.Time
	frames []int
	at     []time.Duration
}

func (d *display) show(_ context.Context, index int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.frames = append(d.frames, index)
	d.at = append(d.at, time.Since(d.start))
	return true
}

func (d *display) shown() []int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]int(nil), d.frames...)
}

func (d *display) times() []time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]time.Duration(nil), d.at...)
}

// run starts c.Run and returns the display it feeds plus a func that stops
// Run and waits for it to return.
func run(c *Controller) (*display, func()) {
	d := &display{start: time.Now()}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Run(ctx, d.show)
	}()
	return d, func() {
		cancel()
		<-done
		c.Close()
	}
}

func loadAll(c *Controller, total int) {
	for i := range total {
		c.FrameReady(i)
	}
	c.AllFramesLoaded()
}

func TestController_PlaysOnceWithoutLoop(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		c := New(Options{})
		c.Begin(4, 100*time.Millisecond)
		loadAll(c, 4)
		d, stop := run(c)
		defer stop()

		time.Sleep(time.Second)
		synctest.Wait()

		assert.Equal(t, []int{0, 1, 2, 3}, d.shown())
		assert.Equal(t, []time.Duration{0, 100 * time.Millisecond, 200 * time.Millisecond, 300 * time.Millisecond}, d.times())
		assert.Equal(t, StatePaused, c.State())
		assert.Equal(t, 3, c.Current())
	})
}

func TestController_PlayAtEndRestarts(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		c := New(Options{})
		c.Begin(3, 100*time.Millisecond)
		loadAll(c, 3)
		d, stop := run(c)
		defer stop()

		time.Sleep(time.Second)
		synctest.Wait()
		require.Equal(t, StatePaused, c.State())

		require.True(t, c.Play())
		time.Sleep(time.Second)
		synctest.Wait()
		assert.Equal(t, []int{0, 1, 2, 0, 1, 2}, d.shown())
	})
}

func TestController_Loop(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		c := New(Options{Loop: true})
		c.Begin(3, 100*time.Millisecond)
		loadAll(c, 3)
		d, stop := run(c)
		defer stop()

		time.Sleep(550 * time.Millisecond)
		synctest.Wait()

		assert.Equal(t, []int{0, 1, 2, 0, 1, 2}, d.shown())
		assert.Equal(t, StatePlaying, c.State())

		// The wrap to frame 0 was already scheduled; the pass it starts is the
		// last one.
		c.SetLoop(false)
		assert.False(t, c.Loop())
		time.Sleep(time.Second)
		synctest.Wait()
		assert.Equal(t, []int{0, 1, 2, 0, 1, 2, 0, 1, 2}, d.shown())
		assert.Equal(t, StatePaused, c.State())
	})
}

func TestController_WaitsForLoaderWhilePlaying(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		c := New(Options{})
		c.Begin(4, 100*time.Millisecond)
		c.FrameReady(0)
		c.FrameReady(1)
		d, stop := run(c)
		defer stop()

		time.Sleep(time.Second)
		synctest.Wait()
		assert.Equal(t, []int{0, 1}, d.shown())
		assert.Equal(t, StatePlaying, c.State())

		c.FrameReady(2)
		c.FrameReady(3)
		c.AllFramesLoaded()
		time.Sleep(time.Second)
		synctest.Wait()
		assert.Equal(t, []int{0, 1, 2, 3}, d.shown())
	})
}

func TestController_NavigationGuard(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		c := New(Options{AutoPlay: AutoPlayNever})
		c.Begin(5, 100*time.Millisecond)
		c.FrameReady(0)
		c.FrameReady(1)
		d, stop := run(c)
		defer stop()
		synctest.Wait()
		require.Equal(t, []int{0}, d.shown())
		assert.Equal(t, StateLoading, c.State())

		assert.False(t, c.CanNavigate(3))
		assert.False(t, c.Seek(3), "frame 3 is not loaded")
		assert.False(t, c.Seek(-1))
		assert.False(t, c.Seek(5))
		assert.False(t, c.Last(), "last frame is not loaded")

		assert.True(t, c.Next())
		synctest.Wait()
		assert.Equal(t, 1, c.Current())

		assert.False(t, c.Next(), "frame 2 is not loaded")
		synctest.Wait()
		assert.Equal(t, 1, c.Current())

		assert.True(t, c.Previous())
		synctest.Wait()
		assert.Equal(t, 0, c.Current())

		c.FrameReady(4)
		assert.True(t, c.CanNavigate(3))
		assert.True(t, c.Previous(), "wraps to the last frame")
		synctest.Wait()
		assert.Equal(t, 4, c.Current())

		assert.True(t, c.First())
		synctest.Wait()
		assert.True(t, c.Seek(3))
		synctest.Wait()

		assert.Equal(t, []int{0, 1, 0, 4, 0, 3}, d.shown())
		assert.Equal(t, StateLoading, c.State(), "navigation does not start playback")
	})
}

func TestController_NavigationPausesPlayback(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		c := New(Options{Loop: true})
		c.Begin(5, 100*time.Millisecond)
		loadAll(c, 5)
		d, stop := run(c)
		defer stop()

		time.Sleep(150 * time.Millisecond)
		synctest.Wait()
		require.Equal(t, []int{0, 1}, d.shown())

		assert.True(t, c.Next())
		assert.Equal(t, StatePaused, c.State())
		time.Sleep(time.Second)
		synctest.Wait()
		assert.Equal(t, []int{0, 1, 2}, d.shown())
	})
}

func TestController_PauseToggleStop(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		c := New(Options{Loop: true})
		c.Begin(5, 100*time.Millisecond)
		loadAll(c, 5)
		d, stop := run(c)
		defer stop()

		time.Sleep(250 * time.Millisecond)
		synctest.Wait()
		require.Equal(t, []int{0, 1, 2}, d.shown())

		assert.False(t, c.Toggle(), "toggle pauses")
		assert.Equal(t, StatePaused, c.State())
		assert.False(t, c.Pause(), "already paused")
		time.Sleep(time.Second)
		synctest.Wait()
		assert.Equal(t, []int{0, 1, 2}, d.shown())

		assert.True(t, c.Toggle(), "toggle resumes")
		time.Sleep(50 * time.Millisecond)
		synctest.Wait()
		assert.Equal(t, []int{0, 1, 2, 3}, d.shown(), "resume shows the next frame at once")

		c.Stop()
		synctest.Wait()
		assert.Equal(t, StateStopped, c.State())
		assert.Equal(t, 0, c.Current())
		time.Sleep(time.Second)
		synctest.Wait()
		assert.Equal(t, []int{0, 1, 2, 3, 0}, d.shown())
	})
}

func TestController_PlayRefused(t *testing.T) {
	c := New(Options{AutoPlay: AutoPlayNever})
	assert.False(t, c.Play(), "no file")

	c.Begin(1, 0)
	loadAll(c, 1)
	assert.False(t, c.Play(), "single frame")
	assert.Equal(t, StateReady, c.State())

	c.Begin(3, 0)
	assert.False(t, c.Play(), "nothing loaded")
	c.FrameReady(0)
	assert.True(t, c.Play())
	assert.Equal(t, StatePlaying, c.State())
}

func TestController_AutoPlay(t *testing.T) {
	tests := []struct {
		name     string
		policy   AutoPlay
		afterOne State
		afterAll State
	}{
		{"first frame", AutoPlayOnFirstFrame, StatePlaying, StatePlaying},
		{"all loaded", AutoPlayOnAllLoaded, StateLoading, StatePlaying},
		{"never", AutoPlayNever, StateLoading, StateReady},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(Options{AutoPlay: tt.policy})
			c.Begin(3, 0)
			assert.Equal(t, StateLoading, c.State())
			c.FrameReady(0)
			assert.Equal(t, tt.afterOne, c.State())
			c.FrameReady(2)
			assert.Equal(t, 3, c.Loaded())
			c.AllFramesLoaded()
			assert.Equal(t, tt.afterAll, c.State())
		})
	}
}

func TestController_Speed(t *testing.T) {
	c := New(Options{FPS: 8})
	sub := c.Subscribe()

	assert.InDelta(t, 60.0, c.SetSpeed(1000), 1e-9)
	assert.InDelta(t, MinFPS, c.SetSpeed(0.1), 1e-9)
	assert.InDelta(t, 20.0, c.SetInterval(50*time.Millisecond), 1e-9)
	assert.InDelta(t, 20.0, c.Speed(), 1e-9)
	assert.InDelta(t, 8.0, c.ResetSpeed(), 1e-9)

	var got []float64
	for range 4 {
		got = append(got, (<-sub.SpeedChanged).FPS)
	}
	assert.InDeltaSlice(t, []float64{60, MinFPS, 20, 8}, got, 1e-9)

	c.Begin(10, 40*time.Millisecond)
	c.SetSpeed(2)
	assert.InDelta(t, 25.0, c.ResetSpeed(), 1e-9, "file timing wins")
}

func TestController_Events(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		c := New(Options{})
		sub := c.Subscribe()
		c.Begin(2, 100*time.Millisecond)
		loadAll(c, 2)
		_, stop := run(c)

		time.Sleep(time.Second)
		synctest.Wait()
		stop()

		var states []State
		for len(sub.StateChanged) > 0 {
			states = append(states, (<-sub.StateChanged).Current)
		}
		assert.Equal(t, []State{StateLoading, StatePlaying, StatePaused}, states)

		var frames []FrameChange
		for len(sub.FrameChanged) > 0 {
			frames = append(frames, <-sub.FrameChanged)
		}
		assert.Equal(t, []FrameChange{{Index: 0, Total: 2}, {Index: 1, Total: 2}}, frames)

		select {
		case <-sub.Done:
		default:
			t.Error("Done not closed after Close")
		}
	})
}

func TestController_Clear(t *testing.T) {
	c := New(Options{})
	c.Begin(3, 0)
	loadAll(c, 3)
	c.Clear()
	assert.Equal(t, StateStopped, c.State())
	assert.Equal(t, 0, c.Total())
	assert.Equal(t, -1, c.Current())
	assert.False(t, c.Seek(0))
	c.FrameReady(1)
	assert.Zero(t, c.Loaded())
}
