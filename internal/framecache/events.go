package framecache

const eventBufferSize = 64

// Event is one of CacheUpdated, FrameEvicted or FrameLoadingFailed.
type Event interface {
	cacheEvent()
}

// CacheUpdated is emitted after every change to the cached set.
type CacheUpdated struct {
	Count       int
	MemoryBytes int64
}

// FrameEvicted is emitted when a cached frame is removed.
type FrameEvicted struct {
	Index int
}

// FrameLoadingFailed is emitted when a pool decode fails. The frame is
// skipped by preloading until Retry.
type FrameLoadingFailed struct {
	Index int
	Err   error
}

func (CacheUpdated) cacheEvent()       {}
func (FrameEvicted) cacheEvent()       {}
func (FrameLoadingFailed) cacheEvent() {}

// Subscription provides the cache event channel.
type Subscription struct {
	// Events is best effort: events are dropped when the buffer is full.
	Events <-chan Event
	// Done is closed when the manager is closed.
	Done <-chan struct{}

	eventsCh chan Event
	doneCh   chan struct{}
}

func newSubscription() *Subscription {
	s := &Subscription{
		eventsCh: make(chan Event, eventBufferSize),
		doneCh:   make(chan struct{}),
	}
	s.Events = s.eventsCh
	s.Done = s.doneCh
	return s
}

func (s *Subscription) close() {
	close(s.doneCh)
}

// send sends an event (non-blocking).
func (s *Subscription) send(e Event) {
	select {
	case s.eventsCh <- e:
	default:
	}
}
