package loader

import "context"

const eventBufferSize = 16

// Subscription provides the event channels of one loader.
type Subscription struct {
	// Events carries frame events in order. Sends block until read or until
	// the loader is stopped, so FrameReady is never dropped.
	Events <-chan Event
	// StateChanged is best effort; changes are dropped when the buffer is full.
	StateChanged <-chan StateChange
	// Done is closed when the loader goroutine has exited.
	Done <-chan struct{}

	// Internal write channels
	eventsCh chan Event
	stateCh  chan StateChange
	doneCh   chan struct{}
}

func newSubscription() *Subscription {
	s := &Subscription{
		eventsCh: make(chan Event, eventBufferSize),
		stateCh:  make(chan StateChange, eventBufferSize),
		doneCh:   make(chan struct{}),
	}
	s.Events = s.eventsCh
	s.StateChanged = s.stateCh
	s.Done = s.doneCh
	return s
}

// close signals subscribers to stop by closing doneCh.
func (s *Subscription) close() {
	close(s.doneCh)
}

// send delivers e unless ctx is done first. It reports whether e was sent.
func (s *Subscription) send(ctx context.Context, e Event) bool {
	if ctx.Err() != nil {
		return false
	}
	select {
	case s.eventsCh <- e:
		return true
	case <-ctx.Done():
		return false
	}
}

// sendState sends a state change event (non-blocking).
func (s *Subscription) sendState(e StateChange) {
	select {
	case s.stateCh <- e:
	default:
	}
}
