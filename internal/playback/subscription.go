package playback

const eventBufferSize = 16

// Subscription provides event channels for a subscriber.
type Subscription struct {
	StateChanged <-chan StateChange
	FrameChanged <-chan FrameChange
	SpeedChanged <-chan SpeedChange
	Done         <-chan struct{}

	// Internal write channels
	stateCh chan StateChange
	frameCh chan FrameChange
	speedCh chan SpeedChange
	doneCh  chan struct{}
}

func newSubscription() *Subscription {
	s := &Subscription{
		stateCh: make(chan StateChange, eventBufferSize),
		frameCh: make(chan FrameChange, eventBufferSize),
		speedCh: make(chan SpeedChange, eventBufferSize),
		doneCh:  make(chan struct{}),
	}
	s.StateChanged = s.stateCh
	s.FrameChanged = s.frameCh
	s.SpeedChanged = s.speedCh
	s.Done = s.doneCh
	return s
}

// close signals subscribers to stop by closing doneCh.
func (s *Subscription) close() {
	close(s.doneCh)
}

// sendState sends a state change event (non-blocking).
func (s *Subscription) sendState(e StateChange) {
	select {
	case s.stateCh <- e:
	default:
	}
}

func (s *Subscription) sendFrame(e FrameChange) {
	select {
	case s.frameCh <- e:
	default:
	}
}

func (s *Subscription) sendSpeed(e SpeedChange) {
	select {
	case s.speedCh <- e:
	default:
	}
}
