package viewer

import "context"

const eventBufferSize = 16

// Subscription provides the viewer's event channels.
type Subscription struct {
	Opened   <-chan Opened
	Progress <-chan Progress
	Loaded   <-chan Loaded
	Error    <-chan ErrorEvent
	// Shown never drops: playback waits until the frame is read or the file
	// is closed. Loading never waits on it.
	Shown <-chan FrameShown
	// Done is closed by Viewer.Close.
	Done <-chan struct{}

	// Internal write channels
	openedCh   chan Opened
	progressCh chan Progress
	loadedCh   chan Loaded
	errorCh    chan ErrorEvent
	shownCh    chan FrameShown
	doneCh     chan struct{}
}

func newSubscription() *Subscription {
	s := &Subscription{
		openedCh:   make(chan Opened, eventBufferSize),
		progressCh: make(chan Progress, eventBufferSize),
		loadedCh:   make(chan Loaded, eventBufferSize),
		errorCh:    make(chan ErrorEvent, eventBufferSize),
		shownCh:    make(chan FrameShown, eventBufferSize),
		doneCh:     make(chan struct{}),
	}
	s.Opened = s.openedCh
	s.Progress = s.progressCh
	s.Loaded = s.loadedCh
	s.Error = s.errorCh
	s.Shown = s.shownCh
	s.Done = s.doneCh
	return s
}

// close signals subscribers to stop by closing doneCh.
func (s *Subscription) close() {
	close(s.doneCh)
}

func (s *Subscription) sendOpened(e Opened) {
	select {
	case s.openedCh <- e:
	default:
	}
}

func (s *Subscription) sendProgress(e Progress) {
	select {
	case s.progressCh <- e:
	default:
	}
}

func (s *Subscription) sendLoaded(e Loaded) {
	select {
	case s.loadedCh <- e:
	default:
	}
}

func (s *Subscription) sendError(e ErrorEvent) {
	select {
	case s.errorCh <- e:
	default:
	}
}

// sendShown blocks until e is read or ctx is done.
func (s *Subscription) sendShown(ctx context.Context, e FrameShown) bool {
	select {
	case s.shownCh <- e:
		return true
	case <-ctx.Done():
		return false
	}
}
