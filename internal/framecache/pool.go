package framecache

import (
	"context"
	"image"
)

type task struct {
	gen     uint64
	session string
	index   int
	dec     Decoder
}

type result struct {
	gen     uint64
	session string
	index   int
	img     *image.Gray
	err     error
}

// RequestFrame queues a decode of index. It is a no-op, returning false,
// when the frame is cached, already pending, marked failed or out of range.
func (m *Manager) RequestFrame(index int, highPriority bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requestLocked(index, highPriority)
}

func (m *Manager) requestLocked(index int, highPriority bool) bool {
	if m.closed || m.dec == nil || index < 0 || index >= m.total {
		return false
	}
	if _, ok := m.entries[index]; ok {
		return false
	}
	if _, ok := m.requested[index]; ok {
		return false
	}
	if _, ok := m.failed[index]; ok {
		return false
	}

	m.requested[index] = struct{}{}
	t := task{gen: m.gen, session: m.session, index: index, dec: m.dec}
	if highPriority {
		m.high = append(m.high, t)
	} else {
		m.normal = append(m.normal, t)
	}
	m.signal()
	return true
}

// CancelLoading drops queued decodes. Decodes already running finish but
// their results are discarded.
func (m *Manager) CancelLoading() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.high = m.high[:0]
	m.normal = m.normal[:0]
	clear(m.requested)
	m.gen++
}

// Retry clears the failed mark of index and requests it again.
func (m *Manager) Retry(index int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.failed, index)
	return m.requestLocked(index, true)
}

// Failure returns the decode error recorded for index, or nil.
func (m *Manager) Failure(index int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failed[index]
}

// Pending returns the number of requested frames not yet merged.
func (m *Manager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requested)
}

func (m *Manager) signal() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// next pops the next task, high priority first.
func (m *Manager) next() (task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var t task
	switch {
	case len(m.high) > 0:
		t, m.high = m.high[0], m.high[1:]
	case len(m.normal) > 0:
		t, m.normal = m.normal[0], m.normal[1:]
	default:
		return task{}, false
	}
	if len(m.high)+len(m.normal) > 0 {
		m.signal()
	}
	return t, true
}

func (m *Manager) work() {
	for {
		t, ok := m.next()
		if !ok {
			select {
			case <-m.wake:
				continue
			case <-m.quit:
				return
			}
		}

		img, err := t.dec.DecodeFrame(t.index)
		r := result{gen: t.gen, session: t.session, index: t.index, img: img, err: err}
		select {
		case m.results <- r:
		case <-m.quit:
			return
		}
	}
}

// Drain merges every decode result available right now and returns how
// many were merged into the current session.
func (m *Manager) Drain() int {
	n := 0
	for {
		select {
		case r := <-m.results:
			if m.apply(r) {
				n++
			}
		default:
			return n
		}
	}
}

// Run merges decode results as they arrive until ctx is done or the manager
// is closed.
func (m *Manager) Run(ctx context.Context) {
	for {
		select {
		case r := <-m.results:
			m.apply(r)
		case <-ctx.Done():
			return
		case <-m.quit:
			return
		}
	}
}

// apply merges one result. Results from a previous session or a canceled
// generation are dropped.
func (m *Manager) apply(r result) bool {
	var rec Record
	if r.err == nil {
		rec = m.prepare(Record{Index: r.index, Image: r.img})
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if r.gen != m.gen || r.session != m.session {
		m.log.Debug("stale decode dropped", "frame", r.index, "session", r.session)
		return false
	}
	delete(m.requested, r.index)

	if r.err != nil {
		m.failed[r.index] = r.err
		m.log.Warn("frame decode failed", "frame", r.index, "error", r.err)
		m.sub.send(FrameLoadingFailed{Index: r.index, Err: r.err})
		return true
	}
	m.addLocked(r.index, rec)
	return true
}
