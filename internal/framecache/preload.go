package framecache

import (
	"cmp"
	"slices"
)

// cleanupThreshold is the fill ratio above which Cleanup evicts.
const cleanupThreshold = 0.8

// forwardBias shrinks the distance of frames after the cursor so playback
// direction wins ties.
const forwardBias = 0.8

// highPriorityRadius is the distance within which preloads are urgent.
const highPriorityRadius = 2

// PreloadAroundFrame requests the frames in [center-radius/3, center+radius]
// closest first, forward frames weighted by 0.8. Frames within two of the
// center go to the high priority queue. It returns the requested indices in
// request order.
func (m *Manager) PreloadAroundFrame(center, radius int) []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.preloadLocked(center, radius)
}

func (m *Manager) preloadLocked(center, radius int) []int {
	if m.total == 0 || radius < 0 {
		return nil
	}
	lo := max(0, center-radius/3)
	hi := min(m.total-1, center+radius)

	type candidate struct {
		index int
		key   float64
	}
	var cands []candidate
	for i := lo; i <= hi; i++ {
		if !m.wantedLocked(i) {
			continue
		}
		key := float64(abs(i - center))
		if i > center {
			key *= forwardBias
		}
		cands = append(cands, candidate{index: i, key: key})
	}
	slices.SortStableFunc(cands, func(a, b candidate) int {
		return cmp.Compare(a.key, b.key)
	})

	requested := make([]int, 0, len(cands))
	for _, c := range cands {
		if m.requestLocked(c.index, abs(c.index-center) <= highPriorityRadius) {
			requested = append(requested, c.index)
		}
	}
	return requested
}

// PreloadRange requests every frame in [start, end] at normal priority.
func (m *Manager) PreloadRange(start, end int) []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	start = max(start, 0)
	end = min(end, m.total-1)
	var requested []int
	for i := start; i <= end; i++ {
		if m.requestLocked(i, false) {
			requested = append(requested, i)
		}
	}
	return requested
}

// SetCurrentFrame moves the playback cursor and schedules decodes for the
// configured strategy.
func (m *Manager) SetCurrentFrame(index int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if index < 0 || index >= m.total {
		return
	}
	m.current = index

	radius := m.opts.PreloadRadius
	switch m.opts.Strategy {
	case Adaptive:
		m.preloadLocked(index, radius)
	case Preemptive:
		m.preloadLocked(index, 2*radius)
	case Sequential:
		m.requestLocked(index, true)
		for i := index + 1; i <= min(index+radius, m.total-1); i++ {
			m.requestLocked(i, false)
		}
	case OnDemand:
		m.requestLocked(index, true)
	}

	if m.cleanupLocked() > 0 {
		m.reportLocked()
	}
}

// CurrentFrame returns the playback cursor.
func (m *Manager) CurrentFrame() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Cleanup evicts up to a quarter of the cache, farthest from the cursor
// first, once the cache is more than 80% full. Frames within KeepRadius of
// the cursor are kept. It returns the number of evicted frames.
func (m *Manager) Cleanup() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.cleanupLocked()
	if n > 0 {
		m.reportLocked()
	}
	return n
}

func (m *Manager) cleanupLocked() int {
	count := len(m.entries)
	if float64(count) <= cleanupThreshold*float64(m.opts.MaxFrames) {
		return 0
	}

	var far []int
	for i := range m.entries {
		if abs(i-m.current) > m.opts.KeepRadius {
			far = append(far, i)
		}
	}
	slices.SortFunc(far, func(a, b int) int {
		if c := cmp.Compare(abs(b-m.current), abs(a-m.current)); c != 0 {
			return c
		}
		return cmp.Compare(a, b)
	})

	n := min(len(far), count/4)
	for _, i := range far[:n] {
		m.evictLocked(i)
	}
	if n > 0 {
		m.log.Debug("cache cleanup", "evicted", n, "current", m.current)
	}
	return n
}

// wantedLocked reports whether index may be scheduled by preloading.
func (m *Manager) wantedLocked(i int) bool {
	if _, ok := m.entries[i]; ok {
		return false
	}
	if _, ok := m.requested[i]; ok {
		return false
	}
	_, failed := m.failed[i]
	return !failed
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
