package framecache

// Stats is a snapshot of the cache accounting.
type Stats struct {
	Frames      int
	MemoryBytes int64
	MaxFrames   int
	MaxMemory   int64
	Hits        uint64
	Misses      uint64
	Evictions   uint64
	Pending     int
	Failed      int
	HitRatio    float64
}

// HitRatio returns hits / (hits + misses), or 0 when nothing was accessed.
func (m *Manager) HitRatio() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return hitRatio(m.hits, m.misses)
}

// Stats returns a snapshot of the cache accounting.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		Frames:      len(m.entries),
		MemoryBytes: m.memory,
		MaxFrames:   m.opts.MaxFrames,
		MaxMemory:   m.opts.MaxMemory,
		Hits:        m.hits,
		Misses:      m.misses,
		Evictions:   m.evictions,
		Pending:     len(m.requested),
		Failed:      len(m.failed),
		HitRatio:    hitRatio(m.hits, m.misses),
	}
}

func hitRatio(hits, misses uint64) float64 {
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}
