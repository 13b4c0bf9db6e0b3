// Package framecache keeps decoded frames under count and memory budgets and
// schedules background decodes around the playback cursor.
package framecache

import (
	"errors"
	"image"
	"image/draw"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/nfnt/resize"
	"github.com/sourcegraph/conc"
)

// ErrMemoryBudgetExceeded is reported when a single frame is larger than the
// whole memory budget. The frame is not retained.
var ErrMemoryBudgetExceeded = errors.New("frame exceeds cache memory budget")

// bytesPerPixel of the cached 8-bit bitmaps.
const bytesPerPixel = 1

// Decoder decodes a frame of the active session.
type Decoder interface {
	DecodeFrame(index int) (*image.Gray, error)
}

// Record is a decoded frame.
type Record struct {
	Index       int
	Image       *image.Gray
	Raw         []byte
	DecodedAt   time.Time
	Transformed bool // downscaled before caching
}

type entry struct {
	rec        Record
	size       int64
	lastAccess time.Time
	tick       uint64
}

// Manager is the consumer-facing frame cache. All methods are safe for
// concurrent use. Decodes run on an internal pool outside the lock; their
// results are merged by Drain or Run.
type Manager struct {
	opts Options
	log  *slog.Logger
	sub  *Subscription

	mu        sync.Mutex
	entries   map[int]*entry
	memory    int64
	hits      uint64
	misses    uint64
	evictions uint64
	tick      uint64

	session   string
	total     int
	current   int
	dec       Decoder
	gen       uint64
	requested map[int]struct{}
	failed    map[int]error
	high      []task
	normal    []task
	closed    bool

	wake    chan struct{}
	quit    chan struct{}
	results chan result
	workers conc.WaitGroup
}

// New creates a manager and starts its worker pool.
func New(opts Options) *Manager {
	m := newManager(opts)
	for range m.opts.Workers {
		m.workers.Go(m.work)
	}
	return m
}

func newManager(opts Options) *Manager {
	opts = opts.withDefaults()
	return &Manager{
		opts:      opts,
		log:       opts.Logger.With("component", "framecache"),
		sub:       newSubscription(),
		entries:   make(map[int]*entry),
		requested: make(map[int]struct{}),
		failed:    make(map[int]error),
		wake:      make(chan struct{}, 1),
		quit:      make(chan struct{}),
		results:   make(chan result, 4*opts.Workers+16),
	}
}

// Subscribe returns the cache event subscription.
func (m *Manager) Subscribe() *Subscription {
	return m.sub
}

// SetSession binds the cache to a new file. Everything cached or pending for
// the previous session is dropped.
func (m *Manager) SetSession(session string, totalFrames int, dec Decoder) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clearLocked()
	m.session = session
	m.total = totalFrames
	m.current = 0
	m.dec = dec
	m.log.Debug("session set", "session", session, "frames", totalFrames)
}

// Session returns the active session ID.
func (m *Manager) Session() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// HasFrame reports whether index is cached. It does not count as an access.
func (m *Manager) HasFrame(index int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[index]
	return ok
}

// Frame returns the cached bitmap for index and refreshes its LRU position.
func (m *Manager) Frame(index int) (*image.Gray, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[index]
	if !ok {
		m.misses++
		if m.opts.Metrics != nil {
			m.opts.Metrics.CacheMiss()
		}
		return nil, false
	}
	m.hits++
	m.touch(e)
	if m.opts.Metrics != nil {
		m.opts.Metrics.CacheHit()
	}
	return e.rec.Image, true
}

// Record returns the cached record for index without refreshing its LRU
// position, along with the time of its last access.
func (m *Manager) Record(index int) (Record, time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[index]
	if !ok {
		return Record{}, time.Time{}, false
	}
	return e.rec, e.lastAccess, true
}

// LoadedFrameCount returns the number of cached frames.
func (m *Manager) LoadedFrameCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// AvailableFrames returns the cached indices in ascending order.
func (m *Manager) AvailableFrames() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]int, 0, len(m.entries))
	for i := range m.entries {
		out = append(out, i)
	}
	slices.Sort(out)
	return out
}

// MemoryUsage returns the bytes held by cached frames.
func (m *Manager) MemoryUsage() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.memory
}

// Clear drops every entry, cancels queued decodes and resets the counters.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clearLocked()
}

func (m *Manager) clearLocked() {
	clear(m.entries)
	clear(m.requested)
	clear(m.failed)
	m.high = m.high[:0]
	m.normal = m.normal[:0]
	m.gen++
	m.memory = 0
	m.hits = 0
	m.misses = 0
	m.reportLocked()
}

// Remove evicts index if it is cached.
func (m *Manager) Remove(index int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[index]; !ok {
		return false
	}
	m.evictLocked(index)
	m.reportLocked()
	return true
}

// Add caches a decoded frame, evicting least recently used entries to stay
// within the budgets. It returns false when the frame was not retained.
func (m *Manager) Add(index int, rec Record) bool {
	rec = m.prepare(rec)
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addLocked(index, rec)
}

// prepare downscales oversized frames. It runs outside the lock.
func (m *Manager) prepare(rec Record) Record {
	limit := m.opts.MaxDimension
	if rec.Image == nil || limit <= 0 {
		return rec
	}
	b := rec.Image.Bounds()
	if b.Dx() <= limit && b.Dy() <= limit {
		return rec
	}

	scaled := resize.Thumbnail(uint(limit), uint(limit), rec.Image, resize.Bilinear) //nolint:gosec // positive
	gray, ok := scaled.(*image.Gray)
	if !ok {
		gray = image.NewGray(image.Rect(0, 0, scaled.Bounds().Dx(), scaled.Bounds().Dy()))
		draw.Draw(gray, gray.Bounds(), scaled, scaled.Bounds().Min, draw.Src)
	}
	rec.Image = gray
	rec.Transformed = true
	return rec
}

func (m *Manager) addLocked(index int, rec Record) bool {
	if rec.Image == nil || index < 0 || (m.total > 0 && index >= m.total) {
		return false
	}
	rec.Index = index
	if rec.DecodedAt.IsZero() {
		rec.DecodedAt = time.Now()
	}

	size := frameSize(rec.Image)
	if size > m.opts.MaxMemory {
		m.log.Debug("frame not cached", "frame", index, "size", size, "error", ErrMemoryBudgetExceeded)
		if m.opts.Metrics != nil {
			m.opts.Metrics.CacheRejected()
		}
		return false
	}

	if old, ok := m.entries[index]; ok {
		m.memory -= old.size
		delete(m.entries, index)
	}
	if len(m.entries) >= m.opts.MaxFrames {
		m.evictLRULocked()
	}
	for m.memory+size > m.opts.MaxMemory && len(m.entries) > 0 {
		m.evictLRULocked()
	}

	e := &entry{rec: rec, size: size}
	m.touch(e)
	m.entries[index] = e
	m.memory += size
	delete(m.failed, index)
	m.reportLocked()
	return true
}

// EvictLeastRecentlyUsed removes the entry with the oldest access.
func (m *Manager) EvictLeastRecentlyUsed() (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	index, ok := m.evictLRULocked()
	if ok {
		m.reportLocked()
	}
	return index, ok
}

func (m *Manager) evictLRULocked() (int, bool) {
	victim, found := 0, false
	var oldest uint64
	for i, e := range m.entries {
		if !found || e.tick < oldest {
			victim, oldest, found = i, e.tick, true
		}
	}
	if found {
		m.evictLocked(victim)
	}
	return victim, found
}

func (m *Manager) evictLocked(index int) {
	e := m.entries[index]
	delete(m.entries, index)
	m.memory -= e.size
	m.evictions++
	if m.opts.Metrics != nil {
		m.opts.Metrics.CacheEvicted()
	}
	m.sub.send(FrameEvicted{Index: index})
}

func (m *Manager) touch(e *entry) {
	m.tick++
	e.tick = m.tick
	e.lastAccess = time.Now()
}

func (m *Manager) reportLocked() {
	m.sub.send(CacheUpdated{Count: len(m.entries), MemoryBytes: m.memory})
	if m.opts.Metrics != nil {
		m.opts.Metrics.CacheSize(len(m.entries), m.memory)
	}
}

// Optimize enforces the memory budget and runs Cleanup.
func (m *Manager) Optimize() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for m.memory > m.opts.MaxMemory && len(m.entries) > 0 {
		m.evictLRULocked()
	}
	m.cleanupLocked()
	m.reportLocked()
}

// Close stops the worker pool and waits for it.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	close(m.quit)
	m.mu.Unlock()

	m.workers.Wait()
	m.sub.close()
}

func frameSize(img *image.Gray) int64 {
	b := img.Bounds()
	return int64(b.Dx()) * int64(b.Dy()) * bytesPerPixel
}
