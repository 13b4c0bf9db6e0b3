package framecache

import (
	"fmt"
	"log/slog"
	"runtime"
	"strings"
)

// Defaults applied when Options leave a field at zero.
const (
	DefaultMaxFrames     = 100
	DefaultMaxMemory     = 512 << 20
	DefaultPreloadRadius = 5
	DefaultKeepRadius    = 5
)

// Strategy decides what SetCurrentFrame schedules.
type Strategy int

const (
	// Adaptive preloads around the cursor, biased forward.
	Adaptive Strategy = iota
	// Sequential requests the frames just after the cursor.
	Sequential
	// Preemptive preloads around the cursor with twice the radius.
	Preemptive
	// OnDemand only requests the frame at the cursor.
	OnDemand
)

// String returns the strategy name used in configuration.
func (s Strategy) String() string {
	switch s {
	case Adaptive:
		return "adaptive"
	case Sequential:
		return "sequential"
	case Preemptive:
		return "preemptive"
	case OnDemand:
		return "on_demand"
	default:
		return "unknown"
	}
}

// ParseStrategy parses a configuration value. Empty means Adaptive.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "adaptive":
		return Adaptive, nil
	case "sequential":
		return Sequential, nil
	case "preemptive":
		return Preemptive, nil
	case "on_demand", "on-demand", "ondemand":
		return OnDemand, nil
	default:
		return Adaptive, fmt.Errorf("unknown cache strategy %q", s)
	}
}

// Observer receives cache accounting. Implemented by the metrics package.
type Observer interface {
	CacheHit()
	CacheMiss()
	CacheEvicted()
	CacheRejected()
	CacheSize(frames int, bytes int64)
}

// Options configures a Manager.
type Options struct {
	MaxFrames     int
	MaxMemory     int64
	PreloadRadius int
	// KeepRadius protects frames near the cursor from Cleanup.
	KeepRadius int
	// MaxDimension downscales larger frames before caching. Zero disables.
	MaxDimension int
	// Workers sizes the decode pool, never below two. Zero means
	// max(2, GOMAXPROCS/2).
	Workers  int
	Strategy Strategy
	Logger   *slog.Logger
	Metrics  Observer
}

func (o Options) withDefaults() Options {
	if o.MaxFrames <= 0 {
		o.MaxFrames = DefaultMaxFrames
	}
	if o.MaxMemory <= 0 {
		o.MaxMemory = DefaultMaxMemory
	}
	if o.PreloadRadius <= 0 {
		o.PreloadRadius = DefaultPreloadRadius
	}
	if o.KeepRadius < 0 {
		o.KeepRadius = 0
	} else if o.KeepRadius == 0 {
		o.KeepRadius = DefaultKeepRadius
	}
	if o.Workers <= 0 {
		o.Workers = DefaultWorkers()
	}
	o.Workers = max(2, o.Workers)
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// DefaultWorkers returns the default pool size.
func DefaultWorkers() int {
	return max(2, runtime.GOMAXPROCS(0)/2)
}
