package config

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/dustin/go-humanize"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	appName = "dcmview"
	// EnvPrefix marks environment overrides. Sections are separated by a
	// double underscore: DCMVIEW_CACHE__MAX_FRAMES sets cache.max_frames.
	EnvPrefix = "DCMVIEW_"
)

type Config struct {
	Cache    CacheConfig    `koanf:"cache"`
	Playback PlaybackConfig `koanf:"playback"`
	Decoder  DecoderConfig  `koanf:"decoder"`
	Loader   LoaderConfig   `koanf:"loader"`
	Log      LogConfig      `koanf:"log"`
	Metrics  MetricsConfig  `koanf:"metrics"`
}

// CacheConfig holds the decoded frame cache budgets.
type CacheConfig struct {
	MaxFrames     int    `koanf:"max_frames"`     // default: 100
	MaxMemory     string `koanf:"max_memory"`     // e.g. "512MiB" (default)
	PreloadRadius int    `koanf:"preload_radius"` // default: 5
	KeepRadius    int    `koanf:"keep_radius"`    // frames around the cursor cleanup never evicts (default: 5)
	MaxDimension  int    `koanf:"max_dimension"`  // downscale larger frames, 0 disables
	Workers       int    `koanf:"workers"`        // 0 picks from the CPU count
	Strategy      string `koanf:"strategy"`       // "adaptive", "sequential", "preemptive", "on_demand"
}

// PlaybackConfig holds display pacing and playback settings.
type PlaybackConfig struct {
	FPS           float64 `koanf:"fps"`             // default: 15
	UseFileTiming *bool   `koanf:"use_file_timing"` // prefer frame timing stored in the file (default: true)
	Loop          *bool   `koanf:"loop"`            // wrap to the first frame (default: true)
	AutoPlay      string  `koanf:"auto_play"`       // "first_frame" (default), "all_loaded", "never"
}

// DecoderConfig holds frame decoder settings.
type DecoderConfig struct {
	MemoSize            int  `koanf:"memo_size"`        // default: 20
	BatchMaxFrames      int  `koanf:"batch_max_frames"` // default: 1000
	DisableAcceleration bool `koanf:"disable_acceleration"`
}

// LoaderConfig holds progressive loader settings.
type LoaderConfig struct {
	ThrottleAbove int    `koanf:"throttle_above"` // default: 200
	Throttle      string `koanf:"throttle"`       // default: "1ms"
	KeepRaw       bool   `koanf:"keep_raw"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `koanf:"level"` // "debug", "info", "warn", "error" (default: "info")
}

// MetricsConfig holds Prometheus settings.
type MetricsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Address string `koanf:"address"` // e.g. ":9090", empty disables the HTTP endpoint
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Cache: CacheConfig{
			MaxFrames:     100,
			MaxMemory:     "512MiB",
			PreloadRadius: 5,
			KeepRadius:    5,
			Strategy:      "adaptive",
		},
		Playback: PlaybackConfig{FPS: 15, AutoPlay: "first_frame"},
		Decoder: DecoderConfig{
			MemoSize:       20,
			BatchMaxFrames: 1000,
		},
		Loader: LoaderConfig{
			ThrottleAbove: 200,
			Throttle:      "1ms",
		},
		Log: LogConfig{Level: "info"},
	}
}

func Load() (*Config, error) {
	return load(getConfigPaths())
}

func load(paths []string) (*Config, error) {
	k := koanf.New(".")

	// Config files in order of priority (last wins)
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
				return nil, fmt.Errorf("read %s: %w", path, err)
			}
		}
	}

	// Environment overrides everything
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envKey maps DCMVIEW_CACHE__MAX_FRAMES to cache.max_frames.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

func getConfigPaths() []string {
	return []string{
		// 1. $XDG_CONFIG_HOME/dcmview/config.toml
		filepath.Join(xdg.ConfigHome, appName, "config.toml"),
		// 2. ./config.toml (pwd, highest priority)
		"config.toml",
	}
}

// MaxMemoryBytes parses cache.max_memory. Both SI ("500MB") and IEC
// ("512MiB") units are accepted.
func (c CacheConfig) MaxMemoryBytes() (int64, error) {
	if c.MaxMemory == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(c.MaxMemory)
	if err != nil {
		return 0, fmt.Errorf("cache.max_memory: %w", err)
	}
	if n > math.MaxInt64 {
		return 0, fmt.Errorf("cache.max_memory: %s is too large", c.MaxMemory)
	}
	return int64(n), nil
}

// ThrottleDuration parses loader.throttle.
func (c LoaderConfig) ThrottleDuration() (time.Duration, error) {
	if c.Throttle == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Throttle)
	if err != nil {
		return 0, fmt.Errorf("loader.throttle: %w", err)
	}
	if d < 0 {
		return 0, errors.New("loader.throttle: negative duration")
	}
	return d, nil
}

// FileTiming reports whether frame timing stored in files overrides FPS.
func (c PlaybackConfig) FileTiming() bool {
	return c.UseFileTiming == nil || *c.UseFileTiming
}

// LoopEnabled reports whether playback wraps at the last frame.
func (c PlaybackConfig) LoopEnabled() bool {
	return c.Loop == nil || *c.Loop
}

// SlogLevel returns the configured level, Info when unknown.
func (c LogConfig) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// HasMetricsEndpoint returns true if metrics should be served over HTTP.
func (c *Config) HasMetricsEndpoint() bool {
	return c.Metrics.Enabled && c.Metrics.Address != ""
}
