// Package app builds the viewer pipeline from the configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/llehouerou/dcmview/internal/config"
	"github.com/llehouerou/dcmview/internal/dicom"
	"github.com/llehouerou/dcmview/internal/errmsg"
	"github.com/llehouerou/dcmview/internal/framecache"
	"github.com/llehouerou/dcmview/internal/metrics"
	"github.com/llehouerou/dcmview/internal/playback"
	"github.com/llehouerou/dcmview/internal/viewer"
)

const shutdownTimeout = 5 * time.Second

// App owns the viewer and the optional metrics endpoint.
type App struct {
	Viewer   *viewer.Viewer
	Registry *prometheus.Registry

	log    *slog.Logger
	server *http.Server
}

// New builds the viewer described by cfg. Metrics are registered on a fresh
// registry when enabled.
func New(cfg *config.Config, log *slog.Logger) (*App, error) {
	opts, err := ViewerOptions(cfg, log)
	if err != nil {
		return nil, err
	}

	a := &App{log: log}
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		m, err := metrics.New(reg)
		if err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
		opts.Decoder.Metrics = m
		opts.Cache.Metrics = m
		opts.LoaderMetrics = m
		a.Registry = reg
	}

	a.Viewer = viewer.New(opts)
	return a, nil
}

// ViewerOptions maps the configuration onto the pipeline options.
func ViewerOptions(cfg *config.Config, log *slog.Logger) (viewer.Options, error) {
	maxMemory, err := cfg.Cache.MaxMemoryBytes()
	if err != nil {
		return viewer.Options{}, err
	}
	strategy, err := framecache.ParseStrategy(cfg.Cache.Strategy)
	if err != nil {
		return viewer.Options{}, fmt.Errorf("cache.strategy: %w", err)
	}
	throttle, err := cfg.Loader.ThrottleDuration()
	if err != nil {
		return viewer.Options{}, err
	}
	autoPlay, err := playback.ParseAutoPlay(cfg.Playback.AutoPlay)
	if err != nil {
		return viewer.Options{}, fmt.Errorf("playback.auto_play: %w", err)
	}

	return viewer.Options{
		Decoder: dicom.Options{
			MemoSize:            cfg.Decoder.MemoSize,
			BatchMaxFrames:      cfg.Decoder.BatchMaxFrames,
			DisableAcceleration: cfg.Decoder.DisableAcceleration,
			Logger:              log,
		},
		Cache: framecache.Options{
			MaxFrames:     cfg.Cache.MaxFrames,
			MaxMemory:     maxMemory,
			PreloadRadius: cfg.Cache.PreloadRadius,
			KeepRadius:    cfg.Cache.KeepRadius,
			MaxDimension:  cfg.Cache.MaxDimension,
			Workers:       cfg.Cache.Workers,
			Strategy:      strategy,
			Logger:        log,
		},
		FPS:           cfg.Playback.FPS,
		UseFileTiming: cfg.Playback.FileTiming(),
		Playback: playback.Options{
			FPS:      cfg.Playback.FPS,
			Loop:     cfg.Playback.LoopEnabled(),
			AutoPlay: autoPlay,
			Logger:   log,
		},
		ThrottleAbove: cfg.Loader.ThrottleAbove,
		Throttle:      throttle,
		KeepRaw:       cfg.Loader.KeepRaw,
		Logger:        log,
	}, nil
}

// ServeMetrics starts the /metrics endpoint on addr. It returns the bound
// address, useful when addr asks for a random port.
func (a *App) ServeMetrics(addr string) (string, error) {
	if a.Registry == nil {
		return "", errors.New("metrics are disabled")
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{}))
	a.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error(errmsg.Format(errmsg.OpMetricsServe, err))
		}
	}()
	a.log.Info("metrics endpoint listening", "address", ln.Addr().String())
	return ln.Addr().String(), nil
}

// Play opens path and waits until every frame was shown once.
func (a *App) Play(ctx context.Context, path string) error {
	sub := a.Viewer.Subscribe()
	s, err := a.Viewer.Open(ctx, path)
	if err != nil {
		return err
	}

	start := time.Now()
	shown := 0
	for shown < s.TotalFrames {
		select {
		case e := <-sub.Shown:
			if e.Session != s.ID {
				continue
			}
			shown++
			a.log.Debug("frame shown", "frame", e.Index)
			if shown == 1 {
				// No-op unless auto play is off or waits for the whole file.
				a.Viewer.Playback().Play()
			}
		case e := <-sub.Progress:
			a.log.Debug("frame loaded", "current", e.Current, "total", e.Total)
		case e := <-sub.Loaded:
			a.log.Info("all frames loaded", "frames", e.TotalFrames, "elapsed", time.Since(start).Round(time.Millisecond))
		case e := <-sub.Error:
			if e.Session == s.ID {
				a.log.Error(e.Message)
				return e.Err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	st := a.Viewer.Stats()
	a.log.Info("playback finished",
		"path", path,
		"frames", shown,
		"elapsed", time.Since(start).Round(time.Millisecond),
		"cached", st.Frames,
		"memory", humanize.IBytes(uint64(st.MemoryBytes)), //nolint:gosec // never negative
		"hit_ratio", fmt.Sprintf("%.2f", st.HitRatio),
	)
	return nil
}

// Close stops the viewer and the metrics endpoint.
func (a *App) Close() error {
	var errs []error
	if a.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		errs = append(errs, a.server.Shutdown(ctx))
	}
	errs = append(errs, a.Viewer.Close())
	return errors.Join(errs...)
}
