package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/llehouerou/dcmview/internal/app"
	"github.com/llehouerou/dcmview/internal/config"
	"github.com/llehouerou/dcmview/internal/errmsg"
	"github.com/llehouerou/dcmview/internal/logging"
)

func main() {
	fps := flag.Float64("fps", 0, "Playback rate, overrides playback.fps")
	metricsAddr := flag.String("metrics", "", "Serve Prometheus metrics on this address")
	verbose := flag.Bool("v", false, "Log every frame")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] FILE...\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	if err := run(*fps, *metricsAddr, *verbose, flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(fps float64, metricsAddr string, verbose bool, paths []string) error {
	cfg, err := config.Load()
	if err != nil {
		return errors.New(errmsg.Format(errmsg.OpConfigLoad, err))
	}
	if fps > 0 {
		cfg.Playback.FPS = fps
		f := false
		cfg.Playback.UseFileTiming = &f
	}
	if metricsAddr != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Address = metricsAddr
	}

	level := cfg.Log.SlogLevel()
	if verbose {
		level = slog.LevelDebug
	}
	log := logging.Setup(os.Stderr, level)

	a, err := app.New(cfg, log)
	if err != nil {
		return errors.New(errmsg.Format(errmsg.OpInitialize, err))
	}
	defer a.Close()

	if cfg.HasMetricsEndpoint() {
		if _, err := a.ServeMetrics(cfg.Metrics.Address); err != nil {
			return errors.New(errmsg.Format(errmsg.OpMetricsServe, err))
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for _, path := range paths {
		if err := a.Play(ctx, path); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Error(errmsg.FormatWith(errmsg.OpPlaybackStart, path, err))
		}
	}
	return nil
}
