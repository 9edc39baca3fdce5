// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Command fgdemo runs frames of a three-pass graph on the noop GPU device
// and prints loop, cache and emitter statistics.
//
// Usage:
//
//	fgdemo [-config framegraph.yaml] [-frames 120] [-trace timeline.png] [-v]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/gogpu/framegraph"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to a YAML config (defaults when empty)")
		frames     = flag.Int("frames", 120, "number of frames to complete")
		interval   = flag.Duration("interval", 0, "frame interval override (0 keeps the config value)")
		tracePath  = flag.String("trace", "", "write a PNG timeline of the first frames to this file")
		timeout    = flag.Duration("timeout", 30*time.Second, "give up after this long")
		verbose    = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	framegraph.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	cfg := framegraph.DefaultConfig()
	if *configPath != "" {
		var err error
		cfg, err = framegraph.LoadConfig(*configPath)
		if err != nil {
			die("load config: %v", err)
		}
	}
	if *interval > 0 {
		cfg.Emitter.FrameInterval = *interval
		if cfg.Emitter.SafetyOffset > *interval {
			cfg.Emitter.SafetyOffset = 0
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	rep, err := run(ctx, options{
		config:  cfg,
		frames:  *frames,
		trace:   *tracePath,
		timeout: *timeout,
	})
	if err != nil {
		die("%v", err)
	}
	fmt.Println(rep.render())
}

func die(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "fgdemo: "+format+"\n", args...)
	os.Exit(1)
}
