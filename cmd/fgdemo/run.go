// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gogpu/framegraph"
	"github.com/gogpu/framegraph/backend/native"
	"github.com/gogpu/framegraph/internal/trace"
)

const (
	defaultWidth  = 1280
	defaultHeight = 720

	// traceLimit bounds the recorded events. Each frame of the demo graph
	// produces a few dozen.
	traceLimit = 4096
)

var errTimeout = errors.New("frames did not complete in time")

type options struct {
	config  framegraph.Config
	frames  int
	trace   string
	timeout time.Duration
}

// run drives a loop and an emitter until opts.frames frames completed, then
// shuts both down and reports.
func run(ctx context.Context, opts options) (*report, error) {
	if opts.frames <= 0 {
		return nil, fmt.Errorf("frames must be positive, got %d", opts.frames)
	}
	if opts.timeout <= 0 {
		opts.timeout = 30 * time.Second
	}
	cfg := opts.config
	if cfg.Emitter.Width == 0 && cfg.Emitter.Height == 0 {
		cfg.Emitter.Width, cfg.Emitter.Height = defaultWidth, defaultHeight
	}

	dev, err := native.NewNoop()
	if err != nil {
		return nil, err
	}
	defer dev.Close()

	loopOpts := cfg.LoopOptions()
	var rec *trace.Recorder
	if opts.trace != "" {
		rec = trace.NewRecorder(traceLimit)
		loopOpts = append(loopOpts, framegraph.WithStateObserver(rec.Observe))
	}
	loop, err := framegraph.NewLoop(dev, loopOpts...)
	if err != nil {
		return nil, err
	}

	var recorded atomic.Int64
	q, err := demoGraph(&recorded)
	if err != nil {
		loop.Shutdown()
		return nil, err
	}
	if err := loop.CompileQueue(q); err != nil {
		loop.Shutdown()
		return nil, err
	}

	// frame callbacks run on the loop goroutine
	done := make(chan struct{})
	completed := 0
	var emitter *framegraph.FrameEmitter
	onFrame := func(f *framegraph.FrameHandle) {
		if f.IsSuccessful() {
			completed++
		}
		switch {
		case f.IsSuccessful() && completed == opts.frames:
			close(done)
		case completed < opts.frames && cfg.Emitter.OnDemand:
			emitter.RequestFrame()
		}
	}
	emitter = framegraph.NewFrameEmitter(loop, q, append(cfg.EmitterOptions(), framegraph.WithFrameCallback(onFrame))...)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	start := time.Now()
	g.Go(func() error {
		if err := loop.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		defer cancel()
		emitter.Start()
		select {
		case <-done:
		case <-gctx.Done():
			return gctx.Err()
		case <-time.After(opts.timeout):
			return errTimeout
		}
		emitter.Invalidate()
		return waitIdle(gctx, loop, opts.timeout)
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	elapsed := time.Since(start)

	if rec != nil {
		if err := writeTrace(opts.trace, rec); err != nil {
			return nil, err
		}
	}

	return &report{
		frames:   opts.frames,
		elapsed:  elapsed,
		recorded: recorded.Load(),
		emitter:  emitter.Stats(),
		loop:     loop.Stats(),
		device:   dev.Stats(),
		trace:    opts.trace,
	}, nil
}

// waitIdle polls until the loop has no frames left.
func waitIdle(ctx context.Context, loop *framegraph.Loop, timeout time.Duration) error {
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	deadline := time.After(timeout)
	for loop.ActiveFrames() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return errTimeout
		case <-ticker.C:
		}
	}
	return nil
}

func writeTrace(path string, rec *trace.Recorder) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create trace: %w", err)
	}
	if err := trace.WritePNG(f, trace.Build(rec.Events()), trace.Options{Attachments: true}); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
