// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package framegraph

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestParseConfig_Defaults(t *testing.T) {
	cfg, err := ParseConfig(nil)
	if err != nil {
		t.Fatalf("ParseConfig(nil) error = %v", err)
	}
	if !reflect.DeepEqual(cfg, DefaultConfig()) {
		t.Errorf("ParseConfig(nil) = %+v, want defaults", cfg)
	}

	documented, err := ParseConfig([]byte(DefaultConfigYAML))
	if err != nil {
		t.Fatalf("ParseConfig(DefaultConfigYAML) error = %v", err)
	}
	if !reflect.DeepEqual(documented, DefaultConfig()) {
		t.Errorf("DefaultConfigYAML = %+v, want %+v", documented, DefaultConfig())
	}
}

func TestParseConfig_Overrides(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
loop:
  workers: 3
  fence_stall_timeout: 250ms
emitter:
  frame_interval: 8ms
  barrier: false
  on_demand: true
  width: 640
  height: 480
`))
	if err != nil {
		t.Fatalf("ParseConfig() error = %v", err)
	}
	if cfg.Loop.Workers != 3 {
		t.Errorf("Workers = %d, want 3", cfg.Loop.Workers)
	}
	if cfg.Loop.FencePollInterval != time.Millisecond {
		t.Errorf("FencePollInterval = %v, want default 1ms", cfg.Loop.FencePollInterval)
	}
	if cfg.Loop.FenceStallTimeout != 250*time.Millisecond {
		t.Errorf("FenceStallTimeout = %v, want 250ms", cfg.Loop.FenceStallTimeout)
	}
	if cfg.Emitter.FrameInterval != 8*time.Millisecond {
		t.Errorf("FrameInterval = %v, want 8ms", cfg.Emitter.FrameInterval)
	}
	if cfg.Emitter.Barrier == nil || *cfg.Emitter.Barrier {
		t.Error("Barrier not overridden to false")
	}
	if !cfg.Emitter.OnDemand || cfg.Emitter.Width != 640 || cfg.Emitter.Height != 480 {
		t.Errorf("Emitter = %+v", cfg.Emitter)
	}
}

func TestParseConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"negative poll", "loop:\n  fence_poll_interval: -1ms\n", "negative fence"},
		{"negative interval", "emitter:\n  frame_interval: -1s\n", "negative emitter"},
		{"offset above interval", "emitter:\n  frame_interval: 1ms\n  safety_offset: 2ms\n", "safety offset"},
		{"half extent", "emitter:\n  width: 100\n", "both sides"},
		{"bad duration", "loop:\n  fence_stall_timeout: soon\n", ""},
		{"bad yaml", "loop: [\n", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.yaml))
			if err == nil {
				t.Fatal("ParseConfig() error = nil")
			}
			if tt.want != "" && !strings.Contains(err.Error(), tt.want) {
				t.Errorf("ParseConfig() error = %v, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "framegraph.yaml")
	if err := os.WriteFile(path, []byte("loop:\n  workers: 5\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Loop.Workers != 5 {
		t.Errorf("Workers = %d, want 5", cfg.Loop.Workers)
	}

	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("LoadConfig() of a missing file succeeded")
	}
}

func TestConfig_Options(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Loop.Workers = 2
	cfg.Loop.FenceStallTimeout = 3 * time.Second
	cfg.Emitter.OnDemand = true
	cfg.Emitter.Width, cfg.Emitter.Height = 320, 200
	off := false
	cfg.Emitter.Barrier = &off

	lo := defaultLoopOptions()
	for _, opt := range cfg.LoopOptions() {
		opt(&lo)
	}
	if lo.workers != 2 || lo.fenceStallTimeout != 3*time.Second || lo.fencePollInterval != time.Millisecond {
		t.Errorf("loop options = %+v", lo)
	}

	eo := defaultEmitterOptions()
	for _, opt := range cfg.EmitterOptions() {
		opt(&eo)
	}
	if !eo.onDemand || eo.barrier {
		t.Errorf("onDemand = %v, barrier = %v, want true and false", eo.onDemand, eo.barrier)
	}
	if eo.extent.Width != 320 || eo.extent.Height != 200 || eo.extent.DepthOrArrayLayers != 1 {
		t.Errorf("extent = %+v, want 320x200x1", eo.extent)
	}
	if eo.frameInterval != time.Second/60 {
		t.Errorf("frameInterval = %v, want %v", eo.frameInterval, time.Second/60)
	}
}
