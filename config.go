// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package framegraph

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigYAML documents every configuration key with its default.
const DefaultConfigYAML = `# framegraph configuration
loop:
  workers: 0              # 0 uses GOMAXPROCS
  fence_poll_interval: 1ms
  fence_stall_timeout: 1s
emitter:
  frame_interval: 16.666666ms # 60 fps; 0s disables timeout pacing
  safety_offset: 500us
  on_demand: false
  barrier: true
  width: 0                # 0 keeps declared attachment extents
  height: 0
`

// LoopConfig is the YAML form of the LoopOption set.
type LoopConfig struct {
	Workers           int           `yaml:"workers"`
	FencePollInterval time.Duration `yaml:"fence_poll_interval"`
	FenceStallTimeout time.Duration `yaml:"fence_stall_timeout"`
}

// EmitterConfig is the YAML form of the EmitterOption set.
type EmitterConfig struct {
	FrameInterval time.Duration `yaml:"frame_interval"`
	SafetyOffset  time.Duration `yaml:"safety_offset"`
	OnDemand      bool          `yaml:"on_demand"`
	Barrier       *bool         `yaml:"barrier,omitempty"`
	Width         uint32        `yaml:"width"`
	Height        uint32        `yaml:"height"`
}

// Config is the file-level configuration of a Loop and its FrameEmitter.
type Config struct {
	Loop    LoopConfig    `yaml:"loop"`
	Emitter EmitterConfig `yaml:"emitter"`
}

// DefaultConfig returns the configuration matching the option defaults.
func DefaultConfig() Config {
	lo := defaultLoopOptions()
	eo := defaultEmitterOptions()
	barrier := eo.barrier
	return Config{
		Loop: LoopConfig{
			Workers:           lo.workers,
			FencePollInterval: lo.fencePollInterval,
			FenceStallTimeout: lo.fenceStallTimeout,
		},
		Emitter: EmitterConfig{
			FrameInterval: eo.frameInterval,
			SafetyOffset:  eo.safetyOffset,
			Barrier:       &barrier,
		},
	}
}

// LoadConfig reads a YAML configuration file. Keys missing from the file keep
// their defaults.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("framegraph: read config %s: %w", path, err)
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return Config{}, fmt.Errorf("framegraph: parse config %s: %w", path, err)
	}
	return cfg, nil
}

// ParseConfig decodes YAML configuration data on top of DefaultConfig.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Loop.FencePollInterval < 0 || c.Loop.FenceStallTimeout < 0 {
		return fmt.Errorf("framegraph: negative fence duration")
	}
	if c.Emitter.FrameInterval < 0 || c.Emitter.SafetyOffset < 0 {
		return fmt.Errorf("framegraph: negative emitter duration")
	}
	if c.Emitter.FrameInterval > 0 && c.Emitter.SafetyOffset >= c.Emitter.FrameInterval {
		return fmt.Errorf("framegraph: safety offset %v must be below frame interval %v",
			c.Emitter.SafetyOffset, c.Emitter.FrameInterval)
	}
	if (c.Emitter.Width == 0) != (c.Emitter.Height == 0) {
		return fmt.Errorf("framegraph: emitter extent %dx%d must set both sides",
			c.Emitter.Width, c.Emitter.Height)
	}
	return nil
}

// LoopOptions converts the loop section into options for NewLoop.
func (c Config) LoopOptions() []LoopOption {
	return []LoopOption{
		WithWorkers(c.Loop.Workers),
		WithFencePollInterval(c.Loop.FencePollInterval),
		WithFenceStallTimeout(c.Loop.FenceStallTimeout),
	}
}

// EmitterOptions converts the emitter section into options for
// NewFrameEmitter.
func (c Config) EmitterOptions() []EmitterOption {
	opts := []EmitterOption{
		WithFrameInterval(c.Emitter.FrameInterval),
		WithSafetyOffset(c.Emitter.SafetyOffset),
		WithOnDemand(c.Emitter.OnDemand),
	}
	if c.Emitter.Barrier != nil {
		opts = append(opts, WithBarrier(*c.Emitter.Barrier))
	}
	if c.Emitter.Width > 0 && c.Emitter.Height > 0 {
		opts = append(opts, WithExtent(c.Emitter.Width, c.Emitter.Height))
	}
	return opts
}
