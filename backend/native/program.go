// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build !nogpu

package native

import (
	"fmt"
	"sync"

	"github.com/gogpu/framegraph"
	"github.com/gogpu/naga"
	"github.com/gogpu/wgpu/hal"
)

type program struct {
	dev    *Device
	name   string
	module hal.ShaderModule
	words  int
	once   sync.Once
}

func (p *program) Destroy() {
	p.once.Do(func() {
		p.dev.hal.DestroyShaderModule(p.module)
		p.dev.live.programs.Add(-1)
	})
}

// ShaderModule returns the HAL module of a framegraph program made by a
// native Device.
func ShaderModule(obj framegraph.ProgramObject) (hal.ShaderModule, bool) {
	p, ok := obj.(*program)
	if !ok {
		return nil, false
	}
	return p.module, true
}

// MakeProgram implements framegraph.Device. The WGSL source is compiled to
// SPIR-V before the module is created.
func (d *Device) MakeProgram(info framegraph.ProgramInfo) (framegraph.ProgramObject, error) {
	if err := d.checkOpen(); err != nil {
		return nil, err
	}
	code, err := compileWGSL(info.Source)
	if err != nil {
		return nil, fmt.Errorf("native: compile program %q: %w", info.Name, err)
	}
	module, err := d.hal.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  info.Name,
		Source: hal.ShaderSource{SPIRV: code},
	})
	if err != nil {
		return nil, fmt.Errorf("native: create shader module %q: %w", info.Name, err)
	}
	d.live.programs.Add(1)
	d.log.Debug("native: program compiled", "program", info.Name, "words", len(code))
	return &program{dev: d, name: info.Name, module: module, words: len(code)}, nil
}

// compileWGSL compiles WGSL to little-endian SPIR-V words.
func compileWGSL(source string) ([]uint32, error) {
	spirv, err := naga.Compile(source)
	if err != nil {
		return nil, err
	}
	if len(spirv)%4 != 0 {
		return nil, fmt.Errorf("spir-v size %d is not a multiple of 4", len(spirv))
	}
	code := make([]uint32, len(spirv)/4)
	for i := range code {
		code[i] = uint32(spirv[i*4]) |
			uint32(spirv[i*4+1])<<8 |
			uint32(spirv[i*4+2])<<16 |
			uint32(spirv[i*4+3])<<24
	}
	return code, nil
}
