// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package shaders holds the SPIR-V modules the scenes draw with.
// The compiled modules are packed into the binary by packr.
//
// Only the GLSL sources are checked in. Run go generate in this directory
// (it needs glslangValidator on the PATH) before building a windowed koru,
// or point KORU_SHADER_ARCHIVE at a kar archive of compiled modules.
// Until then Find fails for every module and the Vulkan device can not
// create pipelines. The headless device does not load shaders.
package shaders

//go:generate glslangValidator -V sprite.vert -o spv/sprite.vert.spv
//go:generate glslangValidator -V sprite.frag -o spv/sprite.frag.spv

import (
	"fmt"

	"github.com/gobuffalo/packr"
)

// Box is the box of compiled shader modules.
var Box = packr.NewBox("./spv")

// Find returns a compiled shader module by its file name.
func Find(name string) ([]byte, error) {
	data, err := Box.Find(name)
	if err != nil {
		return nil, fmt.Errorf("shader %s: %w", name, err)
	}
	return data, nil
}

// Names lists the modules in the box.
func Names() []string {
	return Box.List()
}
