// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package headless

import (
	"image"

	"github.com/devblok/koruframe/device"
)

// DrawCall is everything a software rasterizer gets to see of a draw.
// Vertex and Uniforms hold copies of the bound buffers in binding order.
type DrawCall struct {
	Pipeline device.PipelineDesc
	Target   *image.RGBA
	Viewport device.Viewport
	Scissor  device.Rect

	Vertex   [][]byte
	Uniforms [][]byte

	VertexCount   int
	InstanceCount int
	FirstVertex   int
	FirstInstance int
}

// RasterFunc executes a draw call on the CPU, writing into call.Target.
type RasterFunc func(call DrawCall)
