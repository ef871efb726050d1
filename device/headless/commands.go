// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package headless

import (
	"fmt"
	"sync/atomic"

	"github.com/devblok/koruframe/device"
)

type commandState int

const (
	stateInitial commandState = iota
	stateRecording
	stateExecutable
)

// execution is the state a command buffer builds up while executing.
type execution struct {
	framebuffer *Framebuffer
	viewport    device.Viewport
	scissor     device.Rect
	pipeline    *Pipeline
	vertex      []*Buffer
	uniforms    []*Buffer
}

// CommandBuffer records commands as closures that run on the queue.
type CommandBuffer struct {
	dev     *Device
	pool    *CommandPool
	state   commandState
	pending atomic.Int32
	err     error

	inRenderPass bool
	bound        *Pipeline
	commands     []func(*execution)
}

// Reset implements interface
func (c *CommandBuffer) Reset() error {
	if c.pending.Load() > 0 {
		return fmt.Errorf("headless.Reset(): command buffer is pending execution: %w", device.ErrInvalidUsage)
	}
	c.state = stateInitial
	c.err = nil
	c.inRenderPass = false
	c.bound = nil
	c.commands = c.commands[:0]
	return nil
}

// Begin implements interface
func (c *CommandBuffer) Begin() error {
	if c.state != stateInitial {
		return fmt.Errorf("headless.Begin(): command buffer was not reset: %w", device.ErrInvalidUsage)
	}
	c.state = stateRecording
	return nil
}

// End implements interface
func (c *CommandBuffer) End() error {
	if c.state != stateRecording {
		return fmt.Errorf("headless.End(): command buffer is not recording: %w", device.ErrInvalidUsage)
	}
	if c.inRenderPass && c.err == nil {
		c.err = fmt.Errorf("headless.End(): render pass left open: %w", device.ErrInvalidUsage)
	}
	if c.err != nil {
		return c.err
	}
	c.state = stateExecutable
	return nil
}

func (c *CommandBuffer) record(name string, insideRenderPass bool, fn func(*execution)) {
	if c.err != nil {
		return
	}
	if c.state != stateRecording {
		c.err = fmt.Errorf("headless.%s(): command buffer is not recording: %w", name, device.ErrInvalidUsage)
		return
	}
	if c.inRenderPass != insideRenderPass {
		c.err = fmt.Errorf("headless.%s(): render pass state mismatch: %w", name, device.ErrInvalidUsage)
		return
	}
	c.commands = append(c.commands, fn)
}

// CopyBuffer implements interface
func (c *CommandBuffer) CopyBuffer(src, dst device.Buffer, size int) {
	s, d := src.(*Buffer), dst.(*Buffer)
	if size > s.Size() || size > d.Size() {
		if c.err == nil {
			c.err = fmt.Errorf("headless.CopyBuffer(): %d bytes out of range: %w", size, device.ErrInvalidUsage)
		}
		return
	}
	c.record("CopyBuffer", false, func(*execution) {
		n := s.copyTo(d, size)
		c.dev.count(func(st *Stats) {
			st.BufferCopies++
			st.BytesCopied += n
		})
	})
}

// BeginRenderPass implements interface
func (c *CommandBuffer) BeginRenderPass(pass device.RenderPass, framebuffer device.Framebuffer, clear device.ClearValues) {
	fb := framebuffer.(*Framebuffer)
	c.record("BeginRenderPass", false, func(x *execution) {
		x.framebuffer = fb
		fb.color.clear(clear.Color)
	})
	c.inRenderPass = true
}

// EndRenderPass implements interface
func (c *CommandBuffer) EndRenderPass() {
	c.record("EndRenderPass", true, func(x *execution) {
		x.framebuffer = nil
	})
	c.inRenderPass = false
}

// SetViewport implements interface
func (c *CommandBuffer) SetViewport(viewport device.Viewport) {
	c.record("SetViewport", c.inRenderPass, func(x *execution) {
		x.viewport = viewport
	})
}

// SetScissor implements interface
func (c *CommandBuffer) SetScissor(scissor device.Rect) {
	c.record("SetScissor", c.inRenderPass, func(x *execution) {
		x.scissor = scissor
	})
}

// BindPipeline implements interface
func (c *CommandBuffer) BindPipeline(pipeline device.Pipeline) {
	p := pipeline.(*Pipeline)
	c.record("BindPipeline", c.inRenderPass, func(x *execution) {
		x.pipeline = p
	})
	c.bound = p
}

// BindVertexBuffers implements interface
func (c *CommandBuffer) BindVertexBuffers(first int, buffers ...device.Buffer) {
	bound := make([]*Buffer, len(buffers))
	for i, b := range buffers {
		bound[i] = b.(*Buffer)
	}
	c.record("BindVertexBuffers", c.inRenderPass, func(x *execution) {
		for len(x.vertex) < first+len(bound) {
			x.vertex = append(x.vertex, nil)
		}
		copy(x.vertex[first:], bound)
	})
}

// BindUniformBuffers implements interface. The buffers must match the
// uniform bindings of the bound pipeline one to one.
func (c *CommandBuffer) BindUniformBuffers(buffers ...device.Buffer) {
	if c.err == nil {
		switch {
		case c.bound == nil:
			c.err = fmt.Errorf("headless.BindUniformBuffers(): no pipeline bound: %w", device.ErrInvalidUsage)
		case len(c.bound.desc.Uniforms) != len(buffers):
			c.err = fmt.Errorf("headless.BindUniformBuffers(): pipeline %s takes %d uniform buffers, got %d: %w",
				c.bound.desc.Name, len(c.bound.desc.Uniforms), len(buffers), device.ErrInvalidUsage)
		}
	}
	bound := make([]*Buffer, len(buffers))
	for i, b := range buffers {
		bound[i] = b.(*Buffer)
	}
	c.record("BindUniformBuffers", c.inRenderPass, func(x *execution) {
		x.uniforms = bound
	})
}

// Draw implements interface
func (c *CommandBuffer) Draw(vertexCount, instanceCount, firstVertex, firstInstance int) {
	c.record("Draw", true, func(x *execution) {
		c.dev.count(func(st *Stats) { st.Draws++ })
		if x.pipeline == nil {
			c.dev.log.Error("headless: draw without a bound pipeline")
			return
		}
		if x.pipeline.raster == nil {
			return
		}

		call := DrawCall{
			Pipeline:      x.pipeline.desc,
			Viewport:      x.viewport,
			Scissor:       x.scissor,
			VertexCount:   vertexCount,
			InstanceCount: instanceCount,
			FirstVertex:   firstVertex,
			FirstInstance: firstInstance,
		}
		for _, b := range x.vertex {
			if b != nil {
				call.Vertex = append(call.Vertex, b.Bytes())
			} else {
				call.Vertex = append(call.Vertex, nil)
			}
		}
		for _, b := range x.uniforms {
			call.Uniforms = append(call.Uniforms, b.Bytes())
		}

		target := x.framebuffer.color
		target.mutex.Lock()
		call.Target = target.pix
		x.pipeline.raster(call)
		target.mutex.Unlock()
	})
}

// BlitToPresent implements interface
func (c *CommandBuffer) BlitToPresent(src, dst device.Image) {
	s, d := src.(*Image), dst.(*Image)
	c.record("BlitToPresent", false, func(*execution) {
		s.blitTo(d)
	})
}

func (c *CommandBuffer) execute() {
	var x execution
	for _, cmd := range c.commands {
		cmd(&x)
	}
}
