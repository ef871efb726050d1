// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package scene

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/devblok/koruframe/core"
	"github.com/devblok/koruframe/device"
)

// Sprite is one instanced quad, centered on Position and Size units
// from center to edge. Its memory layout is the sprite shader input.
type Sprite struct {
	Position mgl32.Vec3
	Size     float32
	Color    mgl32.Vec4
}

// Globals is the uniform block every sprite of a draw shares.
type Globals struct {
	Transform mgl32.Mat4
}

// Sprite pipeline names, the headless device looks rasterizers up by them.
const (
	SpriteAlpha    = "sprite.alpha"
	SpriteAdditive = "sprite.additive"
)

// Sprite shader module names
const (
	SpriteVertexShader   = "sprite.vert.spv"
	SpriteFragmentShader = "sprite.frag.spv"
)

// SpritePipeline describes the instanced sprite pipeline.
func SpritePipeline(name string, blend device.BlendMode) device.PipelineDesc {
	return device.PipelineDesc{
		Name:           name,
		VertexShader:   SpriteVertexShader,
		FragmentShader: SpriteFragmentShader,
		Bindings: []device.VertexBinding{
			{Stride: core.SizeOf[Sprite](), PerInstance: true},
		},
		Attributes: []device.VertexAttribute{
			{Location: 0, Format: device.VertexFloat3, Offset: 0},
			{Location: 1, Format: device.VertexFloat, Offset: 12},
			{Location: 2, Format: device.VertexFloat4, Offset: 16},
		},
		Uniforms: []device.UniformBinding{
			{Binding: 0, Size: core.SizeOf[Globals](), Stages: device.ShaderStageVertex},
		},
		Topology: device.TopologyTriangleList,
		Blend:    blend,
	}
}

// Camera builds the globals transform for an aspect ratio, width over height.
type Camera func(aspect float32) mgl32.Mat4

// FlatCamera keeps a square of [-1, 1] at the center of any surface.
func FlatCamera(aspect float32) mgl32.Mat4 {
	return mgl32.Scale3D(1/aspect, 1, 1)
}

// spriteBatch is a pipeline with its sprite instances and globals.
// Scenes rewrite the sprites every update, the globals only when
// the surface aspect ratio changes.
type spriteBatch struct {
	pipeline device.Pipeline
	sprites  *core.DynamicBuffer[Sprite]
	globals  *core.DynamicBuffer[Globals]
	camera   Camera
	aspect   float32
	count    int
}

func newSpriteBatch(e *core.Engine, name string, blend device.BlendMode, capacity int, camera Camera) (*spriteBatch, error) {
	b := &spriteBatch{camera: camera}
	var err error
	if b.pipeline, err = e.Device().CreatePipeline(e.RenderPass(), SpritePipeline(name, blend)); err != nil {
		return nil, err
	}
	if b.sprites, err = core.NewDynamicBuffer[Sprite](e, capacity, device.BufferUsageVertex); err != nil {
		b.destroy()
		return nil, err
	}
	if b.globals, err = core.NewDynamicBuffer[Globals](e, 1, device.BufferUsageUniform); err != nil {
		b.destroy()
		return nil, err
	}
	return b, nil
}

// write stages the sprites drawn from the next frame on, dropping
// whatever doesn't fit.
func (b *spriteBatch) write(sprites []Sprite) error {
	if len(sprites) == 0 && b.count == 0 {
		return nil
	}
	n, err := b.sprites.Fill(sprites)
	if err != nil {
		return err
	}
	b.count = n
	return nil
}

// refresh rewrites the globals if the render targets changed aspect.
func (b *spriteBatch) refresh(extent device.Extent) error {
	if extent.Empty() {
		return nil
	}
	aspect := extent.Aspect()
	if aspect == b.aspect {
		return nil
	}
	if err := b.globals.Set(0, Globals{Transform: b.camera(aspect)}); err != nil {
		return err
	}
	b.aspect = aspect
	return nil
}

func (b *spriteBatch) draw(e *core.Engine, cmd device.CommandBuffer) error {
	if err := b.refresh(e.Extent()); err != nil {
		return err
	}
	if b.count == 0 {
		return nil
	}
	cmd.BindPipeline(b.pipeline)
	cmd.BindUniformBuffers(b.globals.Current())
	cmd.BindVertexBuffers(0, b.sprites.Current())
	cmd.Draw(6, b.count, 0, 0)
	return nil
}

func (b *spriteBatch) destroy() {
	if b.globals != nil {
		b.globals.Destroy()
	}
	if b.sprites != nil {
		b.sprites.Destroy()
	}
	if b.pipeline != nil {
		b.pipeline.Destroy()
	}
}
