// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package scene

import (
	"image"
	"image/color"
	"math"

	"github.com/go-gl/mathgl/mgl32"
	"golang.org/x/image/draw"

	"github.com/devblok/koruframe/core"
	"github.com/devblok/koruframe/device"
	"github.com/devblok/koruframe/device/headless"
)

// SoftwareRasterizers returns the sprite pipelines for the headless
// device, keyed by pipeline name. Sprites are drawn as screen aligned
// rectangles with flat color.
func SoftwareRasterizers() map[string]headless.RasterFunc {
	return map[string]headless.RasterFunc{
		SpriteAlpha:    rasterSprites,
		SpriteAdditive: rasterSprites,
	}
}

// SpriteBounds returns the pixel rectangle a sprite covers, the way the
// sprite vertex shader places its corners. ok is false for sprites
// behind the camera.
func SpriteBounds(s Sprite, transform mgl32.Mat4, viewport device.Viewport) (r image.Rectangle, ok bool) {
	var lo, hi mgl32.Vec2
	for i, corner := range []mgl32.Vec3{{-s.Size, -s.Size, 0}, {s.Size, s.Size, 0}} {
		clip := transform.Mul4x1(s.Position.Add(corner).Vec4(1))
		if clip.W() <= 0 {
			return image.Rectangle{}, false
		}
		ndc := mgl32.Vec2{clip.X() / clip.W(), clip.Y() / clip.W()}
		pixel := mgl32.Vec2{
			viewport.X + (ndc.X()+1)/2*viewport.Width,
			viewport.Y + (ndc.Y()+1)/2*viewport.Height,
		}
		if i == 0 {
			lo = pixel
		} else {
			hi = pixel
		}
	}
	r = image.Rect(
		int(math.Round(float64(lo.X()))), int(math.Round(float64(lo.Y()))),
		int(math.Round(float64(hi.X()))), int(math.Round(float64(hi.Y()))),
	)
	return r, true
}

func rasterSprites(call headless.DrawCall) {
	if len(call.Vertex) == 0 || call.Target == nil {
		return
	}
	transform := mgl32.Ident4()
	if len(call.Uniforms) > 0 {
		if globals := core.FromBytes[Globals](call.Uniforms[0]); len(globals) > 0 {
			transform = globals[0].Transform
		}
	}
	sprites := core.FromBytes[Sprite](call.Vertex[0])

	clip := call.Target.Rect
	if !call.Scissor.Extent.Empty() {
		x, y := int(call.Scissor.X), int(call.Scissor.Y)
		clip = clip.Intersect(image.Rect(x, y, x+int(call.Scissor.Extent.Width), y+int(call.Scissor.Extent.Height)))
	}

	for i := call.FirstInstance; i < call.FirstInstance+call.InstanceCount && i < len(sprites); i++ {
		s := sprites[i]
		r, ok := SpriteBounds(s, transform, call.Viewport)
		if !ok {
			continue
		}
		r = r.Intersect(clip)
		if r.Empty() {
			continue
		}
		fill := premultiply(s.Color)
		switch call.Pipeline.Blend {
		case device.BlendAdditive:
			addRect(call.Target, r, fill)
		case device.BlendAlpha:
			draw.Draw(call.Target, r, image.NewUniform(fill), image.Point{}, draw.Over)
		default:
			draw.Draw(call.Target, r, image.NewUniform(fill), image.Point{}, draw.Src)
		}
	}
}

func premultiply(c mgl32.Vec4) color.RGBA {
	a := mgl32.Clamp(c.W(), 0, 1)
	unorm := func(v float32) uint8 {
		return uint8(mgl32.Clamp(v, 0, 1)*255 + 0.5)
	}
	return color.RGBA{R: unorm(c.X() * a), G: unorm(c.Y() * a), B: unorm(c.Z() * a), A: unorm(a)}
}

// addRect adds c to every pixel of r, saturating.
func addRect(dst *image.RGBA, r image.Rectangle, c color.RGBA) {
	add := [4]uint8{c.R, c.G, c.B, c.A}
	for y := r.Min.Y; y < r.Max.Y; y++ {
		row := dst.Pix[dst.PixOffset(r.Min.X, y):dst.PixOffset(r.Max.X, y)]
		for x := 0; x < len(row); x += 4 {
			for k := 0; k < 4; k++ {
				row[x+k] = uint8(min(int(row[x+k])+int(add[k]), 255))
			}
		}
	}
}
