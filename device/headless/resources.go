// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package headless

import (
	"image"
	"image/color"
	"sync"

	"github.com/devblok/koruframe/device"
	"golang.org/x/image/draw"
)

// Buffer is a linear allocation in host memory. Device local buffers
// refuse to be mapped, like on a discrete GPU.
type Buffer struct {
	dev       *Device
	usage     device.BufferUsage
	memory    device.MemoryKind
	destroyed bool

	mutex  sync.Mutex
	data   []byte
	mapped bool
}

// Size implements interface
func (b *Buffer) Size() int {
	return len(b.data)
}

// Usage implements interface
func (b *Buffer) Usage() device.BufferUsage {
	return b.usage
}

// Map implements interface
func (b *Buffer) Map() ([]byte, error) {
	if b.memory != device.MemoryHostVisible {
		return nil, device.ErrNotMappable
	}
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.mapped = true
	return b.data, nil
}

// Unmap implements interface
func (b *Buffer) Unmap() {
	b.mutex.Lock()
	b.mapped = false
	b.mutex.Unlock()
}

// Mapped reports whether the buffer is mapped.
func (b *Buffer) Mapped() bool {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.mapped
}

// Bytes returns a copy of the buffer contents, as the GPU sees them.
func (b *Buffer) Bytes() []byte {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return append([]byte(nil), b.data...)
}

func (b *Buffer) copyTo(dst *Buffer, size int) int {
	b.mutex.Lock()
	src := append([]byte(nil), b.data[:size]...)
	b.mutex.Unlock()

	dst.mutex.Lock()
	defer dst.mutex.Unlock()
	return copy(dst.data, src)
}

// Destroy implements interface
func (b *Buffer) Destroy() {
	if b.destroyed {
		return
	}
	b.destroyed = true
	b.dev.released()
}

func newImage(d *Device, desc device.ImageDesc) *Image {
	img := &Image{
		dev:    d,
		extent: desc.Extent,
		format: desc.Format,
		usage:  desc.Usage,
	}
	if !desc.Format.IsDepth() {
		img.pix = image.NewRGBA(image.Rect(0, 0, int(desc.Extent.Width), int(desc.Extent.Height)))
	}
	return img
}

// Image is a 2D image. Color images keep RGBA pixels, depth images
// keep nothing.
type Image struct {
	dev       *Device
	extent    device.Extent
	format    device.Format
	usage     device.ImageUsage
	destroyed bool

	mutex sync.Mutex
	pix   *image.RGBA
}

// Extent implements interface
func (i *Image) Extent() device.Extent {
	return i.extent
}

// Format implements interface
func (i *Image) Format() device.Format {
	return i.format
}

// Pixels returns a copy of the image, nil for depth images.
func (i *Image) Pixels() *image.RGBA {
	i.mutex.Lock()
	defer i.mutex.Unlock()
	if i.pix == nil {
		return nil
	}
	cp := image.NewRGBA(i.pix.Rect)
	copy(cp.Pix, i.pix.Pix)
	return cp
}

func (i *Image) clear(c [4]float32) {
	if i.pix == nil {
		return
	}
	fill := color.RGBA{
		R: unorm(c[0] * c[3]),
		G: unorm(c[1] * c[3]),
		B: unorm(c[2] * c[3]),
		A: unorm(c[3]),
	}
	i.mutex.Lock()
	draw.Draw(i.pix, i.pix.Rect, image.NewUniform(fill), image.Point{}, draw.Src)
	i.mutex.Unlock()
}

func (i *Image) blitTo(dst *Image) {
	if i.pix == nil || dst.pix == nil {
		return
	}
	i.mutex.Lock()
	defer i.mutex.Unlock()
	dst.mutex.Lock()
	defer dst.mutex.Unlock()
	if i.pix.Rect.Eq(dst.pix.Rect) {
		draw.Copy(dst.pix, image.Point{}, i.pix, i.pix.Rect, draw.Src, nil)
		return
	}
	draw.ApproxBiLinear.Scale(dst.pix, dst.pix.Rect, i.pix, i.pix.Rect, draw.Src, nil)
}

// Destroy implements interface
func (i *Image) Destroy() {
	if i.destroyed {
		return
	}
	i.destroyed = true
	i.dev.released()
}

func unorm(v float32) uint8 {
	if v <= 0 {
		return 0
	} else if v >= 1 {
		return 255
	}
	return uint8(v*255 + 0.5)
}

// RenderPass implements device.RenderPass
type RenderPass struct {
	dev       *Device
	desc      device.RenderPassDesc
	destroyed bool
}

// Destroy implements interface
func (r *RenderPass) Destroy() {
	if r.destroyed {
		return
	}
	r.destroyed = true
	r.dev.released()
}

// Framebuffer implements device.Framebuffer
type Framebuffer struct {
	dev       *Device
	pass      *RenderPass
	extent    device.Extent
	color     *Image
	depth     *Image
	destroyed bool
}

// Extent implements interface
func (f *Framebuffer) Extent() device.Extent {
	return f.extent
}

// Destroy implements interface
func (f *Framebuffer) Destroy() {
	if f.destroyed {
		return
	}
	f.destroyed = true
	f.dev.released()
}

// Pipeline implements device.Pipeline
type Pipeline struct {
	dev       *Device
	desc      device.PipelineDesc
	raster    RasterFunc
	destroyed bool
}

// Desc implements interface
func (p *Pipeline) Desc() device.PipelineDesc {
	return p.desc
}

// Destroy implements interface
func (p *Pipeline) Destroy() {
	if p.destroyed {
		return
	}
	p.destroyed = true
	p.dev.released()
}

// CommandPool implements device.CommandPool. It allocates command
// buffers for the queue kind it was created for, they are freed with it.
type CommandPool struct {
	dev       *Device
	kind      device.QueueKind
	buffers   int
	destroyed bool
}

// Allocate implements interface
func (p *CommandPool) Allocate() (device.CommandBuffer, error) {
	if err := p.dev.failure("Allocate"); err != nil {
		return nil, err
	}
	p.buffers++
	return &CommandBuffer{dev: p.dev, pool: p}, nil
}

// Destroy frees the pool along with its command buffers.
func (p *CommandPool) Destroy() {
	if p.destroyed {
		return
	}
	p.destroyed = true
	p.dev.released()
}
