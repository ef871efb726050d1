// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package device

import "fmt"

// QueueKind identifies a queue by the work it takes.
type QueueKind int

// Queue kinds
const (
	GraphicsQueue QueueKind = iota
	TransferQueue
	PresentQueue
)

func (k QueueKind) String() string {
	switch k {
	case GraphicsQueue:
		return "graphics"
	case TransferQueue:
		return "transfer"
	case PresentQueue:
		return "present"
	}
	return fmt.Sprintf("QueueKind(%d)", int(k))
}

// BufferUsage flags what a buffer can be used for.
type BufferUsage uint32

// Buffer usages
const (
	BufferUsageTransferSrc BufferUsage = 1 << iota
	BufferUsageTransferDst
	BufferUsageVertex
	BufferUsageIndex
	BufferUsageUniform
	BufferUsageStorage
)

// MemoryKind selects where buffer memory lives.
type MemoryKind int

// Memory kinds
const (
	// MemoryDeviceLocal is fast for the GPU and not host visible.
	MemoryDeviceLocal MemoryKind = iota

	// MemoryHostVisible can be mapped and written by the CPU.
	MemoryHostVisible
)

// Format of image texels.
type Format int

// Image formats
const (
	FormatUndefined Format = iota
	FormatB8G8R8A8Unorm
	FormatR8G8B8A8Unorm
	FormatD32Sfloat
)

// IsDepth reports whether the format holds depth values.
func (f Format) IsDepth() bool {
	return f == FormatD32Sfloat
}

// ImageUsage flags what an image can be used for.
type ImageUsage uint32

// Image usages
const (
	ImageUsageColorAttachment ImageUsage = 1 << iota
	ImageUsageDepthAttachment
	ImageUsageTransferSrc
	ImageUsageTransferDst
	ImageUsageSampled
)

// PipelineStage identifies where in the pipeline a semaphore wait happens.
type PipelineStage uint32

// Pipeline stages
const (
	StageTopOfPipe PipelineStage = 1 << iota
	StageVertexInput
	StageVertexShader
	StageColorAttachmentOutput
	StageTransfer
)

// Extent is a 2D size in pixels.
type Extent struct {
	Width, Height uint32
}

// Empty reports whether either side is zero.
func (e Extent) Empty() bool {
	return e.Width == 0 || e.Height == 0
}

// Aspect returns width divided by height.
func (e Extent) Aspect() float32 {
	if e.Height == 0 {
		return 1
	}
	return float32(e.Width) / float32(e.Height)
}

func (e Extent) String() string {
	return fmt.Sprintf("%dx%d", e.Width, e.Height)
}

// Rect is a 2D region in pixels.
type Rect struct {
	X, Y   int32
	Extent Extent
}

// Viewport maps normalized device coordinates to the framebuffer.
type Viewport struct {
	X, Y, Width, Height float32
	MinDepth, MaxDepth  float32
}

// ClearValues used at the start of a render pass.
type ClearValues struct {
	Color [4]float32
	Depth float32
}

// ImageDesc describes an image to create.
type ImageDesc struct {
	Extent Extent
	Format Format
	Usage  ImageUsage
}

// RenderPassDesc describes a single subpass render pass with one color
// and an optional depth attachment. The color attachment ends up ready to
// be a transfer source so it can be blitted into presentable images.
type RenderPassDesc struct {
	ColorFormat Format
	DepthFormat Format
}

// SurfaceCapabilities are the limits of the presentation surface.
type SurfaceCapabilities struct {
	// CurrentExtent is the size of the surface. A zero extent means
	// the surface can not be presented to, for example while minimized.
	CurrentExtent  Extent
	MinImageCount  int
	MaxImageCount  int
	PreferedFormat Format
}

// SwapchainDesc describes a swapchain to create.
type SwapchainDesc struct {
	MinImageCount int
	Extent        Extent
	Format        Format
}

// SubmitInfo is a batch of command buffers with its synchronization.
type SubmitInfo struct {
	CommandBuffers   []CommandBuffer
	WaitSemaphores   []Semaphore
	WaitStages       []PipelineStage
	SignalSemaphores []Semaphore
	Fence            Fence
}

// PresentInfo describes presentation of a single swapchain image.
type PresentInfo struct {
	WaitSemaphores []Semaphore
	Swapchain      Swapchain
	ImageIndex     int
}

// VertexFormat is the type of a vertex attribute.
type VertexFormat int

// Vertex formats
const (
	VertexFloat VertexFormat = iota
	VertexFloat2
	VertexFloat3
	VertexFloat4
)

// Size of the format in bytes.
func (f VertexFormat) Size() int {
	return 4 * (int(f) + 1)
}

// VertexBinding describes one bound vertex buffer.
type VertexBinding struct {
	Stride      int
	PerInstance bool
}

// VertexAttribute describes one shader input.
type VertexAttribute struct {
	Location int
	Binding  int
	Format   VertexFormat
	Offset   int
}

// ShaderStage flags shader stages.
type ShaderStage uint32

// Shader stages
const (
	ShaderStageVertex ShaderStage = 1 << iota
	ShaderStageFragment
)

// UniformBinding describes a uniform buffer binding.
type UniformBinding struct {
	Binding int
	Size    int
	Stages  ShaderStage
}

// Topology of drawn primitives.
type Topology int

// Topologies
const (
	TopologyTriangleList Topology = iota
	TopologyTriangleStrip
	TopologyPointList
)

// BlendMode is how fragments combine with the color attachment.
type BlendMode int

// Blend modes
const (
	BlendNone BlendMode = iota
	// BlendAlpha is premultiplied alpha over.
	BlendAlpha
	BlendAdditive
)

// PipelineDesc describes a graphics pipeline. Name identifies the
// pipeline to implementations that don't run shaders.
type PipelineDesc struct {
	Name           string
	VertexShader   string
	FragmentShader string
	Bindings       []VertexBinding
	Attributes     []VertexAttribute
	Uniforms       []UniformBinding
	Topology       Topology
	Blend          BlendMode
	DepthTest      bool
}
