// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package device describes the rendering device the frame engine drives.
// Implementations wrap a real GPU API (see device/vulkan) or emulate one
// in software (see device/headless). Everything here mirrors the explicit
// synchronization model of modern GPU APIs: queues execute asynchronously,
// semaphores order work between queues, fences signal completion to the CPU.
package device

import (
	"errors"
	"math"
	"time"
)

// package errors
var (
	// ErrOutOfDate is returned by acquire and present when the
	// swapchain no longer matches its surface and must be recreated.
	ErrOutOfDate = errors.New("swapchain out of date")

	// ErrTimeout is returned by waits that ran past their timeout.
	ErrTimeout = errors.New("wait timed out")

	// ErrDeviceLost means the device can not be used anymore.
	ErrDeviceLost = errors.New("device lost")

	// ErrNotMappable is returned when mapping memory that is not host visible.
	ErrNotMappable = errors.New("memory is not host visible")

	// ErrInvalidUsage is returned for calls that break the API contract.
	ErrInvalidUsage = errors.New("invalid device usage")
)

// NoTimeout makes a wait block until the awaited object is signaled.
const NoTimeout = time.Duration(math.MaxInt64)

// Destroyable is an object that holds device resources.
type Destroyable interface {
	Destroy()
}

// Device is a logical rendering device with its queues and
// a single presentation surface.
type Device interface {
	Destroyable

	// Info describes the physical device backing this device.
	Info() PhysicalDeviceInfo

	// Queue returns the queue of the given kind. Kinds may share the
	// same underlying queue.
	Queue(QueueKind) Queue

	CreateBuffer(size int, usage BufferUsage, memory MemoryKind) (Buffer, error)
	CreateImage(ImageDesc) (Image, error)
	CreateSemaphore() (Semaphore, error)
	CreateFence(signaled bool) (Fence, error)
	CreateCommandPool(QueueKind) (CommandPool, error)
	CreateRenderPass(RenderPassDesc) (RenderPass, error)
	CreateFramebuffer(pass RenderPass, attachments []Image, extent Extent) (Framebuffer, error)
	CreatePipeline(pass RenderPass, desc PipelineDesc) (Pipeline, error)

	// WaitForFences blocks until all fences are signaled
	// or the timeout passes, in which case ErrTimeout is returned.
	WaitForFences(fences []Fence, timeout time.Duration) error

	// ResetFences puts fences back into the unsignaled state.
	ResetFences(fences []Fence) error

	// SurfaceCapabilities queries the current state of the surface.
	SurfaceCapabilities() (SurfaceCapabilities, error)

	// CreateSwapchain creates a swapchain for the surface.
	CreateSwapchain(SwapchainDesc) (Swapchain, error)

	// WaitIdle blocks until every queue finished all submitted work.
	WaitIdle() error
}

// Queue accepts work for asynchronous execution.
type Queue interface {
	// Submit enqueues command buffers. Execution waits for WaitSemaphores,
	// then signals SignalSemaphores and the Fence when done.
	Submit(SubmitInfo) error

	// Present enqueues presentation of a swapchain image after all
	// WaitSemaphores are signaled. Returns ErrOutOfDate when the
	// swapchain needs recreation, suboptimal is true when it still
	// works but no longer matches the surface exactly.
	Present(PresentInfo) (suboptimal bool, err error)

	// WaitIdle blocks until this queue finished all submitted work.
	WaitIdle() error
}

// Buffer is a linear memory allocation.
type Buffer interface {
	Destroyable
	Size() int
	Usage() BufferUsage

	// Map returns host memory backing the buffer. Only host visible
	// buffers can be mapped. The slice is invalid after Unmap.
	Map() ([]byte, error)
	Unmap()
}

// Image is a 2D image with a single mip level.
type Image interface {
	Destroyable
	Extent() Extent
	Format() Format
}

// Semaphore orders work between queues. It's binary: every signal
// must be consumed by exactly one wait.
type Semaphore interface {
	Destroyable
}

// Fence signals completion of a submission to the host.
type Fence interface {
	Destroyable
}

// CommandPool allocates command buffers for one queue kind.
type CommandPool interface {
	Destroyable
	Allocate() (CommandBuffer, error)
}

// RenderPass describes the attachments a frame renders into.
type RenderPass interface {
	Destroyable
}

// Framebuffer binds images to the attachments of a render pass.
type Framebuffer interface {
	Destroyable
	Extent() Extent
}

// Pipeline is a compiled graphics pipeline.
type Pipeline interface {
	Destroyable
	Desc() PipelineDesc
}

// Swapchain is a set of presentable images tied to the surface.
type Swapchain interface {
	Destroyable

	// AcquireNextImage returns the index of the next presentable image,
	// signal is signaled once the image can be rendered to.
	// ErrOutOfDate means no image was acquired and signal stays untouched.
	AcquireNextImage(timeout time.Duration, signal Semaphore) (index int, suboptimal bool, err error)

	Images() []Image
	Extent() Extent
	Format() Format
}

// CommandBuffer records commands for later submission.
// Recording calls are only valid between Begin and End.
type CommandBuffer interface {
	Reset() error
	Begin() error
	End() error

	CopyBuffer(src, dst Buffer, size int)

	BeginRenderPass(pass RenderPass, framebuffer Framebuffer, clear ClearValues)
	EndRenderPass()
	SetViewport(Viewport)
	SetScissor(Rect)

	BindPipeline(Pipeline)
	BindVertexBuffers(first int, buffers ...Buffer)
	// BindUniformBuffers binds buffers to the uniform bindings of the
	// bound pipeline, in order of its UniformBindings.
	BindUniformBuffers(buffers ...Buffer)
	Draw(vertexCount, instanceCount, firstVertex, firstInstance int)

	// BlitToPresent copies src scaled onto a presentable swapchain
	// image and leaves dst ready for presentation.
	BlitToPresent(src, dst Image)
}
