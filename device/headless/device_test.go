// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package headless_test

import (
	"image"
	"image/color"
	"io"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	log "github.com/sirupsen/logrus"

	"github.com/devblok/koruframe/device"
	"github.com/devblok/koruframe/device/headless"
)

func newDevice(c *qt.C, opts ...headless.Option) *headless.Device {
	logger := log.New()
	logger.SetOutput(io.Discard)
	dev := headless.New(append([]headless.Option{headless.WithLogger(logger)}, opts...)...)
	c.Cleanup(dev.Destroy)
	return dev
}

func recorded(c *qt.C, pool device.CommandPool, record func(cmd device.CommandBuffer)) device.CommandBuffer {
	cmd, err := pool.Allocate()
	c.Assert(err, qt.IsNil)
	c.Assert(cmd.Begin(), qt.IsNil)
	if record != nil {
		record(cmd)
	}
	c.Assert(cmd.End(), qt.IsNil)
	return cmd
}

func TestSemaphoreSignaledTwice(t *testing.T) {
	c := qt.New(t)
	dev := newDevice(c)
	caps, err := dev.SurfaceCapabilities()
	c.Assert(err, qt.IsNil)
	sc, err := dev.CreateSwapchain(device.SwapchainDesc{
		Extent:        caps.CurrentExtent,
		Format:        caps.PreferedFormat,
		MinImageCount: 3,
	})
	c.Assert(err, qt.IsNil)
	defer sc.Destroy()
	sem, err := dev.CreateSemaphore()
	c.Assert(err, qt.IsNil)
	defer sem.Destroy()

	index, suboptimal, err := sc.AcquireNextImage(device.NoTimeout, sem)
	c.Assert(err, qt.IsNil)
	c.Assert(index, qt.Equals, 0)
	c.Assert(suboptimal, qt.IsFalse)
	c.Assert(sem.(*headless.Semaphore).Signaled(), qt.IsTrue)

	_, _, err = sc.AcquireNextImage(device.NoTimeout, sem)
	c.Assert(err, qt.ErrorIs, device.ErrInvalidUsage)
}

func TestFenceWaitTimesOut(t *testing.T) {
	c := qt.New(t)
	dev := newDevice(c)
	fence, err := dev.CreateFence(false)
	c.Assert(err, qt.IsNil)
	defer fence.Destroy()

	err = dev.WaitForFences([]device.Fence{fence}, 10*time.Millisecond)
	c.Assert(err, qt.Equals, device.ErrTimeout)
}

func TestSubmitSignalsFence(t *testing.T) {
	c := qt.New(t)
	dev := newDevice(c)
	pool, err := dev.CreateCommandPool(device.GraphicsQueue)
	c.Assert(err, qt.IsNil)
	defer pool.Destroy()
	fence, err := dev.CreateFence(true)
	c.Assert(err, qt.IsNil)
	defer fence.Destroy()

	cmd := recorded(c, pool, nil)
	queue := dev.Queue(device.GraphicsQueue)
	err = queue.Submit(device.SubmitInfo{CommandBuffers: []device.CommandBuffer{cmd}, Fence: fence})
	c.Assert(err, qt.ErrorIs, device.ErrInvalidUsage)

	c.Assert(dev.ResetFences([]device.Fence{fence}), qt.IsNil)
	c.Assert(queue.Submit(device.SubmitInfo{CommandBuffers: []device.CommandBuffer{cmd}, Fence: fence}), qt.IsNil)
	c.Assert(dev.WaitForFences([]device.Fence{fence}, time.Second), qt.IsNil)
	c.Assert(dev.Stats().Submits, qt.Equals, 1)
	c.Assert(dev.Stats().FramesInFlight, qt.Equals, 0)
	c.Assert(dev.Stats().MaxFramesInFlight, qt.Equals, 1)
}

func TestResetWhilePending(t *testing.T) {
	c := qt.New(t)
	dev := newDevice(c)
	pool, err := dev.CreateCommandPool(device.TransferQueue)
	c.Assert(err, qt.IsNil)
	defer pool.Destroy()

	cmd := recorded(c, pool, nil)
	release := dev.Hold(device.TransferQueue)
	c.Assert(dev.Queue(device.TransferQueue).Submit(device.SubmitInfo{
		CommandBuffers: []device.CommandBuffer{cmd},
	}), qt.IsNil)
	c.Assert(cmd.Reset(), qt.ErrorIs, device.ErrInvalidUsage)

	release()
	c.Assert(dev.WaitIdle(), qt.IsNil)
	c.Assert(cmd.Reset(), qt.IsNil)
	c.Assert(dev.Stats().TransferSubmits, qt.Equals, 1)
}

func TestCopyBuffer(t *testing.T) {
	c := qt.New(t)
	dev := newDevice(c)
	pool, err := dev.CreateCommandPool(device.TransferQueue)
	c.Assert(err, qt.IsNil)
	defer pool.Destroy()

	staging, err := dev.CreateBuffer(8, device.BufferUsageTransferSrc, device.MemoryHostVisible)
	c.Assert(err, qt.IsNil)
	defer staging.Destroy()
	local, err := dev.CreateBuffer(8, device.BufferUsageTransferDst|device.BufferUsageVertex, device.MemoryDeviceLocal)
	c.Assert(err, qt.IsNil)
	defer local.Destroy()

	_, err = local.Map()
	c.Assert(err, qt.Equals, device.ErrNotMappable)

	mapped, err := staging.Map()
	c.Assert(err, qt.IsNil)
	copy(mapped, "koruframe")
	staging.Unmap()

	cmd := recorded(c, pool, func(cmd device.CommandBuffer) {
		cmd.CopyBuffer(staging, local, 8)
	})
	c.Assert(dev.Queue(device.TransferQueue).Submit(device.SubmitInfo{
		CommandBuffers: []device.CommandBuffer{cmd},
	}), qt.IsNil)
	c.Assert(dev.WaitIdle(), qt.IsNil)
	c.Assert(string(local.(*headless.Buffer).Bytes()), qt.Equals, "korufram")
	c.Assert(dev.Stats().BytesCopied, qt.Equals, 8)

	bad, err := pool.Allocate()
	c.Assert(err, qt.IsNil)
	c.Assert(bad.Begin(), qt.IsNil)
	bad.CopyBuffer(staging, local, 9)
	c.Assert(bad.End(), qt.ErrorIs, device.ErrInvalidUsage)
}

func TestRenderPassStateIsValidated(t *testing.T) {
	c := qt.New(t)
	dev := newDevice(c)
	pool, err := dev.CreateCommandPool(device.GraphicsQueue)
	c.Assert(err, qt.IsNil)
	defer pool.Destroy()

	cmd, err := pool.Allocate()
	c.Assert(err, qt.IsNil)
	c.Assert(cmd.Begin(), qt.IsNil)
	cmd.Draw(3, 1, 0, 0)
	c.Assert(cmd.End(), qt.ErrorMatches, `headless.Draw\(\): render pass state mismatch: .*`)

	c.Assert(cmd.Reset(), qt.IsNil)
	c.Assert(cmd.End(), qt.ErrorIs, device.ErrInvalidUsage)
}

func TestUniformBindingsAreValidated(t *testing.T) {
	c := qt.New(t)
	dev := newDevice(c)
	pool, err := dev.CreateCommandPool(device.GraphicsQueue)
	c.Assert(err, qt.IsNil)
	defer pool.Destroy()
	pass, err := dev.CreateRenderPass(device.RenderPassDesc{ColorFormat: device.FormatB8G8R8A8Unorm})
	c.Assert(err, qt.IsNil)
	defer pass.Destroy()
	pipeline, err := dev.CreatePipeline(pass, device.PipelineDesc{
		Name: "globals",
		Uniforms: []device.UniformBinding{
			{Binding: 0, Size: 64, Stages: device.ShaderStageVertex},
		},
	})
	c.Assert(err, qt.IsNil)
	defer pipeline.Destroy()
	a, err := dev.CreateBuffer(64, device.BufferUsageUniform, device.MemoryDeviceLocal)
	c.Assert(err, qt.IsNil)
	defer a.Destroy()
	b, err := dev.CreateBuffer(64, device.BufferUsageUniform, device.MemoryDeviceLocal)
	c.Assert(err, qt.IsNil)
	defer b.Destroy()

	cmd, err := pool.Allocate()
	c.Assert(err, qt.IsNil)

	c.Assert(cmd.Begin(), qt.IsNil)
	cmd.BindUniformBuffers(a)
	c.Assert(cmd.End(), qt.ErrorMatches, `headless.BindUniformBuffers\(\): no pipeline bound: .*`)
	c.Assert(cmd.Reset(), qt.IsNil)

	c.Assert(cmd.Begin(), qt.IsNil)
	cmd.BindPipeline(pipeline)
	cmd.BindUniformBuffers(a, b)
	err = cmd.End()
	c.Assert(err, qt.ErrorIs, device.ErrInvalidUsage)
	c.Assert(err, qt.ErrorMatches, `.*pipeline globals takes 1 uniform buffers, got 2: .*`)
	c.Assert(cmd.Reset(), qt.IsNil)

	c.Assert(cmd.Begin(), qt.IsNil)
	cmd.BindPipeline(pipeline)
	cmd.BindUniformBuffers(a)
	c.Assert(cmd.End(), qt.IsNil)
}

func TestStaleSwapchain(t *testing.T) {
	c := qt.New(t)
	dev := newDevice(c, headless.WithSurface(64, 64))
	sc, err := dev.CreateSwapchain(device.SwapchainDesc{
		Extent:        device.Extent{Width: 64, Height: 64},
		Format:        device.FormatB8G8R8A8Unorm,
		MinImageCount: 2,
	})
	c.Assert(err, qt.IsNil)
	defer sc.Destroy()
	sem, err := dev.CreateSemaphore()
	c.Assert(err, qt.IsNil)
	defer sem.Destroy()

	index, _, err := sc.AcquireNextImage(device.NoTimeout, sem)
	c.Assert(err, qt.IsNil)

	dev.Surface().Resize(32, 32)
	_, err = dev.Queue(device.PresentQueue).Present(device.PresentInfo{
		WaitSemaphores: []device.Semaphore{sem},
		Swapchain:      sc,
		ImageIndex:     index,
	})
	c.Assert(err, qt.Equals, device.ErrOutOfDate)
	c.Assert(dev.WaitIdle(), qt.IsNil)

	// the present consumed the wait even though it failed
	c.Assert(sem.(*headless.Semaphore).Signaled(), qt.IsFalse)
	c.Assert(dev.Stats().Presents, qt.Equals, 0)

	_, _, err = sc.AcquireNextImage(device.NoTimeout, sem)
	c.Assert(err, qt.Equals, device.ErrOutOfDate)
}

func TestSuboptimalIsReportedOnce(t *testing.T) {
	c := qt.New(t)
	dev := newDevice(c)
	sc, err := dev.CreateSwapchain(device.SwapchainDesc{
		Extent:        dev.Surface().Extent(),
		Format:        device.FormatB8G8R8A8Unorm,
		MinImageCount: 2,
	})
	c.Assert(err, qt.IsNil)
	defer sc.Destroy()
	sem, err := dev.CreateSemaphore()
	c.Assert(err, qt.IsNil)
	defer sem.Destroy()

	dev.Surface().ForceSuboptimal(1)
	var reports []bool
	for i := 0; i < 2; i++ {
		index, suboptimal, err := sc.AcquireNextImage(device.NoTimeout, sem)
		c.Assert(err, qt.IsNil)
		reports = append(reports, suboptimal)
		_, err = dev.Queue(device.PresentQueue).Present(device.PresentInfo{
			WaitSemaphores: []device.Semaphore{sem},
			Swapchain:      sc,
			ImageIndex:     index,
		})
		c.Assert(err, qt.IsNil)
		c.Assert(dev.WaitIdle(), qt.IsNil)
	}
	c.Assert(reports, qt.DeepEquals, []bool{true, false})
}

func TestBlitScalesToPresentedImage(t *testing.T) {
	c := qt.New(t)
	presented := make(chan *image.RGBA, 1)
	dev := newDevice(c,
		headless.WithSurface(8, 8),
		headless.WithPresentHook(func(_ int, img *image.RGBA) { presented <- img }),
	)

	var owned []device.Destroyable
	defer func() {
		for i := len(owned) - 1; i >= 0; i-- {
			owned[i].Destroy()
		}
		c.Assert(dev.LiveObjects(), qt.Equals, 0)
	}()
	keep := func(obj device.Destroyable, err error) {
		c.Assert(err, qt.IsNil)
		owned = append(owned, obj)
	}

	pass, err := dev.CreateRenderPass(device.RenderPassDesc{ColorFormat: device.FormatB8G8R8A8Unorm})
	keep(pass, err)
	target, err := dev.CreateImage(device.ImageDesc{
		Extent: device.Extent{Width: 2, Height: 2},
		Format: device.FormatB8G8R8A8Unorm,
		Usage:  device.ImageUsageColorAttachment | device.ImageUsageTransferSrc,
	})
	keep(target, err)
	fb, err := dev.CreateFramebuffer(pass, []device.Image{target}, target.Extent())
	keep(fb, err)
	sc, err := dev.CreateSwapchain(device.SwapchainDesc{
		Extent:        device.Extent{Width: 8, Height: 8},
		Format:        device.FormatB8G8R8A8Unorm,
		MinImageCount: 2,
	})
	keep(sc, err)
	pool, err := dev.CreateCommandPool(device.GraphicsQueue)
	keep(pool, err)
	acquired, err := dev.CreateSemaphore()
	keep(acquired, err)
	rendered, err := dev.CreateSemaphore()
	keep(rendered, err)

	index, _, err := sc.AcquireNextImage(device.NoTimeout, acquired)
	c.Assert(err, qt.IsNil)
	cmd := recorded(c, pool, func(cmd device.CommandBuffer) {
		cmd.BeginRenderPass(pass, fb, device.ClearValues{Color: [4]float32{1, 0, 0, 1}, Depth: 1})
		cmd.EndRenderPass()
		cmd.BlitToPresent(target, sc.Images()[index])
	})
	c.Assert(dev.Queue(device.GraphicsQueue).Submit(device.SubmitInfo{
		CommandBuffers:   []device.CommandBuffer{cmd},
		WaitSemaphores:   []device.Semaphore{acquired},
		WaitStages:       []device.PipelineStage{device.StageTransfer},
		SignalSemaphores: []device.Semaphore{rendered},
	}), qt.IsNil)
	_, err = dev.Queue(device.PresentQueue).Present(device.PresentInfo{
		WaitSemaphores: []device.Semaphore{rendered},
		Swapchain:      sc,
		ImageIndex:     index,
	})
	c.Assert(err, qt.IsNil)

	img := <-presented
	c.Assert(img.Rect, qt.Equals, image.Rect(0, 0, 8, 8))
	c.Assert(img.RGBAAt(0, 0), qt.Equals, color.RGBA{R: 255, A: 255})
	c.Assert(img.RGBAAt(7, 7), qt.Equals, color.RGBA{R: 255, A: 255})
	c.Assert(dev.WaitIdle(), qt.IsNil)
}

func TestInjectedErrorsFireOnce(t *testing.T) {
	c := qt.New(t)
	dev := newDevice(c)

	dev.InjectError("CreateFence", device.ErrDeviceLost)
	_, err := dev.CreateFence(false)
	c.Assert(err, qt.ErrorIs, device.ErrDeviceLost)
	c.Assert(err, qt.ErrorMatches, `headless.CreateFence\(\): device lost`)
	c.Assert(dev.LiveObjects(), qt.Equals, 0)

	fence, err := dev.CreateFence(false)
	c.Assert(err, qt.IsNil)
	c.Assert(dev.LiveObjects(), qt.Equals, 1)
	fence.Destroy()
	fence.Destroy()
	c.Assert(dev.LiveObjects(), qt.Equals, 0)
}
