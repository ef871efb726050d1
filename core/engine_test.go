// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core_test

import (
	"encoding/binary"
	"errors"
	"image"
	"image/color"
	"io"
	"sync"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	log "github.com/sirupsen/logrus"

	"github.com/devblok/koruframe/core"
	"github.com/devblok/koruframe/device"
	"github.com/devblok/koruframe/device/headless"
)

const frameTime = 16 * time.Millisecond

func quietLogger() *log.Logger {
	logger := log.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newEngine(c *qt.C, opts ...headless.Option) (*core.Engine, *headless.Device) {
	return newEngineWith(c, core.DefaultConfiguration().Renderer, opts...)
}

func newEngineWith(c *qt.C, cfg core.RendererConfiguration, opts ...headless.Option) (*core.Engine, *headless.Device) {
	opts = append([]headless.Option{
		headless.WithSurface(320, 240),
		headless.WithLogger(quietLogger()),
	}, opts...)
	dev := headless.New(opts...)
	e, err := core.NewEngine(dev, cfg, core.WithLogger(quietLogger()))
	c.Assert(err, qt.IsNil)
	c.Cleanup(func() {
		e.Destroy()
		c.Check(dev.LiveObjects(), qt.Equals, 0)
		dev.Destroy()
	})
	return e, dev
}

func initScene(c *qt.C, e *core.Engine, s core.Scene) {
	c.Assert(s.Init(e), qt.IsNil)
	c.Cleanup(func() {
		c.Check(e.Device().WaitIdle(), qt.IsNil)
		s.Shutdown(e)
	})
}

// settle waits for both queues without counting as a device idle wait.
func settle(dev *headless.Device) {
	dev.Queue(device.TransferQueue).WaitIdle()
	dev.Queue(device.GraphicsQueue).WaitIdle()
}

// probeScene draws once per frame with a single value dynamic buffer
// bound as its vertex input.
type probeScene struct {
	write    func(frame int) (uint32, bool)
	onRender func(e *core.Engine)

	pipeline device.Pipeline
	data     *core.DynamicBuffer[uint32]
	frame    int
}

func (s *probeScene) Init(e *core.Engine) error {
	var err error
	if s.pipeline, err = e.Device().CreatePipeline(e.RenderPass(), device.PipelineDesc{
		Name:     "probe",
		Bindings: []device.VertexBinding{{Stride: 4, PerInstance: true}},
	}); err != nil {
		return err
	}
	s.data, err = core.NewDynamicBuffer[uint32](e, 1, device.BufferUsageVertex)
	return err
}

func (s *probeScene) Update(e *core.Engine, dt time.Duration) error {
	s.frame++
	if s.write == nil {
		return nil
	}
	if v, ok := s.write(s.frame); ok {
		return s.data.Set(0, v)
	}
	return nil
}

func (s *probeScene) Render(e *core.Engine, cmd device.CommandBuffer) error {
	if s.onRender != nil {
		s.onRender(e)
	}
	cmd.BindPipeline(s.pipeline)
	cmd.BindVertexBuffers(0, s.data.Current())
	cmd.Draw(6, 1, 0, 0)
	return nil
}

func (s *probeScene) Shutdown(e *core.Engine) {
	s.data.Destroy()
	s.pipeline.Destroy()
}

// probe records the first vertex value of every draw the GPU executes.
type probe struct {
	mutex sync.Mutex
	seen  []uint32
}

func (p *probe) raster(call headless.DrawCall) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.seen = append(p.seen, binary.LittleEndian.Uint32(call.Vertex[0]))
}

func (p *probe) values() []uint32 {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return append([]uint32(nil), p.seen...)
}

func runFrames(c *qt.C, e *core.Engine, s core.Scene, n int) {
	for i := 0; i < n; i++ {
		c.Assert(e.RunFrame(s, frameTime), qt.IsNil)
	}
}

func TestNewEngineRejectsSingleSlot(t *testing.T) {
	c := qt.New(t)
	dev := headless.New(headless.WithLogger(quietLogger()))
	defer dev.Destroy()

	cfg := core.DefaultConfiguration().Renderer
	cfg.FramesInFlight = 1
	_, err := core.NewEngine(dev, cfg)
	c.Assert(err, qt.ErrorMatches, "frames in flight must be at least 2, got 1")
	c.Assert(dev.LiveObjects(), qt.Equals, 0)
}

func TestNewEngineCreationFailureIsFatal(t *testing.T) {
	c := qt.New(t)
	for _, op := range []string{"CreateRenderPass", "CreateCommandPool", "CreateSemaphore", "CreateFence", "CreateSwapchain", "CreateFramebuffer"} {
		c.Run(op, func(c *qt.C) {
			dev := headless.New(headless.WithLogger(quietLogger()))
			defer dev.Destroy()
			dev.InjectError(op, errors.New("out of memory"))

			_, err := core.NewEngine(dev, core.DefaultConfiguration().Renderer, core.WithLogger(quietLogger()))
			c.Assert(core.IsFatal(err), qt.IsTrue, qt.Commentf("%v", err))
			c.Assert(err, qt.ErrorMatches, ".*out of memory")
			c.Assert(dev.LiveObjects(), qt.Equals, 0)
		})
	}
}

func TestFramesPresentClearColor(t *testing.T) {
	c := qt.New(t)
	var (
		mutex     sync.Mutex
		presented []*image.RGBA
	)
	cfg := core.DefaultConfiguration().Renderer
	cfg.ClearColor = [4]float32{1, 0, 0, 1}
	e, dev := newEngineWith(c, cfg, headless.WithPresentHook(func(index int, img *image.RGBA) {
		mutex.Lock()
		presented = append(presented, img)
		mutex.Unlock()
	}))
	s := &probeScene{}
	initScene(c, e, s)

	runFrames(c, e, s, 5)
	settle(dev)

	c.Assert(e.Stats(), qt.Equals, core.FrameStats{Frames: 5, Presented: 5})
	c.Assert(e.State(), qt.Equals, core.Idle)
	mutex.Lock()
	defer mutex.Unlock()
	c.Assert(presented, qt.HasLen, 5)
	c.Assert(presented[4].Bounds(), qt.Equals, image.Rect(0, 0, 320, 240))
	c.Assert(presented[4].RGBAAt(10, 10), qt.Equals, color.RGBA{R: 255, A: 255})
}

func TestSlotsRotateOncePerFrame(t *testing.T) {
	c := qt.New(t)
	e, _ := newEngine(c)
	s := &probeScene{}
	initScene(c, e, s)

	var slots []int
	for i := 0; i < 7; i++ {
		slots = append(slots, e.Slot())
		c.Assert(e.RunFrame(s, frameTime), qt.IsNil)
	}
	c.Assert(slots, qt.DeepEquals, []int{0, 1, 2, 0, 1, 2, 0})
}

func TestFramesInFlightAreBounded(t *testing.T) {
	c := qt.New(t)
	e, dev := newEngine(c)
	s := &probeScene{}
	initScene(c, e, s)

	release := dev.Hold(device.GraphicsQueue)
	defer release()
	runFrames(c, e, s, e.FramesInFlight())
	c.Assert(dev.Stats().FramesInFlight, qt.Equals, 3)

	done := make(chan error, 1)
	go func() {
		done <- e.RunFrame(s, frameTime)
	}()
	select {
	case err := <-done:
		c.Fatalf("frame started while every slot was in flight: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	release()
	c.Assert(<-done, qt.IsNil)
	settle(dev)
	c.Assert(dev.Stats().MaxFramesInFlight, qt.Equals, 3)
	c.Assert(e.Stats().Presented, qt.Equals, uint64(4))
}

func TestFramesInFlightWithSlowDevice(t *testing.T) {
	c := qt.New(t)
	cfg := core.DefaultConfiguration().Renderer
	cfg.FramesInFlight = 2
	e, dev := newEngineWith(c, cfg, headless.WithLatency(2*time.Millisecond))
	s := &probeScene{write: func(frame int) (uint32, bool) {
		return uint32(frame), true
	}}
	initScene(c, e, s)

	runFrames(c, e, s, 20)
	settle(dev)
	c.Assert(dev.Stats().MaxFramesInFlight <= 2, qt.IsTrue)
	c.Assert(dev.Stats().Presents, qt.Equals, 20)
}

func TestStaleAcquireOnFifthFrame(t *testing.T) {
	c := qt.New(t)
	e, dev := newEngine(c)
	s := &probeScene{}
	initScene(c, e, s)

	runFrames(c, e, s, 4)
	settle(dev)
	before := dev.Stats()
	slot := e.Slot()

	dev.Surface().Resize(400, 300)
	c.Assert(e.RunFrame(s, frameTime), qt.IsNil)
	settle(dev)

	after := dev.Stats()
	c.Assert(e.Slot(), qt.Equals, slot)
	c.Assert(after.Submits, qt.Equals, before.Submits)
	c.Assert(after.Draws, qt.Equals, before.Draws)
	c.Assert(after.Presents, qt.Equals, before.Presents)
	c.Assert(after.IdleWaits, qt.Equals, before.IdleWaits+1)
	c.Assert(after.SwapchainsCreated, qt.Equals, before.SwapchainsCreated+1)
	c.Assert(after.SwapchainsDestroyed, qt.Equals, before.SwapchainsDestroyed+1)
	c.Assert(e.Stats(), qt.Equals, core.FrameStats{Frames: 5, Presented: 4, Dropped: 1, Recreations: 1})
	c.Assert(e.Extent(), qt.Equals, device.Extent{Width: 400, Height: 300})

	c.Assert(e.RunFrame(s, frameTime), qt.IsNil)
	settle(dev)
	c.Assert(dev.Stats().Presents, qt.Equals, before.Presents+1)
	c.Assert(dev.Stats().Draws, qt.Equals, before.Draws+1)
	c.Assert(e.Slot(), qt.Equals, (slot+1)%3)
	c.Assert(e.Stats().Presented, qt.Equals, uint64(5))
}

func TestStalePresentRecreatesAndAdvances(t *testing.T) {
	c := qt.New(t)
	var (
		mutex  sync.Mutex
		bounds []image.Rectangle
	)
	e, dev := newEngine(c, headless.WithPresentHook(func(index int, img *image.RGBA) {
		mutex.Lock()
		bounds = append(bounds, img.Bounds())
		mutex.Unlock()
	}))
	s := &probeScene{}
	initScene(c, e, s)
	runFrames(c, e, s, 2)

	s.onRender = func(e *core.Engine) {
		dev.Surface().Resize(200, 100)
	}
	slot := e.Slot()
	c.Assert(e.RunFrame(s, frameTime), qt.IsNil)
	s.onRender = nil

	c.Assert(e.Slot(), qt.Equals, (slot+1)%3)
	c.Assert(e.Stats(), qt.Equals, core.FrameStats{Frames: 3, Presented: 2, Recreations: 1})
	c.Assert(e.Extent(), qt.Equals, device.Extent{Width: 200, Height: 100})

	runFrames(c, e, s, 3)
	settle(dev)
	mutex.Lock()
	defer mutex.Unlock()
	c.Assert(bounds, qt.HasLen, 5)
	c.Assert(bounds[4], qt.Equals, image.Rect(0, 0, 200, 100))
}

func TestSuboptimalAcquireRecreatesAfterPresent(t *testing.T) {
	c := qt.New(t)
	e, dev := newEngine(c)
	s := &probeScene{}
	initScene(c, e, s)

	dev.Surface().ForceSuboptimal(1)
	c.Assert(e.RunFrame(s, frameTime), qt.IsNil)
	c.Assert(e.Stats(), qt.Equals, core.FrameStats{Frames: 1, Presented: 1, Recreations: 1})

	runFrames(c, e, s, 2)
	c.Assert(e.Stats().Recreations, qt.Equals, uint64(1))
}

func TestSuboptimalPresentRecreates(t *testing.T) {
	c := qt.New(t)
	e, dev := newEngine(c)
	s := &probeScene{}
	initScene(c, e, s)
	runFrames(c, e, s, 1)
	created := dev.Stats().SwapchainsCreated

	s.onRender = func(e *core.Engine) {
		dev.Surface().ForceSuboptimal(1)
	}
	slot := e.Slot()
	c.Assert(e.RunFrame(s, frameTime), qt.IsNil)
	s.onRender = nil

	c.Assert(e.Slot(), qt.Equals, (slot+1)%3)
	c.Assert(e.Stats(), qt.Equals, core.FrameStats{Frames: 2, Presented: 2, Recreations: 1})
	c.Assert(dev.Stats().SwapchainsCreated, qt.Equals, created+1)
	c.Assert(e.Extent(), qt.Equals, device.Extent{Width: 320, Height: 240})

	runFrames(c, e, s, 2)
	c.Assert(e.Stats().Recreations, qt.Equals, uint64(1))
	c.Assert(e.Stats().Presented, qt.Equals, uint64(4))
}

func TestRecreationKeepsBuffersAndPipelines(t *testing.T) {
	c := qt.New(t)
	p := &probe{}
	e, dev := newEngine(c, headless.WithRasterizer("probe", p.raster))
	s := &probeScene{write: func(frame int) (uint32, bool) {
		return uint32(100 + frame), true
	}}
	initScene(c, e, s)

	runFrames(c, e, s, 2)
	pipeline, buffers := s.pipeline, []device.Buffer{s.data.Buffer(0), s.data.Buffer(1), s.data.Buffer(2)}

	dev.Surface().Resize(640, 480)
	runFrames(c, e, s, 4)
	settle(dev)

	c.Assert(e.Stats().Recreations, qt.Equals, uint64(1))
	c.Assert(e.Extent(), qt.Equals, device.Extent{Width: 640, Height: 480})
	c.Assert(s.pipeline, qt.Equals, pipeline)
	for k, b := range buffers {
		c.Assert(s.data.Buffer(k), qt.Equals, b)
	}
	// frame 3 was dropped, its write reaches the GPU with frame 4
	c.Assert(p.values(), qt.DeepEquals, []uint32{101, 102, 104, 105, 106})
}

func TestMinimizedSurfaceDropsFrames(t *testing.T) {
	c := qt.New(t)
	e, dev := newEngine(c)
	s := &probeScene{}
	initScene(c, e, s)
	runFrames(c, e, s, 1)

	dev.Surface().Resize(0, 0)
	runFrames(c, e, s, 3)
	c.Assert(e.Stats(), qt.Equals, core.FrameStats{Frames: 4, Presented: 1, Dropped: 3})

	dev.Surface().Resize(300, 200)
	runFrames(c, e, s, 1)
	c.Assert(e.Stats(), qt.Equals, core.FrameStats{Frames: 5, Presented: 2, Dropped: 3, Recreations: 1})
	c.Assert(e.Extent(), qt.Equals, device.Extent{Width: 300, Height: 200})
}

func TestDeviceErrorsAreFatal(t *testing.T) {
	c := qt.New(t)
	for _, op := range []string{"WaitForFences", "AcquireNextImage", "Submit", "Present"} {
		c.Run(op, func(c *qt.C) {
			e, dev := newEngine(c)
			s := &probeScene{}
			initScene(c, e, s)
			runFrames(c, e, s, 1)

			dev.InjectError(op, device.ErrDeviceLost)
			err := e.RunFrame(s, frameTime)
			c.Assert(core.IsFatal(err), qt.IsTrue, qt.Commentf("%v", err))
			c.Assert(errors.Is(err, device.ErrDeviceLost), qt.IsTrue)

			_, again := e.BeginFrame()
			c.Assert(again, qt.Equals, err)
		})
	}
}

func TestFrameStateMisuse(t *testing.T) {
	c := qt.New(t)
	e, _ := newEngine(c)

	c.Assert(e.CommandBuffer(), qt.IsNil)
	c.Assert(errors.Is(e.EndFrame(), core.ErrInvalidState), qt.IsTrue)

	ok, err := e.BeginFrame()
	c.Assert(err, qt.IsNil)
	c.Assert(ok, qt.IsTrue)
	c.Assert(e.State(), qt.Equals, core.Recording)
	c.Assert(e.CommandBuffer(), qt.Not(qt.IsNil))

	_, err = e.BeginFrame()
	c.Assert(errors.Is(err, core.ErrInvalidState), qt.IsTrue)
	c.Assert(e.State(), qt.Equals, core.Recording)
	c.Assert(e.EndFrame(), qt.IsNil)
	c.Assert(e.State(), qt.Equals, core.Idle)
}

func TestFrameStateString(t *testing.T) {
	c := qt.New(t)
	c.Assert(core.Presenting.String(), qt.Equals, "presenting")
	c.Assert(core.FrameState(42).String(), qt.Equals, "FrameState(42)")
}
