// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"context"
	"fmt"
	"time"

	"github.com/devblok/koruframe/device"
	log "github.com/sirupsen/logrus"
)

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the engine logger, the standard logrus logger by default.
func WithLogger(logger log.FieldLogger) EngineOption {
	return func(e *Engine) {
		e.log = logger
	}
}

// Engine is the frame orchestrator. It is driven from a single goroutine.
type Engine struct {
	dev device.Device
	cfg RendererConfiguration
	log log.FieldLogger

	owned    arena
	pass     device.RenderPass
	ring     *frameRing
	targets  *targetSet
	dynamics syncList

	graphics device.Queue
	transfer device.Queue

	// transferFence is waited on before the staging memory is written again.
	transferFence device.Fence

	state      FrameState
	imageIndex int
	failed     error
	stats      FrameStats
}

// NewEngine creates the frame slots and render targets on dev.
// Any failure is fatal.
func NewEngine(dev device.Device, cfg RendererConfiguration, opts ...EngineOption) (*Engine, error) {
	if cfg.FramesInFlight < 2 {
		return nil, fmt.Errorf("frames in flight must be at least 2, got %d", cfg.FramesInFlight)
	}
	e := &Engine{
		dev:      dev,
		cfg:      cfg,
		log:      log.StandardLogger(),
		graphics: dev.Queue(device.GraphicsQueue),
		transfer: dev.Queue(device.TransferQueue),
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := e.initialise(); err != nil {
		if e.targets != nil {
			e.targets.destroy()
		}
		e.owned.destroy()
		return nil, err
	}

	info := dev.Info()
	e.log.WithFields(log.Fields{
		"device":            info.Name,
		"frames":            cfg.FramesInFlight,
		"extent":            e.targets.extent,
		"separate_transfer": info.SeparateTransfer(),
	}).Info("engine initialised")
	return e, nil
}

func (e *Engine) initialise() error {
	caps, err := e.dev.SurfaceCapabilities()
	if err != nil {
		return fatal("GetPhysicalDeviceSurfaceCapabilities", err)
	}

	if e.pass, err = e.dev.CreateRenderPass(device.RenderPassDesc{
		ColorFormat: caps.PreferedFormat,
		DepthFormat: device.FormatD32Sfloat,
	}); err != nil {
		return fatal("CreateRenderPass", err)
	}
	e.owned.keep(e.pass)

	graphicsPool, err := e.dev.CreateCommandPool(device.GraphicsQueue)
	if err != nil {
		return fatal("CreateCommandPool", err)
	}
	e.owned.keep(graphicsPool)
	transferPool, err := e.dev.CreateCommandPool(device.TransferQueue)
	if err != nil {
		return fatal("CreateCommandPool", err)
	}
	e.owned.keep(transferPool)

	if e.ring, err = newFrameRing(e.dev, e.cfg.FramesInFlight, graphicsPool, transferPool, &e.owned); err != nil {
		return err
	}

	if e.transferFence, err = e.dev.CreateFence(false); err != nil {
		return fatal("CreateFence", err)
	}
	e.owned.keep(e.transferFence)

	e.targets = &targetSet{
		dev:        e.dev,
		log:        e.log,
		pass:       e.pass,
		imageCount: int(e.cfg.SwapchainSize),
		format:     caps.PreferedFormat,
	}
	return e.targets.create()
}

// Device is the device the engine renders with.
func (e *Engine) Device() device.Device {
	return e.dev
}

// Logger is the engine logger.
func (e *Engine) Logger() log.FieldLogger {
	return e.log
}

// RenderPass is the pass frames render in, pipelines are created for it.
// It outlives render target recreation.
func (e *Engine) RenderPass() device.RenderPass {
	return e.pass
}

// FramesInFlight is the number of frame slots.
func (e *Engine) FramesInFlight() int {
	return e.ring.Len()
}

// Slot is the frame slot of the current or next frame.
func (e *Engine) Slot() int {
	return e.ring.Current()
}

// Extent is the size of the current render targets.
func (e *Engine) Extent() device.Extent {
	return e.targets.extent
}

// ImageIndex is the swapchain image the current frame renders to.
func (e *Engine) ImageIndex() int {
	return e.imageIndex
}

// State is the current frame state.
func (e *Engine) State() FrameState {
	return e.state
}

// Stats returns the frame counters.
func (e *Engine) Stats() FrameStats {
	s := e.stats
	s.Recreations = uint64(e.targets.recreations)
	return s
}

// CommandBuffer is the command buffer of the frame being recorded,
// nil outside of the recording state.
func (e *Engine) CommandBuffer() device.CommandBuffer {
	if e.state != Recording {
		return nil
	}
	return e.ring.slot(e.ring.Current()).commands
}

func (e *Engine) fail(err error) error {
	e.failed = err
	e.log.WithError(err).WithField("state", e.state).Error("frame failed")
	return err
}

// BeginFrame waits for the current slot, acquires a swapchain image and
// opens the render pass. It returns false when the frame was dropped
// because the render targets had to be recreated, nothing is recorded
// then and the slot is not advanced.
func (e *Engine) BeginFrame() (bool, error) {
	if e.failed != nil {
		return false, e.failed
	}
	if e.state != Idle {
		return false, fmt.Errorf("begin frame in %s state: %w", e.state, ErrInvalidState)
	}
	e.stats.Frames++

	if !e.targets.ready() {
		if err := e.targets.recreate(); err != nil {
			return false, e.fail(err)
		}
		if !e.targets.ready() {
			e.stats.Dropped++
			return false, nil
		}
	}

	e.state = Acquiring
	k := e.ring.Current()
	slot := e.ring.slot(k)
	if err := e.ring.AcquireSlot(k); err != nil {
		return false, e.fail(err)
	}

	index, ok, err := e.targets.AcquireImage(slot)
	if err != nil {
		return false, e.fail(err)
	}
	if !ok {
		e.state = Idle
		e.stats.Dropped++
		e.log.WithField("frame", e.stats.Frames).Debug("frame dropped")
		return false, nil
	}
	e.imageIndex = index

	if err := e.ring.ArmSlot(k); err != nil {
		return false, e.fail(err)
	}

	cmd := slot.commands
	if err := cmd.Reset(); err != nil {
		return false, e.fail(fatal("ResetCommandBuffer", err))
	}
	if err := cmd.Begin(); err != nil {
		return false, e.fail(fatal("BeginCommandBuffer", err))
	}

	extent := e.targets.extent
	cmd.BeginRenderPass(e.pass, e.targets.framebuffer, device.ClearValues{
		Color: e.cfg.ClearColor,
		Depth: 1,
	})
	cmd.SetViewport(device.Viewport{
		Width:    float32(extent.Width),
		Height:   float32(extent.Height),
		MaxDepth: 1,
	})
	cmd.SetScissor(device.Rect{Extent: extent})

	e.state = Recording
	return true, nil
}

// EndFrame closes the render pass, syncs dynamic buffers for the slot,
// submits the frame and presents it, then advances to the next slot.
func (e *Engine) EndFrame() error {
	if e.failed != nil {
		return e.failed
	}
	if e.state != Recording {
		return fmt.Errorf("end frame in %s state: %w", e.state, ErrInvalidState)
	}
	k := e.ring.Current()
	slot := e.ring.slot(k)
	cmd := slot.commands

	cmd.EndRenderPass()
	cmd.BlitToPresent(e.targets.color, e.targets.images[e.imageIndex])

	e.state = Syncing
	transferred, err := e.syncPass(k, slot)
	if err != nil {
		return e.fail(err)
	}
	if err := cmd.End(); err != nil {
		return e.fail(fatal("EndCommandBuffer", err))
	}

	e.state = Submitting
	submit := device.SubmitInfo{
		CommandBuffers:   []device.CommandBuffer{cmd},
		WaitSemaphores:   []device.Semaphore{slot.imageAvailable},
		WaitStages:       []device.PipelineStage{device.StageTransfer},
		SignalSemaphores: []device.Semaphore{slot.renderFinished},
		Fence:            slot.inFlight,
	}
	if transferred {
		submit.WaitSemaphores = append(submit.WaitSemaphores, slot.transferDone)
		submit.WaitStages = append(submit.WaitStages, device.StageVertexInput|device.StageVertexShader)
	}
	if err := e.graphics.Submit(submit); err != nil {
		return e.fail(fatal("QueueSubmit", err))
	}

	e.state = Presenting
	presented, err := e.targets.Present(e.dev.Queue(device.PresentQueue), slot, e.imageIndex)
	if err != nil {
		return e.fail(err)
	}
	if presented {
		e.stats.Presented++
	}

	e.ring.Advance()
	e.state = Idle
	return nil
}

// syncPass records the copies every dynamic buffer owes slot k. If there
// are any, they run on the transfer queue and signal the slot's transfer
// semaphore for the graphics submission to wait on. The CPU waits for the
// copies too, the staging memory is rewritten by the next frame's update.
func (e *Engine) syncPass(k int, slot *frameSlot) (bool, error) {
	cmd := slot.transfers
	if err := cmd.Reset(); err != nil {
		return false, fatal("ResetCommandBuffer", err)
	}
	if err := cmd.Begin(); err != nil {
		return false, fatal("BeginCommandBuffer", err)
	}
	copies := e.dynamics.sync(cmd, k)
	if err := cmd.End(); err != nil {
		return false, fatal("EndCommandBuffer", err)
	}
	if copies == 0 {
		return false, nil
	}

	if err := e.transfer.Submit(device.SubmitInfo{
		CommandBuffers:   []device.CommandBuffer{cmd},
		SignalSemaphores: []device.Semaphore{slot.transferDone},
		Fence:            e.transferFence,
	}); err != nil {
		return false, fatal("QueueSubmit", err)
	}
	fences := []device.Fence{e.transferFence}
	if err := e.dev.WaitForFences(fences, device.NoTimeout); err != nil {
		return false, fatal("WaitForFences", err)
	}
	if err := e.dev.ResetFences(fences); err != nil {
		return false, fatal("ResetFences", err)
	}

	e.stats.Copies += uint64(copies)
	e.stats.TransferSubmits++
	e.log.WithFields(log.Fields{"slot": k, "copies": copies}).Debug("dynamic buffers synced")
	return true, nil
}

// RunFrame updates the scene and, unless the frame gets dropped,
// records and presents it.
func (e *Engine) RunFrame(scene Scene, dt time.Duration) error {
	if err := scene.Update(e, dt); err != nil {
		return fmt.Errorf("scene update: %w", err)
	}
	ok, err := e.BeginFrame()
	if err != nil || !ok {
		return err
	}
	if err := scene.Render(e, e.CommandBuffer()); err != nil {
		return fmt.Errorf("scene render: %w", err)
	}
	return e.EndFrame()
}

// Run initialises the scene and runs frames paced by clock until ctx is
// done or poll reports the user wants to quit. poll may be nil. The device
// is idle and the scene shut down when Run returns.
func (e *Engine) Run(ctx context.Context, scene Scene, clock *Time, poll func() bool) error {
	if err := scene.Init(e); err != nil {
		return fmt.Errorf("scene init: %w", err)
	}
	defer func() {
		if err := e.dev.WaitIdle(); err != nil {
			e.log.WithError(err).Error("device wait idle on shutdown")
		}
		scene.Shutdown(e)
	}()

	clock.Delta()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-clock.Tick():
		}
		if poll != nil && poll() {
			return nil
		}
		if err := e.RunFrame(scene, clock.Delta()); err != nil {
			return err
		}
	}
}

// Destroy waits for the device to go idle and releases everything the
// engine created, in reverse order. Dynamic buffers are owned by whoever
// created them and must be destroyed before.
func (e *Engine) Destroy() {
	if err := e.dev.WaitIdle(); err != nil {
		e.log.WithError(err).Error("device wait idle on destroy")
	}
	if n := e.dynamics.len(); n > 0 {
		e.log.WithField("buffers", n).Warn("dynamic buffers outlive the engine")
	}
	e.targets.destroy()
	e.owned.destroy()
	e.log.WithField("frames", e.stats.Presented).Info("engine destroyed")
}
