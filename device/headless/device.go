// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package headless is a software rendering device. Queues run on their own
// goroutines, so submitted work really is asynchronous to the caller and
// synchronization mistakes show up as deadlocks, misuse errors or wrong
// pixels instead of passing silently. Frames are presented into memory.
package headless

import (
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/devblok/koruframe/device"
	log "github.com/sirupsen/logrus"
)

// Option configures a Device.
type Option func(*Device)

// WithSurface sets the initial surface size, 800x600 by default.
func WithSurface(width, height uint32) Option {
	return func(d *Device) {
		d.surface.extent = device.Extent{Width: width, Height: height}
	}
}

// WithRasterizer registers a software implementation for pipelines
// created with the given name. Draws with unknown pipelines are
// counted but draw nothing.
func WithRasterizer(name string, fn RasterFunc) Option {
	return func(d *Device) {
		d.rasterizers[name] = fn
	}
}

// WithLatency delays every queue submission, simulating a slow GPU.
func WithLatency(latency time.Duration) Option {
	return func(d *Device) {
		d.latency = latency
	}
}

// WithSharedTransfer makes transfers run on the graphics queue,
// like GPUs that don't expose a dedicated transfer family.
func WithSharedTransfer() Option {
	return func(d *Device) {
		d.sharedTransfer = true
	}
}

// WithLogger sets the logger, the standard logrus logger by default.
func WithLogger(logger log.FieldLogger) Option {
	return func(d *Device) {
		d.log = logger
	}
}

// WithPresentHook calls fn from the present queue for every presented
// image. The image is a copy owned by fn.
func WithPresentHook(fn func(index int, img *image.RGBA)) Option {
	return func(d *Device) {
		d.onPresent = fn
	}
}

// Stats are counters of everything the device executed.
type Stats struct {
	Submits             int
	TransferSubmits     int
	BufferCopies        int
	BytesCopied         int
	Draws               int
	Presents            int
	IdleWaits           int
	SwapchainsCreated   int
	SwapchainsDestroyed int
	FramesInFlight      int
	MaxFramesInFlight   int
}

// New creates a headless device with its surface.
func New(opts ...Option) *Device {
	d := &Device{
		log:         log.StandardLogger(),
		rasterizers: make(map[string]RasterFunc),
		injected:    make(map[string]error),
	}
	d.surface = &Surface{extent: device.Extent{Width: 800, Height: 600}}
	for _, opt := range opts {
		opt(d)
	}

	d.graphics = newQueue(d, device.GraphicsQueue)
	if d.sharedTransfer {
		d.transfer = d.graphics
	} else {
		d.transfer = newQueue(d, device.TransferQueue)
	}
	return d
}

// Device is a software device.
type Device struct {
	log            log.FieldLogger
	surface        *Surface
	rasterizers    map[string]RasterFunc
	latency        time.Duration
	sharedTransfer bool
	onPresent      func(int, *image.RGBA)

	graphics *queue
	transfer *queue

	live int64

	mutex    sync.Mutex
	injected map[string]error
	stats    Stats
}

// Surface returns the virtual window surface.
func (d *Device) Surface() *Surface {
	return d.surface
}

// Stats returns a snapshot of the counters.
func (d *Device) Stats() Stats {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.stats
}

// LiveObjects returns the number of created and not yet destroyed objects.
func (d *Device) LiveObjects() int {
	return int(atomic.LoadInt64(&d.live))
}

// InjectError makes the next call of the named operation fail with err.
// Operations are named after the interface methods, like "Submit",
// "Present", "AcquireNextImage" or "CreateFence".
func (d *Device) InjectError(op string, err error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.injected[op] = err
}

// Hold stops the queue of the given kind from starting new work
// until the returned release function is called.
func (d *Device) Hold(kind device.QueueKind) (release func()) {
	q := d.queue(kind)
	q.hold.Lock()
	var once sync.Once
	return func() {
		once.Do(q.hold.Unlock)
	}
}

func (d *Device) failure(op string) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if err, ok := d.injected[op]; ok {
		delete(d.injected, op)
		return fmt.Errorf("headless.%s(): %w", op, err)
	}
	return nil
}

func (d *Device) count(fn func(*Stats)) {
	d.mutex.Lock()
	fn(&d.stats)
	d.mutex.Unlock()
}

func (d *Device) created() {
	atomic.AddInt64(&d.live, 1)
}

func (d *Device) released() {
	atomic.AddInt64(&d.live, -1)
}

func (d *Device) queue(kind device.QueueKind) *queue {
	if kind == device.TransferQueue {
		return d.transfer
	}
	return d.graphics
}

// Info implements interface
func (d *Device) Info() device.PhysicalDeviceInfo {
	transfer := 1
	if d.sharedTransfer {
		transfer = 0
	}
	return device.PhysicalDeviceInfo{
		Name:           "headless",
		Extensions:     []string{"VK_KHR_swapchain"},
		GraphicsFamily: 0,
		TransferFamily: transfer,
		PresentFamily:  0,
	}
}

// Queue implements interface
func (d *Device) Queue(kind device.QueueKind) device.Queue {
	return d.queue(kind)
}

// CreateBuffer implements interface
func (d *Device) CreateBuffer(size int, usage device.BufferUsage, memory device.MemoryKind) (device.Buffer, error) {
	if err := d.failure("CreateBuffer"); err != nil {
		return nil, err
	}
	if size <= 0 {
		return nil, fmt.Errorf("headless.CreateBuffer(): size %d: %w", size, device.ErrInvalidUsage)
	}
	d.created()
	return &Buffer{
		dev:    d,
		usage:  usage,
		memory: memory,
		data:   make([]byte, size),
	}, nil
}

// CreateImage implements interface
func (d *Device) CreateImage(desc device.ImageDesc) (device.Image, error) {
	if err := d.failure("CreateImage"); err != nil {
		return nil, err
	}
	if desc.Extent.Empty() {
		return nil, fmt.Errorf("headless.CreateImage(): extent %s: %w", desc.Extent, device.ErrInvalidUsage)
	}
	d.created()
	return newImage(d, desc), nil
}

// CreateSemaphore implements interface
func (d *Device) CreateSemaphore() (device.Semaphore, error) {
	if err := d.failure("CreateSemaphore"); err != nil {
		return nil, err
	}
	d.created()
	return &Semaphore{dev: d, ch: make(chan struct{}, 1)}, nil
}

// CreateFence implements interface
func (d *Device) CreateFence(signaled bool) (device.Fence, error) {
	if err := d.failure("CreateFence"); err != nil {
		return nil, err
	}
	d.created()
	f := &Fence{dev: d, ch: make(chan struct{})}
	if signaled {
		f.signal()
	}
	return f, nil
}

// CreateCommandPool implements interface
func (d *Device) CreateCommandPool(kind device.QueueKind) (device.CommandPool, error) {
	if err := d.failure("CreateCommandPool"); err != nil {
		return nil, err
	}
	d.created()
	return &CommandPool{dev: d, kind: kind}, nil
}

// CreateRenderPass implements interface
func (d *Device) CreateRenderPass(desc device.RenderPassDesc) (device.RenderPass, error) {
	if err := d.failure("CreateRenderPass"); err != nil {
		return nil, err
	}
	if desc.ColorFormat.IsDepth() || desc.ColorFormat == device.FormatUndefined {
		return nil, fmt.Errorf("headless.CreateRenderPass(): color format %d: %w", desc.ColorFormat, device.ErrInvalidUsage)
	}
	d.created()
	return &RenderPass{dev: d, desc: desc}, nil
}

// CreateFramebuffer implements interface
func (d *Device) CreateFramebuffer(pass device.RenderPass, attachments []device.Image, extent device.Extent) (device.Framebuffer, error) {
	if err := d.failure("CreateFramebuffer"); err != nil {
		return nil, err
	}
	fb := &Framebuffer{dev: d, pass: pass.(*RenderPass), extent: extent}
	for _, a := range attachments {
		img := a.(*Image)
		if img.extent != extent {
			return nil, fmt.Errorf("headless.CreateFramebuffer(): attachment %s, framebuffer %s: %w", img.extent, extent, device.ErrInvalidUsage)
		}
		if img.format.IsDepth() {
			fb.depth = img
		} else {
			fb.color = img
		}
	}
	if fb.color == nil {
		return nil, fmt.Errorf("headless.CreateFramebuffer(): no color attachment: %w", device.ErrInvalidUsage)
	}
	d.created()
	return fb, nil
}

// CreatePipeline implements interface
func (d *Device) CreatePipeline(pass device.RenderPass, desc device.PipelineDesc) (device.Pipeline, error) {
	if err := d.failure("CreatePipeline"); err != nil {
		return nil, err
	}
	d.created()
	return &Pipeline{dev: d, desc: desc, raster: d.rasterizers[desc.Name]}, nil
}

// WaitForFences implements interface
func (d *Device) WaitForFences(fences []device.Fence, timeout time.Duration) error {
	if err := d.failure("WaitForFences"); err != nil {
		return err
	}
	var deadline <-chan time.Time
	if timeout != device.NoTimeout {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}
	for _, f := range fences {
		select {
		case <-f.(*Fence).done():
		case <-deadline:
			return device.ErrTimeout
		}
	}
	return nil
}

// ResetFences implements interface
func (d *Device) ResetFences(fences []device.Fence) error {
	if err := d.failure("ResetFences"); err != nil {
		return err
	}
	for _, f := range fences {
		f.(*Fence).reset()
	}
	return nil
}

// SurfaceCapabilities implements interface
func (d *Device) SurfaceCapabilities() (device.SurfaceCapabilities, error) {
	if err := d.failure("SurfaceCapabilities"); err != nil {
		return device.SurfaceCapabilities{}, err
	}
	return device.SurfaceCapabilities{
		CurrentExtent:  d.surface.Extent(),
		MinImageCount:  2,
		MaxImageCount:  8,
		PreferedFormat: device.FormatB8G8R8A8Unorm,
	}, nil
}

// CreateSwapchain implements interface
func (d *Device) CreateSwapchain(desc device.SwapchainDesc) (device.Swapchain, error) {
	if err := d.failure("CreateSwapchain"); err != nil {
		return nil, err
	}
	if desc.Extent.Empty() {
		return nil, fmt.Errorf("headless.CreateSwapchain(): extent %s: %w", desc.Extent, device.ErrInvalidUsage)
	}
	count := desc.MinImageCount
	if count < 2 {
		count = 2
	} else if count > 8 {
		count = 8
	}

	sc := &Swapchain{dev: d, extent: desc.Extent, format: desc.Format}
	for i := 0; i < count; i++ {
		sc.images = append(sc.images, newImage(d, device.ImageDesc{
			Extent: desc.Extent,
			Format: desc.Format,
			Usage:  device.ImageUsageColorAttachment | device.ImageUsageTransferDst,
		}))
	}
	d.created()
	d.count(func(s *Stats) { s.SwapchainsCreated++ })
	d.log.WithFields(log.Fields{"extent": desc.Extent, "images": count}).Debug("headless swapchain created")
	return sc, nil
}

// WaitIdle implements interface
func (d *Device) WaitIdle() error {
	if err := d.failure("WaitIdle"); err != nil {
		return err
	}
	d.count(func(s *Stats) { s.IdleWaits++ })
	if err := d.transfer.WaitIdle(); err != nil {
		return err
	}
	return d.graphics.WaitIdle()
}

// Destroy stops the queues. Work still queued is finished first.
func (d *Device) Destroy() {
	d.transfer.close()
	d.graphics.close()
	if live := d.LiveObjects(); live != 0 {
		d.log.WithField("objects", live).Warn("headless device destroyed with live objects")
	}
}
