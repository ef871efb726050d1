// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vulkan

import (
	"errors"
	"fmt"
	"time"

	"github.com/devblok/koruframe/device"
	log "github.com/sirupsen/logrus"
	vk "github.com/vulkan-go/vulkan"
)

// ShaderSource finds compiled SPIR-V shaders by name.
type ShaderSource interface {
	Find(name string) ([]byte, error)
}

// ShaderFunc adapts a function to a ShaderSource.
type ShaderFunc func(name string) ([]byte, error)

// Find implements ShaderSource.
func (f ShaderFunc) Find(name string) ([]byte, error) {
	return f(name)
}

// Option configures a Device.
type Option func(*Device)

// WithShaders sets where pipelines load their shaders from.
func WithShaders(source ShaderSource) Option {
	return func(d *Device) {
		d.shaders = source
	}
}

// WithDrawableSize is asked for the surface size when the
// surface lets the swapchain decide it.
func WithDrawableSize(fn func() device.Extent) Option {
	return func(d *Device) {
		d.drawable = fn
	}
}

// WithLogger sets the logger, the standard logrus logger by default.
func WithLogger(logger log.FieldLogger) Option {
	return func(d *Device) {
		d.log = logger
	}
}

// maxDescriptorSets bounds the uniform bindings alive at once.
const maxDescriptorSets = 256

// New creates a logical device on the physical device with the given
// index. The instance must have its surface set.
func New(instance *Instance, index int, opts ...Option) (*Device, error) {
	if instance.surface == vk.NullSurface {
		return nil, errors.New("vulkan device needs a surface")
	}
	gpu, err := instance.gpu(index)
	if err != nil {
		return nil, err
	}

	d := &Device{
		log:      log.StandardLogger(),
		instance: instance,
		gpu:      gpu,
		surface:  instance.surface,
		info:     instance.physicalDeviceInfo(gpu),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.info.Invalid {
		return nil, fmt.Errorf("physical device %q can not render to the surface", d.info.Name)
	}
	if d.shaders == nil {
		return nil, errors.New("vulkan device needs a shader source")
	}

	if err := d.initialise(); err != nil {
		d.Destroy()
		return nil, err
	}
	d.log.WithFields(log.Fields{
		"device":   d.info.Name,
		"graphics": d.info.GraphicsFamily,
		"transfer": d.info.TransferFamily,
		"present":  d.info.PresentFamily,
		"format":   d.surfaceFormat.Format,
	}).Info("vulkan device created")
	return d, nil
}

// Device is a Vulkan logical device presenting to the instance surface.
type Device struct {
	log      log.FieldLogger
	instance *Instance
	shaders  ShaderSource
	drawable func() device.Extent

	gpu     vk.PhysicalDevice
	surface vk.Surface
	info    device.PhysicalDeviceInfo

	device        vk.Device
	allocator     *allocator
	queues        map[device.QueueKind]*queue
	surfaceFormat vk.SurfaceFormat

	pipelineCache  vk.PipelineCache
	descriptorPool vk.DescriptorPool
	descriptors    *descriptorCache
}

var _ device.Device = (*Device)(nil)

func (d *Device) initialise() error {
	required := []string{vk.KhrSwapchainExtensionName}
	if err := d.checkExtensions(required); err != nil {
		return err
	}

	families := uniqueFamilies(d.info.GraphicsFamily, d.info.TransferFamily, d.info.PresentFamily)
	queueInfos := make([]vk.DeviceQueueCreateInfo, 0, len(families))
	for _, family := range families {
		queueInfos = append(queueInfos, vk.DeviceQueueCreateInfo{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: family,
			QueueCount:       1,
			PQueuePriorities: []float32{1},
		})
	}

	extensions := safeStrings(required)
	dci := vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    uint32(len(queueInfos)),
		PQueueCreateInfos:       queueInfos,
		EnabledExtensionCount:   uint32(len(extensions)),
		PpEnabledExtensionNames: extensions,
	}
	var dev vk.Device
	if err := result("CreateDevice", vk.CreateDevice(d.gpu, &dci, nil, &dev)); err != nil {
		return err
	}
	d.device = dev
	d.allocator = newAllocator(dev, d.gpu)

	d.queues = make(map[device.QueueKind]*queue)
	byFamily := make(map[uint32]*queue)
	for kind, family := range map[device.QueueKind]int{
		device.GraphicsQueue: d.info.GraphicsFamily,
		device.TransferQueue: d.info.TransferFamily,
		device.PresentQueue:  d.info.PresentFamily,
	} {
		q, ok := byFamily[uint32(family)]
		if !ok {
			q = &queue{device: d, family: uint32(family)}
			vk.GetDeviceQueue(dev, q.family, 0, &q.queue)
			byFamily[q.family] = q
		}
		d.queues[kind] = q
	}

	if err := d.selectSurfaceFormat(); err != nil {
		return err
	}

	pcci := vk.PipelineCacheCreateInfo{
		SType: vk.StructureTypePipelineCacheCreateInfo,
	}
	if err := result("CreatePipelineCache", vk.CreatePipelineCache(dev, &pcci, nil, &d.pipelineCache)); err != nil {
		return err
	}

	dpci := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		Flags:         vk.DescriptorPoolCreateFlags(vk.DescriptorPoolCreateFreeDescriptorSetBit),
		MaxSets:       maxDescriptorSets,
		PoolSizeCount: 1,
		PPoolSizes: []vk.DescriptorPoolSize{{
			Type:            vk.DescriptorTypeUniformBuffer,
			DescriptorCount: maxDescriptorSets * maxUniformBindings,
		}},
	}
	if err := result("CreateDescriptorPool", vk.CreateDescriptorPool(dev, &dpci, nil, &d.descriptorPool)); err != nil {
		return err
	}
	d.descriptors = newDescriptorCache(dev, d.descriptorPool)
	return nil
}

func (d *Device) checkExtensions(required []string) error {
	have := make(map[string]bool, len(d.info.Extensions))
	for _, ext := range d.info.Extensions {
		have[ext] = true
	}
	for _, ext := range required {
		if !have[ext] {
			return fmt.Errorf("device extension %s is not supported by %s", ext, d.info.Name)
		}
	}
	return nil
}

// selectSurfaceFormat picks the first 8 bit unorm format the surface offers.
func (d *Device) selectSurfaceFormat() error {
	var count uint32
	if err := result("GetPhysicalDeviceSurfaceFormats", vk.GetPhysicalDeviceSurfaceFormats(d.gpu, d.surface, &count, nil)); err != nil {
		return err
	}
	formats := make([]vk.SurfaceFormat, count)
	if err := result("GetPhysicalDeviceSurfaceFormats", vk.GetPhysicalDeviceSurfaceFormats(d.gpu, d.surface, &count, formats)); err != nil {
		return err
	}
	for i := range formats {
		formats[i].Deref()
	}

	if len(formats) == 1 && formats[0].Format == vk.FormatUndefined {
		// the surface has no preference
		d.surfaceFormat = vk.SurfaceFormat{
			Format:     vk.FormatB8g8r8a8Unorm,
			ColorSpace: formats[0].ColorSpace,
		}
		return nil
	}
	for _, f := range formats {
		if fromFormat(f.Format) != device.FormatUndefined {
			d.surfaceFormat = f
			return nil
		}
	}
	return errors.New("vk.GetPhysicalDeviceSurfaceFormats(): surface has no usable format")
}

func uniqueFamilies(families ...int) []uint32 {
	var out []uint32
	seen := make(map[int]bool)
	for _, f := range families {
		if f < 0 || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, uint32(f))
	}
	return out
}

// Info implements device.Device.
func (d *Device) Info() device.PhysicalDeviceInfo {
	return d.info
}

// Queue implements device.Device.
func (d *Device) Queue(kind device.QueueKind) device.Queue {
	return d.queues[kind]
}

// sharedFamilies lists the families a resource is used from when
// those differ, buffers are then shared concurrently between them.
func (d *Device) sharedFamilies() []uint32 {
	return uniqueFamilies(d.info.GraphicsFamily, d.info.TransferFamily)
}

// WaitForFences implements device.Device.
func (d *Device) WaitForFences(fences []device.Fence, wait time.Duration) error {
	handles := fenceHandles(fences)
	return result("WaitForFences", vk.WaitForFences(d.device, uint32(len(handles)), handles, vk.True, timeout(wait)))
}

// ResetFences implements device.Device.
func (d *Device) ResetFences(fences []device.Fence) error {
	handles := fenceHandles(fences)
	return result("ResetFences", vk.ResetFences(d.device, uint32(len(handles)), handles))
}

// SurfaceCapabilities implements device.Device.
func (d *Device) SurfaceCapabilities() (device.SurfaceCapabilities, error) {
	var caps vk.SurfaceCapabilities
	if err := result("GetPhysicalDeviceSurfaceCapabilities", vk.GetPhysicalDeviceSurfaceCapabilities(d.gpu, d.surface, &caps)); err != nil {
		return device.SurfaceCapabilities{}, err
	}
	caps.Deref()
	caps.CurrentExtent.Deref()
	caps.MinImageExtent.Deref()
	caps.MaxImageExtent.Deref()

	current := device.Extent{Width: caps.CurrentExtent.Width, Height: caps.CurrentExtent.Height}
	if current.Width == vk.MaxUint32 {
		// the swapchain decides the size
		current = device.Extent{}
		if d.drawable != nil {
			current = clampExtent(d.drawable(),
				device.Extent{Width: caps.MinImageExtent.Width, Height: caps.MinImageExtent.Height},
				device.Extent{Width: caps.MaxImageExtent.Width, Height: caps.MaxImageExtent.Height})
		}
	}
	return device.SurfaceCapabilities{
		CurrentExtent:  current,
		MinImageCount:  int(caps.MinImageCount),
		MaxImageCount:  int(caps.MaxImageCount),
		PreferedFormat: fromFormat(d.surfaceFormat.Format),
	}, nil
}

// WaitIdle implements device.Device.
func (d *Device) WaitIdle() error {
	return result("DeviceWaitIdle", vk.DeviceWaitIdle(d.device))
}

// Destroy waits for the device and releases it. Everything
// created from the device must be destroyed before.
func (d *Device) Destroy() {
	if d.device == nil {
		return
	}
	vk.DeviceWaitIdle(d.device)
	if d.descriptors != nil {
		d.descriptors.destroy()
	}
	if d.descriptorPool != nil {
		vk.DestroyDescriptorPool(d.device, d.descriptorPool, nil)
	}
	if d.pipelineCache != nil {
		vk.DestroyPipelineCache(d.device, d.pipelineCache, nil)
	}
	vk.DestroyDevice(d.device, nil)
	d.device = nil
}
