// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vulkan

import (
	"fmt"

	"github.com/devblok/koruframe/device"
	vk "github.com/vulkan-go/vulkan"
)

// CreateBuffer creates, allocates and binds a new buffer. Buffers are
// shared concurrently when transfers run on their own queue family.
func (d *Device) CreateBuffer(size int, usage device.BufferUsage, kind device.MemoryKind) (device.Buffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("buffer of %d bytes: %w", size, device.ErrInvalidUsage)
	}
	createInfo := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(size),
		Usage:       bufferUsage(usage),
		SharingMode: vk.SharingModeExclusive,
	}
	if families := d.sharedFamilies(); len(families) > 1 {
		createInfo.SharingMode = vk.SharingModeConcurrent
		createInfo.QueueFamilyIndexCount = uint32(len(families))
		createInfo.PQueueFamilyIndices = families
	}

	var handle vk.Buffer
	if err := result("CreateBuffer", vk.CreateBuffer(d.device, &createInfo, nil, &handle)); err != nil {
		return nil, err
	}

	var req vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(d.device, handle, &req)
	req.Deref()

	properties := vk.MemoryPropertyDeviceLocalBit
	if kind == device.MemoryHostVisible {
		properties = vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit
	}
	mem, err := d.allocator.Malloc(req, properties)
	if err != nil {
		vk.DestroyBuffer(d.device, handle, nil)
		return nil, err
	}
	if err := result("BindBufferMemory", vk.BindBufferMemory(d.device, handle, mem.memory, 0)); err != nil {
		vk.DestroyBuffer(d.device, handle, nil)
		mem.Release()
		return nil, err
	}

	return &buffer{
		owner:  d,
		buffer: handle,
		memory: mem,
		size:   size,
		usage:  usage,
		kind:   kind,
	}, nil
}

type buffer struct {
	owner  *Device
	buffer vk.Buffer
	memory *memory
	size   int
	usage  device.BufferUsage
	kind   device.MemoryKind
}

func (b *buffer) Size() int                 { return b.size }
func (b *buffer) Usage() device.BufferUsage { return b.usage }

func (b *buffer) Map() ([]byte, error) {
	if b.kind != device.MemoryHostVisible {
		return nil, device.ErrNotMappable
	}
	data, err := b.memory.Map()
	if err != nil {
		return nil, err
	}
	return data[:b.size], nil
}

func (b *buffer) Unmap() {
	b.memory.Unmap()
}

// Destroy releases the buffer and the descriptor sets that refer to it.
func (b *buffer) Destroy() {
	b.owner.descriptors.forgetBuffer(b.buffer)
	vk.DestroyBuffer(b.owner.device, b.buffer, nil)
	b.memory.Release()
}

// CreateImage creates an optimally tiled device local image with a view.
func (d *Device) CreateImage(desc device.ImageDesc) (device.Image, error) {
	if desc.Extent.Empty() {
		return nil, fmt.Errorf("image of %s: %w", desc.Extent, device.ErrInvalidUsage)
	}
	vkFormat := format(desc.Format)
	ici := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType2d,
		Format:    vkFormat,
		Extent: vk.Extent3D{
			Width:  desc.Extent.Width,
			Height: desc.Extent.Height,
			Depth:  1,
		},
		MipLevels:     1,
		ArrayLayers:   1,
		Samples:       vk.SampleCount1Bit,
		Tiling:        vk.ImageTilingOptimal,
		Usage:         imageUsage(desc.Usage),
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}

	img := &image{
		device: d.device,
		extent: desc.Extent,
		format: desc.Format,
	}
	if err := result("CreateImage", vk.CreateImage(d.device, &ici, nil, &img.image)); err != nil {
		return nil, err
	}
	img.owned = true

	var req vk.MemoryRequirements
	vk.GetImageMemoryRequirements(d.device, img.image, &req)
	req.Deref()

	mem, err := d.allocator.Malloc(req, vk.MemoryPropertyDeviceLocalBit)
	if err != nil {
		img.Destroy()
		return nil, err
	}
	img.memory = mem
	if err := result("BindImageMemory", vk.BindImageMemory(d.device, img.image, mem.memory, 0)); err != nil {
		img.Destroy()
		return nil, err
	}
	if err := img.createView(); err != nil {
		img.Destroy()
		return nil, err
	}
	return img, nil
}

// image is an image with its view. Swapchain images are
// owned by their swapchain and have no view.
type image struct {
	device vk.Device
	image  vk.Image
	view   vk.ImageView
	memory *memory
	owned  bool
	extent device.Extent
	format device.Format
}

func (i *image) Extent() device.Extent { return i.extent }
func (i *image) Format() device.Format { return i.format }

func (i *image) aspect() vk.ImageAspectFlags {
	if i.format.IsDepth() {
		return vk.ImageAspectFlags(vk.ImageAspectDepthBit)
	}
	return vk.ImageAspectFlags(vk.ImageAspectColorBit)
}

func (i *image) createView() error {
	ivci := vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    i.image,
		ViewType: vk.ImageViewType2d,
		Format:   format(i.format),
		Components: vk.ComponentMapping{
			R: vk.ComponentSwizzleIdentity,
			G: vk.ComponentSwizzleIdentity,
			B: vk.ComponentSwizzleIdentity,
			A: vk.ComponentSwizzleIdentity,
		},
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask: i.aspect(),
			LevelCount: 1,
			LayerCount: 1,
		},
	}
	return result("CreateImageView", vk.CreateImageView(i.device, &ivci, nil, &i.view))
}

func (i *image) Destroy() {
	if i.view != nil {
		vk.DestroyImageView(i.device, i.view, nil)
		i.view = nil
	}
	if !i.owned {
		return
	}
	vk.DestroyImage(i.device, i.image, nil)
	i.owned = false
	if i.memory != nil {
		i.memory.Release()
		i.memory = nil
	}
}
