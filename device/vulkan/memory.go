// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vulkan

import (
	"errors"
	"unsafe"

	vk "github.com/vulkan-go/vulkan"
)

// memory is one device memory allocation backing a single resource.
type memory struct {
	device vk.Device
	memory vk.DeviceMemory
	size   int
	mapped unsafe.Pointer
}

// Map maps the whole allocation, repeated calls return the same mapping.
func (m *memory) Map() ([]byte, error) {
	if m.mapped == nil {
		var ptr unsafe.Pointer
		if err := result("MapMemory", vk.MapMemory(m.device, m.memory, 0, vk.DeviceSize(m.size), 0, &ptr)); err != nil {
			return nil, err
		}
		m.mapped = ptr
	}
	return unsafe.Slice((*byte)(m.mapped), m.size), nil
}

// Unmap removes the memory mapping if it was mapped.
func (m *memory) Unmap() {
	if m.mapped != nil {
		vk.UnmapMemory(m.device, m.memory)
		m.mapped = nil
	}
}

// Release frees memory after unmapping it if previously mapped.
func (m *memory) Release() {
	m.Unmap()
	vk.FreeMemory(m.device, m.memory, nil)
}

// allocator hands out memory of the type resources ask for.
type allocator struct {
	device     vk.Device
	properties vk.PhysicalDeviceMemoryProperties
}

func newAllocator(dev vk.Device, gpu vk.PhysicalDevice) *allocator {
	var properties vk.PhysicalDeviceMemoryProperties
	vk.GetPhysicalDeviceMemoryProperties(gpu, &properties)
	properties.Deref()
	for idx := uint32(0); idx < properties.MemoryTypeCount; idx++ {
		properties.MemoryTypes[idx].Deref()
	}
	return &allocator{
		device:     dev,
		properties: properties,
	}
}

// Malloc allocates memory fitting req with all of the properties in prop.
func (a *allocator) Malloc(req vk.MemoryRequirements, prop vk.MemoryPropertyFlagBits) (*memory, error) {
	memTypeIdx, err := a.findMemoryType(req.MemoryTypeBits, vk.MemoryPropertyFlags(prop))
	if err != nil {
		return nil, err
	}

	mai := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  req.Size,
		MemoryTypeIndex: memTypeIdx,
	}

	var mem vk.DeviceMemory
	if err := result("AllocateMemory", vk.AllocateMemory(a.device, &mai, nil, &mem)); err != nil {
		return nil, err
	}
	return &memory{
		device: a.device,
		memory: mem,
		size:   int(req.Size),
	}, nil
}

func (a *allocator) findMemoryType(filter uint32, prop vk.MemoryPropertyFlags) (uint32, error) {
	for idx := uint32(0); idx < a.properties.MemoryTypeCount; idx++ {
		if filter&(1<<idx) != 0 && (a.properties.MemoryTypes[idx].PropertyFlags&prop) == prop {
			return idx, nil
		}
	}
	return 0, errors.New("suitable memory type not found")
}
