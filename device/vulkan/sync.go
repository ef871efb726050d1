// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vulkan

import (
	"github.com/devblok/koruframe/device"
	vk "github.com/vulkan-go/vulkan"
)

type semaphore struct {
	device    vk.Device
	semaphore vk.Semaphore
}

func (s *semaphore) Destroy() {
	vk.DestroySemaphore(s.device, s.semaphore, nil)
}

type fence struct {
	device vk.Device
	fence  vk.Fence
}

func (f *fence) Destroy() {
	vk.DestroyFence(f.device, f.fence, nil)
}

// CreateSemaphore implements device.Device.
func (d *Device) CreateSemaphore() (device.Semaphore, error) {
	sci := vk.SemaphoreCreateInfo{
		SType: vk.StructureTypeSemaphoreCreateInfo,
	}
	s := &semaphore{device: d.device}
	if err := result("CreateSemaphore", vk.CreateSemaphore(d.device, &sci, nil, &s.semaphore)); err != nil {
		return nil, err
	}
	return s, nil
}

// CreateFence implements device.Device.
func (d *Device) CreateFence(signaled bool) (device.Fence, error) {
	fci := vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
	}
	if signaled {
		fci.Flags = vk.FenceCreateFlags(vk.FenceCreateSignaledBit)
	}
	f := &fence{device: d.device}
	if err := result("CreateFence", vk.CreateFence(d.device, &fci, nil, &f.fence)); err != nil {
		return nil, err
	}
	return f, nil
}

func semaphoreHandles(list []device.Semaphore) []vk.Semaphore {
	handles := make([]vk.Semaphore, 0, len(list))
	for _, s := range list {
		handles = append(handles, s.(*semaphore).semaphore)
	}
	return handles
}

func fenceHandles(list []device.Fence) []vk.Fence {
	handles := make([]vk.Fence, 0, len(list))
	for _, f := range list {
		handles = append(handles, f.(*fence).fence)
	}
	return handles
}

func fenceHandle(f device.Fence) vk.Fence {
	if f == nil {
		return vk.NullFence
	}
	return f.(*fence).fence
}
