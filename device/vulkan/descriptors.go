// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vulkan

import (
	"sync"

	"github.com/devblok/koruframe/device"
	vk "github.com/vulkan-go/vulkan"
)

// maxUniformBindings is the most uniform buffers a pipeline can bind.
const maxUniformBindings = 4

type descriptorKey struct {
	layout  vk.DescriptorSetLayout
	buffers [maxUniformBindings]vk.Buffer
}

// descriptorCache keeps one descriptor set per pipeline layout and set of
// bound buffers. Frame slots bind the same buffers every time they come
// around, so sets are written once and reused until either side goes away.
type descriptorCache struct {
	device vk.Device
	pool   vk.DescriptorPool

	mutex sync.Mutex
	sets  map[descriptorKey]vk.DescriptorSet
}

func newDescriptorCache(dev vk.Device, pool vk.DescriptorPool) *descriptorCache {
	return &descriptorCache{
		device: dev,
		pool:   pool,
		sets:   make(map[descriptorKey]vk.DescriptorSet),
	}
}

func (c *descriptorCache) set(layout vk.DescriptorSetLayout, uniforms []device.UniformBinding, buffers []vk.Buffer) (vk.DescriptorSet, error) {
	key := descriptorKey{layout: layout}
	copy(key.buffers[:], buffers)

	c.mutex.Lock()
	defer c.mutex.Unlock()
	if set, ok := c.sets[key]; ok {
		return set, nil
	}

	dsai := vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     c.pool,
		DescriptorSetCount: 1,
		PSetLayouts:        []vk.DescriptorSetLayout{layout},
	}
	var set vk.DescriptorSet
	if err := result("AllocateDescriptorSets", vk.AllocateDescriptorSets(c.device, &dsai, &set)); err != nil {
		return nil, err
	}

	writes := make([]vk.WriteDescriptorSet, 0, len(uniforms))
	for i, u := range uniforms {
		writes = append(writes, vk.WriteDescriptorSet{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          set,
			DstBinding:      uint32(u.Binding),
			DescriptorCount: 1,
			DescriptorType:  vk.DescriptorTypeUniformBuffer,
			PBufferInfo: []vk.DescriptorBufferInfo{{
				Buffer: buffers[i],
				Range:  vk.DeviceSize(u.Size),
			}},
		})
	}
	vk.UpdateDescriptorSets(c.device, uint32(len(writes)), writes, 0, nil)
	c.sets[key] = set
	return set, nil
}

// forget frees the sets matching fn.
func (c *descriptorCache) forget(fn func(descriptorKey) bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	for key, set := range c.sets {
		if fn(key) {
			vk.FreeDescriptorSets(c.device, c.pool, 1, &set)
			delete(c.sets, key)
		}
	}
}

func (c *descriptorCache) forgetBuffer(b vk.Buffer) {
	c.forget(func(key descriptorKey) bool {
		for _, bound := range key.buffers {
			if bound == b {
				return true
			}
		}
		return false
	})
}

func (c *descriptorCache) forgetLayout(layout vk.DescriptorSetLayout) {
	c.forget(func(key descriptorKey) bool {
		return key.layout == layout
	})
}

// destroy forgets every set, the pool frees them.
func (c *descriptorCache) destroy() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.sets = make(map[descriptorKey]vk.DescriptorSet)
}
