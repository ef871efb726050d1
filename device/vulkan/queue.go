// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vulkan

import (
	"github.com/devblok/koruframe/device"
	vk "github.com/vulkan-go/vulkan"
)

// queue is the first queue of a family. Queue kinds
// sharing a family share the queue.
type queue struct {
	device *Device
	family uint32
	queue  vk.Queue
}

// Submit implements device.Queue.
func (q *queue) Submit(info device.SubmitInfo) error {
	commandBuffers := make([]vk.CommandBuffer, 0, len(info.CommandBuffers))
	for _, cmd := range info.CommandBuffers {
		commandBuffers = append(commandBuffers, cmd.(*commandBuffer).buffer)
	}
	waitStages := make([]vk.PipelineStageFlags, len(info.WaitSemaphores))
	for i := range waitStages {
		if i < len(info.WaitStages) {
			waitStages[i] = pipelineStages(info.WaitStages[i])
		} else {
			waitStages[i] = vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit)
		}
	}
	wait := semaphoreHandles(info.WaitSemaphores)
	signal := semaphoreHandles(info.SignalSemaphores)

	submit := []vk.SubmitInfo{{
		SType:                vk.StructureTypeSubmitInfo,
		WaitSemaphoreCount:   uint32(len(wait)),
		PWaitSemaphores:      wait,
		PWaitDstStageMask:    waitStages,
		CommandBufferCount:   uint32(len(commandBuffers)),
		PCommandBuffers:      commandBuffers,
		SignalSemaphoreCount: uint32(len(signal)),
		PSignalSemaphores:    signal,
	}}
	return result("QueueSubmit", vk.QueueSubmit(q.queue, 1, submit, fenceHandle(info.Fence)))
}

// Present implements device.Queue.
func (q *queue) Present(info device.PresentInfo) (bool, error) {
	wait := semaphoreHandles(info.WaitSemaphores)
	presentInfo := vk.PresentInfo{
		SType:              vk.StructureTypePresentInfo,
		WaitSemaphoreCount: uint32(len(wait)),
		PWaitSemaphores:    wait,
		SwapchainCount:     1,
		PSwapchains:        []vk.Swapchain{info.Swapchain.(*swapchain).swapchain},
		PImageIndices:      []uint32{uint32(info.ImageIndex)},
	}

	switch ret := vk.QueuePresent(q.queue, &presentInfo); ret {
	case vk.Success:
		return false, nil
	case vk.Suboptimal:
		return true, nil
	default:
		return false, result("QueuePresent", ret)
	}
}

// WaitIdle implements device.Queue.
func (q *queue) WaitIdle() error {
	return result("QueueWaitIdle", vk.QueueWaitIdle(q.queue))
}
