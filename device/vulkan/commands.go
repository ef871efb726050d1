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

// CreateCommandPool implements device.Device. Command buffers of the
// pool can be reset one by one.
func (d *Device) CreateCommandPool(kind device.QueueKind) (device.CommandPool, error) {
	q, ok := d.queues[kind]
	if !ok {
		return nil, fmt.Errorf("no %s queue: %w", kind, device.ErrInvalidUsage)
	}
	cpci := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
		QueueFamilyIndex: q.family,
	}
	pool := &commandPool{owner: d}
	if err := result("CreateCommandPool", vk.CreateCommandPool(d.device, &cpci, nil, &pool.pool)); err != nil {
		return nil, err
	}
	return pool, nil
}

type commandPool struct {
	owner *Device
	pool  vk.CommandPool
}

// Allocate implements device.CommandPool.
func (p *commandPool) Allocate() (device.CommandBuffer, error) {
	cbai := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        p.pool,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	}
	commandBuffers := make([]vk.CommandBuffer, 1)
	if err := result("AllocateCommandBuffers", vk.AllocateCommandBuffers(p.owner.device, &cbai, commandBuffers)); err != nil {
		return nil, err
	}
	return &commandBuffer{owner: p.owner, buffer: commandBuffers[0]}, nil
}

// Destroy frees the pool with all of its command buffers.
func (p *commandPool) Destroy() {
	vk.DestroyCommandPool(p.owner.device, p.pool, nil)
}

// commandBuffer records straight into the Vulkan command buffer. Recording
// calls can't fail, misuse is remembered and reported by End.
type commandBuffer struct {
	owner    *Device
	buffer   vk.CommandBuffer
	pipeline *pipeline
	err      error
}

func (c *commandBuffer) Reset() error {
	c.pipeline = nil
	c.err = nil
	return result("ResetCommandBuffer", vk.ResetCommandBuffer(c.buffer, 0))
}

func (c *commandBuffer) Begin() error {
	cbbi := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	}
	return result("BeginCommandBuffer", vk.BeginCommandBuffer(c.buffer, &cbbi))
}

func (c *commandBuffer) End() error {
	if err := result("EndCommandBuffer", vk.EndCommandBuffer(c.buffer)); err != nil {
		return err
	}
	return c.err
}

func (c *commandBuffer) fail(err error) {
	if c.err == nil {
		c.err = err
	}
}

func (c *commandBuffer) CopyBuffer(src, dst device.Buffer, size int) {
	vk.CmdCopyBuffer(c.buffer, src.(*buffer).buffer, dst.(*buffer).buffer, 1, []vk.BufferCopy{{
		Size: vk.DeviceSize(size),
	}})
}

func (c *commandBuffer) BeginRenderPass(pass device.RenderPass, fb device.Framebuffer, clear device.ClearValues) {
	clearValues := make([]vk.ClearValue, 2)
	clearValues[0].SetColor(clear.Color[:])
	clearValues[1].SetDepthStencil(clear.Depth, 0)

	framebuffer := fb.(*framebuffer)
	rpbi := vk.RenderPassBeginInfo{
		SType:       vk.StructureTypeRenderPassBeginInfo,
		RenderPass:  pass.(*renderPass).pass,
		Framebuffer: framebuffer.framebuffer,
		RenderArea: vk.Rect2D{
			Extent: extent(framebuffer.extent),
		},
		ClearValueCount: uint32(len(clearValues)),
		PClearValues:    clearValues,
	}
	vk.CmdBeginRenderPass(c.buffer, &rpbi, vk.SubpassContentsInline)
}

func (c *commandBuffer) EndRenderPass() {
	vk.CmdEndRenderPass(c.buffer)
}

func (c *commandBuffer) SetViewport(v device.Viewport) {
	vk.CmdSetViewport(c.buffer, 0, 1, []vk.Viewport{{
		X:        v.X,
		Y:        v.Y,
		Width:    v.Width,
		Height:   v.Height,
		MinDepth: v.MinDepth,
		MaxDepth: v.MaxDepth,
	}})
}

func (c *commandBuffer) SetScissor(r device.Rect) {
	vk.CmdSetScissor(c.buffer, 0, 1, []vk.Rect2D{{
		Offset: vk.Offset2D{X: r.X, Y: r.Y},
		Extent: extent(r.Extent),
	}})
}

func (c *commandBuffer) BindPipeline(p device.Pipeline) {
	c.pipeline = p.(*pipeline)
	vk.CmdBindPipeline(c.buffer, vk.PipelineBindPointGraphics, c.pipeline.pipeline)
}

func (c *commandBuffer) BindVertexBuffers(first int, buffers ...device.Buffer) {
	handles := make([]vk.Buffer, 0, len(buffers))
	offsets := make([]vk.DeviceSize, len(buffers))
	for _, b := range buffers {
		handles = append(handles, b.(*buffer).buffer)
	}
	vk.CmdBindVertexBuffers(c.buffer, uint32(first), uint32(len(handles)), handles, offsets)
}

func (c *commandBuffer) BindUniformBuffers(buffers ...device.Buffer) {
	if c.pipeline == nil {
		c.fail(fmt.Errorf("uniform buffers bound without a pipeline: %w", device.ErrInvalidUsage))
		return
	}
	uniforms := c.pipeline.desc.Uniforms
	if len(buffers) != len(uniforms) {
		c.fail(fmt.Errorf("pipeline %s takes %d uniform buffers, got %d: %w",
			c.pipeline.desc.Name, len(uniforms), len(buffers), device.ErrInvalidUsage))
		return
	}
	handles := make([]vk.Buffer, 0, len(buffers))
	for _, b := range buffers {
		handles = append(handles, b.(*buffer).buffer)
	}
	set, err := c.owner.descriptors.set(c.pipeline.setLayout, uniforms, handles)
	if err != nil {
		c.fail(err)
		return
	}
	vk.CmdBindDescriptorSets(c.buffer, vk.PipelineBindPointGraphics, c.pipeline.layout, 0, 1, []vk.DescriptorSet{set}, 0, nil)
}

func (c *commandBuffer) Draw(vertexCount, instanceCount, firstVertex, firstInstance int) {
	vk.CmdDraw(c.buffer, uint32(vertexCount), uint32(instanceCount), uint32(firstVertex), uint32(firstInstance))
}

// BlitToPresent expects src in the layout the render pass leaves color
// targets in. dst is transitioned for the copy and then for presentation.
func (c *commandBuffer) BlitToPresent(src, dst device.Image) {
	from, to := src.(*image), dst.(*image)
	colorRange := vk.ImageSubresourceRange{
		AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
		LevelCount: 1,
		LayerCount: 1,
	}

	c.imageBarrier(to.image, colorRange,
		vk.ImageLayoutUndefined, vk.ImageLayoutTransferDstOptimal,
		0, vk.AccessTransferWriteBit,
		vk.PipelineStageTransferBit, vk.PipelineStageTransferBit)

	layers := vk.ImageSubresourceLayers{
		AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
		LayerCount: 1,
	}
	blit := vk.ImageBlit{
		SrcSubresource: layers,
		SrcOffsets: [2]vk.Offset3D{
			{},
			{X: int32(from.extent.Width), Y: int32(from.extent.Height), Z: 1},
		},
		DstSubresource: layers,
		DstOffsets: [2]vk.Offset3D{
			{},
			{X: int32(to.extent.Width), Y: int32(to.extent.Height), Z: 1},
		},
	}
	vk.CmdBlitImage(c.buffer,
		from.image, vk.ImageLayoutTransferSrcOptimal,
		to.image, vk.ImageLayoutTransferDstOptimal,
		1, []vk.ImageBlit{blit}, vk.FilterLinear)

	c.imageBarrier(to.image, colorRange,
		vk.ImageLayoutTransferDstOptimal, vk.ImageLayoutPresentSrc,
		vk.AccessTransferWriteBit, 0,
		vk.PipelineStageTransferBit, vk.PipelineStageBottomOfPipeBit)
}

func (c *commandBuffer) imageBarrier(img vk.Image, subresource vk.ImageSubresourceRange,
	old, new vk.ImageLayout, srcAccess, dstAccess vk.AccessFlagBits, srcStage, dstStage vk.PipelineStageFlagBits) {
	barrier := vk.ImageMemoryBarrier{
		SType:               vk.StructureTypeImageMemoryBarrier,
		SrcAccessMask:       vk.AccessFlags(srcAccess),
		DstAccessMask:       vk.AccessFlags(dstAccess),
		OldLayout:           old,
		NewLayout:           new,
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Image:               img,
		SubresourceRange:    subresource,
	}
	vk.CmdPipelineBarrier(c.buffer, vk.PipelineStageFlags(srcStage), vk.PipelineStageFlags(dstStage),
		0, 0, nil, 0, nil, 1, []vk.ImageMemoryBarrier{barrier})
}
