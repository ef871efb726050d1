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

// CreateRenderPass implements device.Device. The color attachment ends in
// the transfer source layout, the frame is blitted to the swapchain image.
func (d *Device) CreateRenderPass(desc device.RenderPassDesc) (device.RenderPass, error) {
	attachments := []vk.AttachmentDescription{{
		Format:         format(desc.ColorFormat),
		Samples:        vk.SampleCount1Bit,
		LoadOp:         vk.AttachmentLoadOpClear,
		StoreOp:        vk.AttachmentStoreOpStore,
		StencilLoadOp:  vk.AttachmentLoadOpDontCare,
		StencilStoreOp: vk.AttachmentStoreOpDontCare,
		InitialLayout:  vk.ImageLayoutUndefined,
		FinalLayout:    vk.ImageLayoutTransferSrcOptimal,
	}}
	colorAttachmentRef := []vk.AttachmentReference{{
		Attachment: 0,
		Layout:     vk.ImageLayoutColorAttachmentOptimal,
	}}
	subpass := vk.SubpassDescription{
		PipelineBindPoint:    vk.PipelineBindPointGraphics,
		ColorAttachmentCount: uint32(len(colorAttachmentRef)),
		PColorAttachments:    colorAttachmentRef,
	}
	if desc.DepthFormat != device.FormatUndefined {
		attachments = append(attachments, vk.AttachmentDescription{
			Format:         format(desc.DepthFormat),
			Samples:        vk.SampleCount1Bit,
			LoadOp:         vk.AttachmentLoadOpClear,
			StoreOp:        vk.AttachmentStoreOpDontCare,
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  vk.ImageLayoutUndefined,
			FinalLayout:    vk.ImageLayoutDepthStencilAttachmentOptimal,
		})
		subpass.PDepthStencilAttachment = &vk.AttachmentReference{
			Attachment: 1,
			Layout:     vk.ImageLayoutDepthStencilAttachmentOptimal,
		}
	}

	attachmentStages := vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit | vk.PipelineStageEarlyFragmentTestsBit | vk.PipelineStageLateFragmentTestsBit)
	dependencies := []vk.SubpassDependency{{
		// the previous frame's blit reads the same color target
		SrcSubpass:    vk.SubpassExternal,
		DstSubpass:    0,
		SrcStageMask:  attachmentStages | vk.PipelineStageFlags(vk.PipelineStageTransferBit),
		SrcAccessMask: vk.AccessFlags(vk.AccessTransferReadBit),
		DstStageMask:  attachmentStages,
		DstAccessMask: vk.AccessFlags(vk.AccessColorAttachmentWriteBit | vk.AccessDepthStencilAttachmentWriteBit),
	}, {
		SrcSubpass:    0,
		DstSubpass:    vk.SubpassExternal,
		SrcStageMask:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
		SrcAccessMask: vk.AccessFlags(vk.AccessColorAttachmentWriteBit),
		DstStageMask:  vk.PipelineStageFlags(vk.PipelineStageTransferBit),
		DstAccessMask: vk.AccessFlags(vk.AccessTransferReadBit),
	}}

	rpci := vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(attachments)),
		PAttachments:    attachments,
		SubpassCount:    1,
		PSubpasses:      []vk.SubpassDescription{subpass},
		DependencyCount: uint32(len(dependencies)),
		PDependencies:   dependencies,
	}
	pass := &renderPass{device: d.device, desc: desc}
	if err := result("CreateRenderPass", vk.CreateRenderPass(d.device, &rpci, nil, &pass.pass)); err != nil {
		return nil, err
	}
	return pass, nil
}

type renderPass struct {
	device vk.Device
	pass   vk.RenderPass
	desc   device.RenderPassDesc
}

func (p *renderPass) Destroy() {
	vk.DestroyRenderPass(p.device, p.pass, nil)
}

// CreateFramebuffer implements device.Device.
func (d *Device) CreateFramebuffer(pass device.RenderPass, attachments []device.Image, size device.Extent) (device.Framebuffer, error) {
	views := make([]vk.ImageView, 0, len(attachments))
	for _, a := range attachments {
		img := a.(*image)
		if img.view == nil {
			return nil, fmt.Errorf("framebuffer attachment without a view: %w", device.ErrInvalidUsage)
		}
		views = append(views, img.view)
	}
	fci := vk.FramebufferCreateInfo{
		SType:           vk.StructureTypeFramebufferCreateInfo,
		RenderPass:      pass.(*renderPass).pass,
		AttachmentCount: uint32(len(views)),
		PAttachments:    views,
		Width:           size.Width,
		Height:          size.Height,
		Layers:          1,
	}
	fb := &framebuffer{device: d.device, extent: size}
	if err := result("CreateFramebuffer", vk.CreateFramebuffer(d.device, &fci, nil, &fb.framebuffer)); err != nil {
		return nil, err
	}
	return fb, nil
}

type framebuffer struct {
	device      vk.Device
	framebuffer vk.Framebuffer
	extent      device.Extent
}

func (f *framebuffer) Extent() device.Extent { return f.extent }

func (f *framebuffer) Destroy() {
	vk.DestroyFramebuffer(f.device, f.framebuffer, nil)
}

// CreatePipeline implements device.Device. Shaders are looked up by name
// in the shader source, viewport and scissor are dynamic state.
func (d *Device) CreatePipeline(pass device.RenderPass, desc device.PipelineDesc) (device.Pipeline, error) {
	if len(desc.Uniforms) > maxUniformBindings {
		return nil, fmt.Errorf("pipeline %s has %d uniform bindings, at most %d are supported: %w",
			desc.Name, len(desc.Uniforms), maxUniformBindings, device.ErrInvalidUsage)
	}
	p := &pipeline{owner: d, desc: desc}
	if err := p.createLayout(); err != nil {
		p.Destroy()
		return nil, err
	}

	vertex, err := d.loadShader(desc.VertexShader)
	if err != nil {
		p.Destroy()
		return nil, err
	}
	defer vertex.Destroy()
	fragment, err := d.loadShader(desc.FragmentShader)
	if err != nil {
		p.Destroy()
		return nil, err
	}
	defer fragment.Destroy()

	stages := []vk.PipelineShaderStageCreateInfo{{
		SType:  vk.StructureTypePipelineShaderStageCreateInfo,
		Stage:  vk.ShaderStageVertexBit,
		Module: vertex.module,
		PName:  "main\x00",
	}, {
		SType:  vk.StructureTypePipelineShaderStageCreateInfo,
		Stage:  vk.ShaderStageFragmentBit,
		Module: fragment.module,
		PName:  "main\x00",
	}}

	bindings := make([]vk.VertexInputBindingDescription, 0, len(desc.Bindings))
	for i, b := range desc.Bindings {
		rate := vk.VertexInputRateVertex
		if b.PerInstance {
			rate = vk.VertexInputRateInstance
		}
		bindings = append(bindings, vk.VertexInputBindingDescription{
			Binding:   uint32(i),
			Stride:    uint32(b.Stride),
			InputRate: rate,
		})
	}
	attributes := make([]vk.VertexInputAttributeDescription, 0, len(desc.Attributes))
	for _, a := range desc.Attributes {
		attributes = append(attributes, vk.VertexInputAttributeDescription{
			Location: uint32(a.Location),
			Binding:  uint32(a.Binding),
			Format:   vertexFormat(a.Format),
			Offset:   uint32(a.Offset),
		})
	}

	depthTest := vk.Bool32(vk.False)
	if desc.DepthTest {
		depthTest = vk.True
	}

	gpci := []vk.GraphicsPipelineCreateInfo{{
		SType:      vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount: uint32(len(stages)),
		PStages:    stages,
		PVertexInputState: &vk.PipelineVertexInputStateCreateInfo{
			SType:                           vk.StructureTypePipelineVertexInputStateCreateInfo,
			VertexBindingDescriptionCount:   uint32(len(bindings)),
			PVertexBindingDescriptions:      bindings,
			VertexAttributeDescriptionCount: uint32(len(attributes)),
			PVertexAttributeDescriptions:    attributes,
		},
		PInputAssemblyState: &vk.PipelineInputAssemblyStateCreateInfo{
			SType:    vk.StructureTypePipelineInputAssemblyStateCreateInfo,
			Topology: topology(desc.Topology),
		},
		PViewportState: &vk.PipelineViewportStateCreateInfo{
			SType:         vk.StructureTypePipelineViewportStateCreateInfo,
			ViewportCount: 1,
			ScissorCount:  1,
		},
		PRasterizationState: &vk.PipelineRasterizationStateCreateInfo{
			SType:       vk.StructureTypePipelineRasterizationStateCreateInfo,
			PolygonMode: vk.PolygonModeFill,
			CullMode:    vk.CullModeFlags(vk.CullModeNone),
			FrontFace:   vk.FrontFaceClockwise,
			LineWidth:   1.0,
		},
		PDepthStencilState: &vk.PipelineDepthStencilStateCreateInfo{
			SType:                 vk.StructureTypePipelineDepthStencilStateCreateInfo,
			DepthTestEnable:       depthTest,
			DepthWriteEnable:      depthTest,
			DepthCompareOp:        vk.CompareOpLessOrEqual,
			DepthBoundsTestEnable: vk.False,
			StencilTestEnable:     vk.False,
			Back: vk.StencilOpState{
				FailOp:    vk.StencilOpKeep,
				PassOp:    vk.StencilOpKeep,
				CompareOp: vk.CompareOpAlways,
			},
			Front: vk.StencilOpState{
				FailOp:    vk.StencilOpKeep,
				PassOp:    vk.StencilOpKeep,
				CompareOp: vk.CompareOpAlways,
			},
		},
		PMultisampleState: &vk.PipelineMultisampleStateCreateInfo{
			SType:                vk.StructureTypePipelineMultisampleStateCreateInfo,
			RasterizationSamples: vk.SampleCount1Bit,
		},
		PColorBlendState: &vk.PipelineColorBlendStateCreateInfo{
			SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
			AttachmentCount: 1,
			PAttachments:    []vk.PipelineColorBlendAttachmentState{blendState(desc.Blend)},
		},
		PDynamicState: &vk.PipelineDynamicStateCreateInfo{
			SType:             vk.StructureTypePipelineDynamicStateCreateInfo,
			DynamicStateCount: 2,
			PDynamicStates: []vk.DynamicState{
				vk.DynamicStateScissor,
				vk.DynamicStateViewport,
			},
		},
		Layout:     p.layout,
		RenderPass: pass.(*renderPass).pass,
	}}

	pipelines := make([]vk.Pipeline, len(gpci))
	if err := result("CreateGraphicsPipelines", vk.CreateGraphicsPipelines(d.device, d.pipelineCache, uint32(len(gpci)), gpci, nil, pipelines)); err != nil {
		p.Destroy()
		return nil, fmt.Errorf("pipeline %s: %w", desc.Name, err)
	}
	p.pipeline = pipelines[0]
	d.log.WithField("pipeline", desc.Name).Debug("pipeline created")
	return p, nil
}

type pipeline struct {
	owner     *Device
	desc      device.PipelineDesc
	setLayout vk.DescriptorSetLayout
	layout    vk.PipelineLayout
	pipeline  vk.Pipeline
}

// createLayout makes one descriptor set with a uniform
// buffer for every uniform binding.
func (p *pipeline) createLayout() error {
	bindings := make([]vk.DescriptorSetLayoutBinding, 0, len(p.desc.Uniforms))
	for _, u := range p.desc.Uniforms {
		bindings = append(bindings, vk.DescriptorSetLayoutBinding{
			Binding:         uint32(u.Binding),
			DescriptorType:  vk.DescriptorTypeUniformBuffer,
			DescriptorCount: 1,
			StageFlags:      shaderStages(u.Stages),
		})
	}
	dslci := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(bindings)),
		PBindings:    bindings,
	}
	if err := result("CreateDescriptorSetLayout", vk.CreateDescriptorSetLayout(p.owner.device, &dslci, nil, &p.setLayout)); err != nil {
		return err
	}

	plci := vk.PipelineLayoutCreateInfo{
		SType:          vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount: 1,
		PSetLayouts:    []vk.DescriptorSetLayout{p.setLayout},
	}
	return result("CreatePipelineLayout", vk.CreatePipelineLayout(p.owner.device, &plci, nil, &p.layout))
}

func (p *pipeline) Desc() device.PipelineDesc {
	return p.desc
}

func (p *pipeline) Destroy() {
	dev := p.owner.device
	if p.pipeline != nil {
		vk.DestroyPipeline(dev, p.pipeline, nil)
	}
	if p.layout != nil {
		vk.DestroyPipelineLayout(dev, p.layout, nil)
	}
	if p.setLayout != nil {
		p.owner.descriptors.forgetLayout(p.setLayout)
		vk.DestroyDescriptorSetLayout(dev, p.setLayout, nil)
	}
}
