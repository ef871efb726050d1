// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vulkan

import (
	"fmt"
	"time"

	"github.com/devblok/koruframe/device"
	vk "github.com/vulkan-go/vulkan"
)

// result turns a failed call into an error. Results that have a meaning
// in the device package wrap its sentinel errors.
func result(call string, ret vk.Result) error {
	switch ret {
	case vk.Success:
		return nil
	case vk.Timeout, vk.NotReady:
		return fmt.Errorf("vk.%s(): %w", call, device.ErrTimeout)
	case vk.ErrorOutOfDate:
		return fmt.Errorf("vk.%s(): %w", call, device.ErrOutOfDate)
	case vk.ErrorDeviceLost:
		return fmt.Errorf("vk.%s(): %w", call, device.ErrDeviceLost)
	}
	return fmt.Errorf("vk.%s(): %s", call, vk.Error(ret))
}

// timeout converts a wait duration to nanoseconds, NoTimeout
// and negative durations wait forever.
func timeout(d time.Duration) uint64 {
	if d == device.NoTimeout || d < 0 {
		return vk.MaxUint64
	}
	return uint64(d.Nanoseconds())
}

// safeString terminates s for the C side.
func safeString(s string) string {
	if len(s) == 0 || s[len(s)-1] != '\x00' {
		return s + "\x00"
	}
	return s
}

func safeStrings(list []string) []string {
	out := make([]string, 0, len(list))
	for _, s := range list {
		out = append(out, safeString(s))
	}
	return out
}

func format(f device.Format) vk.Format {
	switch f {
	case device.FormatB8G8R8A8Unorm:
		return vk.FormatB8g8r8a8Unorm
	case device.FormatR8G8B8A8Unorm:
		return vk.FormatR8g8b8a8Unorm
	case device.FormatD32Sfloat:
		return vk.FormatD32Sfloat
	}
	return vk.FormatUndefined
}

func fromFormat(f vk.Format) device.Format {
	switch f {
	case vk.FormatB8g8r8a8Unorm:
		return device.FormatB8G8R8A8Unorm
	case vk.FormatR8g8b8a8Unorm:
		return device.FormatR8G8B8A8Unorm
	case vk.FormatD32Sfloat:
		return device.FormatD32Sfloat
	}
	return device.FormatUndefined
}

func bufferUsage(u device.BufferUsage) vk.BufferUsageFlags {
	var flags vk.BufferUsageFlagBits
	for bit, vkBit := range map[device.BufferUsage]vk.BufferUsageFlagBits{
		device.BufferUsageTransferSrc: vk.BufferUsageTransferSrcBit,
		device.BufferUsageTransferDst: vk.BufferUsageTransferDstBit,
		device.BufferUsageVertex:      vk.BufferUsageVertexBufferBit,
		device.BufferUsageIndex:       vk.BufferUsageIndexBufferBit,
		device.BufferUsageUniform:     vk.BufferUsageUniformBufferBit,
		device.BufferUsageStorage:     vk.BufferUsageStorageBufferBit,
	} {
		if u&bit != 0 {
			flags |= vkBit
		}
	}
	return vk.BufferUsageFlags(flags)
}

func imageUsage(u device.ImageUsage) vk.ImageUsageFlags {
	var flags vk.ImageUsageFlagBits
	for bit, vkBit := range map[device.ImageUsage]vk.ImageUsageFlagBits{
		device.ImageUsageColorAttachment: vk.ImageUsageColorAttachmentBit,
		device.ImageUsageDepthAttachment: vk.ImageUsageDepthStencilAttachmentBit,
		device.ImageUsageTransferSrc:     vk.ImageUsageTransferSrcBit,
		device.ImageUsageTransferDst:     vk.ImageUsageTransferDstBit,
		device.ImageUsageSampled:         vk.ImageUsageSampledBit,
	} {
		if u&bit != 0 {
			flags |= vkBit
		}
	}
	return vk.ImageUsageFlags(flags)
}

func pipelineStages(s device.PipelineStage) vk.PipelineStageFlags {
	var flags vk.PipelineStageFlagBits
	for bit, vkBit := range map[device.PipelineStage]vk.PipelineStageFlagBits{
		device.StageTopOfPipe:             vk.PipelineStageTopOfPipeBit,
		device.StageVertexInput:           vk.PipelineStageVertexInputBit,
		device.StageVertexShader:          vk.PipelineStageVertexShaderBit,
		device.StageColorAttachmentOutput: vk.PipelineStageColorAttachmentOutputBit,
		device.StageTransfer:              vk.PipelineStageTransferBit,
	} {
		if s&bit != 0 {
			flags |= vkBit
		}
	}
	if flags == 0 {
		flags = vk.PipelineStageTopOfPipeBit
	}
	return vk.PipelineStageFlags(flags)
}

func shaderStages(s device.ShaderStage) vk.ShaderStageFlags {
	var flags vk.ShaderStageFlagBits
	if s&device.ShaderStageVertex != 0 {
		flags |= vk.ShaderStageVertexBit
	}
	if s&device.ShaderStageFragment != 0 {
		flags |= vk.ShaderStageFragmentBit
	}
	return vk.ShaderStageFlags(flags)
}

func vertexFormat(f device.VertexFormat) vk.Format {
	switch f {
	case device.VertexFloat:
		return vk.FormatR32Sfloat
	case device.VertexFloat2:
		return vk.FormatR32g32Sfloat
	case device.VertexFloat3:
		return vk.FormatR32g32b32Sfloat
	case device.VertexFloat4:
		return vk.FormatR32g32b32a32Sfloat
	}
	return vk.FormatUndefined
}

func topology(t device.Topology) vk.PrimitiveTopology {
	switch t {
	case device.TopologyTriangleStrip:
		return vk.PrimitiveTopologyTriangleStrip
	case device.TopologyPointList:
		return vk.PrimitiveTopologyPointList
	}
	return vk.PrimitiveTopologyTriangleList
}

// blendState is premultiplied for alpha blending, so a sprite with
// zero alpha and a color adds light.
func blendState(mode device.BlendMode) vk.PipelineColorBlendAttachmentState {
	state := vk.PipelineColorBlendAttachmentState{
		ColorWriteMask: 0xF,
		BlendEnable:    vk.False,
	}
	switch mode {
	case device.BlendAlpha:
		state.BlendEnable = vk.True
		state.SrcColorBlendFactor = vk.BlendFactorOne
		state.DstColorBlendFactor = vk.BlendFactorOneMinusSrcAlpha
		state.ColorBlendOp = vk.BlendOpAdd
		state.SrcAlphaBlendFactor = vk.BlendFactorOne
		state.DstAlphaBlendFactor = vk.BlendFactorOneMinusSrcAlpha
		state.AlphaBlendOp = vk.BlendOpAdd
	case device.BlendAdditive:
		state.BlendEnable = vk.True
		state.SrcColorBlendFactor = vk.BlendFactorOne
		state.DstColorBlendFactor = vk.BlendFactorOne
		state.ColorBlendOp = vk.BlendOpAdd
		state.SrcAlphaBlendFactor = vk.BlendFactorOne
		state.DstAlphaBlendFactor = vk.BlendFactorOne
		state.AlphaBlendOp = vk.BlendOpAdd
	}
	return state
}

func extent(e device.Extent) vk.Extent2D {
	return vk.Extent2D{Width: e.Width, Height: e.Height}
}

// clampExtent fits want into the surface limits.
func clampExtent(want, lo, hi device.Extent) device.Extent {
	clamp := func(v, lo, hi uint32) uint32 {
		if hi > 0 && v > hi {
			v = hi
		}
		if v < lo {
			v = lo
		}
		return v
	}
	return device.Extent{
		Width:  clamp(want.Width, lo.Width, hi.Width),
		Height: clamp(want.Height, lo.Height, hi.Height),
	}
}
