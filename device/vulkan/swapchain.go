// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vulkan

import (
	"time"

	"github.com/devblok/koruframe/device"
	vk "github.com/vulkan-go/vulkan"
)

// CreateSwapchain implements device.Device. Images are only ever blitted
// to, frames render off-screen.
func (d *Device) CreateSwapchain(desc device.SwapchainDesc) (device.Swapchain, error) {
	var caps vk.SurfaceCapabilities
	if err := result("GetPhysicalDeviceSurfaceCapabilities", vk.GetPhysicalDeviceSurfaceCapabilities(d.gpu, d.surface, &caps)); err != nil {
		return nil, err
	}
	caps.Deref()

	var preTransform vk.SurfaceTransformFlagBits
	requiredTransform := vk.SurfaceTransformIdentityBit
	if vk.SurfaceTransformFlagBits(caps.SupportedTransforms)&requiredTransform != 0 {
		preTransform = requiredTransform
	} else {
		preTransform = caps.CurrentTransform
	}

	compositeAlpha := vk.CompositeAlphaOpaqueBit
	compositeAlphaFlags := []vk.CompositeAlphaFlagBits{
		vk.CompositeAlphaOpaqueBit,
		vk.CompositeAlphaPreMultipliedBit,
		vk.CompositeAlphaPostMultipliedBit,
		vk.CompositeAlphaInheritBit,
	}
	for _, flag := range compositeAlphaFlags {
		if caps.SupportedCompositeAlpha&vk.CompositeAlphaFlags(flag) != 0 {
			compositeAlpha = flag
			break
		}
	}

	sharing := vk.SharingModeExclusive
	families := uniqueFamilies(d.info.GraphicsFamily, d.info.PresentFamily)
	if len(families) > 1 {
		sharing = vk.SharingModeConcurrent
	}

	scci := vk.SwapchainCreateInfo{
		SType:                 vk.StructureTypeSwapchainCreateInfo,
		Surface:               d.surface,
		MinImageCount:         uint32(desc.MinImageCount),
		ImageFormat:           d.surfaceFormat.Format,
		ImageColorSpace:       d.surfaceFormat.ColorSpace,
		ImageExtent:           extent(desc.Extent),
		ImageUsage:            vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit | vk.ImageUsageTransferDstBit),
		PreTransform:          preTransform,
		CompositeAlpha:        compositeAlpha,
		PresentMode:           vk.PresentModeFifo,
		Clipped:               vk.True,
		ImageArrayLayers:      1,
		ImageSharingMode:      sharing,
		QueueFamilyIndexCount: uint32(len(families)),
		PQueueFamilyIndices:   families,
		OldSwapchain:          vk.NullSwapchain,
	}

	sc := &swapchain{
		device: d.device,
		extent: desc.Extent,
		format: fromFormat(d.surfaceFormat.Format),
	}
	if err := result("CreateSwapchain", vk.CreateSwapchain(d.device, &scci, nil, &sc.swapchain)); err != nil {
		return nil, err
	}

	var numImages uint32
	if err := result("GetSwapchainImages", vk.GetSwapchainImages(d.device, sc.swapchain, &numImages, nil)); err != nil {
		sc.Destroy()
		return nil, err
	}
	handles := make([]vk.Image, numImages)
	if err := result("GetSwapchainImages", vk.GetSwapchainImages(d.device, sc.swapchain, &numImages, handles)); err != nil {
		sc.Destroy()
		return nil, err
	}
	for _, handle := range handles {
		sc.images = append(sc.images, &image{
			device: d.device,
			image:  handle,
			extent: sc.extent,
			format: sc.format,
		})
	}
	return sc, nil
}

type swapchain struct {
	device    vk.Device
	swapchain vk.Swapchain
	images    []device.Image
	extent    device.Extent
	format    device.Format
}

// AcquireNextImage implements device.Swapchain.
func (s *swapchain) AcquireNextImage(wait time.Duration, signal device.Semaphore) (int, bool, error) {
	var index uint32
	ret := vk.AcquireNextImage(s.device, s.swapchain, timeout(wait), signal.(*semaphore).semaphore, vk.NullFence, &index)
	switch ret {
	case vk.Success:
		return int(index), false, nil
	case vk.Suboptimal:
		return int(index), true, nil
	}
	return 0, false, result("AcquireNextImage", ret)
}

func (s *swapchain) Images() []device.Image { return s.images }
func (s *swapchain) Extent() device.Extent  { return s.extent }
func (s *swapchain) Format() device.Format  { return s.format }

func (s *swapchain) Destroy() {
	vk.DestroySwapchain(s.device, s.swapchain, nil)
	s.images = nil
}
