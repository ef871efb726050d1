// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"errors"

	"github.com/devblok/koruframe/device"
	log "github.com/sirupsen/logrus"
)

// targetSet is the swapchain with everything sized after it: the
// off-screen color target, the depth target and the framebuffer. The set
// is only ever destroyed and created as a whole, never resized in place.
type targetSet struct {
	dev        device.Device
	log        log.FieldLogger
	pass       device.RenderPass
	imageCount int
	format     device.Format

	swapchain   device.Swapchain
	images      []device.Image
	color       device.Image
	depth       device.Image
	framebuffer device.Framebuffer
	extent      device.Extent

	// deferred is set while the surface has no area to present to.
	deferred bool

	// suboptimal is set by an acquire that still worked, the
	// set gets recreated after the frame is presented.
	suboptimal bool

	recreations int
}

func (t *targetSet) ready() bool {
	return t.swapchain != nil && !t.deferred
}

// create builds the set against the current surface. A surface without
// area defers creation instead of failing.
func (t *targetSet) create() error {
	caps, err := t.dev.SurfaceCapabilities()
	if err != nil {
		return fatal("GetPhysicalDeviceSurfaceCapabilities", err)
	}
	if caps.CurrentExtent.Empty() {
		t.deferred = true
		return nil
	}
	t.deferred = false

	count := t.imageCount
	if count < caps.MinImageCount {
		count = caps.MinImageCount
	}
	if caps.MaxImageCount > 0 && count > caps.MaxImageCount {
		count = caps.MaxImageCount
	}

	extent := caps.CurrentExtent
	if t.swapchain, err = t.dev.CreateSwapchain(device.SwapchainDesc{
		MinImageCount: count,
		Extent:        extent,
		Format:        t.format,
	}); err != nil {
		return fatal("CreateSwapchain", err)
	}
	t.images = t.swapchain.Images()

	if t.color, err = t.dev.CreateImage(device.ImageDesc{
		Extent: extent,
		Format: t.format,
		Usage:  device.ImageUsageColorAttachment | device.ImageUsageTransferSrc,
	}); err != nil {
		return fatal("CreateImage", err)
	}
	if t.depth, err = t.dev.CreateImage(device.ImageDesc{
		Extent: extent,
		Format: device.FormatD32Sfloat,
		Usage:  device.ImageUsageDepthAttachment,
	}); err != nil {
		return fatal("CreateImage", err)
	}
	if t.framebuffer, err = t.dev.CreateFramebuffer(t.pass, []device.Image{t.color, t.depth}, extent); err != nil {
		return fatal("CreateFramebuffer", err)
	}
	t.extent = extent
	t.log.WithFields(log.Fields{"extent": extent, "images": len(t.images)}).Debug("render targets created")
	return nil
}

// destroy releases the set, framebuffer first and swapchain last.
func (t *targetSet) destroy() {
	if t.framebuffer != nil {
		t.framebuffer.Destroy()
		t.framebuffer = nil
	}
	if t.depth != nil {
		t.depth.Destroy()
		t.depth = nil
	}
	if t.color != nil {
		t.color.Destroy()
		t.color = nil
	}
	if t.swapchain != nil {
		t.swapchain.Destroy()
		t.swapchain = nil
	}
	t.images = nil
}

// recreate waits for the device to go idle, then replaces the set.
func (t *targetSet) recreate() error {
	if err := t.dev.WaitIdle(); err != nil {
		return fatal("DeviceWaitIdle", err)
	}
	t.destroy()
	t.suboptimal = false
	if err := t.create(); err != nil {
		return err
	}
	if t.deferred {
		t.log.Debug("surface has no extent, render targets deferred")
		return nil
	}
	t.recreations++
	return nil
}

// AcquireImage gets the next swapchain image for the slot. When the
// swapchain is stale it's recreated and ok is false: the frame is dropped.
func (t *targetSet) AcquireImage(slot *frameSlot) (index int, ok bool, err error) {
	index, suboptimal, err := t.swapchain.AcquireNextImage(device.NoTimeout, slot.imageAvailable)
	if errors.Is(err, device.ErrOutOfDate) {
		t.log.WithField("extent", t.extent).Debug("swapchain out of date on acquire")
		return 0, false, t.recreate()
	} else if err != nil {
		return 0, false, fatal("AcquireNextImage", err)
	}
	if suboptimal {
		t.log.Warn("swapchain suboptimal on acquire")
		t.suboptimal = true
	}
	return index, true, nil
}

// Present queues the image for presentation after the slot's render
// finished. A stale or suboptimal swapchain is recreated afterwards.
// presented is false when the image never reached the surface.
func (t *targetSet) Present(queue device.Queue, slot *frameSlot, index int) (presented bool, err error) {
	suboptimal, err := queue.Present(device.PresentInfo{
		WaitSemaphores: []device.Semaphore{slot.renderFinished},
		Swapchain:      t.swapchain,
		ImageIndex:     index,
	})
	stale := errors.Is(err, device.ErrOutOfDate)
	if err != nil && !stale {
		return false, fatal("QueuePresent", err)
	}
	if stale || suboptimal || t.suboptimal {
		t.log.WithFields(log.Fields{"stale": stale, "suboptimal": suboptimal || t.suboptimal}).Debug("recreating swapchain after present")
		if err := t.recreate(); err != nil {
			return !stale, err
		}
	}
	return !stale, nil
}
