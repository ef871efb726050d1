// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"github.com/devblok/koruframe/device"
)

// frameSlot is one set of per-frame resources. A slot is only reused
// once its fence reports the previous frame recorded into it completed.
type frameSlot struct {
	imageAvailable device.Semaphore
	renderFinished device.Semaphore
	transferDone   device.Semaphore
	inFlight       device.Fence

	commands  device.CommandBuffer
	transfers device.CommandBuffer
}

// frameRing rotates through N frame slots, independent of which
// swapchain image a frame ends up rendering to.
type frameRing struct {
	dev     device.Device
	slots   []frameSlot
	current int
}

func newFrameRing(dev device.Device, n int, graphics, transfer device.CommandPool, owner *arena) (*frameRing, error) {
	r := &frameRing{
		dev:   dev,
		slots: make([]frameSlot, n),
	}
	for k := range r.slots {
		s := &r.slots[k]
		for _, sem := range []*device.Semaphore{&s.imageAvailable, &s.renderFinished, &s.transferDone} {
			created, err := dev.CreateSemaphore()
			if err != nil {
				return nil, fatal("CreateSemaphore", err)
			}
			owner.keep(created)
			*sem = created
		}

		// Signaled, so the first wait on every slot passes through.
		fence, err := dev.CreateFence(true)
		if err != nil {
			return nil, fatal("CreateFence", err)
		}
		owner.keep(fence)
		s.inFlight = fence

		if s.commands, err = graphics.Allocate(); err != nil {
			return nil, fatal("AllocateCommandBuffers", err)
		}
		if s.transfers, err = transfer.Allocate(); err != nil {
			return nil, fatal("AllocateCommandBuffers", err)
		}
	}
	return r, nil
}

// Len is the number of slots.
func (r *frameRing) Len() int {
	return len(r.slots)
}

// Current is the index of the slot the next frame uses.
func (r *frameRing) Current() int {
	return r.current
}

func (r *frameRing) slot(k int) *frameSlot {
	return &r.slots[k]
}

// AcquireSlot blocks until the work last submitted with slot k completed.
// The fence stays signaled: a frame dropped after this point must leave
// the slot usable for the next attempt.
func (r *frameRing) AcquireSlot(k int) error {
	if err := r.dev.WaitForFences([]device.Fence{r.slots[k].inFlight}, device.NoTimeout); err != nil {
		return fatal("WaitForFences", err)
	}
	return nil
}

// ArmSlot resets the fence of slot k, only once the frame is sure to be submitted.
func (r *frameRing) ArmSlot(k int) error {
	if err := r.dev.ResetFences([]device.Fence{r.slots[k].inFlight}); err != nil {
		return fatal("ResetFences", err)
	}
	return nil
}

// Advance moves to the next slot and returns it.
func (r *frameRing) Advance() int {
	r.current = (r.current + 1) % len(r.slots)
	return r.current
}
