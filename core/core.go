// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package core drives frames through the rendering device: it rotates
// frame slots, acquires and presents swapchain images, keeps dynamic
// buffers in sync with the frames reading them and rebuilds render
// targets when the surface changes.
package core

import (
	"fmt"
	"time"

	"github.com/devblok/koruframe/device"
)

// Scene is a demo that runs on the engine. Init creates its resources,
// Update advances it and writes dynamic buffers, Render records draw
// commands into the frame, Shutdown releases everything Init created.
type Scene interface {
	Init(e *Engine) error
	Update(e *Engine, dt time.Duration) error
	Render(e *Engine, cmd device.CommandBuffer) error
	Shutdown(e *Engine)
}

// FrameState is the position of the engine in the frame cycle.
type FrameState int

// Frame states, in the order a frame goes through them.
const (
	Idle FrameState = iota
	Acquiring
	Recording
	Syncing
	Submitting
	Presenting
)

func (s FrameState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Acquiring:
		return "acquiring"
	case Recording:
		return "recording"
	case Syncing:
		return "syncing"
	case Submitting:
		return "submitting"
	case Presenting:
		return "presenting"
	}
	return fmt.Sprintf("FrameState(%d)", int(s))
}

// FrameStats count what happened to frames so far.
type FrameStats struct {
	// Frames is the number of started frames, dropped ones included.
	Frames uint64

	// Presented frames reached the surface.
	Presented uint64

	// Dropped frames were abandoned before recording.
	Dropped uint64

	// Recreations of the render targets.
	Recreations uint64

	// Copies recorded by dynamic buffers.
	Copies uint64

	// TransferSubmits is the number of frames that needed a transfer.
	TransferSubmits uint64
}
