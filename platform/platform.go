// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package platform opens the window the Vulkan device presents to.
// Windows must be created and polled from the main thread.
package platform

import (
	"fmt"
	"unsafe"

	"github.com/devblok/koruframe/device"
)

// Window kinds
const (
	SDL  = "sdl"
	GLFW = "glfw"
)

// Window is a Vulkan capable window.
type Window interface {
	// InstanceExtensions are the instance extensions surfaces need.
	InstanceExtensions() []string

	// ProcAddr is vkGetInstanceProcAddr of the loader the window uses.
	ProcAddr() unsafe.Pointer

	// CreateSurface creates a surface on instance, a vk.Instance.
	CreateSurface(instance interface{}) (uintptr, error)

	// DrawableSize is the size of the window in pixels.
	DrawableSize() device.Extent

	// PollEvents handles pending events and reports
	// whether the user asked to quit.
	PollEvents() bool

	Destroy()
}

// Kinds lists the window kinds New accepts.
func Kinds() []string {
	return []string{SDL, GLFW}
}

// New opens a window of the given kind.
func New(kind, title string, width, height uint32) (Window, error) {
	switch kind {
	case SDL:
		return NewSDLWindow(title, width, height)
	case GLFW:
		return NewGLFWWindow(title, width, height)
	}
	return nil, fmt.Errorf("unknown window kind %q, have %v", kind, Kinds())
}
