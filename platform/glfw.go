// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package platform

import (
	"errors"
	"unsafe"

	"github.com/go-gl/glfw/v3.3/glfw"

	"github.com/devblok/koruframe/device"
)

// NewGLFWWindow initialises GLFW and opens a resizable window
// without a client API.
func NewGLFWWindow(title string, width, height uint32) (*GLFWWindow, error) {
	if err := glfw.Init(); err != nil {
		return nil, errors.New("glfw.Init(): " + err.Error())
	}
	if !glfw.VulkanSupported() {
		glfw.Terminate()
		return nil, errors.New("glfw.VulkanSupported(): no vulkan loader found")
	}

	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI)
	glfw.WindowHint(glfw.Resizable, glfw.True)
	window, err := glfw.CreateWindow(int(width), int(height), title, nil, nil)
	if err != nil {
		glfw.Terminate()
		return nil, errors.New("glfw.CreateWindow(): " + err.Error())
	}
	return &GLFWWindow{window: window}, nil
}

// GLFWWindow is a window opened through GLFW.
type GLFWWindow struct {
	window *glfw.Window
}

// InstanceExtensions implements Window.
func (w *GLFWWindow) InstanceExtensions() []string {
	return w.window.GetRequiredInstanceExtensions()
}

// ProcAddr implements Window.
func (w *GLFWWindow) ProcAddr() unsafe.Pointer {
	return glfw.GetVulkanGetInstanceProcAddress()
}

// CreateSurface implements Window.
func (w *GLFWWindow) CreateSurface(instance interface{}) (uintptr, error) {
	surface, err := w.window.CreateWindowSurface(instance, nil)
	if err != nil {
		return 0, errors.New("glfw.CreateWindowSurface(): " + err.Error())
	}
	return surface, nil
}

// DrawableSize implements Window.
func (w *GLFWWindow) DrawableSize() device.Extent {
	width, height := w.window.GetFramebufferSize()
	return device.Extent{Width: uint32(width), Height: uint32(height)}
}

// PollEvents implements Window. Escape and closing the window quit.
func (w *GLFWWindow) PollEvents() bool {
	glfw.PollEvents()
	return w.window.ShouldClose() || w.window.GetKey(glfw.KeyEscape) == glfw.Press
}

// Destroy closes the window and terminates GLFW.
func (w *GLFWWindow) Destroy() {
	w.window.Destroy()
	glfw.Terminate()
}
