// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package platform

import (
	"errors"
	"unsafe"

	"github.com/veandco/go-sdl2/sdl"

	"github.com/devblok/koruframe/device"
)

// NewSDLWindow initialises SDL with its Vulkan loader and opens
// a resizable window.
func NewSDLWindow(title string, width, height uint32) (*SDLWindow, error) {
	if err := sdl.Init(sdl.INIT_VIDEO | sdl.INIT_EVENTS); err != nil {
		return nil, errors.New("sdl.Init(): " + err.Error())
	}
	if err := sdl.VulkanLoadLibrary(""); err != nil {
		sdl.Quit()
		return nil, errors.New("sdl.VulkanLoadLibrary(): " + err.Error())
	}

	window, err := sdl.CreateWindow(title,
		sdl.WINDOWPOS_UNDEFINED,
		sdl.WINDOWPOS_UNDEFINED,
		int32(width),
		int32(height),
		sdl.WINDOW_VULKAN|sdl.WINDOW_RESIZABLE)
	if err != nil {
		sdl.VulkanUnloadLibrary()
		sdl.Quit()
		return nil, errors.New("sdl.CreateWindow(): " + err.Error())
	}
	return &SDLWindow{window: window}, nil
}

// SDLWindow is a window opened through SDL2.
type SDLWindow struct {
	window *sdl.Window
}

// InstanceExtensions implements Window.
func (w *SDLWindow) InstanceExtensions() []string {
	return w.window.VulkanGetInstanceExtensions()
}

// ProcAddr implements Window.
func (w *SDLWindow) ProcAddr() unsafe.Pointer {
	return sdl.VulkanGetVkGetInstanceProcAddr()
}

// CreateSurface implements Window.
func (w *SDLWindow) CreateSurface(instance interface{}) (uintptr, error) {
	surface, err := w.window.VulkanCreateSurface(instance)
	if err != nil {
		return 0, errors.New("sdl.VulkanCreateSurface(): " + err.Error())
	}
	return uintptr(surface), nil
}

// DrawableSize implements Window.
func (w *SDLWindow) DrawableSize() device.Extent {
	width, height := w.window.VulkanGetDrawableSize()
	return device.Extent{Width: uint32(width), Height: uint32(height)}
}

// PollEvents implements Window. Escape and closing the window quit.
func (w *SDLWindow) PollEvents() bool {
	quit := false
	for event := sdl.PollEvent(); event != nil; event = sdl.PollEvent() {
		switch et := event.(type) {
		case *sdl.KeyboardEvent:
			if et.Keysym.Sym == sdl.K_ESCAPE {
				quit = true
			}
		case *sdl.QuitEvent:
			quit = true
		}
	}
	return quit
}

// Destroy closes the window and shuts SDL down.
func (w *SDLWindow) Destroy() {
	w.window.Destroy()
	sdl.VulkanUnloadLibrary()
	sdl.Quit()
}
