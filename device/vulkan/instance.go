// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package vulkan implements the rendering device on top of the Vulkan API.
// The instance is created from the proc address and extensions a window
// provides, the window then creates the surface the device presents to.
package vulkan

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/devblok/koruframe/device"
	vk "github.com/vulkan-go/vulkan"
)

// DefaultApplicationInfo describes the application to the driver.
var DefaultApplicationInfo = &vk.ApplicationInfo{
	SType:              vk.StructureTypeApplicationInfo,
	ApiVersion:         vk.MakeVersion(1, 0, 0),
	ApplicationVersion: vk.MakeVersion(1, 0, 0),
	PApplicationName:   "Koru3D\x00",
	PEngineName:        "koruframe\x00",
}

const (
	validationLayer      = "VK_LAYER_KHRONOS_validation"
	debugReportExtension = "VK_EXT_debug_report"
)

// InstanceConfiguration selects instance layers and extensions.
type InstanceConfiguration struct {
	Extensions []string
	Layers     []string

	// DebugMode enables the validation layer.
	DebugMode bool
}

// NewInstance loads Vulkan through procAddr and creates an instance.
// A nil procAddr uses the system loader.
func NewInstance(procAddr unsafe.Pointer, cfg InstanceConfiguration) (*Instance, error) {
	if cfg.DebugMode {
		cfg.Layers = append(cfg.Layers, validationLayer)
		cfg.Extensions = append(cfg.Extensions, debugReportExtension)
	}

	if procAddr == nil {
		if err := vk.SetDefaultGetInstanceProcAddr(); err != nil {
			return nil, errors.New("vk.SetDefaultGetInstanceProcAddr(): " + err.Error())
		}
	} else {
		vk.SetGetInstanceProcAddr(procAddr)
	}
	if err := vk.Init(); err != nil {
		return nil, errors.New("vk.Init(): " + err.Error())
	}

	extensions := safeStrings(cfg.Extensions)
	layers := safeStrings(cfg.Layers)
	instanceInfo := vk.InstanceCreateInfo{
		SType:                   vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo:        DefaultApplicationInfo,
		EnabledExtensionCount:   uint32(len(extensions)),
		PpEnabledExtensionNames: extensions,
		EnabledLayerCount:       uint32(len(layers)),
		PpEnabledLayerNames:     layers,
	}

	var instance vk.Instance
	if err := result("CreateInstance", vk.CreateInstance(&instanceInfo, nil, &instance)); err != nil {
		return nil, err
	}
	if err := vk.InitInstance(instance); err != nil {
		vk.DestroyInstance(instance, nil)
		return nil, errors.New("vk.InitInstance(): " + err.Error())
	}

	gpus, err := enumerateDevices(instance)
	if err != nil {
		vk.DestroyInstance(instance, nil)
		return nil, err
	}

	return &Instance{
		configuration: cfg,
		instance:      instance,
		gpus:          gpus,
		surface:       vk.NullSurface,
	}, nil
}

// Instance is a Vulkan instance with the physical devices it sees
// and at most one surface.
type Instance struct {
	configuration InstanceConfiguration

	instance vk.Instance
	gpus     []vk.PhysicalDevice
	surface  vk.Surface
}

func enumerateDevices(instance vk.Instance) ([]vk.PhysicalDevice, error) {
	var deviceCount uint32
	if err := result("EnumeratePhysicalDevices", vk.EnumeratePhysicalDevices(instance, &deviceCount, nil)); err != nil {
		return nil, err
	}
	gpus := make([]vk.PhysicalDevice, deviceCount)
	if err := result("EnumeratePhysicalDevices", vk.EnumeratePhysicalDevices(instance, &deviceCount, gpus)); err != nil {
		return nil, err
	}
	return gpus, nil
}

// PhysicalDevicesInfo describes every physical device. Queue families are
// selected against the surface when one is set.
func (v *Instance) PhysicalDevicesInfo() []device.PhysicalDeviceInfo {
	pdi := make([]device.PhysicalDeviceInfo, len(v.gpus))
	for i, gpu := range v.gpus {
		pdi[i] = v.physicalDeviceInfo(gpu)
	}
	return pdi
}

func (v *Instance) physicalDeviceInfo(gpu vk.PhysicalDevice) device.PhysicalDeviceInfo {
	var info device.PhysicalDeviceInfo

	var numDeviceExtensions uint32
	if err := vk.Error(vk.EnumerateDeviceExtensionProperties(gpu, "", &numDeviceExtensions, nil)); err != nil {
		info.Invalid = true
	}
	deviceExt := make([]vk.ExtensionProperties, numDeviceExtensions)
	if err := vk.Error(vk.EnumerateDeviceExtensionProperties(gpu, "", &numDeviceExtensions, deviceExt)); err != nil {
		info.Invalid = true
	}
	for _, ext := range deviceExt {
		ext.Deref()
		info.Extensions = append(info.Extensions, vk.ToString(ext.ExtensionName[:]))
	}

	var numDeviceLayers uint32
	if err := vk.Error(vk.EnumerateDeviceLayerProperties(gpu, &numDeviceLayers, nil)); err != nil {
		info.Invalid = true
	}
	deviceLayers := make([]vk.LayerProperties, numDeviceLayers)
	if err := vk.Error(vk.EnumerateDeviceLayerProperties(gpu, &numDeviceLayers, deviceLayers)); err != nil {
		info.Invalid = true
	}
	for _, layer := range deviceLayers {
		layer.Deref()
		info.Layers = append(info.Layers, vk.ToString(layer.LayerName[:]))
	}

	var memoryProperties vk.PhysicalDeviceMemoryProperties
	vk.GetPhysicalDeviceMemoryProperties(gpu, &memoryProperties)
	memoryProperties.Deref()
	for iMem := uint32(0); iMem < memoryProperties.MemoryHeapCount; iMem++ {
		memoryProperties.MemoryHeaps[iMem].Deref()
		info.Memory += uint64(memoryProperties.MemoryHeaps[iMem].Size)
	}

	var properties vk.PhysicalDeviceProperties
	vk.GetPhysicalDeviceProperties(gpu, &properties)
	properties.Deref()
	info.ID = int(properties.DeviceID)
	info.VendorID = int(properties.VendorID)
	info.Name = vk.ToString(properties.DeviceName[:])
	info.DriverVersion = int(properties.DriverVersion)

	families := selectQueueFamilies(gpu, v.surface)
	info.GraphicsFamily = families.graphics
	info.TransferFamily = families.transfer
	info.PresentFamily = families.present
	if families.graphics < 0 || (v.surface != vk.NullSurface && families.present < 0) {
		info.Invalid = true
	}
	return info
}

// SetSurface takes ownership of a surface created by a window.
func (v *Instance) SetSurface(surface uintptr) {
	if v.surface != vk.NullSurface {
		vk.DestroySurface(v.instance, v.surface, nil)
	}
	v.surface = vk.SurfaceFromPointer(surface)
}

// Handle is the vk.Instance windows create surfaces for.
func (v *Instance) Handle() interface{} {
	return v.instance
}

// Extensions are the enabled instance extensions.
func (v *Instance) Extensions() []string {
	return v.configuration.Extensions
}

func (v *Instance) gpu(index int) (vk.PhysicalDevice, error) {
	if index < 0 || index >= len(v.gpus) {
		return nil, fmt.Errorf("physical device %d not found, have %d", index, len(v.gpus))
	}
	return v.gpus[index], nil
}

// Destroy releases the surface and the instance. Devices
// created from it must be destroyed before.
func (v *Instance) Destroy() {
	if v.surface != vk.NullSurface {
		vk.DestroySurface(v.instance, v.surface, nil)
		v.surface = vk.NullSurface
	}
	v.gpus = nil
	vk.DestroyInstance(v.instance, nil)
}

type queueFamilies struct {
	graphics, transfer, present int
}

// selectQueueFamilies prefers a graphics family that can present and a
// transfer only family, copies run there without stalling graphics.
func selectQueueFamilies(gpu vk.PhysicalDevice, surface vk.Surface) queueFamilies {
	var count uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(gpu, &count, nil)
	properties := make([]vk.QueueFamilyProperties, count)
	vk.GetPhysicalDeviceQueueFamilyProperties(gpu, &count, properties)

	caps := make([]familyCaps, count)
	for i := range properties {
		properties[i].Deref()
		caps[i].graphics = properties[i].QueueFlags&vk.QueueFlags(vk.QueueGraphicsBit) != 0
		caps[i].transfer = properties[i].QueueFlags&vk.QueueFlags(vk.QueueTransferBit) != 0
		if surface != vk.NullSurface {
			var supportsPresent vk.Bool32
			vk.GetPhysicalDeviceSurfaceSupport(gpu, uint32(i), surface, &supportsPresent)
			caps[i].present = supportsPresent.B()
		}
	}
	return pickFamilies(caps)
}

type familyCaps struct {
	graphics, transfer, present bool
}

func pickFamilies(caps []familyCaps) queueFamilies {
	families := queueFamilies{graphics: -1, transfer: -1, present: -1}
	for i, c := range caps {
		if c.graphics && c.present {
			families.graphics, families.present = i, i
			break
		}
		if c.graphics && families.graphics < 0 {
			families.graphics = i
		}
	}
	if families.present < 0 {
		for i, c := range caps {
			if c.present {
				families.present = i
				break
			}
		}
	}
	for i, c := range caps {
		if c.transfer && !c.graphics {
			families.transfer = i
			break
		}
	}
	if families.transfer < 0 {
		// graphics queues always take transfers
		families.transfer = families.graphics
	}
	return families
}
