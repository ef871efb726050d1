// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vulkan

import (
	"errors"
	"fmt"
	"unsafe"

	vk "github.com/vulkan-go/vulkan"
)

// spirvMagic starts every SPIR-V module in host byte order.
const spirvMagic = 0x07230203

// ErrNotSPIRV is returned for shaders that aren't SPIR-V modules.
var ErrNotSPIRV = errors.New("not a SPIR-V module")

type shader struct {
	device vk.Device
	module vk.ShaderModule
}

func (s *shader) Destroy() {
	vk.DestroyShaderModule(s.device, s.module, nil)
}

func (d *Device) loadShader(name string) (*shader, error) {
	contents, err := d.shaders.Find(name)
	if err != nil {
		return nil, fmt.Errorf("shader %s: %w", name, err)
	}
	code, err := sliceUint32(contents)
	if err != nil {
		return nil, fmt.Errorf("shader %s: %w", name, err)
	}

	smci := vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint(len(contents)),
		PCode:    code,
	}
	s := &shader{device: d.device}
	if err := result("CreateShaderModule", vk.CreateShaderModule(d.device, &smci, nil, &s.module)); err != nil {
		return nil, fmt.Errorf("shader %s: %w", name, err)
	}
	return s, nil
}

// sliceUint32 copies SPIR-V bytes into words, the source may be unaligned.
func sliceUint32(data []byte) ([]uint32, error) {
	if len(data) < 4 || len(data)%4 != 0 {
		return nil, fmt.Errorf("%d bytes: %w", len(data), ErrNotSPIRV)
	}
	words := make([]uint32, len(data)/4)
	copy(unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), len(data)), data)
	if words[0] != spirvMagic {
		return nil, fmt.Errorf("magic %#x: %w", words[0], ErrNotSPIRV)
	}
	return words, nil
}
