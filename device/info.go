// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package device

// PhysicalDeviceInfo describes available physical properties of a rendering device
type PhysicalDeviceInfo struct {
	ID            int
	VendorID      int
	DriverVersion int
	Name          string
	Invalid       bool
	Extensions    []string
	Layers        []string
	Memory        uint64

	// GraphicsFamily, TransferFamily and PresentFamily are the queue
	// family indices selected for each queue kind, -1 when not selected.
	GraphicsFamily int
	TransferFamily int
	PresentFamily  int
}

// SeparateTransfer reports whether transfers run on their own queue family.
func (i PhysicalDeviceInfo) SeparateTransfer() bool {
	return i.TransferFamily >= 0 && i.TransferFamily != i.GraphicsFamily
}
