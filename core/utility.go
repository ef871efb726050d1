// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"unsafe"

	"github.com/devblok/koruframe/device"
)

// SizeOf returns the size of T in bytes.
func SizeOf[T any]() int {
	var v T
	return int(unsafe.Sizeof(v))
}

// FromBytes views raw memory as a slice of T, without copying.
// Trailing bytes that don't fill a whole T are ignored.
func FromBytes[T any](raw []byte) []T {
	size := SizeOf[T]()
	if size == 0 || len(raw) < size {
		return nil
	}
	return unsafe.Slice((*T)(unsafe.Pointer(&raw[0])), len(raw)/size)
}

// AsBytes views a slice of T as raw memory, without copying.
func AsBytes[T any](values []T) []byte {
	if len(values) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&values[0])), len(values)*SizeOf[T]())
}

// arena owns device objects and destroys them in reverse creation order.
type arena struct {
	objects []device.Destroyable
}

func (a *arena) keep(obj device.Destroyable) {
	a.objects = append(a.objects, obj)
}

func (a *arena) destroy() {
	for i := len(a.objects) - 1; i >= 0; i-- {
		a.objects[i].Destroy()
	}
	a.objects = nil
}
