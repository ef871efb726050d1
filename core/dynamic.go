// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"errors"
	"fmt"
	"sync"

	"github.com/devblok/koruframe/device"
)

// syncer is a resource that copies pending writes into a frame slot.
type syncer interface {
	Sync(cmd device.CommandBuffer, slot int) bool
}

// syncList holds every live dynamic resource of an engine.
type syncList struct {
	mutex sync.Mutex
	items []syncer
}

func (l *syncList) add(s syncer) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	for _, item := range l.items {
		if item == s {
			return
		}
	}
	l.items = append(l.items, s)
}

func (l *syncList) remove(s syncer) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	for i, item := range l.items {
		if item == s {
			l.items = append(l.items[:i], l.items[i+1:]...)
			return
		}
	}
}

func (l *syncList) len() int {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return len(l.items)
}

// sync records the pending copies of every resource for slot and
// returns how many were recorded.
func (l *syncList) sync(cmd device.CommandBuffer, slot int) int {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	var copies int
	for _, item := range l.items {
		if item.Sync(cmd, slot) {
			copies++
		}
	}
	return copies
}

// DynamicBuffer is a GPU buffer the CPU rewrites while earlier frames may
// still be reading it. Writes go to a single host visible staging buffer,
// each frame slot has its own device local copy. A slot's copy is only
// refreshed when the slot syncs and has not seen the latest write, so a
// frame in flight never reads memory that is being written.
//
// T must be plain data without Go pointers, its memory layout is what
// shaders see.
type DynamicBuffer[T any] struct {
	engine  *Engine
	length  int
	size    int
	staging device.Buffer
	buffers []device.Buffer

	mapped  []T
	version uint64
	synced  []uint64
}

// NewDynamicBuffer creates a buffer of length elements on the engine's
// device and registers it for syncing. usage describes how the per-slot
// copies are bound, transfer destination is added.
func NewDynamicBuffer[T any](e *Engine, length int, usage device.BufferUsage) (*DynamicBuffer[T], error) {
	if length <= 0 {
		return nil, fmt.Errorf("dynamic buffer length %d", length)
	}
	size := length * SizeOf[T]()
	if size == 0 {
		return nil, errors.New("dynamic buffer of zero sized elements")
	}

	b := &DynamicBuffer[T]{
		engine: e,
		length: length,
		size:   size,
		synced: make([]uint64, e.FramesInFlight()),
	}
	var err error
	if b.staging, err = e.dev.CreateBuffer(size, device.BufferUsageTransferSrc, device.MemoryHostVisible); err != nil {
		return nil, fatal("CreateBuffer", err)
	}
	for range b.synced {
		buf, err := e.dev.CreateBuffer(size, usage|device.BufferUsageTransferDst, device.MemoryDeviceLocal)
		if err != nil {
			b.release()
			return nil, fatal("CreateBuffer", err)
		}
		b.buffers = append(b.buffers, buf)
	}
	e.dynamics.add(b)
	return b, nil
}

// BeginWrite maps the staging buffer and returns it as a writable slice.
// The version is bumped once per mapping, however many writes follow,
// until the next sync unmaps it again.
func (b *DynamicBuffer[T]) BeginWrite() ([]T, error) {
	if b.mapped != nil {
		return b.mapped, nil
	}
	raw, err := b.staging.Map()
	if err != nil {
		return nil, fatal("MapMemory", err)
	}
	b.mapped = FromBytes[T](raw)[:b.length]
	b.version++
	return b.mapped, nil
}

// Set writes a single element.
func (b *DynamicBuffer[T]) Set(i int, v T) error {
	data, err := b.BeginWrite()
	if err != nil {
		return err
	}
	data[i] = v
	return nil
}

// Fill writes values from the start of the buffer and returns how many fit.
func (b *DynamicBuffer[T]) Fill(values []T) (int, error) {
	data, err := b.BeginWrite()
	if err != nil {
		return 0, err
	}
	return copy(data, values), nil
}

// Sync unmaps the staging buffer and records a copy into the slot's
// buffer if the slot has not seen the latest write. Reports whether a
// copy was recorded.
func (b *DynamicBuffer[T]) Sync(cmd device.CommandBuffer, slot int) bool {
	if b.mapped != nil {
		b.staging.Unmap()
		b.mapped = nil
	}
	if b.synced[slot] == b.version {
		return false
	}
	cmd.CopyBuffer(b.staging, b.buffers[slot], b.size)
	b.synced[slot] = b.version
	return true
}

// Buffer returns the device local copy of slot.
func (b *DynamicBuffer[T]) Buffer(slot int) device.Buffer {
	return b.buffers[slot]
}

// Current returns the copy of the slot that is being recorded.
func (b *DynamicBuffer[T]) Current() device.Buffer {
	return b.buffers[b.engine.Slot()]
}

// Len is the number of elements.
func (b *DynamicBuffer[T]) Len() int {
	return b.length
}

// Version is the number of times the buffer was mapped for writing.
func (b *DynamicBuffer[T]) Version() uint64 {
	return b.version
}

// SyncedVersion is the version the copy of slot holds.
func (b *DynamicBuffer[T]) SyncedVersion(slot int) uint64 {
	return b.synced[slot]
}

// Destroy unregisters the buffer and releases its memory. The caller
// makes sure no frame in flight still reads it.
func (b *DynamicBuffer[T]) Destroy() {
	b.engine.dynamics.remove(b)
	b.release()
}

func (b *DynamicBuffer[T]) release() {
	if b.mapped != nil {
		b.staging.Unmap()
		b.mapped = nil
	}
	for _, buf := range b.buffers {
		buf.Destroy()
	}
	b.buffers = nil
	if b.staging != nil {
		b.staging.Destroy()
		b.staging = nil
	}
}
