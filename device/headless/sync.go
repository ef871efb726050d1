// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package headless

import (
	"fmt"
	"sync"

	"github.com/devblok/koruframe/device"
)

// Semaphore is a binary semaphore.
type Semaphore struct {
	dev       *Device
	ch        chan struct{}
	destroyed bool
}

func (s *Semaphore) signal() error {
	select {
	case s.ch <- struct{}{}:
		return nil
	default:
		return fmt.Errorf("headless: semaphore signaled twice without a wait: %w", device.ErrInvalidUsage)
	}
}

func (s *Semaphore) wait() {
	<-s.ch
}

// Signaled reports whether a signal is waiting to be consumed.
func (s *Semaphore) Signaled() bool {
	return len(s.ch) == 1
}

// Destroy implements interface
func (s *Semaphore) Destroy() {
	if s.destroyed {
		return
	}
	s.destroyed = true
	s.dev.released()
}

// Fence is signaled by a queue when a submission completes.
type Fence struct {
	dev       *Device
	destroyed bool

	mutex    sync.Mutex
	ch       chan struct{}
	signaled bool
}

func (f *Fence) signal() {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if !f.signaled {
		f.signaled = true
		close(f.ch)
	}
}

func (f *Fence) reset() {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if f.signaled {
		f.signaled = false
		f.ch = make(chan struct{})
	}
}

func (f *Fence) done() <-chan struct{} {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.ch
}

func (f *Fence) isSignaled() bool {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.signaled
}

// Signaled reports the fence state.
func (f *Fence) Signaled() bool {
	return f.isSignaled()
}

// Destroy implements interface
func (f *Fence) Destroy() {
	if f.destroyed {
		return
	}
	f.destroyed = true
	f.dev.released()
}
