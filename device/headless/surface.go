// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package headless

import (
	"fmt"
	"sync"
	"time"

	"github.com/devblok/koruframe/device"
)

// Surface is a virtual window. Changing its size makes existing
// swapchains stale.
type Surface struct {
	mutex      sync.Mutex
	extent     device.Extent
	suboptimal int
}

// Extent returns the current surface size.
func (s *Surface) Extent() device.Extent {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.extent
}

// Resize changes the surface size, a zero size is a minimized window.
func (s *Surface) Resize(width, height uint32) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.extent = device.Extent{Width: width, Height: height}
}

// ForceSuboptimal makes the next n acquires or presents report
// a suboptimal swapchain.
func (s *Surface) ForceSuboptimal(n int) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.suboptimal += n
}

func (s *Surface) consumeSuboptimal() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.suboptimal > 0 {
		s.suboptimal--
		return true
	}
	return false
}

// Swapchain hands out its images in round robin order.
type Swapchain struct {
	dev       *Device
	extent    device.Extent
	format    device.Format
	images    []*Image
	next      int
	destroyed bool
}

// AcquireNextImage implements interface
func (s *Swapchain) AcquireNextImage(timeout time.Duration, signal device.Semaphore) (int, bool, error) {
	if err := s.dev.failure("AcquireNextImage"); err != nil {
		return 0, false, err
	}
	if s.destroyed {
		return 0, false, fmt.Errorf("headless.AcquireNextImage(): swapchain destroyed: %w", device.ErrInvalidUsage)
	}
	if s.dev.surface.Extent() != s.extent {
		return 0, false, device.ErrOutOfDate
	}
	if err := signal.(*Semaphore).signal(); err != nil {
		return 0, false, err
	}
	index := s.next
	s.next = (s.next + 1) % len(s.images)
	return index, s.dev.surface.consumeSuboptimal(), nil
}

// Images implements interface
func (s *Swapchain) Images() []device.Image {
	images := make([]device.Image, len(s.images))
	for i, img := range s.images {
		images[i] = img
	}
	return images
}

// Extent implements interface
func (s *Swapchain) Extent() device.Extent {
	return s.extent
}

// Format implements interface
func (s *Swapchain) Format() device.Format {
	return s.format
}

// Destroy implements interface
func (s *Swapchain) Destroy() {
	if s.destroyed {
		return
	}
	s.destroyed = true
	s.dev.released()
	s.dev.count(func(st *Stats) { st.SwapchainsDestroyed++ })
}
