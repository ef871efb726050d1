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

func newQueue(d *Device, kind device.QueueKind) *queue {
	q := &queue{
		dev:  d,
		kind: kind,
		done: make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mutex)
	go q.run()
	return q
}

// queue executes work in submission order on its own goroutine.
type queue struct {
	dev  *Device
	kind device.QueueKind

	hold sync.Mutex

	mutex  sync.Mutex
	cond   *sync.Cond
	work   []func()
	closed bool
	done   chan struct{}
}

func (q *queue) enqueue(fn func()) {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	q.work = append(q.work, fn)
	q.cond.Signal()
}

func (q *queue) run() {
	defer close(q.done)
	for {
		q.mutex.Lock()
		for len(q.work) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.work) == 0 {
			q.mutex.Unlock()
			return
		}
		fn := q.work[0]
		q.work = q.work[1:]
		q.mutex.Unlock()

		q.hold.Lock()
		q.hold.Unlock()
		fn()
	}
}

func (q *queue) close() {
	q.mutex.Lock()
	if q.closed {
		q.mutex.Unlock()
		return
	}
	q.closed = true
	q.cond.Broadcast()
	q.mutex.Unlock()
	<-q.done
}

// Submit implements interface
func (q *queue) Submit(info device.SubmitInfo) error {
	if err := q.dev.failure("Submit"); err != nil {
		return err
	}
	if len(info.WaitStages) != len(info.WaitSemaphores) {
		return fmt.Errorf("headless.Submit(): %d wait stages for %d semaphores: %w",
			len(info.WaitStages), len(info.WaitSemaphores), device.ErrInvalidUsage)
	}

	var (
		cmds     []*CommandBuffer
		graphics bool
	)
	for _, c := range info.CommandBuffers {
		cmd := c.(*CommandBuffer)
		if cmd.state != stateExecutable {
			return fmt.Errorf("headless.Submit(): command buffer is not executable: %w", device.ErrInvalidUsage)
		}
		graphics = graphics || cmd.pool.kind == device.GraphicsQueue
		cmds = append(cmds, cmd)
	}

	var fence *Fence
	if info.Fence != nil {
		fence = info.Fence.(*Fence)
		if fence.isSignaled() {
			return fmt.Errorf("headless.Submit(): fence is signaled: %w", device.ErrInvalidUsage)
		}
	}

	for _, cmd := range cmds {
		cmd.pending.Add(1)
	}
	waits := toSemaphores(info.WaitSemaphores)
	signals := toSemaphores(info.SignalSemaphores)
	frame := graphics && fence != nil

	q.dev.count(func(s *Stats) {
		s.Submits++
		if !graphics {
			s.TransferSubmits++
		}
		if frame {
			s.FramesInFlight++
			if s.FramesInFlight > s.MaxFramesInFlight {
				s.MaxFramesInFlight = s.FramesInFlight
			}
		}
	})

	q.enqueue(func() {
		for _, s := range waits {
			s.wait()
		}
		if q.dev.latency > 0 {
			time.Sleep(q.dev.latency)
		}
		for _, cmd := range cmds {
			cmd.execute()
			cmd.pending.Add(-1)
		}
		for _, s := range signals {
			if err := s.signal(); err != nil {
				q.dev.log.WithField("queue", q.kind).Error(err)
			}
		}
		if fence != nil {
			if frame {
				q.dev.count(func(s *Stats) { s.FramesInFlight-- })
			}
			fence.signal()
		}
	})
	return nil
}

// Present implements interface
func (q *queue) Present(info device.PresentInfo) (bool, error) {
	if err := q.dev.failure("Present"); err != nil {
		return false, err
	}
	sc, ok := info.Swapchain.(*Swapchain)
	if !ok || sc.destroyed {
		return false, fmt.Errorf("headless.Present(): invalid swapchain: %w", device.ErrInvalidUsage)
	}
	if info.ImageIndex < 0 || info.ImageIndex >= len(sc.images) {
		return false, fmt.Errorf("headless.Present(): image index %d: %w", info.ImageIndex, device.ErrInvalidUsage)
	}

	stale := q.dev.surface.Extent() != sc.extent
	waits := toSemaphores(info.WaitSemaphores)
	img := sc.images[info.ImageIndex]
	index := info.ImageIndex

	q.enqueue(func() {
		for _, s := range waits {
			s.wait()
		}
		if stale {
			return
		}
		snapshot := img.Pixels()
		q.dev.count(func(s *Stats) { s.Presents++ })
		if q.dev.onPresent != nil {
			q.dev.onPresent(index, snapshot)
		}
	})

	if stale {
		q.dev.log.WithField("extent", sc.extent).Debug("headless present on stale swapchain")
		return false, device.ErrOutOfDate
	}
	return q.dev.surface.consumeSuboptimal(), nil
}

// WaitIdle implements interface
func (q *queue) WaitIdle() error {
	idle := make(chan struct{})
	q.enqueue(func() { close(idle) })
	<-idle
	return nil
}

func toSemaphores(list []device.Semaphore) []*Semaphore {
	semaphores := make([]*Semaphore, 0, len(list))
	for _, s := range list {
		semaphores = append(semaphores, s.(*Semaphore))
	}
	return semaphores
}
