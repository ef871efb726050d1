// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"time"
)

var unlimited = func() chan time.Time {
	ch := make(chan time.Time)
	close(ch)
	return ch
}()

// NewTime creates a new time service
func NewTime(cfg TimeConfiguration) *Time {
	t := &Time{
		fps:  cfg.FramesPerSecond,
		last: time.Now(),
	}
	if cfg.FramesPerSecond > 0 {
		t.fpsTicker = time.NewTicker(time.Second / time.Duration(cfg.FramesPerSecond))
	}
	return t
}

// Time paces the frame loop and measures frame time
type Time struct {
	fps       int
	fpsTicker *time.Ticker
	last      time.Time
}

// Fps gets the set frames per second
func (t *Time) Fps() int {
	return t.fps
}

// Tick returns a channel that delivers when the next frame may start.
// With an unlimited frame rate it is always ready.
func (t *Time) Tick() <-chan time.Time {
	if t.fpsTicker == nil {
		return unlimited
	}
	return t.fpsTicker.C
}

// Delta returns the time passed since the previous call.
func (t *Time) Delta() time.Duration {
	now := time.Now()
	dt := now.Sub(t.last)
	t.last = now
	return dt
}

// Stop releases the ticker
func (t *Time) Stop() {
	if t.fpsTicker != nil {
		t.fpsTicker.Stop()
	}
}
