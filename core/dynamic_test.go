// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core_test

import (
	"errors"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/devblok/koruframe/core"
	"github.com/devblok/koruframe/device"
	"github.com/devblok/koruframe/device/headless"
)

type particle struct {
	Position [2]float32
	Size     float32
	Alpha    float32
}

func recordingBuffer(c *qt.C, dev *headless.Device) device.CommandBuffer {
	pool, err := dev.CreateCommandPool(device.TransferQueue)
	c.Assert(err, qt.IsNil)
	c.Cleanup(pool.Destroy)
	cmd, err := pool.Allocate()
	c.Assert(err, qt.IsNil)
	c.Assert(cmd.Begin(), qt.IsNil)
	return cmd
}

func gpuValues(b *core.DynamicBuffer[particle], slot int) []particle {
	return core.FromBytes[particle](b.Buffer(slot).(*headless.Buffer).Bytes())
}

func TestDynamicBufferSyncWithoutWriteIsNoop(t *testing.T) {
	c := qt.New(t)
	e, dev := newEngine(c)
	b, err := core.NewDynamicBuffer[particle](e, 4, device.BufferUsageVertex)
	c.Assert(err, qt.IsNil)
	defer b.Destroy()
	cmd := recordingBuffer(c, dev)

	c.Assert(b.Sync(cmd, 0), qt.IsFalse)

	c.Assert(b.Set(1, particle{Size: 2}), qt.IsNil)
	c.Assert(b.Sync(cmd, 0), qt.IsTrue)
	c.Assert(b.Sync(cmd, 0), qt.IsFalse)
	c.Assert(b.Sync(cmd, 1), qt.IsTrue)
	c.Assert(b.Sync(cmd, 1), qt.IsFalse)
}

func TestDynamicBufferVersionBumpsOncePerMapping(t *testing.T) {
	c := qt.New(t)
	e, dev := newEngine(c)
	b, err := core.NewDynamicBuffer[particle](e, 4, device.BufferUsageVertex)
	c.Assert(err, qt.IsNil)
	defer b.Destroy()
	cmd := recordingBuffer(c, dev)

	c.Assert(b.Version(), qt.Equals, uint64(0))
	data, err := b.BeginWrite()
	c.Assert(err, qt.IsNil)
	c.Assert(data, qt.HasLen, 4)
	c.Assert(b.Set(0, particle{Alpha: 1}), qt.IsNil)
	n, err := b.Fill([]particle{{Size: 1}, {Size: 2}, {Size: 3}, {Size: 4}, {Size: 5}})
	c.Assert(err, qt.IsNil)
	c.Assert(n, qt.Equals, 4)
	c.Assert(b.Version(), qt.Equals, uint64(1))

	before := dev.Stats()
	c.Assert(b.Sync(cmd, 2), qt.IsTrue)
	c.Assert(b.SyncedVersion(2), qt.Equals, uint64(1))
	c.Assert(b.SyncedVersion(0), qt.Equals, uint64(0))
	c.Assert(dev.Stats(), qt.Equals, before)

	c.Assert(b.Set(0, particle{}), qt.IsNil)
	c.Assert(b.Version(), qt.Equals, uint64(2))
}

func TestDynamicBufferSlotsAreIsolated(t *testing.T) {
	c := qt.New(t)
	e, dev := newEngine(c)
	s := &probeScene{}
	initScene(c, e, s)
	b, err := core.NewDynamicBuffer[particle](e, 2, device.BufferUsageVertex)
	c.Assert(err, qt.IsNil)
	defer b.Destroy()

	first := []particle{{Position: [2]float32{1, 2}, Size: 3, Alpha: 1}, {Size: 7}}
	_, err = b.Fill(first)
	c.Assert(err, qt.IsNil)
	runFrames(c, e, s, 1)
	settle(dev)

	zero := make([]particle, 2)
	c.Assert(gpuValues(b, 0), qt.DeepEquals, first)
	c.Assert(gpuValues(b, 1), qt.DeepEquals, zero)
	c.Assert(gpuValues(b, 2), qt.DeepEquals, zero)

	second := []particle{{Size: 9}, {Alpha: 0.5}}
	_, err = b.Fill(second)
	c.Assert(err, qt.IsNil)
	runFrames(c, e, s, 1)
	settle(dev)

	c.Assert(gpuValues(b, 0), qt.DeepEquals, first)
	c.Assert(gpuValues(b, 1), qt.DeepEquals, second)
	c.Assert(gpuValues(b, 2), qt.DeepEquals, zero)

	runFrames(c, e, s, 2)
	settle(dev)
	for k := 0; k < 3; k++ {
		c.Assert(gpuValues(b, k), qt.DeepEquals, second)
	}
}

func TestDynamicBufferWrittenEveryFrame(t *testing.T) {
	c := qt.New(t)
	e, dev := newEngine(c)
	s := &probeScene{write: func(frame int) (uint32, bool) {
		return uint32(frame), frame <= 3
	}}
	initScene(c, e, s)

	runFrames(c, e, s, 3)
	c.Assert(e.Stats().Copies, qt.Equals, uint64(3))

	// slot 0 and 1 still hold older writes and catch up, slot 2 is current
	runFrames(c, e, s, 3)
	c.Assert(e.Stats().Copies, qt.Equals, uint64(5))

	runFrames(c, e, s, 6)
	settle(dev)
	c.Assert(e.Stats().Copies, qt.Equals, uint64(5))
	c.Assert(e.Stats().TransferSubmits, qt.Equals, uint64(5))
	c.Assert(dev.Stats().BufferCopies, qt.Equals, 5)
	c.Assert(dev.Stats().TransferSubmits, qt.Equals, 5)
}

func TestDynamicBufferSingleWriteReachesEverySlot(t *testing.T) {
	c := qt.New(t)
	p := &probe{}
	e, dev := newEngine(c, headless.WithRasterizer("probe", p.raster))
	s := &probeScene{write: func(frame int) (uint32, bool) {
		return 42, frame == 1
	}}
	initScene(c, e, s)

	runFrames(c, e, s, 3)
	c.Assert(e.Stats().Copies, qt.Equals, uint64(3))
	runFrames(c, e, s, 1)
	c.Assert(e.Stats().Copies, qt.Equals, uint64(3))

	settle(dev)
	c.Assert(p.values(), qt.DeepEquals, []uint32{42, 42, 42, 42})
	c.Assert(dev.Stats().BufferCopies, qt.Equals, 3)
	c.Assert(dev.Stats().BytesCopied, qt.Equals, 12)
}

func TestDrawsSeeTheirFramesWrite(t *testing.T) {
	c := qt.New(t)
	p := &probe{}
	e, dev := newEngine(c, headless.WithRasterizer("probe", p.raster), headless.WithSharedTransfer())
	s := &probeScene{write: func(frame int) (uint32, bool) {
		return uint32(frame * 10), frame%3 != 0
	}}
	initScene(c, e, s)

	runFrames(c, e, s, 8)
	settle(dev)
	c.Assert(p.values(), qt.DeepEquals, []uint32{10, 20, 20, 40, 50, 50, 70, 80})
}

func TestDynamicBufferDestroyUnregisters(t *testing.T) {
	c := qt.New(t)
	e, dev := newEngine(c)
	s := &probeScene{}
	initScene(c, e, s)

	live := dev.LiveObjects()
	b, err := core.NewDynamicBuffer[particle](e, 8, device.BufferUsageStorage)
	c.Assert(err, qt.IsNil)
	c.Assert(dev.LiveObjects(), qt.Equals, live+4)
	c.Assert(b.Len(), qt.Equals, 8)
	c.Assert(b.Set(3, particle{Size: 1}), qt.IsNil)

	b.Destroy()
	c.Assert(dev.LiveObjects(), qt.Equals, live)
	runFrames(c, e, s, 3)
	c.Assert(e.Stats().Copies, qt.Equals, uint64(0))
}

func TestDynamicBufferCreationFailure(t *testing.T) {
	c := qt.New(t)
	e, dev := newEngine(c)
	live := dev.LiveObjects()

	_, err := core.NewDynamicBuffer[particle](e, 0, device.BufferUsageVertex)
	c.Assert(err, qt.ErrorMatches, "dynamic buffer length 0")

	dev.InjectError("CreateBuffer", errors.New("out of device memory"))
	_, err = core.NewDynamicBuffer[particle](e, 1, device.BufferUsageVertex)
	c.Assert(core.IsFatal(err), qt.IsTrue)
	c.Assert(dev.LiveObjects(), qt.Equals, live)
}
