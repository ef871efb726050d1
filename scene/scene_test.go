// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package scene

import (
	"image"
	"image/color"
	"io"
	"sync"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/go-gl/mathgl/mgl32"
	log "github.com/sirupsen/logrus"

	"github.com/devblok/koruframe/core"
	"github.com/devblok/koruframe/device"
	"github.com/devblok/koruframe/device/headless"
)

// lastFrame keeps the most recently presented image.
type lastFrame struct {
	mutex sync.Mutex
	img   *image.RGBA
}

func (f *lastFrame) hook(_ int, img *image.RGBA) {
	f.mutex.Lock()
	f.img = img
	f.mutex.Unlock()
}

func (f *lastFrame) get() *image.RGBA {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.img
}

func newEngine(c *qt.C, frame *lastFrame) (*core.Engine, *headless.Device) {
	logger := log.New()
	logger.SetOutput(io.Discard)
	opts := []headless.Option{
		headless.WithSurface(320, 240),
		headless.WithLogger(logger),
		headless.WithPresentHook(frame.hook),
	}
	for name, fn := range SoftwareRasterizers() {
		opts = append(opts, headless.WithRasterizer(name, fn))
	}
	dev := headless.New(opts...)
	cfg := core.DefaultConfiguration().Renderer
	cfg.ClearColor = [4]float32{0, 0, 0, 1}
	e, err := core.NewEngine(dev, cfg, core.WithLogger(logger))
	c.Assert(err, qt.IsNil)
	c.Cleanup(func() {
		e.Destroy()
		c.Check(dev.LiveObjects(), qt.Equals, 0)
		dev.Destroy()
	})
	return e, dev
}

func run(c *qt.C, e *core.Engine, s core.Scene, frames int, dt time.Duration) {
	for i := 0; i < frames; i++ {
		c.Assert(e.RunFrame(s, dt), qt.IsNil)
	}
	c.Assert(e.Device().WaitIdle(), qt.IsNil)
}

func start(c *qt.C, e *core.Engine, s core.Scene) {
	c.Assert(s.Init(e), qt.IsNil)
	c.Cleanup(func() {
		c.Check(e.Device().WaitIdle(), qt.IsNil)
		s.Shutdown(e)
	})
}

func brightness(c color.RGBA) int {
	return int(c.R) + int(c.G) + int(c.B)
}

// near compares colors allowing for rounding.
func near(a, b color.RGBA) bool {
	for _, d := range []int{
		int(a.R) - int(b.R), int(a.G) - int(b.G), int(a.B) - int(b.B), int(a.A) - int(b.A),
	} {
		if d < -1 || d > 1 {
			return false
		}
	}
	return true
}

func TestRegistry(t *testing.T) {
	c := qt.New(t)
	c.Assert(Names(), qt.DeepEquals, []string{"snow", "solar", "spiral"})
	for _, name := range Names() {
		s, err := New(name)
		c.Assert(err, qt.IsNil)
		c.Assert(s, qt.Not(qt.IsNil))
	}
	_, err := New("tunnel")
	c.Assert(err, qt.ErrorMatches, `unknown scene "tunnel", have \[snow solar spiral\]`)
}

func TestSpriteLayout(t *testing.T) {
	c := qt.New(t)
	c.Assert(core.SizeOf[Sprite](), qt.Equals, 32)
	c.Assert(core.SizeOf[Globals](), qt.Equals, 64)

	desc := SpritePipeline(SpriteAlpha, device.BlendAlpha)
	end := 0
	for _, a := range desc.Attributes {
		c.Assert(a.Offset, qt.Equals, end)
		end += a.Format.Size()
	}
	c.Assert(end, qt.Equals, desc.Bindings[0].Stride)
}

func TestSpriteBounds(t *testing.T) {
	c := qt.New(t)
	viewport := device.Viewport{Width: 200, Height: 100, MaxDepth: 1}

	r, ok := SpriteBounds(Sprite{Size: 0.5}, FlatCamera(2), viewport)
	c.Assert(ok, qt.IsTrue)
	c.Assert(r, qt.Equals, image.Rect(75, 25, 125, 75))

	r, ok = SpriteBounds(Sprite{Position: mgl32.Vec3{1, 0, 0}, Size: 0.5}, mgl32.Ident4(), viewport)
	c.Assert(ok, qt.IsTrue)
	c.Assert(r, qt.Equals, image.Rect(150, 25, 250, 75))

	_, ok = SpriteBounds(Sprite{Position: mgl32.Vec3{0, 0, 20}, Size: 0.5}, SolarCamera(2), viewport)
	c.Assert(ok, qt.IsFalse)
}

func TestRasterBlending(t *testing.T) {
	c := qt.New(t)
	sprites := []Sprite{
		{Size: 1, Color: mgl32.Vec4{1, 0, 0, 0.5}},
		{Size: 1, Color: mgl32.Vec4{0, 0, 1, 0.5}},
	}
	globals := []Globals{{Transform: mgl32.Ident4()}}
	draw := func(blend device.BlendMode) color.RGBA {
		target := image.NewRGBA(image.Rect(0, 0, 4, 4))
		rasterSprites(headless.DrawCall{
			Pipeline:      SpritePipeline("test", blend),
			Target:        target,
			Viewport:      device.Viewport{Width: 4, Height: 4},
			Vertex:        [][]byte{core.AsBytes(sprites)},
			Uniforms:      [][]byte{core.AsBytes(globals)},
			VertexCount:   6,
			InstanceCount: len(sprites),
		})
		return target.RGBAAt(2, 2)
	}

	c.Assert(draw(device.BlendNone), qt.Equals, color.RGBA{B: 128, A: 128})
	c.Assert(draw(device.BlendAdditive), qt.Equals, color.RGBA{R: 128, B: 128, A: 255})
	over := draw(device.BlendAlpha)
	c.Assert(near(over, color.RGBA{R: 64, B: 128, A: 192}), qt.IsTrue, qt.Commentf("got %v", over))
}

func TestSpiralEmitsStars(t *testing.T) {
	c := qt.New(t)
	frame := &lastFrame{}
	e, dev := newEngine(c, frame)
	s := NewSpiral()
	start(c, e, s)

	run(c, e, s, 10, 50*time.Millisecond)
	c.Assert(s.Stars(), qt.Equals, 10)
	c.Assert(dev.Stats().Draws, qt.Equals, 10)

	img := frame.get()
	c.Assert(img, qt.Not(qt.IsNil))
	center := img.RGBAAt(160, 120)
	c.Assert(brightness(center) > 0, qt.IsTrue, qt.Commentf("center pixel %v", center))
}

func TestSpiralStarsExpire(t *testing.T) {
	c := qt.New(t)
	e, _ := newEngine(c, &lastFrame{})
	s := NewSpiral()
	start(c, e, s)

	run(c, e, s, 30, time.Second)
	// 20 stars a second that live for 10 seconds
	c.Assert(s.Stars() <= 200, qt.IsTrue, qt.Commentf("%d stars", s.Stars()))
	c.Assert(s.Stars() >= 180, qt.IsTrue, qt.Commentf("%d stars", s.Stars()))
}

func TestSnowFallsAndMelts(t *testing.T) {
	c := qt.New(t)
	e, _ := newEngine(c, &lastFrame{})
	s := NewSnow(1)
	start(c, e, s)

	run(c, e, s, 20, 100*time.Millisecond)
	c.Assert(s.Flakes() > 0, qt.IsTrue)
	for _, f := range s.flakes {
		c.Assert(f.velocity.Y() >= -snowMaxFallSpeed, qt.IsTrue)
		c.Assert(f.velocity.Y() < 0, qt.IsTrue)
		c.Assert(f.position.Y() <= 1.25, qt.IsTrue)
	}

	// long enough for every flake to reach terminal speed and fall out
	spawned := s.Flakes()
	s.interval = 1e9
	run(c, e, s, 60, 200*time.Millisecond)
	c.Assert(s.Flakes(), qt.Equals, 0, qt.Commentf("%d flakes at start", spawned))
}

func TestSolarOrbits(t *testing.T) {
	c := qt.New(t)
	e, _ := newEngine(c, &lastFrame{})
	s := NewSolar(SolarBodies)
	start(c, e, s)

	run(c, e, s, 5, 100*time.Millisecond)
	sun, ok := s.Position("sun")
	c.Assert(ok, qt.IsTrue)
	c.Assert(sun.Len() < 1e-5, qt.IsTrue)

	earth, _ := s.Position("earth")
	moon, _ := s.Position("moon")
	c.Assert(mgl32.FloatEqualThreshold(earth.Len(), 1.8, 1e-4), qt.IsTrue)
	c.Assert(mgl32.FloatEqualThreshold(moon.Sub(earth).Len(), 0.2, 1e-4), qt.IsTrue)

	_, ok = s.Position("pluto")
	c.Assert(ok, qt.IsFalse)

	// sorted back to front
	for i := 1; i < len(s.sprites); i++ {
		c.Assert(s.sprites[i-1].Position.Sub(solarEye).Len() >= s.sprites[i].Position.Sub(solarEye).Len(), qt.IsTrue)
	}
}

func TestGlobalsFollowAspect(t *testing.T) {
	c := qt.New(t)
	e, dev := newEngine(c, &lastFrame{})
	s := NewSolar(SolarBodies)
	start(c, e, s)

	run(c, e, s, 4, frameTime)
	globals := s.batch.globals
	c.Assert(globals.Version(), qt.Equals, uint64(1))
	c.Assert(s.batch.aspect, qt.Equals, float32(320)/240)

	// same aspect, bigger surface
	dev.Surface().Resize(640, 480)
	run(c, e, s, 4, frameTime)
	c.Assert(globals.Version(), qt.Equals, uint64(1))

	dev.Surface().Resize(480, 480)
	run(c, e, s, 4, frameTime)
	c.Assert(globals.Version(), qt.Equals, uint64(2))
	c.Assert(s.batch.aspect, qt.Equals, float32(1))
	for k := 0; k < e.FramesInFlight(); k++ {
		c.Assert(globals.SyncedVersion(k), qt.Equals, uint64(2))
	}
}

const frameTime = 16 * time.Millisecond
