// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package scene

import (
	"slices"
	"time"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/devblok/koruframe/core"
	"github.com/devblok/koruframe/device"
)

// Body is a celestial body revolving around its parent, or around the
// origin when it has none.
type Body struct {
	Name   string
	Parent string
	Radius float32
	Color  mgl32.Vec4

	// Orbit is the distance from the parent.
	Orbit float32
	// Speed is the revolution speed in radians per second.
	Speed float32
	// Phase is the revolution angle at time zero.
	Phase float32
}

// SolarBodies are the sun, its planets and the moon. Periods are
// relative to earth's.
var SolarBodies = []Body{
	{Name: "sun", Radius: 1, Color: mgl32.Vec4{1, 0.8, 0.3, 1}},
	{Name: "mercury", Radius: 0.05, Orbit: 1.15, Speed: 365.2564 / 87.9674, Phase: 100, Color: mgl32.Vec4{0.6, 0.6, 0.6, 1}},
	{Name: "venus", Radius: 0.16, Orbit: 1.4, Speed: 365.2564 / 224.6960, Phase: 200, Color: mgl32.Vec4{0.9, 0.8, 0.6, 1}},
	{Name: "earth", Radius: 0.18, Orbit: 1.8, Speed: 1, Phase: 300, Color: mgl32.Vec4{0.2, 0.4, 0.9, 1}},
	{Name: "mars", Radius: 0.1, Orbit: 2.2, Speed: 365.2564 / 686.9649, Phase: 400, Color: mgl32.Vec4{0.8, 0.3, 0.2, 1}},
	{Name: "jupiter", Radius: 0.8, Orbit: 3.2, Speed: 1 / 11.862615, Phase: 800, Color: mgl32.Vec4{0.8, 0.7, 0.5, 1}},
	{Name: "saturn", Radius: 0.7, Orbit: 5, Speed: 1 / 29.447498, Phase: 1600, Color: mgl32.Vec4{0.9, 0.8, 0.6, 1}},
	{Name: "uranus", Radius: 0.6, Orbit: 6.5, Speed: 1 / 84.016846, Phase: 2200, Color: mgl32.Vec4{0.6, 0.8, 0.9, 1}},
	{Name: "neptune", Radius: 0.55, Orbit: 8, Speed: 1 / 164.79132, Phase: 3000, Color: mgl32.Vec4{0.3, 0.4, 0.9, 1}},
	{Name: "moon", Parent: "earth", Radius: 0.03, Orbit: 0.2, Speed: 12, Color: mgl32.Vec4{0.8, 0.8, 0.8, 1}},
}

var solarEye = mgl32.Vec3{0, 0, 15}

// SolarCamera looks at the sun from above its equator plane.
func SolarCamera(aspect float32) mgl32.Mat4 {
	projection := mgl32.Perspective(mgl32.DegToRad(45), aspect, 0.1, 40)
	view := mgl32.LookAtV(solarEye, mgl32.Vec3{}, mgl32.Vec3{0, 1, 0})
	return projection.Mul4(view)
}

// Solar animates nested orbits. Every body is drawn as a sprite at its
// world position, ordered back to front.
type Solar struct {
	batch  *spriteBatch
	bodies []Body
	parent []int
	world  []mgl32.Mat4

	elapsed float32
	sprites []Sprite
}

// NewSolar creates the solar system scene. Parents must come before
// their satellites.
func NewSolar(bodies []Body) *Solar {
	s := &Solar{
		bodies: bodies,
		parent: make([]int, len(bodies)),
		world:  make([]mgl32.Mat4, len(bodies)),
	}
	index := make(map[string]int, len(bodies))
	for i, b := range bodies {
		s.parent[i] = -1
		if p, ok := index[b.Parent]; ok {
			s.parent[i] = p
		}
		index[b.Name] = i
	}
	return s
}

// Init implements core.Scene
func (s *Solar) Init(e *core.Engine) error {
	var err error
	s.batch, err = newSpriteBatch(e, SpriteAlpha, device.BlendAlpha, len(s.bodies), SolarCamera)
	return err
}

// Update implements core.Scene
func (s *Solar) Update(e *core.Engine, dt time.Duration) error {
	s.elapsed += float32(dt.Seconds())

	s.sprites = s.sprites[:0]
	for i, b := range s.bodies {
		reference := mgl32.Ident4()
		if p := s.parent[i]; p >= 0 {
			reference = s.world[p]
		}
		revolution := mgl32.HomogRotate3DY(b.Speed*s.elapsed + b.Phase).Mul4(mgl32.Translate3D(b.Orbit, 0, 0))
		s.world[i] = reference.Mul4(revolution)

		s.sprites = append(s.sprites, Sprite{
			Position: s.world[i].Col(3).Vec3(),
			Size:     b.Radius,
			Color:    b.Color,
		})
	}
	slices.SortStableFunc(s.sprites, func(a, b Sprite) int {
		da, db := a.Position.Sub(solarEye).Len(), b.Position.Sub(solarEye).Len()
		switch {
		case da > db:
			return -1
		case da < db:
			return 1
		}
		return 0
	})
	return s.batch.write(s.sprites)
}

// Position returns the world position of the named body.
func (s *Solar) Position(name string) (mgl32.Vec3, bool) {
	for i, b := range s.bodies {
		if b.Name == name {
			return s.world[i].Col(3).Vec3(), true
		}
	}
	return mgl32.Vec3{}, false
}

// Render implements core.Scene
func (s *Solar) Render(e *core.Engine, cmd device.CommandBuffer) error {
	return s.batch.draw(e, cmd)
}

// Shutdown implements core.Scene
func (s *Solar) Shutdown(e *core.Engine) {
	if s.batch != nil {
		s.batch.destroy()
	}
}
