// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package scene

import (
	"math/rand"
	"time"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/devblok/koruframe/core"
	"github.com/devblok/koruframe/device"
)

const (
	snowCapacity     = 1024
	snowGravity      = 0.1
	snowMaxFallSpeed = 1.0
)

type flake struct {
	position mgl32.Vec2
	velocity mgl32.Vec2
	size     float32
	alpha    float32
}

// Snow spawns flakes above the top edge at random intervals that
// shorten over time. Flakes accelerate downwards up to a terminal
// speed and are dropped once below the bottom edge.
type Snow struct {
	batch *spriteBatch
	rand  *rand.Rand

	flakes   []flake
	sprites  []Sprite
	pending  float32
	interval float32
	scale    float32
}

// NewSnow creates the snow scene, seed makes the flakes reproducible.
func NewSnow(seed int64) *Snow {
	return &Snow{
		rand:     rand.New(rand.NewSource(seed)),
		interval: 0.5,
		scale:    3,
	}
}

// Init implements core.Scene
func (s *Snow) Init(e *core.Engine) error {
	var err error
	s.batch, err = newSpriteBatch(e, SpriteAlpha, device.BlendAlpha, snowCapacity, FlatCamera)
	return err
}

func (s *Snow) uniform(min, max float32) float32 {
	return min + s.rand.Float32()*(max-min)
}

// Update implements core.Scene
func (s *Snow) Update(e *core.Engine, dt time.Duration) error {
	seconds := float32(dt.Seconds())
	aspect := e.Extent().Aspect()

	s.pending += seconds
	for s.pending > s.interval {
		f := flake{
			position: mgl32.Vec2{s.uniform(-aspect, aspect), 1},
			size:     s.uniform(0.05, 0.25),
			alpha:    s.uniform(0.5, 1),
		}
		f.position[1] += f.size
		f.velocity = mgl32.Vec2{0, -s.uniform(0.1, 0.5)}
		s.flakes = append(s.flakes, f)

		s.pending -= s.interval
		s.interval = s.uniform(0.1, 0.5) * s.scale
		s.scale = mgl32.Clamp(s.scale*0.95, 0.5, s.scale)
	}

	alive := s.flakes[:0]
	s.sprites = s.sprites[:0]
	for _, f := range s.flakes {
		f.position = f.position.Add(f.velocity.Mul(seconds))
		if f.position.Y() < -1-f.size {
			continue
		}
		f.velocity[1] = mgl32.Clamp(f.velocity[1]-snowGravity*seconds, -snowMaxFallSpeed, 0)
		alive = append(alive, f)
		s.sprites = append(s.sprites, Sprite{
			Position: f.position.Vec3(0),
			Size:     f.size,
			Color:    mgl32.Vec4{1, 1, 1, f.alpha},
		})
	}
	s.flakes = alive
	return s.batch.write(s.sprites)
}

// Render implements core.Scene
func (s *Snow) Render(e *core.Engine, cmd device.CommandBuffer) error {
	return s.batch.draw(e, cmd)
}

// Shutdown implements core.Scene
func (s *Snow) Shutdown(e *core.Engine) {
	if s.batch != nil {
		s.batch.destroy()
	}
}

// Flakes returns the number of falling flakes.
func (s *Snow) Flakes() int {
	return len(s.flakes)
}
