// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package scene

import (
	"math"
	"time"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/devblok/koruframe/core"
	"github.com/devblok/koruframe/device"
)

const (
	spiralCapacity = 1000
	spiralInterval = 50 * time.Millisecond
	spiralStep     = math.Pi / 12
	spiralSpeed    = 0.1
	spiralStarSize = 0.15
)

type star struct {
	color mgl32.Vec4
	phase float32
	life  float32
}

func (s star) sprite() Sprite {
	length := spiralStarSize * 0.25 * float32(math.Exp(float64(s.life)*15))
	sin, cos := math.Sincos(float64(s.phase))
	return Sprite{
		Position: mgl32.Vec3{float32(sin) * length, float32(cos) * length, 0},
		Size:     spiralStarSize,
		Color:    s.color,
	}
}

// Spiral emits a star every 50ms, each a step further around the
// circle and hue wheel, and lets them drift outwards until they expire.
type Spiral struct {
	batch *spriteBatch

	stars   []star
	sprites []Sprite
	pending time.Duration
	phase   float32
}

// NewSpiral creates the spiral scene.
func NewSpiral() *Spiral {
	return &Spiral{}
}

// Init implements core.Scene
func (s *Spiral) Init(e *core.Engine) error {
	var err error
	s.batch, err = newSpriteBatch(e, SpriteAdditive, device.BlendAdditive, spiralCapacity, FlatCamera)
	return err
}

// Update implements core.Scene
func (s *Spiral) Update(e *core.Engine, dt time.Duration) error {
	s.pending += dt
	for s.pending >= spiralInterval {
		s.pending -= spiralInterval
		s.phase += spiralStep
		if s.phase > 2*math.Pi {
			s.phase -= 2 * math.Pi
		}
		hue := s.phase / (2 * math.Pi)
		s.stars = append(s.stars, star{
			color: hsv(hue, 0.7, 1).Vec4(1),
			phase: s.phase,
			life:  float32(s.pending.Seconds()) * spiralSpeed,
		})
	}

	age := float32(dt.Seconds()) * spiralSpeed
	alive := s.stars[:0]
	s.sprites = s.sprites[:0]
	for _, st := range s.stars {
		st.life += age
		if st.life < 1 {
			alive = append(alive, st)
			s.sprites = append(s.sprites, st.sprite())
		}
	}
	s.stars = alive
	return s.batch.write(s.sprites)
}

// Render implements core.Scene
func (s *Spiral) Render(e *core.Engine, cmd device.CommandBuffer) error {
	return s.batch.draw(e, cmd)
}

// Shutdown implements core.Scene
func (s *Spiral) Shutdown(e *core.Engine) {
	if s.batch != nil {
		s.batch.destroy()
	}
}

// Stars returns the number of live stars.
func (s *Spiral) Stars() int {
	return len(s.stars)
}

// hsv converts hue, saturation and value in [0, 1] to RGB.
func hsv(h, s, v float32) mgl32.Vec3 {
	h = float32(math.Mod(float64(h), 1)) * 6
	c := v * s
	x := c * (1 - float32(math.Abs(math.Mod(float64(h), 2)-1)))
	m := v - c

	var rgb mgl32.Vec3
	switch int(h) {
	case 0:
		rgb = mgl32.Vec3{c, x, 0}
	case 1:
		rgb = mgl32.Vec3{x, c, 0}
	case 2:
		rgb = mgl32.Vec3{0, c, x}
	case 3:
		rgb = mgl32.Vec3{0, x, c}
	case 4:
		rgb = mgl32.Vec3{x, 0, c}
	default:
		rgb = mgl32.Vec3{c, 0, x}
	}
	return rgb.Add(mgl32.Vec3{m, m, m})
}
