// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core_test

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/gobuffalo/envy"
	log "github.com/sirupsen/logrus"

	"github.com/devblok/koruframe/core"
)

func writeEnvFile(c *qt.C, contents string) string {
	path := filepath.Join(c.TempDir(), "koru.env")
	c.Assert(os.WriteFile(path, []byte(contents), 0644), qt.IsNil)
	return path
}

func TestDefaultConfigurationIsValid(t *testing.T) {
	c := qt.New(t)
	cfg := core.DefaultConfiguration()
	c.Assert(cfg.Validate(), qt.IsNil)
	c.Assert(cfg.Renderer.FramesInFlight, qt.Equals, 3)
}

func TestLoadConfigurationFromFile(t *testing.T) {
	c := qt.New(t)
	path := writeEnvFile(c, `
KORU_FRAMES_IN_FLIGHT=4
KORU_SCREEN_WIDTH=640
KORU_SCREEN_HEIGHT=480
KORU_FPS=0
KORU_DEBUG=true
KORU_CLEAR_COLOR=0, 0.5, 1, 1
KORU_BACKEND=headless
KORU_SCENE=snow
KORU_LOG_FORMAT=json
`)

	envy.Temp(func() {
		cfg, err := core.LoadConfiguration(path)
		c.Assert(err, qt.IsNil)
		c.Assert(cfg.Renderer, qt.DeepEquals, core.RendererConfiguration{
			FramesInFlight: 4,
			SwapchainSize:  3,
			ScreenWidth:    640,
			ScreenHeight:   480,
			ClearColor:     [4]float32{0, 0.5, 1, 1},
			Debug:          true,
		})
		c.Assert(cfg.Time.FramesPerSecond, qt.Equals, 0)
		c.Assert(cfg.Backend, qt.Equals, "headless")
		c.Assert(cfg.Scene, qt.Equals, "snow")
		c.Assert(cfg.Log.Format, qt.Equals, "json")
	})
}

func TestLoadConfigurationEnvironmentWins(t *testing.T) {
	c := qt.New(t)
	path := writeEnvFile(c, "KORU_FRAMES_IN_FLIGHT=4\nKORU_WINDOW=glfw\n")

	envy.Temp(func() {
		envy.Set(core.EnvFramesInFlight, "2")
		cfg, err := core.LoadConfiguration(path)
		c.Assert(err, qt.IsNil)
		c.Assert(cfg.Renderer.FramesInFlight, qt.Equals, 2)
		c.Assert(cfg.Window, qt.Equals, "glfw")
	})
}

func TestLoadConfigurationErrors(t *testing.T) {
	c := qt.New(t)
	tests := []struct {
		name     string
		contents string
		err      string
	}{
		{"single slot", "KORU_FRAMES_IN_FLIGHT=1", "frames in flight must be at least 2, got 1"},
		{"not a number", "KORU_SCREEN_WIDTH=wide", "KORU_SCREEN_WIDTH: .*invalid syntax"},
		{"zero height", "KORU_SCREEN_HEIGHT=0", "screen size can not be zero"},
		{"backend", "KORU_BACKEND=metal", `unknown backend "metal"`},
		{"window", "KORU_WINDOW=x11", `unknown window "x11"`},
		{"log level", "KORU_LOG_LEVEL=loud", `not a valid logrus Level: "loud"`},
		{"color", "KORU_CLEAR_COLOR=1,1,1", "KORU_CLEAR_COLOR: expected 4 comma separated components"},
		{"color range", "KORU_CLEAR_COLOR=1,1,2,1", "KORU_CLEAR_COLOR: component 2 out of range"},
		{"debug", "KORU_DEBUG=maybe", "KORU_DEBUG: .*invalid syntax"},
	}
	for _, test := range tests {
		c.Run(test.name, func(c *qt.C) {
			path := writeEnvFile(c, test.contents)
			envy.Temp(func() {
				_, err := core.LoadConfiguration(path)
				c.Assert(err, qt.ErrorMatches, test.err)
			})
		})
	}
}

func TestLoadConfigurationMissingFile(t *testing.T) {
	c := qt.New(t)
	_, err := core.LoadConfiguration(filepath.Join(c.TempDir(), "missing.env"))
	c.Assert(err, qt.ErrorMatches, "godotenv.Read.*")
}

func TestConfigureLogger(t *testing.T) {
	c := qt.New(t)
	logger := log.New()
	c.Assert(core.LogConfiguration{Level: "debug", Format: "json"}.ConfigureLogger(logger), qt.IsNil)
	c.Assert(logger.GetLevel(), qt.Equals, log.DebugLevel)
	c.Assert(reflect.TypeOf(logger.Formatter), qt.Equals, reflect.TypeOf(&log.JSONFormatter{}))

	c.Assert(core.LogConfiguration{Level: "nope"}.ConfigureLogger(logger), qt.Not(qt.IsNil))
}
