// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/gobuffalo/envy"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

// Configuration defines a global engine configuration setting
type Configuration struct {
	Time     TimeConfiguration
	Renderer RendererConfiguration
	Log      LogConfiguration

	// Backend is either "vulkan" or "headless"
	Backend string

	// Window is either "sdl" or "glfw"
	Window string

	// Scene is the name of the scene to run
	Scene string

	// ShaderArchive is a kar archive with compiled shaders,
	// when empty shaders are loaded from the embedded box.
	ShaderArchive string
}

// TimeConfiguration is used to configure time services
type TimeConfiguration struct {
	// FramesPerSecond caps frames per second that is put out
	// To unlimit, set to 0
	FramesPerSecond int
}

// RendererConfiguration is used to configure the renderer
type RendererConfiguration struct {
	// FramesInFlight is the number of frame slots, at least 2.
	FramesInFlight int
	SwapchainSize  uint32

	ScreenWidth  uint32
	ScreenHeight uint32

	ClearColor [4]float32

	// Debug enables API validation where the backend supports it.
	Debug bool
}

// LogConfiguration sets up the logrus logger
type LogConfiguration struct {
	Level  string
	Format string
}

// Environment keys read by LoadConfiguration
const (
	EnvFramesInFlight = "KORU_FRAMES_IN_FLIGHT"
	EnvSwapchainSize  = "KORU_SWAPCHAIN_SIZE"
	EnvScreenWidth    = "KORU_SCREEN_WIDTH"
	EnvScreenHeight   = "KORU_SCREEN_HEIGHT"
	EnvClearColor     = "KORU_CLEAR_COLOR"
	EnvDebug          = "KORU_DEBUG"
	EnvFPS            = "KORU_FPS"
	EnvLogLevel       = "KORU_LOG_LEVEL"
	EnvLogFormat      = "KORU_LOG_FORMAT"
	EnvBackend        = "KORU_BACKEND"
	EnvWindow         = "KORU_WINDOW"
	EnvScene          = "KORU_SCENE"
	EnvShaderArchive  = "KORU_SHADER_ARCHIVE"
)

// DefaultConfiguration returns the configuration used when nothing is set.
func DefaultConfiguration() Configuration {
	return Configuration{
		Time: TimeConfiguration{
			FramesPerSecond: 60,
		},
		Renderer: RendererConfiguration{
			FramesInFlight: 3,
			SwapchainSize:  3,
			ScreenWidth:    1280,
			ScreenHeight:   720,
			ClearColor:     [4]float32{0.02, 0.02, 0.05, 1},
		},
		Log: LogConfiguration{
			Level:  "info",
			Format: "text",
		},
		Backend: "vulkan",
		Window:  "sdl",
		Scene:   "spiral",
	}
}

// LoadConfiguration builds the configuration from defaults, then the given
// dotenv files in order, then the process environment. Missing files
// are an error.
func LoadConfiguration(files ...string) (Configuration, error) {
	values := make(map[string]string)
	for _, file := range files {
		read, err := godotenv.Read(file)
		if err != nil {
			return Configuration{}, fmt.Errorf("godotenv.Read(%s): %w", file, err)
		}
		for k, v := range read {
			values[k] = v
		}
	}
	lookup := func(key string) string {
		return envy.Get(key, values[key])
	}

	cfg := DefaultConfiguration()
	var err error
	setInt := func(key string, dst *int) {
		if v := lookup(key); v != "" && err == nil {
			var n int
			if n, err = strconv.Atoi(v); err != nil {
				err = fmt.Errorf("%s: %w", key, err)
				return
			}
			*dst = n
		}
	}
	setUint := func(key string, dst *uint32) {
		if v := lookup(key); v != "" && err == nil {
			var n uint64
			if n, err = strconv.ParseUint(v, 10, 32); err != nil {
				err = fmt.Errorf("%s: %w", key, err)
				return
			}
			*dst = uint32(n)
		}
	}
	setString := func(key string, dst *string) {
		if v := lookup(key); v != "" {
			*dst = v
		}
	}

	setInt(EnvFramesInFlight, &cfg.Renderer.FramesInFlight)
	setUint(EnvSwapchainSize, &cfg.Renderer.SwapchainSize)
	setUint(EnvScreenWidth, &cfg.Renderer.ScreenWidth)
	setUint(EnvScreenHeight, &cfg.Renderer.ScreenHeight)
	setInt(EnvFPS, &cfg.Time.FramesPerSecond)
	setString(EnvLogLevel, &cfg.Log.Level)
	setString(EnvLogFormat, &cfg.Log.Format)
	setString(EnvBackend, &cfg.Backend)
	setString(EnvWindow, &cfg.Window)
	setString(EnvScene, &cfg.Scene)
	setString(EnvShaderArchive, &cfg.ShaderArchive)
	if err != nil {
		return Configuration{}, err
	}

	if v := lookup(EnvDebug); v != "" {
		if cfg.Renderer.Debug, err = strconv.ParseBool(v); err != nil {
			return Configuration{}, fmt.Errorf("%s: %w", EnvDebug, err)
		}
	}
	if v := lookup(EnvClearColor); v != "" {
		if cfg.Renderer.ClearColor, err = parseColor(v); err != nil {
			return Configuration{}, fmt.Errorf("%s: %w", EnvClearColor, err)
		}
	}
	return cfg, cfg.Validate()
}

// parseColor reads "r,g,b,a" with components in [0, 1].
func parseColor(s string) ([4]float32, error) {
	var c [4]float32
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return c, errors.New("expected 4 comma separated components")
	}
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return c, err
		}
		if v < 0 || v > 1 {
			return c, fmt.Errorf("component %d out of range", i)
		}
		c[i] = float32(v)
	}
	return c, nil
}

// Validate checks the configuration for values the engine can't run with.
func (c Configuration) Validate() error {
	switch {
	case c.Renderer.FramesInFlight < 2:
		return fmt.Errorf("frames in flight must be at least 2, got %d", c.Renderer.FramesInFlight)
	case c.Renderer.SwapchainSize < 2:
		return fmt.Errorf("swapchain size must be at least 2, got %d", c.Renderer.SwapchainSize)
	case c.Renderer.ScreenWidth == 0 || c.Renderer.ScreenHeight == 0:
		return errors.New("screen size can not be zero")
	case c.Time.FramesPerSecond < 0:
		return errors.New("frames per second can not be negative")
	}
	switch c.Backend {
	case "vulkan", "headless":
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	switch c.Window {
	case "sdl", "glfw":
	default:
		return fmt.Errorf("unknown window %q", c.Window)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// ConfigureLogger applies the log configuration to logger.
func (c LogConfiguration) ConfigureLogger(logger *log.Logger) error {
	level, err := log.ParseLevel(c.Level)
	if err != nil {
		return err
	}
	logger.SetLevel(level)
	if c.Format == "json" {
		logger.SetFormatter(&log.JSONFormatter{})
	} else {
		logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	return nil
}
