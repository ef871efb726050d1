// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Command koru runs a scene on a window, or headless for a number of frames.
//
// Windowed runs load shaders from the shaders package, which is empty
// until go generate ./shaders compiled them, or from the kar archive
// named by KORU_SHADER_ARCHIVE.
package main

import (
	"context"
	"errors"
	"flag"
	"image"
	"image/png"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"runtime/trace"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/mmap"

	"github.com/devblok/koruframe/core"
	"github.com/devblok/koruframe/device"
	"github.com/devblok/koruframe/device/headless"
	"github.com/devblok/koruframe/device/vulkan"
	"github.com/devblok/koruframe/platform"
	"github.com/devblok/koruframe/scene"
	"github.com/devblok/koruframe/shaders"
	"github.com/devblok/koruframe/utility/kar"
)

func init() {
	runtime.LockOSThread()
}

// Profiling
var (
	cpuProfile   = flag.String("cpuprof", "", "Profile CPU usage to file")
	memProfile   = flag.String("memprof", "", "Profile memory usage into a file")
	traceProfile = flag.String("trace", "", "Trace output for profiling")
)

var (
	configFile = flag.String("config", "", "Load configuration from a dotenv file")
	sceneName  = flag.String("scene", "", "Scene to run, overrides the configuration")
	headlessFl = flag.Bool("headless", false, "Render with the software device instead of a window")
	frames     = flag.Int("frames", 0, "Stop after this many frames, 0 runs until quit")
	dump       = flag.String("dump", "", "Write the last presented frame as PNG, headless only")
	debug      = flag.Bool("vkdbg", false, "Load Vulkan validation layers")
)

func main() {
	flag.Parse()
	os.Exit(profile())
}

// profile runs the program under the requested profilers and
// returns the exit code.
func profile() int {
	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			log.Fatal(err)
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatal(err)
		}
		defer pprof.StopCPUProfile()
	}

	if *traceProfile != "" {
		f, err := os.Create(*traceProfile)
		if err != nil {
			log.Fatal(err)
		}
		if err := trace.Start(f); err != nil {
			log.Fatal(err)
		}
		defer trace.Stop()
	}

	code := reportExit(log.StandardLogger(), run())

	if *memProfile != "" {
		f, err := os.Create(*memProfile)
		if err != nil {
			log.Fatal(err)
		}
		defer f.Close()
		if err := pprof.WriteHeapProfile(f); err != nil {
			log.Fatal(err)
		}
	}
	return code
}

// reportExit logs why the run ended and returns the exit code. Fatal
// device errors are logged at fatal level, without exiting so that
// profiles are still written.
func reportExit(logger *log.Logger, err error) int {
	if err == nil {
		return 0
	}
	level := log.ErrorLevel
	if core.IsFatal(err) {
		level = log.FatalLevel
	}
	logger.WithError(err).Log(level, "koru exited")
	return 1
}

func loadConfiguration() (core.Configuration, error) {
	var files []string
	if *configFile != "" {
		files = append(files, *configFile)
	}
	cfg, err := core.LoadConfiguration(files...)
	if err != nil {
		return cfg, err
	}
	if *sceneName != "" {
		cfg.Scene = *sceneName
	}
	if *headlessFl {
		cfg.Backend = "headless"
	}
	if *debug {
		cfg.Renderer.Debug = true
	}
	if *dump != "" && cfg.Backend != "headless" {
		return cfg, errors.New("-dump needs the headless backend")
	}
	return cfg, cfg.Log.ConfigureLogger(log.StandardLogger())
}

func run() error {
	cfg, err := loadConfiguration()
	if err != nil {
		return err
	}
	sc, err := scene.New(cfg.Scene)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if cfg.Backend == "headless" {
		return runHeadless(ctx, cfg, sc)
	}
	return runWindowed(ctx, cfg, sc)
}

// frameLimit returns a poll function that asks to quit after n frames,
// and never when n is zero.
func frameLimit(n int, next func() bool) func() bool {
	polled := 0
	return func() bool {
		if next != nil && next() {
			return true
		}
		if n <= 0 {
			return false
		}
		polled++
		return polled > n
	}
}

// frameCounter logs the frame rate about once a second.
func frameCounter(next func() bool) func() bool {
	count, last := 0, time.Now()
	return func() bool {
		count++
		if since := time.Since(last); since >= time.Second {
			log.WithFields(log.Fields{
				"fps":       float64(count) / since.Seconds(),
				"cgo_calls": runtime.NumCgoCall(),
			}).Debug("frame count")
			count, last = 0, time.Now()
		}
		return next()
	}
}

// lastFrame keeps the most recent image the headless device presented.
type lastFrame struct {
	mutex sync.Mutex
	img   *image.RGBA
}

func (f *lastFrame) hook(_ int, img *image.RGBA) {
	f.mutex.Lock()
	f.img = img
	f.mutex.Unlock()
}

func (f *lastFrame) writePNG(path string) error {
	f.mutex.Lock()
	img := f.img
	f.mutex.Unlock()
	if img == nil {
		return errors.New("no frame was presented")
	}
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(out, img); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func runHeadless(ctx context.Context, cfg core.Configuration, sc core.Scene) error {
	frame := &lastFrame{}
	opts := []headless.Option{
		headless.WithSurface(cfg.Renderer.ScreenWidth, cfg.Renderer.ScreenHeight),
		headless.WithPresentHook(frame.hook),
	}
	for name, fn := range scene.SoftwareRasterizers() {
		opts = append(opts, headless.WithRasterizer(name, fn))
	}
	dev := headless.New(opts...)
	defer dev.Destroy()

	if err := runEngine(ctx, cfg, dev, sc, frameCounter(frameLimit(*frames, nil))); err != nil {
		return err
	}
	log.WithField("device", dev.Stats()).Debug("headless device stats")
	if *dump != "" {
		if err := frame.writePNG(*dump); err != nil {
			return err
		}
		log.WithField("file", *dump).Info("frame written")
	}
	return nil
}

func runWindowed(ctx context.Context, cfg core.Configuration, sc core.Scene) error {
	source, closeSource, err := shaderSource(cfg.ShaderArchive)
	if err != nil {
		return err
	}
	defer closeSource()

	window, err := platform.New(cfg.Window, "Koru3D", cfg.Renderer.ScreenWidth, cfg.Renderer.ScreenHeight)
	if err != nil {
		return err
	}
	defer window.Destroy()

	instance, err := vulkan.NewInstance(window.ProcAddr(), vulkan.InstanceConfiguration{
		Extensions: window.InstanceExtensions(),
		DebugMode:  cfg.Renderer.Debug,
	})
	if err != nil {
		return err
	}
	defer instance.Destroy()

	surface, err := window.CreateSurface(instance.Handle())
	if err != nil {
		return err
	}
	instance.SetSurface(surface)

	index, err := pickDevice(instance.PhysicalDevicesInfo())
	if err != nil {
		return err
	}
	dev, err := vulkan.New(instance, index,
		vulkan.WithShaders(source),
		vulkan.WithDrawableSize(window.DrawableSize),
		vulkan.WithLogger(log.StandardLogger()),
	)
	if err != nil {
		return err
	}
	defer dev.Destroy()

	return runEngine(ctx, cfg, dev, sc, frameCounter(frameLimit(*frames, window.PollEvents)))
}

func pickDevice(infos []device.PhysicalDeviceInfo) (int, error) {
	for i, info := range infos {
		if !info.Invalid {
			log.WithFields(log.Fields{
				"index":  i,
				"device": info.Name,
			}).Info("physical device selected")
			return i, nil
		}
	}
	return 0, errors.New("no suitable physical device found")
}

// shaderSource loads shaders from a kar archive when one is set,
// from the embedded box otherwise.
func shaderSource(archive string) (vulkan.ShaderSource, func(), error) {
	if archive == "" {
		return vulkan.ShaderFunc(shaders.Find), func() {}, nil
	}
	r, err := mmap.Open(archive)
	if err != nil {
		return nil, nil, err
	}
	ar, err := kar.Open(r)
	if err != nil {
		r.Close()
		return nil, nil, err
	}
	log.WithFields(log.Fields{
		"archive": archive,
		"author":  ar.Header().Author,
		"files":   len(ar.Names()),
	}).Info("shader archive opened")
	return vulkan.ShaderFunc(ar.ReadAll), func() { r.Close() }, nil
}

func runEngine(ctx context.Context, cfg core.Configuration, dev device.Device, sc core.Scene, poll func() bool) error {
	engine, err := core.NewEngine(dev, cfg.Renderer)
	if err != nil {
		return err
	}
	defer engine.Destroy()

	clock := core.NewTime(cfg.Time)
	defer clock.Stop()

	start := time.Now()
	err = engine.Run(ctx, sc, clock, poll)
	stats := engine.Stats()
	log.WithFields(log.Fields{
		"frames":      stats.Frames,
		"presented":   stats.Presented,
		"dropped":     stats.Dropped,
		"recreations": stats.Recreations,
		"fps":         float64(stats.Presented) / time.Since(start).Seconds(),
	}).Info("run finished")
	return err
}
