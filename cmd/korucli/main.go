// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Command korucli prints the physical devices Vulkan sees and the
// configuration koru would run with, as JSON.
package main

import (
	"encoding/json"
	"flag"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/devblok/koruframe/core"
	"github.com/devblok/koruframe/device"
	"github.com/devblok/koruframe/device/vulkan"
	"github.com/devblok/koruframe/scene"
)

var (
	configFile = flag.String("config", "", "Load configuration from a dotenv file")
	debug      = flag.Bool("vkdbg", false, "Load Vulkan validation layers")
	noDevices  = flag.Bool("nodev", false, "Skip device enumeration")
)

type report struct {
	Configuration core.Configuration          `json:"configuration"`
	Scenes        []string                    `json:"scenes"`
	Devices       []device.PhysicalDeviceInfo `json:"devices,omitempty"`
}

func main() {
	flag.Parse()

	var files []string
	if *configFile != "" {
		files = append(files, *configFile)
	}
	cfg, err := core.LoadConfiguration(files...)
	if err != nil {
		log.Fatal(err)
	}

	out := report{
		Configuration: cfg,
		Scenes:        scene.Names(),
	}
	if !*noDevices {
		instance, err := vulkan.NewInstance(nil, vulkan.InstanceConfiguration{
			DebugMode: *debug || cfg.Renderer.Debug,
		})
		if err != nil {
			log.Fatal(err)
		}
		out.Devices = instance.PhysicalDevicesInfo()
		instance.Destroy()
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		log.Fatal(err)
	}
}
