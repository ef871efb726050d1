// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package scene holds the demo scenes. They only use what the engine
// exposes to scenes, drawing instanced sprites whose per-frame data
// lives in dynamic buffers.
package scene

import (
	"fmt"
	"sort"
	"time"

	"github.com/devblok/koruframe/core"
)

var registry = map[string]func() core.Scene{
	"spiral": func() core.Scene { return NewSpiral() },
	"snow":   func() core.Scene { return NewSnow(time.Now().UnixNano()) },
	"solar":  func() core.Scene { return NewSolar(SolarBodies) },
}

// New creates the scene registered under name.
func New(name string) (core.Scene, error) {
	create, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown scene %q, have %v", name, Names())
	}
	return create(), nil
}

// Names lists the registered scenes.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
