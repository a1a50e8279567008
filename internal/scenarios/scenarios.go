// Package scenarios holds the capture correctness tests the harness runs.
package scenarios

import (
	"context"
	"sort"

	"github.com/breeze-rmm/wgctest/internal/fixture"
)

// Scenario is one named test.
type Scenario struct {
	Name        string
	Description string
	Run         func(ctx context.Context, b fixture.Backend) error
}

var registry = []Scenario{
	{
		Name:        "alpha_test",
		Description: "red circle on a transparent 100x100 visual keeps transparent black outside the shape",
		Run:         Alpha,
	},
	{
		Name:        "basic_window_test",
		Description: "500x500 green window captured with a client-area crop",
		Run:         BasicWindow,
	},
	{
		Name:        "fullscreen_transition_test",
		Description: "one capture session across windowed red, fullscreen green and windowed blue",
		Run:         FullscreenTransition,
	},
}

// All returns every scenario in run order.
func All() []Scenario {
	return append([]Scenario(nil), registry...)
}

// Lookup finds a scenario by name.
func Lookup(name string) (Scenario, bool) {
	for _, s := range registry {
		if s.Name == name {
			return s, true
		}
	}
	return Scenario{}, false
}

// Names lists scenario names sorted alphabetically.
func Names() []string {
	names := make([]string, 0, len(registry))
	for _, s := range registry {
		names = append(names, s.Name)
	}
	sort.Strings(names)
	return names
}
