package harness

import (
	"context"
	"runtime"

	"github.com/kbinani/screenshot"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/breeze-rmm/wgctest/internal/gpu"
)

// Host describes the machine a run happened on.
type Host struct {
	Hostname     string       `yaml:"hostname"`
	OSType       string       `yaml:"os_type"`
	OSVersion    string       `yaml:"os_version"`
	OSBuild      string       `yaml:"os_build,omitempty"`
	Architecture string       `yaml:"architecture"`
	GoVersion    string       `yaml:"go_version"`
	CPUModel     string       `yaml:"cpu_model,omitempty"`
	CPUCores     int          `yaml:"cpu_cores,omitempty"`
	CPUThreads   int          `yaml:"cpu_threads,omitempty"`
	RAMTotalMB   uint64       `yaml:"ram_total_mb,omitempty"`
	Outputs      []gpu.Output `yaml:"outputs,omitempty"`
	Displays     []Display    `yaml:"displays,omitempty"`
}

// Display is a monitor as the desktop session reports it, independent of
// the adapter enumeration in Outputs.
type Display struct {
	Index  int `yaml:"index"`
	X      int `yaml:"x"`
	Y      int `yaml:"y"`
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// CollectHost gathers what it can; missing pieces are left empty.
func CollectHost(ctx context.Context) *Host {
	h := &Host{
		Architecture: runtime.GOARCH,
		GoVersion:    runtime.Version(),
	}

	if info, err := host.InfoWithContext(ctx); err == nil {
		h.Hostname = info.Hostname
		h.OSType = info.OS
		h.OSVersion = info.Platform + " " + info.PlatformVersion
		h.OSBuild = info.KernelVersion
	} else {
		log.Debug("host info unavailable", "error", err)
	}

	if info, err := cpu.InfoWithContext(ctx); err == nil && len(info) > 0 {
		h.CPUModel = info[0].ModelName
		h.CPUCores = int(info[0].Cores)
	}
	if n, err := cpu.CountsWithContext(ctx, true); err == nil {
		h.CPUThreads = n
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		h.RAMTotalMB = vm.Total / 1024 / 1024
	}

	if outs, err := gpu.ListOutputs(); err == nil {
		h.Outputs = outs
	} else {
		log.Debug("output enumeration failed", "error", err)
	}
	h.Displays = collectDisplays()
	return h
}

// collectDisplays returns nothing on headless machines.
func collectDisplays() []Display {
	n := screenshot.NumActiveDisplays()
	displays := make([]Display, 0, n)
	for i := 0; i < n; i++ {
		b := screenshot.GetDisplayBounds(i)
		displays = append(displays, Display{
			Index:  i,
			X:      b.Min.X,
			Y:      b.Min.Y,
			Width:  b.Dx(),
			Height: b.Dy(),
		})
	}
	return displays
}
