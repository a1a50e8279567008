// Package fixture bundles everything a scenario needs from the platform:
// a device, a capture service, test windows and visuals.
package fixture

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/breeze-rmm/wgctest/internal/capture"
	"github.com/breeze-rmm/wgctest/internal/config"
	"github.com/breeze-rmm/wgctest/internal/dispatcher"
	"github.com/breeze-rmm/wgctest/internal/gpu"
	"github.com/breeze-rmm/wgctest/internal/logging"
	"github.com/breeze-rmm/wgctest/internal/scene"
	"github.com/breeze-rmm/wgctest/internal/swapchain"
	"github.com/breeze-rmm/wgctest/internal/window"
)

var log = logging.L("fixture")

// ErrUnsupported marks fixtures a backend cannot build. Scenarios that
// need them are skipped.
var ErrUnsupported = errors.New("fixture: not supported by this backend")

// Options shared by all backends.
type Options struct {
	// SettleDelay is how long Settle waits for asynchronous presentation
	// changes to reach the compositor.
	SettleDelay  time.Duration
	Backpressure capture.Backpressure
}

// Backend is a platform to run scenarios on.
type Backend interface {
	Name() string
	Device() gpu.Device
	Platform() capture.Platform
	// Queue is the thread that owns windows and scene objects.
	Queue() *dispatcher.Queue
	// NewVisual creates a capturable visual.
	NewVisual(ctx context.Context, name string, width, height uint32) (*scene.Visual, error)
	// NewWindow creates a shown window with a swap chain over its client area.
	NewWindow(ctx context.Context, title string, width, height uint32) (*TestWindow, error)
	// Settle waits for presentation changes to take effect.
	Settle(ctx context.Context) error
	Backpressure() capture.Backpressure
	Close() error
}

// TestWindow is a window, its capture item and its swap chain.
type TestWindow struct {
	Window window.Window
	Item   capture.Item
	Chain  *swapchain.SwapChain

	release func()
}

func (w *TestWindow) Geometry() (window.Geometry, error) { return w.Window.Geometry() }

// Close releases the swap chain, the capture item and the window.
func (w *TestWindow) Close() error {
	var errs []error
	if w.Chain != nil {
		if err := w.Chain.Close(); err != nil {
			errs = append(errs, fmt.Errorf("swap chain: %w", err))
		}
	}
	if w.release != nil {
		w.release()
	}
	if err := w.Window.Close(); err != nil {
		errs = append(errs, fmt.Errorf("window: %w", err))
	}
	return errors.Join(errs...)
}

// Open creates the backend named by cfg. "auto" prefers the Windows
// capture service and falls back to the software one.
func Open(name string, opts Options) (Backend, error) {
	switch name {
	case config.BackendSoftware:
		return openSoftware(opts)
	case config.BackendWindows:
		return NewWindows(opts)
	case config.BackendAuto, "":
		if runtime.GOOS == "windows" {
			b, err := NewWindows(opts)
			if err == nil {
				return b, nil
			}
			log.Warn("windows capture backend unavailable, using software", logging.KeyError, err)
		}
		return openSoftware(opts)
	default:
		return nil, fmt.Errorf("fixture: unknown backend %q", name)
	}
}

func openSoftware(opts Options) (Backend, error) {
	b, err := NewSoftware(opts)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func shutdownQueue(q *dispatcher.Queue) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	q.Shutdown(ctx)
}
