//go:build windows

package fixture

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/breeze-rmm/wgctest/internal/capture"
	"github.com/breeze-rmm/wgctest/internal/dispatcher"
	"github.com/breeze-rmm/wgctest/internal/gpu"
	"github.com/breeze-rmm/wgctest/internal/logging"
	"github.com/breeze-rmm/wgctest/internal/scene"
	"github.com/breeze-rmm/wgctest/internal/swapchain"
	"github.com/breeze-rmm/wgctest/internal/window"
)

const messagePumpInterval = 10 * time.Millisecond

// Windows runs scenarios against Windows.Graphics.Capture on a D3D11
// device. Windows live on a dedicated UI thread that pumps messages.
type Windows struct {
	opts     Options
	dev      *gpu.D3DDevice
	platform *capture.WGCPlatform
	queue    *dispatcher.Queue

	closeOnce sync.Once
}

func NewWindows(opts Options) (Backend, error) {
	window.SetProcessDPIAware()

	platform, err := capture.NewWGCPlatform()
	if err != nil {
		return nil, err
	}
	dev, err := gpu.NewD3DDevice()
	if err != nil {
		return nil, err
	}
	q, err := dispatcher.New("ui", 64, dispatcher.WithIdle(window.PumpMessages, messagePumpInterval))
	if err != nil {
		dev.Close()
		return nil, fmt.Errorf("start ui queue: %w", err)
	}
	log.Info("windows backend ready", "driver", dev.Driver().String())
	return &Windows{opts: opts, dev: dev, platform: platform, queue: q}, nil
}

func (b *Windows) Name() string                       { return "windows" }
func (b *Windows) Device() gpu.Device                 { return b.dev }
func (b *Windows) Platform() capture.Platform         { return b.platform }
func (b *Windows) Queue() *dispatcher.Queue           { return b.queue }
func (b *Windows) Backpressure() capture.Backpressure { return b.opts.Backpressure }

// NewVisual is unsupported: building a composition visual tree is not
// part of this backend.
func (b *Windows) NewVisual(ctx context.Context, name string, width, height uint32) (*scene.Visual, error) {
	return nil, fmt.Errorf("%w: composition visuals", ErrUnsupported)
}

func (b *Windows) NewWindow(ctx context.Context, title string, width, height uint32) (*TestWindow, error) {
	win, err := window.NewWin32Window(ctx, b.queue, title, int32(width), int32(height))
	if err != nil {
		return nil, err
	}
	item, err := capture.ItemForWindow(win.Handle())
	if err != nil {
		win.Close()
		return nil, err
	}
	p, err := swapchain.NewDXGIPresenter(b.dev, win, width, height)
	if err != nil {
		item.Release()
		win.Close()
		return nil, err
	}
	chain, err := swapchain.New(b.dev, p)
	if err != nil {
		p.Close()
		item.Release()
		win.Close()
		return nil, err
	}
	return &TestWindow{Window: win, Item: item, Chain: chain, release: item.Release}, nil
}

func (b *Windows) Settle(ctx context.Context) error {
	return sleep(ctx, b.opts.SettleDelay)
}

func (b *Windows) Close() error {
	b.closeOnce.Do(func() {
		shutdownQueue(b.queue)
		if err := b.dev.Close(); err != nil {
			log.Warn("device close failed", logging.KeyError, err)
		}
	})
	return nil
}
