package fixture

import (
	"context"
	"fmt"
	"sync"

	"github.com/breeze-rmm/wgctest/internal/capture"
	"github.com/breeze-rmm/wgctest/internal/dispatcher"
	"github.com/breeze-rmm/wgctest/internal/gpu"
	"github.com/breeze-rmm/wgctest/internal/scene"
	"github.com/breeze-rmm/wgctest/internal/swapchain"
	"github.com/breeze-rmm/wgctest/internal/window"
)

// Software runs scenarios against the in-process capture service.
type Software struct {
	opts     Options
	dev      *gpu.SoftwareDevice
	platform *capture.SoftwarePlatform
	queue    *dispatcher.Queue
	output   gpu.Output

	closeOnce sync.Once
}

func NewSoftware(opts Options) (*Software, error) {
	q, err := dispatcher.New("ui", 64)
	if err != nil {
		return nil, fmt.Errorf("start ui queue: %w", err)
	}
	return &Software{
		opts:     opts,
		dev:      gpu.NewSoftwareDevice(),
		platform: capture.NewSoftwarePlatform(),
		queue:    q,
		output:   gpu.SoftwareOutput,
	}, nil
}

func (b *Software) Name() string                       { return "software" }
func (b *Software) Device() gpu.Device                 { return b.dev }
func (b *Software) Platform() capture.Platform         { return b.platform }
func (b *Software) Queue() *dispatcher.Queue           { return b.queue }
func (b *Software) Backpressure() capture.Backpressure { return b.opts.Backpressure }

// SoftwareDevice exposes the concrete device for leak checks.
func (b *Software) SoftwareDevice() *gpu.SoftwareDevice { return b.dev }

func (b *Software) NewVisual(ctx context.Context, name string, width, height uint32) (*scene.Visual, error) {
	return dispatcher.Call(ctx, b.queue, func() (*scene.Visual, error) {
		return scene.NewVisual(name, width, height)
	})
}

func (b *Software) NewWindow(ctx context.Context, title string, width, height uint32) (*TestWindow, error) {
	win, err := dispatcher.Call(ctx, b.queue, func() (*window.SoftwareWindow, error) {
		return window.NewSoftwareWindow(title, width, height)
	})
	if err != nil {
		return nil, err
	}
	p, err := swapchain.NewSoftwarePresenter(b.dev, win, b.output)
	if err != nil {
		win.Close()
		return nil, err
	}
	chain, err := swapchain.New(b.dev, p)
	if err != nil {
		p.Close()
		win.Close()
		return nil, err
	}
	return &TestWindow{Window: win, Item: win, Chain: chain}, nil
}

func (b *Software) Settle(ctx context.Context) error {
	return sleep(ctx, b.opts.SettleDelay)
}

func (b *Software) Close() error {
	b.closeOnce.Do(func() {
		shutdownQueue(b.queue)
		b.dev.Close()
	})
	return nil
}
