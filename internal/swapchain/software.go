package swapchain

import (
	"fmt"

	"github.com/breeze-rmm/wgctest/internal/gpu"
	"github.com/breeze-rmm/wgctest/internal/window"
)

// SoftwarePresenter presents into a window.SoftwareWindow.
type SoftwarePresenter struct {
	dev        *gpu.SoftwareDevice
	win        *window.SoftwareWindow
	output     gpu.Output
	buffers    []*gpu.SoftwareTexture
	fullscreen bool
	closed     bool
}

// NewSoftwarePresenter creates buffers sized to the window's client area.
func NewSoftwarePresenter(dev *gpu.SoftwareDevice, win *window.SoftwareWindow, output gpu.Output) (*SoftwarePresenter, error) {
	w, h, err := win.ClientSize()
	if err != nil {
		return nil, err
	}
	p := &SoftwarePresenter{dev: dev, win: win, output: output}
	if err := p.allocate(BufferCount, w, h, gpu.FormatB8G8R8A8UNorm); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *SoftwarePresenter) allocate(count, width, height uint32, format gpu.Format) error {
	buffers := make([]*gpu.SoftwareTexture, 0, count)
	for i := uint32(0); i < count; i++ {
		tex, err := p.dev.CreateTexture2D(gpu.TextureDesc{
			Width:       width,
			Height:      height,
			MipLevels:   1,
			ArraySize:   1,
			Format:      format,
			SampleCount: 1,
			Usage:       gpu.UsageDefault,
			BindFlags:   gpu.BindRenderTarget | gpu.BindShaderResource,
		})
		if err != nil {
			for _, b := range buffers {
				b.Release()
			}
			return fmt.Errorf("allocate swap chain buffer %d: %w", i, err)
		}
		buffers = append(buffers, tex.(*gpu.SoftwareTexture))
	}
	p.buffers = buffers
	return nil
}

func (p *SoftwarePresenter) BackBuffer() (gpu.Texture, error) {
	if p.closed {
		return nil, ErrClosed
	}
	return p.buffers[0], nil
}

func (p *SoftwarePresenter) Present() error {
	if p.closed {
		return ErrClosed
	}
	return p.win.Present(p.buffers[0])
}

func (p *SoftwarePresenter) SetFullscreenState(fullscreen bool) error {
	if p.closed {
		return ErrClosed
	}
	var err error
	if fullscreen {
		err = p.win.EnterFullscreen(p.output)
	} else {
		err = p.win.ExitFullscreen()
	}
	if err == nil {
		p.fullscreen = fullscreen
	}
	return err
}

func (p *SoftwarePresenter) ResizeBuffers(count, width, height uint32, format gpu.Format) error {
	if p.closed {
		return ErrClosed
	}
	for i, b := range p.buffers {
		if n := b.LiveViews(); n > 0 {
			return fmt.Errorf("%w: buffer %d has %d views", ErrViewsOutstanding, i, n)
		}
	}
	old := p.buffers
	if err := p.allocate(count, width, height, format); err != nil {
		return err
	}
	for _, b := range old {
		b.Release()
	}
	return nil
}

func (p *SoftwarePresenter) PrimaryOutput() (gpu.Output, error) { return p.output, nil }

func (p *SoftwarePresenter) ClientSize() (uint32, uint32, error) {
	return p.win.ClientSize()
}

// Buffers returns the current buffers, for inspection in tests.
func (p *SoftwarePresenter) Buffers() []*gpu.SoftwareTexture {
	return p.buffers
}

func (p *SoftwarePresenter) Close() error {
	if p.closed {
		return ErrClosed
	}
	p.closed = true
	if p.fullscreen {
		p.win.ExitFullscreen()
	}
	for _, b := range p.buffers {
		b.Release()
	}
	p.buffers = nil
	return nil
}

var _ Presenter = (*SoftwarePresenter)(nil)
