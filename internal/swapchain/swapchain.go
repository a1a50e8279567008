// Package swapchain paints a test window's client area with solid colors
// through a double-buffered flip-model swap chain and moves it between
// windowed and exclusive fullscreen presentation.
package swapchain

import (
	"errors"
	"fmt"
	"sync"

	"github.com/breeze-rmm/wgctest/internal/gpu"
	"github.com/breeze-rmm/wgctest/internal/logging"
	"github.com/breeze-rmm/wgctest/internal/pixel"
)

var log = logging.L("swapchain")

// BufferCount is the number of swap chain buffers.
const BufferCount = 2

var (
	ErrClosed = errors.New("swapchain: closed")
	// ErrNoRenderTarget is returned by Flip after a failed mode switch left
	// the swap chain without a view. Retrying SetFullscreen recovers it.
	ErrNoRenderTarget = errors.New("swapchain: no render target view")
	// ErrViewsOutstanding is returned by presenters asked to resize while a
	// render target view still references a buffer.
	ErrViewsOutstanding = errors.New("swapchain: buffers still referenced by a view")
)

// State is the presentation mode.
type State int

const (
	Windowed State = iota
	Fullscreen
)

func (s State) String() string {
	if s == Fullscreen {
		return "fullscreen"
	}
	return "windowed"
}

// Presenter is the platform swap chain bound to one window.
type Presenter interface {
	// BackBuffer returns buffer 0. The presenter owns it; it stays valid
	// until the next ResizeBuffers.
	BackBuffer() (gpu.Texture, error)
	// Present shows the back buffer with sync interval 0.
	Present() error
	// SetFullscreenState requests exclusive fullscreen on the primary
	// output, or leaves it.
	SetFullscreenState(fullscreen bool) error
	ResizeBuffers(count, width, height uint32, format gpu.Format) error
	// PrimaryOutput reports the bounds of the output fullscreen targets.
	PrimaryOutput() (gpu.Output, error)
	// ClientSize is the bound window's current client area size.
	ClientSize() (uint32, uint32, error)
	Close() error
}

// SwapChain drives a Presenter with clear-and-present cycles.
type SwapChain struct {
	dev gpu.Device
	ctx gpu.Context
	p   Presenter

	mu     sync.Mutex
	rtv    gpu.RenderTarget
	state  State
	closed bool
}

// New creates a swap chain with a render target view over the presenter's
// current back buffer. The presenter is owned by the SwapChain from here.
func New(dev gpu.Device, p Presenter) (*SwapChain, error) {
	ctx, err := dev.ImmediateContext()
	if err != nil {
		return nil, fmt.Errorf("immediate context: %w", err)
	}
	s := &SwapChain{dev: dev, ctx: ctx, p: p}
	if err := s.createView(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SwapChain) createView() error {
	buf, err := s.p.BackBuffer()
	if err != nil {
		return fmt.Errorf("back buffer: %w", err)
	}
	rtv, err := s.dev.CreateRenderTargetView(buf)
	if err != nil {
		return fmt.Errorf("render target view: %w", err)
	}
	s.rtv = rtv
	return nil
}

// Flip clears the back buffer to c and presents it.
func (s *SwapChain) Flip(c pixel.Color) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.rtv == nil {
		return ErrNoRenderTarget
	}
	if err := s.ctx.ClearRenderTargetView(s.rtv, c.Float()); err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	if err := s.p.Present(); err != nil {
		return fmt.Errorf("present: %w", err)
	}
	return nil
}

// SetFullscreen switches presentation mode. It is a no-op when already in
// the requested state. The change completes asynchronously on the
// compositor side; callers wait before expecting captures to reflect it.
func (s *SwapChain) SetFullscreen(fullscreen bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	want := Windowed
	if fullscreen {
		want = Fullscreen
	}
	if s.state == want {
		return nil
	}

	var width, height uint32
	if fullscreen {
		out, err := s.p.PrimaryOutput()
		if err != nil {
			return fmt.Errorf("primary output: %w", err)
		}
		width, height = uint32(out.Width), uint32(out.Height)
		if err := s.p.SetFullscreenState(true); err != nil {
			return fmt.Errorf("enter fullscreen: %w", err)
		}
	} else {
		w, h, err := s.p.ClientSize()
		if err != nil {
			return fmt.Errorf("client size: %w", err)
		}
		width, height = w, h
		if err := s.p.SetFullscreenState(false); err != nil {
			return fmt.Errorf("exit fullscreen: %w", err)
		}
	}

	// the view pins the old buffers
	if s.rtv != nil {
		s.rtv.Release()
		s.rtv = nil
	}
	if err := s.p.ResizeBuffers(BufferCount, width, height, gpu.FormatB8G8R8A8UNorm); err != nil {
		return fmt.Errorf("resize buffers to %dx%d: %w", width, height, err)
	}
	if err := s.createView(); err != nil {
		return err
	}
	// state only moves once the swap chain can draw again, so a failed
	// switch is retried by asking for the same mode
	s.state = want
	log.Debug("presentation mode changed", "state", want.String(), "width", width, "height", height)
	return nil
}

// State reports the current presentation mode.
func (s *SwapChain) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Close leaves fullscreen if needed and releases the swap chain.
func (s *SwapChain) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	fullscreen := s.state == Fullscreen
	s.mu.Unlock()

	if fullscreen {
		if err := s.SetFullscreen(false); err != nil {
			log.Warn("leaving fullscreen on close failed", logging.KeyError, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.rtv != nil {
		s.rtv.Release()
		s.rtv = nil
	}
	return s.p.Close()
}
