//go:build windows

package swapchain

import (
	"fmt"
	"unsafe"

	"github.com/breeze-rmm/wgctest/internal/com"
	"github.com/breeze-rmm/wgctest/internal/gpu"
	"github.com/breeze-rmm/wgctest/internal/window"
)

var (
	iidIDXGIFactory2   = com.MustGUID("{50C83A1C-E072-4C48-87B0-3630FA36A6D0}")
	iidID3D11Texture2D = com.MustGUID("{6F15AAF2-D208-4E89-9AB4-489535D34F9C}")
)

const (
	dxgiObjectGetParent = 6

	dxgiFactory2CreateSwapChainForHwnd = 15

	swapChainGetBuffer          = 9
	swapChainSetFullscreenState = 10
	swapChainResizeBuffers      = 13
	swapChain1Present1          = 22

	dxgiUsageRenderTargetOutput  = 0x20
	dxgiScalingNone              = 1
	dxgiSwapEffectFlipSequential = 3
	dxgiAlphaModeIgnore          = 3
)

// dxgiSwapChainDesc1 matches DXGI_SWAP_CHAIN_DESC1.
type dxgiSwapChainDesc1 struct {
	Width       uint32
	Height      uint32
	Format      uint32
	Stereo      int32
	SampleCount uint32
	SampleQual  uint32
	BufferUsage uint32
	BufferCount uint32
	Scaling     uint32
	SwapEffect  uint32
	AlphaMode   uint32
	Flags       uint32
}

// dxgiPresentParameters matches DXGI_PRESENT_PARAMETERS.
type dxgiPresentParameters struct {
	DirtyRectsCount uint32
	DirtyRects      uintptr
	ScrollRect      uintptr
	ScrollOffset    uintptr
}

// DXGIPresenter is an IDXGISwapChain1 created for a Win32 window.
type DXGIPresenter struct {
	dev  *gpu.D3DDevice
	win  *window.Win32Window
	swap uintptr
	back *gpu.D3DTexture
}

// NewDXGIPresenter creates a flip-sequential swap chain for win with
// width x height buffers.
func NewDXGIPresenter(dev *gpu.D3DDevice, win *window.Win32Window, width, height uint32) (*DXGIPresenter, error) {
	adapter, err := dev.Adapter()
	if err != nil {
		return nil, err
	}
	defer com.Release(adapter)

	var factory uintptr
	if _, err := com.Call(adapter, dxgiObjectGetParent,
		uintptr(unsafe.Pointer(iidIDXGIFactory2)), uintptr(unsafe.Pointer(&factory)),
	); err != nil {
		return nil, fmt.Errorf("IDXGIAdapter::GetParent(IDXGIFactory2): %w", err)
	}
	defer com.Release(factory)

	desc := dxgiSwapChainDesc1{
		Width:       width,
		Height:      height,
		Format:      uint32(gpu.FormatB8G8R8A8UNorm),
		SampleCount: 1,
		BufferUsage: dxgiUsageRenderTargetOutput,
		BufferCount: BufferCount,
		Scaling:     dxgiScalingNone,
		SwapEffect:  dxgiSwapEffectFlipSequential,
		AlphaMode:   dxgiAlphaModeIgnore,
	}
	var swap uintptr
	if _, err := com.Call(factory, dxgiFactory2CreateSwapChainForHwnd,
		dev.Raw(),
		win.Handle(),
		uintptr(unsafe.Pointer(&desc)),
		0, // pFullscreenDesc
		0, // pRestrictToOutput
		uintptr(unsafe.Pointer(&swap)),
	); err != nil {
		return nil, fmt.Errorf("IDXGIFactory2::CreateSwapChainForHwnd: %w", err)
	}
	return &DXGIPresenter{dev: dev, win: win, swap: swap}, nil
}

func (p *DXGIPresenter) BackBuffer() (gpu.Texture, error) {
	if p.swap == 0 {
		return nil, ErrClosed
	}
	if p.back != nil {
		return p.back, nil
	}
	var tex uintptr
	if _, err := com.Call(p.swap, swapChainGetBuffer,
		0, uintptr(unsafe.Pointer(iidID3D11Texture2D)), uintptr(unsafe.Pointer(&tex)),
	); err != nil {
		return nil, fmt.Errorf("IDXGISwapChain::GetBuffer: %w", err)
	}
	p.back = p.dev.WrapTexture(tex)
	return p.back, nil
}

func (p *DXGIPresenter) Present() error {
	var params dxgiPresentParameters
	if _, err := com.Call(p.swap, swapChain1Present1, 0, 0, uintptr(unsafe.Pointer(&params))); err != nil {
		return fmt.Errorf("IDXGISwapChain1::Present1: %w", err)
	}
	return nil
}

func (p *DXGIPresenter) SetFullscreenState(fullscreen bool) error {
	if !fullscreen {
		if _, err := com.Call(p.swap, swapChainSetFullscreenState, 0, 0); err != nil {
			return fmt.Errorf("IDXGISwapChain::SetFullscreenState(false): %w", err)
		}
		return nil
	}

	output, _, err := p.dev.PrimaryOutput()
	if err != nil {
		return err
	}
	defer com.Release(output)
	if _, err := com.Call(p.swap, swapChainSetFullscreenState, 1, output); err != nil {
		return fmt.Errorf("IDXGISwapChain::SetFullscreenState(true): %w", err)
	}
	return nil
}

func (p *DXGIPresenter) ResizeBuffers(count, width, height uint32, format gpu.Format) error {
	if p.back != nil {
		p.back.Release()
		p.back = nil
	}
	if _, err := com.Call(p.swap, swapChainResizeBuffers,
		uintptr(count), uintptr(width), uintptr(height), uintptr(format), 0,
	); err != nil {
		if com.Is(err, dxgiErrorInvalidCall) {
			return fmt.Errorf("%w: %w", ErrViewsOutstanding, err)
		}
		return fmt.Errorf("IDXGISwapChain::ResizeBuffers: %w", err)
	}
	return nil
}

const dxgiErrorInvalidCall = 0x887A0001

func (p *DXGIPresenter) PrimaryOutput() (gpu.Output, error) {
	output, info, err := p.dev.PrimaryOutput()
	if err != nil {
		return gpu.Output{}, err
	}
	com.Release(output)
	return info, nil
}

func (p *DXGIPresenter) ClientSize() (uint32, uint32, error) {
	return p.win.ClientSize()
}

func (p *DXGIPresenter) Close() error {
	if p.swap == 0 {
		return ErrClosed
	}
	if p.back != nil {
		p.back.Release()
		p.back = nil
	}
	com.Release(p.swap)
	p.swap = 0
	return nil
}

var _ Presenter = (*DXGIPresenter)(nil)
