//go:build windows

package gpu

import (
	"fmt"
	"sync"
	"syscall"
	"unsafe"

	"github.com/breeze-rmm/wgctest/internal/com"
	"github.com/breeze-rmm/wgctest/internal/logging"
)

var log = logging.L("gpu")

var (
	d3d11DLL              = syscall.NewLazyDLL("d3d11.dll")
	procD3D11CreateDevice = d3d11DLL.NewProc("D3D11CreateDevice")
)

// DriverType is a D3D_DRIVER_TYPE value.
type DriverType uint32

const (
	DriverHardware DriverType = 1
	DriverWARP     DriverType = 5
)

func (t DriverType) String() string {
	switch t {
	case DriverHardware:
		return "hardware"
	case DriverWARP:
		return "warp"
	}
	return fmt.Sprintf("driver(%d)", uint32(t))
}

const (
	d3d11SDKVersion              = 7
	d3d11CreateDeviceBGRASupport = 0x20
	d3d11MapRead                 = 1

	dxgiErrUnsupported = 0x887A0004

	// ID3D11Device
	d3d11DeviceCreateTexture2D        = 5
	d3d11DeviceCreateRenderTargetView = 9
	d3d11DeviceGetImmediateContext    = 40

	// ID3D11Texture2D (IUnknown 3 + ID3D11DeviceChild 4 + ID3D11Resource 3)
	d3d11Texture2DGetDesc = 10

	// ID3D11DeviceContext
	d3d11CtxMap                   = 14
	d3d11CtxUnmap                 = 15
	d3d11CtxCopySubresourceRegion = 46
	d3d11CtxCopyResource          = 47
	d3d11CtxClearRenderTargetView = 50
)

var iidIDXGIDevice = com.MustGUID("{54EC77FA-1377-44E6-8C32-88FD5F44C84C}")

// d3d11MappedSubresource matches D3D11_MAPPED_SUBRESOURCE.
type d3d11MappedSubresource struct {
	PData      uintptr
	RowPitch   uint32
	DepthPitch uint32
}

// D3DDevice is a Direct3D 11 device with BGRA support, the kind the
// capture interop requires.
type D3DDevice struct {
	device  uintptr // ID3D11Device
	context uintptr // ID3D11DeviceContext
	driver  DriverType
	ctx     *d3dContext
	once    sync.Once
}

// NewD3DDevice creates a hardware device, falling back to WARP when the
// hardware driver reports DXGI_ERROR_UNSUPPORTED.
func NewD3DDevice() (*D3DDevice, error) {
	d, err := createDevice(DriverHardware)
	if err != nil && com.Is(err, dxgiErrUnsupported) {
		log.Warn("hardware D3D11 device unsupported, falling back to WARP")
		d, err = createDevice(DriverWARP)
	}
	if err != nil {
		return nil, err
	}
	log.Info("D3D11 device created", "driver", d.driver.String())
	return d, nil
}

func createDevice(driver DriverType) (*D3DDevice, error) {
	var device, context uintptr
	var actualLevel uint32

	hr, _, _ := procD3D11CreateDevice.Call(
		0,               // pAdapter (NULL = default)
		uintptr(driver), // DriverType
		0,               // Software
		uintptr(d3d11CreateDeviceBGRASupport),
		0, // pFeatureLevels (NULL = default list)
		0,
		uintptr(d3d11SDKVersion),
		uintptr(unsafe.Pointer(&device)),
		uintptr(unsafe.Pointer(&actualLevel)),
		uintptr(unsafe.Pointer(&context)),
	)
	if int32(hr) < 0 {
		return nil, fmt.Errorf("D3D11CreateDevice(%s): %w", driver, com.HRESULT(hr))
	}

	d := &D3DDevice{device: device, context: context, driver: driver}
	d.ctx = &d3dContext{dev: d}
	return d, nil
}

// Driver reports which driver type backs the device.
func (d *D3DDevice) Driver() DriverType { return d.driver }

// Raw returns the ID3D11Device pointer without adding a reference.
func (d *D3DDevice) Raw() uintptr { return d.device }

// DXGIDevice returns the device's IDXGIDevice with one reference held.
func (d *D3DDevice) DXGIDevice() (uintptr, error) {
	p, err := com.QueryInterface(d.device, iidIDXGIDevice)
	if err != nil {
		return 0, fmt.Errorf("QueryInterface IDXGIDevice: %w", err)
	}
	return p, nil
}

// WrapTexture adopts an ID3D11Texture2D reference created on this device.
func (d *D3DDevice) WrapTexture(ptr uintptr) *D3DTexture {
	t := &D3DTexture{dev: d, ptr: ptr}
	syscall.SyscallN(com.VtblFn(ptr, d3d11Texture2DGetDesc), ptr, uintptr(unsafe.Pointer(&t.desc)))
	return t
}

func (d *D3DDevice) CreateTexture2D(desc TextureDesc) (Texture, error) {
	var tex uintptr
	_, err := com.Call(d.device, d3d11DeviceCreateTexture2D,
		uintptr(unsafe.Pointer(&desc)),
		0, // pInitialData
		uintptr(unsafe.Pointer(&tex)),
	)
	if err != nil {
		return nil, fmt.Errorf("CreateTexture2D %dx%d usage=%d: %w", desc.Width, desc.Height, desc.Usage, err)
	}
	return &D3DTexture{dev: d, ptr: tex, desc: desc}, nil
}

func (d *D3DDevice) CreateRenderTargetView(tex Texture) (RenderTarget, error) {
	t, err := d.own(tex)
	if err != nil {
		return nil, err
	}
	if t.desc.BindFlags&BindRenderTarget == 0 {
		return nil, ErrNotRenderTarget
	}
	var rtv uintptr
	if _, err := com.Call(d.device, d3d11DeviceCreateRenderTargetView,
		t.ptr,
		0, // pDesc (NULL = whole resource)
		uintptr(unsafe.Pointer(&rtv)),
	); err != nil {
		return nil, fmt.Errorf("CreateRenderTargetView: %w", err)
	}
	return &d3dRenderTarget{ptr: rtv, tex: t}, nil
}

func (d *D3DDevice) ImmediateContext() (Context, error) {
	if d.context == 0 {
		return nil, ErrDeviceClosed
	}
	return d.ctx, nil
}

func (d *D3DDevice) Close() error {
	d.once.Do(func() {
		com.Release(d.context)
		com.Release(d.device)
		d.context = 0
		d.device = 0
	})
	return nil
}

func (d *D3DDevice) own(tex Texture) (*D3DTexture, error) {
	t, ok := tex.(*D3DTexture)
	if !ok || t.dev != d {
		return nil, ErrForeignResource
	}
	if t.ptr == 0 {
		return nil, ErrReleased
	}
	return t, nil
}

// D3DTexture is an ID3D11Texture2D.
type D3DTexture struct {
	dev  *D3DDevice
	ptr  uintptr
	desc TextureDesc
}

func (t *D3DTexture) Desc() TextureDesc { return t.desc }
func (t *D3DTexture) Device() Device    { return t.dev }

// Raw returns the ID3D11Texture2D pointer without adding a reference.
func (t *D3DTexture) Raw() uintptr { return t.ptr }

func (t *D3DTexture) Release() {
	com.Release(t.ptr)
	t.ptr = 0
}

type d3dRenderTarget struct {
	ptr uintptr // ID3D11RenderTargetView
	tex *D3DTexture
}

func (r *d3dRenderTarget) Texture() Texture { return r.tex }

func (r *d3dRenderTarget) Release() {
	com.Release(r.ptr)
	r.ptr = 0
}

// d3dContext wraps the immediate context. D3D11 silently drops invalid
// copies, so bounds are checked here first.
type d3dContext struct {
	dev *D3DDevice
}

func (c *d3dContext) pair(dst, src Texture) (*D3DTexture, *D3DTexture, error) {
	d, err := c.dev.own(dst)
	if err != nil {
		return nil, nil, err
	}
	s, err := c.dev.own(src)
	if err != nil {
		return nil, nil, err
	}
	return d, s, nil
}

func (c *d3dContext) CopyResource(dst, src Texture) error {
	d, s, err := c.pair(dst, src)
	if err != nil {
		return err
	}
	if err := ValidateCopy(d.desc, s.desc); err != nil {
		return err
	}
	com.CallVoid(c.dev.context, d3d11CtxCopyResource, d.ptr, s.ptr)
	return nil
}

func (c *d3dContext) CopySubresourceRegion(dst Texture, dstX, dstY uint32, src Texture, box Box) error {
	d, s, err := c.pair(dst, src)
	if err != nil {
		return err
	}
	if err := ValidateBox(s.desc, box, &d.desc, dstX, dstY); err != nil {
		return err
	}
	com.CallVoid(c.dev.context, d3d11CtxCopySubresourceRegion,
		d.ptr,
		0, // DstSubresource
		uintptr(dstX),
		uintptr(dstY),
		0, // DstZ
		s.ptr,
		0, // SrcSubresource
		uintptr(unsafe.Pointer(&box)),
	)
	return nil
}

func (c *d3dContext) Map(tex Texture) (Mapping, error) {
	t, err := c.dev.own(tex)
	if err != nil {
		return Mapping{}, err
	}
	if !t.desc.Staging() {
		return Mapping{}, ErrNotMappable
	}

	var mapped d3d11MappedSubresource
	if _, err := com.Call(c.dev.context, d3d11CtxMap,
		t.ptr,
		0, // Subresource
		d3d11MapRead,
		0, // MapFlags
		uintptr(unsafe.Pointer(&mapped)),
	); err != nil {
		return Mapping{}, fmt.Errorf("Map staging texture: %w", err)
	}

	size := int(mapped.RowPitch) * int(t.desc.Height)
	return Mapping{
		Data:     unsafe.Slice((*byte)(unsafe.Pointer(mapped.PData)), size),
		RowPitch: mapped.RowPitch,
	}, nil
}

func (c *d3dContext) Unmap(tex Texture) {
	t, err := c.dev.own(tex)
	if err != nil {
		return
	}
	com.CallVoid(c.dev.context, d3d11CtxUnmap, t.ptr, 0)
}

func (c *d3dContext) ClearRenderTargetView(rt RenderTarget, rgba [4]float32) error {
	r, ok := rt.(*d3dRenderTarget)
	if !ok || r.tex.dev != c.dev {
		return ErrForeignResource
	}
	if r.ptr == 0 {
		return ErrReleased
	}
	com.CallVoid(c.dev.context, d3d11CtxClearRenderTargetView, r.ptr, uintptr(unsafe.Pointer(&rgba)))
	return nil
}
