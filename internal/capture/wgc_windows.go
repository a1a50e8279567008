//go:build windows

package capture

import (
	"fmt"
	"sync"
	"syscall"
	"unsafe"

	"github.com/go-ole/go-ole"

	"github.com/breeze-rmm/wgctest/internal/com"
	"github.com/breeze-rmm/wgctest/internal/gpu"
	"github.com/breeze-rmm/wgctest/internal/logging"
)

var wgclog = logging.L("capture.wgc")

var (
	d3d11DLL                                 = syscall.NewLazyDLL("d3d11.dll")
	procCreateDirect3D11DeviceFromDXGIDevice = d3d11DLL.NewProc("CreateDirect3D11DeviceFromDXGIDevice")
)

const (
	classFramePool   = "Windows.Graphics.Capture.Direct3D11CaptureFramePool"
	classCaptureItem = "Windows.Graphics.Capture.GraphicsCaptureItem"

	roInitMultithreaded = 1

	eNoInterface = 0x80004002
)

// IInspectable occupies vtable slots 0-5; WinRT methods start at 6.
const (
	framePoolStatics2CreateFreeThreaded = 6

	framePoolTryGetNextFrame      = 7
	framePoolAddFrameArrived      = 8
	framePoolRemoveFrameArrived   = 9
	framePoolCreateCaptureSession = 10

	sessionStartCapture               = 6
	session2PutIsCursorCaptureEnabled = 7

	frameGetSurface     = 6
	frameGetContentSize = 8

	itemGetDisplayName = 6
	itemGetSize        = 7

	closableClose = 6

	itemInteropCreateForWindow = 3 // IUnknown-based
	dxgiAccessGetInterface     = 3 // IUnknown-based
)

var (
	iidFramePoolStatics2   = com.MustGUID("{589B103F-6BBC-5DF5-A991-02E28B3B66D5}")
	iidCaptureSession2     = com.MustGUID("{2C39AE40-7D2E-5044-804E-8B6799D4CF9E}")
	iidClosable            = com.MustGUID("{30D5A829-7FA4-4026-83BB-D75BAE4EA99E}")
	iidCaptureItem         = com.MustGUID("{79C3F95B-31F7-4EC2-A464-632EF5D30760}")
	iidCaptureItemInterop  = com.MustGUID("{3628E81B-3CAC-4C60-B7F4-23CE0E0C3356}")
	iidDirect3DDevice      = com.MustGUID("{A37624AB-8D5F-4650-9D3E-9EAE3D9BC670}")
	iidDxgiInterfaceAccess = com.MustGUID("{A9B3D012-3DF2-4EE3-B8D1-8695F457D3C1}")
	iidID3D11Texture2D     = com.MustGUID("{6F15AAF2-D208-4E89-9AB4-489535D34F9C}")
	iidFrameArrivedHandler = com.MustGUID("{51A947F7-79CF-5A3E-A3A5-1289CFA6DFE8}")
	iidAgileObject         = com.MustGUID("{94EA2B94-E9CC-49E0-C0FF-EE64CA8F5B90}")
	iidIUnknown            = ole.IID_IUnknown
)

var (
	wgcInitOnce sync.Once
	wgcInitErr  error
)

// WGCPlatform is the Windows.Graphics.Capture service.
type WGCPlatform struct{}

// NewWGCPlatform joins the process to the multithreaded apartment the
// free-threaded capture objects live in.
func NewWGCPlatform() (*WGCPlatform, error) {
	wgcInitOnce.Do(func() {
		if err := ole.RoInitialize(roInitMultithreaded); err != nil {
			// S_FALSE (already initialized) is reported as an error by go-ole.
			if oleErr, ok := err.(*ole.OleError); !ok || oleErr.Code() != 1 {
				wgcInitErr = fmt.Errorf("RoInitialize: %w", err)
			}
		}
	})
	if wgcInitErr != nil {
		return nil, wgcInitErr
	}
	return &WGCPlatform{}, nil
}

func (p *WGCPlatform) Name() string { return "windows.graphics.capture" }

// wgcDevice is an IDirect3DDevice wrapping a D3D11 device.
type wgcDevice struct {
	dev *gpu.D3DDevice
	ptr uintptr // IDirect3DDevice
}

func (d *wgcDevice) GPU() gpu.Device { return d.dev }

func (d *wgcDevice) Close() error {
	com.Release(d.ptr)
	d.ptr = 0
	return nil
}

func (p *WGCPlatform) ResolveDevice(dev gpu.Device) (Device, error) {
	d3d, ok := dev.(*gpu.D3DDevice)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrDeviceMismatch, dev)
	}
	dxgiDevice, err := d3d.DXGIDevice()
	if err != nil {
		return nil, err
	}
	defer com.Release(dxgiDevice)

	var inspectable uintptr
	hr, _, _ := procCreateDirect3D11DeviceFromDXGIDevice.Call(dxgiDevice, uintptr(unsafe.Pointer(&inspectable)))
	if int32(hr) < 0 {
		return nil, fmt.Errorf("CreateDirect3D11DeviceFromDXGIDevice: %w", com.HRESULT(hr))
	}
	defer com.Release(inspectable)

	device, err := com.QueryInterface(inspectable, iidDirect3DDevice)
	if err != nil {
		return nil, fmt.Errorf("QueryInterface IDirect3DDevice: %w", err)
	}
	return &wgcDevice{dev: d3d, ptr: device}, nil
}

func (p *WGCPlatform) CreateFramePool(dev Device, format gpu.Format, depth int, size Size) (FramePool, error) {
	d, ok := dev.(*wgcDevice)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrDeviceMismatch, dev)
	}

	statics, err := ole.RoGetActivationFactory(classFramePool, iidFramePoolStatics2)
	if err != nil {
		return nil, fmt.Errorf("activation factory %s: %w", classFramePool, err)
	}
	defer statics.Release()

	var pool uintptr
	_, err = com.Call(uintptr(unsafe.Pointer(statics)), framePoolStatics2CreateFreeThreaded,
		d.ptr,
		uintptr(format),
		uintptr(depth),
		uintptr(com.Pack64(uint32(size.Height), uint32(size.Width))),
		uintptr(unsafe.Pointer(&pool)),
	)
	if err != nil {
		return nil, fmt.Errorf("Direct3D11CaptureFramePool.CreateFreeThreaded: %w", err)
	}
	return &wgcPool{ptr: pool, dev: d.dev}, nil
}

type wgcPool struct {
	ptr     uintptr // IDirect3D11CaptureFramePool
	dev     *gpu.D3DDevice
	handler *frameArrivedHandler
	token   int64
	mu      sync.Mutex
	closed  bool
}

func (fp *wgcPool) OnFrameArrived(fn func()) (func(), error) {
	h := newFrameArrivedHandler(fn)
	var token int64
	if _, err := com.Call(fp.ptr, framePoolAddFrameArrived, h.ptr(), uintptr(unsafe.Pointer(&token))); err != nil {
		h.release()
		return nil, fmt.Errorf("add_FrameArrived: %w", err)
	}
	fp.handler = h
	fp.token = token

	var once sync.Once
	return func() {
		once.Do(func() {
			if _, err := com.Call(fp.ptr, framePoolRemoveFrameArrived, uintptr(token)); err != nil {
				wgclog.Warn("remove_FrameArrived failed", logging.KeyError, err)
			}
			h.release()
		})
	}, nil
}

func (fp *wgcPool) TryGetNextFrame() (SourceFrame, error) {
	var frame uintptr
	if _, err := com.Call(fp.ptr, framePoolTryGetNextFrame, uintptr(unsafe.Pointer(&frame))); err != nil {
		return nil, fmt.Errorf("TryGetNextFrame: %w", err)
	}
	if frame == 0 {
		return nil, nil
	}
	return &wgcFrame{ptr: frame, dev: fp.dev}, nil
}

func (fp *wgcPool) CreateCaptureSession(item Item) (Session, error) {
	wi, ok := item.(*WindowItem)
	if !ok {
		return nil, fmt.Errorf("item %q is not a GraphicsCaptureItem", item.DisplayName())
	}
	var session uintptr
	if _, err := com.Call(fp.ptr, framePoolCreateCaptureSession, wi.ptr, uintptr(unsafe.Pointer(&session))); err != nil {
		return nil, fmt.Errorf("CreateCaptureSession: %w", err)
	}
	return &wgcSession{ptr: session}, nil
}

func (fp *wgcPool) Close() error {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	if fp.closed {
		return ErrAlreadyClosed
	}
	fp.closed = true
	err := closeInspectable(fp.ptr)
	com.Release(fp.ptr)
	return err
}

type wgcSession struct {
	ptr    uintptr // IGraphicsCaptureSession
	closed bool
}

func (s *wgcSession) SetCursorCaptureEnabled(enabled bool) error {
	s2, err := com.QueryInterface(s.ptr, iidCaptureSession2)
	if err != nil {
		return fmt.Errorf("IGraphicsCaptureSession2 unavailable: %w", err)
	}
	defer com.Release(s2)

	var v uintptr
	if enabled {
		v = 1
	}
	if _, err := com.Call(s2, session2PutIsCursorCaptureEnabled, v); err != nil {
		return fmt.Errorf("put_IsCursorCaptureEnabled: %w", err)
	}
	return nil
}

func (s *wgcSession) StartCapture() error {
	if _, err := com.Call(s.ptr, sessionStartCapture); err != nil {
		return fmt.Errorf("StartCapture: %w", err)
	}
	return nil
}

func (s *wgcSession) Close() error {
	if s.closed {
		return ErrAlreadyClosed
	}
	s.closed = true
	err := closeInspectable(s.ptr)
	com.Release(s.ptr)
	return err
}

type wgcFrame struct {
	ptr     uintptr // IDirect3D11CaptureFrame
	dev     *gpu.D3DDevice
	mu      sync.Mutex
	surface *gpu.D3DTexture
	closed  bool
}

func (f *wgcFrame) Surface() (gpu.Texture, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, ErrAlreadyClosed
	}
	if f.surface != nil {
		return f.surface, nil
	}

	var surface uintptr
	if _, err := com.Call(f.ptr, frameGetSurface, uintptr(unsafe.Pointer(&surface))); err != nil {
		return nil, fmt.Errorf("get_Surface: %w", err)
	}
	defer com.Release(surface)

	access, err := com.QueryInterface(surface, iidDxgiInterfaceAccess)
	if err != nil {
		return nil, fmt.Errorf("QueryInterface IDirect3DDxgiInterfaceAccess: %w", err)
	}
	defer com.Release(access)

	var tex uintptr
	if _, err := com.Call(access, dxgiAccessGetInterface,
		uintptr(unsafe.Pointer(iidID3D11Texture2D)),
		uintptr(unsafe.Pointer(&tex)),
	); err != nil {
		return nil, fmt.Errorf("GetInterface ID3D11Texture2D: %w", err)
	}
	f.surface = f.dev.WrapTexture(tex)
	return f.surface, nil
}

func (f *wgcFrame) ContentSize() Size {
	var packed uint64
	if _, err := com.Call(f.ptr, frameGetContentSize, uintptr(unsafe.Pointer(&packed))); err != nil {
		wgclog.Warn("get_ContentSize failed", logging.KeyError, err)
		return Size{}
	}
	return Size{Width: int32(uint32(packed)), Height: int32(uint32(packed >> 32))}
}

func (f *wgcFrame) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrAlreadyClosed
	}
	f.closed = true
	if f.surface != nil {
		f.surface.Release()
		f.surface = nil
	}
	err := closeInspectable(f.ptr)
	com.Release(f.ptr)
	return err
}

// WindowItem is a GraphicsCaptureItem for a top-level window.
type WindowItem struct {
	ptr  uintptr // IGraphicsCaptureItem
	name string
}

// ItemForWindow creates a capture item for hwnd.
func ItemForWindow(hwnd uintptr) (*WindowItem, error) {
	interop, err := ole.RoGetActivationFactory(classCaptureItem, iidCaptureItemInterop)
	if err != nil {
		return nil, fmt.Errorf("%w: activation factory %s: %w", ErrCaptureUnavailable, classCaptureItem, err)
	}
	defer interop.Release()

	var item uintptr
	if _, err := com.Call(uintptr(unsafe.Pointer(interop)), itemInteropCreateForWindow,
		hwnd,
		uintptr(unsafe.Pointer(iidCaptureItem)),
		uintptr(unsafe.Pointer(&item)),
	); err != nil {
		return nil, fmt.Errorf("%w: CreateForWindow(0x%X): %w", ErrItemClosed, hwnd, err)
	}

	wi := &WindowItem{ptr: item}
	var hs ole.HString
	if _, err := com.Call(item, itemGetDisplayName, uintptr(unsafe.Pointer(&hs))); err == nil {
		wi.name = hs.String()
		_ = ole.DeleteHString(hs)
	}
	return wi, nil
}

func (i *WindowItem) DisplayName() string { return i.name }

func (i *WindowItem) Size() (Size, error) {
	if i.ptr == 0 {
		return Size{}, ErrItemClosed
	}
	var packed uint64
	if _, err := com.Call(i.ptr, itemGetSize, uintptr(unsafe.Pointer(&packed))); err != nil {
		return Size{}, fmt.Errorf("%w: get_Size: %w", ErrItemClosed, err)
	}
	return Size{Width: int32(uint32(packed)), Height: int32(uint32(packed >> 32))}, nil
}

// Release drops the item reference.
func (i *WindowItem) Release() {
	com.Release(i.ptr)
	i.ptr = 0
}

func closeInspectable(obj uintptr) error {
	closable, err := com.QueryInterface(obj, iidClosable)
	if err != nil {
		return fmt.Errorf("QueryInterface IClosable: %w", err)
	}
	defer com.Release(closable)
	if _, err := com.Call(closable, closableClose); err != nil {
		return fmt.Errorf("IClosable.Close: %w", err)
	}
	return nil
}

// frameArrivedHandler is a TypedEventHandler<Direct3D11CaptureFramePool,
// IInspectable> implemented in Go. The COM object is allocated outside
// the Go heap so the service may hold it; callbacks find the Go side
// through the handlers registry.
type frameArrivedHandler struct {
	obj  uintptr // *handlerObject, allocated with HeapAlloc
	fn   func()
	refs int32
}

type handlerObject struct {
	vtbl uintptr
}

type handlerVtbl struct {
	QueryInterface uintptr
	AddRef         uintptr
	Release        uintptr
	Invoke         uintptr
}

var (
	kernel32           = syscall.NewLazyDLL("kernel32.dll")
	procGetProcessHeap = kernel32.NewProc("GetProcessHeap")
	procHeapAlloc      = kernel32.NewProc("HeapAlloc")
	procHeapFree       = kernel32.NewProc("HeapFree")

	handlerVtblOnce sync.Once
	handlerVtblPtr  uintptr

	handlersMu sync.Mutex
	handlers   = map[uintptr]*frameArrivedHandler{}
)

func heapAlloc(size uintptr) uintptr {
	heap, _, _ := procGetProcessHeap.Call()
	p, _, _ := procHeapAlloc.Call(heap, 0x8 /* HEAP_ZERO_MEMORY */, size)
	return p
}

func heapFree(p uintptr) {
	heap, _, _ := procGetProcessHeap.Call()
	procHeapFree.Call(heap, 0, p)
}

func sharedHandlerVtbl() uintptr {
	handlerVtblOnce.Do(func() {
		p := heapAlloc(unsafe.Sizeof(handlerVtbl{}))
		vt := (*handlerVtbl)(unsafe.Pointer(p))
		vt.QueryInterface = syscall.NewCallback(handlerQueryInterface)
		vt.AddRef = syscall.NewCallback(handlerAddRef)
		vt.Release = syscall.NewCallback(handlerRelease)
		vt.Invoke = syscall.NewCallback(handlerInvoke)
		handlerVtblPtr = p
	})
	return handlerVtblPtr
}

func newFrameArrivedHandler(fn func()) *frameArrivedHandler {
	obj := heapAlloc(unsafe.Sizeof(handlerObject{}))
	(*handlerObject)(unsafe.Pointer(obj)).vtbl = sharedHandlerVtbl()

	h := &frameArrivedHandler{obj: obj, fn: fn, refs: 1}
	handlersMu.Lock()
	handlers[obj] = h
	handlersMu.Unlock()
	return h
}

func (h *frameArrivedHandler) ptr() uintptr { return h.obj }

// release drops the Go-side reference.
func (h *frameArrivedHandler) release() {
	handlerRelease(h.obj)
}

func lookupHandler(this uintptr) *frameArrivedHandler {
	handlersMu.Lock()
	defer handlersMu.Unlock()
	return handlers[this]
}

func handlerQueryInterface(this, riid, ppv uintptr) uintptr {
	iid := (*ole.GUID)(unsafe.Pointer(riid))
	if ole.IsEqualGUID(iid, iidIUnknown) || ole.IsEqualGUID(iid, iidAgileObject) || ole.IsEqualGUID(iid, iidFrameArrivedHandler) {
		*(*uintptr)(unsafe.Pointer(ppv)) = this
		handlerAddRef(this)
		return 0
	}
	*(*uintptr)(unsafe.Pointer(ppv)) = 0
	return eNoInterface
}

func handlerAddRef(this uintptr) uintptr {
	handlersMu.Lock()
	defer handlersMu.Unlock()
	h := handlers[this]
	if h == nil {
		return 0
	}
	h.refs++
	return uintptr(h.refs)
}

func handlerRelease(this uintptr) uintptr {
	handlersMu.Lock()
	h := handlers[this]
	if h == nil {
		handlersMu.Unlock()
		return 0
	}
	h.refs--
	refs := h.refs
	if refs == 0 {
		delete(handlers, this)
	}
	handlersMu.Unlock()

	if refs == 0 {
		heapFree(this)
	}
	return uintptr(refs)
}

func handlerInvoke(this, sender, args uintptr) uintptr {
	if h := lookupHandler(this); h != nil {
		h.fn()
	}
	return 0
}
