//go:build windows

package window

import (
	"context"
	"fmt"
	"sync"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/breeze-rmm/wgctest/internal/dispatcher"
	"github.com/breeze-rmm/wgctest/internal/logging"
)

var log = logging.L("window")

var (
	user32 = windows.NewLazySystemDLL("user32.dll")
	dwmapi = windows.NewLazySystemDLL("dwmapi.dll")

	procRegisterClassExW      = user32.NewProc("RegisterClassExW")
	procCreateWindowExW       = user32.NewProc("CreateWindowExW")
	procDefWindowProcW        = user32.NewProc("DefWindowProcW")
	procDestroyWindow         = user32.NewProc("DestroyWindow")
	procShowWindow            = user32.NewProc("ShowWindow")
	procAdjustWindowRectEx    = user32.NewProc("AdjustWindowRectEx")
	procGetClientRect         = user32.NewProc("GetClientRect")
	procClientToScreen        = user32.NewProc("ClientToScreen")
	procLoadCursorW           = user32.NewProc("LoadCursorW")
	procPeekMessageW          = user32.NewProc("PeekMessageW")
	procTranslateMessage      = user32.NewProc("TranslateMessage")
	procDispatchMessageW      = user32.NewProc("DispatchMessageW")
	procSetProcessDPIAware    = user32.NewProc("SetProcessDPIAware")
	procDwmGetWindowAttribute = dwmapi.NewProc("DwmGetWindowAttribute")
)

const (
	wsOverlappedWindow      = 0x00CF0000
	wsExNoRedirectionBitmap = 0x00200000
	cwUseDefault            = 0x80000000
	swShow                  = 5
	idcArrow                = 32512
	pmRemove                = 0x0001

	dwmwaExtendedFrameBounds = 9
)

const className = "wgctest.TestWindow"

type wndClassEx struct {
	Size       uint32
	Style      uint32
	WndProc    uintptr
	ClsExtra   int32
	WndExtra   int32
	Instance   windows.Handle
	Icon       windows.Handle
	Cursor     windows.Handle
	Background windows.Handle
	MenuName   *uint16
	ClassName  *uint16
	IconSm     windows.Handle
}

type msg struct {
	HWnd    uintptr
	Message uint32
	WParam  uintptr
	LParam  uintptr
	Time    uint32
	Pt      Point
}

var (
	registerOnce sync.Once
	registerErr  error
)

func registerClass() error {
	registerOnce.Do(func() {
		var instance windows.Handle
		if err := windows.GetModuleHandleEx(0, nil, &instance); err != nil {
			registerErr = fmt.Errorf("GetModuleHandleEx: %w", err)
			return
		}
		cursor, _, _ := procLoadCursorW.Call(0, idcArrow)
		name, _ := windows.UTF16PtrFromString(className)
		wc := wndClassEx{
			WndProc:   windows.NewCallback(wndProc),
			Instance:  instance,
			Cursor:    windows.Handle(cursor),
			ClassName: name,
		}
		wc.Size = uint32(unsafe.Sizeof(wc))
		if atom, _, err := procRegisterClassExW.Call(uintptr(unsafe.Pointer(&wc))); atom == 0 {
			registerErr = fmt.Errorf("RegisterClassExW: %w", err)
		}
	})
	return registerErr
}

func wndProc(hwnd, message, wparam, lparam uintptr) uintptr {
	ret, _, _ := procDefWindowProcW.Call(hwnd, message, wparam, lparam)
	return ret
}

// SetProcessDPIAware opts the process out of DPI virtualization so window
// geometry and captured pixels share one coordinate space.
func SetProcessDPIAware() {
	procSetProcessDPIAware.Call()
}

// PumpMessages dispatches every message waiting on the calling thread.
// Install it as the idle hook of the queue that owns the windows.
func PumpMessages() {
	var m msg
	for {
		ok, _, _ := procPeekMessageW.Call(uintptr(unsafe.Pointer(&m)), 0, 0, 0, pmRemove)
		if ok == 0 {
			return
		}
		procTranslateMessage.Call(uintptr(unsafe.Pointer(&m)))
		procDispatchMessageW.Call(uintptr(unsafe.Pointer(&m)))
	}
}

// Win32Window is a plain top-level window owned by a dispatcher queue. Its
// client area has no redirection bitmap; content comes from a swap chain.
type Win32Window struct {
	title     string
	hwnd      uintptr
	queue     *dispatcher.Queue
	closeOnce sync.Once
	closeErr  error
}

// NewWin32Window creates the window on q's thread, so that thread's
// message pump serves it.
func NewWin32Window(ctx context.Context, q *dispatcher.Queue, title string, width, height int32) (*Win32Window, error) {
	hwnd, err := dispatcher.Call(ctx, q, func() (uintptr, error) {
		return createWindow(title, width, height)
	})
	if err != nil {
		return nil, err
	}
	log.Debug("test window created", "title", title, "width", width, "height", height)
	return &Win32Window{title: title, hwnd: hwnd, queue: q}, nil
}

func createWindow(title string, width, height int32) (uintptr, error) {
	if err := registerClass(); err != nil {
		return 0, err
	}

	rect := Bounds{Right: width, Bottom: height}
	if ok, _, err := procAdjustWindowRectEx.Call(
		uintptr(unsafe.Pointer(&rect)), wsOverlappedWindow, 0, wsExNoRedirectionBitmap,
	); ok == 0 {
		return 0, fmt.Errorf("AdjustWindowRectEx: %w", err)
	}

	var instance windows.Handle
	if err := windows.GetModuleHandleEx(0, nil, &instance); err != nil {
		return 0, fmt.Errorf("GetModuleHandleEx: %w", err)
	}
	cls, _ := windows.UTF16PtrFromString(className)
	name, err := windows.UTF16PtrFromString(title)
	if err != nil {
		return 0, err
	}

	hwnd, _, callErr := procCreateWindowExW.Call(
		wsExNoRedirectionBitmap,
		uintptr(unsafe.Pointer(cls)),
		uintptr(unsafe.Pointer(name)),
		wsOverlappedWindow,
		cwUseDefault, cwUseDefault,
		uintptr(rect.Width()), uintptr(rect.Height()),
		0, 0, uintptr(instance), 0,
	)
	if hwnd == 0 {
		return 0, fmt.Errorf("CreateWindowExW: %w", callErr)
	}
	procShowWindow.Call(hwnd, swShow)
	return hwnd, nil
}

func (w *Win32Window) Title() string { return w.title }

// Handle returns the HWND.
func (w *Win32Window) Handle() uintptr { return w.hwnd }

// Geometry reads the client rectangle, its screen origin and the DWM
// extended frame bounds.
func (w *Win32Window) Geometry() (Geometry, error) {
	var g Geometry
	if ok, _, err := procGetClientRect.Call(w.hwnd, uintptr(unsafe.Pointer(&g.Client))); ok == 0 {
		return Geometry{}, fmt.Errorf("GetClientRect: %w", err)
	}
	g.ClientOrigin = Point{X: g.Client.Left, Y: g.Client.Top}
	if ok, _, err := procClientToScreen.Call(w.hwnd, uintptr(unsafe.Pointer(&g.ClientOrigin))); ok == 0 {
		return Geometry{}, fmt.Errorf("ClientToScreen: %w", err)
	}
	hr, _, _ := procDwmGetWindowAttribute.Call(
		w.hwnd, dwmwaExtendedFrameBounds,
		uintptr(unsafe.Pointer(&g.FrameBounds)), unsafe.Sizeof(g.FrameBounds),
	)
	if hr != 0 {
		return Geometry{}, fmt.Errorf("DwmGetWindowAttribute: 0x%08X", uint32(hr))
	}
	return g, nil
}

// ClientSize returns the current client area size.
func (w *Win32Window) ClientSize() (uint32, uint32, error) {
	var r Bounds
	if ok, _, err := procGetClientRect.Call(w.hwnd, uintptr(unsafe.Pointer(&r))); ok == 0 {
		return 0, 0, fmt.Errorf("GetClientRect: %w", err)
	}
	return uint32(r.Width()), uint32(r.Height()), nil
}

// Close destroys the window on its owning thread.
func (w *Win32Window) Close() error {
	w.closeOnce.Do(func() {
		w.closeErr = w.queue.Invoke(context.Background(), func() error {
			if ok, _, err := procDestroyWindow.Call(w.hwnd); ok == 0 {
				return fmt.Errorf("DestroyWindow: %w", err)
			}
			return nil
		})
	})
	return w.closeErr
}

var _ Window = (*Win32Window)(nil)
