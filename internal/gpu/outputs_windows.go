//go:build windows

package gpu

import (
	"fmt"
	"syscall"
	"unsafe"

	"github.com/breeze-rmm/wgctest/internal/com"
)

// DXGI_OUTPUT_DESC layout:
//
//	WCHAR DeviceName[32]  64 bytes (UTF-16)
//	RECT  DesktopCoordinates  16 bytes
//	BOOL  AttachedToDesktop  4 bytes
//	DXGI_MODE_ROTATION  4 bytes
//	HMONITOR  8 bytes
type dxgiOutputDesc struct {
	DeviceName        [32]uint16
	Left              int32
	Top               int32
	Right             int32
	Bottom            int32
	AttachedToDesktop int32
	Rotation          uint32
	Monitor           uintptr
}

const (
	dxgiDeviceGetAdapter   = 7 // IDXGIDevice (after IUnknown+IDXGIObject)
	dxgiAdapterEnumOutputs = 7 // IDXGIAdapter
	dxgiOutputGetDesc      = 7 // IDXGIOutput

	dxgiErrNotFound = 0x887A0002
)

// Adapter returns the IDXGIAdapter the device was created on, with one
// reference held.
func (d *D3DDevice) Adapter() (uintptr, error) {
	dxgiDevice, err := d.DXGIDevice()
	if err != nil {
		return 0, err
	}
	defer com.Release(dxgiDevice)

	var adapter uintptr
	if _, err := com.Call(dxgiDevice, dxgiDeviceGetAdapter, uintptr(unsafe.Pointer(&adapter))); err != nil {
		return 0, fmt.Errorf("IDXGIDevice::GetAdapter: %w", err)
	}
	return adapter, nil
}

// PrimaryOutput returns output 0 of the device's adapter with its desktop
// bounds. The caller releases the returned IDXGIOutput.
func (d *D3DDevice) PrimaryOutput() (uintptr, Output, error) {
	adapter, err := d.Adapter()
	if err != nil {
		return 0, Output{}, err
	}
	defer com.Release(adapter)

	var output uintptr
	if _, err := com.Call(adapter, dxgiAdapterEnumOutputs, 0, uintptr(unsafe.Pointer(&output))); err != nil {
		if com.Is(err, dxgiErrNotFound) {
			return 0, Output{}, ErrNoOutputs
		}
		return 0, Output{}, fmt.Errorf("IDXGIAdapter::EnumOutputs: %w", err)
	}

	info, err := describeOutput(output, 0)
	if err != nil {
		com.Release(output)
		return 0, Output{}, err
	}
	return output, info, nil
}

func describeOutput(output uintptr, index int) (Output, error) {
	var desc dxgiOutputDesc
	if _, err := com.Call(output, dxgiOutputGetDesc, uintptr(unsafe.Pointer(&desc))); err != nil {
		return Output{}, fmt.Errorf("IDXGIOutput::GetDesc: %w", err)
	}
	return Output{
		Index:     index,
		Name:      syscall.UTF16ToString(desc.DeviceName[:]),
		X:         desc.Left,
		Y:         desc.Top,
		Width:     desc.Right - desc.Left,
		Height:    desc.Bottom - desc.Top,
		IsPrimary: desc.Left == 0 && desc.Top == 0,
	}, nil
}

// ListOutputs enumerates the outputs attached to the default adapter.
func ListOutputs() ([]Output, error) {
	dev, err := NewD3DDevice()
	if err != nil {
		return nil, err
	}
	defer dev.Close()

	adapter, err := dev.Adapter()
	if err != nil {
		return nil, err
	}
	defer com.Release(adapter)

	var outputs []Output
	for i := 0; ; i++ {
		var output uintptr
		if _, err := com.Call(adapter, dxgiAdapterEnumOutputs, uintptr(i), uintptr(unsafe.Pointer(&output))); err != nil {
			if !com.Is(err, dxgiErrNotFound) {
				log.Warn("DXGI EnumOutputs failed", "index", i, "error", err)
			}
			break
		}

		info, err := describeOutput(output, i)
		com.Release(output)
		if err != nil {
			log.Warn("DXGI GetDesc failed", "index", i, "error", err)
			continue
		}
		if info.Width <= 0 || info.Height <= 0 {
			continue
		}
		outputs = append(outputs, info)
	}

	if len(outputs) == 0 {
		return nil, ErrNoOutputs
	}
	return outputs, nil
}
