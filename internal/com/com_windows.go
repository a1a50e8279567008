//go:build windows

// Package com is the pure-Go COM calling layer shared by the D3D11, DXGI
// and WinRT code: vtable dispatch through syscall.SyscallN, reference
// counting and HRESULT errors.
package com

import (
	"errors"
	"fmt"
	"syscall"
	"unsafe"

	"github.com/go-ole/go-ole"
)

// GUID is a COM GUID (128-bit).
type GUID = ole.GUID

// IUnknown vtable indices.
const (
	VtblQueryInterface = 0
	VtblAddRef         = 1
	VtblRelease        = 2
)

// MustGUID parses a "{xxxxxxxx-xxxx-...}" or bare GUID string.
func MustGUID(s string) *GUID {
	g := ole.NewGUID(s)
	if g == nil {
		panic("com: invalid GUID " + s)
	}
	return g
}

// HRESULT is a failed COM return code.
type HRESULT uint32

func (h HRESULT) Error() string {
	return fmt.Sprintf("HRESULT 0x%08X", uint32(h))
}

// CallError is returned by Call when a vtable method fails.
type CallError struct {
	Index int
	HR    HRESULT
}

func (e *CallError) Error() string {
	return fmt.Sprintf("COM vtable[%d] HRESULT 0x%08X", e.Index, uint32(e.HR))
}

func (e *CallError) Unwrap() error { return e.HR }

// Is reports whether err carries the given HRESULT.
func Is(err error, hr uint32) bool {
	var h HRESULT
	return errors.As(err, &h) && uint32(h) == hr
}

// VtblFn resolves a COM vtable function pointer by index.
// obj is a pointer to a COM interface (pointer to pointer to vtable).
func VtblFn(obj uintptr, idx int) uintptr {
	vtablePtr := *(*uintptr)(unsafe.Pointer(obj))
	return *(*uintptr)(unsafe.Pointer(vtablePtr + uintptr(idx)*unsafe.Sizeof(uintptr(0))))
}

// Call invokes the HRESULT-returning vtable method at vtableIdx.
func Call(obj uintptr, vtableIdx int, args ...uintptr) (uintptr, error) {
	if obj == 0 {
		return 0, fmt.Errorf("COM vtable[%d] on nil interface", vtableIdx)
	}
	allArgs := make([]uintptr, 0, 1+len(args))
	allArgs = append(allArgs, obj)
	allArgs = append(allArgs, args...)
	ret, _, _ := syscall.SyscallN(VtblFn(obj, vtableIdx), allArgs...)
	if int32(ret) < 0 {
		return ret, &CallError{Index: vtableIdx, HR: HRESULT(ret)}
	}
	return ret, nil
}

// CallVoid invokes a vtable method that returns nothing.
func CallVoid(obj uintptr, vtableIdx int, args ...uintptr) {
	allArgs := make([]uintptr, 0, 1+len(args))
	allArgs = append(allArgs, obj)
	allArgs = append(allArgs, args...)
	syscall.SyscallN(VtblFn(obj, vtableIdx), allArgs...)
}

// QueryInterface returns obj's iid interface with one reference held.
func QueryInterface(obj uintptr, iid *GUID) (uintptr, error) {
	var out uintptr
	if _, err := Call(obj, VtblQueryInterface, uintptr(unsafe.Pointer(iid)), uintptr(unsafe.Pointer(&out))); err != nil {
		return 0, err
	}
	return out, nil
}

// AddRef calls IUnknown::AddRef.
func AddRef(obj uintptr) {
	if obj != 0 {
		syscall.SyscallN(VtblFn(obj, VtblAddRef), obj)
	}
}

// Release calls IUnknown::Release (vtable index 2).
func Release(obj uintptr) {
	if obj != 0 {
		syscall.SyscallN(VtblFn(obj, VtblRelease), obj)
	}
}

// Pack64 packs two uint32 values into a single uint64 (high << 32 | low).
// Small structs such as SizeInt32 are passed by value in one register.
func Pack64(high, low uint32) uint64 {
	return uint64(high)<<32 | uint64(low)
}
