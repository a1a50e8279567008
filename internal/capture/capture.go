// Package capture turns the callback-driven capture service into a
// blocking, one-frame-at-a-time stream.
package capture

import (
	"errors"

	"github.com/breeze-rmm/wgctest/internal/gpu"
)

var (
	// ErrCaptureUnavailable covers every way a capture cannot be set up:
	// the device is not capture capable or the item is no longer valid.
	ErrCaptureUnavailable = errors.New("capture: unavailable")

	ErrFrameInFlight  = errors.New("capture: previous frame has not been closed")
	ErrFrameClosed    = errors.New("capture: frame already closed")
	ErrBridgeClosed   = errors.New("capture: bridge closed")
	ErrAlreadyClosed  = errors.New("capture: object already closed")
	ErrAlreadyStarted = errors.New("capture: session already started")
	ErrItemClosed     = errors.New("capture: item is no longer valid")
	ErrDeviceMismatch = errors.New("capture: device is not supported by this platform")
)

// Size is a SizeInt32.
type Size struct {
	Width  int32
	Height int32
}

// Item is something that can be captured: a window or a visual.
type Item interface {
	Size() (Size, error)
	DisplayName() string
}

// Device is a GPU device in the form the capture service accepts.
type Device interface {
	GPU() gpu.Device
	Close() error
}

// Platform is a capture service implementation.
type Platform interface {
	Name() string
	// ResolveDevice converts a GPU device into the capture service's
	// device handle.
	ResolveDevice(dev gpu.Device) (Device, error)
	CreateFramePool(dev Device, format gpu.Format, depth int, size Size) (FramePool, error)
}

// FramePool holds the buffers frames are delivered in.
type FramePool interface {
	// OnFrameArrived registers fn to run on the capture service's thread
	// once per produced frame. Only one handler is supported.
	OnFrameArrived(fn func()) (unregister func(), err error)
	// TryGetNextFrame returns the next produced frame, or nil if none.
	TryGetNextFrame() (SourceFrame, error)
	CreateCaptureSession(item Item) (Session, error)
	Close() error
}

// Session is a live capture stream.
type Session interface {
	// SetCursorCaptureEnabled only has an effect before StartCapture.
	SetCursorCaptureEnabled(enabled bool) error
	StartCapture() error
	Close() error
}

// SourceFrame is a frame as produced by the platform. Its surface is
// valid until Close, and Close releases the pool buffer.
type SourceFrame interface {
	Surface() (gpu.Texture, error)
	ContentSize() Size
	Close() error
}
