// Package window provides test windows and the geometry needed to crop a
// window capture down to its client area.
package window

import (
	"errors"

	"github.com/breeze-rmm/wgctest/internal/gpu"
)

var ErrClosed = errors.New("window: closed")

type Point struct {
	X, Y int32
}

// Bounds is a rectangle given by its edges; Right and Bottom are exclusive.
type Bounds struct {
	Left, Top, Right, Bottom int32
}

func (b Bounds) Width() int32  { return b.Right - b.Left }
func (b Bounds) Height() int32 { return b.Bottom - b.Top }

// Geometry is what a window reports about its placement.
type Geometry struct {
	// Client is the client rectangle in client coordinates.
	Client Bounds
	// ClientOrigin is the client area's top-left corner in screen coordinates.
	ClientOrigin Point
	// FrameBounds are the visible frame edges in screen coordinates. A
	// window capture covers exactly these bounds.
	FrameBounds Bounds
}

// ClientCrop converts geometry into a rectangle in the window capture's
// coordinate space covering only the client area.
func ClientCrop(g Geometry) gpu.Rect {
	return gpu.Rect{
		X:      g.ClientOrigin.X - g.FrameBounds.Left,
		Y:      g.ClientOrigin.Y - g.FrameBounds.Top,
		Width:  g.Client.Width(),
		Height: g.Client.Height(),
	}
}

// Window is a top-level test window.
type Window interface {
	Title() string
	Geometry() (Geometry, error)
	Close() error
}
