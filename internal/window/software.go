package window

import (
	"fmt"
	"sync"

	"github.com/breeze-rmm/wgctest/internal/capture"
	"github.com/breeze-rmm/wgctest/internal/gpu"
	"github.com/breeze-rmm/wgctest/internal/pixel"
)

// Non-client metrics of software windows.
const (
	BorderWidth    = 1
	TitleBarHeight = 31
	cursorHeight   = 12
)

var (
	titleBarColor = pixel.Color{B: 0xF3, G: 0xF3, R: 0xF3, A: 0xFF}
	borderColor   = pixel.Color{B: 0x80, G: 0x80, R: 0x80, A: 0xFF}
)

// defaultOrigin is where new software windows are placed on the desktop.
var defaultOrigin = Point{X: 100, Y: 100}

type surface struct {
	width  uint32
	height uint32
	pix    []byte
}

func (s surface) at(x, y uint32) pixel.Color {
	if x >= s.width || y >= s.height {
		return pixel.TransparentBlack
	}
	return pixel.FromBytes(s.pix[(y*s.width+x)*pixel.Size:])
}

// SoftwareWindow is a window on an imaginary desktop. It draws simple
// chrome, the last presented client surface and, while the pointer is
// over the client area, a cursor glyph. It is also its own capture item.
type SoftwareWindow struct {
	title string

	mu         sync.Mutex
	origin     Point
	clientW    uint32
	clientH    uint32
	fullscreen bool
	restore    struct {
		origin           Point
		clientW, clientH uint32
	}
	content   surface
	cursor    *Point
	closed    bool
	watchers  map[int]func()
	nextWatch int
}

// NewSoftwareWindow creates a window whose client area is width x height.
func NewSoftwareWindow(title string, width, height uint32) (*SoftwareWindow, error) {
	if width == 0 || height == 0 {
		return nil, fmt.Errorf("window: invalid client size %dx%d", width, height)
	}
	return &SoftwareWindow{
		title:    title,
		origin:   defaultOrigin,
		clientW:  width,
		clientH:  height,
		watchers: map[int]func(){},
	}, nil
}

func (w *SoftwareWindow) Title() string       { return w.title }
func (w *SoftwareWindow) DisplayName() string { return w.title }

// chrome returns the client area's offset inside the frame.
func (w *SoftwareWindow) chrome() (left, top, right, bottom int32) {
	if w.fullscreen {
		return 0, 0, 0, 0
	}
	return BorderWidth, TitleBarHeight, BorderWidth, BorderWidth
}

func (w *SoftwareWindow) geometryLocked() Geometry {
	l, t, r, b := w.chrome()
	cw, ch := int32(w.clientW), int32(w.clientH)
	return Geometry{
		Client:       Bounds{Right: cw, Bottom: ch},
		ClientOrigin: Point{X: w.origin.X + l, Y: w.origin.Y + t},
		FrameBounds: Bounds{
			Left:   w.origin.X,
			Top:    w.origin.Y,
			Right:  w.origin.X + l + cw + r,
			Bottom: w.origin.Y + t + ch + b,
		},
	}
}

func (w *SoftwareWindow) Geometry() (Geometry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return Geometry{}, ErrClosed
	}
	return w.geometryLocked(), nil
}

// Size is the frame size, which is what a capture of the window covers.
func (w *SoftwareWindow) Size() (capture.Size, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return capture.Size{}, capture.ErrItemClosed
	}
	fb := w.geometryLocked().FrameBounds
	return capture.Size{Width: fb.Width(), Height: fb.Height()}, nil
}

// ClientSize returns the current client area size.
func (w *SoftwareWindow) ClientSize() (uint32, uint32, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0, 0, ErrClosed
	}
	return w.clientW, w.clientH, nil
}

// Fullscreen reports whether the window covers an output.
func (w *SoftwareWindow) Fullscreen() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.fullscreen
}

// Present replaces the client surface with the contents of src.
func (w *SoftwareWindow) Present(src *gpu.SoftwareTexture) error {
	pix, err := src.Pixels()
	if err != nil {
		return err
	}
	d := src.Desc()
	return w.update(func() {
		w.content = surface{width: d.Width, height: d.Height, pix: pix}
	})
}

// EnterFullscreen removes the chrome and stretches the client area over out.
func (w *SoftwareWindow) EnterFullscreen(out gpu.Output) error {
	if out.Width <= 0 || out.Height <= 0 {
		return fmt.Errorf("window: invalid output %q", out.Name)
	}
	return w.update(func() {
		if w.fullscreen {
			return
		}
		w.restore.origin = w.origin
		w.restore.clientW, w.restore.clientH = w.clientW, w.clientH
		w.fullscreen = true
		w.origin = Point{X: out.X, Y: out.Y}
		w.clientW, w.clientH = uint32(out.Width), uint32(out.Height)
	})
}

// ExitFullscreen restores the windowed placement.
func (w *SoftwareWindow) ExitFullscreen() error {
	return w.update(func() {
		if !w.fullscreen {
			return
		}
		w.fullscreen = false
		w.origin = w.restore.origin
		w.clientW, w.clientH = w.restore.clientW, w.restore.clientH
	})
}

// SetCursor moves the pointer to (x, y) in client coordinates.
func (w *SoftwareWindow) SetCursor(x, y int32) error {
	return w.update(func() { w.cursor = &Point{X: x, Y: y} })
}

// HideCursor moves the pointer off the window.
func (w *SoftwareWindow) HideCursor() error {
	return w.update(func() { w.cursor = nil })
}

func (w *SoftwareWindow) update(fn func()) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrClosed
	}
	fn()
	watchers := make([]func(), 0, len(w.watchers))
	for _, cb := range w.watchers {
		watchers = append(watchers, cb)
	}
	w.mu.Unlock()

	for _, cb := range watchers {
		cb()
	}
	return nil
}

// Compose draws the frame into dst, clipped to dst's size. The pool keeps
// the size it was created with, so after a resize part of the frame may
// fall outside dst.
func (w *SoftwareWindow) Compose(dst *gpu.SoftwareTexture, cursor bool) (capture.Size, bool, error) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return capture.Size{}, false, capture.ErrItemClosed
	}
	l, t, _, _ := w.chrome()
	g := w.geometryLocked()
	content := w.content
	cw, ch := int32(w.clientW), int32(w.clientH)
	var pointer *Point
	if cursor && w.cursor != nil {
		p := Point{X: w.cursor.X + l, Y: w.cursor.Y + t}
		pointer = &p
	}
	w.mu.Unlock()

	fw, fh := g.FrameBounds.Width(), g.FrameBounds.Height()
	err := dst.Draw(func(x, y uint32) pixel.Color {
		fx, fy := int32(x), int32(y)
		if fx >= fw || fy >= fh {
			return pixel.TransparentBlack
		}
		if pointer != nil && inCursor(fx-pointer.X, fy-pointer.Y) {
			return pixel.White
		}
		cx, cy := fx-l, fy-t
		if cx >= 0 && cy >= 0 && cx < cw && cy < ch {
			return content.at(uint32(cx), uint32(cy))
		}
		if fy < t {
			return titleBarColor
		}
		return borderColor
	})
	if err != nil {
		return capture.Size{}, false, err
	}
	return capture.Size{Width: fw, Height: fh}, true, nil
}

// inCursor reports whether offset (dx, dy) from the hotspot is part of
// the arrow glyph.
func inCursor(dx, dy int32) bool {
	return dy >= 0 && dy < cursorHeight && dx >= 0 && dx <= dy/2
}

func (w *SoftwareWindow) Watch(fn func()) func() {
	w.mu.Lock()
	defer w.mu.Unlock()
	id := w.nextWatch
	w.nextWatch++
	w.watchers[id] = fn
	return func() {
		w.mu.Lock()
		delete(w.watchers, id)
		w.mu.Unlock()
	}
}

func (w *SoftwareWindow) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	w.closed = true
	w.watchers = map[int]func(){}
	return nil
}

var (
	_ Window                 = (*SoftwareWindow)(nil)
	_ capture.SoftwareSource = (*SoftwareWindow)(nil)
)
