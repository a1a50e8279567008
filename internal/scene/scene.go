// Package scene is a small retained-mode visual tree for the software
// backend. Mutations are staged and only become visible to capture after
// Commit, the way a compositor batches changes.
package scene

import (
	"errors"
	"fmt"
	"sync"

	"github.com/breeze-rmm/wgctest/internal/capture"
	"github.com/breeze-rmm/wgctest/internal/gpu"
	"github.com/breeze-rmm/wgctest/internal/pixel"
)

var ErrClosed = errors.New("scene: compositor closed")

// Shape is something a visual can fill. Covers reports whether the pixel
// whose top-left corner is (x, y) belongs to the shape; coverage is
// sampled at pixel centers.
type Shape interface {
	Covers(x, y uint32) bool
}

// Ellipse is an axis-aligned ellipse.
type Ellipse struct {
	CenterX, CenterY float64
	RadiusX, RadiusY float64
}

// Circle returns an Ellipse with equal radii.
func Circle(cx, cy, r float64) Ellipse {
	return Ellipse{CenterX: cx, CenterY: cy, RadiusX: r, RadiusY: r}
}

func (e Ellipse) Covers(x, y uint32) bool {
	if e.RadiusX <= 0 || e.RadiusY <= 0 {
		return false
	}
	dx := (float64(x) + 0.5 - e.CenterX) / e.RadiusX
	dy := (float64(y) + 0.5 - e.CenterY) / e.RadiusY
	return dx*dx+dy*dy <= 1
}

// Fill covers the whole visual.
type Fill struct{}

func (Fill) Covers(x, y uint32) bool { return true }

// Rectangle covers [X, X+Width) x [Y, Y+Height).
type Rectangle struct {
	X, Y, Width, Height uint32
}

func (r Rectangle) Covers(x, y uint32) bool {
	return x >= r.X && x < r.X+r.Width && y >= r.Y && y < r.Y+r.Height
}

// Layer is one filled shape. Later layers are drawn over earlier ones;
// opaque source-over, so a layer replaces what is below it.
type Layer struct {
	Shape Shape
	Color pixel.Color
}

type state struct {
	background pixel.Color
	layers     []Layer
}

func (s state) clone() state {
	return state{background: s.background, layers: append([]Layer(nil), s.layers...)}
}

func (s state) shade(x, y uint32) pixel.Color {
	for i := len(s.layers) - 1; i >= 0; i-- {
		if s.layers[i].Shape.Covers(x, y) {
			return s.layers[i].Color
		}
	}
	return s.background
}

// Visual is a fixed-size capturable visual. The background starts as
// transparent black.
type Visual struct {
	name   string
	width  uint32
	height uint32

	mu        sync.Mutex
	pending   state
	committed *state
	closed    bool
	watchers  map[int]func()
	nextWatch int
}

// NewVisual creates an empty visual. Nothing is visible until the first
// Commit.
func NewVisual(name string, width, height uint32) (*Visual, error) {
	if width == 0 || height == 0 {
		return nil, fmt.Errorf("scene: invalid visual size %dx%d", width, height)
	}
	return &Visual{
		name:     name,
		width:    width,
		height:   height,
		pending:  state{background: pixel.TransparentBlack},
		watchers: map[int]func(){},
	}, nil
}

// SetBackground stages a new background color.
func (v *Visual) SetBackground(c pixel.Color) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return ErrClosed
	}
	v.pending.background = c
	return nil
}

// Append stages a new top layer.
func (v *Visual) Append(shape Shape, c pixel.Color) error {
	if shape == nil {
		return fmt.Errorf("scene: nil shape")
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return ErrClosed
	}
	v.pending.layers = append(v.pending.layers, Layer{Shape: shape, Color: c})
	return nil
}

// Clear stages removal of every layer.
func (v *Visual) Clear() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return ErrClosed
	}
	v.pending.layers = nil
	return nil
}

// Commit publishes the staged state and notifies watchers.
func (v *Visual) Commit() error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return ErrClosed
	}
	snap := v.pending.clone()
	v.committed = &snap
	watchers := make([]func(), 0, len(v.watchers))
	for _, fn := range v.watchers {
		watchers = append(watchers, fn)
	}
	v.mu.Unlock()

	for _, fn := range watchers {
		fn()
	}
	return nil
}

// Close detaches the visual; further capture of it fails.
func (v *Visual) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return ErrClosed
	}
	v.closed = true
	v.watchers = map[int]func(){}
	return nil
}

func (v *Visual) DisplayName() string { return v.name }

func (v *Visual) Size() (capture.Size, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return capture.Size{}, capture.ErrItemClosed
	}
	return capture.Size{Width: int32(v.width), Height: int32(v.height)}, nil
}

// Compose draws the committed state. Visuals have no cursor.
func (v *Visual) Compose(dst *gpu.SoftwareTexture, cursor bool) (capture.Size, bool, error) {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return capture.Size{}, false, capture.ErrItemClosed
	}
	if v.committed == nil {
		v.mu.Unlock()
		return capture.Size{}, false, nil
	}
	snap := *v.committed
	w, h := v.width, v.height
	v.mu.Unlock()

	err := dst.Draw(func(x, y uint32) pixel.Color {
		if x >= w || y >= h {
			return pixel.TransparentBlack
		}
		return snap.shade(x, y)
	})
	if err != nil {
		return capture.Size{}, false, err
	}
	return capture.Size{Width: int32(w), Height: int32(h)}, true, nil
}

func (v *Visual) Watch(fn func()) func() {
	v.mu.Lock()
	defer v.mu.Unlock()
	id := v.nextWatch
	v.nextWatch++
	v.watchers[id] = fn
	return func() {
		v.mu.Lock()
		delete(v.watchers, id)
		v.mu.Unlock()
	}
}

var _ capture.SoftwareSource = (*Visual)(nil)
