package capture

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/breeze-rmm/wgctest/internal/gpu"
	"github.com/breeze-rmm/wgctest/internal/pixel"
)

// colorSource composes a solid color and draws a one-pixel cursor at
// (0,0) when cursor capture is on.
type colorSource struct {
	mu       sync.Mutex
	color    pixel.Color
	composed bool
	closed   bool
	watchers map[int]func()
	next     int
	cursors  []bool
}

func newColorSource(c pixel.Color) *colorSource {
	return &colorSource{color: c, composed: true, watchers: map[int]func(){}}
}

func (s *colorSource) Size() (Size, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Size{}, ErrItemClosed
	}
	return Size{Width: 16, Height: 8}, nil
}

func (s *colorSource) DisplayName() string { return "color" }

func (s *colorSource) Compose(dst *gpu.SoftwareTexture, cursor bool) (Size, bool, error) {
	s.mu.Lock()
	c, composed := s.color, s.composed
	s.cursors = append(s.cursors, cursor)
	s.mu.Unlock()
	if !composed {
		return Size{}, false, nil
	}
	err := dst.Draw(func(x, y uint32) pixel.Color {
		if cursor && x == 0 && y == 0 {
			return pixel.White
		}
		return c
	})
	return Size{Width: 16, Height: 8}, true, err
}

func (s *colorSource) Watch(fn func()) func() {
	s.mu.Lock()
	id := s.next
	s.next++
	s.watchers[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.watchers, id)
		s.mu.Unlock()
	}
}

func (s *colorSource) set(c pixel.Color) {
	s.mu.Lock()
	s.color = c
	s.composed = true
	var fns []func()
	for _, fn := range s.watchers {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (s *colorSource) watcherCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.watchers)
}

func frameCenter(t *testing.T, f *Frame) pixel.Color {
	t.Helper()
	surface, err := f.Surface()
	if err != nil {
		t.Fatalf("Surface: %v", err)
	}
	d := surface.Desc()
	return surface.(*gpu.SoftwareTexture).At(d.Width/2, d.Height/2)
}

func newSoftwareBridge(t *testing.T, src SoftwareSource, opts ...Option) (*gpu.SoftwareDevice, *Bridge) {
	t.Helper()
	dev := gpu.NewSoftwareDevice()
	p := NewSoftwarePlatform()
	cd, err := p.ResolveDevice(dev)
	if err != nil {
		t.Fatal(err)
	}
	b, err := New(p, cd, src, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(b.Close)
	return dev, b
}

func nextFrame(t *testing.T, b *Bridge) *Frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	f, err := b.NextFrame(ctx)
	if err != nil {
		t.Fatalf("NextFrame: %v", err)
	}
	return f
}

func TestSoftwareFirstFrameAfterStart(t *testing.T) {
	src := newColorSource(pixel.Red)
	_, b := newSoftwareBridge(t, src)

	f := nextFrame(t, b)
	defer f.Close()
	if got := frameCenter(t, f); got != pixel.Red {
		t.Fatalf("center = %v, want red", got)
	}
	if f.ContentSize() != (Size{16, 8}) {
		t.Fatalf("ContentSize = %+v", f.ContentSize())
	}
}

func TestSoftwareChangeWhileFrameHeldIsDeferred(t *testing.T) {
	src := newColorSource(pixel.Red)
	_, b := newSoftwareBridge(t, src)

	f := nextFrame(t, b)
	src.set(pixel.Green)
	src.set(pixel.Blue)

	// The only buffer is held, so nothing new may be queued yet.
	time.Sleep(20 * time.Millisecond)
	if got := frameCenter(t, f); got != pixel.Red {
		t.Fatalf("held frame changed to %v", got)
	}
	f.Close()

	f = nextFrame(t, b)
	defer f.Close()
	if got := frameCenter(t, f); got != pixel.Blue {
		t.Fatalf("center = %v, want latest content blue", got)
	}
}

func TestSoftwareUncomposedSourceWaitsForCommit(t *testing.T) {
	src := newColorSource(pixel.Green)
	src.composed = false
	_, b := newSoftwareBridge(t, src)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := b.NextFrame(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("NextFrame before commit = %v, want timeout", err)
	}

	src.set(pixel.Green)
	f := nextFrame(t, b)
	defer f.Close()
	if got := frameCenter(t, f); got != pixel.Green {
		t.Fatalf("center = %v, want green", got)
	}
}

func TestSoftwareCursorDisabledBeforeStart(t *testing.T) {
	src := newColorSource(pixel.Blue)
	_, b := newSoftwareBridge(t, src, WithCursorCapture(false))

	f := nextFrame(t, b)
	defer f.Close()
	surface, _ := f.Surface()
	if got := surface.(*gpu.SoftwareTexture).At(0, 0); got != pixel.Blue {
		t.Fatalf("cursor pixel = %v, want no cursor", got)
	}
}

func TestSoftwareCursorEnabledByDefault(t *testing.T) {
	src := newColorSource(pixel.Blue)
	_, b := newSoftwareBridge(t, src)

	f := nextFrame(t, b)
	defer f.Close()
	surface, _ := f.Surface()
	if got := surface.(*gpu.SoftwareTexture).At(0, 0); got != pixel.White {
		t.Fatalf("cursor pixel = %v, want cursor drawn", got)
	}
}

func TestSoftwareCursorChangeAfterStartIgnored(t *testing.T) {
	dev := gpu.NewSoftwareDevice()
	p := NewSoftwarePlatform()
	cd, _ := p.ResolveDevice(dev)
	pool, err := p.CreateFramePool(cd, gpu.FormatB8G8R8A8UNorm, 1, Size{16, 8})
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Close()

	src := newColorSource(pixel.Red)
	s, err := pool.CreateCaptureSession(src)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.StartCapture(); err != nil {
		t.Fatal(err)
	}
	if err := s.StartCapture(); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("second StartCapture = %v", err)
	}
	if err := s.SetCursorCaptureEnabled(false); err != nil {
		t.Fatal(err)
	}
	if ss := s.(*softwareSession); !ss.cursor {
		t.Fatal("cursor change after start should have no effect")
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); !errors.Is(err, ErrAlreadyClosed) {
		t.Fatalf("second session Close = %v", err)
	}
}

func TestSoftwareTeardownReleasesEverything(t *testing.T) {
	src := newColorSource(pixel.Red)
	dev, b := newSoftwareBridge(t, src)

	f := nextFrame(t, b)
	f.Close()
	src.set(pixel.Green) // a frame may be queued at Close
	time.Sleep(10 * time.Millisecond)
	b.Close()

	if src.watcherCount() != 0 {
		t.Fatal("session close should stop watching the source")
	}
	deadline := time.Now().Add(2 * time.Second)
	for dev.LiveTextures() != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if n := dev.LiveTextures(); n != 0 {
		t.Fatalf("%d frame textures leaked", n)
	}
}

func TestSoftwareClosedItem(t *testing.T) {
	src := newColorSource(pixel.Red)
	src.closed = true
	dev := gpu.NewSoftwareDevice()
	p := NewSoftwarePlatform()
	cd, _ := p.ResolveDevice(dev)
	if _, err := New(p, cd, src); !errors.Is(err, ErrCaptureUnavailable) {
		t.Fatalf("New on closed item = %v, want ErrCaptureUnavailable", err)
	}
}

func TestSoftwareRejectsForeignDevice(t *testing.T) {
	p := NewSoftwarePlatform()
	if _, err := p.ResolveDevice(nil); !errors.Is(err, ErrDeviceMismatch) {
		t.Fatalf("ResolveDevice(nil) = %v", err)
	}
}

func TestSoftwareFrameDoubleClose(t *testing.T) {
	src := newColorSource(pixel.Red)
	_, b := newSoftwareBridge(t, src)
	f := nextFrame(t, b)
	if err := f.src.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.src.Close(); !errors.Is(err, ErrAlreadyClosed) {
		t.Fatalf("platform frame double close = %v, want ErrAlreadyClosed", err)
	}
	f.closed.Store(true)
	b.inFlight.Store(false)
}
