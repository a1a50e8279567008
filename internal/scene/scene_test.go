package scene

import (
	"errors"
	"testing"

	"github.com/breeze-rmm/wgctest/internal/capture"
	"github.com/breeze-rmm/wgctest/internal/gpu"
	"github.com/breeze-rmm/wgctest/internal/pixel"
)

func newTarget(t *testing.T, w, h uint32) *gpu.SoftwareTexture {
	t.Helper()
	dev := gpu.NewSoftwareDevice()
	tex, err := dev.CreateTexture2D(gpu.TextureDesc{
		Width: w, Height: h, MipLevels: 1, ArraySize: 1,
		Format: gpu.FormatB8G8R8A8UNorm, SampleCount: 1,
		Usage: gpu.UsageDefault, BindFlags: gpu.BindShaderResource,
	})
	if err != nil {
		t.Fatalf("CreateTexture2D: %v", err)
	}
	t.Cleanup(tex.Release)
	return tex.(*gpu.SoftwareTexture)
}

func TestEllipseCoversAtPixelCenters(t *testing.T) {
	c := Circle(50, 50, 50)
	tests := []struct {
		x, y uint32
		want bool
	}{
		{50, 50, true},
		{0, 50, true},
		{99, 50, true},
		{50, 0, true},
		{5, 5, false},
		{0, 0, false},
		{99, 99, false},
		{14, 14, false},
		{15, 15, true},
	}
	for _, tt := range tests {
		if got := c.Covers(tt.x, tt.y); got != tt.want {
			t.Errorf("Covers(%d, %d) = %v, want %v", tt.x, tt.y, got, tt.want)
		}
	}
	if (Ellipse{RadiusX: 0, RadiusY: 3}).Covers(0, 0) {
		t.Fatal("degenerate ellipse should cover nothing")
	}
}

func TestRectangleCovers(t *testing.T) {
	r := Rectangle{X: 2, Y: 3, Width: 4, Height: 1}
	if !r.Covers(2, 3) || !r.Covers(5, 3) {
		t.Fatal("expected inner pixels covered")
	}
	if r.Covers(6, 3) || r.Covers(2, 4) || r.Covers(1, 3) {
		t.Fatal("expected outer pixels uncovered")
	}
}

func TestComposeBeforeCommit(t *testing.T) {
	v, err := NewVisual("circle", 100, 100)
	if err != nil {
		t.Fatalf("NewVisual: %v", err)
	}
	if err := v.Append(Circle(50, 50, 50), pixel.Red); err != nil {
		t.Fatalf("Append: %v", err)
	}
	_, composed, err := v.Compose(newTarget(t, 100, 100), false)
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if composed {
		t.Fatal("uncommitted visual should not compose")
	}
}

func TestRedCircleOverTransparentBlack(t *testing.T) {
	v, _ := NewVisual("circle", 100, 100)
	v.Append(Circle(50, 50, 50), pixel.Red)
	if err := v.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	dst := newTarget(t, 100, 100)
	size, composed, err := v.Compose(dst, true)
	if err != nil || !composed {
		t.Fatalf("Compose: composed=%v err=%v", composed, err)
	}
	if size != (capture.Size{Width: 100, Height: 100}) {
		t.Fatalf("content size = %+v", size)
	}
	if got := dst.At(50, 50); got != pixel.Red {
		t.Fatalf("center = %v, want %v", got, pixel.Red)
	}
	if got := dst.At(5, 5); got != pixel.TransparentBlack {
		t.Fatalf("corner = %v, want %v", got, pixel.TransparentBlack)
	}
}

func TestCommitPublishesSnapshot(t *testing.T) {
	v, _ := NewVisual("fill", 4, 4)
	v.Append(Fill{}, pixel.Green)
	v.Commit()

	// staged but not committed
	v.Clear()
	v.Append(Fill{}, pixel.Blue)

	dst := newTarget(t, 4, 4)
	if _, _, err := v.Compose(dst, false); err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if got := dst.At(1, 1); got != pixel.Green {
		t.Fatalf("got %v, want committed green", got)
	}

	v.Commit()
	v.Compose(dst, false)
	if got := dst.At(1, 1); got != pixel.Blue {
		t.Fatalf("got %v, want blue after commit", got)
	}
}

func TestLayersDrawInOrder(t *testing.T) {
	v, _ := NewVisual("layers", 8, 8)
	v.SetBackground(pixel.White)
	v.Append(Fill{}, pixel.Red)
	v.Append(Rectangle{X: 0, Y: 0, Width: 2, Height: 2}, pixel.Blue)
	v.Commit()

	dst := newTarget(t, 10, 10)
	v.Compose(dst, false)
	if got := dst.At(1, 1); got != pixel.Blue {
		t.Fatalf("(1,1) = %v, want blue", got)
	}
	if got := dst.At(4, 4); got != pixel.Red {
		t.Fatalf("(4,4) = %v, want red", got)
	}
	// outside the visual but inside the buffer
	if got := dst.At(9, 9); got != pixel.TransparentBlack {
		t.Fatalf("(9,9) = %v, want transparent black", got)
	}
}

func TestWatchersNotifiedOnCommit(t *testing.T) {
	v, _ := NewVisual("watch", 2, 2)
	calls := 0
	cancel := v.Watch(func() { calls++ })
	v.Commit()
	v.Commit()
	cancel()
	v.Commit()
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
}

func TestClosedVisual(t *testing.T) {
	v, _ := NewVisual("closed", 2, 2)
	if err := v.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := v.Close(); !errors.Is(err, ErrClosed) {
		t.Fatalf("second Close = %v, want ErrClosed", err)
	}
	if _, err := v.Size(); !errors.Is(err, capture.ErrItemClosed) {
		t.Fatalf("Size = %v, want ErrItemClosed", err)
	}
	if err := v.Commit(); !errors.Is(err, ErrClosed) {
		t.Fatalf("Commit = %v, want ErrClosed", err)
	}
}

func TestNewVisualRejectsEmpty(t *testing.T) {
	if _, err := NewVisual("empty", 0, 10); err == nil {
		t.Fatal("expected error for zero width")
	}
}
