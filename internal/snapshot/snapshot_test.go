package snapshot

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/breeze-rmm/wgctest/internal/capture"
	"github.com/breeze-rmm/wgctest/internal/gpu"
	"github.com/breeze-rmm/wgctest/internal/pixel"
	"github.com/breeze-rmm/wgctest/internal/scene"
	"github.com/breeze-rmm/wgctest/internal/window"
)

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func readPixel(t *testing.T, tex gpu.Texture, x, y uint32) pixel.Color {
	t.Helper()
	m, err := gpu.Map(tex)
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	defer m.Close()
	c, ok := m.ReadPixel(x, y)
	if !ok {
		t.Fatalf("ReadPixel(%d, %d) out of bounds", x, y)
	}
	return c
}

func circleVisual(t *testing.T) *scene.Visual {
	t.Helper()
	v, err := scene.NewVisual("circle", 100, 100)
	if err != nil {
		t.Fatalf("NewVisual: %v", err)
	}
	if err := v.Append(scene.Circle(50, 50, 50), pixel.Red); err != nil {
		t.Fatalf("Append: %v", err)
	}
	return v
}

func TestTakeCommitsAfterStart(t *testing.T) {
	dev := gpu.NewSoftwareDevice()
	v := circleVisual(t)

	calls := 0
	tex, err := Take(testContext(t), capture.NewSoftwarePlatform(), dev, v, Options{
		CPUReadable:   true,
		CursorEnabled: true,
		OnStarted: func() error {
			calls++
			return v.Commit()
		},
	})
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	defer tex.Release()

	if calls != 1 {
		t.Fatalf("OnStarted calls = %d, want 1", calls)
	}
	d := tex.Desc()
	if d.Width != 100 || d.Height != 100 || !d.Staging() {
		t.Fatalf("result desc = %+v", d)
	}
	if got := readPixel(t, tex, 50, 50); got != pixel.Red {
		t.Fatalf("(50,50) = %v, want red", got)
	}
	if got := readPixel(t, tex, 5, 5); got != pixel.TransparentBlack {
		t.Fatalf("(5,5) = %v, want transparent black", got)
	}
}

func TestTakeGPUResult(t *testing.T) {
	dev := gpu.NewSoftwareDevice()
	v := circleVisual(t)
	v.Commit()

	tex, err := Take(testContext(t), capture.NewSoftwarePlatform(), dev, v, Options{OnStarted: v.Commit})
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	defer tex.Release()

	d := tex.Desc()
	if d.Usage != gpu.UsageDefault || d.BindFlags != gpu.BindShaderResource || d.CPUAccessFlags != 0 {
		t.Fatalf("GPU result desc = %+v", d)
	}
	if _, err := gpu.Map(tex); !errors.Is(err, gpu.ErrNotMappable) {
		t.Fatalf("Map GPU result = %v, want ErrNotMappable", err)
	}
}

func TestTakeCrop(t *testing.T) {
	dev := gpu.NewSoftwareDevice()
	v, _ := scene.NewVisual("quadrants", 40, 20)
	v.Append(scene.Fill{}, pixel.Blue)
	v.Append(scene.Rectangle{X: 10, Y: 5, Width: 1, Height: 1}, pixel.Red)
	v.Commit()

	tests := []struct {
		name string
		crop gpu.Rect
	}{
		{"interior", gpu.Rect{X: 10, Y: 5, Width: 8, Height: 4}},
		{"flush with edges", gpu.Rect{X: 10, Y: 5, Width: 30, Height: 15}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			crop := tt.crop
			tex, err := Take(testContext(t), capture.NewSoftwarePlatform(), dev, v, Options{
				Crop:        &crop,
				CPUReadable: true,
				OnStarted:   v.Commit,
			})
			if err != nil {
				t.Fatalf("Take: %v", err)
			}
			defer tex.Release()

			d := tex.Desc()
			if d.Width != uint32(crop.Width) || d.Height != uint32(crop.Height) {
				t.Fatalf("cropped size = %dx%d, want %dx%d", d.Width, d.Height, crop.Width, crop.Height)
			}
			if got := readPixel(t, tex, 0, 0); got != pixel.Red {
				t.Fatalf("crop origin = %v, want source (10,5) red", got)
			}
			if got := readPixel(t, tex, 1, 1); got != pixel.Blue {
				t.Fatalf("(1,1) = %v, want blue", got)
			}
		})
	}
}

func TestTakeRejectsBadCrop(t *testing.T) {
	dev := gpu.NewSoftwareDevice()
	v, _ := scene.NewVisual("fill", 40, 20)
	v.Append(scene.Fill{}, pixel.Blue)
	v.Commit()

	for _, crop := range []gpu.Rect{
		{X: 35, Y: 0, Width: 10, Height: 10},
		{X: 0, Y: 0, Width: 0, Height: 10},
		{X: -1, Y: 0, Width: 5, Height: 5},
	} {
		crop := crop
		_, err := Take(testContext(t), capture.NewSoftwarePlatform(), dev, v, Options{
			Crop:      &crop,
			OnStarted: v.Commit,
		})
		if !errors.Is(err, ErrRegionCopy) {
			t.Fatalf("crop %+v: err = %v, want ErrRegionCopy", crop, err)
		}
	}
	if n := dev.LiveTextures(); n != 0 {
		t.Fatalf("live textures after rejected crops = %d", n)
	}
}

func TestTakeCursorOption(t *testing.T) {
	dev := gpu.NewSoftwareDevice()
	win, _ := window.NewSoftwareWindow("cursor", 40, 40)
	defer win.Close()
	win.SetCursor(20, 20)
	geom, _ := win.Geometry()

	for _, tt := range []struct {
		enabled bool
		want    pixel.Color
	}{
		{true, pixel.White},
		{false, pixel.TransparentBlack},
	} {
		tex, err := TakeClientArea(testContext(t), capture.NewSoftwarePlatform(), dev, win, geom, Options{
			CPUReadable:   true,
			CursorEnabled: tt.enabled,
		})
		if err != nil {
			t.Fatalf("TakeClientArea: %v", err)
		}
		got := readPixel(t, tex, 20, 20)
		tex.Release()
		if got != tt.want {
			t.Fatalf("cursor enabled=%v: hotspot = %v, want %v", tt.enabled, got, tt.want)
		}
	}
}

func TestTakeClientArea(t *testing.T) {
	dev := gpu.NewSoftwareDevice()
	win, _ := window.NewSoftwareWindow("client", 50, 30)
	defer win.Close()

	buf, _ := dev.CreateTexture2D(gpu.TextureDesc{
		Width: 50, Height: 30, MipLevels: 1, ArraySize: 1,
		Format: gpu.FormatB8G8R8A8UNorm, SampleCount: 1,
		Usage: gpu.UsageDefault, BindFlags: gpu.BindRenderTarget,
	})
	buf.(*gpu.SoftwareTexture).Draw(func(x, y uint32) pixel.Color { return pixel.Green })
	win.Present(buf.(*gpu.SoftwareTexture))
	buf.Release()

	geom, _ := win.Geometry()
	tex, err := TakeClientArea(testContext(t), capture.NewSoftwarePlatform(), dev, win, geom, Options{CPUReadable: true})
	if err != nil {
		t.Fatalf("TakeClientArea: %v", err)
	}
	defer tex.Release()

	d := tex.Desc()
	if d.Width != 50 || d.Height != 30 {
		t.Fatalf("client snapshot = %dx%d", d.Width, d.Height)
	}
	for _, p := range [][2]uint32{{0, 0}, {25, 15}, {49, 29}} {
		if got := readPixel(t, tex, p[0], p[1]); got != pixel.Green {
			t.Fatalf("(%d,%d) = %v, want green", p[0], p[1], got)
		}
	}
}

func TestTakeErrors(t *testing.T) {
	v := circleVisual(t)
	v.Commit()

	t.Run("foreign device", func(t *testing.T) {
		_, err := Take(testContext(t), capture.NewSoftwarePlatform(), foreignDevice{}, v, Options{})
		if !errors.Is(err, ErrDeviceInterface) {
			t.Fatalf("err = %v, want ErrDeviceInterface", err)
		}
	})

	t.Run("on started fails", func(t *testing.T) {
		dev := gpu.NewSoftwareDevice()
		boom := errors.New("boom")
		_, err := Take(testContext(t), capture.NewSoftwarePlatform(), dev, v, Options{
			OnStarted: func() error { return boom },
		})
		if !errors.Is(err, ErrSessionCreate) || !errors.Is(err, boom) {
			t.Fatalf("err = %v, want ErrSessionCreate wrapping boom", err)
		}
	})

	t.Run("closed item", func(t *testing.T) {
		dev := gpu.NewSoftwareDevice()
		closed := circleVisual(t)
		closed.Close()
		_, err := Take(testContext(t), capture.NewSoftwarePlatform(), dev, closed, Options{})
		if !errors.Is(err, ErrSessionCreate) || !errors.Is(err, capture.ErrCaptureUnavailable) {
			t.Fatalf("err = %v, want ErrSessionCreate/ErrCaptureUnavailable", err)
		}
	})

	t.Run("no frame before deadline", func(t *testing.T) {
		dev := gpu.NewSoftwareDevice()
		uncommitted := circleVisual(t)
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		_, err := Take(ctx, capture.NewSoftwarePlatform(), dev, uncommitted, Options{})
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("err = %v, want deadline exceeded", err)
		}
		if n := dev.LiveTextures(); n != 0 {
			t.Fatalf("live textures = %d", n)
		}
	})
}

type foreignDevice struct{}

func (foreignDevice) CreateTexture2D(gpu.TextureDesc) (gpu.Texture, error) {
	return nil, errors.New("unsupported")
}
func (foreignDevice) CreateRenderTargetView(gpu.Texture) (gpu.RenderTarget, error) {
	return nil, errors.New("unsupported")
}
func (foreignDevice) ImmediateContext() (gpu.Context, error) { return nil, errors.New("unsupported") }
func (foreignDevice) Close() error                           { return nil }
