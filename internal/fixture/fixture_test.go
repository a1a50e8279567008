package fixture

import (
	"context"
	"errors"
	"runtime"
	"testing"
	"time"

	"github.com/breeze-rmm/wgctest/internal/config"
	"github.com/breeze-rmm/wgctest/internal/pixel"
	"github.com/breeze-rmm/wgctest/internal/window"
)

func TestOpenSoftware(t *testing.T) {
	b, err := Open(config.BackendSoftware, Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer b.Close()
	if b.Name() != "software" || b.Platform().Name() != "software" {
		t.Fatalf("backend = %s/%s", b.Name(), b.Platform().Name())
	}
}

func TestOpenUnknown(t *testing.T) {
	if _, err := Open("opengl", Options{}); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestOpenWindowsOffWindows(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("windows backend is available here")
	}
	if _, err := Open(config.BackendWindows, Options{}); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("err = %v, want ErrUnsupported", err)
	}
	b, err := Open(config.BackendAuto, Options{})
	if err != nil {
		t.Fatalf("Open(auto): %v", err)
	}
	defer b.Close()
	if b.Name() != "software" {
		t.Fatalf("auto picked %s", b.Name())
	}
}

func TestSoftwareWindowLifecycle(t *testing.T) {
	b, err := NewSoftware(Options{})
	if err != nil {
		t.Fatalf("NewSoftware: %v", err)
	}
	defer b.Close()
	ctx := context.Background()

	w, err := b.NewWindow(ctx, "lifecycle", 64, 48)
	if err != nil {
		t.Fatalf("NewWindow: %v", err)
	}
	if err := w.Chain.Flip(pixel.Green); err != nil {
		t.Fatalf("Flip: %v", err)
	}
	g, err := w.Geometry()
	if err != nil {
		t.Fatalf("Geometry: %v", err)
	}
	if crop := window.ClientCrop(g); crop.Width != 64 || crop.Height != 48 {
		t.Fatalf("client crop = %+v", crop)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if n := b.SoftwareDevice().LiveTextures(); n != 0 {
		t.Fatalf("live textures after close = %d", n)
	}
}

func TestSettleHonorsContext(t *testing.T) {
	b, _ := NewSoftware(Options{SettleDelay: time.Hour})
	defer b.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := b.Settle(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Settle = %v, want deadline exceeded", err)
	}
}
