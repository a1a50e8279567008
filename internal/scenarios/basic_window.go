package scenarios

import (
	"context"

	"github.com/breeze-rmm/wgctest/internal/fixture"
	"github.com/breeze-rmm/wgctest/internal/logging"
	"github.com/breeze-rmm/wgctest/internal/pixel"
	"github.com/breeze-rmm/wgctest/internal/snapshot"
	"github.com/breeze-rmm/wgctest/internal/verify"
)

// BasicWindow paints a 500x500 window green and checks the center of a
// client-area capture.
func BasicWindow(ctx context.Context, b fixture.Backend) error {
	const width, height = 500, 500

	w, err := b.NewWindow(ctx, "wgctest - Basic Window Test", width, height)
	if err != nil {
		return err
	}
	defer closeWindow(ctx, w)

	if err := w.Chain.Flip(pixel.Green); err != nil {
		return err
	}
	if err := b.Settle(ctx); err != nil {
		return err
	}

	geom, err := w.Geometry()
	if err != nil {
		return err
	}
	tex, err := snapshot.TakeClientArea(ctx, b.Platform(), b.Device(), w.Item, geom, snapshot.Options{
		CPUReadable:  true,
		Backpressure: b.Backpressure(),
	})
	if err != nil {
		return err
	}

	return verify.Pixels(tex, verify.Expect{X: width / 2, Y: height / 2, Color: pixel.Green})
}

func closeWindow(ctx context.Context, w *fixture.TestWindow) {
	if err := w.Close(); err != nil {
		logging.FromContext(ctx).Warn("test window close failed", logging.KeyError, err)
	}
}
