package scenarios

import (
	"context"

	"github.com/breeze-rmm/wgctest/internal/fixture"
	"github.com/breeze-rmm/wgctest/internal/pixel"
	"github.com/breeze-rmm/wgctest/internal/scene"
	"github.com/breeze-rmm/wgctest/internal/snapshot"
	"github.com/breeze-rmm/wgctest/internal/verify"
)

// Alpha captures a red circle centered in a 100x100 visual. Pixels the
// circle does not cover must come back as transparent black, not the
// transparent white UI frameworks usually clear to.
func Alpha(ctx context.Context, b fixture.Backend) error {
	v, err := b.NewVisual(ctx, "alpha", 100, 100)
	if err != nil {
		return err
	}
	defer b.Queue().Invoke(context.WithoutCancel(ctx), v.Close)

	err = b.Queue().Invoke(ctx, func() error {
		return v.Append(scene.Circle(50, 50, 50), pixel.Red)
	})
	if err != nil {
		return err
	}

	tex, err := snapshot.Take(ctx, b.Platform(), b.Device(), v, snapshot.Options{
		CPUReadable:   true,
		CursorEnabled: true,
		Backpressure:  b.Backpressure(),
		// commit only once capture is running so the first frame has content
		OnStarted: func() error { return b.Queue().Invoke(ctx, v.Commit) },
	})
	if err != nil {
		return err
	}

	return verify.Pixels(tex,
		verify.Expect{X: 50, Y: 50, Color: pixel.Red},
		verify.Expect{X: 5, Y: 5, Color: pixel.TransparentBlack},
	)
}
