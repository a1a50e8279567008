package scenarios

import (
	"context"
	"errors"
	"fmt"

	"github.com/breeze-rmm/wgctest/internal/capture"
	"github.com/breeze-rmm/wgctest/internal/fixture"
	"github.com/breeze-rmm/wgctest/internal/logging"
	"github.com/breeze-rmm/wgctest/internal/pixel"
	"github.com/breeze-rmm/wgctest/internal/verify"
)

// FullscreenTransition keeps one capture session open while an 800x600
// window goes from windowed red to fullscreen green and back to windowed
// blue. Each frame's center must show the color of its phase.
func FullscreenTransition(ctx context.Context, b fixture.Backend) error {
	const width, height = 800, 600
	log := logging.FromContext(ctx)

	w, err := b.NewWindow(ctx, "wgctest - Fullscreen Transition Test", width, height)
	if err != nil {
		return err
	}
	defer closeWindow(ctx, w)

	if err := w.Chain.Flip(pixel.Red); err != nil {
		return err
	}
	if err := b.Settle(ctx); err != nil {
		return err
	}

	dev, err := b.Platform().ResolveDevice(b.Device())
	if err != nil {
		return fmt.Errorf("%w: %w", capture.ErrCaptureUnavailable, err)
	}
	defer dev.Close()

	bridge, err := capture.New(b.Platform(), dev, w.Item,
		capture.WithBackpressure(b.Backpressure()),
		capture.WithLogger(log),
	)
	if err != nil {
		return err
	}
	defer bridge.Close()

	frame, err := bridge.NextFrame(ctx)
	if err != nil {
		return err
	}
	if err := centerOf(frame, pixel.Red); err != nil {
		frame.Close()
		return err
	}

	phases := []struct {
		fullscreen bool
		color      pixel.Color
	}{
		{true, pixel.Green},
		{false, pixel.Blue},
	}
	for _, phase := range phases {
		if err := w.Chain.SetFullscreen(phase.fullscreen); err != nil {
			frame.Close()
			return err
		}
		if err := w.Chain.Flip(phase.color); err != nil {
			frame.Close()
			return err
		}
		if err := b.Settle(ctx); err != nil {
			frame.Close()
			return err
		}

		if _, err := bridge.NextFrame(ctx); !errors.Is(err, capture.ErrFrameInFlight) {
			frame.Close()
			return fmt.Errorf("second frame while one is open: got %v, want %v", err, capture.ErrFrameInFlight)
		}

		if err := frame.Close(); err != nil {
			return fmt.Errorf("close frame: %w", err)
		}
		frame, err = bridge.NextFrame(ctx)
		if err != nil {
			return err
		}
		log.Debug("frame received", "state", w.Chain.State().String())
		if err := centerOf(frame, phase.color); err != nil {
			frame.Close()
			return err
		}
	}
	return frame.Close()
}

func centerOf(frame *capture.Frame, c pixel.Color) error {
	surface, err := frame.Surface()
	if err != nil {
		return err
	}
	return verify.CenterOf(surface, c)
}
