// Package snapshot captures exactly one frame of an item into a
// standalone texture and tears the capture down again.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/breeze-rmm/wgctest/internal/capture"
	"github.com/breeze-rmm/wgctest/internal/gpu"
	"github.com/breeze-rmm/wgctest/internal/logging"
	"github.com/breeze-rmm/wgctest/internal/window"
)

var (
	ErrDeviceInterface = errors.New("snapshot: device interface unavailable")
	ErrSessionCreate   = errors.New("snapshot: capture session creation failed")
	ErrTextureAlloc    = errors.New("snapshot: texture allocation failed")
	ErrRegionCopy      = errors.New("snapshot: region copy failed")
)

// Options parameterize one snapshot.
type Options struct {
	// Crop is a region in capture-item coordinates. nil copies the whole frame.
	Crop *gpu.Rect
	// CPUReadable selects a staging result that can be mapped; otherwise
	// the result is a GPU texture bindable as a shader resource.
	CPUReadable bool
	// CursorEnabled leaves cursor rendering on. It is switched off before
	// capture starts when false.
	CursorEnabled bool
	// OnStarted runs once, right after capture starts and before the frame
	// is awaited. Callers commit pending scene changes here.
	OnStarted func() error
	// Backpressure for the underlying bridge.
	Backpressure capture.Backpressure
}

// Take captures one frame of item and returns a copy the caller owns.
// ctx bounds the wait for the frame.
func Take(ctx context.Context, p capture.Platform, dev gpu.Device, item capture.Item, opts Options) (gpu.Texture, error) {
	log := logging.FromContext(ctx).With(logging.KeyComponent, "snapshot")
	start := time.Now()

	captureDevice, err := p.ResolveDevice(dev)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDeviceInterface, err)
	}
	defer captureDevice.Close()

	gctx, err := dev.ImmediateContext()
	if err != nil {
		return nil, fmt.Errorf("%w: immediate context: %w", ErrDeviceInterface, err)
	}

	bridge, err := capture.New(p, captureDevice, item,
		capture.WithCursorCapture(opts.CursorEnabled),
		capture.WithBackpressure(opts.Backpressure),
		capture.WithLogger(log),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSessionCreate, err)
	}

	if opts.OnStarted != nil {
		if err := opts.OnStarted(); err != nil {
			bridge.Close()
			return nil, fmt.Errorf("%w: on started: %w", ErrSessionCreate, err)
		}
	}

	frame, err := bridge.NextFrame(ctx)
	if err != nil {
		bridge.Close()
		return nil, fmt.Errorf("wait for frame: %w", err)
	}

	// frame, then session and pool
	teardown := func() {
		if err := frame.Close(); err != nil {
			log.Warn("frame close failed", logging.KeyError, err)
		}
		bridge.Close()
	}

	result, err := copyFrame(gctx, dev, frame, opts)
	teardown()
	if err != nil {
		return nil, err
	}

	d := result.Desc()
	log.Debug("snapshot taken",
		"item", item.DisplayName(),
		"width", d.Width, "height", d.Height,
		"cpuReadable", opts.CPUReadable, "cropped", opts.Crop != nil,
		logging.KeyDurationMs, time.Since(start).Milliseconds())
	return result, nil
}

func copyFrame(gctx gpu.Context, dev gpu.Device, frame *capture.Frame, opts Options) (gpu.Texture, error) {
	surface, err := frame.Surface()
	if err != nil {
		return nil, fmt.Errorf("%w: frame surface: %w", ErrDeviceInterface, err)
	}
	srcDesc := surface.Desc()

	if opts.Crop != nil {
		if err := gpu.ValidateRect(srcDesc, *opts.Crop); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrRegionCopy, err)
		}
	}

	dst, err := dev.CreateTexture2D(gpu.DestinationDesc(srcDesc, opts.CPUReadable, opts.Crop))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTextureAlloc, err)
	}

	if opts.Crop != nil {
		err = gctx.CopySubresourceRegion(dst, 0, 0, surface, opts.Crop.Box())
	} else {
		err = gctx.CopyResource(dst, surface)
	}
	if err != nil {
		dst.Release()
		return nil, fmt.Errorf("%w: %w", ErrRegionCopy, err)
	}
	return dst, nil
}

// TakeClientArea snapshots only the client area of a window, using its
// geometry to place the crop inside the captured frame bounds.
func TakeClientArea(ctx context.Context, p capture.Platform, dev gpu.Device, item capture.Item, geom window.Geometry, opts Options) (gpu.Texture, error) {
	crop := window.ClientCrop(geom)
	opts.Crop = &crop
	return Take(ctx, p, dev, item, opts)
}
