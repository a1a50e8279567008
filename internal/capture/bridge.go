package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/breeze-rmm/wgctest/internal/gpu"
	"github.com/breeze-rmm/wgctest/internal/logging"
)

// Backpressure decides what the arrival handler does when the single
// slot already holds an undelivered frame.
type Backpressure int

const (
	// BlockProducer holds the capture thread until the consumer drains
	// the slot. No frame is ever lost.
	BlockProducer Backpressure = iota
	// DropOldest closes the undelivered frame and queues the new one.
	DropOldest
)

func (b Backpressure) String() string {
	if b == DropOldest {
		return "drop-oldest"
	}
	return "block"
}

// ParseBackpressure maps a config value to a policy.
func ParseBackpressure(s string) (Backpressure, error) {
	switch s {
	case "", "block":
		return BlockProducer, nil
	case "drop-oldest":
		return DropOldest, nil
	}
	return BlockProducer, fmt.Errorf("unknown backpressure policy %q", s)
}

const (
	framePoolDepth = 1
	frameFormat    = gpu.FormatB8G8R8A8UNorm
)

type options struct {
	cursor       bool
	backpressure Backpressure
	log          *slog.Logger
}

// Option configures a Bridge.
type Option func(*options)

// WithCursorCapture controls cursor rendering. It is applied before
// capture starts; the service ignores changes made afterwards.
func WithCursorCapture(enabled bool) Option {
	return func(o *options) { o.cursor = enabled }
}

func WithBackpressure(b Backpressure) Option {
	return func(o *options) { o.backpressure = b }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.log = l }
}

// Bridge is a started capture of one item with a blocking NextFrame.
// NextFrame has a single consumer; frames arrive on the platform's thread.
type Bridge struct {
	pool       FramePool
	session    Session
	unregister func()
	size       Size
	policy     Backpressure
	log        *slog.Logger

	frames   chan SourceFrame
	done     chan struct{}
	dropMu   sync.Mutex
	dropped  atomic.Int64
	inFlight atomic.Bool

	closeOnce sync.Once
	closed    atomic.Bool
}

// New creates a frame pool sized to the item, a session over it, and
// starts capturing. Every failure is reported as ErrCaptureUnavailable.
func New(p Platform, dev Device, item Item, opts ...Option) (*Bridge, error) {
	o := options{cursor: true, log: logging.L("capture")}
	for _, opt := range opts {
		opt(&o)
	}

	size, err := item.Size()
	if err != nil {
		return nil, fmt.Errorf("%w: item size: %w", ErrCaptureUnavailable, err)
	}

	pool, err := p.CreateFramePool(dev, frameFormat, framePoolDepth, size)
	if err != nil {
		return nil, fmt.Errorf("%w: create frame pool: %w", ErrCaptureUnavailable, err)
	}

	b := &Bridge{
		pool:   pool,
		size:   size,
		policy: o.backpressure,
		log:    o.log.With("item", item.DisplayName(), "platform", p.Name()),
		frames: make(chan SourceFrame, 1),
		done:   make(chan struct{}),
	}

	b.unregister, err = pool.OnFrameArrived(b.onFrameArrived)
	if err != nil {
		b.closePool()
		return nil, fmt.Errorf("%w: register frame handler: %w", ErrCaptureUnavailable, err)
	}

	b.session, err = pool.CreateCaptureSession(item)
	if err != nil {
		b.closePool()
		return nil, fmt.Errorf("%w: create session: %w", ErrCaptureUnavailable, err)
	}

	if !o.cursor {
		if err := b.session.SetCursorCaptureEnabled(false); err != nil {
			b.Close()
			return nil, fmt.Errorf("%w: disable cursor capture: %w", ErrCaptureUnavailable, err)
		}
	}

	if err := b.session.StartCapture(); err != nil {
		b.Close()
		return nil, fmt.Errorf("%w: start capture: %w", ErrCaptureUnavailable, err)
	}

	b.log.Debug("capture started",
		"width", size.Width, "height", size.Height,
		"cursor", o.cursor, "backpressure", o.backpressure.String())
	return b, nil
}

// Size is the frame pool size chosen at creation.
func (b *Bridge) Size() Size { return b.size }

// Dropped counts frames discarded under DropOldest.
func (b *Bridge) Dropped() int64 { return b.dropped.Load() }

// onFrameArrived runs on the capture service's thread.
func (b *Bridge) onFrameArrived() {
	frame, err := b.pool.TryGetNextFrame()
	if err != nil {
		b.log.Warn("TryGetNextFrame failed", logging.KeyError, err)
		return
	}
	if frame == nil {
		return
	}

	if b.policy == DropOldest {
		b.offerDropOldest(frame)
		return
	}

	select {
	case b.frames <- frame:
	case <-b.done:
		closeQuietly(b.log, frame)
	}
}

func (b *Bridge) offerDropOldest(frame SourceFrame) {
	b.dropMu.Lock()
	defer b.dropMu.Unlock()

	for {
		select {
		case <-b.done:
			closeQuietly(b.log, frame)
			return
		case b.frames <- frame:
			return
		default:
		}
		select {
		case old := <-b.frames:
			b.dropped.Add(1)
			closeQuietly(b.log, old)
		default:
		}
	}
}

// NextFrame blocks until a frame arrives. The previous frame must be
// closed first. ctx bounds the wait; with context.Background the wait is
// unbounded.
func (b *Bridge) NextFrame(ctx context.Context) (*Frame, error) {
	if b.closed.Load() {
		return nil, ErrBridgeClosed
	}
	if !b.inFlight.CompareAndSwap(false, true) {
		return nil, ErrFrameInFlight
	}

	select {
	case f := <-b.frames:
		return &Frame{src: f, bridge: b}, nil
	case <-b.done:
		b.inFlight.Store(false)
		return nil, ErrBridgeClosed
	case <-ctx.Done():
		b.inFlight.Store(false)
		return nil, ctx.Err()
	}
}

// Close closes the session, then the frame pool. Errors are logged.
// Frames still queued are closed; a frame held by the consumer stays
// valid until it is closed.
func (b *Bridge) Close() {
	b.closeOnce.Do(func() {
		b.closed.Store(true)
		close(b.done)

		if b.session != nil {
			if err := b.session.Close(); err != nil {
				b.log.Warn("session close failed", logging.KeyError, err)
			}
		}
		b.closePool()

		for {
			select {
			case f := <-b.frames:
				closeQuietly(b.log, f)
			default:
				b.log.Debug("capture closed", "dropped", b.dropped.Load())
				return
			}
		}
	})
}

func (b *Bridge) closePool() {
	if b.unregister != nil {
		b.unregister()
	}
	if err := b.pool.Close(); err != nil {
		b.log.Warn("frame pool close failed", logging.KeyError, err)
	}
}

func closeQuietly(l *slog.Logger, f SourceFrame) {
	if err := f.Close(); err != nil {
		l.Warn("frame close failed", logging.KeyError, err)
	}
}

// Frame is a frame handed to the consumer. Close it before asking for the
// next one.
type Frame struct {
	src    SourceFrame
	bridge *Bridge
	closed atomic.Bool
}

// Surface is the frame's GPU texture, owned by the frame and valid until
// Close. Do not release it.
func (f *Frame) Surface() (gpu.Texture, error) {
	if f.closed.Load() {
		return nil, ErrFrameClosed
	}
	return f.src.Surface()
}

// ContentSize is the item's size when the frame was produced; it may
// differ from the surface size after the item is resized.
func (f *Frame) ContentSize() Size {
	return f.src.ContentSize()
}

// Close releases the frame back to the pool. A second Close returns
// ErrFrameClosed.
func (f *Frame) Close() error {
	if !f.closed.CompareAndSwap(false, true) {
		return ErrFrameClosed
	}
	err := f.src.Close()
	f.bridge.inFlight.Store(false)
	return err
}
