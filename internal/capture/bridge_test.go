package capture

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/breeze-rmm/wgctest/internal/gpu"
)

// scriptedPlatform lets a test drive frame arrival by hand.
type scriptedPlatform struct {
	mu     sync.Mutex
	events []string
	pool   *scriptedPool

	failPool    error
	failSession error
	failStart   error
	failClose   error
}

func (p *scriptedPlatform) record(e string) {
	p.mu.Lock()
	p.events = append(p.events, e)
	p.mu.Unlock()
}

func (p *scriptedPlatform) Events() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.events...)
}

func (p *scriptedPlatform) Name() string { return "scripted" }

func (p *scriptedPlatform) ResolveDevice(dev gpu.Device) (Device, error) {
	return softwareDevice{}, nil
}

func (p *scriptedPlatform) CreateFramePool(dev Device, format gpu.Format, depth int, size Size) (FramePool, error) {
	if p.failPool != nil {
		return nil, p.failPool
	}
	p.record("pool.create")
	if format != gpu.FormatB8G8R8A8UNorm || depth != 1 {
		return nil, errors.New("unexpected pool parameters")
	}
	p.pool = &scriptedPool{p: p, size: size}
	return p.pool, nil
}

type scriptedPool struct {
	p       *scriptedPlatform
	size    Size
	mu      sync.Mutex
	handler func()
	ready   []SourceFrame
}

func (fp *scriptedPool) OnFrameArrived(fn func()) (func(), error) {
	fp.handler = fn
	fp.p.record("pool.handler")
	return func() { fp.p.record("pool.unregister") }, nil
}

func (fp *scriptedPool) TryGetNextFrame() (SourceFrame, error) {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	if len(fp.ready) == 0 {
		return nil, nil
	}
	f := fp.ready[0]
	fp.ready = fp.ready[1:]
	return f, nil
}

// arrive queues f and runs the handler like the capture thread would.
func (fp *scriptedPool) arrive(f *scriptedFrame) {
	fp.mu.Lock()
	fp.ready = append(fp.ready, f)
	fp.mu.Unlock()
	fp.handler()
}

func (fp *scriptedPool) CreateCaptureSession(item Item) (Session, error) {
	if fp.p.failSession != nil {
		return nil, fp.p.failSession
	}
	fp.p.record("session.create")
	return &scriptedSession{p: fp.p}, nil
}

func (fp *scriptedPool) Close() error {
	fp.p.record("pool.close")
	return fp.p.failClose
}

type scriptedSession struct {
	p *scriptedPlatform
}

func (s *scriptedSession) SetCursorCaptureEnabled(enabled bool) error {
	if enabled {
		s.p.record("session.cursor=true")
	} else {
		s.p.record("session.cursor=false")
	}
	return nil
}

func (s *scriptedSession) StartCapture() error {
	if s.p.failStart != nil {
		return s.p.failStart
	}
	s.p.record("session.start")
	return nil
}

func (s *scriptedSession) Close() error {
	s.p.record("session.close")
	return s.p.failClose
}

type scriptedFrame struct {
	id     int
	closes atomic.Int32
}

func (f *scriptedFrame) Surface() (gpu.Texture, error) { return nil, nil }
func (f *scriptedFrame) ContentSize() Size             { return Size{Width: int32(f.id)} }
func (f *scriptedFrame) Close() error {
	if f.closes.Add(1) > 1 {
		return ErrAlreadyClosed
	}
	return nil
}

type staticItem struct {
	size Size
	err  error
}

func (i staticItem) Size() (Size, error) { return i.size, i.err }
func (i staticItem) DisplayName() string { return "static" }

func newScripted(t *testing.T, opts ...Option) (*scriptedPlatform, *Bridge) {
	t.Helper()
	p := &scriptedPlatform{}
	b, err := New(p, softwareDevice{}, staticItem{size: Size{800, 600}}, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(b.Close)
	return p, b
}

func equalEvents(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestNewOrdersCursorBeforeStart(t *testing.T) {
	p, b := newScripted(t, WithCursorCapture(false))
	want := []string{"pool.create", "pool.handler", "session.create", "session.cursor=false", "session.start"}
	if got := p.Events(); !equalEvents(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	if b.Size() != (Size{800, 600}) {
		t.Fatalf("Size = %+v", b.Size())
	}
}

func TestNewLeavesCursorAloneByDefault(t *testing.T) {
	p, _ := newScripted(t)
	for _, e := range p.Events() {
		if e == "session.cursor=false" || e == "session.cursor=true" {
			t.Fatalf("cursor should not be touched by default, events = %v", p.Events())
		}
	}
}

func TestCloseOrder(t *testing.T) {
	p, b := newScripted(t)
	b.Close()
	b.Close()

	events := p.Events()
	tail := events[len(events)-3:]
	want := []string{"session.close", "pool.unregister", "pool.close"}
	if !equalEvents(tail, want) {
		t.Fatalf("teardown = %v, want %v", tail, want)
	}
	if _, err := b.NextFrame(context.Background()); !errors.Is(err, ErrBridgeClosed) {
		t.Fatalf("NextFrame after Close = %v, want ErrBridgeClosed", err)
	}
}

func TestCloseErrorsAreNotPropagated(t *testing.T) {
	p := &scriptedPlatform{failClose: errors.New("RPC_E_DISCONNECTED")}
	b, err := New(p, softwareDevice{}, staticItem{size: Size{4, 4}})
	if err != nil {
		t.Fatal(err)
	}
	b.Close() // must not panic; failures are logged
}

func TestNewFailuresAreCaptureUnavailable(t *testing.T) {
	tests := []struct {
		name string
		p    *scriptedPlatform
		item Item
	}{
		{"item closed", &scriptedPlatform{}, staticItem{err: ErrItemClosed}},
		{"pool", &scriptedPlatform{failPool: errors.New("E_INVALIDARG")}, staticItem{size: Size{4, 4}}},
		{"session", &scriptedPlatform{failSession: errors.New("E_ACCESSDENIED")}, staticItem{size: Size{4, 4}}},
		{"start", &scriptedPlatform{failStart: errors.New("E_FAIL")}, staticItem{size: Size{4, 4}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.p, softwareDevice{}, tt.item)
			if !errors.Is(err, ErrCaptureUnavailable) {
				t.Fatalf("New = %v, want ErrCaptureUnavailable", err)
			}
		})
	}
}

func TestStartFailureTearsDown(t *testing.T) {
	p := &scriptedPlatform{failStart: errors.New("E_FAIL")}
	if _, err := New(p, softwareDevice{}, staticItem{size: Size{4, 4}}); err == nil {
		t.Fatal("expected error")
	}
	events := p.Events()
	if events[len(events)-1] != "pool.close" {
		t.Fatalf("pool not closed after start failure: %v", events)
	}
}

func TestNextFrameSingleInFlight(t *testing.T) {
	p, b := newScripted(t)
	go p.pool.arrive(&scriptedFrame{id: 1})

	f, err := b.NextFrame(context.Background())
	if err != nil {
		t.Fatalf("NextFrame: %v", err)
	}
	if f.ContentSize().Width != 1 {
		t.Fatalf("got frame %d, want 1", f.ContentSize().Width)
	}
	if _, err := b.NextFrame(context.Background()); !errors.Is(err, ErrFrameInFlight) {
		t.Fatalf("NextFrame while in flight = %v, want ErrFrameInFlight", err)
	}

	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := f.Close(); !errors.Is(err, ErrFrameClosed) {
		t.Fatalf("second Close = %v, want ErrFrameClosed", err)
	}
	if _, err := f.Surface(); !errors.Is(err, ErrFrameClosed) {
		t.Fatalf("Surface after Close = %v, want ErrFrameClosed", err)
	}

	go p.pool.arrive(&scriptedFrame{id: 2})
	f2, err := b.NextFrame(context.Background())
	if err != nil {
		t.Fatalf("NextFrame after close: %v", err)
	}
	if f2.ContentSize().Width != 2 {
		t.Fatalf("got frame %d, want 2", f2.ContentSize().Width)
	}
	f2.Close()
}

func TestBlockProducerHoldsCaptureThread(t *testing.T) {
	p, b := newScripted(t)

	first := &scriptedFrame{id: 1}
	second := &scriptedFrame{id: 2}
	p.pool.arrive(first) // fills the slot without blocking

	secondDone := make(chan struct{})
	go func() {
		p.pool.arrive(second)
		close(secondDone)
	}()

	select {
	case <-secondDone:
		t.Fatal("second arrival should block while the slot is full")
	case <-time.After(50 * time.Millisecond):
	}

	f, err := b.NextFrame(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if f.ContentSize().Width != 1 {
		t.Fatalf("got frame %d, want 1", f.ContentSize().Width)
	}
	select {
	case <-secondDone:
	case <-time.After(2 * time.Second):
		t.Fatal("second arrival still blocked after the slot drained")
	}
	f.Close()

	f, err = b.NextFrame(context.Background())
	if err != nil || f.ContentSize().Width != 2 {
		t.Fatalf("NextFrame = %v, %v; want frame 2", f, err)
	}
	f.Close()
	if first.closes.Load() != 1 || second.closes.Load() != 1 {
		t.Fatal("each frame should be closed exactly once")
	}
}

func TestCloseUnblocksProducer(t *testing.T) {
	p, b := newScripted(t)
	p.pool.arrive(&scriptedFrame{id: 1})

	blocked := &scriptedFrame{id: 2}
	done := make(chan struct{})
	go func() {
		p.pool.arrive(blocked)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)

	b.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("producer still blocked after Close")
	}
	if blocked.closes.Load() != 1 {
		t.Fatalf("blocked frame closed %d times, want 1", blocked.closes.Load())
	}
}

func TestDropOldest(t *testing.T) {
	p, b := newScripted(t, WithBackpressure(DropOldest))
	first := &scriptedFrame{id: 1}
	p.pool.arrive(first)
	p.pool.arrive(&scriptedFrame{id: 2})

	if first.closes.Load() != 1 {
		t.Fatal("undelivered frame should be closed when dropped")
	}
	if b.Dropped() != 1 {
		t.Fatalf("Dropped = %d, want 1", b.Dropped())
	}
	f, err := b.NextFrame(context.Background())
	if err != nil || f.ContentSize().Width != 2 {
		t.Fatalf("NextFrame = %v, %v; want frame 2", f, err)
	}
	f.Close()
}

func TestNextFrameContext(t *testing.T) {
	_, b := newScripted(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := b.NextFrame(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("NextFrame = %v, want deadline exceeded", err)
	}
	// A timed-out wait does not leave a frame in flight.
	ctx2, cancel2 := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel2()
	if _, err := b.NextFrame(ctx2); errors.Is(err, ErrFrameInFlight) {
		t.Fatal("timed-out NextFrame left the bridge in flight")
	}
}

func TestParseBackpressure(t *testing.T) {
	for in, want := range map[string]Backpressure{"": BlockProducer, "block": BlockProducer, "drop-oldest": DropOldest} {
		got, err := ParseBackpressure(in)
		if err != nil || got != want {
			t.Errorf("ParseBackpressure(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseBackpressure("latest"); err == nil {
		t.Error("expected error for unknown policy")
	}
}
