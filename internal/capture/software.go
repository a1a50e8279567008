package capture

import (
	"fmt"
	"sync"

	"github.com/breeze-rmm/wgctest/internal/gpu"
	"github.com/breeze-rmm/wgctest/internal/logging"
)

var swlog = logging.L("capture.software")

// SoftwareSource is an item the software capture service can compose.
type SoftwareSource interface {
	Item
	// Compose draws the current content into dst, which has the frame
	// pool's size. It returns false when nothing has been composed yet.
	Compose(dst *gpu.SoftwareTexture, cursor bool) (Size, bool, error)
	// Watch calls fn whenever composed content changes.
	Watch(fn func()) (cancel func())
}

// SoftwarePlatform is an in-process capture service over gpu.SoftwareDevice.
// Each frame pool runs its own producer goroutine, standing in for the
// service's capture thread.
type SoftwarePlatform struct{}

func NewSoftwarePlatform() *SoftwarePlatform { return &SoftwarePlatform{} }

func (p *SoftwarePlatform) Name() string { return "software" }

type softwareDevice struct {
	dev *gpu.SoftwareDevice
}

func (d softwareDevice) GPU() gpu.Device { return d.dev }
func (d softwareDevice) Close() error    { return nil }

func (p *SoftwarePlatform) ResolveDevice(dev gpu.Device) (Device, error) {
	sd, ok := dev.(*gpu.SoftwareDevice)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrDeviceMismatch, dev)
	}
	return softwareDevice{dev: sd}, nil
}

func (p *SoftwarePlatform) CreateFramePool(dev Device, format gpu.Format, depth int, size Size) (FramePool, error) {
	sd, ok := dev.(softwareDevice)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrDeviceMismatch, dev)
	}
	if format != gpu.FormatB8G8R8A8UNorm {
		return nil, fmt.Errorf("%w: frame pool format %s", gpu.ErrFormatMismatch, format)
	}
	if depth < 1 {
		return nil, fmt.Errorf("invalid frame pool depth %d", depth)
	}
	if size.Width <= 0 || size.Height <= 0 {
		return nil, fmt.Errorf("invalid frame pool size %dx%d", size.Width, size.Height)
	}

	fp := &softwarePool{
		dev:    sd.dev,
		size:   size,
		free:   depth,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	go fp.produce()
	return fp, nil
}

type softwarePool struct {
	dev  *gpu.SoftwareDevice
	size Size

	mu      sync.Mutex
	handler func()
	ready   []*softwareFrame
	free    int
	dirty   bool
	session *softwareSession
	closed  bool

	wake   chan struct{}
	done   chan struct{}
	exited chan struct{}
}

func (fp *softwarePool) signal() {
	select {
	case fp.wake <- struct{}{}:
	default:
	}
}

// invalidate marks content as changed; a frame follows as soon as a
// buffer is free.
func (fp *softwarePool) invalidate() {
	fp.mu.Lock()
	fp.dirty = true
	fp.mu.Unlock()
	fp.signal()
}

func (fp *softwarePool) OnFrameArrived(fn func()) (func(), error) {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	if fp.closed {
		return nil, ErrAlreadyClosed
	}
	if fp.handler != nil {
		return nil, fmt.Errorf("frame arrived handler already registered")
	}
	fp.handler = fn
	return func() {
		fp.mu.Lock()
		fp.handler = nil
		fp.mu.Unlock()
	}, nil
}

func (fp *softwarePool) TryGetNextFrame() (SourceFrame, error) {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	if fp.closed {
		return nil, ErrAlreadyClosed
	}
	if len(fp.ready) == 0 {
		return nil, nil
	}
	f := fp.ready[0]
	fp.ready = fp.ready[1:]
	return f, nil
}

func (fp *softwarePool) CreateCaptureSession(item Item) (Session, error) {
	src, ok := item.(SoftwareSource)
	if !ok {
		return nil, fmt.Errorf("item %q cannot be captured by the software service", item.DisplayName())
	}
	if _, err := src.Size(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrItemClosed, err)
	}

	fp.mu.Lock()
	defer fp.mu.Unlock()
	if fp.closed {
		return nil, ErrAlreadyClosed
	}
	if fp.session != nil {
		return nil, fmt.Errorf("frame pool already has a session")
	}
	s := &softwareSession{pool: fp, src: src, cursor: true}
	fp.session = s
	return s, nil
}

func (fp *softwarePool) Close() error {
	fp.mu.Lock()
	if fp.closed {
		fp.mu.Unlock()
		return ErrAlreadyClosed
	}
	fp.closed = true
	ready := fp.ready
	fp.ready = nil
	fp.mu.Unlock()

	close(fp.done)
	<-fp.exited
	for _, f := range ready {
		f.release()
	}
	return nil
}

// claim reserves a buffer for the next frame. ok is false when no frame
// should be produced now.
func (fp *softwarePool) claim() (src SoftwareSource, cursor bool, ok bool) {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	s := fp.session
	if fp.closed || s == nil || !s.started || s.stopped || !fp.dirty || fp.free == 0 {
		return nil, false, false
	}
	fp.dirty = false
	fp.free--
	return s.src, s.cursor, true
}

func (fp *softwarePool) produce() {
	defer close(fp.exited)
	for {
		select {
		case <-fp.done:
			return
		case <-fp.wake:
		}

		for {
			src, cursor, ok := fp.claim()
			if !ok {
				break
			}
			fp.deliver(src, cursor)
		}
	}
}

func (fp *softwarePool) deliver(src SoftwareSource, cursor bool) {
	tex, err := fp.dev.CreateTexture2D(gpu.TextureDesc{
		Width:       uint32(fp.size.Width),
		Height:      uint32(fp.size.Height),
		MipLevels:   1,
		ArraySize:   1,
		Format:      gpu.FormatB8G8R8A8UNorm,
		SampleCount: 1,
		Usage:       gpu.UsageDefault,
		BindFlags:   gpu.BindShaderResource,
	})
	if err != nil {
		swlog.Warn("frame buffer allocation failed", logging.KeyError, err)
		fp.returnBuffer(false)
		return
	}

	content, composed, err := src.Compose(tex.(*gpu.SoftwareTexture), cursor)
	if err != nil || !composed {
		if err != nil {
			swlog.Warn("compose failed", "item", src.DisplayName(), logging.KeyError, err)
		}
		tex.Release()
		fp.returnBuffer(false)
		return
	}

	f := &softwareFrame{pool: fp, tex: tex, content: content}
	fp.mu.Lock()
	if fp.closed {
		fp.mu.Unlock()
		f.release()
		return
	}
	fp.ready = append(fp.ready, f)
	handler := fp.handler
	fp.mu.Unlock()

	if handler != nil {
		handler()
	}
}

// returnBuffer frees a buffer and, if content changed meanwhile, wakes
// the producer.
func (fp *softwarePool) returnBuffer(wake bool) {
	fp.mu.Lock()
	fp.free++
	pending := fp.dirty
	fp.mu.Unlock()
	if wake && pending {
		fp.signal()
	}
}

type softwareSession struct {
	pool    *softwarePool
	src     SoftwareSource
	cursor  bool
	started bool
	stopped bool
	cancel  func()
}

func (s *softwareSession) SetCursorCaptureEnabled(enabled bool) error {
	s.pool.mu.Lock()
	defer s.pool.mu.Unlock()
	if s.stopped {
		return ErrAlreadyClosed
	}
	if s.started {
		swlog.Debug("cursor capture change after start ignored", "enabled", enabled)
		return nil
	}
	s.cursor = enabled
	return nil
}

func (s *softwareSession) StartCapture() error {
	fp := s.pool
	fp.mu.Lock()
	if s.stopped {
		fp.mu.Unlock()
		return ErrAlreadyClosed
	}
	if s.started {
		fp.mu.Unlock()
		return ErrAlreadyStarted
	}
	if _, err := s.src.Size(); err != nil {
		fp.mu.Unlock()
		return fmt.Errorf("%w: %w", ErrItemClosed, err)
	}
	s.started = true
	fp.mu.Unlock()

	cancel := s.src.Watch(fp.invalidate)
	fp.mu.Lock()
	s.cancel = cancel
	fp.mu.Unlock()

	fp.invalidate()
	return nil
}

func (s *softwareSession) Close() error {
	fp := s.pool
	fp.mu.Lock()
	if s.stopped {
		fp.mu.Unlock()
		return ErrAlreadyClosed
	}
	s.stopped = true
	cancel := s.cancel
	fp.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return nil
}

type softwareFrame struct {
	pool    *softwarePool
	tex     gpu.Texture
	content Size
	mu      sync.Mutex
	closed  bool
}

func (f *softwareFrame) Surface() (gpu.Texture, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, ErrAlreadyClosed
	}
	return f.tex, nil
}

func (f *softwareFrame) ContentSize() Size { return f.content }

func (f *softwareFrame) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrAlreadyClosed
	}
	f.closed = true
	f.mu.Unlock()

	f.tex.Release()
	f.pool.returnBuffer(true)
	return nil
}

// release frees a frame that never reached a consumer.
func (f *softwareFrame) release() {
	_ = f.Close()
}
