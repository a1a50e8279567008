package gpu

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/breeze-rmm/wgctest/internal/pixel"
)

const defaultPitchAlignment = 256

// SoftwareDevice is an in-memory Device. Row pitches are padded to an
// alignment the way GPU drivers pad staging rows, so pitch handling is
// exercised without hardware. Safe for concurrent use.
type SoftwareDevice struct {
	mu         sync.Mutex
	pitchAlign uint32
	closed     bool
	live       atomic.Int32
	ctx        *softwareContext
}

// SoftwareOption configures a SoftwareDevice.
type SoftwareOption func(*SoftwareDevice)

// WithPitchAlignment sets the row pitch alignment in bytes. 0 or 4 gives
// tightly packed rows.
func WithPitchAlignment(n uint32) SoftwareOption {
	return func(d *SoftwareDevice) { d.pitchAlign = n }
}

func NewSoftwareDevice(opts ...SoftwareOption) *SoftwareDevice {
	d := &SoftwareDevice{pitchAlign: defaultPitchAlignment}
	for _, opt := range opts {
		opt(d)
	}
	if d.pitchAlign < pixel.Size {
		d.pitchAlign = pixel.Size
	}
	d.ctx = &softwareContext{dev: d}
	return d
}

// LiveTextures is the number of created and not yet released textures.
func (d *SoftwareDevice) LiveTextures() int {
	return int(d.live.Load())
}

func (d *SoftwareDevice) CreateTexture2D(desc TextureDesc) (Texture, error) {
	if err := validateSoftwareDesc(desc); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrDeviceClosed
	}

	row := desc.Width * pixel.Size
	pitch := (row + d.pitchAlign - 1) / d.pitchAlign * d.pitchAlign
	d.live.Add(1)
	return &SoftwareTexture{
		dev:   d,
		desc:  desc,
		pitch: pitch,
		pix:   make([]byte, int(pitch)*int(desc.Height)),
	}, nil
}

func validateSoftwareDesc(desc TextureDesc) error {
	switch {
	case desc.Width == 0 || desc.Height == 0:
		return fmt.Errorf("%w: %dx%d", ErrUnsupportedTexture, desc.Width, desc.Height)
	case desc.Format != FormatB8G8R8A8UNorm:
		return fmt.Errorf("%w: format %s", ErrUnsupportedTexture, desc.Format)
	case desc.MipLevels != 1 || desc.ArraySize != 1 || desc.SampleCount != 1:
		return fmt.Errorf("%w: mips=%d array=%d samples=%d", ErrUnsupportedTexture, desc.MipLevels, desc.ArraySize, desc.SampleCount)
	case desc.Usage == UsageStaging && desc.BindFlags != 0:
		return fmt.Errorf("%w: staging textures cannot be bound", ErrUnsupportedTexture)
	case desc.Usage != UsageStaging && desc.CPUAccessFlags&CPUAccessRead != 0:
		return fmt.Errorf("%w: CPU read access requires staging usage", ErrUnsupportedTexture)
	}
	return nil
}

func (d *SoftwareDevice) CreateRenderTargetView(tex Texture) (RenderTarget, error) {
	st, err := d.own(tex)
	if err != nil {
		return nil, err
	}
	if st.desc.BindFlags&BindRenderTarget == 0 {
		return nil, ErrNotRenderTarget
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if st.released {
		return nil, ErrReleased
	}
	st.views++
	return &softwareRenderTarget{tex: st}, nil
}

func (d *SoftwareDevice) ImmediateContext() (Context, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrDeviceClosed
	}
	return d.ctx, nil
}

func (d *SoftwareDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *SoftwareDevice) own(tex Texture) (*SoftwareTexture, error) {
	st, ok := tex.(*SoftwareTexture)
	if !ok || st.dev != d {
		return nil, ErrForeignResource
	}
	return st, nil
}

// SoftwareTexture is a texture held in system memory.
type SoftwareTexture struct {
	dev      *SoftwareDevice
	desc     TextureDesc
	pitch    uint32
	pix      []byte
	mapped   bool
	views    int
	released bool
}

func (t *SoftwareTexture) Desc() TextureDesc { return t.desc }
func (t *SoftwareTexture) Device() Device    { return t.dev }

func (t *SoftwareTexture) Release() {
	t.dev.mu.Lock()
	defer t.dev.mu.Unlock()
	if t.released {
		return
	}
	t.released = true
	t.pix = nil
	t.dev.live.Add(-1)
}

// LiveViews is the number of render target views over t not yet released.
func (t *SoftwareTexture) LiveViews() int {
	t.dev.mu.Lock()
	defer t.dev.mu.Unlock()
	return t.views
}

// Draw sets every pixel to shade(x, y). Content producers render through it.
func (t *SoftwareTexture) Draw(shade func(x, y uint32) pixel.Color) error {
	t.dev.mu.Lock()
	defer t.dev.mu.Unlock()
	if t.released {
		return ErrReleased
	}
	for y := uint32(0); y < t.desc.Height; y++ {
		row := t.pix[y*t.pitch:]
		for x := uint32(0); x < t.desc.Width; x++ {
			shade(x, y).Put(row[x*pixel.Size:])
		}
	}
	return nil
}

// Pixels returns a tightly packed copy of the texture's BGRA rows.
func (t *SoftwareTexture) Pixels() ([]byte, error) {
	t.dev.mu.Lock()
	defer t.dev.mu.Unlock()
	if t.released {
		return nil, ErrReleased
	}
	row := t.desc.Width * pixel.Size
	out := make([]byte, 0, int(row)*int(t.desc.Height))
	for y := uint32(0); y < t.desc.Height; y++ {
		out = append(out, t.pix[y*t.pitch:y*t.pitch+row]...)
	}
	return out, nil
}

// At returns the pixel at (x, y) regardless of usage. Test helper for
// checking content without a staging copy.
func (t *SoftwareTexture) At(x, y uint32) pixel.Color {
	t.dev.mu.Lock()
	defer t.dev.mu.Unlock()
	if t.released || x >= t.desc.Width || y >= t.desc.Height {
		return pixel.Color{}
	}
	return pixel.FromBytes(t.pix[y*t.pitch+x*pixel.Size:])
}

type softwareRenderTarget struct {
	tex      *SoftwareTexture
	released bool
}

func (r *softwareRenderTarget) Texture() Texture { return r.tex }

func (r *softwareRenderTarget) Release() {
	r.tex.dev.mu.Lock()
	defer r.tex.dev.mu.Unlock()
	if r.released {
		return
	}
	r.released = true
	r.tex.views--
}

type softwareContext struct {
	dev *SoftwareDevice
}

func (c *softwareContext) textures(dst, src Texture) (*SoftwareTexture, *SoftwareTexture, error) {
	d, err := c.dev.own(dst)
	if err != nil {
		return nil, nil, err
	}
	s, err := c.dev.own(src)
	if err != nil {
		return nil, nil, err
	}
	if d.released || s.released {
		return nil, nil, ErrReleased
	}
	if d == s {
		return nil, nil, fmt.Errorf("%w: source and destination are the same texture", ErrIncompatibleCopy)
	}
	return d, s, nil
}

func (c *softwareContext) CopyResource(dst, src Texture) error {
	c.dev.mu.Lock()
	defer c.dev.mu.Unlock()

	d, s, err := c.textures(dst, src)
	if err != nil {
		return err
	}
	if err := ValidateCopy(d.desc, s.desc); err != nil {
		return err
	}
	copyRows(d, 0, 0, s, Box{Right: s.desc.Width, Bottom: s.desc.Height, Back: 1})
	return nil
}

func (c *softwareContext) CopySubresourceRegion(dst Texture, dstX, dstY uint32, src Texture, box Box) error {
	c.dev.mu.Lock()
	defer c.dev.mu.Unlock()

	d, s, err := c.textures(dst, src)
	if err != nil {
		return err
	}
	if err := ValidateBox(s.desc, box, &d.desc, dstX, dstY); err != nil {
		return err
	}
	copyRows(d, dstX, dstY, s, box)
	return nil
}

func copyRows(d *SoftwareTexture, dstX, dstY uint32, s *SoftwareTexture, box Box) {
	n := (box.Right - box.Left) * pixel.Size
	for y := box.Top; y < box.Bottom; y++ {
		so := y*s.pitch + box.Left*pixel.Size
		do := (dstY+y-box.Top)*d.pitch + dstX*pixel.Size
		copy(d.pix[do:do+n], s.pix[so:so+n])
	}
}

func (c *softwareContext) Map(tex Texture) (Mapping, error) {
	t, err := c.dev.own(tex)
	if err != nil {
		return Mapping{}, err
	}
	if !t.desc.Staging() {
		return Mapping{}, ErrNotMappable
	}

	c.dev.mu.Lock()
	defer c.dev.mu.Unlock()
	if t.released {
		return Mapping{}, ErrReleased
	}
	if t.mapped {
		return Mapping{}, ErrAlreadyMapped
	}
	t.mapped = true
	return Mapping{Data: t.pix, RowPitch: t.pitch}, nil
}

func (c *softwareContext) Unmap(tex Texture) {
	t, err := c.dev.own(tex)
	if err != nil {
		return
	}
	c.dev.mu.Lock()
	defer c.dev.mu.Unlock()
	t.mapped = false
}

func (c *softwareContext) ClearRenderTargetView(rt RenderTarget, rgba [4]float32) error {
	r, ok := rt.(*softwareRenderTarget)
	if !ok || r.tex.dev != c.dev {
		return ErrForeignResource
	}

	c.dev.mu.Lock()
	defer c.dev.mu.Unlock()
	if r.released || r.tex.released {
		return ErrReleased
	}
	px := pixel.FromFloat(rgba)
	t := r.tex
	for y := uint32(0); y < t.desc.Height; y++ {
		row := t.pix[y*t.pitch:]
		for x := uint32(0); x < t.desc.Width; x++ {
			px.Put(row[x*pixel.Size:])
		}
	}
	return nil
}
