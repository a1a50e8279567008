package gpu

import (
	"fmt"

	"github.com/breeze-rmm/wgctest/internal/pixel"
)

// MappedTexture is a scoped CPU view of a staging texture. Close unmaps it
// exactly once.
type MappedTexture struct {
	ctx      Context
	tex      Texture
	desc     TextureDesc
	data     []byte
	rowPitch uint32
	closed   bool
}

// Map maps tex for reading through its device's immediate context.
func Map(tex Texture) (*MappedTexture, error) {
	desc := tex.Desc()
	if desc.Format != FormatB8G8R8A8UNorm {
		return nil, fmt.Errorf("%w: got %s", ErrFormatMismatch, desc.Format)
	}
	if !desc.Staging() {
		return nil, fmt.Errorf("%w: usage=%d cpuAccess=0x%X", ErrNotMappable, desc.Usage, uint32(desc.CPUAccessFlags))
	}

	ctx, err := tex.Device().ImmediateContext()
	if err != nil {
		return nil, fmt.Errorf("immediate context: %w", err)
	}
	m, err := ctx.Map(tex)
	if err != nil {
		return nil, fmt.Errorf("map texture: %w", err)
	}
	if m.RowPitch < desc.Width*pixel.Size {
		ctx.Unmap(tex)
		return nil, fmt.Errorf("map texture: row pitch %d smaller than row %d", m.RowPitch, desc.Width*pixel.Size)
	}

	return &MappedTexture{
		ctx:      ctx,
		tex:      tex,
		desc:     desc,
		data:     m.Data,
		rowPitch: m.RowPitch,
	}, nil
}

func (m *MappedTexture) Width() uint32    { return m.desc.Width }
func (m *MappedTexture) Height() uint32   { return m.desc.Height }
func (m *MappedTexture) RowPitch() uint32 { return m.rowPitch }

// ReadPixel returns the color at (x, y). ok is false when the point lies
// outside the texture or the view is closed.
func (m *MappedTexture) ReadPixel(x, y uint32) (c pixel.Color, ok bool) {
	if m.closed || x >= m.desc.Width || y >= m.desc.Height {
		return pixel.Color{}, false
	}
	off := uint64(m.rowPitch)*uint64(y) + uint64(x)*pixel.Size
	if off+pixel.Size > uint64(len(m.data)) {
		return pixel.Color{}, false
	}
	return pixel.FromBytes(m.data[off:]), true
}

// Row returns the Width*4 meaningful bytes of row y, without pitch padding.
// The slice aliases mapped memory and is invalid after Close.
func (m *MappedTexture) Row(y uint32) []byte {
	if m.closed || y >= m.desc.Height {
		return nil
	}
	start := uint64(m.rowPitch) * uint64(y)
	return m.data[start : start+uint64(m.desc.Width)*pixel.Size]
}

// Close unmaps the texture. Subsequent calls are no-ops.
func (m *MappedTexture) Close() {
	if m.closed {
		return
	}
	m.closed = true
	m.data = nil
	m.ctx.Unmap(m.tex)
}
