// Package gpu is the small slice of Direct3D 11 the harness needs: textures,
// an immediate context for copies, mapping and clears, and render target
// views. The Windows backend calls D3D11 through COM vtables; the software
// backend keeps textures in memory so the pipeline runs anywhere.
package gpu

import (
	"errors"
	"strconv"
)

// Format is a DXGI_FORMAT value. Only B8G8R8A8 is supported.
type Format uint32

const FormatB8G8R8A8UNorm Format = 87

func (f Format) String() string {
	if f == FormatB8G8R8A8UNorm {
		return "B8G8R8A8_UNORM"
	}
	return "DXGI_FORMAT(" + strconv.FormatUint(uint64(f), 10) + ")"
}

// Usage is a D3D11_USAGE value.
type Usage uint32

const (
	UsageDefault   Usage = 0
	UsageImmutable Usage = 1
	UsageDynamic   Usage = 2
	UsageStaging   Usage = 3
)

// BindFlags is a D3D11_BIND_FLAG mask.
type BindFlags uint32

const (
	BindShaderResource BindFlags = 0x8
	BindRenderTarget   BindFlags = 0x20
)

// CPUAccessFlags is a D3D11_CPU_ACCESS_FLAG mask.
type CPUAccessFlags uint32

const (
	CPUAccessWrite CPUAccessFlags = 0x10000
	CPUAccessRead  CPUAccessFlags = 0x20000
)

// TextureDesc matches D3D11_TEXTURE2D_DESC field for field (44 bytes).
type TextureDesc struct {
	Width          uint32
	Height         uint32
	MipLevels      uint32
	ArraySize      uint32
	Format         Format
	SampleCount    uint32
	SampleQuality  uint32
	Usage          Usage
	BindFlags      BindFlags
	CPUAccessFlags CPUAccessFlags
	MiscFlags      uint32
}

// Staging reports whether the texture can be mapped for CPU reads.
func (d TextureDesc) Staging() bool {
	return d.Usage == UsageStaging && d.CPUAccessFlags&CPUAccessRead != 0
}

// Box matches D3D11_BOX. Right, Bottom and Back are exclusive.
type Box struct {
	Left, Top, Front, Right, Bottom, Back uint32
}

// Rect is a region in capture-item coordinates.
type Rect struct {
	X, Y          int32
	Width, Height int32
}

// Box converts r to a single-slice copy box.
func (r Rect) Box() Box {
	return Box{
		Left:   uint32(r.X),
		Top:    uint32(r.Y),
		Front:  0,
		Right:  uint32(r.X + r.Width),
		Bottom: uint32(r.Y + r.Height),
		Back:   1,
	}
}

// Mapping is CPU access to a mapped staging texture. Rows start RowPitch
// bytes apart; RowPitch may exceed Width*4.
type Mapping struct {
	Data     []byte
	RowPitch uint32
}

// Device creates resources.
type Device interface {
	CreateTexture2D(desc TextureDesc) (Texture, error)
	CreateRenderTargetView(tex Texture) (RenderTarget, error)
	ImmediateContext() (Context, error)
	Close() error
}

// Texture is a 2D texture owned by a Device.
type Texture interface {
	Desc() TextureDesc
	Device() Device
	Release()
}

// RenderTarget is a render target view over a texture.
type RenderTarget interface {
	Texture() Texture
	Release()
}

// Context is a device's immediate context. Calls are not synchronized by
// callers; the software backend serializes internally.
type Context interface {
	CopyResource(dst, src Texture) error
	CopySubresourceRegion(dst Texture, dstX, dstY uint32, src Texture, box Box) error
	Map(tex Texture) (Mapping, error)
	Unmap(tex Texture)
	ClearRenderTargetView(rt RenderTarget, rgba [4]float32) error
}

var (
	ErrFormatMismatch     = errors.New("gpu: texture format is not B8G8R8A8")
	ErrNotMappable        = errors.New("gpu: texture is not a CPU-readable staging texture")
	ErrRegionOutOfBounds  = errors.New("gpu: region out of bounds")
	ErrIncompatibleCopy   = errors.New("gpu: source and destination are not copy compatible")
	ErrUnsupportedTexture = errors.New("gpu: unsupported texture description")
	ErrForeignResource    = errors.New("gpu: resource belongs to a different device")
	ErrReleased           = errors.New("gpu: resource already released")
	ErrAlreadyMapped      = errors.New("gpu: texture already mapped")
	ErrDeviceClosed       = errors.New("gpu: device closed")
	ErrNotRenderTarget    = errors.New("gpu: texture was not created with render target binding")
)
