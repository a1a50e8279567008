// Package pixel defines the 32-bit BGRA color used throughout the harness.
package pixel

import "fmt"

// Size is the number of bytes per pixel.
const Size = 4

// Color is one B8G8R8A8 pixel. Field order matches memory order.
type Color struct {
	B, G, R, A uint8
}

var (
	TransparentBlack = Color{}
	Black            = Color{A: 255}
	White            = Color{B: 255, G: 255, R: 255, A: 255}
	Red              = Color{R: 255, A: 255}
	Green            = Color{G: 255, A: 255}
	Blue             = Color{B: 255, A: 255}
)

// FromBytes reads a color from the first four bytes of b in B,G,R,A order.
func FromBytes(b []byte) Color {
	_ = b[3]
	return Color{B: b[0], G: b[1], R: b[2], A: b[3]}
}

// Put writes c into the first four bytes of b in B,G,R,A order.
func (c Color) Put(b []byte) {
	_ = b[3]
	b[0], b[1], b[2], b[3] = c.B, c.G, c.R, c.A
}

// Float returns the normalized components in R,G,B,A order, the layout
// expected by render target clears.
func (c Color) Float() [4]float32 {
	return [4]float32{
		float32(c.R) / 255,
		float32(c.G) / 255,
		float32(c.B) / 255,
		float32(c.A) / 255,
	}
}

// FromFloat converts normalized R,G,B,A components back to a color,
// rounding and clamping each channel.
func FromFloat(rgba [4]float32) Color {
	return Color{
		R: unorm8(rgba[0]),
		G: unorm8(rgba[1]),
		B: unorm8(rgba[2]),
		A: unorm8(rgba[3]),
	}
}

func unorm8(f float32) uint8 {
	switch {
	case f <= 0:
		return 0
	case f >= 1:
		return 255
	default:
		return uint8(f*255 + 0.5)
	}
}

func (c Color) String() string {
	return fmt.Sprintf("( B: %d, G: %d, R: %d, A: %d )", c.B, c.G, c.R, c.A)
}
