// Package verify compares captured pixels against expected colors and
// turns mismatches into errors that carry the offending texture.
package verify

import (
	"errors"
	"fmt"
	"strings"

	"github.com/breeze-rmm/wgctest/internal/gpu"
	"github.com/breeze-rmm/wgctest/internal/pixel"
)

var ErrPointOutOfBounds = errors.New("verify: point outside texture")

// Outcome is the result of one color comparison.
type Outcome struct {
	Passed   bool
	Actual   pixel.Color
	Expected pixel.Color
}

// CheckColor compares all four channels exactly.
func CheckColor(actual, expected pixel.Color) Outcome {
	return Outcome{Passed: actual == expected, Actual: actual, Expected: expected}
}

// Message describes a failed comparison. It is empty for a pass.
func (o Outcome) Message() string {
	if o.Passed {
		return ""
	}
	return fmt.Sprintf("Color comparison failed!\n  Actual: %s\n  Expected: %s\n", o.Actual, o.Expected)
}

// Resolve returns nil for a pass and a *TextureError holding tex otherwise.
// The caller keeps ownership of tex.
func (o Outcome) Resolve(tex gpu.Texture) error {
	if o.Passed {
		return nil
	}
	return &TextureError{Message: o.Message(), Texture: tex}
}

// TextureError is a verification failure. Texture produced the wrong
// pixels and is kept alive so it can be exported.
type TextureError struct {
	Message string
	Texture gpu.Texture
	owned   bool
}

func (e *TextureError) Error() string { return e.Message }

// Release frees Texture if the error owns it.
func (e *TextureError) Release() {
	if e.owned && e.Texture != nil {
		e.Texture.Release()
		e.Texture = nil
	}
}

// IsTextureError reports whether err is, or wraps, a *TextureError.
func IsTextureError(err error) (*TextureError, bool) {
	var te *TextureError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}

// CenterOf checks the pixel at the center of tex.
func CenterOf(tex gpu.Texture, expected pixel.Color) error {
	d := tex.Desc()
	return AtPoint(tex, expected, d.Width/2, d.Height/2)
}

// AtPoint copies tex into a CPU-readable texture, reads (x, y) and checks
// it. On mismatch the returned *TextureError owns the copy.
func AtPoint(tex gpu.Texture, expected pixel.Color, x, y uint32) error {
	d := tex.Desc()
	if x >= d.Width || y >= d.Height {
		return fmt.Errorf("%w: (%d, %d) in %dx%d", ErrPointOutOfBounds, x, y, d.Width, d.Height)
	}

	staging, err := gpu.CopyTexture(tex, true, nil)
	if err != nil {
		return fmt.Errorf("staging copy: %w", err)
	}
	mapped, err := gpu.Map(staging)
	if err != nil {
		staging.Release()
		return err
	}
	actual, ok := mapped.ReadPixel(x, y)
	mapped.Close()
	if !ok {
		staging.Release()
		return fmt.Errorf("%w: (%d, %d)", ErrPointOutOfBounds, x, y)
	}

	if err := CheckColor(actual, expected).Resolve(staging); err != nil {
		te := err.(*TextureError)
		te.owned = true
		return te
	}
	staging.Release()
	return nil
}

// Expect is one expected pixel.
type Expect struct {
	X, Y  uint32
	Color pixel.Color
}

// Pixels maps a CPU-readable tex and checks every expectation. It consumes
// tex: a failed comparison hands it to the returned *TextureError, any
// other outcome releases it.
func Pixels(tex gpu.Texture, expects ...Expect) error {
	mapped, err := gpu.Map(tex)
	if err != nil {
		tex.Release()
		return err
	}

	var failures []string
	for _, e := range expects {
		actual, ok := mapped.ReadPixel(e.X, e.Y)
		if !ok {
			mapped.Close()
			tex.Release()
			return fmt.Errorf("%w: (%d, %d)", ErrPointOutOfBounds, e.X, e.Y)
		}
		if o := CheckColor(actual, e.Color); !o.Passed {
			failures = append(failures, fmt.Sprintf("at (%d, %d): %s", e.X, e.Y, o.Message()))
		}
	}
	mapped.Close()

	if len(failures) == 0 {
		tex.Release()
		return nil
	}
	return &TextureError{Message: strings.Join(failures, ""), Texture: tex, owned: true}
}
