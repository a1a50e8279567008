// Package artifact turns failing textures into PNG files and ships them to
// a storage sink.
package artifact

import (
	"bytes"
	"fmt"
	"image"
	"image/png"

	"github.com/corona10/goimagehash"

	"github.com/breeze-rmm/wgctest/internal/gpu"
	"github.com/breeze-rmm/wgctest/internal/pixel"
)

// Image reads tex into an RGBA image. BGRA rows are repacked tightly and
// alpha is kept as captured, which for composed content is premultiplied.
// Textures that are not CPU readable are copied to a staging texture first.
func Image(tex gpu.Texture) (*image.RGBA, error) {
	src := tex
	if !tex.Desc().Staging() {
		staging, err := gpu.CopyTexture(tex, true, nil)
		if err != nil {
			return nil, fmt.Errorf("staging copy: %w", err)
		}
		defer staging.Release()
		src = staging
	}

	mapped, err := gpu.Map(src)
	if err != nil {
		return nil, err
	}
	defer mapped.Close()

	w, h := mapped.Width(), mapped.Height()
	img := image.NewRGBA(image.Rect(0, 0, int(w), int(h)))
	for y := uint32(0); y < h; y++ {
		row := mapped.Row(y)
		out := img.Pix[int(y)*img.Stride:]
		for x := uint32(0); x < w; x++ {
			c := pixel.FromBytes(row[x*pixel.Size:])
			o := out[x*4:]
			o[0], o[1], o[2], o[3] = c.R, c.G, c.B, c.A
		}
	}
	return img, nil
}

// EncodePNG encodes an image as PNG (lossless).
func EncodePNG(img image.Image) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := png.Encode(buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// PerceptualHash returns the pHash of img in goimagehash's string form.
// Reports use it to group failures that look alike.
func PerceptualHash(img image.Image) (string, error) {
	hash, err := goimagehash.PerceptionHash(img)
	if err != nil {
		return "", err
	}
	return hash.ToString(), nil
}
