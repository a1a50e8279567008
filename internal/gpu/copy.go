package gpu

import "fmt"

// DestinationDesc derives the description of a standalone copy of src.
// Misc flags are always cleared. A CPU-readable copy is a staging texture
// with no bind flags; otherwise it is a default-usage texture bindable as
// a shader resource. A crop replaces the width and height.
func DestinationDesc(src TextureDesc, cpuReadable bool, crop *Rect) TextureDesc {
	desc := src
	desc.MiscFlags = 0
	if cpuReadable {
		desc.Usage = UsageStaging
		desc.BindFlags = 0
		desc.CPUAccessFlags = CPUAccessRead
	} else {
		desc.Usage = UsageDefault
		desc.BindFlags = BindShaderResource
		desc.CPUAccessFlags = 0
	}
	if crop != nil {
		desc.Width = uint32(crop.Width)
		desc.Height = uint32(crop.Height)
	}
	return desc
}

// ValidateRect checks that r is non-empty and lies within a texture of
// the given size. A rectangle flush with the right or bottom edge is valid.
func ValidateRect(desc TextureDesc, r Rect) error {
	if r.Width <= 0 || r.Height <= 0 {
		return fmt.Errorf("%w: empty rectangle %dx%d", ErrRegionOutOfBounds, r.Width, r.Height)
	}
	if r.X < 0 || r.Y < 0 ||
		int64(r.X)+int64(r.Width) > int64(desc.Width) ||
		int64(r.Y)+int64(r.Height) > int64(desc.Height) {
		return fmt.Errorf("%w: (%d,%d %dx%d) exceeds %dx%d",
			ErrRegionOutOfBounds, r.X, r.Y, r.Width, r.Height, desc.Width, desc.Height)
	}
	return nil
}

// ValidateBox checks a copy box against the source description and, when
// dst is non-nil, that the copied region fits at (dstX, dstY).
func ValidateBox(src TextureDesc, box Box, dst *TextureDesc, dstX, dstY uint32) error {
	if box.Right <= box.Left || box.Bottom <= box.Top || box.Back <= box.Front {
		return fmt.Errorf("%w: empty box %+v", ErrRegionOutOfBounds, box)
	}
	if box.Right > src.Width || box.Bottom > src.Height || box.Front != 0 || box.Back != 1 {
		return fmt.Errorf("%w: box %+v exceeds source %dx%d", ErrRegionOutOfBounds, box, src.Width, src.Height)
	}
	if dst != nil {
		w := box.Right - box.Left
		h := box.Bottom - box.Top
		if uint64(dstX)+uint64(w) > uint64(dst.Width) || uint64(dstY)+uint64(h) > uint64(dst.Height) {
			return fmt.Errorf("%w: %dx%d at (%d,%d) exceeds destination %dx%d",
				ErrRegionOutOfBounds, w, h, dstX, dstY, dst.Width, dst.Height)
		}
		if dst.Format != src.Format {
			return fmt.Errorf("%w: format %s vs %s", ErrIncompatibleCopy, dst.Format, src.Format)
		}
	}
	return nil
}

// ValidateCopy checks that CopyResource from src to dst is legal.
func ValidateCopy(dst, src TextureDesc) error {
	if dst.Width != src.Width || dst.Height != src.Height || dst.Format != src.Format {
		return fmt.Errorf("%w: %dx%d %s vs %dx%d %s", ErrIncompatibleCopy,
			dst.Width, dst.Height, dst.Format, src.Width, src.Height, src.Format)
	}
	return nil
}

// CopyTexture makes a standalone copy of src on src's device, optionally
// CPU-readable and optionally cropped. The caller releases the result.
func CopyTexture(src Texture, cpuReadable bool, crop *Rect) (Texture, error) {
	srcDesc := src.Desc()
	if crop != nil {
		if err := ValidateRect(srcDesc, *crop); err != nil {
			return nil, err
		}
	}

	dev := src.Device()
	ctx, err := dev.ImmediateContext()
	if err != nil {
		return nil, fmt.Errorf("immediate context: %w", err)
	}

	dst, err := dev.CreateTexture2D(DestinationDesc(srcDesc, cpuReadable, crop))
	if err != nil {
		return nil, fmt.Errorf("create destination texture: %w", err)
	}

	if crop != nil {
		err = ctx.CopySubresourceRegion(dst, 0, 0, src, crop.Box())
	} else {
		err = ctx.CopyResource(dst, src)
	}
	if err != nil {
		dst.Release()
		return nil, fmt.Errorf("copy texture: %w", err)
	}
	return dst, nil
}
