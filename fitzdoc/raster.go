package fitzdoc

import (
	"bytes"
	"fmt"
	"image"
	"image/png"

	"github.com/brunobiangulo/texrag/geometry"
)

// RasterConfig controls region rendering.
type RasterConfig struct {
	// Scale multiplies the base 72 DPI render resolution. Formula crops
	// are small, so a high scale keeps glyph detail for the vision model.
	Scale float64
	// Margin is padding in page points added around the region before
	// cropping, so strokes on the boundary are not clipped.
	Margin float64
	// MaxDim caps the longer side of the rendered crop in pixels; the
	// scale is reduced for regions that would exceed it.
	MaxDim int
}

// DefaultRasterConfig returns the settings the extraction pipeline uses.
func DefaultRasterConfig() RasterConfig {
	return RasterConfig{Scale: 4, Margin: 3, MaxDim: 4096}
}

// effectiveScale lowers Scale just enough for oversized regions so the
// cropped output stays within MaxDim.
func (c RasterConfig) effectiveScale(bbox geometry.Rect) float64 {
	scale := c.Scale
	if scale <= 0 {
		scale = 1
	}
	if c.MaxDim <= 0 {
		return scale
	}
	side := bbox.Width() + 2*c.Margin
	if h := bbox.Height() + 2*c.Margin; h > side {
		side = h
	}
	if side <= 0 {
		return scale
	}
	if side*scale > float64(c.MaxDim) {
		scale = float64(c.MaxDim) / side
	}
	if scale < 1 {
		scale = 1
	}
	return scale
}

// regionPixelRect maps a page-space region, padded by margin, into the
// pixel space of a render at the given scale, clamped to the render bounds.
func regionPixelRect(bbox geometry.Rect, margin, scale float64, bounds image.Rectangle) image.Rectangle {
	r := image.Rect(
		int((bbox.X0-margin)*scale),
		int((bbox.Y0-margin)*scale),
		int((bbox.X1+margin)*scale+0.5),
		int((bbox.Y1+margin)*scale+0.5),
	)
	return r.Intersect(bounds)
}

type subImager interface {
	SubImage(image.Rectangle) image.Image
}

// RasterizeRegion renders the region of a page as PNG bytes. The whole page
// is rendered once and cached, so successive regions on the same page reuse
// the render.
func (d *Document) RasterizeRegion(pageIndex int, bbox geometry.Rect, cfg RasterConfig) ([]byte, error) {
	scale := cfg.effectiveScale(bbox)
	dpi := 72 * scale

	d.mu.Lock()
	img := d.cachedImage
	if img == nil || d.cachedPage != pageIndex || d.cachedDPI != dpi {
		rendered, err := d.doc.ImageDPI(pageIndex, dpi)
		if err != nil {
			d.mu.Unlock()
			return nil, fmt.Errorf("page %d render: %w", pageIndex, err)
		}
		img = rendered
		d.cachedPage = pageIndex
		d.cachedDPI = dpi
		d.cachedImage = img
	}
	d.mu.Unlock()

	rect := regionPixelRect(bbox, cfg.Margin, scale, img.Bounds())
	if rect.Empty() {
		return nil, fmt.Errorf("page %d region %v: empty after clamping", pageIndex, bbox)
	}

	si, ok := img.(subImager)
	if !ok {
		return nil, fmt.Errorf("page %d render: %T does not support cropping", pageIndex, img)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, si.SubImage(rect)); err != nil {
		return nil, fmt.Errorf("page %d region encode: %w", pageIndex, err)
	}
	return buf.Bytes(), nil
}

// ColorCount decodes a PNG and counts its distinct colors, stopping once
// limit is reached. A crop with fewer than a handful of colors is blank
// page background, not a formula.
func ColorCount(pngData []byte, limit int) (int, error) {
	img, err := png.Decode(bytes.NewReader(pngData))
	if err != nil {
		return 0, fmt.Errorf("decoding raster: %w", err)
	}
	seen := make(map[[4]uint32]struct{}, limit)
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, a := img.At(x, y).RGBA()
			seen[[4]uint32{r, g, bl, a}] = struct{}{}
			if len(seen) >= limit {
				return len(seen), nil
			}
		}
	}
	return len(seen), nil
}
