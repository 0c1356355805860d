// Package fitzdoc wraps go-fitz (MuPDF) with the page-geometry and
// rasterization operations the formula pipeline needs: vector-primitive
// harvest from the SVG device output, and high-resolution region rendering.
package fitzdoc

import (
	"fmt"
	"image"
	"sync"

	"github.com/gen2brain/go-fitz"

	"github.com/brunobiangulo/texrag/geometry"
)

// Document is an open PDF. MuPDF contexts are not safe for concurrent use,
// so every call into the underlying document is serialized; callers may
// still fan out the pure geometry work per page.
type Document struct {
	mu   sync.Mutex
	doc  *fitz.Document
	path string

	// One-page render cache so several regions on the same page share a
	// single high-resolution render.
	cachedPage  int
	cachedDPI   float64
	cachedImage image.Image
}

// Open opens the PDF at path.
func Open(path string) (*Document, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	return &Document{doc: doc, path: path, cachedPage: -1}, nil
}

// Path returns the file the document was opened from.
func (d *Document) Path() string { return d.path }

// NumPages returns the page count.
func (d *Document) NumPages() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.doc.NumPage()
}

// PageSize returns the page dimensions in points.
func (d *Document) PageSize(pageIndex int) (w, h float64, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pageSizeLocked(pageIndex)
}

func (d *Document) pageSizeLocked(pageIndex int) (float64, float64, error) {
	bounds, err := d.doc.Bound(pageIndex)
	if err != nil {
		return 0, 0, fmt.Errorf("page %d bounds: %w", pageIndex, err)
	}
	return float64(bounds.Dx()), float64(bounds.Dy()), nil
}

// Page extracts the page's vector drawing primitives via the MuPDF SVG
// device. Glyphs, embedded images and defs are skipped: only drawn paths
// count as primitives.
func (d *Document) Page(pageIndex int) (geometry.Page, error) {
	d.mu.Lock()
	w, h, err := d.pageSizeLocked(pageIndex)
	if err != nil {
		d.mu.Unlock()
		return geometry.Page{}, err
	}
	svg, err := d.doc.SVG(pageIndex)
	d.mu.Unlock()
	if err != nil {
		return geometry.Page{}, fmt.Errorf("page %d svg: %w", pageIndex, err)
	}

	prims, err := parsePrimitives(svg)
	if err != nil {
		return geometry.Page{}, fmt.Errorf("page %d primitives: %w", pageIndex, err)
	}
	return geometry.Page{Index: pageIndex, Width: w, Height: h, Primitives: prims}, nil
}

// Close releases the underlying document.
func (d *Document) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cachedImage = nil
	return d.doc.Close()
}
