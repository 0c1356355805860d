// Package formula detects vector-drawn formula regions in a PDF and
// prepares them for the marker pipeline: geometry clustering per page,
// classification, high-resolution rasterization, and candidate id
// assignment in reading order.
package formula

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/brunobiangulo/texrag/fitzdoc"
	"github.com/brunobiangulo/texrag/geometry"
	"github.com/brunobiangulo/texrag/marker"
)

// RejectBlank marks regions whose rendered crop is page background.
// The other reject reasons come from the geometry classifier.
const RejectBlank = "blank"

// blankColorLimit is the distinct-color threshold below which a crop is
// considered empty. Anti-aliased glyph edges alone push past this.
const blankColorLimit = 3

// probePages is how many leading pages the pre-flight probe samples.
const probePages = 3

// defaultConcurrency bounds the parallel per-page geometry passes.
const defaultConcurrency = 4

// Candidate is an accepted formula region with its rendered crop.
type Candidate struct {
	ID        int
	Token     string
	PageIndex int
	BBox      geometry.Rect
	ImagePath string
	Image     []byte
}

// Rejection records a clustered region the classifier or the blank check
// filtered out, for the processing summary.
type Rejection struct {
	PageIndex int
	BBox      geometry.Rect
	Reason    string
}

// Result is the outcome of a detection pass over a whole document.
type Result struct {
	Candidates []Candidate
	Rejections []Rejection
	// Regions mirrors Candidates in injector form.
	Regions []marker.Region
}

// Extractor runs detection for one or more documents. The zero value is
// not usable; construct with NewExtractor.
type Extractor struct {
	Cluster     geometry.Config
	Classify    geometry.ClassifyConfig
	Raster      fitzdoc.RasterConfig
	Contract    marker.Contract
	Concurrency int

	// WorkDir is the staging root; crops land under
	// <WorkDir>/<doc-stem>/formulas/formula_NNNN.png.
	WorkDir string
}

// NewExtractor returns an Extractor with the default pipeline settings.
func NewExtractor(workDir string) *Extractor {
	return &Extractor{
		Cluster:     geometry.DefaultConfig(),
		Classify:    geometry.DefaultClassifyConfig(),
		Raster:      fitzdoc.DefaultRasterConfig(),
		Contract:    marker.DefaultContract(),
		Concurrency: defaultConcurrency,
		WorkDir:     workDir,
	}
}

// HasVectorFormulas samples the first few pages and reports whether any
// cluster survives classification. Documents without vector formulas skip
// the marker pipeline entirely.
func (e *Extractor) HasVectorFormulas(doc *fitzdoc.Document) bool {
	n := doc.NumPages()
	if n > probePages {
		n = probePages
	}
	for i := 0; i < n; i++ {
		page, err := doc.Page(i)
		if err != nil {
			slog.Warn("formula: probe page failed", "page", i, "error", err)
			continue
		}
		for _, c := range geometry.ClusterPage(page, e.Cluster) {
			if geometry.Classify(c, page, e.Classify).Accept {
				return true
			}
		}
	}
	return false
}

type pageResult struct {
	page     geometry.Page
	accepted []geometry.Cluster
	rejected []Rejection
	err      error
}

// Extract runs the full detection pass: clustering and classification fan
// out across pages, then rasterization and id assignment run sequentially
// in reading order so ids are deterministic for a given document.
func (e *Extractor) Extract(ctx context.Context, doc *fitzdoc.Document, counter *marker.Counter) (*Result, error) {
	numPages := doc.NumPages()
	if numPages == 0 {
		return &Result{}, nil
	}

	concurrency := e.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	start := time.Now()
	results := make([]pageResult, numPages)

	var wg sync.WaitGroup
	sem := make(chan struct{}, concurrency)
	for i := 0; i < numPages; i++ {
		wg.Add(1)
		go func(pageIndex int) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[pageIndex].err = ctx.Err()
				return
			}
			results[pageIndex] = e.detectPage(doc, pageIndex)
		}(i)
	}
	wg.Wait()

	res := &Result{}
	var pageErrs int
	for i := range results {
		pr := &results[i]
		if pr.err != nil {
			pageErrs++
			slog.Warn("formula: page detection failed", "page", i, "error", pr.err)
			continue
		}
		res.Rejections = append(res.Rejections, pr.rejected...)
		for _, cluster := range pr.accepted {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			cand, blank, err := e.finalize(doc, pr.page, cluster, counter)
			if err != nil {
				slog.Warn("formula: rasterization failed",
					"page", i, "bbox", cluster.BBox, "error", err)
				res.Rejections = append(res.Rejections, Rejection{
					PageIndex: i, BBox: cluster.BBox, Reason: "raster-error",
				})
				continue
			}
			if blank {
				res.Rejections = append(res.Rejections, Rejection{
					PageIndex: i, BBox: cluster.BBox, Reason: RejectBlank,
				})
				continue
			}
			res.Candidates = append(res.Candidates, cand)
			res.Regions = append(res.Regions, marker.Region{
				PageIndex:  cand.PageIndex,
				PageHeight: pr.page.Height,
				BBox:       cand.BBox,
				Token:      cand.Token,
			})
		}
	}

	if pageErrs == numPages {
		return nil, fmt.Errorf("formula: all %d pages failed detection", numPages)
	}

	slog.Info("formula: detection complete",
		"file", filepath.Base(doc.Path()),
		"pages", numPages,
		"candidates", len(res.Candidates),
		"rejected", len(res.Rejections),
		"elapsed", time.Since(start).Round(time.Millisecond))
	return res, nil
}

func (e *Extractor) detectPage(doc *fitzdoc.Document, pageIndex int) pageResult {
	page, err := doc.Page(pageIndex)
	if err != nil {
		return pageResult{err: err}
	}
	pr := pageResult{page: page}
	for _, c := range geometry.ClusterPage(page, e.Cluster) {
		v := geometry.Classify(c, page, e.Classify)
		if v.Accept {
			pr.accepted = append(pr.accepted, c)
		} else {
			pr.rejected = append(pr.rejected, Rejection{
				PageIndex: pageIndex, BBox: c.BBox, Reason: v.Reason,
			})
		}
	}
	return pr
}

// finalize rasterizes one accepted cluster, runs the blank check, assigns
// the candidate id and writes the crop artifact. The counter is only
// advanced for non-blank regions so ids stay dense.
func (e *Extractor) finalize(doc *fitzdoc.Document, page geometry.Page, cluster geometry.Cluster, counter *marker.Counter) (Candidate, bool, error) {
	img, err := doc.RasterizeRegion(page.Index, cluster.BBox, e.Raster)
	if err != nil {
		return Candidate{}, false, err
	}

	colors, err := fitzdoc.ColorCount(img, blankColorLimit)
	if err != nil {
		return Candidate{}, false, err
	}
	if colors < blankColorLimit {
		return Candidate{}, true, nil
	}

	id := counter.Next()
	cand := Candidate{
		ID:        id,
		Token:     e.Contract.Format(id),
		PageIndex: page.Index,
		BBox:      cluster.BBox,
		Image:     img,
	}

	if e.WorkDir != "" {
		dir := filepath.Join(e.WorkDir, docStem(doc.Path()), "formulas")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return Candidate{}, false, fmt.Errorf("staging dir: %w", err)
		}
		cand.ImagePath = filepath.Join(dir, fmt.Sprintf("formula_%04d.png", id))
		if err := os.WriteFile(cand.ImagePath, img, 0o644); err != nil {
			return Candidate{}, false, fmt.Errorf("writing crop: %w", err)
		}
	}
	return cand, false, nil
}

// docStem is the document filename without extension, used to key staging
// directories so distinct documents never collide.
func docStem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
