package geometry

// Rejection reasons recorded on filtered clusters. These end up in the
// per-document resolution report, so they are stable strings rather than
// error values.
const (
	RejectHeaderFooter = "header-footer"
	RejectTooSmall     = "too-small"
	RejectWholePage    = "whole-page"
	RejectRule         = "rule"
	RejectTableLike    = "table-like"
	RejectSparse       = "sparse"
)

// ClassifyConfig holds the deterministic thresholds of the formula filter.
// Borderline clusters are resolved by these thresholds, never by error.
type ClassifyConfig struct {
	// HeaderFooterBand is the height in points of the top and bottom page
	// bands treated as header/footer territory.
	HeaderFooterBand float64

	// MinWidth and MinHeight reject stray marks below formula size.
	MinWidth  float64
	MinHeight float64

	// WholePageFrac rejects clusters covering nearly the whole page in
	// both dimensions (page borders, background art).
	WholePageFrac float64

	// RuleMinPrimitives is the primitive count below which a full-width
	// cluster is treated as a horizontal rule rather than a displayed
	// equation. A wide short cluster may legitimately be a formula; only
	// density distinguishes it from a table rule.
	RuleMinPrimitives int

	// MinPrimitives rejects clusters with too few members to be a drawn
	// formula.
	MinPrimitives int

	// TableGridStrokes is the number of long horizontal and long vertical
	// strokes that together mark a cluster as a table grid.
	TableGridStrokes int
}

// DefaultClassifyConfig returns the filter thresholds used by the pipeline.
func DefaultClassifyConfig() ClassifyConfig {
	return ClassifyConfig{
		HeaderFooterBand:  70,
		MinWidth:          30,
		MinHeight:         10,
		WholePageFrac:     0.9,
		RuleMinPrimitives: 8,
		MinPrimitives:     3,
		TableGridStrokes:  3,
	}
}

// Verdict is the outcome of classifying one cluster.
type Verdict struct {
	Accept bool
	Reason string // rejection reason, empty when accepted
}

// Classify decides whether a cluster looks like a vector-drawn formula.
// Mis-classification is not fatal downstream: a missed formula falls
// through to the structural parser, a false positive wastes one
// rasterization and vision call.
func Classify(c Cluster, page Page, cfg ClassifyConfig) Verdict {
	bb := c.BBox

	if c.PrimitiveCount() < cfg.MinPrimitives {
		return Verdict{Reason: RejectSparse}
	}
	if bb.Width() < cfg.MinWidth || bb.Height() < cfg.MinHeight {
		return Verdict{Reason: RejectTooSmall}
	}
	if bb.Y1 < cfg.HeaderFooterBand || bb.Y0 > page.Height-cfg.HeaderFooterBand {
		return Verdict{Reason: RejectHeaderFooter}
	}
	if bb.Width() > cfg.WholePageFrac*page.Width && bb.Height() > cfg.WholePageFrac*page.Height {
		return Verdict{Reason: RejectWholePage}
	}
	if bb.Width() > cfg.WholePageFrac*page.Width && c.PrimitiveCount() < cfg.RuleMinPrimitives {
		return Verdict{Reason: RejectRule}
	}
	if isTableGrid(c, page, cfg) {
		return Verdict{Reason: RejectTableLike}
	}

	return Verdict{Accept: true}
}

// isTableGrid detects the stroke pattern of a ruled table: several long
// horizontal strokes crossed by several long vertical strokes. Formulas
// contain long horizontals too (fraction bars) but almost never a matching
// set of long verticals.
func isTableGrid(c Cluster, page Page, cfg ClassifyConfig) bool {
	const thinStroke = 3.0 // points; thicker marks are glyph strokes, not rules

	bw, bh := c.BBox.Width(), c.BBox.Height()
	var longH, longV int
	for _, idx := range c.Members {
		p := page.Primitives[idx].BBox
		if p.Height() <= thinStroke && p.Width() > 0.6*bw {
			longH++
		}
		if p.Width() <= thinStroke && p.Height() > 0.6*bh {
			longV++
		}
	}
	return longH >= cfg.TableGridStrokes && longV >= cfg.TableGridStrokes
}
