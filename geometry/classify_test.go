package geometry

import "testing"

// ---------------------------------------------------------------------------
// Formula classification tests
// ---------------------------------------------------------------------------

// denseCluster fabricates a cluster of n small primitives spread across the
// given bbox, attached to the page.
func denseCluster(page *Page, bb Rect, n int) Cluster {
	c := Cluster{BBox: bb, PageIndex: page.Index}
	step := (bb.X1 - bb.X0) / float64(n+1)
	for i := 0; i < n; i++ {
		x := bb.X0 + step*float64(i+1)
		page.Primitives = append(page.Primitives, Primitive{
			BBox:   Rect{x, bb.Y0, x + 5, bb.Y1},
			Stroke: true,
		})
		c.Members = append(c.Members, len(page.Primitives)-1)
	}
	return c
}

func TestClassifyAcceptsCenteredFormula(t *testing.T) {
	page := Page{Index: 0, Width: 612, Height: 792}
	c := denseCluster(&page, Rect{150, 380, 460, 410}, 12)

	v := Classify(c, page, DefaultClassifyConfig())
	if !v.Accept {
		t.Errorf("centered dense cluster rejected: %q", v.Reason)
	}
}

func TestClassifyRejections(t *testing.T) {
	cfg := DefaultClassifyConfig()

	tests := []struct {
		name   string
		bb     Rect
		prims  int
		reason string
	}{
		{"header zone", Rect{100, 10, 300, 40}, 10, RejectHeaderFooter},
		{"footer zone", Rect{100, 760, 500, 780}, 10, RejectHeaderFooter},
		{"too small", Rect{100, 300, 120, 305}, 5, RejectTooSmall},
		{"whole page", Rect{5, 5, 607, 787}, 40, RejectWholePage},
		{"full-width rule", Rect{20, 400, 590, 404}, 4, RejectRule},
		{"sparse", Rect{100, 300, 200, 330}, 2, RejectSparse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page := Page{Index: 0, Width: 612, Height: 792}
			c := denseCluster(&page, tt.bb, tt.prims)
			v := Classify(c, page, cfg)
			if v.Accept {
				t.Fatalf("cluster accepted, want rejection %q", tt.reason)
			}
			if v.Reason != tt.reason {
				t.Errorf("reason = %q, want %q", v.Reason, tt.reason)
			}
		})
	}
}

// A displayed equation can legitimately span most of the page width; the
// filter must distinguish it from a table rule by primitive density.
func TestClassifyWideFormulaNotRule(t *testing.T) {
	page := Page{Index: 0, Width: 612, Height: 792}
	c := denseCluster(&page, Rect{20, 400, 590, 430}, 25)

	v := Classify(c, page, DefaultClassifyConfig())
	if !v.Accept {
		t.Errorf("dense full-width cluster rejected as %q, want accept", v.Reason)
	}
}

func TestClassifyTableGrid(t *testing.T) {
	page := Page{Index: 0, Width: 612, Height: 792}
	bb := Rect{100, 200, 500, 400}
	c := Cluster{BBox: bb, PageIndex: 0}

	// Four long horizontal rules and four long vertical rules.
	for i := 0; i < 4; i++ {
		y := bb.Y0 + float64(i)*60
		page.Primitives = append(page.Primitives, Primitive{
			BBox: Rect{bb.X0, y, bb.X1, y + 1}, Stroke: true,
		})
		c.Members = append(c.Members, len(page.Primitives)-1)
	}
	for i := 0; i < 4; i++ {
		x := bb.X0 + float64(i)*120
		page.Primitives = append(page.Primitives, Primitive{
			BBox: Rect{x, bb.Y0, x + 1, bb.Y1}, Stroke: true,
		})
		c.Members = append(c.Members, len(page.Primitives)-1)
	}

	v := Classify(c, page, DefaultClassifyConfig())
	if v.Accept {
		t.Fatal("table grid accepted, want rejection")
	}
	if v.Reason != RejectTableLike {
		t.Errorf("reason = %q, want %q", v.Reason, RejectTableLike)
	}
}

// A wide short dense cluster near the page center is a displayed equation;
// the same shape sitting in the bottom margin is a footer rule.
func TestClassifyCenterFormulaVsFooterRule(t *testing.T) {
	page := Page{Index: 0, Width: 612, Height: 792}
	formula := denseCluster(&page, Rect{150, 390, 450, 420}, 10)
	footer := denseCluster(&page, Rect{50, 770, 560, 780}, 10)

	cfg := DefaultClassifyConfig()
	if v := Classify(formula, page, cfg); !v.Accept {
		t.Errorf("center formula rejected: %q", v.Reason)
	}
	if v := Classify(footer, page, cfg); v.Accept {
		t.Error("footer band accepted, want rejection")
	}
}
