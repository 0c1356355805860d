package geometry

import (
	"reflect"
	"testing"
)

// ---------------------------------------------------------------------------
// Clustering tests
// ---------------------------------------------------------------------------

// prims builds primitives from bbox quadruples.
func prims(boxes ...[4]float64) []Primitive {
	out := make([]Primitive, len(boxes))
	for i, b := range boxes {
		out[i] = Primitive{BBox: Rect{b[0], b[1], b[2], b[3]}, Stroke: true}
	}
	return out
}

func testPage(primitives []Primitive) Page {
	return Page{Index: 0, Width: 612, Height: 792, Primitives: primitives}
}

func TestClusterPageEmpty(t *testing.T) {
	clusters := ClusterPage(testPage(nil), DefaultConfig())
	if clusters != nil {
		t.Errorf("ClusterPage(empty) = %v, want nil", clusters)
	}
}

func TestClusterPageMergesNearbyPrimitives(t *testing.T) {
	// Three primitives within tolerance of each other, one far away.
	page := testPage(prims(
		[4]float64{100, 300, 140, 320},
		[4]float64{145, 300, 180, 320}, // 5pt gap to the first
		[4]float64{185, 302, 220, 318}, // 5pt gap to the second
		[4]float64{400, 600, 450, 620}, // isolated
	))

	clusters := ClusterPage(page, DefaultConfig())
	if len(clusters) != 2 {
		t.Fatalf("got %d clusters, want 2", len(clusters))
	}

	first := clusters[0]
	if first.PrimitiveCount() != 3 {
		t.Errorf("first cluster has %d primitives, want 3", first.PrimitiveCount())
	}
	want := Rect{100, 300, 220, 320}
	if first.BBox != want {
		t.Errorf("first cluster bbox = %+v, want %+v", first.BBox, want)
	}
	if clusters[1].PrimitiveCount() != 1 {
		t.Errorf("second cluster has %d primitives, want 1", clusters[1].PrimitiveCount())
	}
}

func TestClusterPageTransitiveMerge(t *testing.T) {
	// A chain a-b-c where a and c are NOT within tolerance of each other
	// but both touch b. All three must land in one cluster.
	page := testPage(prims(
		[4]float64{100, 100, 120, 110},
		[4]float64{150, 100, 170, 110},
		[4]float64{200, 100, 220, 110},
	))

	clusters := ClusterPage(page, DefaultConfig())
	if len(clusters) != 1 {
		t.Fatalf("got %d clusters, want 1 (transitive merge)", len(clusters))
	}
	if clusters[0].PrimitiveCount() != 3 {
		t.Errorf("cluster has %d primitives, want 3", clusters[0].PrimitiveCount())
	}
}

func TestClusterPageDisjointMembership(t *testing.T) {
	page := testPage(prims(
		[4]float64{50, 100, 90, 120},
		[4]float64{95, 100, 130, 120},
		[4]float64{300, 400, 350, 420},
		[4]float64{50, 700, 500, 702},
	))

	clusters := ClusterPage(page, DefaultConfig())

	seen := make(map[int]bool)
	total := 0
	for _, c := range clusters {
		for _, m := range c.Members {
			if seen[m] {
				t.Errorf("primitive %d appears in more than one cluster", m)
			}
			seen[m] = true
			total++
		}
	}
	if total != len(page.Primitives) {
		t.Errorf("clusters cover %d primitives, want %d", total, len(page.Primitives))
	}
}

func TestClusterPageDeterministic(t *testing.T) {
	page := testPage(prims(
		[4]float64{300, 400, 350, 420},
		[4]float64{50, 100, 90, 120},
		[4]float64{95, 100, 130, 120},
		[4]float64{50, 700, 500, 702},
		[4]float64{305, 425, 340, 440},
	))

	a := ClusterPage(page, DefaultConfig())
	b := ClusterPage(page, DefaultConfig())
	if !reflect.DeepEqual(a, b) {
		t.Errorf("re-running ClusterPage produced different results:\n%+v\n%+v", a, b)
	}
}

func TestClusterPageReadingOrder(t *testing.T) {
	// Bottom-right, top-right, top-left: output must be ordered
	// top-to-bottom, left-to-right.
	page := testPage(prims(
		[4]float64{400, 600, 450, 620},
		[4]float64{400, 100, 450, 120},
		[4]float64{100, 100, 150, 120},
	))

	clusters := ClusterPage(page, DefaultConfig())
	if len(clusters) != 3 {
		t.Fatalf("got %d clusters, want 3", len(clusters))
	}
	if clusters[0].BBox.X0 != 100 || clusters[0].BBox.Y0 != 100 {
		t.Errorf("first cluster should be top-left, got %+v", clusters[0].BBox)
	}
	if clusters[1].BBox.X0 != 400 || clusters[1].BBox.Y0 != 100 {
		t.Errorf("second cluster should be top-right, got %+v", clusters[1].BBox)
	}
	if clusters[2].BBox.Y0 != 600 {
		t.Errorf("third cluster should be the bottom one, got %+v", clusters[2].BBox)
	}
}

func TestRectUnionAndIntersects(t *testing.T) {
	a := Rect{0, 0, 10, 10}
	b := Rect{5, 5, 20, 20}
	c := Rect{50, 50, 60, 60}

	if got := a.Union(b); got != (Rect{0, 0, 20, 20}) {
		t.Errorf("Union = %+v, want {0 0 20 20}", got)
	}
	if !a.Intersects(b) {
		t.Error("a should intersect b")
	}
	if a.Intersects(c) {
		t.Error("a should not intersect c")
	}
	if got := a.Expand(2, 3); got != (Rect{-2, -3, 12, 13}) {
		t.Errorf("Expand = %+v, want {-2 -3 12 13}", got)
	}
}
