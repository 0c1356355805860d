// Package geometry groups a page's vector drawing primitives into spatially
// coherent clusters and classifies each cluster as formula-like or not.
package geometry

import (
	"math"
	"sort"
)

// Rect is an axis-aligned rectangle in page coordinates (points, origin at
// the top-left corner of the page).
type Rect struct {
	X0, Y0, X1, Y1 float64
}

func (r Rect) Width() float64  { return r.X1 - r.X0 }
func (r Rect) Height() float64 { return r.Y1 - r.Y0 }
func (r Rect) Area() float64   { return r.Width() * r.Height() }

// IsEmpty reports whether the rectangle has no positive extent.
func (r Rect) IsEmpty() bool { return r.X1 <= r.X0 || r.Y1 <= r.Y0 }

// Expand returns the rectangle dilated by dx horizontally and dy vertically
// on each side.
func (r Rect) Expand(dx, dy float64) Rect {
	return Rect{r.X0 - dx, r.Y0 - dy, r.X1 + dx, r.Y1 + dy}
}

// Union returns the smallest rectangle containing both r and o.
func (r Rect) Union(o Rect) Rect {
	if r.IsEmpty() {
		return o
	}
	if o.IsEmpty() {
		return r
	}
	return Rect{
		math.Min(r.X0, o.X0), math.Min(r.Y0, o.Y0),
		math.Max(r.X1, o.X1), math.Max(r.Y1, o.Y1),
	}
}

// Intersects reports whether r and o overlap (touching edges count).
func (r Rect) Intersects(o Rect) bool {
	return r.X0 <= o.X1 && o.X0 <= r.X1 && r.Y0 <= o.Y1 && o.Y0 <= r.Y1
}

// Primitive is a single vector drawing operation recorded on a page: a
// stroked or filled path with its bounding box in page coordinates.
type Primitive struct {
	BBox        Rect
	Stroke      bool
	Fill        bool
	StrokeWidth float64
}

// Page holds everything the clusterer needs to know about one page.
type Page struct {
	Index      int     // 0-based page index
	Width      float64 // page width in points
	Height     float64 // page height in points
	Primitives []Primitive
}

// Cluster is a maximal group of primitives whose dilated bounding boxes
// transitively intersect. Members indexes into the page's primitive slice
// and is sorted ascending; each primitive belongs to at most one cluster.
type Cluster struct {
	BBox      Rect
	PageIndex int
	Members   []int
}

// PrimitiveCount returns the number of member primitives.
func (c Cluster) PrimitiveCount() int { return len(c.Members) }

// Config controls proximity clustering. Tolerances are expressed in points
// for a reference page width of 612pt (US Letter) and scaled linearly for
// other page sizes, so the merge radius tracks the page geometry.
type Config struct {
	XTolerance float64
	YTolerance float64
}

// DefaultConfig returns the clustering tolerances used by the pipeline.
func DefaultConfig() Config {
	return Config{XTolerance: 30, YTolerance: 4}
}

const referencePageWidth = 612.0

// ClusterPage groups the page's primitives into proximity clusters and
// returns them in reading order: top-to-bottom, then left-to-right by the
// bounding-box top-left corner. The result is deterministic for a given
// page: identical input yields identical cluster boundaries and ordering.
func ClusterPage(page Page, cfg Config) []Cluster {
	n := len(page.Primitives)
	if n == 0 {
		return nil
	}

	xTol := cfg.XTolerance
	yTol := cfg.YTolerance
	if page.Width > 0 {
		scale := page.Width / referencePageWidth
		xTol *= scale
		yTol *= scale
	}

	// Transitive proximity grouping as union-find over primitive indices
	// rather than repeated pairwise re-merge passes.
	uf := newUnionFind(n)
	dilated := make([]Rect, n)
	for i, p := range page.Primitives {
		dilated[i] = p.BBox.Expand(xTol, yTol)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if dilated[i].Intersects(dilated[j]) {
				uf.union(i, j)
			}
		}
	}

	// Collect connected components. Keyed by root index so membership is a
	// partition of the primitive set.
	byRoot := make(map[int]*Cluster)
	for i := 0; i < n; i++ {
		root := uf.find(i)
		c, ok := byRoot[root]
		if !ok {
			c = &Cluster{BBox: page.Primitives[i].BBox, PageIndex: page.Index}
			byRoot[root] = c
		} else {
			c.BBox = c.BBox.Union(page.Primitives[i].BBox)
		}
		c.Members = append(c.Members, i)
	}

	clusters := make([]Cluster, 0, len(byRoot))
	for _, c := range byRoot {
		clusters = append(clusters, *c)
	}

	sort.Slice(clusters, func(i, j int) bool {
		a, b := clusters[i].BBox, clusters[j].BBox
		if a.Y0 != b.Y0 {
			return a.Y0 < b.Y0
		}
		if a.X0 != b.X0 {
			return a.X0 < b.X0
		}
		// Tie-break on the first member index for full determinism.
		return clusters[i].Members[0] < clusters[j].Members[0]
	})

	return clusters
}

// unionFind is a standard disjoint-set with path compression and union by
// rank.
type unionFind struct {
	parent []int
	rank   []int
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{parent: make([]int, n), rank: make([]int, n)}
	for i := range uf.parent {
		uf.parent[i] = i
	}
	return uf
}

func (uf *unionFind) find(i int) int {
	for uf.parent[i] != i {
		uf.parent[i] = uf.parent[uf.parent[i]]
		i = uf.parent[i]
	}
	return i
}

func (uf *unionFind) union(i, j int) {
	ri, rj := uf.find(i), uf.find(j)
	if ri == rj {
		return
	}
	if uf.rank[ri] < uf.rank[rj] {
		ri, rj = rj, ri
	}
	uf.parent[rj] = ri
	if uf.rank[ri] == uf.rank[rj] {
		uf.rank[ri]++
	}
}
