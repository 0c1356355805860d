package fitzdoc

import (
	"encoding/xml"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/brunobiangulo/texrag/geometry"
)

// MuPDF's SVG device emits page content in page coordinates (points, origin
// top-left): drawn paths appear as direct path/rect/line elements, text as
// use/text references into defs. The harvest walks the element tree with a
// transform stack and keeps only the drawing elements, which is exactly the
// primitive set the clusterer wants.

// matrix is a 2D affine transform (a b c d e f), column-major as in SVG.
type matrix struct{ a, b, c, d, e, f float64 }

var identity = matrix{1, 0, 0, 1, 0, 0}

// compose returns the transform that applies n first, then m.
func (m matrix) compose(n matrix) matrix {
	return matrix{
		a: m.a*n.a + m.c*n.b,
		b: m.b*n.a + m.d*n.b,
		c: m.a*n.c + m.c*n.d,
		d: m.b*n.c + m.d*n.d,
		e: m.a*n.e + m.c*n.f + m.e,
		f: m.b*n.e + m.d*n.f + m.f,
	}
}

func (m matrix) apply(x, y float64) (float64, float64) {
	return m.a*x + m.c*y + m.e, m.b*x + m.d*y + m.f
}

// scale returns the average absolute scale factor, used to keep stroke
// widths meaningful under transforms.
func (m matrix) scale() float64 {
	sx := math.Hypot(m.a, m.b)
	sy := math.Hypot(m.c, m.d)
	return (sx + sy) / 2
}

// parsePrimitives extracts drawing primitives from an SVG page rendering.
// Elements under defs/symbol and all text/glyph/image references are
// skipped: glyph outlines are text, not vector art.
func parsePrimitives(svg string) ([]geometry.Primitive, error) {
	dec := xml.NewDecoder(strings.NewReader(svg))
	dec.Strict = false

	var prims []geometry.Primitive
	stack := []matrix{identity}
	skip := 0

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			cur := stack[len(stack)-1]
			if tf := attrValue(t, "transform"); tf != "" {
				cur = parseTransform(cur, tf)
			}
			stack = append(stack, cur)

			if skip > 0 {
				skip++
				continue
			}
			switch t.Name.Local {
			case "defs", "symbol", "text", "tspan", "use", "image", "clipPath", "mask":
				skip = 1
			case "path":
				if bb, ok := pathBBox(attrValue(t, "d"), cur); ok {
					prims = append(prims, makePrimitive(bb, t, cur))
				}
			case "rect":
				x := attrFloat(t, "x", 0)
				y := attrFloat(t, "y", 0)
				w := attrFloat(t, "width", 0)
				h := attrFloat(t, "height", 0)
				if w > 0 || h > 0 {
					bb := boxFromPoints(cur, [][2]float64{{x, y}, {x + w, y}, {x, y + h}, {x + w, y + h}})
					prims = append(prims, makePrimitive(bb, t, cur))
				}
			case "line":
				bb := boxFromPoints(cur, [][2]float64{
					{attrFloat(t, "x1", 0), attrFloat(t, "y1", 0)},
					{attrFloat(t, "x2", 0), attrFloat(t, "y2", 0)},
				})
				prims = append(prims, makePrimitive(bb, t, cur))
			case "polyline", "polygon":
				if pts := parsePoints(attrValue(t, "points")); len(pts) > 0 {
					bb := boxFromPoints(cur, pts)
					prims = append(prims, makePrimitive(bb, t, cur))
				}
			}

		case xml.EndElement:
			if len(stack) > 1 {
				stack = stack[:len(stack)-1]
			}
			if skip > 0 {
				skip--
			}
		}
	}
	return prims, nil
}

func makePrimitive(bb geometry.Rect, t xml.StartElement, m matrix) geometry.Primitive {
	stroke := attrValue(t, "stroke")
	fill := attrValue(t, "fill")
	p := geometry.Primitive{
		BBox:   bb,
		Stroke: stroke != "" && stroke != "none",
		// SVG default fill is black when the attribute is absent.
		Fill: fill != "none",
	}
	if p.Stroke {
		p.StrokeWidth = attrFloat(t, "stroke-width", 1) * m.scale()
	}
	return p
}

func attrValue(t xml.StartElement, name string) string {
	for _, a := range t.Attr {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

func attrFloat(t xml.StartElement, name string, def float64) float64 {
	s := attrValue(t, name)
	if s == "" {
		return def
	}
	v, err := strconv.ParseFloat(strings.TrimSuffix(s, "px"), 64)
	if err != nil {
		return def
	}
	return v
}

// parseTransform composes the element's transform list onto base. Handles
// matrix, translate and scale, which covers MuPDF output.
func parseTransform(base matrix, s string) matrix {
	m := base
	for {
		open := strings.IndexByte(s, '(')
		if open < 0 {
			break
		}
		name := strings.TrimSpace(s[:open])
		closeIdx := strings.IndexByte(s, ')')
		if closeIdx < open {
			break
		}
		args := splitNumbers(s[open+1 : closeIdx])
		s = s[closeIdx+1:]

		switch {
		case strings.HasSuffix(name, "matrix") && len(args) == 6:
			m = m.compose(matrix{args[0], args[1], args[2], args[3], args[4], args[5]})
		case strings.HasSuffix(name, "translate") && len(args) >= 1:
			ty := 0.0
			if len(args) > 1 {
				ty = args[1]
			}
			m = m.compose(matrix{1, 0, 0, 1, args[0], ty})
		case strings.HasSuffix(name, "scale") && len(args) >= 1:
			sy := args[0]
			if len(args) > 1 {
				sy = args[1]
			}
			m = m.compose(matrix{args[0], 0, 0, sy, 0, 0})
		}
	}
	return m
}

func splitNumbers(s string) []float64 {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})
	out := make([]float64, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			continue
		}
		out = append(out, v)
	}
	return out
}

func parsePoints(s string) [][2]float64 {
	nums := splitNumbers(s)
	pts := make([][2]float64, 0, len(nums)/2)
	for i := 0; i+1 < len(nums); i += 2 {
		pts = append(pts, [2]float64{nums[i], nums[i+1]})
	}
	return pts
}

func boxFromPoints(m matrix, pts [][2]float64) geometry.Rect {
	bb := geometry.Rect{X0: math.Inf(1), Y0: math.Inf(1), X1: math.Inf(-1), Y1: math.Inf(-1)}
	for _, p := range pts {
		x, y := m.apply(p[0], p[1])
		bb.X0 = math.Min(bb.X0, x)
		bb.Y0 = math.Min(bb.Y0, y)
		bb.X1 = math.Max(bb.X1, x)
		bb.Y1 = math.Max(bb.Y1, y)
	}
	return bb
}

// pathBBox computes a conservative bounding box over a path's coordinate
// data: every on-curve and control point is covered, which always encloses
// the rendered curve.
func pathBBox(d string, m matrix) (geometry.Rect, bool) {
	if d == "" {
		return geometry.Rect{}, false
	}

	var pts [][2]float64
	var cx, cy, sx, sy float64
	cmd := byte(0)
	i := 0

	nextNum := func() (float64, bool) {
		for i < len(d) && (d[i] == ' ' || d[i] == ',' || d[i] == '\n' || d[i] == '\r' || d[i] == '\t') {
			i++
		}
		j := i
		if j < len(d) && (d[j] == '-' || d[j] == '+') {
			j++
		}
		for j < len(d) && (d[j] >= '0' && d[j] <= '9' || d[j] == '.' || d[j] == 'e' || d[j] == 'E' ||
			((d[j] == '-' || d[j] == '+') && (d[j-1] == 'e' || d[j-1] == 'E'))) {
			j++
		}
		if j == i {
			return 0, false
		}
		v, err := strconv.ParseFloat(d[i:j], 64)
		i = j
		if err != nil {
			return 0, false
		}
		return v, true
	}

	rel := func() bool { return cmd >= 'a' && cmd <= 'z' }
	point := func(x, y float64) (float64, float64) {
		if rel() {
			return cx + x, cy + y
		}
		return x, y
	}
	mark := func(x, y float64) { pts = append(pts, [2]float64{x, y}) }

	for i < len(d) {
		ch := d[i]
		switch {
		case ch == ' ' || ch == ',' || ch == '\n' || ch == '\r' || ch == '\t':
			i++
			continue
		case (ch >= 'A' && ch <= 'Z') || (ch >= 'a' && ch <= 'z'):
			cmd = ch
			i++
			if cmd == 'Z' || cmd == 'z' {
				cx, cy = sx, sy
			}
			continue
		}

		// Parameter run for the current command.
		switch cmd {
		case 'M', 'm', 'L', 'l', 'T', 't':
			x, ok1 := nextNum()
			y, ok2 := nextNum()
			if !ok1 || !ok2 {
				return finishBBox(m, pts)
			}
			cx, cy = point(x, y)
			if cmd == 'M' || cmd == 'm' {
				sx, sy = cx, cy
				// Subsequent pairs of a moveto are implicit linetos.
				if cmd == 'M' {
					cmd = 'L'
				} else {
					cmd = 'l'
				}
			}
			mark(cx, cy)
		case 'H', 'h':
			x, ok := nextNum()
			if !ok {
				return finishBBox(m, pts)
			}
			if rel() {
				cx += x
			} else {
				cx = x
			}
			mark(cx, cy)
		case 'V', 'v':
			y, ok := nextNum()
			if !ok {
				return finishBBox(m, pts)
			}
			if rel() {
				cy += y
			} else {
				cy = y
			}
			mark(cx, cy)
		case 'C', 'c':
			var xs [6]float64
			for k := 0; k < 6; k++ {
				v, ok := nextNum()
				if !ok {
					return finishBBox(m, pts)
				}
				xs[k] = v
			}
			x1, y1 := point(xs[0], xs[1])
			x2, y2 := point(xs[2], xs[3])
			cx, cy = point(xs[4], xs[5])
			mark(x1, y1)
			mark(x2, y2)
			mark(cx, cy)
		case 'S', 's', 'Q', 'q':
			var xs [4]float64
			for k := 0; k < 4; k++ {
				v, ok := nextNum()
				if !ok {
					return finishBBox(m, pts)
				}
				xs[k] = v
			}
			x1, y1 := point(xs[0], xs[1])
			cx, cy = point(xs[2], xs[3])
			mark(x1, y1)
			mark(cx, cy)
		case 'A', 'a':
			var xs [7]float64
			for k := 0; k < 7; k++ {
				v, ok := nextNum()
				if !ok {
					return finishBBox(m, pts)
				}
				xs[k] = v
			}
			cx, cy = point(xs[5], xs[6])
			mark(cx, cy)
		default:
			// Unknown command byte: stop rather than loop forever.
			return finishBBox(m, pts)
		}
	}
	return finishBBox(m, pts)
}

func finishBBox(m matrix, pts [][2]float64) (geometry.Rect, bool) {
	if len(pts) == 0 {
		return geometry.Rect{}, false
	}
	return boxFromPoints(m, pts), true
}
