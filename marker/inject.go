package marker

import (
	"bytes"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/brunobiangulo/texrag/geometry"
)

// Region is one accepted formula region to cover and mark. The bounding box
// is the same one handed to the rasterizer, so the marker lands exactly
// where the formula sat in reading order.
type Region struct {
	PageIndex  int     // 0-based
	PageHeight float64 // page height in points, for the coordinate flip
	BBox       geometry.Rect
	Token      string
}

// Injector produces marked working copies of PDF documents: each region's
// bounding box is covered with an opaque white box and the marker token is
// drawn on top as a plain text run, so the structural parser sees only the
// token, never the vector art underneath.
type Injector struct {
	// FontSize of the marker text. Small enough not to disturb layout,
	// large enough for the parser to pick up as a text run.
	FontSize float64

	// Pad extends the covering box past the region on every side.
	Pad float64
}

// NewInjector returns an injector with the pipeline defaults.
func NewInjector() *Injector {
	return &Injector{FontSize: 8, Pad: 1}
}

const fontResourceName = "TxMk"

// Inject appends one incremental update to a copy of src that covers and
// marks every region. The source bytes are never modified; all regions of a
// page are handled in a single pass. The update uses a classic cross
// reference section, which lenient readers accept on top of any original
// xref flavor.
func (inj *Injector) Inject(src []byte, regions []Region) ([]byte, error) {
	if len(regions) == 0 {
		out := make([]byte, len(src))
		copy(out, src)
		return out, nil
	}
	if isEncrypted(src) {
		return nil, ErrEncrypted
	}

	objs := scanObjects(src)
	if len(objs) == 0 {
		return nil, ErrUnsupportedLayout
	}
	pages, err := pageTree(objs)
	if err != nil {
		return nil, err
	}

	byPage := make(map[int][]Region)
	for _, r := range regions {
		if r.PageIndex < 0 || r.PageIndex >= len(pages) {
			return nil, fmt.Errorf("marker: region %q on page %d, document has %d pages",
				r.Token, r.PageIndex, len(pages))
		}
		byPage[r.PageIndex] = append(byPage[r.PageIndex], r)
	}

	maxNum := 0
	for n := range objs {
		if n > maxNum {
			maxNum = n
		}
	}
	next := maxNum + 1

	// Font object shared by all overlays.
	fontNum := next
	next++
	newStreams := make(map[int]string) // obj num -> stream payload
	newBodies := make(map[int]string)  // obj num -> dict source
	newBodies[fontNum] = "<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>"

	rewritten := make(map[int]string) // existing obj num -> new dict source

	pageIdxs := make([]int, 0, len(byPage))
	for idx := range byPage {
		pageIdxs = append(pageIdxs, idx)
	}
	sort.Ints(pageIdxs)

	for _, idx := range pageIdxs {
		pageNum := pages[idx]
		pageObj, ok := objs[pageNum]
		if !ok || pageObj.dict == "" {
			return nil, ErrUnsupportedLayout
		}
		pageDict := pageObj.dict
		if d, ok := rewritten[pageNum]; ok {
			pageDict = d
		}

		ox, oy, height := pageGeometry(objs, pageNum, byPage[idx][0].PageHeight)

		streamNum := next
		next++
		newStreams[streamNum] = inj.overlayContent(byPage[idx], ox, oy, height)

		pageDict, err = appendContents(pageDict, streamNum)
		if err != nil {
			return nil, err
		}
		pageDict, err = ensureFontResource(objs, rewritten, pageDict, pageNum, fontNum)
		if err != nil {
			return nil, err
		}
		rewritten[pageNum] = pageDict
	}

	return assemble(src, objs, newBodies, newStreams, rewritten, next-1)
}

// overlayContent builds the content stream covering and marking all of one
// page's regions. Coordinates flip from top-left page space to PDF user
// space (origin bottom-left, offset by the media box origin).
func (inj *Injector) overlayContent(regions []Region, ox, oy, height float64) string {
	var b strings.Builder
	for _, r := range regions {
		x := ox + r.BBox.X0 - inj.Pad
		y := oy + height - r.BBox.Y1 - inj.Pad
		w := r.BBox.Width() + 2*inj.Pad
		h := r.BBox.Height() + 2*inj.Pad

		// Opaque cover, then the token near the region's top-left so the
		// parser keeps its reading-order position.
		fmt.Fprintf(&b, "q 1 1 1 rg %.2f %.2f %.2f %.2f re f Q\n", x, y, w, h)
		tx := ox + r.BBox.X0 + 1
		ty := oy + height - r.BBox.Y0 - inj.FontSize
		fmt.Fprintf(&b, "BT /%s %.1f Tf 0 0 0 rg %.2f %.2f Td (%s) Tj ET\n",
			fontResourceName, inj.FontSize, tx, ty, escapeString(r.Token))
	}
	return b.String()
}

func escapeString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `(`, `\(`)
	s = strings.ReplaceAll(s, `)`, `\)`)
	return s
}

var numArrayRe = regexp.MustCompile(`\[\s*(-?[\d.]+)\s+(-?[\d.]+)\s+(-?[\d.]+)\s+(-?[\d.]+)\s*\]`)

// pageGeometry resolves the media box origin and height for a page,
// following /Parent inheritance. Falls back to the renderer-reported height
// with a zero origin.
func pageGeometry(objs map[int]object, pageNum int, fallbackHeight float64) (ox, oy, height float64) {
	num := pageNum
	for depth := 0; depth < 32; depth++ {
		o, ok := objs[num]
		if !ok {
			break
		}
		if pos := keyIndex(o.dict, "/MediaBox"); pos >= 0 {
			if m := numArrayRe.FindStringSubmatch(o.dict[pos:]); m != nil {
				x0, _ := strconv.ParseFloat(m[1], 64)
				y0, _ := strconv.ParseFloat(m[2], 64)
				y1, _ := strconv.ParseFloat(m[4], 64)
				return x0, y0, y1 - y0
			}
		}
		parent, ok := dictRef(o.dict, "/Parent")
		if !ok {
			break
		}
		num = parent
	}
	return 0, 0, fallbackHeight
}

// appendContents rewrites the page's /Contents value to an array ending in
// the overlay stream reference, preserving the original streams.
func appendContents(pageDict string, streamNum int) (string, error) {
	start, end, ok := valueSpan(pageDict, "/Contents")
	if !ok {
		// Page without content: the overlay becomes its only stream.
		return insertBeforeClose(pageDict, fmt.Sprintf(" /Contents %d 0 R", streamNum)), nil
	}
	val := strings.TrimSpace(pageDict[start:end])
	var repl string
	if strings.HasPrefix(val, "[") {
		repl = val[:len(val)-1] + fmt.Sprintf(" %d 0 R]", streamNum)
	} else {
		repl = fmt.Sprintf("[%s %d 0 R]", val, streamNum)
	}
	return pageDict[:start] + repl + pageDict[end:], nil
}

// ensureFontResource makes the marker font reachable from the page. The
// resources dictionary may be inline on the page, an indirect object
// (rewritten in place in the update, harmless when shared), or inherited
// from an ancestor /Pages node.
func ensureFontResource(objs map[int]object, rewritten map[int]string, pageDict string, pageNum, fontNum int) (string, error) {
	if start, end, ok := valueSpan(pageDict, "/Resources"); ok {
		val := strings.TrimSpace(pageDict[start:end])
		if strings.HasPrefix(val, "<<") {
			patched, err := addFontEntry(objs, rewritten, val, fontNum)
			if err != nil {
				return "", err
			}
			return pageDict[:start] + patched + pageDict[end:], nil
		}
		if m := refRe.FindStringSubmatch(val); m != nil {
			resNum, _ := strconv.Atoi(m[1])
			return pageDict, rewriteResourceObject(objs, rewritten, resNum, fontNum)
		}
		return "", ErrUnsupportedLayout
	}

	// No /Resources on the page itself: patch the nearest ancestor that
	// carries one, so inherited resources stay visible.
	num := pageNum
	for depth := 0; depth < 32; depth++ {
		parent, ok := dictRef(dictSource(objs, rewritten, num), "/Parent")
		if !ok {
			break
		}
		pdict := dictSource(objs, rewritten, parent)
		if start, end, ok := valueSpan(pdict, "/Resources"); ok {
			val := strings.TrimSpace(pdict[start:end])
			if strings.HasPrefix(val, "<<") {
				patched, err := addFontEntry(objs, rewritten, val, fontNum)
				if err != nil {
					return "", err
				}
				rewritten[parent] = pdict[:start] + patched + pdict[end:]
				return pageDict, nil
			}
			if m := refRe.FindStringSubmatch(val); m != nil {
				resNum, _ := strconv.Atoi(m[1])
				return pageDict, rewriteResourceObject(objs, rewritten, resNum, fontNum)
			}
		}
		num = parent
	}

	// Nothing to inherit: give the page its own resources.
	return insertBeforeClose(pageDict,
		fmt.Sprintf(" /Resources << /Font << /%s %d 0 R >> >>", fontResourceName, fontNum)), nil
}

func dictSource(objs map[int]object, rewritten map[int]string, num int) string {
	if d, ok := rewritten[num]; ok {
		return d
	}
	return objs[num].dict
}

func rewriteResourceObject(objs map[int]object, rewritten map[int]string, resNum, fontNum int) error {
	src := dictSource(objs, rewritten, resNum)
	if src == "" {
		return ErrUnsupportedLayout
	}
	if strings.Contains(src, "/"+fontResourceName) {
		return nil // already patched via a shared resource
	}
	patched, err := addFontEntry(objs, rewritten, src, fontNum)
	if err != nil {
		return err
	}
	if patched != src {
		rewritten[resNum] = patched
	}
	return nil
}

// addFontEntry makes the marker font reachable from a resources dictionary
// source. An inline /Font dict gains the entry directly. An indirect /Font
// dict is patched in place through the incremental update, which keeps every
// existing font entry visible to the original content streams.
func addFontEntry(objs map[int]object, rewritten map[int]string, res string, fontNum int) (string, error) {
	entry := fmt.Sprintf(" /%s %d 0 R", fontResourceName, fontNum)
	start, end, ok := valueSpan(res, "/Font")
	if !ok {
		return insertBeforeClose(res, fmt.Sprintf(" /Font <<%s >>", entry)), nil
	}
	val := strings.TrimSpace(res[start:end])
	if strings.HasPrefix(val, "<<") {
		patched := val[:len(val)-2] + entry + " >>"
		return res[:start] + patched + res[end:], nil
	}
	if m := refRe.FindStringSubmatch(val); m != nil {
		fontDictNum, _ := strconv.Atoi(m[1])
		src := dictSource(objs, rewritten, fontDictNum)
		if src == "" {
			return "", ErrUnsupportedLayout
		}
		if !strings.Contains(src, "/"+fontResourceName) {
			rewritten[fontDictNum] = insertBeforeClose(src, entry)
		}
		return res, nil
	}
	return "", ErrUnsupportedLayout
}

// insertBeforeClose splices text just before the final >> of a dictionary.
func insertBeforeClose(dict, text string) string {
	idx := strings.LastIndex(dict, ">>")
	if idx < 0 {
		return dict + text
	}
	return dict[:idx] + text + " " + dict[idx:]
}

// assemble writes the incremental update: new and rewritten objects, a
// classic xref section covering them, and a trailer chained to the previous
// startxref.
func assemble(src []byte, objs map[int]object, newBodies, newStreams, rewritten map[int]string, maxNum int) ([]byte, error) {
	rootNum, rootGen, ok := trailerRoot(src)
	if !ok {
		return nil, ErrUnsupportedLayout
	}
	prev, havePrev := lastStartXref(src)

	out := make([]byte, len(src), len(src)+4096)
	copy(out, src)
	if len(out) > 0 && out[len(out)-1] != '\n' {
		out = append(out, '\n')
	}

	offsets := make(map[int]int64)
	gens := make(map[int]int)

	writeObj := func(num int, body string) {
		offsets[num] = int64(len(out))
		out = append(out, fmt.Sprintf("%d %d obj\n%s\nendobj\n", num, gens[num], body)...)
	}

	nums := make([]int, 0, len(newBodies)+len(newStreams)+len(rewritten))
	for n := range newBodies {
		nums = append(nums, n)
	}
	for n := range newStreams {
		nums = append(nums, n)
	}
	for n := range rewritten {
		nums = append(nums, n)
		gens[n] = objs[n].gen
	}
	sort.Ints(nums)

	for _, n := range nums {
		switch {
		case newStreams[n] != "":
			payload := newStreams[n]
			body := fmt.Sprintf("<< /Length %d >>\nstream\n%sendstream", len(payload), payload)
			writeObj(n, body)
		case newBodies[n] != "":
			writeObj(n, newBodies[n])
		default:
			writeObj(n, rewritten[n])
		}
	}

	// Cross-reference section: contiguous object runs become subsections.
	xrefOffset := int64(len(out))
	var xb bytes.Buffer
	xb.WriteString("xref\n")
	for i := 0; i < len(nums); {
		j := i
		for j+1 < len(nums) && nums[j+1] == nums[j]+1 {
			j++
		}
		fmt.Fprintf(&xb, "%d %d\n", nums[i], j-i+1)
		for k := i; k <= j; k++ {
			fmt.Fprintf(&xb, "%010d %05d n \n", offsets[nums[k]], gens[nums[k]])
		}
		i = j + 1
	}
	out = append(out, xb.Bytes()...)

	trailer := fmt.Sprintf("trailer\n<< /Size %d /Root %d %d R", maxNum+1, rootNum, rootGen)
	if havePrev {
		trailer += fmt.Sprintf(" /Prev %d", prev)
	}
	trailer += fmt.Sprintf(" >>\nstartxref\n%d\n%%%%EOF\n", xrefOffset)
	out = append(out, trailer...)

	return out, nil
}
