package marker

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strconv"
)

// The injector does not need a full PDF parser: it only has to locate the
// page tree, the page dictionaries, and the trailer references, and it may
// refuse documents it cannot read. A recovery-style linear scan over plain
// object syntax is enough for that; documents whose page objects live in
// compressed object streams are rejected as unsupported.

// ErrUnsupportedLayout is returned when the page tree cannot be located in
// plain object syntax (object-stream-compressed or malformed documents).
var ErrUnsupportedLayout = errors.New("marker: page tree not found in plain object syntax")

// ErrEncrypted is returned for encrypted documents, which cannot be
// rewritten without the document keys.
var ErrEncrypted = errors.New("marker: document is encrypted")

// object is one indirect object located in the file.
type object struct {
	num, gen int
	dict     string // outer dictionary source including << >>, "" if none
}

var objHeaderRe = regexp.MustCompile(`(?:^|[\r\n>\s])(\d+)\s+(\d+)\s+obj\b`)

// scanObjects walks the file once, collecting every indirect object's
// dictionary. Stream bodies are skipped so binary content cannot be
// mistaken for object headers. Later definitions of the same object number
// win, matching incremental-update semantics.
func scanObjects(data []byte) map[int]object {
	objs := make(map[int]object)
	pos := 0
	for pos < len(data) {
		loc := objHeaderRe.FindSubmatchIndex(data[pos:])
		if loc == nil {
			break
		}
		num, _ := strconv.Atoi(string(data[pos+loc[2] : pos+loc[3]]))
		gen, _ := strconv.Atoi(string(data[pos+loc[4] : pos+loc[5]]))
		cur := pos + loc[1]

		dict, dictEnd := scanDict(data, cur)
		if dictEnd > cur {
			cur = dictEnd
		}
		objs[num] = object{num: num, gen: gen, dict: dict}

		// Skip a stream body if one follows, so its bytes are never
		// scanned for headers.
		rest := data[cur:]
		trimmed := bytes.TrimLeft(rest, " \t\r\n")
		if bytes.HasPrefix(trimmed, []byte("stream")) {
			if end := bytes.Index(rest, []byte("endstream")); end >= 0 {
				cur += end + len("endstream")
			}
		}
		pos = cur
	}
	return objs
}

// scanDict extracts a balanced << ... >> dictionary starting at or after
// offset start (skipping leading whitespace). Returns "" if the object has
// no dictionary.
func scanDict(data []byte, start int) (string, int) {
	i := start
	for i < len(data) && isPDFSpace(data[i]) {
		i++
	}
	if i+1 >= len(data) || data[i] != '<' || data[i+1] != '<' {
		return "", start
	}
	depth := 0
	j := i
	for j < len(data) {
		switch data[j] {
		case '<':
			if j+1 < len(data) && data[j+1] == '<' {
				depth++
				j += 2
				continue
			}
			// Hex string: skip to closing '>'.
			for j < len(data) && data[j] != '>' {
				j++
			}
			j++
		case '>':
			if j+1 < len(data) && data[j+1] == '>' {
				depth--
				j += 2
				if depth == 0 {
					return string(data[i:j]), j
				}
				continue
			}
			j++
		case '(':
			j = skipLiteralString(data, j)
		case '%':
			for j < len(data) && data[j] != '\n' {
				j++
			}
		default:
			j++
		}
	}
	return "", start
}

func skipLiteralString(data []byte, i int) int {
	depth := 0
	for i < len(data) {
		switch data[i] {
		case '\\':
			i++ // skip escaped byte
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i + 1
			}
		}
		i++
	}
	return i
}

func isPDFSpace(b byte) bool {
	switch b {
	case 0, '\t', '\n', '\f', '\r', ' ':
		return true
	}
	return false
}

// isPDFDelim reports whether b terminates a name token.
func isPDFDelim(b byte) bool {
	switch b {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return isPDFSpace(b)
}

// keyIndex finds the position of key (e.g. "/Contents") in dict source,
// requiring a delimiter after the name so "/Count" never matches "/Contents"
// lookups and vice versa.
func keyIndex(dict, key string) int {
	from := 0
	for {
		idx := bytes.Index([]byte(dict[from:]), []byte(key))
		if idx < 0 {
			return -1
		}
		pos := from + idx
		end := pos + len(key)
		if end >= len(dict) || isPDFDelim(dict[end]) {
			return pos
		}
		from = end
	}
}

var refRe = regexp.MustCompile(`^\s*(\d+)\s+(\d+)\s+R`)

// dictRef resolves an indirect reference value: /Key N G R.
func dictRef(dict, key string) (int, bool) {
	pos := keyIndex(dict, key)
	if pos < 0 {
		return 0, false
	}
	m := refRe.FindStringSubmatch(dict[pos+len(key):])
	if m == nil {
		return 0, false
	}
	n, _ := strconv.Atoi(m[1])
	return n, true
}

// dictName resolves a name value: /Key /Name.
func dictName(dict, key string) (string, bool) {
	pos := keyIndex(dict, key)
	if pos < 0 {
		return "", false
	}
	rest := dict[pos+len(key):]
	i := 0
	for i < len(rest) && isPDFSpace(rest[i]) {
		i++
	}
	if i >= len(rest) || rest[i] != '/' {
		return "", false
	}
	j := i + 1
	for j < len(rest) && !isPDFDelim(rest[j]) {
		j++
	}
	return rest[i+1 : j], true
}

var refAnyRe = regexp.MustCompile(`(\d+)\s+(\d+)\s+R\b`)

// dictRefArray resolves an array of references: /Key [N G R M G R ...].
// A bare single reference is returned as a one-element slice.
func dictRefArray(dict, key string) []int {
	pos := keyIndex(dict, key)
	if pos < 0 {
		return nil
	}
	rest := dict[pos+len(key):]
	i := 0
	for i < len(rest) && isPDFSpace(rest[i]) {
		i++
	}
	if i < len(rest) && rest[i] == '[' {
		j := i
		depth := 0
		for j < len(rest) {
			if rest[j] == '[' {
				depth++
			} else if rest[j] == ']' {
				depth--
				if depth == 0 {
					break
				}
			}
			j++
		}
		var out []int
		for _, m := range refAnyRe.FindAllStringSubmatch(rest[i:j+1], -1) {
			n, _ := strconv.Atoi(m[1])
			out = append(out, n)
		}
		return out
	}
	if m := refRe.FindStringSubmatch(rest); m != nil {
		n, _ := strconv.Atoi(m[1])
		return []int{n}
	}
	return nil
}

// valueSpan returns the [start,end) span of the value belonging to key
// inside dict, for in-place rewriting. Supports refs, arrays, dicts, names
// and numbers.
func valueSpan(dict, key string) (int, int, bool) {
	pos := keyIndex(dict, key)
	if pos < 0 {
		return 0, 0, false
	}
	i := pos + len(key)
	for i < len(dict) && isPDFSpace(dict[i]) {
		i++
	}
	if i >= len(dict) {
		return 0, 0, false
	}
	switch dict[i] {
	case '[':
		depth := 0
		for j := i; j < len(dict); j++ {
			if dict[j] == '[' {
				depth++
			} else if dict[j] == ']' {
				depth--
				if depth == 0 {
					return i, j + 1, true
				}
			}
		}
	case '<':
		if i+1 < len(dict) && dict[i+1] == '<' {
			if sub, end := scanDict([]byte(dict), i); sub != "" {
				return i, end, true
			}
		}
	case '/':
		j := i + 1
		for j < len(dict) && !isPDFDelim(dict[j]) {
			j++
		}
		return i, j, true
	default:
		// Number, possibly an indirect reference "N G R".
		if m := refRe.FindStringIndex(dict[i:]); m != nil && m[0] == 0 {
			return i, i + m[1], true
		}
		j := i
		for j < len(dict) && !isPDFDelim(dict[j]) {
			j++
		}
		return i, j, true
	}
	return 0, 0, false
}

// pageTree resolves the ordered list of page object numbers by walking the
// catalog's /Pages tree. Order matters: candidate page indexes map onto it.
func pageTree(objs map[int]object) ([]int, error) {
	rootPages := -1
	for _, o := range objs {
		if t, ok := dictName(o.dict, "/Type"); ok && t == "Catalog" {
			if p, ok := dictRef(o.dict, "/Pages"); ok {
				rootPages = p
				break
			}
		}
	}
	if rootPages < 0 {
		return nil, ErrUnsupportedLayout
	}

	var pages []int
	seen := make(map[int]bool)
	var walk func(num int) error
	walk = func(num int) error {
		if seen[num] {
			return fmt.Errorf("marker: cycle in page tree at object %d", num)
		}
		seen[num] = true
		o, ok := objs[num]
		if !ok {
			return ErrUnsupportedLayout
		}
		switch t, _ := dictName(o.dict, "/Type"); t {
		case "Pages":
			for _, kid := range dictRefArray(o.dict, "/Kids") {
				if err := walk(kid); err != nil {
					return err
				}
			}
			return nil
		case "Page":
			pages = append(pages, num)
			return nil
		default:
			return ErrUnsupportedLayout
		}
	}
	if err := walk(rootPages); err != nil {
		return nil, err
	}
	if len(pages) == 0 {
		return nil, ErrUnsupportedLayout
	}
	return pages, nil
}

var startXrefRe = regexp.MustCompile(`startxref\s+(\d+)`)

// lastStartXref returns the offset recorded by the final startxref keyword.
func lastStartXref(data []byte) (int64, bool) {
	ms := startXrefRe.FindAllSubmatch(data, -1)
	if len(ms) == 0 {
		return 0, false
	}
	n, err := strconv.ParseInt(string(ms[len(ms)-1][1]), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

var rootRefRe = regexp.MustCompile(`/Root\s+(\d+)\s+(\d+)\s+R`)

// trailerRoot returns the catalog reference from the newest trailer.
func trailerRoot(data []byte) (int, int, bool) {
	ms := rootRefRe.FindAllSubmatch(data, -1)
	if len(ms) == 0 {
		return 0, 0, false
	}
	m := ms[len(ms)-1]
	num, _ := strconv.Atoi(string(m[1]))
	gen, _ := strconv.Atoi(string(m[2]))
	return num, gen, true
}

// isEncrypted checks the tail of the document for an /Encrypt trailer entry.
// Only the region after the last startxref-bearing trailer is inspected so
// page content cannot trigger a false positive.
func isEncrypted(data []byte) bool {
	tail := data
	if len(tail) > 4096 {
		tail = tail[len(tail)-4096:]
	}
	if idx := bytes.LastIndex(tail, []byte("trailer")); idx >= 0 {
		return bytes.Contains(tail[idx:], []byte("/Encrypt"))
	}
	return bytes.Contains(tail, []byte("/Encrypt"))
}
