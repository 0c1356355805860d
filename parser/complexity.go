package parser

import (
	"strings"

	"github.com/ledongthuc/pdf"
)

// Layout describes how hard a PDF's visual structure is for a plain
// HTML-to-markdown conversion. Documents with tables or multi-column
// layout are routed to the external structural parser when one is
// configured; simple single-column text stays local.
type Layout struct {
	HasTables  bool
	IsMultiCol bool
	HasText    bool // any extractable text layer at all
}

// NeedsStructuralParse reports whether the local converter is likely to
// mangle this document's layout.
func (l Layout) NeedsStructuralParse() bool {
	return l.HasTables || l.IsMultiCol
}

// ProbeLayout samples the document's text layer for layout signals. A
// failed probe returns the zero Layout: callers fall back to the local
// path rather than erroring out.
func ProbeLayout(path string) Layout {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return Layout{}
	}
	defer f.Close()

	var l Layout
	totalPages := reader.NumPage()
	for i := 1; i <= totalPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		if strings.TrimSpace(text) != "" {
			l.HasText = true
		}
		scanPageLayout(text, &l)
	}
	return l
}

func scanPageLayout(text string, l *Layout) {
	lines := strings.Split(text, "\n")

	tabCount, pipeCount, ruleLines := 0, 0, 0
	gapLines := 0
	for _, line := range lines {
		tabCount += strings.Count(line, "\t")
		pipeCount += strings.Count(line, "|")

		trimmed := strings.TrimSpace(line)
		if len(trimmed) > 3 && strings.Count(trimmed, "-") > len(trimmed)/2 {
			ruleLines++
		}

		// A long run of spaces mid-line on many lines suggests columns.
		if len(line) > 40 {
			mid := line[len(line)/4 : len(line)*3/4]
			if strings.Contains(mid, "      ") {
				gapLines++
			}
		}
	}

	if tabCount > 5 || pipeCount > 5 || ruleLines > 2 {
		l.HasTables = true
	}
	if gapLines > 3 {
		l.IsMultiCol = true
	}
}
