package parser

import (
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// NativeParser is the last-resort text extractor. It reads the PDF text
// layer directly and reconstructs minimal markdown structure from heading
// patterns. Layout fidelity is poor, but marker tokens in the text layer
// still come through.
type NativeParser struct{}

func (p *NativeParser) Name() string { return "native" }

func (p *NativeParser) Parse(ctx context.Context, path string) (*Result, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening pdf: %w", err)
	}
	defer f.Close()

	totalPages := reader.NumPage()
	var sb strings.Builder

	for i := 1; i <= totalPages; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// Pages that fail extraction are skipped, not fatal.
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		sb.WriteString(pageToMarkdown(text))
		sb.WriteString("\n\n")
	}

	return &Result{
		Markdown: strings.TrimSpace(sb.String()),
		Method:   "native",
		Pages:    totalPages,
	}, nil
}

// pageToMarkdown turns a page's plain text into markdown, promoting lines
// that look like headings.
func pageToMarkdown(text string) string {
	lines := strings.Split(text, "\n")
	var out []string
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			out = append(out, "")
			continue
		}
		if level := headingLevel(trimmed); level > 0 {
			out = append(out, strings.Repeat("#", level)+" "+trimmed)
		} else {
			out = append(out, trimmed)
		}
	}
	return strings.Join(out, "\n")
}

// headingLevel reports the markdown heading depth for a line, or 0 when
// the line is body text. Numbered sections map dot depth to heading
// depth; short all-caps lines are treated as top level.
func headingLevel(line string) int {
	if len(line) > 120 {
		return 0
	}
	// Lines that already carry markdown syntax, marker tokens included,
	// stay as-is.
	if line[0] == '#' {
		return 0
	}

	// Numbered section like "1.", "2.3", "4.1.2 Title".
	if line[0] >= '0' && line[0] <= '9' {
		head := line
		if idx := strings.IndexByte(head, ' '); idx > 0 {
			head = head[:idx]
		}
		if len(head) <= 10 && strings.Contains(head, ".") {
			depth := strings.Count(strings.TrimSuffix(head, "."), ".") + 1
			if depth > 4 {
				depth = 4
			}
			return depth
		}
		return 0
	}

	lower := strings.ToLower(line)
	for _, prefix := range []string{"section ", "chapter ", "appendix ", "part "} {
		if strings.HasPrefix(lower, prefix) {
			return 1
		}
	}

	// Short all-caps line with some letters in it.
	if len(line) < 80 && line == strings.ToUpper(line) && strings.IndexFunc(line, isLetter) >= 0 {
		return 1
	}
	return 0
}

func isLetter(r rune) bool {
	return (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z')
}
