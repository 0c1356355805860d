package parser

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/gen2brain/go-fitz"
)

// FitzParser converts locally via MuPDF's HTML device and an HTML to
// markdown pass. No external service, so it is the default backend when
// no docling instance is configured.
type FitzParser struct{}

func (p *FitzParser) Name() string { return "fitz" }

// inlineImageRe drops base64 data-URI images MuPDF embeds in its HTML;
// they bloat the markdown and carry no text.
var inlineImageRe = regexp.MustCompile(`!\[[^\]]*\]\(data:image/[^)]+\)`)

func (p *FitzParser) Parse(ctx context.Context, path string) (*Result, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, fmt.Errorf("opening pdf: %w", err)
	}
	defer doc.Close()

	converter := md.NewConverter("", true, nil)
	numPages := doc.NumPage()
	var sb strings.Builder

	for i := 0; i < numPages; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		html, err := doc.HTML(i, true)
		if err != nil {
			return nil, fmt.Errorf("page %d html: %w", i, err)
		}
		text, err := converter.ConvertString(html)
		if err != nil {
			return nil, fmt.Errorf("page %d markdown: %w", i, err)
		}
		sb.WriteString(stripInlineImages(text))
		sb.WriteString("\n\n")
	}

	return &Result{
		Markdown: strings.TrimSpace(sb.String()),
		Method:   "fitz",
		Pages:    numPages,
	}, nil
}

func stripInlineImages(s string) string {
	return inlineImageRe.ReplaceAllString(s, "")
}
