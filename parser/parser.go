// Package parser converts PDF documents to markdown. Implementations sit
// behind one boundary so the formula pipeline never depends on which
// structural parser produced the text: an external docling-serve instance,
// a local MuPDF HTML conversion, or a plain-text fallback. Whatever the
// backend, injected marker tokens must survive into the markdown verbatim.
package parser

import (
	"context"
	"errors"
	"log/slog"
	"strings"
)

// Result is what a parser produces from a PDF file.
type Result struct {
	Markdown string
	Method   string // "docling", "fitz", "native"
	Pages    int
	Metadata map[string]string
}

// Parser converts one PDF file to markdown.
type Parser interface {
	Parse(ctx context.Context, path string) (*Result, error)
	Name() string
}

// Chain tries parsers in order and returns the first usable result. A
// parser that errors, or that returns effectively empty markdown, passes
// the document to the next one.
type Chain struct {
	parsers []Parser
}

// NewChain builds a chain; nil entries are dropped.
func NewChain(parsers ...Parser) *Chain {
	c := &Chain{}
	for _, p := range parsers {
		if p != nil {
			c.parsers = append(c.parsers, p)
		}
	}
	return c
}

func (c *Chain) Name() string { return "chain" }

// minUsefulOutput filters out parses that technically succeeded but
// produced nothing worth chunking.
const minUsefulOutput = 20

func (c *Chain) Parse(ctx context.Context, path string) (*Result, error) {
	if len(c.parsers) == 0 {
		return nil, errors.New("parser chain is empty")
	}
	var errs []error
	for _, p := range c.parsers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := p.Parse(ctx, path)
		if err != nil {
			slog.Warn("parse: backend failed, trying next", "backend", p.Name(), "file", path, "error", err)
			errs = append(errs, err)
			continue
		}
		if len(strings.TrimSpace(res.Markdown)) < minUsefulOutput {
			slog.Warn("parse: backend produced no usable text", "backend", p.Name(), "file", path)
			errs = append(errs, errors.New(p.Name()+": empty output"))
			continue
		}
		return res, nil
	}
	return nil, errors.Join(errs...)
}
