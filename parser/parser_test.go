package parser

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type stubParser struct {
	name     string
	markdown string
	err      error
	calls    int
}

func (s *stubParser) Name() string { return s.name }

func (s *stubParser) Parse(ctx context.Context, path string) (*Result, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &Result{Markdown: s.markdown, Method: s.name}, nil
}

func TestChainFirstUsableWins(t *testing.T) {
	good := &stubParser{name: "good", markdown: strings.Repeat("text ", 20)}
	never := &stubParser{name: "never", markdown: "unreached"}

	res, err := NewChain(good, never).Parse(context.Background(), "doc.pdf")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if res.Method != "good" {
		t.Errorf("method = %q, want good", res.Method)
	}
	if never.calls != 0 {
		t.Errorf("later backend was called %d times", never.calls)
	}
}

func TestChainFallsThroughFailures(t *testing.T) {
	failing := &stubParser{name: "failing", err: errors.New("service down")}
	empty := &stubParser{name: "empty", markdown: "   "}
	last := &stubParser{name: "last", markdown: strings.Repeat("paragraph ", 10)}

	res, err := NewChain(failing, empty, last).Parse(context.Background(), "doc.pdf")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if res.Method != "last" {
		t.Errorf("method = %q, want last", res.Method)
	}
	if failing.calls != 1 || empty.calls != 1 {
		t.Errorf("calls: failing=%d empty=%d, want 1 each", failing.calls, empty.calls)
	}
}

func TestChainAllFail(t *testing.T) {
	a := &stubParser{name: "a", err: errors.New("down")}
	b := &stubParser{name: "b", markdown: ""}

	_, err := NewChain(a, b).Parse(context.Background(), "doc.pdf")
	if err == nil {
		t.Fatal("expected error when every backend fails")
	}
	for _, want := range []string{"down", "empty output"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error %q missing %q", err, want)
		}
	}
}

func TestChainDropsNil(t *testing.T) {
	good := &stubParser{name: "good", markdown: strings.Repeat("x", 30)}
	res, err := NewChain(nil, good, nil).Parse(context.Background(), "doc.pdf")
	if err != nil || res.Method != "good" {
		t.Fatalf("res=%v err=%v", res, err)
	}
}

func TestChainEmpty(t *testing.T) {
	if _, err := NewChain().Parse(context.Background(), "doc.pdf"); err == nil {
		t.Fatal("empty chain should error")
	}
}

// ---- markdown reconstruction ----

func TestHeadingLevel(t *testing.T) {
	tests := []struct {
		line string
		want int
	}{
		{"1. Introduction", 1},
		{"2.3 Evaluation Setup", 2},
		{"4.1.2 Ablation", 3},
		{"RELATED WORK", 1},
		{"Section 5", 1},
		{"We evaluate on three benchmarks.", 0},
		{"3000 samples were collected", 0},
		{strings.Repeat("A", 130), 0},
		{"##FORMULA-0001##", 0},
	}
	for _, tt := range tests {
		if got := headingLevel(tt.line); got != tt.want {
			t.Errorf("headingLevel(%q) = %d, want %d", tt.line, got, tt.want)
		}
	}
}

func TestPageToMarkdownPreservesMarkers(t *testing.T) {
	text := "RESULTS\nThe loss is given by\n##FORMULA-0003##\nwhere theta is learned."
	got := pageToMarkdown(text)
	if !strings.Contains(got, "# RESULTS") {
		t.Errorf("heading not promoted:\n%s", got)
	}
	if !strings.Contains(got, "##FORMULA-0003##") {
		t.Errorf("marker token mangled:\n%s", got)
	}
}

func TestStripInlineImages(t *testing.T) {
	in := "before ![](data:image/png;base64,AAAA) after ![fig1](figs/a.png)"
	got := stripInlineImages(in)
	if strings.Contains(got, "data:image") {
		t.Errorf("data URI survived: %q", got)
	}
	if !strings.Contains(got, "figs/a.png") {
		t.Errorf("regular image link removed: %q", got)
	}
}

// ---- layout probe ----

func TestScanPageLayout(t *testing.T) {
	var tables Layout
	scanPageLayout("a | b | c | d\n1 | 2 | 3 | 4\n------------", &tables)
	if !tables.HasTables {
		t.Error("pipe grid not flagged as table")
	}

	var plain Layout
	scanPageLayout("The quick brown fox.\nJumps over the lazy dog.", &plain)
	if plain.NeedsStructuralParse() {
		t.Error("plain prose flagged as complex")
	}

	var cols Layout
	line := "left column text here          right column text here and more"
	scanPageLayout(strings.Repeat(line+"\n", 5), &cols)
	if !cols.IsMultiCol {
		t.Error("column gap pattern not flagged")
	}
}
