package resolve

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/brunobiangulo/texrag/formula"
	"github.com/brunobiangulo/texrag/llm"
	"github.com/brunobiangulo/texrag/marker"
)

// stubVision maps candidate image bytes to canned responses.
type stubVision struct {
	responses map[string]string // image payload -> model output
	err       error
	calls     atomic.Int32
}

func (s *stubVision) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	return nil, errors.New("not used")
}

func (s *stubVision) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, errors.New("not used")
}

func (s *stubVision) ChatWithImages(ctx context.Context, req llm.VisionChatRequest) (*llm.ChatResponse, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	for _, part := range req.Messages[0].Content {
		if part.ImageURL == nil {
			continue
		}
		for key, out := range s.responses {
			if strings.Contains(part.ImageURL.URL, key) {
				return &llm.ChatResponse{Content: out}, nil
			}
		}
	}
	return &llm.ChatResponse{Content: "x"}, nil
}

func candidate(id int, img string) formula.Candidate {
	return formula.Candidate{
		ID:    id,
		Token: marker.DefaultContract().Format(id),
		Image: []byte(img),
	}
}

func newTestResolver(v llm.VisionProvider, policy Policy) *Resolver {
	return New(v, marker.DefaultContract(), Config{Policy: policy})
}

func TestResolveSubstitutes(t *testing.T) {
	// base64("img-a") and base64("img-b") as payload keys.
	vision := &stubVision{responses: map[string]string{
		"aW1nLWE": `E = mc^2`,
		"aW1nLWI": "```latex\n\\frac{a}{b}\n```",
	}}
	r := newTestResolver(vision, PolicyPlaceholder)

	md := "Energy: ##FORMULA-0001## and ratio ##FORMULA-0002##."
	out, rep, err := r.Resolve(context.Background(), md,
		[]formula.Candidate{candidate(1, "img-a"), candidate(2, "img-b")})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !strings.Contains(out, "$$E = mc^2$$") {
		t.Errorf("first formula not substituted: %q", out)
	}
	if !strings.Contains(out, `$$\frac{a}{b}$$`) {
		t.Errorf("fenced output not cleaned and substituted: %q", out)
	}
	if rep.Resolved != 2 || rep.Total != 2 {
		t.Errorf("report = %+v", rep)
	}
	if len(rep.Leaked) != 0 {
		t.Errorf("unexpected leakage: %v", rep.Leaked)
	}
}

func TestResolveLostMarker(t *testing.T) {
	vision := &stubVision{responses: map[string]string{"aW1nLWE": "a+b"}}
	r := newTestResolver(vision, PolicyPlaceholder)

	// The parser dropped the second marker entirely.
	md := "Only ##FORMULA-0001## survived parsing."
	out, rep, err := r.Resolve(context.Background(), md,
		[]formula.Candidate{candidate(1, "img-a"), candidate(2, "img-b")})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if rep.Resolved != 1 || rep.Lost != 1 {
		t.Errorf("report = %+v", rep)
	}
	if vision.calls.Load() != 1 {
		t.Errorf("lost candidate still sent to vision: %d calls", vision.calls.Load())
	}
	if strings.Contains(out, "##FORMULA-") {
		t.Errorf("marker left behind: %q", out)
	}
}

func TestResolveFailurePolicies(t *testing.T) {
	md := "Before ##FORMULA-0001## after."
	cands := []formula.Candidate{candidate(1, "img-a")}

	tests := []struct {
		policy     Policy
		wantSubstr string
		wantMarker bool
		wantLeak   int
	}{
		{PolicyPlaceholder, `\text{[formula unresolved]}`, false, 0},
		{PolicyKeep, "##FORMULA-0001##", true, 0},
		{PolicyStrip, "Before  after.", false, 0},
	}
	for _, tt := range tests {
		vision := &stubVision{err: errors.New("model unavailable")}
		r := newTestResolver(vision, tt.policy)
		out, rep, err := r.Resolve(context.Background(), md, cands)
		if err != nil {
			t.Fatalf("policy %s: %v", tt.policy, err)
		}
		if rep.Failed != 1 {
			t.Errorf("policy %s: report = %+v", tt.policy, rep)
		}
		if !strings.Contains(out, tt.wantSubstr) {
			t.Errorf("policy %s: output %q missing %q", tt.policy, out, tt.wantSubstr)
		}
		if got := strings.Contains(out, "##FORMULA-0001##"); got != tt.wantMarker {
			t.Errorf("policy %s: marker present = %v", tt.policy, got)
		}
		if len(rep.Leaked) != tt.wantLeak {
			t.Errorf("policy %s: leaked = %v", tt.policy, rep.Leaked)
		}
	}
}

func TestResolveDetectsLeakage(t *testing.T) {
	vision := &stubVision{responses: map[string]string{"aW1nLWE": "a+b"}}
	r := newTestResolver(vision, PolicyPlaceholder)

	// A marker nothing knows about, e.g. from a stale working copy.
	md := "##FORMULA-0001## plus stray ##FORMULA-0099##."
	_, rep, err := r.Resolve(context.Background(), md,
		[]formula.Candidate{candidate(1, "img-a")})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(rep.Leaked) != 1 || rep.Leaked[0] != "##FORMULA-0099##" {
		t.Errorf("leaked = %v", rep.Leaked)
	}
}

func TestResolveMarkerEcho(t *testing.T) {
	vision := &stubVision{responses: map[string]string{"aW1nLWE": "##FORMULA-0001##"}}
	r := newTestResolver(vision, PolicyStrip)

	out, rep, err := r.Resolve(context.Background(), "x ##FORMULA-0001## y",
		[]formula.Candidate{candidate(1, "img-a")})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if rep.Failed != 1 {
		t.Errorf("echoed marker accepted: %+v", rep)
	}
	if strings.Contains(out, "##FORMULA-") {
		t.Errorf("marker survived strip policy: %q", out)
	}
}

func TestSkippedReport(t *testing.T) {
	rep := Skipped([]formula.Candidate{candidate(1, ""), candidate(2, "")}, "injection unavailable")
	if rep.Skipped != 2 || rep.Total != 2 {
		t.Errorf("report = %+v", rep)
	}
	if rep.Entries[0].Reason != "injection unavailable" {
		t.Errorf("reason = %q", rep.Entries[0].Reason)
	}
}

// ---- LaTeX cleanup ----

func TestCleanLaTeX(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{`E = mc^2`, `E = mc^2`, false},
		{"```latex\n\\alpha + \\beta\n```", `\alpha + \beta`, false},
		{"```\nx^2\n```", `x^2`, false},
		{`$x+y$`, `x+y`, false},
		{`$$\sum_{i=0}^n i$$`, `\sum_{i=0}^n i`, false},
		{`\[ a b \]`, `a b`, false},
		{"  \\frac{1}{2}\n\n", `\frac{1}{2}`, false},
		{`a   b\tc`, `a b\tc`, false},
		{``, ``, true},
		{`$$$$`, ``, true},
		{`\frac{1}{2`, ``, true},
		{`x}`, ``, true},
		{`\{ 1, 2 \}`, `\{ 1, 2 \}`, false},
	}
	for _, tt := range tests {
		got, err := CleanLaTeX(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("CleanLaTeX(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("CleanLaTeX(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
