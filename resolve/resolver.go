// Package resolve turns injected marker tokens back into LaTeX. Each
// candidate's rendered crop goes to a vision model on a bounded worker
// pool; results are substituted into the parsed markdown in one
// deterministic pass, and a report accounts for every candidate.
package resolve

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/brunobiangulo/texrag/formula"
	"github.com/brunobiangulo/texrag/llm"
	"github.com/brunobiangulo/texrag/marker"
)

// Status classifies the outcome for one candidate.
type Status string

const (
	// StatusResolved means the vision model produced usable LaTeX and the
	// marker was substituted.
	StatusResolved Status = "resolved"
	// StatusFailed means the vision call errored or its output was
	// rejected; the marker was handled per the unresolved policy.
	StatusFailed Status = "failed"
	// StatusSkipped means the candidate never entered resolution, e.g.
	// when injection degraded to a plain parse.
	StatusSkipped Status = "skipped"
	// StatusLost means the structural parser dropped the marker from the
	// markdown, so there was nothing to substitute.
	StatusLost Status = "lost"
)

// Policy controls what happens to markers whose resolution failed.
type Policy string

const (
	// PolicyPlaceholder substitutes a visible placeholder formula.
	PolicyPlaceholder Policy = "placeholder"
	// PolicyKeep leaves the marker token in the markdown verbatim.
	PolicyKeep Policy = "keep"
	// PolicyStrip removes the marker token.
	PolicyStrip Policy = "strip"
)

const placeholderLaTeX = `\text{[formula unresolved]}`

// Entry is the per-candidate line of a Report.
type Entry struct {
	ID     int
	Token  string
	Status Status
	LaTeX  string
	Reason string
}

// Report summarizes one document's resolution pass.
type Report struct {
	Total    int
	Resolved int
	Failed   int
	Skipped  int
	Lost     int
	Entries  []Entry
	// Leaked holds marker tokens still present in the final markdown
	// that the policy does not account for.
	Leaked []string
}

func (r *Report) count(e Entry) {
	r.Entries = append(r.Entries, e)
	r.Total++
	switch e.Status {
	case StatusResolved:
		r.Resolved++
	case StatusFailed:
		r.Failed++
	case StatusSkipped:
		r.Skipped++
	case StatusLost:
		r.Lost++
	}
}

// Skipped builds the report for a document whose candidates never went
// through resolution at all.
func Skipped(cands []formula.Candidate, reason string) *Report {
	rep := &Report{}
	for _, c := range cands {
		rep.count(Entry{ID: c.ID, Token: c.Token, Status: StatusSkipped, Reason: reason})
	}
	return rep
}

// Config tunes the resolver.
type Config struct {
	Model       string
	Concurrency int           // bounded vision calls in flight
	Timeout     time.Duration // per vision call
	Policy      Policy
}

// DefaultConfig returns the resolver defaults.
func DefaultConfig() Config {
	return Config{Concurrency: 4, Timeout: 90 * time.Second, Policy: PolicyPlaceholder}
}

// transcribePrompt is the fixed instruction sent with every crop.
const transcribePrompt = "Transcribe the mathematical formula in this image to LaTeX. " +
	"Return only the LaTeX code, with no surrounding text, no code fences and no dollar delimiters. " +
	"If the image does not contain a formula, return an empty response."

// Resolver resolves markers for one or more documents.
type Resolver struct {
	vision   llm.VisionProvider
	cfg      Config
	contract marker.Contract
}

// New builds a Resolver. Zero-value Config fields fall back to defaults.
func New(vision llm.VisionProvider, contract marker.Contract, cfg Config) *Resolver {
	def := DefaultConfig()
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Policy == "" {
		cfg.Policy = def.Policy
	}
	return &Resolver{vision: vision, cfg: cfg, contract: contract}
}

// Resolve transcribes every candidate present in the markdown and
// substitutes the results. The returned markdown is final document text;
// the report accounts for all candidates, and Report.Leaked flags any
// marker that survived substitution unexpectedly.
func (r *Resolver) Resolve(ctx context.Context, markdown string, cands []formula.Candidate) (string, *Report, error) {
	rep := &Report{}
	if len(cands) == 0 {
		rep.Leaked = r.leaked(markdown, nil)
		return markdown, rep, nil
	}

	// Markers the parser dropped are lost before any vision work: there
	// is no occurrence to substitute and no positional way to recover one.
	var live []formula.Candidate
	for _, c := range cands {
		if strings.Contains(markdown, c.Token) {
			live = append(live, c)
		} else {
			rep.count(Entry{ID: c.ID, Token: c.Token, Status: StatusLost, Reason: "marker absent from parse output"})
		}
	}

	// Id order up front so outcomes, substitution and report entries all
	// share one deterministic ordering regardless of goroutine scheduling.
	sort.Slice(live, func(a, b int) bool { return live[a].ID < live[b].ID })

	start := time.Now()
	type outcome struct {
		latex string
		err   error
	}
	outcomes := make([]outcome, len(live))

	var wg sync.WaitGroup
	sem := make(chan struct{}, r.cfg.Concurrency)
	for i := range live {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				outcomes[i].err = ctx.Err()
				return
			}
			callCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
			defer cancel()
			outcomes[i].latex, outcomes[i].err = r.transcribe(callCtx, live[i])
		}(i)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return "", nil, err
	}

	for i, c := range live {
		out := outcomes[i]
		if out.err != nil {
			markdown = r.applyPolicy(markdown, c.Token)
			rep.count(Entry{ID: c.ID, Token: c.Token, Status: StatusFailed, Reason: out.err.Error()})
			slog.Warn("resolve: candidate failed", "id", c.ID, "error", out.err)
			continue
		}
		markdown = strings.ReplaceAll(markdown, c.Token, "$$"+out.latex+"$$")
		rep.count(Entry{ID: c.ID, Token: c.Token, Status: StatusResolved, LaTeX: out.latex})
	}

	rep.Leaked = r.leaked(markdown, rep)
	slog.Info("resolve: document complete",
		"total", rep.Total, "resolved", rep.Resolved, "failed", rep.Failed,
		"lost", rep.Lost, "leaked", len(rep.Leaked),
		"elapsed", time.Since(start).Round(time.Millisecond))
	return markdown, rep, nil
}

func (r *Resolver) transcribe(ctx context.Context, c formula.Candidate) (string, error) {
	if len(c.Image) == 0 {
		return "", fmt.Errorf("candidate %d has no rendered image", c.ID)
	}
	req := llm.VisionChatRequest{
		Model: r.cfg.Model,
		Messages: []llm.VisionMessage{{
			Role: "user",
			Content: []llm.ContentPart{
				{Type: "text", Text: transcribePrompt},
				{Type: "image_url", ImageURL: &llm.ImageURL{
					URL: "data:image/png;base64," + base64.StdEncoding.EncodeToString(c.Image),
				}},
			},
		}},
	}
	resp, err := r.vision.ChatWithImages(ctx, req)
	if err != nil {
		return "", err
	}
	latex, err := CleanLaTeX(resp.Content)
	if err != nil {
		return "", err
	}
	if r.contract.Pattern().MatchString(latex) {
		return "", fmt.Errorf("model echoed the marker token")
	}
	return latex, nil
}

func (r *Resolver) applyPolicy(markdown, token string) string {
	switch r.cfg.Policy {
	case PolicyKeep:
		return markdown
	case PolicyStrip:
		return strings.ReplaceAll(markdown, token, "")
	default:
		return strings.ReplaceAll(markdown, token, "$$"+placeholderLaTeX+"$$")
	}
}

// leaked scans the final markdown for surviving tokens not permitted by
// the keep policy.
func (r *Resolver) leaked(markdown string, rep *Report) []string {
	survivors := r.contract.FindAll(markdown)
	if len(survivors) == 0 {
		return nil
	}
	if r.cfg.Policy != PolicyKeep || rep == nil {
		return survivors
	}
	kept := make(map[string]bool)
	for _, e := range rep.Entries {
		if e.Status == StatusFailed {
			kept[e.Token] = true
		}
	}
	var leaked []string
	for _, tok := range survivors {
		if !kept[tok] {
			leaked = append(leaked, tok)
		}
	}
	return leaked
}

// CleanLaTeX normalizes raw vision output into bare LaTeX. The cleanup is
// structural only: delimiters and fences are stripped, whitespace is
// collapsed, and output that is empty or brace-unbalanced is rejected.
// The mathematical content itself is taken as-is.
func CleanLaTeX(raw string) (string, error) {
	s := strings.TrimSpace(raw)

	// Code fences, with or without a language tag.
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if idx := strings.IndexByte(s, '\n'); idx >= 0 && !strings.ContainsAny(s[:idx], `\{}`) {
			s = s[idx+1:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}

	// Dollar delimiters the prompt asked the model not to add.
	s = strings.TrimSpace(strings.Trim(s, "$"))
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(s, `\[`), `\]`))

	s = strings.Join(strings.Fields(s), " ")

	if s == "" {
		return "", fmt.Errorf("empty transcription")
	}
	if !bracesBalanced(s) {
		return "", fmt.Errorf("unbalanced braces in transcription")
	}
	return s, nil
}

func bracesBalanced(s string) bool {
	depth := 0
	for i := 0; i < len(s); i++ {
		if i > 0 && s[i-1] == '\\' {
			// \{ and \} are literal braces.
			if s[i] == '{' || s[i] == '}' {
				continue
			}
		}
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth < 0 {
				return false
			}
		}
	}
	return depth == 0
}
