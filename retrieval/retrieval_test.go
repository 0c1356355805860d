package retrieval

import (
	"strings"
	"testing"

	"github.com/brunobiangulo/texrag/store"
)

// ---- RRF fusion ----

func TestFuseRRF(t *testing.T) {
	vec := []store.RetrievalResult{
		{ChunkID: 1, Content: "a"},
		{ChunkID: 2, Content: "b"},
	}
	fts := []store.RetrievalResult{
		{ChunkID: 2, Content: "b"},
		{ChunkID: 3, Content: "c"},
	}

	results, infoMap := fuseRRF(vec, fts, 1.0, 1.0, 1.0, 10)

	if len(results) != 3 {
		t.Fatalf("expected 3 fused results, got %d", len(results))
	}

	// Verify method tracking
	if info, ok := infoMap[2]; !ok || len(info.Methods) != 2 {
		t.Errorf("chunk 2 should have 2 methods (vec+fts), got %v", infoMap[2])
	}
	if info, ok := infoMap[1]; !ok || len(info.Methods) != 1 || info.VecRank != 1 {
		t.Errorf("chunk 1 should have vec rank 1, got %v", infoMap[1])
	}

	// Compute expected scores manually using RRF formula: weight / (k + rank + 1)
	// where k = 60 (rrfK constant).
	//
	// Chunk 1: vec rank 0 -> 1.0/(60+0+1) = 1/61
	// Chunk 2: vec rank 1 -> 1.0/(60+1+1) = 1/62, fts rank 0 -> 1.0/(60+0+1) = 1/61
	//          total = 1/62 + 1/61 ≈ 0.03252
	// Chunk 3: fts rank 1 -> 1.0/(60+1+1) = 1/62

	chunk1Score := 1.0 / 61.0
	chunk2Score := 1.0/62.0 + 1.0/61.0
	chunk3Score := 1.0 / 62.0

	// Chunk 2 should rank first: it appears in both methods.
	if results[0].ChunkID != 2 {
		t.Errorf("expected chunk 2 first (highest score), got chunk %d", results[0].ChunkID)
	}
	if results[1].ChunkID != 1 {
		t.Errorf("expected chunk 1 second, got chunk %d", results[1].ChunkID)
	}
	if results[2].ChunkID != 3 {
		t.Errorf("expected chunk 3 last, got chunk %d", results[2].ChunkID)
	}

	const eps = 1e-9
	if diff := results[0].Score - chunk2Score; diff < -eps || diff > eps {
		t.Errorf("chunk 2 score: got %f, want %f", results[0].Score, chunk2Score)
	}
	if diff := results[1].Score - chunk1Score; diff < -eps || diff > eps {
		t.Errorf("chunk 1 score: got %f, want %f", results[1].Score, chunk1Score)
	}
	if diff := results[2].Score - chunk3Score; diff < -eps || diff > eps {
		t.Errorf("chunk 3 score: got %f, want %f", results[2].Score, chunk3Score)
	}
}

func TestFuseRRFMaxResults(t *testing.T) {
	vec := []store.RetrievalResult{
		{ChunkID: 1}, {ChunkID: 2}, {ChunkID: 3}, {ChunkID: 4},
	}

	results, _ := fuseRRF(vec, nil, 1.0, 1.0, 1.0, 2)
	if len(results) != 2 {
		t.Fatalf("expected 2 results after truncation, got %d", len(results))
	}
	// Truncation keeps the highest-ranked entries.
	if results[0].ChunkID != 1 || results[1].ChunkID != 2 {
		t.Errorf("expected chunks 1, 2 after truncation, got %d, %d",
			results[0].ChunkID, results[1].ChunkID)
	}
}

func TestFuseRRFFormulaBoost(t *testing.T) {
	// Two chunks with identical rank profiles; only the formula chunk
	// gets boosted, so it must come out ahead.
	vec := []store.RetrievalResult{
		{ChunkID: 1, HasFormula: false},
		{ChunkID: 2, HasFormula: true},
	}
	fts := []store.RetrievalResult{
		{ChunkID: 2, HasFormula: true},
		{ChunkID: 1, HasFormula: false},
	}

	results, _ := fuseRRF(vec, fts, 1.0, 1.0, 1.5, 10)
	if results[0].ChunkID != 2 {
		t.Errorf("expected boosted formula chunk first, got chunk %d", results[0].ChunkID)
	}

	// With boost disabled the tie-break is arbitrary but the scores
	// must be equal.
	results, _ = fuseRRF(vec, fts, 1.0, 1.0, 1.0, 10)
	if results[0].Score != results[1].Score {
		t.Errorf("scores should be equal without boost: %f vs %f",
			results[0].Score, results[1].Score)
	}
}

func TestFuseRRFWeights(t *testing.T) {
	vec := []store.RetrievalResult{{ChunkID: 1}}
	fts := []store.RetrievalResult{{ChunkID: 2}}

	// FTS weight doubled: the FTS-only chunk must outrank the vec-only
	// chunk even though both are rank 1 in their own list.
	results, _ := fuseRRF(vec, fts, 0.5, 2.0, 1.0, 10)
	if results[0].ChunkID != 2 {
		t.Errorf("expected fts chunk first under boosted weight, got %d", results[0].ChunkID)
	}
}

// ---- query routing ----

func TestDetectNotation(t *testing.T) {
	tests := []struct {
		query string
		want  bool
	}{
		{`what is \frac{a}{b} used for`, true},
		{`explain $E = mc^2$`, true},
		{`see equation (12)`, true},
		{`see eq. 4.2`, true},
		{`value of x^2 in the model`, true},
		{`subscript a_{ij} of the matrix`, true},
		{`how does the attention mechanism work`, false},
		{`price in $ dollars`, false},
		{`slash\ttab`, false},
	}

	for _, tt := range tests {
		if got := detectNotation(tt.query); got != tt.want {
			t.Errorf("detectNotation(%q) = %v, want %v", tt.query, got, tt.want)
		}
	}
}

func TestIsFormulaQuery(t *testing.T) {
	tests := []struct {
		query string
		want  bool
	}{
		{"what is the formula for variance", true},
		{"derive the update equation", true},
		{"proof of the central limit theorem", true},
		{"closed form of the sum", true},
		{"who wrote this paper", false},
		{"summarize the introduction", false},
	}

	for _, tt := range tests {
		if got := isFormulaQuery(tt.query); got != tt.want {
			t.Errorf("isFormulaQuery(%q) = %v, want %v", tt.query, got, tt.want)
		}
	}
}

// ---- FTS query sanitization ----

func TestSanitizeFTSQuery(t *testing.T) {
	got := sanitizeFTSQuery("gradient descent update")
	if !strings.Contains(got, `"gradient descent update"`) {
		t.Errorf("expected quoted phrase in %q", got)
	}
	if !strings.Contains(got, "gradient") || !strings.Contains(got, " OR ") {
		t.Errorf("expected OR-joined terms in %q", got)
	}
}

func TestSanitizeFTSQueryStripsLatex(t *testing.T) {
	got := sanitizeFTSQuery(`meaning of $\frac{dx}{dt}$`)
	for _, forbidden := range []string{"$", "\\", "{", "}"} {
		if strings.Contains(got, forbidden) {
			t.Errorf("sanitized query still contains %q: %q", forbidden, got)
		}
	}
	// The command name itself survives as a searchable term.
	if !strings.Contains(got, "frac") {
		t.Errorf("expected latex command name to survive in %q", got)
	}
}

func TestSanitizeFTSQueryStopWordsOnly(t *testing.T) {
	// A query of nothing but stop words still produces a usable FTS string.
	got := sanitizeFTSQuery("is the")
	if got == "" {
		t.Error("expected non-empty query for stop-word input")
	}
	if strings.Contains(got, "(") || strings.Contains(got, "\"\"") {
		t.Errorf("unexpected FTS syntax in %q", got)
	}
}

func TestSanitizeFTSQueryEmpty(t *testing.T) {
	if got := sanitizeFTSQuery(""); got != "" {
		t.Errorf("expected passthrough for empty query, got %q", got)
	}
}
