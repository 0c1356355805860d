package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/brunobiangulo/texrag/llm"
	"github.com/brunobiangulo/texrag/store"
)

// ---------------------------------------------------------------------------
// Math-notation detection for query routing.
// When a query contains literal notation (LaTeX commands, inline math,
// equation references) we boost FTS weight and reduce vector weight so
// that exact-match retrieval is preferred over semantic similarity.
// Embeddings are poor at distinguishing \sigma from \Sigma; FTS is not.
// ---------------------------------------------------------------------------
var notationPatterns = []*regexp.Regexp{
	// LaTeX commands: \frac, \alpha, \sum_{i=1}
	regexp.MustCompile(`\\[a-zA-Z]{2,}`),
	// Inline math spans: $...$
	regexp.MustCompile(`\$[^$]+\$`),
	// Equation references: eq. (3), equation 12, Eq 4.2
	regexp.MustCompile(`(?i)\beq(?:uation)?\.?\s*\(?\d+(?:\.\d+)?\)?`),
	// Caret/underscore notation outside math mode: x^2, a_{ij}
	regexp.MustCompile(`\w[\^_]\{?\w`),
}

// detectNotation returns true if the query contains literal mathematical
// notation rather than a prose description of it.
func detectNotation(query string) bool {
	for _, p := range notationPatterns {
		if p.MatchString(query) {
			return true
		}
	}
	return false
}

// Config holds retrieval engine configuration.
type Config struct {
	WeightVector float64
	WeightFTS    float64
	// FormulaBoost is the multiplicative score boost applied to chunks
	// containing formulas when the query has formula intent. 1.0 disables.
	FormulaBoost float64
}

// DefaultConfig returns balanced hybrid weights with a mild formula boost.
func DefaultConfig() Config {
	return Config{
		WeightVector: 1.0,
		WeightFTS:    1.0,
		FormulaBoost: 1.15,
	}
}

// SearchOptions configures a single search operation.
type SearchOptions struct {
	MaxResults int
	WeightVec  float64
	WeightFTS  float64
}

// SearchTrace records the full breakdown of a hybrid search operation.
type SearchTrace struct {
	VecResults       int                       `json:"vec_results"`
	FTSResults       int                       `json:"fts_results"`
	FusedResults     int                       `json:"fused_results"`
	VecWeight        float64                   `json:"vec_weight"`
	FTSWeight        float64                   `json:"fts_weight"`
	NotationDetected bool                      `json:"notation_detected"`
	FormulaIntent    bool                      `json:"formula_intent"`
	MaxRequested     int                       `json:"max_requested"`
	FTSQuery         string                    `json:"fts_query"`
	ElapsedMs        int64                     `json:"elapsed_ms"`
	PerResult        map[int64]FusedResultInfo `json:"per_result,omitempty"`
}

// Engine performs hybrid retrieval combining vector and FTS search.
type Engine struct {
	store    *store.Store
	embedder llm.Provider
	cfg      Config
}

// New creates a new retrieval engine.
func New(s *store.Store, embedder llm.Provider, cfg Config) *Engine {
	if cfg.WeightVector == 0 {
		cfg.WeightVector = 1.0
	}
	if cfg.WeightFTS == 0 {
		cfg.WeightFTS = 1.0
	}
	if cfg.FormulaBoost == 0 {
		cfg.FormulaBoost = 1.0
	}
	return &Engine{
		store:    s,
		embedder: embedder,
		cfg:      cfg,
	}
}

// Search performs hybrid retrieval using RRF to fuse vector and FTS5
// results. Returns fused results and a SearchTrace with the breakdown.
func (e *Engine) Search(ctx context.Context, query string, opts SearchOptions) ([]store.RetrievalResult, *SearchTrace, error) {
	if opts.MaxResults == 0 {
		opts.MaxResults = 20
	}
	if opts.WeightVec == 0 {
		opts.WeightVec = e.cfg.WeightVector
	}
	if opts.WeightFTS == 0 {
		opts.WeightFTS = e.cfg.WeightFTS
	}

	trace := &SearchTrace{
		VecWeight: opts.WeightVec,
		FTSWeight: opts.WeightFTS,
	}

	// Notation-aware query routing: when the query contains literal math
	// notation, boost FTS weight by 2x and halve vector weight so exact
	// symbol matches outrank semantic neighbors.
	if detectNotation(query) {
		slog.Debug("retrieval: math notation detected in query, boosting FTS weight",
			"query", query,
			"original_fts", opts.WeightFTS,
			"original_vec", opts.WeightVec)
		opts.WeightFTS *= 2.0
		opts.WeightVec *= 0.5
		trace.NotationDetected = true
		trace.VecWeight = opts.WeightVec
		trace.FTSWeight = opts.WeightFTS
	}

	formulaIntent := isFormulaQuery(query)
	trace.FormulaIntent = formulaIntent

	ftsQuery := sanitizeFTSQuery(query)
	trace.FTSQuery = ftsQuery

	slog.Debug("retrieval: starting hybrid search",
		"query_len", len(query), "max_results", opts.MaxResults,
		"weights", fmt.Sprintf("vec=%.1f fts=%.1f", opts.WeightVec, opts.WeightFTS))
	searchStart := time.Now()

	type result struct {
		results []store.RetrievalResult
		err     error
	}

	vecCh := make(chan result, 1)
	ftsCh := make(chan result, 1)

	go func() {
		r, err := e.vectorSearch(ctx, query, opts.MaxResults)
		vecCh <- result{r, err}
	}()

	go func() {
		r, err := e.store.FTSSearch(ctx, ftsQuery, opts.MaxResults)
		ftsCh <- result{r, err}
	}()

	vecRes := <-vecCh
	ftsRes := <-ftsCh

	if vecRes.err != nil {
		slog.Warn("retrieval: vector search failed", "error", vecRes.err)
	}
	if ftsRes.err != nil {
		slog.Warn("retrieval: fts search failed", "error", ftsRes.err)
	}
	trace.VecResults = len(vecRes.results)
	trace.FTSResults = len(ftsRes.results)

	slog.Debug("retrieval: searches complete",
		"vec_results", len(vecRes.results), "fts_results", len(ftsRes.results),
		"elapsed", time.Since(searchStart).Round(time.Millisecond))

	boost := 1.0
	if formulaIntent {
		boost = e.cfg.FormulaBoost
	}

	fused, infoMap := fuseRRF(
		vecRes.results, ftsRes.results,
		opts.WeightVec, opts.WeightFTS,
		boost,
		opts.MaxResults,
	)

	trace.FusedResults = len(fused)
	trace.MaxRequested = opts.MaxResults
	trace.PerResult = infoMap
	trace.ElapsedMs = time.Since(searchStart).Milliseconds()

	if len(fused) == 0 {
		// If both methods failed, return the first error
		if vecRes.err != nil {
			return nil, trace, fmt.Errorf("vector search: %w", vecRes.err)
		}
		if ftsRes.err != nil {
			return nil, trace, fmt.Errorf("fts search: %w", ftsRes.err)
		}
	}

	return fused, trace, nil
}

// vectorSearch generates an embedding for the query and searches vec_chunks.
func (e *Engine) vectorSearch(ctx context.Context, query string, k int) ([]store.RetrievalResult, error) {
	embeddings, err := e.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 || len(embeddings[0]) == 0 {
		return nil, fmt.Errorf("empty embedding returned")
	}
	return e.store.VectorSearch(ctx, embeddings[0], k)
}
