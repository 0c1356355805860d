// Package texrag is a retrieval-augmented generation engine for PDF
// documents whose mathematical formulas are drawn as vector primitives
// rather than encoded as text. Formula regions are detected geometrically,
// replaced in a working copy of the PDF by marker tokens, carried as
// plain text through structural parsing, and finally substituted with
// LaTeX transcribed by a vision model.
package texrag

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/brunobiangulo/texrag/chunker"
	"github.com/brunobiangulo/texrag/fitzdoc"
	"github.com/brunobiangulo/texrag/formula"
	"github.com/brunobiangulo/texrag/llm"
	"github.com/brunobiangulo/texrag/marker"
	"github.com/brunobiangulo/texrag/parser"
	"github.com/brunobiangulo/texrag/resolve"
	"github.com/brunobiangulo/texrag/retrieval"
	"github.com/brunobiangulo/texrag/store"
)

// Engine is the main entry point for the formula-aware RAG pipeline.
type Engine interface {
	// ExtractFormulas runs the marker pipeline end to end for one PDF:
	// detection, injection, structural parsing and vision resolution.
	// No persistence; Ingest builds on this.
	ExtractFormulas(ctx context.Context, path string) (*ExtractResult, error)

	// Ingest extracts, chunks, embeds, and stores a document.
	// Returns document ID. Skips if content hash unchanged.
	Ingest(ctx context.Context, path string, opts ...IngestOption) (int64, error)

	// Query runs a question through hybrid retrieval and answers it with
	// the chat model.
	Query(ctx context.Context, question string, opts ...QueryOption) (*Answer, error)

	// Update re-checks a document by hash. Re-ingests if changed.
	Update(ctx context.Context, path string) (bool, error)

	// UpdateAll checks all ingested documents for changes.
	UpdateAll(ctx context.Context) ([]UpdateResult, error)

	// Delete removes a document and all associated data.
	Delete(ctx context.Context, documentID int64) error

	// ListDocuments returns all ingested documents.
	ListDocuments(ctx context.Context) ([]Document, error)

	// Store returns the underlying store for diagnostic access.
	Store() *store.Store

	// Close cleanly shuts down the engine.
	Close() error
}

// ExtractResult is the outcome of the marker pipeline for one document.
type ExtractResult struct {
	Markdown    string               `json:"markdown"`
	ParseMethod string               `json:"parse_method"`
	Pages       int                  `json:"pages"`
	Candidates  []formula.Candidate  `json:"candidates,omitempty"`
	Rejections  []formula.Rejection  `json:"rejections,omitempty"`
	Report      *resolve.Report      `json:"report"`
	// WorkingCopy is the path of the marker-injected PDF, empty when the
	// document took the plain parse path.
	WorkingCopy string `json:"working_copy,omitempty"`
}

// Answer represents the result of a query.
type Answer struct {
	Text             string                 `json:"text"`
	Sources          []Source               `json:"sources"`
	RetrievalTrace   *retrieval.SearchTrace `json:"retrieval_trace,omitempty"`
	ModelUsed        string                 `json:"model_used"`
	PromptTokens     int                    `json:"prompt_tokens"`
	CompletionTokens int                    `json:"completion_tokens"`
	TotalTokens      int                    `json:"total_tokens"`
}

// Source represents a retrieved source chunk backing an answer.
type Source struct {
	ChunkID    int64   `json:"chunk_id"`
	DocumentID int64   `json:"document_id"`
	Filename   string  `json:"filename"`
	Content    string  `json:"content"`
	Heading    string  `json:"heading"`
	HasFormula bool    `json:"has_formula"`
	// Snippet is the 1-2 sentences of the chunk most relevant to the
	// answer, for compact source display.
	Snippet string  `json:"snippet,omitempty"`
	Score   float64 `json:"score"`
}

// Document represents an ingested document.
type Document struct {
	ID              int64             `json:"id"`
	Path            string            `json:"path"`
	Filename        string            `json:"filename"`
	ContentHash     string            `json:"content_hash"`
	ParseMethod     string            `json:"parse_method"`
	Status          string            `json:"status"`
	FormulaTotal    int               `json:"formula_total"`
	FormulaResolved int               `json:"formula_resolved"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	CreatedAt       string            `json:"created_at"`
	UpdatedAt       string            `json:"updated_at"`
}

// UpdateResult reports the outcome of a document update check.
type UpdateResult struct {
	DocumentID int64  `json:"document_id"`
	Path       string `json:"path"`
	Changed    bool   `json:"changed"`
	Error      error  `json:"error,omitempty"`
}

// IngestOption configures ingestion behavior.
type IngestOption func(*ingestOptions)

type ingestOptions struct {
	forceReparse bool
	metadata     map[string]string
}

// WithForceReparse forces re-processing even if the hash hasn't changed.
func WithForceReparse() IngestOption {
	return func(o *ingestOptions) { o.forceReparse = true }
}

// WithMetadata attaches custom metadata to the ingested document.
func WithMetadata(metadata map[string]string) IngestOption {
	return func(o *ingestOptions) { o.metadata = metadata }
}

// QueryOption configures query behavior.
type QueryOption func(*queryOptions)

type queryOptions struct {
	maxResults int
	weightVec  float64
	weightFTS  float64
}

// WithMaxResults sets the maximum number of chunks to retrieve.
func WithMaxResults(n int) QueryOption {
	return func(o *queryOptions) { o.maxResults = n }
}

// WithWeights overrides the retrieval weights for this query.
func WithWeights(vec, fts float64) QueryOption {
	return func(o *queryOptions) {
		o.weightVec = vec
		o.weightFTS = fts
	}
}

// engine is the concrete implementation of Engine.
type engine struct {
	cfg       Config
	workDir   string
	store     *store.Store
	chatLLM   llm.Provider
	embedLLM  llm.Provider
	visionLLM llm.VisionProvider
	extractor *formula.Extractor
	injector  *marker.Injector
	contract  marker.Contract
	chunkr    *chunker.Chunker
	retriever *retrieval.Engine

	// mu guards locks; locks serializes processing per document filename
	// so concurrent ingests of the same name never race on staging dirs.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a texrag engine with the given configuration.
func New(cfg Config) (Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	dbPath := cfg.resolveDBPath()
	workDir := cfg.resolveWorkDir()

	if cfg.EmbeddingDim == 0 {
		cfg.EmbeddingDim = 768
	}

	s, err := store.New(dbPath, cfg.EmbeddingDim)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	chatLLM, err := llm.NewProvider(llm.Config{
		Provider: cfg.Chat.Provider,
		Model:    cfg.Chat.Model,
		BaseURL:  cfg.Chat.BaseURL,
		APIKey:   cfg.Chat.APIKey,
	})
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("creating chat provider: %w", err)
	}

	embedLLM, err := llm.NewProvider(llm.Config{
		Provider: cfg.Embedding.Provider,
		Model:    cfg.Embedding.Model,
		BaseURL:  cfg.Embedding.BaseURL,
		APIKey:   cfg.Embedding.APIKey,
	})
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("creating embedding provider: %w", err)
	}

	var visionLLM llm.VisionProvider
	if cfg.Vision.Provider != "" {
		visionLLM, err = llm.NewVisionProvider(llm.Config{
			Provider: cfg.Vision.Provider,
			Model:    cfg.Vision.Model,
			BaseURL:  cfg.Vision.BaseURL,
			APIKey:   cfg.Vision.APIKey,
		})
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("creating vision provider: %w", err)
		}
	}

	extractor := formula.NewExtractor(workDir)
	if cfg.DetectConcurrency > 0 {
		extractor.Concurrency = cfg.DetectConcurrency
	}

	chunkr := chunker.New(chunker.Config{
		MaxTokens: cfg.MaxChunkTokens,
		Overlap:   cfg.ChunkOverlap,
	})

	retriever := retrieval.New(s, embedLLM, retrieval.Config{
		WeightVector: cfg.WeightVector,
		WeightFTS:    cfg.WeightFTS,
		FormulaBoost: cfg.FormulaBoost,
	})

	return &engine{
		cfg:       cfg,
		workDir:   workDir,
		store:     s,
		chatLLM:   chatLLM,
		embedLLM:  embedLLM,
		visionLLM: visionLLM,
		extractor: extractor,
		injector:  marker.NewInjector(),
		contract:  marker.DefaultContract(),
		chunkr:    chunkr,
		retriever: retriever,
		locks:     make(map[string]*sync.Mutex),
	}, nil
}

// docLock returns the mutex serializing work on one document filename.
func (e *engine) docLock(name string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.locks[name]
	if !ok {
		m = &sync.Mutex{}
		e.locks[name] = m
	}
	return m
}

// buildChain assembles the parser fallback chain for one document.
// Docling leads when it is configured and the layout probe says the
// document needs structural parsing; otherwise direct MuPDF conversion
// leads and docling stays as a fallback.
func (e *engine) buildChain(path string) *parser.Chain {
	var docling parser.Parser
	if e.cfg.Docling != nil {
		docling = parser.NewDoclingParser(parser.DoclingConfig{
			BaseURL: e.cfg.Docling.BaseURL,
			Timeout: e.cfg.Docling.Timeout,
			MaxWait: e.cfg.Docling.MaxWait,
		})
	}
	fitz := &parser.FitzParser{}
	native := &parser.NativeParser{}

	if docling != nil && parser.ProbeLayout(path).NeedsStructuralParse() {
		return parser.NewChain(docling, fitz, native)
	}
	return parser.NewChain(fitz, docling, native)
}

// ExtractFormulas runs the marker pipeline for one PDF and returns the
// final markdown together with the resolution report. The source file is
// never modified; all marker work happens on a staged working copy.
func (e *engine) ExtractFormulas(ctx context.Context, path string) (*ExtractResult, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}

	lock := e.docLock(filepath.Base(absPath))
	lock.Lock()
	defer lock.Unlock()

	return e.extract(ctx, absPath)
}

func (e *engine) extract(ctx context.Context, absPath string) (*ExtractResult, error) {
	doc, err := fitzdoc.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParsingFailed, err)
	}
	defer doc.Close()

	pages := doc.NumPages()

	if e.cfg.SkipFormulas {
		return e.plainExtract(ctx, absPath, pages, nil, nil, &resolve.Report{})
	}

	// Pre-flight probe: documents without formula-like vector clusters on
	// their leading pages take the plain parse path with no marker work.
	if !e.extractor.HasVectorFormulas(doc) {
		slog.Info("extract: no vector formulas detected, plain parse",
			"file", filepath.Base(absPath))
		return e.plainExtract(ctx, absPath, pages, nil, nil, &resolve.Report{})
	}

	counter := marker.NewCounter(1)
	det, err := e.extractor.Extract(ctx, doc, counter)
	if err != nil {
		return nil, fmt.Errorf("formula detection: %w", err)
	}
	if len(det.Candidates) == 0 {
		return e.plainExtract(ctx, absPath, pages, nil, det.Rejections, &resolve.Report{})
	}

	// Resolution needs a vision model. Without one the candidates are
	// still detected and staged, but the document degrades to plain
	// parsing with everything reported skipped.
	if e.visionLLM == nil {
		slog.Warn("extract: no vision provider, skipping formula resolution",
			"file", filepath.Base(absPath), "candidates", len(det.Candidates))
		rep := resolve.Skipped(det.Candidates, ErrVisionRequired.Error())
		return e.plainExtract(ctx, absPath, pages, det.Candidates, det.Rejections, rep)
	}

	src, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("reading source: %w", err)
	}

	injected, err := e.injector.Inject(src, det.Regions)
	if err != nil {
		if errors.Is(err, marker.ErrUnsupportedLayout) || errors.Is(err, marker.ErrEncrypted) {
			slog.Warn("extract: injection unsupported, degrading to plain parse",
				"file", filepath.Base(absPath), "error", err)
			rep := resolve.Skipped(det.Candidates, err.Error())
			return e.plainExtract(ctx, absPath, pages, det.Candidates, det.Rejections, rep)
		}
		return nil, fmt.Errorf("%w: %v", ErrInjectionFailed, err)
	}

	stem := strings.TrimSuffix(filepath.Base(absPath), filepath.Ext(absPath))
	stageDir := filepath.Join(e.workDir, stem)
	if err := os.MkdirAll(stageDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInjectionFailed, err)
	}
	workingCopy := filepath.Join(stageDir, stem+".marked.pdf")
	if err := os.WriteFile(workingCopy, injected, 0o644); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInjectionFailed, err)
	}

	parsed, err := e.buildChain(workingCopy).Parse(ctx, workingCopy)
	if err != nil {
		// The working copy confused every parser; the original usually
		// still parses, so fall back rather than fail the document.
		slog.Warn("extract: working copy parse failed, degrading to plain parse",
			"file", filepath.Base(absPath), "error", err)
		rep := resolve.Skipped(det.Candidates, "structural parse of working copy failed")
		return e.plainExtract(ctx, absPath, pages, det.Candidates, det.Rejections, rep)
	}

	resolver := resolve.New(e.visionLLM, e.contract, resolve.Config{
		Model:       e.cfg.Vision.Model,
		Concurrency: e.cfg.ResolveConcurrency,
		Timeout:     e.cfg.ResolveTimeout,
		Policy:      resolve.Policy(e.cfg.UnresolvedPolicy),
	})

	markdown, rep, err := resolver.Resolve(ctx, parsed.Markdown, det.Candidates)
	if err != nil {
		return nil, fmt.Errorf("resolving formulas: %w", err)
	}
	if len(rep.Leaked) > 0 {
		slog.Warn("extract: marker tokens leaked into final markdown",
			"file", filepath.Base(absPath), "tokens", rep.Leaked,
			"error", ErrMarkerLeakage)
	}

	// Final markdown lands next to the working copy and crops, so one
	// staging directory holds every artifact for the document. Re-runs
	// overwrite in place.
	if err := os.WriteFile(filepath.Join(stageDir, stem+".md"), []byte(markdown), 0o644); err != nil {
		slog.Warn("extract: writing markdown artifact failed",
			"file", filepath.Base(absPath), "error", err)
	}

	return &ExtractResult{
		Markdown:    markdown,
		ParseMethod: parsed.Method,
		Pages:       pages,
		Candidates:  det.Candidates,
		Rejections:  det.Rejections,
		Report:      rep,
		WorkingCopy: workingCopy,
	}, nil
}

// plainExtract parses the original file without markers. rep accounts for
// any candidates that were detected but never resolved.
func (e *engine) plainExtract(ctx context.Context, absPath string, pages int, cands []formula.Candidate, rejs []formula.Rejection, rep *resolve.Report) (*ExtractResult, error) {
	parsed, err := e.buildChain(absPath).Parse(ctx, absPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParsingFailed, err)
	}
	return &ExtractResult{
		Markdown:    parsed.Markdown,
		ParseMethod: parsed.Method,
		Pages:       pages,
		Candidates:  cands,
		Rejections:  rejs,
		Report:      rep,
	}, nil
}

// Ingest processes a document through the full pipeline and persists it.
func (e *engine) Ingest(ctx context.Context, path string, opts ...IngestOption) (int64, error) {
	options := &ingestOptions{}
	for _, o := range opts {
		o(options)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return 0, fmt.Errorf("resolving path: %w", err)
	}

	hash, err := fileHash(absPath)
	if err != nil {
		return 0, fmt.Errorf("hashing file: %w", err)
	}

	if !options.forceReparse {
		existing, err := e.store.GetDocumentByPath(ctx, absPath)
		if err == nil && existing.ContentHash == hash {
			return existing.ID, nil // no change
		}
	}

	var metadataJSON string
	if options.metadata != nil {
		data, _ := json.Marshal(options.metadata)
		metadataJSON = string(data)
	}

	filename := filepath.Base(absPath)
	docID, err := e.store.UpsertDocument(ctx, store.Document{
		Path:        absPath,
		Filename:    filename,
		ContentHash: hash,
		ParseMethod: "pending",
		Status:      "processing",
		Metadata:    metadataJSON,
	})
	if err != nil {
		return 0, fmt.Errorf("upserting document: %w", err)
	}

	slog.Info("ingest: extracting document", "file", filename, "doc_id", docID)
	extractStart := time.Now()

	res, err := e.ExtractFormulas(ctx, absPath)
	if err != nil {
		e.store.UpdateDocumentStatus(ctx, docID, "error")
		return 0, err
	}

	slog.Info("ingest: extraction complete",
		"file", filename, "method", res.ParseMethod,
		"candidates", res.Report.Total, "resolved", res.Report.Resolved,
		"elapsed", time.Since(extractStart).Round(time.Millisecond))

	e.store.UpdateDocumentParseMethod(ctx, docID, res.ParseMethod)

	chunks := e.chunkr.Chunk(res.Markdown)
	slog.Info("ingest: chunking complete",
		"file", filename, "chunks", len(chunks),
		"max_tokens", e.cfg.MaxChunkTokens, "overlap", e.cfg.ChunkOverlap)

	// Re-ingest: clear the previous chunk, embedding and formula rows.
	if err := e.store.DeleteDocumentData(ctx, docID); err != nil {
		return 0, fmt.Errorf("cleaning old data: %w", err)
	}

	for i := range chunks {
		chunks[i].DocumentID = docID
	}
	chunkIDs, err := e.store.InsertChunks(ctx, chunks)
	if err != nil {
		e.store.UpdateDocumentStatus(ctx, docID, "error")
		return 0, fmt.Errorf("inserting chunks: %w", err)
	}

	slog.Info("ingest: generating embeddings", "file", filename, "chunks", len(chunks))
	embedStart := time.Now()
	if err := e.embedChunks(ctx, chunks, chunkIDs); err != nil {
		e.store.UpdateDocumentStatus(ctx, docID, "error")
		return 0, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	slog.Info("ingest: embeddings complete",
		"file", filename, "chunks", len(chunks),
		"elapsed", time.Since(embedStart).Round(time.Millisecond))

	if rows := formulaRows(docID, res); len(rows) > 0 {
		if err := e.store.InsertFormulas(ctx, rows); err != nil {
			slog.Warn("ingest: storing formula rows failed (non-fatal)",
				"doc_id", docID, "error", err)
		}
	}
	e.store.UpdateDocumentFormulaCounts(ctx, docID, res.Report.Total, res.Report.Resolved)

	slog.Info("ingest: document ready",
		"file", filename, "doc_id", docID,
		"total_elapsed", time.Since(extractStart).Round(time.Millisecond))
	e.store.UpdateDocumentStatus(ctx, docID, "ready")
	return docID, nil
}

// formulaRows flattens a resolution report into store rows, joining each
// entry with its candidate for page index and crop path.
func formulaRows(docID int64, res *ExtractResult) []store.Formula {
	byID := make(map[int]formula.Candidate, len(res.Candidates))
	for _, c := range res.Candidates {
		byID[c.ID] = c
	}

	rows := make([]store.Formula, 0, len(res.Report.Entries))
	for _, entry := range res.Report.Entries {
		row := store.Formula{
			DocumentID:  docID,
			CandidateID: entry.ID,
			Token:       entry.Token,
			Status:      string(entry.Status),
			LaTeX:       entry.LaTeX,
			Reason:      entry.Reason,
		}
		if c, ok := byID[entry.ID]; ok {
			row.PageIndex = c.PageIndex
			row.ImagePath = c.ImagePath
		}
		rows = append(rows, row)
	}
	return rows
}

// answerSystemPrompt instructs the chat model on formula handling: LaTeX
// in the context is already delimited, and must be carried into the
// answer verbatim rather than paraphrased.
const answerSystemPrompt = `You are a technical assistant answering questions from the provided document excerpts.
Rules:
- Answer only from the excerpts. If they do not contain the answer, say so.
- Mathematical formulas in the excerpts appear as LaTeX between $$ delimiters. When a formula is relevant, reproduce it exactly, delimiters included. Never paraphrase or re-derive a formula.
- Cite the source number [n] for each claim.`

// Query runs hybrid retrieval and answers the question with the chat model.
func (e *engine) Query(ctx context.Context, question string, opts ...QueryOption) (*Answer, error) {
	options := &queryOptions{
		maxResults: 20,
		weightVec:  e.cfg.WeightVector,
		weightFTS:  e.cfg.WeightFTS,
	}
	for _, o := range opts {
		o(options)
	}

	results, searchTrace, err := e.retriever.Search(ctx, question, retrieval.SearchOptions{
		MaxResults: options.maxResults,
		WeightVec:  options.weightVec,
		WeightFTS:  options.weightFTS,
	})
	if err != nil {
		return nil, fmt.Errorf("retrieval: %w", err)
	}
	if len(results) == 0 {
		return nil, ErrNoResults
	}

	var ctxBuf strings.Builder
	for i, r := range results {
		fmt.Fprintf(&ctxBuf, "[%d] %s", i+1, r.Filename)
		if r.Heading != "" {
			fmt.Fprintf(&ctxBuf, " — %s", r.Heading)
		}
		ctxBuf.WriteString("\n")
		ctxBuf.WriteString(r.Content)
		ctxBuf.WriteString("\n\n")
	}

	resp, err := e.chatLLM.Chat(ctx, llm.ChatRequest{
		Model: e.cfg.Chat.Model,
		Messages: []llm.Message{
			{Role: "system", Content: answerSystemPrompt},
			{Role: "user", Content: "Excerpts:\n\n" + ctxBuf.String() + "Question: " + question},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("chat: %w", err)
	}

	answer := &Answer{
		Text:             resp.Content,
		RetrievalTrace:   searchTrace,
		ModelUsed:        resp.Model,
		PromptTokens:     resp.PromptTokens,
		CompletionTokens: resp.CompletionTokens,
		TotalTokens:      resp.TotalTokens,
	}
	answerWords := significantWords(resp.Content)
	for _, r := range results {
		answer.Sources = append(answer.Sources, Source{
			ChunkID:    r.ChunkID,
			DocumentID: r.DocumentID,
			Filename:   r.Filename,
			Content:    r.Content,
			Heading:    r.Heading,
			HasFormula: r.HasFormula,
			Snippet:    extractSnippet(r.Content, answerWords),
			Score:      r.Score,
		})
	}
	return answer, nil
}

// Update checks if a document has changed and re-ingests if needed.
func (e *engine) Update(ctx context.Context, path string) (bool, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false, fmt.Errorf("resolving path: %w", err)
	}

	doc, err := e.store.GetDocumentByPath(ctx, absPath)
	if err != nil {
		return false, fmt.Errorf("%w: %s", ErrDocumentNotFound, absPath)
	}

	hash, err := fileHash(absPath)
	if err != nil {
		return false, fmt.Errorf("hashing file: %w", err)
	}

	if hash == doc.ContentHash {
		return false, nil
	}

	if _, err := e.Ingest(ctx, absPath, WithForceReparse()); err != nil {
		return false, err
	}
	return true, nil
}

// UpdateAll checks all documents for changes.
func (e *engine) UpdateAll(ctx context.Context) ([]UpdateResult, error) {
	docs, err := e.store.ListDocuments(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]UpdateResult, 0, len(docs))
	for _, doc := range docs {
		changed, err := e.Update(ctx, doc.Path)
		results = append(results, UpdateResult{
			DocumentID: doc.ID,
			Path:       doc.Path,
			Changed:    changed,
			Error:      err,
		})
	}
	return results, nil
}

// Delete removes a document and all its associated data.
func (e *engine) Delete(ctx context.Context, documentID int64) error {
	return e.store.DeleteDocument(ctx, documentID)
}

// ListDocuments returns all ingested documents.
func (e *engine) ListDocuments(ctx context.Context) ([]Document, error) {
	docs, err := e.store.ListDocuments(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]Document, len(docs))
	for i, d := range docs {
		result[i] = Document{
			ID:              d.ID,
			Path:            d.Path,
			Filename:        d.Filename,
			ContentHash:     d.ContentHash,
			ParseMethod:     d.ParseMethod,
			Status:          d.Status,
			FormulaTotal:    d.FormulaTotal,
			FormulaResolved: d.FormulaResolved,
			CreatedAt:       d.CreatedAt,
			UpdatedAt:       d.UpdatedAt,
		}
		if d.Metadata != "" {
			_ = json.Unmarshal([]byte(d.Metadata), &result[i].Metadata)
		}
	}
	return result, nil
}

// Store returns the underlying store for diagnostic access.
func (e *engine) Store() *store.Store {
	return e.store
}

// Close shuts down the engine.
func (e *engine) Close() error {
	return e.store.Close()
}

// maxEmbedChars caps a single text sent to the embedding model. Most
// embedding models have a context window of 8192 tokens; ~24000 chars
// (~6000 tokens) leaves headroom for varied tokenisers.
const maxEmbedChars = 24000

// truncateForEmbed truncates text to maxEmbedChars on a word boundary.
func truncateForEmbed(text string) string {
	if len(text) <= maxEmbedChars {
		return text
	}
	cut := strings.LastIndex(text[:maxEmbedChars], " ")
	if cut <= 0 {
		cut = maxEmbedChars
	}
	return text[:cut]
}

// embedChunks generates embeddings for chunks in batches. Individual
// batch failures trigger per-text fallback so a single oversized text
// does not cause the entire batch to be lost.
func (e *engine) embedChunks(ctx context.Context, chunks []store.Chunk, chunkIDs []int64) error {
	const batchSize = 32
	var failed int

	for i := 0; i < len(chunks); i += batchSize {
		end := i + batchSize
		if end > len(chunks) {
			end = len(chunks)
		}

		texts := make([]string, end-i)
		for j := i; j < end; j++ {
			prefix := ""
			if chunks[j].Heading != "" {
				prefix = chunks[j].Heading + ": "
			}
			texts[j-i] = truncateForEmbed(prefix + chunks[j].Content)
		}

		embeddings, err := e.embedLLM.Embed(ctx, texts)
		if err != nil {
			slog.Warn("embedding batch failed, falling back to individual",
				"batch_start", i, "batch_end", end, "error", err)
			for j, text := range texts {
				single, serr := e.embedLLM.Embed(ctx, []string{text})
				if serr != nil {
					slog.Warn("embedding single text failed",
						"chunk_id", chunkIDs[i+j], "error", serr)
					failed++
					continue
				}
				if len(single) == 0 || len(single[0]) == 0 {
					failed++
					continue
				}
				if serr := e.store.InsertEmbedding(ctx, chunkIDs[i+j], single[0]); serr != nil {
					slog.Warn("storing embedding failed",
						"chunk_id", chunkIDs[i+j], "error", serr)
					failed++
				}
			}
			continue
		}

		for j, emb := range embeddings {
			if err := e.store.InsertEmbedding(ctx, chunkIDs[i+j], emb); err != nil {
				slog.Warn("storing embedding failed",
					"chunk_id", chunkIDs[i+j], "error", err)
				failed++
			}
		}
	}

	if len(chunks) > 0 && failed == len(chunks) {
		return fmt.Errorf("all %d chunks failed embedding", len(chunks))
	}
	if failed > 0 {
		slog.Warn("some embeddings failed", "failed", failed, "total", len(chunks))
	}
	return nil
}

// fileHash computes the SHA-256 hash of a file's content.
func fileHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
