//go:build cgo

package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := New(dbPath, 4) // dim=4 for test vectors
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// ---------------------------------------------------------------------------
// Schema / construction
// ---------------------------------------------------------------------------

func TestNew(t *testing.T) {
	s := newTestStore(t)
	if s.EmbeddingDim() != 4 {
		t.Fatalf("expected embedding dim 4, got %d", s.EmbeddingDim())
	}
	if s.DB() == nil {
		t.Fatal("expected non-nil *sql.DB")
	}
}

func TestNewCreatesParentDir(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "sub", "dir", "test.db")
	s, err := New(dbPath, 4)
	if err != nil {
		t.Fatalf("creating store in nested dir: %v", err)
	}
	s.Close()
}

// ---------------------------------------------------------------------------
// Document CRUD
// ---------------------------------------------------------------------------

func sampleDoc(path string) Document {
	return Document{
		Path:            path,
		Filename:        "paper.pdf",
		ContentHash:     "abc123",
		ParseMethod:     "fitz",
		Status:          "pending",
		FormulaTotal:    3,
		FormulaResolved: 2,
		Metadata:        `{"pages":10}`,
	}
}

func TestUpsertAndGetDocument(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc := sampleDoc("/tmp/paper.pdf")
	id, err := s.UpsertDocument(ctx, doc)
	if err != nil {
		t.Fatalf("upserting document: %v", err)
	}
	if id == 0 {
		t.Fatal("expected non-zero document id")
	}

	got, err := s.GetDocumentByPath(ctx, doc.Path)
	if err != nil {
		t.Fatalf("getting document by path: %v", err)
	}
	if got.ID != id || got.Filename != doc.Filename {
		t.Errorf("got %+v", got)
	}
	if got.FormulaTotal != 3 || got.FormulaResolved != 2 {
		t.Errorf("formula counts: got %d/%d", got.FormulaResolved, got.FormulaTotal)
	}
}

func TestUpsertDocumentUpdatesExisting(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc := sampleDoc("/tmp/paper.pdf")
	id1, err := s.UpsertDocument(ctx, doc)
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}

	// Interleave inserts into other tables so the connection's last insert
	// rowid moves past the document's id before the update-path upsert.
	insertSampleChunks(t, s, id1)

	doc.ContentHash = "def456"
	doc.Status = "complete"
	id2, err := s.UpsertDocument(ctx, doc)
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if id1 != id2 {
		t.Errorf("update path returned id %d, want existing document id %d", id2, id1)
	}

	got, err := s.GetDocumentByPath(ctx, doc.Path)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ContentHash != "def456" || got.Status != "complete" {
		t.Errorf("update not applied: %+v", got)
	}
}

func TestGetDocumentByPathMissing(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetDocumentByPath(context.Background(), "/nope.pdf")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("err = %v, want sql.ErrNoRows", err)
	}
}

func TestUpdateDocumentStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, _ := s.UpsertDocument(ctx, sampleDoc("/tmp/a.pdf"))
	if err := s.UpdateDocumentStatus(ctx, id, "failed"); err != nil {
		t.Fatalf("update status: %v", err)
	}
	got, _ := s.GetDocumentByPath(ctx, "/tmp/a.pdf")
	if got.Status != "failed" {
		t.Errorf("status = %q", got.Status)
	}
}

// ---------------------------------------------------------------------------
// Chunks
// ---------------------------------------------------------------------------

func insertSampleChunks(t *testing.T, s *Store, docID int64) []int64 {
	t.Helper()
	chunks := []Chunk{
		{DocumentID: docID, Content: "The attention mechanism computes weighted sums.", Heading: "Introduction", PositionInDoc: 0, TokenCount: 8},
		{DocumentID: docID, Content: "The loss is $$L = -\\sum_i y_i \\log p_i$$ over classes.", Heading: "Method", PositionInDoc: 1, TokenCount: 12, HasFormula: true},
		{DocumentID: docID, Content: "Results improve on all three benchmarks.", Heading: "Results", PositionInDoc: 2, TokenCount: 7},
	}
	ids, err := s.InsertChunks(context.Background(), chunks)
	if err != nil {
		t.Fatalf("inserting chunks: %v", err)
	}
	return ids
}

func TestInsertAndGetChunks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	docID, _ := s.UpsertDocument(ctx, sampleDoc("/tmp/a.pdf"))
	ids := insertSampleChunks(t, s, docID)
	if len(ids) != 3 {
		t.Fatalf("got %d ids", len(ids))
	}

	chunks, err := s.GetChunksByDocument(ctx, docID)
	if err != nil {
		t.Fatalf("get chunks: %v", err)
	}
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks", len(chunks))
	}
	if !chunks[1].HasFormula || chunks[0].HasFormula {
		t.Errorf("has_formula flags wrong: %+v", chunks)
	}
	if chunks[1].ContentHash == "" {
		t.Error("content hash not computed on insert")
	}
}

// ---------------------------------------------------------------------------
// Formulas
// ---------------------------------------------------------------------------

func TestInsertAndGetFormulas(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	docID, _ := s.UpsertDocument(ctx, sampleDoc("/tmp/a.pdf"))
	formulas := []Formula{
		{DocumentID: docID, CandidateID: 1, Token: "##FORMULA-0001##", PageIndex: 0, Status: "resolved", LaTeX: "E = mc^2"},
		{DocumentID: docID, CandidateID: 2, Token: "##FORMULA-0002##", PageIndex: 1, Status: "failed", Reason: "timeout"},
	}
	if err := s.InsertFormulas(ctx, formulas); err != nil {
		t.Fatalf("insert formulas: %v", err)
	}

	got, err := s.GetFormulasByDocument(ctx, docID)
	if err != nil {
		t.Fatalf("get formulas: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d formulas", len(got))
	}
	if got[0].LaTeX != "E = mc^2" || got[1].Reason != "timeout" {
		t.Errorf("rows = %+v", got)
	}

	// Re-recording a candidate updates in place.
	formulas[1].Status = "resolved"
	formulas[1].LaTeX = "a+b"
	formulas[1].Reason = ""
	if err := s.InsertFormulas(ctx, formulas[1:]); err != nil {
		t.Fatalf("re-insert: %v", err)
	}
	got, _ = s.GetFormulasByDocument(ctx, docID)
	if len(got) != 2 || got[1].Status != "resolved" {
		t.Errorf("upsert did not update: %+v", got)
	}
}

// ---------------------------------------------------------------------------
// Embeddings and search
// ---------------------------------------------------------------------------

func TestVectorSearch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	docID, _ := s.UpsertDocument(ctx, sampleDoc("/tmp/a.pdf"))
	ids := insertSampleChunks(t, s, docID)

	vectors := [][]float32{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0, 0, 1, 0},
	}
	for i, id := range ids {
		if err := s.InsertEmbedding(ctx, id, vectors[i]); err != nil {
			t.Fatalf("insert embedding: %v", err)
		}
	}

	results, err := s.VectorSearch(ctx, []float32{0, 0.9, 0.1, 0}, 2)
	if err != nil {
		t.Fatalf("vector search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results", len(results))
	}
	if results[0].ChunkID != ids[1] {
		t.Errorf("nearest chunk = %d, want %d", results[0].ChunkID, ids[1])
	}
	if !results[0].HasFormula {
		t.Error("formula flag lost in retrieval join")
	}
	if results[0].Score < results[1].Score {
		t.Error("results not ordered by similarity")
	}
}

func TestFTSSearch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	docID, _ := s.UpsertDocument(ctx, sampleDoc("/tmp/a.pdf"))
	insertSampleChunks(t, s, docID)

	results, err := s.FTSSearch(ctx, "attention", 10)
	if err != nil {
		t.Fatalf("fts search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if results[0].Heading != "Introduction" {
		t.Errorf("heading = %q", results[0].Heading)
	}
	if results[0].Score <= 0 {
		t.Errorf("score = %v, want positive", results[0].Score)
	}
}

// ---------------------------------------------------------------------------
// Deletion and stats
// ---------------------------------------------------------------------------

func TestDeleteDocumentData(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	docID, _ := s.UpsertDocument(ctx, sampleDoc("/tmp/a.pdf"))
	ids := insertSampleChunks(t, s, docID)
	s.InsertEmbedding(ctx, ids[0], []float32{1, 0, 0, 0})
	s.InsertFormulas(ctx, []Formula{{DocumentID: docID, CandidateID: 1, Token: "##FORMULA-0001##", Status: "resolved"}})

	if err := s.DeleteDocumentData(ctx, docID); err != nil {
		t.Fatalf("delete document data: %v", err)
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Chunks != 0 || stats.Embeddings != 0 || stats.Formulas != 0 {
		t.Errorf("data not removed: %+v", stats)
	}
	if stats.Documents != 1 {
		t.Errorf("document record should remain: %+v", stats)
	}

	// FTS index followed the trigger cascade.
	results, err := s.FTSSearch(ctx, "attention", 10)
	if err != nil {
		t.Fatalf("fts after delete: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("fts still serves deleted chunks: %+v", results)
	}
}

func TestMigrateIdempotent(t *testing.T) {
	s := newTestStore(t)
	// New already ran migrations; a second run must be a no-op.
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}
