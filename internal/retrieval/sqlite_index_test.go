package retrieval

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

// openTestIndex creates an in-memory SQLite database with the index ready
// at the given dimension.
func openTestIndex(t *testing.T, dimension int) *SQLiteIndex {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	idx := NewSQLiteIndex(db)
	if err := idx.EnsureIndex(dimension); err != nil {
		t.Fatalf("EnsureIndex: %v", err)
	}
	return idx
}

func makeTestVector(dim int, seed float32) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = seed + float32(i)*0.001
	}
	return v
}

func makeEntry(docID string, chunkIndex, total int, vec []float32) IndexEntry {
	return IndexEntry{
		ID:     EntryID(docID, chunkIndex),
		Vector: vec,
		Metadata: EntryMetadata{
			Text:        fmt.Sprintf("chunk %d of %s", chunkIndex, docID),
			Source:      docID + ".txt",
			Category:    "general",
			ChunkIndex:  chunkIndex,
			TotalChunks: total,
			ProcessedAt: time.Now().UTC(),
		},
	}
}

func TestEntryID(t *testing.T) {
	if got := EntryID("doc-42", 7); got != "doc-42_chunk_7" {
		t.Errorf("EntryID = %q", got)
	}
}

func TestEnsureIndex_Idempotent(t *testing.T) {
	idx := openTestIndex(t, 768)
	if err := idx.EnsureIndex(768); err != nil {
		t.Errorf("second EnsureIndex with same dimension: %v", err)
	}
}

func TestEnsureIndex_DimensionMismatch(t *testing.T) {
	idx := openTestIndex(t, 768)
	err := idx.EnsureIndex(1536)
	if err == nil {
		t.Fatal("EnsureIndex with mismatched dimension succeeded")
	}
	if !strings.Contains(err.Error(), "dimension mismatch") {
		t.Errorf("err = %v", err)
	}
}

func TestUpsertAndQuery(t *testing.T) {
	idx := openTestIndex(t, 768)

	vec := makeTestVector(768, 0.1)
	report, err := idx.Upsert([]IndexEntry{makeEntry("doc-1", 0, 1, vec)})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if report.Succeeded != 1 || report.Failed != 0 {
		t.Errorf("report = %+v", report)
	}

	matches, err := idx.Query(context.Background(), vec, 1, "")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("got %d matches, want 1", len(matches))
	}
	if matches[0].Score < 0.99 {
		t.Errorf("score = %f, want > 0.99", matches[0].Score)
	}
	if matches[0].ID != "doc-1_chunk_0" {
		t.Errorf("ID = %q", matches[0].ID)
	}
	if matches[0].Metadata.TotalChunks != 1 {
		t.Errorf("metadata = %+v", matches[0].Metadata)
	}
}

func TestUpsert_Idempotent(t *testing.T) {
	idx := openTestIndex(t, 768)

	vec := makeTestVector(768, 0.1)
	entries := []IndexEntry{
		makeEntry("doc-1", 0, 2, vec),
		makeEntry("doc-1", 1, 2, makeTestVector(768, 0.2)),
	}
	if _, err := idx.Upsert(entries); err != nil {
		t.Fatalf("first Upsert: %v", err)
	}
	// Re-ingesting the same document must overwrite, not duplicate.
	if _, err := idx.Upsert(entries); err != nil {
		t.Fatalf("second Upsert: %v", err)
	}

	count, err := idx.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}
}

func TestQuery_TopKSortedDescending(t *testing.T) {
	idx := openTestIndex(t, 768)

	var entries []IndexEntry
	for i := 0; i < 10; i++ {
		entries = append(entries, makeEntry("doc-1", i, 10, makeTestVector(768, float32(i)*0.01)))
	}
	if _, err := idx.Upsert(entries); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	matches, err := idx.Query(context.Background(), makeTestVector(768, 0.05), 3, "")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(matches) != 3 {
		t.Fatalf("got %d matches, want 3", len(matches))
	}
	for i := 0; i+1 < len(matches); i++ {
		if matches[i].Score < matches[i+1].Score {
			t.Errorf("matches not sorted descending: %f then %f", matches[i].Score, matches[i+1].Score)
		}
	}
}

func TestQuery_EmptyIndex(t *testing.T) {
	idx := openTestIndex(t, 768)

	matches, err := idx.Query(context.Background(), makeTestVector(768, 0.1), 5, "")
	if err != nil {
		t.Fatalf("Query on empty index: %v", err)
	}
	if len(matches) != 0 {
		t.Errorf("got %d matches, want 0", len(matches))
	}
}

func TestQuery_CategoryFilter(t *testing.T) {
	idx := openTestIndex(t, 8)

	vec := makeTestVector(8, 0.1)
	a := makeEntry("doc-a", 0, 1, vec)
	a.Metadata.Category = "market_report"
	b := makeEntry("doc-b", 0, 1, makeTestVector(8, 0.11))
	b.Metadata.Category = "tax_document"
	if _, err := idx.Upsert([]IndexEntry{a, b}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	matches, err := idx.Query(context.Background(), vec, 10, "tax_document")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(matches) != 1 || matches[0].Metadata.Category != "tax_document" {
		t.Errorf("matches = %+v", matches)
	}
}

func TestUpsert_Batching(t *testing.T) {
	idx := openTestIndex(t, 8)

	var entries []IndexEntry
	for i := 0; i < 250; i++ {
		entries = append(entries, makeEntry("big-doc", i, 250, makeTestVector(8, float32(i))))
	}
	report, err := idx.Upsert(entries)
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if report.Batches != 3 {
		t.Errorf("batches = %d, want 3", report.Batches)
	}
	if report.Succeeded != 250 {
		t.Errorf("succeeded = %d, want 250", report.Succeeded)
	}
}

func TestDeleteDocument(t *testing.T) {
	idx := openTestIndex(t, 8)

	if _, err := idx.Upsert([]IndexEntry{
		makeEntry("doc-1", 0, 2, makeTestVector(8, 0.1)),
		makeEntry("doc-1", 1, 2, makeTestVector(8, 0.2)),
		makeEntry("doc-2", 0, 1, makeTestVector(8, 0.3)),
	}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	n, err := idx.DeleteDocument("doc-1.txt")
	if err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}
	if n != 2 {
		t.Errorf("deleted %d entries, want 2", n)
	}
	count, _ := idx.Count()
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
}
