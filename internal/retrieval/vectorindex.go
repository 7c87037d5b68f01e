// Package retrieval provides vector storage, embedding, and semantic
// search over the ingested knowledge base.
package retrieval

import (
	"context"
	"fmt"
	"time"
)

// EntryMetadata is stored alongside every vector and returned with query
// matches.
type EntryMetadata struct {
	Text        string
	Source      string
	Category    string
	ChunkIndex  int
	TotalChunks int
	Truncated   bool
	ProcessedAt time.Time
}

// IndexEntry is one (id, vector, metadata) triple. The ID is derived from
// the owning document and chunk index alone, so re-ingesting the same
// document overwrites prior vectors instead of duplicating them.
type IndexEntry struct {
	ID       string
	Vector   []float32
	Metadata EntryMetadata
}

// EntryID builds the canonical index entry ID for a document chunk.
func EntryID(documentID string, chunkIndex int) string {
	return fmt.Sprintf("%s_chunk_%d", documentID, chunkIndex)
}

// Match is a query result, ranked by descending cosine similarity.
type Match struct {
	ID       string
	Text     string
	Score    float32
	Metadata EntryMetadata
}

// UpsertReport aggregates per-batch outcomes of an Upsert call. A partial
// batch failure never aborts the remaining batches.
type UpsertReport struct {
	Batches   int
	Succeeded int
	Failed    int
}

// VectorIndex stores embeddings with metadata and answers nearest-neighbor
// queries. The engine never assumes exclusive write access: concurrent
// ingestion runs are idempotent through deterministic entry IDs.
type VectorIndex interface {
	// EnsureIndex is idempotent: it creates the backing index for the
	// given dimension if absent, otherwise verifies the stored dimension
	// and no-ops. A dimension mismatch is a fatal configuration error.
	EnsureIndex(dimension int) error

	// Upsert writes entries in bounded batches and reports per-batch
	// success and failure counts.
	Upsert(entries []IndexEntry) (UpsertReport, error)

	// Query returns the topK most similar entries, sorted descending by
	// score. An empty index yields an empty result, not an error. The
	// optional category filter restricts matches to one document
	// category.
	Query(ctx context.Context, vector []float32, topK int, category string) ([]Match, error)

	// Count returns the number of stored entries.
	Count() (int, error)
}
