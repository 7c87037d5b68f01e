package retrieval

import (
	"container/heap"
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"time"
)

// Compile-time check that SQLiteIndex implements VectorIndex.
var _ VectorIndex = (*SQLiteIndex)(nil)

// upsertBatchSize bounds the number of entries written per transaction to
// respect payload limits.
const upsertBatchSize = 100

// SQLiteIndex provides vector storage and brute-force cosine similarity
// search backed by SQLite. Entries live in the knowledge_vectors table
// shared with the storage package.
type SQLiteIndex struct {
	db *sql.DB
}

// NewSQLiteIndex wraps an existing *sql.DB for vector operations.
func NewSQLiteIndex(db *sql.DB) *SQLiteIndex {
	return &SQLiteIndex{db: db}
}

// EnsureIndex creates the knowledge_vectors table and its dimension record
// if absent. A second call with a different dimension fails: embedding
// model and index dimension must agree, and that disagreement is a
// configuration error rather than something to retry.
func (s *SQLiteIndex) EnsureIndex(dimension int) error {
	if dimension <= 0 {
		return fmt.Errorf("invalid index dimension %d", dimension)
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS knowledge_vectors (
			id TEXT PRIMARY KEY,
			embedding BLOB NOT NULL,
			text TEXT NOT NULL,
			source TEXT NOT NULL,
			category TEXT NOT NULL,
			chunk_index INTEGER NOT NULL,
			total_chunks INTEGER NOT NULL,
			truncated INTEGER NOT NULL DEFAULT 0,
			processed_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`); err != nil {
		return fmt.Errorf("creating knowledge_vectors table: %w", err)
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS index_config (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			dimension INTEGER NOT NULL
		)`); err != nil {
		return fmt.Errorf("creating index_config table: %w", err)
	}

	var stored int
	err := s.db.QueryRow(`SELECT dimension FROM index_config WHERE id = 1`).Scan(&stored)
	switch {
	case err == sql.ErrNoRows:
		if _, err := s.db.Exec(`INSERT INTO index_config (id, dimension) VALUES (1, ?)`, dimension); err != nil {
			return fmt.Errorf("recording index dimension: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("reading index dimension: %w", err)
	case stored != dimension:
		return fmt.Errorf("index dimension mismatch: configured %d, index has %d", dimension, stored)
	}
	return nil
}

// Upsert writes entries in batches of upsertBatchSize. Each batch is its
// own transaction; a failing batch is counted and the remaining batches
// still run. INSERT OR REPLACE keeps re-ingestion idempotent.
func (s *SQLiteIndex) Upsert(entries []IndexEntry) (UpsertReport, error) {
	var report UpsertReport
	var firstErr error

	for start := 0; start < len(entries); start += upsertBatchSize {
		end := start + upsertBatchSize
		if end > len(entries) {
			end = len(entries)
		}
		batch := entries[start:end]
		report.Batches++

		if err := s.upsertBatch(batch); err != nil {
			report.Failed += len(batch)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		report.Succeeded += len(batch)
	}

	return report, firstErr
}

func (s *SQLiteIndex) upsertBatch(batch []IndexEntry) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning upsert transaction: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO knowledge_vectors
			(id, embedding, text, source, category, chunk_index, total_chunks, truncated, processed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("preparing upsert statement: %w", err)
	}
	defer stmt.Close()

	for _, e := range batch {
		blob := encodeFloat32s(e.Vector)
		processedAt := e.Metadata.ProcessedAt
		if processedAt.IsZero() {
			processedAt = time.Now().UTC()
		}
		truncated := 0
		if e.Metadata.Truncated {
			truncated = 1
		}
		if _, err := stmt.Exec(e.ID, blob, e.Metadata.Text, e.Metadata.Source,
			e.Metadata.Category, e.Metadata.ChunkIndex, e.Metadata.TotalChunks,
			truncated, processedAt.Format(time.RFC3339)); err != nil {
			tx.Rollback()
			return fmt.Errorf("upserting entry %s: %w", e.ID, err)
		}
	}

	return tx.Commit()
}

// idScore holds only the ID and score during the scan phase of Query.
// Full entry details are fetched only for top-K winners.
type idScore struct {
	ID    string
	Score float32
}

// Query performs brute-force cosine similarity search over all vectors,
// returning the topK most similar entries sorted descending by score.
func (s *SQLiteIndex) Query(ctx context.Context, vector []float32, topK int, category string) ([]Match, error) {
	if topK <= 0 {
		return nil, nil
	}
	queryNorm := norm(vector)
	if queryNorm == 0 {
		return nil, nil
	}

	// Phase 1: scan only id + embedding to find top-K candidates.
	scanQuery := `SELECT id, embedding FROM knowledge_vectors`
	var args []any
	if category != "" {
		scanQuery += ` WHERE category = ?`
		args = append(args, category)
	}
	rows, err := s.db.QueryContext(ctx, scanQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("querying vectors: %w", err)
	}
	defer rows.Close()

	h := &idScoreHeap{}
	heap.Init(h)

	// Reusable buffer for decoding embeddings to avoid per-row allocations.
	var buf []float32

	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}

		buf, err = decodeFloat32sInto(buf, blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for %s: %w", id, err)
		}

		score := cosine(vector, buf, queryNorm)
		if h.Len() < topK {
			heap.Push(h, idScore{ID: id, Score: score})
		} else if score > (*h)[0].Score {
			(*h)[0] = idScore{ID: id, Score: score}
			heap.Fix(h, 0)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}

	if h.Len() == 0 {
		return nil, nil
	}

	// Phase 2: fetch full entries only for the top-K IDs.
	topIDs := make([]string, h.Len())
	scores := make(map[string]float32, h.Len())
	for i := len(topIDs) - 1; i >= 0; i-- {
		item := heap.Pop(h).(idScore)
		topIDs[i] = item.ID
		scores[item.ID] = item.Score
	}

	queryArgs := make([]any, len(topIDs))
	for i, id := range topIDs {
		queryArgs[i] = id
	}
	fullQuery := `SELECT id, text, source, category, chunk_index, total_chunks, truncated, processed_at
		FROM knowledge_vectors WHERE id IN (?` + strings.Repeat(",?", len(topIDs)-1) + `)`

	fullRows, err := s.db.QueryContext(ctx, fullQuery, queryArgs...)
	if err != nil {
		return nil, fmt.Errorf("fetching top-K entries: %w", err)
	}
	defer fullRows.Close()

	var results []Match
	for fullRows.Next() {
		var m Match
		var truncated int
		var processedAt string
		if err := fullRows.Scan(&m.ID, &m.Metadata.Text, &m.Metadata.Source,
			&m.Metadata.Category, &m.Metadata.ChunkIndex, &m.Metadata.TotalChunks,
			&truncated, &processedAt); err != nil {
			return nil, fmt.Errorf("scanning full entry: %w", err)
		}
		m.Metadata.Truncated = truncated != 0
		t, err := time.Parse(time.RFC3339, processedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing processed_at: %w", err)
		}
		m.Metadata.ProcessedAt = t
		m.Text = m.Metadata.Text
		m.Score = scores[m.ID]
		results = append(results, m)
	}
	if err := fullRows.Err(); err != nil {
		return nil, fmt.Errorf("iterating full entries: %w", err)
	}

	// Sort results by score descending (IN query doesn't preserve order).
	sortByScore(results)

	return results, nil
}

// Count returns the number of stored entries.
func (s *SQLiteIndex) Count() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM knowledge_vectors`).Scan(&count)
	return count, err
}

// DeleteDocument removes all entries belonging to the given source path.
func (s *SQLiteIndex) DeleteDocument(source string) (int, error) {
	res, err := s.db.Exec(`DELETE FROM knowledge_vectors WHERE source = ?`, source)
	if err != nil {
		return 0, fmt.Errorf("deleting entries for %s: %w", source, err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// sortByScore sorts matches by score descending. Used for small slices
// (topK).
func sortByScore(results []Match) {
	for i := 1; i < len(results); i++ {
		for j := i; j > 0 && results[j].Score > results[j-1].Score; j-- {
			results[j], results[j-1] = results[j-1], results[j]
		}
	}
}

// encodeFloat32s serializes a float32 slice to little-endian bytes.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32sInto decodes little-endian bytes into the provided buffer,
// reusing it to avoid per-row allocations during search scans.
func decodeFloat32sInto(buf []float32, b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	if cap(buf) < n {
		buf = make([]float32, n)
	} else {
		buf = buf[:n]
	}
	for i := range buf {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return buf, nil
}

// norm returns the L2 norm of a vector.
func norm(v []float32) float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return float32(math.Sqrt(sum))
}

// cosine computes cosine similarity as dot(a,b) / (aNorm * bNorm).
// aNorm is the precomputed L2 norm of vector a.
func cosine(a, b []float32, aNorm float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot float64
	var bNormSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bNormSq += float64(b[i]) * float64(b[i])
	}
	bNorm := math.Sqrt(bNormSq)
	if bNorm == 0 {
		return 0
	}
	return float32(dot / (float64(aNorm) * bNorm))
}

// idScoreHeap is a min-heap of idScore ordered by Score, used during the
// scan phase of Query to track top-K candidates by ID only.
type idScoreHeap []idScore

func (h idScoreHeap) Len() int           { return len(h) }
func (h idScoreHeap) Less(i, j int) bool { return h[i].Score < h[j].Score }
func (h idScoreHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *idScoreHeap) Push(x any)        { *h = append(*h, x.(idScore)) }
func (h *idScoreHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
