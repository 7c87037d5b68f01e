// Package ingest turns document files into embedded, indexed knowledge.
// A run walks a directory, parses each supported file, chunks the text,
// embeds the chunks, and upserts them into the vector index.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fingenie/fingenie/internal/chunker"
	"github.com/fingenie/fingenie/internal/retrieval"
	"github.com/fingenie/fingenie/internal/storage"
)

const (
	// defaultMaxFileSize is the per-file ceiling; larger files are
	// counted as errors rather than read.
	defaultMaxFileSize = 50 << 20

	// maxChunksPerDoc caps embedding cost for very large documents. The
	// overflow is dropped and the document marked truncated.
	maxChunksPerDoc = 100

	// batchSize files are processed between pauses so embedding calls
	// don't arrive in one sustained burst.
	batchSize         = 3
	defaultBatchPause = 200 * time.Millisecond
)

// Embedder generates embeddings for a batch of chunk texts.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorUpserter receives embedded chunks and clears stale ones when a
// source is re-ingested with fewer chunks.
type VectorUpserter interface {
	EnsureIndex(dimension int) error
	Upsert(entries []retrieval.IndexEntry) (retrieval.UpsertReport, error)
	DeleteDocument(source string) (int, error)
}

// DocumentStore records processed-document metadata.
type DocumentStore interface {
	SaveDocument(doc storage.Document) error
	GetDocumentBySource(source string) (storage.Document, error)
}

// Report summarizes one ingestion run.
type Report struct {
	Processed int
	Errors    int
	Chunks    int
}

// Pipeline ingests a directory of documents.
type Pipeline struct {
	embedder Embedder
	index    VectorUpserter
	docs     DocumentStore

	chunkSize   int
	overlap     int
	maxFileSize int64
	pause       time.Duration
	logger      *slog.Logger

	indexReady bool
}

// New creates a Pipeline with the default chunking parameters.
func New(embedder Embedder, index VectorUpserter, docs DocumentStore) *Pipeline {
	return &Pipeline{
		embedder:    embedder,
		index:       index,
		docs:        docs,
		chunkSize:   chunker.DefaultChunkSize,
		overlap:     chunker.DefaultOverlap,
		maxFileSize: defaultMaxFileSize,
		pause:       defaultBatchPause,
		logger:      slog.Default(),
	}
}

// Ingest processes every supported file under dir. Individual file
// failures are counted and logged; only a failure to walk the directory
// itself is returned as an error.
func (p *Pipeline) Ingest(ctx context.Context, dir string) (Report, error) {
	files, err := collectFiles(dir)
	if err != nil {
		return Report{}, fmt.Errorf("scanning %s: %w", dir, err)
	}

	var report Report
	for i, path := range files {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if i > 0 && i%batchSize == 0 && p.pause > 0 {
			select {
			case <-ctx.Done():
				return report, ctx.Err()
			case <-time.After(p.pause):
			}
		}

		chunks, err := p.processFile(ctx, path)
		if err != nil {
			p.logger.Warn("document failed", "path", path, "error", err)
			report.Errors++
			continue
		}
		report.Processed++
		report.Chunks += chunks
	}

	p.logger.Info("ingestion finished",
		"dir", dir, "processed", report.Processed, "errors", report.Errors, "chunks", report.Chunks)
	return report, nil
}

// collectFiles returns supported files under dir ordered by parse
// complexity, cheapest first, then by path for determinism.
func collectFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !Supported(path) {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(files, func(i, j int) bool {
		ri := complexityRank[strings.ToLower(filepath.Ext(files[i]))]
		rj := complexityRank[strings.ToLower(filepath.Ext(files[j]))]
		if ri != rj {
			return ri < rj
		}
		return files[i] < files[j]
	})
	return files, nil
}

func (p *Pipeline) processFile(ctx context.Context, path string) (int, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	if fi.Size() > p.maxFileSize {
		return 0, fmt.Errorf("file is %d bytes, limit %d", fi.Size(), p.maxFileSize)
	}

	text, err := parseFile(path)
	if err != nil {
		return 0, err
	}

	// Re-ingesting a source keeps its document ID so entry IDs stay
	// stable and upserts overwrite instead of duplicating.
	var docID string
	prior, err := p.docs.GetDocumentBySource(path)
	switch {
	case err == nil:
		docID = prior.ID
	case errors.Is(err, storage.ErrNotFound):
		docID = uuid.New().String()
	default:
		return 0, fmt.Errorf("looking up document: %w", err)
	}

	chunks := chunker.Split(text, p.chunkSize, p.overlap)
	if len(chunks) == 0 {
		return 0, fmt.Errorf("no text extracted")
	}

	truncated := false
	if len(chunks) > maxChunksPerDoc {
		chunks = chunks[:maxChunksPerDoc]
		truncated = true
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	vectors, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embedding chunks: %w", err)
	}

	if !p.indexReady {
		if err := p.index.EnsureIndex(len(vectors[0])); err != nil {
			return 0, fmt.Errorf("preparing index: %w", err)
		}
		p.indexReady = true
	}

	// When the source shrank, entries beyond the new chunk count would
	// survive the upsert as stale hits. Clear them first.
	if prior.ID != "" && prior.ChunkCount > len(chunks) {
		if _, err := p.index.DeleteDocument(path); err != nil {
			return 0, fmt.Errorf("clearing stale entries: %w", err)
		}
	}

	now := time.Now().UTC()
	category := categorize(path)
	entries := make([]retrieval.IndexEntry, len(chunks))
	for i, c := range chunks {
		entries[i] = retrieval.IndexEntry{
			ID:     retrieval.EntryID(docID, i),
			Vector: vectors[i],
			Metadata: retrieval.EntryMetadata{
				Text:        c.Text,
				Source:      path,
				Category:    category,
				ChunkIndex:  i,
				TotalChunks: len(chunks),
				Truncated:   truncated,
				ProcessedAt: now,
			},
		}
	}

	upsert, err := p.index.Upsert(entries)
	if err != nil {
		return 0, fmt.Errorf("indexing chunks: %w", err)
	}
	if upsert.Failed > 0 {
		p.logger.Warn("partial upsert", "path", path, "failed_batches", upsert.Failed)
	}

	doc := storage.Document{
		ID:          docID,
		SourcePath:  path,
		Category:    category,
		SizeBytes:   fi.Size(),
		MimeType:    mimeType(path),
		ChunkCount:  len(chunks),
		Truncated:   truncated,
		ProcessedAt: now,
	}
	if err := p.docs.SaveDocument(doc); err != nil {
		return 0, fmt.Errorf("recording document: %w", err)
	}

	p.logger.Debug("document ingested",
		"path", path, "category", category, "chunks", len(chunks),
		"preview", chunker.JoinPreview(chunks[0], 80))
	return len(chunks), nil
}
