package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/fingenie/fingenie/internal/cache"
)

// embedConcurrency bounds simultaneous embedding calls to respect upstream
// rate limits.
const embedConcurrency = 10

// EmbeddingClient generates embedding vectors for texts. Embed is the
// document side of retrieval, EmbedQuery the search side. Implemented by
// gemini.Client.
type EmbeddingClient interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Embedder wraps an EmbeddingClient with caching and bounded-concurrency
// batching. Identical text embeds to an identical vector, so results are
// cached under the fundamentals TTL class.
type Embedder struct {
	client EmbeddingClient
	cache  *cache.Cache
}

// NewEmbedder creates an Embedder. cache may be nil to disable caching.
func NewEmbedder(client EmbeddingClient, c *cache.Cache) *Embedder {
	return &Embedder{client: client, cache: c}
}

// Embed returns the document-side embedding vector for a single text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return e.cached(ctx, "embed:", text, e.client.Embed)
}

// EmbedQuery returns the query-side embedding vector. Query and document
// vectors for identical text differ, so the two sides cache under
// separate key prefixes.
func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return e.cached(ctx, "embedq:", text, e.client.EmbedQuery)
}

func (e *Embedder) cached(ctx context.Context, prefix, text string, call func(context.Context, string) ([]float32, error)) ([]float32, error) {
	key := embedCacheKey(prefix, text)
	if e.cache != nil {
		if v, ok := e.cache.Get(key); ok {
			return v.([]float32), nil
		}
	}

	vec, err := call(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embedding text: %w", err)
	}

	if e.cache != nil {
		e.cache.Set(key, vec, cache.TTLFundamentals)
	}
	return vec, nil
}

// EmbedBatch returns embedding vectors for multiple texts concurrently,
// with at most embedConcurrency calls in flight. A single failure fails
// the whole batch: embedding outages are capability outages, not per-item
// errors. Returns nil (not error) for empty input.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	results := make([][]float32, len(texts))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(embedConcurrency)

	for i, text := range texts {
		g.Go(func() error {
			vec, err := e.Embed(gCtx, text)
			if err != nil {
				return fmt.Errorf("embedding text %d: %w", i, err)
			}
			results[i] = vec
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func embedCacheKey(prefix, text string) string {
	sum := sha256.Sum256([]byte(text))
	return prefix + hex.EncodeToString(sum[:16])
}
