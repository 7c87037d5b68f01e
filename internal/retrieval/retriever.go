package retrieval

import (
	"context"
	"log/slog"
)

// Retriever combines embedding and vector search to find relevant context.
// Retrieval failures are absorbed: a request must never fail because
// semantic recall is degraded, so errors reduce to an empty result plus a
// logged warning.
type Retriever struct {
	embedder *Embedder
	index    VectorIndex
}

// NewRetriever creates a Retriever backed by the given Embedder and
// VectorIndex.
func NewRetriever(embedder *Embedder, index VectorIndex) *Retriever {
	return &Retriever{embedder: embedder, index: index}
}

// Retrieve embeds the query and returns the topK most similar entries.
// On embedding outage or index failure it returns an empty result.
func (r *Retriever) Retrieve(ctx context.Context, query string, topK int) []Match {
	vec, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		slog.Warn("semantic recall disabled for request", "error", err)
		return nil
	}

	matches, err := r.index.Query(ctx, vec, topK, "")
	if err != nil {
		slog.Warn("vector index query failed", "error", err)
		return nil
	}
	return matches
}
