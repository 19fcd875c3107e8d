// Package search ranks a repository's persisted chunks against a query by
// cosine similarity over their embeddings.
package search

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/seanblong/repochat/internal/ai"
	"github.com/seanblong/repochat/pkg/models"
)

// DefaultTopK is the number of chunks returned when the caller does not ask
// for a specific K.
const DefaultTopK = 5

// ChunkLoader is the slice of the store the engine needs.
type ChunkLoader interface {
	LoadChunks(ctx context.Context, repoID string) ([]models.Chunk, error)
}

// Service retrieves the most relevant chunks for a query.
type Service struct {
	Client ai.Client
	Store  ChunkLoader
}

// NewService creates a retrieval service with the provided AI client and store.
func NewService(client ai.Client, store ChunkLoader) *Service {
	return &Service{
		Client: client,
		Store:  store,
	}
}

// Retrieve embeds the query, scores every chunk of the repository, and
// returns the top k in descending similarity order. Ties keep the stored
// chunk order (path, then index). A repository with no persisted chunks
// yields ErrNotReady so the caller can tell "still ingesting" apart from
// "nothing matched".
func (s *Service) Retrieve(ctx context.Context, repoID, query string, k int) ([]models.ScoredChunk, error) {
	if k <= 0 {
		k = DefaultTopK
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("empty query: %w", models.ErrValidation)
	}

	qvec, err := s.Client.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	chunks, err := s.Store.LoadChunks(ctx, repoID)
	if err != nil {
		return nil, fmt.Errorf("load chunks: %w", err)
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("repository %s has no chunks: %w", repoID, models.ErrNotReady)
	}

	scored := make([]models.ScoredChunk, len(chunks))
	for i, c := range chunks {
		scored[i] = models.ScoredChunk{Chunk: c, Score: Cosine(qvec, c.Embedding)}
	}
	// Chunks arrive in (path, index) order; a stable sort preserves that
	// order among equal scores.
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })

	if k > len(scored) {
		k = len(scored)
	}
	return scored[:k], nil
}

// Cosine returns the cosine similarity dot(a,b)/(|a||b|). It is 0, not NaN,
// when either vector has zero norm or the lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
