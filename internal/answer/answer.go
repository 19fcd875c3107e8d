// Package answer assembles the generation prompt from retrieved context and
// produces the final attributed answer.
package answer

import (
	"context"
	"fmt"
	"strings"

	"github.com/seanblong/repochat/internal/ai"
	"github.com/seanblong/repochat/pkg/models"
)

// DefaultMaxContextChars bounds the retrieved context placed in the prompt.
// Chunks are included whole in rank order until the budget is spent; the top
// chunk is always included, truncated if it alone exceeds the budget.
const DefaultMaxContextChars = 24000

const chunkSeparator = "\n\n---\n\n"

// Composer builds prompts and invokes the generation client.
type Composer struct {
	Client          ai.Client
	MaxContextChars int
}

// NewComposer creates a composer with the default context budget.
func NewComposer(client ai.Client) *Composer {
	return &Composer{Client: client, MaxContextChars: DefaultMaxContextChars}
}

// Answer is the composed result: the model's text and the deduplicated file
// paths of the chunks that grounded it.
type Answer struct {
	Content string   `json:"content"`
	Sources []string `json:"sources"`
}

// Compose builds one prompt from the repository identity, the retrieved
// chunks, the optional user code snippet, and the question, then invokes the
// generation client once. Sources are the retrieved chunks' file paths,
// first occurrence wins.
func (c *Composer) Compose(ctx context.Context, query string, repo models.Repository, retrieved []models.ScoredChunk, codeSnippet string) (Answer, error) {
	if len(retrieved) == 0 {
		return Answer{}, fmt.Errorf("no retrieved context: %w", models.ErrNotReady)
	}

	kept := c.fitContext(retrieved)

	var b strings.Builder
	fmt.Fprintf(&b, "You are a helpful AI assistant that answers questions about the GitHub repository %q.\n\n", repo.FullName())
	b.WriteString("Context from the repository:\n")
	for i, sc := range kept {
		if i > 0 {
			b.WriteString(chunkSeparator)
		}
		b.WriteString(sc.Chunk.Text)
	}
	b.WriteString("\n")

	if codeSnippet != "" {
		b.WriteString("\nUser provided code snippet:\n```\n")
		b.WriteString(codeSnippet)
		b.WriteString("\n```\n")
	}

	b.WriteString("\nUser question: ")
	b.WriteString(query)
	b.WriteString("\n\nProvide a helpful and accurate answer based on the repository context. If you reference specific files, mention them.")

	content, err := c.Client.Generate(ctx, b.String())
	if err != nil {
		return Answer{}, fmt.Errorf("generate answer: %w", err)
	}

	return Answer{Content: content, Sources: sourcePaths(retrieved)}, nil
}

// fitContext keeps whole chunks in rank order within the character budget.
func (c *Composer) fitContext(retrieved []models.ScoredChunk) []models.ScoredChunk {
	budget := c.MaxContextChars
	if budget <= 0 {
		budget = DefaultMaxContextChars
	}

	kept := make([]models.ScoredChunk, 0, len(retrieved))
	used := 0
	for _, sc := range retrieved {
		// The separator only exists between chunks, so the first one is
		// charged for its text alone.
		cost := len(sc.Chunk.Text)
		if len(kept) > 0 {
			cost += len(chunkSeparator)
		}
		if used+cost > budget {
			break
		}
		kept = append(kept, sc)
		used += cost
	}
	if len(kept) == 0 {
		// The top chunk alone is over budget; keep a truncated copy.
		top := retrieved[0]
		if budget < len(top.Chunk.Text) {
			top.Chunk.Text = top.Chunk.Text[:budget]
		}
		kept = append(kept, top)
	}
	return kept
}

// sourcePaths deduplicates file paths preserving first-occurrence order.
// Attribution covers everything retrieved, whether or not the context budget
// kept it.
func sourcePaths(retrieved []models.ScoredChunk) []string {
	seen := make(map[string]struct{}, len(retrieved))
	paths := make([]string, 0, len(retrieved))
	for _, sc := range retrieved {
		if _, ok := seen[sc.Chunk.Path]; ok {
			continue
		}
		seen[sc.Chunk.Path] = struct{}{}
		paths = append(paths, sc.Chunk.Path)
	}
	return paths
}
