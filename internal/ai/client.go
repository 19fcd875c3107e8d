package ai

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
)

// Client provides embedding and answer generation.
type Client interface {
	// Embed turns text into a fixed-length vector of Dim() elements.
	Embed(ctx context.Context, text string) ([]float32, error)
	// Generate produces a natural-language answer for the prompt, within a
	// bounded output budget.
	Generate(ctx context.Context, prompt string) (string, error)
	// Dim is the embedding dimensionality.
	Dim() int
}

// Provider is enumeration of supported AI providers
type Provider string

const (
	ProviderOpenAI   Provider = "openai"
	ProviderVertexAI Provider = "vertexai"
	ProviderStub     Provider = "stub"
)

// ClientConfig holds configuration for AI clients
type ClientConfig struct {
	APIKey     string
	EmbedModel string
	ChatModel  string
	Dim        int
	ProjectID  string
	Provider   Provider
	Location   string
	MaxTokens  int
}

// DefaultMaxTokens bounds the generation output when no budget is configured.
const DefaultMaxTokens = 1024

// NewClient creates a new AI client based on configuration
func NewClient(config *ClientConfig) (Client, error) {
	if config == nil {
		return nil, errors.New("client config is required")
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = DefaultMaxTokens
	}

	ctx := context.Background()
	switch config.Provider {
	case ProviderOpenAI:
		return NewOpenAIClient(config), nil
	case ProviderVertexAI:
		return NewVertexAIClient(ctx, config)
	case ProviderStub:
		return NewStubClient(config.Dim), nil
	default:
		return nil, errors.New("unsupported provider: " + string(config.Provider))
	}
}

// StubClient is a deterministic offline implementation of Client. Embeddings
// are derived from a hash of the text so distinct inputs get distinct,
// repeatable vectors.
type StubClient struct {
	dim int
}

// NewStubClient creates a new StubClient
func NewStubClient(dim int) *StubClient {
	if dim == 0 {
		dim = 8
	}
	return &StubClient{dim: dim}
}

// Embed implements the embedding functionality
func (s *StubClient) Embed(ctx context.Context, text string) ([]float32, error) {
	sum := sha256.Sum256([]byte(text))
	vec := make([]float32, s.dim)
	for i := range vec {
		// Cycle through the digest four bytes at a time.
		off := (i * 4) % (len(sum) - 3)
		u := binary.BigEndian.Uint32(sum[off : off+4])
		vec[i] = float32(u%2000)/1000 - 1 // [-1, 1)
	}
	return vec, nil
}

// Generate implements the generation functionality
func (s *StubClient) Generate(ctx context.Context, prompt string) (string, error) {
	return fmt.Sprintf("stub answer (%d prompt chars)", len(prompt)), nil
}

// Dim returns the embedding dimension
func (s *StubClient) Dim() int {
	return s.dim
}
