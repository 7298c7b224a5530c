// Package cluster implements semantic matching for guess rounds: embedding
// generation with a two-tier cache, clamped cosine similarity, running-mean
// cluster assignment and usefulness-based corpus pruning.
package cluster

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"

	"google.golang.org/genai"

	"github.com/sheegaon/quipflip-sub002/internal/config"
	"github.com/sheegaon/quipflip-sub002/internal/logging"
)

// =============================================================================
// EMBEDDING ENGINE INTERFACE
// =============================================================================

// EmbeddingEngine generates vector embeddings for text.
type EmbeddingEngine interface {
	// Embed generates an embedding for a single text
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the dimensionality of embeddings
	Dimensions() int

	// Name returns the engine name
	Name() string
}

// NewEngine creates an embedding engine based on configuration.
func NewEngine(cfg config.EmbeddingConfig) (EmbeddingEngine, error) {
	logging.Cluster("Creating embedding engine with provider=%s", cfg.Provider)

	switch cfg.Provider {
	case "genai":
		return NewGenAIEngine(cfg.APIKey, cfg.Model)
	case "mock":
		return NewMockEngine(64), nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s (use 'genai' or 'mock')", cfg.Provider)
	}
}

// =============================================================================
// GOOGLE GENAI ENGINE
// =============================================================================

// GenAIEngine generates embeddings using Google's Gemini API.
type GenAIEngine struct {
	client *genai.Client
	model  string
}

// NewGenAIEngine creates a new GenAI embedding engine.
func NewGenAIEngine(apiKey, model string) (*GenAIEngine, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}
	if model == "" {
		model = "gemini-embedding-001"
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &GenAIEngine{client: client, model: model}, nil
}

// Embed generates an embedding for a single text.
func (e *GenAIEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	contents := []*genai.Content{
		genai.NewContentFromText(text, genai.RoleUser),
	}

	result, err := e.client.Models.EmbedContent(ctx,
		e.model,
		contents,
		&genai.EmbedContentConfig{
			TaskType: "SEMANTIC_SIMILARITY",
		},
	)
	if err != nil {
		return nil, fmt.Errorf("GenAI embed failed: %w", err)
	}
	if len(result.Embeddings) == 0 {
		return nil, fmt.Errorf("no embeddings returned")
	}
	return result.Embeddings[0].Values, nil
}

// EmbedBatch generates embeddings for multiple texts. GenAI has native batch
// support.
func (e *GenAIEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}

	result, err := e.client.Models.EmbedContent(ctx,
		e.model,
		contents,
		&genai.EmbedContentConfig{
			TaskType: "SEMANTIC_SIMILARITY",
		},
	)
	if err != nil {
		return nil, fmt.Errorf("GenAI batch embed failed: %w", err)
	}

	embeddings := make([][]float32, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		embeddings[i] = emb.Values
	}
	return embeddings, nil
}

// Dimensions returns the dimensionality of embeddings.
// gemini-embedding-001 produces 768-dimensional vectors.
func (e *GenAIEngine) Dimensions() int { return 768 }

// Name returns the engine name.
func (e *GenAIEngine) Name() string { return fmt.Sprintf("genai:%s", e.model) }

// =============================================================================
// MOCK ENGINE
// =============================================================================

// MockEngine produces deterministic pseudo-embeddings from a text hash.
// Identical texts map to identical vectors, distinct texts are near
// orthogonal in expectation, which is enough for tests and offline runs.
type MockEngine struct {
	dims int
}

// NewMockEngine creates a mock engine with the given dimensionality.
func NewMockEngine(dims int) *MockEngine {
	if dims <= 0 {
		dims = 64
	}
	return &MockEngine{dims: dims}
}

// Embed returns the deterministic vector for text.
func (e *MockEngine) Embed(_ context.Context, text string) ([]float32, error) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum64()

	vec := make([]float32, e.dims)
	var norm float64
	for i := range vec {
		// xorshift64 keeps the sequence deterministic per seed.
		seed ^= seed << 13
		seed ^= seed >> 7
		seed ^= seed << 17
		v := float64(int64(seed%2001)-1000) / 1000.0
		vec[i] = float32(v)
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm > 0 {
		for i := range vec {
			vec[i] = float32(float64(vec[i]) / norm)
		}
	}
	return vec, nil
}

// EmbedBatch embeds each text independently.
func (e *MockEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Dimensions returns the configured dimensionality.
func (e *MockEngine) Dimensions() int { return e.dims }

// Name returns the engine name.
func (e *MockEngine) Name() string { return "mock" }
