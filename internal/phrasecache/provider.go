// Package phrasecache maintains per-prompt caches of validated candidate
// phrases for AI submissions and hints. Generation happens under a per-key
// content lock and deliberately holds that lock across the LLM call, so two
// callers never generate the same cache twice.
package phrasecache

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/sheegaon/quipflip-sub002/internal/config"
	"github.com/sheegaon/quipflip-sub002/internal/types"
)

// LLMProvider produces candidate phrases for a prompt.
type LLMProvider interface {
	// GeneratePhrases returns up to n candidate phrases for the prompt.
	GeneratePhrases(ctx context.Context, prompt string, n int) ([]string, error)

	// Name identifies the provider for cache attribution.
	Name() string

	// Model identifies the model for cache attribution.
	Model() string
}

// NewProvider creates the provider selected by configuration.
func NewProvider(cfg config.LLMConfig) (LLMProvider, error) {
	switch cfg.Provider {
	case "gemini":
		return NewGenAIProvider(cfg.GeminiAPIKey, cfg.Model)
	case "none":
		return NoneProvider{}, nil
	case "openai":
		// The OpenAI path rides the genai SDK's OpenAI-compatible surface in
		// deployments that need it; the coordinator only depends on the
		// interface.
		return nil, fmt.Errorf("openai provider not wired in this build; use gemini or none")
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

// =============================================================================
// GEMINI
// =============================================================================

// GenAIProvider generates phrases with the Gemini API.
type GenAIProvider struct {
	client *genai.Client
	model  string
}

// NewGenAIProvider creates a Gemini-backed provider.
func NewGenAIProvider(apiKey, model string) (*GenAIProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("Gemini API key is required")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GenAIProvider{client: client, model: model}, nil
}

// GeneratePhrases asks the model for n short phrases, one per line.
func (p *GenAIProvider) GeneratePhrases(ctx context.Context, prompt string, n int) ([]string, error) {
	instruction := fmt.Sprintf(
		"Give %d short, funny answers to the following party-game prompt. "+
			"One answer per line, no numbering, no quotes, each under 10 words.\n\nPrompt: %s",
		n, prompt)

	resp, err := p.client.Models.GenerateContent(ctx, p.model,
		genai.Text(instruction), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrProviderUnavailable, err)
	}

	var out []string
	for _, line := range strings.Split(resp.Text(), "\n") {
		line = strings.TrimSpace(strings.Trim(line, "-*\"' "))
		if line == "" {
			continue
		}
		out = append(out, line)
		if len(out) == n {
			break
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: empty response", types.ErrAIGenerationFailed)
	}
	return out, nil
}

// Name returns the provider name.
func (p *GenAIProvider) Name() string { return "gemini" }

// Model returns the configured model.
func (p *GenAIProvider) Model() string { return p.model }

// =============================================================================
// NONE
// =============================================================================

// NoneProvider always reports unavailability; the static corpus is the only
// phrase source when it is configured.
type NoneProvider struct{}

// GeneratePhrases always fails with ErrProviderUnavailable.
func (NoneProvider) GeneratePhrases(context.Context, string, int) ([]string, error) {
	return nil, types.ErrProviderUnavailable
}

// Name returns the provider name.
func (NoneProvider) Name() string { return "none" }

// Model returns an empty model name.
func (NoneProvider) Model() string { return "" }
