// Package embeddings provides the embedding providers that can back a
// collection's embedding function.
package embeddings

import "context"

// Provider generates dense vectors for texts.
type Provider interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts in one round
	// trip where the provider supports it.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Name returns the provider name.
	Name() string

	// Dimension returns the embedding dimension.
	Dimension() int

	// MaxBatchSize returns the maximum number of texts per batch.
	MaxBatchSize() int
}

// Config selects and configures an embedding provider.
type Config struct {
	Provider string `yaml:"provider"` // openai or ollama
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"`
	Model    string `yaml:"model"`
}

// Func adapts a provider into the batched embedding function the
// collection engine accepts, splitting oversized batches along the
// provider's limit.
func Func(p Provider) func(ctx context.Context, texts []string) ([][]float32, error) {
	return func(ctx context.Context, texts []string) ([][]float32, error) {
		if len(texts) == 0 {
			return nil, nil
		}
		limit := p.MaxBatchSize()
		if limit <= 0 || len(texts) <= limit {
			return p.EmbedBatch(ctx, texts)
		}

		out := make([][]float32, 0, len(texts))
		for start := 0; start < len(texts); start += limit {
			end := start + limit
			if end > len(texts) {
				end = len(texts)
			}
			batch, err := p.EmbedBatch(ctx, texts[start:end])
			if err != nil {
				return nil, err
			}
			out = append(out, batch...)
		}
		return out, nil
	}
}
