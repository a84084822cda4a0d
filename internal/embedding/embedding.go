package embedding

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"docqa/internal/config"
	"docqa/internal/models"
)

// Client is a provider model that can both generate text and embed documents
type Client interface {
	llms.Model
	embeddings.EmbedderClient
}

// NewClient creates the langchaingo client for the configured provider
func NewClient(ctx context.Context, llmConfig *config.LLMConfig) (Client, error) {
	log.Debug().Interface("config", map[string]string{
		"provider":        llmConfig.Provider,
		"base_url":        llmConfig.BaseURL,
		"model":           llmConfig.Model,
		"embedding_model": llmConfig.EmbeddingModel,
	}).Msg("Loaded config")

	var (
		client Client
		err    error
	)
	switch llmConfig.Provider {
	case config.ProviderGoogleAI, "":
		client, err = googleai.New(ctx,
			googleai.WithAPIKey(llmConfig.APIKey),
			googleai.WithDefaultModel(llmConfig.Model),
			googleai.WithDefaultEmbeddingModel(llmConfig.EmbeddingModel),
		)
	case config.ProviderOpenAI:
		opts := []openai.Option{
			openai.WithToken(strings.TrimPrefix(llmConfig.ProviderKey, "Bearer ")),
			openai.WithModel(llmConfig.Model),
			openai.WithEmbeddingModel(llmConfig.EmbeddingModel),
		}
		if llmConfig.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(llmConfig.BaseURL))
		}
		client, err = openai.New(opts...)
	case config.ProviderOllama:
		opts := []ollama.Option{ollama.WithModel(llmConfig.EmbeddingModel)}
		if llmConfig.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(llmConfig.BaseURL))
		}
		client, err = ollama.New(opts...)
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", models.ErrModelInitialization, llmConfig.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: error initializing %s client: %w", models.ErrModelInitialization, llmConfig.Provider, err)
	}
	return client, nil
}

// NewEmbedder wraps client in a batching embedder
func NewEmbedder(client embeddings.EmbedderClient, batchSize int) (*embeddings.EmbedderImpl, error) {
	opts := []embeddings.Option{embeddings.WithStripNewLines(false)}
	if batchSize > 0 {
		opts = append(opts, embeddings.WithBatchSize(batchSize))
	}
	embedder, err := embeddings.NewEmbedder(client, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: error creating embedder: %w", models.ErrModelInitialization, err)
	}
	return embedder, nil
}

// GenerateEmbeddings embeds the chunks in order, one vector per chunk
func GenerateEmbeddings(ctx context.Context, embedder embeddings.Embedder, chunks []string) ([][]float32, error) {
	if len(chunks) == 0 {
		log.Info().Msg("No chunks generated from content")
		return nil, nil
	}

	vectors, err := embedder.EmbedDocuments(ctx, chunks)
	if err != nil {
		return nil, fmt.Errorf("%w: error generating embeddings: %w", models.ErrModelInitialization, err)
	}
	if len(vectors) != len(chunks) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d chunks", models.ErrModelInitialization, len(vectors), len(chunks))
	}
	return vectors, nil
}
