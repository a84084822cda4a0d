package llmservice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	genai "github.com/google/generative-ai-go/genai"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"

	"docqa/internal/config"
	"docqa/internal/embedding"
	"docqa/internal/models"
)

// VisionGenerator is the multimodal model. *genai.GenerativeModel satisfies it.
type VisionGenerator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// Manager owns every model client of the process. Calls are never retried: the first
// failure is returned wrapped in models.ErrModelInitialization.
type Manager struct {
	text        llms.Model
	model       string
	embedder    embeddings.Embedder
	vision      VisionGenerator
	closer      io.Closer
	limiter     *rate.Limiter
	temperature float64
	maxImages   int
}

// NewManager creates the text, embedding and vision clients from cfg
func NewManager(ctx context.Context, cfg *config.Config) (*Manager, error) {
	if cfg.LLM.APIKey == "" {
		return nil, fmt.Errorf("%w: %s not found in environment", models.ErrModelInitialization, config.APIKeyEnv)
	}

	client, err := embedding.NewClient(ctx, &cfg.LLM)
	if err != nil {
		return nil, err
	}
	embedder, err := embedding.NewEmbedder(client, cfg.LLM.EmbeddingBatchSize)
	if err != nil {
		return nil, err
	}

	vc, err := genai.NewClient(ctx, option.WithAPIKey(cfg.LLM.APIKey))
	if err != nil {
		return nil, fmt.Errorf("%w: error initializing vision model: %w", models.ErrModelInitialization, err)
	}
	vision := vc.GenerativeModel(cfg.LLM.VisionModel)
	vision.SetTemperature(float32(cfg.Processing.Temperature))

	m := NewManagerWith(client, embedder, vision, cfg)
	m.closer = vc
	log.Info().Str("provider", cfg.LLM.Provider).Str("model", cfg.LLM.Model).Str("vision_model", cfg.LLM.VisionModel).Msg("Models initialized")
	return m, nil
}

// NewManagerWith assembles a manager around already built clients
func NewManagerWith(text llms.Model, embedder embeddings.Embedder, vision VisionGenerator, cfg *config.Config) *Manager {
	m := &Manager{
		text:        text,
		model:       cfg.LLM.Model,
		embedder:    embedder,
		vision:      vision,
		temperature: cfg.Processing.Temperature,
		maxImages:   cfg.Processing.MaxImages,
	}
	if rpm := cfg.LLM.RequestsPerMinute; rpm > 0 {
		m.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), max(1, rpm/10))
	}
	return m
}

func (m *Manager) Close() error {
	if m.closer == nil {
		return nil
	}
	return m.closer.Close()
}

func (m *Manager) wait(ctx context.Context) error {
	if m.limiter == nil {
		return nil
	}
	if err := m.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: rate limiter: %w", models.ErrModelInitialization, err)
	}
	return nil
}

func (m *Manager) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	return embedding.GenerateEmbeddings(ctx, m.embedder, texts)
}

func (m *Manager) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	vector, err := m.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: error embedding query: %w", models.ErrModelInitialization, err)
	}
	return vector, nil
}

func (m *Manager) GenerateText(ctx context.Context, prompt string) (string, error) {
	if err := m.wait(ctx); err != nil {
		return "", err
	}
	opts := []llms.CallOption{llms.WithTemperature(m.temperature)}
	if m.model != "" {
		opts = append(opts, llms.WithModel(m.model))
	}
	out, err := llms.GenerateFromSinglePrompt(ctx, m.text, prompt, opts...)
	if err != nil {
		return "", fmt.Errorf("%w: error generating text response: %w", models.ErrModelInitialization, err)
	}
	return out, nil
}

// GenerateMultimodal sends the parts in order, keeping at most maxImages images
func (m *Manager) GenerateMultimodal(ctx context.Context, parts []models.PromptPart) (string, error) {
	if m.vision == nil {
		return "", fmt.Errorf("%w: vision model not configured", models.ErrModelInitialization)
	}
	if err := m.wait(ctx); err != nil {
		return "", err
	}

	resp, err := m.vision.GenerateContent(ctx, ToGenaiParts(parts, m.maxImages)...)
	if err != nil {
		return "", fmt.Errorf("%w: error generating multimodal response: %w", models.ErrModelInitialization, err)
	}
	text, err := ResponseText(resp)
	if err != nil {
		return "", fmt.Errorf("%w: %w", models.ErrModelInitialization, err)
	}
	return text, nil
}

// ToGenaiParts converts prompt parts, dropping images beyond maxImages
func ToGenaiParts(parts []models.PromptPart, maxImages int) []genai.Part {
	out := make([]genai.Part, 0, len(parts))
	images := 0
	for _, p := range parts {
		if !p.IsImage() {
			out = append(out, genai.Text(p.Text))
			continue
		}
		if images >= maxImages {
			continue
		}
		images++
		out = append(out, genai.Blob{MIMEType: p.MIMEType, Data: p.Data})
	}
	return out
}

// ResponseText concatenates the text parts of the first candidate
func ResponseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0] == nil || resp.Candidates[0].Content == nil {
		return "", errors.New("empty response from vision model")
	}

	var reply strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			reply.WriteString(string(txt))
		}
	}
	if strings.TrimSpace(reply.String()) == "" {
		return "", errors.New("vision model returned no text")
	}
	return reply.String(), nil
}
