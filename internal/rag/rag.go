package rag

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"docqa/internal/chunker"
	"docqa/internal/config"
	"docqa/internal/models"
)

type DocumentExtractor interface {
	Extract(path string) (*models.DocumentContent, error)
}

type ImageExtractor interface {
	ExtractImages(ctx context.Context, path string) ([]models.ImageRecord, error)
	PrepareVisionPrompt(query, textContext string, images []models.ImageRecord) []models.PromptPart
}

type Model interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	GenerateText(ctx context.Context, prompt string) (string, error)
	GenerateMultimodal(ctx context.Context, parts []models.PromptPart) (string, error)
}

type Index interface {
	Reset(ctx context.Context) error
	Add(ctx context.Context, chunks []string, embeddings [][]float32, metadata []map[string]string) error
	Query(ctx context.Context, embedding []float32, k int) ([]string, error)
}

// Classifier decides whether a query asks about visual content
type Classifier func(query string) bool

// KeywordClassifier matches any of models.VisualKeywords as a case-insensitive substring
func KeywordClassifier(query string) bool {
	q := strings.ToLower(query)
	for _, word := range models.VisualKeywords {
		if strings.Contains(q, word) {
			return true
		}
	}
	return false
}

// Document is the outcome of an ingest, kept by the session for the query flow
type Document struct {
	Content *models.DocumentContent
	Images  []models.ImageRecord
	Chunks  []models.Chunk
}

// RAG is one question-answering session: at most one indexed document at a time
type RAG struct {
	mu sync.Mutex

	extractor DocumentExtractor
	images    ImageExtractor
	chunker   chunker.Chunker
	model     Model
	index     Index
	classify  Classifier
	k         int

	// readable while an ingest holds mu
	state atomic.Int32
	doc   *Document
}

func NewRAG(extractor DocumentExtractor, images ImageExtractor, c chunker.Chunker, model Model, index Index, cfg *config.Config) *RAG {
	r := &RAG{
		extractor: extractor,
		images:    images,
		chunker:   c,
		model:     model,
		index:     index,
		classify:  KeywordClassifier,
		k:         cfg.Processing.RetrievalK,
	}
	r.state.Store(int32(StateIdle))
	return r
}

// WithClassifier swaps the routing heuristic
func (r *RAG) WithClassifier(c Classifier) *RAG {
	r.classify = c
	return r
}

func (r *RAG) State() State {
	return State(r.state.Load())
}

func (r *RAG) setState(s State) {
	prev := State(r.state.Swap(int32(s)))
	log.Debug().Str("from", prev.String()).Str("to", s.String()).Msg("State change")
}

// ProcessDocument ingests path into a fresh index. Every failure is logged and returned.
func (r *RAG) ProcessDocument(ctx context.Context, path string) (*Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.processDocument(ctx, path)
}

func (r *RAG) processDocument(ctx context.Context, path string) (*Document, error) {
	log.Info().Str("path", path).Msg("Processing document")

	doc, err := r.ingest(ctx, path)
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("Error processing document")
		r.doc = nil
		r.setState(StateIdle)
		return nil, err
	}

	r.doc = doc
	r.setState(StateReady)
	log.Info().Int("chunks", len(doc.Chunks)).Int("images", len(doc.Images)).Msg("Document processed successfully")
	return doc, nil
}

func (r *RAG) ingest(ctx context.Context, path string) (*Document, error) {
	r.setState(StateExtracting)
	content, err := r.extractor.Extract(path)
	if err != nil {
		return nil, err
	}
	images, err := r.images.ExtractImages(ctx, path)
	if err != nil {
		return nil, err
	}

	r.setState(StateChunking)
	texts, err := r.chunker.CreateChunks(content.CombinedText())
	if err != nil {
		return nil, err
	}
	chunks := make([]models.Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = models.Chunk{ID: models.ChunkID(i), Position: i, Content: text}
	}

	r.setState(StateEmbedding)
	embeddings, err := r.model.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, err
	}

	r.setState(StateIndexing)
	if err := r.index.Reset(ctx); err != nil {
		return nil, err
	}
	if err := r.index.Add(ctx, texts, embeddings, chunkMetadata(path, chunks)); err != nil {
		return nil, err
	}

	return &Document{Content: content, Images: images, Chunks: chunks}, nil
}

func chunkMetadata(path string, chunks []models.Chunk) []map[string]string {
	source := filepath.Base(path)
	meta := make([]map[string]string, len(chunks))
	for i, c := range chunks {
		meta[i] = map[string]string{
			models.ChunkIDMetadata:  strconv.Itoa(c.Position),
			models.PositionMetadata: strconv.Itoa(c.Position),
			models.SourceMetadata:   source,
		}
	}
	return meta
}

// GenerateResponse answers query against the ingested document. It never fails: any error
// is logged and replaced by models.ApologyMessage.
func (r *RAG) GenerateResponse(ctx context.Context, query string) string {
	return r.Respond(ctx, query).Content
}

// Respond is GenerateResponse with the retrieved context and route
func (r *RAG) Respond(ctx context.Context, query string) models.PromptResponse {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.respond(ctx, query)
}

func (r *RAG) respond(ctx context.Context, query string) models.PromptResponse {
	log.Info().Str("query", query).Msg("Generating response")

	resp, err := r.answer(ctx, query)
	if err != nil {
		log.Error().Err(err).Str("query", query).Msg("Error generating response")
		return models.PromptResponse{Query: query, Content: models.ApologyMessage}
	}
	return resp
}

var errNotReady = errors.New("no document has been processed")

func (r *RAG) answer(ctx context.Context, query string) (models.PromptResponse, error) {
	if r.doc == nil || r.State() != StateReady {
		return models.PromptResponse{}, errNotReady
	}
	trace := []State{StateEmbeddingQuery}
	defer func() {
		log.Debug().Stringer("flow", queryFlow(trace)).Msg("Query flow")
	}()

	embedding, err := r.model.EmbedQuery(ctx, query)
	if err != nil {
		return models.PromptResponse{}, err
	}

	trace = append(trace, StateRetrieving)
	chunks, err := r.index.Query(ctx, embedding, r.k)
	if err != nil {
		return models.PromptResponse{}, err
	}
	textContext := strings.Join(chunks, "\n")

	trace = append(trace, StateRoutingDecision)
	multimodal := r.classify(query) && len(r.doc.Images) > 0

	trace = append(trace, StateGenerating)
	var out string
	if multimodal {
		log.Info().Int("images", len(r.doc.Images)).Msg("Processing image-related query with multimodal model")
		out, err = r.model.GenerateMultimodal(ctx, r.images.PrepareVisionPrompt(query, textContext, r.doc.Images))
	} else {
		log.Info().Msg("Processing text-only query")
		out, err = r.model.GenerateText(ctx, TextPrompt(query, textContext))
	}
	if err != nil {
		return models.PromptResponse{}, err
	}

	trace = append(trace, StateDone)
	return models.PromptResponse{Query: query, Source: textContext, Content: out, Multimodal: multimodal}, nil
}

// TextPrompt fills the text-only template with the retrieved context and the question
func TextPrompt(query, textContext string) string {
	return fmt.Sprintf(models.TextPromptTemplate, textContext, query)
}

// Answer is the form entry point: ingest path, then answer question about it
func (r *RAG) Answer(ctx context.Context, path, question string) string {
	if strings.TrimSpace(path) == "" || strings.TrimSpace(question) == "" {
		return models.MissingInputMessage
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.processDocument(ctx, path); err != nil {
		log.Error().Err(err).Msg("Error processing query")
		return fmt.Sprintf(models.IngestErrorFormat, err)
	}
	return r.respond(ctx, question).Content
}
