// Package embedding provides the optional embedding capability. Per the
// external interfaces design, semantic equivalence throughout the core is
// LLM-judged, not embedding-based; this package exists solely to back the
// cycle manager's contradiction-sampling fallback.
package embedding

import (
	"context"
	"fmt"
	"math"
	"time"

	"soulforge/internal/logging"

	"google.golang.org/genai"
)

const maxBatchSize = 100

// Engine generates vector embeddings for text.
type Engine interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Name() string
}

// GenAIEngine generates embeddings using Google's Gemini API.
type GenAIEngine struct {
	client *genai.Client
	model  string
}

// NewGenAIEngine constructs an embedding engine bound to one model.
func NewGenAIEngine(ctx context.Context, apiKey, model string) (*GenAIEngine, error) {
	log := logging.Get(logging.CategoryEmbedding)

	if apiKey == "" {
		return nil, fmt.Errorf("embedding: GenAI API key is required")
	}
	if model == "" {
		model = "gemini-embedding-001"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("embedding: failed to create genai client: %w", err)
	}

	log.Debugw("genai embedding engine constructed", "model", model)
	return &GenAIEngine{client: client, model: model}, nil
}

func int32Ptr(i int32) *int32 { return &i }

// Embed generates an embedding for a single text.
func (e *GenAIEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.embedChunk(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("embedding: no embeddings returned")
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for multiple texts, chunking at the
// API's per-request size ceiling.
func (e *GenAIEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if len(texts) <= maxBatchSize {
		return e.embedChunk(ctx, texts)
	}

	all := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += maxBatchSize {
		end := start + maxBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		chunk, err := e.embedChunk(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embedding: batch %d-%d failed: %w", start, end, err)
		}
		all = append(all, chunk...)
	}
	return all, nil
}

func (e *GenAIEngine) embedChunk(ctx context.Context, texts []string) ([][]float32, error) {
	log := logging.Get(logging.CategoryEmbedding)
	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}

	start := time.Now()
	result, err := e.client.Models.EmbedContent(ctx, e.model, contents,
		&genai.EmbedContentConfig{OutputDimensionality: int32Ptr(3072)})
	latency := time.Since(start)

	if err != nil {
		log.Warnw("embed chunk failed", "latency", latency, "err", err)
		return nil, fmt.Errorf("embedding: embed failed: %w", err)
	}

	out := make([][]float32, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		out[i] = emb.Values
	}
	return out, nil
}

// Dimensions returns the dimensionality of embeddings produced.
func (e *GenAIEngine) Dimensions() int { return 3072 }

// Name returns the engine name.
func (e *GenAIEngine) Name() string { return fmt.Sprintf("genai:%s", e.model) }

// CosineSimilarity calculates the cosine similarity between two vectors.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("embedding: vectors must have the same length: %d != %d", len(a), len(b))
	}

	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB)), nil
}
