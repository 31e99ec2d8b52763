// Package embedding turns text into dense vectors for the vector index.
package embedding

import (
	"context"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/quotegate/backend/pkg/circuitbreaker"
	"github.com/quotegate/backend/pkg/logger"
	"github.com/quotegate/backend/pkg/retry"
)

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
}

// OpenAI calls an OpenAI-compatible /embeddings endpoint.
type OpenAI struct {
	client    *openai.Client
	model     string
	batchSize int
	timeout   time.Duration
	cb        *circuitbreaker.Breaker
	retry     retry.Config
}

type OpenAIOptions struct {
	APIKey    string
	BaseURL   string
	Model     string
	BatchSize int
	Timeout   time.Duration
}

func NewOpenAI(opts OpenAIOptions) *OpenAI {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 64
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	log := logger.GetLogger()
	logger.Info("Embedding client initialized", zap.String("model", opts.Model))

	return &OpenAI{
		client:    openai.NewClientWithConfig(cfg),
		model:     opts.Model,
		batchSize: opts.BatchSize,
		timeout:   opts.Timeout,
		cb: circuitbreaker.New("embeddings", circuitbreaker.Config{
			FailureThreshold: 5,
			OpenTimeout:      30 * time.Second,
			Logger:           log,
		}),
		retry: retry.Config{
			MaxAttempts:    3,
			InitialDelay:   500 * time.Millisecond,
			MaxDelay:       5 * time.Second,
			Multiplier:     2.0,
			JitterFraction: 0.1,
			Logger:         log,
		},
	}
}

func (o *OpenAI) Model() string { return o.model }

func (o *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := o.create(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (o *OpenAI) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += o.batchSize {
		end := i + o.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := o.create(ctx, texts[i:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}

	logger.Debug("Batch embeddings generated", zap.Int("count", len(out)))
	return out, nil
}

func (o *OpenAI) create(ctx context.Context, input []string) ([][]float32, error) {
	return retry.DoWithResult(ctx, o.retry, func(ctx context.Context) ([][]float32, error) {
		return circuitbreaker.Run(ctx, o.cb, func(ctx context.Context) ([][]float32, error) {
			ctx, cancel := context.WithTimeout(ctx, o.timeout)
			defer cancel()

			resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
				Input: input,
				Model: openai.EmbeddingModel(o.model),
			})
			if err != nil {
				return nil, fmt.Errorf("failed to generate embeddings: %w", err)
			}
			if len(resp.Data) != len(input) {
				return nil, retry.Permanent(fmt.Errorf("embedding service returned %d vectors for %d inputs", len(resp.Data), len(input)))
			}

			vecs := make([][]float32, len(input))
			for _, d := range resp.Data {
				if d.Index < 0 || d.Index >= len(input) {
					return nil, retry.Permanent(fmt.Errorf("embedding index %d out of range", d.Index))
				}
				vecs[d.Index] = d.Embedding
			}
			return vecs, nil
		})
	})
}
