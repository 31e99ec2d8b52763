package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/quotegate/backend/pkg/circuitbreaker"
	"github.com/quotegate/backend/pkg/logger"
	"github.com/quotegate/backend/pkg/retry"
)

// Client calls a cross-encoder service over HTTP. The service accepts
// {"model","query","documents"} and answers {"scores":[...]}.
type Client struct {
	endpoint   string
	model      string
	httpClient *http.Client
	breaker    *circuitbreaker.Breaker
	retry      retry.Config
}

type scoreRequest struct {
	Model     string   `json:"model,omitempty"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
}

type scoreResponse struct {
	Scores []float64 `json:"scores"`
}

func NewClient(endpoint, model string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	log := logger.GetLogger()
	return &Client{
		endpoint:   endpoint,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
		breaker: circuitbreaker.New("reranker", circuitbreaker.Config{
			FailureThreshold: 5,
			OpenTimeout:      30 * time.Second,
			Logger:           log,
		}),
		retry: retry.Config{
			MaxAttempts:  3,
			InitialDelay: 100 * time.Millisecond,
			MaxDelay:     time.Second,
			Logger:       log,
		},
	}
}

func (c *Client) Score(ctx context.Context, query string, texts []string) ([]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(scoreRequest{Model: c.model, Query: query, Documents: texts})
	if err != nil {
		return nil, fmt.Errorf("failed to encode rerank request: %w", err)
	}

	start := time.Now()
	scores, err := retry.DoWithResult(ctx, c.retry, func(ctx context.Context) ([]float64, error) {
		return circuitbreaker.Run(ctx, c.breaker, func(ctx context.Context) ([]float64, error) {
			return c.post(ctx, body)
		})
	})
	if err != nil {
		return nil, err
	}

	logger.Debug("Reranked candidates",
		zap.Int("documents", len(texts)),
		zap.Duration("duration", time.Since(start)),
	)
	return scores, nil
}

func (c *Client) post(ctx context.Context, body []byte) ([]float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call reranker: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("reranker returned status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, retry.Permanent(fmt.Errorf("reranker returned status %d", resp.StatusCode))
	}

	var out scoreResponse
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, retry.Permanent(fmt.Errorf("failed to parse response: %w", err))
	}
	return out.Scores, nil
}
