package modeladapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// EmbedClient is a separate handle onto the embedding model's HTTP endpoint,
// grounded on the teacher's internal/gcpclient/embedding.go (embedWithTaskType,
// buildEndpointURL) but targeting a local embedding server instead of
// Vertex AI's REST API.
type EmbedClient struct {
	endpoint   string
	dimensions int
	client     *http.Client
}

// NewEmbedClient constructs an EmbedClient against a local embedding server.
func NewEmbedClient(baseURL string, dimensions int) *EmbedClient {
	return &EmbedClient{
		endpoint:   baseURL,
		dimensions: dimensions,
		client:     &http.Client{},
	}
}

type embedRequest struct {
	Texts []string `json:"texts"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed satisfies vectorstore.Embedder.
func (e *EmbedClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	result, err := withRetry(ctx, "Embed", func() ([][]float32, error) {
		return e.doEmbed(ctx, texts)
	})
	if err != nil {
		return nil, classify(err)
	}
	return result, nil
}

func (e *EmbedClient) doEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{Texts: texts})
	if err != nil {
		return nil, fmt.Errorf("modeladapter.Embed: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("modeladapter.Embed: request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("modeladapter.Embed: call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("modeladapter.Embed: status %d", resp.StatusCode)
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("modeladapter.Embed: decode: %w", err)
	}
	for i, vec := range out.Embeddings {
		if len(vec) != e.dimensions {
			return nil, fmt.Errorf("modeladapter.Embed: item %d: got %d dims, want %d", i, len(vec), e.dimensions)
		}
	}
	return out.Embeddings, nil
}

// HealthCheck verifies the embedding server is reachable.
func (e *EmbedClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.endpoint+"/health", nil)
	if err != nil {
		return fmt.Errorf("modeladapter.EmbedClient.HealthCheck: %w", err)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("modeladapter.EmbedClient.HealthCheck: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("modeladapter.EmbedClient.HealthCheck: status %d", resp.StatusCode)
	}
	return nil
}
