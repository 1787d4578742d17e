package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

const (
	DefaultEndpoint  = "http://127.0.0.1:8844/embed"
	DefaultMaxLength = 512
)

// HTTP calls a local embedding server. Endpoints ending in /v1/embeddings
// are spoken to in the OpenAI request shape, anything else gets the
// {"texts": [...]} shape.
type HTTP struct {
	endpoint  string
	model     string
	maxLength int
	client    *http.Client
}

type httpRequest struct {
	Texts     []string `json:"texts,omitempty"`
	Input     []string `json:"input,omitempty"`
	Model     string   `json:"model,omitempty"`
	MaxLength int      `json:"max_length,omitempty"`
}

type httpResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Data       []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func NewHTTP(endpoint, model string) *HTTP {
	return &HTTP{
		endpoint:  normalizeEndpoint(endpoint),
		model:     strings.TrimSpace(model),
		maxLength: DefaultMaxLength,
		client:    http.DefaultClient,
	}
}

func (h *HTTP) Name() string {
	return ProviderHTTP
}

func (h *HTTP) Endpoint() string {
	return h.endpoint
}

func (h *HTTP) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	payload := httpRequest{Texts: texts, MaxLength: h.maxLength}
	if parsed, err := url.Parse(h.endpoint); err == nil && strings.HasSuffix(parsed.Path, "/v1/embeddings") {
		payload = httpRequest{Input: texts, Model: h.model}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read embedding response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("embedding service status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var parsed httpResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("decode embedding response: %w", err)
	}

	vectors := parsed.Embeddings
	if len(vectors) == 0 && len(parsed.Data) > 0 {
		sort.Slice(parsed.Data, func(i, j int) bool {
			return parsed.Data[i].Index < parsed.Data[j].Index
		})
		vectors = make([][]float32, 0, len(parsed.Data))
		for _, row := range parsed.Data {
			vectors = append(vectors, row.Embedding)
		}
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("embedding response missing vectors")
	}
	return vectors, nil
}

func normalizeEndpoint(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return DefaultEndpoint
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return trimmed
	}
	if parsed.Path == "" || parsed.Path == "/" {
		parsed.Path = "/embed"
	}
	return parsed.String()
}
