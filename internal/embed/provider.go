// Package embed turns article text into fixed-dimension vectors through one
// of several embedding backends.
package embed

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"horse.fit/newstoss/internal/metrics"
)

const (
	ProviderHTTP   = "http"
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"

	DefaultBatchSize = 32
	DefaultTimeout   = 30 * time.Second
)

var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

type Provider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Name() string
}

type Config struct {
	Provider string
	Endpoint string
	Model    string
	APIKey   string
	Timeout  time.Duration
}

// New builds the configured backend wrapped in a Guard. The close func
// releases the underlying client.
func New(ctx context.Context, cfg Config) (*Guard, func(), error) {
	var (
		provider Provider
		closeFn  = func() {}
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", ProviderHTTP:
		provider = NewHTTP(cfg.Endpoint, cfg.Model)
	case ProviderGemini:
		gemini, err := NewGemini(ctx, cfg.APIKey, cfg.Model)
		if err != nil {
			return nil, nil, err
		}
		provider = gemini
		closeFn = gemini.Close
	case ProviderOpenAI:
		openaiProvider, err := NewOpenAI(cfg.APIKey, cfg.Endpoint, cfg.Model)
		if err != nil {
			return nil, nil, err
		}
		provider = openaiProvider
	default:
		return nil, nil, fmt.Errorf("unsupported embedding provider %q", cfg.Provider)
	}
	return NewGuard(provider, cfg.Timeout), closeFn, nil
}

// Guard applies the request timeout and pins the vector dimension to the
// first vector seen during its lifetime.
type Guard struct {
	provider Provider
	timeout  time.Duration

	mu  sync.Mutex
	dim int
}

func NewGuard(provider Provider, timeout time.Duration) *Guard {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Guard{provider: provider, timeout: timeout}
}

func (g *Guard) Name() string {
	return g.provider.Name()
}

func (g *Guard) Dimension() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dim
}

func (g *Guard) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	started := time.Now()
	vectors, err := g.provider.Embed(callCtx, texts)
	metrics.RecordExternal("embed", g.provider.Name(), started, err)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("embedding response count mismatch: requested=%d returned=%d", len(texts), len(vectors))
	}
	return vectors, nil
}

// Check validates one vector against the pinned dimension.
func (g *Guard) Check(vec []float32) error {
	if len(vec) == 0 {
		return fmt.Errorf("empty vector")
	}
	for i, v := range vec {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("vector has non-finite value at index %d", i)
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.dim == 0 {
		g.dim = len(vec)
		return nil
	}
	if len(vec) != g.dim {
		return fmt.Errorf("%w: expected %d dimensions, got %d", ErrDimensionMismatch, g.dim, len(vec))
	}
	return nil
}

// Input joins an article title and summary into one embedding input.
func Input(title, summary string) string {
	title = strings.TrimSpace(title)
	summary = strings.TrimSpace(summary)
	switch {
	case title == "" && summary == "":
		return ""
	case summary == "":
		return title
	case title == "":
		return summary
	default:
		return title + "\n\n" + summary
	}
}
