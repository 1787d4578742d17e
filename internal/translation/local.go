package translation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"horse.fit/newstoss/internal/metrics"
)

const (
	// DefaultLocalEndpoint is a local OpenAI-compatible server such as vLLM.
	DefaultLocalEndpoint = "http://127.0.0.1:8845/v1"
	DefaultLocalModel    = "tencent/HY-MT1.5-7B"
	DefaultLocalTimeout  = 120 * time.Second
)

// LocalProvider translates through a self-hosted OpenAI-compatible chat
// completions endpoint running a dedicated translation model.
type LocalProvider struct {
	client *openai.Client
	model  string
}

func NewLocalProvider(endpoint, model string, timeout time.Duration) *LocalProvider {
	trimmedModel := strings.TrimSpace(model)
	if trimmedModel == "" {
		trimmedModel = DefaultLocalModel
	}
	if timeout <= 0 {
		timeout = DefaultLocalTimeout
	}

	cfg := openai.DefaultConfig("")
	cfg.BaseURL = normalizeEndpoint(endpoint)
	cfg.HTTPClient = &http.Client{Timeout: timeout}
	return &LocalProvider{
		client: openai.NewClientWithConfig(cfg),
		model:  trimmedModel,
	}
}

func (p *LocalProvider) Name() string {
	return ProviderLocal
}

// Translate sends the title and, when present, the summary as two segments.
func (p *LocalProvider) Translate(ctx context.Context, req TranslateRequest) (*TranslateResponse, error) {
	if p == nil {
		return nil, fmt.Errorf("local provider is nil")
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, fmt.Errorf("title is required")
	}

	sourceLang := normalizeLangCode(req.SourceLang)
	targetLang := normalizeLangCode(req.TargetLang)
	if targetLang == "" {
		return nil, fmt.Errorf("target language is required")
	}

	started := time.Now()
	translatedTitle, err := p.translateSegment(ctx, title, sourceLang, targetLang)
	if err != nil {
		metrics.RecordExternal("translation", ProviderLocal, started, err)
		return nil, fmt.Errorf("translate title: %w", err)
	}

	translatedSummary := ""
	if summary := strings.TrimSpace(req.Summary); summary != "" {
		translatedSummary, err = p.translateSegment(ctx, summary, sourceLang, targetLang)
		if err != nil {
			metrics.RecordExternal("translation", ProviderLocal, started, err)
			return nil, fmt.Errorf("translate summary: %w", err)
		}
	}
	metrics.RecordExternal("translation", ProviderLocal, started, nil)

	return &TranslateResponse{
		Title:      translatedTitle,
		Summary:    translatedSummary,
		SourceLang: sourceLang,
		TargetLang: targetLang,
	}, nil
}

func (p *LocalProvider) translateSegment(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: buildHYMTPrompt(text, sourceLang, targetLang)},
		},
		Temperature: 0.7,
		TopP:        0.6,
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return "", fmt.Errorf("translation endpoint status %d: %s", apiErr.HTTPStatusCode, apiErr.Message)
		}
		return "", fmt.Errorf("send translation request: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("translation response missing choices")
	}

	translated := strings.TrimSpace(resp.Choices[0].Message.Content)
	if translated == "" {
		return "", fmt.Errorf("translation response was empty")
	}
	return translated, nil
}

func buildHYMTPrompt(text, sourceLang, targetLang string) string {
	target := targetLanguageLabel(targetLang)
	if isChineseLanguage(sourceLang) || isChineseLanguage(targetLang) {
		return fmt.Sprintf("将以下文本翻译为%s，注意只需要输出翻译后的结果，不要额外解释：\n\n%s", target.chinese, text)
	}
	return fmt.Sprintf("Translate the following segment into %s, without additional explanation.\n\n%s", target.english, text)
}

// normalizeEndpoint turns "host:port", ".../v1" or ".../v1/chat/completions"
// into the base URL the client appends "/chat/completions" to.
func normalizeEndpoint(raw string) string {
	endpoint := strings.TrimSpace(raw)
	if endpoint == "" {
		return DefaultLocalEndpoint
	}
	if !strings.Contains(endpoint, "://") {
		endpoint = "http://" + endpoint
	}

	parsed, err := url.Parse(endpoint)
	if err != nil || strings.TrimSpace(parsed.Host) == "" {
		return DefaultLocalEndpoint
	}
	path := strings.TrimSuffix(strings.TrimRight(parsed.Path, "/"), "/chat/completions")
	if !strings.HasSuffix(path, "/v1") {
		path += "/v1"
	}
	parsed.Path = path
	return parsed.String()
}
