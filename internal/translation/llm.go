package translation

import (
	"context"
	"fmt"
	"strings"

	payloadschema "horse.fit/newstoss/schema"
)

// Translator is the LLM call used by LLMProvider.
type Translator interface {
	Translate(ctx context.Context, title, summary, sourceLang, targetLang string) (payloadschema.Translation, error)
}

// LLMProvider translates through the configured LLM backend.
type LLMProvider struct {
	translator Translator
}

func NewLLMProvider(translator Translator) *LLMProvider {
	return &LLMProvider{translator: translator}
}

func (p *LLMProvider) Name() string {
	return ProviderLLM
}

func (p *LLMProvider) Translate(ctx context.Context, req TranslateRequest) (*TranslateResponse, error) {
	if p == nil || p.translator == nil {
		return nil, fmt.Errorf("llm translation provider is not initialized")
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, fmt.Errorf("title is required")
	}
	targetLang := normalizeLangCode(req.TargetLang)
	if targetLang == "" {
		return nil, fmt.Errorf("target language is required")
	}
	sourceLang := normalizeLangCode(req.SourceLang)

	out, err := p.translator.Translate(ctx, title, strings.TrimSpace(req.Summary), LanguageName(sourceLang), targetLanguageLabel(targetLang).english)
	if err != nil {
		return nil, err
	}
	if out.Title == "" {
		return nil, fmt.Errorf("translation response was empty")
	}
	return &TranslateResponse{
		Title:      out.Title,
		Summary:    out.Summary,
		SourceLang: sourceLang,
		TargetLang: targetLang,
	}, nil
}
