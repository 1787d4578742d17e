package translation

import "context"

// Provider translates one article's title and summary.
type Provider interface {
	Name() string
	Translate(ctx context.Context, req TranslateRequest) (*TranslateResponse, error)
}

type TranslateRequest struct {
	Title      string
	Summary    string
	SourceLang string
	TargetLang string
}

// TranslateResponse echoes the normalized language pair used.
type TranslateResponse struct {
	Title      string
	Summary    string
	SourceLang string
	TargetLang string
}
