package llm

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"horse.fit/newstoss/internal/cluster"
	"horse.fit/newstoss/internal/metrics"
	payloadschema "horse.fit/newstoss/schema"
)

const (
	DefaultTimeout           = 60 * time.Second
	DefaultRequestsPerMinute = 30
)

// Client runs every model call through a shared limiter, a per call timeout
// and the retry policy. Parse and schema failures are retried like transport
// failures.
type Client struct {
	completer Completer
	limiter   *rate.Limiter
	timeout   time.Duration
	retry     RetryPolicy
	logger    zerolog.Logger
}

type ClientOptions struct {
	Timeout           time.Duration
	RequestsPerMinute int
	Retry             RetryPolicy
}

func NewClient(completer Completer, opts ClientOptions, logger zerolog.Logger) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	rpm := opts.RequestsPerMinute
	if rpm <= 0 {
		rpm = DefaultRequestsPerMinute
	}
	return &Client{
		completer: completer,
		limiter:   rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 1),
		timeout:   timeout,
		retry:     opts.Retry,
		logger:    logger,
	}
}

func (c *Client) Provider() string {
	if c == nil || c.completer == nil {
		return ""
	}
	return c.completer.Name()
}

func (c *Client) call(ctx context.Context, kind payloadschema.Kind, prompt string, out any) error {
	attempt := 0
	return c.retry.Do(ctx, func(ctx context.Context) error {
		attempt++
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		started := time.Now()
		raw, err := c.completer.Complete(callCtx, prompt)
		if err == nil {
			err = DecodeJSON(kind, raw, out)
		}
		metrics.RecordExternal("llm", c.completer.Name(), started, err)
		if err != nil {
			c.logger.Debug().
				Err(err).
				Str("kind", string(kind)).
				Int("attempt", attempt).
				Bool("rate_limited", IsRateLimited(err)).
				Msg("llm call failed")
		}
		return err
	})
}

// LabelTopic names a national cluster and classifies the stance of each
// headline. Indices in the result refer to titles.
func (c *Client) LabelTopic(ctx context.Context, titles []string) (payloadschema.TopicLabel, error) {
	var label payloadschema.TopicLabel
	if err := c.call(ctx, payloadschema.KindTopicLabel, topicLabelPrompt(titles), &label); err != nil {
		return payloadschema.TopicLabel{}, err
	}
	label.TopicName = strings.TrimSpace(label.TopicName)
	return label, nil
}

// LabelMegatopic implements cluster.Labeler.
func (c *Client) LabelMegatopic(ctx context.Context, names []string) (cluster.Label, error) {
	var out payloadschema.MegatopicLabel
	if err := c.call(ctx, payloadschema.KindMegatopicLabel, megatopicLabelPrompt(names), &out); err != nil {
		return cluster.Label{}, err
	}
	return cluster.Label{
		Name:     strings.TrimSpace(out.MegatopicName),
		Keywords: out.Keywords,
		Category: strings.TrimSpace(out.Category),
		Outliers: out.Outliers,
	}, nil
}

func (c *Client) Translate(ctx context.Context, title, summary, sourceLang, targetLang string) (payloadschema.Translation, error) {
	var out payloadschema.Translation
	prompt := translationPrompt(title, summary, sourceLang, targetLang)
	if err := c.call(ctx, payloadschema.KindTranslation, prompt, &out); err != nil {
		return payloadschema.Translation{}, err
	}
	out.Title = strings.TrimSpace(out.Title)
	out.Summary = strings.TrimSpace(out.Summary)
	return out, nil
}
