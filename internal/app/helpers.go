package app

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rs/zerolog"

	"horse.fit/newstoss/internal/cli"
	"horse.fit/newstoss/internal/config"
	"horse.fit/newstoss/internal/db"
	"horse.fit/newstoss/internal/embed"
	"horse.fit/newstoss/internal/llm"
	"horse.fit/newstoss/internal/logging"
	"horse.fit/newstoss/internal/pipeline"
)

const (
	outputFormatTable = "table"
	outputFormatJSON  = "json"
)

// commandEnv loads the .env file, config and logger shared by every command.
// It reports its own failures; a non-zero code is the exit code to return.
func commandEnv(envLoader *cli.EnvLoader) (*config.Config, zerolog.Logger, int) {
	if envLoader != nil {
		if _, err := envLoader.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return nil, zerolog.Nop(), 1
	}

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return nil, zerolog.Nop(), 1
	}
	return cfg, logger, 0
}

func openPool(ctx context.Context, cfg *config.Config, logger zerolog.Logger, command string) (*db.Pool, int) {
	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Str("command", command).Msg("failed to connect to database")
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		return nil, 1
	}
	return pool, 0
}

func newLLMClient(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*llm.Client, func(), error) {
	completer, closeFn, err := llm.NewCompleter(ctx, llm.Config{
		Provider:          cfg.LLMProvider,
		Model:             cfg.LLMModel,
		APIKey:            cfg.LLMAPIKey(),
		BaseURL:           cfg.LLMBaseURL,
		Timeout:           cfg.LLMTimeout,
		MaxAttempts:       cfg.LLMMaxAttempts,
		RequestsPerMinute: cfg.LLMRequestsPerMinute,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("build llm client: %w", err)
	}

	retry := llm.DefaultRetryPolicy()
	retry.MaxAttempts = cfg.LLMMaxAttempts
	client := llm.NewClient(completer, llm.ClientOptions{
		Timeout:           cfg.LLMTimeout,
		RequestsPerMinute: cfg.LLMRequestsPerMinute,
		Retry:             retry,
	}, logging.Component(logger, "llm"))
	return client, closeFn, nil
}

func newEmbedder(ctx context.Context, cfg *config.Config) (*embed.Guard, func(), error) {
	guard, closeFn, err := embed.New(ctx, embed.Config{
		Provider: cfg.EmbedProvider,
		Endpoint: cfg.EmbedEndpoint,
		Model:    cfg.EmbedModel,
		APIKey:   cfg.EmbedAPIKey(),
		Timeout:  cfg.EmbedTimeout,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("build embedder: %w", err)
	}
	return guard, closeFn, nil
}

type serviceDeps struct {
	embedder bool
	labelers bool
	tune     func(*pipeline.Settings)
}

// newPipeline wires the pipeline service with the collaborators a command
// needs. The returned func releases them.
func newPipeline(ctx context.Context, cfg *config.Config, pool *db.Pool, logger zerolog.Logger, deps serviceDeps) (*pipeline.Service, func(), error) {
	var (
		opts    []pipeline.Option
		closers []func()
	)
	release := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if deps.embedder {
		guard, closeFn, err := newEmbedder(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, closeFn)
		opts = append(opts, pipeline.WithEmbedder(guard))
	}
	if deps.labelers {
		client, closeFn, err := newLLMClient(ctx, cfg, logger)
		if err != nil {
			release()
			return nil, nil, err
		}
		closers = append(closers, closeFn)
		opts = append(opts, pipeline.WithLabelers(client, client))
	}

	settings := pipeline.SettingsFromConfig(cfg)
	if deps.tune != nil {
		deps.tune(&settings)
	}
	svc := pipeline.NewService(pool, settings, logging.Component(logger, "pipeline"), opts...)
	return svc, release, nil
}

func parseOutputFormat(raw, defaultFormat string) (string, error) {
	format := strings.TrimSpace(strings.ToLower(raw))
	if format == "" {
		format = strings.TrimSpace(strings.ToLower(defaultFormat))
	}
	switch format {
	case outputFormatTable, outputFormatJSON:
		return format, nil
	default:
		return "", fmt.Errorf("--format must be table or json")
	}
}

func printJSON(value any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}

func writeTable(headers []string, rows [][]string) error {
	writer := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	if _, err := fmt.Fprintln(writer, strings.Join(headers, "\t")); err != nil {
		return err
	}
	for _, row := range rows {
		if _, err := fmt.Fprintln(writer, strings.Join(row, "\t")); err != nil {
			return err
		}
	}
	return writer.Flush()
}
