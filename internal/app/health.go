package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"horse.fit/newstoss/internal/cli"
)

func runHealth(args []string) int {
	fs := flag.NewFlagSet("health", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 5*time.Second, "Health check timeout")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	cfg, logger, code := commandEnv(envLoader)
	if code != 0 {
		return code
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	pool, code := openPool(ctx, cfg, logger, "health")
	if code != 0 {
		return code
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		logger.Error().Err(err).Msg("database ping failed")
		fmt.Fprintf(os.Stderr, "health: database ping failed: %v\n", err)
		return 1
	}
	vectorVersion, err := pool.VectorExtension(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("pgvector check failed")
		fmt.Fprintf(os.Stderr, "health: %v\n", err)
		return 1
	}

	logger.Info().
		Str("pgvector", vectorVersion).
		Str("llm_provider", cfg.LLMProvider).
		Str("embed_provider", cfg.EmbedProvider).
		Str("translation_provider", cfg.TranslationProvider).
		Msg("health check passed")
	fmt.Printf("health ok database=up pgvector=%s llm=%s embed=%s translation=%s\n",
		vectorVersion, cfg.LLMProvider, cfg.EmbedProvider, cfg.TranslationProvider)
	return 0
}
