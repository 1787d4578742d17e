package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"horse.fit/newstoss/internal/cli"
	"horse.fit/newstoss/internal/logging"
	"horse.fit/newstoss/internal/translation"
)

func runTranslate(args []string) int {
	fs := flag.NewFlagSet("translate", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 30*time.Minute, "Command timeout")
	limit := fs.Int("limit", translation.DefaultBatchLimit, "Maximum articles to translate")
	providerName := fs.String("provider", "", "Translation provider: llm, local or none (default TRANSLATION_PROVIDER)")
	target := fs.String("target", "", "Target language (default TRANSLATION_TARGET_LANG)")
	dryRun := fs.Bool("dry-run", false, "Count pending articles without translating")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if *limit <= 0 {
		fmt.Fprintln(os.Stderr, "--limit must be > 0")
		return 2
	}

	cfg, logger, code := commandEnv(envLoader)
	if code != 0 {
		return code
	}

	provider := strings.ToLower(strings.TrimSpace(*providerName))
	if provider == "" {
		provider = strings.ToLower(strings.TrimSpace(cfg.TranslationProvider))
	}
	switch provider {
	case translation.ProviderNone:
		fmt.Println("translate skipped provider=none")
		return 0
	case translation.ProviderLLM, translation.ProviderLocal:
	default:
		fmt.Fprintf(os.Stderr, "--provider must be llm, local or none, got %q\n", provider)
		return 2
	}

	targetLang := strings.TrimSpace(*target)
	if targetLang == "" {
		targetLang = cfg.TranslationTargetLang
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	pool, code := openPool(ctx, cfg, logger, "translate")
	if code != 0 {
		return code
	}
	defer pool.Close()

	providers := []translation.Provider{
		translation.NewLocalProvider(cfg.TranslationEndpoint, "", 0),
	}
	if provider == translation.ProviderLLM {
		client, closeFn, err := newLLMClient(ctx, cfg, logger)
		if err != nil {
			logger.Error().Err(err).Msg("failed to build llm translator")
			fmt.Fprintf(os.Stderr, "Failed to build llm translator: %v\n", err)
			return 1
		}
		defer closeFn()
		providers = append(providers, translation.NewLLMProvider(client))
	}

	registry, err := translation.NewRegistry(provider, providers...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build translation providers: %v\n", err)
		return 1
	}

	manager := translation.NewManager(pool, registry, logging.Component(logger, "translate"))
	stats, err := manager.Run(ctx, translation.RunOptions{
		TargetLang: targetLang,
		Provider:   provider,
		Limit:      *limit,
		DryRun:     *dryRun,
	})
	if err != nil {
		logger.Error().Err(err).Str("provider", provider).Msg("translate failed")
		fmt.Fprintf(os.Stderr, "Translate failed: %v\n", err)
		return 1
	}

	fmt.Printf(
		"translate processed=%d created=%d merged=%d failed=%d skipped=%d provider=%s\n",
		stats.Total,
		stats.Translated,
		stats.Copied,
		stats.Failed,
		stats.Skipped,
		provider,
	)
	return 0
}
