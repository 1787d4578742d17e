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
	"horse.fit/newstoss/internal/collect"
	"horse.fit/newstoss/internal/logging"
)

func runCollect(args []string) int {
	fs := flag.NewFlagSet("collect", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 15*time.Minute, "Command timeout")
	country := fs.String("country", "", "Only collect feeds of this country code")
	seed := fs.Bool("seed", false, "Load the feeds file into news_sources before collecting")
	feedsFile := fs.String("feeds", "", "Feeds YAML file (default FEEDS_FILE)")
	workers := fs.Int("workers", 0, "Concurrent feeds (default WORKERS)")
	fullText := fs.Bool("full-text", false, "Fetch article pages for short summaries (default FETCH_FULL_TEXT)")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if *workers < 0 {
		fmt.Fprintln(os.Stderr, "--workers must be >= 0")
		return 2
	}

	cfg, logger, code := commandEnv(envLoader)
	if code != 0 {
		return code
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	pool, code := openPool(ctx, cfg, logger, "collect")
	if code != 0 {
		return code
	}
	defer pool.Close()

	collector := collect.New(pool, logging.Component(logger, "collect"), collect.HTTPConfig{
		Timeout:   cfg.CollectTimeout,
		UserAgent: cfg.CollectUserAgent,
	})

	if *seed {
		path := strings.TrimSpace(*feedsFile)
		if path == "" {
			path = cfg.FeedsFile
		}
		seeded, err := collector.SeedSources(ctx, path)
		if err != nil {
			logger.Error().Err(err).Str("feeds_file", path).Msg("seeding sources failed")
			fmt.Fprintf(os.Stderr, "Seeding sources failed: %v\n", err)
			return 1
		}
		logger.Info().Int("sources", seeded).Str("feeds_file", path).Msg("sources seeded")
	}

	opts := collect.Options{
		Country:       strings.ToUpper(strings.TrimSpace(*country)),
		Workers:       *workers,
		Timeout:       cfg.CollectTimeout,
		FetchFullText: *fullText || cfg.FetchFullText,
	}
	if opts.Workers == 0 {
		opts.Workers = cfg.Workers
	}

	result, err := collector.Run(ctx, opts)
	if err != nil {
		logger.Error().Err(err).Msg("collect failed")
		fmt.Fprintf(os.Stderr, "Collect failed: %v\n", err)
		return 1
	}

	fmt.Printf(
		"collect processed=%d created=%d merged=%d failed=%d sources=%d skipped=%d failed_feeds=%d\n",
		result.Items,
		result.Inserted,
		result.Updated,
		result.FailedItems+result.FailedFeeds,
		result.Sources,
		result.Skipped,
		result.FailedFeeds,
	)
	return 0
}
