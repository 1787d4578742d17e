package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/newstoss/internal/cli"
	"horse.fit/newstoss/internal/cluster"
	"horse.fit/newstoss/internal/db"
	"horse.fit/newstoss/internal/globaltime"
	"horse.fit/newstoss/internal/pipeline"
)

type stageFunc func(ctx context.Context, svc *pipeline.Service, logger zerolog.Logger) error

// runStage does the shared setup of a pipeline command and runs fn. Failures
// of fn are logged and reported as exit code 1.
func runStage(envLoader *cli.EnvLoader, command string, timeout time.Duration, deps serviceDeps, fn stageFunc) int {
	cfg, logger, code := commandEnv(envLoader)
	if code != 0 {
		return code
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	pool, code := openPool(ctx, cfg, logger, command)
	if code != 0 {
		return code
	}
	defer pool.Close()

	svc, release, err := newPipeline(ctx, cfg, pool, logger, deps)
	if err != nil {
		logger.Error().Err(err).Str("command", command).Msg("failed to build pipeline")
		fmt.Fprintf(os.Stderr, "Failed to build pipeline: %v\n", err)
		return 1
	}
	defer release()

	if err := fn(ctx, svc, logger); err != nil {
		logger.Error().Err(err).Str("command", command).Msg("command failed")
		fmt.Fprintf(os.Stderr, "%s failed: %v\n", command, err)
		return 1
	}
	return 0
}

func parseStageFlags(fs *flag.FlagSet, args []string) int {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	return -1
}

func runEmbed(args []string) int {
	fs := flag.NewFlagSet("embed", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 30*time.Minute, "Command timeout")
	limit := fs.Int("limit", 1000, "Maximum pending articles to embed")

	if code := parseStageFlags(fs, args); code >= 0 {
		return code
	}
	if *limit <= 0 {
		fmt.Fprintln(os.Stderr, "--limit must be > 0")
		return 2
	}

	return runStage(envLoader, "embed", *timeout, serviceDeps{embedder: true}, func(ctx context.Context, svc *pipeline.Service, logger zerolog.Logger) error {
		result, err := svc.EmbedPending(ctx, *limit)
		if err != nil {
			return err
		}
		logger.Info().
			Int("limit", *limit).
			Int("processed", result.Processed).
			Int("embedded", result.Embedded).
			Int("failed", result.Failed).
			Msg("embed completed")
		fmt.Printf(
			"embed processed=%d created=%d merged=0 failed=%d skipped=%d\n",
			result.Processed,
			result.Embedded,
			result.Failed,
			result.Skipped,
		)
		return nil
	})
}

func runCluster(args []string) int {
	fs := flag.NewFlagSet("cluster", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 60*time.Minute, "Command timeout")
	all := fs.Bool("all", false, "Cluster every country with unclustered articles")
	orderRaw := fs.String("order", "id", "Greedy pass order: id, published or given")

	if code := parseStageFlags(fs, args); code >= 0 {
		return code
	}

	// Flags after the country are not parsed, so extra arguments are rejected.
	country := strings.ToUpper(strings.TrimSpace(fs.Arg(0)))
	if *all == (country != "") || fs.NArg() > 1 {
		fmt.Fprintln(os.Stderr, "usage: newstoss cluster [-order id|published|given] <country> | newstoss cluster -all")
		return 2
	}
	order, err := cluster.ParseOrder(*orderRaw)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 2
	}

	deps := serviceDeps{
		labelers: true,
		tune:     func(s *pipeline.Settings) { s.Order = order },
	}
	return runStage(envLoader, "cluster", *timeout, deps, func(ctx context.Context, svc *pipeline.Service, logger zerolog.Logger) error {
		if country != "" {
			result, err := svc.ClusterCountry(ctx, country)
			if err != nil {
				return err
			}
			printClusterResult(result, 1, 0)
			return nil
		}

		result, err := svc.ClusterAll(ctx)
		if err != nil {
			return err
		}
		logger.Info().
			Int("countries", result.Countries).
			Int("failed_countries", result.FailedCountries).
			Int("created", result.Totals.Created).
			Int("matched", result.Totals.Matched).
			Msg("cluster completed")
		printClusterResult(result.Totals, result.Countries, result.FailedCountries)
		return nil
	})
}

func printClusterResult(result pipeline.ClusterResult, countries, failedCountries int) {
	fmt.Printf(
		"cluster processed=%d created=%d merged=%d failed=%d countries=%d failed_countries=%d clusters=%d noise=%d outliers=%d fallbacks=%d\n",
		result.Articles,
		result.Created,
		result.Matched,
		result.Failed,
		countries,
		failedCountries,
		result.Clusters,
		result.Noise,
		result.Outliers,
		result.Fallbacks,
	)
}

func runMergeGlobal(args []string) int {
	fs := flag.NewFlagSet("merge-global", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 30*time.Minute, "Command timeout")

	if code := parseStageFlags(fs, args); code >= 0 {
		return code
	}

	return runStage(envLoader, "merge-global", *timeout, serviceDeps{labelers: true}, func(ctx context.Context, svc *pipeline.Service, _ zerolog.Logger) error {
		result, err := svc.MergeGlobal(ctx)
		if err != nil {
			return err
		}
		printMergeResult(result)
		return nil
	})
}

func printMergeResult(result pipeline.MergeResult) {
	fmt.Printf(
		"merge-global processed=%d created=%d merged=%d failed=%d megatopics=%d dropped=%d fallbacks=%d\n",
		result.Topics,
		result.Created,
		result.Matched,
		result.Failed,
		result.Megatopics,
		result.Dropped+result.DroppedAfterOutliers,
		result.Fallbacks,
	)
}

func runDeduplicate(args []string) int {
	fs := flag.NewFlagSet("deduplicate", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 15*time.Minute, "Command timeout")
	kindRaw := fs.String("kind", "all", "Topic kind: national, global or all")
	dryRun := fs.Bool("dry-run", false, "Print duplicate groups without merging")

	if code := parseStageFlags(fs, args); code >= 0 {
		return code
	}

	var kinds []string
	switch strings.ToLower(strings.TrimSpace(*kindRaw)) {
	case db.KindNational:
		kinds = []string{db.KindNational}
	case db.KindGlobal:
		kinds = []string{db.KindGlobal}
	case "all":
		kinds = []string{db.KindNational, db.KindGlobal}
	default:
		fmt.Fprintln(os.Stderr, "--kind must be national, global or all")
		return 2
	}

	return runStage(envLoader, "deduplicate", *timeout, serviceDeps{}, func(ctx context.Context, svc *pipeline.Service, _ zerolog.Logger) error {
		for _, kind := range kinds {
			result, err := svc.Deduplicate(ctx, kind, *dryRun)
			if err != nil {
				return err
			}
			if *dryRun {
				for _, group := range result.Planned {
					fmt.Printf("%s winner=%d losers=%v reason=%s title=%q\n", kind, group.Winner.ID, group.LoserIDs(), group.Reason, group.Winner.Title)
				}
			}
			printDedupResult(result)
		}
		return nil
	})
}

func printDedupResult(result pipeline.DedupResult) {
	fmt.Printf(
		"deduplicate kind=%s processed=%d created=0 merged=%d failed=%d groups=%d articles_moved=%d stats_refreshed=%d\n",
		result.Kind,
		result.Scanned,
		result.TopicsMerged,
		result.Failed,
		result.Groups,
		result.ArticlesMoved,
		result.StatsRefreshed,
	)
}

func runRefreshStats(args []string) int {
	fs := flag.NewFlagSet("refresh-stats", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 15*time.Minute, "Command timeout")
	since := fs.Duration("since", 0, "Refresh topics updated within this window (default MATCH_WINDOW)")

	if code := parseStageFlags(fs, args); code >= 0 {
		return code
	}
	if *since < 0 {
		fmt.Fprintln(os.Stderr, "--since must be >= 0")
		return 2
	}

	var window time.Duration
	deps := serviceDeps{
		tune: func(s *pipeline.Settings) {
			window = s.MatchWindow
			if *since > 0 {
				window = *since
			}
		},
	}
	return runStage(envLoader, "refresh-stats", *timeout, deps, func(ctx context.Context, svc *pipeline.Service, _ zerolog.Logger) error {
		result, err := svc.RefreshStats(ctx, globaltime.UTC().Add(-window))
		if err != nil {
			return err
		}
		fmt.Printf(
			"refresh-stats processed=%d created=0 merged=0 failed=%d topics=%d megatopics=%d\n",
			result.Topics+result.Megatopics,
			result.Failed,
			result.Topics,
			result.Megatopics,
		)
		return nil
	})
}

func runPublishBatch(args []string) int {
	fs := flag.NewFlagSet("publish-batch", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 5*time.Minute, "Command timeout")
	batchID := fs.String("batch-id", "", "Batch to publish (default: assign pending rows to a new batch)")

	if code := parseStageFlags(fs, args); code >= 0 {
		return code
	}

	return runStage(envLoader, "publish-batch", *timeout, serviceDeps{}, func(ctx context.Context, svc *pipeline.Service, _ zerolog.Logger) error {
		result, err := svc.PublishBatch(ctx, *batchID)
		if err != nil {
			return err
		}
		printPublishResult(result)
		return nil
	})
}

func printPublishResult(result db.PublishResult) {
	fmt.Printf(
		"publish-batch batch_id=%s topics=%d megatopics=%d unpublished_topics=%d unpublished_megatopics=%d\n",
		result.BatchID,
		result.PublishedTopics,
		result.PublishedMegatopics,
		result.UnpublishedTopics,
		result.UnpublishedMegatopics,
	)
}

func runOnce(args []string) int {
	fs := flag.NewFlagSet("run-once", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 2*time.Hour, "Command timeout")

	if code := parseStageFlags(fs, args); code >= 0 {
		return code
	}

	return runStage(envLoader, "run-once", *timeout, serviceDeps{labelers: true}, func(ctx context.Context, svc *pipeline.Service, logger zerolog.Logger) error {
		started := time.Now()
		result, err := svc.RunOnce(ctx)
		if err != nil {
			return err
		}
		printClusterResult(result.Cluster.Totals, result.Cluster.Countries, result.Cluster.FailedCountries)
		printMergeResult(result.Merge)
		for _, dedup := range result.Dedup {
			printDedupResult(dedup)
		}
		printPublishResult(result.Publish)
		logger.Info().
			Dur("elapsed", time.Since(started)).
			Str("batch_id", result.Publish.BatchID).
			Msg("run-once completed")
		return nil
	})
}
