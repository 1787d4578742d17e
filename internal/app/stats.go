package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"horse.fit/newstoss/internal/cli"
	"horse.fit/newstoss/internal/globaltime"
)

func runStats(args []string) int {
	fs := flag.NewFlagSet("stats", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 30*time.Second, "Command timeout")
	format := fs.String("format", outputFormatTable, "Output format: table or json")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "stats does not accept positional arguments")
		return 2
	}

	outputFormat, err := parseOutputFormat(*format, outputFormatTable)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid format: %v\n", err)
		return 2
	}

	cfg, logger, code := commandEnv(envLoader)
	if code != 0 {
		return code
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	pool, code := openPool(ctx, cfg, logger, "stats")
	if code != 0 {
		return code
	}
	defer pool.Close()

	dayStart, dayEnd := globaltime.Today()

	stats, err := pool.QueryPipelineStats(ctx, dayStart, dayEnd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to query pipeline stats: %v\n", err)
		return 1
	}

	if outputFormat == outputFormatJSON {
		if err := printJSON(stats); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", err)
			return 1
		}
		return 0
	}

	countryRows := make([][]string, 0, len(stats.Countries)+1)
	for _, row := range stats.Countries {
		countryRows = append(countryRows, []string{
			row.CountryCode,
			fmt.Sprintf("%d", row.Articles),
			fmt.Sprintf("%d", row.Topics),
		})
	}
	countryRows = append(countryRows, []string{
		"TOTAL",
		fmt.Sprintf("%d", stats.Totals.Articles),
		fmt.Sprintf("%d", stats.Totals.Topics),
	})

	if err := writeTable([]string{"country", "articles", "topics"}, countryRows); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render country table: %v\n", err)
		return 1
	}

	lastBatch := "-"
	if stats.LastBatch != nil {
		lastBatch = *stats.LastBatch
	}

	fmt.Println()
	metricRows := [][]string{
		{"sources", fmt.Sprintf("%d", stats.Totals.Sources)},
		{"megatopics", fmt.Sprintf("%d", stats.Totals.Megatopics)},
		{"published_topics", fmt.Sprintf("%d", stats.Totals.PublishedTopics)},
		{"published_megatopics", fmt.Sprintf("%d", stats.Totals.PublishedMegatopics)},
		{"articles_collected_today", fmt.Sprintf("%d", stats.Throughput.ArticlesCollectedToday)},
		{"topics_created_today", fmt.Sprintf("%d", stats.Throughput.TopicsCreatedToday)},
		{"pending_not_translated", fmt.Sprintf("%d", stats.Throughput.PendingNotTranslated)},
		{"pending_not_embedded", fmt.Sprintf("%d", stats.Throughput.PendingNotEmbedded)},
		{"pending_not_clustered", fmt.Sprintf("%d", stats.Throughput.PendingNotClustered)},
		{"last_batch", lastBatch},
	}
	if err := writeTable([]string{"metric", "value"}, metricRows); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render metric table: %v\n", err)
		return 1
	}

	return 0
}
