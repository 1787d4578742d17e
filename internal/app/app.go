package app

import (
	"fmt"
	"os"
	"strings"
)

// Run executes the CLI command and returns a process exit code.
func Run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return 2
	}

	switch strings.ToLower(strings.TrimSpace(args[0])) {
	case "help", "--help", "-h":
		printUsage()
		return 0
	case "health":
		return runHealth(args[1:])
	case "collect":
		return runCollect(args[1:])
	case "translate":
		return runTranslate(args[1:])
	case "embed":
		return runEmbed(args[1:])
	case "cluster":
		return runCluster(args[1:])
	case "merge-global":
		return runMergeGlobal(args[1:])
	case "deduplicate", "dedup":
		return runDeduplicate(args[1:])
	case "refresh-stats":
		return runRefreshStats(args[1:])
	case "publish-batch":
		return runPublishBatch(args[1:])
	case "run-once":
		return runOnce(args[1:])
	case "stats":
		return runStats(args[1:])
	case "validate":
		return runValidate(args[1:])
	case "serve":
		return runServe(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", args[0])
		printUsage()
		return 2
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "newstoss CLI")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  newstoss <command> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  health         Verify database connectivity")
	fmt.Fprintln(os.Stderr, "  collect        Fetch RSS feeds into articles")
	fmt.Fprintln(os.Stderr, "  translate      Fill English titles and summaries")
	fmt.Fprintln(os.Stderr, "  embed          Generate embeddings for pending articles")
	fmt.Fprintln(os.Stderr, "  cluster        Cluster one country (cluster KR) or every country (cluster -all)")
	fmt.Fprintln(os.Stderr, "  merge-global   Merge national topics into megatopics")
	fmt.Fprintln(os.Stderr, "  deduplicate    Merge duplicate recent topics and megatopics")
	fmt.Fprintln(os.Stderr, "  refresh-stats  Recompute per-country stance stats")
	fmt.Fprintln(os.Stderr, "  publish-batch  Make one batch the visible set")
	fmt.Fprintln(os.Stderr, "  run-once       Run cluster, merge-global, deduplicate and publish-batch")
	fmt.Fprintln(os.Stderr, "  stats          Print pipeline counts")
	fmt.Fprintln(os.Stderr, "  validate       Validate LLM payload JSON files against a schema")
	fmt.Fprintln(os.Stderr, "  serve          Start the read API server")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Use \"newstoss <command> -h\" for command-specific flags.")
}
