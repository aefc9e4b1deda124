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
	case "ingest":
		return runIngest(args[1:])
	case "process":
		return runProcess(args[1:])
	case "worker":
		return runWorker(args[1:])
	case "stats":
		return runStats(args[1:])
	case "reset-failed":
		return runResetFailed(args[1:])
	case "requeue":
		return runRequeue(args[1:])
	case "serve":
		return runServe(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", args[0])
		printUsage()
		return 2
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "bytefeed CLI")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  bytefeed <command> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  health        Verify database connectivity")
	fmt.Fprintln(os.Stderr, "  ingest        Ingest one newsletter document")
	fmt.Fprintln(os.Stderr, "  process       Run one extraction batch over pending editions")
	fmt.Fprintln(os.Stderr, "  worker        Run extraction batches on a cron schedule")
	fmt.Fprintln(os.Stderr, "  stats         Show queue counts per processing state")
	fmt.Fprintln(os.Stderr, "  reset-failed  Re-queue every failed edition")
	fmt.Fprintln(os.Stderr, "  requeue       Re-queue one edition by UUID")
	fmt.Fprintln(os.Stderr, "  serve         Start the Echo API server")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Use \"bytefeed <command> -h\" for command-specific flags.")
}
