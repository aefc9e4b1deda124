package app

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/solai17/bytefeed/internal/cli"
)

func runResetFailed(args []string) int {
	fs := flag.NewFlagSet("reset-failed", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 30*time.Second, "Command timeout")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "reset-failed does not accept positional arguments")
		return 2
	}

	ctx, cancel, pool, _, err := connectPool(*timeout, envLoader)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer cancel()
	defer pool.Close()

	count, err := pool.ResetFailedEditions(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to reset editions: %v\n", err)
		return 1
	}

	fmt.Printf("Re-queued %d failed edition(s)\n", count)
	return 0
}

func runRequeue(args []string) int {
	fs := flag.NewFlagSet("requeue", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 30*time.Second, "Command timeout")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: bytefeed requeue [flags] <edition-uuid>")
		return 2
	}
	editionUUID := strings.TrimSpace(fs.Arg(0))
	if editionUUID == "" {
		fmt.Fprintln(os.Stderr, "edition UUID is required")
		return 2
	}

	ctx, cancel, pool, _, err := connectPool(*timeout, envLoader)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer cancel()
	defer pool.Close()

	reset, err := pool.MarkEditionPending(ctx, editionUUID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to requeue edition: %v\n", err)
		return 1
	}
	if !reset {
		fmt.Fprintf(os.Stderr, "Edition %s not found or already pending\n", editionUUID)
		return 1
	}

	fmt.Printf("Edition %s re-queued\n", editionUUID)
	return 0
}
