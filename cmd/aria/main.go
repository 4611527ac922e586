// Package main provides the CLI entry point for the aria cognitive runtime.
//
// Aria runs an always-on agent core: a per-message cognition pipeline,
// a heartbeat scheduler for autonomous jobs, layered memory over SQLite,
// and a model router speaking the OpenAI wire to a single proxy.
//
// # Basic Usage
//
// Start the runtime:
//
//	aria serve --config aria.yaml
//
// Trigger one heartbeat job immediately:
//
//	aria run-job daily-review
//
// Inspect the declared jobs and their state:
//
//	aria jobs
//
// # Environment Variables
//
//   - ARIA_CONFIG: path to the root config file (default: aria.yaml)
//   - ARIA_DB_PATH: SQLite database path
//   - ARIA_ROUTER_URL: OpenAI-wire proxy endpoint
//   - ARIA_ROUTER_TOKEN: proxy bearer token (never logged)
//   - ARIA_SESSION_ID: id of the protected main session
//   - ARIA_LOG_LEVEL, ARIA_LOG_FORMAT: logging knobs
//   - ARIA_DAILY_TOKEN_BUDGET: daily router token ceiling
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aria-ai/aria/internal/errdefs"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var configPath string

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "aria: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps the failure to the documented process exit codes:
// 1 config error, 3 store unreachable, 2 anything else unrecoverable.
func exitCode(err error) int {
	switch errdefs.KindOf(err) {
	case errdefs.KindConfiguration, errdefs.KindValidation:
		return 1
	case errdefs.KindUnavailable:
		return 3
	default:
		return 2
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "aria",
		Short: "Aria - autonomous cognitive runtime",
		Long: `Aria is an always-on cognitive runtime: skills, layered memory,
a pheromone-weighted agent coordinator, and a heartbeat scheduler,
persisted in SQLite and speaking the OpenAI wire to one model proxy.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath(),
		"Path to the root config file (or set ARIA_CONFIG)")

	root.AddCommand(
		buildServeCmd(),
		buildRunJobCmd(),
		buildJobsCmd(),
	)
	return root
}

func defaultConfigPath() string {
	if v := os.Getenv("ARIA_CONFIG"); v != "" {
		return v
	}
	return "aria.yaml"
}
