package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/aria-ai/aria/internal/config"
)

const (
	healthCheckEvery = 5 * time.Minute
	pruneEvery       = time.Hour
	patternsEvery    = 6 * time.Hour
)

func buildServeCmd() *cobra.Command {
	var (
		metricsAddr string
		interactive bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the cognitive runtime",
		Long: `Serve starts the heartbeat scheduler and the cognition pipeline and
runs until SIGINT or SIGTERM. Shutdown drains in-flight work, flushes
working memory and the invocation audit buffer, then exits 0.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), metricsAddr, interactive)
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "127.0.0.1:2112",
		"Prometheus /metrics listen address (empty disables)")
	cmd.Flags().BoolVar(&interactive, "interactive", false,
		"Read messages from stdin into the main session")
	return cmd
}

func runServe(ctx context.Context, metricsAddr string, interactive bool) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := buildRuntime(ctx, configPath)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		rt.close(closeCtx)
	}()

	if err := rt.scheduler.Sync(ctx); err != nil {
		return err
	}
	rt.scheduler.Start(ctx)
	rt.logger.Info(ctx, "runtime started",
		"jobs", len(rt.scheduler.Jobs()),
		"skills", len(rt.skills.List()),
		"main_session", rt.cfg.Session.MainSessionID)

	var metricsSrv *http.Server
	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(rt.registry, promhttp.HandlerOpts{}))
		metricsSrv = &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				rt.logger.Warn(ctx, "metrics listener failed", "addr", metricsAddr, "error", err)
			}
		}()
	}

	go watchTools(ctx, rt)
	go maintenanceLoop(ctx, rt)
	if interactive {
		go readStdin(ctx, rt, stop)
	}

	<-ctx.Done()
	rt.logger.Info(context.Background(), "shutting down")

	drainCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := rt.scheduler.Stop(drainCtx); err != nil {
		rt.logger.Warn(drainCtx, "scheduler drain incomplete", "error", err)
	}
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(drainCtx)
	}
	return nil
}

// watchTools re-applies skill enablement whenever the tools descriptor
// changes on disk.
func watchTools(ctx context.Context, rt *runtime) {
	path := rt.cfg.ToolsPath
	err := config.Watch(ctx, path, func() {
		td, loadErr := config.LoadTools(path)
		if loadErr != nil {
			rt.logger.Warn(ctx, "tools descriptor reload rejected", "error", loadErr)
			return
		}
		rt.skills.ApplyDescriptor(ctx, td)
		rt.logger.Info(ctx, "tools descriptor reloaded", "enabled", td.EnabledSkills())
	}, func(watchErr error) {
		rt.logger.Warn(ctx, "tools descriptor watch error", "error", watchErr)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		rt.logger.Warn(ctx, "tools descriptor watch stopped", "error", err)
	}
}

// maintenanceLoop runs the periodic background sweeps: skill health
// probes, idle session pruning, and pattern recognition.
func maintenanceLoop(ctx context.Context, rt *runtime) {
	health := time.NewTicker(healthCheckEvery)
	prune := time.NewTicker(pruneEvery)
	patterns := time.NewTicker(patternsEvery)
	defer health.Stop()
	defer prune.Stop()
	defer patterns.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-health.C:
			rt.skills.RunHealthChecks(ctx)
		case <-prune.C:
			n, err := rt.sessions.Prune(ctx, rt.cfg.Session.PruneMaxAge.Std())
			if err != nil {
				rt.logger.Warn(ctx, "session prune failed", "error", err)
			} else if n > 0 {
				rt.logger.Info(ctx, "sessions pruned", "count", n)
			}
		case <-patterns.C:
			found, err := rt.recognizer.Run(ctx)
			if err != nil {
				rt.logger.Warn(ctx, "pattern recognition failed", "error", err)
			} else if len(found) > 0 {
				rt.logger.Info(ctx, "patterns detected", "count", len(found))
			}
		}
	}
}

// readStdin feeds stdin lines through the pipeline as main-session
// messages. EOF stops the runtime.
func readStdin(ctx context.Context, rt *runtime, stop func()) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		reply, err := rt.pipeline.Process(ctx, rt.cfg.Session.MainSessionID, line)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}
		fmt.Println(reply.Text)
	}
	stop()
}
