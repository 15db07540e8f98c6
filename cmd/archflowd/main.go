// Command archflowd is archflow's long-running server process: it
// loads a workflow directory, exposes the HTTP control plane, and
// serves until a shutdown signal arrives. Flag parsing, slog setup and
// the signal-driven graceful shutdown loop follow stdlib idiom.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/archflow/archflow/internal/archlog"
	"github.com/archflow/archflow/internal/config"
	"github.com/archflow/archflow/internal/daemon"
	flag "github.com/spf13/pflag"
)

var (
	version = "dev"
	commit = "unknown"
	buildDate = "unknown"
)

func main() {
	var (
		configPath = flag.String("config", "", "Path to archflow config file (YAML)")
		listen = flag.String("listen", "", "HTTP listen address (overrides config http.listen)")
		workflowsDir = flag.String("workflows-dir", "", "Directory of workflow definitions (overrides config workflows_dir)")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("archflowd %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	logger := archlog.New(archlog.FromEnv())
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	if *listen != "" {
		cfg.HTTP.Listen = *listen
	}
	if *workflowsDir != "" {
		cfg.WorkflowsDir = *workflowsDir
	}

	d, err := daemon.New(cfg, daemon.Options{Version: version, Commit: commit, BuildDate: buildDate})
	if err != nil {
		logger.Error("failed to create daemon", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- d.Start(ctx)
	}()

	select {
	case sig := <-sigCh:
		fmt.Printf("\nreceived signal %v, shutting down...\n", sig)
		cancel()
		if err := d.Shutdown(context.Background()); err != nil {
			logger.Error("error during shutdown", slog.Any("error", err))
		}
	case err := <-errCh:
		if err != nil {
			logger.Error("daemon error", slog.Any("error", err))
			os.Exit(1)
		}
	}
}
