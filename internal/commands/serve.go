// Package commands implements the CLI subcommands for the vigil binary.
package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/vigil-systems/vigil/internal/alert"
	"github.com/vigil-systems/vigil/internal/config"
	"github.com/vigil-systems/vigil/internal/engine"
	"github.com/vigil-systems/vigil/internal/registry"
	"github.com/vigil-systems/vigil/internal/rules"
	"github.com/vigil-systems/vigil/internal/server"
)

// NewServeCmd creates the serve command.
func NewServeCmd() *cobra.Command {
	var cfgPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Vigil evaluation engine and HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cfgPath)
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "vigil.yaml", "path to the config file")
	return cmd
}

func runServe(cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := slog.Default()

	// Metric registry shared by the engine, the server, and any
	// instrumentation wired in by embedding code.
	reg := registry.New()

	// Notification sinks
	dispatcher, err := alert.NewDispatcher(cfg.Notifiers, logger)
	if err != nil {
		return fmt.Errorf("creating notification dispatcher: %w", err)
	}

	// Engine
	eng, err := engine.New(reg, dispatcher.Func(), logger, engine.Options{
		Interval:    cfg.Evaluation.Interval,
		EvalTimeout: cfg.Evaluation.Timeout,
	})
	if err != nil {
		return fmt.Errorf("creating engine: %w", err)
	}

	// Rules
	set, err := rules.LoadFiles(cfg.RuleFiles)
	if err != nil {
		return fmt.Errorf("loading rules: %w", err)
	}
	if err := eng.Load(set); err != nil {
		return fmt.Errorf("loading rules: %w", err)
	}
	logger.Info("rules loaded", "rules", len(set.Rules), "files", cfg.RuleFiles)

	// Server
	srv, err := server.New(cfg.Listen, reg, eng, cfg.RuleFiles, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	ctx := context.Background()
	eng.Start(ctx)

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		color.Yellow("\nReceived %s, shutting down...", sig)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		eng.Stop(shutdownCtx)
		if err := srv.Stop(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		color.Green("Server stopped gracefully")
		return nil
	}
}
