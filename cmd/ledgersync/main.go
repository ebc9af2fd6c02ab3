package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vipul43/ledgersync/internal/api"
	"github.com/vipul43/ledgersync/internal/watcher"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "ledgersync",
		Short:         "Imports accounting data from Xero into the ledger database",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newWorkerCommand())
	cmd.AddCommand(newMigrateCommand())
	cmd.AddCommand(newReconcileCommand())
	return cmd
}

func newWorkerCommand() *cobra.Command {
	var skipMigrations bool
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the queue workers and the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(!skipMigrations)
		},
	}
	cmd.Flags().BoolVar(&skipMigrations, "skip-migrations", false, "do not apply pending migrations on startup")
	return cmd
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), true)
			if err != nil {
				return err
			}
			a.Close()
			return nil
		},
	}
}

func newReconcileCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Fail stalled sync work once and print what was touched",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.orchestrator.ReconcileStalled(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
}

func runWorker(migrate bool) error {
	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx, migrate)
	if err != nil {
		return err
	}
	defer a.Close()

	w := watcher.New(a.cfg, a.queueJobs, a.dispatcher, a.orchestrator, a.metrics, a.log)
	handler := api.NewHandler(a.orchestrator, a.metrics, a.log)
	server := &http.Server{
		Addr:         a.cfg.HTTPAddr,
		Handler:      handler.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Start watcher and server in goroutines
	errChan := make(chan error, 2)
	watcherDone := make(chan error, 1)
	go func() {
		err := w.Start(ctx)
		watcherDone <- err
		if err != nil && !errors.Is(err, context.Canceled) {
			errChan <- err
		}
	}()
	go func() {
		a.log.WithField("addr", a.cfg.HTTPAddr).Info("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Wait for shutdown signal or error
	var runErr error
	select {
	case sig := <-sigChan:
		a.log.WithField("signal", sig.String()).Info("Shutdown signal received")
	case runErr = <-errChan:
		a.log.WithError(runErr).Error("Component failed, shutting down")
	}
	cancel()

	// Wait for graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		a.log.WithError(err).Warn("HTTP server shutdown failed")
	}

	select {
	case <-shutdownCtx.Done():
		a.log.Warn("Shutdown timeout exceeded")
	case err := <-watcherDone:
		if err != nil && !errors.Is(err, context.Canceled) {
			a.log.WithError(err).Error("Watcher error")
		}
	}

	a.log.Info("Application stopped")
	return runErr
}
