package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/michaelbrown/crucible/internal/app"
	"github.com/michaelbrown/crucible/internal/server"
)

var portFlag int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Crucible HTTP server",
	Long: `Start the Crucible HTTP server with REST and WebSocket endpoints.

Endpoints:
  POST   /api/run        run a base64-encoded request
  GET    /api/runs       list run history (storage.enabled)
  GET    /api/runs/{id}  show one run
  DELETE /api/runs/{id}  delete one run
  GET    /api/ws         WebSocket run stream
  GET    /healthz        liveness

Examples:
  crucible serve
  crucible serve --port 9090`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&portFlag, "port", 0, "Port to listen on (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := app.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing runner: %w", err)
	}
	defer a.Close()

	port := cfg.Server.Port
	if portFlag > 0 {
		port = portFlag
	}

	srv := server.New(a.Runner, a.Store, server.Options{
		MaxParallel: cfg.Server.MaxParallel,
		Logger:      logger,
	})

	// Graceful shutdown on SIGINT/SIGTERM
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		sig := <-sigCh
		logger.Info("signal received", slog.String("signal", sig.String()))
		if err := srv.Shutdown(context.Background()); err != nil {
			logger.Error("shutdown failed", slog.String("error", err.Error()))
		}
	}()

	err = srv.Start(port)
	if errors.Is(err, http.ErrServerClosed) {
		<-shutdownDone
		return nil
	}
	return err
}
