// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/pdiddy/deep-research/internal/httpapi"
	"github.com/pdiddy/deep-research/internal/library"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the research HTTP API",
	Long: `Serve exposes research sessions over HTTP. Clients create a session,
answer or skip the clarifying questions, and follow the run as a
server-sent event stream. Sessions persist in the configured store
(memory, redis, or sqlite). Prometheus metrics are served at /metrics.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address (default from config, :8080)")
	serveCmd.Flags().String("store", "", "session store: memory, redis, sqlite")
	_ = viper.BindPFlag("server.addr", serveCmd.Flags().Lookup("addr"))
	_ = viper.BindPFlag("store.backend", serveCmd.Flags().Lookup("store"))

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, cfg.Store)
	if err != nil {
		return err
	}
	defer a.Close()

	api := httpapi.NewServer(a.sessions, a.engine, a.discovery, cfg.Server.Heartbeat, logger)
	if cfg.Library.Path != "" {
		lib, err := library.Open(cfg.Library, logger)
		if err != nil {
			return err
		}
		defer lib.Close()
		api.WithLibrary(lib)
	}
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening",
			zap.String("addr", cfg.Server.Addr),
			zap.String("store", string(cfg.Store.Backend)),
			zap.Strings("backends", a.registry.Names()))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down", zap.Duration("timeout", cfg.Server.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("forcing close of open streams", zap.Error(err))
		return srv.Close()
	}
	return nil
}
