package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/txn2/karaoke-live/internal/server"
	"github.com/txn2/karaoke-live/pkg/platform"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var address string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and WebSocket server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.loadConfig()
			if err != nil {
				return err
			}
			if address != "" {
				cfg.Server.Address = address
			}
			return runServe(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&address, "address", "", "Listen address, overrides server.address")
	return cmd
}

func runServe(cmdCtx context.Context, cfg *platform.Config) error {
	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	p, err := platform.New(platform.WithConfig(cfg))
	if err != nil {
		return fmt.Errorf("creating platform: %w", err)
	}
	logger := p.Logger()
	slog.SetDefault(logger)

	if err := p.Start(signalCtx); err != nil {
		return fmt.Errorf("starting platform: %w", err)
	}

	srv := server.NewHTTPServer(cfg.Server, p.Handler())
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "address", cfg.Server.Address, "version", server.Version)
		errCh <- srv.ListenAndServe()
	}()

	var serveErr error
	select {
	case <-signalCtx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = fmt.Errorf("serving http: %w", err)
		}
	}

	shutdownCtx, stop := context.WithTimeout(context.WithoutCancel(signalCtx), cfg.Server.ShutdownTimeout)
	defer stop()

	p.Health().SetDraining()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	if err := p.Stop(shutdownCtx); err != nil {
		logger.Warn("platform shutdown", "error", err)
	}
	return serveErr
}
