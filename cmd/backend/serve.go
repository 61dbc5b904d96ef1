package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/airfi/unifi-hotspot-gateway/internal/api"
)

const shutdownTimeout = 30 * time.Second

func newServeCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server for the splash page",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			gw, err := newGateway(cfg, logger)
			if err != nil {
				return err
			}

			handler := api.NewHandler(gw.orchestrator, logger.Named("api"))
			router := api.NewRouter(handler, api.RouterConfig{
				RateLimit: cfg.RateLimit,
				RateBurst: cfg.RateBurst,
			}, logger.Named("http"))

			httpServer := &http.Server{
				Addr:              fmt.Sprintf(":%d", cfg.Port),
				Handler:           router,
				ReadHeaderTimeout: 10 * time.Second,
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				logger.Info("server running",
					zap.String("addr", httpServer.Addr),
					zap.String("controller", cfg.ControllerURL),
					zap.String("site", cfg.ControllerSite),
				)
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				if err != nil {
					return fmt.Errorf("server error: %w", err)
				}
				return nil
			case <-ctx.Done():
			}

			logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		},
	}
}
