package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"bookreview/internal/util"
	"bookreview/services/web/internal/config"
	"bookreview/services/web/internal/server"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		util.InitLogger(cfg.LogLevel)

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg)
	},
}

func serve(ctx context.Context, cfg config.FileConfig) error {
	d, err := build(ctx, cfg)
	if err != nil {
		return err
	}
	defer d.Close()

	httpServer, err := server.New(server.Config{
		App:            d.app,
		Flashes:        d.flashes,
		SignupLimiter:  d.signupLimiter,
		LoginLimiter:   d.loginLimiter,
		Alerter:        d.alerter,
		TrustedProxies: d.trustedProxies,
		CookieSecure:   cfg.CookieSecure,
		SessionTTL:     d.sessionTTL,
	})
	if err != nil {
		return fmt.Errorf("init server: %w", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           httpServer.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("web server listening", "addr", addr, "site_url", cfg.SiteURL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		slog.Info("web server shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
