package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/codefionn/appforge/internal/auth"
	"github.com/codefionn/appforge/internal/logger"
	"github.com/codefionn/appforge/internal/web"
)

var serveAddr string

// serveCmd runs the HTTP API.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if serveAddr != "" {
			cfg.Server.Addr = serveAddr
		}
		if len(cfg.Auth.Tokens) == 0 {
			logger.Warn("no auth tokens configured, every API request will be rejected")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer func() {
			if err := a.Close(); err != nil {
				logger.Warn("shutdown: %v", err)
			}
		}()

		// turns run on serverCtx so they finish after ctx is cancelled
		serverCtx, cancelTurns := context.WithCancel(context.WithoutCancel(ctx))
		defer cancelTurns()

		server := web.NewServer(serverCtx, web.Deps{
			Store:     a.db,
			Blobs:     a.blobs,
			Sandboxes: a.sandboxes,
			Turns:     a.orchestrator,
			Auth:      auth.NewStaticVerifier(cfg.Auth.Tokens),
		}, web.Options{
			Addr:              cfg.Server.Addr,
			HeartbeatInterval: cfg.Server.HeartbeatInterval(),
			ProbeTimeout:      cfg.Agent.ProbeTimeout(),
			ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout(),
			AllowedOrigins:    cfg.Server.AllowedOrigins,
		})

		eg, egCtx := errgroup.WithContext(ctx)
		eg.Go(server.ListenAndServe)
		eg.Go(func() error {
			<-egCtx.Done()
			logger.Info("received interrupt signal, shutting down gracefully...")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout())
			defer cancel()
			defer cancelTurns()
			return server.Shutdown(shutdownCtx)
		})
		return eg.Wait()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides server.addr)")
}
