package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/MrWong99/dimfocus/internal/app"
	"github.com/MrWong99/dimfocus/internal/mcptools"
	"github.com/MrWong99/dimfocus/internal/observe"
	"github.com/MrWong99/dimfocus/internal/server"
)

func newServeCmd(c *cli, version string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Long: `Serve comparison, ranking and PII detection over HTTP, with health checks
and Prometheus metrics. The model file is watched and reloaded when it
changes, so a running server picks up a new training run.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
				ServiceVersion: version,
				EmbeddingModel: c.cfg.Providers.Embeddings.Model,
			})
			if err != nil {
				return fmt.Errorf("init telemetry: %w", err)
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				if err := otelShutdown(shutdownCtx); err != nil {
					slog.Warn("telemetry shutdown error", "err", err)
				}
			}()

			a, err := c.newApp(ctx)
			if err != nil {
				return err
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				if err := a.Shutdown(shutdownCtx); err != nil {
					slog.Warn("shutdown error", "err", err)
				}
			}()
			if err := a.LoadModels(ctx, true); err != nil {
				return err
			}

			opts := []server.Option{server.WithCheckers(a.Checkers()...)}
			if tls := c.cfg.Server.TLS; tls != nil {
				opts = append(opts, server.WithTLS(tls.CertFile, tls.KeyFile))
			}
			slog.Info("dimfocus starting",
				"version", version,
				"listen_addr", c.cfg.Server.ListenAddr,
				"provider", c.cfg.Providers.Embeddings.Name,
				"model_loaded", a.ModelLoaded(),
				"pii_loaded", a.PIILoaded(),
			)
			return server.New(c.cfg.Server.ListenAddr, a, opts...).Serve(ctx, shutdownTimeout)
		},
	}
}

func newMCPCmd(c *cli, version string) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the tools over the Model Context Protocol on stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// stdout carries the protocol; keep logs on stderr.
			return c.withApp(cmd.Context(), true, func(a *app.App) error {
				slog.Info("mcp server ready", "model_loaded", a.ModelLoaded(), "pii_loaded", a.PIILoaded())
				return mcptools.Serve(cmd.Context(), a, version)
			})
		},
	}
}
