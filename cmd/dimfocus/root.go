package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/dimfocus/internal/app"
	"github.com/MrWong99/dimfocus/internal/config"
)

// shutdownTimeout bounds graceful shutdown of servers and the application.
const shutdownTimeout = 15 * time.Second

// cli holds state shared by all subcommands. It is filled in by the root
// command's PersistentPreRunE.
type cli struct {
	configPath string
	asJSON     bool

	cfg      *config.Config
	registry *config.Registry
}

// NewRootCmd builds the dimfocus command tree.
func NewRootCmd(version string) *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:   "dimfocus",
		Short: "Focused-dimension document similarity and PII detection",
		Long: `dimfocus learns which embedding dimensions separate document categories
and compares documents on those dimensions only. It also trains a classifier
that flags texts containing personally identifiable information.`,
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.load(cmd)
		},
		Run: func(cmd *cobra.Command, _ []string) {
			_ = cmd.Help()
		},
	}

	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "config.yaml", "path to the YAML configuration file")
	root.PersistentFlags().BoolVar(&c.asJSON, "json", false, "output in JSON format")

	root.AddCommand(
		newTrainCmd(c),
		newTrainPIICmd(c),
		newCompareCmd(c),
		newSimilarCmd(c),
		newDetectCmd(c),
		newModelCmd(c),
		newStatsCmd(c),
		newDemoCmd(c),
		newServeCmd(c, version),
		newMCPCmd(c, version),
	)
	return root
}

// load reads the configuration and installs the logger. A missing config
// file is only an error when --config was given explicitly.
func (c *cli) load(cmd *cobra.Command) error {
	cfg, err := config.Load(c.configPath)
	switch {
	case err == nil:
	case errors.Is(err, os.ErrNotExist) && !cmd.Flags().Changed("config"):
		cfg = config.Default()
		if err := config.Validate(cfg); err != nil {
			return err
		}
	case errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("config file %q not found; copy configs/example.yaml to get started", c.configPath)
	default:
		return err
	}
	c.cfg = cfg
	c.registry = config.NewRegistry()
	registerBuiltinProviders(c.registry, cfg.Embedding)
	slog.SetDefault(newLogger(cfg.Server.LogLevel, cmd.ErrOrStderr()))
	slog.Debug("configuration loaded", "config", c.configPath, "provider", cfg.Providers.Embeddings.Name)
	return nil
}

// newApp builds the application from the configured providers.
func (c *cli) newApp(ctx context.Context, opts ...app.Option) (*app.App, error) {
	providers, err := buildProviders(c.cfg, c.registry)
	if err != nil {
		return nil, err
	}
	return app.New(ctx, c.cfg, providers, opts...)
}

// withApp runs fn with a fresh application and shuts it down afterwards.
// With load set, persisted models are installed first.
func (c *cli) withApp(ctx context.Context, load bool, fn func(*app.App) error) error {
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
	if load {
		if err := a.LoadModels(ctx, false); err != nil {
			return err
		}
	}
	return fn(a)
}

// ── Output ────────────────────────────────────────────────────────────────────

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ── Logger ────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel, w io.Writer) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}
