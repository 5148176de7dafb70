package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/rendertron/internal/config"
	"github.com/JakeFAU/rendertron/internal/server"
)

type configKeyType struct{}

// runner is the part of server.App the serve command needs.
type runner interface {
	Run(ctx context.Context) error
}

// newApp is a variable so tests can avoid launching a browser.
var newApp = func(ctx context.Context, cfg config.Config) (runner, error) {
	return server.Build(ctx, cfg)
}

func newRootCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "rendertron",
		Short: "Render JavaScript-heavy pages with headless Chrome over HTTP.",
		Long: `rendertron launches a headless Chrome and serves rendered HTML and
screenshots of arbitrary pages over HTTP. Running it without a subcommand
is the same as "rendertron serve".`,
		SilenceUsage: true,

		// Config is loaded before any subcommand runs; a bad file stops startup.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), configKeyType{}, cfg))
			return nil
		},
		RunE: runServe,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is config.json next to the executable)")

	cmd.AddCommand(newServeCmd(), newConfigCmd())
	return cmd
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Launch the browser and serve render requests",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(cfg); err != nil {
				return fmt.Errorf("encode config: %w", err)
			}
			return nil
		},
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := resolveConfig(cmd.Context())
	if err != nil {
		return err
	}
	app, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return fmt.Errorf("build application: %w", err)
	}
	if err := app.Run(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run: %w", err)
	}
	return nil
}

func resolveConfig(ctx context.Context) (config.Config, error) {
	if ctx == nil {
		return config.Config{}, errors.New("command context is missing")
	}
	cfg, ok := ctx.Value(configKeyType{}).(config.Config)
	if !ok {
		return config.Config{}, errors.New("configuration was not loaded")
	}
	return cfg, nil
}
