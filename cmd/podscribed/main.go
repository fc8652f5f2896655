package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"podscribe/internal/config"
	"podscribe/internal/daemon"
	"podscribe/internal/logging"
)

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

type options struct {
	configPath string
	preflight  bool
}

func newRootCommand() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:           "podscribed",
		Short:         "Run the podscribe daemon",
		Version:       daemon.Version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "Configuration file path")
	cmd.Flags().BoolVar(&opts.preflight, "preflight", false, "Check external dependencies and provider credentials, then exit")
	return cmd
}

func run(ctx context.Context, opts options, out io.Writer) error {
	cfg, path, exists, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateCredentials(); err != nil {
		return err
	}
	if opts.preflight {
		return runPreflight(ctx, cfg, out)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logger.Info("podscribed starting",
		logging.String("version", daemon.Version),
		logging.String("config", path),
		logging.Bool("config_exists", exists),
	)

	comp, err := buildComponents(ctx, cfg, logger)
	if err != nil {
		return err
	}
	d, err := daemon.New(cfg, comp, logger)
	if err != nil {
		_ = comp.Episodes.Close()
		_ = comp.Store.Close()
		return err
	}
	defer func() {
		if err := d.Close(); err != nil {
			logger.Warn("daemon shutdown incomplete", logging.Error(err))
		}
	}()

	if err := d.Start(ctx); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}
	logger.Info("podscribed ready",
		logging.String("api", d.APIAddr()),
		logging.String("grpc", d.GRPCAddr()),
	)

	<-ctx.Done()
	logger.Info("podscribed shutting down")
	return nil
}
