package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	stdlog "log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/telekom/cli-auth-broker/pkg/api"
	"github.com/telekom/cli-auth-broker/pkg/banner"
	"github.com/telekom/cli-auth-broker/pkg/cli"
	"github.com/telekom/cli-auth-broker/pkg/config"
	"github.com/telekom/cli-auth-broker/pkg/system"
	"github.com/telekom/cli-auth-broker/pkg/telemetry"
	"github.com/telekom/cli-auth-broker/pkg/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		stdlog.Fatalf("cli-auth-broker: %v", err)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	flags, err := cli.Parse(args, out)
	if err != nil {
		return err
	}
	if flags.Version {
		version.Fprint(out, telemetry.DefaultServiceName)
		return nil
	}

	zl, err := system.NewLogger(flags.Debug)
	if err != nil {
		return fmt.Errorf("failed to set up logger: %w", err)
	}
	defer func() { _ = zl.Sync() }()
	log := zl.Sugar()
	log.With("version", version.Version, "commit", version.GitCommit).Info("Starting cli-auth-broker")
	flags.Print(log)

	cfg, err := config.Load(flags.ConfigPath)
	if err != nil {
		return err
	}
	flags.Apply(&cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	_, shutdownTracer, err := telemetry.Init(ctx, cfg.Telemetry, version.Version, log)
	if err != nil {
		return fmt.Errorf("failed to initialise telemetry: %w", err)
	}

	app, err := build(ctx, cfg, zl, flags.Debug)
	if err != nil {
		_ = shutdownTracer(context.Background())
		return err
	}

	if !flags.NoBanner {
		_ = banner.Fprint(out, banner.Info{
			Title:        "CLI Auth Broker",
			Name:         telemetry.DefaultServiceName,
			Version:      version.GetBuildInfo().String(),
			Description:  "Browser login for command line tools, paid out as temporary AWS credentials",
			ListenAddr:   cfg.Server.ListenAddress,
			Endpoints:    api.Endpoints(app.adminEnabled),
			Technologies: technologies,
		})
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infow("HTTP server listening", "address", cfg.Server.ListenAddress)
		errCh <- app.server.Listen()
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutdown signal received")
	case err = <-errCh:
		if err != nil {
			log.Errorw("HTTP server failed", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout(cfg))
	defer cancel()
	shutdown(shutdownCtx, log, app, shutdownTracer)
	return err
}

func shutdownTimeout(cfg config.Config) time.Duration {
	if cfg.Server.ShutdownTimeout.Duration > 0 {
		return cfg.Server.ShutdownTimeout.Duration
	}
	return 15 * time.Second
}

// shutdown stops accepting requests first, then flushes audit events and
// releases the store and tracer.
func shutdown(ctx context.Context, log *zap.SugaredLogger, app *application, shutdownTracer telemetry.ShutdownFunc) {
	if err := app.server.Shutdown(ctx); err != nil {
		log.Warnw("HTTP server shutdown failed", "error", err)
	}
	app.close(log)
	if err := shutdownTracer(ctx); err != nil {
		log.Warnw("Tracer shutdown failed", "error", err)
	}
	log.Info("Shutdown complete")
}
