package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alovak/cardflow-terminal/internal/observability"
	"github.com/alovak/cardflow-terminal/internal/security"
	"github.com/alovak/cardflow-terminal/terminal"
	"github.com/spf13/cobra"
	"golang.org/x/exp/slog"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the terminal HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, cleanup, err := startApp(cmd, "")
			if err != nil {
				return err
			}
			defer cleanup()

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
			<-sig

			app.Shutdown()
			return nil
		},
	}

	cmd.Flags().String("addr", "", "listen address, overrides http_addr")

	return cmd
}

// startApp loads configuration, sets up telemetry and starts the app.
// cleanup flushes telemetry and releases the HSM session, if any.
func startApp(cmd *cobra.Command, addrOverride string) (*terminal.App, func(), error) {
	if err := loadEnv(cmd); err != nil {
		return nil, nil, err
	}
	v, err := newViper(cmd)
	if err != nil {
		return nil, nil, err
	}
	cfg, err := loadConfig(v)
	if err != nil {
		return nil, nil, err
	}
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.HTTPAddr = addr
	}
	if addrOverride != "" {
		cfg.HTTPAddr = addrOverride
	}

	logger := newLogger()
	ctx := context.Background()

	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	if v.GetBool("otel.enabled") {
		shutdown, err := observability.Setup(ctx, v.GetString("otel.service_name"))
		if err != nil {
			return nil, nil, fmt.Errorf("setting up telemetry: %w", err)
		}
		cleanups = append(cleanups, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(ctx); err != nil {
				logger.Error("telemetry shutdown", slog.Any("err", err))
			}
		})
	}

	secrets := security.NewEnvStore(envPrefix + "_")
	app := terminal.NewApp(logger, cfg, secrets)

	closeHSM, err := configureHSM(ctx, app, secrets)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	if closeHSM != nil {
		cleanups = append(cleanups, closeHSM)
	}

	if err := app.Start(); err != nil {
		app.Shutdown()
		cleanup()
		return nil, nil, fmt.Errorf("starting app: %w", err)
	}

	return app, cleanup, nil
}
