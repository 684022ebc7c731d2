// Command processor-sim is a sandbox card processor for running the
// terminal without real credentials.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alovak/cardflow-terminal/internal/observability"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/exp/slog"
)

func main() {
	cmd := &cobra.Command{
		Use:   "processor-sim",
		Short: "Sandbox card processor with scripted outcomes",
		RunE:  run,
	}

	cmd.Flags().String("addr", "localhost:9100", "listen address")
	cmd.Flags().String("scenarios", "", "YAML file with outcomes keyed by card suffix")
	cmd.Flags().Bool("otel", false, "export traces and metrics")
	cmd.AddCommand(testCardCmd())

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	logger := slog.New(observability.HandlerWithSpanContext(slog.NewJSONHandler(os.Stderr, nil))).
		With(slog.String("app", "processor-sim"))

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading .env: %w", err)
	}

	if enabled, _ := cmd.Flags().GetBool("otel"); enabled {
		shutdown, err := observability.Setup(ctx, "processor-sim")
		if err != nil {
			return fmt.Errorf("setting up telemetry: %w", err)
		}
		defer func() {
			if err := shutdown(ctx); err != nil {
				logger.ErrorContext(ctx, "error during shutdown", slog.Any("err", err))
			}
		}()
	}

	scenarios := DefaultScenarios()
	if path, _ := cmd.Flags().GetString("scenarios"); path != "" {
		var err error
		if scenarios, err = LoadScenarios(path); err != nil {
			return err
		}
	}

	gin.SetMode(gin.ReleaseMode)
	sim := NewSimulator(scenarios, os.Getenv("SIM_SECRET_KEY"), logger)

	addr, _ := cmd.Flags().GetString("addr")
	srv := &http.Server{Addr: addr, Handler: sim.Router()}

	errc := make(chan error, 1)
	go func() {
		logger.Info("processor simulator started", slog.String("addr", addr))
		errc <- srv.ListenAndServe()
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-sig:
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
