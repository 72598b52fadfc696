package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/minishop/orders/internal/app"
	"github.com/minishop/orders/internal/config"
)

// RunRelay starts the outbox relay polling loop with graceful shutdown
// support. The relay claims due outbox events and publishes them to Kafka
// until receiving SIGINT/SIGTERM.
func RunRelay(ctx context.Context, version string) error {
	cfg := config.Load()

	container := app.NewContainer(cfg)

	logger := container.Logger()
	logger.Info("starting relay", slog.String("version", version))

	defer closeContainer(container, logger)

	relayUseCase, err := container.RelayUseCase()
	if err != nil {
		return fmt.Errorf("failed to initialize relay use case: %w", err)
	}

	metricsServer, err := container.MetricsServer()
	if err != nil {
		return fmt.Errorf("failed to initialize metrics server: %w", err)
	}

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := relayUseCase.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("relay error: %w", err)
		}
		return nil
	})

	if metricsServer != nil {
		g.Go(func() error {
			if err := metricsServer.Start(ctx); err != nil {
				return fmt.Errorf("metrics server error: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			return metricsServer.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}
