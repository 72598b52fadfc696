package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/minishop/orders/internal/app"
	"github.com/minishop/orders/internal/config"
)

// RunDLQReprocess re-injects a dead-lettered event back into the
// orders-created topic. The dead letter envelope is read from the given file,
// or from stdin when no file is provided. The original event is republished
// with its original correlation and idempotency keys, so an order already
// processed since the dead-lettering is deduplicated by the worker.
func RunDLQReprocess(ctx context.Context, file string, ioTuple IOTuple) error {
	cfg := config.Load()

	container := app.NewContainer(cfg)
	logger := container.Logger()

	defer closeContainer(container, logger)

	payload, err := readDeadLetterPayload(file, ioTuple.Reader)
	if err != nil {
		return err
	}

	processorUseCase, err := container.ProcessorUseCase()
	if err != nil {
		return fmt.Errorf("failed to initialize processor use case: %w", err)
	}

	if err := processorUseCase.ReprocessDeadLetter(ctx, payload); err != nil {
		return fmt.Errorf("failed to reprocess dead letter: %w", err)
	}

	logger.Info("dead letter re-injected", slog.Int("payload_bytes", len(payload)))
	fmt.Fprintln(ioTuple.Writer, "dead letter re-injected")
	return nil
}

// readDeadLetterPayload reads the envelope from a file, or the fallback
// reader when no file is given.
func readDeadLetterPayload(file string, fallback io.Reader) ([]byte, error) {
	if file != "" {
		payload, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read dead letter file: %w", err)
		}
		return payload, nil
	}

	payload, err := io.ReadAll(fallback)
	if err != nil {
		return nil, fmt.Errorf("failed to read dead letter from stdin: %w", err)
	}
	return payload, nil
}
