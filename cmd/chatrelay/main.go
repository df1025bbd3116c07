package main

import (
	"context"
	"fmt"
	"os"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"go.uber.org/zap"

	"chatrelay/internal/app"
	"chatrelay/internal/config"
	"chatrelay/internal/logging"
)

func main() {
	os.Exit(run())
}

// run returns the process exit code.
func run() int {
	application, cfg, logger, err := setup()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	if err := application.Start(context.Background()); err != nil {
		logger.Error("failed to start", zap.Error(err))
		_ = application.Stop(context.Background())
		return 1
	}

	// Graceful shutdown on SIGINT/SIGTERM; Stop orders the teardown itself
	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		cfg.HTTP.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			"chatrelay": func(ctx context.Context) error {
				logger.Info("graceful shutdown initiated")
				return application.Stop(ctx)
			},
		},
	)

	exitCode := <-wait
	logger.Info("exited", zap.Int("code", exitCode))
	return exitCode
}

// setup loads configuration and builds the application without starting it.
func setup() (*app.Application, *config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, nil, nil, err
	}

	application, err := app.NewApplication(cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, nil, nil, fmt.Errorf("failed to create application: %w", err)
	}
	return application, cfg, logger, nil
}
