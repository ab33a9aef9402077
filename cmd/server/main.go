package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"jetlumiere/internal/config"
	"jetlumiere/internal/logging"
	"jetlumiere/internal/server"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error running server: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logging.Init(cfg.Log)

	srv, err := server.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init server: %w", err)
	}
	srv.RegisterRoutes()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Listen(fmt.Sprintf(":%d", cfg.Server.Port))
	}()

	log.Info().Int("port", cfg.Server.Port).Msg("server listening")

	select {
	case <-ctx.Done():
		return srv.Shutdown()
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}
}
