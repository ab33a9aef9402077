package server

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog/log"

	"jetlumiere/internal/cache"
	"jetlumiere/internal/config"
	"jetlumiere/internal/game"
	"jetlumiere/internal/ledger"
	"jetlumiere/internal/store"
	"jetlumiere/internal/wallet"
)

const pendingCreditInterval = 5 * time.Second

type FiberServer struct {
	*fiber.App

	cfg          config.AppConfig
	store        *store.Store
	cache        cache.Service
	wallet       wallet.Service
	bridge       *ledger.Bridge
	hub          *game.Hub
	coordinator  *game.Coordinator
	workerCancel context.CancelFunc
}

// New wires the whole service: Postgres, Redis, wallet, ledger bridge, hub
// and round coordinator, and starts the background loops.
func New(ctx context.Context, cfg config.AppConfig) (*FiberServer, error) {
	st, err := store.Connect(ctx, cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("connect store: %w", err)
	}

	cacheSvc, err := cache.New(cfg.Redis)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("connect cache: %w", err)
	}

	walletSvc := wallet.NewPostgres(st.Pool)
	bridge := ledger.New(walletSvc, cacheSvc.Client())
	hub := game.NewHub()
	coordinator := game.NewCoordinator(cfg.Game, hub, bridge, st, cacheSvc.Client())

	s := &FiberServer{
		App: fiber.New(fiber.Config{
			ServerHeader:  "jetlumiere",
			AppName:       "jetlumiere",
			ReadTimeout:   cfg.Server.ReadTimeout,
			WriteTimeout:  cfg.Server.WriteTimeout,
			IdleTimeout:   cfg.Server.IdleTimeout,
			StrictRouting: false,
		}),
		cfg:         cfg,
		store:       st,
		cache:       cacheSvc,
		wallet:      walletSvc,
		bridge:      bridge,
		hub:         hub,
		coordinator: coordinator,
	}

	s.App.Use(recover.New())
	s.App.Use(limiter.New(limiter.Config{
		Max:        cfg.Server.RateLimit,
		Expiration: time.Minute,
	}))

	workerCtx, cancel := context.WithCancel(context.Background())
	s.workerCancel = cancel

	go hub.Run()
	coordinator.Start()
	go bridge.RunPendingCreditWorker(workerCtx, pendingCreditInterval)

	log.Info().Msg("round coordinator started")
	return s, nil
}

// Shutdown stops the round loop first so the last round's state lands in
// Redis, then closes the connections.
func (s *FiberServer) Shutdown() error {
	log.Info().Msg("shutting down")

	if s.workerCancel != nil {
		s.workerCancel()
	}
	if s.coordinator != nil {
		s.coordinator.Stop()
	}
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			log.Error().Err(err).Msg("cache close failed")
		}
	}
	if s.store != nil {
		s.store.Close()
	}
	return s.App.Shutdown()
}
