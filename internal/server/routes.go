package server

import (
	"errors"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"

	"jetlumiere/internal/game"
)

func (s *FiberServer) RegisterRoutes() {
	s.App.Use(cors.New(cors.Config{
		AllowOrigins:     "*",
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH",
		AllowHeaders:     "Accept,Authorization,Content-Type",
		AllowCredentials: false, // credentials require explicit origins
		MaxAge:           300,
	}))

	s.App.Get("/health", s.healthHandler)

	api := s.App.Group("/api/v1")

	api.Get("/round", s.getRoundHandler)
	api.Get("/round/history", s.roundHistoryHandler)
	api.Get("/round/archive", s.roundArchiveHandler)
	api.Post("/round/verify", s.verifyRoundHandler)

	api.Post("/bets", s.placeBetHandler)
	api.Post("/bets/cancel", s.cancelBetHandler)
	api.Post("/bets/cashout", s.cashOutHandler)

	api.Get("/players/:playerId/balance", s.getBalanceHandler)
	api.Get("/players/:playerId/bets", s.playerBetsHandler)
	api.Post("/players/:playerId/deposit", s.depositHandler)

	s.App.Get("/ws", websocket.New(s.wsHandler))
}

// statusFor maps a rejection to an HTTP status: infrastructure trouble is
// 503, everything else is the caller's problem.
func statusFor(err error, reason string) int {
	switch {
	case errors.Is(err, game.ErrLedgerUnavailable),
		errors.Is(err, game.ErrEntropyUnavailable),
		reason == "request_timeout",
		reason == "queue_full":
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusBadRequest
	}
}
