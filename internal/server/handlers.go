package server

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/oklog/ulid/v2"

	"jetlumiere/internal/game"
	"jetlumiere/internal/wallet"
)

func (s *FiberServer) healthHandler(c *fiber.Ctx) error {
	var phase game.Phase
	if snap := s.coordinator.CurrentSnapshot(); snap != nil {
		phase = snap.Phase
	}
	return c.JSON(fiber.Map{
		"database": s.store.Health(c.Context()),
		"cache":    s.cache.Health(c.Context()),
		"game": fiber.Map{
			"phase":             phase,
			"connected_clients": s.hub.ClientCount(),
			"pending_credits":   s.bridge.PendingCreditCount(c.Context()),
		},
	})
}

func (s *FiberServer) getRoundHandler(c *fiber.Ctx) error {
	snap := s.coordinator.CurrentSnapshot()
	if snap == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "no active round",
		})
	}
	return c.JSON(snap)
}

func (s *FiberServer) roundHistoryHandler(c *fiber.Ctx) error {
	limit, _ := strconv.Atoi(c.Query("limit", "0"))
	history, err := s.coordinator.CrashHistory(c.Context(), limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "history unavailable",
		})
	}
	return c.JSON(fiber.Map{"crash_points": history})
}

func (s *FiberServer) roundArchiveHandler(c *fiber.Ctx) error {
	limit, _ := strconv.Atoi(c.Query("limit", "0"))
	rounds, err := s.store.RecentRounds(c.Context(), limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "archive unavailable",
		})
	}
	return c.JSON(fiber.Map{"rounds": rounds})
}

func (s *FiberServer) verifyRoundHandler(c *fiber.Ctx) error {
	var req struct {
		RoundID    string  `json:"round_id"`
		ServerSeed string  `json:"server_seed"`
		SeedHash   string  `json:"seed_hash"`
		CrashPoint float64 `json:"crash_point"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}
	if req.RoundID == "" || req.ServerSeed == "" || req.SeedHash == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "round_id, server_seed and seed_hash are required",
		})
	}

	valid := game.VerifyRound(req.ServerSeed, req.SeedHash, req.RoundID, req.CrashPoint, s.coordinator.Fairness())
	return c.JSON(fiber.Map{"valid": valid})
}

func (s *FiberServer) placeBetHandler(c *fiber.Ctx) error {
	var req game.PlaceBetRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}
	if req.PlayerID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "player_id is required",
		})
	}

	resp := s.coordinator.PlaceBet(req)
	if !resp.Accepted {
		return c.Status(statusFor(resp.Err, resp.Reason)).JSON(resp)
	}
	return c.JSON(resp)
}

func (s *FiberServer) cancelBetHandler(c *fiber.Ctx) error {
	var req game.CancelBetRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}
	if req.PlayerID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "player_id is required",
		})
	}

	resp := s.coordinator.CancelBet(req)
	if !resp.Accepted {
		return c.Status(statusFor(resp.Err, resp.Reason)).JSON(resp)
	}
	return c.JSON(resp)
}

func (s *FiberServer) cashOutHandler(c *fiber.Ctx) error {
	var req game.CashOutRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}
	if req.PlayerID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "player_id is required",
		})
	}

	resp := s.coordinator.CashOut(req)
	if !resp.Accepted {
		return c.Status(statusFor(resp.Err, resp.Reason)).JSON(resp)
	}
	return c.JSON(resp)
}

func (s *FiberServer) getBalanceHandler(c *fiber.Ctx) error {
	playerID := c.Params("playerId")
	balance, err := s.wallet.Balance(c.Context(), playerID)
	if errors.Is(err, wallet.ErrUnknownPlayer) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "unknown player",
		})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "balance unavailable",
		})
	}
	return c.JSON(fiber.Map{"player_id": playerID, "balance": balance})
}

func (s *FiberServer) playerBetsHandler(c *fiber.Ctx) error {
	playerID := c.Params("playerId")
	limit, _ := strconv.Atoi(c.Query("limit", "0"))
	bets, err := s.store.PlayerBets(c.Context(), playerID, limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "bet history unavailable",
		})
	}
	return c.JSON(fiber.Map{"player_id": playerID, "bets": bets})
}

// depositHandler tops up a wallet. The client may pass its own idempotency
// key to make retries safe; otherwise each call is a fresh deposit.
func (s *FiberServer) depositHandler(c *fiber.Ctx) error {
	playerID := c.Params("playerId")

	var req struct {
		Amount         int64  `json:"amount"`
		IdempotencyKey string `json:"idempotency_key"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}
	if req.Amount <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "amount must be positive",
		})
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = "deposit:" + ulid.Make().String()
	}

	balance, err := s.wallet.Credit(c.Context(), playerID, req.Amount, req.IdempotencyKey)
	if err != nil && !errors.Is(err, wallet.ErrDuplicateOperation) {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "deposit failed",
		})
	}
	return c.JSON(fiber.Map{"player_id": playerID, "balance": balance})
}
