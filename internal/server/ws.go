package server

import (
	"context"
	"encoding/json"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"jetlumiere/internal/game"
)

type wsClientMessage struct {
	Type        string  `json:"type"`
	RoundID     string  `json:"round_id,omitempty"`
	Stake       int64   `json:"stake,omitempty"`
	AutoCashout float64 `json:"auto_cashout,omitempty"`
}

// wsHandler serves the real-time feed: initial snapshot plus the crash
// history on connect, then round events fanned out by the hub. Bet actions
// arriving over the socket go through the same coordinator path as HTTP.
func (s *FiberServer) wsHandler(conn *websocket.Conn) {
	playerID := conn.Query("player_id", "anonymous")

	client := s.hub.RegisterClient(conn, playerID)
	defer s.hub.UnregisterClient(client)

	if snap := s.coordinator.CurrentSnapshot(); snap != nil {
		client.SendEvent("snapshot", snap)
	}
	if history, err := s.coordinator.CrashHistory(context.Background(), 0); err == nil {
		client.SendEvent("history", fiber.Map{"crash_points": history})
	}

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			log.Debug().Err(err).Str("player_id", playerID).Msg("ws read failed")
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var msg wsClientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}

		switch msg.Type {
		case "place_bet":
			resp := s.coordinator.PlaceBet(game.PlaceBetRequest{
				PlayerID:    playerID,
				RoundID:     msg.RoundID,
				Stake:       msg.Stake,
				AutoCashout: msg.AutoCashout,
			})
			client.SendEvent("bet_result", resp)

		case "cancel_bet":
			resp := s.coordinator.CancelBet(game.CancelBetRequest{
				PlayerID: playerID,
				RoundID:  msg.RoundID,
			})
			client.SendEvent("cancel_result", resp)

		case "cashout":
			resp := s.coordinator.CashOut(game.CashOutRequest{
				PlayerID: playerID,
				RoundID:  msg.RoundID,
			})
			client.SendEvent("cashout_result", resp)

		case "ping":
			client.SendEvent("pong", nil)
		}
	}
}
