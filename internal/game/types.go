package game

import "time"

type PlaceBetRequest struct {
	PlayerID     string                `json:"player_id"`
	RoundID      string                `json:"round_id"`
	Stake        int64                 `json:"stake"`
	AutoCashout  float64               `json:"auto_cashout,omitempty"`
	ResponseChan chan PlaceBetResponse `json:"-"`
}

type PlaceBetResponse struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
	RoundID  string `json:"round_id,omitempty"`
	Balance  int64  `json:"balance,omitempty"`
	Err      error  `json:"-"`
}

type CancelBetRequest struct {
	PlayerID     string                 `json:"player_id"`
	RoundID      string                 `json:"round_id"`
	ResponseChan chan CancelBetResponse `json:"-"`
}

type CancelBetResponse struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
	Balance  int64  `json:"balance,omitempty"`
	Err      error  `json:"-"`
}

type CashOutRequest struct {
	PlayerID     string               `json:"player_id"`
	RoundID      string               `json:"round_id"`
	ResponseChan chan CashOutResponse `json:"-"`
}

type CashOutResponse struct {
	Accepted   bool    `json:"accepted"`
	Reason     string  `json:"reason,omitempty"`
	Multiplier float64 `json:"multiplier,omitempty"`
	Payout     int64   `json:"payout,omitempty"`
	Balance    int64   `json:"balance,omitempty"`
	Err        error   `json:"-"`
}

// Broadcast payloads.

type BetPlacedEvent struct {
	PlayerID string `json:"player_id"`
	RoundID  string `json:"round_id"`
	Stake    int64  `json:"stake"`
}

type CashOutEvent struct {
	PlayerID   string  `json:"player_id"`
	RoundID    string  `json:"round_id"`
	Multiplier float64 `json:"multiplier"`
	Payout     int64   `json:"payout"`
}

type TickEvent struct {
	RoundID    string  `json:"round_id"`
	Multiplier float64 `json:"multiplier"`
}

type CrashEvent struct {
	RoundID    string  `json:"round_id"`
	CrashPoint float64 `json:"crash_point"`
	ServerSeed string  `json:"server_seed"`
}

// SettledBet is the per-session line of a round's audit record.
type SettledBet struct {
	PlayerID    string     `json:"player_id"`
	Stake       int64      `json:"stake"`
	AutoCashout float64    `json:"auto_cashout,omitempty"`
	State       string     `json:"state"`
	Payout      int64      `json:"payout"`
	PlacedAt    time.Time  `json:"placed_at"`
	SettledAt   *time.Time `json:"settled_at,omitempty"`
}
