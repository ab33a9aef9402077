package game

import "time"

// SessionState is a bet session's position in its per-round lifecycle
// idle -> pending -> placed -> cashed_out | lost. cashed_out, lost and
// cancelled are terminal: a new session is required for the next round.
type SessionState string

const (
	SessionPending   SessionState = "pending"
	SessionPlaced    SessionState = "placed"
	SessionCashedOut SessionState = "cashed_out"
	SessionLost      SessionState = "lost"
	SessionCancelled SessionState = "cancelled"
)

// BetSession is one (player, round) stake. Stake and AutoCashout are fixed
// once placed; Payout is set only on the transition to cashed_out.
// PendingCredit marks a win whose wallet credit has not landed yet.
type BetSession struct {
	PlayerID      string       `json:"player_id"`
	RoundID       string       `json:"round_id"`
	State         SessionState `json:"state"`
	Stake         int64        `json:"stake"`
	AutoCashout   float64      `json:"auto_cashout,omitempty"`
	Payout        int64        `json:"payout,omitempty"`
	PlacedAt      time.Time    `json:"placed_at"`
	SettledAt     time.Time    `json:"settled_at,omitempty"`
	PendingCredit bool         `json:"pending_credit,omitempty"`
}

func (s *BetSession) Terminal() bool {
	switch s.State {
	case SessionCashedOut, SessionLost, SessionCancelled:
		return true
	}
	return false
}

// sessionBook holds the sessions of the current round. It is owned by the
// coordinator goroutine and must only be touched from there; that single
// ownership is what makes "check phase, then apply" atomic.
type sessionBook struct {
	byPlayer map[string]*BetSession
}

func newSessionBook() *sessionBook {
	return &sessionBook{byPlayer: make(map[string]*BetSession)}
}

func (b *sessionBook) get(playerID string) *BetSession {
	return b.byPlayer[playerID]
}

// open registers a pending session. At most one non-terminal session per
// player per round: callers must have checked for an existing one.
func (b *sessionBook) open(playerID, roundID string, stake int64, autoCashout float64, now time.Time) *BetSession {
	s := &BetSession{
		PlayerID:    playerID,
		RoundID:     roundID,
		State:       SessionPending,
		Stake:       stake,
		AutoCashout: autoCashout,
		PlacedAt:    now,
	}
	b.byPlayer[playerID] = s
	return s
}

// drop removes a session that never committed (ledger failure during
// placement rolls the player back to idle).
func (b *sessionBook) drop(playerID string) {
	delete(b.byPlayer, playerID)
}

// placed returns every session still holding a live stake.
func (b *sessionBook) placed() []*BetSession {
	out := make([]*BetSession, 0, len(b.byPlayer))
	for _, s := range b.byPlayer {
		if s.State == SessionPlaced {
			out = append(out, s)
		}
	}
	return out
}

// all copies every session, for crash-safe persistence.
func (b *sessionBook) all() []BetSession {
	out := make([]BetSession, 0, len(b.byPlayer))
	for _, s := range b.byPlayer {
		out = append(out, *s)
	}
	return out
}

// records snapshots every session for the round's audit archive.
func (b *sessionBook) records() []SettledBet {
	out := make([]SettledBet, 0, len(b.byPlayer))
	for _, s := range b.byPlayer {
		rec := SettledBet{
			PlayerID:    s.PlayerID,
			Stake:       s.Stake,
			AutoCashout: s.AutoCashout,
			State:       string(s.State),
			Payout:      s.Payout,
			PlacedAt:    s.PlacedAt,
		}
		if !s.SettledAt.IsZero() {
			t := s.SettledAt
			rec.SettledAt = &t
		}
		out = append(out, rec)
	}
	return out
}

func (b *sessionBook) reset() {
	b.byPlayer = make(map[string]*BetSession)
}
