package game

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"jetlumiere/internal/ledger"
)

// recoverInterrupted resolves whatever round was live when the previous
// process died. Phases are pure functions of time against a crash point that
// was fixed at round creation, so every fate is decided deterministically;
// crash points are never resampled.
//
// Returns (round, true) when the round is still in flight and the caller
// should resume its in-progress loop.
func (c *Coordinator) recoverInterrupted() (*Round, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()

	pr, err := c.persist.load(ctx)
	if err != nil {
		log.Error().Err(err).Msg("recovery load failed")
		return nil, false
	}
	if pr == nil {
		return nil, false
	}

	round := pr.Round
	log.Info().Str("round_id", round.ID).Str("phase", string(round.Phase)).
		Msg("recovering interrupted round")

	switch round.Phase {
	case PhaseWaiting:
		// Nothing at stake yet.
		c.clearPersisted(ctx)

	case PhaseBetting:
		// The round never locked; stakes go back. The refund idempotency
		// key keeps a crash-loop from refunding twice.
		for i := range pr.Sessions {
			s := &pr.Sessions[i]
			if s.State != SessionPlaced {
				continue
			}
			if _, err := c.bridge.RefundStake(ctx, round.ID, s.PlayerID, s.Stake); err != nil {
				log.Error().Err(err).Str("player_id", s.PlayerID).Msg("recovery refund failed, parking")
				c.parkRecoveryCredit(ctx, round.ID, s.PlayerID, s.Stake, "refund")
			}
		}
		c.clearPersisted(ctx)

	case PhaseInProgress:
		crashAt := round.PhaseStartedAt.Add(DurationToMultiplier(round.CrashPoint))
		if time.Now().Before(crashAt) {
			// Still in flight: restore and let the caller resume ticking.
			c.restore(&round, pr.Sessions)
			return c.current, true
		}
		c.resolveCrashed(ctx, &round, pr.Sessions, crashAt)
		c.clearPersisted(ctx)

	case PhaseCrashed:
		// Sessions are settled; only the archive may be missing. The
		// archive insert is idempotent on round ID.
		c.restore(&round, pr.Sessions)
		c.finishRound(&round)
		c.book.reset()
		c.clearPersisted(ctx)
	}

	return nil, false
}

// resolveCrashed settles an in-progress round whose crash deadline passed
// while the process was down. Auto cash-outs below the crash point were wins
// the instant the curve reached their target; everything else is lost.
func (c *Coordinator) resolveCrashed(ctx context.Context, round *Round, sessions []BetSession, crashAt time.Time) {
	round.Phase = PhaseCrashed
	round.PhaseStartedAt = crashAt
	c.restore(round, sessions)

	for _, s := range c.book.placed() {
		if s.AutoCashout > MinMultiplier && s.AutoCashout < round.CrashPoint {
			c.settleCashout(round, s, s.AutoCashout)
			continue
		}
		s.State = SessionLost
		s.SettledAt = crashAt
	}

	c.hub.Broadcast("crash", CrashEvent{
		RoundID:    round.ID,
		CrashPoint: round.CrashPoint,
		ServerSeed: round.ServerSeed,
	})
	c.finishRound(round)
	c.book.reset()

	log.Info().Str("round_id", round.ID).Float64("crash_point", round.CrashPoint).
		Msg("interrupted round resolved")
}

// restore rebuilds the coordinator's live state from the persisted copy.
func (c *Coordinator) restore(round *Round, sessions []BetSession) {
	c.mu.Lock()
	c.current = round
	c.mu.Unlock()

	c.book.reset()
	for i := range sessions {
		s := sessions[i]
		c.book.byPlayer[s.PlayerID] = &s
	}
}

func (c *Coordinator) parkRecoveryCredit(ctx context.Context, roundID, playerID string, amount int64, op string) {
	err := c.bridge.ParkCredit(ctx, ledger.PendingCredit{
		RoundID:  roundID,
		PlayerID: playerID,
		Payout:   amount,
		Op:       op,
	})
	if err != nil {
		log.Error().Err(err).Str("round_id", roundID).Str("player_id", playerID).
			Msg("recovery credit park failed")
	}
}

func (c *Coordinator) clearPersisted(ctx context.Context) {
	if err := c.persist.clear(ctx); err != nil {
		log.Error().Err(err).Msg("persisted round clear failed")
	}
}
