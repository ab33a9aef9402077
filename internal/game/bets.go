package game

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"jetlumiere/internal/ledger"
	"jetlumiere/internal/wallet"
)

// All handlers in this file run on the coordinator goroutine, so a phase
// check and its effect cannot interleave with a phase transition or with
// another player's request.

func (c *Coordinator) handlePlaceBet(req PlaceBetRequest) {
	var resp PlaceBetResponse
	defer func() {
		if req.ResponseChan != nil {
			req.ResponseChan <- resp
		}
	}()

	round := c.current
	if round == nil || (req.RoundID != "" && req.RoundID != round.ID) {
		resp.Reason, resp.Err = ErrStaleRound.Error(), ErrStaleRound
		return
	}
	if round.Phase != PhaseBetting {
		resp.Reason, resp.Err = ErrRoundNotAcceptingBets.Error(), ErrRoundNotAcceptingBets
		return
	}
	if req.Stake < c.cfg.MinStake || req.Stake > c.cfg.MaxStake {
		resp.Reason, resp.Err = ErrStakeOutOfRange.Error(), ErrStakeOutOfRange
		return
	}
	if req.AutoCashout != 0 && req.AutoCashout <= MinMultiplier {
		resp.Reason, resp.Err = ErrStakeOutOfRange.Error(), ErrStakeOutOfRange
		return
	}
	// One stake per player per round, terminal or not: the derived
	// idempotency key could not distinguish a re-bet from a retry.
	if c.book.get(req.PlayerID) != nil {
		resp.Reason, resp.Err = ErrDuplicateBet.Error(), ErrDuplicateBet
		return
	}

	session := c.book.open(req.PlayerID, round.ID, req.Stake, req.AutoCashout, time.Now())

	balance, err := c.bridge.DebitStake(context.Background(), round.ID, req.PlayerID, req.Stake)
	if err != nil {
		// No partial state: the session rolls back to idle.
		c.book.drop(req.PlayerID)
		if errors.Is(err, wallet.ErrInsufficientFunds) {
			resp.Reason, resp.Err = ErrInsufficientBalance.Error(), ErrInsufficientBalance
			return
		}
		log.Error().Err(err).Str("round_id", round.ID).Str("player_id", req.PlayerID).
			Msg("stake debit failed")
		resp.Reason, resp.Err = ErrLedgerUnavailable.Error(), ErrLedgerUnavailable
		return
	}

	session.State = SessionPlaced
	c.persistState(round)

	resp.Accepted = true
	resp.RoundID = round.ID
	resp.Balance = balance

	c.hub.Broadcast("bet_placed", BetPlacedEvent{
		PlayerID: req.PlayerID,
		RoundID:  round.ID,
		Stake:    req.Stake,
	})
	log.Info().Str("round_id", round.ID).Str("player_id", req.PlayerID).
		Int64("stake", req.Stake).Float64("auto_cashout", req.AutoCashout).
		Msg("bet placed")
}

func (c *Coordinator) handleCancelBet(req CancelBetRequest) {
	var resp CancelBetResponse
	defer func() {
		if req.ResponseChan != nil {
			req.ResponseChan <- resp
		}
	}()

	round := c.current
	if round == nil || (req.RoundID != "" && req.RoundID != round.ID) {
		resp.Reason, resp.Err = ErrStaleRound.Error(), ErrStaleRound
		return
	}
	// Cancellation is best effort: once the round locks it is gone.
	if round.Phase != PhaseBetting {
		resp.Reason, resp.Err = ErrRoundNotAcceptingBets.Error(), ErrRoundNotAcceptingBets
		return
	}
	session := c.book.get(req.PlayerID)
	if session == nil || session.State != SessionPlaced {
		resp.Reason, resp.Err = ErrNoActiveBet.Error(), ErrNoActiveBet
		return
	}

	balance, err := c.bridge.RefundStake(context.Background(), round.ID, req.PlayerID, session.Stake)
	if err != nil {
		log.Error().Err(err).Str("round_id", round.ID).Str("player_id", req.PlayerID).
			Msg("stake refund failed")
		resp.Reason, resp.Err = ErrLedgerUnavailable.Error(), ErrLedgerUnavailable
		return
	}

	session.State = SessionCancelled
	session.SettledAt = time.Now()
	c.persistState(round)

	resp.Accepted = true
	resp.Balance = balance
	log.Info().Str("round_id", round.ID).Str("player_id", req.PlayerID).
		Int64("stake", session.Stake).Msg("bet cancelled")
}

func (c *Coordinator) handleCashOut(req CashOutRequest) {
	var resp CashOutResponse
	defer func() {
		if req.ResponseChan != nil {
			req.ResponseChan <- resp
		}
	}()

	round := c.current
	if round == nil || (req.RoundID != "" && req.RoundID != round.ID) {
		resp.Reason, resp.Err = ErrStaleRound.Error(), ErrStaleRound
		return
	}
	session := c.book.get(req.PlayerID)
	if session == nil || session.State != SessionPlaced {
		resp.Reason, resp.Err = ErrNoActiveBet.Error(), ErrNoActiveBet
		return
	}
	if round.Phase != PhaseInProgress {
		resp.Reason, resp.Err = ErrAlreadyCrashed.Error(), ErrAlreadyCrashed
		return
	}

	// The accepted multiplier is always recomputed from server elapsed time,
	// never trusted from the client. If the curve has already passed the
	// crash point the round is over in wall-clock terms, whether or not the
	// crash tick has fired yet.
	raw := MultiplierAfter(time.Since(round.PhaseStartedAt))
	if raw >= round.CrashPoint {
		resp.Reason, resp.Err = ErrAlreadyCrashed.Error(), ErrAlreadyCrashed
		return
	}
	mult := trunc2(raw)

	balance, pending := c.settleCashout(round, session, mult)

	resp.Accepted = true
	resp.Multiplier = mult
	resp.Payout = session.Payout
	resp.Balance = balance
	if pending {
		resp.Reason = "credit_pending"
	}
}

// settleAutoCashouts runs every tick: sessions whose target is covered by
// the curve settle at exactly their target, so the payout is independent of
// tick granularity. A target at or past the crash point can never win.
func (c *Coordinator) settleAutoCashouts(round *Round, raw float64) {
	for _, s := range c.book.placed() {
		if s.AutoCashout <= MinMultiplier {
			continue
		}
		if s.AutoCashout <= raw && s.AutoCashout < round.CrashPoint {
			c.settleCashout(round, s, s.AutoCashout)
		}
	}
}

// settleCashout pays a win and marks the session cashed out. A failed
// credit never loses the win: it is parked for the retry worker and the
// session is flagged pending-credit.
func (c *Coordinator) settleCashout(round *Round, session *BetSession, mult float64) (int64, bool) {
	payout := int64(math.Floor(float64(session.Stake) * mult))

	balance, err := c.bridge.CreditPayout(context.Background(), round.ID, session.PlayerID, payout)
	pending := false
	if err != nil {
		pending = true
		log.Error().Err(err).Str("round_id", round.ID).Str("player_id", session.PlayerID).
			Int64("payout", payout).Msg("cashout credit failed, parking for retry")
		parkErr := c.bridge.ParkCredit(context.Background(), ledger.PendingCredit{
			RoundID:  round.ID,
			PlayerID: session.PlayerID,
			Payout:   payout,
			Op:       "cashout",
		})
		if parkErr != nil {
			// The audit archive still records the payout; reconciliation
			// picks it up from there.
			log.Error().Err(parkErr).Str("round_id", round.ID).Str("player_id", session.PlayerID).
				Msg("pending credit park failed")
		}
	}

	session.State = SessionCashedOut
	session.Payout = payout
	session.SettledAt = time.Now()
	session.PendingCredit = pending
	c.persistState(round)

	c.hub.Broadcast("cashout", CashOutEvent{
		PlayerID:   session.PlayerID,
		RoundID:    round.ID,
		Multiplier: mult,
		Payout:     payout,
	})
	log.Info().Str("round_id", round.ID).Str("player_id", session.PlayerID).
		Float64("multiplier", mult).Int64("payout", payout).Bool("pending", pending).
		Msg("cashed out")
	return balance, pending
}
