package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const maxCreditAttempts = 10

// PendingCredit is a cash-out win whose wallet credit did not land. The win
// is already earned: it must never be dropped, only retried or escalated.
type PendingCredit struct {
	RoundID  string `json:"round_id"`
	PlayerID string `json:"player_id"`
	Payout   int64  `json:"payout"`
	Op       string `json:"op"`
	Attempts int    `json:"attempts"`
}

// ParkCredit queues a failed cash-out credit for the retry worker. The queue
// lives in Redis so pending wins survive a process restart.
func (b *Bridge) ParkCredit(ctx context.Context, pc PendingCredit) error {
	data, err := json.Marshal(pc)
	if err != nil {
		return err
	}
	return b.rdb.LPush(ctx, redisKeyPendingCredits, data).Err()
}

// PendingCreditCount reports the retry queue depth, for health reporting.
func (b *Bridge) PendingCreditCount(ctx context.Context) int64 {
	n, err := b.rdb.LLen(ctx, redisKeyPendingCredits).Result()
	if err != nil {
		return -1
	}
	return n
}

// RunPendingCreditWorker drains the pending-credit queue until ctx is done.
// The idempotency key makes a retry of an already-landed credit harmless.
// After maxCreditAttempts the credit is moved to the reconciliation list for
// manual handling and logged loudly; it is never silently discarded.
func (b *Bridge) RunPendingCreditWorker(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.drainPendingCredits(ctx)
		}
	}
}

func (b *Bridge) drainPendingCredits(ctx context.Context) {
	for {
		data, err := b.rdb.RPop(ctx, redisKeyPendingCredits).Result()
		if errors.Is(err, redis.Nil) {
			return
		}
		if err != nil {
			log.Error().Err(err).Msg("pending credit queue read failed")
			return
		}

		var pc PendingCredit
		if err := json.Unmarshal([]byte(data), &pc); err != nil {
			log.Error().Err(err).Str("raw", data).Msg("malformed pending credit")
			continue
		}

		op := pc.Op
		if op == "" {
			op = "cashout"
		}
		_, err = b.call(ctx, func(c context.Context) (int64, error) {
			return b.wallet.Credit(c, pc.PlayerID, pc.Payout, Key(pc.RoundID, pc.PlayerID, op))
		})
		if err == nil {
			log.Info().
				Str("round_id", pc.RoundID).
				Str("player_id", pc.PlayerID).
				Int64("payout", pc.Payout).
				Msg("pending credit settled")
			continue
		}

		pc.Attempts++
		if pc.Attempts >= maxCreditAttempts {
			raw, _ := json.Marshal(pc)
			if perr := b.rdb.LPush(ctx, redisKeyReconciliation, raw).Err(); perr != nil {
				log.Error().Err(perr).Str("player_id", pc.PlayerID).Msg("reconciliation enqueue failed")
			}
			log.Error().
				Str("round_id", pc.RoundID).
				Str("player_id", pc.PlayerID).
				Int64("payout", pc.Payout).
				Msg("pending credit escalated to manual reconciliation")
			continue
		}

		if perr := b.ParkCredit(ctx, pc); perr != nil {
			log.Error().Err(perr).Str("player_id", pc.PlayerID).Msg("pending credit requeue failed")
		}
	}
}
