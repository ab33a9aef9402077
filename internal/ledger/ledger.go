// Package ledger is the bet ledger bridge: the only component allowed to
// move player balances. It wraps the external wallet service with
// idempotency keys derived from (round, player, operation), bounded
// timeouts, and retry-once-then-fail-closed semantics.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"jetlumiere/internal/wallet"
)

var ErrUnavailable = errors.New("ledger_unavailable")

const (
	defaultCallTimeout = 3 * time.Second

	redisKeyPendingCredits = "jetlumiere:credits:pending"
	redisKeyReconciliation = "jetlumiere:credits:reconcile"
)

type Bridge struct {
	wallet      wallet.Service
	rdb         *redis.Client
	callTimeout time.Duration
}

func New(w wallet.Service, rdb *redis.Client) *Bridge {
	return &Bridge{
		wallet:      w,
		rdb:         rdb,
		callTimeout: defaultCallTimeout,
	}
}

// Key derives the idempotency key for one operation of one player in one
// round. At most one stake per player per round is permitted, so the key is
// fully determined by intent and a client retry can never double-apply.
func Key(roundID, playerID, op string) string {
	return fmt.Sprintf("%s:%s:%s", roundID, playerID, op)
}

// DebitStake removes the stake from the player's balance.
func (b *Bridge) DebitStake(ctx context.Context, roundID, playerID string, stake int64) (int64, error) {
	return b.call(ctx, func(c context.Context) (int64, error) {
		return b.wallet.Debit(c, playerID, stake, Key(roundID, playerID, "stake"))
	})
}

// RefundStake returns a cancelled bet's stake.
func (b *Bridge) RefundStake(ctx context.Context, roundID, playerID string, stake int64) (int64, error) {
	return b.call(ctx, func(c context.Context) (int64, error) {
		return b.wallet.Credit(c, playerID, stake, Key(roundID, playerID, "refund"))
	})
}

// CreditPayout pays a cash-out win.
func (b *Bridge) CreditPayout(ctx context.Context, roundID, playerID string, payout int64) (int64, error) {
	return b.call(ctx, func(c context.Context) (int64, error) {
		return b.wallet.Credit(c, playerID, payout, Key(roundID, playerID, "cashout"))
	})
}

// call applies one wallet operation with a bounded timeout and a single
// retry. A replayed idempotency key counts as success: the wallet returns
// the balance recorded by the first application.
func (b *Bridge) call(ctx context.Context, op func(context.Context) (int64, error)) (int64, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, b.callTimeout)
		balance, err := op(callCtx)
		cancel()

		switch {
		case err == nil:
			return balance, nil
		case errors.Is(err, wallet.ErrDuplicateOperation):
			return balance, nil
		case errors.Is(err, wallet.ErrInsufficientFunds):
			return 0, err
		default:
			lastErr = err
		}
	}
	return 0, fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
}
