package wallet

import (
	"context"
	"errors"
)

var (
	ErrInsufficientFunds  = errors.New("insufficient_funds")
	ErrDuplicateOperation = errors.New("duplicate_operation")
	ErrUnknownPlayer      = errors.New("unknown_player")
)

// Service is the external wallet: the only place balances change. Every
// mutation carries an idempotency key; replaying a key returns the recorded
// prior balance together with ErrDuplicateOperation, so callers can treat a
// retry as already applied rather than as a failure.
type Service interface {
	// Debit removes amount from the player's balance. Check-and-apply is
	// atomic: the balance can never go negative under concurrent calls.
	Debit(ctx context.Context, playerID string, amount int64, idempotencyKey string) (int64, error)

	// Credit adds amount to the player's balance.
	Credit(ctx context.Context, playerID string, amount int64, idempotencyKey string) (int64, error)

	// Balance returns the player's current balance without locking.
	Balance(ctx context.Context, playerID string) (int64, error)
}
