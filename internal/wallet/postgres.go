package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgUniqueViolation = "23505"

// Postgres backs the wallet with an accounts table and an append-only
// ledger_entries table. The whole debit/credit flow runs in one DB
// transaction:
//
//  1. Look up the idempotency key; a replay returns the recorded
//     balance_after with ErrDuplicateOperation before any balance check.
//  2. Lock the account row (FOR UPDATE).
//  3. Pre-check the locked balance for debits.
//  4. Apply the delta.
//  5. Insert the ledger entry; a unique violation on the idempotency key
//     catches the race of two concurrent calls carrying the same key past
//     the lookup.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) Debit(ctx context.Context, playerID string, amount int64, idempotencyKey string) (int64, error) {
	return p.apply(ctx, playerID, -amount, idempotencyKey)
}

func (p *Postgres) Credit(ctx context.Context, playerID string, amount int64, idempotencyKey string) (int64, error) {
	return p.apply(ctx, playerID, amount, idempotencyKey)
}

func (p *Postgres) Balance(ctx context.Context, playerID string) (int64, error) {
	var balance int64
	err := p.pool.QueryRow(ctx,
		`SELECT balance FROM accounts WHERE player_id = $1`, playerID,
	).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrUnknownPlayer
	}
	if err != nil {
		return 0, fmt.Errorf("get balance: %w", err)
	}
	return balance, nil
}

func (p *Postgres) apply(ctx context.Context, playerID string, delta int64, idempotencyKey string) (int64, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	// A replayed key must short-circuit before the balance pre-check: the
	// first application may already have moved the balance, and re-checking
	// it would misreport a retried debit as insufficient funds.
	var recorded int64
	err = tx.QueryRow(ctx,
		`SELECT balance_after FROM ledger_entries WHERE idempotency_key = $1`,
		idempotencyKey,
	).Scan(&recorded)
	if err == nil {
		return recorded, ErrDuplicateOperation
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("check idempotency key: %w", err)
	}

	// Ensure the row exists so FOR UPDATE always has something to lock.
	if _, err := tx.Exec(ctx,
		`INSERT INTO accounts (player_id, balance) VALUES ($1, 0)
		 ON CONFLICT (player_id) DO NOTHING`, playerID,
	); err != nil {
		return 0, fmt.Errorf("ensure account: %w", err)
	}

	var balance int64
	if err := tx.QueryRow(ctx,
		`SELECT balance FROM accounts WHERE player_id = $1 FOR UPDATE`, playerID,
	).Scan(&balance); err != nil {
		return 0, fmt.Errorf("lock account: %w", err)
	}

	newBalance := balance + delta
	if newBalance < 0 {
		return 0, ErrInsufficientFunds
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO ledger_entries (idempotency_key, player_id, amount, balance_after)
		 VALUES ($1, $2, $3, $4)`,
		idempotencyKey, playerID, delta, newBalance,
	); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return p.recordedResult(ctx, idempotencyKey)
		}
		return 0, fmt.Errorf("insert ledger entry: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE accounts SET balance = $2, updated_at = now() WHERE player_id = $1`,
		playerID, newBalance,
	); err != nil {
		return 0, fmt.Errorf("update balance: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return newBalance, nil
}

// recordedResult fetches the balance recorded by the first application of an
// idempotency key, outside the aborted transaction.
func (p *Postgres) recordedResult(ctx context.Context, idempotencyKey string) (int64, error) {
	var balanceAfter int64
	err := p.pool.QueryRow(ctx,
		`SELECT balance_after FROM ledger_entries WHERE idempotency_key = $1`,
		idempotencyKey,
	).Scan(&balanceAfter)
	if err != nil {
		return 0, fmt.Errorf("lookup prior result: %w", err)
	}
	return balanceAfter, ErrDuplicateOperation
}
