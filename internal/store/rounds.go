package store

import (
	"context"
	"fmt"
	"time"

	"jetlumiere/internal/game"
)

// ArchiveRound appends a finished round and its settled sessions to the
// audit tables. Inserting the same round twice is a no-op: recovery may
// replay an archive whose first attempt was cut short.
func (s *Store) ArchiveRound(ctx context.Context, rec game.RoundRecord) error {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	ct, err := tx.Exec(ctx,
		`INSERT INTO rounds (round_id, seed_hash, server_seed, crash_point, started_at, crashed_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (round_id) DO NOTHING`,
		rec.RoundID, rec.SeedHash, rec.ServerSeed, rec.CrashPoint, rec.StartedAt, rec.CrashedAt,
	)
	if err != nil {
		return fmt.Errorf("insert round: %w", err)
	}
	if ct.RowsAffected() == 0 {
		// Already archived.
		return tx.Commit(ctx)
	}

	for _, b := range rec.Bets {
		_, err := tx.Exec(ctx,
			`INSERT INTO bets (round_id, player_id, stake, auto_cashout, state, payout, placed_at, settled_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 ON CONFLICT (round_id, player_id) DO NOTHING`,
			rec.RoundID, b.PlayerID, b.Stake, b.AutoCashout, b.State, b.Payout, b.PlacedAt, b.SettledAt,
		)
		if err != nil {
			return fmt.Errorf("insert bet: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ArchivedRound is one line of the fairness-verification listing.
type ArchivedRound struct {
	RoundID    string    `json:"round_id"`
	SeedHash   string    `json:"seed_hash"`
	ServerSeed string    `json:"server_seed"`
	CrashPoint float64   `json:"crash_point"`
	StartedAt  time.Time `json:"started_at"`
	CrashedAt  time.Time `json:"crashed_at"`
}

// RecentRounds lists finished rounds, newest first, seeds revealed.
func (s *Store) RecentRounds(ctx context.Context, limit int) ([]ArchivedRound, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.Pool.Query(ctx,
		`SELECT round_id, seed_hash, server_seed, crash_point, started_at, crashed_at
		 FROM rounds ORDER BY round_id DESC LIMIT $1`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list rounds: %w", err)
	}
	defer rows.Close()

	out := make([]ArchivedRound, 0, limit)
	for rows.Next() {
		var r ArchivedRound
		if err := rows.Scan(&r.RoundID, &r.SeedHash, &r.ServerSeed, &r.CrashPoint, &r.StartedAt, &r.CrashedAt); err != nil {
			return nil, fmt.Errorf("scan round: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// PlayerBets lists a player's archived sessions for history display.
func (s *Store) PlayerBets(ctx context.Context, playerID string, limit int) ([]game.SettledBet, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.Pool.Query(ctx,
		`SELECT player_id, stake, auto_cashout, state, payout, placed_at, settled_at
		 FROM bets WHERE player_id = $1 ORDER BY round_id DESC LIMIT $2`, playerID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list bets: %w", err)
	}
	defer rows.Close()

	out := make([]game.SettledBet, 0, limit)
	for rows.Next() {
		var b game.SettledBet
		if err := rows.Scan(&b.PlayerID, &b.Stake, &b.AutoCashout, &b.State, &b.Payout, &b.PlacedAt, &b.SettledAt); err != nil {
			return nil, fmt.Errorf("scan bet: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
