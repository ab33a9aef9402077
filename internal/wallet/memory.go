package wallet

import (
	"context"
	"sync"
)

// Memory is an in-process wallet with the same idempotency semantics as the
// Postgres implementation. Used in tests and local development.
type Memory struct {
	mu       sync.Mutex
	balances map[string]int64
	applied  map[string]int64 // idempotency key -> balance after
}

func NewMemory() *Memory {
	return &Memory{
		balances: make(map[string]int64),
		applied:  make(map[string]int64),
	}
}

func (m *Memory) Debit(ctx context.Context, playerID string, amount int64, idempotencyKey string) (int64, error) {
	return m.apply(playerID, -amount, idempotencyKey)
}

func (m *Memory) Credit(ctx context.Context, playerID string, amount int64, idempotencyKey string) (int64, error) {
	return m.apply(playerID, amount, idempotencyKey)
}

func (m *Memory) Balance(ctx context.Context, playerID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bal, ok := m.balances[playerID]
	if !ok {
		return 0, ErrUnknownPlayer
	}
	return bal, nil
}

// SetBalance seeds an account directly.
func (m *Memory) SetBalance(playerID string, balance int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[playerID] = balance
}

func (m *Memory) apply(playerID string, delta int64, idempotencyKey string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if prior, ok := m.applied[idempotencyKey]; ok {
		return prior, ErrDuplicateOperation
	}

	newBalance := m.balances[playerID] + delta
	if newBalance < 0 {
		return 0, ErrInsufficientFunds
	}
	m.balances[playerID] = newBalance
	m.applied[idempotencyKey] = newBalance
	return newBalance, nil
}
