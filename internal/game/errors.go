package game

import "errors"

var (
	ErrInsufficientBalance   = errors.New("insufficient_balance")
	ErrRoundNotAcceptingBets = errors.New("round_not_accepting_bets")
	ErrDuplicateBet          = errors.New("duplicate_bet")
	ErrNoActiveBet           = errors.New("no_active_bet")
	ErrAlreadyCrashed        = errors.New("already_crashed")
	ErrStaleRound            = errors.New("stale_round")
	ErrStakeOutOfRange       = errors.New("stake_out_of_range")
	ErrLedgerUnavailable     = errors.New("ledger_unavailable")
	ErrEntropyUnavailable    = errors.New("entropy_unavailable")
)
