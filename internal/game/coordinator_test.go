package game

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"jetlumiere/internal/config"
	"jetlumiere/internal/ledger"
	"jetlumiere/internal/wallet"
)

type recordingArchiver struct {
	mu      sync.Mutex
	records []RoundRecord
}

func (a *recordingArchiver) ArchiveRound(ctx context.Context, rec RoundRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, rec)
	return nil
}

func (a *recordingArchiver) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.records)
}

func (a *recordingArchiver) last() RoundRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.records[len(a.records)-1]
}

func testGameConfig() config.GameConfig {
	return config.GameConfig{
		WaitingDuration: 10 * time.Millisecond,
		BettingDuration: 40 * time.Millisecond,
		CrashedDuration: 10 * time.Millisecond,
		TickInterval:    5 * time.Millisecond,
		HouseEdge:       0.03,
		MaxMultiplier:   1000,
		MinStake:        1,
		MaxStake:        100000,
		HistorySize:     50,
	}
}

func newTestCoordinator(t *testing.T, cfg config.GameConfig) (*Coordinator, *wallet.Memory, *recordingArchiver) {
	t.Helper()

	w := wallet.NewMemory()
	rdb := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15,
	})
	// Persistence errors against a missing redis only log; a live one must
	// not leak state between tests.
	rdb.Del(context.Background(), redisKeyCurrentRound, redisKeyCrashHistory)
	hub := NewHub()
	go hub.Run()
	arch := &recordingArchiver{}
	c := NewCoordinator(cfg, hub, ledger.New(w, rdb), arch, rdb)
	return c, w, arch
}

// setRound installs a round directly, bypassing the loop, so tests control
// the crash point and phase timings exactly.
func setRound(c *Coordinator, phase Phase, crashPoint float64, startedAt time.Time) *Round {
	seed, _ := GenerateServerSeed()
	r := &Round{
		ID:             NewRoundID(),
		Phase:          phase,
		PhaseStartedAt: startedAt,
		ServerSeed:     seed,
		SeedHash:       SeedHash(seed),
		CrashPoint:     crashPoint,
	}
	c.mu.Lock()
	c.current = r
	c.mu.Unlock()
	c.book.reset()
	return r
}

func placeBet(c *Coordinator, playerID string, stake int64, autoCashout float64) PlaceBetResponse {
	ch := make(chan PlaceBetResponse, 1)
	c.handlePlaceBet(PlaceBetRequest{
		PlayerID:     playerID,
		Stake:        stake,
		AutoCashout:  autoCashout,
		ResponseChan: ch,
	})
	return <-ch
}

func cancelBet(c *Coordinator, playerID string) CancelBetResponse {
	ch := make(chan CancelBetResponse, 1)
	c.handleCancelBet(CancelBetRequest{PlayerID: playerID, ResponseChan: ch})
	return <-ch
}

func cashOut(c *Coordinator, playerID string) CashOutResponse {
	ch := make(chan CashOutResponse, 1)
	c.handleCashOut(CashOutRequest{PlayerID: playerID, ResponseChan: ch})
	return <-ch
}

func TestPlaceBet(t *testing.T) {
	t.Run("accepted during betting", func(t *testing.T) {
		c, w, _ := newTestCoordinator(t, testGameConfig())
		w.SetBalance("alice", 1000)
		setRound(c, PhaseBetting, 2.0, time.Now())

		resp := placeBet(c, "alice", 100, 0)
		if !resp.Accepted {
			t.Fatalf("bet rejected: %s", resp.Reason)
		}
		if resp.Balance != 900 {
			t.Errorf("balance = %d, want 900", resp.Balance)
		}
		if s := c.book.get("alice"); s == nil || s.State != SessionPlaced {
			t.Error("session should be placed")
		}
	})

	t.Run("duplicate bet rejected, single debit", func(t *testing.T) {
		c, w, _ := newTestCoordinator(t, testGameConfig())
		w.SetBalance("alice", 1000)
		setRound(c, PhaseBetting, 2.0, time.Now())

		if resp := placeBet(c, "alice", 100, 0); !resp.Accepted {
			t.Fatalf("first bet rejected: %s", resp.Reason)
		}
		resp := placeBet(c, "alice", 100, 0)
		if resp.Accepted {
			t.Fatal("second bet should be rejected")
		}
		if resp.Reason != ErrDuplicateBet.Error() {
			t.Errorf("reason = %s, want %s", resp.Reason, ErrDuplicateBet)
		}

		bal, _ := w.Balance(context.Background(), "alice")
		if bal != 900 {
			t.Errorf("balance = %d, want exactly one debit leaving 900", bal)
		}
	})

	t.Run("insufficient balance leaves no session", func(t *testing.T) {
		c, w, _ := newTestCoordinator(t, testGameConfig())
		w.SetBalance("bob", 50)
		setRound(c, PhaseBetting, 2.0, time.Now())

		resp := placeBet(c, "bob", 100, 0)
		if resp.Accepted {
			t.Fatal("bet should be rejected")
		}
		if resp.Reason != ErrInsufficientBalance.Error() {
			t.Errorf("reason = %s, want %s", resp.Reason, ErrInsufficientBalance)
		}
		if c.book.get("bob") != nil {
			t.Error("session should roll back to idle")
		}
		bal, _ := w.Balance(context.Background(), "bob")
		if bal != 50 {
			t.Errorf("balance = %d, want untouched 50", bal)
		}
	})

	t.Run("rejected outside betting phase", func(t *testing.T) {
		c, w, _ := newTestCoordinator(t, testGameConfig())
		w.SetBalance("alice", 1000)

		for _, phase := range []Phase{PhaseWaiting, PhaseInProgress, PhaseCrashed} {
			setRound(c, phase, 2.0, time.Now())
			resp := placeBet(c, "alice", 100, 0)
			if resp.Accepted {
				t.Errorf("bet accepted in phase %s", phase)
			}
			if resp.Reason != ErrRoundNotAcceptingBets.Error() {
				t.Errorf("phase %s: reason = %s, want %s", phase, resp.Reason, ErrRoundNotAcceptingBets)
			}
		}
	})

	t.Run("stale round id", func(t *testing.T) {
		c, w, _ := newTestCoordinator(t, testGameConfig())
		w.SetBalance("alice", 1000)
		setRound(c, PhaseBetting, 2.0, time.Now())

		ch := make(chan PlaceBetResponse, 1)
		c.handlePlaceBet(PlaceBetRequest{
			PlayerID:     "alice",
			RoundID:      "01STALEROUND0000000000000",
			Stake:        100,
			ResponseChan: ch,
		})
		resp := <-ch
		if resp.Accepted || resp.Reason != ErrStaleRound.Error() {
			t.Errorf("want stale_round rejection, got %+v", resp)
		}
	})

	t.Run("stake bounds", func(t *testing.T) {
		c, w, _ := newTestCoordinator(t, testGameConfig())
		w.SetBalance("alice", 10000000)
		setRound(c, PhaseBetting, 2.0, time.Now())

		for _, stake := range []int64{0, -5, 100001} {
			resp := placeBet(c, "alice", stake, 0)
			if resp.Accepted || resp.Reason != ErrStakeOutOfRange.Error() {
				t.Errorf("stake %d: want stake_out_of_range, got %+v", stake, resp)
			}
		}
	})

	t.Run("auto cashout target must exceed 1.0", func(t *testing.T) {
		c, w, _ := newTestCoordinator(t, testGameConfig())
		w.SetBalance("alice", 1000)
		setRound(c, PhaseBetting, 2.0, time.Now())

		resp := placeBet(c, "alice", 100, 0.9)
		if resp.Accepted {
			t.Error("bet with target below 1.0 should be rejected")
		}
	})
}

func TestCancelBet(t *testing.T) {
	t.Run("refund during betting", func(t *testing.T) {
		c, w, _ := newTestCoordinator(t, testGameConfig())
		w.SetBalance("alice", 1000)
		setRound(c, PhaseBetting, 2.0, time.Now())

		placeBet(c, "alice", 100, 0)
		resp := cancelBet(c, "alice")
		if !resp.Accepted {
			t.Fatalf("cancel rejected: %s", resp.Reason)
		}
		if resp.Balance != 1000 {
			t.Errorf("balance = %d, want 1000 after refund", resp.Balance)
		}
		if s := c.book.get("alice"); s == nil || s.State != SessionCancelled {
			t.Error("session should be cancelled")
		}
	})

	t.Run("rejected once round locked", func(t *testing.T) {
		c, w, _ := newTestCoordinator(t, testGameConfig())
		w.SetBalance("alice", 1000)
		round := setRound(c, PhaseBetting, 2.0, time.Now())

		placeBet(c, "alice", 100, 0)
		round.Phase = PhaseInProgress
		round.PhaseStartedAt = time.Now()

		resp := cancelBet(c, "alice")
		if resp.Accepted {
			t.Fatal("cancel should be rejected after lock")
		}
		if resp.Reason != ErrRoundNotAcceptingBets.Error() {
			t.Errorf("reason = %s, want %s", resp.Reason, ErrRoundNotAcceptingBets)
		}
	})

	t.Run("no active bet", func(t *testing.T) {
		c, _, _ := newTestCoordinator(t, testGameConfig())
		setRound(c, PhaseBetting, 2.0, time.Now())

		resp := cancelBet(c, "ghost")
		if resp.Accepted || resp.Reason != ErrNoActiveBet.Error() {
			t.Errorf("want no_active_bet, got %+v", resp)
		}
	})
}

func TestCashOut(t *testing.T) {
	t.Run("accepted strictly below crash point", func(t *testing.T) {
		// Crash point a hair above the observed multiplier: still a win.
		c, w, _ := newTestCoordinator(t, testGameConfig())
		w.SetBalance("alice", 1000)
		round := setRound(c, PhaseBetting, 1.8000001, time.Now())
		placeBet(c, "alice", 100, 0)

		round.Phase = PhaseInProgress
		round.PhaseStartedAt = time.Now().Add(-DurationToMultiplier(1.75))

		resp := cashOut(c, "alice")
		if !resp.Accepted {
			t.Fatalf("cashout rejected: %s", resp.Reason)
		}
		if resp.Multiplier >= round.CrashPoint {
			t.Errorf("accepted multiplier %v >= crash point %v", resp.Multiplier, round.CrashPoint)
		}
		want := int64(float64(100) * resp.Multiplier)
		if resp.Payout != want {
			t.Errorf("payout = %d, want %d", resp.Payout, want)
		}
		if s := c.book.get("alice"); s.State != SessionCashedOut {
			t.Error("session should be cashed out")
		}
	})

	t.Run("rejected after crash phase", func(t *testing.T) {
		c, w, _ := newTestCoordinator(t, testGameConfig())
		w.SetBalance("alice", 1000)
		round := setRound(c, PhaseBetting, 5.0, time.Now())
		placeBet(c, "alice", 100, 0)

		round.Phase = PhaseCrashed
		round.PhaseStartedAt = time.Now()

		resp := cashOut(c, "alice")
		if resp.Accepted || resp.Reason != ErrAlreadyCrashed.Error() {
			t.Errorf("want already_crashed, got %+v", resp)
		}
		bal, _ := w.Balance(context.Background(), "alice")
		if bal != 900 {
			t.Errorf("balance = %d, no credit must be issued", bal)
		}
	})

	t.Run("rejected when curve already passed crash point", func(t *testing.T) {
		// The phase flip may lag the wall clock by up to a tick; the
		// cash-out check must not.
		c, w, _ := newTestCoordinator(t, testGameConfig())
		w.SetBalance("alice", 1000)
		round := setRound(c, PhaseBetting, 1.5, time.Now())
		placeBet(c, "alice", 100, 0)

		round.Phase = PhaseInProgress
		round.PhaseStartedAt = time.Now().Add(-DurationToMultiplier(2.0))

		resp := cashOut(c, "alice")
		if resp.Accepted || resp.Reason != ErrAlreadyCrashed.Error() {
			t.Errorf("want already_crashed, got %+v", resp)
		}
	})

	t.Run("no active bet", func(t *testing.T) {
		c, _, _ := newTestCoordinator(t, testGameConfig())
		setRound(c, PhaseInProgress, 5.0, time.Now())

		resp := cashOut(c, "ghost")
		if resp.Accepted || resp.Reason != ErrNoActiveBet.Error() {
			t.Errorf("want no_active_bet, got %+v", resp)
		}
	})

	t.Run("terminal session cannot cash out twice", func(t *testing.T) {
		c, w, _ := newTestCoordinator(t, testGameConfig())
		w.SetBalance("alice", 1000)
		round := setRound(c, PhaseBetting, 10.0, time.Now())
		placeBet(c, "alice", 100, 0)

		round.Phase = PhaseInProgress
		round.PhaseStartedAt = time.Now().Add(-DurationToMultiplier(2.0))

		if resp := cashOut(c, "alice"); !resp.Accepted {
			t.Fatalf("first cashout rejected: %s", resp.Reason)
		}
		resp := cashOut(c, "alice")
		if resp.Accepted || resp.Reason != ErrNoActiveBet.Error() {
			t.Errorf("second cashout: want no_active_bet, got %+v", resp)
		}
	})
}

func TestAutoCashout(t *testing.T) {
	t.Run("settles at target, not tick multiplier", func(t *testing.T) {
		c, w, _ := newTestCoordinator(t, testGameConfig())
		w.SetBalance("alice", 1000)
		round := setRound(c, PhaseBetting, 3.5, time.Now())
		placeBet(c, "alice", 100, 2.0)

		round.Phase = PhaseInProgress
		round.PhaseStartedAt = time.Now()

		// Tick observed the curve well past the target.
		c.settleAutoCashouts(round, 2.37)

		s := c.book.get("alice")
		if s.State != SessionCashedOut {
			t.Fatalf("session state = %s, want cashed_out", s.State)
		}
		if s.Payout != 200 {
			t.Errorf("payout = %d, want 200 (settled at target 2.0)", s.Payout)
		}
		bal, _ := w.Balance(context.Background(), "alice")
		if bal != 1100 {
			t.Errorf("balance = %d, want 1100", bal)
		}
	})

	t.Run("target below curve but above crash point loses", func(t *testing.T) {
		c, w, _ := newTestCoordinator(t, testGameConfig())
		w.SetBalance("alice", 1000)
		round := setRound(c, PhaseBetting, 1.4, time.Now())
		placeBet(c, "alice", 100, 2.0)

		round.Phase = PhaseInProgress
		round.PhaseStartedAt = time.Now()

		c.settleAutoCashouts(round, 2.5)
		if s := c.book.get("alice"); s.State != SessionPlaced {
			t.Errorf("session state = %s, want still placed (target past crash)", s.State)
		}
	})

	t.Run("target not yet reached stays placed", func(t *testing.T) {
		c, w, _ := newTestCoordinator(t, testGameConfig())
		w.SetBalance("alice", 1000)
		round := setRound(c, PhaseBetting, 3.5, time.Now())
		placeBet(c, "alice", 100, 2.0)

		round.Phase = PhaseInProgress
		round.PhaseStartedAt = time.Now()

		c.settleAutoCashouts(round, 1.5)
		if s := c.book.get("alice"); s.State != SessionPlaced {
			t.Errorf("session state = %s, want placed", s.State)
		}
	})
}

func TestCrashSettlesLosses(t *testing.T) {
	c, w, arch := newTestCoordinator(t, testGameConfig())
	w.SetBalance("carol", 1000)
	round := setRound(c, PhaseBetting, 1.4, time.Now())
	placeBet(c, "carol", 50, 0)

	round.Phase = PhaseInProgress
	round.PhaseStartedAt = time.Now()

	c.enterCrashed(round)
	c.finishRound(round)

	s := c.book.get("carol")
	if s.State != SessionLost {
		t.Fatalf("session state = %s, want lost", s.State)
	}
	if s.Payout != 0 {
		t.Errorf("payout = %d, want 0", s.Payout)
	}
	bal, _ := w.Balance(context.Background(), "carol")
	if bal != 950 {
		t.Errorf("balance = %d, want 950 (no credit issued)", bal)
	}

	if arch.count() != 1 {
		t.Fatalf("archived rounds = %d, want 1", arch.count())
	}
	rec := arch.last()
	if rec.CrashPoint != 1.4 || rec.ServerSeed != round.ServerSeed {
		t.Error("audit record should carry the revealed seed and crash point")
	}
	if len(rec.Bets) != 1 || rec.Bets[0].State != string(SessionLost) {
		t.Errorf("audit record bets = %+v, want one lost bet", rec.Bets)
	}
}

func TestResolveInterruptedRound(t *testing.T) {
	c, w, arch := newTestCoordinator(t, testGameConfig())
	// Stakes were already debited before the outage.
	w.SetBalance("auto", 900)
	w.SetBalance("manual", 900)

	seed, _ := GenerateServerSeed()
	startedAt := time.Now().Add(-10 * time.Second)
	round := Round{
		ID:             NewRoundID(),
		Phase:          PhaseInProgress,
		PhaseStartedAt: startedAt,
		ServerSeed:     seed,
		SeedHash:       SeedHash(seed),
		CrashPoint:     2.0,
	}
	sessions := []BetSession{
		{PlayerID: "auto", RoundID: round.ID, State: SessionPlaced, Stake: 100, AutoCashout: 1.5, PlacedAt: startedAt},
		{PlayerID: "manual", RoundID: round.ID, State: SessionPlaced, Stake: 100, PlacedAt: startedAt},
	}

	crashAt := startedAt.Add(DurationToMultiplier(round.CrashPoint))
	c.resolveCrashed(context.Background(), &round, sessions, crashAt)

	bal, _ := w.Balance(context.Background(), "auto")
	if bal != 1050 {
		t.Errorf("auto balance = %d, want 1050 (credited at target 1.5)", bal)
	}
	bal, _ = w.Balance(context.Background(), "manual")
	if bal != 900 {
		t.Errorf("manual balance = %d, want 900 (lost)", bal)
	}

	if arch.count() != 1 {
		t.Fatalf("archived rounds = %d, want 1", arch.count())
	}
}

func TestLedgerConservation(t *testing.T) {
	// Over a closed set of rounds, money only moves between the players and
	// the house: the wallet's net change must equal payouts minus the
	// stakes that stayed in play. Cancelled stakes net to zero.
	c, w, _ := newTestCoordinator(t, testGameConfig())

	players := []string{"p1", "p2", "p3", "p4"}
	const start = int64(10000)
	for _, p := range players {
		w.SetBalance(p, start)
	}

	var totalStaked, totalPaid int64
	for i, crashPoint := range []float64{1.2, 3.5, 2.0, 1.0, 5.25} {
		round := setRound(c, PhaseBetting, crashPoint, time.Now())

		stake := int64(50 + 10*i)
		placeBet(c, "p1", stake, 2.0) // auto, wins only when crash > 2.0
		placeBet(c, "p2", stake+25, 0)
		placeBet(c, "p3", stake+50, 0)
		placeBet(c, "p4", stake, 0)
		cancelBet(c, "p4")

		round.Phase = PhaseInProgress
		round.PhaseStartedAt = time.Now().Add(-DurationToMultiplier(1.5))

		// Manual cash-out lands only while the curve is below the crash
		// point; on low rounds it is rejected and p2 rides to the crash.
		cashOut(c, "p2")
		c.settleAutoCashouts(round, crashPoint)
		c.enterCrashed(round)
		c.finishRound(round)

		for _, b := range c.book.records() {
			if b.State != string(SessionCancelled) {
				totalStaked += b.Stake
			}
			totalPaid += b.Payout
		}
	}

	var final int64
	for _, p := range players {
		bal, err := w.Balance(context.Background(), p)
		if err != nil {
			t.Fatalf("balance %s: %v", p, err)
		}
		final += bal
	}

	want := int64(len(players))*start + totalPaid - totalStaked
	if final != want {
		t.Errorf("total balance = %d, want %d (staked %d, paid %d)", final, want, totalStaked, totalPaid)
	}
	if totalPaid >= totalStaked {
		t.Errorf("paid %d >= staked %d over a losing-heavy set", totalPaid, totalStaked)
	}
}

func TestRoundCycle(t *testing.T) {
	if testing.Short() {
		t.Skip("timing-dependent round cycle")
	}

	cfg := testGameConfig()
	cfg.MaxMultiplier = 1.2 // keeps the in-progress phase under a second
	cfg.BettingDuration = 300 * time.Millisecond
	cfg.CrashedDuration = time.Second // wide enough for the poller to observe
	c, w, arch := newTestCoordinator(t, cfg)
	w.SetBalance("alice", 1000)

	c.Start()
	defer c.Stop()

	// Wait for the betting window and place a bet through the public API.
	waitForPhase(t, c, PhaseBetting, 2*time.Second)
	resp := c.PlaceBet(PlaceBetRequest{PlayerID: "alice", Stake: 100})
	if !resp.Accepted {
		t.Fatalf("bet rejected: %s", resp.Reason)
	}

	snap := waitForPhase(t, c, PhaseCrashed, 5*time.Second)
	if snap.CrashPoint < MinMultiplier {
		t.Errorf("revealed crash point %v below 1.0", snap.CrashPoint)
	}
	if snap.ServerSeed == "" {
		t.Fatal("crashed snapshot must reveal the server seed")
	}
	if !VerifyRound(snap.ServerSeed, snap.SeedHash, snap.RoundID, snap.CrashPoint, c.Fairness()) {
		t.Error("crashed round failed fairness verification")
	}

	deadline := time.Now().Add(2 * time.Second)
	for arch.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if arch.count() == 0 {
		t.Error("crashed round was never archived")
	}
}

func waitForPhase(t *testing.T, c *Coordinator, phase Phase, timeout time.Duration) Snapshot {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if snap := c.CurrentSnapshot(); snap != nil && snap.Phase == phase {
			return *snap
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("phase %s never reached", phase)
	return Snapshot{}
}
