package game

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"jetlumiere/internal/config"
	"jetlumiere/internal/ledger"
)

const (
	requestTimeout = 10 * time.Second
	archiveTimeout = 5 * time.Second
)

// RoundRecord is the append-only audit line of a finished round: the
// revealed seed, the crash point and every settled session, enough for any
// party to re-verify fairness and resolve disputes.
type RoundRecord struct {
	RoundID    string
	SeedHash   string
	ServerSeed string
	CrashPoint float64
	StartedAt  time.Time
	CrashedAt  time.Time
	Bets       []SettledBet
}

type RoundArchiver interface {
	ArchiveRound(ctx context.Context, rec RoundRecord) error
}

// Coordinator owns the round cycle. Exactly one goroutine (the one running
// Run) writes phase, round ID and crash point; bet, cancel and cash-out
// requests are serialized into that goroutine through channels, so phase
// checks and their effects are atomic with respect to transitions. Everything
// other components see are immutable snapshots.
type Coordinator struct {
	cfg      config.GameConfig
	fairness FairnessConfig

	hub     *Hub
	bridge  *ledger.Bridge
	archive RoundArchiver
	persist *roundPersister

	mu      sync.RWMutex
	current *Round

	book      *sessionBook
	betCh     chan PlaceBetRequest
	cancelCh  chan CancelBetRequest
	cashoutCh chan CashOutRequest
	stopCh    chan struct{}
	doneCh    chan struct{}
}

func NewCoordinator(cfg config.GameConfig, hub *Hub, bridge *ledger.Bridge, archive RoundArchiver, rdb *redis.Client) *Coordinator {
	return &Coordinator{
		cfg: cfg,
		fairness: FairnessConfig{
			HouseEdge:     cfg.HouseEdge,
			MaxMultiplier: cfg.MaxMultiplier,
		},
		hub:       hub,
		bridge:    bridge,
		archive:   archive,
		persist:   newRoundPersister(rdb),
		book:      newSessionBook(),
		betCh:     make(chan PlaceBetRequest, 1024),
		cancelCh:  make(chan CancelBetRequest, 256),
		cashoutCh: make(chan CashOutRequest, 1024),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

func (c *Coordinator) Start() {
	go c.Run()
}

func (c *Coordinator) Stop() {
	close(c.stopCh)
	<-c.doneCh
}

// Fairness exposes the deployment's sampling parameters for the public
// verification endpoint.
func (c *Coordinator) Fairness() FairnessConfig {
	return c.fairness
}

// CurrentSnapshot returns the client-visible view of the current round, or
// nil before the first round opens.
func (c *Coordinator) CurrentSnapshot() *Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.current == nil {
		return nil
	}
	s := c.current.Snapshot()
	return &s
}

// CrashHistory returns the last n crash points, newest first.
func (c *Coordinator) CrashHistory(ctx context.Context, n int) ([]float64, error) {
	if n <= 0 || n > c.cfg.HistorySize {
		n = c.cfg.HistorySize
	}
	return c.persist.history(ctx, n)
}

// PlaceBet submits a bet request to the round goroutine and waits for its
// verdict.
func (c *Coordinator) PlaceBet(req PlaceBetRequest) PlaceBetResponse {
	respChan := make(chan PlaceBetResponse, 1)
	req.ResponseChan = respChan

	select {
	case c.betCh <- req:
		select {
		case resp := <-respChan:
			return resp
		case <-time.After(requestTimeout):
			return PlaceBetResponse{Reason: "request_timeout"}
		}
	default:
		return PlaceBetResponse{Reason: "queue_full"}
	}
}

func (c *Coordinator) CancelBet(req CancelBetRequest) CancelBetResponse {
	respChan := make(chan CancelBetResponse, 1)
	req.ResponseChan = respChan

	select {
	case c.cancelCh <- req:
		select {
		case resp := <-respChan:
			return resp
		case <-time.After(requestTimeout):
			return CancelBetResponse{Reason: "request_timeout"}
		}
	default:
		return CancelBetResponse{Reason: "queue_full"}
	}
}

func (c *Coordinator) CashOut(req CashOutRequest) CashOutResponse {
	respChan := make(chan CashOutResponse, 1)
	req.ResponseChan = respChan

	select {
	case c.cashoutCh <- req:
		select {
		case resp := <-respChan:
			return resp
		case <-time.After(requestTimeout):
			return CashOutResponse{Reason: "request_timeout"}
		}
	default:
		return CashOutResponse{Reason: "queue_full"}
	}
}

// Run drives the round cycle until Stop. Blocking; Start wraps it.
func (c *Coordinator) Run() {
	defer close(c.doneCh)

	if round, resumed := c.recoverInterrupted(); resumed {
		log.Info().Str("round_id", round.ID).Float64("crash_point", round.CrashPoint).
			Msg("resuming interrupted round")
		if !c.runInProgress(round) {
			return
		}
		c.finishRound(round)
		if !c.waitPhase(c.cfg.CrashedDuration) {
			return
		}
	}

	for {
		select {
		case <-c.stopCh:
			return
		default:
		}
		if !c.runRound() {
			return
		}
	}
}

// runRound executes one full cycle waiting -> betting -> in_progress ->
// crashed. Returns false when stopped.
func (c *Coordinator) runRound() bool {
	round, err := c.openRound()
	if err != nil {
		// Failed closed: no seed, no round. Surface the delay, idle, retry.
		log.Error().Err(err).Msg("round creation failed")
		c.hub.Broadcast("round_delayed", nil)
		return c.waitPhase(c.cfg.WaitingDuration)
	}

	if !c.waitPhase(c.cfg.WaitingDuration) {
		return false
	}

	c.setPhase(round, PhaseBetting)
	log.Info().Str("round_id", round.ID).Str("seed_hash", round.SeedHash[:16]).
		Msg("betting open")
	if !c.waitPhase(c.cfg.BettingDuration) {
		return false
	}

	// The set of placed sessions is frozen from here: the book only shrinks.
	c.setPhase(round, PhaseInProgress)
	log.Info().Str("round_id", round.ID).Int("bets", len(c.book.placed())).
		Msg("round running")
	if !c.runInProgress(round) {
		return false
	}

	c.finishRound(round)
	return c.waitPhase(c.cfg.CrashedDuration)
}

// openRound allocates the next round: a fresh ULID, a secret seed and the
// crash point fixed for the round's whole lifetime. The seed hash is public
// from the first snapshot; seed and crash point stay hidden until the crash.
func (c *Coordinator) openRound() (*Round, error) {
	seed, err := GenerateServerSeed()
	if err != nil {
		return nil, err
	}

	round := &Round{
		ID:             NewRoundID(),
		Phase:          PhaseWaiting,
		PhaseStartedAt: time.Now(),
		ServerSeed:     seed,
		SeedHash:       SeedHash(seed),
	}
	round.CrashPoint = CrashPointFromSeed(seed, round.ID, c.fairness)

	c.mu.Lock()
	c.current = round
	c.mu.Unlock()
	c.book.reset()

	c.persistState(round)
	c.hub.Broadcast("phase_change", round.Snapshot())
	return round, nil
}

func (c *Coordinator) setPhase(round *Round, phase Phase) {
	c.mu.Lock()
	round.Phase = phase
	round.PhaseStartedAt = time.Now()
	c.mu.Unlock()

	c.persistState(round)
	c.hub.Broadcast("phase_change", round.Snapshot())
}

// waitPhase idles for d while still servicing requests, which the handlers
// reject or accept against the current phase. Returns false when stopped.
func (c *Coordinator) waitPhase(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	for {
		select {
		case <-timer.C:
			return true
		case req := <-c.betCh:
			c.handlePlaceBet(req)
		case req := <-c.cancelCh:
			c.handleCancelBet(req)
		case req := <-c.cashoutCh:
			c.handleCashOut(req)
		case <-c.stopCh:
			return false
		}
	}
}

// runInProgress ticks the round until the growth curve reaches the crash
// point. The tick granularity never affects payouts: manual cash-outs use
// the server clock at request time, auto cash-outs settle at their target.
func (c *Coordinator) runInProgress(round *Round) bool {
	ticker := time.NewTicker(c.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			raw := MultiplierAfter(time.Since(round.PhaseStartedAt))
			c.settleAutoCashouts(round, raw)

			if raw >= round.CrashPoint {
				c.enterCrashed(round)
				return true
			}
			c.hub.Broadcast("tick", TickEvent{RoundID: round.ID, Multiplier: trunc2(raw)})

		case req := <-c.cashoutCh:
			c.handleCashOut(req)
		case req := <-c.betCh:
			c.handlePlaceBet(req)
		case req := <-c.cancelCh:
			c.handleCancelBet(req)
		case <-c.stopCh:
			return false
		}
	}
}

// enterCrashed is the atomic end of play: phase flips, every session still
// holding a stake is settled as lost, and the seed is revealed.
func (c *Coordinator) enterCrashed(round *Round) {
	c.mu.Lock()
	round.Phase = PhaseCrashed
	round.PhaseStartedAt = time.Now()
	c.mu.Unlock()

	now := time.Now()
	for _, s := range c.book.placed() {
		s.State = SessionLost
		s.SettledAt = now
		log.Info().Str("round_id", round.ID).Str("player_id", s.PlayerID).
			Int64("stake", s.Stake).Msg("bet lost")
	}

	c.persistState(round)
	c.hub.Broadcast("crash", CrashEvent{
		RoundID:    round.ID,
		CrashPoint: round.CrashPoint,
		ServerSeed: round.ServerSeed,
	})
	c.hub.Broadcast("phase_change", round.Snapshot())
	log.Info().Str("round_id", round.ID).Float64("crash_point", round.CrashPoint).
		Msg("round crashed")
}

// finishRound garbage-collects a crashed round into the append-only audit
// log and the rolling crash history.
func (c *Coordinator) finishRound(round *Round) {
	ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()

	rec := RoundRecord{
		RoundID:    round.ID,
		SeedHash:   round.SeedHash,
		ServerSeed: round.ServerSeed,
		CrashPoint: round.CrashPoint,
		StartedAt:  round.PhaseStartedAt.Add(-DurationToMultiplier(round.CrashPoint)),
		CrashedAt:  round.PhaseStartedAt,
		Bets:       c.book.records(),
	}
	if err := c.archive.ArchiveRound(ctx, rec); err != nil {
		log.Error().Err(err).Str("round_id", round.ID).Msg("round archive failed")
	}
	if err := c.persist.pushHistory(ctx, round.CrashPoint, c.cfg.HistorySize); err != nil {
		log.Error().Err(err).Str("round_id", round.ID).Msg("crash history push failed")
	}
}

// persistState writes the crash-safe copy of the round and its sessions so
// a restart can resolve the round against the already-fixed crash point.
func (c *Coordinator) persistState(round *Round) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.persist.save(ctx, round, c.book.all()); err != nil {
		log.Error().Err(err).Str("round_id", round.ID).Msg("round persist failed")
	}
}

func trunc2(m float64) float64 {
	return float64(int64(m*100)) / 100
}
