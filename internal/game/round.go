package game

import (
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Phase is the coordinator's position in the fixed round cycle
// waiting -> betting -> in_progress -> crashed -> waiting.
type Phase string

const (
	PhaseWaiting    Phase = "waiting"
	PhaseBetting    Phase = "betting"
	PhaseInProgress Phase = "in_progress"
	PhaseCrashed    Phase = "crashed"
)

// Round is the coordinator-owned record of one cycle. CrashPoint and
// ServerSeed are fixed at creation and never recomputed; they stay hidden
// from clients until the round crashes.
type Round struct {
	ID             string
	Phase          Phase
	PhaseStartedAt time.Time
	CrashPoint     float64
	ServerSeed     string
	SeedHash       string
}

// Snapshot is the client-visible view of a round. Clients derive the live
// multiplier locally from PhaseStartedAt using the shared growth curve; the
// seed and crash point appear only once the phase is crashed.
type Snapshot struct {
	RoundID        string    `json:"round_id"`
	Phase          Phase     `json:"phase"`
	PhaseStartedAt time.Time `json:"phase_started_at"`
	SeedHash       string    `json:"seed_hash"`
	ServerSeed     string    `json:"server_seed,omitempty"`
	CrashPoint     float64   `json:"crash_point,omitempty"`
}

func (r *Round) Snapshot() Snapshot {
	s := Snapshot{
		RoundID:        r.ID,
		Phase:          r.Phase,
		PhaseStartedAt: r.PhaseStartedAt,
		SeedHash:       r.SeedHash,
	}
	if r.Phase == PhaseCrashed {
		s.ServerSeed = r.ServerSeed
		s.CrashPoint = r.CrashPoint
	}
	return s
}

// Multiplier returns the live multiplier at now. Only meaningful while the
// round is in progress; it is computed, never stored.
func (r *Round) Multiplier(now time.Time) float64 {
	if r.Phase != PhaseInProgress {
		return MinMultiplier
	}
	m := MultiplierAfter(now.Sub(r.PhaseStartedAt))
	if m > r.CrashPoint {
		return r.CrashPoint
	}
	return m
}

var (
	ulidEntropy   = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
	ulidEntropyMu sync.Mutex
)

// NewRoundID returns a ULID: unique, and monotonically orderable so round
// IDs sort by creation time.
func NewRoundID() string {
	ulidEntropyMu.Lock()
	defer ulidEntropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulidEntropy).String()
}
