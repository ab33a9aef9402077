package game

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

const MinMultiplier = 1.00

// FairnessConfig fixes the crash-point distribution for a deployment.
// The sampling formula below gives P(crash >= m) = (1-HouseEdge)/m, so the
// long-run expected payout of any cash-out strategy is exactly 1-HouseEdge.
type FairnessConfig struct {
	HouseEdge     float64
	MaxMultiplier float64
}

// GenerateServerSeed returns 32 bytes of CSPRNG entropy, hex encoded.
// If the entropy source fails the generator fails closed: no seed, no round.
func GenerateServerSeed() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("%w: %v", ErrEntropyUnavailable, err)
	}
	return hex.EncodeToString(b), nil
}

// SeedHash is the commitment published before the round starts.
func SeedHash(seed string) string {
	h := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(h[:])
}

// CrashPointFromSeed deterministically maps (serverSeed, roundID) to the
// round's crash point. The same inputs always reproduce the same value, which
// is what makes post-round verification possible.
func CrashPointFromSeed(serverSeed, roundID string, cfg FairnessConfig) float64 {
	mac := hmac.New(sha256.New, []byte(serverSeed))
	mac.Write([]byte(roundID))
	sum := mac.Sum(nil)

	// First 8 bytes as uniform r in [0,1).
	u := binary.BigEndian.Uint64(sum[:8])
	r := float64(u) / (1 << 64)

	if r == 0 {
		return cfg.MaxMultiplier
	}

	crash := (1 - cfg.HouseEdge) / r
	if crash < MinMultiplier {
		// The r > 1-HouseEdge mass is the instant-bust floor.
		return MinMultiplier
	}
	if crash > cfg.MaxMultiplier {
		return cfg.MaxMultiplier
	}

	// Truncate to 2 decimals so every observer renders the same value.
	return float64(int64(crash*100)) / 100
}

// VerifyRound lets any party check, after the seed reveal, that a round's
// crash point matched the pre-round commitment and was not chosen adaptively.
func VerifyRound(serverSeed, seedHash, roundID string, claimed float64, cfg FairnessConfig) bool {
	if SeedHash(serverSeed) != seedHash {
		return false
	}
	return CrashPointFromSeed(serverSeed, roundID, cfg) == claimed
}
