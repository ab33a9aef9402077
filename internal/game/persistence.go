package game

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

const (
	redisKeyCurrentRound = "jetlumiere:round:current"
	redisKeyCrashHistory = "jetlumiere:round:history"
)

// persistedRound is the crash-safe copy of the live round. It is written at
// every phase entry and bet placement so a restarted process can resolve the
// interrupted round against its already-fixed crash point.
type persistedRound struct {
	Round    Round        `json:"round"`
	Sessions []BetSession `json:"sessions"`
}

// roundPersister keeps the live round and the rolling crash history in
// Redis. It is called only from the coordinator goroutine.
type roundPersister struct {
	rdb *redis.Client
}

func newRoundPersister(rdb *redis.Client) *roundPersister {
	return &roundPersister{rdb: rdb}
}

func (p *roundPersister) save(ctx context.Context, round *Round, sessions []BetSession) error {
	data, err := json.Marshal(persistedRound{Round: *round, Sessions: sessions})
	if err != nil {
		return fmt.Errorf("marshal round: %w", err)
	}
	if err := p.rdb.Set(ctx, redisKeyCurrentRound, data, 0).Err(); err != nil {
		return fmt.Errorf("persist round: %w", err)
	}
	return nil
}

// load returns the persisted round, or nil when there is none.
func (p *roundPersister) load(ctx context.Context) (*persistedRound, error) {
	data, err := p.rdb.Get(ctx, redisKeyCurrentRound).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load round: %w", err)
	}
	var pr persistedRound
	if err := json.Unmarshal([]byte(data), &pr); err != nil {
		return nil, fmt.Errorf("decode round: %w", err)
	}
	return &pr, nil
}

func (p *roundPersister) clear(ctx context.Context) error {
	return p.rdb.Del(ctx, redisKeyCurrentRound).Err()
}

// pushHistory prepends a finished round's crash point to the rolling
// display history, trimmed to size.
func (p *roundPersister) pushHistory(ctx context.Context, crashPoint float64, size int) error {
	pipe := p.rdb.TxPipeline()
	pipe.LPush(ctx, redisKeyCrashHistory, strconv.FormatFloat(crashPoint, 'f', 2, 64))
	pipe.LTrim(ctx, redisKeyCrashHistory, 0, int64(size-1))
	_, err := pipe.Exec(ctx)
	return err
}

func (p *roundPersister) history(ctx context.Context, n int) ([]float64, error) {
	raw, err := p.rdb.LRange(ctx, redisKeyCrashHistory, 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	out := make([]float64, 0, len(raw))
	for _, s := range raw {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}
