package score

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/victornm/reflex/internal/domain"
)

const (
	fieldScore     = "score"
	fieldTimestamp = "timestamp"
)

// RedisStore keeps every record in its own hash and indexes them by score in a sorted set.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewRedisStore(r redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{
		redis:  r,
		prefix: prefix,
	}
}

func (s *RedisStore) AddScore(ctx context.Context, r domain.ScoreRecord) error {
	_, err := s.redis.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, s.getRecordKey(r.ID),
			fieldScore, r.Score,
			fieldTimestamp, r.Timestamp.UnixMilli(),
		)
		p.ZAdd(ctx, s.getIndexKey(), redis.Z{
			Score:  float64(r.Score),
			Member: r.ID,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: add score: %w", err)
	}

	return nil
}

func (s *RedisStore) TopScores(ctx context.Context, n int) ([]domain.ScoreRecord, error) {
	if n <= 0 {
		return []domain.ScoreRecord{}, nil
	}

	ids, err := s.redis.ZRevRange(ctx, s.getIndexKey(), 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: read index: %w", err)
	}

	if len(ids) == 0 {
		return []domain.ScoreRecord{}, nil
	}

	cmds := make([]*redis.MapStringStringCmd, 0, len(ids))
	_, err = s.redis.Pipelined(ctx, func(p redis.Pipeliner) error {
		for _, id := range ids {
			cmds = append(cmds, p.HGetAll(ctx, s.getRecordKey(id)))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("redis: read records: %w", err)
	}

	rs := make([]domain.ScoreRecord, 0, len(ids))
	for i, cmd := range cmds {
		r, err := parseRecord(ids[i], cmd.Val())
		if err != nil {
			return nil, err
		}
		rs = append(rs, r)
	}

	return rs, nil
}

func parseRecord(id string, fields map[string]string) (domain.ScoreRecord, error) {
	if len(fields) == 0 {
		return domain.ScoreRecord{}, fmt.Errorf("redis: record %s not found", id)
	}

	score, err := strconv.Atoi(fields[fieldScore])
	if err != nil {
		return domain.ScoreRecord{}, fmt.Errorf("redis: record %s: parse score: %w", id, err)
	}

	ms, err := strconv.ParseInt(fields[fieldTimestamp], 10, 64)
	if err != nil {
		return domain.ScoreRecord{}, fmt.Errorf("redis: record %s: parse timestamp: %w", id, err)
	}

	return domain.ScoreRecord{
		ID:        id,
		Score:     score,
		Timestamp: time.UnixMilli(ms).UTC(),
	}, nil
}

// Keys share the {prefix} hash tag so the transaction stays in one cluster slot.
func (s *RedisStore) getIndexKey() string {
	return fmt.Sprintf("{%s}:scores", s.prefix)
}

func (s *RedisStore) getRecordKey(id string) string {
	return fmt.Sprintf("{%s}:score:%s", s.prefix, id)
}
