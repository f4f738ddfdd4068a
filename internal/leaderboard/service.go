package leaderboard

import (
	"context"
	"fmt"
	"sort"

	"github.com/victornm/reflex/internal/domain"
	"github.com/victornm/reflex/internal/event"
)

// Size is the number of records shown on the leaderboard.
const Size = 5

type Scores interface {
	TopScores(ctx context.Context, n int) ([]domain.ScoreRecord, error)
}

type Config struct {
	EventBus *event.Bus
	Score    Scores
}

type Service struct {
	eb    *event.Bus
	score Scores
}

func NewService(c Config) *Service {
	return &Service{
		eb:    c.EventBus,
		score: c.Score,
	}
}

// GetLeaderboard returns the best Size records, sorted by score in descending order.
func (s *Service) GetLeaderboard(ctx context.Context) (*domain.Leaderboard, error) {
	rs, err := s.score.TopScores(ctx, Size)
	if err != nil {
		return nil, fmt.Errorf("get leaderboard: %w", err)
	}

	// Stores already order by score, keep their tie order.
	sort.SliceStable(rs, func(i, j int) bool {
		return rs[i].Score > rs[j].Score
	})
	if len(rs) > Size {
		rs = rs[:Size]
	}

	l := &domain.Leaderboard{
		Entries: rs,
	}

	s.eb.Publish(ctx, domain.EventLeaderboardUpdated{
		Leaderboard: *l,
	})

	return l, nil
}
