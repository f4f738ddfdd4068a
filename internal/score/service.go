package score

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/victornm/reflex/internal/domain"
	"github.com/victornm/reflex/internal/event"
	"github.com/victornm/reflex/internal/telemetry"
)

// Store is the remote datastore holding score records. Records are append-only.
type Store interface {
	AddScore(ctx context.Context, r domain.ScoreRecord) error
	// TopScores returns at most n records ordered by score descending.
	TopScores(ctx context.Context, n int) ([]domain.ScoreRecord, error)
}

type Config struct {
	EventBus *event.Bus
	Store    Store
	Now      func() time.Time
}

type Service struct {
	eb    *event.Bus
	store Store
	now   func() time.Time
}

func NewService(c Config) *Service {
	s := &Service{
		eb:    c.EventBus,
		store: c.Store,
		now:   c.Now,
	}

	if s.now == nil {
		s.now = time.Now
	}

	return s
}

// SaveScore appends a record with the final score of a session, stamped with the submission time.
func (s *Service) SaveScore(ctx context.Context, score int) (*domain.ScoreRecord, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate score ID: %w", err)
	}

	r := domain.ScoreRecord{
		ID:        id.String(),
		Score:     score,
		Timestamp: s.now().UTC().Truncate(time.Millisecond),
	}

	if err := s.store.AddScore(ctx, r); err != nil {
		telemetry.ScoreWrites.WithLabelValues(telemetry.ResultError).Inc()
		return nil, fmt.Errorf("add score: %w", err)
	}
	telemetry.ScoreWrites.WithLabelValues(telemetry.ResultOK).Inc()

	s.eb.Publish(ctx, domain.EventScoreSaved{
		Record: r,
	})

	return &r, nil
}

// TopScores returns the n best records, highest score first.
func (s *Service) TopScores(ctx context.Context, n int) ([]domain.ScoreRecord, error) {
	rs, err := s.store.TopScores(ctx, n)
	if err != nil {
		telemetry.ScoreReads.WithLabelValues(telemetry.ResultError).Inc()
		return nil, fmt.Errorf("top scores: %w", err)
	}
	telemetry.ScoreReads.WithLabelValues(telemetry.ResultOK).Inc()

	return rs, nil
}
