package session

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/victornm/reflex/internal/domain"
	"github.com/victornm/reflex/internal/errors"
	"github.com/victornm/reflex/internal/event"
	"github.com/victornm/reflex/internal/game"
	"github.com/victornm/reflex/internal/telemetry"
)

const (
	defaultInterval     = time.Second
	defaultIdleTimeout  = 5 * time.Minute
	defaultReapInterval = time.Minute
)

// Scores persists the final score of a round.
type Scores interface {
	SaveScore(ctx context.Context, score int) (*domain.ScoreRecord, error)
}

// Leaderboard reads the best historical scores.
type Leaderboard interface {
	GetLeaderboard(ctx context.Context) (*domain.Leaderboard, error)
}

type Config struct {
	EventBus    *event.Bus
	Score       Scores
	Leaderboard Leaderboard

	Rules game.Rules
	// RelocateInterval is the period of target relocation while playing.
	RelocateInterval time.Duration
	// CountdownInterval is the duration of one countdown step.
	CountdownInterval time.Duration
	// TaskTimeout bounds the game over store calls, zero means no timeout.
	TaskTimeout time.Duration
	// Sessions without tap or restart for IdleTimeout are ended. Negative disables reaping.
	IdleTimeout  time.Duration
	ReapInterval time.Duration

	NewRandFunc   func() game.Rand
	NewTickerFunc func(d time.Duration) Ticker
	NewTimerFunc  func(d time.Duration) Timer
	Now           func() time.Time
}

type Service struct {
	c Config

	mu       sync.RWMutex
	sessions map[string]*Session

	quit chan struct{}
	wg   sync.WaitGroup
}

func NewService(c Config) *Service {
	if c.RelocateInterval <= 0 {
		c.RelocateInterval = defaultInterval
	}
	if c.CountdownInterval <= 0 {
		c.CountdownInterval = defaultInterval
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = defaultIdleTimeout
	}
	if c.ReapInterval <= 0 {
		c.ReapInterval = defaultReapInterval
	}
	if c.NewRandFunc == nil {
		c.NewRandFunc = func() game.Rand { return nil }
	}
	if c.NewTickerFunc == nil {
		c.NewTickerFunc = newTimeTicker
	}
	if c.NewTimerFunc == nil {
		c.NewTimerFunc = newTimeTimer
	}
	if c.Now == nil {
		c.Now = time.Now
	}

	s := &Service{
		c:        c,
		sessions: make(map[string]*Session),
		quit:     make(chan struct{}),
	}

	if c.IdleTimeout > 0 {
		s.wg.Add(1)
		go s.reap()
	}

	return s
}

// CreateSessionRequest represents a request to start a new game.
type CreateSessionRequest struct {
	// Viewport is the play area of the device, measured once by the client.
	Viewport domain.Viewport
}

// CreateSession starts a new session and its first round.
func (s *Service) CreateSession(ctx context.Context, req CreateSessionRequest) (*domain.Snapshot, error) {
	m, err := game.NewMachine(s.c.Rules, req.Viewport, s.c.NewRandFunc())
	if err != nil {
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("invalid viewport %dx%d", req.Viewport.Width, req.Viewport.Height),
			errors.WithCause(err),
		)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate session ID: %w", err)
	}

	ss := newSession(sessionConfig{
		id:                id.String(),
		machine:           m,
		eventBus:          s.c.EventBus,
		score:             s.c.Score,
		leaderboard:       s.c.Leaderboard,
		relocateInterval:  s.c.RelocateInterval,
		countdownInterval: s.c.CountdownInterval,
		taskTimeout:       s.c.TaskTimeout,
		newTicker:         s.c.NewTickerFunc,
		newTimer:          s.c.NewTimerFunc,
		now:               s.c.Now,
	})

	s.mu.Lock()
	s.sessions[ss.ID()] = ss
	s.mu.Unlock()
	telemetry.SessionsActive.Inc()

	slog.InfoContext(ctx, "session: created",
		"session", ss.ID(),
		"width", req.Viewport.Width,
		"height", req.Viewport.Height,
	)

	snap, err := ss.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	return &snap, nil
}

type GetSessionRequest struct {
	SessionID string
}

func (s *Service) GetSession(ctx context.Context, req GetSessionRequest) (*domain.Snapshot, error) {
	ss, err := s.lookup(req.SessionID)
	if err != nil {
		return nil, err
	}

	snap, err := ss.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	return &snap, nil
}

type TapRequest struct {
	SessionID string
}

// Tap registers a hit on the target of a session.
func (s *Service) Tap(ctx context.Context, req TapRequest) (*domain.Snapshot, error) {
	ss, err := s.lookup(req.SessionID)
	if err != nil {
		return nil, err
	}

	snap, err := ss.Tap(ctx)
	if err != nil {
		return nil, err
	}

	return &snap, nil
}

type RestartRequest struct {
	SessionID string
}

// Restart starts a new round of a session whose round is over.
func (s *Service) Restart(ctx context.Context, req RestartRequest) (*domain.Snapshot, error) {
	ss, err := s.lookup(req.SessionID)
	if err != nil {
		return nil, err
	}

	snap, err := ss.Restart(ctx)
	if err != nil {
		return nil, err
	}

	return &snap, nil
}

type EndSessionRequest struct {
	SessionID string
}

// EndSession tears a session down. Its timers are cancelled and pending store results are discarded.
func (s *Service) EndSession(ctx context.Context, req EndSessionRequest) error {
	s.mu.Lock()
	ss, ok := s.sessions[req.SessionID]
	delete(s.sessions, req.SessionID)
	s.mu.Unlock()

	if !ok {
		return errNotFound(req.SessionID)
	}

	ss.Close()
	telemetry.SessionsActive.Dec()

	slog.InfoContext(ctx, "session: ended", "session", req.SessionID)
	return nil
}

// Stop ends every session and waits for their game over tasks until ctx is done.
func (s *Service) Stop(ctx context.Context) error {
	close(s.quit)
	s.wg.Wait()

	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[string]*Session)
	s.mu.Unlock()

	var errs []error
	for _, ss := range sessions {
		ss.Close()
		telemetry.SessionsActive.Dec()
		if err := ss.wait(ctx); err != nil {
			errs = append(errs, fmt.Errorf("session %s: %w", ss.ID(), err))
		}
	}

	return stderrors.Join(errs...)
}

func (s *Service) lookup(id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ss, ok := s.sessions[id]
	if !ok {
		return nil, errNotFound(id)
	}

	return ss, nil
}

func (s *Service) reap() {
	defer s.wg.Done()

	t := time.NewTicker(s.c.ReapInterval)
	defer t.Stop()

	for {
		select {
		case <-s.quit:
			return
		case <-t.C:
			s.reapIdle(s.c.Now().Add(-s.c.IdleTimeout))
		}
	}
}

func (s *Service) reapIdle(before time.Time) {
	s.mu.RLock()
	var idle []string
	for id, ss := range s.sessions {
		if ss.idleSince().Before(before) {
			idle = append(idle, id)
		}
	}
	s.mu.RUnlock()

	for _, id := range idle {
		ctx := context.Background()
		if err := s.EndSession(ctx, EndSessionRequest{SessionID: id}); err != nil {
			// Ended concurrently by its client.
			if !errors.Is(err, errors.CodeNotFound) {
				slog.ErrorContext(ctx, "session: reap idle session failed", "session", id, "error", err)
			}
			continue
		}
		slog.InfoContext(ctx, "session: reaped idle session", "session", id)
	}
}

func errNotFound(id string) error {
	return errors.New(errors.CodeNotFound, errors.WithMessagef("session not found: session=%s", id))
}
