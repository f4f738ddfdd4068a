package session

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/victornm/reflex/internal/domain"
	"github.com/victornm/reflex/internal/errors"
	"github.com/victornm/reflex/internal/event"
	"github.com/victornm/reflex/internal/game"
	"github.com/victornm/reflex/internal/telemetry"
)

type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type Timer interface {
	C() <-chan time.Time
	Stop() bool
}

type commandKind int

const (
	commandSnapshot commandKind = iota
	commandTap
	commandRestart
)

type command struct {
	kind  commandKind
	reply chan result
}

type result struct {
	snapshot domain.Snapshot
	err      error
}

type sessionConfig struct {
	id                string
	machine           *game.Machine
	eventBus          *event.Bus
	score             Scores
	leaderboard       Leaderboard
	relocateInterval  time.Duration
	countdownInterval time.Duration
	taskTimeout       time.Duration
	newTicker         func(d time.Duration) Ticker
	newTimer          func(d time.Duration) Timer
	now               func() time.Time
}

// Session runs one game on its own goroutine. All game state is owned by that goroutine;
// clients reach it through the inbox and timer or task results are delivered as channel receives.
type Session struct {
	c sessionConfig

	inbox   chan command
	results chan domain.Leaderboard
	quit    chan struct{}
	done    chan struct{}
	stop    sync.Once
	tasks   sync.WaitGroup

	lastActive atomic.Int64

	// Owned by run.
	state     game.State
	board     domain.Leaderboard
	relocate  Ticker
	countdown Timer
}

func newSession(c sessionConfig) *Session {
	s := &Session{
		c:       c,
		inbox:   make(chan command),
		results: make(chan domain.Leaderboard),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		board:   domain.Leaderboard{Entries: []domain.ScoreRecord{}},
	}
	s.touch()

	go s.run()

	return s
}

func (s *Session) ID() string { return s.c.id }

// Snapshot returns the current view of the session.
func (s *Session) Snapshot(ctx context.Context) (domain.Snapshot, error) {
	return s.do(ctx, commandSnapshot)
}

// Tap registers a hit on the target. It fails with FailedPrecondition once the round is over.
func (s *Session) Tap(ctx context.Context) (domain.Snapshot, error) {
	return s.do(ctx, commandTap)
}

// Restart starts a new round. It fails with FailedPrecondition while a round is being played.
func (s *Session) Restart(ctx context.Context) (domain.Snapshot, error) {
	return s.do(ctx, commandRestart)
}

// Close stops the session timers and waits for the loop to exit.
// Results of game over tasks still in flight are discarded.
func (s *Session) Close() {
	s.stop.Do(func() { close(s.quit) })
	<-s.done
}

// wait blocks until in-flight game over tasks are finished or ctx is done.
func (s *Session) wait(ctx context.Context) error {
	finished := make(chan struct{})
	go func() {
		s.tasks.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) idleSince() time.Time {
	return time.Unix(0, s.lastActive.Load())
}

func (s *Session) touch() {
	s.lastActive.Store(s.c.now().UnixNano())
}

func (s *Session) do(ctx context.Context, kind commandKind) (domain.Snapshot, error) {
	if kind != commandSnapshot {
		s.touch()
	}

	cmd := command{kind: kind, reply: make(chan result, 1)}

	select {
	case s.inbox <- cmd:
	case <-s.done:
		return domain.Snapshot{}, s.errClosed()
	case <-ctx.Done():
		return domain.Snapshot{}, ctx.Err()
	}

	select {
	case r := <-cmd.reply:
		return r.snapshot, r.err
	case <-s.done:
		return domain.Snapshot{}, s.errClosed()
	case <-ctx.Done():
		return domain.Snapshot{}, ctx.Err()
	}
}

func (s *Session) errClosed() error {
	return errors.New(errors.CodeNotFound, errors.WithMessagef("session ended: session=%s", s.c.id))
}

func (s *Session) run() {
	defer close(s.done)
	defer s.stopTimers()

	s.state = s.c.machine.Start()
	s.startTimers()
	s.roundStarted()

	for {
		select {
		case <-s.quit:
			return

		case <-tickerC(s.relocate):
			s.apply(game.EventTick)

		case <-timerC(s.countdown):
			s.apply(game.EventCountdown)

		case l := <-s.results:
			s.board = l
			s.publish(domain.EventSessionUpdated{Snapshot: s.snapshot()})

		case cmd := <-s.inbox:
			cmd.reply <- s.handle(cmd)
		}
	}
}

func (s *Session) handle(cmd command) result {
	switch cmd.kind {
	case commandTap:
		if !s.apply(game.EventTap) {
			return result{err: errors.New(errors.CodeFailedPrecondition,
				errors.WithMessagef("round is over: session=%s", s.c.id))}
		}
		telemetry.Taps.Inc()

	case commandRestart:
		if !s.apply(game.EventRestart) {
			return result{err: errors.New(errors.CodeFailedPrecondition,
				errors.WithMessagef("round is still running: session=%s", s.c.id))}
		}
	}

	return result{snapshot: s.snapshot()}
}

// apply runs e through the machine and keeps the timers in line with the new state.
func (s *Session) apply(e game.Event) bool {
	prev := s.state
	next, effects, ok := s.c.machine.Apply(prev, e)
	if !ok {
		return false
	}
	s.state = next

	switch {
	case !prev.Over && next.Over:
		s.stopTimers()
		s.roundEnded()
	case prev.Over && !next.Over:
		s.startTimers()
		s.roundStarted()
		return true
	case e == game.EventCountdown:
		s.countdown = s.c.newTimer(s.c.countdownInterval)
	}

	s.runEffects(effects)
	s.publish(domain.EventSessionUpdated{Snapshot: s.snapshot()})

	return true
}

func (s *Session) startTimers() {
	s.relocate = s.c.newTicker(s.c.relocateInterval)
	s.countdown = s.c.newTimer(s.c.countdownInterval)
}

func (s *Session) stopTimers() {
	if s.relocate != nil {
		s.relocate.Stop()
		s.relocate = nil
	}
	if s.countdown != nil {
		s.countdown.Stop()
		s.countdown = nil
	}
}

func (s *Session) roundStarted() {
	telemetry.Rounds.WithLabelValues("started").Inc()
	s.publish(domain.EventSessionUpdated{Snapshot: s.snapshot()})
}

func (s *Session) roundEnded() {
	telemetry.Rounds.WithLabelValues("ended").Inc()
	telemetry.FinalScores.Observe(float64(s.state.Score))
	s.publish(domain.EventSessionEnded{Snapshot: s.snapshot()})
}

// runEffects runs the effects of a transition as one background task: the score is written
// first so the leaderboard fetched after it can include it. A failed write is only logged.
func (s *Session) runEffects(effects []game.Effect) {
	if len(effects) == 0 {
		return
	}

	var (
		save  *game.SaveScore
		fetch bool
	)
	for _, e := range effects {
		switch e := e.(type) {
		case game.SaveScore:
			save = &e
		case game.FetchLeaderboard:
			fetch = true
		}
	}

	s.tasks.Add(1)
	go func() {
		defer s.tasks.Done()

		ctx, cancel := s.taskContext()
		defer cancel()

		if save != nil {
			if _, err := s.c.score.SaveScore(ctx, save.Score); err != nil {
				slog.ErrorContext(ctx, "session: save score failed",
					"session", s.c.id,
					"score", save.Score,
					"error", err,
				)
			}
		}

		if !fetch {
			return
		}

		l, err := s.c.leaderboard.GetLeaderboard(ctx)
		if err != nil {
			slog.ErrorContext(ctx, "session: fetch leaderboard failed, keeping previous one",
				"session", s.c.id,
				"error", err,
			)
			return
		}

		select {
		case s.results <- *l:
		case <-s.quit:
			slog.DebugContext(ctx, "session: discard leaderboard of ended session", "session", s.c.id)
		}
	}()
}

func (s *Session) taskContext() (context.Context, context.CancelFunc) {
	if s.c.taskTimeout <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), s.c.taskTimeout)
}

func (s *Session) snapshot() domain.Snapshot {
	snap := domain.Snapshot{
		SessionID:   s.c.id,
		Score:       s.state.Score,
		TimeLeft:    s.state.TimeLeft,
		Over:        s.state.Over,
		Diameter:    s.c.machine.Rules().Diameter,
		Viewport:    s.c.machine.Viewport(),
		Leaderboard: s.board,
	}

	if s.state.Over {
		snap.HitRate = s.c.machine.HitRate(s.state).String()
	} else {
		t := s.state.Target
		snap.Target = &t
	}

	return snap
}

func (s *Session) publish(e event.Event) {
	if s.c.eventBus == nil {
		return
	}
	s.c.eventBus.Publish(context.Background(), e)
}

func tickerC(t Ticker) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C()
}

func timerC(t Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C()
}

type timeTicker struct {
	t *time.Ticker
}

func newTimeTicker(d time.Duration) Ticker {
	return timeTicker{t: time.NewTicker(d)}
}

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }

type timeTimer struct {
	t *time.Timer
}

func newTimeTimer(d time.Duration) Timer {
	return timeTimer{t: time.NewTimer(d)}
}

func (t timeTimer) C() <-chan time.Time { return t.t.C }
func (t timeTimer) Stop() bool          { return t.t.Stop() }
