// Package game implements the rules of a round as a pure state machine.
//
// A round starts Playing with a full countdown. Ticks relocate the target, taps
// score and relocate it, and the countdown ends the round. The State value is
// never mutated: every transition returns a new one together with the side
// effects the caller has to run.
package game

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/shopspring/decimal"

	"github.com/victornm/reflex/internal/domain"
)

const (
	DefaultDuration = 30
	DefaultDiameter = 100
)

var ErrViewportTooSmall = errors.New("game: viewport too small for target")

type Event int

const (
	// EventTick relocates the target.
	EventTick Event = iota + 1
	// EventTap is a hit on the target.
	EventTap
	// EventCountdown takes one second off the countdown.
	EventCountdown
	// EventRestart starts a new round after game over.
	EventRestart
)

func (e Event) String() string {
	switch e {
	case EventTick:
		return "tick"
	case EventTap:
		return "tap"
	case EventCountdown:
		return "countdown"
	case EventRestart:
		return "restart"
	default:
		return fmt.Sprintf("event(%d)", int(e))
	}
}

type Effect interface {
	effect()
}

// SaveScore asks for the final score of the round to be persisted.
type SaveScore struct {
	Score int
}

// FetchLeaderboard asks for the leaderboard to be refreshed.
type FetchLeaderboard struct{}

func (SaveScore) effect()        {}
func (FetchLeaderboard) effect() {}

// State is a snapshot of one round.
type State struct {
	Score    int
	TimeLeft int
	Over     bool
	Target   domain.Target
}

// Rand is the random source used to place the target.
type Rand interface {
	// IntN returns a uniform value in [0, n).
	IntN(n int) int
}

type Rules struct {
	// Duration of a round in countdown steps (seconds).
	Duration int
	// Diameter of the target.
	Diameter int
}

// Machine applies events to State values for one viewport.
type Machine struct {
	rules    Rules
	viewport domain.Viewport
	rand     Rand
}

// NewMachine creates a machine for the viewport. A nil Rand uses math/rand/v2.
func NewMachine(rules Rules, vp domain.Viewport, r Rand) (*Machine, error) {
	if rules.Duration <= 0 {
		rules.Duration = DefaultDuration
	}
	if rules.Diameter <= 0 {
		rules.Diameter = DefaultDiameter
	}

	if vp.Width <= rules.Diameter || vp.Height <= rules.Diameter {
		return nil, fmt.Errorf("%w: viewport=%dx%d diameter=%d", ErrViewportTooSmall, vp.Width, vp.Height, rules.Diameter)
	}

	if r == nil {
		r = globalRand{}
	}

	return &Machine{
		rules:    rules,
		viewport: vp,
		rand:     r,
	}, nil
}

func (m *Machine) Rules() Rules { return m.rules }

func (m *Machine) Viewport() domain.Viewport { return m.viewport }

// Start returns the initial state of a round.
func (m *Machine) Start() State {
	return State{
		Score:    0,
		TimeLeft: m.rules.Duration,
		Over:     false,
		Target:   m.place(),
	}
}

// Apply applies e to s. It reports false, with s unchanged, when e is not valid in the current state.
func (m *Machine) Apply(s State, e Event) (State, []Effect, bool) {
	switch e {
	case EventTick:
		if s.Over {
			return s, nil, false
		}
		s.Target = m.place()
		return s, nil, true

	case EventTap:
		if s.Over {
			return s, nil, false
		}
		s.Score++
		s.Target = m.place()
		return s, nil, true

	case EventCountdown:
		if s.Over || s.TimeLeft <= 0 {
			return s, nil, false
		}
		s.TimeLeft--
		if s.TimeLeft > 0 {
			return s, nil, true
		}
		s.Over = true
		return s, []Effect{SaveScore{Score: s.Score}, FetchLeaderboard{}}, true

	case EventRestart:
		if !s.Over {
			return s, nil, false
		}
		return m.Start(), nil, true
	}

	return s, nil, false
}

// InBounds reports whether t lies within the placement area.
func (m *Machine) InBounds(t domain.Target) bool {
	return t.X >= 0 && t.X < m.viewport.Width-m.rules.Diameter &&
		t.Y >= 0 && t.Y < m.viewport.Height-m.rules.Diameter
}

// HitRate returns the hits per second of s over a full round.
func (m *Machine) HitRate(s State) decimal.Decimal {
	return decimal.NewFromInt(int64(s.Score)).DivRound(decimal.NewFromInt(int64(m.rules.Duration)), 2)
}

func (m *Machine) place() domain.Target {
	return domain.Target{
		X: m.rand.IntN(m.viewport.Width - m.rules.Diameter),
		Y: m.rand.IntN(m.viewport.Height - m.rules.Diameter),
	}
}

type globalRand struct{}

func (globalRand) IntN(n int) int { return rand.IntN(n) }
