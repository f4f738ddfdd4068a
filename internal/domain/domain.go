package domain

import (
	"time"
)

// Viewport is the play area of the client device, captured once when a session is created.
type Viewport struct {
	Width  int
	Height int
}

// Target is the position of the tappable circle inside the viewport.
type Target struct {
	X int
	Y int
}

// ScoreRecord represents the final score of one completed session.
type ScoreRecord struct {
	ID        string
	Score     int
	Timestamp time.Time
}

// Leaderboard represents the best historical scores.
// The list is sorted by score in descending order.
type Leaderboard struct {
	Entries []ScoreRecord
}

// Snapshot is the view of a session a client renders.
type Snapshot struct {
	SessionID   string
	Score       int
	TimeLeft    int
	Over        bool
	Target      *Target
	Diameter    int
	Viewport    Viewport
	Leaderboard Leaderboard
	HitRate     string
}
