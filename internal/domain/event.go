package domain

const (
	EventNameSessionUpdated     = "session.updated"
	EventNameSessionEnded       = "session.ended"
	EventNameScoreSaved         = "score.saved"
	EventNameLeaderboardUpdated = "leaderboard.updated"
)

// EventSessionUpdated is published after every accepted transition of a session.
type EventSessionUpdated struct {
	Snapshot Snapshot
}

func (EventSessionUpdated) Name() string { return EventNameSessionUpdated }

// EventSessionEnded is published once per round, when the countdown reaches zero.
type EventSessionEnded struct {
	Snapshot Snapshot
}

func (EventSessionEnded) Name() string { return EventNameSessionEnded }

type EventScoreSaved struct {
	Record ScoreRecord
}

func (EventScoreSaved) Name() string { return EventNameScoreSaved }

type EventLeaderboardUpdated struct {
	Leaderboard Leaderboard
}

func (EventLeaderboardUpdated) Name() string { return EventNameLeaderboardUpdated }
