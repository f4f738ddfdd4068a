package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/victornm/reflex/internal/domain"
)

type Notification struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// PublishSessionUpdated pushes the new snapshot of a session to its own channel.
func (a *API) PublishSessionUpdated(ctx context.Context, e domain.EventSessionUpdated) error {
	return a.publishNotification(ctx, SessionChannel(a.prefix, e.Snapshot.SessionID), e.Name(), toSession(e.Snapshot))
}

// PublishLeaderboardUpdated pushes every freshly read leaderboard to the shared leaderboard channel.
func (a *API) PublishLeaderboardUpdated(ctx context.Context, e domain.EventLeaderboardUpdated) error {
	return a.publishNotification(ctx, LeaderboardChannel(a.prefix), e.Name(), toLeaderboard(e.Leaderboard))
}

func (a *API) publishNotification(ctx context.Context, channel, event string, data any) error {
	n := Notification{
		Event: event,
		Data:  data,
	}

	b, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("pubsub: marshal %s: %v", event, err)
	}

	return a.redis.Publish(ctx, channel, b).Err()
}

func SessionChannel(prefix, session string) string {
	return fmt.Sprintf("%s:session:%s", prefix, session)
}

func LeaderboardChannel(prefix string) string {
	return fmt.Sprintf("%s:leaderboard", prefix)
}
