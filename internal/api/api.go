package api

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"

	"github.com/victornm/reflex/internal/domain"
	"github.com/victornm/reflex/internal/event"
	"github.com/victornm/reflex/internal/leaderboard"
	"github.com/victornm/reflex/internal/session"
)

type Config struct {
	GRPC         *grpc.Server
	HTTP         gin.IRouter
	EventBus     *event.Bus
	Session      *session.Service
	Leaderboard  *leaderboard.Service
	Redis        Redis
	PubsubPrefix string
}

type Redis interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

type API struct {
	ss *session.Service
	ls *leaderboard.Service

	redis  Redis
	prefix string
}

func New(c Config) *API {
	a := &API{
		ss:     c.Session,
		ls:     c.Leaderboard,
		redis:  c.Redis,
		prefix: c.PubsubPrefix,
	}

	if c.GRPC != nil {
		c.GRPC.RegisterService(&gameServiceDesc, a)
	}

	if c.HTTP != nil {
		a.registerHTTP(c.HTTP)
	}

	// Register event handlers
	if a.redis != nil {
		c.EventBus.Subscribe(domain.EventNameSessionUpdated, func(ctx context.Context, e event.Event) error {
			return a.PublishSessionUpdated(ctx, e.(domain.EventSessionUpdated))
		})
		c.EventBus.Subscribe(domain.EventNameLeaderboardUpdated, func(ctx context.Context, e event.Event) error {
			return a.PublishLeaderboardUpdated(ctx, e.(domain.EventLeaderboardUpdated))
		})
	}

	return a
}

type (
	CreateSessionRequest struct {
		Width  int `json:"width" binding:"required,gt=0"`
		Height int `json:"height" binding:"required,gt=0"`
	}

	Session struct {
		SessionID   string      `json:"session_id"`
		Score       int         `json:"score"`
		TimeLeft    int         `json:"time_left"`
		Over        bool        `json:"over"`
		Target      *Target     `json:"target,omitempty"`
		Diameter    int         `json:"diameter"`
		Viewport    Viewport    `json:"viewport"`
		HitRate     string      `json:"hit_rate,omitempty"`
		Leaderboard Leaderboard `json:"leaderboard"`
	}

	Target struct {
		X int `json:"x"`
		Y int `json:"y"`
	}

	Viewport struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	}

	Leaderboard struct {
		Entries []LeaderboardEntry `json:"entries"`
	}

	LeaderboardEntry struct {
		Score     int       `json:"score"`
		Timestamp time.Time `json:"timestamp"`
	}
)

func toSession(s domain.Snapshot) Session {
	out := Session{
		SessionID: s.SessionID,
		Score:     s.Score,
		TimeLeft:  s.TimeLeft,
		Over:      s.Over,
		Diameter:  s.Diameter,
		Viewport: Viewport{
			Width:  s.Viewport.Width,
			Height: s.Viewport.Height,
		},
		HitRate:     s.HitRate,
		Leaderboard: toLeaderboard(s.Leaderboard),
	}

	if s.Target != nil {
		out.Target = &Target{X: s.Target.X, Y: s.Target.Y}
	}

	return out
}

func toLeaderboard(l domain.Leaderboard) Leaderboard {
	out := Leaderboard{
		Entries: make([]LeaderboardEntry, 0, len(l.Entries)),
	}

	for _, e := range l.Entries {
		out.Entries = append(out.Entries, LeaderboardEntry{
			Score:     e.Score,
			Timestamp: e.Timestamp,
		})
	}

	return out
}
