package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/victornm/reflex/internal/api"
	"github.com/victornm/reflex/internal/event"
	"github.com/victornm/reflex/internal/game"
	"github.com/victornm/reflex/internal/leaderboard"
	"github.com/victornm/reflex/internal/score"
	"github.com/victornm/reflex/internal/session"
	"github.com/victornm/reflex/internal/telemetry"
)

const (
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

type Config struct {
	HTTP struct {
		Port int32
	}

	GRPC struct {
		Port int32
	}

	Log struct {
		Level string
	}

	Game struct {
		Duration          int
		Diameter          int
		RelocateInterval  time.Duration
		CountdownInterval time.Duration
		TaskTimeout       time.Duration
		IdleTimeout       time.Duration
		ReapInterval      time.Duration
	}

	EventBus struct {
		PoolSize int
		Timeout  time.Duration
	}

	Store struct {
		// Driver of the score store, redis or postgres.
		Driver string
	}

	Redis struct {
		Score struct {
			Addrs  []string
			Pass   string
			Prefix string
		}

		// Pubsub is optional, push notifications are disabled without addresses.
		Pubsub struct {
			Addrs  []string
			Pass   string
			Prefix string
		}
	}

	Postgres struct {
		Score struct {
			Addr string
			User string
			Pass string
			Name string
		}
	}
}

// DefaultConfig returns the configuration used for keys missing from file and environment.
func DefaultConfig() Config {
	var c Config

	c.HTTP.Port = 8080
	c.GRPC.Port = 8081
	c.Log.Level = "info"

	c.Game.Duration = game.DefaultDuration
	c.Game.Diameter = game.DefaultDiameter
	c.Game.RelocateInterval = time.Second
	c.Game.CountdownInterval = time.Second
	c.Game.IdleTimeout = 5 * time.Minute
	c.Game.ReapInterval = time.Minute

	c.Store.Driver = StoreRedis

	c.Redis.Score.Addrs = []string{"localhost:6379"}
	c.Redis.Score.Prefix = "reflex"
	c.Redis.Pubsub.Addrs = []string{"localhost:6379"}
	c.Redis.Pubsub.Prefix = "reflex:pubsub"

	return c
}

type Server struct {
	c Config

	eb *event.Bus

	infra struct {
		redis struct {
			score  redis.UniversalClient
			pubsub redis.UniversalClient
		}

		postgres struct {
			score *pgxpool.Pool
		}
	}

	service struct {
		score       *score.Service
		leaderboard *leaderboard.Service
		session     *session.Service
	}

	health *health.Server
	http   *http.Server
	grpc   *grpc.Server
}

func Init(c Config) (*Server, error) {
	s := &Server{c: c}

	s.eb = event.NewBus(event.Config{
		PoolSize: c.EventBus.PoolSize,
		Timeout:  c.EventBus.Timeout,
	})

	if err := s.initInfra(); err != nil {
		return nil, fmt.Errorf("server: init infra: %w", err)
	}

	store, err := s.initStore()
	if err != nil {
		return nil, fmt.Errorf("server: init store: %w", err)
	}

	s.initService(store)
	s.initAPI()
	return s, nil
}

func (s *Server) initInfra() error {
	switch s.c.Store.Driver {
	case StoreRedis:
		if err := s.initRedisScore(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	case StorePostgres:
		if err := s.initPostgres(); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
	default:
		return fmt.Errorf("unknown store driver %q", s.c.Store.Driver)
	}

	if len(s.c.Redis.Pubsub.Addrs) == 0 {
		slog.Warn("server: redis pubsub not configured, push notifications disabled")
		return nil
	}

	var err error
	s.infra.redis.pubsub, err = connectRedis(s.c.Redis.Pubsub.Addrs, s.c.Redis.Pubsub.Pass)
	if err != nil {
		return fmt.Errorf("redis: pubsub: %w", err)
	}

	return nil
}

func (s *Server) initRedisScore() (err error) {
	s.infra.redis.score, err = connectRedis(s.c.Redis.Score.Addrs, s.c.Redis.Score.Pass)
	if err != nil {
		return fmt.Errorf("score: %w", err)
	}

	return nil
}

func connectRedis(addrs []string, pass string) (redis.UniversalClient, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	r := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    addrs,
		Password: pass,
	})

	if err := telemetry.MonitorRedis(r); err != nil {
		return nil, err
	}

	if err := r.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return r, nil
}

func (s *Server) initPostgres() (err error) {
	connect := func(addr, user, pass, name string) (*pgxpool.Pool, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		cc, err := pgxpool.ParseConfig(fmt.Sprintf("postgres://%s:%s@%s/%s", user, pass, addr, name))
		if err != nil {
			return nil, err
		}

		db, err := pgxpool.NewWithConfig(ctx, cc)
		if err != nil {
			return nil, err
		}

		if err := db.Ping(ctx); err != nil {
			return nil, err
		}

		return db, nil
	}

	pc := s.c.Postgres.Score
	s.infra.postgres.score, err = connect(pc.Addr, pc.User, pc.Pass, pc.Name)
	if err != nil {
		return fmt.Errorf("score: %w", err)
	}

	return nil
}

func (s *Server) initStore() (score.Store, error) {
	if s.c.Store.Driver == StorePostgres {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		st := score.NewPostgresStore(s.infra.postgres.score)
		if err := st.Migrate(ctx); err != nil {
			return nil, err
		}
		return st, nil
	}

	return score.NewRedisStore(s.infra.redis.score, s.c.Redis.Score.Prefix), nil
}

func (s *Server) initService(store score.Store) {
	s.service.score = score.NewService(score.Config{
		EventBus: s.eb,
		Store:    store,
	})

	s.service.leaderboard = leaderboard.NewService(leaderboard.Config{
		EventBus: s.eb,
		Score:    s.service.score,
	})

	s.service.session = session.NewService(session.Config{
		EventBus:    s.eb,
		Score:       s.service.score,
		Leaderboard: s.service.leaderboard,
		Rules: game.Rules{
			Duration: s.c.Game.Duration,
			Diameter: s.c.Game.Diameter,
		},
		RelocateInterval:  s.c.Game.RelocateInterval,
		CountdownInterval: s.c.Game.CountdownInterval,
		TaskTimeout:       s.c.Game.TaskTimeout,
		IdleTimeout:       s.c.Game.IdleTimeout,
		ReapInterval:      s.c.Game.ReapInterval,
	})
}

func (s *Server) initAPI() {
	e := gin.New()
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	pprof.Register(e, "/debug/pprof")
	e.Use(gin.Recovery())

	s.grpc = grpc.NewServer(telemetry.GRPCServerInterceptor())

	s.health = health.NewServer()
	healthpb.RegisterHealthServer(s.grpc, s.health)

	c := api.Config{
		GRPC:         s.grpc,
		HTTP:         e,
		EventBus:     s.eb,
		Session:      s.service.session,
		Leaderboard:  s.service.leaderboard,
		PubsubPrefix: s.c.Redis.Pubsub.Prefix,
	}
	if s.infra.redis.pubsub != nil {
		c.Redis = s.infra.redis.pubsub
	}
	api.New(c)

	s.health.SetServingStatus(api.GameServiceName, healthpb.HealthCheckResponse_SERVING)

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.c.HTTP.Port),
		Handler:           e,
		ReadHeaderTimeout: 60 * time.Second,
	}
}

func (s *Server) Start() {
	ctx := context.TODO()

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.c.GRPC.Port))
	if err != nil {
		slog.ErrorContext(ctx, "grpc server: listen failed", "error", err)
		panic(err)
	}

	var eg errgroup.Group
	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: gRPC listening on port %d", s.c.GRPC.Port))
		return s.grpc.Serve(lis)
	})

	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: HTTP listening on port %d", s.c.HTTP.Port))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	err = eg.Wait()
	if err != nil {
		slog.ErrorContext(ctx, "server: shutdown with error", "error", err)
	}
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.health.Shutdown()
	s.grpc.GracefulStop()
	if err := s.http.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "server: shutdown HTTP failed", "error", err)
	}

	if err := s.service.session.Stop(ctx); err != nil {
		slog.ErrorContext(ctx, "server: stop sessions failed", "error", err)
	}

	s.eb.Stop()

	if s.infra.redis.score != nil {
		_ = s.infra.redis.score.Close()
	}
	if s.infra.redis.pubsub != nil {
		_ = s.infra.redis.pubsub.Close()
	}
	if s.infra.postgres.score != nil {
		s.infra.postgres.score.Close()
	}

	slog.InfoContext(ctx, "server: shutdown completed")
}
