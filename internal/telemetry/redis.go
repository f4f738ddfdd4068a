package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
)

// MonitorRedis instruments r with tracing, metrics and command logging.
func MonitorRedis(r redis.UniversalClient) error {
	if err := redisotel.InstrumentTracing(r); err != nil {
		return fmt.Errorf("instrument tracing: %w", err)
	}
	if err := redisotel.InstrumentMetrics(r); err != nil {
		return fmt.Errorf("instrument metrics: %w", err)
	}
	r.AddHook(redisLog{})
	return nil
}

// redisLog logs at debug level, errors other than redis.Nil at error level.
type redisLog struct{}

func (redisLog) DialHook(hook redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		start := time.Now()
		conn, err := hook(ctx, network, addr)
		if err != nil {
			slog.ErrorContext(ctx, "redis: dial failed", "network", network, "addr", addr, "error", err)
			return conn, err
		}
		slog.InfoContext(ctx, "redis: dialed", "network", network, "addr", addr, "duration", time.Since(start))
		return conn, nil
	}
}

func (redisLog) ProcessHook(hook redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		start := time.Now()
		err := hook(ctx, cmd)
		logCommand(ctx, "redis: processed", fmt.Sprintf("<%s>", cmd), start, err)
		return err
	}
}

func (redisLog) ProcessPipelineHook(hook redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		start := time.Now()
		err := hook(ctx, cmds)
		logCommand(ctx, "redis: pipeline processed", fmt.Sprintf("%v", cmds), start, err)
		return err
	}
}

func logCommand(ctx context.Context, msg, cmd string, start time.Time, err error) {
	if err != nil && !errors.Is(err, redis.Nil) {
		slog.ErrorContext(ctx, msg, "cmd", cmd, "duration", time.Since(start), "error", err)
		return
	}
	slog.DebugContext(ctx, msg, "cmd", cmd, "duration", time.Since(start))
}
