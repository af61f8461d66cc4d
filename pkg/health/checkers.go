package health

import (
	"context"
	"runtime"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
)

// Pinger is implemented by *pgxpool.Pool and the AMQP publisher.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck checks p.Ping.
func PingCheck(p Pinger) CheckFunc {
	return p.Ping
}

// RedisCheck issues PING against c.
func RedisCheck(c redis.UniversalClient) CheckFunc {
	return func(ctx context.Context) error {
		return c.Ping(ctx).Err()
	}
}

// GoroutineCountCheck fails when more than threshold goroutines are running.
func GoroutineCountCheck(threshold int) CheckFunc {
	return func(context.Context) error {
		if n := runtime.NumGoroutine(); n > threshold {
			return errors.Errorf("goroutine count %d exceeds %d", n, threshold)
		}
		return nil
	}
}
