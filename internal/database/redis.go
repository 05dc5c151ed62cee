package database

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/export-registry/internal/config"
)

// ConnectRedis opens the client backing the token revocation list, retrying
// while the server comes up.
func ConnectRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	var err error
	for attempt := 1; attempt <= 5; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err = client.Ping(pingCtx).Err()
		cancel()
		if err == nil {
			logrus.WithField("addr", cfg.Addr()).Info("Redis connection established")
			return client, nil
		}

		logrus.WithError(err).WithField("attempt", attempt).Warn("Redis not ready, retrying")
		select {
		case <-ctx.Done():
			client.Close()
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt) * time.Second):
		}
	}

	client.Close()
	return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr(), err)
}
