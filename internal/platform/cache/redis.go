// Package cache opens the Redis connection shared by the permission cache
// and the status endpoint.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ClientName identifies IAM connections in CLIENT LIST.
const ClientName = "odyssey-iam"

const pingTimeout = 5 * time.Second

// New connects to addr and pings it. Permission lookups fall back to the
// store when Redis is slow, so command timeouts are kept short.
func New(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		ClientName:   ClientName,
		DialTimeout:  pingTimeout,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})

	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("platform/cache: ping %s: %w", addr, err)
	}
	return client, nil
}
