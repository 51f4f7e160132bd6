// Package cache provides Redis-backed invalidation of cached API reads.
// Keys follow the layout cache:<prefix>:<hash>; after a pipeline run changes
// the underlying data, every key group the pipeline feeds is deleted so
// readers never serve stale results.
package cache

import (
	"context"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"
)

type Invalidator struct {
	client *redis.Client
}

func NewInvalidator(redisAddr string) (*Invalidator, error) {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Invalidator{client: client}, nil
}

// InvalidatePrefixes deletes every key under each given prefix. Scanning
// continues through per-prefix failures so one bad prefix does not leave
// the others stale; the first error encountered is returned for logging.
func (i *Invalidator) InvalidatePrefixes(ctx context.Context, prefixes []string) error {
	var firstErr error
	for _, prefix := range prefixes {
		deleted, err := i.invalidate(ctx, prefix)
		if err != nil {
			log.Printf("Cache invalidation for prefix %s failed: %v", prefix, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if deleted > 0 {
			log.Printf("Cache invalidated %d keys under prefix %s", deleted, prefix)
		}
	}

	return firstErr
}

func (i *Invalidator) invalidate(ctx context.Context, prefix string) (int, error) {
	pattern := fmt.Sprintf("cache:%s:*", prefix)
	deleted := 0

	iter := i.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		if err := i.client.Del(ctx, iter.Val()).Err(); err != nil {
			return deleted, err
		}
		deleted++
	}
	if err := iter.Err(); err != nil {
		return deleted, err
	}

	return deleted, nil
}

func (i *Invalidator) Close() error {
	return i.client.Close()
}
