package redisbus

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/bookbazaar/bookbot/internal/domain"
)

const (
	dirPrefix = "bb:dir:"

	// dirTTL bounds how long a crashed agent stays visible in the directory.
	dirTTL = 15 * time.Second
)

func dirKey(service, agent string) string {
	return dirPrefix + service + ":" + agent
}

// Register advertises the agent under the service type with a TTL key and
// keeps refreshing it until the context is cancelled.
func (b *Bus) Register(ctx context.Context, service, agent string) error {
	key := dirKey(service, agent)
	if err := b.rdb.Set(ctx, key, agent, dirTTL).Err(); err != nil {
		return fmt.Errorf("redisbus: register %s: %w", agent, err)
	}

	go func() {
		ticker := time.NewTicker(dirTTL / 3)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := b.rdb.Set(ctx, key, agent, dirTTL).Err(); err != nil {
					b.logger.Warn("directory refresh failed",
						slog.String("agent", agent),
						slog.String("error", err.Error()),
					)
				}
			}
		}
	}()

	return nil
}

// Deregister removes the agent's directory entry.
func (b *Bus) Deregister(ctx context.Context, service, agent string) error {
	if err := b.rdb.Del(ctx, dirKey(service, agent)).Err(); err != nil {
		return fmt.Errorf("redisbus: deregister %s: %w", agent, err)
	}
	return nil
}

// Search returns the sorted names of all agents advertising service.
func (b *Bus) Search(ctx context.Context, service string) ([]string, error) {
	var names []string
	iter := b.rdb.Scan(ctx, 0, dirPrefix+service+":*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		names = append(names, key[len(dirPrefix+service+":"):])
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redisbus: search %s: %w", service, err)
	}
	sort.Strings(names)
	return names, nil
}

// Compile-time interface check.
var _ domain.Directory = (*Bus)(nil)
