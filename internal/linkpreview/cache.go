package linkpreview

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

type Source interface {
	Fetch(ctx context.Context, url string) (Preview, error)
}

// Cached keeps successful previews in redis. Cache errors degrade to a
// direct fetch.
type Cached struct {
	next   Source
	redis  *redis.Client
	ttl    time.Duration
	prefix string
}

func NewCached(next Source, client *redis.Client, ttl time.Duration) *Cached {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Cached{next: next, redis: client, ttl: ttl, prefix: "linkpreview:"}
}

func (c *Cached) Fetch(ctx context.Context, url string) (Preview, error) {
	key := c.prefix + url
	raw, err := c.redis.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var p Preview
		if json.Unmarshal(raw, &p) == nil {
			return p, nil
		}
	case !errors.Is(err, redis.Nil):
		slog.WarnContext(ctx, "link preview cache read", "err", err)
	}

	p, err := c.next.Fetch(ctx, url)
	if err != nil {
		return Preview{}, err
	}
	if data, err := json.Marshal(p); err == nil {
		if err := c.redis.Set(ctx, key, data, c.ttl).Err(); err != nil {
			slog.WarnContext(ctx, "link preview cache write", "err", err)
		}
	}
	return p, nil
}
