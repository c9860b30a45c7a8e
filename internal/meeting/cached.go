package meeting

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
)

// CachedCatalog serves agent lookups from Redis. Cache failures fall back to
// the inner catalog and are only logged.
type CachedCatalog struct {
	inner  Catalog
	rdb    redis.UniversalClient
	ttl    time.Duration
	logger *log.Logger
}

func NewCachedCatalog(inner Catalog, rdb redis.UniversalClient, ttl time.Duration, logger *log.Logger) *CachedCatalog {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if logger == nil {
		logger = log.Default()
	}
	return &CachedCatalog{inner: inner, rdb: rdb, ttl: ttl, logger: logger.WithPrefix("meeting-cache")}
}

// NewRedisClient accepts either a redis:// URL or a bare host:port.
func NewRedisClient(ctx context.Context, addr string) (*redis.Client, error) {
	var opt *redis.Options
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		parsed, err := redis.ParseURL(addr)
		if err != nil {
			return nil, err
		}
		opt = parsed
	} else {
		opt = &redis.Options{Addr: addr}
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return rdb, nil
}

func agentKey(meetingID string) string { return "meetbridge:meeting:" + meetingID + ":agent" }

func (c *CachedCatalog) Agent(ctx context.Context, meetingID string) (Agent, error) {
	key := agentKey(meetingID)
	raw, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var a Agent
		if jerr := json.Unmarshal(raw, &a); jerr == nil {
			return a, nil
		}
		_ = c.rdb.Del(ctx, key).Err()
	case errors.Is(err, redis.Nil):
	default:
		c.logger.Warn("agent cache read failed", "meeting_id", meetingID, "err", err)
	}

	a, err := c.inner.Agent(ctx, meetingID)
	if err != nil {
		return Agent{}, err
	}
	if b, jerr := json.Marshal(a); jerr == nil {
		if serr := c.rdb.Set(ctx, key, b, c.ttl).Err(); serr != nil {
			c.logger.Warn("agent cache write failed", "meeting_id", meetingID, "err", serr)
		}
	}
	return a, nil
}

func (c *CachedCatalog) SetStatus(ctx context.Context, meetingID string, status Status) error {
	return c.inner.SetStatus(ctx, meetingID, status)
}

func (c *CachedCatalog) Upsert(ctx context.Context, m Meeting) error {
	if err := c.inner.Upsert(ctx, m); err != nil {
		return err
	}
	if err := c.rdb.Del(ctx, agentKey(m.ID)).Err(); err != nil {
		c.logger.Warn("agent cache invalidate failed", "meeting_id", m.ID, "err", err)
	}
	return nil
}

func (c *CachedCatalog) Close() error {
	err := c.inner.Close()
	if cerr := c.rdb.Close(); err == nil {
		err = cerr
	}
	return err
}
