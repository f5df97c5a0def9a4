package transcript

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is a 2-tier transcript cache: L1 in-memory, L2 Redis. L1 is fast
// but lost on restart; L2 survives restarts so a crashed cycle does not
// refetch transcripts it already paid for. Redis is optional.
type Cache struct {
	l1         sync.Map // videoID → *cacheEntry
	rdb        *redis.Client
	ttl        time.Duration
	maxEntries int
	size       int
	sizeMu     sync.Mutex
	logger     *slog.Logger
}

type cacheEntry struct {
	text      string
	expiresAt time.Time
}

// NewCache sets up the cache. redisURL may be empty to disable L2.
func NewCache(redisURL string, ttl time.Duration, maxEntries int, logger *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if maxEntries <= 0 {
		maxEntries = 500
	}
	c := &Cache{ttl: ttl, maxEntries: maxEntries, logger: logger}

	if redisURL != "" {
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			if logger != nil {
				logger.Warn("transcript cache: invalid redis URL, L2 disabled", "error", err)
			}
			return c
		}
		rdb := redis.NewClient(opts)
		pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			if logger != nil {
				logger.Warn("transcript cache: redis unreachable, L2 disabled", "error", err)
			}
			return c
		}
		c.rdb = rdb
		if logger != nil {
			logger.Info("transcript cache: L2 redis connected", "addr", opts.Addr)
		}
	}
	return c
}

func cacheKey(videoID string) string {
	return "cd:transcript:" + videoID
}

// Get tries L1, then L2. An L2 hit repopulates L1.
func (c *Cache) Get(ctx context.Context, videoID string) (string, bool) {
	if c == nil {
		return "", false
	}
	if v, ok := c.l1.Load(videoID); ok {
		entry := v.(*cacheEntry)
		if time.Now().Before(entry.expiresAt) {
			return entry.text, true
		}
		c.l1.Delete(videoID)
	}

	if c.rdb == nil {
		return "", false
	}
	text, err := c.rdb.Get(ctx, cacheKey(videoID)).Result()
	if err != nil {
		return "", false
	}
	c.storeL1(videoID, text)
	return text, true
}

// Set stores the transcript in both tiers.
func (c *Cache) Set(ctx context.Context, videoID, text string) {
	if c == nil {
		return
	}
	c.storeL1(videoID, text)
	if c.rdb != nil {
		if err := c.rdb.Set(ctx, cacheKey(videoID), text, c.ttl).Err(); err != nil && c.logger != nil {
			c.logger.Debug("transcript cache: L2 set failed", "video", videoID, "error", err)
		}
	}
}

func (c *Cache) storeL1(videoID, text string) {
	c.sizeMu.Lock()
	if c.size >= c.maxEntries {
		// Crude bound: drop everything rather than track LRU order.
		// Transcripts are cheap to refetch compared to summarization.
		c.l1.Range(func(k, _ any) bool {
			c.l1.Delete(k)
			return true
		})
		c.size = 0
	}
	c.size++
	c.sizeMu.Unlock()

	c.l1.Store(videoID, &cacheEntry{text: text, expiresAt: time.Now().Add(c.ttl)})
}
