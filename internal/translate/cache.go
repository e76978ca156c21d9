// Copyright (c) 2025 nlcube
// Licensed under the MIT License. See LICENSE file in the project root for details.

package translate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/pterm/pterm"
	"github.com/vmihailenco/msgpack/v5"

	"nlcube/cli/internal/logging"
)

const cacheKeyPrefix = "nlcube:translate:"

type cacheEntry struct {
	Backend  string    `msgpack:"backend"`
	Text     string    `msgpack:"text"`
	StoredAt time.Time `msgpack:"stored_at"`
}

// Cached memoizes a Translator in Redis, keyed by backend, question and
// schema text. Redis failures are logged and the request goes to the
// wrapped translator.
type Cached struct {
	next   Translator
	rdb    *redis.Client
	ttl    time.Duration
	logger *pterm.Logger
}

// NewRedisClient accepts either host:port or a redis:// URL.
func NewRedisClient(addr string) (*redis.Client, error) {
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		opts, err := redis.ParseURL(addr)
		if err != nil {
			return nil, err
		}
		return redis.NewClient(opts), nil
	}
	return redis.NewClient(&redis.Options{Addr: addr}), nil
}

// NewCached wraps next. A zero ttl keeps entries for a day.
func NewCached(next Translator, rdb *redis.Client, ttl time.Duration, logger *pterm.Logger) *Cached {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Cached{next: next, rdb: rdb, ttl: ttl, logger: logger}
}

func (c *Cached) Name() string { return c.next.Name() }

func (c *Cached) Translate(ctx context.Context, req Request) (Response, error) {
	key := c.key(req)

	if raw, err := c.rdb.Get(ctx, key).Bytes(); err == nil {
		var e cacheEntry
		if err := msgpack.Unmarshal(raw, &e); err == nil {
			c.logger.Debug("translation cache hit", c.logger.Args("backend", e.Backend))
			return Response{Text: e.Text}, nil
		}
		c.logger.Warn("discarding unreadable translation cache entry", c.logger.Args("key", key))
	} else if !errors.Is(err, redis.Nil) {
		c.logger.Warn("translation cache unavailable", c.logger.Args("error", logging.Mask(err.Error())))
	}

	resp, err := c.next.Translate(ctx, req)
	if err != nil {
		return resp, err
	}

	raw, err := msgpack.Marshal(cacheEntry{Backend: c.next.Name(), Text: resp.Text, StoredAt: time.Now().UTC()})
	if err == nil {
		err = c.rdb.Set(ctx, key, raw, c.ttl).Err()
	}
	if err != nil {
		c.logger.Warn("translation cache write failed", c.logger.Args("error", logging.Mask(err.Error())))
	}
	return resp, nil
}

// Invalidate drops the entry for req, used when its output failed extraction.
func (c *Cached) Invalidate(ctx context.Context, req Request) {
	if err := c.rdb.Del(ctx, c.key(req)).Err(); err != nil {
		c.logger.Warn("translation cache delete failed", c.logger.Args("error", logging.Mask(err.Error())))
	}
}

func (c *Cached) key(req Request) string {
	h := sha256.New()
	h.Write([]byte(c.next.Name()))
	h.Write([]byte{0})
	h.Write([]byte(strings.TrimSpace(req.Question)))
	h.Write([]byte{0})
	h.Write([]byte(req.SchemaText))
	return cacheKeyPrefix + hex.EncodeToString(h.Sum(nil))
}
