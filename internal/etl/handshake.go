package etl

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BartekS5/refpull/pkg/logger"
)

// HandshakeFunc performs the release/version call against an endpoint. It
// must be safe to call repeatedly.
type HandshakeFunc func(ctx context.Context, endpoint string) (map[string]any, error)

type handshakeEntry struct {
	at      time.Time
	payload map[string]any
}

// HandshakeCache memoizes handshake payloads per endpoint for a TTL.
//
// It is safe for concurrent use. The handshake call itself runs outside the
// lock, so two concurrent misses on one endpoint both call through and the
// later store wins. The zero value is ready to use.
type HandshakeCache struct {
	mu      sync.Mutex
	entries map[string]handshakeEntry

	// Now is the clock used for TTL checks. Nil means time.Now.
	Now func() time.Time

	log *slog.Logger
}

// NewHandshakeCache returns an empty cache. A nil log uses the "handshake"
// component logger.
func NewHandshakeCache(log *slog.Logger) *HandshakeCache {
	if log == nil {
		log = logger.New("handshake")
	}
	return &HandshakeCache{
		entries: make(map[string]handshakeEntry),
		Now:     time.Now,
		log:     log,
	}
}

// Perform returns the payload for endpoint. When enabled is false it returns
// an empty payload without calling fn or touching the cache. Otherwise a
// payload stored less than ttl ago is returned as-is; anything older is
// replaced by a fresh call. Errors from fn are returned and not cached.
func (c *HandshakeCache) Perform(ctx context.Context, endpoint string, enabled bool, ttl time.Duration, fn HandshakeFunc) (map[string]any, error) {
	if !enabled {
		return map[string]any{}, nil
	}

	c.mu.Lock()
	c.fillDefaults()
	now := c.Now()
	log := c.log
	entry, ok := c.entries[endpoint]
	c.mu.Unlock()

	if ok && now.Sub(entry.at) < ttl {
		log.Info("handshake cache hit",
			slog.String("endpoint", endpoint),
			slog.Float64("age_ms", millis(now.Sub(entry.at))))
		return entry.payload, nil
	}

	start := time.Now()
	payload, err := fn(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	if payload == nil {
		payload = map[string]any{}
	}

	c.mu.Lock()
	c.entries[endpoint] = handshakeEntry{at: now, payload: payload}
	c.mu.Unlock()

	log.Info("handshake cache miss",
		slog.String("endpoint", endpoint),
		slog.Float64("duration_ms", millis(time.Since(start))))
	return payload, nil
}

// fillDefaults must be called with c.mu held.
func (c *HandshakeCache) fillDefaults() {
	if c.entries == nil {
		c.entries = make(map[string]handshakeEntry)
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.log == nil {
		c.log = logger.New("handshake")
	}
}

// Invalidate drops the entry for endpoint.
func (c *HandshakeCache) Invalidate(endpoint string) {
	c.mu.Lock()
	delete(c.entries, endpoint)
	c.mu.Unlock()
}
