package gallery

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"faceattend/internal/clock"
)

// Cache holds the known faces in memory and reloads them from the source once
// the staleness window has passed or after Invalidate.
type Cache struct {
	source     Source
	clock      clock.Clock
	expiration time.Duration

	mu          sync.Mutex
	entries     []Entry
	loaded      bool
	invalidated bool
	lastRefresh time.Time
}

// NewCache builds a cache over source.
func NewCache(source Source, clk clock.Clock, expiration time.Duration) *Cache {
	if clk == nil {
		clk = clock.Real()
	}
	return &Cache{source: source, clock: clk, expiration: expiration}
}

// Known returns the gallery, reloading it when stale. The returned slice is
// shared and must not be modified. When a reload after expiry fails the
// previous snapshot is served and the reload is retried on the next call. A
// failed reload after Invalidate returns the error, since the snapshot is
// known to miss an enrollment.
func (c *Cache) Known(ctx context.Context) ([]Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	if c.loaded && !c.invalidated && now.Sub(c.lastRefresh) <= c.expiration {
		return c.entries, nil
	}

	entries, err := c.source.Load(ctx)
	if err != nil {
		if c.invalidated {
			slog.Error("gallery reload after enrollment failed", "error", err)
			return nil, fmt.Errorf("reload gallery: %w", err)
		}
		if c.loaded {
			slog.Warn("gallery reload failed, serving previous snapshot", "error", err)
			return c.entries, nil
		}
		return nil, err
	}
	c.entries = entries
	c.loaded = true
	c.invalidated = false
	c.lastRefresh = now
	return c.entries, nil
}

// Invalidate forces the next Known call to reload.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.invalidated = true
	c.mu.Unlock()
}
