package catalog

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/supervsr/supervsr/internal/log"
)

type streamLister interface {
	Streams(ctx context.Context) ([]Stream, error)
}

// Catalog caches the stream inventory for a TTL so the scheduler's ticks do
// not hammer the backend. A failed refresh serves the stale inventory when
// one exists.
type Catalog struct {
	lister streamLister
	ttl    time.Duration
	logger zerolog.Logger

	mu        sync.Mutex
	streams   []Stream
	fetchedAt time.Time
}

// NewCatalog wraps the client with a TTL cache.
func NewCatalog(lister streamLister, ttl time.Duration) *Catalog {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Catalog{
		lister: lister,
		ttl:    ttl,
		logger: log.WithComponent("catalog"),
	}
}

// Streams returns the cached inventory, refreshing it when the TTL has
// lapsed. Callers must not mutate the returned slice.
func (c *Catalog) Streams(ctx context.Context) ([]Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.fetchedAt.IsZero() || time.Since(c.fetchedAt) >= c.ttl {
		streams, err := c.lister.Streams(ctx)
		if err != nil {
			if c.fetchedAt.IsZero() {
				return nil, err
			}
			c.logger.Warn().Err(err).
				Time("fetched_at", c.fetchedAt).
				Msg("stream inventory refresh failed, serving stale data")
			return c.streams, nil
		}
		c.streams = streams
		c.fetchedAt = time.Now()
		c.logger.Debug().Int("streams", len(streams)).Msg("stream inventory refreshed")
	}
	return c.streams, nil
}

// Stream looks up one stream by id in the cached inventory.
func (c *Catalog) Stream(ctx context.Context, id ID) (*Stream, error) {
	streams, err := c.Streams(ctx)
	if err != nil {
		return nil, err
	}
	for i := range streams {
		if streams[i].ID == id {
			return &streams[i], nil
		}
	}
	return nil, &APIError{Sentinel: ErrNotFound, Operation: "lookup stream " + id.String()}
}

// Invalidate drops the cached inventory so the next call refreshes.
func (c *Catalog) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fetchedAt = time.Time{}
}
