package dashboard

import (
	"context"
	"sync"
	"time"

	"github.com/hazyhaar/convo/store"
)

// snapshotCache serves a cached AllUsers snapshot for up to ttl. The
// dashboard is read-only and tolerates slightly stale numbers; the cache
// keeps a burst of page loads from hammering the store with bulk exports.
type snapshotCache struct {
	exporter store.Exporter
	ttl      time.Duration
	now      func() time.Time

	mu        sync.Mutex
	users     []store.User
	fetchedAt time.Time
}

func newSnapshotCache(exp store.Exporter, ttl time.Duration) *snapshotCache {
	return &snapshotCache{exporter: exp, ttl: ttl, now: time.Now}
}

// get returns the cached snapshot, refreshing it when expired. A refresh
// failure with a previous snapshot in hand serves the stale data instead of
// erroring the page.
func (c *snapshotCache) get(ctx context.Context) ([]store.User, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.users != nil && c.now().Sub(c.fetchedAt) < c.ttl {
		return c.users, nil
	}
	users, err := c.exporter.AllUsers(ctx)
	if err != nil {
		if c.users != nil {
			return c.users, nil
		}
		return nil, err
	}
	c.users = users
	c.fetchedAt = c.now()
	return users, nil
}

// invalidate drops the snapshot, forcing a refresh on next access.
func (c *snapshotCache) invalidate() {
	c.mu.Lock()
	c.users = nil
	c.mu.Unlock()
}
