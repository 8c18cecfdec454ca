package dbx

import (
	"context"
	"fmt"

	"github.com/plastr/extrasolar/internal/logging"
)

// RowCache memoizes results of whitelisted named queries for the duration of
// a single request, keyed by query name plus positional args. It exists to
// stop N+1 loads when sibling collections in the gamestate tree lazy-load
// the same backing rows.
//
// The cache is request-scoped and never shared between goroutines.
type RowCache struct {
	log       logging.Logger
	whitelist map[string]struct{}
	entries   map[string]any
}

func NewRowCache(log logging.Logger, whitelisted ...string) *RowCache {
	wl := make(map[string]struct{}, len(whitelisted))
	for _, name := range whitelisted {
		wl[name] = struct{}{}
	}
	return &RowCache{log: log, whitelist: wl, entries: make(map[string]any)}
}

func cacheKey(queryName string, args []any) string {
	return fmt.Sprintf("%s|%v", queryName, args)
}

// Cacheable reports whether results for the named query may be cached.
func (c *RowCache) Cacheable(queryName string) bool {
	_, ok := c.whitelist[queryName]
	return ok
}

// Get returns the cached rows for the query+args, if present.
func (c *RowCache) Get(queryName string, args ...any) (any, bool) {
	v, ok := c.entries[cacheKey(queryName, args)]
	return v, ok
}

// Put stores rows for a whitelisted query. Inserting under a key that is
// already present is a caller bug; the insertion is ignored with a warning.
func (c *RowCache) Put(ctx context.Context, queryName string, args []any, rows any) {
	if !c.Cacheable(queryName) {
		return
	}
	key := cacheKey(queryName, args)
	if _, exists := c.entries[key]; exists {
		c.log.Warn(ctx, "duplicate row cache insertion", "query", queryName, "key", key)
		return
	}
	c.entries[key] = rows
}
