package dbx

import (
	"context"
	"fmt"
	"hash/fnv"
)

// TryAdvisoryLock attempts to take the named transaction-scoped advisory
// lock. The periodic drivers (deferred runner, email drainer, notification
// sweeper) use it to ensure a single active driver per database; acquisition
// failure means another server holds the tick and the caller silently skips.
//
// The lock is released automatically when the surrounding transaction closes.
func TryAdvisoryLock(ctx context.Context, tx DBTX, name string) (bool, error) {
	var acquired bool
	err := tx.QueryRowContext(ctx, "SELECT pg_try_advisory_xact_lock($1)", advisoryKey(name)).Scan(&acquired)
	if err != nil {
		return false, fmt.Errorf("advisory lock %q: %w", name, err)
	}
	return acquired, nil
}

// advisoryKey hashes a lock name into the bigint keyspace Postgres expects.
func advisoryKey(name string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return int64(h.Sum64())
}
