package queries

import (
	"context"
	"fmt"

	"github.com/plastr/extrasolar/internal/dbx"
	"github.com/plastr/extrasolar/internal/shared"
)

// Runner executes named queries against a DBTX, optionally consulting a
// per-request row cache for whitelisted queries.
type Runner struct {
	store *Store
	cache *dbx.RowCache
}

func NewRunner(store *Store, cache *dbx.RowCache) *Runner {
	return &Runner{store: store, cache: cache}
}

// WithCache returns a runner over the same query store but a different
// cache. Request handling builds one fresh cache per request.
func (r *Runner) WithCache(cache *dbx.RowCache) *Runner {
	return &Runner{store: r.store, cache: cache}
}

// Rows runs the named query and returns every row as a column-name map.
func (r *Runner) Rows(ctx context.Context, tx dbx.DBTX, name string, params map[string]any) ([]map[string]any, error) {
	sqlText, args, err := r.store.Build(name, params)
	if err != nil {
		return nil, err
	}

	if r.cache != nil && r.cache.Cacheable(name) {
		if cached, ok := r.cache.Get(name, args...); ok {
			return cached.([]map[string]any), nil
		}
	}

	rows, err := tx.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, fmt.Errorf("query %q: %w", name, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var result []map[string]any
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			row[col] = values[i]
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if r.cache != nil {
		r.cache.Put(ctx, name, args, result)
	}
	return result, nil
}

// Row runs the named query and returns exactly one row, or ErrorNotFound.
func (r *Runner) Row(ctx context.Context, tx dbx.DBTX, name string, params map[string]any) (map[string]any, error) {
	rows, err := r.Rows(ctx, tx, name, params)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: query %q returned no rows", shared.ErrorNotFound, name)
	}
	return rows[0], nil
}
