package game

import (
	"context"
	"fmt"

	"github.com/plastr/extrasolar/internal/dbx"
	"github.com/plastr/extrasolar/internal/shared"
	"github.com/plastr/extrasolar/internal/tree"
)

// AddProgress records a client-achieved progress key. Only whitelisted keys
// are accepted; repeats are idempotent. New keys may contribute regions.
func (s *Service) AddProgress(ctx context.Context, tx dbx.DBTX, u *User, key, value string) error {
	if _, ok := s.cat.ProgressKeys[key]; !ok {
		return fmt.Errorf("%w: progress key %q is not accepted", shared.ErrorBadRequest, key)
	}
	has, err := u.Progress().Has(ctx, key)
	if err != nil {
		return err
	}
	if has {
		return nil
	}

	nowSecs, err := u.NowSeconds()
	if err != nil {
		return err
	}
	pre, err := s.contributedRegions(ctx, u)
	if err != nil {
		return err
	}

	m := tree.NewModel(progressSpec, u.Session(), "")
	_ = m.SetSilent("key", key)
	_ = m.SetSilent("value", value)
	_ = m.SetSilent("achieved_at", nowSecs)
	if err := u.Progress().Add(ctx, m); err != nil {
		return err
	}
	if err := s.store.InsertProgress(ctx, tx, u.UserID, key, value, nowSecs); err != nil {
		return err
	}
	return s.RefreshRegions(ctx, u, pre)
}
