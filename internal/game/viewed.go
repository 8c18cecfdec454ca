package game

import (
	"context"

	"github.com/plastr/extrasolar/internal/dbx"
)

// MarkTargetViewed is idempotent; viewed_at is set once.
func (s *Service) MarkTargetViewed(ctx context.Context, tx dbx.DBTX, u *User, roverID, targetID string) error {
	rover, err := u.Rover(ctx, roverID)
	if err != nil {
		return err
	}
	t, err := rover.Target(ctx, targetID)
	if err != nil {
		return err
	}
	if t.IsSet("viewed_at") {
		return nil
	}
	nowSecs, err := u.NowSeconds()
	if err != nil {
		return err
	}
	if err := t.Set(ctx, "viewed_at", nowSecs); err != nil {
		return err
	}
	return s.store.UpdateTargetViewed(ctx, tx, u.UserID, targetID, nowSecs)
}

// MarkAchievementViewed is idempotent.
func (s *Service) MarkAchievementViewed(ctx context.Context, tx dbx.DBTX, u *User, key string) error {
	m, err := u.Achievements().Get(ctx, key)
	if err != nil {
		return err
	}
	if m.IsSet("viewed_at") {
		return nil
	}
	nowSecs, err := u.NowSeconds()
	if err != nil {
		return err
	}
	if err := m.Set(ctx, "viewed_at", nowSecs); err != nil {
		return err
	}
	return s.store.UpdateAchievementViewed(ctx, tx, u.UserID, key, nowSecs)
}
