package game

import (
	"context"
	"fmt"

	"github.com/plastr/extrasolar/internal/chips"
	"github.com/plastr/extrasolar/internal/chrono"
	"github.com/plastr/extrasolar/internal/dbx"
	"github.com/plastr/extrasolar/internal/shared"
)

// RenderWork identifies the oldest unprocessed picture target for the
// external renderer.
type RenderWork struct {
	UserID   string
	RoverID  string
	TargetID string
}

// NextRenderTarget returns the renderer's next job, or nil when the queue is
// empty.
func (s *Service) NextRenderTarget(ctx context.Context, tx dbx.DBTX) (*RenderWork, error) {
	rows, err := s.store.runner.Rows(ctx, tx, "next_render_target", nil)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &RenderWork{
		UserID:   asStr(rows[0]["user_id"]),
		RoverID:  asStr(rows[0]["rover_id"]),
		TargetID: asStr(rows[0]["target_id"]),
	}, nil
}

// MarkProcessed records the renderer's output for a picture target. The MOD
// chip carrying image URLs is future-dated to just before arrival so the
// client cannot see the photo until the rover is there.
func (s *Service) MarkProcessed(ctx context.Context, tx dbx.DBTX, u *User, roverID, targetID string, images map[string]string) error {
	rover, err := u.Rover(ctx, roverID)
	if err != nil {
		return err
	}
	t, err := rover.Target(ctx, targetID)
	if err != nil {
		return err
	}
	if !t.Picture() {
		return fmt.Errorf("%w: target %s is not a picture target", shared.ErrorImproperInvocation, targetID)
	}
	if t.Processed() {
		return nil
	}

	_ = t.SetSilent("processed", true)
	_ = t.SetSilent("images", images)

	delivery := u.AbsoluteTime(t.ArrivalTime()).Add(-chips.DeliveryLeeway)
	if now := u.Session().Clock.Now(); delivery.Before(now) {
		delivery = now
	}
	ser, err := t.Serialize(ctx)
	if err != nil {
		return err
	}
	u.Session().EmitAt(chips.Mod, t.Path(), ser, delivery, true)

	return s.store.UpdateTargetProcessed(ctx, tx, u.UserID, t, images)
}

// StaleRenderWork lists picture targets still unprocessed past the alert
// threshold, for operator alerting. render_at is wall-clock microseconds so
// the queue orders across users.
func (s *Service) StaleRenderWork(ctx context.Context, tx dbx.DBTX) ([]RenderWork, error) {
	cutoff := chrono.UsecFromTime(s.clock.Now().Add(-RenderAlertThreshold))
	rows, err := s.store.runner.Rows(ctx, tx, "stale_render_targets", map[string]any{"cutoff": cutoff})
	if err != nil {
		return nil, err
	}
	var stale []RenderWork
	for _, row := range rows {
		work := RenderWork{
			UserID:   asStr(row["user_id"]),
			RoverID:  asStr(row["rover_id"]),
			TargetID: asStr(row["target_id"]),
		}
		s.log.Warn(ctx, "picture target unprocessed past alert threshold",
			"user_id", work.UserID, "target_id", work.TargetID)
		stale = append(stale, work)
	}
	return stale, nil
}
