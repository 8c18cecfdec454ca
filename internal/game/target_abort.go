package game

import (
	"context"
	"fmt"

	"github.com/plastr/extrasolar/internal/dbx"
	"github.com/plastr/extrasolar/internal/shared"
)

// AbortTarget deletes a not-yet-arrived target and every successor, newest
// first, refunding capability uses its features consumed and reverting the
// map-tile versions each doomed target introduced. Aborting a target that
// is already gone succeeds without effect.
func (s *Service) AbortTarget(ctx context.Context, tx dbx.DBTX, u *User, roverID, targetID string) error {
	rover, err := u.Rover(ctx, roverID)
	if err != nil {
		return err
	}
	has, err := rover.Targets().Has(ctx, targetID)
	if err != nil {
		return err
	}
	if !has {
		return nil
	}
	t, err := rover.Target(ctx, targetID)
	if err != nil {
		return err
	}

	nowSecs, err := u.NowSeconds()
	if err != nil {
		return err
	}

	targets, err := rover.TargetsBySeq(ctx)
	if err != nil {
		return err
	}
	var doomed []*Target
	for _, cand := range targets {
		if cand.Seq() < t.Seq() {
			continue
		}
		if cand.Arrived(nowSecs) {
			return fmt.Errorf("%w: target %s has already arrived",
				shared.ErrorTargetNotAborted, cand.TargetID())
		}
		if err := s.checkAbortable(ctx, u, cand); err != nil {
			return err
		}
		doomed = append(doomed, cand)
	}

	// newest first so the chain invariant holds at every step
	for i := len(doomed) - 1; i >= 0; i-- {
		if err := s.deleteTarget(ctx, tx, u, rover, doomed[i]); err != nil {
			return err
		}
	}

	s.log.Info(ctx, "target aborted", "user_id", u.UserID, "rover_id", roverID,
		"target_id", targetID, "cascade", len(doomed))
	return nil
}

func (s *Service) checkAbortable(ctx context.Context, u *User, t *Target) error {
	missions, err := notDoneMissions(ctx, u)
	if err != nil {
		return err
	}
	for _, mission := range missions {
		ok, err := s.reg.CanAbortTarget(ctx, mission.Definition(), u, t)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: target %s is locked by mission %s",
				shared.ErrorTargetNotAborted, t.TargetID(), mission.MissionID())
		}
	}
	return nil
}

func (s *Service) deleteTarget(ctx context.Context, tx dbx.DBTX, u *User, rover *Rover, t *Target) error {
	if err := s.refundFeatures(ctx, tx, u, t); err != nil {
		return err
	}
	if err := s.revertMapTiles(ctx, tx, u, t); err != nil {
		return err
	}
	if err := s.store.DeleteTargetCascade(ctx, tx, u.UserID, t.TargetID()); err != nil {
		return err
	}
	return rover.Targets().Remove(ctx, t.TargetID())
}

func (s *Service) refundFeatures(ctx context.Context, tx dbx.DBTX, u *User, t *Target) error {
	params := TargetParams{Picture: t.Picture(), Metadata: t.Metadata()}
	for _, feature := range s.requestedFeatures(params) {
		provider, err := s.FeatureProvider(ctx, u, feature)
		if err != nil {
			return err
		}
		if provider == nil {
			continue
		}
		if err := provider.AddUses(ctx, -1); err != nil {
			return err
		}
		if err := s.store.UpdateCapabilityUses(ctx, tx, u.UserID, provider.Key(), provider.Uses()); err != nil {
			return err
		}
	}
	return nil
}
