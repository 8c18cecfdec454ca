package game

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/plastr/extrasolar/internal/chrono"
	"github.com/plastr/extrasolar/internal/dbx"
	"github.com/plastr/extrasolar/internal/deferred"
	"github.com/plastr/extrasolar/internal/geo"
	"github.com/plastr/extrasolar/internal/shared"
	"github.com/plastr/extrasolar/internal/tree"
)

// CreateTarget validates and commits a new rover target. cid, when non-empty,
// is the client's correlation id: the ADD chip goes out under it and a MOD
// chip follows carrying the server-assigned target_id.
//
// start_time chains off the previous target: while the rover is still en
// route the new leg begins at the predecessor's arrival.
func (s *Service) CreateTarget(ctx context.Context, tx dbx.DBTX, u *User, roverID, cid string, p TargetParams) (*Target, error) {
	rover, err := u.Rover(ctx, roverID)
	if err != nil {
		return nil, err
	}
	if !rover.Bool("active") {
		return nil, fmt.Errorf("%w: rover %s is not active", shared.ErrorTargetInvalid, roverID)
	}

	nowSecs, err := u.NowSeconds()
	if err != nil {
		return nil, err
	}

	prev, err := rover.LastTarget(ctx)
	if err != nil {
		return nil, err
	}
	startTime := nowSecs
	prevPoint := rover.LanderPoint()
	var seq int64 = 1
	if prev != nil {
		prevPoint = prev.Point()
		seq = prev.Seq() + 1
		if !prev.Arrived(nowSecs) {
			startTime = prev.ArrivalTime()
		}
	}
	arrivalTime := startTime + p.ArrivalDelta

	if err := s.validateTarget(ctx, u, rover, prevPoint, nowSecs, p); err != nil {
		return nil, err
	}

	if err := s.consumeFeatures(ctx, tx, u, p); err != nil {
		return nil, err
	}

	m := tree.NewModel(targetSpec, u.Session(), cid)
	_ = m.SetSilent("seq", seq)
	_ = m.SetSilent("lat", p.Lat)
	_ = m.SetSilent("lng", p.Lng)
	_ = m.SetSilent("yaw", p.Yaw)
	_ = m.SetSilent("pitch", p.Pitch)
	_ = m.SetSilent("start_time", startTime)
	_ = m.SetSilent("arrival_time", arrivalTime)
	_ = m.SetSilent("picture", p.Picture)
	_ = m.SetSilent("processed", false)
	_ = m.SetSilent("classified", false)
	_ = m.SetSilent("highlighted", false)
	_ = m.SetSilent("metadata", p.Metadata)
	_ = m.SetSilent("images", map[string]string{})
	_ = m.SetSilent("sounds", []string{})
	_ = m.SetSilent("render_at", chrono.UsecFromTime(u.Session().Clock.Now()))

	targetID := uuid.NewString()
	if cid == "" {
		_ = m.SetSilent("target_id", targetID)
		if err := rover.Targets().Add(ctx, m); err != nil {
			return nil, err
		}
	} else {
		// the ADD goes out under the cid; the id assignment reindexes the
		// collection and tells the client the real id via a MOD
		if err := rover.Targets().Add(ctx, m); err != nil {
			return nil, err
		}
		if err := m.Set(ctx, "target_id", targetID); err != nil {
			return nil, err
		}
	}
	t := &Target{Model: m, rover: rover}

	if err := s.store.InsertTarget(ctx, tx, u.UserID, t); err != nil {
		return nil, err
	}

	now := u.Session().Clock.Now()
	delay := u.AbsoluteTime(arrivalTime).Sub(now)
	if err := s.sched.RunLater(ctx, tx, now, u.UserID, deferred.TypeTargetArrived, targetID, delay,
		map[string]any{"rover_id": roverID}); err != nil {
		return nil, err
	}

	if err := s.updateMapTiles(ctx, tx, u, prevPoint, t); err != nil {
		return nil, err
	}
	if err := s.checkAudioTriggers(ctx, tx, u, prevPoint, t.Point()); err != nil {
		return nil, err
	}

	s.log.Info(ctx, "target created",
		"user_id", u.UserID, "rover_id", roverID, "target_id", targetID,
		"seq", seq, "arrival_time", arrivalTime)
	return t, nil
}

func (s *Service) validateTarget(ctx context.Context, u *User, rover *Rover, prevPoint geo.Point, nowSecs int64, p TargetParams) error {
	distance := geo.MetersBetween(prevPoint.Lat, prevPoint.Lng, p.Lat, p.Lng)
	if limit := rover.MaxTravelDistance() + TravelDistanceGrace; distance > limit {
		return fmt.Errorf("%w: target %.0fm away exceeds travel distance limit of %.0fm",
			shared.ErrorTargetInvalid, distance, rover.MaxTravelDistance())
	}

	minSecs := rover.MinTargetSeconds() - TargetSecondsGrace
	if _, fast := p.Metadata[MetadataFast]; fast {
		minSecs = MinFastTargetSeconds
	}
	maxSecs := rover.MaxTargetSeconds() + TargetSecondsGrace
	if p.ArrivalDelta < minSecs || p.ArrivalDelta > maxSecs {
		return fmt.Errorf("%w: travel time %ds outside [%ds, %ds]",
			shared.ErrorTargetInvalid, p.ArrivalDelta, minSecs, maxSecs)
	}

	unarrived, err := rover.UnarrivedCount(ctx, nowSecs)
	if err != nil {
		return err
	}
	if unarrived >= rover.MaxUnarrivedTargets() {
		return fmt.Errorf("%w: rover already has %d pending targets",
			shared.ErrorTargetInvalid, unarrived)
	}

	missions, err := notDoneMissions(ctx, u)
	if err != nil {
		return err
	}
	for _, mission := range missions {
		veto, err := s.reg.ValidateNewTargetParams(ctx, mission.Definition(), u, mission, p)
		if err != nil {
			return err
		}
		if veto != "" {
			return fmt.Errorf("%w: %s", shared.ErrorTargetInvalid, veto)
		}
	}
	return nil
}

// consumeFeatures arbitrates every rover feature the target requests and
// charges one use against its single available provider.
func (s *Service) consumeFeatures(ctx context.Context, tx dbx.DBTX, u *User, p TargetParams) error {
	for _, feature := range s.requestedFeatures(p) {
		provider, err := s.FeatureProvider(ctx, u, feature)
		if err != nil {
			return err
		}
		if provider == nil || !provider.CanUse() {
			return fmt.Errorf("%w: feature %q is not available", shared.ErrorTargetInvalid, feature)
		}
		if err := provider.AddUses(ctx, 1); err != nil {
			return err
		}
		if err := s.store.UpdateCapabilityUses(ctx, tx, u.UserID, provider.Key(), provider.Uses()); err != nil {
			return err
		}
	}
	return nil
}

// requestedFeatures extracts the metadata keys that name rover features,
// plus the picture feature when a photo is requested.
func (s *Service) requestedFeatures(p TargetParams) []string {
	known := map[string]struct{}{}
	for _, def := range s.cat.Capabilities {
		for _, f := range def.RoverFeatures {
			known[f] = struct{}{}
		}
	}
	var features []string
	if p.Picture {
		features = append(features, FeaturePicture)
	}
	for key := range p.Metadata {
		if key == FeaturePicture {
			continue
		}
		if _, ok := known[key]; ok {
			features = append(features, key)
		}
	}
	return features
}

// HandleTargetArrived is the TARGET_ARRIVED deferred handler: mission and
// achievement hooks fire, and the next queued target goes en route. A
// missing target means it was aborted after scheduling; the row is consumed
// without effect.
func (s *Service) HandleTargetArrived(ctx context.Context, tx dbx.DBTX, row deferred.Row) error {
	u, err := s.LoadUser(ctx, tx, row.UserID)
	if err != nil {
		return err
	}
	roverID, _ := row.Payload["rover_id"].(string)
	rover, err := u.Rover(ctx, roverID)
	if err != nil {
		return err
	}
	t, err := rover.Target(ctx, row.Subtype)
	if err != nil {
		s.log.Info(ctx, "arrived target no longer exists, skipping",
			"user_id", row.UserID, "target_id", row.Subtype)
		return nil
	}

	missions, err := notDoneMissions(ctx, u)
	if err != nil {
		return err
	}
	for _, mission := range missions {
		if err := s.reg.OnArrivedAtTarget(ctx, mission.Definition(), s, u, t); err != nil {
			return err
		}
	}
	if err := s.reg.ArrivedAchievements(ctx, s, u, t); err != nil {
		return err
	}

	next, err := s.nextTarget(ctx, rover, t.Seq())
	if err != nil {
		return err
	}
	if next != nil {
		for _, mission := range missions {
			if err := s.reg.OnTargetEnRoute(ctx, mission.Definition(), s, u, next); err != nil {
				return err
			}
		}
	}

	return s.flushChips(ctx, tx, u)
}

func (s *Service) nextTarget(ctx context.Context, rover *Rover, afterSeq int64) (*Target, error) {
	targets, err := rover.TargetsBySeq(ctx)
	if err != nil {
		return nil, err
	}
	for _, t := range targets {
		if t.Seq() > afterSeq {
			return t, nil
		}
	}
	return nil, nil
}
