package game

import (
	"context"
	"sort"

	"github.com/plastr/extrasolar/internal/dbx"
	"github.com/plastr/extrasolar/internal/geo"
	"github.com/plastr/extrasolar/internal/tree"
)

// contributedRegions computes the region ids the user's current state
// contributes: progress keys, each not-done mission's not-done set, and each
// done mission's done set.
func (s *Service) contributedRegions(ctx context.Context, u *User) (map[string]struct{}, error) {
	out := map[string]struct{}{}

	progress, err := u.Progress().All(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range progress {
		regions, err := s.reg.ProgressRegions(p.Str("key"))
		if err != nil {
			return nil, err
		}
		for _, id := range regions {
			out[id] = struct{}{}
		}
	}

	missions, err := allMissions(ctx, u)
	if err != nil {
		return nil, err
	}
	for _, m := range missions {
		def, ok := s.cat.Missions[m.Definition()]
		if !ok {
			continue
		}
		ids := def.RegionsNotDone
		if m.Done() {
			ids = def.RegionsDone
		}
		for _, id := range ids {
			out[id] = struct{}{}
		}
	}
	return out, nil
}

// RefreshRegions diffs the contributed set against a pre-transition
// snapshot and emits DELETE chips for dropped regions and ADD chips for new
// ones. Adding a region already in the tree is an invariant violation
// surfaced by the collection insert.
func (s *Service) RefreshRegions(ctx context.Context, u *User, pre map[string]struct{}) error {
	post, err := s.contributedRegions(ctx, u)
	if err != nil {
		return err
	}

	var dropped, added []string
	for id := range pre {
		if _, ok := post[id]; !ok {
			dropped = append(dropped, id)
		}
	}
	for id := range post {
		if _, ok := pre[id]; !ok {
			added = append(added, id)
		}
	}
	sort.Strings(dropped)
	sort.Strings(added)

	for _, id := range dropped {
		if err := u.Regions().Remove(ctx, id); err != nil {
			return err
		}
	}
	for _, id := range added {
		if err := u.Regions().Add(ctx, s.buildRegion(u, id)); err != nil {
			return err
		}
	}
	return nil
}

// rebuildRegions repopulates the region collection silently at load time.
func (s *Service) rebuildRegions(ctx context.Context, u *User) error {
	contributed, err := s.contributedRegions(ctx, u)
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(contributed))
	for id := range contributed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if err := u.Regions().AddSilent(ctx, s.buildRegion(u, id)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) buildRegion(u *User, id string) *tree.Model {
	def := s.cat.Regions[id]
	m := tree.NewModel(regionSpec, u.Session(), "")
	_ = m.SetSilent("region_id", id)
	_ = m.SetSilent("shape", def.Shape)
	_ = m.SetSilent("verts", def.Verts)
	_ = m.SetSilent("center", def.Center)
	_ = m.SetSilent("radius", def.Radius)
	_ = m.SetSilent("restrict", def.Restrict)
	_ = m.SetSilent("style", def.Style)
	_ = m.SetSilent("visible", def.Visible)
	return m
}

// checkAudioTriggers adds the mission behind every audio trigger the rover's
// movement segment crosses.
func (s *Service) checkAudioTriggers(ctx context.Context, tx dbx.DBTX, u *User, from, to geo.Point) error {
	for _, id := range s.cat.AudioTriggers() {
		circle, missionKey, ok := s.cat.Trigger(id)
		if !ok || !geo.SegmentIntersectsCircle(from, to, circle) {
			continue
		}
		has, err := hasMissionDefinition(ctx, u, missionKey)
		if err != nil {
			return err
		}
		if has {
			continue
		}
		if _, err := s.AddMission(ctx, tx, u, missionKey, nil); err != nil {
			return err
		}
		s.log.Info(ctx, "audio trigger crossed", "user_id", u.UserID,
			"region_id", id, "mission_definition", missionKey)
	}
	return nil
}

func hasMissionDefinition(ctx context.Context, u *User, defKey string) (bool, error) {
	all, err := allMissions(ctx, u)
	if err != nil {
		return false, err
	}
	for _, m := range all {
		if m.Definition() == defKey {
			return true, nil
		}
	}
	return false, nil
}
