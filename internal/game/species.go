package game

import (
	"context"
	"fmt"
	"strconv"

	"github.com/plastr/extrasolar/internal/catalog"
	"github.com/plastr/extrasolar/internal/chips"
	"github.com/plastr/extrasolar/internal/dbx"
	"github.com/plastr/extrasolar/internal/shared"
	"github.com/plastr/extrasolar/internal/tree"
)

// Species wraps a detected-species model. Until available_at the
// serialisation carries placeholder name, description, and icon.
type Species struct {
	*tree.Model
}

func (sp *Species) SpeciesID() int64 {
	id, _ := strconv.ParseInt(sp.Str("species_id"), 10, 64)
	return id
}

func (sp *Species) TargetIDs() [][]string {
	if v, ok := sp.Value("target_ids").([][]string); ok {
		return v
	}
	return nil
}

// CheckSpecies runs the image-analysis flow for an arrived, processed
// picture target: the rectangles are validated, dispatched to the analyzer,
// and at most one species plus subspecies is chosen per rectangle by the
// weighted-score rule.
func (s *Service) CheckSpecies(ctx context.Context, tx dbx.DBTX, u *User, roverID, targetID string, rects []Rect) ([]int64, error) {
	rover, err := u.Rover(ctx, roverID)
	if err != nil {
		return nil, err
	}
	t, err := rover.Target(ctx, targetID)
	if err != nil {
		return nil, err
	}

	nowSecs, err := u.NowSeconds()
	if err != nil {
		return nil, err
	}
	if !t.Arrived(nowSecs) || !t.Processed() || !t.Picture() {
		return nil, fmt.Errorf("%w: target %s is not an arrived processed photo",
			shared.ErrorBadRequest, targetID)
	}
	for _, r := range rects {
		if err := validateRect(r); err != nil {
			return nil, err
		}
	}

	images, _ := t.Value("images").(map[string]string)
	speciesImage := images["species"]

	chosen := make([]int64, 0, len(rects))
	for _, r := range rects {
		seq, err := t.NextRectSeq(ctx)
		if err != nil {
			return nil, err
		}
		candidates, err := s.analyzer.Analyze(ctx, speciesImage, r)
		if err != nil {
			return nil, fmt.Errorf("%w: species analysis: %v", shared.ErrorTransient, err)
		}

		rawID, density := s.selectCandidate(candidates)
		chosen = append(chosen, rawID)

		rect := tree.NewModel(imageRectSpec, u.Session(), "")
		_ = rect.SetSilent("seq", seq)
		_ = rect.SetSilent("xmin", r.XMin)
		_ = rect.SetSilent("ymin", r.YMin)
		_ = rect.SetSilent("xmax", r.XMax)
		_ = rect.SetSilent("ymax", r.YMax)
		_ = rect.SetSilent("density", density)
		speciesID := catalog.SpeciesKey(rawID)
		subspeciesID := catalog.SubspeciesOf(rawID)
		if rawID != 0 {
			_ = rect.SetSilent("species_id", speciesID)
			_ = rect.SetSilent("subspecies_id", subspeciesID)
		}
		if err := t.ImageRects().Add(ctx, rect); err != nil {
			return nil, err
		}
		if err := s.store.InsertTargetRect(ctx, tx, u.UserID, targetID, seq, r, speciesID, subspeciesID, density); err != nil {
			return nil, err
		}

		if rawID != 0 {
			if err := s.recordDetection(ctx, tx, u, rover, t, rawID, nowSecs); err != nil {
				return nil, err
			}
		}
	}

	if !t.Classified() {
		if err := t.Set(ctx, "classified", true); err != nil {
			return nil, err
		}
		if err := s.store.UpdateTargetClassified(ctx, tx, u.UserID, targetID); err != nil {
			return nil, err
		}
	}
	return chosen, nil
}

func validateRect(r Rect) error {
	ok := r.XMin >= 0 && r.YMin >= 0 && r.XMin < r.XMax && r.YMin < r.YMax &&
		r.XMin <= 1.0 && r.YMax <= 1.0 && r.XMax <= 2.0
	if !ok {
		return fmt.Errorf("%w: invalid rect [%g %g %g %g]", shared.ErrorBadRequest,
			r.XMin, r.YMin, r.XMax, r.YMax)
	}
	return nil
}

// selectCandidate picks the winning detection for a rectangle: densities are
// clamped to [0, 1] and weighted by species type; the highest weighted score
// wins. Zero means no detection.
func (s *Service) selectCandidate(candidates []SpeciesCandidate) (int64, float64) {
	var bestID int64
	var bestDensity, bestScore float64
	for _, c := range candidates {
		def, ok := s.cat.Species[catalog.SpeciesKey(c.RawID)]
		if !ok {
			continue
		}
		density := c.Density
		if density < 0 {
			density = 0
		}
		if density > 1 {
			density = 1
		}
		score := density * catalog.ScoreWeight(def.Type)
		if score > bestScore {
			bestID, bestDensity, bestScore = c.RawID, density, score
		}
	}
	return bestID, bestDensity
}

// recordDetection updates the user's species catalogue for one hit. New
// species arrive as an ADD chip with placeholder content when the reveal is
// delayed; the full reveal travels as a future MOD at available_at.
func (s *Service) recordDetection(ctx context.Context, tx dbx.DBTX, u *User, rover *Rover, t *Target, rawID int64, nowSecs int64) error {
	speciesID := catalog.SpeciesKey(rawID)
	subspeciesID := catalog.SubspeciesOf(rawID)
	def, ok := s.cat.Species[speciesID]
	if !ok {
		return fmt.Errorf("%w: analyzer returned unknown species %d", shared.ErrorInternal, speciesID)
	}
	idStr := strconv.FormatInt(speciesID, 10)

	var sp *Species
	if has, err := u.SpeciesList().Has(ctx, idStr); err != nil {
		return err
	} else if has {
		m, err := u.SpeciesList().Get(ctx, idStr)
		if err != nil {
			return err
		}
		sp = &Species{Model: m}
		targets := append(sp.TargetIDs(), []string{rover.RoverID(), t.TargetID()})
		if err := sp.Set(ctx, "target_ids", targets); err != nil {
			return err
		}
		if err := s.store.UpdateSpeciesTargets(ctx, tx, u.UserID, sp); err != nil {
			return err
		}
	} else {
		delay := def.DelaySeconds
		if delay > catalog.MaxAvailabilityDelaySeconds {
			delay = catalog.MaxAvailabilityDelaySeconds
		}
		availableAt := nowSecs + delay

		m := tree.NewModel(speciesSpec, u.Session(), "")
		_ = m.SetSilent("species_id", idStr)
		_ = m.SetSilent("detected_at", nowSecs)
		_ = m.SetSilent("available_at", availableAt)
		_ = m.SetSilent("target_ids", [][]string{{rover.RoverID(), t.TargetID()}})
		if delay > 0 {
			_ = m.SetSilent("name", catalog.PendingSpeciesName)
			_ = m.SetSilent("description", "")
			_ = m.SetSilent("icon", "")
		} else {
			_ = m.SetSilent("name", def.Name)
			_ = m.SetSilent("description", def.Description)
			_ = m.SetSilent("icon", def.Icon)
		}
		if err := u.SpeciesList().Add(ctx, m); err != nil {
			return err
		}
		sp = &Species{Model: m}
		if err := s.store.InsertSpecies(ctx, tx, u.UserID, sp); err != nil {
			return err
		}

		if delay > 0 {
			// the reveal is already journalled: a future MOD carrying the
			// real name lands when available_at passes
			u.Session().EmitAt(chips.Mod, m.Path(), map[string]any{
				"species_id":  idStr,
				"name":        def.Name,
				"description": def.Description,
				"icon":        def.Icon,
			}, u.AbsoluteTime(availableAt), true)
		}
	}

	if subspeciesID != 0 {
		subStr := strconv.FormatInt(subspeciesID, 10)
		if has, err := sp.Collection("subspecies").Has(ctx, subStr); err != nil {
			return err
		} else if !has {
			sub := tree.NewModel(subspeciesSpec, u.Session(), "")
			_ = sub.SetSilent("subspecies_id", subStr)
			_ = sub.SetSilent("detected_at", nowSecs)
			if err := sp.Collection("subspecies").Add(ctx, sub); err != nil {
				return err
			}
			if err := s.store.InsertSubspecies(ctx, tx, u.UserID, speciesID, subspeciesID, nowSecs); err != nil {
				return err
			}
		}
	}

	// too-far markers never fire identification events
	if !catalog.TooFar(speciesID) {
		if err := s.reg.OnSpeciesIdentified(ctx, idStr, s, u, sp); err != nil {
			return err
		}
	}
	return nil
}

// MarkSpeciesViewed is idempotent.
func (s *Service) MarkSpeciesViewed(ctx context.Context, tx dbx.DBTX, u *User, speciesID int64) error {
	m, err := u.SpeciesList().Get(ctx, strconv.FormatInt(speciesID, 10))
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
	return s.store.UpdateSpeciesViewed(ctx, tx, u.UserID, speciesID, nowSecs)
}
