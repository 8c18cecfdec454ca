package game

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/plastr/extrasolar/internal/dbx"
	"github.com/plastr/extrasolar/internal/deferred"
	"github.com/plastr/extrasolar/internal/shared"
	"github.com/plastr/extrasolar/internal/tree"
)

// Mission wraps a mission model. A parent mission carries its parts as a
// child collection; a serial parent requires them done in order.
type Mission struct {
	*tree.Model
}

func (m *Mission) MissionID() string     { return m.ID() }
func (m *Mission) Definition() string    { return m.Str("mission_definition") }
func (m *Mission) Done() bool            { return m.Bool("done") }
func (m *Mission) Parts() *tree.Collection { return m.Collection("parts") }

func (m *Mission) Specifics() map[string]any {
	if v, ok := m.Value("specifics").(map[string]any); ok {
		return v
	}
	return nil
}

// SpecificsHash derives the stable mission id from the definition key and
// the canonical serialisation of its specifics.
func SpecificsHash(defKey string, specifics map[string]any) string {
	canonical, _ := json.Marshal(specifics) // map keys marshal sorted
	sum := sha256.Sum256([]byte(defKey + ":" + string(canonical)))
	return hex.EncodeToString(sum[:])[:16]
}

// AddMission instantiates a mission definition for the user, creating part
// children for parent definitions. Adding a mission that already exists logs
// a warning and returns nil without a chip.
func (s *Service) AddMission(ctx context.Context, tx dbx.DBTX, u *User, defKey string, specifics map[string]any) (*Mission, error) {
	def, ok := s.cat.Missions[defKey]
	if !ok {
		return nil, fmt.Errorf("%w: unknown mission definition %q", shared.ErrorBadRequest, defKey)
	}
	hash := SpecificsHash(defKey, specifics)
	if existing, _ := findMission(ctx, u, hash); existing != nil {
		s.log.Warn(ctx, "mission already present, skipping add",
			"user_id", u.UserID, "mission_definition", defKey, "mission_id", hash)
		return nil, nil
	}

	nowSecs, err := u.NowSeconds()
	if err != nil {
		return nil, err
	}
	pre, err := s.contributedRegions(ctx, u)
	if err != nil {
		return nil, err
	}

	parent, err := s.buildMission(ctx, u, def.Key, hash, "", specifics, nowSecs)
	if err != nil {
		return nil, err
	}
	for _, partKey := range def.Parts {
		partHash := SpecificsHash(partKey, specifics)
		part, err := s.buildMission(ctx, u, partKey, partHash, hash, specifics, nowSecs)
		if err != nil {
			return nil, err
		}
		if err := parent.Parts().AddSilent(ctx, part.Model); err != nil {
			return nil, err
		}
	}

	// children attach silently first so the single ADD chip carries the
	// whole mission subtree
	if err := u.Missions().Add(ctx, parent.Model); err != nil {
		return nil, err
	}

	if err := s.store.InsertMission(ctx, tx, u.UserID, parent); err != nil {
		return nil, err
	}
	parts, err := parent.Parts().All(ctx)
	if err != nil {
		return nil, err
	}
	for _, part := range parts {
		if err := s.store.InsertMission(ctx, tx, u.UserID, &Mission{Model: part}); err != nil {
			return nil, err
		}
	}

	if err := s.RefreshRegions(ctx, u, pre); err != nil {
		return nil, err
	}
	s.log.Info(ctx, "mission added", "user_id", u.UserID, "mission_definition", defKey, "mission_id", hash)
	return parent, nil
}

func (s *Service) buildMission(ctx context.Context, u *User, defKey, hash, parentHash string, specifics map[string]any, nowSecs int64) (*Mission, error) {
	def := s.cat.Missions[defKey]
	m := tree.NewModel(missionSpec, u.Session(), "")
	_ = m.SetSilent("mission_id", hash)
	_ = m.SetSilent("mission_definition", defKey)
	_ = m.SetSilent("specifics", specifics)
	_ = m.SetSilent("specifics_hash", hash)
	_ = m.SetSilent("parent_hash", parentHash)
	_ = m.SetSilent("title", def.Title)
	_ = m.SetSilent("summary", def.Summary)
	_ = m.SetSilent("done", false)
	_ = m.SetSilent("started_at", nowSecs)
	return &Mission{Model: m}, nil
}

// MarkMissionDone completes a mission. Completing a serial child retroactively
// completes every earlier sibling; completing the last child completes the
// parent. Chips go out in child-then-parent order. Already-done missions are
// a no-op.
func (s *Service) MarkMissionDone(ctx context.Context, tx dbx.DBTX, u *User, missionID string) error {
	m, parent := findMission(ctx, u, missionID)
	if m == nil {
		return fmt.Errorf("%w: mission %s", shared.ErrorNotFound, missionID)
	}
	if m.Done() {
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

	var completed []*Mission

	if parent != nil && s.isSerial(parent) {
		siblings, err := parent.Parts().All(ctx)
		if err != nil {
			return err
		}
		for _, sib := range siblings {
			sm := &Mission{Model: sib}
			if sm.MissionID() == missionID {
				break
			}
			if !sm.Done() {
				completed = append(completed, sm)
			}
		}
	}
	completed = append(completed, m)

	if children := parts(ctx, m); len(children) > 0 {
		for _, part := range children {
			if !part.Done() {
				return fmt.Errorf("%w: mission %s marked done with part %s not done",
					shared.ErrorInternal, missionID, part.MissionID())
			}
		}
	}

	if parent != nil && !parent.Done() {
		allDone := true
		siblings, err := parent.Parts().All(ctx)
		if err != nil {
			return err
		}
		for _, sib := range siblings {
			sm := &Mission{Model: sib}
			if sm.MissionID() == missionID {
				continue
			}
			done := sm.Done()
			for _, c := range completed {
				if c.MissionID() == sm.MissionID() {
					done = true
				}
			}
			if !done {
				allDone = false
			}
		}
		if allDone {
			completed = append(completed, parent)
		}
	}

	for _, done := range completed {
		if err := s.markDoneOne(ctx, tx, u, done, nowSecs); err != nil {
			return err
		}
	}
	for _, done := range completed {
		if err := s.reg.OnMissionDone(ctx, done.Definition(), s, u, done); err != nil {
			return err
		}
	}

	return s.RefreshRegions(ctx, u, pre)
}

func (s *Service) markDoneOne(ctx context.Context, tx dbx.DBTX, u *User, m *Mission, nowSecs int64) error {
	_ = m.SetSilent("done_at", nowSecs)
	if err := m.Set(ctx, "done", true); err != nil {
		return err
	}
	return s.store.UpdateMissionDone(ctx, tx, u.UserID, m.MissionID(), nowSecs)
}

// MarkMissionViewed is idempotent.
func (s *Service) MarkMissionViewed(ctx context.Context, tx dbx.DBTX, u *User, missionID string) error {
	m, _ := findMission(ctx, u, missionID)
	if m == nil {
		return fmt.Errorf("%w: mission %s", shared.ErrorNotFound, missionID)
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
	return s.store.UpdateMissionViewed(ctx, tx, u.UserID, missionID, nowSecs)
}

// SerialActiveChild returns the first not-done part of a serial parent.
func (s *Service) SerialActiveChild(ctx context.Context, parent *Mission) (*Mission, error) {
	if !s.isSerial(parent) {
		return nil, fmt.Errorf("%w: mission %s is not a serial parent",
			shared.ErrorImproperInvocation, parent.MissionID())
	}
	children, err := parent.Parts().All(ctx)
	if err != nil {
		return nil, err
	}
	for _, child := range children {
		cm := &Mission{Model: child}
		if !cm.Done() {
			return cm, nil
		}
	}
	return nil, nil
}

func (s *Service) isSerial(m *Mission) bool {
	def, ok := s.cat.Missions[m.Definition()]
	return ok && def.Serial
}

// ScheduleMissionDone enqueues a MISSION_DONE_AFTER row completing the
// mission at a future moment unless it is already done by then.
func (s *Service) ScheduleMissionDone(ctx context.Context, tx dbx.DBTX, u *User, missionID string, delay time.Duration) error {
	queued, err := s.sched.IsQueuedForUser(ctx, tx, u.UserID, deferred.TypeMissionDoneAfter, missionID)
	if err != nil {
		return err
	}
	if queued {
		return nil
	}
	return s.sched.RunLater(ctx, tx, u.Session().Clock.Now(), u.UserID,
		deferred.TypeMissionDoneAfter, missionID, delay, nil)
}

// HandleMissionDoneAfter is the MISSION_DONE_AFTER deferred handler.
func (s *Service) HandleMissionDoneAfter(ctx context.Context, tx dbx.DBTX, row deferred.Row) error {
	u, err := s.LoadUser(ctx, tx, row.UserID)
	if err != nil {
		return err
	}
	if err := s.MarkMissionDone(ctx, tx, u, row.Subtype); err != nil {
		return err
	}
	return s.flushChips(ctx, tx, u)
}

// allMissions walks parents and parts.
func allMissions(ctx context.Context, u *User) ([]*Mission, error) {
	tops, err := u.Missions().All(ctx)
	if err != nil {
		return nil, err
	}
	var out []*Mission
	for _, top := range tops {
		m := &Mission{Model: top}
		out = append(out, m)
		out = append(out, parts(ctx, m)...)
	}
	return out, nil
}

func parts(ctx context.Context, m *Mission) []*Mission {
	children, err := m.Parts().All(ctx)
	if err != nil {
		return nil
	}
	out := make([]*Mission, 0, len(children))
	for _, child := range children {
		out = append(out, &Mission{Model: child})
	}
	return out
}

func notDoneMissions(ctx context.Context, u *User) ([]*Mission, error) {
	all, err := allMissions(ctx, u)
	if err != nil {
		return nil, err
	}
	var out []*Mission
	for _, m := range all {
		if !m.Done() {
			out = append(out, m)
		}
	}
	return out, nil
}

func findMission(ctx context.Context, u *User, missionID string) (*Mission, *Mission) {
	tops, err := u.Missions().All(ctx)
	if err != nil {
		return nil, nil
	}
	for _, top := range tops {
		m := &Mission{Model: top}
		if m.MissionID() == missionID {
			return m, nil
		}
		for _, part := range parts(ctx, m) {
			if part.MissionID() == missionID {
				return part, m
			}
		}
	}
	return nil, nil
}
