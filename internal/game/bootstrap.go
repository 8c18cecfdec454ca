package game

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/plastr/extrasolar/internal/catalog"
	"github.com/plastr/extrasolar/internal/chips"
	"github.com/plastr/extrasolar/internal/dbx"
	"github.com/plastr/extrasolar/internal/deferred"
	"github.com/plastr/extrasolar/internal/tree"
)

// WelcomeMessageType opens every new player's story.
const WelcomeMessageType = "MSG_WELCOME"

// TutorialMissionKey is the scripted opening mission.
const TutorialMissionKey = "MIS_TUTORIAL01"

// CreateUser provisions a new player: the user row, the first rover at its
// lander, the full capability set, and the scripted opening state. The
// user's epoch is the creation instant.
func (s *Service) CreateUser(ctx context.Context, tx dbx.DBTX, email, firstName, lastName string, lander [2]float64) (*User, error) {
	now := s.clock.Now()
	session := tree.NewSession(uuid.NewString(), s.clock)
	u := NewUser(session, session.UserID, now)
	_ = u.SetSilent("email", email)
	_ = u.SetSilent("first_name", firstName)
	_ = u.SetSilent("last_name", lastName)
	_ = u.SetSilent("invites_left", int64(5))
	_ = u.SetSilent("current_voucher_level", "VCH_BASE")
	_ = u.SetSilent("activity_alert_frequency", ActivityFrequencyMedium)
	_ = u.SetSilent("valid", true)
	if err := s.store.InsertUser(ctx, tx, u); err != nil {
		return nil, err
	}

	if _, err := s.AddRover(ctx, tx, u, "RVR_S1_INITIAL", lander); err != nil {
		return nil, err
	}
	if err := s.seedCapabilities(ctx, tx, u); err != nil {
		return nil, err
	}
	if err := s.GrantVoucher(ctx, tx, u, "VCH_BASE"); err != nil {
		return nil, err
	}
	if _, err := s.SendMessage(ctx, tx, u, WelcomeMessageType); err != nil {
		return nil, err
	}
	if _, err := s.AddMission(ctx, tx, u, TutorialMissionKey, nil); err != nil {
		return nil, err
	}

	s.log.Info(ctx, "user created", "user_id", u.UserID, "email", email)
	return u, nil
}

// AddRover activates a new rover, deactivating the current one outside a
// scripted handover.
func (s *Service) AddRover(ctx context.Context, tx dbx.DBTX, u *User, roverKey string, lander [2]float64) (*Rover, error) {
	nowSecs, err := u.NowSeconds()
	if err != nil {
		return nil, err
	}

	existing, err := u.Rovers().All(ctx)
	if err != nil {
		return nil, err
	}
	for _, m := range existing {
		if m.Bool("active") {
			if err := m.Set(ctx, "active", false); err != nil {
				return nil, err
			}
		}
	}

	m := tree.NewModel(roverSpec, u.Session(), "")
	_ = m.SetSilent("rover_id", uuid.NewString())
	_ = m.SetSilent("rover_key", roverKey)
	_ = m.SetSilent("chassis", "S1")
	_ = m.SetSilent("activated_at", nowSecs)
	_ = m.SetSilent("active", true)
	_ = m.SetSilent("lander_lat", lander[0])
	_ = m.SetSilent("lander_lng", lander[1])
	_ = m.SetSilent("max_unarrived_targets", DefaultMaxUnarrivedTargets)
	_ = m.SetSilent("min_target_seconds", DefaultMinTargetSeconds)
	_ = m.SetSilent("max_target_seconds", DefaultMaxTargetSeconds)
	_ = m.SetSilent("max_travel_distance", DefaultMaxTravelDistance)
	if err := u.Rovers().Add(ctx, m); err != nil {
		return nil, err
	}
	rover := &Rover{Model: m, user: u}
	if err := s.store.InsertRover(ctx, tx, u.UserID, rover); err != nil {
		return nil, err
	}
	return rover, s.RefreshCapabilities(ctx, tx, u)
}

// seedCapabilities instantiates every catalogue capability for the user,
// unavailable until the first refresh.
func (s *Service) seedCapabilities(ctx context.Context, tx dbx.DBTX, u *User) error {
	for key, def := range s.cat.Capabilities {
		m := tree.NewModel(capabilitySpec, u.Session(), "")
		_ = m.SetSilent("capability_key", key)
		_ = m.SetSilent("uses", int64(0))
		_ = m.SetSilent("free_uses", def.FreeUses)
		_ = m.SetSilent("unlimited", false)
		_ = m.SetSilent("available", false)
		_ = m.SetSilent("rover_features", append([]string{}, def.RoverFeatures...))
		if err := u.Capabilities().AddSilent(ctx, m); err != nil {
			return err
		}
		if err := s.store.InsertCapability(ctx, tx, u.UserID, &Capability{Model: m}); err != nil {
			return err
		}
	}
	return s.RefreshCapabilities(ctx, tx, u)
}

// GrantAchievement awards an achievement once.
func (s *Service) GrantAchievement(ctx context.Context, tx dbx.DBTX, u *User, key string) error {
	has, err := u.Achievements().Has(ctx, key)
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
	m := tree.NewModel(achievementSpec, u.Session(), "")
	_ = m.SetSilent("achievement_key", key)
	_ = m.SetSilent("achieved_at", nowSecs)
	if err := u.Achievements().Add(ctx, m); err != nil {
		return err
	}
	return s.store.InsertAchievement(ctx, tx, u.UserID, key, nowSecs)
}

// LoadUser assembles the tree from rows and layers the catalogue-derived
// state on top: region contributions and species naming by availability.
func (s *Service) LoadUser(ctx context.Context, tx dbx.DBTX, userID string) (*User, error) {
	u, err := s.store.LoadUser(ctx, tx, userID, s.clock)
	if err != nil {
		return nil, err
	}
	if err := s.rebuildRegions(ctx, u); err != nil {
		return nil, err
	}
	if err := s.nameSpecies(ctx, u); err != nil {
		return nil, err
	}
	if err := s.decorateCapabilities(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// nameSpecies fills in name, description, and icon per species: placeholder
// until available_at, catalogue content after.
func (s *Service) nameSpecies(ctx context.Context, u *User) error {
	nowSecs, err := u.NowSeconds()
	if err != nil {
		return err
	}
	all, err := u.SpeciesList().All(ctx)
	if err != nil {
		return err
	}
	for _, m := range all {
		id, _ := strconv.ParseInt(m.Str("species_id"), 10, 64)
		def, ok := s.cat.Species[id]
		if !ok {
			continue
		}
		if m.Int("available_at") > nowSecs {
			_ = m.SetSilent("name", catalog.PendingSpeciesName)
			_ = m.SetSilent("description", "")
			_ = m.SetSilent("icon", "")
		} else {
			_ = m.SetSilent("name", def.Name)
			_ = m.SetSilent("description", def.Description)
			_ = m.SetSilent("icon", def.Icon)
		}
	}
	return nil
}

// flushChips writes the session's buffered chips into the journal under the
// current transaction.
func (s *Service) flushChips(ctx context.Context, tx dbx.DBTX, u *User) error {
	return u.Session().Buf.Flush(ctx, chips.NewJournal(tx), u.UserID)
}

// HandleTimer is the TIMER deferred handler: the subtype tag selects the
// registered timer callback.
func (s *Service) HandleTimer(ctx context.Context, tx dbx.DBTX, row deferred.Row) error {
	u, err := s.LoadUser(ctx, tx, row.UserID)
	if err != nil {
		return err
	}
	if err := s.reg.FireTimer(ctx, row.Subtype, s, u, row.Payload); err != nil {
		return err
	}
	return s.flushChips(ctx, tx, u)
}

// ScheduleTimer enqueues a TIMER row, suppressing duplicates per tag.
func (s *Service) ScheduleTimer(ctx context.Context, tx dbx.DBTX, u *User, tag string, delay time.Duration, payload map[string]any) error {
	queued, err := s.sched.IsQueuedForUser(ctx, tx, u.UserID, deferred.TypeTimer, tag)
	if err != nil {
		return err
	}
	if queued {
		return nil
	}
	return s.sched.RunLater(ctx, tx, u.Session().Clock.Now(), u.UserID,
		deferred.TypeTimer, tag, delay, payload)
}
