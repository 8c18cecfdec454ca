package game

import (
	"context"
	"time"

	"github.com/plastr/extrasolar/internal/chrono"
	"github.com/plastr/extrasolar/internal/dbx"
)

// Digest is a windowed rollup of activity the player has not seen yet.
type Digest struct {
	UnreadMessages  int
	UnviewedTargets int
	UnviewedSpecies int
	EarliestUnread  time.Time
}

// RunActivityDigest sends the user a digest when unseen activity has aged
// past the user's frequency window and no digest went out within the same
// window. The window start advances to now after a send.
func (s *Service) RunActivityDigest(ctx context.Context, tx dbx.DBTX, u *User) error {
	window, enabled := ActivityWindow(u.Str("activity_alert_frequency"))
	if !enabled {
		return nil
	}

	digest, earliest, err := s.buildDigest(ctx, u)
	if err != nil {
		return err
	}
	if digest.UnreadMessages+digest.UnviewedTargets+digest.UnviewedSpecies == 0 {
		return nil
	}

	now := u.Session().Clock.Now()
	if now.Sub(earliest) <= window {
		return nil
	}
	if u.IsSet("activity_last_sent_at") {
		lastSent := chrono.TimeFromUsec(u.Int("activity_last_sent_at"))
		if now.Sub(lastSent) <= window {
			return nil
		}
	}

	digest.EarliestUnread = earliest
	if err := s.digests.SendActivityDigest(ctx, u.Str("email"), digest); err != nil {
		return err
	}

	_ = u.SetSilent("activity_window_start", chrono.UsecFromTime(now))
	_ = u.SetSilent("activity_last_sent_at", chrono.UsecFromTime(now))
	if err := s.store.UpdateUserActivity(ctx, tx, u.UserID, now, now); err != nil {
		return err
	}
	s.log.Info(ctx, "activity digest sent", "user_id", u.UserID,
		"unread_messages", digest.UnreadMessages,
		"unviewed_targets", digest.UnviewedTargets,
		"unviewed_species", digest.UnviewedSpecies)
	return nil
}

// RunActivityDigestSweep runs the digest check for every user with alerts
// enabled. A failed send is logged and skipped so one bad mailbox does not
// starve the rest of the sweep.
func (s *Service) RunActivityDigestSweep(ctx context.Context, tx dbx.DBTX) error {
	ids, err := s.store.DigestUsers(ctx, tx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		u, err := s.LoadUser(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := s.RunActivityDigest(ctx, tx, u); err != nil {
			s.log.Error(ctx, "activity digest failed", "user_id", id, "error", err)
		}
	}
	return nil
}

// buildDigest counts unseen activity and finds the oldest unseen instant.
func (s *Service) buildDigest(ctx context.Context, u *User) (Digest, time.Time, error) {
	var d Digest
	earliest := time.Time{}
	track := func(secs int64) {
		at := u.AbsoluteTime(secs)
		if earliest.IsZero() || at.Before(earliest) {
			earliest = at
		}
	}

	messages, err := u.Messages().All(ctx)
	if err != nil {
		return d, earliest, err
	}
	for _, m := range messages {
		if !m.IsSet("read_at") {
			d.UnreadMessages++
			track(m.Int("sent_at"))
		}
	}

	nowSecs, err := u.NowSeconds()
	if err != nil {
		return d, earliest, err
	}
	rovers, err := u.Rovers().All(ctx)
	if err != nil {
		return d, earliest, err
	}
	for _, rm := range rovers {
		targets, err := rm.Collection("targets").All(ctx)
		if err != nil {
			return d, earliest, err
		}
		for _, tm := range targets {
			arrived := tm.Int("arrival_time") <= nowSecs
			if arrived && tm.Bool("processed") && !tm.IsSet("viewed_at") {
				d.UnviewedTargets++
				track(tm.Int("arrival_time"))
			}
		}
	}

	species, err := u.SpeciesList().All(ctx)
	if err != nil {
		return d, earliest, err
	}
	for _, sm := range species {
		if sm.Int("available_at") <= nowSecs && !sm.IsSet("viewed_at") {
			d.UnviewedSpecies++
			track(sm.Int("available_at"))
		}
	}
	return d, earliest, nil
}
