package game

import (
	"context"
	"fmt"
	"time"

	"github.com/plastr/extrasolar/internal/chips"
	"github.com/plastr/extrasolar/internal/chrono"
	"github.com/plastr/extrasolar/internal/shared"
	"github.com/plastr/extrasolar/internal/tree"
)

// User is the tree root: the per-player universe. Epoch is the wall-clock
// zero of the user's game clock; every *_at and *_time field on the tree is
// integer seconds past it.
type User struct {
	*tree.Model

	UserID string
	Epoch  time.Time
}

// NewUser builds an empty root for the given identity. Collections start
// loaded and empty; the store marks them lazy when assembling from rows.
func NewUser(session *tree.Session, userID string, epoch time.Time) *User {
	u := &User{
		Model:  tree.NewRoot(userSpec, session),
		UserID: userID,
		Epoch:  epoch.UTC(),
	}
	_ = u.SetSilent("user_id", userID)
	_ = u.SetSilent("epoch", chrono.UsecFromTime(epoch))
	return u
}

// NowSeconds returns the current game-clock reading.
func (u *User) NowSeconds() (int64, error) {
	return chrono.GameSeconds(u.Epoch, u.Session().Clock.Now())
}

// AbsoluteTime converts game seconds back to a wall instant.
func (u *User) AbsoluteTime(secs int64) time.Time {
	return chrono.AbsoluteTime(u.Epoch, secs)
}

// SetEpoch rewrites the user's game-clock zero. The chip is activated
// slightly before any other chip of the same instant so clients observe the
// clock change before data keyed against it.
func (u *User) SetEpoch(epoch time.Time) {
	u.Epoch = epoch.UTC()
	_ = u.SetSilent("epoch", chrono.UsecFromTime(epoch))
	now := u.Session().Clock.Now()
	u.Session().EmitAt(chips.Mod, u.Path(),
		map[string]any{"epoch": chrono.UsecFromTime(epoch), "epoch_str": chrono.FormatUsec(epoch)},
		now.Add(-chips.EpochActivationDelta), true)
}

func (u *User) Rovers() *tree.Collection       { return u.Collection("rovers") }
func (u *User) Messages() *tree.Collection     { return u.Collection("messages") }
func (u *User) Missions() *tree.Collection     { return u.Collection("missions") }
func (u *User) Achievements() *tree.Collection { return u.Collection("achievements") }
func (u *User) SpeciesList() *tree.Collection  { return u.Collection("species") }
func (u *User) Regions() *tree.Collection      { return u.Collection("regions") }
func (u *User) Capabilities() *tree.Collection { return u.Collection("capabilities") }
func (u *User) Vouchers() *tree.Collection     { return u.Collection("vouchers") }
func (u *User) MapTiles() *tree.Collection     { return u.Collection("map_tiles") }
func (u *User) Progress() *tree.Collection     { return u.Collection("progress") }
func (u *User) Invitations() *tree.Collection  { return u.Collection("invitations") }
func (u *User) Gifts() *tree.Collection        { return u.Collection("gifts") }

// ActiveRover returns the single rover with the active flag set.
func (u *User) ActiveRover(ctx context.Context) (*Rover, error) {
	all, err := u.Rovers().All(ctx)
	if err != nil {
		return nil, err
	}
	var active *Rover
	for _, m := range all {
		if !m.Bool("active") {
			continue
		}
		if active != nil {
			return nil, fmt.Errorf("%w: user %s has more than one active rover", shared.ErrorInternal, u.UserID)
		}
		active = &Rover{Model: m, user: u}
	}
	if active == nil {
		return nil, fmt.Errorf("%w: user %s has no active rover", shared.ErrorNotFound, u.UserID)
	}
	return active, nil
}

// Rover returns the rover with the given id.
func (u *User) Rover(ctx context.Context, roverID string) (*Rover, error) {
	m, err := u.Rovers().Get(ctx, roverID)
	if err != nil {
		return nil, err
	}
	return &Rover{Model: m, user: u}, nil
}
