// Package gamestate assembles the client-facing view of a user's world: the
// full tree serialisation on initial load, and the chip envelope that lets a
// client catch up from its last seen delivery time. It also owns the
// transaction scope every game verb runs inside: load, mutate, flush chips,
// commit.
package gamestate

import (
	"context"
	"database/sql"
	"time"

	"github.com/plastr/extrasolar/internal/chips"
	"github.com/plastr/extrasolar/internal/chrono"
	"github.com/plastr/extrasolar/internal/dbx"
	"github.com/plastr/extrasolar/internal/game"
	"github.com/plastr/extrasolar/internal/logging"
)

// State is the full-gamestate response: the complete tree plus a chip
// envelope bookmarking the journal at assembly time.
type State struct {
	User  map[string]any `json:"user"`
	Chips ChipEnvelope   `json:"chips"`
}

// ChipEnvelope carries delta chips plus the bookmark the client echoes back
// on its next fetch.
type ChipEnvelope struct {
	LastSeenChipTime string       `json:"last_seen_chip_time"`
	Chips            []chips.Wire `json:"chips"`
}

// Service runs game operations inside their transaction scope.
type Service struct {
	log   logging.Logger
	clock chrono.Clock
	db    *sql.DB
	game  *game.Service
}

func NewService(log logging.Logger, clock chrono.Clock, db *sql.DB, g *game.Service) *Service {
	return &Service{log: log, clock: clock, db: db, game: g}
}

// Game exposes the domain service for callers that compose their own verbs.
func (s *Service) Game() *game.Service { return s.game }

// FullState loads the user and serialises the whole tree. The envelope's
// bookmark is the assembly instant; the chip list is empty because the tree
// already reflects every delivered chip.
func (s *Service) FullState(ctx context.Context, userID string) (*State, error) {
	var state *State
	g := s.game.WithRequestCache(dbx.NewRowCache(s.log, game.CacheableQueries...))
	err := dbx.WithTx(ctx, s.db, &sql.TxOptions{ReadOnly: true}, func(ctx context.Context, tx dbx.DBTX) error {
		u, err := g.LoadUser(ctx, tx, userID)
		if err != nil {
			return err
		}
		var aerr error
		state, aerr = Assemble(ctx, u, s.clock.Now())
		return aerr
	})
	if err != nil {
		return nil, err
	}
	return state, nil
}

// Assemble serialises a loaded user into the wire shape, bookmarked at now.
func Assemble(ctx context.Context, u *game.User, now time.Time) (*State, error) {
	ser, err := u.Serialize(ctx)
	if err != nil {
		return nil, err
	}
	return &State{
		User: ser,
		Chips: ChipEnvelope{
			LastSeenChipTime: chrono.FormatUsec(now),
			Chips:            []chips.Wire{},
		},
	}, nil
}

// FetchChips returns the chips delivered after the client's bookmark, up to
// now, in journal order, with the advanced bookmark.
func (s *Service) FetchChips(ctx context.Context, userID, lastSeen string) (*ChipEnvelope, error) {
	since, err := chrono.ParseUsec(lastSeen)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()

	var fetched []chips.Chip
	err = dbx.WithTx(ctx, s.db, &sql.TxOptions{ReadOnly: true}, func(ctx context.Context, tx dbx.DBTX) error {
		var ferr error
		fetched, ferr = chips.NewJournal(tx).Fetch(ctx, userID, since, now, true)
		return ferr
	})
	if err != nil {
		return nil, err
	}
	return wrapChips(fetched, now), nil
}

// Perform runs one game verb against the user's tree in a single
// transaction: load, apply fn, flush the chip buffer to the journal, commit.
// The returned envelope holds the chips already visible to the client; chips
// future-dated past now stay in the journal until their delivery time.
func (s *Service) Perform(ctx context.Context, userID string, fn func(ctx context.Context, tx dbx.DBTX, u *game.User) error) (*ChipEnvelope, error) {
	now := s.clock.Now()
	var visible []chips.Chip
	g := s.game.WithRequestCache(dbx.NewRowCache(s.log, game.CacheableQueries...))
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		u, err := g.LoadUser(ctx, tx, userID)
		if err != nil {
			return err
		}
		if err := fn(ctx, tx, u); err != nil {
			u.Session().Buf.Clear()
			return err
		}
		for _, c := range u.Session().Buf.Pending() {
			if !c.Time.After(now) {
				visible = append(visible, c)
			}
		}
		return u.Session().Buf.Flush(ctx, chips.NewJournal(tx), userID)
	})
	if err != nil {
		return nil, err
	}
	return wrapChips(visible, now), nil
}

func wrapChips(cs []chips.Chip, now time.Time) *ChipEnvelope {
	wire := make([]chips.Wire, 0, len(cs))
	for _, c := range cs {
		wire = append(wire, c.ToWire())
	}
	return &ChipEnvelope{
		LastSeenChipTime: chrono.FormatUsec(now),
		Chips:            wire,
	}
}
