package gamestate

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/sebdah/goldie/v2"

	"github.com/plastr/extrasolar/internal/catalog"
	"github.com/plastr/extrasolar/internal/chrono"
	"github.com/plastr/extrasolar/internal/dbx"
	"github.com/plastr/extrasolar/internal/game"
	"github.com/plastr/extrasolar/internal/logging"
	"github.com/plastr/extrasolar/internal/queries"
)

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func newGameService(t *testing.T, clock chrono.Clock) (*game.Service, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	qstore, err := queries.NewStoreFromFS(game.QueryFS())
	if err != nil {
		t.Fatalf("queries.NewStoreFromFS error: %v", err)
	}
	cat, err := catalog.Load()
	if err != nil {
		t.Fatalf("catalog.Load error: %v", err)
	}
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	log := testLogger()
	store := game.NewStore(log, queries.NewRunner(qstore, nil))
	return game.NewService(log, clock, cat, game.NewCallbacks(), store, nil, nil, nil), mock, db
}

func expectUserLoad(mock sqlmock.Sqlmock, epoch time.Time) {
	mock.ExpectQuery(`FROM users WHERE user_id`).WillReturnRows(
		sqlmock.NewRows([]string{
			"user_id", "email", "first_name", "last_name", "epoch", "invites_left",
			"current_voucher_level", "activity_alert_frequency",
			"activity_window_start", "activity_last_sent_at", "valid",
		}).AddRow("u1", "kai@example.com", "Kai", "Silva", epoch, int64(5),
			"VCH_BASE", "MEDIUM", nil, nil, true))
	mock.ExpectQuery(`FROM rovers WHERE user_id`).WillReturnRows(
		sqlmock.NewRows([]string{
			"rover_id", "rover_key", "chassis", "activated_at", "active",
			"lander_lat", "lander_lng", "max_unarrived_targets",
			"min_target_seconds", "max_target_seconds", "max_travel_distance",
		}))
	mock.ExpectQuery(`FROM users_progress WHERE user_id`).WillReturnRows(
		sqlmock.NewRows([]string{"key", "value", "achieved_at"}).
			AddRow("PRO_TUT_MAP_INTRO", "1", int64(5)))
	for _, q := range []string{
		`FROM missions WHERE user_id`,
		`FROM species WHERE user_id`,
		`FROM species_subspecies WHERE user_id`,
		`FROM capabilities WHERE user_id`,
		`FROM messages WHERE user_id`,
		`FROM achievements WHERE user_id`,
		`FROM vouchers WHERE user_id`,
		`FROM user_map_tiles WHERE user_id`,
		`FROM users_shop WHERE user_id`,
		`FROM invitations WHERE user_id`,
		`FROM gifts WHERE user_id`,
	} {
		mock.ExpectQuery(q).WillReturnRows(sqlmock.NewRows([]string{"user_id"}))
	}
}

func TestAssemble_Golden(t *testing.T) {
	clock := chrono.NewOffsetClock(nil)
	clock.Freeze(time.Date(2026, 3, 14, 14, 0, 0, 0, time.UTC))
	svc, mock, db := newGameService(t, clock)
	defer db.Close()
	mock.MatchExpectationsInOrder(false)

	expectUserLoad(mock, time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC))

	ctx := context.Background()
	u, err := svc.LoadUser(ctx, db, "u1")
	if err != nil {
		t.Fatalf("LoadUser error: %v", err)
	}

	state, err := Assemble(ctx, u, clock.Now())
	if err != nil {
		t.Fatalf("Assemble error: %v", err)
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		t.Fatalf("marshal state: %v", err)
	}

	g := goldie.New(t)
	g.Assert(t, "full_state", data)
}

func TestPerform_FlushesVisibleChips(t *testing.T) {
	clock := chrono.NewOffsetClock(nil)
	now := time.Date(2026, 3, 14, 14, 0, 0, 0, time.UTC)
	clock.Freeze(now)
	gsvc, mock, db := newGameService(t, clock)
	defer db.Close()
	mock.MatchExpectationsInOrder(false)

	svc := NewService(testLogger(), clock, db, gsvc)

	mock.ExpectBegin()
	expectUserLoad(mock, time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC))
	mock.ExpectQuery(`INSERT INTO chips`).
		WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(int64(41)))
	mock.ExpectCommit()

	env, err := svc.Perform(context.Background(), "u1",
		func(ctx context.Context, tx dbx.DBTX, u *game.User) error {
			return u.Set(ctx, "invites_left", int64(4))
		})
	if err != nil {
		t.Fatalf("Perform error: %v", err)
	}
	if env.LastSeenChipTime != chrono.FormatUsec(now) {
		t.Errorf("bookmark = %s", env.LastSeenChipTime)
	}
	if len(env.Chips) != 1 {
		t.Fatalf("chips = %d, want 1", len(env.Chips))
	}
	c := env.Chips[0]
	if c.Action != "MOD" || len(c.Path) != 1 || c.Path[0] != "root" {
		t.Errorf("chip = %+v", c)
	}
	if c.Value["invites_left"] != int64(4) {
		t.Errorf("chip value = %v", c.Value)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPerform_ErrorClearsBuffer(t *testing.T) {
	clock := chrono.NewOffsetClock(nil)
	clock.Freeze(time.Date(2026, 3, 14, 14, 0, 0, 0, time.UTC))
	gsvc, mock, db := newGameService(t, clock)
	defer db.Close()
	mock.MatchExpectationsInOrder(false)

	svc := NewService(testLogger(), clock, db, gsvc)

	mock.ExpectBegin()
	expectUserLoad(mock, time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC))
	mock.ExpectRollback()

	_, err := svc.Perform(context.Background(), "u1",
		func(ctx context.Context, tx dbx.DBTX, u *game.User) error {
			_ = u.Set(ctx, "invites_left", int64(4))
			return context.Canceled
		})
	if err == nil {
		t.Fatal("expected the verb's error to surface")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestFetchChips_RejectsBadBookmark(t *testing.T) {
	clock := chrono.NewOffsetClock(nil)
	gsvc, _, db := newGameService(t, clock)
	defer db.Close()
	svc := NewService(testLogger(), clock, db, gsvc)

	if _, err := svc.FetchChips(context.Background(), "u1", "not-a-time"); err == nil {
		t.Fatal("expected parse error")
	}
}
