package game

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/plastr/extrasolar/internal/catalog"
	"github.com/plastr/extrasolar/internal/chrono"
	"github.com/plastr/extrasolar/internal/queries"
)

func newStoreWithMock(t *testing.T) (*Service, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	qstore, err := queries.NewStoreFromFS(QueryFS())
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

	clock := chrono.NewOffsetClock(nil)
	clock.Freeze(time.Date(2026, 3, 14, 14, 0, 0, 0, time.UTC))
	log := testLogger()
	store := NewStore(log, queries.NewRunner(qstore, nil))
	svc := NewService(log, clock, cat, NewCallbacks(), store,
		&fakeSched{queued: map[string]bool{}}, nil, nil)
	return svc, mock, db
}

func TestLoadUser_AssemblesTree(t *testing.T) {
	svc, mock, db := newStoreWithMock(t)
	defer db.Close()
	mock.MatchExpectationsInOrder(false)

	epoch := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

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
		}).AddRow("r1", "RVR_S1_INITIAL", "S1", int64(0), true,
			landerLat, landerLng, int64(3), int64(14400), int64(43200), 50.0))

	mock.ExpectQuery(`FROM users_progress WHERE user_id`).WillReturnRows(
		sqlmock.NewRows([]string{"key", "value", "achieved_at"}))

	mock.ExpectQuery(`FROM missions WHERE user_id`).WillReturnRows(
		sqlmock.NewRows([]string{
			"mission_id", "mission_definition", "specifics", "specifics_hash",
			"parent_hash", "title", "summary", "done", "done_at", "viewed_at", "started_at",
		}).AddRow("m1", "MIS_AUDIO_MYSTERY01", []byte(`{}`), "m1",
			"", "The signal in the dunes", "Find it.", false, nil, nil, int64(600)))

	mock.ExpectQuery(`FROM species WHERE user_id`).WillReturnRows(
		sqlmock.NewRows([]string{
			"species_id", "detected_at", "available_at", "viewed_at", "target_ids",
		}).AddRow(int64(32), int64(100), int64(100), nil, []byte(`[["r1","t1"]]`)))

	mock.ExpectQuery(`FROM species_subspecies WHERE user_id`).WillReturnRows(
		sqlmock.NewRows([]string{"species_id", "subspecies_id", "detected_at"}))

	mock.ExpectQuery(`FROM capabilities WHERE user_id`).WillReturnRows(
		sqlmock.NewRows([]string{
			"capability_key", "uses", "free_uses", "unlimited", "available",
		}).AddRow("CAP_S1_CAMERA", int64(0), int64(0), true, true))

	ctx := context.Background()
	u, err := svc.LoadUser(ctx, db, "u1")
	if err != nil {
		t.Fatalf("LoadUser error: %v", err)
	}

	if !u.Epoch.Equal(epoch) {
		t.Errorf("epoch = %v, want %v", u.Epoch, epoch)
	}
	if nowSecs, _ := u.NowSeconds(); nowSecs != 7200 {
		t.Errorf("game clock = %d, want 7200", nowSecs)
	}

	rover := activeRover(t, u)
	if rover.MaxTravelDistance() != 50.0 {
		t.Errorf("max_travel_distance = %v", rover.MaxTravelDistance())
	}

	// regions rebuild from the loaded mission
	if has, _ := u.Regions().Has(ctx, "RGN_AUDIO_ZONE01"); !has {
		t.Error("mission region not rebuilt at load")
	}

	// species past available_at carry catalogue content
	sp := mustGet(t, u.SpeciesList(), "32")
	if got := sp.Str("name"); got != "Sail Flyer" {
		t.Errorf("species name = %q, want Sail Flyer", got)
	}

	// capability content is decorated from the catalogue
	cam := capabilityByKey(t, u, "CAP_S1_CAMERA")
	features, ok := cam.Value("rover_features").([]string)
	if !ok || len(features) != 1 || features[0] != FeaturePicture {
		t.Errorf("rover_features = %v", cam.Value("rover_features"))
	}

	// untouched collections stay lazy until first access
	mock.ExpectQuery(`FROM messages WHERE user_id`).WillReturnRows(
		sqlmock.NewRows([]string{
			"message_id", "msg_type", "sent_at", "read_at", "locked", "needs_password",
		}).AddRow("msg1", "MSG_WELCOME", int64(0), nil, false, false))
	msgs, err := u.Messages().All(ctx)
	if err != nil {
		t.Fatalf("Messages().All error: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Str("msg_type") != "MSG_WELCOME" {
		t.Errorf("lazy messages = %v", msgs)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestLoadUser_DelayedSpeciesKeepsPlaceholder(t *testing.T) {
	svc, mock, db := newStoreWithMock(t)
	defer db.Close()
	mock.MatchExpectationsInOrder(false)

	epoch := time.Date(2026, 3, 14, 13, 59, 0, 0, time.UTC) // one minute old

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
		sqlmock.NewRows([]string{"key", "value", "achieved_at"}))
	mock.ExpectQuery(`FROM missions WHERE user_id`).WillReturnRows(
		sqlmock.NewRows([]string{
			"mission_id", "mission_definition", "specifics", "specifics_hash",
			"parent_hash", "title", "summary", "done", "done_at", "viewed_at", "started_at",
		}))
	mock.ExpectQuery(`FROM species WHERE user_id`).WillReturnRows(
		sqlmock.NewRows([]string{
			"species_id", "detected_at", "available_at", "viewed_at", "target_ids",
		}).AddRow(int64(16), int64(10), int64(3610), nil, []byte(`[["r1","t1"]]`)))
	mock.ExpectQuery(`FROM species_subspecies WHERE user_id`).WillReturnRows(
		sqlmock.NewRows([]string{"species_id", "subspecies_id", "detected_at"}))
	mock.ExpectQuery(`FROM capabilities WHERE user_id`).WillReturnRows(
		sqlmock.NewRows([]string{"capability_key", "uses", "free_uses", "unlimited", "available"}))

	u, err := svc.LoadUser(context.Background(), db, "u1")
	if err != nil {
		t.Fatalf("LoadUser error: %v", err)
	}

	sp := mustGet(t, u.SpeciesList(), "16")
	if got := sp.Str("name"); got != catalog.PendingSpeciesName {
		t.Errorf("species name = %q, want placeholder before available_at", got)
	}
}
