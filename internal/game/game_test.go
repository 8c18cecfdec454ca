package game

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/plastr/extrasolar/internal/catalog"
	"github.com/plastr/extrasolar/internal/chrono"
	"github.com/plastr/extrasolar/internal/dbx"
	"github.com/plastr/extrasolar/internal/deferred"
	"github.com/plastr/extrasolar/internal/logging"
)

// --- helpers ---

// landerLat/landerLng sit at the centre of the landing zone region.
const (
	landerLat = 6.2406
	landerLng = -109.4141
)

// metersPerDegreeLat on the haversine sphere used by geo.
const metersPerDegreeLat = 6371000.0 * 3.141592653589793 / 180.0

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

type fakeResult struct{}

func (fakeResult) LastInsertId() (int64, error) { return 0, nil }
func (fakeResult) RowsAffected() (int64, error) { return 1, nil }

// fakeTx records every statement and accepts all of them. Reads are not
// supported; domain flows only write.
type fakeTx struct {
	execs []string
}

func (f *fakeTx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	f.execs = append(f.execs, query)
	return fakeResult{}, nil
}

func (f *fakeTx) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return nil, errors.New("fakeTx: unexpected query")
}

func (f *fakeTx) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	panic("fakeTx: unexpected query row")
}

type schedCall struct {
	UserID  string
	Type    deferred.Type
	Subtype string
	Delay   time.Duration
	Payload map[string]any
}

type fakeSched struct {
	calls  []schedCall
	queued map[string]bool
}

func (f *fakeSched) RunLater(ctx context.Context, tx dbx.DBTX, now time.Time, userID string, typ deferred.Type, subtype string, delay time.Duration, payload map[string]any) error {
	f.calls = append(f.calls, schedCall{UserID: userID, Type: typ, Subtype: subtype, Delay: delay, Payload: payload})
	return nil
}

func (f *fakeSched) IsQueuedForUser(ctx context.Context, tx dbx.DBTX, userID string, typ deferred.Type, subtype string) (bool, error) {
	return f.queued[string(typ)+"/"+subtype], nil
}

type fakeAnalyzer struct {
	candidates []SpeciesCandidate
	err        error
	calls      int
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, imageURL string, rect Rect) ([]SpeciesCandidate, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.candidates, nil
}

type fakeDigests struct {
	to   []string
	sent []Digest
	err  error
}

func (f *fakeDigests) SendActivityDigest(ctx context.Context, to string, digest Digest) error {
	if f.err != nil {
		return f.err
	}
	f.to = append(f.to, to)
	f.sent = append(f.sent, digest)
	return nil
}

type fixture struct {
	svc      *Service
	tx       *fakeTx
	sched    *fakeSched
	analyzer *fakeAnalyzer
	digests  *fakeDigests
	clock    *chrono.OffsetClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cat, err := catalog.Load()
	if err != nil {
		t.Fatalf("catalog.Load error: %v", err)
	}
	clock := chrono.NewOffsetClock(nil)
	clock.Freeze(time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC))

	log := testLogger()
	f := &fixture{
		tx:       &fakeTx{},
		sched:    &fakeSched{queued: map[string]bool{}},
		analyzer: &fakeAnalyzer{},
		digests:  &fakeDigests{},
		clock:    clock,
	}
	f.svc = NewService(log, clock, cat, NewCallbacks(), NewStore(log, nil), f.sched, f.analyzer, f.digests)
	return f
}

// newUser provisions a fresh player and drops the bootstrap chips and
// scheduler calls so assertions start clean.
func (f *fixture) newUser(t *testing.T) *User {
	t.Helper()
	u, err := f.svc.CreateUser(context.Background(), f.tx, "kai@example.com", "Kai", "Silva",
		[2]float64{landerLat, landerLng})
	if err != nil {
		t.Fatalf("CreateUser error: %v", err)
	}
	u.Session().Buf.Clear()
	f.sched.calls = nil
	f.tx.execs = nil
	return u
}

// pointNorth offsets a latitude by meters of northward travel.
func pointNorth(lat, meters float64) float64 {
	return lat + meters/metersPerDegreeLat
}

func validParams(meters float64) TargetParams {
	return TargetParams{
		Lat:          pointNorth(landerLat, meters),
		Lng:          landerLng,
		Yaw:          1.5,
		Pitch:        0.1,
		ArrivalDelta: 5 * 60 * 60,
		Picture:      true,
	}
}

func activeRover(t *testing.T, u *User) *Rover {
	t.Helper()
	rover, err := u.ActiveRover(context.Background())
	if err != nil {
		t.Fatalf("ActiveRover error: %v", err)
	}
	return rover
}

func capabilityByKey(t *testing.T, u *User, key string) *Capability {
	t.Helper()
	m, err := u.Capabilities().Get(context.Background(), key)
	if err != nil {
		t.Fatalf("capability %s: %v", key, err)
	}
	return &Capability{Model: m}
}
