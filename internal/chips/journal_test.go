package chips

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plastr/extrasolar/internal/chrono"
)

func newJournalWithMock(t *testing.T) (*Journal, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return NewJournal(db), mock, func() { db.Close() }
}

func TestJournal_AppendAssignsSeq(t *testing.T) {
	j, mock, done := newJournalWithMock(t)
	defer done()

	delivery := time.Date(2014, 2, 1, 18, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`INSERT INTO chips .* RETURNING seq`).
		WithArgs("u1", chrono.UsecFromTime(delivery),
			[]byte(`["u1","rovers","r1","targets","t1"]`), "ADD",
			[]byte(`{"target_id":"t1"}`), true).
		WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(int64(7)))

	c := Chip{
		UserID:    "u1",
		Time:      delivery,
		Path:      []string{"u1", "rovers", "r1", "targets", "t1"},
		Action:    Add,
		Value:     map[string]any{"target_id": "t1"},
		Transient: true,
	}
	require.NoError(t, j.Append(context.Background(), &c))
	assert.Equal(t, int64(7), c.Seq)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJournal_FetchWindowBinds(t *testing.T) {
	j, mock, done := newJournalWithMock(t)
	defer done()

	since := time.Date(2014, 2, 1, 12, 0, 0, 0, time.UTC)
	until := since.Add(time.Hour)

	mock.ExpectQuery(`SELECT seq, time, path, action, value, transient\s+FROM chips\s+WHERE user_id = \$1 AND time > \$2 AND time <= \$3\s+ORDER BY seq`).
		WithArgs("u1", chrono.UsecFromTime(since), chrono.UsecFromTime(until)).
		WillReturnRows(sqlmock.NewRows([]string{"seq", "time", "path", "action", "value", "transient"}).
			AddRow(int64(1), chrono.UsecFromTime(since.Add(time.Minute)),
				[]byte(`["u1","messages","m1"]`), "MOD", []byte(`{"read_at":60}`), true))

	got, err := j.Fetch(context.Background(), "u1", since, until, true)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, Mod, got[0].Action)
	assert.Equal(t, []string{"u1", "messages", "m1"}, got[0].Path)
	assert.Equal(t, float64(60), got[0].Value["read_at"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJournal_FetchPermanentOnly(t *testing.T) {
	j, mock, done := newJournalWithMock(t)
	defer done()

	now := time.Now().UTC()
	mock.ExpectQuery(`AND transient = FALSE\s+ORDER BY seq`).
		WithArgs("u1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"seq", "time", "path", "action", "value", "transient"}))

	got, err := j.Fetch(context.Background(), "u1", time.Time{}, now, false)
	require.NoError(t, err)
	assert.Empty(t, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJournal_RetractBindsInstantAndPath(t *testing.T) {
	j, mock, done := newJournalWithMock(t)
	defer done()

	delivery := time.Date(2014, 2, 1, 18, 0, 0, 0, time.UTC)
	mock.ExpectExec(`DELETE FROM chips WHERE user_id = \$1 AND time = \$2 AND path = \$3::jsonb`).
		WithArgs("u1", chrono.UsecFromTime(delivery), `["u1","map_tiles","tile1"]`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := j.Retract(context.Background(), "u1", delivery, []string{"u1", "map_tiles", "tile1"})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJournal_Vacuum(t *testing.T) {
	j, mock, done := newJournalWithMock(t)
	defer done()

	cutoff := time.Now().UTC().Add(-21 * 24 * time.Hour)
	mock.ExpectExec(`DELETE FROM chips WHERE time < \$1`).
		WithArgs(chrono.UsecFromTime(cutoff)).
		WillReturnResult(sqlmock.NewResult(0, 42))

	n, err := j.Vacuum(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBuffer_OrderAndClear(t *testing.T) {
	b := NewBuffer()
	b.Emit(Chip{Action: Add, Path: []string{"u1", "targets", "t1"}})
	b.Emit(Chip{Action: Mod, Path: []string{"u1", "targets", "t1"}})

	pending := b.Pending()
	require.Len(t, pending, 2)
	assert.Equal(t, Add, pending[0].Action)
	assert.Equal(t, Mod, pending[1].Action)

	b.Clear()
	assert.Zero(t, b.Len())
}

func TestChip_ToWire(t *testing.T) {
	at := time.Date(2014, 2, 1, 12, 0, 0, 500000000, time.UTC)
	w := Chip{
		Action:    Add,
		Path:      []string{"u1", "species", "100"},
		Value:     map[string]any{"name": "Pending…"},
		Time:      at,
		Transient: true,
	}.ToWire()

	assert.Equal(t, Add, w.Action)
	assert.Equal(t, chrono.FormatUsec(at), w.Time)
	assert.Equal(t, 1, w.Transient)

	parsed, err := chrono.ParseUsec(w.Time)
	require.NoError(t, err)
	assert.True(t, at.Equal(parsed))
}
