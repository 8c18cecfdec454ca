package tree

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plastr/extrasolar/internal/chips"
	"github.com/plastr/extrasolar/internal/chrono"
	"github.com/plastr/extrasolar/internal/shared"
)

var (
	testRoverSpec = &Spec{
		Name:        "rover",
		IDField:     "rover_id",
		Fields:      []string{"rover_id", "chassis", "active", "render_seed"},
		Collections: []string{"targets"},
		ServerOnly:  []string{"render_seed"},
	}
	testTargetSpec = &Spec{
		Name:    "target",
		IDField: "target_id",
		Fields:  []string{"target_id", "lat", "lng", "viewed_at", "analysis_ref"},
		Unmanaged: []string{"analysis_ref"},
	}
	testRootSpec = &Spec{
		Name:        "user",
		Fields:      []string{"epoch", "invites_left"},
		Collections: []string{"rovers"},
		ShallowChips: true,
	}
)

func newTestTree(t *testing.T) (*Session, *Model, *Model) {
	t.Helper()
	clk := chrono.NewOffsetClock(nil)
	clk.Freeze(time.Date(2014, 2, 1, 12, 0, 0, 0, time.UTC))
	sess := NewSession("u1", clk)

	root := NewRoot(testRootSpec, sess)
	rover := NewModel(testRoverSpec, sess, "")
	require.NoError(t, rover.SetSilent("rover_id", "r1"))
	require.NoError(t, root.Collection("rovers").AddSilent(context.Background(), rover))
	return sess, root, rover
}

func TestModel_PathWalksToRoot(t *testing.T) {
	_, _, rover := newTestTree(t)
	ctx := context.Background()

	target := NewModel(testTargetSpec, rover.Session(), "")
	require.NoError(t, target.SetSilent("target_id", "t1"))
	require.NoError(t, rover.Collection("targets").AddSilent(ctx, target))

	assert.Equal(t, []string{RootID, "rovers", "r1", "targets", "t1"}, target.Path())
}

func TestModel_SetUnknownFieldFails(t *testing.T) {
	_, _, rover := newTestTree(t)
	err := rover.Set(context.Background(), "wheels", 6)
	assert.True(t, errors.Is(err, shared.ErrorUnknownField))
}

func TestModel_SetEmitsModChip(t *testing.T) {
	sess, _, rover := newTestTree(t)
	ctx := context.Background()

	require.NoError(t, rover.Set(ctx, "chassis", "mars-one"))

	pending := sess.Buf.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, chips.Mod, pending[0].Action)
	assert.Equal(t, []string{RootID, "rovers", "r1"}, pending[0].Path)
	assert.Equal(t, "mars-one", pending[0].Value["chassis"])
	// server-only fields never serialize
	_, hasSeed := pending[0].Value["render_seed"]
	assert.False(t, hasSeed)
}

func TestModel_SetSilentAndUnmanagedEmitNothing(t *testing.T) {
	sess, _, rover := newTestTree(t)
	ctx := context.Background()

	require.NoError(t, rover.SetSilent("chassis", "mars-one"))

	target := NewModel(testTargetSpec, sess, "")
	require.NoError(t, target.SetSilent("target_id", "t1"))
	require.NoError(t, rover.Collection("targets").AddSilent(ctx, target))
	require.NoError(t, target.Set(ctx, "analysis_ref", "species-job-9"))

	assert.Zero(t, sess.Buf.Len())
}

func TestModel_ShallowChipsCarryOnlyChangedField(t *testing.T) {
	sess, root, _ := newTestTree(t)

	require.NoError(t, root.Set(context.Background(), "invites_left", int64(4)))

	pending := sess.Buf.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, int64(4), pending[0].Value["invites_left"])
	_, hasEpoch := pending[0].Value["epoch"]
	assert.False(t, hasEpoch, "shallow chip must not serialize the whole root")
}

func TestCollection_AddEmitsAddAndRemoveEmitsDelete(t *testing.T) {
	sess, _, rover := newTestTree(t)
	ctx := context.Background()

	target := NewModel(testTargetSpec, sess, "")
	require.NoError(t, target.SetSilent("target_id", "t1"))
	require.NoError(t, target.SetSilent("lat", 6.2406))
	require.NoError(t, rover.Collection("targets").Add(ctx, target))

	require.NoError(t, rover.Collection("targets").Remove(ctx, "t1"))

	pending := sess.Buf.Pending()
	require.Len(t, pending, 2)

	assert.Equal(t, chips.Add, pending[0].Action)
	assert.Equal(t, []string{RootID, "rovers", "r1", "targets", "t1"}, pending[0].Path)
	assert.Equal(t, 6.2406, pending[0].Value["lat"])

	assert.Equal(t, chips.Delete, pending[1].Action)
	assert.Equal(t, pending[0].Path, pending[1].Path)
	assert.Nil(t, pending[1].Value)
}

func TestCollection_DuplicateAddIsInvariantViolation(t *testing.T) {
	sess, _, rover := newTestTree(t)
	ctx := context.Background()

	a := NewModel(testTargetSpec, sess, "")
	require.NoError(t, a.SetSilent("target_id", "t1"))
	require.NoError(t, rover.Collection("targets").AddSilent(ctx, a))

	b := NewModel(testTargetSpec, sess, "")
	require.NoError(t, b.SetSilent("target_id", "t1"))
	err := rover.Collection("targets").AddSilent(ctx, b)
	assert.True(t, errors.Is(err, shared.ErrorInternal))
}

func TestCorrelationID_ReindexOnRealID(t *testing.T) {
	sess, _, rover := newTestTree(t)
	ctx := context.Background()

	target := NewModel(testTargetSpec, sess, "cid-9")
	require.NoError(t, rover.Collection("targets").Add(ctx, target))

	// the ADD chip addresses the cid the client chose
	addChip := sess.Buf.Pending()[0]
	assert.Equal(t, "cid-9", addChip.Path[len(addChip.Path)-1])
	assert.Equal(t, "cid-9", addChip.Value["target_id"])

	require.NoError(t, target.Set(ctx, "target_id", "t77"))

	got, err := rover.Collection("targets").Get(ctx, "t77")
	require.NoError(t, err)
	assert.Same(t, target, got)
	_, err = rover.Collection("targets").Get(ctx, "cid-9")
	assert.Error(t, err)

	// chips after the assignment address the real id
	modChip := sess.Buf.Pending()[1]
	assert.Equal(t, "t77", modChip.Path[len(modChip.Path)-1])
}

func TestLazyField_LoadsOnceAndSetSilentOverrides(t *testing.T) {
	_, _, rover := newTestTree(t)
	ctx := context.Background()

	loads := 0
	rover.DefineLazy("region_ids", func(ctx context.Context, m *Model) (any, error) {
		loads++
		return []string{"RGN_A"}, nil
	})

	v, err := rover.Get(ctx, "region_ids")
	require.NoError(t, err)
	assert.Equal(t, []string{"RGN_A"}, v)

	_, err = rover.Get(ctx, "region_ids")
	require.NoError(t, err)
	assert.Equal(t, 1, loads, "loader runs once")

	require.NoError(t, rover.SetSilent("region_ids", []string{"RGN_B"}))
	v, err = rover.Get(ctx, "region_ids")
	require.NoError(t, err)
	assert.Equal(t, []string{"RGN_B"}, v)
	assert.Equal(t, 1, loads)
}

func TestLazyCollection_LoaderRunsOnFirstAccess(t *testing.T) {
	sess, _, rover := newTestTree(t)
	ctx := context.Background()

	loads := 0
	rover.Collection("targets").MarkLazy(func(ctx context.Context, c *Collection) error {
		loads++
		target := NewModel(testTargetSpec, sess, "")
		if err := target.SetSilent("target_id", "t1"); err != nil {
			return err
		}
		return c.AddSilent(ctx, target)
	}, false)

	n, err := rover.Collection("targets").Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = rover.Collection("targets").All(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, loads)
	assert.Zero(t, sess.Buf.Len(), "pure reads never write chips")
}

func TestSerialize_ComputedAndNested(t *testing.T) {
	sess, _, rover := newTestTree(t)
	ctx := context.Background()
	_ = sess

	spec := &Spec{
		Name:    "message",
		IDField: "message_id",
		Fields:  []string{"message_id", "sent_at"},
		Computed: map[string]ComputedFunc{
			"is_sent": func(m *Model) any { return m.Int("sent_at") > 0 },
		},
	}
	msg := NewModel(spec, rover.Session(), "")
	require.NoError(t, msg.SetSilent("message_id", "m1"))
	require.NoError(t, msg.SetSilent("sent_at", int64(120)))

	ser, err := msg.Serialize(ctx)
	require.NoError(t, err)
	assert.Equal(t, "m1", ser["message_id"])
	assert.Equal(t, int64(120), ser["sent_at"])
	assert.Equal(t, true, ser["is_sent"])

	roverSer, err := rover.Serialize(ctx)
	require.NoError(t, err)
	_, ok := roverSer["targets"]
	assert.True(t, ok, "nested collections serialize")
}
