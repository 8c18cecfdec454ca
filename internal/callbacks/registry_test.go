package callbacks

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type baseMessage struct{}

func (baseMessage) ShouldDeliver(ctx context.Context) (bool, error) { return true, nil }
func (baseMessage) Subject() string                                 { return "(no subject)" }
func (baseMessage) UnlockKey(userID string) string                  { return "base-" + userID }

type janeIntro struct {
	baseMessage
	MsgType string
}

func (janeIntro) Subject() string { return "Welcome to the program" }

type badOverride struct {
	baseMessage
	MsgType string
}

func (badOverride) UnlockKey(userID string) string { return "stolen" }

func newMessageRegistry(t *testing.T) *Registry {
	t.Helper()
	r := New()
	r.RegisterModule(ModuleMessage, baseMessage{},
		NoOverride("UnlockKey"),
		RequiredNotNone("MsgType"),
	)
	return r
}

func TestRegister_SubtypeOverridesAndBaseFallback(t *testing.T) {
	r := newMessageRegistry(t)
	r.Register(ModuleMessage, "MSG_JANE_INTRO", janeIntro{MsgType: "MSG_JANE_INTRO"}, Overrides("Subject"))

	got, err := r.Run(ModuleMessage, "Subject", "MSG_JANE_INTRO")
	require.NoError(t, err)
	assert.Equal(t, []any{"Welcome to the program"}, got)

	got, err = r.Run(ModuleMessage, "Subject", "MSG_UNREGISTERED")
	require.NoError(t, err)
	assert.Equal(t, []any{"(no subject)"}, got)
}

func TestRegister_NoOverrideViolationPanics(t *testing.T) {
	r := newMessageRegistry(t)
	assert.PanicsWithValue(t,
		"callbacks: message/MSG_BAD redefines NoOverride method callbacks.badOverride.UnlockKey",
		func() {
			r.Register(ModuleMessage, "MSG_BAD", badOverride{MsgType: "MSG_BAD"}, Overrides("UnlockKey"))
		})
}

type sneakyMessage struct {
	baseMessage
	MsgType string
}

func (sneakyMessage) Subject() string                { return "Off the record" }
func (sneakyMessage) UnlockKey(userID string) string { return "stolen" }

func TestRun_UndeclaredNoOverrideResolvesOnBase(t *testing.T) {
	r := newMessageRegistry(t)
	// the redefinitions slip past registration because they are not declared
	r.Register(ModuleMessage, "MSG_SNEAKY", sneakyMessage{MsgType: "MSG_SNEAKY"})

	// the protected method dispatches on the base regardless
	got, err := r.Run(ModuleMessage, "UnlockKey", "MSG_SNEAKY", "u1")
	require.NoError(t, err)
	assert.Equal(t, []any{"base-u1"}, got)

	// unprotected redefinitions still win
	got, err = r.Run(ModuleMessage, "Subject", "MSG_SNEAKY")
	require.NoError(t, err)
	assert.Equal(t, []any{"Off the record"}, got)
}

func TestRegister_UndefinedDeclaredOverridePanics(t *testing.T) {
	r := newMessageRegistry(t)
	assert.Panics(t, func() {
		r.Register(ModuleMessage, "MSG_JANE_INTRO", janeIntro{MsgType: "MSG_JANE_INTRO"}, Overrides("NoSuchMethod"))
	})
}

func TestRegister_RequiredNotNoneUnsetPanics(t *testing.T) {
	r := newMessageRegistry(t)
	assert.Panics(t, func() {
		r.Register(ModuleMessage, "MSG_EMPTY", janeIntro{})
	})
}

func TestRun_TrailingErrorSplitsOff(t *testing.T) {
	r := newMessageRegistry(t)

	got, err := r.Run(ModuleMessage, "ShouldDeliver", "MSG_ANY", context.Background())
	require.NoError(t, err)
	assert.Equal(t, []any{true}, got)
}

func TestRun_UnknownCallbackName(t *testing.T) {
	r := newMessageRegistry(t)
	_, err := r.Run(ModuleMessage, "NoSuchHook", "MSG_ANY")
	assert.Error(t, err)
}

type baseMission struct{}

func (baseMission) RegionsNotDone() []string { return nil }

type missionA struct{ baseMission }

func (missionA) RegionsNotDone() []string { return []string{"RGN_CRATER"} }

type missionB struct{ baseMission }

func TestRunAll_CollectsPerSubtype(t *testing.T) {
	r := New()
	r.RegisterModule(ModuleMission, baseMission{})
	r.Register(ModuleMission, "MIS_CRATER", missionA{})
	r.Register(ModuleMission, "MIS_PLAIN", missionB{})

	out, err := r.RunAll(ModuleMission, "RegionsNotDone")
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, []any{[]string{"RGN_CRATER"}}, out["MIS_CRATER"])

	assert.Equal(t, []string{"MIS_CRATER", "MIS_PLAIN"}, r.Subtypes(ModuleMission))
}

func TestRun_ErrorPropagates(t *testing.T) {
	r := New()
	r.RegisterModule(ModuleTimer, failingTimer{})

	_, err := r.Run(ModuleTimer, "Fire", "TMR_X")
	assert.True(t, errors.Is(err, errTimerDown))
}

var errTimerDown = errors.New("timer handler down")

type failingTimer struct{}

func (failingTimer) Fire() error { return errTimerDown }
