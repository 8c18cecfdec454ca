package tree

import (
	"time"

	"github.com/plastr/extrasolar/internal/chips"
	"github.com/plastr/extrasolar/internal/chrono"
)

// Session carries the per-transaction mutation context shared by every node
// of one user's tree: the chip buffer and the clock that stamps delivery
// times. One session per request or per deferred row.
type Session struct {
	UserID string
	Clock  chrono.Clock
	Buf    *chips.Buffer
}

func NewSession(userID string, clock chrono.Clock) *Session {
	if clock == nil {
		clock = chrono.SystemClock{}
	}
	return &Session{UserID: userID, Clock: clock, Buf: chips.NewBuffer()}
}

// Emit queues a chip delivered now.
func (s *Session) Emit(action chips.Action, path []string, value map[string]any) {
	s.EmitAt(action, path, value, s.Clock.Now(), true)
}

// EmitAt queues a chip with an explicit delivery time; future times gate
// arrival-revealed data.
func (s *Session) EmitAt(action chips.Action, path []string, value map[string]any, at time.Time, transient bool) {
	s.Buf.Emit(chips.Chip{
		UserID:    s.UserID,
		Time:      at,
		Path:      path,
		Action:    action,
		Value:     value,
		Transient: transient,
	})
}
