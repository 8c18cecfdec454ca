// Package chips implements the delta stream at the heart of the game: every
// mutation of the model tree is reified as an ordered, path-addressed chip,
// buffered per transaction and persisted to an append-only journal with a
// delivery time that may lie in the future.
package chips

import (
	"time"

	"github.com/plastr/extrasolar/internal/chrono"
)

// Action identifies what a chip does to the model at its path.
type Action string

const (
	Add    Action = "ADD"
	Mod    Action = "MOD"
	Delete Action = "DELETE"
)

// DeliveryLeeway is subtracted from a target's arrival time when scheduling
// the future chips that gate rendered data and map tiles, so the client has
// the payload in hand at the in-game arrival moment.
const DeliveryLeeway = 30 * time.Second

// EpochActivationDelta keeps a user-epoch chip strictly earlier than every
// other chip activated in the same tick, so clients observe clock changes
// before data keyed against that clock.
const EpochActivationDelta = time.Millisecond

// Chip is a single ADD/MOD/DELETE delta on a path in the user's state tree.
// Time is the delivery time: a chip is invisible to fetches whose window
// closes before it.
type Chip struct {
	UserID    string
	Seq       int64
	Time      time.Time
	Path      []string
	Action    Action
	Value     map[string]any
	Transient bool
}

// Wire is the client-facing shape of a chip.
type Wire struct {
	Action    Action         `json:"action"`
	Path      []string       `json:"path"`
	Value     map[string]any `json:"value,omitempty"`
	Time      string         `json:"time"`
	Transient int            `json:"transient"`
}

// ToWire renders the chip in the JSON protocol shape, with the delivery time
// as a microsecond decimal string.
func (c Chip) ToWire() Wire {
	transient := 0
	if c.Transient {
		transient = 1
	}
	return Wire{
		Action:    c.Action,
		Path:      c.Path,
		Value:     c.Value,
		Time:      chrono.FormatUsec(c.Time),
		Transient: transient,
	}
}
