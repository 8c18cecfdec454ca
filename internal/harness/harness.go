// Package harness replays story scenarios against the domain services on a
// frozen clock. A Script is a sequence of Beats, each pinned to an offset
// from the scenario start; Run freezes the shared OffsetClock at each beat's
// instant before dispatching it, so every beat observes exactly the game
// time the story intends. Beats call the same service methods the transport
// layer would.
package harness

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/plastr/extrasolar/internal/chrono"
	"github.com/plastr/extrasolar/internal/logging"
)

// Step is one beat's body. It receives the trace so story code can record
// checkpoints for later assertions.
type Step func(ctx context.Context, trace *Trace) error

// Beat is a named step pinned to an offset from the scenario start.
type Beat struct {
	At   time.Duration
	Name string
	Step Step
}

// Script replays beats in time order on a frozen clock.
type Script struct {
	log   logging.Logger
	clock *chrono.OffsetClock
	start time.Time
	beats []Beat
}

// NewScript builds a script starting at start. The clock is frozen at start
// immediately so setup code sees scenario time, not wall time.
func NewScript(log logging.Logger, clock *chrono.OffsetClock, start time.Time) *Script {
	clock.Freeze(start)
	return &Script{
		log:   log,
		clock: clock,
		start: start,
	}
}

// Clock returns the script's clock for wiring into services under test.
func (s *Script) Clock() *chrono.OffsetClock {
	return s.clock
}

// Add appends a beat. Beats may be added out of order; Run sorts by offset,
// preserving insertion order for equal offsets.
func (s *Script) Add(at time.Duration, name string, step Step) *Script {
	s.beats = append(s.beats, Beat{At: at, Name: name, Step: step})
	return s
}

// Run dispatches every beat in time order and returns the trace. A failing
// beat stops the script; the error names the beat and its offset.
func (s *Script) Run(ctx context.Context) (*Trace, error) {
	beats := make([]Beat, len(s.beats))
	copy(beats, s.beats)
	sort.SliceStable(beats, func(i, j int) bool { return beats[i].At < beats[j].At })

	trace := NewTrace()
	for _, b := range beats {
		s.clock.Freeze(s.start.Add(b.At))
		s.log.Debug(ctx, "dispatching beat", "beat", b.Name, "at", b.At.String())
		if err := b.Step(ctx, trace); err != nil {
			return trace, fmt.Errorf("beat %q at %s: %w", b.Name, b.At, err)
		}
		trace.Record(b.Name, nil)
	}
	s.clock.Restore()
	return trace, nil
}

// Event is one recorded checkpoint.
type Event struct {
	Name string
	Args map[string]any
}

// Trace accumulates checkpoints in dispatch order for post-run assertions.
type Trace struct {
	events []Event
}

func NewTrace() *Trace {
	return &Trace{}
}

// Record appends a checkpoint. Beat completions are recorded automatically;
// story code records finer-grained events from inside steps.
func (t *Trace) Record(name string, args map[string]any) {
	t.events = append(t.events, Event{Name: name, Args: args})
}

// Contains reports whether an event with the given name was recorded.
func (t *Trace) Contains(name string) bool {
	return t.Count(name) > 0
}

// Count returns how many times the named event was recorded.
func (t *Trace) Count(name string) int {
	n := 0
	for _, e := range t.events {
		if e.Name == name {
			n++
		}
	}
	return n
}

// InOrder reports whether the named events appear in the trace in the given
// relative order, ignoring unrelated events between them.
func (t *Trace) InOrder(names ...string) bool {
	i := 0
	for _, e := range t.events {
		if i < len(names) && e.Name == names[i] {
			i++
		}
	}
	return i == len(names)
}

// Events returns the recorded events in dispatch order.
func (t *Trace) Events() []Event {
	out := make([]Event, len(t.events))
	copy(out, t.events)
	return out
}
