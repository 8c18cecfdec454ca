package game

import (
	"context"

	"github.com/plastr/extrasolar/internal/geo"
	"github.com/plastr/extrasolar/internal/tree"
)

// Rover wraps a rover model with typed accessors and the target-chain
// queries the state machine needs.
type Rover struct {
	*tree.Model

	user *User
}

func (r *Rover) User() *User              { return r.user }
func (r *Rover) RoverID() string          { return r.Str("rover_id") }
func (r *Rover) Targets() *tree.Collection { return r.Collection("targets") }

func (r *Rover) MaxUnarrivedTargets() int64 { return r.Int("max_unarrived_targets") }
func (r *Rover) MinTargetSeconds() int64    { return r.Int("min_target_seconds") }
func (r *Rover) MaxTargetSeconds() int64    { return r.Int("max_target_seconds") }
func (r *Rover) MaxTravelDistance() float64 { return r.Float("max_travel_distance") }

// LanderPoint is where the rover touched down; the origin of its first
// movement segment.
func (r *Rover) LanderPoint() geo.Point {
	return geo.Point{Lat: r.Float("lander_lat"), Lng: r.Float("lander_lng")}
}

// LastTarget returns the target with the highest seq, or nil.
func (r *Rover) LastTarget(ctx context.Context) (*Target, error) {
	all, err := r.Targets().All(ctx)
	if err != nil {
		return nil, err
	}
	var last *Target
	for _, m := range all {
		t := &Target{Model: m, rover: r}
		if last == nil || t.Seq() > last.Seq() {
			last = t
		}
	}
	return last, nil
}

// Target returns the target with the given id.
func (r *Rover) Target(ctx context.Context, targetID string) (*Target, error) {
	m, err := r.Targets().Get(ctx, targetID)
	if err != nil {
		return nil, err
	}
	return &Target{Model: m, rover: r}, nil
}

// UnarrivedCount counts targets whose arrival_time is still in the future.
func (r *Rover) UnarrivedCount(ctx context.Context, nowSecs int64) (int64, error) {
	all, err := r.Targets().All(ctx)
	if err != nil {
		return 0, err
	}
	var n int64
	for _, m := range all {
		if m.Int("arrival_time") > nowSecs {
			n++
		}
	}
	return n, nil
}

// CurrentPoint is the rover's position now: the last arrived target, else
// the lander.
func (r *Rover) CurrentPoint(ctx context.Context, nowSecs int64) (geo.Point, error) {
	all, err := r.Targets().All(ctx)
	if err != nil {
		return geo.Point{}, err
	}
	point := r.LanderPoint()
	var bestSeq int64 = -1
	for _, m := range all {
		if m.Int("arrival_time") <= nowSecs && m.Int("seq") > bestSeq {
			bestSeq = m.Int("seq")
			point = geo.Point{Lat: m.Float("lat"), Lng: m.Float("lng")}
		}
	}
	return point, nil
}

// TargetsBySeq returns the rover's targets ordered by seq ascending.
func (r *Rover) TargetsBySeq(ctx context.Context) ([]*Target, error) {
	all, err := r.Targets().All(ctx)
	if err != nil {
		return nil, err
	}
	targets := make([]*Target, 0, len(all))
	for _, m := range all {
		targets = append(targets, &Target{Model: m, rover: r})
	}
	for i := 1; i < len(targets); i++ {
		for j := i; j > 0 && targets[j].Seq() < targets[j-1].Seq(); j-- {
			targets[j], targets[j-1] = targets[j-1], targets[j]
		}
	}
	return targets, nil
}
