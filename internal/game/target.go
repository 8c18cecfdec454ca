package game

import (
	"context"

	"github.com/plastr/extrasolar/internal/geo"
	"github.com/plastr/extrasolar/internal/tree"
)

// Target wraps a target model. start_time and arrival_time are game seconds;
// arrival_time > start_time always.
type Target struct {
	*tree.Model

	rover *Rover
}

func (t *Target) Rover() *Rover      { return t.rover }
func (t *Target) TargetID() string   { return t.Str("target_id") }
func (t *Target) Seq() int64         { return t.Int("seq") }
func (t *Target) StartTime() int64   { return t.Int("start_time") }
func (t *Target) ArrivalTime() int64 { return t.Int("arrival_time") }
func (t *Target) Picture() bool      { return t.Bool("picture") }
func (t *Target) Processed() bool    { return t.Bool("processed") }
func (t *Target) Classified() bool   { return t.Bool("classified") }

func (t *Target) Point() geo.Point {
	return geo.Point{Lat: t.Float("lat"), Lng: t.Float("lng")}
}

// Arrived reports whether the rover has reached this target.
func (t *Target) Arrived(nowSecs int64) bool {
	return t.ArrivalTime() <= nowSecs
}

// Metadata returns the target's metadata key-value pairs.
func (t *Target) Metadata() map[string]string {
	switch m := t.Value("metadata").(type) {
	case map[string]string:
		return m
	case map[string]any:
		out := make(map[string]string, len(m))
		for k, v := range m {
			if s, ok := v.(string); ok {
				out[k] = s
			}
		}
		return out
	}
	return nil
}

// ImageRects returns the species-tagged rectangle collection.
func (t *Target) ImageRects() *tree.Collection { return t.Collection("image_rects") }

// NextRectSeq returns the next server-assigned rectangle seq.
func (t *Target) NextRectSeq(ctx context.Context) (int64, error) {
	all, err := t.ImageRects().All(ctx)
	if err != nil {
		return 0, err
	}
	var max int64
	for _, m := range all {
		if m.Int("seq") > max {
			max = m.Int("seq")
		}
	}
	return max + 1, nil
}
