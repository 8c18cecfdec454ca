package game

import (
	"context"
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/plastr/extrasolar/internal/chips"
	"github.com/plastr/extrasolar/internal/dbx"
	"github.com/plastr/extrasolar/internal/geo"
	"github.com/plastr/extrasolar/internal/tree"
)

// TileForPoint maps a surface point to slippy-map tile coordinates.
func TileForPoint(p geo.Point, zoom int64) (x, y int64) {
	fx, fy := tileFrac(p, zoom)
	return int64(math.Floor(fx)), int64(math.Floor(fy))
}

// tileFrac is TileForPoint without the floor: fractional tile coordinates.
func tileFrac(p geo.Point, zoom int64) (fx, fy float64) {
	n := float64(int64(1) << zoom)
	fx = (p.Lng + 180.0) / 360.0 * n
	latRad := p.Lat * math.Pi / 180.0
	fy = (1.0 - math.Log(math.Tan(latRad)+1.0/math.Cos(latRad))/math.Pi) / 2.0 * n
	return fx, fy
}

func tileKey(zoom, x, y int64) string {
	return fmt.Sprintf("%d/%d/%d", zoom, x, y)
}

// segmentTiles lists every tile the from-to segment crosses, keyed like the
// tile chain. The segment is sampled at half-tile granularity in tile space
// so a move spanning several tiles versions the traversed middles too, not
// just its endpoints.
func segmentTiles(from, to geo.Point, zoom int64) map[string][2]int64 {
	fx0, fy0 := tileFrac(from, zoom)
	fx1, fy1 := tileFrac(to, zoom)
	steps := 2 * int(math.Ceil(math.Max(math.Abs(fx1-fx0), math.Abs(fy1-fy0))))
	if steps < 1 {
		steps = 1
	}
	keys := map[string][2]int64{}
	for i := 0; i <= steps; i++ {
		f := float64(i) / float64(steps)
		x := int64(math.Floor(fx0 + (fx1-fx0)*f))
		y := int64(math.Floor(fy0 + (fy1-fy0)*f))
		keys[tileKey(zoom, x, y)] = [2]int64{x, y}
	}
	return keys
}

// updateMapTiles versions the tiles a new target touches. Per tile key at
// most one tile is visible at a time: the new tile arrives with the target
// and the superseded tile expires at the same instant. Both transitions
// travel as future chips delivered just before arrival.
func (s *Service) updateMapTiles(ctx context.Context, tx dbx.DBTX, u *User, from geo.Point, t *Target) error {
	keys := segmentTiles(from, t.Point(), TileZoom)

	arrivalTime := t.ArrivalTime()
	delivery := u.AbsoluteTime(arrivalTime).Add(-chips.DeliveryLeeway)

	for key, xy := range keys {
		current, err := s.currentTile(ctx, u, key)
		if err != nil {
			return err
		}
		if current != nil && current.Int("arrival_time") == arrivalTime {
			continue
		}

		m := tree.NewModel(mapTileSpec, u.Session(), "")
		_ = m.SetSilent("tile_id", uuid.NewString())
		_ = m.SetSilent("tile_key", key)
		_ = m.SetSilent("zoom", int64(TileZoom))
		_ = m.SetSilent("x", xy[0])
		_ = m.SetSilent("y", xy[1])
		_ = m.SetSilent("arrival_time", arrivalTime)
		if err := u.MapTiles().AddSilent(ctx, m); err != nil {
			return err
		}
		ser, err := m.Serialize(ctx)
		if err != nil {
			return err
		}
		u.Session().EmitAt(chips.Add, m.Path(), ser, delivery, true)
		if err := s.store.InsertMapTile(ctx, tx, u.UserID, m.Str("tile_id"), key,
			TileZoom, xy[0], xy[1], arrivalTime); err != nil {
			return err
		}

		if current != nil {
			_ = current.SetSilent("expiry_time", arrivalTime)
			u.Session().EmitAt(chips.Mod, current.Path(),
				map[string]any{"tile_id": current.Str("tile_id"), "expiry_time": arrivalTime},
				delivery, true)
			if err := s.store.UpdateMapTileExpiry(ctx, tx, u.UserID, current.Str("tile_id"), arrivalTime); err != nil {
				return err
			}
		}
	}
	return nil
}

// revertMapTiles undoes the tile versions a doomed target introduced: its
// tiles leave the chain and any tile they superseded becomes current again.
// The create-time transitions were journalled as future chips at the
// aborted arrival's delivery instant; those are retracted, and correcting
// chips go out at once for clients that already consumed them.
func (s *Service) revertMapTiles(ctx context.Context, tx dbx.DBTX, u *User, t *Target) error {
	arrivalTime := t.ArrivalTime()
	all, err := u.MapTiles().All(ctx)
	if err != nil {
		return err
	}
	journal := chips.NewJournal(tx)
	delivery := u.AbsoluteTime(arrivalTime).Add(-chips.DeliveryLeeway)

	for _, m := range all {
		if m.Int("arrival_time") != arrivalTime {
			continue
		}
		tileID := m.Str("tile_id")
		key := m.Str("tile_key")
		if err := journal.Retract(ctx, u.UserID, delivery, m.Path()); err != nil {
			return err
		}
		if err := u.MapTiles().Remove(ctx, tileID); err != nil {
			return err
		}
		if err := s.store.DeleteMapTile(ctx, tx, u.UserID, tileID); err != nil {
			return err
		}

		for _, prev := range all {
			if prev.Str("tile_key") != key || prev.Str("tile_id") == tileID {
				continue
			}
			if !prev.IsSet("expiry_time") || prev.Int("expiry_time") != arrivalTime {
				continue
			}
			if err := journal.Retract(ctx, u.UserID, delivery, prev.Path()); err != nil {
				return err
			}
			_ = prev.SetSilent("expiry_time", nil)
			u.Session().Emit(chips.Mod, prev.Path(),
				map[string]any{"tile_id": prev.Str("tile_id"), "expiry_time": nil})
			if err := s.store.ClearMapTileExpiry(ctx, tx, u.UserID, prev.Str("tile_id")); err != nil {
				return err
			}
		}
	}
	return nil
}

// currentTile returns the tile for a key with no expiry, the chain's tail.
func (s *Service) currentTile(ctx context.Context, u *User, key string) (*tree.Model, error) {
	all, err := u.MapTiles().All(ctx)
	if err != nil {
		return nil, err
	}
	var tail *tree.Model
	for _, m := range all {
		if m.Str("tile_key") != key || m.IsSet("expiry_time") {
			continue
		}
		if tail == nil || m.Int("arrival_time") > tail.Int("arrival_time") {
			tail = m
		}
	}
	return tail, nil
}
