package game

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"strconv"
	"time"

	"github.com/plastr/extrasolar/internal/chrono"
	"github.com/plastr/extrasolar/internal/dbx"
	"github.com/plastr/extrasolar/internal/tree"
)

//go:embed queries.yaml
var queryFS embed.FS

// QueryFS exposes the built-in named-query records for deployments that do
// not override them with an on-disk query directory.
func QueryFS() fs.FS { return queryFS }

// LoadUser assembles a user's tree from rows. The user row and rovers load
// eagerly; every child collection is lazy and loads through the named-query
// runner on first access, within the same transaction.
func (s *Store) LoadUser(ctx context.Context, tx dbx.DBTX, userID string, clock chrono.Clock) (*User, error) {
	row, err := s.runner.Row(ctx, tx, "user_by_id", map[string]any{"user_id": userID})
	if err != nil {
		return nil, err
	}

	session := tree.NewSession(userID, clock)
	u := NewUser(session, userID, asTime(row["epoch"]))
	for _, field := range []string{"email", "first_name", "last_name", "current_voucher_level", "activity_alert_frequency"} {
		_ = u.SetSilent(field, asStr(row[field]))
	}
	_ = u.SetSilent("invites_left", asInt(row["invites_left"]))
	_ = u.SetSilent("valid", asBool(row["valid"]))
	if t, ok := asTimeOK(row["activity_window_start"]); ok {
		_ = u.SetSilent("activity_window_start", chrono.UsecFromTime(t))
	}
	if t, ok := asTimeOK(row["activity_last_sent_at"]); ok {
		_ = u.SetSilent("activity_last_sent_at", chrono.UsecFromTime(t))
	}

	if err := s.loadRovers(ctx, tx, u); err != nil {
		return nil, err
	}

	s.markLazy(ctx, tx, u)
	return u, nil
}

func (s *Store) loadRovers(ctx context.Context, tx dbx.DBTX, u *User) error {
	rows, err := s.runner.Rows(ctx, tx, "rovers_by_user", map[string]any{"user_id": u.UserID})
	if err != nil {
		return err
	}
	for _, row := range rows {
		m := tree.NewModel(roverSpec, u.Session(), "")
		_ = m.SetSilent("rover_id", asStr(row["rover_id"]))
		_ = m.SetSilent("rover_key", asStr(row["rover_key"]))
		_ = m.SetSilent("chassis", asStr(row["chassis"]))
		_ = m.SetSilent("activated_at", asInt(row["activated_at"]))
		_ = m.SetSilent("active", asBool(row["active"]))
		_ = m.SetSilent("lander_lat", asFloat(row["lander_lat"]))
		_ = m.SetSilent("lander_lng", asFloat(row["lander_lng"]))
		_ = m.SetSilent("max_unarrived_targets", asInt(row["max_unarrived_targets"]))
		_ = m.SetSilent("min_target_seconds", asInt(row["min_target_seconds"]))
		_ = m.SetSilent("max_target_seconds", asInt(row["max_target_seconds"]))
		_ = m.SetSilent("max_travel_distance", asFloat(row["max_travel_distance"]))
		if err := u.Rovers().AddSilent(ctx, m); err != nil {
			return err
		}
		roverID := asStr(row["rover_id"])
		m.Collection("targets").MarkLazy(func(lctx context.Context, c *tree.Collection) error {
			return s.loadTargets(lctx, tx, u, roverID, c)
		}, false)
	}
	return nil
}

func (s *Store) loadTargets(ctx context.Context, tx dbx.DBTX, u *User, roverID string, c *tree.Collection) error {
	rows, err := s.runner.Rows(ctx, tx, "targets_by_rover",
		map[string]any{"user_id": u.UserID, "rover_id": roverID})
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	targetIDs := make([]any, 0, len(rows))
	byID := make(map[string]*tree.Model, len(rows))
	for _, row := range rows {
		m := tree.NewModel(targetSpec, u.Session(), "")
		id := asStr(row["target_id"])
		_ = m.SetSilent("target_id", id)
		_ = m.SetSilent("seq", asInt(row["seq"]))
		_ = m.SetSilent("lat", asFloat(row["lat"]))
		_ = m.SetSilent("lng", asFloat(row["lng"]))
		_ = m.SetSilent("yaw", asFloat(row["yaw"]))
		_ = m.SetSilent("pitch", asFloat(row["pitch"]))
		_ = m.SetSilent("start_time", asInt(row["start_time"]))
		_ = m.SetSilent("arrival_time", asInt(row["arrival_time"]))
		_ = m.SetSilent("picture", asBool(row["picture"]))
		_ = m.SetSilent("processed", asBool(row["processed"]))
		_ = m.SetSilent("classified", asBool(row["classified"]))
		_ = m.SetSilent("highlighted", asBool(row["highlighted"]))
		_ = m.SetSilent("render_at", asInt(row["render_at"]))
		if v, ok := asIntOK(row["viewed_at"]); ok {
			_ = m.SetSilent("viewed_at", v)
		}
		_ = m.SetSilent("metadata", map[string]string{})
		_ = m.SetSilent("images", map[string]string{})
		_ = m.SetSilent("sounds", []string{})
		if err := c.AddSilent(ctx, m); err != nil {
			return err
		}
		targetIDs = append(targetIDs, id)
		byID[id] = m
	}

	return s.loadTargetChildren(ctx, tx, u.UserID, targetIDs, byID)
}

func (s *Store) loadTargetChildren(ctx context.Context, tx dbx.DBTX, userID string, targetIDs []any, byID map[string]*tree.Model) error {
	params := map[string]any{"user_id": userID, "target_ids": targetIDs}

	rows, err := s.runner.Rows(ctx, tx, "target_metadata_by_targets", params)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if m, ok := byID[asStr(row["target_id"])]; ok {
			md := m.Value("metadata").(map[string]string)
			md[asStr(row["key"])] = asStr(row["value"])
		}
	}

	rows, err = s.runner.Rows(ctx, tx, "target_images_by_targets", params)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if m, ok := byID[asStr(row["target_id"])]; ok {
			images := m.Value("images").(map[string]string)
			images[asStr(row["kind"])] = asStr(row["url"])
		}
	}

	rows, err = s.runner.Rows(ctx, tx, "target_sounds_by_targets", params)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if m, ok := byID[asStr(row["target_id"])]; ok {
			sounds := m.Value("sounds").([]string)
			_ = m.SetSilent("sounds", append(sounds, asStr(row["sound_key"])))
		}
	}

	rows, err = s.runner.Rows(ctx, tx, "target_rects_by_targets", params)
	if err != nil {
		return err
	}
	for _, row := range rows {
		m, ok := byID[asStr(row["target_id"])]
		if !ok {
			continue
		}
		rect := tree.NewModel(imageRectSpec, m.Session(), "")
		_ = rect.SetSilent("seq", asInt(row["seq"]))
		_ = rect.SetSilent("xmin", asFloat(row["xmin"]))
		_ = rect.SetSilent("ymin", asFloat(row["ymin"]))
		_ = rect.SetSilent("xmax", asFloat(row["xmax"]))
		_ = rect.SetSilent("ymax", asFloat(row["ymax"]))
		_ = rect.SetSilent("density", asFloat(row["density"]))
		if v, ok := asIntOK(row["species_id"]); ok {
			_ = rect.SetSilent("species_id", v)
		}
		if v, ok := asIntOK(row["subspecies_id"]); ok {
			_ = rect.SetSilent("subspecies_id", v)
		}
		if err := m.Collection("image_rects").AddSilent(ctx, rect); err != nil {
			return err
		}
	}
	return nil
}

// markLazy installs the remaining collection loaders. Each loads all rows of
// one kind for the user in a single query.
func (s *Store) markLazy(ctx context.Context, tx dbx.DBTX, u *User) {
	lazy := func(coll *tree.Collection, loader func(context.Context, *tree.Collection) error) {
		coll.MarkLazy(loader, false)
	}

	lazy(u.Messages(), func(lctx context.Context, c *tree.Collection) error {
		return s.loadMessages(lctx, tx, u, c)
	})
	lazy(u.Missions(), func(lctx context.Context, c *tree.Collection) error {
		return s.loadMissions(lctx, tx, u, c)
	})
	lazy(u.SpeciesList(), func(lctx context.Context, c *tree.Collection) error {
		return s.loadSpecies(lctx, tx, u, c)
	})
	lazy(u.Achievements(), func(lctx context.Context, c *tree.Collection) error {
		return s.loadKeyed(lctx, tx, u, c, "achievements_by_user", achievementSpec, map[string]string{
			"achievement_key": "str", "achieved_at": "int", "viewed_at": "nullint",
		})
	})
	lazy(u.Capabilities(), func(lctx context.Context, c *tree.Collection) error {
		return s.loadKeyed(lctx, tx, u, c, "capabilities_by_user", capabilitySpec, map[string]string{
			"capability_key": "str", "uses": "int", "free_uses": "int",
			"unlimited": "bool", "available": "bool",
		})
	})
	lazy(u.Vouchers(), func(lctx context.Context, c *tree.Collection) error {
		return s.loadVouchers(lctx, tx, u, c)
	})
	lazy(u.MapTiles(), func(lctx context.Context, c *tree.Collection) error {
		return s.loadKeyed(lctx, tx, u, c, "map_tiles_by_user", mapTileSpec, map[string]string{
			"tile_id": "str", "tile_key": "str", "zoom": "int", "x": "int", "y": "int",
			"arrival_time": "int", "expiry_time": "nullint",
		})
	})
	lazy(u.Progress(), func(lctx context.Context, c *tree.Collection) error {
		return s.loadKeyed(lctx, tx, u, c, "progress_by_user", progressSpec, map[string]string{
			"key": "str", "value": "str", "achieved_at": "int",
		})
	})
	lazy(u.Invitations(), func(lctx context.Context, c *tree.Collection) error {
		return s.loadKeyed(lctx, tx, u, c, "invitations_by_user", inviteSpec, map[string]string{
			"invite_id": "str", "recipient_email": "str", "recipient_first_name": "str",
			"recipient_last_name": "str", "recipient_message": "str",
			"sent_at": "int", "accepted_at": "nullint", "recipient_user_id": "nullstr",
		})
	})
	lazy(u.Shop(), func(lctx context.Context, c *tree.Collection) error {
		return s.loadShop(lctx, tx, u, c)
	})
	lazy(u.Gifts(), func(lctx context.Context, c *tree.Collection) error {
		return s.loadKeyed(lctx, tx, u, c, "gifts_by_user", giftSpec, map[string]string{
			"gift_id": "str", "gift_type": "str", "creator_user_id": "str",
			"redeemed_at": "nullint", "invite_id": "nullstr",
		})
	})
}

func (s *Store) loadMessages(ctx context.Context, tx dbx.DBTX, u *User, c *tree.Collection) error {
	rows, err := s.runner.Rows(ctx, tx, "messages_by_user", map[string]any{"user_id": u.UserID})
	if err != nil {
		return err
	}
	for _, row := range rows {
		m := tree.NewModel(messageSpec, u.Session(), "")
		_ = m.SetSilent("message_id", asStr(row["message_id"]))
		_ = m.SetSilent("msg_type", asStr(row["msg_type"]))
		_ = m.SetSilent("sent_at", asInt(row["sent_at"]))
		_ = m.SetSilent("locked", asBool(row["locked"]))
		_ = m.SetSilent("needs_password", asBool(row["needs_password"]))
		if v, ok := asIntOK(row["read_at"]); ok {
			_ = m.SetSilent("read_at", v)
		}
		if err := c.AddSilent(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) loadMissions(ctx context.Context, tx dbx.DBTX, u *User, c *tree.Collection) error {
	rows, err := s.runner.Rows(ctx, tx, "missions_by_user", map[string]any{"user_id": u.UserID})
	if err != nil {
		return err
	}
	models := map[string]*tree.Model{}
	var order []map[string]any
	for _, row := range rows {
		m := tree.NewModel(missionSpec, u.Session(), "")
		_ = m.SetSilent("mission_id", asStr(row["mission_id"]))
		_ = m.SetSilent("mission_definition", asStr(row["mission_definition"]))
		_ = m.SetSilent("specifics_hash", asStr(row["specifics_hash"]))
		_ = m.SetSilent("parent_hash", asStr(row["parent_hash"]))
		_ = m.SetSilent("title", asStr(row["title"]))
		_ = m.SetSilent("summary", asStr(row["summary"]))
		_ = m.SetSilent("done", asBool(row["done"]))
		_ = m.SetSilent("started_at", asInt(row["started_at"]))
		if v, ok := asIntOK(row["done_at"]); ok {
			_ = m.SetSilent("done_at", v)
		}
		if v, ok := asIntOK(row["viewed_at"]); ok {
			_ = m.SetSilent("viewed_at", v)
		}
		if raw, ok := row["specifics"].([]byte); ok && len(raw) > 0 {
			specifics := map[string]any{}
			if err := json.Unmarshal(raw, &specifics); err != nil {
				return fmt.Errorf("mission %s specifics: %w", m.ID(), err)
			}
			_ = m.SetSilent("specifics", specifics)
		}
		models[asStr(row["specifics_hash"])] = m
		order = append(order, row)
	}
	// children attach under their parent's parts collection
	for _, row := range order {
		m := models[asStr(row["specifics_hash"])]
		parentHash := asStr(row["parent_hash"])
		if parentHash != "" {
			if parent, ok := models[parentHash]; ok {
				if err := parent.Collection("parts").AddSilent(ctx, m); err != nil {
					return err
				}
				continue
			}
		}
		if err := c.AddSilent(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) loadSpecies(ctx context.Context, tx dbx.DBTX, u *User, c *tree.Collection) error {
	rows, err := s.runner.Rows(ctx, tx, "species_by_user", map[string]any{"user_id": u.UserID})
	if err != nil {
		return err
	}
	byID := map[string]*tree.Model{}
	for _, row := range rows {
		m := tree.NewModel(speciesSpec, u.Session(), "")
		id := asInt(row["species_id"])
		_ = m.SetSilent("species_id", strconv.FormatInt(id, 10))
		_ = m.SetSilent("detected_at", asInt(row["detected_at"]))
		_ = m.SetSilent("available_at", asInt(row["available_at"]))
		if v, ok := asIntOK(row["viewed_at"]); ok {
			_ = m.SetSilent("viewed_at", v)
		}
		var targetIDs [][]string
		if raw, ok := row["target_ids"].([]byte); ok && len(raw) > 0 {
			if err := json.Unmarshal(raw, &targetIDs); err != nil {
				return fmt.Errorf("species %d target_ids: %w", id, err)
			}
		}
		_ = m.SetSilent("target_ids", targetIDs)
		if err := c.AddSilent(ctx, m); err != nil {
			return err
		}
		byID[m.ID()] = m
	}

	subRows, err := s.runner.Rows(ctx, tx, "subspecies_by_user", map[string]any{"user_id": u.UserID})
	if err != nil {
		return err
	}
	for _, row := range subRows {
		parent, ok := byID[strconv.FormatInt(asInt(row["species_id"]), 10)]
		if !ok {
			continue
		}
		sub := tree.NewModel(subspeciesSpec, u.Session(), "")
		_ = sub.SetSilent("subspecies_id", strconv.FormatInt(asInt(row["subspecies_id"]), 10))
		_ = sub.SetSilent("detected_at", asInt(row["detected_at"]))
		if err := parent.Collection("subspecies").AddSilent(ctx, sub); err != nil {
			return err
		}
	}
	return nil
}

// loadShop loads the zero-or-one store-front row and its purchase history.
func (s *Store) loadShop(ctx context.Context, tx dbx.DBTX, u *User, c *tree.Collection) error {
	rows, err := s.runner.Rows(ctx, tx, "shop_by_user", map[string]any{"user_id": u.UserID})
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	shop := tree.NewModel(shopSpec, u.Session(), "")
	_ = shop.SetSilent("shop_id", asStr(rows[0]["shop_id"]))
	_ = shop.SetSilent("enabled", asBool(rows[0]["enabled"]))
	if v := rows[0]["stripe_customer_id"]; v != nil {
		_ = shop.SetSilent("stripe_customer_id", asStr(v))
	}
	if err := c.AddSilent(ctx, shop); err != nil {
		return err
	}

	products, err := s.runner.Rows(ctx, tx, "purchased_products_by_user", map[string]any{"user_id": u.UserID})
	if err != nil {
		return err
	}
	for _, row := range products {
		m := tree.NewModel(purchasedProductSpec, u.Session(), "")
		_ = m.SetSilent("product_key", asStr(row["product_key"]))
		_ = m.SetSilent("name", asStr(row["name"]))
		_ = m.SetSilent("price_cents", asInt(row["price_cents"]))
		_ = m.SetSilent("purchased_at", asInt(row["purchased_at"]))
		if err := shop.Collection("purchased_products").AddSilent(ctx, m); err != nil {
			return err
		}
	}

	invoices, err := s.runner.Rows(ctx, tx, "invoices_by_user", map[string]any{"user_id": u.UserID})
	if err != nil {
		return err
	}
	for _, row := range invoices {
		m := tree.NewModel(invoiceSpec, u.Session(), "")
		_ = m.SetSilent("invoice_id", asStr(row["invoice_id"]))
		_ = m.SetSilent("total_cents", asInt(row["total_cents"]))
		_ = m.SetSilent("created_at", asInt(row["created_at"]))
		var keys []string
		if raw, ok := row["product_keys"].([]byte); ok && len(raw) > 0 {
			if err := json.Unmarshal(raw, &keys); err != nil {
				return fmt.Errorf("invoice %s product_keys: %w", m.ID(), err)
			}
		}
		_ = m.SetSilent("product_keys", keys)
		if err := shop.Collection("invoices").AddSilent(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) loadVouchers(ctx context.Context, tx dbx.DBTX, u *User, c *tree.Collection) error {
	rows, err := s.runner.Rows(ctx, tx, "vouchers_by_user", map[string]any{"user_id": u.UserID})
	if err != nil {
		return err
	}
	for _, row := range rows {
		m := tree.NewModel(voucherSpec, u.Session(), "")
		_ = m.SetSilent("voucher_key", asStr(row["voucher_key"]))
		_ = m.SetSilent("delivered_at", asInt(row["delivered_at"]))
		if err := c.AddSilent(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

// loadKeyed loads flat row-per-model collections driven by a column kind
// map: str, int, float, bool, nullint, nullstr.
func (s *Store) loadKeyed(ctx context.Context, tx dbx.DBTX, u *User, c *tree.Collection, query string, spec *tree.Spec, cols map[string]string) error {
	rows, err := s.runner.Rows(ctx, tx, query, map[string]any{"user_id": u.UserID})
	if err != nil {
		return err
	}
	for _, row := range rows {
		m := tree.NewModel(spec, u.Session(), "")
		for col, kind := range cols {
			switch kind {
			case "str":
				_ = m.SetSilent(col, asStr(row[col]))
			case "int":
				_ = m.SetSilent(col, asInt(row[col]))
			case "float":
				_ = m.SetSilent(col, asFloat(row[col]))
			case "bool":
				_ = m.SetSilent(col, asBool(row[col]))
			case "nullint":
				if v, ok := asIntOK(row[col]); ok {
					_ = m.SetSilent(col, v)
				}
			case "nullstr":
				if row[col] != nil {
					_ = m.SetSilent(col, asStr(row[col]))
				}
			}
		}
		if err := c.AddSilent(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func asStr(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	}
	return ""
}

func asInt(v any) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int32:
		return int64(t)
	case int:
		return int64(t)
	case float64:
		return int64(t)
	case []byte:
		n, _ := strconv.ParseInt(string(t), 10, 64)
		return n
	}
	return 0
}

func asIntOK(v any) (int64, bool) {
	if v == nil {
		return 0, false
	}
	return asInt(v), true
}

func asFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case float32:
		return float64(t)
	case int64:
		return float64(t)
	case []byte:
		f, _ := strconv.ParseFloat(string(t), 64)
		return f
	}
	return 0
}

func asBool(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case int64:
		return t != 0
	}
	return false
}

func asTime(v any) time.Time {
	t, _ := asTimeOK(v)
	return t
}

func asTimeOK(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), true
	case []byte:
		parsed, err := time.Parse(time.RFC3339Nano, string(t))
		if err != nil {
			return time.Time{}, false
		}
		return parsed.UTC(), true
	}
	return time.Time{}, false
}
