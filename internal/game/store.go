package game

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/plastr/extrasolar/internal/dbx"
	"github.com/plastr/extrasolar/internal/logging"
	"github.com/plastr/extrasolar/internal/queries"
	"github.com/plastr/extrasolar/internal/tree"
)

// Store persists the domain rows behind the tree. Reads go through the
// named-query runner so the per-request row cache and the on-disk query
// records apply; writes are plain statements in the caller's transaction.
type Store struct {
	log    logging.Logger
	runner *queries.Runner
}

func NewStore(log logging.Logger, runner *queries.Runner) *Store {
	return &Store{log: log, runner: runner}
}

// CacheableQueries lists the named queries safe to memoize for the duration
// of one tree load: the per-target fanouts that sibling lazy collections
// would otherwise repeat.
var CacheableQueries = []string{
	"target_metadata_by_targets",
	"target_images_by_targets",
	"target_sounds_by_targets",
	"target_rects_by_targets",
	"species_by_user",
	"subspecies_by_user",
}

// withCache returns a store sharing this store's query records but reading
// through the given request-scoped cache.
func (s *Store) withCache(cache *dbx.RowCache) *Store {
	return &Store{log: s.log, runner: s.runner.WithCache(cache)}
}

func (s *Store) InsertUser(ctx context.Context, tx dbx.DBTX, u *User) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO users (user_id, email, first_name, last_name, epoch, invites_left,
		                    current_voucher_level, activity_alert_frequency, valid)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		u.UserID, u.Str("email"), u.Str("first_name"), u.Str("last_name"), u.Epoch,
		u.Int("invites_left"), u.Str("current_voucher_level"),
		u.Str("activity_alert_frequency"), u.Bool("valid"))
	return wrap(err, "insert user")
}

func (s *Store) UpdateUserInvitesLeft(ctx context.Context, tx dbx.DBTX, userID string, left int64) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE users SET invites_left = $2 WHERE user_id = $1`, userID, left)
	return wrap(err, "update invites_left")
}

func (s *Store) UpdateUserVoucherLevel(ctx context.Context, tx dbx.DBTX, userID, voucherKey string) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE users SET current_voucher_level = $2 WHERE user_id = $1`, userID, voucherKey)
	return wrap(err, "update voucher level")
}

func (s *Store) UpdateUserActivity(ctx context.Context, tx dbx.DBTX, userID string, windowStart, lastSentAt time.Time) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE users SET activity_window_start = $2, activity_last_sent_at = $3 WHERE user_id = $1`,
		userID, windowStart, lastSentAt)
	return wrap(err, "update activity window")
}

// DigestUsers lists valid users whose activity digests are enabled. The
// notification sweeper iterates the result, so this read bypasses the tree
// loaders.
func (s *Store) DigestUsers(ctx context.Context, tx dbx.DBTX) ([]string, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT user_id FROM users WHERE valid AND activity_alert_frequency <> $1`,
		ActivityFrequencyOff)
	if err != nil {
		return nil, wrap(err, "list digest users")
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, wrap(err, "scan digest user")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) InsertRover(ctx context.Context, tx dbx.DBTX, userID string, r *Rover) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO rovers (user_id, rover_id, rover_key, chassis, activated_at, active,
		                     lander_lat, lander_lng, max_unarrived_targets,
		                     min_target_seconds, max_target_seconds, max_travel_distance)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		userID, r.RoverID(), r.Str("rover_key"), r.Str("chassis"), r.Int("activated_at"),
		r.Bool("active"), r.Float("lander_lat"), r.Float("lander_lng"),
		r.MaxUnarrivedTargets(), r.MinTargetSeconds(), r.MaxTargetSeconds(), r.MaxTravelDistance())
	return wrap(err, "insert rover")
}

func (s *Store) InsertTarget(ctx context.Context, tx dbx.DBTX, userID string, t *Target) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO targets (user_id, rover_id, target_id, seq, lat, lng, yaw, pitch,
		                      start_time, arrival_time, picture, processed, classified,
		                      highlighted, render_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		userID, t.rover.RoverID(), t.TargetID(), t.Seq(), t.Float("lat"), t.Float("lng"),
		t.Float("yaw"), t.Float("pitch"), t.StartTime(), t.ArrivalTime(),
		t.Picture(), t.Processed(), t.Classified(), t.Bool("highlighted"), t.Int("render_at"))
	if err != nil {
		return wrap(err, "insert target")
	}
	for key, value := range t.Metadata() {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO target_metadata (user_id, target_id, key, value) VALUES ($1, $2, $3, $4)`,
			userID, t.TargetID(), key, value); err != nil {
			return wrap(err, "insert target metadata")
		}
	}
	return nil
}

func (s *Store) UpdateTargetProcessed(ctx context.Context, tx dbx.DBTX, userID string, t *Target, images map[string]string) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE targets SET processed = TRUE WHERE user_id = $1 AND target_id = $2`,
		userID, t.TargetID())
	if err != nil {
		return wrap(err, "update target processed")
	}
	for kind, url := range images {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO target_images (user_id, target_id, kind, url) VALUES ($1, $2, $3, $4)`,
			userID, t.TargetID(), kind, url); err != nil {
			return wrap(err, "insert target image")
		}
	}
	return nil
}

func (s *Store) UpdateTargetClassified(ctx context.Context, tx dbx.DBTX, userID, targetID string) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE targets SET classified = TRUE WHERE user_id = $1 AND target_id = $2`,
		userID, targetID)
	return wrap(err, "update target classified")
}

func (s *Store) UpdateTargetViewed(ctx context.Context, tx dbx.DBTX, userID, targetID string, viewedAt int64) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE targets SET viewed_at = $3 WHERE user_id = $1 AND target_id = $2 AND viewed_at IS NULL`,
		userID, targetID, viewedAt)
	return wrap(err, "update target viewed")
}

// DeleteTargetCascade removes a target and its dependent rows.
func (s *Store) DeleteTargetCascade(ctx context.Context, tx dbx.DBTX, userID, targetID string) error {
	for _, stmt := range []string{
		`DELETE FROM target_image_rects WHERE user_id = $1 AND target_id = $2`,
		`DELETE FROM target_images WHERE user_id = $1 AND target_id = $2`,
		`DELETE FROM target_metadata WHERE user_id = $1 AND target_id = $2`,
		`DELETE FROM target_sounds WHERE user_id = $1 AND target_id = $2`,
		`DELETE FROM targets WHERE user_id = $1 AND target_id = $2`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, userID, targetID); err != nil {
			return wrap(err, "delete target")
		}
	}
	return nil
}

func (s *Store) InsertTargetRect(ctx context.Context, tx dbx.DBTX, userID, targetID string, seq int64, r Rect, speciesID, subspeciesID int64, density float64) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO target_image_rects (user_id, target_id, seq, xmin, ymin, xmax, ymax,
		                                 species_id, subspecies_id, density)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		userID, targetID, seq, r.XMin, r.YMin, r.XMax, r.YMax, speciesID, subspeciesID, density)
	return wrap(err, "insert target rect")
}

func (s *Store) InsertMission(ctx context.Context, tx dbx.DBTX, userID string, m *Mission) error {
	specifics, err := json.Marshal(m.Specifics())
	if err != nil {
		return wrap(err, "marshal mission specifics")
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO missions (user_id, mission_id, mission_definition, specifics,
		                       specifics_hash, parent_hash, title, summary, done, started_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		userID, m.MissionID(), m.Definition(), specifics, m.Str("specifics_hash"),
		m.Str("parent_hash"), m.Str("title"), m.Str("summary"), m.Done(), m.Int("started_at"))
	return wrap(err, "insert mission")
}

func (s *Store) UpdateMissionDone(ctx context.Context, tx dbx.DBTX, userID, missionID string, doneAt int64) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE missions SET done = TRUE, done_at = $3 WHERE user_id = $1 AND mission_id = $2 AND done = FALSE`,
		userID, missionID, doneAt)
	return wrap(err, "update mission done")
}

func (s *Store) UpdateMissionViewed(ctx context.Context, tx dbx.DBTX, userID, missionID string, viewedAt int64) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE missions SET viewed_at = $3 WHERE user_id = $1 AND mission_id = $2 AND viewed_at IS NULL`,
		userID, missionID, viewedAt)
	return wrap(err, "update mission viewed")
}

func (s *Store) InsertMessage(ctx context.Context, tx dbx.DBTX, userID string, m *Message) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO messages (user_id, message_id, msg_type, sent_at, locked, needs_password)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		userID, m.MessageID(), m.MsgType(), m.Int("sent_at"), m.Bool("locked"), m.Bool("needs_password"))
	return wrap(err, "insert message")
}

func (s *Store) UpdateMessageRead(ctx context.Context, tx dbx.DBTX, userID, messageID string, readAt int64) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE messages SET read_at = $3 WHERE user_id = $1 AND message_id = $2 AND read_at IS NULL`,
		userID, messageID, readAt)
	return wrap(err, "update message read")
}

func (s *Store) UpdateMessageUnlocked(ctx context.Context, tx dbx.DBTX, userID, messageID string) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE messages SET locked = FALSE WHERE user_id = $1 AND message_id = $2`,
		userID, messageID)
	return wrap(err, "update message unlocked")
}

func (s *Store) InsertSpecies(ctx context.Context, tx dbx.DBTX, userID string, sp *Species) error {
	targetIDs, err := json.Marshal(sp.TargetIDs())
	if err != nil {
		return wrap(err, "marshal species targets")
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO species (user_id, species_id, detected_at, available_at, target_ids)
		 VALUES ($1, $2, $3, $4, $5)`,
		userID, sp.SpeciesID(), sp.Int("detected_at"), sp.Int("available_at"), targetIDs)
	return wrap(err, "insert species")
}

func (s *Store) UpdateSpeciesTargets(ctx context.Context, tx dbx.DBTX, userID string, sp *Species) error {
	targetIDs, err := json.Marshal(sp.TargetIDs())
	if err != nil {
		return wrap(err, "marshal species targets")
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE species SET target_ids = $3 WHERE user_id = $1 AND species_id = $2`,
		userID, sp.SpeciesID(), targetIDs)
	return wrap(err, "update species targets")
}

func (s *Store) UpdateSpeciesViewed(ctx context.Context, tx dbx.DBTX, userID string, speciesID, viewedAt int64) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE species SET viewed_at = $3 WHERE user_id = $1 AND species_id = $2 AND viewed_at IS NULL`,
		userID, speciesID, viewedAt)
	return wrap(err, "update species viewed")
}

func (s *Store) InsertSubspecies(ctx context.Context, tx dbx.DBTX, userID string, speciesID, subspeciesID, detectedAt int64) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO species_subspecies (user_id, species_id, subspecies_id, detected_at)
		 VALUES ($1, $2, $3, $4)`,
		userID, speciesID, subspeciesID, detectedAt)
	return wrap(err, "insert subspecies")
}

func (s *Store) InsertAchievement(ctx context.Context, tx dbx.DBTX, userID, key string, achievedAt int64) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO achievements (user_id, achievement_key, achieved_at) VALUES ($1, $2, $3)`,
		userID, key, achievedAt)
	return wrap(err, "insert achievement")
}

func (s *Store) UpdateAchievementViewed(ctx context.Context, tx dbx.DBTX, userID, key string, viewedAt int64) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE achievements SET viewed_at = $3 WHERE user_id = $1 AND achievement_key = $2 AND viewed_at IS NULL`,
		userID, key, viewedAt)
	return wrap(err, "update achievement viewed")
}

func (s *Store) InsertCapability(ctx context.Context, tx dbx.DBTX, userID string, c *Capability) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO capabilities (user_id, capability_key, uses, free_uses, unlimited, available)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		userID, c.Key(), c.Uses(), c.FreeUses(), c.Unlimited(), c.Available())
	return wrap(err, "insert capability")
}

func (s *Store) UpdateCapabilityUses(ctx context.Context, tx dbx.DBTX, userID, key string, uses int64) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE capabilities SET uses = $3 WHERE user_id = $1 AND capability_key = $2`,
		userID, key, uses)
	return wrap(err, "update capability uses")
}

func (s *Store) UpdateCapabilityAvailability(ctx context.Context, tx dbx.DBTX, userID, key string, available, unlimited bool) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE capabilities SET available = $3, unlimited = $4 WHERE user_id = $1 AND capability_key = $2`,
		userID, key, available, unlimited)
	return wrap(err, "update capability availability")
}

func (s *Store) InsertVoucher(ctx context.Context, tx dbx.DBTX, userID, key string, deliveredAt int64) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO vouchers (user_id, voucher_key, delivered_at) VALUES ($1, $2, $3)`,
		userID, key, deliveredAt)
	return wrap(err, "insert voucher")
}

func (s *Store) InsertMapTile(ctx context.Context, tx dbx.DBTX, userID, tileID, tileKey string, zoom, x, y, arrivalTime int64) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO user_map_tiles (user_id, tile_id, tile_key, zoom, x, y, arrival_time)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		userID, tileID, tileKey, zoom, x, y, arrivalTime)
	return wrap(err, "insert map tile")
}

func (s *Store) UpdateMapTileExpiry(ctx context.Context, tx dbx.DBTX, userID, tileID string, expiryTime int64) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE user_map_tiles SET expiry_time = $3 WHERE user_id = $1 AND tile_id = $2`,
		userID, tileID, expiryTime)
	return wrap(err, "update map tile expiry")
}

func (s *Store) ClearMapTileExpiry(ctx context.Context, tx dbx.DBTX, userID, tileID string) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE user_map_tiles SET expiry_time = NULL WHERE user_id = $1 AND tile_id = $2`,
		userID, tileID)
	return wrap(err, "clear map tile expiry")
}

func (s *Store) DeleteMapTile(ctx context.Context, tx dbx.DBTX, userID, tileID string) error {
	_, err := tx.ExecContext(ctx,
		`DELETE FROM user_map_tiles WHERE user_id = $1 AND tile_id = $2`,
		userID, tileID)
	return wrap(err, "delete map tile")
}

func (s *Store) InsertProgress(ctx context.Context, tx dbx.DBTX, userID, key, value string, achievedAt int64) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO users_progress (user_id, key, value, achieved_at) VALUES ($1, $2, $3, $4)`,
		userID, key, value, achievedAt)
	return wrap(err, "insert progress")
}

func (s *Store) InsertInvite(ctx context.Context, tx dbx.DBTX, userID string, inv *Invite) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO invitations (user_id, invite_id, recipient_email, recipient_first_name,
		                          recipient_last_name, recipient_message, sent_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		userID, inv.InviteID(), inv.Str("recipient_email"), inv.Str("recipient_first_name"),
		inv.Str("recipient_last_name"), inv.Str("recipient_message"), inv.Int("sent_at"))
	return wrap(err, "insert invite")
}

func (s *Store) InsertShop(ctx context.Context, tx dbx.DBTX, userID string, sh *Shop) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO users_shop (user_id, shop_id, enabled) VALUES ($1, $2, $3)`,
		userID, sh.ShopID(), sh.Bool("enabled"))
	return wrap(err, "insert shop")
}

func (s *Store) InsertPurchasedProduct(ctx context.Context, tx dbx.DBTX, userID, shopID string, m *tree.Model) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO purchased_products (user_id, shop_id, product_key, name, price_cents, purchased_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		userID, shopID, m.Str("product_key"), m.Str("name"), m.Int("price_cents"), m.Int("purchased_at"))
	return wrap(err, "insert purchased product")
}

func (s *Store) InsertInvoice(ctx context.Context, tx dbx.DBTX, userID, shopID string, m *tree.Model) error {
	keys, err := json.Marshal(m.Value("product_keys"))
	if err != nil {
		return wrap(err, "marshal invoice products")
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO invoices (user_id, shop_id, invoice_id, total_cents, created_at, product_keys)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		userID, shopID, m.Str("invoice_id"), m.Int("total_cents"), m.Int("created_at"), keys)
	return wrap(err, "insert invoice")
}

func wrap(err error, op string) error {
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
