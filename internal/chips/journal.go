package chips

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/plastr/extrasolar/internal/chrono"
	"github.com/plastr/extrasolar/internal/dbx"
)

// Journal is the append-only chip log over a dbx.DBTX (*sql.DB or *sql.Tx).
// Delivery times are stored as bigint microseconds so the (user_id, time)
// index serves the fetch-window query directly.
type Journal struct {
	db dbx.DBTX
}

func NewJournal(db dbx.DBTX) *Journal {
	return &Journal{db: db}
}

// Append inserts a chip and fills in its journal sequence number.
func (j *Journal) Append(ctx context.Context, c *Chip) error {
	pathJSON, err := json.Marshal(c.Path)
	if err != nil {
		return fmt.Errorf("marshal chip path: %w", err)
	}
	valueJSON, err := json.Marshal(c.Value)
	if err != nil {
		return fmt.Errorf("marshal chip value: %w", err)
	}

	query := `
		INSERT INTO chips (user_id, time, path, action, value, transient)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING seq
	`
	err = j.db.QueryRowContext(ctx, query,
		c.UserID, chrono.UsecFromTime(c.Time), pathJSON, string(c.Action), valueJSON, c.Transient,
	).Scan(&c.Seq)
	if err != nil {
		return fmt.Errorf("append chip: %w", err)
	}
	return nil
}

// Fetch returns the user's chips with delivery time in (since, until], in
// journal insertion order. The window is left-open, right-closed: a future
// chip with delivery time t is invisible while until < t and visible once
// until >= t. When includeTransient is false only permanent chips are
// returned (the full-gamestate load path).
func (j *Journal) Fetch(ctx context.Context, userID string, since, until time.Time, includeTransient bool) ([]Chip, error) {
	query := `
		SELECT seq, time, path, action, value, transient
		FROM chips
		WHERE user_id = $1 AND time > $2 AND time <= $3
	`
	args := []any{userID, chrono.UsecFromTime(since), chrono.UsecFromTime(until)}
	if !includeTransient {
		query += ` AND transient = FALSE`
	}
	query += ` ORDER BY seq`

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("fetch chips: %w", err)
	}
	defer rows.Close()

	var result []Chip
	for rows.Next() {
		var (
			c         Chip
			timeUsec  int64
			pathJSON  []byte
			valueJSON []byte
			action    string
		)
		if err := rows.Scan(&c.Seq, &timeUsec, &pathJSON, &action, &valueJSON, &c.Transient); err != nil {
			return nil, err
		}
		c.UserID = userID
		c.Time = chrono.TimeFromUsec(timeUsec)
		c.Action = Action(action)
		if err := json.Unmarshal(pathJSON, &c.Path); err != nil {
			return nil, fmt.Errorf("unmarshal chip path: %w", err)
		}
		if len(valueJSON) > 0 {
			if err := json.Unmarshal(valueJSON, &c.Value); err != nil {
				return nil, fmt.Errorf("unmarshal chip value: %w", err)
			}
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Retract deletes a user's chips journalled for one delivery instant on the
// exact path. Used when the state a future chip describes is cancelled
// before its delivery time.
func (j *Journal) Retract(ctx context.Context, userID string, at time.Time, path []string) error {
	pathJSON, err := json.Marshal(path)
	if err != nil {
		return fmt.Errorf("marshal chip path: %w", err)
	}
	_, err = j.db.ExecContext(ctx,
		`DELETE FROM chips WHERE user_id = $1 AND time = $2 AND path = $3::jsonb`,
		userID, chrono.UsecFromTime(at), string(pathJSON))
	if err != nil {
		return fmt.Errorf("retract chips: %w", err)
	}
	return nil
}

// Vacuum physically deletes chips whose delivery time is older than the
// cutoff and reports how many were removed.
func (j *Journal) Vacuum(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := j.db.ExecContext(ctx, `DELETE FROM chips WHERE time < $1`, chrono.UsecFromTime(olderThan))
	if err != nil {
		return 0, fmt.Errorf("vacuum chips: %w", err)
	}
	return res.RowsAffected()
}
