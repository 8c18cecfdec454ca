// Package deferred implements the durable one-shot timer queue: rows with a
// run_at instant and a typed payload, drained by a single driver per
// database and dispatched to registered handlers.
package deferred

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/plastr/extrasolar/internal/dbx"
	"github.com/plastr/extrasolar/internal/logging"
	"github.com/plastr/extrasolar/internal/shared"
)

// Type discriminates deferred rows into their handler families.
type Type string

const (
	TypeEmail            Type = "EMAIL"
	TypeMessage          Type = "MESSAGE"
	TypeTargetArrived    Type = "TARGET_ARRIVED"
	TypeMissionDoneAfter Type = "MISSION_DONE_AFTER"
	TypeTimer            Type = "TIMER"
)

var knownTypes = map[Type]struct{}{
	TypeEmail:            {},
	TypeMessage:          {},
	TypeTargetArrived:    {},
	TypeMissionDoneAfter: {},
	TypeTimer:            {},
}

// Row is one persisted timer.
type Row struct {
	DeferredID int64
	UserID     string
	Type       Type
	Subtype    string
	RunAt      time.Time
	Created    time.Time
	Payload    map[string]any
}

// Queue persists and reads deferred rows. All methods run inside the
// caller's transaction.
type Queue struct {
	log logging.Logger
}

func NewQueue(log logging.Logger) *Queue {
	return &Queue{log: log}
}

// RunLater schedules a typed action delay from now. A negative delay is
// clamped to zero with a warning; an unrecognised type fails.
func (q *Queue) RunLater(ctx context.Context, tx dbx.DBTX, now time.Time, userID string, typ Type, subtype string, delay time.Duration, payload map[string]any) error {
	if _, ok := knownTypes[typ]; !ok {
		return fmt.Errorf("%w: unknown deferred type %q", shared.ErrorImproperInvocation, typ)
	}
	if delay < 0 {
		q.log.Warn(ctx, "deferred scheduled in the past, clamping to now",
			"user_id", userID, "type", string(typ), "subtype", subtype, "delay", delay.String())
		delay = 0
	}

	var payloadJSON []byte
	if payload != nil {
		var err error
		payloadJSON, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("%w: deferred payload not serialisable: %v", shared.ErrorImproperInvocation, err)
		}
	}

	_, err := tx.ExecContext(ctx,
		`INSERT INTO deferred (user_id, deferred_type, subtype, run_at, created, payload)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		userID, string(typ), subtype, now.Add(delay).UTC(), now.UTC(), payloadJSON)
	if err != nil {
		return fmt.Errorf("deferred insert: %w", err)
	}
	return nil
}

// IsQueuedForUser reports whether a row of this type and subtype is already
// pending for the user. Callers that enqueue self-cancelling timers use it
// for duplicate suppression.
func (q *Queue) IsQueuedForUser(ctx context.Context, tx dbx.DBTX, userID string, typ Type, subtype string) (bool, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM deferred WHERE user_id = $1 AND deferred_type = $2 AND subtype = $3`,
		userID, string(typ), subtype)
	var n int64
	if err := row.Scan(&n); err != nil {
		return false, fmt.Errorf("deferred lookup: %w", err)
	}
	return n > 0, nil
}

// Due returns rows whose run_at has passed, oldest first.
func (q *Queue) Due(ctx context.Context, tx dbx.DBTX, now time.Time) ([]Row, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT deferred_id, user_id, deferred_type, subtype, run_at, created, payload
		 FROM deferred WHERE run_at <= $1 ORDER BY run_at, deferred_id`,
		now.UTC())
	if err != nil {
		return nil, fmt.Errorf("deferred select: %w", err)
	}
	defer rows.Close()

	var due []Row
	for rows.Next() {
		var r Row
		var typ string
		var payloadJSON []byte
		if err := rows.Scan(&r.DeferredID, &r.UserID, &typ, &r.Subtype, &r.RunAt, &r.Created, &payloadJSON); err != nil {
			return nil, err
		}
		r.Type = Type(typ)
		if len(payloadJSON) > 0 {
			if err := json.Unmarshal(payloadJSON, &r.Payload); err != nil {
				return nil, fmt.Errorf("deferred %d payload: %w", r.DeferredID, err)
			}
		}
		due = append(due, r)
	}
	return due, rows.Err()
}

// Delete removes a processed row.
func (q *Queue) Delete(ctx context.Context, tx dbx.DBTX, deferredID int64) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM deferred WHERE deferred_id = $1`, deferredID)
	if err != nil {
		return fmt.Errorf("deferred delete: %w", err)
	}
	return nil
}
