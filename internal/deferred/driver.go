package deferred

import (
	"context"
	"database/sql"
	"time"

	"github.com/plastr/extrasolar/internal/chrono"
	"github.com/plastr/extrasolar/internal/dbx"
	"github.com/plastr/extrasolar/internal/logging"
)

// AdvisoryLockName serialises driver ticks: one active drainer per database.
const AdvisoryLockName = "deferred_driver"

// Handler processes one due row inside the tick's transaction.
type Handler func(ctx context.Context, tx dbx.DBTX, row Row) error

// Driver drains the queue on a fixed interval. Each due row runs inside a
// savepoint so one failing row rolls back alone and stays queued for the
// next tick.
type Driver struct {
	db       *sql.DB
	queue    *Queue
	log      logging.Logger
	clock    chrono.Clock
	interval time.Duration
	handlers map[Type]Handler
}

func NewDriver(db *sql.DB, queue *Queue, log logging.Logger, clock chrono.Clock, interval time.Duration) *Driver {
	return &Driver{
		db:       db,
		queue:    queue,
		log:      log,
		clock:    clock,
		interval: interval,
		handlers: map[Type]Handler{},
	}
}

// Handle registers the handler for a deferred type. Registration happens
// once at wiring time, before Run.
func (d *Driver) Handle(typ Type, h Handler) {
	d.handlers[typ] = h
}

// Run ticks until the context is cancelled.
func (d *Driver) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := d.Tick(ctx); err != nil {
				d.log.Error(ctx, "deferred tick failed", "error", err)
			}
		}
	}
}

// Tick drains every currently due row. If another driver holds the advisory
// lock the tick is silently skipped.
func (d *Driver) Tick(ctx context.Context) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	locked, err := dbx.TryAdvisoryLock(ctx, tx, AdvisoryLockName)
	if err != nil {
		return err
	}
	if !locked {
		return nil
	}

	due, err := d.queue.Due(ctx, tx, d.clock.Now())
	if err != nil {
		return err
	}

	for _, row := range due {
		if err := d.dispatch(ctx, tx, row); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (d *Driver) dispatch(ctx context.Context, tx *sql.Tx, row Row) error {
	handler, ok := d.handlers[row.Type]
	if !ok {
		d.log.Error(ctx, "deferred row with no handler, leaving in queue",
			"deferred_id", row.DeferredID, "type", string(row.Type), "subtype", row.Subtype)
		return nil
	}

	if _, err := tx.ExecContext(ctx, "SAVEPOINT deferred_row"); err != nil {
		return err
	}
	if err := handler(ctx, tx, row); err != nil {
		d.log.Warn(ctx, "deferred row failed, will retry next tick",
			"deferred_id", row.DeferredID, "type", string(row.Type), "subtype", row.Subtype, "error", err)
		_, rbErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT deferred_row")
		return rbErr
	}
	if err := d.queue.Delete(ctx, tx, row.DeferredID); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT deferred_row")
	return err
}
