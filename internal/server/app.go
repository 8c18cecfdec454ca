// Package server assembles the running process: configuration, database,
// migrations, the domain services, and the background loops (deferred
// driver, chip vacuum, render alerting). Client transports compose their
// verbs from gamestate.Service; this package owns everything behind it.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/plastr/extrasolar/internal/catalog"
	"github.com/plastr/extrasolar/internal/chips"
	"github.com/plastr/extrasolar/internal/chrono"
	"github.com/plastr/extrasolar/internal/config"
	"github.com/plastr/extrasolar/internal/dbx"
	"github.com/plastr/extrasolar/internal/deferred"
	"github.com/plastr/extrasolar/internal/email"
	"github.com/plastr/extrasolar/internal/game"
	"github.com/plastr/extrasolar/internal/gamestate"
	"github.com/plastr/extrasolar/internal/images"
	"github.com/plastr/extrasolar/internal/logging"
	"github.com/plastr/extrasolar/internal/queries"
	"github.com/plastr/extrasolar/migrations"
)

// Sweep cadences for the background loops.
const (
	vacuumInterval      = 6 * time.Hour
	renderAlertInterval = 15 * time.Minute
	digestSweepInterval = 10 * time.Minute
)

// digestSweepLock serializes the notification sweeper across server
// processes.
const digestSweepLock = "activity_digest_sweep"

type App struct {
	config *config.Config
	logger logging.Logger
	clock  chrono.Clock

	db        *sql.DB
	journal   *chips.Journal
	queue     *deferred.Queue
	driver    *deferred.Driver
	game      *game.Service
	gamestate *gamestate.Service
	email     *email.Sender
	images    *images.Store
}

func NewApp(cfg *config.Config) (*App, error) {
	return newApp(cfg, chrono.SystemClock{})
}

// NewReplayApp wires the app on a freezable clock for story replay. The
// caller freezes and advances the returned clock; every service and the
// deferred driver observe the replayed time.
func NewReplayApp(cfg *config.Config) (*App, *chrono.OffsetClock, error) {
	clock := chrono.NewOffsetClock(nil)
	app, err := newApp(cfg, clock)
	if err != nil {
		return nil, nil, err
	}
	return app, clock, nil
}

func newApp(cfg *config.Config, clock chrono.Clock) (*App, error) {
	logger := logging.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	db, err := sql.Open("pgx", cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}

	qstore, err := newQueryStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("query store: %w", err)
	}

	cat, err := catalog.Load()
	if err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}

	queue := deferred.NewQueue(logger)
	sender := email.NewSender(logger, email.NewLogGateway(logger), cfg.EmailFrom)
	analyzer := newRendererAnalyzer(cfg.AnalyzerBaseURL)

	store := game.NewStore(logger, queries.NewRunner(qstore, nil))
	g := game.NewService(logger, clock, cat, game.NewCallbacks(), store, queue, analyzer, sender)
	gs := gamestate.NewService(logger, clock, db, g)

	driver := deferred.NewDriver(db, queue, logger, clock, cfg.DeferredTickInterval)
	driver.Handle(deferred.TypeTargetArrived, g.HandleTargetArrived)
	driver.Handle(deferred.TypeMissionDoneAfter, g.HandleMissionDoneAfter)
	driver.Handle(deferred.TypeMessage, g.HandleMessageSend)
	driver.Handle(deferred.TypeTimer, g.HandleTimer)
	driver.Handle(deferred.TypeEmail, func(ctx context.Context, tx dbx.DBTX, row deferred.Row) error {
		return sender.SendDeferred(ctx, row.Subtype, row.Payload)
	})

	return &App{
		config:    cfg,
		logger:    logger,
		clock:     clock,
		db:        db,
		journal:   chips.NewJournal(db),
		queue:     queue,
		driver:    driver,
		game:      g,
		gamestate: gs,
		email:     sender,
		images:    images.NewStore(logger, cfg),
	}, nil
}

// newQueryStore prefers the deployment's on-disk query records over the
// embedded built-ins, so operators can tune queries without a release.
func newQueryStore(cfg *config.Config) (*queries.Store, error) {
	if cfg.QueryDir != "" {
		return queries.NewStore(cfg.QueryDir, cfg.QueryCheckInterval)
	}
	return queries.NewStoreFromFS(game.QueryFS())
}

// Gamestate exposes the wired state service for transport layers.
func (a *App) Gamestate() *gamestate.Service { return a.gamestate }

// Images exposes the wired image URL store.
func (a *App) Images() *images.Store { return a.images }

// DB exposes the database handle for operational commands.
func (a *App) DB() *sql.DB { return a.db }

// Journal exposes the chip journal for operational commands.
func (a *App) Journal() *chips.Journal { return a.journal }

// RunMigrations applies the embedded schema migrations.
func (a *App) RunMigrations(ctx context.Context) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.UpContext(ctx, a.db, "."); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	return nil
}

// VacuumChips deletes chips older than the configured retention age and
// returns how many were removed.
func (a *App) VacuumChips(ctx context.Context) (int64, error) {
	return a.journal.Vacuum(ctx, a.clock.Now().Add(-a.config.ChipVacuumAge))
}

// TickDeferred drains the deferred rows due at the app clock's current
// instant. Replay tooling calls it directly between clock advances.
func (a *App) TickDeferred(ctx context.Context) error {
	return a.driver.Tick(ctx)
}

// RenderJob pairs the renderer's next unit of work with presigned PUT URLs
// for each image role it should produce.
type RenderJob struct {
	Work       game.RenderWork
	UploadURLs map[string]string
}

// NextRenderJob returns the oldest unprocessed picture target plus upload
// URLs for its assets, or nil when the render queue is empty.
func (a *App) NextRenderJob(ctx context.Context) (*RenderJob, error) {
	var work *game.RenderWork
	err := dbx.WithTx(ctx, a.db, &sql.TxOptions{ReadOnly: true}, func(ctx context.Context, tx dbx.DBTX) error {
		var werr error
		work, werr = a.game.NextRenderTarget(ctx, tx)
		return werr
	})
	if err != nil {
		return nil, err
	}
	if work == nil {
		return nil, nil
	}
	urls, err := a.images.UploadURLs(ctx, work.UserID, work.TargetID)
	if err != nil {
		return nil, err
	}
	return &RenderJob{Work: *work, UploadURLs: urls}, nil
}

// CompleteRender records the renderer's output for a picture target: the
// reported object keys are resolved to presigned URLs, then the target is
// marked processed inside one verb scope.
func (a *App) CompleteRender(ctx context.Context, userID, roverID, targetID string, keys map[string]string) (*gamestate.ChipEnvelope, error) {
	urls, err := a.images.ResolveURLs(ctx, keys)
	if err != nil {
		return nil, err
	}
	return a.gamestate.Perform(ctx, userID, func(ctx context.Context, tx dbx.DBTX, u *game.User) error {
		return a.game.MarkProcessed(ctx, tx, u, roverID, targetID, urls)
	})
}

// SweepActivityDigests checks every alert-enabled user for unseen activity
// past their digest window and mails the rollups. The advisory lock keeps a
// single sweeper active per database.
func (a *App) SweepActivityDigests(ctx context.Context) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	locked, err := dbx.TryAdvisoryLock(ctx, tx, digestSweepLock)
	if err != nil {
		return err
	}
	if !locked {
		return nil
	}
	if err := a.game.RunActivityDigestSweep(ctx, tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (a *App) initSignalHandler(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		<-sigs
		cancel()
	}()
}

// Run migrates, then drives the background loops until the context is
// cancelled or a signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := a.RunMigrations(ctx); err != nil {
		return err
	}

	a.logger.Info(ctx, "starting background loops",
		"deferred_interval", a.config.DeferredTickInterval.String(),
		"chip_vacuum_age", a.config.ChipVacuumAge.String())

	a.initSignalHandler(cancel)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := a.driver.Run(ctx); err != nil && ctx.Err() == nil {
			a.logger.Error(ctx, "deferred driver stopped", "error", err.Error())
			cancel()
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		a.runVacuumLoop(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		a.runRenderAlertLoop(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		a.runDigestLoop(ctx)
	}()

	wg.Wait()
	return a.db.Close()
}

func (a *App) runVacuumLoop(ctx context.Context) {
	ticker := time.NewTicker(vacuumInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := a.VacuumChips(ctx)
			if err != nil {
				a.logger.Error(ctx, "chip vacuum failed", "error", err.Error())
				continue
			}
			a.logger.Info(ctx, "chip vacuum complete", "deleted", n)
		}
	}
}

func (a *App) runDigestLoop(ctx context.Context) {
	ticker := time.NewTicker(digestSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.SweepActivityDigests(ctx); err != nil {
				a.logger.Error(ctx, "activity digest sweep failed", "error", err.Error())
			}
		}
	}
}

func (a *App) runRenderAlertLoop(ctx context.Context) {
	ticker := time.NewTicker(renderAlertInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := dbx.WithTx(ctx, a.db, &sql.TxOptions{ReadOnly: true}, func(ctx context.Context, tx dbx.DBTX) error {
				_, serr := a.game.StaleRenderWork(ctx, tx)
				return serr
			})
			if err != nil {
				a.logger.Error(ctx, "stale render sweep failed", "error", err.Error())
			}
		}
	}
}
