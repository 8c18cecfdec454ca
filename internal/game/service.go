package game

import (
	"context"
	"time"

	"github.com/plastr/extrasolar/internal/catalog"
	"github.com/plastr/extrasolar/internal/chrono"
	"github.com/plastr/extrasolar/internal/dbx"
	"github.com/plastr/extrasolar/internal/deferred"
	"github.com/plastr/extrasolar/internal/logging"
)

// Scheduler enqueues durable one-shot timers. Implemented by the deferred
// queue; narrowed here so domain code never touches driver wiring.
type Scheduler interface {
	RunLater(ctx context.Context, tx dbx.DBTX, now time.Time, userID string, typ deferred.Type, subtype string, delay time.Duration, payload map[string]any) error
	IsQueuedForUser(ctx context.Context, tx dbx.DBTX, userID string, typ deferred.Type, subtype string) (bool, error)
}

// Rect is a normalised image subregion. xmax may run to 2.0 so panorama
// rectangles can wrap the seam; all other bounds stay within [0, 1].
type Rect struct {
	XMin float64 `json:"xmin"`
	YMin float64 `json:"ymin"`
	XMax float64 `json:"xmax"`
	YMax float64 `json:"ymax"`
}

// SpeciesCandidate is one analyzer hit for a rectangle: a raw detection id
// (species plus subspecies bits) and a base density score.
type SpeciesCandidate struct {
	RawID   int64
	Density float64
}

// SpeciesAnalyzer is the external image-analysis collaborator.
type SpeciesAnalyzer interface {
	Analyze(ctx context.Context, imageURL string, rect Rect) ([]SpeciesCandidate, error)
}

// DigestSender delivers activity digests and forwarded messages. Implemented
// by the email gateway.
type DigestSender interface {
	SendActivityDigest(ctx context.Context, to string, digest Digest) error
}

// Service carries every domain operation. One instance per process; all
// per-request state lives on the User tree and the transaction.
type Service struct {
	log      logging.Logger
	clock    chrono.Clock
	cat      *catalog.Catalog
	reg      *Callbacks
	store    *Store
	sched    Scheduler
	analyzer SpeciesAnalyzer
	digests  DigestSender
}

func NewService(log logging.Logger, clock chrono.Clock, cat *catalog.Catalog, reg *Callbacks, store *Store, sched Scheduler, analyzer SpeciesAnalyzer, digests DigestSender) *Service {
	if clock == nil {
		clock = chrono.SystemClock{}
	}
	return &Service{
		log:      log,
		clock:    clock,
		cat:      cat,
		reg:      reg,
		store:    store,
		sched:    sched,
		analyzer: analyzer,
		digests:  digests,
	}
}

func (s *Service) Catalog() *catalog.Catalog { return s.cat }
func (s *Service) Store() *Store             { return s.store }

// WithRequestCache returns a copy of the service whose reads go through the
// given request-scoped row cache. The copy shares everything else.
func (s *Service) WithRequestCache(cache *dbx.RowCache) *Service {
	copied := *s
	copied.store = s.store.withCache(cache)
	return &copied
}
