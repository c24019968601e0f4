package reclaimer

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/appealpost/appealpost-backend/internal/opsqueue"
	"github.com/appealpost/appealpost-backend/pkg/config"
	"github.com/appealpost/appealpost-backend/pkg/db/models"
	pkgerrors "github.com/appealpost/appealpost-backend/pkg/errors"
	"github.com/appealpost/appealpost-backend/pkg/logger"
)

const leaseName = "webhook-reclaimer"

type ledgerService interface {
	ListStale(ctx context.Context, limit int) ([]models.WebhookEvent, error)
	Claim(ctx context.Context, event *models.WebhookEvent) (bool, error)
	MarkFailed(ctx context.Context, event *models.WebhookEvent) error
	MaxAttempts() int
}

type redriver interface {
	Redrive(ctx context.Context, event *models.WebhookEvent) error
	ResumeOrder(ctx context.Context, orderID uuid.UUID) error
}

type orderStore interface {
	ListStuckInPipeline(ctx context.Context, olderThan time.Time, limit int) ([]models.Order, error)
}

type leaser interface {
	AcquireLease(ctx context.Context, name, holder string, ttl time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, name, holder string) error
}

type taskEnqueuer interface {
	Enqueue(ctx context.Context, orderID uuid.UUID, reason opsqueue.Reason, detail string) error
}

// Worker sweeps abandoned processing rows out of the ledger and re-drives
// them. A Redis lease keeps a single sweeper active across replicas.
type Worker struct {
	ledger       ledgerService
	orchestrator redriver
	orders       orderStore
	lease        leaser
	tasks        taskEnqueuer
	logg         *logger.Logger

	holder        string
	pollInterval  time.Duration
	batchSize     int
	leaseTTL      time.Duration
	stuckOrderAge time.Duration
}

// Params wires the reclaimer worker.
type Params struct {
	Ledger       ledgerService
	Orchestrator redriver
	Orders       orderStore
	Lease        leaser
	Tasks        taskEnqueuer
	Logger       *logger.Logger
	Config       config.ReclaimerConfig
}

// New builds the reclaimer worker.
func New(params Params) (*Worker, error) {
	if params.Ledger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "ledger service required")
	}
	if params.Orchestrator == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "orchestrator required")
	}
	if params.Orders == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "order store required")
	}
	if params.Lease == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "lease client required")
	}
	if params.Tasks == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "task enqueuer required")
	}

	pollInterval := params.Config.PollInterval
	if pollInterval <= 0 {
		pollInterval = time.Minute
	}
	batchSize := params.Config.BatchSize
	if batchSize <= 0 {
		batchSize = 20
	}
	leaseTTL := params.Config.LeaseTTL
	if leaseTTL <= 0 {
		leaseTTL = 2 * time.Minute
	}
	stuckOrderAge := params.Config.StuckOrderAge
	if stuckOrderAge <= 0 {
		stuckOrderAge = 15 * time.Minute
	}

	return &Worker{
		ledger:        params.Ledger,
		orchestrator:  params.Orchestrator,
		orders:        params.Orders,
		lease:         params.Lease,
		tasks:         params.Tasks,
		logg:          params.Logger,
		holder:        uuid.NewString(),
		pollInterval:  pollInterval,
		batchSize:     batchSize,
		leaseTTL:      leaseTTL,
		stuckOrderAge: stuckOrderAge,
	}, nil
}

// Run polls until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

// sweep runs one reclamation pass under the lease.
func (w *Worker) sweep(ctx context.Context) {
	acquired, err := w.lease.AcquireLease(ctx, leaseName, w.holder, w.leaseTTL)
	if err != nil {
		w.warn(ctx, "failed to acquire reclaimer lease: "+err.Error())
		return
	}
	if !acquired {
		return
	}
	defer func() {
		if err := w.lease.ReleaseLease(ctx, leaseName, w.holder); err != nil {
			w.warn(ctx, "failed to release reclaimer lease: "+err.Error())
		}
	}()

	touched := make(map[uuid.UUID]struct{})
	w.sweepEvents(ctx, touched)
	w.sweepOrders(ctx, touched)
}

func (w *Worker) sweepEvents(ctx context.Context, touched map[uuid.UUID]struct{}) {
	events, err := w.ledger.ListStale(ctx, w.batchSize)
	if err != nil {
		w.error(ctx, "failed to list stale ledger events", err)
		return
	}
	if len(events) == 0 {
		return
	}

	w.info(ctx, fmt.Sprintf("reclaiming %d stale events", len(events)))
	for i := range events {
		if ctx.Err() != nil {
			return
		}
		if events[i].OrderID != nil {
			touched[*events[i].OrderID] = struct{}{}
		}
		w.reclaim(ctx, &events[i])
	}
}

// sweepOrders resumes orders parked in an intermediate state with no live
// event driving them, e.g. after their event exhausted its budget or was
// lost before the order resolved. Orders already redriven through an event
// this pass are skipped.
func (w *Worker) sweepOrders(ctx context.Context, touched map[uuid.UUID]struct{}) {
	cutoff := time.Now().UTC().Add(-w.stuckOrderAge)
	stuck, err := w.orders.ListStuckInPipeline(ctx, cutoff, w.batchSize)
	if err != nil {
		w.error(ctx, "failed to list stuck orders", err)
		return
	}

	for i := range stuck {
		if ctx.Err() != nil {
			return
		}
		if _, ok := touched[stuck[i].ID]; ok {
			continue
		}
		octx := ctx
		if w.logg != nil {
			octx = w.logg.WithOrderID(ctx, stuck[i].ID.String())
		}
		w.info(octx, "resuming stuck order")
		if err := w.orchestrator.ResumeOrder(octx, stuck[i].ID); err != nil {
			w.warn(octx, "resume failed transiently: "+err.Error())
		}
	}
}

func (w *Worker) reclaim(ctx context.Context, event *models.WebhookEvent) {
	if w.logg != nil {
		ctx = w.logg.WithEventID(ctx, event.EventID)
	}

	if event.AttemptCount >= w.ledger.MaxAttempts() {
		w.warn(ctx, "retry budget exhausted, failing event")
		w.fail(ctx, event, "webhook event exhausted its retry budget")
		return
	}

	claimed, err := w.ledger.Claim(ctx, event)
	if err != nil {
		w.error(ctx, "failed to claim stale event", err)
		return
	}
	if !claimed {
		return
	}

	if err := w.orchestrator.Redrive(ctx, event); err != nil {
		if pkgerrors.Retryable(err) {
			// Still transient; the row stays in processing and comes back on
			// a later sweep.
			w.warn(ctx, "redrive failed transiently: "+err.Error())
			return
		}
		w.error(ctx, "redrive failed permanently", err)
		w.fail(ctx, event, err.Error())
	}
}

func (w *Worker) fail(ctx context.Context, event *models.WebhookEvent, detail string) {
	if err := w.ledger.MarkFailed(ctx, event); err != nil {
		w.error(ctx, "failed to settle exhausted event", err)
		return
	}
	if event.OrderID != nil {
		if err := w.tasks.Enqueue(ctx, *event.OrderID, opsqueue.ReasonEventExhausted, detail); err != nil {
			w.error(ctx, "failed to enqueue operator task", err)
		}
	}
}

func (w *Worker) info(ctx context.Context, msg string) {
	if w.logg != nil {
		w.logg.Info(ctx, msg)
	}
}

func (w *Worker) warn(ctx context.Context, msg string) {
	if w.logg != nil {
		w.logg.Warn(ctx, msg)
	}
}

func (w *Worker) error(ctx context.Context, msg string, err error) {
	if w.logg != nil {
		w.logg.Error(ctx, msg, err)
	}
}
