package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/appealpost/appealpost-backend/pkg/config"
	"github.com/appealpost/appealpost-backend/pkg/db/models"
	"github.com/appealpost/appealpost-backend/pkg/enums"
	pkgerrors "github.com/appealpost/appealpost-backend/pkg/errors"
	"github.com/appealpost/appealpost-backend/pkg/logger"
	"github.com/appealpost/appealpost-backend/pkg/redis"
)

const cacheScope = "webhook"

const processedMarker = "processed"

// AdmitInput identifies one inbound provider event.
type AdmitInput struct {
	EventID       string
	EventType     string
	PayloadDigest string
}

// Admission is the result of one admit attempt. Accepted means the caller
// owns processing of the event; a duplicate carries the prior outcome.
type Admission struct {
	Event        *models.WebhookEvent
	Accepted     bool
	PriorOutcome enums.WebhookEventOutcome
}

// Service is the idempotency ledger. The database unique index on event_id
// is the canonical admit decision; Redis only caches settled events so
// repeat deliveries skip the insert.
type Service struct {
	repo  Repository
	cache redis.IdempotencyStore
	logg  *logger.Logger

	processingTTL time.Duration
	processedTTL  time.Duration
	maxAttempts   int
}

// ServiceParams wires the ledger service.
type ServiceParams struct {
	Repo   Repository
	Cache  redis.IdempotencyStore
	Logger *logger.Logger
	Config config.LedgerConfig
}

// NewService builds the ledger service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "ledger repository required")
	}

	processingTTL := params.Config.ProcessingTTL
	if processingTTL <= 0 {
		processingTTL = 10 * time.Minute
	}
	processedTTL := params.Config.ProcessedTTL
	if processedTTL <= 0 {
		processedTTL = 30 * 24 * time.Hour
	}
	maxAttempts := params.Config.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}

	return &Service{
		repo:          params.Repo,
		cache:         params.Cache,
		logg:          params.Logger,
		processingTTL: processingTTL,
		processedTTL:  processedTTL,
		maxAttempts:   maxAttempts,
	}, nil
}

// MaxAttempts reports the attempt ceiling before an event is failed.
func (s *Service) MaxAttempts() int {
	return s.maxAttempts
}

// Admit records the event and decides whether the caller should process it.
// Exactly one concurrent delivery of an event id is accepted; the rest see a
// duplicate. A processing row older than the processing TTL is treated as
// abandoned and can be claimed again.
func (s *Service) Admit(ctx context.Context, input AdmitInput) (*Admission, error) {
	if input.EventID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "event id is required")
	}
	if input.EventType == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "event type is required")
	}

	if s.cachedProcessed(ctx, input.EventID) {
		return &Admission{Accepted: false, PriorOutcome: enums.WebhookEventProcessed}, nil
	}

	now := time.Now().UTC()
	event := &models.WebhookEvent{
		EventID:       input.EventID,
		EventType:     input.EventType,
		PayloadDigest: input.PayloadDigest,
		Outcome:       enums.WebhookEventProcessing,
		AttemptCount:  1,
		FirstSeenAt:   now,
		LastAttemptAt: now,
	}

	err := s.repo.Insert(ctx, event)
	if err == nil {
		return &Admission{Event: event, Accepted: true}, nil
	}
	if !pkgerrors.IsUniqueViolation(err) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert ledger event")
	}

	return s.resolveDuplicate(ctx, input)
}

// resolveDuplicate inspects the row that won the insert race.
func (s *Service) resolveDuplicate(ctx context.Context, input AdmitInput) (*Admission, error) {
	existing, err := s.repo.FindByEventID(ctx, input.EventID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load ledger event")
	}

	if input.PayloadDigest != "" && existing.PayloadDigest != "" && existing.PayloadDigest != input.PayloadDigest {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "event id reused with different payload")
	}

	switch existing.Outcome {
	case enums.WebhookEventProcessed, enums.WebhookEventFailed:
		s.cacheSettled(ctx, existing)
		return &Admission{Event: existing, Accepted: false, PriorOutcome: existing.Outcome}, nil
	case enums.WebhookEventProcessing:
		if existing.AttemptCount >= s.maxAttempts {
			return &Admission{Event: existing, Accepted: false, PriorOutcome: existing.Outcome}, nil
		}
		if time.Since(existing.LastAttemptAt) < s.processingTTL {
			return &Admission{Event: existing, Accepted: false, PriorOutcome: existing.Outcome}, nil
		}
		claimed, err := s.repo.Claim(ctx, existing.ID, existing.AttemptCount)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim stale ledger event")
		}
		if !claimed {
			return &Admission{Event: existing, Accepted: false, PriorOutcome: existing.Outcome}, nil
		}
		existing.AttemptCount++
		existing.LastAttemptAt = time.Now().UTC()
		return &Admission{Event: existing, Accepted: true}, nil
	default:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "unknown ledger outcome")
	}
}

// Claim re-takes a stale processing row, typically from the reclaimer.
func (s *Service) Claim(ctx context.Context, event *models.WebhookEvent) (bool, error) {
	if event == nil {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "event is required")
	}
	claimed, err := s.repo.Claim(ctx, event.ID, event.AttemptCount)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim ledger event")
	}
	if claimed {
		event.AttemptCount++
		event.LastAttemptAt = time.Now().UTC()
	}
	return claimed, nil
}

// MarkProcessed settles the event and caches the outcome.
func (s *Service) MarkProcessed(ctx context.Context, event *models.WebhookEvent) error {
	return s.settle(ctx, event, enums.WebhookEventProcessed)
}

// MarkFailed settles the event as permanently failed.
func (s *Service) MarkFailed(ctx context.Context, event *models.WebhookEvent) error {
	return s.settle(ctx, event, enums.WebhookEventFailed)
}

func (s *Service) settle(ctx context.Context, event *models.WebhookEvent, outcome enums.WebhookEventOutcome) error {
	if event == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "event is required")
	}
	if err := s.repo.SetOutcome(ctx, event.ID, outcome); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "settle ledger event")
	}
	event.Outcome = outcome
	s.cacheSettled(ctx, event)
	return nil
}

// AttachOrder links the ledger row to the order it resolved to, so the
// reclaimer can re-drive the event without the original payload.
func (s *Service) AttachOrder(ctx context.Context, event *models.WebhookEvent, orderID uuid.UUID) {
	if event == nil || orderID == uuid.Nil {
		return
	}
	if err := s.repo.SetOrderID(ctx, event.ID, orderID); err != nil {
		if s.logg != nil {
			s.logg.Warn(s.logg.WithEventID(ctx, event.EventID), "failed to attach order to ledger event")
		}
		return
	}
	event.OrderID = &orderID
}

// ListStale returns processing rows abandoned past the processing TTL.
func (s *Service) ListStale(ctx context.Context, limit int) ([]models.WebhookEvent, error) {
	if limit <= 0 {
		limit = 20
	}
	cutoff := time.Now().UTC().Add(-s.processingTTL)
	events, err := s.repo.ListStaleProcessing(ctx, cutoff, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list stale ledger events")
	}
	return events, nil
}

// Find returns the ledger row for an event id, or nil when absent.
func (s *Service) Find(ctx context.Context, eventID string) (*models.WebhookEvent, error) {
	event, err := s.repo.FindByEventID(ctx, eventID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find ledger event")
	}
	return event, nil
}

// cachedProcessed consults the Redis short-circuit. Cache failures never
// block the canonical path.
func (s *Service) cachedProcessed(ctx context.Context, eventID string) bool {
	if s.cache == nil {
		return false
	}
	value, err := s.cache.Get(ctx, s.cache.IdempotencyKey(cacheScope, eventID))
	if err != nil {
		if !redis.IsNil(err) && s.logg != nil {
			s.logg.Warn(s.logg.WithEventID(ctx, eventID), "ledger cache read failed")
		}
		return false
	}
	return value == processedMarker
}

func (s *Service) cacheSettled(ctx context.Context, event *models.WebhookEvent) {
	if s.cache == nil || event == nil || event.Outcome != enums.WebhookEventProcessed {
		return
	}
	key := s.cache.IdempotencyKey(cacheScope, event.EventID)
	if err := s.cache.Set(ctx, key, processedMarker, s.processedTTL); err != nil && s.logg != nil {
		s.logg.Warn(s.logg.WithEventID(ctx, event.EventID), "ledger cache write failed")
	}
}
