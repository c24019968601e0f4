package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/appealpost/appealpost-backend/pkg/config"
	"github.com/appealpost/appealpost-backend/pkg/db/models"
	"github.com/appealpost/appealpost-backend/pkg/enums"
	pkgerrors "github.com/appealpost/appealpost-backend/pkg/errors"
)

type fakeRepository struct {
	insertFn        func(ctx context.Context, event *models.WebhookEvent) error
	findByEventIDFn func(ctx context.Context, eventID string) (*models.WebhookEvent, error)
	claimFn         func(ctx context.Context, id uuid.UUID, seenAttempts int) (bool, error)
	setOutcomeFn    func(ctx context.Context, id uuid.UUID, outcome enums.WebhookEventOutcome) error
	setOrderIDFn    func(ctx context.Context, id uuid.UUID, orderID uuid.UUID) error
	listStaleFn     func(ctx context.Context, olderThan time.Time, limit int) ([]models.WebhookEvent, error)
}

func (f *fakeRepository) WithTx(tx *gorm.DB) Repository { return f }

func (f *fakeRepository) Insert(ctx context.Context, event *models.WebhookEvent) error {
	if f.insertFn == nil {
		return nil
	}
	return f.insertFn(ctx, event)
}

func (f *fakeRepository) FindByEventID(ctx context.Context, eventID string) (*models.WebhookEvent, error) {
	if f.findByEventIDFn == nil {
		return nil, gorm.ErrRecordNotFound
	}
	return f.findByEventIDFn(ctx, eventID)
}

func (f *fakeRepository) Claim(ctx context.Context, id uuid.UUID, seenAttempts int) (bool, error) {
	if f.claimFn == nil {
		return false, nil
	}
	return f.claimFn(ctx, id, seenAttempts)
}

func (f *fakeRepository) SetOutcome(ctx context.Context, id uuid.UUID, outcome enums.WebhookEventOutcome) error {
	if f.setOutcomeFn == nil {
		return nil
	}
	return f.setOutcomeFn(ctx, id, outcome)
}

func (f *fakeRepository) SetOrderID(ctx context.Context, id uuid.UUID, orderID uuid.UUID) error {
	if f.setOrderIDFn == nil {
		return nil
	}
	return f.setOrderIDFn(ctx, id, orderID)
}

func (f *fakeRepository) ListStaleProcessing(ctx context.Context, olderThan time.Time, limit int) ([]models.WebhookEvent, error) {
	if f.listStaleFn == nil {
		return nil, nil
	}
	return f.listStaleFn(ctx, olderThan, limit)
}

type fakeCache struct {
	data map[string]string
}

func newFakeCache() *fakeCache {
	return &fakeCache{data: make(map[string]string)}
}

func (c *fakeCache) Get(ctx context.Context, key string) (string, error) {
	return c.data[key], nil
}

func (c *fakeCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	c.data[key] = value.(string)
	return nil
}

func (c *fakeCache) IdempotencyKey(scope, id string) string {
	return "ap:idempotency:" + scope + ":" + id
}

func uniqueViolation() error {
	return &pgconn.PgError{Code: "23505", ConstraintName: "idx_webhook_events_event_id"}
}

func newTestService(t *testing.T, repo Repository, cache *fakeCache) *Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		Repo:  repo,
		Cache: cache,
		Config: config.LedgerConfig{
			ProcessingTTL: 10 * time.Minute,
			ProcessedTTL:  time.Hour,
			MaxAttempts:   3,
		},
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func TestAdmitAcceptsFirstDelivery(t *testing.T) {
	var inserted *models.WebhookEvent
	repo := &fakeRepository{
		insertFn: func(ctx context.Context, event *models.WebhookEvent) error {
			inserted = event
			return nil
		},
	}
	svc := newTestService(t, repo, newFakeCache())

	admission, err := svc.Admit(context.Background(), AdmitInput{
		EventID:       "evt_1",
		EventType:     "payment.confirmed",
		PayloadDigest: "abc",
	})
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if !admission.Accepted {
		t.Fatal("expected first delivery accepted")
	}
	if inserted == nil {
		t.Fatal("expected ledger row inserted")
	}
	if inserted.Outcome != enums.WebhookEventProcessing {
		t.Fatalf("expected processing outcome, got %s", inserted.Outcome)
	}
	if inserted.AttemptCount != 1 {
		t.Fatalf("expected attempt count 1, got %d", inserted.AttemptCount)
	}
}

func TestAdmitRejectsMissingEventID(t *testing.T) {
	svc := newTestService(t, &fakeRepository{}, newFakeCache())

	_, err := svc.Admit(context.Background(), AdmitInput{EventType: "payment.confirmed"})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestAdmitShortCircuitsOnCachedProcessed(t *testing.T) {
	cache := newFakeCache()
	cache.data[cache.IdempotencyKey(cacheScope, "evt_1")] = processedMarker

	repo := &fakeRepository{
		insertFn: func(ctx context.Context, event *models.WebhookEvent) error {
			t.Fatal("insert must not run for cached events")
			return nil
		},
	}
	svc := newTestService(t, repo, cache)

	admission, err := svc.Admit(context.Background(), AdmitInput{
		EventID:   "evt_1",
		EventType: "payment.confirmed",
	})
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if admission.Accepted {
		t.Fatal("expected cached event rejected")
	}
	if admission.PriorOutcome != enums.WebhookEventProcessed {
		t.Fatalf("expected processed prior outcome, got %s", admission.PriorOutcome)
	}
}

func TestAdmitDuplicateOfSettledEvent(t *testing.T) {
	cache := newFakeCache()
	existing := &models.WebhookEvent{
		ID:            uuid.New(),
		EventID:       "evt_1",
		EventType:     "payment.confirmed",
		PayloadDigest: "abc",
		Outcome:       enums.WebhookEventProcessed,
		AttemptCount:  1,
		LastAttemptAt: time.Now().UTC(),
	}
	repo := &fakeRepository{
		insertFn: func(ctx context.Context, event *models.WebhookEvent) error {
			return uniqueViolation()
		},
		findByEventIDFn: func(ctx context.Context, eventID string) (*models.WebhookEvent, error) {
			return existing, nil
		},
	}
	svc := newTestService(t, repo, cache)

	admission, err := svc.Admit(context.Background(), AdmitInput{
		EventID:       "evt_1",
		EventType:     "payment.confirmed",
		PayloadDigest: "abc",
	})
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if admission.Accepted {
		t.Fatal("expected settled duplicate rejected")
	}
	if admission.PriorOutcome != enums.WebhookEventProcessed {
		t.Fatalf("expected processed prior outcome, got %s", admission.PriorOutcome)
	}
	if cache.data[cache.IdempotencyKey(cacheScope, "evt_1")] != processedMarker {
		t.Fatal("expected settled outcome cached")
	}
}

func TestAdmitRejectsReusedEventIDWithDifferentPayload(t *testing.T) {
	repo := &fakeRepository{
		insertFn: func(ctx context.Context, event *models.WebhookEvent) error {
			return uniqueViolation()
		},
		findByEventIDFn: func(ctx context.Context, eventID string) (*models.WebhookEvent, error) {
			return &models.WebhookEvent{
				ID:            uuid.New(),
				EventID:       eventID,
				PayloadDigest: "original",
				Outcome:       enums.WebhookEventProcessed,
			}, nil
		},
	}
	svc := newTestService(t, repo, newFakeCache())

	_, err := svc.Admit(context.Background(), AdmitInput{
		EventID:       "evt_1",
		EventType:     "payment.confirmed",
		PayloadDigest: "tampered",
	})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeConflict {
		t.Fatalf("expected conflict error, got %v", err)
	}
}

func TestAdmitRejectsFreshProcessingDuplicate(t *testing.T) {
	repo := &fakeRepository{
		insertFn: func(ctx context.Context, event *models.WebhookEvent) error {
			return uniqueViolation()
		},
		findByEventIDFn: func(ctx context.Context, eventID string) (*models.WebhookEvent, error) {
			return &models.WebhookEvent{
				ID:            uuid.New(),
				EventID:       eventID,
				Outcome:       enums.WebhookEventProcessing,
				AttemptCount:  1,
				LastAttemptAt: time.Now().UTC(),
			}, nil
		},
		claimFn: func(ctx context.Context, id uuid.UUID, seenAttempts int) (bool, error) {
			t.Fatal("fresh processing rows must not be claimed")
			return false, nil
		},
	}
	svc := newTestService(t, repo, newFakeCache())

	admission, err := svc.Admit(context.Background(), AdmitInput{
		EventID:   "evt_1",
		EventType: "payment.confirmed",
	})
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if admission.Accepted {
		t.Fatal("expected fresh processing duplicate rejected")
	}
	if admission.PriorOutcome != enums.WebhookEventProcessing {
		t.Fatalf("expected processing prior outcome, got %s", admission.PriorOutcome)
	}
}

func TestAdmitClaimsStaleProcessingRow(t *testing.T) {
	stale := &models.WebhookEvent{
		ID:            uuid.New(),
		EventID:       "evt_1",
		Outcome:       enums.WebhookEventProcessing,
		AttemptCount:  1,
		LastAttemptAt: time.Now().UTC().Add(-time.Hour),
	}
	claimedAttempts := -1
	repo := &fakeRepository{
		insertFn: func(ctx context.Context, event *models.WebhookEvent) error {
			return uniqueViolation()
		},
		findByEventIDFn: func(ctx context.Context, eventID string) (*models.WebhookEvent, error) {
			return stale, nil
		},
		claimFn: func(ctx context.Context, id uuid.UUID, seenAttempts int) (bool, error) {
			claimedAttempts = seenAttempts
			return true, nil
		},
	}
	svc := newTestService(t, repo, newFakeCache())

	admission, err := svc.Admit(context.Background(), AdmitInput{
		EventID:   "evt_1",
		EventType: "payment.confirmed",
	})
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if !admission.Accepted {
		t.Fatal("expected stale row claimed")
	}
	if claimedAttempts != 1 {
		t.Fatalf("expected claim preconditioned on attempt 1, got %d", claimedAttempts)
	}
	if admission.Event.AttemptCount != 2 {
		t.Fatalf("expected attempt count bumped to 2, got %d", admission.Event.AttemptCount)
	}
}

func TestAdmitLosesStaleClaimRace(t *testing.T) {
	repo := &fakeRepository{
		insertFn: func(ctx context.Context, event *models.WebhookEvent) error {
			return uniqueViolation()
		},
		findByEventIDFn: func(ctx context.Context, eventID string) (*models.WebhookEvent, error) {
			return &models.WebhookEvent{
				ID:            uuid.New(),
				EventID:       eventID,
				Outcome:       enums.WebhookEventProcessing,
				AttemptCount:  1,
				LastAttemptAt: time.Now().UTC().Add(-time.Hour),
			}, nil
		},
		claimFn: func(ctx context.Context, id uuid.UUID, seenAttempts int) (bool, error) {
			return false, nil
		},
	}
	svc := newTestService(t, repo, newFakeCache())

	admission, err := svc.Admit(context.Background(), AdmitInput{
		EventID:   "evt_1",
		EventType: "payment.confirmed",
	})
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if admission.Accepted {
		t.Fatal("expected lost claim race rejected")
	}
}

func TestAdmitRefusesExhaustedProcessingRow(t *testing.T) {
	repo := &fakeRepository{
		insertFn: func(ctx context.Context, event *models.WebhookEvent) error {
			return uniqueViolation()
		},
		findByEventIDFn: func(ctx context.Context, eventID string) (*models.WebhookEvent, error) {
			return &models.WebhookEvent{
				ID:            uuid.New(),
				EventID:       eventID,
				Outcome:       enums.WebhookEventProcessing,
				AttemptCount:  3,
				LastAttemptAt: time.Now().UTC().Add(-time.Hour),
			}, nil
		},
		claimFn: func(ctx context.Context, id uuid.UUID, seenAttempts int) (bool, error) {
			t.Fatal("exhausted rows must not be claimed")
			return false, nil
		},
	}
	svc := newTestService(t, repo, newFakeCache())

	admission, err := svc.Admit(context.Background(), AdmitInput{
		EventID:   "evt_1",
		EventType: "payment.confirmed",
	})
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if admission.Accepted {
		t.Fatal("expected exhausted row rejected")
	}
}

func TestMarkProcessedSettlesAndCaches(t *testing.T) {
	cache := newFakeCache()
	var settled enums.WebhookEventOutcome
	repo := &fakeRepository{
		setOutcomeFn: func(ctx context.Context, id uuid.UUID, outcome enums.WebhookEventOutcome) error {
			settled = outcome
			return nil
		},
	}
	svc := newTestService(t, repo, cache)

	event := &models.WebhookEvent{
		ID:      uuid.New(),
		EventID: "evt_1",
		Outcome: enums.WebhookEventProcessing,
	}
	if err := svc.MarkProcessed(context.Background(), event); err != nil {
		t.Fatalf("MarkProcessed: %v", err)
	}
	if settled != enums.WebhookEventProcessed {
		t.Fatalf("expected processed outcome written, got %s", settled)
	}
	if event.Outcome != enums.WebhookEventProcessed {
		t.Fatalf("expected event mutated, got %s", event.Outcome)
	}
	if cache.data[cache.IdempotencyKey(cacheScope, "evt_1")] != processedMarker {
		t.Fatal("expected processed outcome cached")
	}
}

func TestMarkFailedDoesNotCache(t *testing.T) {
	cache := newFakeCache()
	svc := newTestService(t, &fakeRepository{}, cache)

	event := &models.WebhookEvent{
		ID:      uuid.New(),
		EventID: "evt_1",
		Outcome: enums.WebhookEventProcessing,
	}
	if err := svc.MarkFailed(context.Background(), event); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	if event.Outcome != enums.WebhookEventFailed {
		t.Fatalf("expected failed outcome, got %s", event.Outcome)
	}
	if _, ok := cache.data[cache.IdempotencyKey(cacheScope, "evt_1")]; ok {
		t.Fatal("failed outcomes must not short-circuit future deliveries")
	}
}

func TestAttachOrderRecordsLink(t *testing.T) {
	var gotOrderID uuid.UUID
	repo := &fakeRepository{
		setOrderIDFn: func(ctx context.Context, id uuid.UUID, orderID uuid.UUID) error {
			gotOrderID = orderID
			return nil
		},
	}
	svc := newTestService(t, repo, newFakeCache())

	event := &models.WebhookEvent{ID: uuid.New(), EventID: "evt_1"}
	orderID := uuid.New()
	svc.AttachOrder(context.Background(), event, orderID)

	if gotOrderID != orderID {
		t.Fatalf("expected order id persisted, got %s", gotOrderID)
	}
	if event.OrderID == nil || *event.OrderID != orderID {
		t.Fatal("expected order id attached to event")
	}
}

func TestFindReturnsNilWhenAbsent(t *testing.T) {
	svc := newTestService(t, &fakeRepository{}, newFakeCache())

	event, err := svc.Find(context.Background(), "evt_missing")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if event != nil {
		t.Fatalf("expected nil for absent event, got %+v", event)
	}
}
