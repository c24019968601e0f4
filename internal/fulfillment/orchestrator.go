package fulfillment

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/appealpost/appealpost-backend/internal/address"
	"github.com/appealpost/appealpost-backend/internal/dispatch"
	"github.com/appealpost/appealpost-backend/internal/documents"
	"github.com/appealpost/appealpost-backend/internal/ledger"
	"github.com/appealpost/appealpost-backend/internal/notify"
	"github.com/appealpost/appealpost-backend/internal/opsqueue"
	"github.com/appealpost/appealpost-backend/internal/orders"
	"github.com/appealpost/appealpost-backend/pkg/db/models"
	"github.com/appealpost/appealpost-backend/pkg/enums"
	pkgerrors "github.com/appealpost/appealpost-backend/pkg/errors"
	"github.com/appealpost/appealpost-backend/pkg/logger"
	"github.com/appealpost/appealpost-backend/pkg/types"
)

// Normalized event types recorded on the ledger. Provider-specific webhook
// services map their payloads onto these before handing off.
const (
	EventTypePayment  = "payment.confirmed"
	EventTypeRefund   = "payment.refunded"
	EventTypeDelivery = "mail.delivered"
)

type eventLedger interface {
	Admit(ctx context.Context, input ledger.AdmitInput) (*ledger.Admission, error)
	MarkProcessed(ctx context.Context, event *models.WebhookEvent) error
	MarkFailed(ctx context.Context, event *models.WebhookEvent) error
	AttachOrder(ctx context.Context, event *models.WebhookEvent, orderID uuid.UUID)
}

type documentAssembler interface {
	Assemble(ctx context.Context, order *models.Order) (*documents.Document, error)
}

type addressVerifier interface {
	Verify(ctx context.Context, addr types.Address) (*types.Address, error)
}

type letterDispatcher interface {
	Send(ctx context.Context, input dispatch.SendInput) (*dispatch.Result, error)
}

type dispatchNotifier interface {
	OrderDispatched(ctx context.Context, input notify.DispatchedInput) error
}

type taskEnqueuer interface {
	Enqueue(ctx context.Context, orderID uuid.UUID, reason opsqueue.Reason, detail string) error
}

type stepObserver interface {
	ObserveStep(step string, duration time.Duration)
}

// PaymentConfirmed is a settled payment for one checkout session.
type PaymentConfirmed struct {
	EventID         string
	SessionID       string
	PaymentIntentID string
	AmountCents     int64
	PayloadDigest   string
}

// Refund is a provider-side refund of a previously settled payment.
type Refund struct {
	EventID         string
	PaymentIntentID string
	PayloadDigest   string
}

// DeliveryConfirmed reports that a dispatched letter reached its destination.
type DeliveryConfirmed struct {
	EventID       string
	TrackingID    string
	PayloadDigest string
}

// Orchestrator drives paid orders through assembly, verification, dispatch
// and notification. Every step commits before the next begins, so a crash or
// transient failure resumes from the last completed step instead of starting
// over.
type Orchestrator struct {
	orders     orders.Repository
	ledger     eventLedger
	assembler  documentAssembler
	verifier   addressVerifier
	dispatcher letterDispatcher
	notifier   dispatchNotifier
	tasks      taskEnqueuer
	logg       *logger.Logger
	observer   stepObserver
}

// Params wires the orchestrator.
type Params struct {
	Orders     orders.Repository
	Ledger     eventLedger
	Assembler  documentAssembler
	Verifier   addressVerifier
	Dispatcher letterDispatcher
	Notifier   dispatchNotifier
	Tasks      taskEnqueuer
	Logger     *logger.Logger

	// Observer receives step timings; may be nil.
	Observer stepObserver
}

// New builds the orchestrator.
func New(params Params) (*Orchestrator, error) {
	if params.Orders == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "orders repository required")
	}
	if params.Ledger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "event ledger required")
	}
	if params.Assembler == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "document assembler required")
	}
	if params.Verifier == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "address verifier required")
	}
	if params.Dispatcher == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "letter dispatcher required")
	}
	if params.Notifier == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "notifier required")
	}
	if params.Tasks == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "task enqueuer required")
	}
	return &Orchestrator{
		orders:     params.Orders,
		ledger:     params.Ledger,
		assembler:  params.Assembler,
		verifier:   params.Verifier,
		dispatcher: params.Dispatcher,
		notifier:   params.Notifier,
		tasks:      params.Tasks,
		logg:       params.Logger,
		observer:   params.Observer,
	}, nil
}

// HandlePaymentConfirmed admits the payment event and drives fulfillment.
// Duplicate deliveries are acknowledged without side effects. A transient
// failure leaves the event in processing so redelivery or the reclaimer can
// resume it.
func (o *Orchestrator) HandlePaymentConfirmed(ctx context.Context, input PaymentConfirmed) error {
	ctx = o.eventCtx(ctx, input.EventID)

	adm, err := o.ledger.Admit(ctx, ledger.AdmitInput{
		EventID:       input.EventID,
		EventType:     EventTypePayment,
		PayloadDigest: input.PayloadDigest,
	})
	if err != nil {
		return err
	}
	if !adm.Accepted {
		o.info(ctx, "duplicate payment event ignored")
		return nil
	}

	order, err := o.orders.FindByStripeSessionID(ctx, input.SessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			o.error(ctx, "payment event references unknown checkout session", err)
			return o.ledger.MarkFailed(ctx, adm.Event)
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order for payment event")
	}

	ctx = o.orderCtx(ctx, order.ID)
	o.ledger.AttachOrder(ctx, adm.Event, order.ID)

	if input.AmountCents > 0 && int(input.AmountCents) != order.AmountCents {
		o.warn(ctx, "paid amount does not match order amount")
		o.haltForReview(ctx, order.ID, enums.OrderStatusRefundRequired, opsqueue.ReasonAmountMismatch, "paid amount does not match order amount")
		return o.ledger.MarkProcessed(ctx, adm.Event)
	}

	updates := map[string]any{
		"status":              enums.OrderStatusPaymentReceived,
		"payment_received_at": time.Now().UTC(),
	}
	if input.PaymentIntentID != "" {
		updates["stripe_payment_intent_id"] = input.PaymentIntentID
	}
	if err := o.orders.UpdateIfStatus(ctx, order.ID, enums.OrderStatusPendingPayment, updates); err != nil {
		if !isStateConflict(err) {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record payment")
		}
		// Already past pending_payment: resume from wherever it stopped.
	}

	return o.settlePayment(ctx, adm.Event, order.ID, o.advance(ctx, order.ID))
}

// HandleRefund halts fulfillment for a refunded payment, or flags it for
// manual review when the letter already shipped.
func (o *Orchestrator) HandleRefund(ctx context.Context, input Refund) error {
	ctx = o.eventCtx(ctx, input.EventID)

	adm, err := o.ledger.Admit(ctx, ledger.AdmitInput{
		EventID:       input.EventID,
		EventType:     EventTypeRefund,
		PayloadDigest: input.PayloadDigest,
	})
	if err != nil {
		return err
	}
	if !adm.Accepted {
		o.info(ctx, "duplicate refund event ignored")
		return nil
	}

	order, err := o.orders.FindByStripePaymentIntentID(ctx, input.PaymentIntentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			o.error(ctx, "refund event references unknown payment", err)
			return o.ledger.MarkFailed(ctx, adm.Event)
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order for refund event")
	}

	ctx = o.orderCtx(ctx, order.ID)
	o.ledger.AttachOrder(ctx, adm.Event, order.ID)

	if err := o.applyRefund(ctx, order.ID); err != nil {
		return err
	}
	return o.ledger.MarkProcessed(ctx, adm.Event)
}

// HandleDeliveryConfirmed closes the loop when the mail provider reports the
// letter delivered.
func (o *Orchestrator) HandleDeliveryConfirmed(ctx context.Context, input DeliveryConfirmed) error {
	ctx = o.eventCtx(ctx, input.EventID)

	adm, err := o.ledger.Admit(ctx, ledger.AdmitInput{
		EventID:       input.EventID,
		EventType:     EventTypeDelivery,
		PayloadDigest: input.PayloadDigest,
	})
	if err != nil {
		return err
	}
	if !adm.Accepted {
		o.info(ctx, "duplicate delivery event ignored")
		return nil
	}

	order, err := o.orders.FindByTrackingID(ctx, input.TrackingID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			o.error(ctx, "delivery event references unknown tracking id", err)
			return o.ledger.MarkFailed(ctx, adm.Event)
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order for delivery event")
	}

	ctx = o.orderCtx(ctx, order.ID)
	o.ledger.AttachOrder(ctx, adm.Event, order.ID)

	if err := o.markFulfilled(ctx, order.ID); err != nil {
		return err
	}
	return o.ledger.MarkProcessed(ctx, adm.Event)
}

// Redrive resumes a reclaimed ledger event from its recorded order.
func (o *Orchestrator) Redrive(ctx context.Context, event *models.WebhookEvent) error {
	if event == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "event is required")
	}
	ctx = o.eventCtx(ctx, event.EventID)
	if event.OrderID == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "event has no resolved order")
	}
	ctx = o.orderCtx(ctx, *event.OrderID)

	switch event.EventType {
	case EventTypePayment:
		return o.settlePayment(ctx, event, *event.OrderID, o.advance(ctx, *event.OrderID))
	case EventTypeRefund:
		if err := o.applyRefund(ctx, *event.OrderID); err != nil {
			return err
		}
		return o.ledger.MarkProcessed(ctx, event)
	case EventTypeDelivery:
		if err := o.markFulfilled(ctx, *event.OrderID); err != nil {
			return err
		}
		return o.ledger.MarkProcessed(ctx, event)
	default:
		return pkgerrors.New(pkgerrors.CodeValidation, "unknown event type "+event.EventType)
	}
}

// ResumeOrder re-drives a stuck order from its last committed state. Used by
// the recovery sweep when an order sits in an intermediate state with no live
// event carrying it forward. Transient failures are returned so the caller
// can try again later; permanent ones halt the order.
func (o *Orchestrator) ResumeOrder(ctx context.Context, orderID uuid.UUID) error {
	ctx = o.orderCtx(ctx, orderID)

	err := o.advance(ctx, orderID)
	if err == nil {
		return nil
	}

	typed := pkgerrors.As(err)
	if pkgerrors.Retryable(err) || (typed != nil && typed.Code() == pkgerrors.CodeCircuitOpen) {
		return err
	}

	o.error(ctx, "resume failed permanently", err)
	o.haltForReview(ctx, orderID, enums.OrderStatusFailedPermanent, opsqueue.ReasonFulfillmentBlocked, err.Error())
	return nil
}

// settlePayment maps the advance outcome onto the ledger. Transient failures
// keep the event in processing; permanent ones fail the order and the event.
func (o *Orchestrator) settlePayment(ctx context.Context, event *models.WebhookEvent, orderID uuid.UUID, advanceErr error) error {
	if advanceErr == nil {
		return o.ledger.MarkProcessed(ctx, event)
	}

	typed := pkgerrors.As(advanceErr)
	if pkgerrors.Retryable(advanceErr) || (typed != nil && typed.Code() == pkgerrors.CodeCircuitOpen) {
		return advanceErr
	}

	o.error(ctx, "fulfillment failed permanently", advanceErr)
	o.haltForReview(ctx, orderID, enums.OrderStatusFailedPermanent, opsqueue.ReasonFulfillmentBlocked, advanceErr.Error())
	if err := o.ledger.MarkFailed(ctx, event); err != nil {
		return err
	}
	return nil
}

// advance walks the order forward one committed step at a time until it
// reaches a state with no automated successor.
func (o *Orchestrator) advance(ctx context.Context, orderID uuid.UUID) error {
	for {
		order, err := o.orders.FindByID(ctx, orderID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload order")
		}

		switch order.Status {
		case enums.OrderStatusPaymentReceived:
			err = o.stepAssemble(ctx, order)
		case enums.OrderStatusDocumentReady:
			err = o.stepVerify(ctx, order)
		case enums.OrderStatusAddressVerified:
			err = o.stepDispatch(ctx, order)
		default:
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (o *Orchestrator) stepAssemble(ctx context.Context, order *models.Order) error {
	start := time.Now()
	doc, err := o.assembler.Assemble(ctx, order)
	if err != nil {
		return err
	}

	err = o.orders.UpdateIfStatus(ctx, order.ID, enums.OrderStatusPaymentReceived, map[string]any{
		"status":            enums.OrderStatusDocumentReady,
		"document_ref":      doc.Ref,
		"document_checksum": doc.Checksum,
		"document_ready_at": time.Now().UTC(),
	})
	if err != nil && !isStateConflict(err) {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record assembled document")
	}
	o.observeStep("assemble_document", start)
	return nil
}

func (o *Orchestrator) stepVerify(ctx context.Context, order *models.Order) error {
	start := time.Now()
	verified, err := o.verifier.Verify(ctx, order.RawAddress)
	if err != nil {
		if address.IsUndeliverable(err) {
			o.warn(ctx, "recipient address is undeliverable")
			o.haltForReview(ctx, order.ID, enums.OrderStatusAddressInvalid, opsqueue.ReasonAddressInvalid, err.Error())
			return nil
		}
		return err
	}

	encoded, err := json.Marshal(verified)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode verified address")
	}

	err = o.orders.UpdateIfStatus(ctx, order.ID, enums.OrderStatusDocumentReady, map[string]any{
		"status":              enums.OrderStatusAddressVerified,
		"verified_address":    string(encoded),
		"address_verified_at": time.Now().UTC(),
	})
	if err != nil && !isStateConflict(err) {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record verified address")
	}
	o.observeStep("verify_address", start)
	return nil
}

func (o *Orchestrator) stepDispatch(ctx context.Context, order *models.Order) error {
	if order.VerifiedAddress == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "verified address missing before dispatch")
	}

	// Rendering is deterministic, so rebuilding the document and comparing
	// checksums guarantees we mail exactly what was recorded.
	doc, err := o.assembler.Assemble(ctx, order)
	if err != nil {
		return err
	}
	if order.DocumentChecksum != nil && *order.DocumentChecksum != doc.Checksum {
		return pkgerrors.New(pkgerrors.CodeInternal, "document checksum drift detected")
	}

	start := time.Now()
	result, err := o.dispatcher.Send(ctx, dispatch.SendInput{
		OrderID:     order.ID,
		To:          *order.VerifiedAddress,
		HTML:        doc.HTML,
		Description: dispatch.Describe(order.ID),
	})
	if err != nil {
		o.recordDispatchFailure(ctx, order.ID, err)
		return err
	}

	err = o.orders.UpdateIfStatus(ctx, order.ID, enums.OrderStatusAddressVerified, map[string]any{
		"status":            enums.OrderStatusDispatched,
		"tracking_id":       result.TrackingID,
		"dispatched_at":     time.Now().UTC(),
		"dispatch_attempts": gorm.Expr("dispatch_attempts + 1"),
		"last_error":        nil,
	})
	if err != nil && !isStateConflict(err) {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record dispatch")
	}
	o.observeStep("dispatch_letter", start)

	o.notifyDispatched(ctx, order, result)
	return nil
}

// notifyDispatched emails the customer. Email is best effort; failures are
// logged and never fail the step.
func (o *Orchestrator) notifyDispatched(ctx context.Context, order *models.Order, result *dispatch.Result) {
	start := time.Now()
	err := o.notifier.OrderDispatched(ctx, notify.DispatchedInput{
		Email:            order.CustomerEmail,
		OrderID:          order.ID,
		TrackingID:       result.TrackingID,
		ExpectedDelivery: result.ExpectedDelivery,
	})

	updates := map[string]any{"notify_attempts": gorm.Expr("notify_attempts + 1")}
	if uerr := o.orders.UpdateIfStatus(ctx, order.ID, enums.OrderStatusDispatched, updates); uerr != nil && !isStateConflict(uerr) {
		o.warn(ctx, "failed to record notification attempt")
	}

	if err != nil {
		o.warn(ctx, "dispatch notification failed: "+err.Error())
		return
	}
	o.observeStep("notify_customer", start)
}

// applyRefund moves a not-yet-dispatched order to refund_required, or flags
// an already-mailed order for manual follow-up.
func (o *Orchestrator) applyRefund(ctx context.Context, orderID uuid.UUID) error {
	for attempt := 0; attempt < 3; attempt++ {
		order, err := o.orders.FindByID(ctx, orderID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload order for refund")
		}

		switch {
		case order.Status == enums.OrderStatusRefundRequired:
			return nil
		case order.Status == enums.OrderStatusDispatched || order.Status == enums.OrderStatusFulfilled:
			o.enqueueTask(ctx, orderID, opsqueue.ReasonRefundAfterMail, "refund received after letter was dispatched")
			return nil
		case order.Status.IsTerminal():
			o.enqueueTask(ctx, orderID, opsqueue.ReasonRefundRequested, "refund received for order in state "+string(order.Status))
			return nil
		}

		err = o.orders.UpdateIfStatus(ctx, orderID, order.Status, map[string]any{
			"status":     enums.OrderStatusRefundRequired,
			"last_error": "payment refunded",
		})
		if err == nil {
			o.enqueueTask(ctx, orderID, opsqueue.ReasonRefundRequested, "payment refunded before dispatch")
			return nil
		}
		if !isStateConflict(err) {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "halt order for refund")
		}
		// Concurrent transition; reload and reclassify.
	}
	return pkgerrors.New(pkgerrors.CodeStateConflict, "order state kept changing during refund")
}

func (o *Orchestrator) markFulfilled(ctx context.Context, orderID uuid.UUID) error {
	err := o.orders.UpdateIfStatus(ctx, orderID, enums.OrderStatusDispatched, map[string]any{
		"status":       enums.OrderStatusFulfilled,
		"fulfilled_at": time.Now().UTC(),
	})
	if err == nil {
		return nil
	}
	if !isStateConflict(err) {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark order fulfilled")
	}

	order, loadErr := o.orders.FindByID(ctx, orderID)
	if loadErr != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, loadErr, "reload order after fulfill conflict")
	}
	if order.Status == enums.OrderStatusFulfilled {
		return nil
	}
	o.warn(ctx, "delivery confirmed for order not in dispatched state")
	o.enqueueTask(ctx, orderID, opsqueue.ReasonFulfillmentBlocked, "delivery confirmed while order in state "+string(order.Status))
	return nil
}

// haltForReview force-moves the order to a terminal state and queues it for
// an operator. The transition tolerates races; the task append is best
// effort but logged on failure.
func (o *Orchestrator) haltForReview(ctx context.Context, orderID uuid.UUID, target enums.OrderStatus, reason opsqueue.Reason, detail string) {
	order, err := o.orders.FindByID(ctx, orderID)
	if err != nil {
		o.error(ctx, "failed to reload order for halt", err)
		return
	}
	if !order.Status.IsTerminal() {
		err = o.orders.UpdateIfStatus(ctx, orderID, order.Status, map[string]any{
			"status":     target,
			"last_error": detail,
		})
		if err != nil && !isStateConflict(err) {
			o.error(ctx, "failed to halt order", err)
		}
	}
	o.enqueueTask(ctx, orderID, reason, detail)
}

func (o *Orchestrator) recordDispatchFailure(ctx context.Context, orderID uuid.UUID, cause error) {
	err := o.orders.UpdateIfStatus(ctx, orderID, enums.OrderStatusAddressVerified, map[string]any{
		"dispatch_attempts": gorm.Expr("dispatch_attempts + 1"),
		"last_error":        cause.Error(),
	})
	if err != nil && !isStateConflict(err) {
		o.warn(ctx, "failed to record dispatch failure")
	}
}

func (o *Orchestrator) enqueueTask(ctx context.Context, orderID uuid.UUID, reason opsqueue.Reason, detail string) {
	if err := o.tasks.Enqueue(ctx, orderID, reason, detail); err != nil {
		o.error(ctx, "failed to enqueue operator task", err)
	}
}

func (o *Orchestrator) observeStep(step string, start time.Time) {
	if o.observer != nil {
		o.observer.ObserveStep(step, time.Since(start))
	}
}

func (o *Orchestrator) eventCtx(ctx context.Context, eventID string) context.Context {
	if o.logg == nil {
		return ctx
	}
	return o.logg.WithEventID(ctx, eventID)
}

func (o *Orchestrator) orderCtx(ctx context.Context, orderID uuid.UUID) context.Context {
	if o.logg == nil {
		return ctx
	}
	return o.logg.WithOrderID(ctx, orderID.String())
}

func (o *Orchestrator) info(ctx context.Context, msg string) {
	if o.logg != nil {
		o.logg.Info(ctx, msg)
	}
}

func (o *Orchestrator) warn(ctx context.Context, msg string) {
	if o.logg != nil {
		o.logg.Warn(ctx, msg)
	}
}

func (o *Orchestrator) error(ctx context.Context, msg string, err error) {
	if o.logg != nil {
		o.logg.Error(ctx, msg, err)
	}
}

func isStateConflict(err error) bool {
	typed := pkgerrors.As(err)
	return typed != nil && typed.Code() == pkgerrors.CodeStateConflict
}
