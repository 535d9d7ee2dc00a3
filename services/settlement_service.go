package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yeremiapane/restaurant-settlement/bus"
	"github.com/yeremiapane/restaurant-settlement/models"
	"github.com/yeremiapane/restaurant-settlement/notify"
	"github.com/yeremiapane/restaurant-settlement/settlement"
	"github.com/yeremiapane/restaurant-settlement/utils"
)

// LedgerStore is the persistence the settlement flow needs.
type LedgerStore interface {
	Snapshot(ctx context.Context, sessionID uint) (*settlement.Snapshot, error)
	// Append must run fn and the insert atomically against the session.
	Append(ctx context.Context, sessionID uint, requestKey string, fn settlement.AppendFunc) (*models.SessionPayment, bool, error)
	SetSessionFiscal(ctx context.Context, sessionID uint, fiscal bool) error
	Payments(ctx context.Context, sessionID uint) ([]models.SessionPayment, error)
	Payment(ctx context.Context, paymentID uint) (*models.SessionPayment, error)
}

type SettlementOptions struct {
	// FiscalTracking off forces every payment to non-fiscal.
	FiscalTracking bool
}

// SubmitResult is the outcome of a successful submit.
type SubmitResult struct {
	Payment  *models.SessionPayment `json:"payment"`
	Status   settlement.Status      `json:"status"`
	Replayed bool                   `json:"replayed"`
}

// SettlementService drives the settlement engine against the ledger.
type SettlementService struct {
	store    LedgerStore
	notifier notify.Sink
	changes  bus.Bus
	metrics  *SettlementMetrics
	logger   logrus.FieldLogger
	opts     SettlementOptions
}

func NewSettlementService(store LedgerStore, notifier notify.Sink, changes bus.Bus, metrics *SettlementMetrics, logger logrus.FieldLogger, opts SettlementOptions) *SettlementService {
	if notifier == nil {
		notifier = notify.LogSink{Logger: logger}
	}
	return &SettlementService{
		store:    store,
		notifier: notifier,
		changes:  changes,
		metrics:  metrics,
		logger:   logger,
		opts:     opts,
	}
}

func (s *SettlementService) Metrics() *SettlementMetrics {
	return s.metrics
}

// Status evaluates the session's current ledger. On an invariant violation
// the status is returned together with the error.
func (s *SettlementService) Status(ctx context.Context, sessionID uint) (settlement.Status, error) {
	snap, err := s.store.Snapshot(ctx, sessionID)
	if err != nil {
		return settlement.Status{}, err
	}
	st, err := settlement.Evaluate(*snap)
	if err != nil {
		s.reportViolation(ctx, err)
	}
	return st, err
}

// Remaining lists the unpaid units of the session.
func (s *SettlementService) Remaining(ctx context.Context, sessionID uint) (settlement.Remaining, error) {
	snap, err := s.store.Snapshot(ctx, sessionID)
	if err != nil {
		return settlement.Remaining{}, err
	}
	r, err := settlement.AggregateRemaining(*snap)
	if err != nil {
		s.reportViolation(ctx, err)
	}
	return r, err
}

// Recompute evaluates status and remaining items from a single snapshot.
// An invariant violation is returned next to both values and is not reported.
func (s *SettlementService) Recompute(ctx context.Context, sessionID uint) (settlement.Status, settlement.Remaining, error) {
	snap, err := s.store.Snapshot(ctx, sessionID)
	if err != nil {
		return settlement.Status{}, settlement.Remaining{}, err
	}
	st, statusErr := settlement.Evaluate(*snap)
	r, remainingErr := settlement.AggregateRemaining(*snap)
	if statusErr != nil {
		return st, r, statusErr
	}
	return st, r, remainingErr
}

// NewPlanner opens an item selection over the current remaining items.
func (s *SettlementService) NewPlanner(ctx context.Context, sessionID uint) (*settlement.Planner, error) {
	r, err := s.Remaining(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return settlement.NewPlanner(r), nil
}

// PlanSelection applies a batch of selection edits and returns the planner.
func (s *SettlementService) PlanSelection(ctx context.Context, sessionID uint, picks []settlement.Pick) (*settlement.Planner, error) {
	p, err := s.NewPlanner(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	for _, pick := range picks {
		p.Set(pick.OrderItemID, pick.Quantity)
	}
	return p, nil
}

// NewComposer opens a payment form against the current status.
func (s *SettlementService) NewComposer(ctx context.Context, sessionID uint) (*settlement.Composer, error) {
	st, err := s.Status(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return settlement.NewComposer(st), nil
}

// DraftFor builds an unclamped draft from explicit picks against the
// current ledger.
func (s *SettlementService) DraftFor(ctx context.Context, sessionID uint, picks []settlement.Pick) (settlement.Draft, error) {
	snap, err := s.store.Snapshot(ctx, sessionID)
	if err != nil {
		return settlement.Draft{}, err
	}
	return settlement.DraftFor(*snap, picks)
}

// Submit appends the composer's payment. The remaining amount and remaining
// items are rederived inside the store transaction, so a payment that no
// longer fits is rejected instead of overpaying. On success the composer is
// reset for the next payment.
func (s *SettlementService) Submit(ctx context.Context, c *settlement.Composer) (SubmitResult, error) {
	ctx = notify.WithSession(ctx, c.SessionID)
	start := time.Now()

	if err := c.Validate(); err != nil {
		s.fail(ctx, err)
		return SubmitResult{}, err
	}
	if !s.opts.FiscalTracking {
		c.Fiscal = false
	}

	var closing bool
	payment, replayed, err := s.store.Append(ctx, c.SessionID, c.RequestKey(), func(snap settlement.Snapshot) (*models.SessionPayment, bool, error) {
		st, err := settlement.Evaluate(snap)
		if err != nil {
			return nil, false, err
		}
		r, err := settlement.AggregateRemaining(snap)
		if err != nil {
			return nil, false, err
		}
		if err := c.Check(st, r); err != nil {
			return nil, false, err
		}
		p := c.Payment()
		p.EffectiveTotal = st.EffectiveTotal
		p.RemainingAfter = st.Remaining - p.Amount
		closing = p.RemainingAfter == 0
		return p, closing, nil
	})
	if err != nil {
		err = asStoreError(err)
		s.fail(ctx, err)
		return SubmitResult{}, err
	}

	st, err := s.Status(ctx, c.SessionID)
	if err != nil && !isViolation(err) {
		// the payment is stored; only the refresh failed
		s.logger.WithError(err).WithField("session_id", c.SessionID).Warn("status refresh after submit failed")
	}
	c.Reset(st)

	result := SubmitResult{Payment: payment, Status: st, Replayed: replayed}
	if replayed {
		s.metrics.RecordReplayed()
		s.notifier.Notify(ctx, fmt.Sprintf("Payment of %s was already recorded", utils.FormatCurrency(payment.Amount)), notify.Info)
		return result, nil
	}

	s.metrics.RecordSubmitted(payment.Amount, time.Since(start), closing)
	s.notifier.Notify(ctx, fmt.Sprintf("Payment of %s recorded", utils.FormatCurrency(payment.Amount)), notify.Success)
	s.publish(ctx, c.SessionID, bus.KindPaymentAdded)
	if closing {
		s.notifier.Notify(ctx, "Session fully settled and closed", notify.Success)
		s.publish(ctx, c.SessionID, bus.KindSessionClosed)
	}
	return result, nil
}

// SetSessionFiscal changes the fallback fiscal flag of the session.
func (s *SettlementService) SetSessionFiscal(ctx context.Context, sessionID uint, fiscal bool) (settlement.Status, error) {
	if !s.opts.FiscalTracking && fiscal {
		return settlement.Status{}, &settlement.ValidationError{Field: "fiscal", Reason: "fiscal tracking is disabled"}
	}
	if err := s.store.SetSessionFiscal(ctx, sessionID, fiscal); err != nil {
		return settlement.Status{}, err
	}
	s.publish(ctx, sessionID, bus.KindSessionUpdate)
	return s.Status(ctx, sessionID)
}

func (s *SettlementService) Payments(ctx context.Context, sessionID uint) ([]models.SessionPayment, error) {
	if _, err := s.store.Snapshot(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.store.Payments(ctx, sessionID)
}

func (s *SettlementService) Payment(ctx context.Context, paymentID uint) (*models.SessionPayment, error) {
	return s.store.Payment(ctx, paymentID)
}

func (s *SettlementService) publish(ctx context.Context, sessionID uint, kind string) {
	if s.changes == nil {
		return
	}
	ev := bus.Event{SessionID: sessionID, Kind: kind, Source: "settlement", At: time.Now()}
	if err := s.changes.Publish(ctx, ev); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"session_id": sessionID,
			"kind":       kind,
		}).Warn("change event not published")
	}
}

func (s *SettlementService) fail(ctx context.Context, err error) {
	var (
		validErr *settlement.ValidationError
		conflict *settlement.ConflictError
		storeErr *settlement.StoreError
	)
	switch {
	case errors.As(err, &conflict):
		s.metrics.RecordConflict()
		s.notifier.Notify(ctx, fmt.Sprintf("Another terminal settled part of this session, %s remaining", utils.FormatCurrency(conflict.Remaining)), notify.Warning)
	case errors.As(err, &validErr):
		s.metrics.RecordRejected()
		s.notifier.Notify(ctx, "Payment rejected: "+validErr.Error(), notify.Warning)
	case isViolation(err):
		s.reportViolation(ctx, err)
	case errors.Is(err, settlement.ErrSessionNotFound):
		s.metrics.RecordRejected()
		s.notifier.Notify(ctx, "Session not found", notify.Warning)
	case errors.As(err, &storeErr):
		s.metrics.RecordStoreFailure()
		s.logger.WithError(err).WithField("op", storeErr.Op).Error("ledger write failed")
		s.notifier.Notify(ctx, "Payment could not be saved, please retry", notify.Error)
	}
}

func (s *SettlementService) reportViolation(ctx context.Context, err error) {
	var v *settlement.InvariantViolation
	if !errors.As(err, &v) {
		return
	}
	s.metrics.RecordViolation()
	s.logger.WithFields(logrus.Fields{
		"session_id": v.SessionID,
		"detail":     v.Detail,
	}).Error("settlement invariant violated")
	s.notifier.Notify(notify.WithSession(ctx, v.SessionID), v.Error(), notify.Error)
}

func isViolation(err error) bool {
	var v *settlement.InvariantViolation
	return errors.As(err, &v)
}

// asStoreError leaves settlement errors alone and wraps anything else a
// store returned.
func asStoreError(err error) error {
	var (
		storeErr *settlement.StoreError
		validErr *settlement.ValidationError
		conflict *settlement.ConflictError
	)
	if errors.As(err, &storeErr) || errors.As(err, &validErr) || errors.As(err, &conflict) ||
		isViolation(err) || errors.Is(err, settlement.ErrSessionNotFound) {
		return err
	}
	return &settlement.StoreError{Op: "append", Err: err}
}
