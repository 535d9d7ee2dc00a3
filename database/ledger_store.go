package database

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yeremiapane/restaurant-settlement/models"
	"github.com/yeremiapane/restaurant-settlement/settlement"
)

const opInsertPayment = "insert payment"

// LedgerStore reads sessions with their orders and payments and appends new
// payments. An append and its item rows are written in one transaction.
type LedgerStore struct {
	db     *gorm.DB
	logger logrus.FieldLogger
}

func NewLedgerStore(db *gorm.DB, logger logrus.FieldLogger) *LedgerStore {
	return &LedgerStore{db: db, logger: logger}
}

// Snapshot loads the current ledger view of a session.
func (s *LedgerStore) Snapshot(ctx context.Context, sessionID uint) (*settlement.Snapshot, error) {
	snap, err := loadSnapshot(s.db.WithContext(ctx), sessionID, false)
	if err != nil {
		return nil, classify("snapshot", err)
	}
	return snap, nil
}

// Append locks the session, reloads its ledger, lets fn decide and inserts
// the payment with its item rows. A request key already in the ledger returns
// the stored payment with replayed=true and fn is not called.
func (s *LedgerStore) Append(ctx context.Context, sessionID uint, requestKey string, fn settlement.AppendFunc) (*models.SessionPayment, bool, error) {
	var (
		result   *models.SessionPayment
		replayed bool
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// The locking read must come first. Under REPEATABLE READ the first
		// plain read fixes the snapshot, and it has to include every payment
		// committed before the lock was granted.
		snap, err := loadSnapshot(tx, sessionID, true)
		if err != nil {
			return err
		}

		if requestKey != "" {
			existing, err := findByRequestKey(tx, requestKey)
			if err != nil {
				return err
			}
			if existing != nil {
				if existing.SessionID != sessionID {
					return &settlement.ValidationError{Field: "request_key", Reason: "already used by another session"}
				}
				result = existing
				replayed = true
				return nil
			}
		}

		payment, closeSession, err := fn(*snap)
		if err != nil {
			return err
		}
		if payment.RequestKey == "" {
			payment.RequestKey = requestKey
		}
		payment.SessionID = sessionID
		payment.CreatedAt = time.Now()

		if err := tx.Create(payment).Error; err != nil {
			return &settlement.StoreError{Op: opInsertPayment, Err: err}
		}

		if closeSession {
			now := time.Now()
			if err := tx.Model(&models.Session{}).
				Where("id = ? AND status = ?", sessionID, models.SessionStatusOpen).
				Updates(map[string]interface{}{
					"status":     models.SessionStatusClosed,
					"closed_at":  now,
					"updated_at": now,
				}).Error; err != nil {
				return &settlement.StoreError{Op: "close session", Err: err}
			}
		}

		result = payment
		return nil
	})
	if err != nil {
		// a concurrent retry may have stored the same key first
		if existing := s.replayAfterFailedInsert(ctx, sessionID, requestKey, err); existing != nil {
			return existing, true, nil
		}
		return nil, false, classify("append", err)
	}

	if !replayed {
		s.logger.WithFields(logrus.Fields{
			"session_id": sessionID,
			"payment_id": result.ID,
			"amount":     result.Amount,
			"items":      len(result.Items),
		}).Info("session payment appended")
	}
	return result, replayed, nil
}

func (s *LedgerStore) replayAfterFailedInsert(ctx context.Context, sessionID uint, requestKey string, err error) *models.SessionPayment {
	var storeErr *settlement.StoreError
	if requestKey == "" || !errors.As(err, &storeErr) || storeErr.Op != opInsertPayment {
		return nil
	}
	existing, findErr := findByRequestKey(s.db.WithContext(ctx), requestKey)
	if findErr != nil || existing == nil || existing.SessionID != sessionID {
		return nil
	}
	s.logger.WithFields(logrus.Fields{
		"session_id": sessionID,
		"payment_id": existing.ID,
	}).Info("concurrent retry resolved to stored payment")
	return existing
}

// SetSessionFiscal updates the fiscal flag used when a session has no split payments.
func (s *LedgerStore) SetSessionFiscal(ctx context.Context, sessionID uint, fiscal bool) error {
	res := s.db.WithContext(ctx).Model(&models.Session{}).
		Where("id = ?", sessionID).
		Updates(map[string]interface{}{"fiscal": fiscal, "updated_at": time.Now()})
	if res.Error != nil {
		return &settlement.StoreError{Op: "set fiscal", Err: res.Error}
	}
	if res.RowsAffected == 0 {
		return settlement.ErrSessionNotFound
	}
	return nil
}

// Payments lists a session's ledger in append order.
func (s *LedgerStore) Payments(ctx context.Context, sessionID uint) ([]models.SessionPayment, error) {
	var payments []models.SessionPayment
	if err := s.db.WithContext(ctx).Preload("Items").
		Where("session_id = ?", sessionID).
		Order("id ASC").
		Find(&payments).Error; err != nil {
		return nil, &settlement.StoreError{Op: "list payments", Err: err}
	}
	return payments, nil
}

// Payment loads one ledger entry with its item rows.
func (s *LedgerStore) Payment(ctx context.Context, paymentID uint) (*models.SessionPayment, error) {
	var payment models.SessionPayment
	if err := s.db.WithContext(ctx).Preload("Items").First(&payment, paymentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, settlement.ErrPaymentNotFound
		}
		return nil, &settlement.StoreError{Op: "get payment", Err: err}
	}
	return &payment, nil
}

func findByRequestKey(tx *gorm.DB, requestKey string) (*models.SessionPayment, error) {
	var existing []models.SessionPayment
	if err := tx.Preload("Items").Where("request_key = ?", requestKey).Limit(1).Find(&existing).Error; err != nil {
		return nil, &settlement.StoreError{Op: "lookup request key", Err: err}
	}
	if len(existing) == 0 {
		return nil, nil
	}
	return &existing[0], nil
}

func loadSnapshot(tx *gorm.DB, sessionID uint, lock bool) (*settlement.Snapshot, error) {
	var session models.Session
	q := tx
	if lock {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	if err := q.First(&session, sessionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, settlement.ErrSessionNotFound
		}
		return nil, &settlement.StoreError{Op: "load session", Err: err}
	}

	var orders []models.Order
	if err := tx.Preload("OrderItems", func(db *gorm.DB) *gorm.DB {
		return db.Order("id ASC")
	}).Where("session_id = ?", sessionID).Order("sequence ASC, id ASC").Find(&orders).Error; err != nil {
		return nil, &settlement.StoreError{Op: "load orders", Err: err}
	}

	var payments []models.SessionPayment
	if err := tx.Preload("Items").Where("session_id = ?", sessionID).Order("id ASC").Find(&payments).Error; err != nil {
		return nil, &settlement.StoreError{Op: "load payments", Err: err}
	}

	return &settlement.Snapshot{
		Session:  session,
		Orders:   orders,
		Payments: payments,
	}, nil
}

// classify keeps settlement errors as they are and wraps anything else.
func classify(op string, err error) error {
	var (
		storeErr  *settlement.StoreError
		validErr  *settlement.ValidationError
		conflict  *settlement.ConflictError
		violation *settlement.InvariantViolation
	)
	switch {
	case errors.Is(err, settlement.ErrSessionNotFound),
		errors.As(err, &storeErr),
		errors.As(err, &validErr),
		errors.As(err, &conflict),
		errors.As(err, &violation):
		return err
	}
	return &settlement.StoreError{Op: op, Err: err}
}
