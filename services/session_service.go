package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yeremiapane/restaurant-settlement/bus"
	"github.com/yeremiapane/restaurant-settlement/models"
	"github.com/yeremiapane/restaurant-settlement/settlement"
	"github.com/yeremiapane/restaurant-settlement/utils"
)

var ErrSessionClosed = &settlement.ValidationError{Field: "session", Reason: "session is closed"}

type OpenSessionInput struct {
	TableNumber   string
	Covers        int
	CoverPrice    int64
	CoverIncluded bool
	Fiscal        bool
}

type OrderItemInput struct {
	MenuName  string
	UnitPrice int64
	Quantity  int
	Notes     string
}

type PlaceOrderInput struct {
	Items  []OrderItemInput
	Fiscal bool
}

// SessionService manages dining sessions and the tickets placed on them.
type SessionService struct {
	db      *gorm.DB
	changes bus.Bus
	logger  logrus.FieldLogger
}

func NewSessionService(db *gorm.DB, changes bus.Bus, logger logrus.FieldLogger) *SessionService {
	return &SessionService{db: db, changes: changes, logger: logger}
}

// OpenSession opens a tab on a table.
func (s *SessionService) OpenSession(ctx context.Context, in OpenSessionInput) (*models.Session, error) {
	in.TableNumber = strings.TrimSpace(in.TableNumber)
	switch {
	case in.TableNumber == "":
		return nil, &settlement.ValidationError{Field: "table_number", Reason: "is required"}
	case in.Covers < 0:
		return nil, &settlement.ValidationError{Field: "covers", Reason: "must not be negative"}
	case in.CoverPrice < 0:
		return nil, &settlement.ValidationError{Field: "cover_price", Reason: "must not be negative"}
	}
	if _, err := utils.MulMinor(in.CoverPrice, in.Covers); err != nil {
		return nil, &settlement.ValidationError{Field: "cover_price", Reason: "cover charge is out of range"}
	}

	session := &models.Session{
		TableNumber:   in.TableNumber,
		SessionKey:    uuid.NewString(),
		Status:        models.SessionStatusOpen,
		Covers:        in.Covers,
		CoverPrice:    in.CoverPrice,
		CoverIncluded: in.CoverIncluded,
		Fiscal:        in.Fiscal,
	}
	if err := s.db.WithContext(ctx).Create(session).Error; err != nil {
		return nil, &settlement.StoreError{Op: "open session", Err: err}
	}

	s.logger.WithFields(logrus.Fields{
		"session_id": session.ID,
		"table":      session.TableNumber,
		"covers":     session.Covers,
	}).Info("session opened")
	s.publish(ctx, session.ID, bus.KindSessionUpdate)
	return session, nil
}

// PlaceOrder adds a ticket to an open session, numbering it after the
// previous ticket and raising the session total by the ticket total.
func (s *SessionService) PlaceOrder(ctx context.Context, sessionID uint, in PlaceOrderInput) (*models.Order, error) {
	if len(in.Items) == 0 {
		return nil, &settlement.ValidationError{Field: "items", Reason: "at least one item is required"}
	}
	items := make([]models.OrderItem, 0, len(in.Items))
	var total int64
	for _, it := range in.Items {
		name := strings.TrimSpace(it.MenuName)
		switch {
		case name == "":
			return nil, &settlement.ValidationError{Field: "menu_name", Reason: "is required"}
		case it.Quantity <= 0:
			return nil, &settlement.ValidationError{Field: "quantity", Reason: "must be greater than zero"}
		case it.UnitPrice < 0:
			return nil, &settlement.ValidationError{Field: "unit_price", Reason: "must not be negative"}
		}
		subtotal, err := utils.MulMinor(it.UnitPrice, it.Quantity)
		if err == nil {
			total, err = utils.AddMinor(total, subtotal)
		}
		if err != nil {
			return nil, &settlement.ValidationError{Field: "items", Reason: "order total is out of range"}
		}
		items = append(items, models.OrderItem{
			MenuName:  name,
			UnitPrice: it.UnitPrice,
			Quantity:  it.Quantity,
			Notes:     it.Notes,
		})
	}

	var order *models.Order
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var session models.Session
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&session, sessionID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return settlement.ErrSessionNotFound
			}
			return &settlement.StoreError{Op: "load session", Err: err}
		}
		if !session.IsOpen() {
			return ErrSessionClosed
		}
		if _, err := utils.AddMinor(session.TotalAmount, total, settlement.CoverCharge(session)); err != nil {
			return &settlement.ValidationError{Field: "items", Reason: "session total is out of range"}
		}

		var last int
		if err := tx.Model(&models.Order{}).
			Where("session_id = ?", sessionID).
			Select("COALESCE(MAX(sequence), 0)").
			Scan(&last).Error; err != nil {
			return &settlement.StoreError{Op: "next sequence", Err: err}
		}

		id := sessionID
		order = &models.Order{
			SessionID:   &id,
			Sequence:    last + 1,
			Fiscal:      in.Fiscal,
			TotalAmount: total,
			OrderItems:  items,
		}
		if err := tx.Create(order).Error; err != nil {
			return &settlement.StoreError{Op: "insert order", Err: err}
		}

		if err := tx.Model(&models.Session{}).
			Where("id = ?", sessionID).
			Updates(map[string]interface{}{
				"total_amount": gorm.Expr("total_amount + ?", order.TotalAmount),
				"updated_at":   time.Now(),
			}).Error; err != nil {
			return &settlement.StoreError{Op: "update session total", Err: err}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"session_id": sessionID,
		"order_id":   order.ID,
		"sequence":   order.Sequence,
		"total":      order.TotalAmount,
	}).Info("order placed")
	s.publish(ctx, sessionID, bus.KindOrderPlaced)
	return order, nil
}

// GetSession loads a session with its tickets and their lines.
func (s *SessionService) GetSession(ctx context.Context, sessionID uint) (*models.Session, error) {
	var session models.Session
	err := s.db.WithContext(ctx).
		Preload("Orders", func(db *gorm.DB) *gorm.DB {
			return db.Order("sequence ASC, id ASC")
		}).
		Preload("Orders.OrderItems").
		First(&session, sessionID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, settlement.ErrSessionNotFound
		}
		return nil, &settlement.StoreError{Op: "get session", Err: err}
	}
	return &session, nil
}

func (s *SessionService) publish(ctx context.Context, sessionID uint, kind string) {
	if s.changes == nil {
		return
	}
	if err := s.changes.Publish(ctx, bus.Event{SessionID: sessionID, Kind: kind, Source: "sessions"}); err != nil {
		s.logger.WithError(err).WithField("session_id", sessionID).Warn("change event not published")
	}
}
