package services

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/yeremiapane/restaurant-settlement/models"
	"github.com/yeremiapane/restaurant-settlement/printer"
	"github.com/yeremiapane/restaurant-settlement/settlement"
)

// ReceiptView is the JSON receipt handed to terminals.
type ReceiptView struct {
	RestaurantInfo printer.RestaurantInfo `json:"restaurant_info"`
	Receipt        *models.Receipt        `json:"receipt"`
}

// ReceiptService issues one receipt per session payment.
type ReceiptService struct {
	db     *gorm.DB
	info   printer.RestaurantInfo
	logger logrus.FieldLogger
}

func NewReceiptService(db *gorm.DB, info printer.RestaurantInfo, logger logrus.FieldLogger) *ReceiptService {
	return &ReceiptService{db: db, info: info, logger: logger}
}

// Generate returns the receipt of a payment, creating it on first request.
func (s *ReceiptService) Generate(ctx context.Context, paymentID uint) (*models.Receipt, error) {
	db := s.db.WithContext(ctx)

	if existing, err := s.find(db, paymentID); err != nil || existing != nil {
		return existing, err
	}

	var payment models.SessionPayment
	if err := db.Preload("Items").First(&payment, paymentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, settlement.ErrPaymentNotFound
		}
		return nil, &settlement.StoreError{Op: "load payment", Err: err}
	}

	var session models.Session
	if err := db.First(&session, payment.SessionID).Error; err != nil {
		return nil, &settlement.StoreError{Op: "load session", Err: err}
	}

	receipt := &models.Receipt{
		SessionID:        session.ID,
		SessionPaymentID: payment.ID,
		ReceiptNumber:    fmt.Sprintf("RCP/%s/%06d", payment.CreatedAt.Format("20060102"), payment.ID),
		TableNumber:      session.TableNumber,
		Total:            payment.EffectiveTotal,
		PaymentMethod:    payment.PaymentMethod,
		AmountPaid:       payment.Amount,
		Tendered:         payment.Tendered,
		Change:           payment.Change,
		Fiscal:           payment.Fiscal,
		RemainingAfter:   payment.RemainingAfter,
		ReceiptItems:     receiptItems(payment),
	}

	if err := db.Create(receipt).Error; err != nil {
		// another request may have issued it in the meantime
		if existing, findErr := s.find(db, paymentID); findErr == nil && existing != nil {
			return existing, nil
		}
		return nil, &settlement.StoreError{Op: "insert receipt", Err: err}
	}

	s.logger.WithFields(logrus.Fields{
		"session_id":     session.ID,
		"payment_id":     payment.ID,
		"receipt_number": receipt.ReceiptNumber,
	}).Info("receipt generated")
	return receipt, nil
}

// View wraps the receipt with the restaurant header.
func (s *ReceiptService) View(ctx context.Context, paymentID uint) (*ReceiptView, error) {
	receipt, err := s.Generate(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	return &ReceiptView{RestaurantInfo: s.info, Receipt: receipt}, nil
}

// RenderPDF writes the printable receipt of a payment.
func (s *ReceiptService) RenderPDF(ctx context.Context, paymentID uint, w io.Writer) (*models.Receipt, error) {
	receipt, err := s.Generate(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	return receipt, printer.RenderReceipt(w, receipt, s.info)
}

func (s *ReceiptService) find(db *gorm.DB, paymentID uint) (*models.Receipt, error) {
	var receipts []models.Receipt
	if err := db.Preload("ReceiptItems").
		Where("session_payment_id = ?", paymentID).
		Limit(1).
		Find(&receipts).Error; err != nil {
		return nil, &settlement.StoreError{Op: "find receipt", Err: err}
	}
	if len(receipts) == 0 {
		return nil, nil
	}
	return &receipts[0], nil
}

// receiptItems lists the settled lines of an item split, or a single
// on-account line for an amount split.
func receiptItems(p models.SessionPayment) []models.ReceiptItem {
	if len(p.Items) == 0 {
		return []models.ReceiptItem{{
			Name:      "Payment on account",
			Quantity:  1,
			UnitPrice: p.Amount,
			Subtotal:  p.Amount,
		}}
	}
	items := make([]models.ReceiptItem, 0, len(p.Items))
	for _, it := range p.Items {
		name := it.MenuName
		if it.IsCover && name == "" {
			name = settlement.CoverName
		}
		items = append(items, models.ReceiptItem{
			Name:      name,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
			Subtotal:  it.Subtotal(),
		})
	}
	return items
}
