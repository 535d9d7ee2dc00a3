package models

import (
	"fmt"
	"strings"
	"time"
)

// PaymentMethod is how a settlement was tendered.
type PaymentMethod string

const (
	PaymentMethodCash   PaymentMethod = "cash"
	PaymentMethodCard   PaymentMethod = "card"
	PaymentMethodOnline PaymentMethod = "online"
)

// ParsePaymentMethod normalizes user input into a known method.
func ParsePaymentMethod(s string) (PaymentMethod, error) {
	switch m := PaymentMethod(strings.ToLower(strings.TrimSpace(s))); m {
	case PaymentMethodCash, PaymentMethodCard, PaymentMethodOnline:
		return m, nil
	default:
		return "", fmt.Errorf("unknown payment method %q", s)
	}
}

// SessionPayment is one append-only settlement event against a session.
// Rows are never updated or deleted once written.
type SessionPayment struct {
	ID            uint          `gorm:"primaryKey" json:"id"`
	SessionID     uint          `gorm:"not null;index" json:"session_id"`
	RequestKey    string        `gorm:"type:varchar(64);not null;uniqueIndex" json:"request_key"`
	Amount        int64         `gorm:"not null" json:"amount"`
	PaymentMethod PaymentMethod `gorm:"type:varchar(20);not null" json:"payment_method"`
	Notes         string        `gorm:"type:text" json:"notes,omitempty"`
	Fiscal        bool          `gorm:"not null;default:false" json:"fiscal"`
	Tendered      *int64        `json:"tendered,omitempty"`
	Change        *int64        `json:"change,omitempty"`
	// Session totals as of the append; later orders do not change them.
	EffectiveTotal int64                `gorm:"not null;default:0" json:"effective_total"`
	RemainingAfter int64                `gorm:"not null;default:0" json:"remaining_after"`
	CreatedAt      time.Time            `gorm:"not null" json:"created_at"`
	Items          []SessionPaymentItem `gorm:"foreignKey:SessionPaymentID" json:"items,omitempty"`
}

// SessionPaymentItem records which order line (or the cover charge) a payment settled.
// OrderItemID is nil for the cover pseudo-item.
type SessionPaymentItem struct {
	ID               uint   `gorm:"primaryKey" json:"id"`
	SessionPaymentID uint   `gorm:"not null;index" json:"session_payment_id"`
	OrderItemID      *uint  `gorm:"index" json:"order_item_id,omitempty"`
	IsCover          bool   `gorm:"not null;default:false" json:"is_cover"`
	MenuName         string `gorm:"type:varchar(255)" json:"menu_name"`
	UnitPrice        int64  `gorm:"not null" json:"unit_price"`
	Quantity         int    `gorm:"not null" json:"quantity"`
}

func (i *SessionPaymentItem) Subtotal() int64 {
	return int64(i.Quantity) * i.UnitPrice
}
