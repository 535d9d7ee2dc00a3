package models

import "time"

// Receipt is the printable record of one session payment.
type Receipt struct {
	ID               uint   `gorm:"primaryKey" json:"id"`
	SessionID        uint   `gorm:"not null;index" json:"session_id"`
	SessionPaymentID uint   `gorm:"not null;uniqueIndex" json:"session_payment_id"`
	ReceiptNumber    string `gorm:"type:varchar(50);not null" json:"receipt_number"`
	TableNumber      string `gorm:"type:varchar(50)" json:"table_number"`
	Total            int64  `gorm:"not null" json:"total"`

	// Payment details
	PaymentMethod  PaymentMethod `gorm:"type:varchar(20);not null" json:"payment_method"`
	AmountPaid     int64         `gorm:"not null" json:"amount_paid"`
	Tendered       *int64        `json:"tendered,omitempty"`
	Change         *int64        `json:"change,omitempty"`
	Fiscal         bool          `gorm:"not null;default:false" json:"fiscal"`
	RemainingAfter int64         `gorm:"not null;default:0" json:"remaining_after"`

	ReceiptItems []ReceiptItem `gorm:"foreignKey:ReceiptID" json:"receipt_items"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
}

type ReceiptItem struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	ReceiptID uint   `gorm:"not null;index" json:"receipt_id"`
	Name      string `gorm:"type:varchar(255);not null" json:"name"`
	Quantity  int    `gorm:"not null" json:"quantity"`
	UnitPrice int64  `gorm:"not null" json:"unit_price"`
	Subtotal  int64  `gorm:"not null" json:"subtotal"`
}
