package models

import (
	"fmt"
	"time"
)

// Order is one ticket ("comanda") of a session, or a standalone order when SessionID is nil.
type Order struct {
	ID            uint        `gorm:"primaryKey" json:"id"`
	SessionID     *uint       `gorm:"index" json:"session_id,omitempty"`
	Sequence      int         `gorm:"not null;default:0" json:"sequence"`
	TotalAmount   int64       `gorm:"not null;default:0" json:"total_amount"`
	Fiscal        bool        `gorm:"not null;default:false" json:"fiscal"`
	PaymentMethod string      `gorm:"type:varchar(20)" json:"payment_method,omitempty"`
	CreatedAt     time.Time   `gorm:"not null" json:"created_at"`
	UpdatedAt     time.Time   `gorm:"not null" json:"updated_at"`
	OrderItems    []OrderItem `gorm:"foreignKey:OrderID" json:"order_items"`
}

// Label is the ticket label printed on kitchen and payment slips.
func (o *Order) Label() string {
	if o.SessionID == nil {
		return fmt.Sprintf("ORD-%d", o.ID)
	}
	return fmt.Sprintf("T%d-%d", *o.SessionID, o.Sequence)
}
