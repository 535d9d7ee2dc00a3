package models

import (
	"time"
)

type OrderItem struct {
	ID      uint `gorm:"primaryKey" json:"id"`
	OrderID uint `gorm:"not null;index" json:"order_id"`
	// Menu name is denormalized so tickets survive menu edits
	MenuName  string    `gorm:"type:varchar(255);not null" json:"menu_name"`
	UnitPrice int64     `gorm:"not null" json:"unit_price"`
	Quantity  int       `gorm:"not null" json:"quantity"`
	Notes     string    `gorm:"type:text" json:"notes"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
}

func (i *OrderItem) Subtotal() int64 {
	return int64(i.Quantity) * i.UnitPrice
}
