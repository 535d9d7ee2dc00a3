package models

import (
	"time"
)

// Session status
const (
	SessionStatusOpen   = "open"
	SessionStatusClosed = "closed"
)

// Session is a dining tab opened on a table. Amounts are in minor currency units.
type Session struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	TableNumber   string     `gorm:"type:varchar(50);not null" json:"table_number"`
	SessionKey    string     `gorm:"type:varchar(64);uniqueIndex" json:"session_key"`
	Status        string     `gorm:"type:varchar(20);not null;default:'open'" json:"status"`
	TotalAmount   int64      `gorm:"not null;default:0" json:"total_amount"`
	Covers        int        `gorm:"not null;default:0" json:"covers"`
	CoverPrice    int64      `gorm:"not null;default:0" json:"cover_price"`
	CoverIncluded bool       `gorm:"not null;default:false" json:"cover_included"`
	Fiscal        bool       `gorm:"not null;default:false" json:"fiscal"`
	ClosedAt      *time.Time `json:"closed_at,omitempty"`
	CreatedAt     time.Time  `gorm:"not null" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"not null" json:"updated_at"`
	Orders        []Order    `gorm:"foreignKey:SessionID" json:"orders,omitempty"`
}

// IsOpen reports whether the tab still accepts orders and payments.
func (s *Session) IsOpen() bool {
	return s.Status != SessionStatusClosed
}
