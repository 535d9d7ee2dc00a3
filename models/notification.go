package models

import (
	"time"
)

type Notification struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	SessionID *uint     `gorm:"index" json:"session_id,omitempty"`
	Severity  string    `gorm:"type:varchar(10);not null;default:'info'" json:"severity"`
	Message   string    `gorm:"type:text;not null" json:"message"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
}
