package models

import (
	"time"
)

// DBChange rows are written by database triggers and consumed by the change monitor.
type DBChange struct {
	ID         uint      `gorm:"primaryKey"`
	TableName  string    `gorm:"type:varchar(50);not null;index:idx_table_action"`
	RecordID   int64     `gorm:"not null"`
	SessionID  uint      `gorm:"not null;default:0;index"`
	ActionType string    `gorm:"type:varchar(10);not null;index:idx_table_action"`
	ChangedAt  time.Time `gorm:"default:CURRENT_TIMESTAMP;not null"`
	Processed  bool      `gorm:"default:false;index:idx_processed"`
}
