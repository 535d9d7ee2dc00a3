package services

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/yeremiapane/restaurant-settlement/bus"
	"github.com/yeremiapane/restaurant-settlement/models"
)

// ChangeMonitor turns rows written to db_changes by database triggers into
// bus events, so writes from other processes refresh open views too.
type ChangeMonitor struct {
	DB       *gorm.DB
	Bus      bus.Bus
	Interval time.Duration
	StopChan chan struct{}
	logger   logrus.FieldLogger
}

func NewChangeMonitor(db *gorm.DB, changes bus.Bus, interval time.Duration, logger logrus.FieldLogger) *ChangeMonitor {
	if interval <= 0 {
		interval = 1 * time.Second
	}
	return &ChangeMonitor{
		DB:       db,
		Bus:      changes,
		Interval: interval,
		StopChan: make(chan struct{}),
		logger:   logger,
	}
}

func (cm *ChangeMonitor) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(cm.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				cm.CheckChanges(ctx)
			case <-ctx.Done():
				return
			case <-cm.StopChan:
				return
			}
		}
	}()
}

func (cm *ChangeMonitor) Stop() {
	close(cm.StopChan)
}

// CheckChanges publishes up to 100 unprocessed changes and marks them
// processed. It returns how many were handled.
func (cm *ChangeMonitor) CheckChanges(ctx context.Context) int {
	var changes []models.DBChange

	tx := cm.DB.WithContext(ctx).Begin()
	if err := tx.Where("processed = ?", false).
		Order("changed_at ASC, id ASC").
		Limit(100).
		Find(&changes).Error; err != nil {
		tx.Rollback()
		cm.logger.WithError(err).Error("Error fetching changes")
		return 0
	}
	if len(changes) == 0 {
		tx.Rollback()
		return 0
	}

	ids := make([]uint, 0, len(changes))
	for _, change := range changes {
		ids = append(ids, change.ID)
	}
	if err := tx.Model(&models.DBChange{}).
		Where("id IN ?", ids).
		Update("processed", true).Error; err != nil {
		tx.Rollback()
		cm.logger.WithError(err).Error("Error marking changes as processed")
		return 0
	}
	if err := tx.Commit().Error; err != nil {
		cm.logger.WithError(err).Error("Error committing processed changes")
		return 0
	}

	// one event per session and kind within a batch
	seen := make(map[bus.Event]bool)
	for _, change := range changes {
		ev := bus.Event{SessionID: change.SessionID, Kind: changeKind(change), Source: "db_changes"}
		if ev.SessionID == 0 || seen[ev] {
			continue
		}
		seen[ev] = true
		ev.At = change.ChangedAt
		if err := cm.Bus.Publish(ctx, ev); err != nil {
			cm.logger.WithError(err).WithFields(logrus.Fields{
				"table":     change.TableName,
				"record_id": change.RecordID,
			}).Warn("Error publishing change")
		}
	}

	cm.logger.WithField("changes", len(changes)).Debug("Processed database changes")
	return len(changes)
}

func changeKind(change models.DBChange) string {
	switch change.TableName {
	case "session_payments":
		return bus.KindPaymentAdded
	case "orders":
		return bus.KindOrderPlaced
	default:
		return bus.KindSessionUpdate
	}
}
