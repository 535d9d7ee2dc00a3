package database

import (
	_ "embed"
	"strings"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

//go:embed migrations/triggers.sql
var triggerSQL string

// ExecuteTriggers installs the change-capture triggers that feed db_changes.
// Only MySQL carries them; other dialects rely on in-process bus events.
func ExecuteTriggers(db *gorm.DB, logger logrus.FieldLogger) error {
	if db.Dialector.Name() != "mysql" {
		logger.WithField("dialect", db.Dialector.Name()).Info("Skipping change triggers")
		return nil
	}

	stmts := TriggerStatements(triggerSQL)
	for _, stmt := range stmts {
		if err := db.Exec(stmt).Error; err != nil {
			logger.WithError(err).WithField("statement", firstLine(stmt)).Error("Error executing trigger")
			return err
		}
	}
	logger.WithField("statements", len(stmts)).Info("Change triggers installed")

	var triggers []struct {
		TriggerName string
		EventType   string
		TableName   string
		Timing      string
	}
	db.Raw(`
        SELECT
            TRIGGER_NAME as trigger_name,
            EVENT_MANIPULATION as event_type,
            EVENT_OBJECT_TABLE as table_name,
            ACTION_TIMING as timing
        FROM information_schema.triggers
        WHERE TRIGGER_SCHEMA = DATABASE()
    `).Scan(&triggers)

	for _, t := range triggers {
		logger.Infof("Trigger verified: %s (%s %s on %s)", t.TriggerName, t.Timing, t.EventType, t.TableName)
	}
	return nil
}

// TriggerStatements splits a DELIMITER-style script into executable statements.
func TriggerStatements(script string) []string {
	var out []string
	for _, block := range strings.Split(script, "DELIMITER") {
		if strings.TrimSpace(block) == "" {
			continue
		}
		for _, stmt := range strings.Split(block, "//") {
			stmt = strings.TrimSpace(stmt)
			if stmt == "" || stmt == ";" {
				continue
			}
			out = append(out, stmt)
		}
	}
	return out
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
