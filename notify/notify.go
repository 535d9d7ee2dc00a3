// Package notify carries human-readable outcomes to operators.
package notify

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/yeremiapane/restaurant-settlement/models"
)

type Severity string

const (
	Success Severity = "success"
	Warning Severity = "warning"
	Error   Severity = "error"
	Info    Severity = "info"
)

// Sink receives operator notifications.
type Sink interface {
	Notify(ctx context.Context, message string, severity Severity)
}

type sessionKey struct{}

// WithSession tags ctx so sinks can attach notifications to a session.
func WithSession(ctx context.Context, sessionID uint) context.Context {
	return context.WithValue(ctx, sessionKey{}, sessionID)
}

// SessionFrom returns the session id set by WithSession.
func SessionFrom(ctx context.Context) (uint, bool) {
	id, ok := ctx.Value(sessionKey{}).(uint)
	return id, ok
}

// Multi fans a notification out to several sinks.
type Multi []Sink

func (m Multi) Notify(ctx context.Context, message string, severity Severity) {
	for _, s := range m {
		if s != nil {
			s.Notify(ctx, message, severity)
		}
	}
}

// LogSink writes notifications to a logrus logger.
type LogSink struct {
	Logger logrus.FieldLogger
}

func (s LogSink) Notify(ctx context.Context, message string, severity Severity) {
	entry := s.Logger.WithField("severity", string(severity))
	if id, ok := SessionFrom(ctx); ok {
		entry = entry.WithField("session_id", id)
	}
	switch severity {
	case Error:
		entry.Error(message)
	case Warning:
		entry.Warn(message)
	default:
		entry.Info(message)
	}
}

// StoreSink persists notifications so terminals can list them later.
type StoreSink struct {
	DB     *gorm.DB
	Logger logrus.FieldLogger
}

func (s StoreSink) Notify(ctx context.Context, message string, severity Severity) {
	n := models.Notification{
		Severity:  string(severity),
		Message:   message,
		CreatedAt: time.Now(),
	}
	if id, ok := SessionFrom(ctx); ok {
		n.SessionID = &id
	}
	if err := s.DB.WithContext(ctx).Create(&n).Error; err != nil && s.Logger != nil {
		s.Logger.WithError(err).Warn("failed to persist notification")
	}
}
