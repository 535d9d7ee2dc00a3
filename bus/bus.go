// Package bus signals that session data changed somewhere, so open views
// recompute. Subscribers get "recompute" hints, never state.
package bus

import (
	"context"
	"time"
)

// Event kinds
const (
	KindPaymentAdded  = "payment_added"
	KindOrderPlaced   = "order_placed"
	KindSessionUpdate = "session_update"
	KindSessionClosed = "session_closed"
)

// Event tells subscribers which session to recompute.
type Event struct {
	SessionID uint      `json:"session_id"`
	Kind      string    `json:"kind"`
	Source    string    `json:"source"`
	At        time.Time `json:"at"`
}

// Bus is the change-notification collaborator.
type Bus interface {
	Publish(ctx context.Context, ev Event) error
	// Subscribe returns a channel closed when ctx is done or the bus is closed.
	Subscribe(ctx context.Context) (<-chan Event, error)
	Close() error
}
