package services

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/yeremiapane/restaurant-settlement/bus"
	"github.com/yeremiapane/restaurant-settlement/kds"
	"github.com/yeremiapane/restaurant-settlement/settlement"
)

// Broadcaster pushes messages to connected screens.
type Broadcaster interface {
	Broadcast(msg kds.Message, roles ...string)
}

// SettlementUpdate is the payload of a settlement_update message.
type SettlementUpdate struct {
	Kind      string               `json:"kind"`
	Status    settlement.Status    `json:"status"`
	Remaining settlement.Remaining `json:"remaining"`
}

// SessionWatcher recomputes a session whenever the bus reports a change and
// pushes the fresh state to open screens. Views never trust event payloads.
type SessionWatcher struct {
	settlement *SettlementService
	sessions   *SessionService
	hub        Broadcaster
	changes    bus.Bus
	logger     logrus.FieldLogger
}

func NewSessionWatcher(settlementSvc *SettlementService, sessions *SessionService, hub Broadcaster, changes bus.Bus, logger logrus.FieldLogger) *SessionWatcher {
	return &SessionWatcher{
		settlement: settlementSvc,
		sessions:   sessions,
		hub:        hub,
		changes:    changes,
		logger:     logger,
	}
}

// Run consumes events until ctx is done or the bus closes.
func (w *SessionWatcher) Run(ctx context.Context) error {
	events, err := w.changes.Subscribe(ctx)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			w.Handle(ctx, ev)
		}
	}
}

// Handle refreshes the session named by ev.
func (w *SessionWatcher) Handle(ctx context.Context, ev bus.Event) {
	entry := w.logger.WithFields(logrus.Fields{"session_id": ev.SessionID, "kind": ev.Kind, "source": ev.Source})

	// violations are reported by the request paths, not once per event
	st, r, err := w.settlement.Recompute(ctx, ev.SessionID)
	switch {
	case isViolation(err):
		entry.WithError(err).Debug("pushing session with invariant violation")
	case err != nil:
		entry.WithError(err).Warn("settlement refresh failed")
		return
	}

	w.hub.Broadcast(kds.Message{
		Event: kds.EventSettlementUpdate,
		Data:  SettlementUpdate{Kind: ev.Kind, Status: st, Remaining: r},
	}, kds.RoleTerminal, kds.RoleAdmin)

	switch ev.Kind {
	case bus.KindOrderPlaced:
		session, err := w.sessions.GetSession(ctx, ev.SessionID)
		if err != nil {
			entry.WithError(err).Warn("session refresh failed")
			return
		}
		if n := len(session.Orders); n > 0 {
			w.hub.Broadcast(kds.Message{Event: kds.EventOrderUpdate, Data: session.Orders[n-1]})
		}
	case bus.KindSessionClosed:
		w.hub.Broadcast(kds.Message{Event: kds.EventSessionClosed, Data: st})
	}
	entry.Debug("session update pushed")
}
