// Package kds pushes live session updates to terminals, the kitchen display
// and admin screens over websockets.
package kds

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/yeremiapane/restaurant-settlement/notify"
)

// Event types
const (
	EventSettlementUpdate = "settlement_update"
	EventOrderUpdate      = "order_update"
	EventSessionClosed    = "session_closed"
	EventNotification     = "staff_notification"
)

// Client roles
const (
	RoleTerminal = "terminal"
	RoleKitchen  = "kitchen"
	RoleAdmin    = "admin"
)

const writeWait = 5 * time.Second

type Message struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// NotificationPayload is the data of an EventNotification message.
type NotificationPayload struct {
	SessionID uint            `json:"session_id,omitempty"`
	Severity  notify.Severity `json:"severity"`
	Message   string          `json:"message"`
}

// ValidRole reports whether role may subscribe to the feed.
func ValidRole(role string) bool {
	switch role {
	case RoleTerminal, RoleKitchen, RoleAdmin:
		return true
	}
	return false
}

// Hub holds the connected clients by role.
type Hub struct {
	clients map[*websocket.Conn]string // conn -> role
	mutex   sync.Mutex
	logger  logrus.FieldLogger
}

func NewHub(logger logrus.FieldLogger) *Hub {
	return &Hub{
		clients: make(map[*websocket.Conn]string),
		logger:  logger,
	}
}

func (h *Hub) Register(conn *websocket.Conn, role string) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.clients[conn] = role
	h.logger.WithField("role", role).Debug("websocket client registered")
}

func (h *Hub) Unregister(conn *websocket.Conn) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		conn.Close()
	}
}

func (h *Hub) ClientCount() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return len(h.clients)
}

// Broadcast sends msg to every client whose role is in roles, or to all
// clients when roles is empty. Clients that fail a write are dropped.
func (h *Hub) Broadcast(msg Message, roles ...string) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.WithError(err).WithField("event", msg.Event).Error("Error marshaling message")
		return
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()

	sent := 0
	for conn, role := range h.clients {
		if !wants(roles, role) {
			continue
		}
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.logger.WithError(err).WithField("role", role).Warn("Error sending message to client")
			delete(h.clients, conn)
			conn.Close()
			continue
		}
		sent++
	}
	h.logger.WithFields(logrus.Fields{"event": msg.Event, "clients": sent}).Debug("Broadcast message")
}

// Notify forwards operator notifications to terminals and admins.
func (h *Hub) Notify(ctx context.Context, message string, severity notify.Severity) {
	payload := NotificationPayload{Severity: severity, Message: message}
	if id, ok := notify.SessionFrom(ctx); ok {
		payload.SessionID = id
	}
	h.Broadcast(Message{Event: EventNotification, Data: payload}, RoleTerminal, RoleAdmin)
}

func wants(roles []string, role string) bool {
	if len(roles) == 0 {
		return true
	}
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}
