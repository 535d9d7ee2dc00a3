// Package settlement derives how much of a dining session is still unpaid and
// builds new ledger entries. Everything here is pure and in-memory; the only I/O
// boundary is the store append driven by services.SettlementService.
package settlement

import (
	"github.com/yeremiapane/restaurant-settlement/models"
)

// Snapshot is the full ledger view of one session at one point in time.
type Snapshot struct {
	Session  models.Session
	Orders   []models.Order
	Payments []models.SessionPayment
}

// AppendFunc runs inside the store's write transaction against a freshly
// loaded snapshot. It returns the payment to insert and whether the session
// is now fully settled. Returning an error aborts the append.
type AppendFunc func(snap Snapshot) (payment *models.SessionPayment, closeSession bool, err error)
