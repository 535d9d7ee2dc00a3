package settlement

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/yeremiapane/restaurant-settlement/models"
)

// FiscalStatus aggregates the fiscal-registration (SMAC) flag over payments.
type FiscalStatus int

const (
	FiscalNone FiscalStatus = iota
	FiscalAll
	FiscalPartial
)

func (f FiscalStatus) String() string {
	switch f {
	case FiscalAll:
		return "true"
	case FiscalPartial:
		return "partial"
	default:
		return "false"
	}
}

// MarshalJSON encodes as true, false or "partial".
func (f FiscalStatus) MarshalJSON() ([]byte, error) {
	switch f {
	case FiscalAll:
		return []byte("true"), nil
	case FiscalPartial:
		return []byte(`"partial"`), nil
	default:
		return []byte("false"), nil
	}
}

func (f *FiscalStatus) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		if b {
			*f = FiscalAll
		} else {
			*f = FiscalNone
		}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s != "partial" {
		return fmt.Errorf("invalid fiscal status %q", s)
	}
	*f = FiscalPartial
	return nil
}

func fiscalFromFlag(flag bool) FiscalStatus {
	if flag {
		return FiscalAll
	}
	return FiscalNone
}

// Status is the settlement state of a session derived from its ledger.
type Status struct {
	SessionID      uint            `json:"session_id"`
	SessionStatus  string          `json:"session_status"`
	EffectiveTotal int64           `json:"effective_total"`
	Paid           int64           `json:"paid"`
	Remaining      int64           `json:"remaining"`
	Fiscal         FiscalStatus    `json:"fiscal"`
	FiscalAmount   int64           `json:"fiscal_amount"`
	FiscalShare    decimal.Decimal `json:"fiscal_share"`
	PaymentCount   int             `json:"payment_count"`
	CanClose       bool            `json:"can_close"`
}

// DisplayRemaining floors Remaining at zero for display.
func (s Status) DisplayRemaining() int64 {
	if s.Remaining < 0 {
		return 0
	}
	return s.Remaining
}

// Evaluate derives paid, remaining and fiscal status from a snapshot.
// A negative remaining is returned as is together with an InvariantViolation.
func Evaluate(snap Snapshot) (Status, error) {
	st := Status{
		SessionID:      snap.Session.ID,
		SessionStatus:  snap.Session.Status,
		EffectiveTotal: EffectiveTotal(snap.Session),
		PaymentCount:   len(snap.Payments),
		FiscalShare:    decimal.Zero,
	}
	for _, p := range snap.Payments {
		st.Paid += p.Amount
		if p.Fiscal {
			st.FiscalAmount += p.Amount
		}
	}
	st.Remaining = st.EffectiveTotal - st.Paid
	st.CanClose = st.Remaining == 0

	switch {
	case len(snap.Payments) == 0:
		st.Fiscal = fiscalFromFlag(snap.Session.Fiscal)
	case st.Paid > 0 && st.FiscalAmount == st.Paid:
		st.Fiscal = FiscalAll
	case st.FiscalAmount == 0:
		st.Fiscal = FiscalNone
	default:
		st.Fiscal = FiscalPartial
	}
	if st.Paid > 0 {
		st.FiscalShare = decimal.NewFromInt(st.FiscalAmount).
			Mul(decimal.NewFromInt(100)).
			Div(decimal.NewFromInt(st.Paid)).
			Round(2)
	}

	if st.Remaining < 0 {
		return st, &InvariantViolation{
			SessionID: snap.Session.ID,
			Detail:    fmt.Sprintf("paid %d exceeds effective total %d", st.Paid, st.EffectiveTotal),
		}
	}
	return st, nil
}

// OrderFiscalStatus is the fiscal status of a standalone order, which carries
// its own flag instead of split payments.
func OrderFiscalStatus(o models.Order) FiscalStatus {
	return fiscalFromFlag(o.Fiscal)
}
