package settlement

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/yeremiapane/restaurant-settlement/models"
)

// Composer is the pending manual payment form of one terminal.
type Composer struct {
	SessionID uint
	Amount    int64
	Method    models.PaymentMethod
	Notes     string
	Fiscal    bool
	// Tendered is the cash handed over, used only to compute change.
	Tendered *int64

	requestKey    string
	seenRemaining int64
	draft         *Draft
}

// NewComposer opens a form against the status the operator is looking at.
func NewComposer(st Status) *Composer {
	return &Composer{
		SessionID:     st.SessionID,
		Method:        models.PaymentMethodCash,
		requestKey:    uuid.NewString(),
		seenRemaining: st.Remaining,
	}
}

// RequestKey identifies this submit attempt. Retrying the same form reuses it
// so the ledger never records the payment twice.
func (c *Composer) RequestKey() string {
	return c.requestKey
}

// UseRequestKey replaces the generated key, for clients that mint their own.
func (c *Composer) UseRequestKey(key string) {
	if key != "" {
		c.requestKey = key
	}
}

// SeenRemaining is the remaining amount the form was opened with.
func (c *Composer) SeenRemaining() int64 {
	return c.seenRemaining
}

// ObserveRemaining records the remaining amount the operator was shown, for
// clients that opened the form elsewhere.
func (c *Composer) ObserveRemaining(remaining int64) {
	c.seenRemaining = remaining
}

// Prefill takes an applied selection: the amount becomes its subtotal and the
// selected lines will be attached to the payment.
func (c *Composer) Prefill(d Draft) {
	c.Amount = d.Amount
	draft := d
	draft.Lines = append([]SelectedLine(nil), d.Lines...)
	c.draft = &draft
}

// Draft returns the attached selection, if any.
func (c *Composer) Draft() (Draft, bool) {
	if c.draft == nil {
		return Draft{}, false
	}
	return *c.draft, true
}

// Change is tendered minus amount for cash payments. It may be negative when
// the tender is insufficient; that does not block submission.
func (c *Composer) Change() (int64, bool) {
	if c.Method != models.PaymentMethodCash || c.Tendered == nil {
		return 0, false
	}
	return *c.Tendered - c.Amount, true
}

// Validate runs the checks that need no ledger and normalizes the method.
func (c *Composer) Validate() error {
	if c.Amount <= 0 {
		return &ValidationError{Field: "amount", Reason: "must be greater than zero"}
	}
	m, err := models.ParsePaymentMethod(string(c.Method))
	if err != nil {
		return &ValidationError{Field: "payment_method", Reason: err.Error()}
	}
	c.Method = m
	if c.Tendered != nil && *c.Tendered < 0 {
		return &ValidationError{Field: "tendered", Reason: "must not be negative"}
	}
	return nil
}

// Check validates the form against the authoritative ledger state, right
// before the append. An amount the operator legitimately saw as payable but
// which no longer fits is a conflict; anything else over the remaining is a
// validation error.
func (c *Composer) Check(st Status, r Remaining) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if st.SessionStatus == models.SessionStatusClosed {
		if c.seenRemaining > 0 {
			return &ConflictError{Remaining: st.DisplayRemaining(), Detail: "session already closed"}
		}
		return &ValidationError{Field: "session", Reason: "session is closed"}
	}
	if c.Amount > st.Remaining {
		if c.Amount <= c.seenRemaining && st.Remaining < c.seenRemaining {
			return &ConflictError{Remaining: st.DisplayRemaining(), Detail: "amount no longer fits"}
		}
		return &ValidationError{
			Field:  "amount",
			Reason: fmt.Sprintf("%d exceeds remaining %d", c.Amount, st.DisplayRemaining()),
		}
	}
	if c.draft == nil {
		return nil
	}
	if c.draft.SessionID != c.SessionID {
		return &ValidationError{Field: "selection", Reason: "selection belongs to another session"}
	}
	for _, l := range c.draft.Lines {
		if l.Quantity <= 0 {
			return &ValidationError{Field: "selection", Reason: "quantities must be positive"}
		}
		if l.IsCover() {
			if l.Quantity > r.CoversRemaining {
				return &ConflictError{Remaining: st.DisplayRemaining(), Detail: "covers already settled"}
			}
			continue
		}
		line, ok := r.Line(l.OrderItemID)
		if !ok || l.Quantity > line.Remaining {
			return &ConflictError{
				Remaining: st.DisplayRemaining(),
				Detail:    fmt.Sprintf("order item %d already settled", l.OrderItemID),
			}
		}
	}
	return nil
}

// Payment builds the ledger entry for the current form.
func (c *Composer) Payment() *models.SessionPayment {
	p := &models.SessionPayment{
		SessionID:     c.SessionID,
		RequestKey:    c.requestKey,
		Amount:        c.Amount,
		PaymentMethod: c.Method,
		Notes:         c.Notes,
		Fiscal:        c.Fiscal,
	}
	if c.Method == models.PaymentMethodCash && c.Tendered != nil {
		tendered := *c.Tendered
		change, _ := c.Change()
		p.Tendered = &tendered
		p.Change = &change
	}
	if c.draft != nil {
		for _, l := range c.draft.Lines {
			item := models.SessionPaymentItem{
				MenuName:  l.MenuName,
				UnitPrice: l.UnitPrice,
				Quantity:  l.Quantity,
			}
			if l.IsCover() {
				item.IsCover = true
			} else {
				id := l.OrderItemID
				item.OrderItemID = &id
			}
			p.Items = append(p.Items, item)
		}
	}
	return p
}

// Reset clears the form and its selection after a successful submit.
func (c *Composer) Reset(st Status) {
	c.Amount = 0
	c.Method = models.PaymentMethodCash
	c.Notes = ""
	c.Fiscal = false
	c.Tendered = nil
	c.draft = nil
	c.requestKey = uuid.NewString()
	c.seenRemaining = st.Remaining
}
