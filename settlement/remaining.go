package settlement

import (
	"fmt"
	"sort"
	"strings"
)

// RemainingLine is one order line that still has unpaid units.
type RemainingLine struct {
	OrderItemID   uint   `json:"order_item_id"`
	OrderID       uint   `json:"order_id"`
	OrderSequence int    `json:"order_sequence"`
	MenuName      string `json:"menu_name"`
	UnitPrice     int64  `json:"unit_price"`
	Ordered       int    `json:"ordered"`
	Settled       int    `json:"settled"`
	Remaining     int    `json:"remaining"`
}

// Remaining is the unpaid part of a session, line by line.
type Remaining struct {
	SessionID       uint            `json:"session_id"`
	Lines           []RemainingLine `json:"lines"`
	Covers          int             `json:"covers"`
	CoversSettled   int             `json:"covers_settled"`
	CoversRemaining int             `json:"covers_remaining"`
	CoverPrice      int64           `json:"cover_price"`
}

// Line looks up a remaining line by order item id.
func (r Remaining) Line(orderItemID uint) (RemainingLine, bool) {
	for _, l := range r.Lines {
		if l.OrderItemID == orderItemID {
			return l, true
		}
	}
	return RemainingLine{}, false
}

// Value is the price of every unpaid unit, cover included.
func (r Remaining) Value() int64 {
	var total int64
	for _, l := range r.Lines {
		total += int64(l.Remaining) * l.UnitPrice
	}
	return total + int64(r.CoversRemaining)*r.CoverPrice
}

// AggregateRemaining computes what is still payable per order line from the
// orders and the item rows of prior payments. Lines are keyed by order item
// row id, so the same dish on two tickets is two independent buckets.
//
// A ledger that settled more than was ordered yields an InvariantViolation
// next to the computed result.
func AggregateRemaining(snap Snapshot) (Remaining, error) {
	settled := make(map[uint]int)
	coversSettled := 0
	for _, p := range snap.Payments {
		for _, it := range p.Items {
			if it.IsCover || it.OrderItemID == nil {
				coversSettled += it.Quantity
				continue
			}
			settled[*it.OrderItemID] += it.Quantity
		}
	}

	var (
		lines      []RemainingLine
		violations []string
	)
	for _, o := range snap.Orders {
		for _, item := range o.OrderItems {
			s := settled[item.ID]
			left := item.Quantity - s
			if left < 0 {
				violations = append(violations, fmt.Sprintf("order item %d settled %d of %d", item.ID, s, item.Quantity))
			}
			if left <= 0 {
				continue
			}
			lines = append(lines, RemainingLine{
				OrderItemID:   item.ID,
				OrderID:       o.ID,
				OrderSequence: o.Sequence,
				MenuName:      item.MenuName,
				UnitPrice:     item.UnitPrice,
				Ordered:       item.Quantity,
				Settled:       s,
				Remaining:     left,
			})
		}
	}
	sort.SliceStable(lines, func(i, j int) bool {
		if lines[i].OrderSequence != lines[j].OrderSequence {
			return lines[i].OrderSequence < lines[j].OrderSequence
		}
		return lines[i].OrderItemID < lines[j].OrderItemID
	})

	r := Remaining{
		SessionID:     snap.Session.ID,
		Lines:         lines,
		CoversSettled: coversSettled,
	}
	if hasCoverLine(snap.Session) {
		r.Covers = snap.Session.Covers
		r.CoverPrice = snap.Session.CoverPrice
		r.CoversRemaining = r.Covers - coversSettled
		if r.CoversRemaining < 0 {
			violations = append(violations, fmt.Sprintf("covers settled %d of %d", coversSettled, r.Covers))
			r.CoversRemaining = 0
		}
	} else if coversSettled > 0 {
		violations = append(violations, fmt.Sprintf("covers settled %d on a session without cover charge", coversSettled))
	}

	if len(violations) > 0 {
		return r, &InvariantViolation{SessionID: snap.Session.ID, Detail: strings.Join(violations, "; ")}
	}
	return r, nil
}
