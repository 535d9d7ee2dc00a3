package settlement

import "sort"

// SelectedLine is one line of an item-based split.
type SelectedLine struct {
	OrderItemID uint   `json:"order_item_id"`
	MenuName    string `json:"menu_name"`
	UnitPrice   int64  `json:"unit_price"`
	Quantity    int    `json:"quantity"`
}

// IsCover reports whether the line is the cover pseudo-item.
func (l SelectedLine) IsCover() bool {
	return l.OrderItemID == CoverLine
}

func (l SelectedLine) Subtotal() int64 {
	return int64(l.Quantity) * l.UnitPrice
}

// Draft is an applied selection waiting for the composer.
type Draft struct {
	SessionID uint           `json:"session_id"`
	Amount    int64          `json:"amount"`
	Lines     []SelectedLine `json:"lines"`
}

// Planner holds an operator's tentative selection of remaining items.
// Selections are clamped to what is still payable; nothing is committed until
// a composer built from the applied draft is submitted.
type Planner struct {
	remaining Remaining
	selected  map[uint]int
	covers    int
}

func NewPlanner(r Remaining) *Planner {
	return &Planner{
		remaining: r,
		selected:  make(map[uint]int),
	}
}

// Remaining returns the view the planner clamps against.
func (p *Planner) Remaining() Remaining {
	return p.remaining
}

// Increment adds one unit of the line, ignored at the upper bound.
func (p *Planner) Increment(orderItemID uint) {
	if orderItemID == CoverLine {
		p.SetCoverSelection(p.covers + 1)
		return
	}
	p.Set(orderItemID, p.selected[orderItemID]+1)
}

// Decrement removes one unit of the line, ignored at zero.
func (p *Planner) Decrement(orderItemID uint) {
	if orderItemID == CoverLine {
		p.SetCoverSelection(p.covers - 1)
		return
	}
	p.Set(orderItemID, p.selected[orderItemID]-1)
}

// Set selects n units of the line, clamped to [0, remaining].
// Unknown or fully paid lines stay unselected.
func (p *Planner) Set(orderItemID uint, n int) {
	if orderItemID == CoverLine {
		p.SetCoverSelection(n)
		return
	}
	line, ok := p.remaining.Line(orderItemID)
	if !ok {
		return
	}
	n = clamp(n, 0, line.Remaining)
	if n == 0 {
		delete(p.selected, orderItemID)
		return
	}
	p.selected[orderItemID] = n
}

// SetCoverSelection selects n covers, clamped to [0, covers remaining].
func (p *Planner) SetCoverSelection(n int) {
	p.covers = clamp(n, 0, p.remaining.CoversRemaining)
}

// Quantity returns the selected units of a line.
func (p *Planner) Quantity(orderItemID uint) int {
	if orderItemID == CoverLine {
		return p.covers
	}
	return p.selected[orderItemID]
}

// CoverSelection returns the selected covers.
func (p *Planner) CoverSelection() int {
	return p.covers
}

// Empty reports whether neither items nor covers are selected.
func (p *Planner) Empty() bool {
	return len(p.selected) == 0 && p.covers == 0
}

// Selected lists the current selection, cover last.
func (p *Planner) Selected() []SelectedLine {
	lines := make([]SelectedLine, 0, len(p.selected)+1)
	for _, l := range p.remaining.Lines {
		qty := p.selected[l.OrderItemID]
		if qty == 0 {
			continue
		}
		lines = append(lines, SelectedLine{
			OrderItemID: l.OrderItemID,
			MenuName:    l.MenuName,
			UnitPrice:   l.UnitPrice,
			Quantity:    qty,
		})
	}
	sort.SliceStable(lines, func(i, j int) bool { return lines[i].OrderItemID < lines[j].OrderItemID })
	if p.covers > 0 {
		lines = append(lines, SelectedLine{
			OrderItemID: CoverLine,
			MenuName:    CoverName,
			UnitPrice:   p.remaining.CoverPrice,
			Quantity:    p.covers,
		})
	}
	return lines
}

// Subtotal is Σ selected × unit price plus selected covers × cover price.
func (p *Planner) Subtotal() int64 {
	var total int64
	for _, l := range p.Selected() {
		total += l.Subtotal()
	}
	return total
}

// Apply turns the selection into a draft for the composer. The planner keeps
// its selection so the operator can go back and adjust it.
func (p *Planner) Apply() (Draft, error) {
	if p.Empty() {
		return Draft{}, ErrNothingSelected
	}
	return Draft{
		SessionID: p.remaining.SessionID,
		Amount:    p.Subtotal(),
		Lines:     p.Selected(),
	}, nil
}

// Reset drops the selection.
func (p *Planner) Reset() {
	p.selected = make(map[uint]int)
	p.covers = 0
}

func clamp(n, lo, hi int) int {
	if hi < lo {
		hi = lo
	}
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}

// Pick is a requested quantity of one order line, or of covers when
// OrderItemID is CoverLine.
type Pick struct {
	OrderItemID uint `json:"order_item_id"`
	Quantity    int  `json:"quantity"`
}

// DraftFor builds a draft from explicit picks without clamping them, so a
// quantity that no longer fits surfaces as a conflict when the composer is
// checked. Picks of the same line are merged.
func DraftFor(snap Snapshot, picks []Pick) (Draft, error) {
	items := make(map[uint]SelectedLine)
	for _, o := range snap.Orders {
		for _, it := range o.OrderItems {
			items[it.ID] = SelectedLine{OrderItemID: it.ID, MenuName: it.MenuName, UnitPrice: it.UnitPrice}
		}
	}

	qty := make(map[uint]int)
	for _, p := range picks {
		if p.Quantity <= 0 {
			return Draft{}, &ValidationError{Field: "selection", Reason: "quantities must be positive"}
		}
		if p.OrderItemID == CoverLine {
			if !hasCoverLine(snap.Session) {
				return Draft{}, &ValidationError{Field: "selection", Reason: "session has no cover charge"}
			}
		} else if _, ok := items[p.OrderItemID]; !ok {
			return Draft{}, &ValidationError{Field: "selection", Reason: "unknown order item"}
		}
		qty[p.OrderItemID] += p.Quantity
	}
	if len(qty) == 0 {
		return Draft{}, ErrNothingSelected
	}

	d := Draft{SessionID: snap.Session.ID}
	for id, n := range qty {
		if id == CoverLine {
			continue
		}
		line := items[id]
		line.Quantity = n
		d.Lines = append(d.Lines, line)
	}
	sort.Slice(d.Lines, func(i, j int) bool { return d.Lines[i].OrderItemID < d.Lines[j].OrderItemID })
	if n, ok := qty[CoverLine]; ok {
		d.Lines = append(d.Lines, SelectedLine{
			OrderItemID: CoverLine,
			MenuName:    CoverName,
			UnitPrice:   snap.Session.CoverPrice,
			Quantity:    n,
		})
	}
	for _, l := range d.Lines {
		d.Amount += l.Subtotal()
	}
	return d, nil
}
