package settlement

import "github.com/yeremiapane/restaurant-settlement/models"

// CoverLine is the reserved line id of the cover-charge pseudo-item.
// Order item ids come from an auto-increment key and are never 0.
const CoverLine uint = 0

// CoverName labels the cover pseudo-item on selections and receipts.
const CoverName = "Cover charge"

// CoverCharge is covers × cover price.
func CoverCharge(s models.Session) int64 {
	if s.Covers <= 0 || s.CoverPrice <= 0 {
		return 0
	}
	return int64(s.Covers) * s.CoverPrice
}

// EffectiveTotal is the amount the session must be paid to be closed.
func EffectiveTotal(s models.Session) int64 {
	if s.CoverIncluded {
		return s.TotalAmount
	}
	return s.TotalAmount + CoverCharge(s)
}

func hasCoverLine(s models.Session) bool {
	return s.Covers > 0 && s.CoverPrice > 0
}
