// Package printer renders receipts for the till printer.
package printer

import (
	"fmt"
	"io"
	"strings"

	"github.com/go-pdf/fpdf"

	"github.com/yeremiapane/restaurant-settlement/models"
	"github.com/yeremiapane/restaurant-settlement/utils"
)

// RestaurantInfo is printed in the receipt header.
type RestaurantInfo struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Phone   string `json:"phone"`
}

const (
	paperWidth = 80.0 // mm, thermal roll
	margin     = 4.0
	lineHeight = 5.0
)

// RenderReceipt writes the receipt as a single-page PDF sized to its content.
func RenderReceipt(w io.Writer, r *models.Receipt, info RestaurantInfo) error {
	height := 110.0 + float64(len(r.ReceiptItems))*lineHeight
	pdf := fpdf.NewCustom(&fpdf.InitType{
		OrientationStr: "P",
		UnitStr:        "mm",
		Size:           fpdf.SizeType{Wd: paperWidth, Ht: height},
	})
	pdf.SetMargins(margin, margin, margin)
	pdf.SetAutoPageBreak(false, margin)
	pdf.AddPage()
	width := paperWidth - 2*margin
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetFont("Courier", "B", 11)
	pdf.CellFormat(width, lineHeight+1, tr(info.Name), "", 1, "C", false, 0, "")
	pdf.SetFont("Courier", "", 8)
	if info.Address != "" {
		pdf.MultiCell(width, lineHeight-1, tr(info.Address), "", "C", false)
	}
	if info.Phone != "" {
		pdf.CellFormat(width, lineHeight-1, info.Phone, "", 1, "C", false, 0, "")
	}
	separator(pdf, width)

	row(pdf, width, "Receipt", r.ReceiptNumber)
	row(pdf, width, "Date", r.CreatedAt.Format("02/01/2006 15:04"))
	if r.TableNumber != "" {
		row(pdf, width, "Table", r.TableNumber)
	}
	separator(pdf, width)

	for _, it := range r.ReceiptItems {
		label := fmt.Sprintf("%dx %s", it.Quantity, it.Name)
		row(pdf, width, tr(truncate(label, 22)), utils.FormatCurrency(it.Subtotal))
	}
	separator(pdf, width)

	pdf.SetFont("Courier", "B", 9)
	row(pdf, width, "Paid", utils.FormatCurrency(r.AmountPaid))
	pdf.SetFont("Courier", "", 8)
	row(pdf, width, "Method", strings.ToUpper(string(r.PaymentMethod)))
	if r.Tendered != nil {
		row(pdf, width, "Tendered", utils.FormatCurrency(*r.Tendered))
	}
	if r.Change != nil {
		row(pdf, width, "Change", utils.FormatCurrency(*r.Change))
	}
	row(pdf, width, "Session total", utils.FormatCurrency(r.Total))
	row(pdf, width, "Still due", utils.FormatCurrency(r.RemainingAfter))
	if r.Fiscal {
		row(pdf, width, "Fiscal", "yes")
	}
	separator(pdf, width)

	pdf.CellFormat(width, lineHeight, "Thank you for your visit!", "", 1, "C", false, 0, "")

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("render receipt %s: %w", r.ReceiptNumber, err)
	}
	return nil
}

func row(pdf *fpdf.Fpdf, width float64, left, right string) {
	half := width / 2
	pdf.CellFormat(half, lineHeight, left, "", 0, "L", false, 0, "")
	pdf.CellFormat(half, lineHeight, right, "", 1, "R", false, 0, "")
}

func separator(pdf *fpdf.Fpdf, width float64) {
	y := pdf.GetY() + 1
	pdf.Line(margin, y, margin+width, y)
	pdf.Ln(2)
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-1]) + "."
}
