package controllers

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yeremiapane/restaurant-settlement/services"
	"github.com/yeremiapane/restaurant-settlement/utils"
)

type ReceiptController struct {
	Receipts *services.ReceiptService
}

func NewReceiptController(receipts *services.ReceiptService) *ReceiptController {
	return &ReceiptController{Receipts: receipts}
}

// GetReceipt -> receipt of a payment, issued on first request
func (rc *ReceiptController) GetReceipt(c *gin.Context) {
	id, err := parseID(c, "payment_id")
	if err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return
	}
	view, err := rc.Receipts.View(c.Request.Context(), id)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Receipt", view)
}

// GetReceiptPDF -> printable receipt
func (rc *ReceiptController) GetReceiptPDF(c *gin.Context) {
	id, err := parseID(c, "payment_id")
	if err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return
	}
	var buf bytes.Buffer
	receipt, err := rc.Receipts.RenderPDF(c.Request.Context(), id, &buf)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	filename := strings.ReplaceAll(receipt.ReceiptNumber, "/", "-") + ".pdf"
	c.Header("Content-Disposition", fmt.Sprintf("inline; filename=%q", filename))
	c.Data(http.StatusOK, "application/pdf", buf.Bytes())
}
