package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/yeremiapane/restaurant-settlement/models"
	"github.com/yeremiapane/restaurant-settlement/services"
	"github.com/yeremiapane/restaurant-settlement/settlement"
	"github.com/yeremiapane/restaurant-settlement/utils"
)

// IdempotencyHeader carries the client's request key for a payment submit.
const IdempotencyHeader = "Idempotency-Key"

type SettlementController struct {
	Settlement *services.SettlementService
}

func NewSettlementController(svc *services.SettlementService) *SettlementController {
	return &SettlementController{Settlement: svc}
}

// GetRemaining -> unpaid units per order line
func (sc *SettlementController) GetRemaining(c *gin.Context) {
	id, err := parseID(c, "session_id")
	if err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return
	}
	remaining, err := sc.Settlement.Remaining(c.Request.Context(), id)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Remaining items", remaining)
}

// GetSettlement -> paid, remaining and fiscal status
func (sc *SettlementController) GetSettlement(c *gin.Context) {
	id, err := parseID(c, "session_id")
	if err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return
	}
	status, err := sc.Settlement.Status(c.Request.Context(), id)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Settlement status", status)
}

type selectionResponse struct {
	Selected  []settlement.SelectedLine `json:"selected"`
	Subtotal  int64                     `json:"subtotal"`
	Remaining settlement.Remaining      `json:"remaining"`
	Draft     *settlement.Draft         `json:"draft,omitempty"`
}

// PlanSelection -> clamp a tentative item selection and price it
func (sc *SettlementController) PlanSelection(c *gin.Context) {
	id, err := parseID(c, "session_id")
	if err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return
	}
	var body struct {
		Items []settlement.Pick `json:"items"`
		Apply bool              `json:"apply"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return
	}

	planner, err := sc.Settlement.PlanSelection(c.Request.Context(), id, body.Items)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	resp := selectionResponse{
		Selected:  planner.Selected(),
		Subtotal:  planner.Subtotal(),
		Remaining: planner.Remaining(),
	}
	if body.Apply {
		draft, err := planner.Apply()
		if err != nil {
			respondServiceError(c, err)
			return
		}
		resp.Draft = &draft
	}
	utils.RespondJSON(c, http.StatusOK, "Selection", resp)
}

// ListPayments -> the session ledger
func (sc *SettlementController) ListPayments(c *gin.Context) {
	id, err := parseID(c, "session_id")
	if err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return
	}
	payments, err := sc.Settlement.Payments(c.Request.Context(), id)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Session payments", payments)
}

type submitPaymentRequest struct {
	Amount        *decimal.Decimal  `json:"amount"`
	PaymentMethod string            `json:"payment_method" binding:"required"`
	Notes         string            `json:"notes"`
	Fiscal        bool              `json:"fiscal"`
	Tendered      *decimal.Decimal  `json:"tendered"`
	SeenRemaining *decimal.Decimal  `json:"seen_remaining"`
	RequestKey    string            `json:"request_key"`
	Items         []settlement.Pick `json:"items"`
}

// SubmitPayment -> append a manual payment to the session ledger
func (sc *SettlementController) SubmitPayment(c *gin.Context) {
	id, err := parseID(c, "session_id")
	if err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return
	}
	var body submitPaymentRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return
	}
	ctx := c.Request.Context()

	composer, err := sc.Settlement.NewComposer(ctx, id)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	if key := c.GetHeader(IdempotencyHeader); key != "" {
		composer.UseRequestKey(key)
	}
	composer.UseRequestKey(body.RequestKey)

	seen, err := minorOf("seen_remaining", body.SeenRemaining)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	if seen != nil {
		composer.ObserveRemaining(*seen)
	}

	if len(body.Items) > 0 {
		draft, err := sc.Settlement.DraftFor(ctx, id, body.Items)
		if err != nil {
			respondServiceError(c, err)
			return
		}
		composer.Prefill(draft)
	}

	amount, err := minorOf("amount", body.Amount)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	if amount != nil {
		composer.Amount = *amount
	}
	if composer.Tendered, err = minorOf("tendered", body.Tendered); err != nil {
		respondServiceError(c, err)
		return
	}
	composer.Method = models.PaymentMethod(body.PaymentMethod)
	composer.Notes = body.Notes
	composer.Fiscal = body.Fiscal

	result, err := sc.Settlement.Submit(ctx, composer)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	if result.Replayed {
		utils.RespondJSON(c, http.StatusOK, "Payment already recorded", result)
		return
	}
	utils.RespondJSON(c, http.StatusCreated, "Payment recorded", result)
}

// SetFiscal -> fallback fiscal flag used while a session has no payments
func (sc *SettlementController) SetFiscal(c *gin.Context) {
	id, err := parseID(c, "session_id")
	if err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return
	}
	var body struct {
		Fiscal *bool `json:"fiscal" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return
	}
	status, err := sc.Settlement.SetSessionFiscal(c.Request.Context(), id, *body.Fiscal)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Fiscal flag updated", status)
}

// GetMetrics -> settlement counters
func (sc *SettlementController) GetMetrics(c *gin.Context) {
	utils.RespondJSON(c, http.StatusOK, "Settlement metrics", sc.Settlement.Metrics().GetMetrics())
}
