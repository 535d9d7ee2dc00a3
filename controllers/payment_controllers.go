package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yeremiapane/restaurant-settlement/services"
	"github.com/yeremiapane/restaurant-settlement/utils"
)

type PaymentController struct {
	Settlement *services.SettlementService
}

func NewPaymentController(svc *services.SettlementService) *PaymentController {
	return &PaymentController{Settlement: svc}
}

// GetPaymentByID -> one ledger entry with the items it settled
func (pc *PaymentController) GetPaymentByID(c *gin.Context) {
	id, err := parseID(c, "payment_id")
	if err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return
	}
	payment, err := pc.Settlement.Payment(c.Request.Context(), id)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Payment detail", payment)
}
