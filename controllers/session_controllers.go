package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/yeremiapane/restaurant-settlement/services"
	"github.com/yeremiapane/restaurant-settlement/utils"
)

type SessionController struct {
	Sessions *services.SessionService
}

func NewSessionController(sessions *services.SessionService) *SessionController {
	return &SessionController{Sessions: sessions}
}

// OpenSession -> open a tab on a table
func (sc *SessionController) OpenSession(c *gin.Context) {
	var body struct {
		TableNumber   string           `json:"table_number" binding:"required"`
		Covers        int              `json:"covers"`
		CoverPrice    *decimal.Decimal `json:"cover_price"`
		CoverIncluded bool             `json:"cover_included"`
		Fiscal        bool             `json:"fiscal"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return
	}
	coverPrice, err := minorOf("cover_price", body.CoverPrice)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	in := services.OpenSessionInput{
		TableNumber:   body.TableNumber,
		Covers:        body.Covers,
		CoverIncluded: body.CoverIncluded,
		Fiscal:        body.Fiscal,
	}
	if coverPrice != nil {
		in.CoverPrice = *coverPrice
	}

	session, err := sc.Sessions.OpenSession(c.Request.Context(), in)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusCreated, "Session opened", session)
}

// GetSession -> session with its orders
func (sc *SessionController) GetSession(c *gin.Context) {
	id, err := parseID(c, "session_id")
	if err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return
	}
	session, err := sc.Sessions.GetSession(c.Request.Context(), id)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Session detail", session)
}

// PlaceOrder -> add a ticket to an open session
func (sc *SessionController) PlaceOrder(c *gin.Context) {
	id, err := parseID(c, "session_id")
	if err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return
	}

	type itemReq struct {
		MenuName  string          `json:"menu_name" binding:"required"`
		UnitPrice decimal.Decimal `json:"unit_price"`
		Quantity  int             `json:"quantity" binding:"required"`
		Notes     string          `json:"notes"`
	}
	var body struct {
		Items  []itemReq `json:"items" binding:"required"`
		Fiscal bool      `json:"fiscal"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return
	}

	in := services.PlaceOrderInput{Fiscal: body.Fiscal}
	for _, it := range body.Items {
		price, err := minorOf("unit_price", &it.UnitPrice)
		if err != nil {
			respondServiceError(c, err)
			return
		}
		in.Items = append(in.Items, services.OrderItemInput{
			MenuName:  it.MenuName,
			UnitPrice: *price,
			Quantity:  it.Quantity,
			Notes:     it.Notes,
		})
	}

	order, err := sc.Sessions.PlaceOrder(c.Request.Context(), id, in)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusCreated, "Order placed", order)
}

