package controllers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/yeremiapane/restaurant-settlement/settlement"
	"github.com/yeremiapane/restaurant-settlement/utils"
)

// parseID reads a positive numeric path parameter.
func parseID(c *gin.Context, name string) (uint, error) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid %s %q", name, c.Param(name))
	}
	return uint(id), nil
}

// minorOf converts an optional decimal request amount to minor units.
func minorOf(field string, d *decimal.Decimal) (*int64, error) {
	if d == nil {
		return nil, nil
	}
	v, err := utils.ToMinor(*d)
	if err != nil {
		return nil, &settlement.ValidationError{Field: field, Reason: err.Error()}
	}
	return &v, nil
}

// respondServiceError maps settlement errors to HTTP statuses.
func respondServiceError(c *gin.Context, err error) {
	var (
		validErr  *settlement.ValidationError
		conflict  *settlement.ConflictError
		violation *settlement.InvariantViolation
	)
	switch {
	case errors.As(err, &conflict):
		utils.RespondErrorData(c, http.StatusConflict, err, gin.H{
			"remaining":           conflict.Remaining,
			"remaining_formatted": utils.FormatCurrency(conflict.Remaining),
		})
	case errors.As(err, &validErr):
		utils.RespondError(c, http.StatusUnprocessableEntity, err)
	case errors.Is(err, settlement.ErrSessionNotFound), errors.Is(err, settlement.ErrPaymentNotFound):
		utils.RespondError(c, http.StatusNotFound, err)
	case errors.As(err, &violation):
		utils.RespondErrorData(c, http.StatusInternalServerError, err, gin.H{"session_id": violation.SessionID})
	default:
		utils.RespondError(c, http.StatusInternalServerError, err)
	}
	c.Error(err)
}

func errInvalidQuery(name, value string) error {
	return fmt.Errorf("invalid %s %q", name, value)
}
