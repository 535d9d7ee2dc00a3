package controllers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/yeremiapane/restaurant-settlement/models"
	"github.com/yeremiapane/restaurant-settlement/utils"
)

const maxNotifications = 200

type NotificationController struct {
	DB *gorm.DB
}

func NewNotificationController(db *gorm.DB) *NotificationController {
	return &NotificationController{DB: db}
}

// GetAllNotifications -> newest first, optionally for one session
func (nc *NotificationController) GetAllNotifications(c *gin.Context) {
	limit := 50
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			utils.RespondError(c, http.StatusBadRequest, errInvalidQuery("limit", v))
			return
		}
		if n > maxNotifications {
			n = maxNotifications
		}
		limit = n
	}

	q := nc.DB.WithContext(c.Request.Context()).Order("created_at DESC, id DESC").Limit(limit)
	if v := c.Query("session_id"); v != "" {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			utils.RespondError(c, http.StatusBadRequest, errInvalidQuery("session_id", v))
			return
		}
		q = q.Where("session_id = ?", id)
	}
	if v := c.Query("severity"); v != "" {
		q = q.Where("severity = ?", v)
	}

	var notifs []models.Notification
	if err := q.Find(&notifs).Error; err != nil {
		utils.RespondError(c, http.StatusInternalServerError, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "All notifications", notifs)
}
