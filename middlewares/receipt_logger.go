package middlewares

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

func ReceiptLoggerMiddleware(logger logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		entry := logger.WithField("payment_id", c.Param("payment_id"))
		entry.Debug("Generating receipt")

		c.Next()

		if c.Writer.Status() == http.StatusOK {
			entry.Info("Receipt served")
		} else {
			entry.WithField("status", c.Writer.Status()).Warn("Failed to serve receipt")
		}
	}
}
