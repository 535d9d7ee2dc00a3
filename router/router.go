package router

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/yeremiapane/restaurant-settlement/controllers"
	"github.com/yeremiapane/restaurant-settlement/kds"
	"github.com/yeremiapane/restaurant-settlement/middlewares"
	"github.com/yeremiapane/restaurant-settlement/services"
)

// Dependencies are the collaborators the HTTP surface is built from.
type Dependencies struct {
	DB         *gorm.DB
	Sessions   *services.SessionService
	Settlement *services.SettlementService
	Receipts   *services.ReceiptService
	Hub        *kds.Hub
	Logger     logrus.FieldLogger

	CORSOrigin   string
	TLS          bool
	PaymentRate  float64
	PaymentBurst int
	// RateLimiter guards the whole API when set.
	RateLimiter *middlewares.RateLimiter
}

func SetupRouter(deps Dependencies) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.Use(middlewares.SecurityHeaders(deps.TLS))
	r.Use(middlewares.CORSMiddlewares(deps.CORSOrigin))
	r.Use(middlewares.LoggerMiddleware(deps.Logger))
	if deps.RateLimiter != nil {
		r.Use(deps.RateLimiter.RateLimit())
	}

	sessionCtrl := controllers.NewSessionController(deps.Sessions)
	settlementCtrl := controllers.NewSettlementController(deps.Settlement)
	paymentCtrl := controllers.NewPaymentController(deps.Settlement)
	receiptCtrl := controllers.NewReceiptController(deps.Receipts)
	notificationCtrl := controllers.NewNotificationController(deps.DB)
	kdsCtrl := controllers.NewKDSController(deps.Hub, deps.CORSOrigin)

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{"message": "pong"})
	})

	// live feed for terminals, kitchen and admin screens
	r.GET("/ws/:role", kdsCtrl.KDSHandler)

	// SESSIONS
	r.POST("/sessions", sessionCtrl.OpenSession)
	session := r.Group("/sessions/:session_id")
	{
		session.GET("", sessionCtrl.GetSession)
		session.POST("/orders", sessionCtrl.PlaceOrder)
		session.PATCH("/fiscal", settlementCtrl.SetFiscal)

		session.GET("/remaining", settlementCtrl.GetRemaining)
		session.POST("/selection", settlementCtrl.PlanSelection)
		session.GET("/settlement", settlementCtrl.GetSettlement)
		session.GET("/payments", settlementCtrl.ListPayments)
	}

	// PAYMENTS
	payments := session.Group("/payments")
	payments.Use(middlewares.PaymentSecurityHeaders())
	payments.Use(middlewares.PaymentRateLimiter(deps.PaymentRate, deps.PaymentBurst))
	payments.Use(middlewares.LogPaymentRequest(deps.Logger))
	{
		payments.POST("", settlementCtrl.SubmitPayment)
	}

	r.GET("/payments/:payment_id", paymentCtrl.GetPaymentByID)

	// RECEIPTS
	receipts := r.Group("/payments/:payment_id")
	receipts.Use(middlewares.ReceiptLoggerMiddleware(deps.Logger))
	{
		receipts.GET("/receipt", receiptCtrl.GetReceipt)
		receipts.GET("/receipt.pdf", receiptCtrl.GetReceiptPDF)
	}

	r.GET("/notifications", notificationCtrl.GetAllNotifications)
	r.GET("/settlement/metrics", settlementCtrl.GetMetrics)

	return r
}
