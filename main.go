package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/yeremiapane/restaurant-settlement/bus"
	"github.com/yeremiapane/restaurant-settlement/config"
	"github.com/yeremiapane/restaurant-settlement/database"
	"github.com/yeremiapane/restaurant-settlement/kds"
	"github.com/yeremiapane/restaurant-settlement/middlewares"
	"github.com/yeremiapane/restaurant-settlement/models"
	"github.com/yeremiapane/restaurant-settlement/notify"
	"github.com/yeremiapane/restaurant-settlement/router"
	"github.com/yeremiapane/restaurant-settlement/services"
	"github.com/yeremiapane/restaurant-settlement/utils"
)

func main() {
	utils.InitLogger()

	cfg, err := config.LoadConfig()
	if err != nil {
		utils.ErrorLogger.Fatalf("Failed to load config: %v", err)
	}
	utils.SetLevel(cfg.LogLevel)
	logger := utils.InfoLogger

	if cfg.GinMode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := config.InitDB(cfg.DB)
	if err != nil {
		utils.ErrorLogger.Fatalf("Failed to connect to database: %v", err)
	}
	autoMigrate(db, logger)

	changes, err := newBus(ctx, cfg, logger)
	if err != nil {
		utils.ErrorLogger.Fatalf("Failed to start change bus: %v", err)
	}
	defer changes.Close()

	hub := kds.NewHub(logger)
	notifier := notify.Multi{
		notify.LogSink{Logger: logger},
		notify.StoreSink{DB: db, Logger: logger},
		hub,
	}

	store := database.NewLedgerStore(db, logger)
	metrics := services.NewSettlementMetrics()
	settlementSvc := services.NewSettlementService(store, notifier, changes, metrics, logger, services.SettlementOptions{
		FiscalTracking: cfg.FiscalTracking,
	})
	sessionSvc := services.NewSessionService(db, changes, logger)
	receiptSvc := services.NewReceiptService(db, cfg.Restaurant, logger)

	// db_changes rows only exist where triggers were installed
	if db.Dialector.Name() == config.DriverMySQL {
		monitor := services.NewChangeMonitor(db, changes, cfg.MonitorInterval, logger)
		monitor.Start(ctx)
		defer monitor.Stop()
	}

	watcher := services.NewSessionWatcher(settlementSvc, sessionSvc, hub, changes, logger)
	go func() {
		if err := watcher.Run(ctx); err != nil {
			utils.ErrorLogger.Printf("Session watcher stopped: %v", err)
		}
	}()

	r := router.SetupRouter(router.Dependencies{
		DB:           db,
		Sessions:     sessionSvc,
		Settlement:   settlementSvc,
		Receipts:     receiptSvc,
		Hub:          hub,
		Logger:       logger,
		CORSOrigin:   cfg.CORSOrigin,
		PaymentRate:  cfg.PaymentRate,
		PaymentBurst: cfg.PaymentBurst,
		RateLimiter:  middlewares.NewRateLimiter(50, 1),
	})
	r.SetTrustedProxies([]string{"127.0.0.1"})

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r}
	go func() {
		logger.Printf("Listening on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			utils.ErrorLogger.Fatal(err)
		}
	}()

	<-ctx.Done()
	logger.Println("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		utils.ErrorLogger.Printf("Server shutdown: %v", err)
	}
}

func newBus(ctx context.Context, cfg config.Config, logger logrus.FieldLogger) (bus.Bus, error) {
	if cfg.ChangeBus != config.BusRedis {
		return bus.NewLocalBus(), nil
	}
	client, err := config.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	logger.WithField("addr", cfg.Redis.Addr).Info("Redis change bus connected")
	return bus.NewRedisBus(client, cfg.Redis.Channel, logger), nil
}

func autoMigrate(db *gorm.DB, logger logrus.FieldLogger) {
	err := db.AutoMigrate(
		&models.Session{},
		&models.Order{},
		&models.OrderItem{},
		&models.SessionPayment{},
		&models.SessionPaymentItem{},
		&models.Notification{},
		&models.Receipt{},
		&models.ReceiptItem{},
		&models.DBChange{},
	)
	if err != nil {
		utils.ErrorLogger.Fatalf("Failed to AutoMigrate: %v", err)
	}
	logger.Info("AutoMigrate completed.")

	if err := database.ExecuteTriggers(db, logger); err != nil {
		utils.ErrorLogger.Printf("Error setting up triggers: %v", err)
	}
}
