package database_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/yeremiapane/restaurant-settlement/database"
	"github.com/yeremiapane/restaurant-settlement/models"
	"github.com/yeremiapane/restaurant-settlement/settlement"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	return openTestDB(t, dsn, 1)
}

// setupWALDB opens a database file that a second connection can write to
// while a transaction is open.
func setupWALDB(t *testing.T) *gorm.DB {
	t.Helper()
	return openTestDB(t, filepath.Join(t.TempDir(), "ledger.db")+"?_journal_mode=WAL&_busy_timeout=5000", 2)
}

func openTestDB(t *testing.T, dsn string, conns int) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(conns)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(
		&models.Session{},
		&models.Order{},
		&models.OrderItem{},
		&models.SessionPayment{},
		&models.SessionPaymentItem{},
	))
	return db
}

// seedSession creates an open $50 session: two pizzas and a wine.
func seedSession(t *testing.T, db *gorm.DB) models.Session {
	t.Helper()
	session := models.Session{TableNumber: "12", SessionKey: t.Name(), Status: models.SessionStatusOpen, TotalAmount: 5000}
	require.NoError(t, db.Create(&session).Error)

	id := session.ID
	o := models.Order{SessionID: &id, Sequence: 1, TotalAmount: 5000, OrderItems: []models.OrderItem{
		{MenuName: "Margherita", UnitPrice: 1500, Quantity: 2},
		{MenuName: "Chianti", UnitPrice: 2000, Quantity: 1},
	}}
	require.NoError(t, db.Create(&o).Error)
	return session
}

func newStore(db *gorm.DB) *database.LedgerStore {
	log, _ := logtest.NewNullLogger()
	return database.NewLedgerStore(db, log)
}

func payWith(amount int64, closeSession bool) settlement.AppendFunc {
	return func(snap settlement.Snapshot) (*models.SessionPayment, bool, error) {
		return &models.SessionPayment{Amount: amount, PaymentMethod: models.PaymentMethodCash}, closeSession, nil
	}
}

func countRows(t *testing.T, db *gorm.DB, model interface{}) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(model).Count(&n).Error)
	return n
}

func TestSnapshotLoadsLedger(t *testing.T) {
	db := setupTestDB(t)
	session := seedSession(t, db)
	store := newStore(db)
	ctx := context.Background()

	snap, err := store.Snapshot(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, session.ID, snap.Session.ID)
	require.Len(t, snap.Orders, 1)
	assert.Len(t, snap.Orders[0].OrderItems, 2)
	assert.Empty(t, snap.Payments)

	_, err = store.Snapshot(ctx, session.ID+100)
	assert.ErrorIs(t, err, settlement.ErrSessionNotFound)
}

func TestAppendWritesPaymentWithItems(t *testing.T) {
	db := setupTestDB(t)
	session := seedSession(t, db)
	store := newStore(db)
	ctx := context.Background()

	snap, err := store.Snapshot(ctx, session.ID)
	require.NoError(t, err)
	pizza := snap.Orders[0].OrderItems[0].ID

	p, replayed, err := store.Append(ctx, session.ID, "key-1", func(snap settlement.Snapshot) (*models.SessionPayment, bool, error) {
		return &models.SessionPayment{
			Amount:        1500,
			PaymentMethod: models.PaymentMethodCard,
			Items: []models.SessionPaymentItem{
				{OrderItemID: &pizza, MenuName: "Margherita", UnitPrice: 1500, Quantity: 1},
			},
		}, false, nil
	})
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.NotZero(t, p.ID)
	assert.Equal(t, "key-1", p.RequestKey)
	assert.Equal(t, session.ID, p.SessionID)

	payments, err := store.Payments(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, payments, 1)
	require.Len(t, payments[0].Items, 1)
	assert.Equal(t, pizza, *payments[0].Items[0].OrderItemID)

	snap, err = store.Snapshot(ctx, session.ID)
	require.NoError(t, err)
	assert.True(t, snap.Session.IsOpen())
}

func TestAppendClosesSession(t *testing.T) {
	db := setupTestDB(t)
	session := seedSession(t, db)
	store := newStore(db)
	ctx := context.Background()

	_, _, err := store.Append(ctx, session.ID, "key-close", payWith(5000, true))
	require.NoError(t, err)

	snap, err := store.Snapshot(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusClosed, snap.Session.Status)
	assert.NotNil(t, snap.Session.ClosedAt)
}

func TestAppendReplaysRequestKey(t *testing.T) {
	db := setupTestDB(t)
	session := seedSession(t, db)
	store := newStore(db)
	ctx := context.Background()

	first, _, err := store.Append(ctx, session.ID, "retry-me", payWith(1000, false))
	require.NoError(t, err)

	called := false
	second, replayed, err := store.Append(ctx, session.ID, "retry-me", func(snap settlement.Snapshot) (*models.SessionPayment, bool, error) {
		called = true
		return &models.SessionPayment{Amount: 1000, PaymentMethod: models.PaymentMethodCash}, false, nil
	})
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.False(t, called)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, int64(1), countRows(t, db, &models.SessionPayment{}))
}

func TestAppendRejectsKeyFromAnotherSession(t *testing.T) {
	db := setupTestDB(t)
	a := seedSession(t, db)
	store := newStore(db)
	ctx := context.Background()

	b := models.Session{TableNumber: "3", SessionKey: "other", Status: models.SessionStatusOpen, TotalAmount: 1000}
	require.NoError(t, db.Create(&b).Error)

	_, _, err := store.Append(ctx, a.ID, "shared", payWith(500, false))
	require.NoError(t, err)

	_, _, err = store.Append(ctx, b.ID, "shared", payWith(500, false))
	assert.True(t, settlement.IsValidation(err))
}

func TestAppendWritesNothingWhenRejected(t *testing.T) {
	db := setupTestDB(t)
	session := seedSession(t, db)
	store := newStore(db)
	ctx := context.Background()

	_, _, err := store.Append(ctx, session.ID, "rejected", func(snap settlement.Snapshot) (*models.SessionPayment, bool, error) {
		return nil, false, &settlement.ConflictError{Remaining: 100}
	})
	assert.True(t, settlement.IsConflict(err))
	assert.Equal(t, int64(0), countRows(t, db, &models.SessionPayment{}))
	assert.Equal(t, int64(0), countRows(t, db, &models.SessionPaymentItem{}))
}

func TestAppendRollsBackFailedInsert(t *testing.T) {
	db := setupTestDB(t)
	session := seedSession(t, db)
	store := newStore(db)
	ctx := context.Background()

	_, _, err := store.Append(ctx, session.ID, "taken", payWith(1000, false))
	require.NoError(t, err)

	snap, err := store.Snapshot(ctx, session.ID)
	require.NoError(t, err)
	wine := snap.Orders[0].OrderItems[1].ID

	// the returned row reuses a stored request key, so the insert fails
	_, _, err = store.Append(ctx, session.ID, "fresh", func(snap settlement.Snapshot) (*models.SessionPayment, bool, error) {
		return &models.SessionPayment{
			RequestKey:    "taken",
			Amount:        2000,
			PaymentMethod: models.PaymentMethodCash,
			Items:         []models.SessionPaymentItem{{OrderItemID: &wine, MenuName: "Chianti", UnitPrice: 2000, Quantity: 1}},
		}, true, nil
	})
	var storeErr *settlement.StoreError
	require.True(t, errors.As(err, &storeErr))

	assert.Equal(t, int64(1), countRows(t, db, &models.SessionPayment{}))
	assert.Equal(t, int64(0), countRows(t, db, &models.SessionPaymentItem{}))
	snap, err = store.Snapshot(ctx, session.ID)
	require.NoError(t, err)
	assert.True(t, snap.Session.IsOpen())
}

func TestAppendResolvesConcurrentRetry(t *testing.T) {
	db := setupWALDB(t)
	session := seedSession(t, db)
	store := newStore(db)
	ctx := context.Background()

	var first models.SessionPayment
	p, replayed, err := store.Append(ctx, session.ID, "terminal-1:0007", func(snap settlement.Snapshot) (*models.SessionPayment, bool, error) {
		// the same request commits on another connection before this insert
		first = models.SessionPayment{
			SessionID:     session.ID,
			RequestKey:    "terminal-1:0007",
			Amount:        1000,
			PaymentMethod: models.PaymentMethodCash,
			CreatedAt:     time.Now(),
		}
		if err := db.Create(&first).Error; err != nil {
			return nil, false, err
		}
		return &models.SessionPayment{Amount: 1000, PaymentMethod: models.PaymentMethodCash}, false, nil
	})
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, first.ID, p.ID)
	assert.Equal(t, int64(1), countRows(t, db, &models.SessionPayment{}))
}

func TestAppendUnknownSession(t *testing.T) {
	db := setupTestDB(t)
	store := newStore(db)

	_, _, err := store.Append(context.Background(), 42, "k", payWith(100, false))
	assert.ErrorIs(t, err, settlement.ErrSessionNotFound)
}

func TestSetSessionFiscal(t *testing.T) {
	db := setupTestDB(t)
	session := seedSession(t, db)
	store := newStore(db)
	ctx := context.Background()

	require.NoError(t, store.SetSessionFiscal(ctx, session.ID, true))
	snap, err := store.Snapshot(ctx, session.ID)
	require.NoError(t, err)
	assert.True(t, snap.Session.Fiscal)

	assert.ErrorIs(t, store.SetSessionFiscal(ctx, session.ID+1, true), settlement.ErrSessionNotFound)
}

func TestPaymentLookup(t *testing.T) {
	db := setupTestDB(t)
	session := seedSession(t, db)
	store := newStore(db)
	ctx := context.Background()

	p, _, err := store.Append(ctx, session.ID, "lookup", payWith(700, false))
	require.NoError(t, err)

	got, err := store.Payment(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(700), got.Amount)

	_, err = store.Payment(ctx, p.ID+1)
	assert.ErrorIs(t, err, settlement.ErrPaymentNotFound)
}

func TestTriggerStatements(t *testing.T) {
	stmts := database.TriggerStatements("DELIMITER //\nDROP TRIGGER IF EXISTS t1//\nCREATE TRIGGER t1 AFTER INSERT ON x FOR EACH ROW BEGIN SELECT 1; END//\nDELIMITER ;\n")
	require.Len(t, stmts, 2)
	assert.Equal(t, "DROP TRIGGER IF EXISTS t1", stmts[0])
	assert.True(t, strings.HasPrefix(stmts[1], "CREATE TRIGGER t1"))
}

func TestExecuteTriggersSkipsSQLite(t *testing.T) {
	db := setupTestDB(t)
	log, _ := logtest.NewNullLogger()
	assert.NoError(t, database.ExecuteTriggers(db, log))
}
