package services_test

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/yeremiapane/restaurant-settlement/bus"
	"github.com/yeremiapane/restaurant-settlement/database"
	"github.com/yeremiapane/restaurant-settlement/kds"
	"github.com/yeremiapane/restaurant-settlement/models"
	"github.com/yeremiapane/restaurant-settlement/notify"
	"github.com/yeremiapane/restaurant-settlement/printer"
	"github.com/yeremiapane/restaurant-settlement/services"
	"github.com/yeremiapane/restaurant-settlement/settlement"
)

type notification struct {
	message  string
	severity notify.Severity
}

type recordingSink struct {
	mu   sync.Mutex
	sent []notification
}

func (r *recordingSink) Notify(ctx context.Context, message string, severity notify.Severity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, notification{message: message, severity: severity})
}

func (r *recordingSink) last() notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sent) == 0 {
		return notification{}
	}
	return r.sent[len(r.sent)-1]
}

type broadcast struct {
	msg   kds.Message
	roles []string
}

type recordingHub struct {
	mu   sync.Mutex
	sent []broadcast
}

func (h *recordingHub) Broadcast(msg kds.Message, roles ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sent = append(h.sent, broadcast{msg: msg, roles: roles})
}

type fixture struct {
	db         *gorm.DB
	bus        *bus.LocalBus
	sink       *recordingSink
	metrics    *services.SettlementMetrics
	sessions   *services.SessionService
	settlement *services.SettlementService
	receipts   *services.ReceiptService
	logger     *logrus.Logger
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	return openTestDB(t, dsn, 1)
}

// setupFileDB opens a WAL database file shared by several connections, so
// terminals really run at the same time. Write transactions begin IMMEDIATE
// and queue on the database lock.
func setupFileDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "ledger.db") + "?_journal_mode=WAL&_busy_timeout=10000&_txlock=immediate"
	return openTestDB(t, dsn, 8)
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
		&models.Receipt{},
		&models.ReceiptItem{},
		&models.Notification{},
		&models.DBChange{},
	))
	return db
}

func newFixture(t *testing.T, fiscalTracking bool) *fixture {
	t.Helper()
	return newFixtureOn(t, setupTestDB(t), fiscalTracking)
}

func newFixtureOn(t *testing.T, db *gorm.DB, fiscalTracking bool) *fixture {
	t.Helper()
	log, _ := logtest.NewNullLogger()
	changes := bus.NewLocalBus()
	t.Cleanup(func() { changes.Close() })

	f := &fixture{
		db:      db,
		bus:     changes,
		sink:    &recordingSink{},
		metrics: services.NewSettlementMetrics(),
		logger:  log,
	}
	f.sessions = services.NewSessionService(db, changes, log)
	f.settlement = services.NewSettlementService(database.NewLedgerStore(db, log), f.sink, changes, f.metrics, log,
		services.SettlementOptions{FiscalTracking: fiscalTracking})
	f.receipts = services.NewReceiptService(db, printer.RestaurantInfo{Name: "Trattoria"}, log)
	return f
}

// hundredDollarTab opens a session with steak, wine and two salads.
func (f *fixture) hundredDollarTab(t *testing.T) (*models.Session, *models.Order) {
	t.Helper()
	ctx := context.Background()
	session, err := f.sessions.OpenSession(ctx, services.OpenSessionInput{TableNumber: "7"})
	require.NoError(t, err)
	order, err := f.sessions.PlaceOrder(ctx, session.ID, services.PlaceOrderInput{Items: []services.OrderItemInput{
		{MenuName: "Steak", UnitPrice: 3500, Quantity: 1},
		{MenuName: "Wine", UnitPrice: 2500, Quantity: 1},
		{MenuName: "Salad", UnitPrice: 2000, Quantity: 2},
	}})
	require.NoError(t, err)
	return session, order
}

func (f *fixture) composer(t *testing.T, sessionID uint, amount int64) *settlement.Composer {
	t.Helper()
	c, err := f.settlement.NewComposer(context.Background(), sessionID)
	require.NoError(t, err)
	c.Amount = amount
	return c
}

func collect(t *testing.T, events <-chan bus.Event, n int) []bus.Event {
	t.Helper()
	var got []bus.Event
	timeout := time.After(2 * time.Second)
	for len(got) < n {
		select {
		case ev := <-events:
			got = append(got, ev)
		case <-timeout:
			t.Fatalf("got %d events, want %d", len(got), n)
		}
	}
	return got
}

func TestSubmitSettlesSessionInTwoPayments(t *testing.T) {
	f := newFixture(t, true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	session, _ := f.hundredDollarTab(t)

	events, err := f.bus.Subscribe(ctx)
	require.NoError(t, err)

	c := f.composer(t, session.ID, 4000)
	c.Method = "CARD"
	c.Fiscal = true
	res, err := f.settlement.Submit(ctx, c)
	require.NoError(t, err)
	assert.False(t, res.Replayed)
	assert.Equal(t, models.PaymentMethodCard, res.Payment.PaymentMethod)
	assert.Equal(t, int64(6000), res.Status.Remaining)
	assert.Equal(t, settlement.FiscalAll, res.Status.Fiscal)
	assert.Zero(t, c.Amount)
	assert.Equal(t, int64(6000), c.SeenRemaining())

	c.Amount = 6000
	tendered := int64(7000)
	c.Tendered = &tendered
	res, err = f.settlement.Submit(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.Status.Remaining)
	assert.True(t, res.Status.CanClose)
	assert.Equal(t, models.SessionStatusClosed, res.Status.SessionStatus)
	assert.Equal(t, settlement.FiscalPartial, res.Status.Fiscal)
	require.NotNil(t, res.Payment.Change)
	assert.Equal(t, int64(1000), *res.Payment.Change)

	got := collect(t, events, 3)
	assert.Equal(t, bus.KindPaymentAdded, got[0].Kind)
	assert.Equal(t, bus.KindPaymentAdded, got[1].Kind)
	assert.Equal(t, bus.KindSessionClosed, got[2].Kind)

	m := f.metrics.GetMetrics()
	assert.Equal(t, int64(2), m.Submitted)
	assert.Equal(t, int64(1), m.SessionsClosed)
	assert.Equal(t, int64(10000), m.SettledAmount)
	assert.Equal(t, notify.Success, f.sink.last().severity)
}

func TestSubmitRejectsAmountAboveRemaining(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	session, _ := f.hundredDollarTab(t)

	_, err := f.settlement.Submit(ctx, f.composer(t, session.ID, 4000))
	require.NoError(t, err)

	_, err = f.settlement.Submit(ctx, f.composer(t, session.ID, 6100))
	assert.True(t, settlement.IsValidation(err))

	st, err := f.settlement.Status(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(6000), st.Remaining)
	assert.Equal(t, 1, st.PaymentCount)
	assert.Equal(t, int64(1), f.metrics.GetMetrics().Rejected)
	assert.Equal(t, notify.Warning, f.sink.last().severity)
}

func TestSubmitConflictsWithOtherTerminal(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	session, _ := f.hundredDollarTab(t)

	first := f.composer(t, session.ID, 6000)
	second := f.composer(t, session.ID, 5000)

	_, err := f.settlement.Submit(ctx, first)
	require.NoError(t, err)

	_, err = f.settlement.Submit(ctx, second)
	var conflict *settlement.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, int64(4000), conflict.Remaining)
	assert.Equal(t, int64(1), f.metrics.GetMetrics().Conflicts)

	payments, err := f.settlement.Payments(ctx, session.ID)
	require.NoError(t, err)
	assert.Len(t, payments, 1)
}

func TestSubmitReplaysRequestKey(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	session, _ := f.hundredDollarTab(t)

	c := f.composer(t, session.ID, 2500)
	c.UseRequestKey("terminal-2:0001")
	first, err := f.settlement.Submit(ctx, c)
	require.NoError(t, err)

	retry := f.composer(t, session.ID, 2500)
	retry.UseRequestKey("terminal-2:0001")
	second, err := f.settlement.Submit(ctx, retry)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Payment.ID, second.Payment.ID)
	assert.Equal(t, int64(7500), second.Status.Remaining)
	assert.Equal(t, int64(1), f.metrics.GetMetrics().Replayed)
	assert.Equal(t, notify.Info, f.sink.last().severity)
}

func TestConcurrentSubmitsNeverOverpay(t *testing.T) {
	f := newFixtureOn(t, setupFileDB(t), true)
	ctx := context.Background()
	session, _ := f.hundredDollarTab(t)

	// every terminal opened its form while the full $100 was open
	const terminals = 6
	composers := make([]*settlement.Composer, terminals)
	for i := range composers {
		composers[i] = f.composer(t, session.ID, 2500)
	}

	errs := make([]error, terminals)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i, c := range composers {
		wg.Add(1)
		go func(i int, c *settlement.Composer) {
			defer wg.Done()
			<-start
			_, errs[i] = f.settlement.Submit(ctx, c)
		}(i, c)
	}
	close(start)
	wg.Wait()

	var accepted, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			accepted++
		case settlement.IsConflict(err):
			conflicts++
		default:
			t.Errorf("unexpected submit error: %v", err)
		}
	}
	assert.Equal(t, 4, accepted)
	assert.Equal(t, terminals-4, conflicts)

	payments, err := f.settlement.Payments(ctx, session.ID)
	require.NoError(t, err)
	var paid int64
	for _, p := range payments {
		paid += p.Amount
	}
	assert.Equal(t, int64(10000), paid)

	st, err := f.settlement.Status(ctx, session.ID)
	require.NoError(t, err)
	assert.Zero(t, st.Remaining)
	assert.Equal(t, models.SessionStatusClosed, st.SessionStatus)
	assert.Equal(t, int64(conflicts), f.metrics.GetMetrics().Conflicts)
}

func TestConcurrentRetriesShareOnePayment(t *testing.T) {
	f := newFixtureOn(t, setupFileDB(t), true)
	ctx := context.Background()
	session, _ := f.hundredDollarTab(t)

	const retries = 5
	composers := make([]*settlement.Composer, retries)
	for i := range composers {
		composers[i] = f.composer(t, session.ID, 2500)
		composers[i].UseRequestKey("terminal-3:0042")
	}

	results := make([]services.SubmitResult, retries)
	errs := make([]error, retries)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i, c := range composers {
		wg.Add(1)
		go func(i int, c *settlement.Composer) {
			defer wg.Done()
			<-start
			results[i], errs[i] = f.settlement.Submit(ctx, c)
		}(i, c)
	}
	close(start)
	wg.Wait()

	var fresh int
	for i := range results {
		require.NoError(t, errs[i])
		if !results[i].Replayed {
			fresh++
		}
		assert.Equal(t, results[0].Payment.ID, results[i].Payment.ID)
	}
	assert.Equal(t, 1, fresh)

	payments, err := f.settlement.Payments(ctx, session.ID)
	require.NoError(t, err)
	assert.Len(t, payments, 1)

	st, err := f.settlement.Status(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(7500), st.Remaining)
}

func TestSubmitItemSplit(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	session, order := f.hundredDollarTab(t)
	steak := order.OrderItems[0].ID
	salad := order.OrderItems[2].ID

	p, err := f.settlement.PlanSelection(ctx, session.ID, []settlement.Pick{
		{OrderItemID: steak, Quantity: 1},
		{OrderItemID: salad, Quantity: 5},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, p.Quantity(salad))
	d, err := p.Apply()
	require.NoError(t, err)
	assert.Equal(t, int64(7500), d.Amount)

	stale := f.composer(t, session.ID, 0)
	stale.Prefill(d)

	c := f.composer(t, session.ID, 0)
	c.Prefill(d)
	res, err := f.settlement.Submit(ctx, c)
	require.NoError(t, err)
	assert.Len(t, res.Payment.Items, 2)
	assert.Equal(t, int64(2500), res.Status.Remaining)

	r, err := f.settlement.Remaining(ctx, session.ID)
	require.NoError(t, err)
	_, ok := r.Line(steak)
	assert.False(t, ok)
	line, ok := r.Line(salad)
	require.True(t, ok)
	assert.Equal(t, 2, line.Settled)

	// the same items from a terminal that had not refreshed
	stale.Amount = 2500
	_, err = f.settlement.Submit(ctx, stale)
	assert.True(t, settlement.IsConflict(err))
}

func TestDraftForSurfacesStalePicks(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	session, order := f.hundredDollarTab(t)
	wine := order.OrderItems[1].ID

	d, err := f.settlement.DraftFor(ctx, session.ID, []settlement.Pick{{OrderItemID: wine, Quantity: 1}})
	require.NoError(t, err)
	c := f.composer(t, session.ID, 0)
	c.Prefill(d)
	_, err = f.settlement.Submit(ctx, c)
	require.NoError(t, err)

	d, err = f.settlement.DraftFor(ctx, session.ID, []settlement.Pick{{OrderItemID: wine, Quantity: 1}})
	require.NoError(t, err)
	c = f.composer(t, session.ID, 0)
	c.Prefill(d)
	_, err = f.settlement.Submit(ctx, c)
	assert.True(t, settlement.IsConflict(err))

	_, err = f.settlement.DraftFor(ctx, session.ID, []settlement.Pick{{OrderItemID: 9999, Quantity: 1}})
	assert.True(t, settlement.IsValidation(err))
}

func TestFiscalTrackingDisabled(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	session, _ := f.hundredDollarTab(t)

	c := f.composer(t, session.ID, 1000)
	c.Fiscal = true
	res, err := f.settlement.Submit(ctx, c)
	require.NoError(t, err)
	assert.False(t, res.Payment.Fiscal)
	assert.Equal(t, settlement.FiscalNone, res.Status.Fiscal)

	_, err = f.settlement.SetSessionFiscal(ctx, session.ID, true)
	assert.True(t, settlement.IsValidation(err))
}

func TestSetSessionFiscal(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	session, _ := f.hundredDollarTab(t)

	st, err := f.settlement.SetSessionFiscal(ctx, session.ID, true)
	require.NoError(t, err)
	assert.Equal(t, settlement.FiscalAll, st.Fiscal)

	_, err = f.settlement.SetSessionFiscal(ctx, session.ID+50, true)
	assert.ErrorIs(t, err, settlement.ErrSessionNotFound)
}

func TestSubmitUnknownSession(t *testing.T) {
	f := newFixture(t, true)
	c := settlement.NewComposer(settlement.Status{SessionID: 404, Remaining: 1000})
	c.Amount = 500

	_, err := f.settlement.Submit(context.Background(), c)
	assert.ErrorIs(t, err, settlement.ErrSessionNotFound)
}

func TestOpenSessionValidation(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	_, err := f.sessions.OpenSession(ctx, services.OpenSessionInput{TableNumber: "  "})
	assert.True(t, settlement.IsValidation(err))
	_, err = f.sessions.OpenSession(ctx, services.OpenSessionInput{TableNumber: "1", Covers: -1})
	assert.True(t, settlement.IsValidation(err))

	s, err := f.sessions.OpenSession(ctx, services.OpenSessionInput{TableNumber: " 9 ", Covers: 4, CoverPrice: 200})
	require.NoError(t, err)
	assert.Equal(t, "9", s.TableNumber)
	assert.NotEmpty(t, s.SessionKey)
	assert.True(t, s.IsOpen())
}

func TestPlaceOrderNumbersTickets(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	session, first := f.hundredDollarTab(t)
	assert.Equal(t, 1, first.Sequence)

	second, err := f.sessions.PlaceOrder(ctx, session.ID, services.PlaceOrderInput{Items: []services.OrderItemInput{
		{MenuName: "Espresso", UnitPrice: 300, Quantity: 2},
	}})
	require.NoError(t, err)
	assert.Equal(t, 2, second.Sequence)
	assert.Equal(t, int64(600), second.TotalAmount)

	got, err := f.sessions.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10600), got.TotalAmount)
	require.Len(t, got.Orders, 2)
	assert.Equal(t, 1, got.Orders[0].Sequence)

	_, err = f.sessions.PlaceOrder(ctx, session.ID, services.PlaceOrderInput{Items: []services.OrderItemInput{
		{MenuName: "Espresso", UnitPrice: 300, Quantity: 0},
	}})
	assert.True(t, settlement.IsValidation(err))
}

func TestPlaceOrderRejectsTotalsOutOfRange(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	session, err := f.sessions.OpenSession(ctx, services.OpenSessionInput{TableNumber: "5"})
	require.NoError(t, err)

	huge := int64(5_000_000_000_000_000_000)
	_, err = f.sessions.PlaceOrder(ctx, session.ID, services.PlaceOrderInput{Items: []services.OrderItemInput{
		{MenuName: "Caviar", UnitPrice: huge, Quantity: 2},
	}})
	assert.True(t, settlement.IsValidation(err))

	_, err = f.sessions.PlaceOrder(ctx, session.ID, services.PlaceOrderInput{Items: []services.OrderItemInput{
		{MenuName: "Caviar", UnitPrice: huge, Quantity: 1},
		{MenuName: "Truffle", UnitPrice: huge, Quantity: 1},
	}})
	assert.True(t, settlement.IsValidation(err))

	// each ticket fits, the session total would not
	_, err = f.sessions.PlaceOrder(ctx, session.ID, services.PlaceOrderInput{Items: []services.OrderItemInput{
		{MenuName: "Caviar", UnitPrice: huge, Quantity: 1},
	}})
	require.NoError(t, err)
	_, err = f.sessions.PlaceOrder(ctx, session.ID, services.PlaceOrderInput{Items: []services.OrderItemInput{
		{MenuName: "Caviar", UnitPrice: huge, Quantity: 1},
	}})
	assert.True(t, settlement.IsValidation(err))

	st, err := f.settlement.Status(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, huge, st.EffectiveTotal)

	_, err = f.sessions.OpenSession(ctx, services.OpenSessionInput{TableNumber: "6", Covers: 2, CoverPrice: math.MaxInt64})
	assert.True(t, settlement.IsValidation(err))
}

func TestPlaceOrderRejectsClosedSession(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	session, _ := f.hundredDollarTab(t)

	_, err := f.settlement.Submit(ctx, f.composer(t, session.ID, 10000))
	require.NoError(t, err)

	_, err = f.sessions.PlaceOrder(ctx, session.ID, services.PlaceOrderInput{Items: []services.OrderItemInput{
		{MenuName: "Tiramisu", UnitPrice: 900, Quantity: 1},
	}})
	assert.ErrorIs(t, err, services.ErrSessionClosed)

	_, err = f.sessions.PlaceOrder(ctx, session.ID+10, services.PlaceOrderInput{Items: []services.OrderItemInput{
		{MenuName: "Tiramisu", UnitPrice: 900, Quantity: 1},
	}})
	assert.ErrorIs(t, err, settlement.ErrSessionNotFound)
}

func TestCoverChargeSettlement(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	session, err := f.sessions.OpenSession(ctx, services.OpenSessionInput{TableNumber: "2", Covers: 4, CoverPrice: 200})
	require.NoError(t, err)
	_, err = f.sessions.PlaceOrder(ctx, session.ID, services.PlaceOrderInput{Items: []services.OrderItemInput{
		{MenuName: "Pasta", UnitPrice: 1200, Quantity: 1},
	}})
	require.NoError(t, err)

	st, err := f.settlement.Status(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2000), st.EffectiveTotal)

	d, err := f.settlement.DraftFor(ctx, session.ID, []settlement.Pick{{OrderItemID: settlement.CoverLine, Quantity: 2}})
	require.NoError(t, err)
	c := f.composer(t, session.ID, 0)
	c.Prefill(d)
	res, err := f.settlement.Submit(ctx, c)
	require.NoError(t, err)
	require.Len(t, res.Payment.Items, 1)
	assert.True(t, res.Payment.Items[0].IsCover)
	assert.Nil(t, res.Payment.Items[0].OrderItemID)

	r, err := f.settlement.Remaining(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, r.CoversRemaining)
}

func TestReceiptGenerateIsIdempotent(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	session, order := f.hundredDollarTab(t)

	d, err := f.settlement.DraftFor(ctx, session.ID, []settlement.Pick{{OrderItemID: order.OrderItems[2].ID, Quantity: 2}})
	require.NoError(t, err)
	c := f.composer(t, session.ID, 0)
	c.Prefill(d)
	res, err := f.settlement.Submit(ctx, c)
	require.NoError(t, err)

	receipt, err := f.receipts.Generate(ctx, res.Payment.ID)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(receipt.ReceiptNumber, "RCP/"))
	assert.True(t, strings.HasSuffix(receipt.ReceiptNumber, fmt.Sprintf("/%06d", res.Payment.ID)))
	assert.Equal(t, int64(10000), receipt.Total)
	assert.Equal(t, int64(4000), receipt.AmountPaid)
	assert.Equal(t, int64(6000), receipt.RemainingAfter)
	require.Len(t, receipt.ReceiptItems, 1)
	assert.Equal(t, "Salad", receipt.ReceiptItems[0].Name)
	assert.Equal(t, int64(4000), receipt.ReceiptItems[0].Subtotal)

	again, err := f.receipts.Generate(ctx, res.Payment.ID)
	require.NoError(t, err)
	assert.Equal(t, receipt.ID, again.ID)

	var n int64
	require.NoError(t, f.db.Model(&models.Receipt{}).Count(&n).Error)
	assert.Equal(t, int64(1), n)

	_, err = f.receipts.Generate(ctx, res.Payment.ID+1)
	assert.ErrorIs(t, err, settlement.ErrPaymentNotFound)
}

func TestReceiptKeepsTotalsOfItsPayment(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	session, _ := f.hundredDollarTab(t)

	res, err := f.settlement.Submit(ctx, f.composer(t, session.ID, 4000))
	require.NoError(t, err)
	assert.Equal(t, int64(10000), res.Payment.EffectiveTotal)
	assert.Equal(t, int64(6000), res.Payment.RemainingAfter)

	// a later ticket must not show up on the earlier receipt
	_, err = f.sessions.PlaceOrder(ctx, session.ID, services.PlaceOrderInput{Items: []services.OrderItemInput{
		{MenuName: "Tiramisu", UnitPrice: 1500, Quantity: 1},
	}})
	require.NoError(t, err)

	receipt, err := f.receipts.Generate(ctx, res.Payment.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10000), receipt.Total)
	assert.Equal(t, int64(6000), receipt.RemainingAfter)
}

func TestReceiptForAmountSplit(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	session, _ := f.hundredDollarTab(t)

	res, err := f.settlement.Submit(ctx, f.composer(t, session.ID, 3000))
	require.NoError(t, err)

	view, err := f.receipts.View(ctx, res.Payment.ID)
	require.NoError(t, err)
	assert.Equal(t, "Trattoria", view.RestaurantInfo.Name)
	require.Len(t, view.Receipt.ReceiptItems, 1)
	assert.Equal(t, int64(3000), view.Receipt.ReceiptItems[0].UnitPrice)

	var buf strings.Builder
	_, err = f.receipts.RenderPDF(ctx, res.Payment.ID, &buf)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(buf.String(), "%PDF"))
}

func TestChangeMonitorPublishesChanges(t *testing.T) {
	f := newFixture(t, true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	now := time.Now()
	require.NoError(t, f.db.Create(&[]models.DBChange{
		{TableName: "session_payments", RecordID: 1, SessionID: 3, ActionType: "INSERT", ChangedAt: now},
		{TableName: "session_payments", RecordID: 2, SessionID: 3, ActionType: "INSERT", ChangedAt: now},
		{TableName: "orders", RecordID: 8, SessionID: 3, ActionType: "INSERT", ChangedAt: now},
		{TableName: "sessions", RecordID: 4, SessionID: 4, ActionType: "UPDATE", ChangedAt: now},
	}).Error)

	events, err := f.bus.Subscribe(ctx)
	require.NoError(t, err)

	cm := services.NewChangeMonitor(f.db, f.bus, time.Minute, f.logger)
	assert.Equal(t, 4, cm.CheckChanges(ctx))

	got := collect(t, events, 3)
	kinds := map[string]uint{}
	for _, ev := range got {
		kinds[ev.Kind] = ev.SessionID
		assert.Equal(t, "db_changes", ev.Source)
	}
	assert.Equal(t, map[string]uint{
		bus.KindPaymentAdded:  3,
		bus.KindOrderPlaced:   3,
		bus.KindSessionUpdate: 4,
	}, kinds)

	var pending int64
	require.NoError(t, f.db.Model(&models.DBChange{}).Where("processed = ?", false).Count(&pending).Error)
	assert.Zero(t, pending)
	assert.Equal(t, 0, cm.CheckChanges(ctx))
}

func TestSessionWatcherPushesFreshState(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	session, order := f.hundredDollarTab(t)
	hub := &recordingHub{}
	w := services.NewSessionWatcher(f.settlement, f.sessions, hub, f.bus, f.logger)

	w.Handle(ctx, bus.Event{SessionID: session.ID, Kind: bus.KindOrderPlaced})
	require.Len(t, hub.sent, 2)

	assert.Equal(t, kds.EventSettlementUpdate, hub.sent[0].msg.Event)
	assert.ElementsMatch(t, []string{kds.RoleTerminal, kds.RoleAdmin}, hub.sent[0].roles)
	update, ok := hub.sent[0].msg.Data.(services.SettlementUpdate)
	require.True(t, ok)
	assert.Equal(t, int64(10000), update.Status.Remaining)
	assert.Len(t, update.Remaining.Lines, 3)

	assert.Equal(t, kds.EventOrderUpdate, hub.sent[1].msg.Event)
	ticket, ok := hub.sent[1].msg.Data.(models.Order)
	require.True(t, ok)
	assert.Equal(t, order.ID, ticket.ID)
	assert.Empty(t, hub.sent[1].roles)
}

func TestSessionWatcherDoesNotRepeatViolationReports(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	session, _ := f.hundredDollarTab(t)
	hub := &recordingHub{}
	w := services.NewSessionWatcher(f.settlement, f.sessions, hub, f.bus, f.logger)

	// a ledger written outside the engine that overpays the tab
	require.NoError(t, f.db.Create(&models.SessionPayment{
		SessionID:     session.ID,
		RequestKey:    "imported-1",
		Amount:        12000,
		PaymentMethod: models.PaymentMethodCard,
	}).Error)

	w.Handle(ctx, bus.Event{SessionID: session.ID, Kind: bus.KindPaymentAdded})
	w.Handle(ctx, bus.Event{SessionID: session.ID, Kind: bus.KindPaymentAdded})

	assert.Zero(t, f.metrics.GetMetrics().Violations)
	f.sink.mu.Lock()
	assert.Empty(t, f.sink.sent)
	f.sink.mu.Unlock()

	require.Len(t, hub.sent, 2)
	update, ok := hub.sent[0].msg.Data.(services.SettlementUpdate)
	require.True(t, ok)
	assert.Equal(t, int64(-2000), update.Status.Remaining)

	// a direct status read still reports it, once
	_, err := f.settlement.Status(ctx, session.ID)
	var violation *settlement.InvariantViolation
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, int64(1), f.metrics.GetMetrics().Violations)
}

func TestSessionWatcherRunsUntilCancelled(t *testing.T) {
	f := newFixture(t, true)
	session, _ := f.hundredDollarTab(t)
	hub := &recordingHub{}
	w := services.NewSessionWatcher(f.settlement, f.sessions, hub, f.bus, f.logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Run subscribes asynchronously, so publish until the watcher reacts
	assert.Eventually(t, func() bool {
		_ = f.bus.Publish(ctx, bus.Event{SessionID: session.ID, Kind: bus.KindSessionUpdate})
		hub.mu.Lock()
		defer hub.mu.Unlock()
		return len(hub.sent) > 0
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestSettlementMetricsNilSafe(t *testing.T) {
	var m *services.SettlementMetrics
	m.RecordConflict()
	m.RecordSubmitted(100, time.Millisecond, true)
	assert.Equal(t, services.SettlementMetricsSnapshot{}, m.GetMetrics())

	m = services.NewSettlementMetrics()
	m.RecordSubmitted(100, 10*time.Millisecond, false)
	m.RecordSubmitted(300, 30*time.Millisecond, true)
	got := m.GetMetrics()
	assert.Equal(t, int64(2), got.Submitted)
	assert.Equal(t, int64(400), got.SettledAmount)
	assert.Equal(t, int64(1), got.SessionsClosed)
	assert.Equal(t, int64(20), got.AvgSubmitMillis)
	assert.False(t, got.LastSubmitAt.IsZero())
}
