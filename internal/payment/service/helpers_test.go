package service_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/payrecon/internal/clock"
	"github.com/smallbiznis/payrecon/internal/config"
	paymentdomain "github.com/smallbiznis/payrecon/internal/payment/domain"
	"github.com/smallbiznis/payrecon/internal/payment/lock"
	paymentrepo "github.com/smallbiznis/payrecon/internal/payment/repository"
	paymentservice "github.com/smallbiznis/payrecon/internal/payment/service"
	"github.com/smallbiznis/payrecon/internal/payment/signature"
	settingsdomain "github.com/smallbiznis/payrecon/internal/settings/domain"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	merchantID = "M1"
	secretWord = "tango"
)

var liveSettings = settingsdomain.StaticStore{
	Credentials: settingsdomain.Credentials{MerchantID: merchantID, SharedSecret: secretWord},
}

type harness struct {
	t           *testing.T
	db          *gorm.DB
	store       paymentdomain.TransactionStore
	svc         *paymentservice.Service
	fulfillment *recordingFulfillment
	gateway     *fakeGateway
	clock       *clock.FakeClock
}

type harnessOption func(*paymentservice.Params)

func withSettings(store settingsdomain.Store) harnessOption {
	return func(p *paymentservice.Params) { p.Settings = store }
}

func withLocker(l paymentdomain.Locker) harnessOption {
	return func(p *paymentservice.Params) { p.Locker = l }
}

func withStore(wrap func(paymentdomain.TransactionStore) paymentdomain.TransactionStore) harnessOption {
	return func(p *paymentservice.Params) { p.Store = wrap(p.Store) }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&paymentdomain.Transaction{}, &paymentdomain.Receipt{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	store := paymentrepo.Provide(db, node, clk)

	h := &harness{
		t:           t,
		db:          db,
		store:       store,
		fulfillment: &recordingFulfillment{},
		gateway:     &fakeGateway{},
		clock:       clk,
	}

	params := paymentservice.Params{
		Cfg:         config.Config{Reconcile: config.ReconcileConfig{StoreTimeout: 2 * time.Second}},
		Log:         zap.NewNop(),
		Clock:       clk,
		Store:       store,
		Settings:    liveSettings,
		Locker:      lock.NewLocal(),
		Gateway:     h.gateway,
		Fulfillment: h.fulfillment,
	}
	for _, opt := range opts {
		opt(&params)
	}
	h.svc = paymentservice.NewService(params)
	return h
}

func (h *harness) handle(payload paymentdomain.Payload) paymentdomain.Result {
	return h.svc.Handle(context.Background(), payload)
}

func (h *harness) byGatewayID(gatewayID string) paymentdomain.Transaction {
	h.t.Helper()
	var txn paymentdomain.Transaction
	require.NoError(h.t, h.db.Where("gateway_id = ?", gatewayID).First(&txn).Error)
	return txn
}

func (h *harness) count(query string) int64 {
	h.t.Helper()
	var n int64
	require.NoError(h.t, h.db.Raw(query).Scan(&n).Error)
	return n
}

// push builds a signed async push notification.
func push(saleID, invoiceID string, fields map[string]string) paymentdomain.Payload {
	p := paymentdomain.Payload{
		"vendor_order_id": "",
		"sale_id":         saleID,
		"invoice_id":      invoiceID,
		"vendor_id":       merchantID,
	}
	for k, v := range fields {
		p[k] = v
	}
	p["md5_hash"] = signature.Compute(p["sale_id"], p["vendor_id"], p["invoice_id"], secretWord)
	return p
}

// subscription builds a signed recurring event.
func subscription(txnType, subscriberID, saleID, invoiceID string, fields map[string]string) paymentdomain.Payload {
	p := push(saleID, invoiceID, fields)
	delete(p, "vendor_order_id")
	p["txn_type"] = txnType
	p["recurring_payment_id"] = subscriberID
	return p
}

// checkoutReturn builds a signed return-flow payload.
func checkoutReturn(orderNumber, total string) paymentdomain.Payload {
	return paymentdomain.Payload{
		"merchant_order_id":     "order-7",
		"order_number":          orderNumber,
		"total":                 total,
		"sid":                   merchantID,
		"credit_card_processed": "Y",
		"key":                   signature.Compute(secretWord, merchantID, orderNumber, total),
	}
}

type recordingFulfillment struct {
	mu    sync.Mutex
	calls []paymentdomain.Transaction
	err   error
}

func (f *recordingFulfillment) TransactionCleared(_ context.Context, txn paymentdomain.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, txn)
	return f.err
}

func (f *recordingFulfillment) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeGateway struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (g *fakeGateway) StopRecurring(_ context.Context, subscriberID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, subscriberID)
	return g.err
}

type failingSettings struct{}

func (failingSettings) Gateway(context.Context) (settingsdomain.GatewaySettings, error) {
	return settingsdomain.GatewaySettings{}, context.DeadlineExceeded
}

type timeoutLocker struct{}

func (timeoutLocker) Lock(context.Context, string) (func(), error) {
	return nil, paymentdomain.ErrLockTimeout
}

// keyLocker records lock traffic and refuses the keys listed in deny.
type keyLocker struct {
	mu       sync.Mutex
	deny     map[string]bool
	acquired []string
	released []string
}

func (l *keyLocker) Lock(_ context.Context, key string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.deny[key] {
		return nil, paymentdomain.ErrLockTimeout
	}
	l.acquired = append(l.acquired, key)
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.released = append(l.released, key)
	}, nil
}

type nopLocker struct{}

func (nopLocker) Lock(context.Context, string) (func(), error) {
	return func() {}, nil
}

// blindStore hides existing rows from lookups made inside a transaction, the way
// a replica that has not seen a concurrent commit would.
type blindStore struct {
	paymentdomain.TransactionStore
}

func (b blindStore) WithinTx(ctx context.Context, fn func(paymentdomain.TransactionStore) error) error {
	return b.TransactionStore.WithinTx(ctx, func(tx paymentdomain.TransactionStore) error {
		return fn(blindTx{tx})
	})
}

type blindTx struct {
	paymentdomain.TransactionStore
}

func (blindTx) FindByGatewayID(context.Context, string, int) ([]paymentdomain.Transaction, error) {
	return nil, nil
}

func (blindTx) FindByAlternateID(context.Context, string, int) ([]paymentdomain.Transaction, error) {
	return nil, nil
}

// brokenStore fails every transaction.
type brokenStore struct {
	paymentdomain.TransactionStore
}

func (brokenStore) WithinTx(context.Context, func(paymentdomain.TransactionStore) error) error {
	return errors.New("connection refused")
}
