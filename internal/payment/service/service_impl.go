package service

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/payrecon/internal/clock"
	"github.com/smallbiznis/payrecon/internal/config"
	obslogger "github.com/smallbiznis/payrecon/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/payrecon/internal/observability/metrics"
	"github.com/smallbiznis/payrecon/internal/payment/classifier"
	paymentdomain "github.com/smallbiznis/payrecon/internal/payment/domain"
	"github.com/smallbiznis/payrecon/internal/payment/locator"
	"github.com/smallbiznis/payrecon/internal/payment/signature"
	settingsdomain "github.com/smallbiznis/payrecon/internal/settings/domain"
	pkgdb "github.com/smallbiznis/payrecon/pkg/db"
	"github.com/smallbiznis/payrecon/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

type Params struct {
	fx.In

	Cfg              config.Config
	Log              *zap.Logger
	Clock            clock.Clock
	Store            paymentdomain.TransactionStore
	Settings         settingsdomain.Store
	Locker           paymentdomain.Locker
	Gateway          paymentdomain.GatewayClient  `optional:"true"`
	Fulfillment      paymentdomain.Fulfillment    `optional:"true"`
	ObsMetrics       *obsmetrics.Metrics          `optional:"true"`
	ReconcileMetrics *obsmetrics.ReconcileMetrics `optional:"true"`
}

type Service struct {
	log              *zap.Logger
	clock            clock.Clock
	store            paymentdomain.TransactionStore
	settings         settingsdomain.Store
	locker           paymentdomain.Locker
	gateway          paymentdomain.GatewayClient
	fulfillment      paymentdomain.Fulfillment
	obsMetrics       *obsmetrics.Metrics
	reconcileMetrics *obsmetrics.ReconcileMetrics
	storeTimeout     time.Duration
}

func NewService(p Params) *Service {
	timeout := p.Cfg.Reconcile.StoreTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	clk := p.Clock
	if clk == nil {
		clk = clock.System{}
	}
	return &Service{
		log:              p.Log.Named("payment.reconcile"),
		clock:            clk,
		store:            p.Store,
		settings:         p.Settings,
		locker:           p.Locker,
		gateway:          p.Gateway,
		fulfillment:      p.Fulfillment,
		obsMetrics:       p.ObsMetrics,
		reconcileMetrics: p.ReconcileMetrics,
		storeTimeout:     timeout,
	}
}

var _ paymentdomain.Service = (*Service)(nil)

// notification is a verified, classified payload together with the mode it was
// received under.
type notification struct {
	paymentdomain.ClassifiedNotification
	payload paymentdomain.Payload
	mode    string
}

// mutation is what an operation did inside the store transaction.
type mutation struct {
	txn     paymentdomain.Transaction
	changed bool
	// cleared is set when the transaction entered a cleared-for-delivery status.
	cleared bool
}

type operation func(ctx context.Context, store paymentdomain.TransactionStore, n notification) (mutation, error)

// Handle reconciles one raw gateway payload. It never returns a Go error; every
// failure is a Rejected result with a reason.
func (s *Service) Handle(ctx context.Context, payload paymentdomain.Payload) paymentdomain.Result {
	start := time.Now()
	classified, classifyErr := classifier.Classify(payload)
	res := s.handle(ctx, payload, classified, classifyErr)

	s.obsMetrics.RecordNotification(ctx, string(classified.Kind), string(res.Outcome), string(res.Reason))
	s.reconcileMetrics.ObserveHandle(string(classified.Kind), string(res.Outcome), time.Since(start))
	return res
}

func (s *Service) handle(
	ctx context.Context,
	payload paymentdomain.Payload,
	classified paymentdomain.ClassifiedNotification,
	classifyErr error,
) paymentdomain.Result {
	log := obslogger.WithGateway(obslogger.WithContext(ctx, s.log), string(classified.Kind), classified.GatewayID())

	if classified.Kind == paymentdomain.KindUnknown {
		log.Info("notification rejected", zap.String("reason", string(paymentdomain.ReasonUnsupportedNotification)))
		return paymentdomain.Rejected(paymentdomain.ReasonUnsupportedNotification)
	}

	settings, err := s.gatewaySettings(ctx)
	if err != nil {
		log.Warn("gateway settings unavailable", zap.Error(err))
		return paymentdomain.Rejected(paymentdomain.ReasonStoreUnavailable)
	}
	creds := settings.Credentials

	if classified.HasAccountID && !sameAccount(classified.AccountID, creds.MerchantID) {
		log.Warn("notification rejected",
			zap.String("reason", string(paymentdomain.ReasonAccountMismatch)),
			zap.String("account_id", classified.AccountID),
		)
		return paymentdomain.Rejected(paymentdomain.ReasonAccountMismatch)
	}
	if !signature.Verify(payload, classified.Kind, creds) {
		log.Warn("notification rejected", zap.String("reason", string(paymentdomain.ReasonInvalidSignature)))
		return paymentdomain.Rejected(paymentdomain.ReasonInvalidSignature)
	}
	if classifyErr != nil {
		log.Info("notification rejected",
			zap.String("reason", string(paymentdomain.ReasonMalformedPayload)),
			zap.Error(classifyErr),
		)
		return paymentdomain.Rejected(paymentdomain.ReasonMalformedPayload)
	}

	op, lockKeys := s.operationFor(classified)
	if op == nil {
		log.Info("notification rejected",
			zap.String("reason", string(paymentdomain.ReasonUnsupportedNotification)),
			zap.String("status_token", classified.StatusToken),
		)
		return paymentdomain.Rejected(paymentdomain.ReasonUnsupportedNotification)
	}

	n := notification{ClassifiedNotification: classified, payload: payload, mode: creds.Mode()}
	return s.apply(ctx, log, n, lockKeys, op)
}

func (s *Service) operationFor(n paymentdomain.ClassifiedNotification) (operation, []string) {
	switch n.Event {
	case paymentdomain.EventPurchase:
		return s.applyPurchase, []string{transactionLockKey(n.GatewayID())}
	case paymentdomain.EventRenewal:
		return s.applyRenewal, []string{transactionLockKey(n.GatewayID())}
	case paymentdomain.EventRefund:
		return s.applyRefund, refundLockKeys(n)
	case paymentdomain.EventSubscriptionSignup:
		return s.applySignup, []string{transactionLockKey(n.GatewayID())}
	case paymentdomain.EventSubscriptionCancel, paymentdomain.EventSubscriptionEnd, paymentdomain.EventSubscriptionSuspend:
		return s.applySubscriptionStatus, []string{subscriberLockKey(n.SubscriberID)}
	default:
		return nil, nil
	}
}

// refundLockKeys covers every row a refund may land on: a renewal child keyed
// by the invoice id and the original sale.
func refundLockKeys(n paymentdomain.ClassifiedNotification) []string {
	keys := []string{transactionLockKey(n.GatewayID())}
	if n.ExternalInvoiceID != "" && n.ExternalInvoiceID != n.GatewayID() {
		keys = append(keys, transactionLockKey(n.ExternalInvoiceID))
	}
	sort.Strings(keys)
	return keys
}

// sameAccount compares merchant ids numerically when both are numeric, so
// zero-padded ids from the gateway still match.
func sameAccount(notified, configured string) bool {
	notified, configured = strings.TrimSpace(notified), strings.TrimSpace(configured)
	a, errA := strconv.ParseUint(notified, 10, 64)
	b, errB := strconv.ParseUint(configured, 10, 64)
	if errA == nil && errB == nil {
		return a == b
	}
	return notified == configured
}

func transactionLockKey(gatewayID string) string {
	return "txn:" + gatewayID
}

func subscriberLockKey(subscriberID string) string {
	return "sub:" + subscriberID
}

// lockAll takes keys in the order given, which callers keep sorted. On failure
// the keys already held are released.
func (s *Service) lockAll(ctx context.Context, keys []string) (func(), error) {
	releases := make([]func(), 0, len(keys))
	releaseAll := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}
	for _, key := range keys {
		release, err := s.locker.Lock(ctx, key)
		if err != nil {
			releaseAll()
			return nil, err
		}
		releases = append(releases, release)
	}
	return releaseAll, nil
}

// apply runs op under the per-key lock inside one store transaction. The receipt
// row is written in the same transaction; fulfillment runs only after commit.
func (s *Service) apply(ctx context.Context, log *zap.Logger, n notification, lockKeys []string, op operation) paymentdomain.Result {
	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	release, err := s.lockAll(storeCtx, lockKeys)
	if err != nil {
		log.Warn("per-key lock unavailable", zap.Strings("lock_keys", lockKeys), zap.Error(err))
		return paymentdomain.Rejected(paymentdomain.ReasonStoreUnavailable)
	}

	var m mutation
	err = s.store.WithinTx(storeCtx, func(tx paymentdomain.TransactionStore) error {
		var opErr error
		m, opErr = op(storeCtx, tx, n)
		if opErr != nil || !m.changed {
			return opErr
		}
		receipt, opErr := s.receipt(n, m.txn.ID)
		if opErr != nil {
			return opErr
		}
		return tx.RecordReceipt(storeCtx, receipt)
	})
	release()

	if err != nil {
		return s.failure(storeCtx, log, n, err)
	}

	if !m.changed {
		log.Info("notification already applied", zap.String("transaction_id", m.txn.ID.String()))
		return paymentdomain.Duplicate(m.txn.ID)
	}

	s.reconcileMetrics.IncReceipt(string(n.Kind))
	log.Info("notification applied",
		zap.String("transaction_id", m.txn.ID.String()),
		zap.String("event", string(n.Event)),
		zap.String("status", string(m.txn.Status)),
		zap.String("subscription_status", string(m.txn.SubscriptionStatus)),
	)
	if m.cleared {
		s.fulfill(ctx, log, m.txn)
	}
	return paymentdomain.Applied(m.txn.ID)
}

// failure maps an aborted store transaction to a result. Nothing was committed.
func (s *Service) failure(ctx context.Context, log *zap.Logger, n notification, err error) paymentdomain.Result {
	if reason, ok := paymentdomain.RejectionReason(err); ok {
		log.Info("notification rejected", zap.String("reason", string(reason)))
		return paymentdomain.Rejected(reason)
	}
	if errors.Is(err, paymentdomain.ErrSubscriberTaken) {
		log.Warn("notification rejected", zap.String("reason", string(paymentdomain.ReasonSubscriberConflict)))
		return paymentdomain.Rejected(paymentdomain.ReasonSubscriberConflict)
	}
	if pkgdb.IsDuplicateKeyErr(err) {
		// a concurrent delivery on another replica created the row first
		if existing, lookupErr := locator.New(s.store, log).FindByGatewayID(ctx, n.GatewayID()); lookupErr == nil && existing != nil {
			log.Info("notification already applied by a concurrent delivery", zap.String("transaction_id", existing.ID.String()))
			return paymentdomain.Duplicate(existing.ID)
		}
	}

	s.reconcileMetrics.IncStoreError(err)
	log.Warn("transaction store unavailable", zap.Error(err))
	return paymentdomain.Rejected(paymentdomain.ReasonStoreUnavailable)
}

func (s *Service) receipt(n notification, transactionID snowflake.ID) (paymentdomain.Receipt, error) {
	body, err := json.Marshal(n.payload.Without(paymentdomain.FieldMD5Hash, paymentdomain.FieldKey))
	if err != nil {
		return paymentdomain.Receipt{}, err
	}
	return paymentdomain.Receipt{
		ID:            ulid.Make().String(),
		Kind:          string(n.Kind),
		Event:         string(n.Event),
		GatewayID:     n.GatewayID(),
		TransactionID: transactionID,
		Payload:       datatypes.JSON(body),
		AppliedAt:     s.clock.Now(),
	}, nil
}

// fulfill signals fulfillment after commit. A failure is logged and never
// changes the result; the transaction is already durable.
func (s *Service) fulfill(ctx context.Context, log *zap.Logger, txn paymentdomain.Transaction) {
	if s.fulfillment == nil {
		return
	}
	if err := s.fulfillment.TransactionCleared(ctx, txn); err != nil {
		log.Error("fulfillment signal failed", zap.String("transaction_id", txn.ID.String()), zap.Error(err))
	}
}

func (s *Service) gatewaySettings(ctx context.Context) (settingsdomain.GatewaySettings, error) {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	return s.settings.Gateway(ctx)
}

// GetTransaction returns the stored transaction or ErrTransactionMissing.
func (s *Service) GetTransaction(ctx context.Context, transactionID snowflake.ID) (*paymentdomain.Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	txn, err := s.store.Get(ctx, transactionID)
	if err != nil {
		if errors.Is(err, paymentdomain.ErrTransactionMissing) {
			return nil, err
		}
		s.reconcileMetrics.IncStoreError(err)
		return nil, errors.Join(paymentdomain.ErrStoreUnavailable, err)
	}
	return txn, nil
}

// ListReceipts pages through the audit receipts of one transaction.
func (s *Service) ListReceipts(ctx context.Context, transactionID snowflake.ID, page pagination.Pagination) (paymentdomain.ReceiptPage, error) {
	after, err := page.After()
	if err != nil {
		return paymentdomain.ReceiptPage{}, err
	}
	if _, err := s.GetTransaction(ctx, transactionID); err != nil {
		return paymentdomain.ReceiptPage{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	limit := page.Limit()
	items, err := s.store.ListReceipts(ctx, transactionID, after, limit+1)
	if err != nil {
		s.reconcileMetrics.IncStoreError(err)
		return paymentdomain.ReceiptPage{}, errors.Join(paymentdomain.ErrStoreUnavailable, err)
	}
	items, info, err := pagination.Page(items, limit, func(r paymentdomain.Receipt) string { return r.ID })
	if err != nil {
		return paymentdomain.ReceiptPage{}, err
	}
	if items == nil {
		items = []paymentdomain.Receipt{}
	}
	return paymentdomain.ReceiptPage{Receipts: items, PageInfo: info}, nil
}
