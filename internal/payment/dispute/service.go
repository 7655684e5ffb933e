package dispute

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/payrecon/internal/clock"
	"github.com/smallbiznis/payrecon/internal/config"
	obslogger "github.com/smallbiznis/payrecon/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/payrecon/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/payrecon/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

const maxNoteLength = 500

type Params struct {
	fx.In

	Cfg              config.Config
	Log              *zap.Logger
	Clock            clock.Clock
	Store            paymentdomain.TransactionStore
	Locker           paymentdomain.Locker
	ReconcileMetrics *obsmetrics.ReconcileMetrics `optional:"true"`
}

// Service applies operator-reported dispute progress to transactions.
type Service struct {
	log          *zap.Logger
	clock        clock.Clock
	store        paymentdomain.TransactionStore
	locker       paymentdomain.Locker
	metrics      *obsmetrics.ReconcileMetrics
	storeTimeout time.Duration
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
		log:          p.Log.Named("payment.dispute"),
		clock:        clk,
		store:        p.Store,
		locker:       p.Locker,
		metrics:      p.ReconcileMetrics,
		storeTimeout: timeout,
	}
}

var _ paymentdomain.DisputeDesk = (*Service)(nil)

// MarkDispute moves a cleared transaction into a dispute status or advances an
// open dispute. Disputes only move forward: needs_response, under_review, won.
func (s *Service) MarkDispute(ctx context.Context, transactionID snowflake.ID, status paymentdomain.TransactionStatus, note string) paymentdomain.Result {
	log := obslogger.WithContext(ctx, s.log).With(
		zap.String("transaction_id", transactionID.String()),
		zap.String("dispute_status", string(status)),
	)

	note = strings.TrimSpace(note)
	if !status.IsDispute() || len(note) > maxNoteLength {
		return paymentdomain.Rejected(paymentdomain.ReasonMalformedPayload)
	}

	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	current, err := s.store.Get(ctx, transactionID)
	if err != nil {
		return s.failure(log, err)
	}

	release, err := s.locker.Lock(ctx, "txn:"+current.GatewayID)
	if err != nil {
		log.Warn("per-key lock unavailable", zap.Error(err))
		return paymentdomain.Rejected(paymentdomain.ReasonStoreUnavailable)
	}
	defer release()

	changed := false
	err = s.store.WithinTx(ctx, func(tx paymentdomain.TransactionStore) error {
		txn, err := tx.Get(ctx, transactionID)
		if err != nil {
			return err
		}
		next, ok := nextStatus(txn.Status, status)
		if !ok {
			return paymentdomain.Reject(paymentdomain.ReasonInvalidTransition)
		}
		if next == txn.Status {
			return nil
		}
		if err := tx.UpdateStatus(ctx, txn.ID, next); err != nil {
			return err
		}
		receipt, err := s.receipt(*txn, next, note)
		if err != nil {
			return err
		}
		changed = true
		return tx.RecordReceipt(ctx, receipt)
	})
	if err != nil {
		return s.failure(log, err)
	}

	if !changed {
		return paymentdomain.Duplicate(transactionID)
	}
	s.metrics.IncReceipt(string(paymentdomain.KindOperator))
	log.Info("dispute status recorded", zap.String("previous_status", string(current.Status)))
	return paymentdomain.Applied(transactionID)
}

func (s *Service) failure(log *zap.Logger, err error) paymentdomain.Result {
	if reason, ok := paymentdomain.RejectionReason(err); ok {
		log.Info("dispute update rejected", zap.String("reason", string(reason)))
		return paymentdomain.Rejected(reason)
	}
	if errors.Is(err, paymentdomain.ErrTransactionMissing) {
		return paymentdomain.Rejected(paymentdomain.ReasonUnknownTransaction)
	}
	s.metrics.IncStoreError(err)
	log.Warn("transaction store unavailable", zap.Error(err))
	return paymentdomain.Rejected(paymentdomain.ReasonStoreUnavailable)
}

func (s *Service) receipt(txn paymentdomain.Transaction, next paymentdomain.TransactionStatus, note string) (paymentdomain.Receipt, error) {
	body := map[string]string{
		"previous_status": string(txn.Status),
		"status":          string(next),
	}
	if note != "" {
		body["note"] = note
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return paymentdomain.Receipt{}, err
	}
	return paymentdomain.Receipt{
		ID:            ulid.Make().String(),
		Kind:          string(paymentdomain.KindOperator),
		Event:         "dispute." + string(next),
		GatewayID:     txn.GatewayID,
		TransactionID: txn.ID,
		Payload:       datatypes.JSON(raw),
		AppliedAt:     s.clock.Now(),
	}, nil
}

var disputeRank = map[paymentdomain.TransactionStatus]int{
	paymentdomain.StatusNeedsResponse: 1,
	paymentdomain.StatusUnderReview:   2,
	paymentdomain.StatusWon:           3,
}

// nextStatus returns the status after applying desired to current. A lower or
// equal rank keeps current; entering a dispute needs a paid transaction.
func nextStatus(current, desired paymentdomain.TransactionStatus) (paymentdomain.TransactionStatus, bool) {
	desiredRank, ok := disputeRank[desired]
	if !ok {
		return current, false
	}
	switch current {
	case paymentdomain.StatusPaid, paymentdomain.StatusPartialRefund:
		return desired, true
	}

	currentRank, ok := disputeRank[current]
	if !ok {
		return current, false
	}
	switch {
	case desiredRank == currentRank:
		return current, true
	case desiredRank > currentRank:
		return desired, true
	default:
		return current, false
	}
}
