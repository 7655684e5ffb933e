package service

import (
	"context"

	paymentdomain "github.com/smallbiznis/payrecon/internal/payment/domain"
	"github.com/smallbiznis/payrecon/internal/payment/locator"
	"go.uber.org/zap"
)

// applyRefund records the difference between the gateway's running refund total
// and what is already recorded. Refunded never exceeds the transaction total.
func (s *Service) applyRefund(ctx context.Context, store paymentdomain.TransactionStore, n notification) (mutation, error) {
	txn, err := s.refundTarget(ctx, locator.New(store, s.log), n)
	if err != nil {
		return mutation{}, err
	}
	if txn == nil {
		return mutation{}, paymentdomain.Reject(paymentdomain.ReasonUnknownTransaction)
	}

	cumulative := amountOrZero(n.Amount)
	delta := cumulative.Sub(txn.RefundedAmount)
	switch {
	case delta.IsZero():
		return mutation{txn: *txn}, nil
	case delta.IsNegative():
		s.log.Warn("refund total went down",
			zap.String("transaction_id", txn.ID.String()),
			zap.String("recorded", txn.RefundedAmount.String()),
			zap.String("notified", cumulative.String()),
		)
		return mutation{}, paymentdomain.Reject(paymentdomain.ReasonRefundReversal)
	case cumulative.GreaterThan(txn.Total):
		s.log.Warn("refund exceeds transaction total",
			zap.String("transaction_id", txn.ID.String()),
			zap.String("total", txn.Total.String()),
			zap.String("notified", cumulative.String()),
		)
		return mutation{}, paymentdomain.Reject(paymentdomain.ReasonRefundOverflow)
	}

	next := paymentdomain.StatusPartialRefund
	if cumulative.Equal(txn.Total) {
		next = paymentdomain.StatusRefunded
	}
	if next != txn.Status && !txn.Status.CanTransition(next) {
		return mutation{}, paymentdomain.Reject(paymentdomain.ReasonInvalidTransition)
	}

	if err := store.AddRefund(ctx, txn.ID, delta); err != nil {
		return mutation{}, err
	}
	if next != txn.Status {
		if err := store.UpdateStatus(ctx, txn.ID, next); err != nil {
			return mutation{}, err
		}
	}

	updated := *txn
	updated.RefundedAmount = cumulative
	updated.Status = next
	return mutation{txn: updated, changed: true}, nil
}

// refundTarget prefers the invoice id, which names a renewal child directly and
// the parent through its alternate id, then falls back to the sale id.
func (s *Service) refundTarget(ctx context.Context, loc *locator.Locator, n notification) (*paymentdomain.Transaction, error) {
	if n.ExternalInvoiceID != "" {
		txn, err := loc.FindByGatewayID(ctx, n.ExternalInvoiceID)
		if err != nil || txn != nil {
			return txn, err
		}
	}
	return loc.FindByGatewayID(ctx, n.GatewayID())
}
