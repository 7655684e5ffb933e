package service

import (
	"context"

	"github.com/shopspring/decimal"
	paymentdomain "github.com/smallbiznis/payrecon/internal/payment/domain"
	"github.com/smallbiznis/payrecon/internal/payment/locator"
	"go.uber.org/zap"
)

// applyPurchase records a first-seen purchase as pending and moves it to the
// notified status. A known gateway id only changes when the status moves forward.
func (s *Service) applyPurchase(ctx context.Context, store paymentdomain.TransactionStore, n notification) (mutation, error) {
	existing, err := locator.New(store, s.log).FindByGatewayID(ctx, n.GatewayID())
	if err != nil {
		return mutation{}, err
	}
	if existing != nil {
		return s.advanceStatus(ctx, store, *existing, n.TargetStatus)
	}

	req := paymentdomain.CreateTransaction{
		GatewayID:   n.GatewayID(),
		AlternateID: n.AlternateID(),
		OrderRef:    n.ExternalOrderID,
		CustomerID:  n.CustomerRef,
		Status:      paymentdomain.StatusPending,
		Total:       amountOrZero(n.Amount),
		Currency:    n.Currency,
		Mode:        n.mode,
		Details:     n.payload.Without(paymentdomain.FieldMD5Hash, paymentdomain.FieldKey),
	}
	return s.create(ctx, store, req, n.TargetStatus)
}

// applyRenewal keys a recurring charge on its invoice id. A new invoice becomes
// a child of the transaction that owns the subscriber id.
func (s *Service) applyRenewal(ctx context.Context, store paymentdomain.TransactionStore, n notification) (mutation, error) {
	loc := locator.New(store, s.log)
	existing, err := loc.FindByGatewayID(ctx, n.GatewayID())
	if err != nil {
		return mutation{}, err
	}
	if existing != nil {
		return s.advanceStatus(ctx, store, *existing, n.TargetStatus)
	}

	parent, err := loc.FindBySubscriberID(ctx, n.SubscriberID)
	if err != nil {
		return mutation{}, err
	}
	if parent == nil {
		return mutation{}, paymentdomain.Reject(paymentdomain.ReasonUnknownSubscriber)
	}

	total := parent.Total
	if n.Amount != nil {
		total = *n.Amount
	}
	currency := n.Currency
	if currency == "" {
		currency = parent.Currency
	}
	parentID := parent.ID
	req := paymentdomain.CreateTransaction{
		GatewayID:  n.GatewayID(),
		OrderRef:   parent.OrderRef,
		CustomerID: parent.CustomerID,
		Status:     paymentdomain.StatusPending,
		Total:      total,
		Currency:   currency,
		ParentID:   &parentID,
		Mode:       parent.Mode,
		Details:    n.payload.Without(paymentdomain.FieldMD5Hash, paymentdomain.FieldKey),
	}
	return s.create(ctx, store, req, n.TargetStatus)
}

func (s *Service) create(ctx context.Context, store paymentdomain.TransactionStore, req paymentdomain.CreateTransaction, target paymentdomain.TransactionStatus) (mutation, error) {
	id, err := store.Create(ctx, req)
	if err != nil {
		return mutation{}, err
	}
	created, err := store.Get(ctx, id)
	if err != nil {
		return mutation{}, err
	}

	m, err := s.advanceStatus(ctx, store, *created, target)
	if err != nil {
		return mutation{}, err
	}
	m.changed = true
	return m, nil
}

// advanceStatus moves txn to target when the lifecycle allows it. Stale or
// repeated statuses leave the transaction untouched.
func (s *Service) advanceStatus(ctx context.Context, store paymentdomain.TransactionStore, txn paymentdomain.Transaction, target paymentdomain.TransactionStatus) (mutation, error) {
	if target == "" || !txn.Status.CanTransition(target) {
		if target != "" && target != txn.Status {
			s.log.Debug("ignoring stale status",
				zap.String("transaction_id", txn.ID.String()),
				zap.String("status", string(txn.Status)),
				zap.String("notified_status", string(target)),
			)
		}
		return mutation{txn: txn}, nil
	}

	if err := store.UpdateStatus(ctx, txn.ID, target); err != nil {
		return mutation{}, err
	}
	wasCleared := txn.Status.ClearedForDelivery()
	txn.Status = target
	return mutation{
		txn:     txn,
		changed: true,
		cleared: target.ClearedForDelivery() && !wasCleared,
	}, nil
}

func amountOrZero(amount *decimal.Decimal) decimal.Decimal {
	if amount == nil {
		return decimal.Zero
	}
	return *amount
}
