package service

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	obslogger "github.com/smallbiznis/payrecon/internal/observability/logger"
	paymentdomain "github.com/smallbiznis/payrecon/internal/payment/domain"
	"github.com/smallbiznis/payrecon/internal/payment/locator"
	"go.uber.org/zap"
)

// applySignup links the subscriber id to the purchase located by sale id and
// activates the subscription.
func (s *Service) applySignup(ctx context.Context, store paymentdomain.TransactionStore, n notification) (mutation, error) {
	loc := locator.New(store, s.log)
	txn, err := loc.FindByGatewayID(ctx, n.GatewayID())
	if err != nil {
		return mutation{}, err
	}
	if txn == nil {
		return mutation{}, paymentdomain.Reject(paymentdomain.ReasonUnknownTransaction)
	}

	owner, err := loc.FindBySubscriberID(ctx, n.SubscriberID)
	if err != nil {
		return mutation{}, err
	}
	if owner != nil && owner.ID != txn.ID {
		return mutation{}, paymentdomain.Reject(paymentdomain.ReasonSubscriberConflict)
	}
	if txn.SubscriberID != nil && *txn.SubscriberID != n.SubscriberID {
		return mutation{}, paymentdomain.Reject(paymentdomain.ReasonSubscriberConflict)
	}

	m := mutation{txn: *txn}
	if txn.SubscriberID == nil {
		if err := store.LinkSubscriber(ctx, txn.ID, n.SubscriberID); err != nil {
			return mutation{}, err
		}
		subscriberID := n.SubscriberID
		m.txn.SubscriberID = &subscriberID
		m.changed = true
	}

	if txn.SubscriptionStatus.CanTransition(paymentdomain.SubscriptionActive) {
		if err := store.UpdateSubscriptionStatus(ctx, txn.ID, paymentdomain.SubscriptionActive); err != nil {
			return mutation{}, err
		}
		m.txn.SubscriptionStatus = paymentdomain.SubscriptionActive
		m.changed = true
	}
	return m, nil
}

// applySubscriptionStatus applies cancel, end of term and suspension to the
// transaction owning the subscriber id.
func (s *Service) applySubscriptionStatus(ctx context.Context, store paymentdomain.TransactionStore, n notification) (mutation, error) {
	target, ok := n.Event.SubscriptionTarget()
	if !ok {
		return mutation{}, paymentdomain.Reject(paymentdomain.ReasonUnsupportedNotification)
	}

	loc := locator.New(store, s.log)
	parent, err := loc.FindBySubscriberID(ctx, n.SubscriberID)
	if err != nil {
		return mutation{}, err
	}
	if parent == nil {
		return mutation{}, paymentdomain.Reject(paymentdomain.ReasonUnknownSubscriber)
	}

	target, err = s.effectiveTarget(ctx, loc, *parent, target)
	if err != nil {
		return mutation{}, err
	}
	if !parent.SubscriptionStatus.CanTransition(target) {
		return mutation{txn: *parent}, nil
	}

	if err := store.UpdateSubscriptionStatus(ctx, parent.ID, target); err != nil {
		return mutation{}, err
	}
	updated := *parent
	updated.SubscriptionStatus = target
	return mutation{txn: updated, changed: true}, nil
}

// effectiveTarget forces deactivation when the subscription's money has been
// returned in full, on the parent or on its latest renewal.
func (s *Service) effectiveTarget(ctx context.Context, loc *locator.Locator, parent paymentdomain.Transaction, target paymentdomain.SubscriptionStatus) (paymentdomain.SubscriptionStatus, error) {
	if target == paymentdomain.SubscriptionActive || target == paymentdomain.SubscriptionDeactivated {
		return target, nil
	}
	if parent.FullyRefunded() {
		return paymentdomain.SubscriptionDeactivated, nil
	}
	child, err := loc.LatestChild(ctx, parent.ID)
	if err != nil {
		return "", err
	}
	if child != nil && child.FullyRefunded() {
		return paymentdomain.SubscriptionDeactivated, nil
	}
	return target, nil
}

// CancelSubscription stops the recurring profile at the gateway, then records the
// cancellation. No lock is held while the gateway call is in flight.
func (s *Service) CancelSubscription(ctx context.Context, transactionID snowflake.ID) paymentdomain.Result {
	res := s.cancelSubscription(ctx, transactionID)
	s.obsMetrics.RecordNotification(ctx, "outbound_cancel", string(res.Outcome), string(res.Reason))
	return res
}

func (s *Service) cancelSubscription(ctx context.Context, transactionID snowflake.ID) paymentdomain.Result {
	log := obslogger.WithContext(ctx, s.log).With(zap.String("transaction_id", transactionID.String()))

	txn, err := s.GetTransaction(ctx, transactionID)
	if err != nil {
		if errors.Is(err, paymentdomain.ErrTransactionMissing) {
			return paymentdomain.Rejected(paymentdomain.ReasonUnknownTransaction)
		}
		log.Warn("transaction store unavailable", zap.Error(err))
		return paymentdomain.Rejected(paymentdomain.ReasonStoreUnavailable)
	}
	if txn.SubscriberID == nil || *txn.SubscriberID == "" {
		return paymentdomain.Rejected(paymentdomain.ReasonUnknownSubscriber)
	}
	if txn.SubscriptionStatus == paymentdomain.SubscriptionCancelled || txn.SubscriptionStatus == paymentdomain.SubscriptionDeactivated {
		return paymentdomain.Duplicate(txn.ID)
	}
	if s.gateway == nil {
		log.Warn("gateway client not configured")
		return paymentdomain.Rejected(paymentdomain.ReasonGatewayUnavailable)
	}

	if err := s.gateway.StopRecurring(ctx, *txn.SubscriberID); err != nil {
		log.Warn("gateway rejected subscription cancel", zap.Error(err))
		return paymentdomain.Rejected(paymentdomain.ReasonGatewayUnavailable)
	}

	settings, err := s.gatewaySettings(ctx)
	if err != nil {
		log.Warn("gateway settings unavailable", zap.Error(err))
		return paymentdomain.Rejected(paymentdomain.ReasonStoreUnavailable)
	}
	n := notification{
		ClassifiedNotification: paymentdomain.ClassifiedNotification{
			Kind:           paymentdomain.KindSubscriptionEvent,
			Event:          paymentdomain.EventSubscriptionCancel,
			ExternalSaleID: txn.GatewayID,
			SubscriberID:   *txn.SubscriberID,
		},
		payload: paymentdomain.Payload{
			"source":         "api",
			"transaction_id": txn.ID.String(),
			"subscriber_id":  *txn.SubscriberID,
		},
		mode: settings.Credentials.Mode(),
	}
	return s.apply(ctx, log, n, []string{subscriberLockKey(n.SubscriberID)}, s.applySubscriptionStatus)
}
