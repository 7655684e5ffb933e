package locator

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/payrecon/internal/payment/domain"
	"go.uber.org/zap"
)

// Locator resolves gateway identifiers to at most one local transaction.
type Locator struct {
	store domain.TransactionStore
	log   *zap.Logger
}

func New(store domain.TransactionStore, log *zap.Logger) *Locator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Locator{store: store, log: log}
}

// FindByGatewayID looks up by the primary gateway id, then by the alternate id recorded
// by earlier protocol versions. It returns nil when neither matches.
func (l *Locator) FindByGatewayID(ctx context.Context, gatewayID string) (*domain.Transaction, error) {
	gatewayID = strings.TrimSpace(gatewayID)
	if gatewayID == "" {
		return nil, nil
	}

	matches, err := l.store.FindByGatewayID(ctx, gatewayID, 2)
	if err != nil {
		return nil, err
	}
	if txn := l.first(matches, "gateway_id", gatewayID); txn != nil {
		return txn, nil
	}

	matches, err = l.store.FindByAlternateID(ctx, gatewayID, 2)
	if err != nil {
		return nil, err
	}
	return l.first(matches, "alternate_id", gatewayID), nil
}

// FindBySubscriberID returns the transaction that owns the subscriber id.
func (l *Locator) FindBySubscriberID(ctx context.Context, subscriberID string) (*domain.Transaction, error) {
	subscriberID = strings.TrimSpace(subscriberID)
	if subscriberID == "" {
		return nil, nil
	}
	matches, err := l.store.FindBySubscriberID(ctx, subscriberID, 2)
	if err != nil {
		return nil, err
	}
	return l.first(matches, "subscriber_id", subscriberID), nil
}

// LatestChild returns the most recent renewal of parentID, if any.
func (l *Locator) LatestChild(ctx context.Context, parentID snowflake.ID) (*domain.Transaction, error) {
	return l.store.LatestChild(ctx, parentID)
}

func (l *Locator) first(matches []domain.Transaction, field, value string) *domain.Transaction {
	if len(matches) == 0 {
		return nil
	}
	if len(matches) > 1 {
		l.log.Warn("multiple transactions share an identifier, using the first",
			zap.String("field", field),
			zap.String("value", value),
			zap.String("transaction_id", matches[0].ID.String()),
		)
	}
	txn := matches[0]
	return &txn
}
