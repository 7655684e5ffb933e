package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/payrecon/pkg/db/pagination"
)

// TransactionStore is the persistence boundary of the reconciliation core.
type TransactionStore interface {
	Create(ctx context.Context, req CreateTransaction) (snowflake.ID, error)
	UpdateStatus(ctx context.Context, id snowflake.ID, status TransactionStatus) error
	AddRefund(ctx context.Context, id snowflake.ID, amount decimal.Decimal) error
	LinkSubscriber(ctx context.Context, id snowflake.ID, subscriberID string) error
	UpdateSubscriptionStatus(ctx context.Context, id snowflake.ID, status SubscriptionStatus) error

	Get(ctx context.Context, id snowflake.ID) (*Transaction, error)
	FindByGatewayID(ctx context.Context, gatewayID string, limit int) ([]Transaction, error)
	FindByAlternateID(ctx context.Context, alternateID string, limit int) ([]Transaction, error)
	FindBySubscriberID(ctx context.Context, subscriberID string, limit int) ([]Transaction, error)
	LatestChild(ctx context.Context, parentID snowflake.ID) (*Transaction, error)

	RecordReceipt(ctx context.Context, receipt Receipt) error
	// ListReceipts returns up to limit receipts of a transaction with ids after afterID, oldest first.
	ListReceipts(ctx context.Context, transactionID snowflake.ID, afterID string, limit int) ([]Receipt, error)

	// WithinTx runs fn against a store bound to a single database transaction.
	WithinTx(ctx context.Context, fn func(TransactionStore) error) error
}

// Locker provides mutual exclusion per key across concurrent deliveries.
type Locker interface {
	Lock(ctx context.Context, key string) (release func(), err error)
}

// Handler processes one raw notification and never returns a Go error.
type Handler interface {
	Handle(ctx context.Context, payload Payload) Result
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, payload Payload) Result

func (f HandlerFunc) Handle(ctx context.Context, payload Payload) Result {
	return f(ctx, payload)
}

// Router delivers raw payloads to the handler registered for a webhook key.
type Router interface {
	Register(key string, handler Handler) error
	Dispatch(ctx context.Context, key string, payload Payload) Result
}

// Service is the reconciliation engine.
type Service interface {
	Handler
	CancelSubscription(ctx context.Context, transactionID snowflake.ID) Result
	GetTransaction(ctx context.Context, transactionID snowflake.ID) (*Transaction, error)
	ListReceipts(ctx context.Context, transactionID snowflake.ID, page pagination.Pagination) (ReceiptPage, error)
}

// DisputeDesk records dispute progress reported by operators. Notifications never
// move a transaction into a dispute status.
type DisputeDesk interface {
	MarkDispute(ctx context.Context, transactionID snowflake.ID, status TransactionStatus, note string) Result
}

// ReceiptPage is one page of a transaction's notification receipts.
type ReceiptPage struct {
	Receipts []Receipt           `json:"receipts"`
	PageInfo pagination.PageInfo `json:"page_info"`
}

// Fulfillment receives transactions that just became cleared for delivery.
type Fulfillment interface {
	TransactionCleared(ctx context.Context, txn Transaction) error
}

// GatewayClient performs outbound calls against the gateway API.
type GatewayClient interface {
	StopRecurring(ctx context.Context, subscriberID string) error
}
