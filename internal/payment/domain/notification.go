package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Payload is the raw field map received from the gateway. Handlers must not modify it.
type Payload map[string]string

// Get returns the trimmed value of key and whether the key was present at all.
func (p Payload) Get(key string) (string, bool) {
	v, ok := p[key]
	return strings.TrimSpace(v), ok
}

// Value returns the trimmed value of key, or "" when absent.
func (p Payload) Value(key string) string {
	v, _ := p.Get(key)
	return v
}

// Has reports whether key was sent, even with an empty value.
func (p Payload) Has(key string) bool {
	_, ok := p[key]
	return ok
}

// Without returns a copy of the payload with the given keys removed.
func (p Payload) Without(keys ...string) map[string]string {
	out := make(map[string]string, len(p))
	for k, v := range p {
		out[k] = v
	}
	for _, k := range keys {
		delete(out, k)
	}
	return out
}

// Gateway field names.
const (
	FieldSaleID              = "sale_id"
	FieldVendorID            = "vendor_id"
	FieldInvoiceID           = "invoice_id"
	FieldVendorOrderID       = "vendor_order_id"
	FieldMD5Hash             = "md5_hash"
	FieldMessageType         = "message_type"
	FieldInvoiceStatus       = "invoice_status"
	FieldFraudStatus         = "fraud_status"
	FieldAmount              = "amount"
	FieldCurrency            = "currency"
	FieldSID                 = "sid"
	FieldOrderNumber         = "order_number"
	FieldMerchantOrderID     = "merchant_order_id"
	FieldTotal               = "total"
	FieldKey                 = "key"
	FieldCreditCardProcessed = "credit_card_processed"
	FieldTxnType             = "txn_type"
	FieldPaymentStatus       = "payment_status"
	FieldRecurringPaymentID  = "recurring_payment_id"
	FieldSubscrID            = "subscr_id"
	FieldMerchantCustomerID  = "merchant_customer_id"
	FieldCustomerEmail       = "customer_email"
)

// Kind is the notification shape detected by the classifier.
type Kind string

const (
	KindUnknown           Kind = "unknown"
	KindSyncReturn        Kind = "sync_return"
	KindAsyncPush         Kind = "async_push"
	KindSubscriptionEvent Kind = "subscription_event"
	// KindOperator marks receipts written for manual operator actions.
	KindOperator Kind = "operator"
)

// Event is what the notification asks the engine to do.
type Event string

const (
	EventPurchase            Event = "purchase"
	EventRefund              Event = "refund"
	EventRenewal             Event = "renewal"
	EventSubscriptionSignup  Event = "subscription_signup"
	EventSubscriptionCancel  Event = "subscription_cancel"
	EventSubscriptionEnd     Event = "subscription_end_of_term"
	EventSubscriptionSuspend Event = "subscription_suspended"
	EventUnsupported         Event = "unsupported"
)

// ClassifiedNotification is the typed view of a payload, built once by the classifier.
type ClassifiedNotification struct {
	Kind              Kind
	Event             Event
	ExternalOrderID   string
	ExternalSaleID    string
	ExternalInvoiceID string
	SubscriberID      string
	AccountID         string
	HasAccountID      bool
	Amount            *decimal.Decimal
	Currency          string
	CustomerRef       string
	StatusToken       string
	TargetStatus      TransactionStatus
}

// GatewayID is the identifier the transaction is keyed by for this notification.
func (n ClassifiedNotification) GatewayID() string {
	switch n.Kind {
	case KindSubscriptionEvent:
		if n.Event == EventRenewal {
			return n.ExternalInvoiceID
		}
		return n.ExternalSaleID
	default:
		return n.ExternalSaleID
	}
}

// AlternateID is the secondary identifier stored with newly created transactions.
func (n ClassifiedNotification) AlternateID() string {
	if n.Kind == KindAsyncPush || n.Kind == KindSyncReturn {
		return n.ExternalInvoiceID
	}
	return ""
}

// SubscriptionTarget maps a lifecycle event to the subscription status it implies.
func (e Event) SubscriptionTarget() (SubscriptionStatus, bool) {
	switch e {
	case EventSubscriptionSignup:
		return SubscriptionActive, true
	case EventSubscriptionCancel, EventSubscriptionEnd:
		return SubscriptionCancelled, true
	case EventSubscriptionSuspend:
		return SubscriptionSuspended, true
	default:
		return "", false
	}
}
