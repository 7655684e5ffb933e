package classifier

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/payrecon/internal/payment/domain"
)

var hundred = decimal.NewFromInt(100)

var subscriptionEvents = map[string]domain.Event{
	"subscr_payment":              domain.EventRenewal,
	"subscr_signup":               domain.EventSubscriptionSignup,
	"subscr_cancel":               domain.EventSubscriptionCancel,
	"subscr_eot":                  domain.EventSubscriptionEnd,
	"recurring_payment_suspended": domain.EventSubscriptionSuspend,
}

// Classify decodes a raw payload into its typed notification. Rules are checked in order
// and the first match wins. A non-nil error means the payload matched a kind but one of its
// fields could not be decoded; the returned notification is still usable for verification.
func Classify(payload domain.Payload) (domain.ClassifiedNotification, error) {
	if event, ok := subscriptionEvents[strings.ToLower(payload.Value(domain.FieldTxnType))]; ok {
		return classifySubscription(payload, event)
	}
	if payload.Has(domain.FieldVendorOrderID) && payload.Has(domain.FieldSaleID) {
		return classifyPush(payload)
	}
	if payload.Has(domain.FieldMerchantOrderID) && payload.Has(domain.FieldTotal) && payload.Has(domain.FieldKey) {
		return classifyReturn(payload)
	}
	return domain.ClassifiedNotification{Kind: domain.KindUnknown, Event: domain.EventUnsupported}, nil
}

func classifySubscription(payload domain.Payload, event domain.Event) (domain.ClassifiedNotification, error) {
	n := base(payload, domain.KindSubscriptionEvent)
	n.Event = event
	n.StatusToken = payload.Value(domain.FieldTxnType)
	n.SubscriberID = payload.Value(domain.FieldRecurringPaymentID)
	if n.SubscriberID == "" {
		n.SubscriberID = payload.Value(domain.FieldSubscrID)
	}
	n.AccountID, n.HasAccountID = payload.Get(domain.FieldVendorID)

	amount, err := minorUnits(payload.Value(domain.FieldAmount))
	n.Amount = amount
	if err != nil {
		return n, err
	}

	if event == domain.EventRenewal {
		switch strings.ToLower(payload.Value(domain.FieldPaymentStatus)) {
		case "", "completed":
			n.TargetStatus = domain.StatusPaid
		case "pending":
			n.TargetStatus = domain.StatusPending
		default:
			n.Event = domain.EventUnsupported
		}
	}

	if n.SubscriberID == "" {
		return n, fmt.Errorf("%w: subscriber id", domain.ErrMalformedPayload)
	}
	if n.GatewayID() == "" {
		return n, fmt.Errorf("%w: gateway id", domain.ErrMalformedPayload)
	}
	return n, nil
}

func classifyPush(payload domain.Payload) (domain.ClassifiedNotification, error) {
	n := base(payload, domain.KindAsyncPush)
	n.ExternalOrderID = payload.Value(domain.FieldVendorOrderID)
	n.AccountID, n.HasAccountID = payload.Get(domain.FieldVendorID)
	n.Event, n.TargetStatus, n.StatusToken = pushEvent(payload)

	amount, err := minorUnits(payload.Value(domain.FieldAmount))
	n.Amount = amount
	if err != nil {
		return n, err
	}
	if n.ExternalSaleID == "" {
		return n, fmt.Errorf("%w: sale id", domain.ErrMalformedPayload)
	}
	if n.Event == domain.EventRefund && n.Amount == nil {
		return n, fmt.Errorf("%w: refund amount", domain.ErrMalformedPayload)
	}
	return n, nil
}

func classifyReturn(payload domain.Payload) (domain.ClassifiedNotification, error) {
	n := base(payload, domain.KindSyncReturn)
	n.ExternalOrderID = payload.Value(domain.FieldMerchantOrderID)
	n.ExternalSaleID = payload.Value(domain.FieldOrderNumber)
	n.AccountID, n.HasAccountID = payload.Get(domain.FieldSID)
	n.Event = domain.EventPurchase
	n.StatusToken = payload.Value(domain.FieldCreditCardProcessed)
	switch strings.ToUpper(n.StatusToken) {
	case "", "Y":
		n.TargetStatus = domain.StatusPaid
	case "K":
		n.TargetStatus = domain.StatusPending
	default:
		n.Event = domain.EventUnsupported
	}

	amount, err := majorUnits(payload.Value(domain.FieldTotal))
	n.Amount = amount
	if err != nil {
		return n, err
	}
	if n.ExternalSaleID == "" {
		return n, fmt.Errorf("%w: order number", domain.ErrMalformedPayload)
	}
	return n, nil
}

func base(payload domain.Payload, kind domain.Kind) domain.ClassifiedNotification {
	return domain.ClassifiedNotification{
		Kind:              kind,
		ExternalSaleID:    payload.Value(domain.FieldSaleID),
		ExternalInvoiceID: payload.Value(domain.FieldInvoiceID),
		Currency:          strings.ToUpper(payload.Value(domain.FieldCurrency)),
		CustomerRef:       payload.Value(domain.FieldMerchantCustomerID),
	}
}

// pushEvent maps the push message type, or the legacy payment status when no message type
// was sent, to an engine event.
func pushEvent(payload domain.Payload) (domain.Event, domain.TransactionStatus, string) {
	if token := payload.Value(domain.FieldMessageType); token != "" {
		switch strings.ToUpper(token) {
		case "ORDER_CREATED":
			return domain.EventPurchase, domain.StatusPaid, token
		case "INVOICE_STATUS_CHANGED":
			switch strings.ToLower(payload.Value(domain.FieldInvoiceStatus)) {
			case "approved", "deposited":
				return domain.EventPurchase, domain.StatusPaid, token
			case "pending":
				return domain.EventPurchase, domain.StatusPending, token
			}
		case "FRAUD_STATUS_CHANGED":
			switch strings.ToLower(payload.Value(domain.FieldFraudStatus)) {
			case "pass":
				return domain.EventPurchase, domain.StatusPaid, token
			case "wait":
				return domain.EventPurchase, domain.StatusPending, token
			}
		case "REFUND_ISSUED":
			return domain.EventRefund, "", token
		}
		return domain.EventUnsupported, "", token
	}

	token := payload.Value(domain.FieldPaymentStatus)
	switch strings.ToLower(token) {
	case "", "completed":
		return domain.EventPurchase, domain.StatusPaid, token
	case "pending":
		return domain.EventPurchase, domain.StatusPending, token
	case "refunded", "reversed":
		return domain.EventRefund, "", token
	default:
		return domain.EventUnsupported, "", token
	}
}

// minorUnits parses an amount expressed in cents into major units.
func minorUnits(raw string) (*decimal.Decimal, error) {
	amount, err := majorUnits(raw)
	if err != nil || amount == nil {
		return amount, err
	}
	converted := amount.Div(hundred)
	return &converted, nil
}

func majorUnits(raw string) (*decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: amount %q", domain.ErrMalformedPayload, raw)
	}
	if amount.IsNegative() {
		return nil, fmt.Errorf("%w: negative amount %q", domain.ErrMalformedPayload, raw)
	}
	return &amount, nil
}
