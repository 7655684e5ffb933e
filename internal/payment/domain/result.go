package domain

import (
	"errors"

	"github.com/bwmarrin/snowflake"
)

type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeRejected  Outcome = "rejected"
)

// Reason explains a Rejected outcome.
type Reason string

const (
	ReasonInvalidSignature        Reason = "invalid_signature"
	ReasonUnsupportedNotification Reason = "unsupported_notification"
	ReasonUnknownSubscriber       Reason = "unknown_subscriber"
	ReasonAccountMismatch         Reason = "account_mismatch"
	ReasonRefundOverflow          Reason = "refund_overflow"
	ReasonStoreUnavailable        Reason = "store_unavailable"
	ReasonMalformedPayload        Reason = "malformed_payload"
	ReasonUnknownTransaction      Reason = "unknown_transaction"
	ReasonInvalidTransition       Reason = "invalid_transition"
	ReasonSubscriberConflict      Reason = "subscriber_conflict"
	ReasonRefundReversal          Reason = "refund_reversal"
	ReasonGatewayUnavailable      Reason = "gateway_unavailable"
)

// Result is the structured answer for every reconciliation call.
type Result struct {
	Outcome       Outcome      `json:"outcome"`
	Reason        Reason       `json:"reason,omitempty"`
	TransactionID snowflake.ID `json:"transaction_id,omitempty"`
}

func Applied(id snowflake.ID) Result {
	return Result{Outcome: OutcomeApplied, TransactionID: id}
}

func Duplicate(id snowflake.ID) Result {
	return Result{Outcome: OutcomeDuplicate, TransactionID: id}
}

func Rejected(reason Reason) Result {
	return Result{Outcome: OutcomeRejected, Reason: reason}
}

func (r Result) Accepted() bool {
	return r.Outcome == OutcomeApplied || r.Outcome == OutcomeDuplicate
}

var (
	ErrMalformedPayload   = errors.New("malformed_payload")
	ErrTransactionMissing = errors.New("transaction_not_found")
	ErrSubscriberTaken    = errors.New("subscriber_already_linked")
	ErrStoreUnavailable   = errors.New("store_unavailable")
	ErrGatewayUnavailable = errors.New("gateway_unavailable")
	ErrLockTimeout        = errors.New("lock_timeout")
	ErrHandlerExists      = errors.New("handler_already_registered")
	ErrInvalidWebhookKey  = errors.New("invalid_webhook_key")
)

// rejection lets operations abort a store transaction with a reason.
type rejection struct {
	reason Reason
}

func (r *rejection) Error() string { return string(r.reason) }

// Reject wraps reason as an error so it can cross a store transaction boundary.
func Reject(reason Reason) error {
	return &rejection{reason: reason}
}

// RejectionReason extracts the reason from an error produced by Reject.
func RejectionReason(err error) (Reason, bool) {
	var r *rejection
	if errors.As(err, &r) {
		return r.reason, true
	}
	return "", false
}
