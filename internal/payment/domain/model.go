package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// TransactionStatus is the gateway-facing lifecycle state of a transaction.
type TransactionStatus string

const (
	StatusPending       TransactionStatus = "pending"
	StatusPaid          TransactionStatus = "paid"
	StatusPartialRefund TransactionStatus = "partial-refund"
	StatusRefunded      TransactionStatus = "refunded"

	// Dispute states are only ever set by operators; notifications never produce them.
	StatusNeedsResponse TransactionStatus = "needs_response"
	StatusUnderReview   TransactionStatus = "under_review"
	StatusWon           TransactionStatus = "won"
)

// SubscriptionStatus is tracked independently from the payment status.
type SubscriptionStatus string

const (
	SubscriptionActive      SubscriptionStatus = "active"
	SubscriptionSuspended   SubscriptionStatus = "suspended"
	SubscriptionCancelled   SubscriptionStatus = "cancelled"
	SubscriptionDeactivated SubscriptionStatus = "deactivated"
)

const (
	ModeLive    = "live"
	ModeSandbox = "sandbox"
)

type Transaction struct {
	ID                 snowflake.ID       `json:"id" gorm:"primaryKey"`
	GatewayID          string             `json:"gateway_id" gorm:"size:191;not null;uniqueIndex"`
	AlternateID        string             `json:"alternate_id,omitempty" gorm:"size:191;index"`
	OrderRef           string             `json:"order_ref,omitempty" gorm:"size:191;index"`
	CustomerID         string             `json:"customer_id,omitempty" gorm:"type:text"`
	Status             TransactionStatus  `json:"status" gorm:"type:text;not null"`
	Total              decimal.Decimal    `json:"total" gorm:"type:numeric(20,2);not null"`
	RefundedAmount     decimal.Decimal    `json:"refunded_amount" gorm:"type:numeric(20,2);not null"`
	Currency           string             `json:"currency,omitempty" gorm:"type:text"`
	SubscriberID       *string            `json:"subscriber_id,omitempty" gorm:"size:191;uniqueIndex"`
	SubscriptionStatus SubscriptionStatus `json:"subscription_status,omitempty" gorm:"type:text"`
	ParentID           *snowflake.ID      `json:"parent_id,omitempty" gorm:"index"`
	Mode               string             `json:"mode" gorm:"type:text;not null"`
	Details            datatypes.JSON     `json:"details,omitempty"`
	CreatedAt          time.Time          `json:"created_at" gorm:"not null"`
	UpdatedAt          time.Time          `json:"updated_at" gorm:"not null"`
}

func (Transaction) TableName() string { return "payment_transactions" }

// FullyRefunded reports whether every unit of a non-zero total was refunded.
func (t Transaction) FullyRefunded() bool {
	return t.Total.IsPositive() && t.RefundedAmount.Equal(t.Total)
}

// Receipt is the audit row written together with every applied notification.
type Receipt struct {
	ID            string         `json:"id" gorm:"primaryKey;size:64"`
	Kind          string         `json:"kind" gorm:"type:text;not null"`
	Event         string         `json:"event" gorm:"type:text;not null"`
	GatewayID     string         `json:"gateway_id" gorm:"size:191;not null;index"`
	TransactionID snowflake.ID   `json:"transaction_id" gorm:"not null;index"`
	Payload       datatypes.JSON `json:"payload" gorm:"not null"`
	AppliedAt     time.Time      `json:"applied_at" gorm:"not null"`
}

func (Receipt) TableName() string { return "notification_receipts" }

// CreateTransaction carries the fields persisted when a transaction is first seen.
type CreateTransaction struct {
	GatewayID   string
	AlternateID string
	OrderRef    string
	CustomerID  string
	Status      TransactionStatus
	Total       decimal.Decimal
	Currency    string
	ParentID    *snowflake.ID
	Mode        string
	Details     map[string]string
}

var statusLabels = map[TransactionStatus]string{
	StatusPaid:          "Paid",
	StatusPending:       "Pending",
	StatusRefunded:      "Refunded",
	StatusPartialRefund: "Partially Refunded",
	StatusNeedsResponse: "Dispute: Needs Response",
	StatusUnderReview:   "Dispute: Under Review",
	StatusWon:           "Dispute: Won",
}

// Label returns the human readable status name.
func (s TransactionStatus) Label() string {
	if label, ok := statusLabels[s]; ok {
		return label
	}
	return "Unknown"
}

// ClearedForDelivery reports whether goods may be released for this status.
func (s TransactionStatus) ClearedForDelivery() bool {
	switch s {
	case StatusPaid, StatusPartialRefund, StatusWon:
		return true
	default:
		return false
	}
}

// IsDispute reports whether s is one of the operator-set dispute statuses.
func (s TransactionStatus) IsDispute() bool {
	return s == StatusNeedsResponse || s == StatusUnderReview || s == StatusWon
}

// CanTransition reports whether a notification may move a transaction from s to next.
func (s TransactionStatus) CanTransition(next TransactionStatus) bool {
	if s == next {
		return false
	}
	switch s {
	case StatusPending:
		return next == StatusPaid
	case StatusPaid:
		return next == StatusPartialRefund || next == StatusRefunded
	case StatusPartialRefund:
		return next == StatusRefunded
	default:
		return false
	}
}

// CanTransition reports whether a subscription may move from s to next.
func (s SubscriptionStatus) CanTransition(next SubscriptionStatus) bool {
	if s == next {
		return false
	}
	switch s {
	case "":
		return true
	case SubscriptionActive:
		return next == SubscriptionSuspended || next == SubscriptionCancelled || next == SubscriptionDeactivated
	case SubscriptionSuspended:
		return next == SubscriptionActive || next == SubscriptionCancelled || next == SubscriptionDeactivated
	case SubscriptionCancelled:
		return next == SubscriptionDeactivated
	default:
		return false
	}
}
