package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	paymentdomain "github.com/smallbiznis/payrecon/internal/payment/domain"
	"github.com/smallbiznis/payrecon/pkg/db/pagination"
)

type transactionResponse struct {
	ID                 string     `json:"id"`
	GatewayID          string     `json:"gateway_id"`
	AlternateID        string     `json:"alternate_id,omitempty"`
	OrderRef           string     `json:"order_ref,omitempty"`
	CustomerID         string     `json:"customer_id,omitempty"`
	Status             string     `json:"status"`
	StatusLabel        string     `json:"status_label"`
	ClearedForDelivery bool       `json:"cleared_for_delivery"`
	Total              string     `json:"total"`
	RefundedAmount     string     `json:"refunded_amount"`
	Currency           string     `json:"currency,omitempty"`
	SubscriberID       string     `json:"subscriber_id,omitempty"`
	SubscriptionStatus string     `json:"subscription_status,omitempty"`
	ParentID           string     `json:"parent_id,omitempty"`
	Mode               string     `json:"mode"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          *time.Time `json:"updated_at,omitempty"`
}

func newTransactionResponse(txn paymentdomain.Transaction) transactionResponse {
	resp := transactionResponse{
		ID:                 txn.ID.String(),
		GatewayID:          txn.GatewayID,
		AlternateID:        txn.AlternateID,
		OrderRef:           txn.OrderRef,
		CustomerID:         txn.CustomerID,
		Status:             string(txn.Status),
		StatusLabel:        txn.Status.Label(),
		ClearedForDelivery: txn.Status.ClearedForDelivery(),
		Total:              txn.Total.StringFixed(2),
		RefundedAmount:     txn.RefundedAmount.StringFixed(2),
		Currency:           txn.Currency,
		SubscriptionStatus: string(txn.SubscriptionStatus),
		Mode:               txn.Mode,
		CreatedAt:          txn.CreatedAt,
	}
	if txn.SubscriberID != nil {
		resp.SubscriberID = *txn.SubscriberID
	}
	if txn.ParentID != nil {
		resp.ParentID = txn.ParentID.String()
	}
	if !txn.UpdatedAt.IsZero() && !txn.UpdatedAt.Equal(txn.CreatedAt) {
		updated := txn.UpdatedAt
		resp.UpdatedAt = &updated
	}
	return resp
}

func (s *Server) GetTransaction(c *gin.Context) {
	id, err := parseSnowflakeID(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid transaction id"))
		return
	}

	txn, err := s.paymentSvc.GetTransaction(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": newTransactionResponse(*txn)})
}

func (s *Server) ListReceipts(c *gin.Context) {
	id, err := parseSnowflakeID(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid transaction id"))
		return
	}

	var query pagination.Pagination
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	page, err := s.paymentSvc.ListReceipts(c.Request.Context(), id, query)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": page})
}

// CancelSubscription stops billing at the gateway and marks the subscription cancelled.
func (s *Server) CancelSubscription(c *gin.Context) {
	id, err := parseSnowflakeID(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid transaction id"))
		return
	}

	res := s.paymentSvc.CancelSubscription(c.Request.Context(), id)
	if !res.Accepted() {
		s.reject(c, res.Reason)
		return
	}

	setOutcome(c, res)
	c.JSON(http.StatusOK, gin.H{"data": res})
}

type markDisputeRequest struct {
	Status string `json:"status" binding:"required"`
	Note   string `json:"note"`
}

// MarkDispute records dispute progress reported by an operator.
func (s *Server) MarkDispute(c *gin.Context) {
	id, err := parseSnowflakeID(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid transaction id"))
		return
	}

	var req markDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("status", "required", "dispute status is required"))
		return
	}
	status := paymentdomain.TransactionStatus(strings.ToLower(strings.TrimSpace(req.Status)))
	if !status.IsDispute() {
		AbortWithError(c, newValidationError("status", "invalid_status", "status must be needs_response, under_review or won"))
		return
	}

	res := s.disputes.MarkDispute(c.Request.Context(), id, status, req.Note)
	if !res.Accepted() {
		s.reject(c, res.Reason)
		return
	}

	setOutcome(c, res)
	c.JSON(http.StatusOK, gin.H{"data": res})
}

func parseSnowflakeID(raw string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if id <= 0 {
		return 0, ErrInvalidRequest
	}
	return id, nil
}
