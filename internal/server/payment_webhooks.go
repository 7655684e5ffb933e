package server

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	obslogger "github.com/smallbiznis/payrecon/internal/observability/logger"
	paymentdomain "github.com/smallbiznis/payrecon/internal/payment/domain"
	"go.uber.org/zap"
)

// HandleWebhook ingests an asynchronous gateway notification. Accepted results,
// including duplicates, answer 200 so the gateway stops retrying.
func (s *Server) HandleWebhook(c *gin.Context) {
	key := strings.TrimSpace(c.Param("key"))
	payload, err := payloadFromRequest(c)
	if err != nil {
		s.reject(c, paymentdomain.ReasonMalformedPayload)
		return
	}

	res := s.router.Dispatch(c.Request.Context(), key, payload)
	if !res.Accepted() {
		s.reject(c, res.Reason)
		return
	}

	setOutcome(c, res)
	c.JSON(http.StatusOK, gin.H{"data": res})
}

// HandleCheckoutReturn completes the synchronous return from the hosted checkout.
// When a return URL is configured the buyer is redirected there with the
// verified fields and the transaction id.
func (s *Server) HandleCheckoutReturn(c *gin.Context) {
	ctx := c.Request.Context()
	key := strings.TrimSpace(c.Param("key"))

	payload, err := payloadFromRequest(c)
	if err != nil {
		s.reject(c, paymentdomain.ReasonMalformedPayload)
		return
	}

	res := s.router.Dispatch(ctx, key, payload)
	if !res.Accepted() {
		s.reject(c, res.Reason)
		return
	}
	setOutcome(c, res)

	settings, err := s.settings.Gateway(ctx)
	if err != nil {
		obslogger.FromContext(ctx).Warn("checkout return without settings", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"data": res})
		return
	}

	target, err := returnLocation(settings.Display.ReturnURL, payload, res)
	if err != nil {
		obslogger.FromContext(ctx).Warn("invalid checkout return url", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"data": res})
		return
	}
	if target == "" {
		c.JSON(http.StatusOK, gin.H{"data": res})
		return
	}
	c.Redirect(http.StatusFound, target)
}

func (s *Server) reject(c *gin.Context, reason paymentdomain.Reason) {
	c.Set("outcome", string(paymentdomain.OutcomeRejected))
	c.Set("reason", string(reason))
	AbortWithError(c, &RejectedError{Reason: reason})
}

func setOutcome(c *gin.Context, res paymentdomain.Result) {
	c.Set("outcome", string(res.Outcome))
	if res.Reason != "" {
		c.Set("reason", string(res.Reason))
	}
}

// payloadFromRequest flattens query and form values into a payload, keeping
// the first value of every key.
func payloadFromRequest(c *gin.Context) (paymentdomain.Payload, error) {
	if c.Request.Body != nil {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxPayloadBytes)
	}
	if err := c.Request.ParseForm(); err != nil {
		return nil, err
	}
	if len(c.Request.Form) == 0 {
		return nil, errors.New("empty payload")
	}

	payload := make(paymentdomain.Payload, len(c.Request.Form))
	for key, values := range c.Request.Form {
		if len(values) == 0 {
			continue
		}
		payload[key] = values[0]
	}
	return payload, nil
}

var returnSecretFields = []string{"key", "md5_hash"}

func returnLocation(base string, payload paymentdomain.Payload, res paymentdomain.Result) (string, error) {
	base = strings.TrimSpace(base)
	if base == "" {
		return "", nil
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", errors.New("return url must be absolute http(s)")
	}

	query := u.Query()
	for k, v := range payload.Without(returnSecretFields...) {
		query.Set(k, v)
	}
	if res.TransactionID != 0 {
		query.Set("transaction_id", res.TransactionID.String())
	}
	u.RawQuery = query.Encode()
	return u.String(), nil
}
