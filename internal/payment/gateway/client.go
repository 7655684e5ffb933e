package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/smallbiznis/payrecon/internal/config"
	obsmetrics "github.com/smallbiznis/payrecon/internal/observability/metrics"
	obstracing "github.com/smallbiznis/payrecon/internal/observability/tracing"
	paymentdomain "github.com/smallbiznis/payrecon/internal/payment/domain"
	settingsdomain "github.com/smallbiznis/payrecon/internal/settings/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	stopRecurringPath = "/sales/stop_lineitem_recurring"
	operationStop     = "stop_lineitem_recurring"
	maxErrorBody      = 4 << 10
)

var errCredentialsMissing = errors.New("gateway api credentials are not configured")

type apiResponse struct {
	ResponseCode    string `json:"response_code"`
	ResponseMessage string `json:"response_message"`
	Errors          []struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

type Params struct {
	fx.In

	Cfg      config.Config
	Log      *zap.Logger
	Settings settingsdomain.Store
	Metrics  *obsmetrics.Metrics `optional:"true"`
}

// Client calls the gateway's back-office API. Credentials are read from the
// settings store on every call so a reload takes effect immediately.
type Client struct {
	settings settingsdomain.Store
	http     *http.Client
	log      *zap.Logger
	metrics  *obsmetrics.Metrics
}

func NewClient(p Params) paymentdomain.GatewayClient {
	timeout := p.Cfg.Gateway.APITimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		settings: p.Settings,
		http:     obstracing.WrapHTTPClient(&http.Client{Timeout: timeout}),
		log:      p.Log.Named("payment.gateway"),
		metrics:  p.Metrics,
	}
}

// StopRecurring stops billing for the recurring line item identified by subscriberID.
// Every failure wraps ErrGatewayUnavailable.
func (c *Client) StopRecurring(ctx context.Context, subscriberID string) error {
	subscriberID = strings.TrimSpace(subscriberID)
	if subscriberID == "" {
		return fmt.Errorf("%w: subscriber id is required", paymentdomain.ErrGatewayUnavailable)
	}

	settings, err := c.settings.Gateway(ctx)
	if err != nil {
		return errors.Join(paymentdomain.ErrGatewayUnavailable, err)
	}
	api := settings.API
	if strings.TrimSpace(api.BaseURL) == "" || strings.TrimSpace(api.Username) == "" {
		return errors.Join(paymentdomain.ErrGatewayUnavailable, errCredentialsMissing)
	}

	form := url.Values{}
	form.Set("lineitem_id", subscriberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(api.BaseURL, "/")+stopRecurringPath, strings.NewReader(form.Encode()))
	if err != nil {
		return errors.Join(paymentdomain.ErrGatewayUnavailable, err)
	}
	req.SetBasicAuth(api.Username, api.Password)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.RecordGatewayRequest(ctx, operationStop, 0)
		return errors.Join(paymentdomain.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()
	c.metrics.RecordGatewayRequest(ctx, operationStop, resp.StatusCode)

	var body apiResponse
	decodeErr := json.NewDecoder(io.LimitReader(resp.Body, maxErrorBody)).Decode(&body)

	if resp.StatusCode >= http.StatusBadRequest || len(body.Errors) > 0 {
		message := http.StatusText(resp.StatusCode)
		if len(body.Errors) > 0 {
			message = strings.TrimSpace(body.Errors[0].Code + " " + body.Errors[0].Message)
		}
		c.log.Warn("gateway refused to stop recurring billing",
			zap.String("subscriber_id", subscriberID),
			zap.Int("status_code", resp.StatusCode),
			zap.String("message", message),
		)
		return fmt.Errorf("%w: %s", paymentdomain.ErrGatewayUnavailable, message)
	}
	if decodeErr != nil {
		return fmt.Errorf("%w: decode response: %v", paymentdomain.ErrGatewayUnavailable, decodeErr)
	}
	if !strings.EqualFold(body.ResponseCode, "OK") {
		return fmt.Errorf("%w: unexpected response code %q", paymentdomain.ErrGatewayUnavailable, body.ResponseCode)
	}

	c.log.Info("gateway stopped recurring billing", zap.String("subscriber_id", subscriberID))
	return nil
}
