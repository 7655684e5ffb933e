package gateway_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/smallbiznis/payrecon/internal/config"
	paymentdomain "github.com/smallbiznis/payrecon/internal/payment/domain"
	"github.com/smallbiznis/payrecon/internal/payment/gateway"
	settingsdomain "github.com/smallbiznis/payrecon/internal/settings/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newClient(baseURL string) paymentdomain.GatewayClient {
	return gateway.NewClient(gateway.Params{
		Cfg: config.Config{Gateway: config.GatewayConfig{APITimeout: time.Second}},
		Log: zap.NewNop(),
		Settings: settingsdomain.StaticStore{
			Credentials: settingsdomain.Credentials{MerchantID: "M1", SharedSecret: "tango"},
			API:         settingsdomain.API{BaseURL: baseURL, Username: "api-user", Password: "api-pass"},
		},
	})
}

func TestStopRecurring(t *testing.T) {
	var (
		gotPath     string
		gotLineItem string
		gotUser     string
		gotPass     string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = r.ParseForm()
		gotLineItem = r.PostForm.Get("lineitem_id")
		gotUser, gotPass, _ = r.BasicAuth()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"response_code":"OK","response_message":"Recurring billing stopped for lineitem"}`))
	}))
	defer srv.Close()

	err := newClient(srv.URL+"/").StopRecurring(context.Background(), "R1")

	require.NoError(t, err)
	assert.Equal(t, "/sales/stop_lineitem_recurring", gotPath)
	assert.Equal(t, "R1", gotLineItem)
	assert.Equal(t, "api-user", gotUser)
	assert.Equal(t, "api-pass", gotPass)
}

func TestStopRecurringFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{name: "api error", status: http.StatusBadRequest, body: `{"errors":[{"code":"RECORD_NOT_FOUND","message":"Unable to find record."}]}`},
		{name: "server error", status: http.StatusBadGateway, body: `oops`},
		{name: "unexpected code", status: http.StatusOK, body: `{"response_code":"PENDING"}`},
		{name: "bad json", status: http.StatusOK, body: `not json`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			err := newClient(srv.URL).StopRecurring(context.Background(), "R1")

			assert.ErrorIs(t, err, paymentdomain.ErrGatewayUnavailable)
		})
	}
}

func TestStopRecurringUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	err := newClient(url).StopRecurring(context.Background(), "R1")

	assert.ErrorIs(t, err, paymentdomain.ErrGatewayUnavailable)
}

func TestStopRecurringWithoutCredentials(t *testing.T) {
	err := newClient("").StopRecurring(context.Background(), "R1")
	assert.ErrorIs(t, err, paymentdomain.ErrGatewayUnavailable)

	err = newClient("http://127.0.0.1:1").StopRecurring(context.Background(), " ")
	assert.ErrorIs(t, err, paymentdomain.ErrGatewayUnavailable)
}
