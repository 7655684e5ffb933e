package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/payrecon/internal/config"
	"github.com/smallbiznis/payrecon/internal/observability"
	paymentdomain "github.com/smallbiznis/payrecon/internal/payment/domain"
	settingsdomain "github.com/smallbiznis/payrecon/internal/settings/domain"
	"github.com/smallbiznis/payrecon/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRouter struct {
	result   paymentdomain.Result
	key      string
	payloads []paymentdomain.Payload
}

func (r *fakeRouter) Register(string, paymentdomain.Handler) error { return nil }

func (r *fakeRouter) Dispatch(_ context.Context, key string, payload paymentdomain.Payload) paymentdomain.Result {
	r.key = key
	r.payloads = append(r.payloads, payload)
	return r.result
}

type fakeService struct {
	txn         *paymentdomain.Transaction
	txnErr      error
	page        paymentdomain.ReceiptPage
	pageErr     error
	pageQuery   pagination.Pagination
	cancel      paymentdomain.Result
	cancelledID snowflake.ID
}

func (s *fakeService) Handle(context.Context, paymentdomain.Payload) paymentdomain.Result {
	return paymentdomain.Rejected(paymentdomain.ReasonUnsupportedNotification)
}

func (s *fakeService) CancelSubscription(_ context.Context, id snowflake.ID) paymentdomain.Result {
	s.cancelledID = id
	return s.cancel
}

func (s *fakeService) GetTransaction(context.Context, snowflake.ID) (*paymentdomain.Transaction, error) {
	return s.txn, s.txnErr
}

func (s *fakeService) ListReceipts(_ context.Context, _ snowflake.ID, page pagination.Pagination) (paymentdomain.ReceiptPage, error) {
	s.pageQuery = page
	return s.page, s.pageErr
}

type fakeDisputes struct {
	status paymentdomain.TransactionStatus
	note   string
	result paymentdomain.Result
}

func (d *fakeDisputes) MarkDispute(_ context.Context, _ snowflake.ID, status paymentdomain.TransactionStatus, note string) paymentdomain.Result {
	d.status = status
	d.note = note
	return d.result
}

type failingSettings struct{}

func (failingSettings) Gateway(context.Context) (settingsdomain.GatewaySettings, error) {
	return settingsdomain.GatewaySettings{}, errors.New("settings file missing")
}

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T, router *fakeRouter, svc *fakeService, settings settingsdomain.Store) *Server {
	t.Helper()
	return newTestServerWithDisputes(t, router, svc, settings, &fakeDisputes{})
}

func newTestServerWithDisputes(t *testing.T, router *fakeRouter, svc *fakeService, settings settingsdomain.Store, disputes *fakeDisputes) *Server {
	t.Helper()
	if settings == nil {
		settings = settingsdomain.StaticStore{
			Credentials: settingsdomain.Credentials{MerchantID: "M1", SharedSecret: "tango"},
			Display: settingsdomain.Display{
				ButtonLabel:          "Pay now",
				DefaultPaymentMethod: "card",
				ReturnURL:            "https://shop.example/thanks?source=checkout",
			},
		}
	}
	return NewServer(ServerParams{
		Gin:        NewEngine(EngineParams{ObsCfg: observability.Config{LogLevel: "error"}}),
		Cfg:        config.Config{},
		Router:     router,
		PaymentSvc: svc,
		Disputes:   disputes,
		Settings:   settings,
	})
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Engine().ServeHTTP(rec, req)
	return rec
}

func formRequest(method, target string, form url.Values) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var body errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error
}

func TestHandleWebhookAccepted(t *testing.T) {
	router := &fakeRouter{result: paymentdomain.Applied(snowflake.ID(7))}
	s := newTestServer(t, router, &fakeService{}, nil)

	rec := serve(s, formRequest(http.MethodPost, "/webhooks/TwoCheckout", url.Values{
		"sale_id":  {"S1", "S2"},
		"md5_hash": {"ABC"},
	}))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "TwoCheckout", router.key)
	require.Len(t, router.payloads, 1)
	assert.Equal(t, "S1", router.payloads[0]["sale_id"])

	var body struct {
		Data paymentdomain.Result `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, paymentdomain.OutcomeApplied, body.Data.Outcome)
	assert.Equal(t, snowflake.ID(7), body.Data.TransactionID)
}

func TestHandleWebhookDuplicateIsOK(t *testing.T) {
	router := &fakeRouter{result: paymentdomain.Duplicate(snowflake.ID(7))}
	s := newTestServer(t, router, &fakeService{}, nil)

	rec := serve(s, formRequest(http.MethodPost, "/webhooks/twocheckout", url.Values{"sale_id": {"S1"}}))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleWebhookRejections(t *testing.T) {
	cases := []struct {
		reason paymentdomain.Reason
		status int
	}{
		{paymentdomain.ReasonInvalidSignature, http.StatusUnauthorized},
		{paymentdomain.ReasonAccountMismatch, http.StatusForbidden},
		{paymentdomain.ReasonUnsupportedNotification, http.StatusUnprocessableEntity},
		{paymentdomain.ReasonMalformedPayload, http.StatusBadRequest},
		{paymentdomain.ReasonUnknownTransaction, http.StatusNotFound},
		{paymentdomain.ReasonRefundOverflow, http.StatusConflict},
		{paymentdomain.ReasonStoreUnavailable, http.StatusServiceUnavailable},
		{paymentdomain.ReasonGatewayUnavailable, http.StatusBadGateway},
	}

	for _, tc := range cases {
		t.Run(string(tc.reason), func(t *testing.T) {
			router := &fakeRouter{result: paymentdomain.Rejected(tc.reason)}
			s := newTestServer(t, router, &fakeService{}, nil)

			rec := serve(s, formRequest(http.MethodPost, "/webhooks/twocheckout", url.Values{"sale_id": {"S1"}}))

			require.Equal(t, tc.status, rec.Code)
			payload := decodeError(t, rec)
			assert.Equal(t, "rejected", payload.Type)
			assert.Equal(t, string(tc.reason), payload.Reason)
			assert.NotEmpty(t, payload.Message)
		})
	}
}

func TestHandleWebhookEmptyBody(t *testing.T) {
	router := &fakeRouter{result: paymentdomain.Applied(snowflake.ID(7))}
	s := newTestServer(t, router, &fakeService{}, nil)

	rec := serve(s, formRequest(http.MethodPost, "/webhooks/twocheckout", url.Values{}))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(paymentdomain.ReasonMalformedPayload), decodeError(t, rec).Reason)
	assert.Empty(t, router.payloads)
}

func TestHandleWebhookOversizedBody(t *testing.T) {
	router := &fakeRouter{result: paymentdomain.Applied(snowflake.ID(7))}
	s := newTestServer(t, router, &fakeService{}, nil)

	big := url.Values{"sale_id": {strings.Repeat("x", maxPayloadBytes+1)}}
	rec := serve(s, formRequest(http.MethodPost, "/webhooks/twocheckout", big))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, router.payloads)
}

func TestCheckoutReturnRedirects(t *testing.T) {
	router := &fakeRouter{result: paymentdomain.Applied(snowflake.ID(9))}
	s := newTestServer(t, router, &fakeService{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/checkout/twocheckout/return?order_number=O1&total=10.00&key=SECRET", nil)
	rec := serve(s, req)

	require.Equal(t, http.StatusFound, rec.Code)
	location, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "shop.example", location.Host)
	query := location.Query()
	assert.Equal(t, "checkout", query.Get("source"))
	assert.Equal(t, "O1", query.Get("order_number"))
	assert.Equal(t, "9", query.Get("transaction_id"))
	assert.False(t, query.Has("key"))
}

func TestCheckoutReturnWithoutReturnURL(t *testing.T) {
	router := &fakeRouter{result: paymentdomain.Duplicate(snowflake.ID(9))}
	settings := settingsdomain.StaticStore{
		Credentials: settingsdomain.Credentials{MerchantID: "M1", SharedSecret: "tango"},
	}
	s := newTestServer(t, router, &fakeService{}, settings)

	rec := serve(s, formRequest(http.MethodPost, "/checkout/twocheckout/return", url.Values{"order_number": {"O1"}}))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCheckoutReturnRejected(t *testing.T) {
	router := &fakeRouter{result: paymentdomain.Rejected(paymentdomain.ReasonInvalidSignature)}
	s := newTestServer(t, router, &fakeService{}, nil)

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/checkout/twocheckout/return?order_number=O1", nil))

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, rec.Header().Get("Location"))
}

func TestGetCheckoutSettings(t *testing.T) {
	s := newTestServer(t, &fakeRouter{}, &fakeService{}, nil)

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/checkout/settings", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `"button_label":"Pay now"`)
	assert.Contains(t, body, `"mode":"live"`)
	assert.NotContains(t, body, "tango")
	assert.NotContains(t, body, "shop.example")
}

func TestGetCheckoutSettingsUnavailable(t *testing.T) {
	s := newTestServer(t, &fakeRouter{}, &fakeService{}, failingSettings{})

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/checkout/settings", nil))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "service_unavailable", decodeError(t, rec).Type)
}

func TestGetTransaction(t *testing.T) {
	subscriber := "R1"
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := &fakeService{txn: &paymentdomain.Transaction{
		ID:             snowflake.ID(11),
		GatewayID:      "S1",
		Status:         paymentdomain.StatusPartialRefund,
		Total:          decimal.NewFromInt(50),
		RefundedAmount: decimal.RequireFromString("12.5"),
		SubscriberID:   &subscriber,
		Mode:           paymentdomain.ModeLive,
		CreatedAt:      created,
		UpdatedAt:      created,
	}}
	s := newTestServer(t, &fakeRouter{}, svc, nil)

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/transactions/11", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Data transactionResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "11", body.Data.ID)
	assert.Equal(t, "Partially Refunded", body.Data.StatusLabel)
	assert.True(t, body.Data.ClearedForDelivery)
	assert.Equal(t, "50.00", body.Data.Total)
	assert.Equal(t, "12.50", body.Data.RefundedAmount)
	assert.Equal(t, "R1", body.Data.SubscriberID)
	assert.Nil(t, body.Data.UpdatedAt)
}

func TestGetTransactionErrors(t *testing.T) {
	cases := []struct {
		name   string
		path   string
		err    error
		status int
	}{
		{name: "bad id", path: "/transactions/abc", status: http.StatusBadRequest},
		{name: "missing", path: "/transactions/11", err: paymentdomain.ErrTransactionMissing, status: http.StatusNotFound},
		{name: "store down", path: "/transactions/11", err: errors.Join(paymentdomain.ErrStoreUnavailable, errors.New("timeout")), status: http.StatusServiceUnavailable},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestServer(t, &fakeRouter{}, &fakeService{txnErr: tc.err}, nil)

			rec := serve(s, httptest.NewRequest(http.MethodGet, tc.path, nil))

			assert.Equal(t, tc.status, rec.Code)
		})
	}
}

func TestListReceipts(t *testing.T) {
	svc := &fakeService{page: paymentdomain.ReceiptPage{
		Receipts: []paymentdomain.Receipt{{ID: "01A", Kind: string(paymentdomain.KindAsyncPush)}},
		PageInfo: pagination.PageInfo{NextPageToken: "next", HasMore: true},
	}}
	s := newTestServer(t, &fakeRouter{}, svc, nil)

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/transactions/11/receipts?page_size=1&page_token=abc", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, svc.pageQuery.PageSize)
	assert.Equal(t, "abc", svc.pageQuery.PageToken)
	assert.Contains(t, rec.Body.String(), `"next_page_token":"next"`)
}

func TestListReceiptsInvalidToken(t *testing.T) {
	svc := &fakeService{pageErr: pagination.ErrInvalidPageToken}
	s := newTestServer(t, &fakeRouter{}, svc, nil)

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/transactions/11/receipts?page_token=bad", nil))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", decodeError(t, rec).Type)
}

func TestCancelSubscription(t *testing.T) {
	svc := &fakeService{cancel: paymentdomain.Applied(snowflake.ID(11))}
	s := newTestServer(t, &fakeRouter{}, svc, nil)

	rec := serve(s, httptest.NewRequest(http.MethodPost, "/transactions/11/subscription/cancel", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, snowflake.ID(11), svc.cancelledID)
}

func TestCancelSubscriptionGatewayDown(t *testing.T) {
	svc := &fakeService{cancel: paymentdomain.Rejected(paymentdomain.ReasonGatewayUnavailable)}
	s := newTestServer(t, &fakeRouter{}, svc, nil)

	rec := serve(s, httptest.NewRequest(http.MethodPost, "/transactions/11/subscription/cancel", nil))

	require.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, string(paymentdomain.ReasonGatewayUnavailable), decodeError(t, rec).Reason)
}

func TestClassifyErrorForLog(t *testing.T) {
	errType, code := classifyErrorForLog(&RejectedError{Reason: paymentdomain.ReasonRefundOverflow})
	assert.Equal(t, "rejected", errType)
	assert.Equal(t, "refund_overflow", code)

	errType, _ = classifyErrorForLog(ErrRateLimited)
	assert.Equal(t, "rate_limited", errType)
}

func TestRetryAfterSeconds(t *testing.T) {
	assert.Equal(t, "1", retryAfterSeconds(0))
	assert.Equal(t, "2", retryAfterSeconds(1500*time.Millisecond))
}

func TestReturnLocationRejectsRelativeURL(t *testing.T) {
	_, err := returnLocation("/thanks", paymentdomain.Payload{}, paymentdomain.Applied(snowflake.ID(1)))
	assert.Error(t, err)
}

func TestMarkDispute(t *testing.T) {
	disputes := &fakeDisputes{result: paymentdomain.Applied(snowflake.ID(11))}
	s := newTestServerWithDisputes(t, &fakeRouter{}, &fakeService{}, nil, disputes)

	req := httptest.NewRequest(http.MethodPost, "/transactions/11/dispute", strings.NewReader(`{"status":"Needs_Response","note":"case 42"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := serve(s, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, paymentdomain.StatusNeedsResponse, disputes.status)
	assert.Equal(t, "case 42", disputes.note)
}

func TestMarkDisputeValidation(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{name: "missing status", body: `{}`},
		{name: "not a dispute status", body: `{"status":"refunded"}`},
		{name: "not json", body: `status=won`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			disputes := &fakeDisputes{}
			s := newTestServerWithDisputes(t, &fakeRouter{}, &fakeService{}, nil, disputes)

			req := httptest.NewRequest(http.MethodPost, "/transactions/11/dispute", strings.NewReader(tc.body))
			req.Header.Set("Content-Type", "application/json")
			rec := serve(s, req)

			require.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "validation_error", decodeError(t, rec).Type)
			assert.Empty(t, disputes.status)
		})
	}
}

func TestMarkDisputeRejected(t *testing.T) {
	disputes := &fakeDisputes{result: paymentdomain.Rejected(paymentdomain.ReasonInvalidTransition)}
	s := newTestServerWithDisputes(t, &fakeRouter{}, &fakeService{}, nil, disputes)

	req := httptest.NewRequest(http.MethodPost, "/transactions/11/dispute", strings.NewReader(`{"status":"won"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := serve(s, req)

	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, string(paymentdomain.ReasonInvalidTransition), decodeError(t, rec).Reason)
}
