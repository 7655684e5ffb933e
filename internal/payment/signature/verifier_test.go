package signature

import (
	"strings"
	"testing"

	paymentdomain "github.com/smallbiznis/payrecon/internal/payment/domain"
	settingsdomain "github.com/smallbiznis/payrecon/internal/settings/domain"
	"github.com/stretchr/testify/assert"
)

var creds = settingsdomain.Credentials{MerchantID: "M1", SharedSecret: "tango"}

func pushPayload() paymentdomain.Payload {
	return paymentdomain.Payload{
		"vendor_order_id": "",
		"sale_id":         "S1",
		"invoice_id":      "I1",
		"vendor_id":       "M1",
		"md5_hash":        Compute("S1", "M1", "I1", "tango"),
	}
}

func TestVerifyPushAcceptsValidSignature(t *testing.T) {
	assert.True(t, Verify(pushPayload(), paymentdomain.KindAsyncPush, creds))
}

func TestVerifyPushIsCaseInsensitive(t *testing.T) {
	payload := pushPayload()
	payload["md5_hash"] = strings.ToLower(payload["md5_hash"])
	assert.True(t, Verify(payload, paymentdomain.KindAsyncPush, creds))
}

func TestVerifyPushRejectsAnyFlippedField(t *testing.T) {
	for _, field := range []string{"sale_id", "vendor_id", "invoice_id"} {
		t.Run(field, func(t *testing.T) {
			payload := pushPayload()
			payload[field] = payload[field] + "x"
			assert.False(t, Verify(payload, paymentdomain.KindAsyncPush, creds))
		})
	}
}

func TestVerifyPushRejectsWrongSecret(t *testing.T) {
	other := creds
	other.SharedSecret = "foxtrot"
	assert.False(t, Verify(pushPayload(), paymentdomain.KindAsyncPush, other))
}

func TestVerifyRejectsMissingFields(t *testing.T) {
	for _, field := range []string{"sale_id", "vendor_id", "invoice_id", "md5_hash"} {
		t.Run(field, func(t *testing.T) {
			payload := pushPayload()
			delete(payload, field)
			assert.False(t, Verify(payload, paymentdomain.KindAsyncPush, creds))
		})
	}
}

func TestVerifyReturnUsesSecretFirstOrder(t *testing.T) {
	payload := paymentdomain.Payload{
		"merchant_order_id": "order-7",
		"sid":               "M1",
		"order_number":      "4093",
		"total":             "30.00",
		"key":               Compute("tango", "M1", "4093", "30.00"),
	}
	assert.True(t, Verify(payload, paymentdomain.KindSyncReturn, creds))

	payload["key"] = Compute("M1", "4093", "30.00", "tango")
	assert.False(t, Verify(payload, paymentdomain.KindSyncReturn, creds))
}

func TestVerifySandboxTrustsProvidedHash(t *testing.T) {
	sandbox := settingsdomain.Credentials{MerchantID: "M1", SandboxMode: true}
	payload := pushPayload()
	payload["md5_hash"] = "PRECOMPUTED"
	assert.True(t, Verify(payload, paymentdomain.KindAsyncPush, sandbox))

	payload["md5_hash"] = ""
	assert.False(t, Verify(payload, paymentdomain.KindAsyncPush, sandbox))
}

func TestVerifyIgnoresDemoFlagInPayload(t *testing.T) {
	payload := pushPayload()
	payload["demo"] = "Y"
	payload["md5_hash"] = "PRECOMPUTED"
	assert.False(t, Verify(payload, paymentdomain.KindAsyncPush, creds))
}

func TestVerifyRejectsEmptySecretAndUnknownKind(t *testing.T) {
	assert.False(t, Verify(pushPayload(), paymentdomain.KindAsyncPush, settingsdomain.Credentials{MerchantID: "M1"}))
	assert.False(t, Verify(pushPayload(), paymentdomain.KindUnknown, creds))
}

func TestComputeIsUpperHex(t *testing.T) {
	// md5("abc")
	assert.Equal(t, "900150983CD24FB0D6963F7D28E17F72", Compute("a", "b", "c"))
}
