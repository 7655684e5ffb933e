package signature

import (
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"strings"

	paymentdomain "github.com/smallbiznis/payrecon/internal/payment/domain"
	settingsdomain "github.com/smallbiznis/payrecon/internal/settings/domain"
)

// Verify checks the signature carried by payload for the given notification kind.
// Sandbox mode comes from credentials only; nothing in payload can select it.
func Verify(payload paymentdomain.Payload, kind paymentdomain.Kind, creds settingsdomain.Credentials) bool {
	var (
		fields   []string
		sigField string
		ok       bool
	)
	switch kind {
	case paymentdomain.KindAsyncPush, paymentdomain.KindSubscriptionEvent:
		fields, ok = collect(payload,
			paymentdomain.FieldSaleID,
			paymentdomain.FieldVendorID,
			paymentdomain.FieldInvoiceID,
		)
		sigField = paymentdomain.FieldMD5Hash
	case paymentdomain.KindSyncReturn:
		fields, ok = collect(payload,
			paymentdomain.FieldSID,
			paymentdomain.FieldOrderNumber,
			paymentdomain.FieldTotal,
		)
		sigField = paymentdomain.FieldKey
	default:
		return false
	}
	if !ok {
		return false
	}

	provided := payload.Value(sigField)
	if provided == "" {
		return false
	}
	if creds.SandboxMode {
		return true
	}

	secret := creds.SharedSecret
	if strings.TrimSpace(secret) == "" {
		return false
	}

	var expected string
	if kind == paymentdomain.KindSyncReturn {
		expected = Compute(secret, fields[0], fields[1], fields[2])
	} else {
		expected = Compute(fields[0], fields[1], fields[2], secret)
	}
	return Equal(expected, provided)
}

// Compute returns the upper-case hex MD5 of the concatenated parts.
func Compute(parts ...string) string {
	sum := md5.Sum([]byte(strings.Join(parts, "")))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// Equal compares two hex digests case-insensitively in constant time.
func Equal(expected, provided string) bool {
	a := []byte(strings.ToUpper(strings.TrimSpace(expected)))
	b := []byte(strings.ToUpper(strings.TrimSpace(provided)))
	return subtle.ConstantTimeCompare(a, b) == 1
}

func collect(payload paymentdomain.Payload, keys ...string) ([]string, bool) {
	values := make([]string, 0, len(keys))
	for _, key := range keys {
		v, ok := payload.Get(key)
		if !ok || v == "" {
			return nil, false
		}
		values = append(values, v)
	}
	return values, true
}
