package tracing

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
)

// Payload fields that must never be attached to a span.
var forbiddenAttributeKeys = map[attribute.Key]struct{}{
	"md5_hash":       {},
	"key":            {},
	"secret":         {},
	"shared_secret":  {},
	"customer_email": {},
	"password":       {},
}

// ExtractContext restores the remote span context carried by inbound headers.
func ExtractContext(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}

// SafeAttributes drops attributes that could carry secrets or customer data.
func SafeAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		key := attribute.Key(strings.ToLower(string(attr.Key)))
		if _, ok := forbiddenAttributeKeys[key]; ok {
			continue
		}
		out = append(out, attr)
	}
	return out
}

// SafeError strips the error chain down to its message so wrapped payload
// values are not exported with the span.
func SafeError(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.TrimSpace(err.Error())
	if msg == "" {
		return nil
	}
	if len(msg) > 256 {
		msg = msg[:256]
	}
	return errors.New(msg)
}
