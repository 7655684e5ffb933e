package domain

import (
	"context"
	"errors"
)

// Credentials identify the merchant account at the gateway.
type Credentials struct {
	MerchantID   string `mapstructure:"merchantId"`
	SharedSecret string `mapstructure:"sharedSecret"`
	SandboxMode  bool   `mapstructure:"sandboxMode"`
}

// Mode returns "sandbox" or "live".
func (c Credentials) Mode() string {
	if c.SandboxMode {
		return "sandbox"
	}
	return "live"
}

// API holds the credentials for outbound gateway API calls.
type API struct {
	BaseURL  string `mapstructure:"baseUrl"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// Display holds checkout presentation settings.
type Display struct {
	ButtonLabel          string `mapstructure:"buttonLabel" json:"button_label"`
	DefaultPaymentMethod string `mapstructure:"defaultPaymentMethod" json:"default_payment_method"`
	ReturnURL            string `mapstructure:"returnUrl" json:"-"`
}

// GatewaySettings is the full gateway configuration snapshot.
type GatewaySettings struct {
	Credentials Credentials `mapstructure:"credentials"`
	API         API         `mapstructure:"api"`
	Display     Display     `mapstructure:"display"`
}

var (
	ErrMerchantIDMissing = errors.New("gateway merchant id is required")
	ErrSecretMissing     = errors.New("gateway shared secret is required")
)

// Validate checks the settings required to verify notifications.
func (s GatewaySettings) Validate() error {
	if s.Credentials.MerchantID == "" {
		return ErrMerchantIDMissing
	}
	if s.Credentials.SharedSecret == "" && !s.Credentials.SandboxMode {
		return ErrSecretMissing
	}
	return nil
}

// Store gives read-only access to gateway settings.
type Store interface {
	Gateway(ctx context.Context) (GatewaySettings, error)
}

// StaticStore serves a fixed snapshot.
type StaticStore GatewaySettings

func (s StaticStore) Gateway(ctx context.Context) (GatewaySettings, error) {
	if err := ctx.Err(); err != nil {
		return GatewaySettings{}, err
	}
	return GatewaySettings(s), nil
}
