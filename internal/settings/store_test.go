package settings

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/smallbiznis/payrecon/internal/config"
	"github.com/smallbiznis/payrecon/internal/settings/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewHolderUsesEnvDefaultsWithoutFile(t *testing.T) {
	cfg := config.Config{Gateway: config.GatewayConfig{
		MerchantID:   "901234",
		SharedSecret: "tango",
		ButtonLabel:  "Pay now",
	}}

	holder, err := NewHolder(cfg, zap.NewNop())
	require.NoError(t, err)

	settings, err := holder.Gateway(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "901234", settings.Credentials.MerchantID)
	assert.Equal(t, "tango", settings.Credentials.SharedSecret)
	assert.False(t, settings.Credentials.SandboxMode)
	assert.Equal(t, "Pay now", settings.Display.ButtonLabel)
}

func TestNewHolderReadsSettingsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.yml")
	content := []byte(`gateway:
  credentials:
    merchantId: "250111"
    sharedSecret: " file-secret "
    sandboxMode: true
  api:
    baseUrl: "https://sandbox.2checkout.com/api/"
  display:
    buttonLabel: "Checkout"
    returnUrl: "https://shop.example.com/thanks"
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	cfg := config.Config{Gateway: config.GatewayConfig{
		SettingsFile: path,
		MerchantID:   "ignored",
		SharedSecret: "ignored",
	}}
	holder, err := NewHolder(cfg, zap.NewNop())
	require.NoError(t, err)

	settings, err := holder.Gateway(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "250111", settings.Credentials.MerchantID)
	assert.Equal(t, "file-secret", settings.Credentials.SharedSecret)
	assert.True(t, settings.Credentials.SandboxMode)
	assert.Equal(t, "sandbox", settings.Credentials.Mode())
	assert.Equal(t, "https://sandbox.2checkout.com/api", settings.API.BaseURL)
	assert.Equal(t, "https://shop.example.com/thanks", settings.Display.ReturnURL)
}

func TestNewHolderRejectsMissingMerchant(t *testing.T) {
	_, err := NewHolder(config.Config{}, zap.NewNop())
	assert.ErrorIs(t, err, domain.ErrMerchantIDMissing)
}

func TestGatewayHonoursCancelledContext(t *testing.T) {
	holder, err := NewHolder(config.Config{Gateway: config.GatewayConfig{
		MerchantID:   "1",
		SharedSecret: "s",
	}}, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = holder.Gateway(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
