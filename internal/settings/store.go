package settings

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/smallbiznis/payrecon/internal/config"
	"github.com/smallbiznis/payrecon/internal/settings/domain"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Holder serves the current gateway settings and reloads them when the file changes.
type Holder struct {
	current atomic.Value // holds domain.GatewaySettings
	log     *zap.Logger
}

// Defaults builds gateway settings from environment configuration.
func Defaults(cfg config.Config) domain.GatewaySettings {
	gw := cfg.Gateway
	return domain.GatewaySettings{
		Credentials: domain.Credentials{
			MerchantID:   gw.MerchantID,
			SharedSecret: gw.SharedSecret,
			SandboxMode:  gw.SandboxMode,
		},
		API: domain.API{
			BaseURL:  gw.APIBaseURL,
			Username: gw.APIUsername,
			Password: gw.APIPassword,
		},
		Display: domain.Display{
			ButtonLabel:          gw.ButtonLabel,
			DefaultPaymentMethod: gw.DefaultPaymentMethod,
			ReturnURL:            gw.ReturnURL,
		},
	}
}

// NewHolder loads gateway settings from the optional settings file, falling back to env defaults.
func NewHolder(cfg config.Config, log *zap.Logger) (*Holder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	defaults := Defaults(cfg)
	holder := &Holder{log: log.Named("settings")}

	v := viper.New()
	if path := strings.TrimSpace(cfg.Gateway.SettingsFile); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("gateway")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/payrecon")
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix("PAYRECON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, defaults)

	fromFile := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		fromFile = false
	}

	settings, err := decode(v)
	if err != nil {
		return nil, err
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	holder.current.Store(settings)

	if fromFile {
		v.WatchConfig()
		v.OnConfigChange(func(e fsnotify.Event) {
			updated, err := decode(v)
			if err != nil {
				holder.log.Warn("gateway settings reload failed", zap.Error(err))
				return
			}
			if err := updated.Validate(); err != nil {
				holder.log.Warn("invalid gateway settings ignored", zap.Error(err))
				return
			}
			holder.current.Store(updated)
			holder.log.Info("gateway settings reloaded",
				zap.String("file", e.Name),
				zap.String("mode", updated.Credentials.Mode()),
			)
		})
	}

	return holder, nil
}

// Gateway returns the latest settings snapshot.
func (h *Holder) Gateway(ctx context.Context) (domain.GatewaySettings, error) {
	if err := ctx.Err(); err != nil {
		return domain.GatewaySettings{}, err
	}
	return h.current.Load().(domain.GatewaySettings), nil
}

func setDefaults(v *viper.Viper, d domain.GatewaySettings) {
	v.SetDefault("gateway.credentials.merchantId", d.Credentials.MerchantID)
	v.SetDefault("gateway.credentials.sharedSecret", d.Credentials.SharedSecret)
	v.SetDefault("gateway.credentials.sandboxMode", d.Credentials.SandboxMode)
	v.SetDefault("gateway.api.baseUrl", d.API.BaseURL)
	v.SetDefault("gateway.api.username", d.API.Username)
	v.SetDefault("gateway.api.password", d.API.Password)
	v.SetDefault("gateway.display.buttonLabel", d.Display.ButtonLabel)
	v.SetDefault("gateway.display.defaultPaymentMethod", d.Display.DefaultPaymentMethod)
	v.SetDefault("gateway.display.returnUrl", d.Display.ReturnURL)
}

func decode(v *viper.Viper) (domain.GatewaySettings, error) {
	var settings domain.GatewaySettings
	if err := v.UnmarshalKey("gateway", &settings); err != nil {
		return domain.GatewaySettings{}, err
	}
	settings.Credentials.MerchantID = strings.TrimSpace(settings.Credentials.MerchantID)
	settings.Credentials.SharedSecret = strings.TrimSpace(settings.Credentials.SharedSecret)
	settings.API.BaseURL = strings.TrimRight(strings.TrimSpace(settings.API.BaseURL), "/")
	return settings, nil
}

var _ domain.Store = (*Holder)(nil)
