package observability

import (
	"os"
	"strconv"
	"strings"

	"github.com/smallbiznis/payrecon/internal/config"
)

const defaultServiceName = "payrecon"

// Config holds the logging and tracing settings for the reconciler.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel  string
	LogFormat string

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelExporterProtocol string
	OtelSamplingRatio    float64
}

// LoadConfig reads PAYRECON_* variables first and falls back to the generic
// LOG_* and OTEL_* names, then to the application config.
func LoadConfig(cfg config.Config) Config {
	out := Config{
		ServiceName:          firstNonEmpty(cfg.AppName, defaultServiceName),
		Environment:          firstNonEmpty(lookup("PAYRECON_ENV", "DEPLOYMENT_ENV"), cfg.Environment),
		Version:              firstNonEmpty(lookup("PAYRECON_VERSION", "SERVICE_VERSION"), cfg.AppVersion),
		LogLevel:             strings.ToLower(firstNonEmpty(lookup("PAYRECON_LOG_LEVEL", "LOG_LEVEL"), "info")),
		LogFormat:            strings.ToLower(firstNonEmpty(lookup("PAYRECON_LOG_FORMAT", "LOG_FORMAT"), "json")),
		OtelEnabled:          true,
		OtelExporterEndpoint: firstNonEmpty(lookup("OTEL_EXPORTER_OTLP_ENDPOINT"), cfg.OTLPEndpoint),
		OtelExporterProtocol: strings.ToLower(firstNonEmpty(lookup("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL", "OTEL_EXPORTER_OTLP_PROTOCOL"), "grpc")),
		OtelSamplingRatio:    0.1,
	}
	if raw := lookup("OTEL_ENABLED"); raw != "" {
		if enabled, err := strconv.ParseBool(raw); err == nil {
			out.OtelEnabled = enabled
		}
	}
	if raw := lookup("OTEL_SAMPLING_RATIO"); raw != "" {
		if ratio, err := strconv.ParseFloat(raw, 64); err == nil && ratio >= 0 && ratio <= 1 {
			out.OtelSamplingRatio = ratio
		}
	}
	return out
}

// Debug is true for debug logging or a development environment.
func (c Config) Debug() bool {
	if strings.EqualFold(strings.TrimSpace(c.LogLevel), "debug") {
		return true
	}
	switch strings.ToLower(strings.TrimSpace(c.Environment)) {
	case "dev", "development", "local", "test":
		return true
	}
	return false
}

// lookup returns the first non-blank variable among keys.
func lookup(keys ...string) string {
	for _, key := range keys {
		if value := strings.TrimSpace(os.Getenv(key)); value != "" {
			return value
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
