package lock

import (
	"context"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/payrecon/internal/config"
	"github.com/smallbiznis/payrecon/internal/observability/metrics"
	"github.com/smallbiznis/payrecon/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Cfg     config.Config
	Client  *redis.Client             `optional:"true"`
	Metrics *metrics.ReconcileMetrics `optional:"true"`
	Log     *zap.Logger
}

// New picks the Redis locker when a client is configured, otherwise the
// in-process one, and records wait time for either.
func New(p Params) domain.Locker {
	backend := metrics.LockBackendLocal
	var inner domain.Locker = NewLocal()
	if p.Client != nil {
		backend = metrics.LockBackendRedis
		inner = NewRedis(p.Client, p.Cfg.Reconcile.LockTTL)
	}
	p.Log.Named("payment.lock").Info("per-gateway-id locking", zap.String("backend", backend))
	return &instrumented{inner: inner, backend: backend, metrics: p.Metrics}
}

type instrumented struct {
	inner   domain.Locker
	backend string
	metrics *metrics.ReconcileMetrics
}

func (l *instrumented) Lock(ctx context.Context, key string) (func(), error) {
	start := time.Now()
	release, err := l.inner.Lock(ctx, key)
	l.metrics.ObserveLockWait(l.backend, time.Since(start))
	if errors.Is(err, domain.ErrLockTimeout) {
		l.metrics.IncLockTimeout(l.backend)
	}
	return release, err
}
