package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"gorm.io/gorm"
)

func TestClassifyStoreReason(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "deadline",
			err:  fmt.Errorf("find: %w", context.DeadlineExceeded),
			want: StoreReasonDeadlineExceeded,
		},
		{
			name: "db_lock_timeout",
			err:  &pgconn.PgError{Code: "55P03"},
			want: StoreReasonDBLockTimeout,
		},
		{
			name: "serialization_failure",
			err:  &pgconn.PgError{Code: "40001"},
			want: StoreReasonSerializationFailure,
		},
		{
			name: "unique_violation",
			err:  gorm.ErrDuplicatedKey,
			want: StoreReasonUniqueViolation,
		},
		{
			name: "unknown",
			err:  errors.New("boom"),
			want: StoreReasonUnknown,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifyStoreReason(tc.err); got != tc.want {
				t.Fatalf("expected reason %q, got %q", tc.want, got)
			}
		})
	}
}

func TestObserveLockWaitAndTimeouts(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := newReconcileMetrics(registry, Config{
		ServiceName: "payrecon",
		Environment: "test",
	})

	metrics.ObserveLockWait(LockBackendLocal, 10*time.Millisecond)
	metrics.IncLockTimeout(LockBackendRedis)
	metrics.IncLockTimeout(LockBackendRedis)
	metrics.IncStoreError(&pgconn.PgError{Code: "55P03"})

	if got := testutil.CollectAndCount(metrics.lockWait); got != 2 {
		t.Fatalf("expected local and redis lock wait series, got %d", got)
	}
	local := map[string]string{"service": "payrecon", "env": "test", "backend": LockBackendLocal}
	if got := histogramCount(t, registry, "payrecon_lock_wait_seconds", local); got != 1 {
		t.Fatalf("expected 1 local lock wait sample, got %d", got)
	}
	redis := map[string]string{"service": "payrecon", "env": "test", "backend": LockBackendRedis}
	if got := histogramCount(t, registry, "payrecon_lock_wait_seconds", redis); got != 0 {
		t.Fatalf("expected no redis lock wait samples, got %d", got)
	}
	if got := testutil.ToFloat64(metrics.lockTimeouts.WithLabelValues(LockBackendRedis)); got != 2 {
		t.Fatalf("expected 2 lock timeouts, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.storeErrors.WithLabelValues(StoreReasonDBLockTimeout)); got != 1 {
		t.Fatalf("expected 1 store error, got %v", got)
	}
}

func TestNilReconcileMetricsAreSafe(t *testing.T) {
	var m *ReconcileMetrics
	m.ObserveHandle("async_push", "applied", time.Second)
	m.ObserveLockWait(LockBackendLocal, time.Second)
	m.IncLockTimeout(LockBackendLocal)
	m.IncStoreError(errors.New("boom"))
	m.IncReceipt("async_push")
}

func TestObserveHandleRecordsSamples(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := newReconcileMetrics(registry, Config{ServiceName: "payrecon", Environment: "test"})

	metrics.ObserveHandle("async_push", "applied", 20*time.Millisecond)
	metrics.ObserveHandle("async_push", "applied", 40*time.Millisecond)
	metrics.ObserveHandle("", "rejected", time.Millisecond)

	labels := map[string]string{"service": "payrecon", "env": "test", "kind": "async_push", "outcome": "applied"}
	if got := histogramCount(t, registry, "payrecon_notification_handle_duration_seconds", labels); got != 2 {
		t.Fatalf("expected 2 samples, got %d", got)
	}
	labels = map[string]string{"service": "payrecon", "env": "test", "kind": "unknown", "outcome": "rejected"}
	if got := histogramCount(t, registry, "payrecon_notification_handle_duration_seconds", labels); got != 1 {
		t.Fatalf("expected 1 sample, got %d", got)
	}
}

func histogramCount(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) uint64 {
	t.Helper()
	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.Metric {
			if !labelsMatch(metric, labels) {
				continue
			}
			if metric.Histogram == nil {
				t.Fatalf("metric %s is not a histogram", name)
			}
			return metric.GetHistogram().GetSampleCount()
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func labelsMatch(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.Label) != len(labels) {
		return false
	}
	for _, pair := range metric.Label {
		if labels[pair.GetName()] != pair.GetValue() {
			return false
		}
	}
	return true
}
