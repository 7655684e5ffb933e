package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

const (
	StoreReasonDeadlineExceeded     = "deadline_exceeded"
	StoreReasonDBLockTimeout        = "db_lock_timeout"
	StoreReasonSerializationFailure = "serialization_failure"
	StoreReasonUniqueViolation      = "unique_violation"
	StoreReasonUnknown              = "unknown"
)

const (
	LockBackendLocal = "local"
	LockBackendRedis = "redis"
)

// ReconcileMetrics captures engine health: handling latency, per-key lock
// contention and store failures.
type ReconcileMetrics struct {
	handleDuration *prometheus.HistogramVec
	lockWait       *prometheus.HistogramVec
	lockTimeouts   *prometheus.CounterVec
	storeErrors    *prometheus.CounterVec
	receipts       *prometheus.CounterVec
	lockObservers  map[string]prometheus.Observer
}

var (
	reconcileMetricsOnce sync.Once
	reconcileMetrics     *ReconcileMetrics
)

// Reconcile returns the singleton engine metrics registry.
func Reconcile() *ReconcileMetrics {
	return ReconcileWithConfig(Config{})
}

// ReconcileWithConfig returns the singleton engine metrics registry using config labels.
func ReconcileWithConfig(cfg Config) *ReconcileMetrics {
	reconcileMetricsOnce.Do(func() {
		reconcileMetrics = newReconcileMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return reconcileMetrics
}

func newReconcileMetrics(registerer prometheus.Registerer, cfg Config) *ReconcileMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	constLabels := constLabels(cfg)

	handleDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "payrecon_notification_handle_duration_seconds",
		Help:        "Notification handling latency including lock wait and commit.",
		Buckets:     []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		ConstLabels: constLabels,
	}, []string{"kind", "outcome"})
	lockWait := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "payrecon_lock_wait_seconds",
		Help:        "Time spent waiting for the per-gateway-id lock.",
		Buckets:     []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		ConstLabels: constLabels,
	}, []string{"backend"})
	lockTimeouts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "payrecon_lock_timeouts_total",
		Help:        "Per-gateway-id lock acquisitions abandoned at the deadline.",
		ConstLabels: constLabels,
	}, []string{"backend"})
	storeErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "payrecon_store_errors_total",
		Help:        "Transaction store failures by low-cardinality reason.",
		ConstLabels: constLabels,
	}, []string{"reason"})
	receipts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "payrecon_receipts_total",
		Help:        "Notification receipts written by kind.",
		ConstLabels: constLabels,
	}, []string{"kind"})

	registerer.MustRegister(handleDuration, lockWait, lockTimeouts, storeErrors, receipts)

	return &ReconcileMetrics{
		handleDuration: handleDuration,
		lockWait:       lockWait,
		lockTimeouts:   lockTimeouts,
		storeErrors:    storeErrors,
		receipts:       receipts,
		lockObservers: map[string]prometheus.Observer{
			LockBackendLocal: lockWait.WithLabelValues(LockBackendLocal),
			LockBackendRedis: lockWait.WithLabelValues(LockBackendRedis),
		},
	}
}

// ObserveHandle records how long one notification took end to end.
func (m *ReconcileMetrics) ObserveHandle(kind, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.handleDuration.WithLabelValues(labelOrUnknown(kind), labelOrUnknown(outcome)).Observe(duration.Seconds())
}

// ObserveLockWait records the time spent acquiring a per-key lock.
func (m *ReconcileMetrics) ObserveLockWait(backend string, duration time.Duration) {
	if m == nil {
		return
	}
	if observer, ok := m.lockObservers[backend]; ok {
		observer.Observe(duration.Seconds())
		return
	}
	m.lockWait.WithLabelValues(labelOrUnknown(backend)).Observe(duration.Seconds())
}

// IncLockTimeout counts a lock acquisition that hit its deadline.
func (m *ReconcileMetrics) IncLockTimeout(backend string) {
	if m == nil {
		return
	}
	m.lockTimeouts.WithLabelValues(labelOrUnknown(backend)).Inc()
}

// IncStoreError counts a store failure with classification.
func (m *ReconcileMetrics) IncStoreError(err error) {
	if m == nil || err == nil {
		return
	}
	m.storeErrors.WithLabelValues(ClassifyStoreReason(err)).Inc()
}

// IncReceipt counts a receipt row written for an applied notification.
func (m *ReconcileMetrics) IncReceipt(kind string) {
	if m == nil {
		return
	}
	m.receipts.WithLabelValues(labelOrUnknown(kind)).Inc()
}

// ClassifyStoreReason maps store errors to low-cardinality reasons.
func ClassifyStoreReason(err error) string {
	if err == nil {
		return StoreReasonUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return StoreReasonDeadlineExceeded
	}
	if hasPGCode(err, "55P03") {
		return StoreReasonDBLockTimeout
	}
	if hasPGCode(err, "40001") {
		return StoreReasonSerializationFailure
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) || hasPGCode(err, "23505") {
		return StoreReasonUniqueViolation
	}
	return StoreReasonUnknown
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}

func constLabels(cfg Config) prometheus.Labels {
	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "payrecon"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	return prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}
}

func labelOrUnknown(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "unknown"
	}
	return value
}
