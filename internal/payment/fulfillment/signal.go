package fulfillment

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/payrecon/internal/clock"
	"github.com/smallbiznis/payrecon/internal/config"
	obsmetrics "github.com/smallbiznis/payrecon/internal/observability/metrics"
	"github.com/smallbiznis/payrecon/internal/payment/domain"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

const EventTransactionCleared = "transaction.cleared"

type Params struct {
	fx.In

	Cfg     config.Config
	Log     *zap.Logger
	Clock   clock.Clock
	Redis   *redis.Client       `optional:"true"`
	Metrics *obsmetrics.Metrics `optional:"true"`
}

// Signal publishes a transaction.cleared event for every transaction that became
// cleared for delivery.
type Signal struct {
	publisher Publisher
	topic     string
	clock     clock.Clock
	log       *zap.Logger
	metrics   *obsmetrics.Metrics
}

// New publishes to Redis when a client is configured and to the log otherwise.
func New(p Params) (domain.Fulfillment, error) {
	log := p.Log.Named("payment.fulfillment")
	publisher := NewLogPublisher(log)
	if p.Redis != nil {
		var err error
		if publisher, err = NewRedisPublisher(p.Redis); err != nil {
			return nil, err
		}
	}
	return NewSignal(publisher, p.Cfg.Reconcile.FulfillmentChannel, p.Clock, log, p.Metrics), nil
}

func NewSignal(publisher Publisher, topic string, clk clock.Clock, log *zap.Logger, metrics *obsmetrics.Metrics) *Signal {
	if clk == nil {
		clk = clock.System{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Signal{
		publisher: publisher,
		topic:     topic,
		clock:     clk,
		log:       log,
		metrics:   metrics,
	}
}

var _ domain.Fulfillment = (*Signal)(nil)

func (s *Signal) TransactionCleared(ctx context.Context, txn domain.Transaction) error {
	event, err := s.event(ctx, txn)
	if err != nil {
		s.metrics.RecordFulfillment(ctx, "encode_failed")
		return err
	}
	data, err := protojson.Marshal(event)
	if err != nil {
		s.metrics.RecordFulfillment(ctx, "encode_failed")
		return fmt.Errorf("encode fulfillment event: %w", err)
	}
	if err := s.publisher.Publish(ctx, s.topic, data); err != nil {
		s.metrics.RecordFulfillment(ctx, "publish_failed")
		return fmt.Errorf("publish fulfillment event: %w", err)
	}
	s.metrics.RecordFulfillment(ctx, "published")
	return nil
}

func (s *Signal) event(ctx context.Context, txn domain.Transaction) (*structpb.Struct, error) {
	data := map[string]any{
		"transaction_id": txn.ID.String(),
		"gateway_id":     txn.GatewayID,
		"order_ref":      txn.OrderRef,
		"customer_id":    txn.CustomerID,
		"status":         string(txn.Status),
		"status_label":   txn.Status.Label(),
		"total":          txn.Total.StringFixed(2),
		"currency":       txn.Currency,
		"mode":           txn.Mode,
	}
	if txn.ParentID != nil {
		data["parent_id"] = txn.ParentID.String()
	}

	metadata := map[string]any{
		"event_id":     ulid.Make().String(),
		"published_at": s.clock.Now().UTC().Format(time.RFC3339),
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		metadata["trace_id"] = sc.TraceID().String()
		metadata["span_id"] = sc.SpanID().String()
	}

	return structpb.NewStruct(map[string]any{
		"type":     EventTransactionCleared,
		"data":     data,
		"metadata": metadata,
	})
}
