package webhook

import (
	"context"
	"strings"
	"sync"

	"github.com/smallbiznis/payrecon/internal/payment/domain"
	"go.uber.org/zap"
)

// Router keeps one handler per webhook key. Keys are matched case-insensitively.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]domain.Handler
	log      *zap.Logger
}

func NewRouter(log *zap.Logger) *Router {
	if log == nil {
		log = zap.NewNop()
	}
	return &Router{
		handlers: map[string]domain.Handler{},
		log:      log.Named("payment.webhook"),
	}
}

var _ domain.Router = (*Router)(nil)

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// Register binds handler to key. A key can only be registered once.
func (r *Router) Register(key string, handler domain.Handler) error {
	key = normalizeKey(key)
	if key == "" || handler == nil {
		return domain.ErrInvalidWebhookKey
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[key]; exists {
		return domain.ErrHandlerExists
	}
	r.handlers[key] = handler
	return nil
}

// Dispatch delivers payload to the handler registered for key. Unknown keys are
// rejected as unsupported without touching any store.
func (r *Router) Dispatch(ctx context.Context, key string, payload domain.Payload) domain.Result {
	key = normalizeKey(key)

	r.mu.RLock()
	handler, ok := r.handlers[key]
	r.mu.RUnlock()
	if !ok {
		r.log.Info("no handler for webhook key", zap.String("webhook_key", key))
		return domain.Rejected(domain.ReasonUnsupportedNotification)
	}
	return handler.Handle(ctx, payload)
}

// Keys lists the registered webhook keys.
func (r *Router) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.handlers))
	for key := range r.handlers {
		keys = append(keys, key)
	}
	return keys
}
