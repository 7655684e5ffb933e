package payment

import (
	"github.com/smallbiznis/payrecon/internal/config"
	"github.com/smallbiznis/payrecon/internal/payment/dispute"
	"github.com/smallbiznis/payrecon/internal/payment/domain"
	"github.com/smallbiznis/payrecon/internal/payment/fulfillment"
	"github.com/smallbiznis/payrecon/internal/payment/gateway"
	"github.com/smallbiznis/payrecon/internal/payment/lock"
	"github.com/smallbiznis/payrecon/internal/payment/repository"
	paymentservice "github.com/smallbiznis/payrecon/internal/payment/service"
	"github.com/smallbiznis/payrecon/internal/payment/webhook"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	lock.Module,
	fulfillment.Module,
	gateway.Module,
	dispute.Module,
	fx.Provide(repository.Provide),
	fx.Provide(paymentservice.NewService),
	fx.Provide(func(svc *paymentservice.Service) domain.Service { return svc }),
	fx.Provide(webhook.NewRouter),
	fx.Provide(func(r *webhook.Router) domain.Router { return r }),
	fx.Invoke(registerWebhook),
)

func registerWebhook(router domain.Router, svc domain.Service, cfg config.Config) error {
	return router.Register(cfg.Reconcile.WebhookKey, svc)
}
