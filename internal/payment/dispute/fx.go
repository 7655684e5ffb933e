package dispute

import (
	paymentdomain "github.com/smallbiznis/payrecon/internal/payment/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.dispute",
	fx.Provide(NewService),
	fx.Provide(func(svc *Service) paymentdomain.DisputeDesk { return svc }),
)
