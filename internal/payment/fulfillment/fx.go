package fulfillment

import "go.uber.org/fx"

var Module = fx.Module("payment.fulfillment",
	fx.Provide(New),
)
