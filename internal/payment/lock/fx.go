package lock

import "go.uber.org/fx"

var Module = fx.Module("payment.lock",
	fx.Provide(New),
)
