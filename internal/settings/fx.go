package settings

import (
	"github.com/smallbiznis/payrecon/internal/settings/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("settings.store",
	fx.Provide(NewHolder),
	fx.Provide(func(h *Holder) domain.Store { return h }),
)
