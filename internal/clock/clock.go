package clock

import (
	"time"

	"go.uber.org/fx"
)

// Clock returns the current time. Production code uses System; tests use FakeClock.
type Clock interface {
	Now() time.Time
}

type System struct{}

func (System) Now() time.Time {
	return time.Now().UTC()
}

var Module = fx.Module("clock",
	fx.Provide(func() Clock { return System{} }),
)
