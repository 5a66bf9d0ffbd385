package clock

import (
	"time"

	"go.uber.org/fx"
)

// Clock abstracts wall-clock reads so scheduled jobs and billing math can be
// tested against a fixed point in time. All implementations return UTC.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// NewSystem returns the real clock.
func NewSystem() Clock { return systemClock{} }

// Module provides the system clock.
var Module = fx.Module("clock",
	fx.Provide(NewSystem),
)
