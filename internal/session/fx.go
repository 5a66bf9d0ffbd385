package session

import (
	"github.com/hunnyEscape/gaming-cafe-billing/internal/session/service"
	"go.uber.org/fx"
)

var Module = fx.Module("session.service",
	fx.Provide(service.NewService),
)
