package member

import (
	"github.com/hunnyEscape/gaming-cafe-billing/internal/member/service"
	"go.uber.org/fx"
)

var Module = fx.Module("member.service",
	fx.Provide(service.NewService),
)
