package coupon

import (
	"github.com/hunnyEscape/gaming-cafe-billing/internal/coupon/service"
	"go.uber.org/fx"
)

var Module = fx.Module("coupon.service",
	fx.Provide(service.NewService),
)
