package invoice

import (
	"github.com/hunnyEscape/gaming-cafe-billing/internal/invoice/service"
	"go.uber.org/fx"
)

var Module = fx.Module("invoice",
	fx.Provide(service.NewService),
)
