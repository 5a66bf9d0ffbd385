package settlement

import (
	settlementdomain "github.com/hunnyEscape/gaming-cafe-billing/internal/settlement/domain"
	"github.com/hunnyEscape/gaming-cafe-billing/internal/settlement/service"
	"github.com/hunnyEscape/gaming-cafe-billing/internal/settlement/stripe"
	"go.uber.org/fx"
)

var Module = fx.Module("settlement",
	fx.Provide(
		fx.Annotate(stripe.NewClient,
			fx.As(new(settlementdomain.PaymentLedger)),
			fx.As(new(settlementdomain.WebhookDecoder)),
		),
		service.NewService,
	),
)
