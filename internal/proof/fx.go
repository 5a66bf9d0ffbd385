package proof

import (
	"github.com/hunnyEscape/gaming-cafe-billing/internal/proof/chain"
	proofdomain "github.com/hunnyEscape/gaming-cafe-billing/internal/proof/domain"
	"github.com/hunnyEscape/gaming-cafe-billing/internal/proof/service"
	"go.uber.org/fx"
)

var Module = fx.Module("proof.service",
	fx.Provide(
		fx.Annotate(chain.NewClient, fx.As(new(proofdomain.ChainClient))),
		service.NewService,
	),
)
