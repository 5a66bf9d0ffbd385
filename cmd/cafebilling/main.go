package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/hunnyEscape/gaming-cafe-billing/internal/blob"
	"github.com/hunnyEscape/gaming-cafe-billing/internal/clock"
	"github.com/hunnyEscape/gaming-cafe-billing/internal/config"
	"github.com/hunnyEscape/gaming-cafe-billing/internal/coupon"
	"github.com/hunnyEscape/gaming-cafe-billing/internal/invoice"
	"github.com/hunnyEscape/gaming-cafe-billing/internal/logger"
	"github.com/hunnyEscape/gaming-cafe-billing/internal/member"
	"github.com/hunnyEscape/gaming-cafe-billing/internal/migration"
	"github.com/hunnyEscape/gaming-cafe-billing/internal/proof"
	"github.com/hunnyEscape/gaming-cafe-billing/internal/scheduler"
	"github.com/hunnyEscape/gaming-cafe-billing/internal/server"
	"github.com/hunnyEscape/gaming-cafe-billing/internal/session"
	"github.com/hunnyEscape/gaming-cafe-billing/internal/settlement"
	"github.com/hunnyEscape/gaming-cafe-billing/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		logger.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		blob.Module,
		migration.Module,

		// Functional domains
		member.Module,
		session.Module,
		coupon.Module,
		proof.Module,
		invoice.Module,
		settlement.Module,
		scheduler.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
