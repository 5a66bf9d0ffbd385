// Package server exposes the billing pipeline over HTTP.
package server

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/hunnyEscape/gaming-cafe-billing/internal/config"
	coupondomain "github.com/hunnyEscape/gaming-cafe-billing/internal/coupon/domain"
	invoicedomain "github.com/hunnyEscape/gaming-cafe-billing/internal/invoice/domain"
	memberdomain "github.com/hunnyEscape/gaming-cafe-billing/internal/member/domain"
	proofdomain "github.com/hunnyEscape/gaming-cafe-billing/internal/proof/domain"
	sessiondomain "github.com/hunnyEscape/gaming-cafe-billing/internal/session/domain"
	settlementdomain "github.com/hunnyEscape/gaming-cafe-billing/internal/settlement/domain"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

type Params struct {
	fx.In

	Log           *zap.Logger
	Config        config.Config
	MemberSvc     memberdomain.Service
	SessionSvc    sessiondomain.Service
	CouponSvc     coupondomain.Service
	ProofSvc      proofdomain.Service
	InvoiceSvc    invoicedomain.Service
	SettlementSvc settlementdomain.Service
}

type Server struct {
	log           *zap.Logger
	memberSvc     memberdomain.Service
	sessionSvc    sessiondomain.Service
	couponSvc     coupondomain.Service
	proofSvc      proofdomain.Service
	invoiceSvc    invoicedomain.Service
	settlementSvc settlementdomain.Service
}

func NewEngine(log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestID())
	r.Use(RequestLogger(log))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func NewServer(r *gin.Engine, p Params) *Server {
	s := &Server{
		log:           p.Log.Named("server"),
		memberSvc:     p.MemberSvc,
		sessionSvc:    p.SessionSvc,
		couponSvc:     p.CouponSvc,
		proofSvc:      p.ProofSvc,
		invoiceSvc:    p.InvoiceSvc,
		settlementSvc: p.SettlementSvc,
	}
	s.RegisterRoutes(r)
	return s
}

func (s *Server) RegisterRoutes(r *gin.Engine) {
	v1 := r.Group("/v1")
	{
		v1.GET("/seats", s.ListSeats)
		v1.POST("/sessions/start", s.StartSession)
		v1.POST("/sessions/end", s.EndSession)
		v1.GET("/sessions/:id", s.GetSession)
		v1.GET("/sessions/:id/proof", s.GetSessionProof)

		v1.POST("/coupons", s.IssueCoupon)
		v1.GET("/members/:id/coupons", s.ListMemberCoupons)

		v1.POST("/invoices/generate", s.GenerateInvoices)
		v1.GET("/invoices", s.ListInvoices)
		v1.GET("/invoices/:id", s.GetInvoiceByID)
		v1.POST("/invoices/:id/settle", s.SettleInvoice)

		v1.POST("/webhooks/stripe", s.HandleStripeWebhook)
	}
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Error("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}
