package server

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/seeklabs/bloxscout/internal/audit"
	auditdomain "github.com/seeklabs/bloxscout/internal/audit/domain"
	"github.com/seeklabs/bloxscout/internal/authorization"
	"github.com/seeklabs/bloxscout/internal/config"
	"github.com/seeklabs/bloxscout/internal/ledger"
	ledgerdomain "github.com/seeklabs/bloxscout/internal/ledger/domain"
	"github.com/seeklabs/bloxscout/internal/lookup"
	"github.com/seeklabs/bloxscout/internal/metering"
	meteringdomain "github.com/seeklabs/bloxscout/internal/metering/domain"
	"github.com/seeklabs/bloxscout/internal/metricspush"
	"github.com/seeklabs/bloxscout/internal/observability"
	obsmiddleware "github.com/seeklabs/bloxscout/internal/observability/logger"
	obsmetrics "github.com/seeklabs/bloxscout/internal/observability/metrics"
	obstracing "github.com/seeklabs/bloxscout/internal/observability/tracing"
	"github.com/seeklabs/bloxscout/internal/payment"
	paymentdomain "github.com/seeklabs/bloxscout/internal/payment/domain"
	"github.com/seeklabs/bloxscout/internal/payment/webhook"
	"github.com/seeklabs/bloxscout/internal/providers"
	"github.com/seeklabs/bloxscout/internal/ratelimit"
	"github.com/seeklabs/bloxscout/internal/scheduler"
	"github.com/seeklabs/bloxscout/internal/searchcache"
	cachedomain "github.com/seeklabs/bloxscout/internal/searchcache/domain"
	"github.com/seeklabs/bloxscout/internal/statement"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	config.Module,
	observability.Module,
	metricspush.Module,
	fx.Provide(registerGin),
	authorization.Module,
	audit.Module,
	ledger.Module,
	ratelimit.Module,
	lookup.Module,
	searchcache.Module,
	metering.Module,
	payment.Module,
	providers.Module,
	statement.Module,
	scheduler.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:    net.JoinHostPort("", cfg.HTTPPort),
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server listening", zap.String("addr", srv.Addr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine       *gin.Engine
	cfg          config.Config
	meteringSvc  meteringdomain.Service
	ledgerSvc    ledgerdomain.Service
	cacheSvc     cachedomain.Service
	statementSvc statement.Service
	paymentSvc   paymentdomain.Service
	verifier     *webhook.Verifier
	authzSvc     authorization.Service
	auditSvc     auditdomain.Service
}

type ServerParams struct {
	fx.In

	Gin          *gin.Engine
	Cfg          config.Config
	MeteringSvc  meteringdomain.Service
	LedgerSvc    ledgerdomain.Service
	CacheSvc     cachedomain.Service
	StatementSvc statement.Service
	PaymentSvc   paymentdomain.Service
	Verifier     *webhook.Verifier
	AuthzSvc     authorization.Service
	AuditSvc     auditdomain.Service
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:       p.Gin,
		cfg:          p.Cfg,
		meteringSvc:  p.MeteringSvc,
		ledgerSvc:    p.LedgerSvc,
		cacheSvc:     p.CacheSvc,
		statementSvc: p.StatementSvc,
		paymentSvc:   p.PaymentSvc,
		verifier:     p.Verifier,
		authzSvc:     p.AuthzSvc,
		auditSvc:     p.AuditSvc,
	}

	svc.registerAccountRoutes()
	svc.registerPublicRoutes()
	svc.registerWebhookRoutes()
	svc.registerAdminRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAccountRoutes() {
	v1 := s.engine.Group("/v1", s.AccountRequired())

	v1.POST("/search", s.Search)

	credits := v1.Group("/credits")
	{
		credits.GET("", s.GetCredits)
		credits.GET("/history", s.ListCreditHistory)
		credits.GET("/statement", s.DownloadStatement)
	}
}

// registerPublicRoutes exposes the anonymous search endpoint. Outside
// public mode the route does not exist at all.
func (s *Server) registerPublicRoutes() {
	if !s.cfg.Search.PublicMode {
		return
	}
	s.engine.POST("/v1/public/search", s.PublicSearch)
}

func (s *Server) registerWebhookRoutes() {
	s.engine.POST("/v1/webhooks/payment", s.HandlePaymentWebhook)
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/v1/admin", s.ActorRequired())

	accounts := admin.Group("/accounts/:account_id")
	{
		accounts.GET("/balance", s.authorizeAction(authorization.ObjectAccount, authorization.ActionAccountView), s.AdminGetBalance)
		accounts.GET("/ledger", s.authorizeAction(authorization.ObjectLedger, authorization.ActionLedgerView), s.AdminListLedger)
		accounts.GET("/integrity", s.authorizeAction(authorization.ObjectLedger, authorization.ActionLedgerVerify), s.AdminVerifyIntegrity)
		accounts.POST("/credit", s.authorizeAction(authorization.ObjectLedger, authorization.ActionLedgerCredit), s.AdminCredit)
		accounts.POST("/adjust", s.authorizeAction(authorization.ObjectLedger, authorization.ActionLedgerAdjust), s.AdminAdjust)
		accounts.POST("/refund", s.authorizeAction(authorization.ObjectLedger, authorization.ActionLedgerRefund), s.AdminRefund)
		accounts.POST("/disabled", s.authorizeAction(authorization.ObjectAccount, authorization.ActionAccountDisable), s.AdminSetDisabled)
	}

	cache := admin.Group("/cache")
	{
		cache.GET("/stats", s.authorizeAction(authorization.ObjectCache, authorization.ActionCacheView), s.AdminCacheStats)
		cache.POST("/evict", s.authorizeAction(authorization.ObjectCache, authorization.ActionCacheEvict), s.AdminCacheEvict)
	}

	admin.GET("/audit-logs", s.authorizeAction(authorization.ObjectAuditLog, authorization.ActionAuditLogView), s.AdminListAuditLogs)
}
