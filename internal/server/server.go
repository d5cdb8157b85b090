// Package server wires the HTTP surface: the store webhook, the receipt
// reconciliation endpoint and the entitlement read endpoint.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/hearthlabs/hearth/internal/account"
	"github.com/hearthlabs/hearth/internal/appstore"
	"github.com/hearthlabs/hearth/internal/catalog"
	"github.com/hearthlabs/hearth/internal/clock"
	"github.com/hearthlabs/hearth/internal/config"
	"github.com/hearthlabs/hearth/internal/entitlement"
	entitlementdomain "github.com/hearthlabs/hearth/internal/entitlement/domain"
	"github.com/hearthlabs/hearth/internal/ledger"
	"github.com/hearthlabs/hearth/internal/notification"
	notificationdomain "github.com/hearthlabs/hearth/internal/notification/domain"
	"github.com/hearthlabs/hearth/internal/observability"
	obsmiddleware "github.com/hearthlabs/hearth/internal/observability/logger"
	obsmetrics "github.com/hearthlabs/hearth/internal/observability/metrics"
	"github.com/hearthlabs/hearth/internal/receipt"
	receiptdomain "github.com/hearthlabs/hearth/internal/receipt/domain"
)

var Module = fx.Module("http.server",
	config.Module,
	clock.Module,
	fx.Provide(registerGin),
	appstore.Module,
	catalog.Module,
	account.Module,
	ledger.Module,
	entitlement.Module,
	notification.Module,
	receipt.Module,
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

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
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
	engine          *gin.Engine
	cfg             config.Config
	notificationSvc notificationdomain.Service
	receiptSvc      receiptdomain.Service
	entitlementSvc  entitlementdomain.Service
	directory       account.Directory
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	NotificationSvc notificationdomain.Service
	ReceiptSvc      receiptdomain.Service
	EntitlementSvc  entitlementdomain.Service
	Directory       account.Directory
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		notificationSvc: p.NotificationSvc,
		receiptSvc:      p.ReceiptSvc,
		entitlementSvc:  p.EntitlementSvc,
		directory:       p.Directory,
	}

	svc.registerWebhookRoutes()
	svc.registerAPIRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerWebhookRoutes() {
	webhooks := s.engine.Group("/webhooks")

	webhooks.POST("/appstore", s.HandleAppStoreNotification)
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")

	api.POST("/accounts/:accountId/receipts", s.ReconcileReceipt)
	api.GET("/accounts/:accountId/entitlement", s.GetEntitlement)
}
