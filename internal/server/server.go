package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/billmirror/internal/authorization"
	"github.com/smallbiznis/billmirror/internal/config"
	customerdomain "github.com/smallbiznis/billmirror/internal/customer/domain"
	eventdomain "github.com/smallbiznis/billmirror/internal/event/domain"
	lifecycledomain "github.com/smallbiznis/billmirror/internal/lifecycle/domain"
	"github.com/smallbiznis/billmirror/internal/observability"
	obsmiddleware "github.com/smallbiznis/billmirror/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/billmirror/internal/observability/metrics"
	obstracing "github.com/smallbiznis/billmirror/internal/observability/tracing"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	authorization.Module,
	fx.Provide(registerGin),
	fx.Provide(NewServer),
	fx.Invoke(RunHTTP),
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

func RunHTTP(lc fx.Lifecycle, cfg config.Config, log *zap.Logger, s *Server) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           s.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
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
	log          *zap.Logger
	authzSvc     authorization.Service
	eventSvc     eventdomain.Service
	customerSvc  customerdomain.Service
	lifecycleSvc lifecycledomain.Service
}

type ServerParams struct {
	fx.In

	Gin          *gin.Engine
	Cfg          config.Config
	Log          *zap.Logger
	AuthzSvc     authorization.Service
	EventSvc     eventdomain.Service
	CustomerSvc  customerdomain.Service
	LifecycleSvc lifecycledomain.Service
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:       p.Gin,
		cfg:          p.Cfg,
		log:          p.Log.Named("http.server"),
		authzSvc:     p.AuthzSvc,
		eventSvc:     p.EventSvc,
		customerSvc:  p.CustomerSvc,
		lifecycleSvc: p.LifecycleSvc,
	}

	svc.registerWebhookRoutes()
	svc.registerAdminRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerWebhookRoutes() {
	webhooks := s.engine.Group("/webhooks")
	webhooks.POST("/stripe", s.HandleStripeWebhook)
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/admin")
	admin.Use(s.AdminTokenRequired())

	// -------- Customers --------
	admin.POST("/customers/:id/resync", s.authorizeAction(authorization.ObjectCustomer, authorization.ActionCustomerResync), s.ResyncCustomer)

	// -------- Events --------
	admin.GET("/events/:id", s.authorizeAction(authorization.ObjectEvent, authorization.ActionEventView), s.GetEvent)
	admin.POST("/events/:id/retry", s.authorizeAction(authorization.ObjectEvent, authorization.ActionEventRetry), s.RetryEvent)

	// -------- Invoices --------
	admin.POST("/invoices/retry", s.authorizeAction(authorization.ObjectInvoice, authorization.ActionInvoiceRetry), s.RetryInvoices)
}
