package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/payrecon/internal/config"
	"github.com/smallbiznis/payrecon/internal/observability"
	obslogger "github.com/smallbiznis/payrecon/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/payrecon/internal/observability/metrics"
	obstracing "github.com/smallbiznis/payrecon/internal/observability/tracing"
	paymentdomain "github.com/smallbiznis/payrecon/internal/payment/domain"
	"github.com/smallbiznis/payrecon/internal/ratelimit"
	settingsdomain "github.com/smallbiznis/payrecon/internal/settings/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(func(*Server) {}),
	fx.Invoke(RunHTTP),
)

const maxPayloadBytes = 64 << 10

type EngineParams struct {
	fx.In

	ObsCfg      observability.Config
	HTTPMetrics *obsmetrics.HTTPMetrics `optional:"true"`
}

func NewEngine(p EngineParams) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		Debug:           p.ObsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	if p.HTTPMetrics != nil {
		r.Use(p.HTTPMetrics.GinMiddleware())
	}
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func RunHTTP(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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
	engine         *gin.Engine
	cfg            config.Config
	router         paymentdomain.Router
	paymentSvc     paymentdomain.Service
	disputes       paymentdomain.DisputeDesk
	settings       settingsdomain.Store
	webhookLimiter *ratelimit.WebhookLimiter
}

type ServerParams struct {
	fx.In

	Gin            *gin.Engine
	Cfg            config.Config
	Router         paymentdomain.Router
	PaymentSvc     paymentdomain.Service
	Disputes       paymentdomain.DisputeDesk
	Settings       settingsdomain.Store
	WebhookLimiter *ratelimit.WebhookLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine:         p.Gin,
		cfg:            p.Cfg,
		router:         p.Router,
		paymentSvc:     p.PaymentSvc,
		disputes:       p.Disputes,
		settings:       p.Settings,
		webhookLimiter: p.WebhookLimiter,
	}

	s.registerWebhookRoutes()
	s.registerCheckoutRoutes()
	s.registerTransactionRoutes()

	return s
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerWebhookRoutes() {
	s.engine.POST("/webhooks/:key", s.WebhookRateLimit(), s.HandleWebhook)
}

func (s *Server) registerCheckoutRoutes() {
	checkout := s.engine.Group("/checkout")

	checkout.GET("/settings", s.GetCheckoutSettings)
	checkout.GET("/:key/return", s.HandleCheckoutReturn)
	checkout.POST("/:key/return", s.HandleCheckoutReturn)
}

func (s *Server) registerTransactionRoutes() {
	txns := s.engine.Group("/transactions")

	txns.GET("/:id", s.GetTransaction)
	txns.GET("/:id/receipts", s.ListReceipts)
	txns.POST("/:id/subscription/cancel", s.CancelSubscription)
	txns.POST("/:id/dispute", s.MarkDispute)
}
