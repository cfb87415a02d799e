package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/paysettle/internal/config"
	"github.com/smallbiznis/paysettle/internal/invoice"
	invoiceservice "github.com/smallbiznis/paysettle/internal/invoice/service"
	"github.com/smallbiznis/paysettle/internal/observability"
	obsmiddleware "github.com/smallbiznis/paysettle/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/paysettle/internal/observability/metrics"
	obstracing "github.com/smallbiznis/paysettle/internal/observability/tracing"
	"github.com/smallbiznis/paysettle/internal/payable"
	paymentservice "github.com/smallbiznis/paysettle/internal/payment/service"
	"github.com/smallbiznis/paysettle/internal/payment/webhook"
	"github.com/smallbiznis/paysettle/internal/ratelimit"
	"github.com/smallbiznis/paysettle/internal/signature"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module serves the HTTP surface. The payment, rate limit and provider
// modules are composed by the binary so the worker can share them.
var Module = fx.Module("http.server",
	invoice.Module,
	fx.Provide(registerGin),
	fx.Provide(NewServer),
	fx.Invoke(registerRoutes),
	fx.Invoke(RunHTTP),
)

func NewEngine(obsCfg observability.Config) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, cfg config.Config) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	return NewEngine(obsCfg)
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
	engine          *gin.Engine
	cfg             config.Config
	log             *zap.Logger
	ledger          *paymentservice.Ledger
	payables        *payable.Registry
	ingestor        *webhook.Ingestor
	invoices        *invoiceservice.Assembler
	redirect        *signature.Codec
	checkoutLimiter *ratelimit.CheckoutLimiter
	obsMetrics      *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	Log             *zap.Logger
	Ledger          *paymentservice.Ledger
	Payables        *payable.Registry
	Ingestor        *webhook.Ingestor
	Invoices        *invoiceservice.Assembler
	Codec           *signature.Codec
	CheckoutLimiter *ratelimit.CheckoutLimiter `optional:"true"`
	ObsMetrics      *obsmetrics.Metrics        `optional:"true"`
}

// NewServer signs checkout redirects with a key derived from the callback
// secret, so redirect fields can never pass as a gateway callback.
func NewServer(p ServerParams) (*Server, error) {
	redirect, err := p.Codec.Derive(signature.PurposeCheckoutRedirect)
	if err != nil {
		return nil, fmt.Errorf("derive redirect key: %w", err)
	}
	return &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		log:             p.Log.Named("http"),
		ledger:          p.Ledger,
		payables:        p.Payables,
		ingestor:        p.Ingestor,
		invoices:        p.Invoices,
		redirect:        redirect,
		checkoutLimiter: p.CheckoutLimiter,
		obsMetrics:      p.ObsMetrics,
	}, nil
}

func registerRoutes(s *Server) {
	s.RegisterWebhookRoutes()
	s.RegisterAPIRoutes()
	s.registerFallback()
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) RegisterWebhookRoutes() {
	hooks := s.engine.Group("/webhooks")

	// gateways differ on verb; both carry the same fields
	hooks.POST("/payments", s.HandlePaymentCallback)
	hooks.GET("/payments", s.HandlePaymentCallback)
}

func (s *Server) RegisterAPIRoutes() {
	api := s.engine.Group("/api")

	// -------- Payments --------
	api.POST("/payments", s.CheckoutRateLimit(), s.CreatePayment)
	api.GET("/payments/:reference", s.GetPayment)
	api.POST("/payments/:reference/initiate", s.CheckoutRateLimit(), s.InitiatePayment)
	api.GET("/payments/:reference/events", s.ListPaymentEvents)

	// -------- Invoices --------
	api.GET("/payments/:reference/invoice", s.GetInvoice)
	api.GET("/payments/:reference/invoice.pdf", s.GetInvoicePDF)

	// -------- Catalog --------
	api.GET("/payable-types", s.ListPayableTypes)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
