package http

import (
	"context"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	handlers "github.com/lipalink/payment-service/internal/adapter/handler/http"
	"github.com/lipalink/payment-service/internal/config"
	"github.com/lipalink/payment-service/internal/middleware/auth"
	"github.com/lipalink/payment-service/internal/usecase"
)

type Server struct {
	config    *config.Config
	logger    *zap.Logger
	echo      *echo.Echo
	payments  *usecase.PaymentService
	webhooks  *usecase.WebhookProcessor
	registry  usecase.ProviderRegistry
	fees      *usecase.FeeCalculator
}

func NewServer(
	cfg *config.Config,
	logger *zap.Logger,
	payments *usecase.PaymentService,
	webhooks *usecase.WebhookProcessor,
	registry usecase.ProviderRegistry,
	fees *usecase.FeeCalculator,
) *Server {
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{cfg.Service.ClientURL},
		AllowMethods: []string{echo.GET, echo.POST, echo.PUT, echo.DELETE},
	}))

	return &Server{
		config:   cfg,
		logger:   logger,
		echo:     e,
		payments: payments,
		webhooks: webhooks,
		registry: registry,
		fees:     fees,
	}
}

func (s *Server) Start() error {
	// Setup routes
	s.setupRoutes()

	addr := fmt.Sprintf("%s:%d", s.config.Server.HTTP.Host, s.config.Server.HTTP.Port)
	s.logger.Info("Starting HTTP server", zap.String("address", addr))

	return s.echo.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) setupRoutes() {
	// Health check
	s.echo.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "healthy",
			"service": s.config.Service.Name,
		})
	})

	// Initialize handlers
	paymentHandler := handlers.NewPaymentHandler(s.payments, s.logger)
	webhookHandler := handlers.NewWebhookHandler(s.webhooks, s.logger)
	providerHandler := handlers.NewProviderHandler(s.registry, s.fees)

	// Provider callbacks live outside API versioning and authentication;
	// signature verification is their only gate.
	s.echo.POST("/webhooks/:provider", webhookHandler.HandleWebhook)

	// JWT middleware configuration
	jwtConfig := auth.JWTConfig{
		Secret: s.config.JWT.Secret,
		Logger: s.logger,
		SkipPaths: []string{
			"/health",
			"/api/v1/providers",
		},
	}

	// API v1 routes
	v1 := s.echo.Group("/api/v1", auth.JWTMiddleware(jwtConfig))

	// Providers - public for browsing fees and limits
	v1.GET("/providers", providerHandler.ListProviders)
	v1.GET("/providers/:provider/quote", providerHandler.Quote)
	v1.GET("/providers/:provider/limits", providerHandler.Limits)

	// Payments
	v1.POST("/payments", paymentHandler.CreatePayment)
	v1.GET("/payments", paymentHandler.ListPayments)
	v1.GET("/payments/statistics", paymentHandler.Statistics)
	v1.GET("/payments/:id", paymentHandler.GetPayment)
	v1.POST("/payments/:id/process", paymentHandler.ProcessPayment)
	v1.POST("/payments/:id/cancel", paymentHandler.CancelPayment)
	v1.POST("/payments/:id/refund", paymentHandler.RefundPayment)

	// Webhook administration
	v1.GET("/webhooks", webhookHandler.ListWebhooks)
	v1.POST("/webhooks/:id/retry", webhookHandler.RetryWebhook)
}
