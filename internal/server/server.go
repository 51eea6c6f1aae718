package server

import (
	"context"
	"net/http"
	"saas-billing/internal/handler"
	"saas-billing/internal/middleware"
	"saas-billing/internal/service"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

type Server struct {
	echo           *echo.Echo
	jwtSecret      []byte
	planHandler    *handler.PlanHandler
	billingHandler *handler.BillingHandler
	webhookHandler *handler.WebhookHandler
}

func NewServer(
	planService service.PlanService,
	billingService service.BillingService,
	webhookService service.WebhookService,
	jwtSecret []byte,
	logger zerolog.Logger,
) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(requestLogger(logger))
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORS())

	s := &Server{
		echo:           e,
		jwtSecret:      jwtSecret,
		planHandler:    handler.NewPlanHandler(planService),
		billingHandler: handler.NewBillingHandler(billingService),
		webhookHandler: handler.NewWebhookHandler(webhookService),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.echo.Group("/api")

	api.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	auth := middleware.AuthMiddleware(s.jwtSecret)
	admin := middleware.RequireAdmin()

	billing := s.echo.Group("/billing")

	// -------- plan catalog --------
	billing.GET("/plans", s.planHandler.ListPlans)
	billing.GET("/plans/:id", s.planHandler.GetPlan)
	billing.POST("/plans", s.planHandler.CreatePlan, auth, admin)
	billing.PATCH("/plans/:id", s.planHandler.UpdatePlan, auth, admin)
	billing.DELETE("/plans/:id", s.planHandler.DeletePlan, auth, admin)

	// -------- subscriptions --------
	billing.GET("/subscriptions/me", s.billingHandler.GetMySubscription, auth)
	billing.POST("/subscriptions/subscribe", s.billingHandler.Subscribe, auth)
	billing.POST("/subscriptions/upgrade", s.billingHandler.Upgrade, auth)
	billing.POST("/subscriptions/cancel", s.billingHandler.Cancel, auth)
	billing.GET("/payments/me", s.billingHandler.ListMyPayments, auth)

	// -------- stripe webhooks --------
	billing.POST("/stripe/webhook", s.webhookHandler.StripeWebhook)
}

func requestLogger(logger zerolog.Logger) echo.MiddlewareFunc {
	return echomiddleware.RequestLoggerWithConfig(echomiddleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v echomiddleware.RequestLoggerValues) error {
			event := logger.Info()
			if v.Error != nil {
				event = logger.Error().Err(v.Error)
			}
			event.
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("remote_ip", v.RemoteIP).
				Str("request_id", v.RequestID).
				Msg("request")
			return nil
		},
	})
}

func (s *Server) Start(address string) error {
	return s.echo.Start(address)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
