package api

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/akylbek/payment-system/payment-reconciler/internal/handlers"
	"github.com/akylbek/payment-system/payment-reconciler/internal/telemetry"
)

func NewRouter(webhook *handlers.WebhookHandler, payments *handlers.PaymentHandler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	handlers.RegisterValidation()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(telemetry.TracingMiddleware())

	// Browser checkout calls come from the storefront origin.
	corsCfg := cors.DefaultConfig()
	corsCfg.AllowAllOrigins = true
	corsCfg.AllowHeaders = []string{"authorization", "x-client-info", "apikey", "content-type", "x-idempotency-key"}
	r.Use(cors.New(corsCfg))

	// Prometheus metrics
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "payment-reconciler"})
	})

	// Gateway notifications
	r.POST("/webhooks/mercadopago", webhook.HandleMercadoPago)

	// Payment routes
	r.POST("/payments", payments.CreateCheckout)
	r.POST("/payments/card", payments.ProcessCardPayment)
	r.POST("/payments/status", payments.CheckStatus)
	r.POST("/payments/actions", payments.HandleAction)
	r.GET("/payments/:id", payments.GetPayment)

	return r
}
