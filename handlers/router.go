package handlers

import (
	"cinema-svc/auth"
	"cinema-svc/middleware"
	"cinema-svc/models"

	"github.com/gin-gonic/gin"
)

type Routes struct {
	Auth     *AuthHandler
	Movies   *MovieHandler
	Orders   *OrderHandler
	Payments *PaymentHandler

	Issuer       *auth.Issuer
	WebhookToken string
}

// Register mounts /health, /metrics and the API under /api/v1.
func (r Routes) Register(router gin.IRouter) {
	router.GET("/health", HealthCheck)
	router.GET("/metrics", middleware.PrometheusHandler())

	v1 := router.Group("/api/v1")
	r.registerAPI(v1)
}

func (r Routes) registerAPI(router *gin.RouterGroup) {
	if r.Auth != nil {
		router.POST("/register", r.Auth.Register)
		router.POST("/login", r.Auth.Login)
	}

	router.GET("/movies", r.Movies.ListMovies)
	router.GET("/movies/:id", r.Movies.GetMovie)

	api := router.Group("")
	api.Use(middleware.AuthMiddleware(r.Issuer))
	{
		api.POST("/orders", r.Orders.CreateOrder)
		api.GET("/orders", r.Orders.ListOrders)
		api.GET("/orders/:id", r.Orders.GetOrder)
		api.POST("/orders/:id/cancel", r.Orders.CancelOrder)
		api.DELETE("/orders/:id", r.Orders.DeleteOrder)

		api.POST("/orders/:id/payments", r.Payments.InitiatePayment)
		api.GET("/orders/:id/payments", r.Payments.ListPayments)
		api.GET("/payments/:id", r.Payments.GetPayment)
		api.POST("/payments/:id/refund",
			middleware.RequireGroup(models.UserGroupModerator, models.UserGroupAdmin),
			r.Payments.RefundPayment,
		)
	}

	webhooks := router.Group("/payments")
	webhooks.Use(middleware.WebhookAuth(r.WebhookToken))
	{
		webhooks.POST("/:id/confirm", r.Payments.ConfirmPayment)
		webhooks.POST("/:id/fail", r.Payments.FailPayment)
	}
}
