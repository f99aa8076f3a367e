package rest

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Dhoini/Billing-microservice/internal/api/rest/handlers"
	"github.com/Dhoini/Billing-microservice/internal/api/rest/middleware"
	"github.com/Dhoini/Billing-microservice/internal/config"
	"github.com/Dhoini/Billing-microservice/pkg/logger"
)

// Handlers обработчики, монтируемые в роутер
type Handlers struct {
	Subscriptions *handlers.SubscriptionHandler
	Wallets       *handlers.WalletHandler
	Plans         *handlers.PlanHandler
}

// SetupRouter настраивает маршрутизатор Gin с маршрутами и middleware
func SetupRouter(h Handlers, log *logger.Logger, registry *prometheus.Registry, cfg *config.Config) *gin.Engine {
	r := gin.New()

	// Подключение middleware
	r.Use(middleware.LoggerMiddleware(log))
	r.Use(gin.Recovery())

	// Endpoint для проверки работоспособности сервиса
	r.GET("/health", handlers.HealthCheck)

	// Prometheus метрики
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	auth := middleware.AuthMiddleware(cfg.Auth.JWTSecret, log)

	v1 := r.Group("/api/v1")
	v1.Use(auth)
	{
		// Подписки
		subscriptions := v1.Group("/subscriptions")
		{
			subscriptions.GET("", h.Subscriptions.ListSubscriptions)
			subscriptions.GET("/:id", h.Subscriptions.GetSubscription)
			subscriptions.POST("", h.Subscriptions.CreateSubscription)
			subscriptions.POST("/:id/renew", h.Subscriptions.RenewSubscription)
			subscriptions.PATCH("/:id", middleware.RequireRole(middleware.RoleAdmin), h.Subscriptions.PatchSubscription)
		}

		// Кошельки
		wallets := v1.Group("/wallets")
		{
			wallets.GET("/:account_id/balance", h.Wallets.GetBalance)
			wallets.POST("/:account_id/topup", h.Wallets.TopUp)
		}

		// Тарифные планы: чтение открыто, запись только администраторам
		plans := v1.Group("/plans")
		{
			plans.GET("", h.Plans.ListPlans)
			plans.GET("/:id", h.Plans.GetPlan)

			admin := plans.Group("", middleware.RequireRole(middleware.RoleAdmin))
			{
				admin.POST("", h.Plans.CreatePlan)
				admin.PUT("/:id", h.Plans.UpdatePlan)
				admin.DELETE("/:id", h.Plans.DeletePlan)
			}
		}
	}

	return r
}
