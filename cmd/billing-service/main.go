package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Dhoini/Billing-microservice/internal/api/rest"
	"github.com/Dhoini/Billing-microservice/internal/api/rest/handlers"
	"github.com/Dhoini/Billing-microservice/internal/compute"
	"github.com/Dhoini/Billing-microservice/internal/config"
	"github.com/Dhoini/Billing-microservice/internal/db"
	"github.com/Dhoini/Billing-microservice/internal/lifecycle"
	"github.com/Dhoini/Billing-microservice/internal/metrics"
	"github.com/Dhoini/Billing-microservice/internal/notify"
	"github.com/Dhoini/Billing-microservice/internal/repository"
	"github.com/Dhoini/Billing-microservice/internal/scheduler"
	"github.com/Dhoini/Billing-microservice/internal/service"
	"github.com/Dhoini/Billing-microservice/pkg/logger"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log := initLogger()

	log.Infow("Billing microservice starting up...")

	cfg, err := config.LoadConfig(".env")
	if err != nil {
		log.Fatalw("Failed to load configuration", "error", err)
	}
	if cfg.Auth.JWTSecret == "" {
		log.Warnw("JWT Secret is not set, protected endpoints will reject all requests")
	}

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// База данных
	dbClient, err := db.NewClient(ctx, cfg.Database.DSN, log)
	if err != nil {
		log.Fatalw("Failed to connect to database", "error", err)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			log.Errorw("Error closing database connection", "error", err)
		}
	}()

	// Redis кеш: недоступность не фатальна
	redisCache, err := repository.NewRedisCacheRepository(
		cfg.Redis.Addr,
		cfg.Redis.Password,
		cfg.Redis.DB,
		log,
	)
	if err != nil {
		log.Warnw("Failed to initialize Redis cache, continuing without caching", "error", err)
	} else {
		log.Infow("Redis cache initialized successfully")
		defer func() {
			if err := redisCache.Close(); err != nil {
				log.Errorw("Error closing Redis connection", "error", err)
			}
		}()
	}

	// Репозитории
	baseSubscriptionRepo := repository.NewPostgresSubscriptionRepository(dbClient.DB, log)
	var subscriptionRepo repository.SubscriptionRepository
	if redisCache != nil {
		subscriptionRepo = repository.NewCachedSubscriptionRepository(baseSubscriptionRepo, redisCache, log)
		log.Infow("Using cached subscription repository")
	} else {
		subscriptionRepo = baseSubscriptionRepo
		log.Infow("Using non-cached subscription repository")
	}
	walletRepo := repository.NewPostgresWalletRepository(dbClient.DB, log)
	transactionRepo := repository.NewPostgresTransactionRepository(dbClient.DB, log)
	planRepo := repository.NewPostgresPlanRepository(dbClient.DB, log)
	serverRepo := repository.NewPostgresServerRepository(dbClient.DB, log)

	// Уведомления: без Kafka продолжаем с логирующей заглушкой
	var dispatcher notify.Dispatcher
	kafkaDispatcher, err := notify.NewKafkaDispatcher(cfg.Kafka.Brokers, cfg.Kafka.Topic, log)
	if err != nil {
		log.Errorw("Failed to initialize Kafka dispatcher, continuing with log-only notifications", "error", err)
		dispatcher = notify.NewLogDispatcher(log)
	} else {
		dispatcher = kafkaDispatcher
		defer func() {
			if closer, ok := kafkaDispatcher.(interface{ Close() error }); ok {
				if err := closer.Close(); err != nil {
					log.Errorw("Error closing Kafka dispatcher", "error", err)
				}
			}
		}()
	}

	// Метрики
	registry := prometheus.NewRegistry()
	billingMetrics := metrics.NewBillingMetrics(registry, log)
	systemMetrics := metrics.NewSystemMetrics(registry, log)
	systemMetrics.StartRecording(15 * time.Second)
	defer systemMetrics.Stop()

	// Контроллер вычислительных ресурсов
	controller := compute.NewHTTPController(compute.Config{
		BaseURL:  cfg.Compute.BaseURL,
		APIToken: cfg.Compute.APIToken,
		Timeout:  cfg.Compute.Timeout,
	}, log)

	// Сервисы
	walletSvc := service.NewWalletService(walletRepo, transactionRepo, billingMetrics, log)
	renewalSvc := service.NewRenewalService(subscriptionRepo, planRepo, walletSvc, dispatcher, billingMetrics, log)
	subscriptionSvc := service.NewSubscriptionService(subscriptionRepo, serverRepo, planRepo, controller, log)
	planSvc := service.NewPlanService(planRepo, log)

	// Жизненный цикл подписок
	policy := lifecycle.Policy{
		GraceDays:        cfg.Billing.GraceDays,
		ReinstatementFee: cfg.ReinstatementFee(),
		Buffer:           cfg.Billing.ReconcileBuffer,
	}
	machine := lifecycle.NewStateMachine(subscriptionRepo, serverRepo, walletSvc, renewalSvc, controller, dispatcher, billingMetrics, policy, log)
	reconciler := lifecycle.NewReconciler(subscriptionRepo, machine, billingMetrics, policy, log)
	reminders := lifecycle.NewReminderScheduler(subscriptionRepo, walletSvc, dispatcher, billingMetrics, log)

	sched := scheduler.New(log)
	sched.Register(scheduler.Task{
		Name:     "reconcile",
		Interval: cfg.Billing.ReconcileInterval,
		Run:      reconciler.Tick,
	})
	sched.Register(scheduler.Task{
		Name:     "reminders",
		Interval: cfg.Billing.ReminderInterval,
		Run:      reminders.Tick,
	})
	sched.Start(ctx)

	// HTTP сервер
	router := rest.SetupRouter(rest.Handlers{
		Subscriptions: handlers.NewSubscriptionHandler(subscriptionSvc, renewalSvc, log),
		Wallets:       handlers.NewWalletHandler(walletSvc, log),
		Plans:         handlers.NewPlanHandler(planSvc, log),
	}, log, registry, cfg)

	server := rest.NewServer(router, cfg, log)
	go func() {
		if err := server.Start(); err != nil {
			log.Fatalw("Failed to start HTTP server", "error", err)
		}
	}()

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Infow("Shutdown signal received")

	// Сначала расписание: тик не должен попасть в закрывающуюся базу
	sched.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorw("HTTP server shutdown error", "error", err)
	} else {
		log.Infow("HTTP server gracefully stopped")
	}

	log.Infow("Cleanup finished. Goodbye!")
}

// initLogger инициализирует новый логгер
func initLogger() *logger.Logger {
	logLevel := logger.INFO
	if os.Getenv("LOG_LEVEL") == "debug" {
		logLevel = logger.DEBUG
	}
	return logger.New(logLevel)
}
