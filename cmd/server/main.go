package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/leadbridge/backend/internal/config"
	"github.com/leadbridge/backend/internal/database"
	"github.com/leadbridge/backend/internal/events"
	"github.com/leadbridge/backend/internal/handlers"
	"github.com/leadbridge/backend/internal/jobs"
	"github.com/leadbridge/backend/internal/middleware"
	"github.com/leadbridge/backend/internal/queue"
	"github.com/leadbridge/backend/internal/routes"
	"github.com/leadbridge/backend/internal/services/intent"
	"github.com/leadbridge/backend/internal/services/lead"
	"github.com/leadbridge/backend/internal/services/notification"
	stripeprovider "github.com/leadbridge/backend/internal/services/payment/providers/stripe"
	"github.com/leadbridge/backend/internal/services/payout"
	"github.com/leadbridge/backend/internal/services/settlement"
	"github.com/leadbridge/backend/internal/utils"
)

func main() {
	// Initialize configuration (.env and Doppler are read here)
	cfg := config.LoadConfig()
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	// Initialize database and run migrations
	db, err := database.InitDB(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	// Initialize Redis client
	redisClient, err := newRedisClient(cfg.Redis)
	if err != nil {
		log.Fatalf("Invalid Redis configuration: %v", err)
	}
	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	redisQueue := queue.NewRedisQueue(redisClient)

	// Outbound email and events degrade to logging when unconfigured
	var notifier notification.Notifier = notification.LogNotifier{}
	if cfg.SendGrid.APIKey != "" {
		notifier = notification.NewSendGridNotifier(notification.SendGridConfig{
			APIKey:    cfg.SendGrid.APIKey,
			FromEmail: cfg.SendGrid.FromEmail,
			FromName:  cfg.SendGrid.FromName,
			Sandbox:   cfg.SendGrid.Sandbox,
		})
	} else {
		log.Println("SENDGRID_API_KEY not set, notifications are only logged")
	}

	var publisher events.Publisher = events.NewLoggingPublisher()
	if len(cfg.Kafka.Brokers) > 0 {
		kafka, err := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.TopicPrefix)
		if err != nil {
			log.Fatalf("Failed to initialize Kafka publisher: %v", err)
		}
		defer kafka.Close()
		publisher = kafka
	}

	// Initialize payment gateway
	stripe := stripeprovider.NewProvider(stripeprovider.Config{
		SecretKey:     cfg.Stripe.SecretKey,
		WebhookSecret: cfg.Stripe.WebhookSecret,
		SuccessURL:    cfg.Stripe.SuccessURL,
		CancelURL:     cfg.Stripe.CancelURL,
		Currency:      cfg.Payout.Currency,
	})

	// Initialize services
	effects := settlement.NewSaleEffects(db, notifier, publisher, redisQueue, cfg.Sales.SideEffectTimeout)
	settlementService := settlement.NewSettlementService(db, effects)
	payoutService := payout.NewPayoutService(db, stripe, notifier, publisher, redisQueue, payout.Config{
		HoldPeriod:        cfg.Payout.HoldPeriod,
		BatchSize:         cfg.Payout.BatchSize,
		ClaimLease:        cfg.Payout.ClaimLease,
		RetryBase:         cfg.Payout.RetryBase,
		TransferTimeout:   cfg.Sales.GatewayTimeout,
		SideEffectTimeout: cfg.Sales.SideEffectTimeout,
	})
	intentService := intent.NewIntentService(db, stripe, intent.Config{
		TTL:               cfg.Sales.IntentTTL,
		GatewayTimeout:    cfg.Sales.GatewayTimeout,
		ConcurrentIntents: cfg.Sales.ConcurrentIntents,
	})
	leadService := lead.NewLeadService(db, cfg.Sales.LeadTTL)

	// Background side effects
	jobProcessor := queue.NewJobProcessor(redisQueue, 5)
	jobs.RegisterAllJobHandlers(jobProcessor, effects, payoutService)
	jobProcessor.Start()

	scheduler := jobs.NewScheduler(payoutService, intentService, settlementService, jobs.Schedule{
		BatchInterval: cfg.Payout.BatchInterval,
		ExpirySweep:   cfg.Sales.ExpirySweep,
	})
	if err := scheduler.Start(); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}

	// Initialize Gin router
	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:  cfg.Security.CORSAllowedOrigins,
		AllowMethods:  []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}))
	router.Use(middleware.SecureHeadersMiddleware(middleware.DefaultSecureHeadersConfig(cfg.IsProduction())))

	ipLimiter := middleware.NewRateLimiter(cfg.Security.IPRateLimit, cfg.Security.IPRateBurst)
	defer ipLimiter.Stop()
	router.Use(ipLimiter.IPRateLimiterMiddleware())

	// checkout creation is limited per provider
	intentLimiter := middleware.NewRateLimiter(1, 5)
	defer intentLimiter.Stop()

	tokens := utils.NewTokenManager(cfg.JWT.Secret, cfg.JWT.Issuer)
	routes.SetupRoutes(router, routes.Handlers{
		Webhooks: handlers.NewWebhookHandler(db, settlementService, stripe, cfg.Webhook.SigningSecret),
		Leads:    handlers.NewLeadHandler(leadService),
		Intents:  handlers.NewIntentHandler(intentService),
		Admin:    handlers.NewAdminHandler(settlementService, payoutService),
		Health: handlers.NewHealthHandler(db, handlers.PingerFunc(func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})),
	}, tokens, intentLimiter)

	// Start server
	srv := startServer(router, cfg.Server)

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	scheduler.Stop()
	jobProcessor.Stop()
	if err := redisClient.Close(); err != nil {
		log.Printf("Error closing Redis client: %v", err)
	}

	log.Println("Server exiting")
}

func newRedisClient(cfg config.RedisConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, err
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.DB != 0 {
		opts.DB = cfg.DB
	}
	return redis.NewClient(opts), nil
}

// startServer starts the HTTP server
func startServer(router *gin.Engine, cfg config.ServerConfig) *http.Server {
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadTimeout:       time.Duration(cfg.ReadTimeout) * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      time.Duration(cfg.WriteTimeout) * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	log.Printf("Server started on port %s", cfg.Port)
	return srv
}
