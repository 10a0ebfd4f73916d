package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/aeroride/carpool/internal/airports"
	"github.com/aeroride/carpool/internal/auth"
	"github.com/aeroride/carpool/internal/bookings"
	"github.com/aeroride/carpool/internal/chat"
	"github.com/aeroride/carpool/internal/notifications"
	"github.com/aeroride/carpool/internal/payments"
	"github.com/aeroride/carpool/internal/ratings"
	"github.com/aeroride/carpool/internal/requests"
	"github.com/aeroride/carpool/internal/rides"
	"github.com/aeroride/carpool/internal/scheduler"
	"github.com/aeroride/carpool/internal/wallet"
	"github.com/aeroride/carpool/migrations"
	"github.com/aeroride/carpool/pkg/cache"
	"github.com/aeroride/carpool/pkg/clock"
	"github.com/aeroride/carpool/pkg/config"
	"github.com/aeroride/carpool/pkg/database"
	"github.com/aeroride/carpool/pkg/errors"
	"github.com/aeroride/carpool/pkg/eventbus"
	"github.com/aeroride/carpool/pkg/health"
	"github.com/aeroride/carpool/pkg/logger"
	"github.com/aeroride/carpool/pkg/middleware"
	"github.com/aeroride/carpool/pkg/ratelimit"
	redisclient "github.com/aeroride/carpool/pkg/redis"
	"github.com/aeroride/carpool/pkg/validation"
)

const (
	serviceName = "carpool-api"
	version     = "1.0.0"
)

// authRule throttles the credential endpoints; everything else rides on the
// per-endpoint defaults.
var authRule = ratelimit.Rule{Limit: 10, Burst: 5, Window: time.Minute}

func main() {
	cfg, err := config.Load(serviceName)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	if err := logger.Init(cfg.Server.Environment); err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	logger.Info("starting carpool api",
		zap.String("service", serviceName),
		zap.String("version", version),
		zap.String("environment", cfg.Server.Environment),
	)

	sentryConfig := &errors.SentryConfig{
		DSN:         cfg.Sentry.DSN,
		Environment: cfg.Server.Environment,
		Release:     version,
		ServerName:  serviceName,
	}
	if err := errors.InitSentry(sentryConfig); err != nil {
		logger.Warn("failed to initialize sentry, continuing without error tracking", zap.Error(err))
	} else {
		defer errors.Flush(2 * time.Second)
	}

	db, err := database.NewPostgresPool(context.Background(), &cfg.Database)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer database.Close(db)

	if err := database.Migrate(&cfg.Database, migrations.FS, "."); err != nil {
		logger.Fatal("failed to apply migrations", zap.Error(err))
	}
	logger.Info("database ready")

	redisClient := redisclient.NewClient(&cfg.Redis)
	defer redisClient.Close()
	cacheManager := cache.NewManager(redisClient)
	limiter := ratelimit.NewLimiter(redisClient.Cmdable())

	var bus *eventbus.Bus
	if cfg.NATS.Enabled {
		busCfg := eventbus.DefaultConfig()
		busCfg.URL = cfg.NATS.URL
		busCfg.Name = serviceName
		bus, err = eventbus.New(busCfg)
		if err != nil {
			logger.Warn("failed to connect to nats, events disabled", zap.Error(err))
			bus = nil
		} else {
			defer bus.Close()
			logger.Info("event bus connected", zap.String("url", cfg.NATS.URL))
		}
	}

	clk := clock.NewReal()

	var emailClient *notifications.EmailClient
	if cfg.SMTP.Host != "" {
		emailClient = notifications.NewEmailClient(
			cfg.SMTP.Host, cfg.SMTP.Port,
			cfg.SMTP.Username, cfg.SMTP.Password,
			cfg.SMTP.FromEmail, cfg.SMTP.FromName,
		)
		logger.Info("smtp configured", zap.String("host", cfg.SMTP.Host))
	}

	// Repositories.
	authRepo := auth.NewRepository(db)
	airportsRepo := airports.NewRepository(db)
	ridesRepo := rides.NewRepository(db)
	bookingsRepo := bookings.NewRepository(db)
	walletRepo := wallet.NewRepository(db)
	paymentsRepo := payments.NewRepository(db)
	requestsRepo := requests.NewRepository(db)
	notificationsRepo := notifications.NewRepository(db)
	ratingsRepo := ratings.NewRepository(db)
	chatRepo := chat.NewRepository(db)

	// Services. Domain services publish lifecycle events to the bus; the email
	// consumer below turns selected events into mail.
	notificationService := notifications.NewService(notificationsRepo, cacheManager)

	gateway := payments.NewGateway(cfg.Stripe.SecretKey)
	feePercent := cfg.Payments.PlatformFeePercent
	currency := cfg.Payments.Currency

	var routing rides.RoutingClient
	if osrmURL := os.Getenv("OSRM_URL"); osrmURL != "" {
		routing = rides.NewOSRMClient(osrmURL, 5*time.Second)
		logger.Info("routing configured", zap.String("url", osrmURL))
	}

	airportService := airports.NewService(airportsRepo, cacheManager)
	rideService := rides.NewService(ridesRepo, airportService, routing, cacheManager, clk)
	walletService := wallet.NewService(walletRepo, gateway, cacheManager, clk, feePercent, currency)

	bookingEngine := bookings.NewEngine(
		bookingsRepo, ridesRepo, walletRepo, gateway,
		rideService, notificationService, clk, feePercent, currency,
	)
	requestEngine := requests.NewEngine(
		requestsRepo, walletRepo, gateway, airportService,
		rideService, notificationService, clk, feePercent, currency,
	)

	paymentService := payments.NewService(gateway, rideService, requestsRepo, walletRepo, clk, feePercent, currency)
	reconciler := payments.NewReconciler(paymentsRepo, walletRepo, cfg.Stripe.WebhookSecret, feePercent, currency)

	ratingService := ratings.NewService(ratingsRepo, bookingsRepo, rideService, cacheManager, notificationService, clk)
	chatService := chat.NewService(chatRepo, bookingsRepo, rideService, notificationService)

	var otpMailer auth.OTPMailer
	if emailClient != nil {
		otpMailer = emailClient
	}
	var phoneVerifier auth.PhoneVerifier
	if cfg.PhoneAuth.APIKey != "" {
		phoneVerifier = auth.NewPhoneAuthClient(cfg.PhoneAuth.URL, cfg.PhoneAuth.APIKey, 5*time.Second)
		logger.Info("phone auth configured")
	}
	authService := auth.NewService(authRepo, otpMailer, phoneVerifier, limiter, cfg.JWT, clk)

	// Handlers.
	authHandler := auth.NewHandler(authService)
	airportHandler := airports.NewHandler(airportService)
	rideHandler := rides.NewHandler(rideService, bookingEngine)
	bookingHandler := bookings.NewHandler(bookingEngine)
	walletHandler := wallet.NewHandler(walletService)
	paymentHandler := payments.NewHandler(paymentService, bookingEngine, reconciler)
	requestHandler := requests.NewHandler(requestEngine)
	notificationHandler := notifications.NewHandler(notificationService)
	ratingHandler := ratings.NewHandler(ratingService)
	chatHandler := chat.NewHandler(chatService)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	worker := scheduler.NewWorker(db, requestEngine, notificationService, clk)

	if bus != nil {
		rideService.SetEventBus(bus)
		bookingEngine.SetEventBus(bus)
		requestEngine.SetEventBus(bus)
		ratingService.SetEventBus(bus)
		reconciler.SetEventBus(bus)
		worker.SetEventBus(bus)

		var emailSender notifications.EmailSender
		if emailClient != nil {
			emailSender = emailClient
		}
		eventHandler := notifications.NewEventHandler(notificationsRepo, emailSender)
		if err := eventHandler.RegisterSubscriptions(rootCtx, bus); err != nil {
			logger.Warn("failed to subscribe to events, email fan-out disabled", zap.Error(err))
		}
	}

	go worker.Start(rootCtx)

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		validation.RegisterCustomRules(v)
	}

	router := gin.New()
	router.Use(middleware.RecoveryWithSentry())
	router.Use(middleware.SentryMiddleware())
	router.Use(middleware.CorrelationID())
	router.Use(middleware.RequestLogger(serviceName))
	router.Use(middleware.RequestTimeout(time.Duration(cfg.Server.WriteTimeout) * time.Second))
	router.Use(middleware.CORS())
	router.Use(middleware.SanitizeRequest())
	router.Use(middleware.ErrorHandler())

	checker := health.NewChecker(db, redisClient)
	router.GET("/health/live", checker.Liveness)
	router.GET("/health/ready", checker.Readiness)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")

	// Webhook first: raw body, signature-verified, never authenticated.
	paymentHandler.RegisterWebhook(v1)

	publicAuth := v1.Group("", middleware.RateLimit(limiter, "auth", authRule))
	authHandler.RegisterPublicRoutes(publicAuth)
	rideHandler.RegisterPublicRoutes(v1)
	airportHandler.RegisterRoutes(v1)

	authed := v1.Group("", middleware.AuthMiddleware(cfg.JWT.Secret))
	authed.Use(middleware.Idempotency(redisClient))
	authHandler.RegisterRoutes(authed)
	rideHandler.RegisterRoutes(authed)
	bookingHandler.RegisterRoutes(authed)
	walletHandler.RegisterRoutes(authed)
	paymentHandler.RegisterRoutes(authed)
	requestHandler.RegisterRoutes(authed)
	notificationHandler.RegisterRoutes(authed)
	ratingHandler.RegisterRoutes(authed)
	chatHandler.RegisterRoutes(authed)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	<-rootCtx.Done()
	logger.Info("shutting down")
	worker.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("forced shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}
