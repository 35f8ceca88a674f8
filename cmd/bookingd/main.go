package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/jorgekeles/sistema-barberia/internal/auth"
	"github.com/jorgekeles/sistema-barberia/internal/billing"
	"github.com/jorgekeles/sistema-barberia/internal/booking"
	"github.com/jorgekeles/sistema-barberia/internal/config"
	"github.com/jorgekeles/sistema-barberia/internal/consumer"
	"github.com/jorgekeles/sistema-barberia/internal/db"
	"github.com/jorgekeles/sistema-barberia/internal/handlers"
	"github.com/jorgekeles/sistema-barberia/internal/httpx"
	"github.com/jorgekeles/sistema-barberia/internal/inbox"
	"github.com/jorgekeles/sistema-barberia/internal/kafkax"
	"github.com/jorgekeles/sistema-barberia/internal/metrics"
	"github.com/jorgekeles/sistema-barberia/internal/notify"
	"github.com/jorgekeles/sistema-barberia/internal/otelx"
	"github.com/jorgekeles/sistema-barberia/internal/outbox"
	"github.com/jorgekeles/sistema-barberia/internal/runtime"
	"github.com/jorgekeles/sistema-barberia/internal/storage"
)

func main() {
	_ = godotenv.Load()

	service := config.String("SERVICE_NAME", "bookingd")
	port, err := config.Port("PORT", "8080")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	jwtSecret, err := config.RequiredString("JWT_SECRET")
	if err != nil {
		panic(err)
	}

	var rdb *redis.Client
	if addr := config.String("REDIS_ADDR", ""); addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: addr})
		defer rdb.Close()
	}

	businessRepo := storage.NewBusinessRepository(pool)
	catalogRepo := storage.NewCatalogRepository(pool)
	scheduleRepo := storage.NewScheduleRepository(pool, businessRepo)
	bookingRepo := storage.NewBookingRepository(pool)
	subsRepo := storage.NewSubscriptionRepository(pool)
	outboxRepo := outbox.NewRepository(pool)

	var slotCache booking.SlotCache
	if rdb != nil {
		slotCache = booking.NewRedisSlotCache(rdb,
			time.Duration(config.Int("SLOT_CACHE_TTL_SECONDS", 30))*time.Second, logger)
	}

	bookingSvc := booking.NewService(booking.Deps{
		Businesses: businessRepo,
		Catalog:    catalogRepo,
		Schedule:   scheduleRepo,
		Ledger:     bookingRepo,
		Events:     outboxRepo,
		Gate:       billing.NewGate(subsRepo),
		Cache:      slotCache,
		Logger:     logger,
	})

	brokers := config.String("KAFKA_BROKERS", "")
	publisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   brokers,
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go publisher.Run(ctx)

	if brokers != "" {
		sender := notify.NewWhatsAppSender(notify.WhatsAppConfig{
			APIURL:        config.String("WHATSAPP_API_URL", notify.DefaultGraphAPIURL),
			Token:         config.String("WHATSAPP_TOKEN", ""),
			PhoneNumberID: config.String("WHATSAPP_PHONE_NUMBER_ID", ""),
		}, logger)
		handler := notify.AppointmentHandler(logger, businessRepo, sender)
		inboxRepo := inbox.NewRepository(pool)
		for _, topic := range []string{
			outbox.TopicAppointmentConfirmed,
			outbox.TopicAppointmentCanceled,
			outbox.TopicAppointmentRescheduled,
		} {
			c := consumer.New(logger, inboxRepo, consumer.Config{
				Brokers: brokers,
				GroupID: config.String("NOTIFY_GROUP_ID", "bookingd-notify"),
				Topic:   topic,
			}, handler)
			go c.Run(ctx)
		}
	}

	readyChecks := []runtime.ReadyCheck{
		{Name: "db", Check: db.ReadyCheck(pool)},
	}
	if brokers != "" {
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)})
	}
	if rdb != nil {
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "redis", Check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	}
	mux := runtime.NewBaseMuxWithReady(readyChecks...)

	m := metrics.New()
	limits := handlers.RateLimiters{}
	if rdb != nil {
		limits.Book = httpx.NewRedisRateLimiter(rdb, config.Int("RATE_LIMIT_BOOK_PER_MIN", 10), time.Minute, "rl:book").Middleware(logger)
		limits.Slots = httpx.NewRedisRateLimiter(rdb, config.Int("RATE_LIMIT_SLOTS_PER_MIN", 120), time.Minute, "rl:slots").Middleware(logger)
		limits.Lookup = httpx.NewRedisRateLimiter(rdb, config.Int("RATE_LIMIT_LOOKUP_PER_MIN", 20), time.Minute, "rl:lookup").Middleware(logger)
	}

	publicHandler := handlers.NewPublicHandler(bookingSvc, businessRepo, catalogRepo, logger)
	ownerHandler := handlers.NewOwnerHandler(bookingSvc, scheduleRepo, catalogRepo, subsRepo, businessRepo, logger)
	webhookHandler := handlers.NewBillingWebhookHandler(subsRepo,
		billing.NewApplier(subsRepo, outboxRepo, logger),
		config.String("STRIPE_WEBHOOK_SECRET", ""), logger)

	handlers.Register(mux, publicHandler, ownerHandler, webhookHandler,
		auth.RequireTenant(jwtSecret), limits, m)

	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: strings.Split(config.String("CORS_ALLOWED_ORIGINS", "*"), ","),
			AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Authorization", "Content-Type", "Idempotency-Key"},
			MaxAge:         10 * time.Minute,
		}),
		httpx.WithBodyLimit(1<<20),
	)
	handler = otelhttp.NewHandler(handler, service)

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}
