package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/uptrace/bun"

	"ms-booking/internal/admission"
	"ms-booking/internal/auth"
	"ms-booking/internal/booking"
	"ms-booking/internal/booking/booking_api"
	"ms-booking/internal/clock"
	"ms-booking/internal/config"
	"ms-booking/internal/database"
	"ms-booking/internal/database/migrations"
	"ms-booking/internal/events"
	"ms-booking/internal/inventory"
	"ms-booking/internal/kafka"
	"ms-booking/internal/ledger"
	"ms-booking/internal/lock"
	"ms-booking/internal/logger"
	"ms-booking/internal/rabbitmq"
	"ms-booking/internal/sse"
	"ms-booking/internal/sweeper"
	"ms-booking/internal/tickets/qr"
	"ms-booking/internal/tracking"
)

func prepareSchema(ctx context.Context, cfg config.DatabaseConfig, db *bun.DB, log *logger.Logger) {
	if database.IsPostgres(cfg.Driver) {
		opts := migrations.DefaultOptions()
		opts.AutoMigrate = cfg.AutoMigrate
		if !opts.AutoMigrate {
			log.Info("DATABASE", "Auto-migration disabled, run cmd/migrate to update the schema")
			return
		}
		runner := migrations.NewRunner(db, opts, log)
		if err := runner.RunMigrations(); err != nil {
			log.Fatal("DATABASE", fmt.Sprintf("Migrations failed: %v", err))
		}
		return
	}
	if err := database.CreateSchema(ctx, db); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to create schema: %v", err))
	}
	log.Info("DATABASE", "✅ Schema ready")
}

func connectRedis(ctx context.Context, cfg config.RedisConfig, log *logger.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr})
	if err := client.Ping(ctx).Err(); err != nil {
		log.Fatal("REDIS", fmt.Sprintf("Redis connection error: %v", err))
	}
	log.Info("REDIS", fmt.Sprintf("✅ Redis connection successful to %s", cfg.Addr))
	return client
}

type closer func() error

// buildPublisher assembles the lifecycle event transports named by
// EVENTS_BACKEND.
func buildPublisher(cfg *config.Config, log *logger.Logger) (events.Publisher, []closer) {
	var (
		out     events.FanOut
		closers []closer
	)
	backend := cfg.Booking.EventsBackend

	if backend == "kafka" || backend == "both" {
		producer := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topics, log)
		if err := kafka.EnsureTopicsExist(cfg.Kafka.Brokers, append(producer.Topics(), cfg.Kafka.Topics.PaymentSuccess), log); err != nil {
			log.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
		}
		out = append(out, producer)
		closers = append(closers, producer.Close)
		log.Info("KAFKA", "Kafka producer initialized successfully")
	}

	if backend == "rabbitmq" || backend == "both" {
		pub, err := rabbitmq.Dial(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange, log)
		if err != nil {
			log.Fatal("RABBITMQ", fmt.Sprintf("Failed to connect: %v", err))
		}
		out = append(out, pub)
		closers = append(closers, pub.Close)
	}

	switch len(out) {
	case 0:
		log.Info("EVENTS", "Lifecycle events disabled")
		return events.Nop{}, nil
	case 1:
		return out[0], closers
	}
	return out, closers
}

func buildVerifier(ctx context.Context, cfg config.AuthConfig, log *logger.Logger) auth.Verifier {
	if cfg.OIDCIssuer != "" {
		v, err := auth.NewOIDCVerifier(ctx, cfg.OIDCIssuer, cfg.OIDCClientID)
		if err != nil {
			log.Fatal("AUTH", fmt.Sprintf("OIDC discovery failed: %v", err))
		}
		log.Info("AUTH", fmt.Sprintf("Verifying tokens issued by %s", cfg.OIDCIssuer))
		return v
	}
	if cfg.JWTSecret == "" {
		log.Fatal("CONFIG", "either OIDC_ISSUER or JWT_SECRET must be set")
	}
	log.Info("AUTH", "Verifying HMAC-signed tokens")
	return auth.NewHMACVerifier(cfg.JWTSecret)
}

func main() {
	log := logger.NewLogger()
	defer log.Close()

	log.Info("APP", "Starting Booking Service initialization")

	if err := godotenv.Load(); err != nil {
		log.Warn("CONFIG", ".env file not found, using environment variables")
	} else {
		log.Info("CONFIG", "Loaded environment variables from .env file")
	}
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.Open(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal("DATABASE", err.Error())
	}
	defer db.Close()
	prepareSchema(ctx, cfg.Database, db, log)

	var redisClient *redis.Client
	if cfg.Admission.LockBackend == "redis" || cfg.Admission.TrackerBackend == "redis" {
		redisClient = connectRedis(ctx, cfg.Redis, log)
		defer redisClient.Close()
	}

	var locker lock.Locker = lock.NewLocal(cfg.Admission.LockWait)
	if cfg.Admission.LockBackend == "redis" {
		locker = lock.NewRedis(redisClient, cfg.Admission.LockWait, log)
	}

	var tracker tracking.Store
	if cfg.Admission.TrackerBackend == "redis" {
		tracker = tracking.NewRedisStore(redisClient, cfg.Admission.TrackerTTL)
	} else {
		mem := tracking.NewMemoryStore(cfg.Admission.TrackerTTL)
		go purgeTracker(ctx, mem, log)
		tracker = mem
	}

	clk := clock.NewSystem()
	tx := database.NewTransactor(db)
	retrier := database.NewRetrier(cfg.Database.Retries)
	store := inventory.NewStore(db, clk, log)
	reservations := ledger.New(db, clk, log)

	publisher, closers := buildPublisher(cfg, log)
	broadcaster := sse.NewBroadcaster()
	emitter := events.NewEmitter(publisher, broadcaster, log)

	controller := admission.NewController(admission.Deps{
		Tx:        tx,
		Inventory: store,
		Ledger:    reservations,
		Locker:    locker,
		Tracker:   tracker,
		Emitter:   emitter,
		Clock:     clk,
		Retrier:   retrier,
		Logger:    log,
	}, admission.Options{
		Mode:           admission.Mode(cfg.Admission.Mode),
		HoldTTL:        cfg.Booking.HoldTTL,
		QueueThreshold: cfg.Admission.QueueThreshold,
		QueueCapacity:  cfg.Admission.QueueCapacity,
		MaxPerRequest:  cfg.Admission.MaxPerRequest,
	})
	bookingService := booking.NewService(tx, store, reservations, emitter, clk, retrier, log)

	sw := sweeper.New(tx, reservations, store, emitter, clk, retrier, log, sweeper.Config{
		Interval: cfg.Booking.SweepInterval,
		Batch:    cfg.Booking.SweepBatch,
	})
	go sw.Run(ctx)

	if cfg.Kafka.Enabled {
		consumer := kafka.NewPaymentConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topics.PaymentSuccess, cfg.Kafka.GroupID, bookingService, log)
		closers = append(closers, consumer.Close)
		go func() {
			if err := consumer.Start(ctx); err != nil {
				log.Error("KAFKA", fmt.Sprintf("Payment consumer stopped: %v", err))
			}
		}()
	}

	handler := &booking_api.Handler{
		Admission:   controller,
		Booking:     bookingService,
		Status:      tracking.NewService(tracker, reservations),
		Broadcaster: broadcaster,
		QRGenerator: qr.NewQRGenerator(cfg.Tickets.QRSecretKey),
		Clock:       clk,
		Logger:      log,
		AdminRole:   cfg.Auth.AdminRole,
		ServiceRole: cfg.Auth.ServiceRole,
	}

	log.Info("HTTP", "Setting up router and middleware")
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	handler.Routes(r, auth.Middleware(buildVerifier(ctx, cfg.Auth, log), log))

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("HTTP", fmt.Sprintf("🚀 Booking Service running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	log.Info("APP", "Service started successfully, waiting for shutdown signal")
	<-stop

	log.Info("APP", "Shutdown signal received, initiating graceful shutdown")

	// Stop taking requests before the queue workers go away.
	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Error("HTTP", fmt.Sprintf("Server Shutdown Failed: %v", err))
	}
	cancel()
	controller.Close()
	for _, c := range closers {
		if err := c(); err != nil {
			log.Warn("APP", fmt.Sprintf("Close failed: %v", err))
		}
	}
	log.Info("HTTP", "✅ Booking Service shutdown complete")
}

func purgeTracker(ctx context.Context, mem *tracking.MemoryStore, log *logger.Logger) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := mem.Purge(); n > 0 {
				log.Debug("TRACKING", fmt.Sprintf("Purged %d stale tracking record(s)", n))
			}
		}
	}
}
