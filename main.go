package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"route-ledger/internal/audit"
	"route-ledger/internal/auth"
	"route-ledger/internal/eventing"
	eventingrepo "route-ledger/internal/eventing/infrastructure/postgres"
	"route-ledger/internal/notify"
	"route-ledger/internal/observability/logging"
	"route-ledger/internal/observability/metrics"
	"route-ledger/internal/settlement/application"
	settlement "route-ledger/internal/settlement/domain"
	"route-ledger/internal/settlement/infrastructure/cache"
	"route-ledger/internal/settlement/infrastructure/lock"
	"route-ledger/internal/settlement/infrastructure/memory"
	settlementrepo "route-ledger/internal/settlement/infrastructure/postgres"
	settlementinterfaces "route-ledger/internal/settlement/interfaces"
)

func main() {
	_ = godotenv.Load()
	cfg := loadConfig()
	logger := logging.New(cfg.LogLevel, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		db          *sql.DB
		store       settlement.Store
		outbox      eventing.OutboxStore
		auditLogger audit.Logger
	)
	switch cfg.StoreDriver {
	case "memory":
		mem := memory.NewStore()
		store, outbox = mem, mem
		auditLogger = audit.NewMemoryLogger()
		logger.Warn("using in-memory ledger store; data is lost on restart")
	default:
		var err error
		db, err = sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			logger.WithError(err).Fatal("db open error")
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			logger.WithError(err).Fatal("db ping error")
		}
		outboxStore := eventingrepo.NewOutboxStore(db)
		store, outbox = settlementrepo.NewStore(db, outboxStore), outboxStore
		auditLogger = audit.NewRepository(db)
	}
	metrics.Init(db, logger)

	var locker application.RouteLocker = lock.NewKeyedMutex()
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.WithError(err).Fatal("redis ping error")
		}
		cached, err := cache.New(store, rdb, cache.WithTTL(cfg.CacheTTL), cache.WithLogger(logger))
		if err != nil {
			logger.WithError(err).Fatal("cache store error")
		}
		store = cached
		redisLocker, err := lock.NewRedisLocker(rdb, lock.WithLogger(logger))
		if err != nil {
			logger.WithError(err).Fatal("redis locker error")
		}
		locker = redisLocker
	}

	rules, err := application.LoadRulesConfig()
	if err != nil {
		logger.WithError(err).Fatal("rules config error")
	}
	opts := []application.Option{
		application.WithLocker(locker),
		application.WithLogger(logger),
		application.WithTenantID(cfg.TenantID),
		application.WithRules(rules),
	}

	cycles, err := application.NewCycleService(store, opts...)
	if err != nil {
		logger.WithError(err).Fatal("cycle service error")
	}
	summaries, err := application.NewSummaryService(store, opts...)
	if err != nil {
		logger.WithError(err).Fatal("summary service error")
	}
	ledger, err := application.NewDebtLedger(store, opts...)
	if err != nil {
		logger.WithError(err).Fatal("debt ledger error")
	}
	finalizer, err := application.NewFinalizer(store, opts...)
	if err != nil {
		logger.WithError(err).Fatal("finalizer error")
	}
	pendency, err := application.NewPendencyService(store, opts...)
	if err != nil {
		logger.WithError(err).Fatal("pendency service error")
	}
	reports, err := application.NewReportService(store, summaries, opts...)
	if err != nil {
		logger.WithError(err).Fatal("report service error")
	}
	dashboard, err := application.NewDashboard(cycles, summaries, ledger, pendency, opts...)
	if err != nil {
		logger.WithError(err).Fatal("dashboard error")
	}

	var notifier notify.Notifier
	if rules.WebhookURL != "" {
		notifier = notify.NewWebhookNotifier(rules.WebhookURL)
	}
	reconciler, err := application.NewReconciler(store, notifier, rules.Heal, opts...)
	if err != nil {
		logger.WithError(err).Fatal("reconciler error")
	}
	if rules.Schedule.DailyAt != "" {
		scheduler := application.NewScheduler(reconciler, rules.Schedule.Routes, rules.Schedule.DailyAt, logger)
		go scheduler.Start(ctx)
	}

	bus := eventing.NewBus()
	settlementinterfaces.SubscribeEventLog(bus, logger)
	dispatcher := eventing.NewDispatcher(bus, outbox, eventing.NewRegistry(application.EventSamples()...), logger, cfg.OutboxMaxAttempts)
	go dispatcher.Run(ctx, cfg.OutboxInterval, cfg.OutboxBatch)

	handler, err := settlementinterfaces.NewHandler(settlementinterfaces.Services{
		Cycles:     cycles,
		Summaries:  summaries,
		Ledger:     ledger,
		Finalizer:  finalizer,
		Reports:    reports,
		Dashboard:  dashboard,
		Reconciler: reconciler,
	}, auditLogger, logger)
	if err != nil {
		logger.WithError(err).Fatal("settlement handler error")
	}

	policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, nil)
	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), policy)
	authMiddleware.Logger = logger

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.Middleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(httprate.LimitByIP(cfg.RateLimit, time.Minute))
	r.Use(authMiddleware.Wrap)

	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			if err := db.PingContext(r.Context()); err != nil {
				http.Error(w, "db unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	handler.RegisterRoutes(r)

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.WithFields(logrus.Fields{"addr": cfg.HTTPAddr, "store": cfg.StoreDriver}).Info("http listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Fatal("http server error")
	}
}

type config struct {
	StoreDriver       string
	DatabaseURL       string
	HTTPAddr          string
	TenantID          string
	LogLevel          string
	JWTSecret         string
	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	CacheTTL          time.Duration
	CORSOrigins       []string
	RateLimit         int
	OutboxInterval    time.Duration
	OutboxBatch       int
	OutboxMaxAttempts int
}

func loadConfig() config {
	cfg := config{
		StoreDriver:       strings.ToLower(getenvDefault("STORE_DRIVER", "postgres")),
		DatabaseURL:       getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		HTTPAddr:          getenvDefault("HTTP_ADDR", ":8080"),
		TenantID:          getenvDefault("TENANT_ID", "tenant-demo"),
		LogLevel:          getenvDefault("LOG_LEVEL", "info"),
		JWTSecret:         getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", "")),
		RedisAddr:         getenvDefault("REDIS_ADDR", ""),
		RedisPassword:     getenvDefault("REDIS_PASSWORD", ""),
		RedisDB:           getenvIntDefault("REDIS_DB", 0),
		CacheTTL:          getenvDuration("CACHE_TTL", 5*time.Minute),
		CORSOrigins:       strings.Split(getenvDefault("CORS_ORIGINS", "*"), ","),
		RateLimit:         getenvIntDefault("RATE_LIMIT_PER_MINUTE", 200),
		OutboxInterval:    getenvDuration("OUTBOX_INTERVAL", 5*time.Second),
		OutboxBatch:       getenvIntDefault("OUTBOX_BATCH", 50),
		OutboxMaxAttempts: getenvIntDefault("OUTBOX_MAX_ATTEMPTS", 5),
	}
	if cfg.StoreDriver != "memory" && cfg.DatabaseURL == "" {
		logrus.Fatal("DATABASE_URL or PG_DSN is required")
	}
	if cfg.JWTSecret == "" {
		logrus.Fatal("AUTH_JWT_SECRET is required")
	}
	return cfg
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}
