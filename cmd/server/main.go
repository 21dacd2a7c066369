package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/wra13107/digital-memorial-landing/internal/api"
	"github.com/wra13107/digital-memorial-landing/internal/api/middleware"
	"github.com/wra13107/digital-memorial-landing/internal/app/service"
	"github.com/wra13107/digital-memorial-landing/internal/app/worker"
	"github.com/wra13107/digital-memorial-landing/internal/common/security"
	"github.com/wra13107/digital-memorial-landing/internal/domain/model"
	"github.com/wra13107/digital-memorial-landing/internal/domain/repository"
	"github.com/wra13107/digital-memorial-landing/internal/metrics"
	"github.com/wra13107/digital-memorial-landing/internal/platform/config"
	"github.com/wra13107/digital-memorial-landing/internal/platform/database"
	"github.com/wra13107/digital-memorial-landing/internal/platform/queue"
)

const sweepLockKey = "memorial:token_sweep_lock"

func main() {
	// 1. Load Configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelStartup()

	// 2. Initialize Store
	var users repository.UserRepository
	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		logger.Warn("using in-memory store; accounts are lost on restart")
		users = repository.NewMemoryUserRepository(nil)
	default:
		db, err := database.Connect(startupCtx, cfg.DBConnStr)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer database.Close(db)
		if err := database.RunMigrations(cfg.DBConnStr); err != nil {
			log.Fatalf("Failed to run migrations: %v", err)
		}
		users = repository.NewPgUserRepository(db)
	}

	// 3. Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := metrics.NewCollector(reg)

	// 4. Mail queue (Redis is optional)
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	var mailQueue service.MailQueue = service.LogMailQueue{Logger: logger}
	var sweepLock worker.Locker
	if cfg.RedisAddr != "" {
		rdb, err := queue.Connect(startupCtx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer queue.Close(rdb)

		redisQueue := queue.NewRedisMailQueue(rdb, cfg.MailQueueName)
		mailQueue = redisQueue
		sweepLock = queue.NewRedisLock(rdb, sweepLockKey, lockTTL(cfg.TokenSweepInterval))

		var mailer worker.Mailer = worker.LogMailer{Logger: logger}
		if cfg.MailAPIURL != "" {
			mailer = worker.NewNotificationMailer(cfg.MailAPIURL, cfg.MailAPIKey, nil)
		} else {
			logger.Warn("MAIL_API_URL is not set; queued mail will only be logged")
		}
		mailWorker := worker.NewMailWorker(redisQueue, mailer, recorder, logger.With("component", "mail_worker"))
		go mailWorker.Start(workerCtx)
	}

	sweeper := worker.NewTokenSweeper(users, cfg.TokenSweepInterval, sweepLock, logger.With("component", "token_sweeper"))
	go sweeper.Start(workerCtx)

	// 5. Initialize Services
	sessions, err := security.NewTokenService(cfg.JWTKey, nil)
	if err != nil {
		log.Fatalf("Failed to initialize token service: %v", err)
	}
	hasher := security.NewPasswordHasher(cfg.BcryptCost, cfg.HashConcurrency)
	tokens := service.NewSingleUseTokens(users, map[model.TokenPurpose]time.Duration{
		model.PurposeEmailVerification: cfg.EmailVerificationTTL,
		model.PurposePasswordReset:     cfg.PasswordResetTTL,
	}, nil, recorder)
	accountService := service.NewAccountService(users, hasher, tokens, mailQueue, cfg.BaseURL, logger)
	authService := service.NewAuthService(users, hasher, sessions, accountService, recorder, logger, nil)
	adminService := service.NewAdminService(users, authService, recorder, logger)

	limiterConfig := middleware.PerMinute(cfg.RateLimitAuthPerMin)
	if limiterConfig.TrustedProxies, err = middleware.ParseTrustedProxies(cfg.TrustedProxies); err != nil {
		log.Fatalf("Invalid TRUSTED_PROXIES: %v", err)
	}
	limiter := middleware.NewRateLimiter(limiterConfig, recorder)
	defer limiter.Stop()

	// 6. Initialize Router & HTTP Server
	router := api.NewRouter(api.Dependencies{
		Auth:        authService,
		Account:     accountService,
		Admin:       adminService,
		Tokens:      sessions,
		AuthLimiter: limiter,
		Gatherer:    reg,
		Logger:      logger,
	})

	server := &http.Server{
		Addr:         ":" + cfg.APIPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// 7. Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("server starting", "port", cfg.APIPort, "store", cfg.StoreDriver)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Could not listen on %s: %v\n", cfg.APIPort, err)
		}
	}()

	<-stop

	logger.Info("shutting down server")
	workerCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
		return
	}
	logger.Info("server and workers stopped gracefully")
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

// lockTTL bounds a sweep lease so a crashed holder cannot block the next run.
func lockTTL(interval time.Duration) time.Duration {
	if interval <= 0 || interval > 10*time.Minute {
		return 10 * time.Minute
	}
	return interval
}
