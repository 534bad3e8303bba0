package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/idbridge/idbridge/pkg/authn"
	"github.com/idbridge/idbridge/pkg/config"
	"github.com/idbridge/idbridge/pkg/httpapi"
	"github.com/idbridge/idbridge/pkg/identity"
	"github.com/idbridge/idbridge/pkg/middleware"
	"github.com/idbridge/idbridge/pkg/observability"
	"github.com/idbridge/idbridge/pkg/password"
	"github.com/idbridge/idbridge/pkg/policy"
	"github.com/idbridge/idbridge/pkg/saml"
	"github.com/idbridge/idbridge/pkg/storage"
	"github.com/idbridge/idbridge/pkg/token"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		os.Stderr.WriteString("configuration error: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("service exited with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := storage.Open(cfg.Storage)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := storage.Migrate(ctx, db, cfg.Storage.Driver); err != nil {
		return err
	}
	logger.WithField("driver", cfg.Storage.Driver).Info("database ready")

	settings, err := config.NewRuntimeSettings(cfg.Policy, logger)
	if err != nil {
		return err
	}
	defer settings.Close()

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	users := identity.NewStore(db)
	tokens := token.NewManager(db, logger, token.WithMetrics(metrics))
	hasher := password.NewBcryptHasher(cfg.Policy.BcryptCost)

	var policyOpts []policy.Option
	policyOpts = append(policyOpts, policy.WithMetrics(metrics))
	if cfg.Policy.StrengthMinLength > 0 {
		policyOpts = append(policyOpts, policy.WithStrengthPolicy(
			password.StrengthPolicy{MinLength: cfg.Policy.StrengthMinLength}))
	}
	engine := policy.NewEngine(settings, users, hasher, logger, policyOpts...)

	samlStore := saml.NewStorage(db)
	samlRegistry, err := saml.NewRegistry(samlStore, logger)
	if err != nil {
		return err
	}
	validator := saml.NewAssertionValidator(samlRegistry)

	orch := authn.NewOrchestrator(cfg.Server.Realm, validator, users, tokens, engine,
		hasher, logger, authn.WithMetrics(metrics))

	handlers := httpapi.NewHandlers(orch, samlRegistry, samlStore, cfg.Server.BaseURL, logger)
	router := mux.NewRouter()
	router.Use(middleware.RequestID(logger))
	router.Use(middleware.Logging())
	handlers.RegisterRoutes(router)

	if cfg.Redis.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()

		limiter := middleware.NewLoginRateLimiter(redisClient, &middleware.RateLimitConfig{
			AttemptsPerWindow: cfg.Redis.LoginRateLimit,
			WindowDuration:    cfg.Redis.LoginRateWindow,
		}, logger)
		// Only the authentication endpoints are limited; provider
		// admin and metadata stay unthrottled.
		router.Use(func(next http.Handler) http.Handler {
			limited := limiter.Handler(next)
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if strings.HasPrefix(r.URL.Path, "/auth/") {
					limited.ServeHTTP(w, r)
					return
				}
				next.ServeHTTP(w, r)
			})
		})
		logger.WithField("limit", cfg.Redis.LoginRateLimit).Info("login rate limiting enabled")
	}

	server := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	if cfg.Observability.MetricsEnabled {
		healthMux.Handle("/metrics", observability.Handler(registry))
	}
	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthMux,
	}

	scheduler := cron.New()
	if cfg.Token.SweepSchedule != "" {
		_, err := scheduler.AddFunc(cfg.Token.SweepSchedule, func() {
			if _, err := tokens.SweepOrphans(context.Background()); err != nil {
				logger.WithError(err).Warn("token sweep failed")
			}
		})
		if err != nil {
			return err
		}
		scheduler.Start()
		defer scheduler.Stop()
		logger.WithField("schedule", cfg.Token.SweepSchedule).Info("token sweep scheduled")
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.WithField("addr", server.Addr).Info("server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		logger.WithField("addr", healthServer.Addr).Info("health server listening")
		if err := healthServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return healthServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
