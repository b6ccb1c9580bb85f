package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/metorial/custom-server/internal/cache"
	"github.com/metorial/custom-server/internal/config"
	"github.com/metorial/custom-server/internal/db"
	"github.com/metorial/custom-server/internal/handlers"
	"github.com/metorial/custom-server/internal/lock"
	"github.com/metorial/custom-server/internal/middleware"
	"github.com/metorial/custom-server/internal/models"
	"github.com/metorial/custom-server/internal/schema"
	"github.com/metorial/custom-server/internal/utils"
	"github.com/metorial/custom-server/internal/versioning"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		utils.Logger.Fatal("Failed to load configuration", zap.Error(err))
	}
	utils.SetLogger(utils.NewLogger(cfg.Environment, cfg.LogLevel))
	defer utils.Sync()

	ctx := context.Background()

	// Initialize database connection (migrations run on open)
	store, err := db.Open(ctx, db.Dialect(cfg.DatabaseDriver), cfg.DatabaseURL)
	if err != nil {
		utils.Logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer store.Close()

	if err := seed(ctx, store, cfg.Seed); err != nil {
		utils.Logger.Fatal("Failed to seed organizations", zap.Error(err))
	}

	validator, err := schema.NewValidator()
	if err != nil {
		utils.Logger.Fatal("Failed to compile schema validator", zap.Error(err))
	}

	var locker lock.Locker
	switch cfg.LockBackend {
	case "postgres":
		// Advisory locks get their own pool so waiters never hold the
		// connections the lock holder's transaction needs.
		pgLocker, err := lock.OpenPostgresLocker(ctx, cfg.DatabaseURL, cfg.LockPoolSize, cfg.LockTimeout)
		if err != nil {
			utils.Logger.Fatal("Failed to open lock pool", zap.Error(err))
		}
		defer pgLocker.Close()
		locker = pgLocker
	default:
		locker = lock.NewMemoryLocker(cfg.LockTimeout)
	}

	// CACHE_TTL=0 disables the version cache
	var versionCache *cache.Cache
	if cfg.CacheTTL > 0 {
		versionCache = cache.NewCache(cfg.CacheTTL, 2*cfg.CacheTTL)
	}

	svc := versioning.New(versioning.Deps{
		Store:     store,
		Validator: validator,
		Locker:    locker,
		Cache:     versionCache,
		Logger:    utils.Logger,
	})

	metricsFilter, err := middleware.NewIPFilter(cfg.MetricsAllowedIPs)
	if err != nil {
		utils.Logger.Fatal("Invalid METRICS_ALLOWED_IPS", zap.Error(err))
	}

	// Setup router
	router := mux.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.LoggingMiddleware)
	router.Use(middleware.CORSMiddleware(cfg.CORSAllowedOrigin))

	router.HandleFunc("/health", healthHandler(store)).Methods(http.MethodGet)
	router.Handle("/metrics", metricsFilter.Middleware(promhttp.Handler())).Methods(http.MethodGet)

	api := router.PathPrefix("/v1").Subrouter()
	if cfg.RateLimitRPM > 0 {
		api.Use(middleware.NewRateLimiter(cfg.RateLimitRPM, cfg.RateLimitBurst).Middleware)
	}
	api.Use(middleware.APIKeyAuth(cfg.APIKey))
	handlers.NewCustomServersHandler(store, svc).RegisterRoutes(api)

	if cfg.APIKey == "" {
		utils.Logger.Warn("API_KEY not set, all /v1 requests will be rejected")
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.LockTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	stopStats := make(chan struct{})
	go recordPoolStats(store, stopStats)

	// Start server in goroutine
	go func() {
		utils.Logger.Info("Custom server API starting",
			zap.String("addr", srv.Addr),
			zap.String("database_driver", cfg.DatabaseDriver),
			zap.String("lock_backend", cfg.LockBackend),
			zap.Duration("lock_timeout", cfg.LockTimeout),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			utils.Logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	utils.Logger.Info("Shutting down server...")
	close(stopStats)

	// Graceful shutdown with timeout
	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctxShutdown); err != nil {
		utils.Logger.Error("Server forced to shutdown", zap.Error(err))
	}

	utils.Logger.Info("Server exited")
}

// seed upserts the configured organizations and instances
func seed(ctx context.Context, store *db.DB, s config.Seed) error {
	for _, o := range s.Organizations {
		name := o.Name
		if name == "" {
			name = o.ID
		}
		org, err := store.UpsertOrganization(ctx, o.ID, name)
		if err != nil {
			return fmt.Errorf("organization %s: %w", o.ID, err)
		}
		for _, i := range o.Instances {
			instName := i.Name
			if instName == "" {
				instName = i.ID
			}
			if _, err := store.UpsertInstance(ctx, org, i.ID, instName, models.InstanceType(i.Type)); err != nil {
				return fmt.Errorf("instance %s: %w", i.ID, err)
			}
		}
		utils.Logger.Info("Seeded organization",
			zap.String("organization_id", o.ID),
			zap.Int("instances", len(o.Instances)),
		)
	}
	return nil
}

// recordPoolStats publishes connection pool gauges until stop is closed
func recordPoolStats(store *db.DB, stop <-chan struct{}) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		store.RecordPoolStats()
		select {
		case <-ticker.C:
		case <-stop:
			return
		}
	}
}

// healthHandler reports liveness and database reachability
func healthHandler(store *db.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := store.PingContext(ctx); err != nil {
			utils.Logger.Warn("Health check failed", zap.Error(err))
			_ = utils.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "service": "custom-server"})
			return
		}
		_ = utils.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "custom-server"})
	}
}
