package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"leveltwo/internal/attendance"
	"leveltwo/internal/auth"
	"leveltwo/internal/changefeed"
	"leveltwo/internal/config"
	"leveltwo/internal/handler"
	"leveltwo/internal/httpmiddleware"
	"leveltwo/internal/members"
	"leveltwo/internal/metrics"
	"leveltwo/internal/realtime"
	"leveltwo/internal/report"
	"leveltwo/internal/store"
	"leveltwo/internal/users"
	"leveltwo/internal/validation"
	"leveltwo/internal/visitation"
	"leveltwo/pkg/logger"
)

func main() {
	cfg := config.Load()
	log := logger.NewFromEnv()

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg, log); err != nil {
		log.Critical("http server failed", "err", err)
		os.Exit(1)
	}
}

func runHTTP(cfg config.App, log logger.Logger) error {
	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	migrateCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	err = db.Migrate(migrateCtx)
	cancel()
	if err != nil {
		return err
	}

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()

	var feed changefeed.Feed
	if cfg.FeedBackend == "memory" {
		mem := changefeed.NewInMemory(256)
		defer mem.Close()
		feed = mem
	} else {
		feed = changefeed.NewRedis(redisClient.Client, cfg.FeedChannel)
	}

	var limiter httpmiddleware.Limiter
	if cfg.RateLimitBackend == "redis" {
		limiter = httpmiddleware.NewRedisWindow(redisClient.Client, cfg.RateLimitPerMin)
	} else {
		limiter = httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin)
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	validate := validation.New()
	signer := auth.NewSigner(cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)

	recordRepo := attendance.NewRepository(db)
	memberSvc := members.NewService(members.NewRepository(db), feed, validate, log.With("component", "members"))
	userSvc := users.NewService(users.NewRepository(db), signer, validate, log.With("component", "users"), cfg.AllowSignup)
	recordSvc := attendance.NewService(recordRepo, feed, m, log.With("component", "records"))
	assignSvc := visitation.NewService(visitation.NewRepository(db), memberSvc, userSvc, feed, log.With("component", "assignments"))
	reportSvc := report.NewService(recordRepo)

	hub := realtime.NewHub(feed, log.With("component", "realtime"), m)
	go func() {
		if err := hub.Run(ctx); err != nil {
			log.InternalError("realtime hub stopped", err)
		}
	}()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(cors.New(corsConfig(cfg.CORSOrigins)))
	r.Use(securityHeaders())
	r.Use(m.GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", func(c *gin.Context) {
		dbHealthy := db.Healthy(c.Request.Context())
		redisHealthy := redisClient.Healthy(c.Request.Context())
		needRedis := cfg.FeedBackend != "memory" || cfg.RateLimitBackend == "redis"
		status := http.StatusOK
		if !dbHealthy || (needRedis && !redisHealthy) {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": http.StatusText(status), "db": dbHealthy, "redis": redisHealthy})
	})

	h := handler.New(handler.Deps{
		Members:     memberSvc,
		Records:     recordSvc,
		Users:       userSvc,
		Assignments: assignSvc,
		Reports:     reportSvc,
		Log:         log.With("component", "http"),
	})
	h.Register(r, handler.Middleware{
		Auth:      auth.UserAuth(signer),
		RateLimit: httpmiddleware.GinMiddleware(limiter),
		Realtime:  hub.ServeWS,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting server", "port", cfg.HTTPPort, "feed", cfg.FeedBackend, "rate_limit", cfg.RateLimitBackend)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}
	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.InternalError("server forced shutdown", err)
	}
	log.Info("server exited")
	return nil
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", handler.RequestIDHeader},
		ExposeHeaders:    []string{"Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           24 * time.Hour,
	}
	if len(origins) == 1 && origins[0] == "*" {
		cfg.AllowOriginFunc = func(string) bool { return true }
	} else {
		cfg.AllowOrigins = origins
	}
	return cfg
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		// Only add HSTS in production
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
