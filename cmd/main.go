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
	"github.com/joho/godotenv"

	"clowdy/internal/auth"
	"clowdy/internal/cache"
	"clowdy/internal/config"
	"clowdy/internal/db"
	"clowdy/internal/docker"
	"clowdy/internal/execution"
	"clowdy/internal/gateway"
	"clowdy/internal/handlers"
	"clowdy/internal/images"
	"clowdy/internal/logging"
	"clowdy/internal/metrics"
	"clowdy/internal/middleware"
	"clowdy/internal/provision"
)

func main() {
	// Load .env file, trying the parent directory when running from cmd/.
	if err := godotenv.Load(); err != nil {
		_ = godotenv.Load("../.env")
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	logging.Init()
	defer logging.Sync()
	log := logging.S()

	warnings, err := cfg.Validate()
	if err != nil {
		log.Fatalw("Configuration rejected", "error", err)
	}
	for _, w := range warnings {
		log.Warnw(w)
	}

	store, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalw("Database connection failed", "error", err)
	}

	host, err := docker.New(cfg.DockerHost)
	if err != nil {
		log.Fatalw("Container engine client failed", "error", err)
	}
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	err = host.Ping(pingCtx)
	cancelPing()
	if err != nil {
		log.Fatalw("Container engine unreachable", "host", cfg.DockerHost, "error", err)
	}

	imgs := images.NewManager(host, store, cfg.BaseRuntimeImage)
	engine := execution.NewEngine(host, imgs, store, cfg.InvokeTimeout, cfg.LogCaptureLimit)

	var shared *cache.Cache
	if cfg.RedisURL != "" {
		client, err := cache.NewGoRedisClient(cfg.RedisURL)
		if err != nil {
			log.Warnw("Redis unavailable, falling back to in-memory cache", "error", err)
			shared = cache.New(nil)
		} else {
			log.Infow("Redis cache connected")
			shared = cache.NewWithClient(client, nil)
		}
	} else {
		shared = cache.New(nil)
	}
	defer shared.Close()

	projects := cache.NewProjectCache(shared)
	dispatcher := gateway.NewDispatcher(store, projects, engine, cfg.GatewayMaxBody)
	provisioner := provision.NewClient(cfg.ProvisionAPIURL, cfg.ProvisionAPIKey)
	h := handlers.NewHandler(store, engine, imgs, projects, dispatcher, provisioner, host)

	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.RequestLogger())
	router.Use(metrics.Middleware())
	router.Use(middleware.CORS(cfg.CORSOrigins))

	limiter := middleware.NewIPRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	public := router.Group("/api")
	public.Use(limiter.Middleware())

	protected := router.Group("/api")
	protected.Use(limiter.Middleware())
	if cfg.JWKSURL != "" {
		protected.Use(middleware.RequireAuth(auth.NewVerifier(cfg.JWKSURL, cfg.Issuer)))
	} else {
		protected.Use(middleware.WithOwner("local"))
	}

	h.RegisterRoutes(public, protected)
	router.GET("/health", h.Health)
	router.GET("/metrics", metrics.Handler())

	collector := metrics.NewCollector(store.DB, 30*time.Second)
	collector.Start(context.Background())

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Infow("Server listening",
			"port", cfg.Port,
			"environment", cfg.Environment,
			"base_image", cfg.BaseRuntimeImage,
			"database_provisioning", provisioner.Enabled(),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrors <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		log.Fatalw("Server failed", "error", err)
	case sig := <-quit:
		log.Infow("Shutting down", "signal", sig.String())
	}

	// Give in-flight requests and invocations time to finish.
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("HTTP server shutdown", "error", err)
	}

	collector.Stop()
	if err := host.Close(); err != nil {
		log.Errorw("Container engine close", "error", err)
	}
	if err := store.Close(); err != nil {
		log.Errorw("Database close", "error", err)
	}
	log.Infow("Shutdown complete")
}
