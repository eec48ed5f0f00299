package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"studio/internal/attendance"
	"studio/internal/auth"
	"studio/internal/cloudinary"
	"studio/internal/config"
	"studio/internal/exports"
	"studio/internal/handler"
	"studio/internal/httpmiddleware"
	"studio/internal/queue"
	"studio/internal/store"
)

func main() {
	cfg := config.Load()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var db *store.DB
	var backing attendance.Store
	if cfg.StoreBackend == "memory" {
		log.Println("using in-memory store; data is lost on restart")
		backing = attendance.NewMemoryStore()
	} else {
		var err error
		db, err = store.NewDB(cfg.DBDriver, cfg.DatabaseURL, cfg.DBMaxConns)
		if err != nil {
			return err
		}
		defer db.Close()
		repo := attendance.NewRepository(db.Client)
		if err := repo.Migrate(ctx); err != nil {
			return err
		}
		backing = repo
	}

	svc := attendance.NewService(backing, attendance.WithLocation(cfg.Location()))

	var redisClient *store.Redis
	var q queue.Queue
	var jobs exports.JobStore
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
		jobs = exports.NewMemoryJobs()
	} else {
		redisClient = store.NewRedis(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
		defer redisClient.Close()
		q = queue.NewRedisQueue(redisClient.Client, cfg.ExportQueue)
		jobs = exports.NewRedisJobs(redisClient.Client, "", cfg.ExportTTL)
	}

	var uploader exports.Uploader
	if cfg.CloudinaryConfigured() {
		uploader = cloudinary.New(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder)
		log.Println("Cloudinary configured:", cfg.CloudinaryCloudName)
	} else {
		log.Println("Cloudinary not configured, exports are kept with the job")
	}
	runner := exports.NewRunner(svc, jobs, uploader, q)

	// No separate worker reads an in-memory queue.
	if cfg.QueueBackend == "memory" {
		go func() {
			if err := runner.Run(ctx); err != nil {
				log.Printf("export runner stopped: %v", err)
			}
		}()
	}

	if cfg.StaffPassHash == "" {
		log.Println("warning: STAFF_PASSWORD_HASH not set, logins will fail")
	}
	issuer := auth.NewIssuer(cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
	staff := auth.Staff{Username: cfg.StaffUsername, PasswordHash: cfg.StaffPassHash}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(httpmiddleware.CORS())
	r.Use(httpmiddleware.SecurityHeaders())
	r.Use(httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", func(c *gin.Context) {
		body := gin.H{"status": "ok"}
		healthy := true
		if db != nil {
			ok := db.Healthy(c.Request.Context())
			body["db"] = ok
			healthy = healthy && ok
		}
		if redisClient != nil {
			ok := redisClient.Healthy(c.Request.Context())
			body["redis"] = ok
			healthy = healthy && ok
		}
		status := http.StatusOK
		if !healthy {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
		c.JSON(status, body)
	})

	handler.New(svc, issuer, staff, runner).Mount(r)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")
	cancel()

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}
