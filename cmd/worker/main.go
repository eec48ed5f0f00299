package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"studio/internal/attendance"
	"studio/internal/cloudinary"
	"studio/internal/config"
	"studio/internal/exports"
	"studio/internal/queue"
	"studio/internal/store"
)

// Worker consumes export jobs from Redis, renders the attendance CSV and
// uploads it.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	if cfg.QueueBackend == "memory" || cfg.StoreBackend == "memory" {
		log.Fatal("worker needs QUEUE_BACKEND=redis and STORE_BACKEND=postgres; the API runs exports in-process otherwise")
	}

	db, err := store.NewDB(cfg.DBDriver, cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
	defer redisClient.Close()
	if !redisClient.Healthy(ctx) {
		log.Println("WARNING: redis not reachable, will keep retrying")
	}

	svc := attendance.NewService(attendance.NewRepository(db.Client), attendance.WithLocation(cfg.Location()))

	var uploader exports.Uploader
	if cfg.CloudinaryConfigured() {
		uploader = cloudinary.New(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder)
	} else {
		log.Println("Cloudinary not configured, exports are kept in redis")
	}

	runner := exports.NewRunner(
		svc,
		exports.NewRedisJobs(redisClient.Client, "", cfg.ExportTTL),
		uploader,
		queue.NewRedisQueue(redisClient.Client, cfg.ExportQueue),
	)

	log.Println("worker started, waiting for export jobs...")
	if err := runner.Run(ctx); err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}
	log.Println("worker stopped")
}
