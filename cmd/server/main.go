package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/taskbrain/backend/internal/auth"
	"github.com/taskbrain/backend/internal/cache"
	"github.com/taskbrain/backend/internal/config"
	delivery "github.com/taskbrain/backend/internal/delivery/http"
	"github.com/taskbrain/backend/internal/middleware"
	"github.com/taskbrain/backend/internal/repository/postgres"
	"github.com/taskbrain/backend/internal/usecase"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("Task Brain Backend Starting...")

	// Load configuration
	cfg := config.Load()
	log.Printf("Server configured on port %s", cfg.Server.Port)

	// Connect to PostgreSQL with retry
	var pool *pgxpool.Pool
	for attempt := 1; attempt <= 5; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		var err error
		pool, err = pgxpool.New(ctx, cfg.Database.URL)
		if err == nil {
			if pingErr := pool.Ping(ctx); pingErr == nil {
				cancel()
				log.Println("Connected to PostgreSQL")
				break
			} else {
				pool.Close()
				log.Printf("Attempt %d: Failed to ping database: %v", attempt, pingErr)
			}
		} else {
			log.Printf("Attempt %d: Failed to connect to database: %v", attempt, err)
		}
		cancel()
		if attempt == 5 {
			log.Fatalf("Could not connect to database after 5 attempts")
		}
		time.Sleep(time.Duration(attempt) * 2 * time.Second)
	}
	defer pool.Close()

	// Connect to Redis (ephemeral token cache)
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	{
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Printf("Warning: Redis unreachable at startup: %v", err)
		} else {
			log.Println("Connected to Redis")
		}
		cancel()
	}
	defer redisClient.Close()

	// Initialize repositories
	userRepo := postgres.NewUserRepository(pool)
	tokenRepo := postgres.NewRefreshTokenRepository(pool)
	taskRepo := postgres.NewTaskRepository(pool)
	categoryRepo := postgres.NewCategoryRepository(pool)

	// Token codec and ephemeral cache
	codec := auth.NewCodec(cfg.JWT.Secret, cfg.JWT.AppID, cfg.JWT.AllowedHosts, cfg.JWT.AccessExpiry, cfg.JWT.RefreshExpiry)
	tokenCache := cache.NewTokenCache(redisClient)

	// Initialize usecases
	authUsecase := usecase.NewAuthUsecase(userRepo, tokenRepo, codec, cfg.Session.ResetTokenTTL)
	taskUsecase := usecase.NewTaskUsecase(taskRepo, categoryRepo)

	// Initialize HTTP handler and middleware
	handler := delivery.NewHandler(authUsecase, taskUsecase)
	sessionMiddleware := middleware.NewSessionMiddleware(&cfg.Session, tokenCache)
	authMiddleware := middleware.NewAuthMiddleware(codec, &cfg.Session)

	// Create router
	router := delivery.NewRouter(handler, sessionMiddleware, authMiddleware, cfg.CORS.AllowedOrigins)

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server starting on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	fmt.Println()
	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped gracefully")
}
