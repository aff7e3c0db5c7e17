package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/synesthesie/listings/internal/config"
	"github.com/synesthesie/listings/internal/handlers"
	"github.com/synesthesie/listings/internal/logging"
	"github.com/synesthesie/listings/internal/middleware"
	"github.com/synesthesie/listings/internal/models"
	"github.com/synesthesie/listings/internal/services"
	"github.com/synesthesie/listings/internal/submission"
)

func main() {
	// Load environment variables
	envErr := godotenv.Load()

	// Initialize configuration
	cfg := config.New()
	logging.Setup(cfg)
	if envErr != nil {
		log.Info().Msg("no .env file found, using environment variables")
	}

	// Initialize database
	db, err := models.InitDB(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize database")
	}

	// Run migrations
	if err := models.Migrate(db); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	// Initialize Redis
	redisClient := models.InitRedis(cfg)
	defer redisClient.Close()

	// Initialize services
	storageService := services.NewStorageService(cfg)
	s3Service, err := services.NewS3Service(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init S3 service")
	}
	listingService := services.NewListingService(db)
	listingImageService := services.NewListingImageService(db, s3Service, cfg)

	// Drafts submit through the public listing images endpoint. The token lets
	// the rate limiter tell these calls apart from client traffic.
	if cfg.SubmissionToken == "" {
		cfg.SubmissionToken = uuid.NewString()
	}
	submissionClient := submission.NewClient(cfg.SubmissionURL, cfg.SubmissionTimeout, storageService.Open,
		submission.WithBearerToken(cfg.SubmissionToken))
	draftService := services.NewDraftService(cfg, listingService, listingImageService, storageService, submissionClient)

	// Start periodic sweep of staged files left behind by closed drafts
	if cfg.StagingSweepInterval > 0 {
		go func() {
			for {
				removed, err := storageService.SweepStaging(cfg.DraftTTL, draftService.IsOpen)
				if err != nil {
					log.Error().Err(err).Msg("staging sweep failed")
				} else if removed > 0 {
					log.Info().Int("removed", removed).Msg("staging sweep removed orphaned drafts")
				}
				time.Sleep(cfg.StagingSweepInterval)
			}
		}()
	}

	// Initialize handlers
	listingHandler := handlers.NewListingHandler(listingService, listingImageService)
	draftHandler := handlers.NewDraftHandler(draftService, storageService, cfg)

	// Setup router
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.CORS(cfg))
	router.Use(middleware.RateLimiter(redisClient, cfg))

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	api := router.Group("/api/v1")
	api.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})
	handlers.RegisterRoutes(api, listingHandler, draftHandler, middleware.UploadRateLimit(redisClient, cfg))

	// Start server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  120 * time.Second,
		WriteTimeout: cfg.SubmissionTimeout + 30*time.Second, // draft submit waits for the upstream
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Info().Str("port", cfg.Port).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	draftService.Close()

	log.Info().Msg("server exited")
}
