package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"learning-analytics-service/internal/cache"
	"learning-analytics-service/internal/config"
	"learning-analytics-service/internal/database/mongo"
	"learning-analytics-service/internal/database/redis"
	"learning-analytics-service/internal/event"
	"learning-analytics-service/internal/llm"
	"learning-analytics-service/internal/repository"
	"learning-analytics-service/internal/scheduler"
	"learning-analytics-service/internal/service"
	"learning-analytics-service/pkg/discovery"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
)

func setupLogging() (*os.File, error) {
	logDir := filepath.Join("/evolvia", "log", "learning_analytics_service")
	err := os.MkdirAll(logDir, 0755)
	if err != nil {
		return nil, fmt.Errorf("failed to create log directory: %v", err)
	}

	currentTime := time.Now()
	logFileName := fmt.Sprintf("log_%s.log", currentTime.Format("2006-01-02"))
	logFile := filepath.Join(logDir, logFileName)

	file, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %v", err)
	}

	log.SetOutput(file)
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)

	return file, nil
}

func main() {
	logFile, err := setupLogging()
	if err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}
	defer logFile.Close()

	cfg := config.ServiceConfig

	app := fiber.New(fiber.Config{
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	})

	app.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"*"},
	}))

	app.Get("/health", func(c fiber.Ctx) error {
		if !mongo.IsConnected() {
			return c.Status(fiber.StatusServiceUnavailable).SendString("MongoDB unavailable")
		}
		return c.Status(fiber.StatusOK).SendString("Learning Analytics Service is healthy")
	})

	// Initialize repositories
	activityRepo := repository.NewActivityRepository(mongo.Mongo_Database)
	profileRepo := repository.NewProfileRepository(mongo.Mongo_Database)
	summaryRepo := repository.NewSummaryRepository(mongo.Mongo_Database)
	analysisRepo := repository.NewAnalysisRepository(mongo.Mongo_Database)
	performanceRepo := repository.NewPerformanceRepository(mongo.Mongo_Database)

	// Create database indexes
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := activityRepo.CreateIndexes(ctx); err != nil {
		log.Printf("Warning: Failed to create activity indexes: %v", err)
	}
	if err := profileRepo.CreateIndexes(ctx); err != nil {
		log.Printf("Warning: Failed to create profile indexes: %v", err)
	}
	if err := summaryRepo.CreateIndexes(ctx); err != nil {
		log.Printf("Warning: Failed to create summary indexes: %v", err)
	}
	if err := analysisRepo.CreateIndexes(ctx); err != nil {
		log.Printf("Warning: Failed to create analysis indexes: %v", err)
	}
	cancel()
	log.Println("Database index setup complete")

	eventPublisher, err := event.NewEventPublisher(cfg.RabbitMQ.URI)
	if err != nil {
		log.Printf("Warning: Failed to initialize event publisher: %v", err)
		eventPublisher, _ = event.NewEventPublisher("")
	}

	// Initialize services
	profileCache := cache.NewProfileCache(redis.Redis_Client, cfg.Redis.ProfileTTL)
	llmClient := llm.NewClient(cfg.Reasoning)

	tracker := service.NewActivityTracker(activityRepo, profileRepo, profileCache)
	evaluator := service.NewTriggerEvaluator(activityRepo, profileRepo, profileCache, cfg.Triggers)
	profileService := service.NewProfileService(profileRepo, profileCache, eventPublisher)
	summaryService := service.NewSummaryService(summaryRepo, profileRepo, profileCache, llmClient, cfg.Summary, cfg.Reasoning.MaxTokens)
	analysisService := service.NewAnalysisService(
		profileRepo, activityRepo, summaryRepo, performanceRepo, analysisRepo,
		profileService, llmClient, eventPublisher, cfg.Analysis, cfg.Reasoning.MaxTokens,
	)
	debouncer := service.NewAnalysisScheduler(evaluator, analysisService, cfg.Analysis.DebounceDelay)

	eventConsumer, err := event.NewEventConsumer(
		cfg.RabbitMQ.URI, cfg.RabbitMQ.QueueName,
		tracker, evaluator, debouncer, summaryService,
	)
	if err != nil {
		log.Printf("Warning: Failed to initialize event consumer: %v", err)
	} else {
		if err := eventConsumer.Start(); err != nil {
			log.Printf("Warning: Failed to start event consumer: %v", err)
			eventConsumer.Close()
		} else {
			log.Println("Successfully started event consumer")
			defer eventConsumer.Close()
		}
	}

	sweep := scheduler.New(profileRepo, analysisService, cfg.Analysis)
	sweep.Start()

	shutdownChan := make(chan os.Signal, 1)
	doneChan := make(chan bool, 1)

	signal.Notify(shutdownChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("Starting server on port %s", cfg.Server.Port)
		if err := app.Listen(fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)); err != nil {
			log.Fatalf("Error starting server: %v", err)
		}
		doneChan <- true
	}()

	<-shutdownChan
	log.Println("Shutting down server...")

	sweep.Stop()
	debouncer.Stop()

	ctx, cancel = context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Printf("Error shutting down HTTP server: %v", err)
	}

	if eventPublisher != nil {
		if err := eventPublisher.Close(); err != nil {
			log.Printf("Error closing event publisher: %v", err)
		}
	}

	mongo.DisconnectMongo()

	if discovery.ServiceDiscovery != nil {
		if err := discovery.ServiceDiscovery.Deregister(); err != nil {
			log.Printf("Error deregistering from service discovery: %v", err)
		}
	}

	<-doneChan
	log.Println("Server shutdown complete")
}
