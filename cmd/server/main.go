package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Kilat-Pet-Delivery/service-livetrack/internal/application"
	"github.com/Kilat-Pet-Delivery/service-livetrack/internal/config"
	"github.com/Kilat-Pet-Delivery/service-livetrack/internal/database"
	"github.com/Kilat-Pet-Delivery/service-livetrack/internal/domain/tracking"
	"github.com/Kilat-Pet-Delivery/service-livetrack/internal/events"
	"github.com/Kilat-Pet-Delivery/service-livetrack/internal/geocode"
	"github.com/Kilat-Pet-Delivery/service-livetrack/internal/handler"
	"github.com/Kilat-Pet-Delivery/service-livetrack/internal/health"
	"github.com/Kilat-Pet-Delivery/service-livetrack/internal/location"
	"github.com/Kilat-Pet-Delivery/service-livetrack/internal/logger"
	"github.com/Kilat-Pet-Delivery/service-livetrack/internal/middleware"
	"github.com/Kilat-Pet-Delivery/service-livetrack/internal/repository"
	"github.com/Kilat-Pet-Delivery/service-livetrack/internal/routing"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const serviceName = "service-livetrack"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.NewNamed(cfg.AppEnv, serviceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting "+serviceName,
		zap.String("port", cfg.Port),
		zap.String("env", cfg.AppEnv),
	)

	// Connect to database
	db, err := database.Connect(cfg.DBConfig, cfg.AppEnv, log)
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}

	// The snapshot table is the only schema this service owns.
	if err := db.AutoMigrate(&repository.SnapshotModel{}); err != nil {
		log.Fatal("failed to run auto-migration", zap.Error(err))
	}
	log.Info("database migration completed")

	// Initialize Kafka producer
	kafkaProducer := events.NewProducer(cfg.KafkaConfig.Brokers, log)
	defer func() { _ = kafkaProducer.Close() }()

	// Initialize repositories
	snapshotRepo := repository.NewGormSnapshotRepository(db)

	// Initialize collaborators
	httpClient := &http.Client{}
	routes := routing.NewClient(routing.Config{
		BaseURL: cfg.RoutingConfig.BaseURL,
		APIKey:  cfg.RoutingConfig.APIKey,
		Profile: cfg.RoutingConfig.Profile,
		Timeout: cfg.RoutingConfig.Timeout,
	}, httpClient, log.Named("routing"))

	geocoder, err := newGeocoder(cfg, httpClient, log)
	if err != nil {
		log.Fatal("failed to initialize geocoder", zap.Error(err))
	}

	hub := location.NewHub(cfg.LocationConfig.MinDistanceMeters, log.Named("location"))

	// Initialize application service
	trackingService := application.NewTrackingService(
		hub,
		routes,
		geocoder,
		snapshotRepo,
		kafkaProducer,
		application.TrackingOptions{
			RouteTimeout:  cfg.RoutingConfig.Timeout,
			PromptTimeout: cfg.LocationConfig.PromptTimeout,
		},
		log,
	)

	// Initialize and start runner location consumer in a goroutine
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	groupID := cfg.KafkaConfig.GroupPrefix + "livetrack-service"
	locationConsumer := events.NewLocationEventConsumer(
		cfg.KafkaConfig.Brokers,
		groupID,
		hub,
		log,
	)
	defer func() { _ = locationConsumer.Close() }()

	go func() {
		log.Info("starting runner location consumer")
		if err := locationConsumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("runner location consumer error", zap.Error(err))
		}
	}()

	// Initialize HTTP handlers
	trackingHandler := handler.NewTrackingHandler(trackingService, log)
	deviceHandler := handler.NewDeviceHandler(trackingService)
	adminHandler := handler.NewAdminHandler(trackingService)

	// Setup Gin router
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	// Apply global middleware
	router.Use(middleware.RecoveryMiddleware(log))
	router.Use(middleware.LoggerMiddleware(log))
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.CORSMiddleware())
	router.Use(middleware.SecurityHeadersMiddleware())

	// Register health check routes
	healthHandler := health.NewHandler(db, serviceName)
	healthHandler.RegisterRoutes(router)

	// Register routes
	trackingHandler.RegisterRoutes(&router.RouterGroup)
	deviceHandler.RegisterRoutes(&router.RouterGroup)
	adminHandler.RegisterRoutes(&router.RouterGroup)

	// Create HTTP server. No WriteTimeout: the stream endpoint holds its connection open.
	srv := &http.Server{
		Addr:              cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Info("HTTP server starting", zap.String("addr", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down " + serviceName + "...")

	// Cancel the consumer context
	cancel()

	// Stop every session and close the open streams before draining HTTP.
	trackingService.Shutdown()

	// Shutdown HTTP server with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server forced shutdown", zap.Error(err))
	}

	log.Info(serviceName + " stopped")
}

// newGeocoder prefers a remote geocoding API and falls back to the local gazetteer.
// It returns nil when neither is configured.
func newGeocoder(cfg *config.ServiceConfig, httpClient *http.Client, log *zap.Logger) (tracking.Geocoder, error) {
	switch {
	case cfg.GeocoderConfig.BaseURL != "":
		log.Info("using remote geocoder", zap.String("base_url", cfg.GeocoderConfig.BaseURL))
		return geocode.NewClient(
			cfg.GeocoderConfig.BaseURL,
			cfg.RoutingConfig.APIKey,
			cfg.RoutingConfig.Timeout,
			httpClient,
			log.Named("geocode"),
		), nil
	case cfg.GeocoderConfig.GazetteerFile != "":
		gazetteer, err := geocode.LoadGazetteer(cfg.GeocoderConfig.GazetteerFile)
		if err != nil {
			return nil, err
		}
		log.Info("using gazetteer geocoder", zap.String("file", cfg.GeocoderConfig.GazetteerFile))
		return gazetteer, nil
	default:
		log.Warn("no geocoder configured, destination search disabled")
		return nil, nil
	}
}
