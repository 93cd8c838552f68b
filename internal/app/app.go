package app

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/lodestone-io/lodestone/internal/config"
	"github.com/lodestone-io/lodestone/internal/database"
	"github.com/lodestone-io/lodestone/internal/handlers"
	"github.com/lodestone-io/lodestone/internal/messaging"
	"github.com/lodestone-io/lodestone/internal/middleware"
	"github.com/lodestone-io/lodestone/internal/services"
	"github.com/lodestone-io/lodestone/internal/validation"
	"github.com/lodestone-io/lodestone/pkg/models"
)

type App struct {
	config     *config.Config
	logger     *logrus.Logger
	db         *database.Database
	services   *services.Services
	handlers   *handlers.Handlers
	messageBus *messaging.MessageBus
	router     *gin.Engine

	consumerCancel context.CancelFunc
}

func New(cfg *config.Config) (*App, error) {
	app := &App{
		config: cfg,
		logger: setupLogger(cfg),
	}

	// Initialize database connections
	db, err := database.New(cfg, app.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	validator, err := validation.NewSchemaValidator()
	if err != nil {
		return nil, fmt.Errorf("failed to compile schemas: %w", err)
	}

	// Kafka is optional: without brokers the engine still serves, it just
	// learns about content mutations only through training triggers.
	var notifier services.TrainingNotifier
	if len(cfg.Kafka.Brokers) > 0 {
		bus, err := messaging.NewMessageBus(cfg, validator, app.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize message bus: %w", err)
		}
		app.messageBus = bus
		notifier = bus
	} else {
		app.logger.Warn("Kafka not configured, content events and training notifications disabled")
	}

	app.services = services.New(cfg, db, notifier, app.logger)
	app.handlers = handlers.New(app.logger, app.services, validator)

	if app.messageBus != nil {
		app.startContentConsumer()
	}

	app.setupRouter()
	return app, nil
}

func (a *App) Router() *gin.Engine {
	return a.router
}

func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("Shutting down application...")

	if a.consumerCancel != nil {
		a.consumerCancel()
	}
	a.services.Stop()

	if a.messageBus != nil {
		if err := a.messageBus.Close(); err != nil {
			a.logger.WithError(err).Error("Error closing message bus")
		}
	}

	if err := a.db.Close(); err != nil {
		a.logger.WithError(err).Error("Error closing database connections")
		return err
	}
	return nil
}

// startContentConsumer subscribes the cache invalidator to content-mutation
// events from the bus.
func (a *App) startContentConsumer() {
	ctx, cancel := context.WithCancel(context.Background())
	a.consumerCancel = cancel

	go func() {
		err := a.messageBus.ConsumeContentEvents(ctx, func(event *models.ContentEvent) error {
			a.services.CacheInvalidator.HandleContentEvent(ctx, event)
			return nil
		})
		if err != nil && ctx.Err() == nil {
			a.logger.WithError(err).Error("Content event consumer stopped")
		}
	}()
}

func setupLogger(cfg *config.Config) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Logging.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	return logger
}

func (a *App) setupRouter() {
	if a.config.Server.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Global middleware
	router.Use(middleware.Logger(a.logger))
	router.Use(middleware.Recovery(a.logger))
	router.Use(middleware.CORS(a.config))

	// Health check endpoint (no auth required)
	router.GET("/health", a.handlers.Health.Check)

	// Prometheus metrics endpoint (no auth required)
	if a.config.Monitoring.Enabled {
		router.GET(a.config.Monitoring.MetricsPath, gin.WrapH(promhttp.Handler()))
	}

	// Public API routes
	api := router.Group("/api/v1")
	{
		recommendations := api.Group("/recommendations")
		{
			recommendations.GET("/:sessionId", a.handlers.Recommendation.Get)
		}

		api.POST("/interactions", a.handlers.Interaction.Log)
		api.POST("/feedback", a.handlers.Interaction.Feedback)

		profiles := api.Group("/profiles")
		{
			profiles.GET("/:sessionId/insights", a.handlers.Profile.Insights)
			profiles.PUT("/:sessionId/preferences", a.handlers.Profile.UpdatePreferences)
			profiles.GET("/:sessionId/history", a.handlers.Profile.History)
		}

		// Operator routes behind bearer tokens
		admin := api.Group("/admin")
		{
			admin.Use(middleware.OperatorAuth(a.services.Auth, a.logger))

			training := admin.Group("/training")
			{
				training.POST("/jobs", a.handlers.Admin.StartTraining)
				training.GET("/jobs", a.handlers.Admin.ListTrainingJobs)
				training.GET("/jobs/:jobId", a.handlers.Admin.GetTrainingJob)
			}

			admin.GET("/metrics", a.handlers.Admin.GetMetrics)

			clustering := admin.Group("/clustering")
			{
				clustering.GET("/analysis", a.handlers.Admin.GetClusteringAnalysis)
				clustering.POST("/retrain", a.handlers.Admin.RetrainClustering)
			}

			abTests := admin.Group("/ab-tests")
			{
				abTests.POST("", a.handlers.Admin.CreateABTest)
				abTests.GET("/:name/results", a.handlers.Admin.GetABTestResults)
				abTests.GET("/:name/assignment", a.handlers.Admin.AssignABTest)
			}

			admin.GET("/health", a.handlers.Health.Check)
		}
	}

	a.router = router
}
