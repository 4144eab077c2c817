package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuongbtq/contacts-extractor/internal/api/handler"
	"github.com/cuongbtq/contacts-extractor/internal/api/router"
	"github.com/cuongbtq/contacts-extractor/internal/cache"
	"github.com/cuongbtq/contacts-extractor/internal/config"
	"github.com/cuongbtq/contacts-extractor/internal/contacts"
	"github.com/cuongbtq/contacts-extractor/internal/events"
	"github.com/cuongbtq/contacts-extractor/internal/extraction"
	"github.com/cuongbtq/contacts-extractor/internal/metrics"
	"github.com/cuongbtq/contacts-extractor/internal/storage"
	"github.com/cuongbtq/contacts-extractor/internal/worker"
	"github.com/cuongbtq/contacts-extractor/shared/database"
	"github.com/cuongbtq/contacts-extractor/shared/logger"
	"github.com/cuongbtq/contacts-extractor/shared/rabbitmq"
	"github.com/cuongbtq/contacts-extractor/shared/redis"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting API service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	// Initialize database client and schema
	dbClient, err := initDatabase(&cfg.Database, appLogger.Component("database"))
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	store := storage.NewStorage(dbClient.GetDB(), appLogger.Component("storage"))
	if err := store.Migrate(context.Background()); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	appLogger.Info("Database connection established")

	// Optional event publisher
	publisher, closePublisher, err := initEvents(&cfg.RabbitMQ, appLogger.Component("rabbitmq"))
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	defer closePublisher()

	// Optional statistics cache
	statsCache, closeCache, err := initCache(&cfg.Redis, appLogger.Component("redis"))
	if err != nil {
		return fmt.Errorf("failed to initialize Redis: %w", err)
	}
	defer closeCache()

	contactsClient, err := contacts.NewClient(contacts.Config{
		BaseURL:        cfg.Contacts.BaseURL,
		PageSize:       cfg.Contacts.PageSize,
		MaxRecords:     cfg.Contacts.MaxRecords,
		RequestTimeout: cfg.Contacts.RequestTimeout,
	}, appLogger.Component("contacts"))
	if err != nil {
		return fmt.Errorf("failed to initialize contacts client: %w", err)
	}

	m := metrics.New()

	w := worker.NewWorker(&worker.Config{
		Logger:       appLogger.Component("worker"),
		Storage:      store,
		Fetcher:      contactsClient,
		Metrics:      m,
		Events:       publisher,
		Cache:        statsCache,
		Concurrency:  cfg.Worker.Concurrency,
		JobTimeout:   cfg.Worker.JobTimeout,
		WriteTimeout: cfg.Worker.WriteTimeout,
	})

	svc := extraction.NewService(extraction.Config{
		TokenPrefix:    cfg.Extraction.TokenPrefix,
		MinTokenLength: cfg.Extraction.MinTokenLength,
		DefaultLimit:   cfg.Pagination.DefaultLimit,
		MaxLimit:       cfg.Pagination.MaxLimit,
		NotifyTimeout:  cfg.Worker.WriteTimeout,
	}, extraction.Dependencies{
		Logger:     appLogger.Component("extraction"),
		Storage:    store,
		Dispatcher: w,
		Metrics:    m,
		Events:     publisher,
		Cache:      statsCache,
	})

	// Jobs of a previous process can never finish: their tokens are gone
	if _, err := svc.RecoverOrphans(context.Background()); err != nil {
		return fmt.Errorf("failed to recover orphaned jobs: %w", err)
	}

	// Initialize router
	r := initRouter(cfg.App.Environment, &handler.Dependencies{
		Logger:  appLogger.Component("http"),
		Service: svc,
		Health:  dbClient,
	}, m)

	// Create HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	appLogger.Info("Starting HTTP server",
		slog.String("address", addr),
		slog.Duration("read_timeout", cfg.Server.ReadTimeout),
		slog.Duration("write_timeout", cfg.Server.WriteTimeout),
		slog.Int("worker_concurrency", cfg.Worker.Concurrency),
	)

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal or server failure
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-quit:
		appLogger.Info("Shutting down server...", slog.String("signal", sig.String()))
	case err := <-serverErr:
		appLogger.Error("Server failed", slog.Any("error", err))
		runErr = err
	}

	// Stop accepting requests first, then drain the workers
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown",
			slog.Any("error", err),
		)
	}

	workerCtx, workerCancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
	defer workerCancel()

	if err := w.Stop(workerCtx); err != nil {
		appLogger.Warn("Worker stopped before all jobs finished",
			slog.Any("error", err),
		)
	}

	appLogger.Info("Server shutdown complete")
	return runErr
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}

// initDatabase initializes the job store database client
func initDatabase(cfg *config.DatabaseConfig, logger *slog.Logger) (*database.Client, error) {
	dbConfig := &database.Config{
		Driver:          cfg.Driver,
		Path:            cfg.Path,
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}

	return database.NewClient(dbConfig, logger)
}

// initEvents connects the RabbitMQ event publisher when enabled
func initEvents(cfg *config.RabbitMQConfig, logger *slog.Logger) (events.Publisher, func(), error) {
	if !cfg.Enabled {
		logger.Info("RabbitMQ disabled, job events will not be published")
		return events.Nop{}, func() {}, nil
	}

	rabbitConfig := &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		QueueExclusive:     cfg.Queue.Exclusive,
		RoutingKey:         cfg.RoutingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}

	client, err := rabbitmq.NewClient(rabbitConfig, logger)
	if err != nil {
		return nil, nil, err
	}

	return events.NewBrokerPublisher(client), func() { client.Close() }, nil
}

// initCache connects the Redis statistics cache when enabled
func initCache(cfg *config.RedisConfig, logger *slog.Logger) (cache.StatisticsCache, func(), error) {
	if !cfg.Enabled {
		logger.Info("Redis disabled, statistics are computed on every request")
		return cache.Nop{}, func() {}, nil
	}

	client, err := redis.NewClient(&redis.Config{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}, logger)
	if err != nil {
		return nil, nil, err
	}

	return cache.NewRedis(client.GetClient(), cfg.StatisticsTTL), func() { client.Close() }, nil
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(environment string, deps *handler.Dependencies, m *metrics.Metrics) *gin.Engine {
	// Set Gin mode based on environment
	if environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	return router.SetupRouter(deps, m)
}
