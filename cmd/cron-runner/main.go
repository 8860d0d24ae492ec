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

	"github.com/cuongbtq/cron-runner/internal/api/handler"
	"github.com/cuongbtq/cron-runner/internal/api/router"
	"github.com/cuongbtq/cron-runner/internal/config"
	"github.com/cuongbtq/cron-runner/internal/runner"
	"github.com/cuongbtq/cron-runner/internal/runner/storage"
	"github.com/cuongbtq/cron-runner/shared/logger"
	"github.com/cuongbtq/cron-runner/shared/postgresql"
	"github.com/cuongbtq/cron-runner/shared/rabbitmq"
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

	defaultConfigPath := os.Getenv("CRON_RUNNER_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/cron-runner/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting cron runner",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	dbClient, err := initPostgreSQL(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	appLogger.Info("Database connection established")

	// Run events are optional; without a broker the runner only writes job_runs
	var publisher runner.RunPublisher
	var broker handler.BrokerChecker
	if cfg.RabbitMQ.Enabled {
		rabbitClient, err := initRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		defer rabbitClient.Close()

		publisher = runner.NewEventPublisher(rabbitClient)
		broker = rabbitClient
		appLogger.Info("RabbitMQ connection established")
	}

	cronRunner := runner.NewRunner(&runner.Config{
		Logger:         appLogger.With(slog.String("component", "runner")).Logger,
		Store:          storage.NewStorage(dbClient.GetDB(), appLogger.Logger),
		Publisher:      publisher,
		PollInterval:   cfg.Runner.PollInterval,
		RequestTimeout: cfg.Runner.RequestTimeout,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// runnerDone receives Start's result once the reconcile loop has exited
	runnerDone := make(chan error, 1)
	go func() {
		runnerDone <- cronRunner.Start(ctx)
	}()

	errChan := make(chan error, 1)

	var srv *http.Server
	if cfg.Server.Enabled {
		srv = initStatusServer(cfg, appLogger.Logger, dbClient, broker, cronRunner)

		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errChan <- fmt.Errorf("status server failed: %w", err)
			}
		}()

		appLogger.Info("Status server is running",
			slog.String("address", srv.Addr),
		)
	}

	appLogger.Info("Cron runner started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	runnerExited := false
	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case runErr = <-errChan:
		appLogger.Error("Status server error",
			slog.Any("error", runErr),
		)
	case runErr = <-runnerDone:
		runnerExited = true
		if runErr != nil {
			appLogger.Error("Cron runner error",
				slog.Any("error", runErr),
			)
		}
	}

	// Stop polling; executions already dispatched keep running
	cancel()
	if !runnerExited {
		// The reconcile loop must be gone before triggers are torn down
		if err := <-runnerDone; err != nil && runErr == nil {
			runErr = err
		}
	}

	if srv != nil {
		srvCtx, srvCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		if err := srv.Shutdown(srvCtx); err != nil {
			appLogger.Error("Status server forced to shutdown",
				slog.Any("error", err),
			)
		}
		srvCancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Runner.ShutdownTimeout)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		cronRunner.Stop()
		close(done)
	}()

	select {
	case <-done:
		appLogger.Info("Cron runner stopped gracefully")
	case <-shutdownCtx.Done():
		appLogger.Warn("Shutdown timeout exceeded, abandoning in-flight executions",
			slog.Duration("timeout", cfg.Runner.ShutdownTimeout),
		)
	}

	appLogger.Info("Cron runner shutdown complete",
		slog.String("db_pool", dbClient.Stats()),
	)
	return runErr
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		NoColor:      cfg.NoColor,
		TimeFormat:   time.RFC3339,
	})
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	dbConfig := &postgresql.Config{
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

	return postgresql.NewClient(dbConfig, logger)
}

// initRabbitMQ initializes the run event publisher connection
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
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
		RoutingKey:         cfg.RoutingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}

// initStatusServer builds the read-only status HTTP server
func initStatusServer(cfg *config.Config, logger *slog.Logger, db *postgresql.Client, broker handler.BrokerChecker, schedules handler.ScheduleLister) *http.Server {
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := router.SetupRouter(&handler.Dependencies{
		Logger:      logger,
		Database:    db,
		Broker:      broker,
		Schedules:   schedules,
		ServiceName: cfg.App.Name,
	})

	return &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
}
