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

	"github.com/Gobusters/ectoenv"
	"github.com/Gobusters/ectoinject"
	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/Ramsey-B/fern/config"
	"github.com/Ramsey-B/fern/internal/repositories"
	completionrepo "github.com/Ramsey-B/fern/internal/repositories/completion"
	engagementrepo "github.com/Ramsey-B/fern/internal/repositories/engagement"
	cardrepo "github.com/Ramsey-B/fern/internal/repositories/proposalcard"
	completionsvc "github.com/Ramsey-B/fern/pkg/completion"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/events"
	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/lifecycle"
	"github.com/Ramsey-B/fern/pkg/middleware"
	"github.com/Ramsey-B/fern/pkg/negotiation"
	completionroutes "github.com/Ramsey-B/fern/pkg/routes/completion"
	engagementroutes "github.com/Ramsey-B/fern/pkg/routes/engagement"
	"github.com/Ramsey-B/fern/pkg/routes/health"
	cardroutes "github.com/Ramsey-B/fern/pkg/routes/proposalcard"
	"github.com/Ramsey-B/fern/pkg/startup"
	"github.com/Ramsey-B/fern/pkg/tracing"
	"github.com/Ramsey-B/fern/pkg/tracing/exporters"
)

const version = "1.0.0"

func main() {
	_ = godotenv.Load()

	var cfg config.Config
	if err := ectoenv.BindEnv(&cfg); err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	logger := newLogger(cfg)

	tracerProvider := sdktrace.NewTracerProvider(sdktrace.WithBatcher(&exporters.ConsoleExporter{}))
	otel.SetTracerProvider(tracerProvider)
	tracing.SetTracer(otel.Tracer(cfg.AppName))

	ctx := context.Background()

	var db database.DB
	var producer *kafka.Producer
	e := echo.New()
	checker := health.NewChecker(nil, version)

	boot := startup.New(logger, cfg.StartupMaxAttempts)

	boot.Add(startup.Func{
		Name: "postgres",
		StartFn: func(ctx context.Context) error {
			var err error
			db, err = database.Connect(ctx, database.ConnectConfig{
				Driver:          cfg.DatabaseDriver,
				Host:            cfg.DatabaseHost,
				Port:            cfg.DatabasePort,
				UserName:        cfg.DatabaseUserName,
				Password:        cfg.DatabasePassword,
				Name:            cfg.DatabaseName,
				SSLMode:         cfg.DatabaseSSLMode,
				MaxOpenConns:    cfg.DatabaseMaxOpenConns,
				MaxIdleConns:    cfg.DatabaseMaxIdleConns,
				ConnMaxLifetime: cfg.DatabaseConnMaxLifetime,
			}, logger)
			if err != nil {
				return err
			}

			migrations := database.NewMigrationService(logger, &database.MigrationConfig{
				FolderPath:   cfg.DatabaseMigrationFolderPath,
				Version:      uint(cfg.DatabaseMigrationVersion),
				Force:        cfg.DatabaseMigrationForce,
				AutoRollback: cfg.DatabaseMigrationAutoRollback,
			})
			return migrations.Migrate(cfg.DatabaseName, db)
		},
		StopFn: func(ctx context.Context) error {
			if db == nil {
				return nil
			}
			return db.Close()
		},
	})

	boot.Add(startup.Func{
		Name: "kafka",
		StartFn: func(ctx context.Context) error {
			if !cfg.KafkaEnabled {
				logger.Info("Kafka disabled, negotiation events will not be published")
				return nil
			}
			producer = kafka.NewProducer(kafka.ProducerConfig{
				Brokers:      cfg.KafkaBrokers,
				Topic:        cfg.KafkaOutputTopic,
				BatchSize:    cfg.KafkaBatchSize,
				BatchTimeout: time.Duration(cfg.KafkaBatchTimeout) * time.Millisecond,
				RequiredAcks: cfg.KafkaRequiredAcks,
				Compression:  cfg.KafkaCompression,
			}, logger)
			return nil
		},
		StopFn: func(ctx context.Context) error {
			if producer == nil {
				return nil
			}
			return producer.Close()
		},
	})

	boot.Add(startup.Func{
		Name:  "http",
		Needs: []string{"postgres", "kafka"},
		StartFn: func(ctx context.Context) error {
			if err := registerDependencies(cfg, logger, db, producer); err != nil {
				return err
			}

			e.HideBanner = true
			e.Server.ReadTimeout = time.Duration(cfg.HttpServerReadTimeoutSeconds) * time.Second
			e.Server.WriteTimeout = time.Duration(cfg.HttpServerWriteTimeoutSeconds) * time.Second
			e.Server.IdleTimeout = time.Duration(cfg.HttpServerIdleTimeoutSeconds) * time.Second
			e.Server.ReadHeaderTimeout = time.Duration(cfg.ReadHeaderTimeoutSeconds) * time.Second
			e.Server.MaxHeaderBytes = cfg.MaxHeaderBytes

			e.Use(otelecho.Middleware(cfg.AppName))
			e.Use(middleware.Context())
			e.Use(middleware.Logger(logger))
			e.Use(echomiddleware.CORSWithConfig(echomiddleware.CORSConfig{
				AllowOrigins: cfg.AllowOrigins,
				AllowMethods: cfg.AllowMethods,
			}))
			e.HTTPErrorHandler = middleware.Error(logger)

			checker = health.NewChecker(db, version)
			checker.RegisterRoutes(e)

			api := e.Group("/api/v1")
			engagements := api.Group("/engagements")
			cards := api.Group("/cards")
			completions := api.Group("/completions")

			engagementroutes.Register(engagements)
			cardroutes.Register(engagements, cards)
			completionroutes.Register(engagements, completions)

			go func() {
				if err := e.Start(fmt.Sprintf(":%d", cfg.Port)); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.WithError(err).Error("HTTP server stopped")
				}
			}()

			checker.SetReady(true)
			return nil
		},
		StopFn: func(ctx context.Context) error {
			checker.SetReady(false)
			return e.Shutdown(ctx)
		},
	})

	if err := boot.Start(ctx); err != nil {
		logger.WithError(err).Error("Startup failed")
		os.Exit(1)
	}

	logger.WithField("port", cfg.Port).Infof("%s listening on port %d", cfg.AppName, cfg.Port)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := boot.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Error("Shutdown failed")
		os.Exit(1)
	}
	_ = tracerProvider.Shutdown(shutdownCtx)
}

func newLogger(cfg config.Config) ectologger.Logger {
	var zapLogger *zap.Logger
	var err error
	if cfg.PrettyLogs {
		zapLogger, err = zap.NewDevelopment()
	} else {
		zapLogger, err = zap.NewProduction()
	}
	if err != nil {
		panic(fmt.Sprintf("failed to build logger: %v", err))
	}
	return zapadapter.NewZapEctoLogger(zapLogger, nil)
}

// registerDependencies wires the repositories, the engine, the controller and
// the completion service into the DI container the route handlers resolve from
func registerDependencies(cfg config.Config, logger ectologger.Logger, db database.DB, producer *kafka.Producer) error {
	container, err := ectoinject.NewDIDefaultContainer()
	if err != nil {
		return err
	}

	engagements := engagementrepo.NewRepository(db, logger)
	cards := cardrepo.NewRepository(db, logger)
	completions := completionrepo.NewRepository(db, logger)
	tx := repositories.NewSQLTxRunner(db, logger)

	emitter := events.NewEmitter(producer, logger)
	controller := lifecycle.NewController(engagements, emitter, logger)
	engine := negotiation.NewEngine(engagements, cards, tx, controller, emitter, logger)
	service := completionsvc.NewService(engagements, completions, tx, controller, emitter, logger)

	if err := ectoinject.RegisterInstance[ectologger.Logger](container, logger); err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[repositories.EngagementRepo](container, engagements); err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[repositories.ProposalCardRepo](container, cards); err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[repositories.CompletionRepo](container, completions); err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[*lifecycle.Controller](container, controller); err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[*negotiation.Engine](container, engine); err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[*completionsvc.Service](container, service); err != nil {
		return err
	}
	return nil
}
