package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cinema-svc/auth"
	"cinema-svc/cache"
	"cinema-svc/catalog"
	"cinema-svc/config"
	"cinema-svc/database"
	"cinema-svc/handlers"
	"cinema-svc/kafka"
	"cinema-svc/ledger"
	"cinema-svc/middleware"
	"cinema-svc/reconciler"

	"github.com/gin-gonic/gin"
	"github.com/urfave/cli/v2"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
)

const serviceName = "cinema-svc"

func main() {
	app := &cli.App{
		Name:  serviceName,
		Usage: "online cinema orders and payments",
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the HTTP API and the payment gateway consumer",
				Action: serve,
			},
			{
				Name:      "migrate",
				Usage:     "apply or revert the database schema",
				ArgsUsage: "up|down",
				Action:    migrateSchema,
			},
		},
		DefaultCommand: "serve",
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	if cfg.IsDevelopment() {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func migrateSchema(c *cli.Context) error {
	direction := c.Args().First()
	if direction == "" {
		direction = "up"
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	db, err := database.InitDB(cfg.Database, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	return database.Migrate(db, direction, logger)
}

func serve(c *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.InitDB(cfg.Database, logger)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	redisClient, err := cache.InitRedis(cfg.Redis, logger)
	if err != nil {
		logger.Fatal("Failed to initialize Redis", zap.Error(err))
	}
	defer redisClient.Close()

	if cfg.JaegerEndpoint != "" {
		shutdown, err := middleware.InitTracing(serviceName, cfg.JaegerEndpoint)
		if err != nil {
			logger.Fatal("Failed to initialize tracing", zap.Error(err))
		}
		defer shutdown()
	}

	producer, err := kafka.InitProducer(cfg.Kafka, logger)
	if err != nil {
		logger.Fatal("Failed to initialize Kafka producer", zap.Error(err))
	}
	defer producer.Close()
	publisher := kafka.NewPublisher(producer, cfg.Kafka.EventsTopic, logger)

	store := database.NewStore(db, logger)
	movies := catalog.New(db, cache.NewMovieCache(redisClient, cfg.Cache.PriceTTL), logger)
	orders := ledger.New(store, movies, publisher, logger)
	payments := reconciler.New(store, orders, publisher, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	consumer := kafka.NewGatewayConsumer(kafka.NewGatewayReader(cfg.Kafka), payments, logger)
	defer consumer.Close()
	go func() {
		if err := consumer.Run(ctx); err != nil {
			logger.Error("Gateway consumer stopped", zap.Error(err))
		}
	}()

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	router.Use(middleware.LoggerMiddleware(logger))
	router.Use(middleware.MetricsMiddleware())

	issuer := auth.NewIssuer(cfg.Auth)
	handlers.Routes{
		Auth:         handlers.NewAuthHandler(db, issuer, logger),
		Movies:       handlers.NewMovieHandler(movies, logger),
		Orders:       handlers.NewOrderHandler(orders, logger),
		Payments:     handlers.NewPaymentHandler(orders, payments, logger),
		Issuer:       issuer,
		WebhookToken: cfg.GatewayWebhookToken,
	}.Register(router)

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start HTTP server", zap.Error(err))
		}
	}()
	logger.Info("Cinema service started", zap.String("addr", cfg.HTTPAddr), zap.String("environment", cfg.Environment))

	<-ctx.Done()
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("Server exited")
	return nil
}
