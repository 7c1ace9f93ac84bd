package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/exaring/otelpgx"
	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/metinatakli/paygate/internal/domain"
	"github.com/metinatakli/paygate/internal/handler"
	"github.com/metinatakli/paygate/internal/payment"
	"github.com/metinatakli/paygate/internal/reconcile"
	"github.com/metinatakli/paygate/internal/repository"
	appvalidator "github.com/metinatakli/paygate/internal/validator"
	"github.com/metinatakli/paygate/internal/vcs"
	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const serviceName = "paygate"

var (
	version = vcs.Version()
)

type Application struct {
	config      Config
	logger      *slog.Logger
	validator   *validator.Validate
	payments    *payment.Manager
	service     *reconcile.Service
	healthcheck *handler.HealthcheckHandler
}

func NewApp(
	cfg Config,
	logger *slog.Logger,
	validator *validator.Validate,
	payments *payment.Manager,
	service *reconcile.Service) *Application {

	return &Application{
		config:      cfg,
		logger:      logger,
		validator:   validator,
		payments:    payments,
		service:     service,
		healthcheck: handler.NewHealthcheckHandler(cfg.Env, payments),
	}
}

func Run() error {
	cfg, displayVersion, err := ParseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		return err
	}

	if displayVersion {
		fmt.Printf("Version:\t%s\n", version)
		os.Exit(0)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	shutdownTelemetry, err := InitTelemetry(cfg, logger)
	if err != nil {
		return err
	}
	defer shutdownTelemetry(context.Background())

	if cfg.OtelCollectorUrl != "" {
		logger = slog.New(NewMultiHandler(logger.Handler(), otelslog.NewHandler(serviceName)))
	}

	db, err := NewDatabasePool(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	redisClient, err := NewRedisClient(cfg)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	transactions, err := newTransactionRepository(cfg, db)
	if err != nil {
		return err
	}

	payments, err := payment.NewManager(cfg.Payment,
		payment.WithLogger(logger),
		payment.WithHTTPClient(newProviderClient(cfg)),
		payment.WithTransactions(transactions),
	)
	if err != nil {
		return err
	}

	service := reconcile.NewService(
		payments,
		transactions,
		repository.NewPostgresSubscriptionRepository(db),
		repository.NewRedisEventStore(redisClient, cfg.Webhooks.EventTTL),
		logger,
	)

	app := NewApp(cfg, logger, appvalidator.NewValidator(), payments, service)

	return app.run()
}

func NewRedisClient(cfg Config) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:            cfg.Redis.URL,
		MaxIdleConns:    cfg.Redis.MaxIdleConns,
		MaxActiveConns:  cfg.Redis.MaxOpenConns,
		ConnMaxIdleTime: cfg.Redis.MaxIdleTime,
	})

	if err := redisotel.InstrumentTracing(rdb); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	err := rdb.Ping(ctx).Err()
	if err != nil {
		return nil, err
	}

	return rdb, nil
}

func NewDatabasePool(cfg Config) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(cfg.DB.DSN)
	if err != nil {
		return nil, err
	}

	config.MaxConnIdleTime = cfg.DB.MaxIdleTime
	config.MaxConns = int32(cfg.DB.MaxOpenConns)
	config.ConnConfig.Tracer = otelpgx.NewTracer()

	db, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	err = db.Ping(ctx)
	if err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

// NewDynamoDBClient builds a client from the default AWS credential chain,
// or from static keys when both are set.
func NewDynamoDBClient(cfg Config) (*dynamodb.Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.DynamoDB.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.DynamoDB.Region))
	}
	if cfg.DynamoDB.AccessKeyID != "" && cfg.DynamoDB.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.DynamoDB.AccessKeyID, cfg.DynamoDB.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.DynamoDB.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.DynamoDB.Endpoint)
		}
	}), nil
}

type ledger interface {
	domain.TransactionRepository
	payment.TransactionReader
}

func newTransactionRepository(cfg Config, db *pgxpool.Pool) (ledger, error) {
	switch cfg.Ledger {
	case LedgerDynamoDB:
		client, err := NewDynamoDBClient(cfg)
		if err != nil {
			return nil, err
		}
		return repository.NewDynamoDBTransactionRepository(
			client,
			cfg.DynamoDB.TransactionsTable,
			cfg.DynamoDB.RefundsTable,
		), nil
	default:
		return repository.NewPostgresTransactionRepository(db), nil
	}
}

func newProviderClient(cfg Config) *http.Client {
	return &http.Client{
		Timeout:   cfg.ProviderTimeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

func (app *Application) run() error {
	srv := &http.Server{
		Addr:         fmt.Sprintf("0.0.0.0:%d", app.config.Port),
		Handler:      app.Routes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		ErrorLog:     slog.NewLogLogger(app.logger.Handler(), slog.LevelDebug),
	}

	shutdownError := make(chan error)

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		s := <-quit

		app.logger.Info("shutting down server", "signal", s.String())

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		shutdownError <- srv.Shutdown(ctx)
	}()

	app.logger.Info("starting server",
		"addr", srv.Addr,
		"env", app.config.Env,
		"ledger", app.config.Ledger,
		"drivers", app.payments.Names(true),
	)

	err := srv.ListenAndServe()
	if !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	err = <-shutdownError
	if err != nil {
		return err
	}

	app.logger.Info("stopped server", "addr", srv.Addr)

	return nil
}
