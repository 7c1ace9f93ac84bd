package integration_test

import (
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/metinatakli/paygate/internal/app"
	"github.com/metinatakli/paygate/internal/payment"
	"github.com/metinatakli/paygate/internal/reconcile"
	"github.com/metinatakli/paygate/internal/repository"
	appvalidator "github.com/metinatakli/paygate/internal/validator"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

type TestApp struct {
	App          *app.Application
	DB           *pgxpool.Pool
	RedisClient  *redis.Client
	Transactions *repository.PostgresTransactionRepository
	Events       *repository.RedisEventStore
}

// paymentConfig enables the two drivers that need no provider account.
func paymentConfig() payment.Config {
	return payment.Config{
		DefaultDriver:   payment.DriverBankTransfer,
		DefaultCurrency: "EUR",
		Logging:         true,
		Channel:         "payments",
		BankTransfer: payment.BankTransferConfig{
			Enabled:       true,
			BankName:      "Test Bank",
			AccountHolder: "Paygate GmbH",
			IBAN:          "DE89370400440532013000",
			BIC:           "COBADEFFXXX",
		},
		COD: payment.CODConfig{
			Enabled:          true,
			FeeType:          payment.FeeTypeFixed,
			Fee:              decimal.NewFromInt(250),
			AllowedCountries: []string{"DE"},
			Currencies:       []string{"EUR"},
		},
	}
}

func newTestApp(cfg app.Config) (*TestApp, error) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	db, err := app.NewDatabasePool(cfg)
	if err != nil {
		return nil, err
	}

	redisClient, err := app.NewRedisClient(cfg)
	if err != nil {
		db.Close()
		return nil, err
	}

	transactions := repository.NewPostgresTransactionRepository(db)
	subscriptions := repository.NewPostgresSubscriptionRepository(db)
	events := repository.NewRedisEventStore(redisClient, time.Hour)

	payments, err := payment.NewManager(cfg.Payment,
		payment.WithLogger(logger),
		payment.WithTransactions(transactions),
	)
	if err != nil {
		db.Close()
		redisClient.Close()
		return nil, err
	}

	service := reconcile.NewService(payments, transactions, subscriptions, events, logger)

	application := app.NewApp(cfg, logger, appvalidator.NewValidator(), payments, service)

	return &TestApp{
		App:          application,
		DB:           db,
		RedisClient:  redisClient,
		Transactions: transactions,
		Events:       events,
	}, nil
}
