package app

import (
	"flag"
	"os"
	"strings"
	"time"

	"github.com/metinatakli/paygate/internal/payment"
	appvalidator "github.com/metinatakli/paygate/internal/validator"
	"github.com/shopspring/decimal"
)

const (
	LedgerPostgres = "postgres"
	LedgerDynamoDB = "dynamodb"
)

type Config struct {
	Port             int    `validate:"gte=1,lte=65535"`
	Env              string `validate:"oneof=dev staging prod test"`
	OtelCollectorUrl string
	// Ledger selects where transactions and refunds are stored. Subscriptions
	// always live in PostgreSQL.
	Ledger   string `validate:"oneof=postgres dynamodb"`
	DB       DBConfig
	Redis    RedisConfig
	DynamoDB DynamoDBConfig
	Webhooks WebhookConfig
	// ProviderTimeout bounds every outbound call to a provider API.
	ProviderTimeout time.Duration `validate:"gt=0"`
	Payment         payment.Config
}

type DBConfig struct {
	DSN          string
	MaxOpenConns int `validate:"gte=1"`
	MaxIdleTime  time.Duration
}

type RedisConfig struct {
	URL          string
	MaxOpenConns int
	MaxIdleConns int
	MaxIdleTime  time.Duration
}

type DynamoDBConfig struct {
	Region            string
	Endpoint          string `validate:"omitempty,url"`
	AccessKeyID       string
	SecretAccessKey   string
	TransactionsTable string
	RefundsTable      string
}

type WebhookConfig struct {
	MaxBytes int64         `validate:"gte=1024"`
	EventTTL time.Duration `validate:"gte=0"`
}

// ParseFlags defines the command line flags on fs and parses args into a
// Config. Secrets default to their PAYGATE_* environment variables so they
// can come from a .env file instead of the process arguments.
func ParseFlags(fs *flag.FlagSet, args []string) (Config, bool, error) {
	var cfg Config

	fs.IntVar(&cfg.Port, "port", 3000, "server port")
	fs.StringVar(&cfg.Env, "env", "dev", "Environment (dev|staging|prod)")
	fs.StringVar(&cfg.OtelCollectorUrl, "otel-collector-url", os.Getenv("PAYGATE_OTEL_COLLECTOR_URL"), "OpenTelemetry collector gRPC endpoint")
	fs.StringVar(&cfg.Ledger, "ledger", LedgerPostgres, "Ledger backend (postgres|dynamodb)")
	fs.DurationVar(&cfg.ProviderTimeout, "provider-timeout", 30*time.Second, "Timeout for calls to payment provider APIs")

	fs.StringVar(&cfg.DB.DSN, "db-dsn", os.Getenv("PAYGATE_DB_DSN"), "PostgreSQL DSN")
	fs.IntVar(&cfg.DB.MaxOpenConns, "db-max-open-conns", 25, "PostgreSQL max open connections")
	fs.DurationVar(&cfg.DB.MaxIdleTime, "db-max-idle-time", 15*time.Minute, "PostgreSQL max idle time for connections")

	fs.StringVar(&cfg.Redis.URL, "redis-url", os.Getenv("PAYGATE_REDIS_URL"), "Redis URL")
	fs.IntVar(&cfg.Redis.MaxOpenConns, "redis-max-open-conns", 25, "Redis max open connections")
	fs.IntVar(&cfg.Redis.MaxIdleConns, "redis-max-idle-conns", 10, "Redis max idle connections")
	fs.DurationVar(&cfg.Redis.MaxIdleTime, "redis-max-idle-time", 2*time.Minute, "Redis max idle time for connections")

	fs.StringVar(&cfg.DynamoDB.Region, "dynamodb-region", os.Getenv("AWS_REGION"), "DynamoDB region")
	fs.StringVar(&cfg.DynamoDB.Endpoint, "dynamodb-endpoint", os.Getenv("PAYGATE_DYNAMODB_ENDPOINT"), "DynamoDB endpoint override")
	fs.StringVar(&cfg.DynamoDB.AccessKeyID, "dynamodb-access-key-id", os.Getenv("PAYGATE_DYNAMODB_ACCESS_KEY_ID"), "DynamoDB static access key id")
	fs.StringVar(&cfg.DynamoDB.SecretAccessKey, "dynamodb-secret-access-key", os.Getenv("PAYGATE_DYNAMODB_SECRET_ACCESS_KEY"), "DynamoDB static secret access key")
	fs.StringVar(&cfg.DynamoDB.TransactionsTable, "dynamodb-transactions-table", "", "DynamoDB transactions table")
	fs.StringVar(&cfg.DynamoDB.RefundsTable, "dynamodb-refunds-table", "", "DynamoDB refunds table")

	fs.Int64Var(&cfg.Webhooks.MaxBytes, "webhook-max-bytes", 1<<20, "Largest accepted webhook body")
	fs.DurationVar(&cfg.Webhooks.EventTTL, "webhook-event-ttl", 72*time.Hour, "How long processed webhook event ids are remembered")

	definePaymentFlags(fs, &cfg.Payment)

	displayVersion := fs.Bool("version", false, "Display version and exit")

	if err := fs.Parse(args); err != nil {
		return Config{}, false, err
	}

	if err := appvalidator.NewValidator().Struct(cfg); err != nil {
		return Config{}, false, err
	}

	return cfg, *displayVersion, nil
}

func definePaymentFlags(fs *flag.FlagSet, cfg *payment.Config) {
	fs.StringVar(&cfg.DefaultDriver, "payment-default-driver", payment.DriverStripe, "Driver used when a request names none")
	fs.StringVar(&cfg.DefaultCurrency, "payment-default-currency", "USD", "Currency used when a request names none")
	fs.BoolVar(&cfg.Logging, "payment-logging", true, "Log payment driver activity")
	fs.StringVar(&cfg.Channel, "payment-channel", "payments", "Value of the channel attribute on driver logs")
	fs.DurationVar(&cfg.WebhookTolerance, "webhook-tolerance", 5*time.Minute, "Replay window for signed webhook timestamps")

	fs.StringVar(&cfg.Stripe.SecretKey, "stripe-key", os.Getenv("PAYGATE_STRIPE_KEY"), "Stripe secret key")
	fs.StringVar(&cfg.Stripe.PublishableKey, "stripe-publishable-key", os.Getenv("PAYGATE_STRIPE_PUBLISHABLE_KEY"), "Stripe publishable key")
	fs.StringVar(&cfg.Stripe.WebhookSecret, "stripe-webhook-secret", os.Getenv("PAYGATE_STRIPE_WEBHOOK_SECRET"), "Stripe webhook secret")
	listVar(fs, &cfg.Stripe.Currencies, "stripe-currencies", "Comma separated currencies accepted by Stripe")

	fs.StringVar(&cfg.PayPal.ClientID, "paypal-client-id", os.Getenv("PAYGATE_PAYPAL_CLIENT_ID"), "PayPal client id")
	fs.StringVar(&cfg.PayPal.ClientSecret, "paypal-client-secret", os.Getenv("PAYGATE_PAYPAL_CLIENT_SECRET"), "PayPal client secret")
	fs.StringVar(&cfg.PayPal.WebhookID, "paypal-webhook-id", os.Getenv("PAYGATE_PAYPAL_WEBHOOK_ID"), "PayPal webhook id")
	fs.StringVar(&cfg.PayPal.Mode, "paypal-mode", "sandbox", "PayPal environment (sandbox|live)")
	fs.StringVar(&cfg.PayPal.ReturnURL, "paypal-return-url", "", "PayPal approval return URL")
	fs.StringVar(&cfg.PayPal.CancelURL, "paypal-cancel-url", "", "PayPal approval cancel URL")
	fs.StringVar(&cfg.PayPal.BrandName, "paypal-brand-name", "", "Brand name shown on the PayPal approval page")
	listVar(fs, &cfg.PayPal.Currencies, "paypal-currencies", "Comma separated currencies accepted by PayPal")

	fs.StringVar(&cfg.Coinbase.APIKey, "coinbase-api-key", os.Getenv("PAYGATE_COINBASE_API_KEY"), "Coinbase Commerce API key")
	fs.StringVar(&cfg.Coinbase.WebhookSecret, "coinbase-webhook-secret", os.Getenv("PAYGATE_COINBASE_WEBHOOK_SECRET"), "Coinbase Commerce shared webhook secret")
	fs.StringVar(&cfg.Coinbase.RedirectURL, "coinbase-redirect-url", "", "Coinbase hosted checkout redirect URL")
	fs.StringVar(&cfg.Coinbase.CancelURL, "coinbase-cancel-url", "", "Coinbase hosted checkout cancel URL")
	listVar(fs, &cfg.Coinbase.Currencies, "coinbase-currencies", "Comma separated currencies accepted by Coinbase")

	fs.StringVar(&cfg.MercadoPago.AccessToken, "mercadopago-access-token", os.Getenv("PAYGATE_MERCADOPAGO_ACCESS_TOKEN"), "Mercado Pago access token")
	fs.StringVar(&cfg.MercadoPago.WebhookSecret, "mercadopago-webhook-secret", os.Getenv("PAYGATE_MERCADOPAGO_WEBHOOK_SECRET"), "Mercado Pago webhook secret")
	fs.StringVar(&cfg.MercadoPago.NotificationURL, "mercadopago-notification-url", "", "Mercado Pago notification URL")
	listVar(fs, &cfg.MercadoPago.Currencies, "mercadopago-currencies", "Comma separated currencies accepted by Mercado Pago")

	fs.BoolVar(&cfg.BankTransfer.Enabled, "bank-transfer-enabled", false, "Offer bank transfer payments")
	fs.StringVar(&cfg.BankTransfer.BankName, "bank-name", "", "Bank name shown in transfer instructions")
	fs.StringVar(&cfg.BankTransfer.AccountHolder, "bank-account-holder", "", "Account holder shown in transfer instructions")
	fs.StringVar(&cfg.BankTransfer.IBAN, "bank-iban", os.Getenv("PAYGATE_BANK_IBAN"), "IBAN shown in transfer instructions")
	fs.StringVar(&cfg.BankTransfer.BIC, "bank-bic", "", "BIC shown in transfer instructions")
	fs.IntVar(&cfg.BankTransfer.ExpiryDays, "bank-transfer-expiry-days", 7, "Days a transfer reference stays payable")
	fs.StringVar(&cfg.BankTransfer.ReferencePrefix, "bank-reference-prefix", "BT", "Prefix of issued transfer references")

	fs.BoolVar(&cfg.COD.Enabled, "cod-enabled", false, "Offer cash on delivery")
	fs.StringVar(&cfg.COD.FeeType, "cod-fee-type", payment.FeeTypeFixed, "Cash on delivery fee type (fixed|percentage)")
	fs.Func("cod-fee", "Cash on delivery fee, minor units or a percentage", func(s string) error {
		fee, err := decimal.NewFromString(s)
		if err != nil {
			return err
		}
		cfg.COD.Fee = fee
		return nil
	})
	fs.Int64Var(&cfg.COD.MaxAmount, "cod-max-amount", 0, "Largest order payable on delivery, 0 for no limit")
	listVar(fs, &cfg.COD.AllowedCountries, "cod-allowed-countries", "Comma separated countries where cash on delivery is offered")
}

func listVar(fs *flag.FlagSet, dst *[]string, name, usage string) {
	fs.Func(name, usage, func(s string) error {
		*dst = nil
		for _, item := range strings.Split(s, ",") {
			if item = strings.ToUpper(strings.TrimSpace(item)); item != "" {
				*dst = append(*dst, item)
			}
		}
		return nil
	})
}
