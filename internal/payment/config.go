package payment

import (
	"fmt"
	"time"

	"github.com/metinatakli/paygate/internal/validator"
	"github.com/shopspring/decimal"
)

const (
	DriverStripe       = "stripe"
	DriverPayPal       = "paypal"
	DriverCoinbase     = "coinbase"
	DriverMercadoPago  = "mercadopago"
	DriverBankTransfer = "bank_transfer"
	DriverCOD          = "cod"
)

const (
	FeeTypeFixed      = "fixed"
	FeeTypePercentage = "percentage"
)

// Config is the payment section of the application configuration.
type Config struct {
	DefaultDriver   string `validate:"omitempty,driver_name"`
	DefaultCurrency string `validate:"required,iso4217"`
	// Logging turns driver logs on; Channel tags them.
	Logging          bool
	Channel          string
	WebhookTolerance time.Duration `validate:"gte=0"`

	Stripe       StripeConfig
	PayPal       PayPalConfig
	Coinbase     CoinbaseConfig
	MercadoPago  MercadoPagoConfig
	BankTransfer BankTransferConfig
	COD          CODConfig
}

type StripeConfig struct {
	SecretKey      string
	PublishableKey string
	WebhookSecret  string
	// BaseURL overrides the API host, mostly for tests. Defaults to stripe.APIURL.
	BaseURL    string   `validate:"omitempty,url"`
	Currencies []string `validate:"dive,iso4217"`
	// WebhookTolerance is the replay window for Stripe-Signature timestamps.
	// Defaults to five minutes.
	WebhookTolerance time.Duration `validate:"gte=0"`
}

type PayPalConfig struct {
	ClientID     string
	ClientSecret string
	WebhookID    string
	Mode         string   `validate:"omitempty,oneof=sandbox live"`
	BaseURL      string   `validate:"omitempty,url"`
	ReturnURL    string   `validate:"omitempty,url"`
	CancelURL    string   `validate:"omitempty,url"`
	BrandName    string   `validate:"max=127"`
	Currencies   []string `validate:"dive,iso4217"`
}

type CoinbaseConfig struct {
	APIKey        string
	WebhookSecret string
	BaseURL       string   `validate:"omitempty,url"`
	RedirectURL   string   `validate:"omitempty,url"`
	CancelURL     string   `validate:"omitempty,url"`
	Currencies    []string `validate:"dive,iso4217"`
}

type MercadoPagoConfig struct {
	AccessToken     string
	WebhookSecret   string
	NotificationURL string   `validate:"omitempty,url"`
	Currencies      []string `validate:"dive,iso4217"`
	// WebhookTolerance is the replay window for the x-signature ts. Defaults
	// to five minutes.
	WebhookTolerance time.Duration `validate:"gte=0"`
}

type BankTransferConfig struct {
	Enabled       bool
	BankName      string
	AccountHolder string
	IBAN          string
	BIC           string
	// ExpiryDays is how long a transfer reference stays payable. Defaults to 7.
	ExpiryDays      int      `validate:"gte=0,lte=365"`
	ReferencePrefix string   `validate:"max=8"`
	Currencies      []string `validate:"dive,iso4217"`
}

// CODConfig configures cash on delivery. Fee is in minor units when FeeType is
// fixed and a percentage of the order amount when it is percentage. MaxAmount
// of zero means no limit; an empty AllowedCountries list allows every country.
type CODConfig struct {
	Enabled          bool
	FeeType          string          `validate:"omitempty,oneof=fixed percentage"`
	Fee              decimal.Decimal `validate:"gte=0"`
	MaxAmount        int64           `validate:"gte=0"`
	AllowedCountries []string        `validate:"dive,iso3166_1_alpha2"`
	Currencies       []string        `validate:"dive,iso4217"`
}

// Default values applied by the driver constructors when a field is unset.
var (
	defaultStripeCurrencies       = []string{"USD", "EUR", "GBP", "CAD", "AUD", "JPY", "CHF", "SEK", "NOK", "DKK"}
	defaultPayPalCurrencies       = []string{"USD", "EUR", "GBP", "CAD", "AUD", "JPY"}
	defaultCoinbaseCurrencies     = []string{"USD", "EUR", "GBP"}
	defaultMercadoPagoCurrencies  = []string{"ARS", "BRL", "CLP", "COP", "MXN", "PEN", "UYU"}
	defaultBankTransferCurrencies = []string{"USD", "EUR", "GBP"}
	defaultCODCurrencies          = []string{"USD", "EUR", "GBP"}
)

const (
	defaultStripeWebhookTolerance = 5 * time.Minute
	defaultMercadoPagoTolerance   = 5 * time.Minute
	defaultBankTransferExpiryDays = 7
	defaultReferencePrefix        = "BT"
	payPalSandboxURL              = "https://api-m.sandbox.paypal.com"
	payPalLiveURL                 = "https://api-m.paypal.com"
	coinbaseURL                   = "https://api.commerce.coinbase.com"
)

func validateConfig(driver string, cfg any) error {
	if err := validator.NewValidator().Struct(cfg); err != nil {
		return fmt.Errorf("invalid %s config: %w", driver, err)
	}

	return nil
}

func currenciesOrDefault(configured, fallback []string) []string {
	if len(configured) > 0 {
		return configured
	}

	return fallback
}
