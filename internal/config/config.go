package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr    string
	GRPCAddr    string
	PostgresDSN string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	RabbitURL      string
	OrdersExchange string

	TelegramAPIURL        string
	TelegramBotToken      string
	TelegramNotifyChatID  string
	TelegramWebhookSecret string

	PaymentProviderToken string
	Currency             string
	PaymentTimeout       time.Duration

	IdempotencyWindow time.Duration
	CatalogCacheTTL   time.Duration
	NotifyQueueSize   int
	ShutdownTimeout   time.Duration
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// parser records malformed values so Load can report them with the
// validation errors instead of quietly using a default.
type parser struct{ errs []error }

func (p *parser) duration(k string, def time.Duration) time.Duration {
	raw := getenv(k, "")
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %q is not a duration", k, raw))
		return def
	}
	return d
}

func (p *parser) integer(k string, def int) int {
	raw := getenv(k, "")
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %q is not an integer", k, raw))
		return def
	}
	return v
}

// nonCentCurrencies have a minor unit other than 1/100. Amounts are sent to
// the gateway as total*100, so these cannot be configured.
var nonCentCurrencies = map[string]bool{
	"BIF": true, "CLP": true, "DJF": true, "GNF": true, "ISK": true, "JPY": true,
	"KMF": true, "KRW": true, "PYG": true, "RWF": true, "UGX": true, "VND": true,
	"VUV": true, "XAF": true, "XOF": true, "XPF": true,
	"BHD": true, "IQD": true, "JOD": true, "KWD": true, "LYD": true, "OMR": true, "TND": true,
}

// Load reads the process configuration once. A .env file in the working
// directory is honoured when present.
func Load() (Config, error) {
	_ = godotenv.Load() // load .env if it exists
	var p parser
	cfg := Config{
		HTTPAddr:    getenv("HTTP_ADDR", ":3000"),
		GRPCAddr:    getenv("GRPC_ADDR", ":50051"),
		PostgresDSN: getenv("POSTGRES_DSN", ""),

		RedisAddr:     getenv("REDIS_ADDR", ""),
		RedisPassword: getenv("REDIS_PASSWORD", ""),
		RedisDB:       p.integer("REDIS_DB", 0),

		RabbitURL:      getenv("RABBIT_URL", ""),
		OrdersExchange: getenv("ORDERS_EXCHANGE", "orders.events"),

		TelegramAPIURL:        strings.TrimRight(getenv("TELEGRAM_API_URL", "https://api.telegram.org"), "/"),
		TelegramBotToken:      getenv("TELEGRAM_BOT_TOKEN", ""),
		TelegramNotifyChatID:  getenv("TELEGRAM_NOTIFY_CHAT_ID", ""),
		TelegramWebhookSecret: getenv("TELEGRAM_WEBHOOK_SECRET", ""),

		PaymentProviderToken: getenv("PAYMENT_PROVIDER_TOKEN", ""),
		Currency:             strings.ToUpper(getenv("CURRENCY", "USD")),
		PaymentTimeout:       p.duration("PAYMENT_TIMEOUT", 10*time.Second),

		IdempotencyWindow: p.duration("IDEMPOTENCY_WINDOW", 10*time.Minute),
		CatalogCacheTTL:   p.duration("CATALOG_CACHE_TTL", 5*time.Minute),
		NotifyQueueSize:   p.integer("NOTIFY_QUEUE_SIZE", 64),
		ShutdownTimeout:   p.duration("SHUTDOWN_TIMEOUT", 10*time.Second),
	}
	if err := cfg.Validate(); err != nil {
		p.errs = append(p.errs, err)
	}
	if len(p.errs) > 0 {
		return Config{}, errors.Join(p.errs...)
	}
	log.Printf("[config] HTTP_ADDR=%s", cfg.HTTPAddr)
	log.Printf("[config] GRPC_ADDR=%s", cfg.GRPCAddr)
	log.Printf("[config] REDIS_ADDR=%q RABBIT=%t NOTIFY_CHAT=%t", cfg.RedisAddr, cfg.RabbitURL != "", cfg.TelegramNotifyChatID != "")
	log.Printf("[config] CURRENCY=%s PAYMENT_TIMEOUT=%s", cfg.Currency, cfg.PaymentTimeout)
	return cfg, nil
}

// Validate reports every missing or out-of-range setting at once. Values
// that do not parse are reported by Load.
func (c Config) Validate() error {
	var errs []error
	if c.PostgresDSN == "" {
		errs = append(errs, errors.New("POSTGRES_DSN is required"))
	}
	if c.TelegramBotToken == "" {
		errs = append(errs, errors.New("TELEGRAM_BOT_TOKEN is required"))
	}
	if c.PaymentProviderToken == "" {
		errs = append(errs, errors.New("PAYMENT_PROVIDER_TOKEN is required"))
	}
	switch {
	case !isCurrencyCode(c.Currency):
		errs = append(errs, fmt.Errorf("CURRENCY must be a 3-letter code, got %q", c.Currency))
	case nonCentCurrencies[c.Currency]:
		errs = append(errs, fmt.Errorf("CURRENCY %s does not use cents and is not supported", c.Currency))
	}
	if c.PaymentTimeout <= 0 {
		errs = append(errs, errors.New("PAYMENT_TIMEOUT must be positive"))
	}
	if c.IdempotencyWindow <= 0 {
		errs = append(errs, errors.New("IDEMPOTENCY_WINDOW must be positive"))
	}
	if c.NotifyQueueSize <= 0 {
		errs = append(errs, errors.New("NOTIFY_QUEUE_SIZE must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

func isCurrencyCode(s string) bool {
	if len(s) != 3 {
		return false
	}
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}
