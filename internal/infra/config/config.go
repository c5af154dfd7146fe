// internal/infra/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"letter_outreach_bot/internal/domain/apperror"
	"letter_outreach_bot/internal/domain/outreach"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// AppConfig holds all configuration for the application
type AppConfig struct {
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`

	Telegram      TelegramConfig      `envPrefix:"TELEGRAM_"`
	Nango         NangoConfig         `envPrefix:"NANGO_"`
	Zoho          ZohoConfig          `envPrefix:"ZOHO_"`
	Baserow       BaserowConfig       `envPrefix:"BASEROW_"`
	OpenAI        OpenAIConfig        `envPrefix:"OPENAI_"`
	LetterExpress LetterExpressConfig `envPrefix:"LETTEREXPRESS_"`
	PDFService    PDFServiceConfig    `envPrefix:"PDF_SERVICE_"`
	Dossier       DossierConfig       `envPrefix:"DOSSIER_SERVICE_"`
	Queue         QueueConfig         `envPrefix:"QUEUE_"`
	Sender        SenderConfig        `envPrefix:"SENDER_"`
	Cron          CronConfig          `envPrefix:"CRON_SPEC_"`

	DatabaseURL string `env:"DATABASE_URL"` // optional, enables the transition audit log
	RedisURL    string `env:"REDIS_URL"`    // optional, shares the OAuth token cache
	HTTPAddr    string `env:"HTTP_ADDR" envDefault:":8080"`
}

type TelegramConfig struct {
	BotToken string `env:"BOT_TOKEN"`
	ChatID   int64  `env:"CHAT_ID"`
}

type NangoConfig struct {
	BaseURL       string        `env:"BASE_URL" envDefault:"https://api.nango.dev"`
	SecretKey     string        `env:"SECRET_KEY"`
	ConnectionID  string        `env:"CONNECTION_ID"`
	IntegrationID string        `env:"INTEGRATION_ID" envDefault:"zoho-crm"`
	ExpiryBuffer  time.Duration `env:"EXPIRY_BUFFER" envDefault:"60s"`
}

type ZohoConfig struct {
	BaseURL string `env:"BASE_URL" envDefault:"https://www.zohoapis.com"`
	OwnerID string `env:"TASK_OWNER_ID"`
}

type BaserowConfig struct {
	BaseURL string `env:"BASE_URL" envDefault:"https://api.baserow.io"`
	APIKey  string `env:"API_KEY"`
	TableID int64  `env:"TABLE_ID"`

	ProfileIDField   int64 `env:"PROFILE_ID_FIELD" envDefault:"4866518"`
	ProfileJSONField int64 `env:"PROFILE_JSON_FIELD" envDefault:"4866519"`
}

type OpenAIConfig struct {
	APIKey  string `env:"API_KEY"`
	Model   string `env:"MODEL" envDefault:"gpt-4o-mini"`
	BaseURL string `env:"BASE_URL"`

	SenderName string `env:"SENDER_NAME"`
	OurCompany string `env:"COMPANY_DESCRIPTION"`
}

type LetterExpressConfig struct {
	BaseURL  string `env:"BASE_URL" envDefault:"https://api.letterxpress.de/v1"`
	Username string `env:"USERNAME"`
	APIKey   string `env:"API_KEY"`
	Mode     string `env:"MODE" envDefault:"test"` // "test" or "live"
	Color    string `env:"COLOR" envDefault:"color"`
	Print    string `env:"PRINT_MODE" envDefault:"duplex"`
	Shipping string `env:"SHIPPING" envDefault:"standard"`
}

type ServiceConfig struct {
	BaseURL string        `env:"BASE_URL" envDefault:"http://localhost:8000"`
	Timeout time.Duration `env:"TIMEOUT" envDefault:"120s"`
}

type PDFServiceConfig struct {
	ServiceConfig
	TemplatesDir string `env:"TEMPLATES_DIR" envDefault:"templates"`
}

type DossierConfig struct {
	ServiceConfig
	LogDir string `env:"LOG_DIR"` // optional, records every request and response
}

type QueueConfig struct {
	Dir              string        `env:"DIR" envDefault:"approval_queue"`
	PollInterval     time.Duration `env:"POLL_INTERVAL" envDefault:"5s"`
	ClaimGrace       time.Duration `env:"CLAIM_GRACE" envDefault:"10m"`
	MaxPending       int           `env:"MAX_PENDING" envDefault:"50"`
	MaxFailed        int           `env:"MAX_FAILED" envDefault:"10"`
	PageLimitRetries int           `env:"PAGE_LIMIT_RETRIES" envDefault:"5"`
}

type SenderConfig struct {
	Street     string `env:"STREET"`
	City       string `env:"CITY"`
	State      string `env:"STATE"`
	PostalCode string `env:"POSTAL_CODE"`
	Country    string `env:"COUNTRY" envDefault:"Germany"`
}

type CronConfig struct {
	TriggerMonitor string `env:"TRIGGER_MONITOR" envDefault:"@every 5s"`
	HealthReport   string `env:"HEALTH_REPORT" envDefault:"@every 1h"`
	Reconcile      string `env:"RECONCILE" envDefault:"@every 1m"`
	Batch          string `env:"BATCH"`                      // optional scheduled batch
	BatchMaxTasks  int    `env:"BATCH_MAX_TASKS" envDefault:"5"`
}

// Load reads configuration from environment variables and .env file (if present).
func Load() (*AppConfig, error) {
	// godotenv.Load does not override variables that are already set.
	_ = godotenv.Load()
	return Parse(nil)
}

// Parse builds the configuration from environ, or from the process environment when environ is
// nil, and validates it.
func Parse(environ map[string]string) (*AppConfig, error) {
	cfg := &AppConfig{}
	opts := env.Options{}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, apperror.Wrap(apperror.KindConfig, err, "failed to parse environment")
	}
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	cfg.Environment = strings.ToLower(cfg.Environment)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the credentials every command needs.
func (c *AppConfig) Validate() error {
	switch {
	case c.Baserow.APIKey == "":
		return apperror.Config("BASEROW_API_KEY is not set")
	case c.Nango.SecretKey == "" || c.Nango.ConnectionID == "":
		return apperror.Config("NANGO_SECRET_KEY and NANGO_CONNECTION_ID are required for Zoho authentication")
	case c.OpenAI.APIKey == "":
		return apperror.Config("OPENAI_API_KEY is not set")
	case c.Telegram.BotToken == "":
		return apperror.Config("TELEGRAM_BOT_TOKEN is not set")
	}
	if c.LetterExpress.Mode != "test" && c.LetterExpress.Mode != "live" {
		return apperror.Config("invalid LETTEREXPRESS_MODE %q, expected test or live", c.LetterExpress.Mode)
	}
	if c.Queue.PollInterval <= 0 {
		return apperror.Config("QUEUE_POLL_INTERVAL must be positive")
	}
	return nil
}

// SenderAddress is the return address printed on every letter.
func (c *AppConfig) SenderAddress() outreach.MailingAddress {
	addr := outreach.MailingAddress{
		Street:     c.Sender.Street,
		City:       c.Sender.City,
		PostalCode: c.Sender.PostalCode,
		Country:    c.Sender.Country,
	}
	if c.Sender.State != "" {
		state := c.Sender.State
		addr.State = &state
	}
	return addr
}

// PrintOptions returns the configured print and shipping options.
func (c *AppConfig) PrintOptions() (outreach.PrintOptions, error) {
	opts := outreach.PrintOptions{
		Color:    outreach.PrintColor(c.LetterExpress.Color),
		Mode:     outreach.PrintMode(c.LetterExpress.Print),
		Shipping: outreach.ShippingType(c.LetterExpress.Shipping),
	}
	switch opts.Color {
	case outreach.PrintColorColor, outreach.PrintColorBlackWhite:
	default:
		return opts, fmt.Errorf("invalid LETTEREXPRESS_COLOR %q", opts.Color)
	}
	switch opts.Mode {
	case outreach.PrintModeSimplex, outreach.PrintModeDuplex:
	default:
		return opts, fmt.Errorf("invalid LETTEREXPRESS_PRINT_MODE %q", opts.Mode)
	}
	switch opts.Shipping {
	case outreach.ShippingStandard, outreach.ShippingExpress, outreach.ShippingRegistered:
	default:
		return opts, fmt.Errorf("invalid LETTEREXPRESS_SHIPPING %q", opts.Shipping)
	}
	return opts, nil
}
