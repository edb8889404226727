package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// CommonConfig holds infrastructure details shared by every component:
// database, Redis, RabbitMQ and Kafka addresses.
type CommonConfig struct {
	DBUser     string
	DBPassword string
	DBName     string
	DBHost     string
	DBPort     string

	RedisAddr string

	RabbitMQUser     string
	RabbitMQPassword string
	RabbitMQHost     string
	RabbitMQPort     string

	KafkaBroker string
	KafkaTopic  string
}

// ServiceConfig holds the payment-engine specific settings: provider
// secrets, PIX merchant identity and the knobs for the polling worker.
type ServiceConfig struct {
	Common *CommonConfig

	StripeSecretKey      string
	StripeWebhookSecret  string
	MercadoPagoToken     string
	MercadoPagoSecret    string
	WooviAppID           string
	WooviWebhookSecret   string

	// AllowUnverified relaxes signature checks for providers whose secret
	// is not configured. Never set this in production.
	AllowUnverified bool

	PixKey       string
	MerchantName string
	MerchantCity string

	// AccessWindow is how long a buyer keeps access after a purchase is paid.
	AccessWindow time.Duration

	// Polling worker knobs.
	PollInterval time.Duration
	StuckAfter   time.Duration
	PollBatch    int

	DeliveryQueue string

	HTTPAddr string
}

// LoadCommonConfig reads the shared infrastructure config from the environment.
func LoadCommonConfig() *CommonConfig {
	return &CommonConfig{
		DBUser:     os.Getenv("DB_USER"),
		DBPassword: os.Getenv("DB_PASSWORD"),
		DBName:     os.Getenv("DB_NAME"),
		DBHost:     os.Getenv("DB_HOST"),
		DBPort:     os.Getenv("DB_PORT"),

		RedisAddr: os.Getenv("REDIS_ADDR"),

		RabbitMQUser:     os.Getenv("RABBITMQ_USER"),
		RabbitMQPassword: os.Getenv("RABBITMQ_PASSWORD"),
		RabbitMQHost:     os.Getenv("RABBITMQ_HOST"),
		RabbitMQPort:     os.Getenv("RABBITMQ_PORT"),

		KafkaBroker: os.Getenv("KAFKA_BROKER"),
		KafkaTopic:  os.Getenv("KAFKA_TOPIC"),
	}
}

// LoadServiceConfig loads everything the payment engine needs. Secrets that
// guard money movement are required; missing ones are a startup error, not a
// runtime surprise.
func LoadServiceConfig() (*ServiceConfig, error) {
	common := LoadCommonConfig()

	cfg := &ServiceConfig{
		Common: common,

		StripeSecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
		StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		MercadoPagoToken:    os.Getenv("MERCADO_PAGO_ACCESS_TOKEN"),
		MercadoPagoSecret:   os.Getenv("MERCADO_PAGO_WEBHOOK_SECRET"),
		WooviAppID:          os.Getenv("WOOVI_APP_ID"),
		WooviWebhookSecret:  os.Getenv("WOOVI_WEBHOOK_SECRET"),

		AllowUnverified: os.Getenv("ALLOW_UNVERIFIED_WEBHOOKS") == "true",

		PixKey:       os.Getenv("PIX_KEY"),
		MerchantName: getEnvDefault("PIX_MERCHANT_NAME", "CINEVISION"),
		MerchantCity: getEnvDefault("PIX_MERCHANT_CITY", "SAO PAULO"),

		AccessWindow: getEnvDuration("ACCESS_WINDOW", 365*24*time.Hour),
		PollInterval: getEnvDuration("POLL_INTERVAL", 5*time.Minute),
		StuckAfter:   getEnvDuration("STUCK_AFTER", 5*time.Minute),
		PollBatch:    getEnvInt("POLL_BATCH", 50),

		DeliveryQueue: getEnvDefault("DELIVERY_QUEUE", "delivery_jobs"),

		HTTPAddr: getEnvDefault("HTTP_ADDR", ":8080"),
	}

	if cfg.StripeWebhookSecret == "" {
		return nil, fmt.Errorf("STRIPE_WEBHOOK_SECRET is required")
	}
	if cfg.MercadoPagoSecret == "" {
		return nil, fmt.Errorf("MERCADO_PAGO_WEBHOOK_SECRET is required")
	}
	if cfg.WooviWebhookSecret == "" && !cfg.AllowUnverified {
		return nil, fmt.Errorf("WOOVI_WEBHOOK_SECRET is required (or set ALLOW_UNVERIFIED_WEBHOOKS=true outside production)")
	}
	if cfg.PixKey == "" {
		return nil, fmt.Errorf("PIX_KEY is required")
	}

	return cfg, nil
}

// GetDBURL formats the config into a PostgreSQL connection string.
func (c *CommonConfig) GetDBURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName)
}

// GetRabbitMQURL formats the config into a RabbitMQ connection string.
// Defaults to the standard local broker when host/port are missing.
func (c *CommonConfig) GetRabbitMQURL() string {
	host := c.RabbitMQHost
	if host == "" {
		host = "localhost"
	}
	port := c.RabbitMQPort
	if port == "" {
		port = "5672"
	}
	return fmt.Sprintf("amqp://%s:%s@%s:%s/", c.RabbitMQUser, c.RabbitMQPassword, host, port)
}

func getEnvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
