package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Environment         string `envconfig:"ENVIRONMENT" default:"production"`
	HTTPAddr            string `envconfig:"HTTP_ADDR" default:":8080"`
	JaegerEndpoint      string `envconfig:"JAEGER_ENDPOINT" default:"http://localhost:14268/api/traces"`
	GatewayWebhookToken string `envconfig:"GATEWAY_WEBHOOK_TOKEN"`
	DatabaseURL         string `envconfig:"DATABASE_URL"`

	Database Database `envconfig:"DB"`
	Redis    Redis    `envconfig:"REDIS"`
	Kafka    Kafka    `envconfig:"KAFKA"`
	Auth     Auth     `envconfig:"AUTH"`
	Cache    Cache    `envconfig:"CACHE"`
}

type Database struct {
	// URL overrides the individual connection settings when set.
	URL             string        `ignored:"true"`
	Host            string        `envconfig:"HOST" default:"localhost"`
	Port            int           `envconfig:"PORT" default:"5432"`
	User            string        `envconfig:"USER" default:"postgres"`
	Password        string        `envconfig:"PASSWORD" default:"postgres"`
	Name            string        `envconfig:"NAME" default:"cinema"`
	SSLMode         string        `envconfig:"SSL_MODE" default:"disable"`
	MaxOpenConns    int           `envconfig:"MAX_OPEN_CONNS" default:"25"`
	MaxIdleConns    int           `envconfig:"MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"CONN_MAX_LIFETIME" default:"5m"`
	ConnMaxIdleTime time.Duration `envconfig:"CONN_MAX_IDLE_TIME" default:"1m"`
}

func (d Database) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

type Redis struct {
	Host     string `envconfig:"HOST" default:"localhost"`
	Port     int    `envconfig:"PORT" default:"6379"`
	Password string `envconfig:"PASSWORD"`
	DB       int    `envconfig:"DB" default:"0"`
}

func (r Redis) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type Kafka struct {
	Brokers       []string `envconfig:"BROKERS" default:"localhost:9092"`
	EventsTopic   string   `envconfig:"EVENTS_TOPIC" default:"order_events"`
	GatewayTopic  string   `envconfig:"GATEWAY_TOPIC" default:"payment_gateway_events"`
	ConsumerGroup string   `envconfig:"CONSUMER_GROUP" default:"cinema-svc"`
}

type Auth struct {
	JWTSecret string        `envconfig:"JWT_SECRET" default:"change-me"`
	TokenTTL  time.Duration `envconfig:"TOKEN_TTL" default:"24h"`
}

type Cache struct {
	PriceTTL time.Duration `envconfig:"PRICE_TTL" default:"5m"`
}

func (c Config) IsDevelopment() bool {
	return c.Environment == "developing" || c.Environment == "development"
}

// Load reads the configuration from the process environment.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to load config: %w", err)
	}
	cfg.Database.URL = cfg.DatabaseURL
	return cfg, nil
}
