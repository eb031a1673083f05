package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL        string
	RedisURL           string
	KafkaBrokers       []string
	NatsURL            string
	JaegerEndpoint     string
	Port               string
	GRPCPort           string
	GatewayBaseURL     string
	GatewayAccessToken string
	GatewayTimeout     time.Duration
	PublicBaseURL      string
	Currency           string
	LockTTL            time.Duration
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present; real environment variables win.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		RedisURL:           getEnv("REDIS_URL", "localhost:6379"),
		KafkaBrokers:       splitList(getEnv("KAFKA_BROKERS", "localhost:9092")),
		NatsURL:            getEnv("NATS_URL", "nats://localhost:4222"),
		JaegerEndpoint:     getEnv("JAEGER_ENDPOINT", "jaeger:4318"),
		Port:               getEnv("PORT", "8082"),
		GRPCPort:           getEnv("GRPC_PORT", "9092"),
		GatewayBaseURL:     strings.TrimRight(getEnv("MERCADOPAGO_API_URL", "https://api.mercadopago.com"), "/"),
		GatewayAccessToken: os.Getenv("MERCADOPAGO_ACCESS_TOKEN"),
		GatewayTimeout:     getDuration("GATEWAY_TIMEOUT", 10*time.Second),
		PublicBaseURL:      strings.TrimRight(os.Getenv("PUBLIC_BASE_URL"), "/"),
		Currency:           getEnv("CURRENCY", "MXN"),
		LockTTL:            getDuration("NOTIFICATION_LOCK_TTL", 30*time.Second),
	}
}

// WebhookURL is where the gateway delivers notifications and back_urls.
func (c *Config) WebhookURL() string {
	return c.PublicBaseURL + "/webhooks/mercadopago"
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
