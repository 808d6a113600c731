package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr string
	DBDSN    string

	// per-user serialization: "memory" or "redis"
	LockBackend   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// signs invoice payloads handed to the payment gateway
	InvoiceSecret string
	// signs the bearer tokens chat transports present on /v1
	TransportSecret string

	OverridesPath string

	GenerationTimeout  time.Duration
	SessionIdleTimeout time.Duration

	// AI provider
	AIProvider        string
	OllamaBaseURL     string
	OllamaModel       string
	OpenRouterBaseURL string
	OpenRouterAPIKey  string
	OpenRouterModel   string
	OpenRouterSiteURL string
	OpenRouterAppName string

	// rabbitMQ; empty means payment callbacks are applied in the server
	RabbitURL         string
	RabbitQueue       string
	WorkerConcurrency int

	// chat transport callback for out-of-band replies
	TransportNotifyURL string

	// enables POST /v1/admin/runtime/reload when set
	AdminToken string
}

func Load() Config {
	// DSN demo：
	// app:apppass@tcp(127.0.0.1:3306)/broker?charset=utf8mb4&parseTime=true&loc=Local
	// or a sqlite file: ./data/broker.db
	dsn := getEnv("DB_DSN", "./data/broker.db")

	secret := os.Getenv("INVOICE_SECRET")
	if secret == "" {
		secret = "dev-secret-change-me"
	}

	transportSecret := os.Getenv("TRANSPORT_SECRET")
	if transportSecret == "" {
		transportSecret = "dev-transport-secret-change-me"
	}

	return Config{
		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),
		DBDSN:    dsn,

		LockBackend:   strings.ToLower(getEnv("LOCK_BACKEND", "memory")),
		RedisAddr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		InvoiceSecret:   secret,
		TransportSecret: transportSecret,
		OverridesPath:   getEnv("OVERRIDES_PATH", "./data/overrides.yaml"),

		GenerationTimeout:  getEnvDuration("GENERATION_TIMEOUT", 60*time.Second),
		SessionIdleTimeout: getEnvDuration("SESSION_IDLE_TIMEOUT", 30*time.Minute),

		AIProvider:        getEnv("AI_PROVIDER", "ollama"),
		OllamaBaseURL:     getEnv("OLLAMA_BASE_URL", "http://localhost:11434"),
		OllamaModel:       getEnv("OLLAMA_MODEL", "llama3:latest"),
		OpenRouterBaseURL: getEnv("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"),
		OpenRouterAPIKey:  os.Getenv("OPENROUTER_API_KEY"),
		OpenRouterModel:   getEnv("OPENROUTER_MODEL", "openrouter/auto"),
		OpenRouterSiteURL: os.Getenv("OPENROUTER_SITE_URL"),
		OpenRouterAppName: os.Getenv("OPENROUTER_APP_NAME"),

		RabbitURL:         os.Getenv("RABBIT_URL"),
		RabbitQueue:       getEnv("RABBIT_QUEUE", "payment_events"),
		WorkerConcurrency: workerConcurrency(),

		TransportNotifyURL: os.Getenv("TRANSPORT_NOTIFY_URL"),
		AdminToken:         os.Getenv("ADMIN_TOKEN"),
	}
}

// ErrLocalLocks: a worker applies payments in another process, so per-user
// locks must be shared through redis.
var ErrLocalLocks = errors.New("config: RABBIT_URL requires LOCK_BACKEND=redis")

// Validate rejects combinations that would break per-user serialization.
func (c Config) Validate() error {
	if c.RabbitURL != "" && c.LockBackend != "redis" {
		return ErrLocalLocks
	}
	return nil
}

func workerConcurrency() int {
	n := getEnvInt("WORKER_CONCURRENCY", 2)
	if n <= 0 {
		return 2
	}
	if n > 50 {
		return 50
	}
	return n
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
