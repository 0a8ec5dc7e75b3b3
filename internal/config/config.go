package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server       ServerConfig
	Database     DatabaseConfig
	Redis        RedisConfig
	Kafka        KafkaConfig
	Auth         AuthConfig
	Settlement   SettlementConfig
	Payments     PaymentsConfig
	Notification ServiceConfig
	Features     FeatureFlags
	StoreBackend string
	Currency     string
	LogLevel     string
}

type ServerConfig struct {
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
}

func (d DatabaseConfig) ConnectionString() string {
	return "host=" + d.Host +
		" port=" + strconv.Itoa(d.Port) +
		" user=" + d.User +
		" password=" + d.Password +
		" dbname=" + d.Name +
		" sslmode=" + d.SSLMode
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	TTL      time.Duration
}

type KafkaConfig struct {
	Brokers        []string
	EventsTopic    string
	CallbacksTopic string
	ConsumerGroup  string
}

type AuthConfig struct {
	JWTSecret string
}

// SettlementConfig controls the mobile-money gateway collaborator.
type SettlementConfig struct {
	Mode            string // "simulator" or "http"
	BaseURL         string
	Timeout         time.Duration
	SuccessRate     float64
	Latency         time.Duration
	BreakerFailures int
	BreakerReset    time.Duration
}

type PaymentsConfig struct {
	PendingTTL     time.Duration
	SweepInterval  time.Duration
	CallbackSecret string
}

type ServiceConfig struct {
	BaseURL string
	Timeout time.Duration
	APIKey  string
}

type FeatureFlags struct {
	EnableOrderCaching     bool
	EnableOrderEvents      bool
	EnableCallbackConsumer bool
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         getEnvInt("SERVER_PORT", 8082),
			ReadTimeout:  time.Duration(getEnvInt("SERVER_READ_TIMEOUT", 30)) * time.Second,
			WriteTimeout: time.Duration(getEnvInt("SERVER_WRITE_TIMEOUT", 30)) * time.Second,
		},
		Database: DatabaseConfig{
			Host:         getEnvString("DB_HOST", "localhost"),
			Port:         getEnvInt("DB_PORT", 5432),
			User:         getEnvString("DB_USER", "acme"),
			Password:     getEnvString("DB_PASSWORD", "acme"),
			Name:         getEnvString("DB_NAME", "acme_marketplace"),
			SSLMode:      getEnvString("DB_SSLMODE", "disable"),
			MaxOpenConns: getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvInt("DB_MAX_IDLE_CONNS", 10),
			MaxLifetime:  getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			Host:     getEnvString("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnvString("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			TTL:      getEnvDuration("REDIS_TTL", 5*time.Minute),
		},
		Kafka: KafkaConfig{
			Brokers:        getEnvList("KAFKA_BROKERS", []string{"localhost:9092"}),
			EventsTopic:    getEnvString("KAFKA_EVENTS_TOPIC", "marketplace.events"),
			CallbacksTopic: getEnvString("KAFKA_CALLBACKS_TOPIC", "settlement.callbacks"),
			ConsumerGroup:  getEnvString("KAFKA_CONSUMER_GROUP", "marketplace-service"),
		},
		Auth: AuthConfig{
			JWTSecret: getEnvString("AUTH_JWT_SECRET", "change-me"),
		},
		Settlement: SettlementConfig{
			Mode:            getEnvString("SETTLEMENT_MODE", "simulator"),
			BaseURL:         getEnvString("SETTLEMENT_URL", "http://localhost:8090"),
			Timeout:         getEnvDuration("SETTLEMENT_TIMEOUT", 10*time.Second),
			SuccessRate:     getEnvFloat("SETTLEMENT_SUCCESS_RATE", 0.9),
			Latency:         getEnvDuration("SETTLEMENT_LATENCY", time.Second),
			BreakerFailures: getEnvInt("SETTLEMENT_BREAKER_FAILURES", 5),
			BreakerReset:    getEnvDuration("SETTLEMENT_BREAKER_RESET", 30*time.Second),
		},
		Payments: PaymentsConfig{
			PendingTTL:     getEnvDuration("PAYMENT_PENDING_TTL", 15*time.Minute),
			SweepInterval:  getEnvDuration("PAYMENT_SWEEP_INTERVAL", time.Minute),
			CallbackSecret: getEnvString("CALLBACK_SECRET", ""),
		},
		Notification: ServiceConfig{
			BaseURL: getEnvString("NOTIFICATION_URL", ""),
			Timeout: getEnvDuration("NOTIFICATION_TIMEOUT", 5*time.Second),
			APIKey:  getEnvString("NOTIFICATION_API_KEY", ""),
		},
		Features: FeatureFlags{
			EnableOrderCaching:     getEnvBool("ENABLE_ORDER_CACHING", false),
			EnableOrderEvents:      getEnvBool("ENABLE_ORDER_EVENTS", false),
			EnableCallbackConsumer: getEnvBool("ENABLE_CALLBACK_CONSUMER", false),
		},
		StoreBackend: getEnvString("STORE_BACKEND", "postgres"),
		Currency:     getEnvString("CURRENCY", "KES"),
		LogLevel:     getEnvString("LOG_LEVEL", "info"),
	}
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go duration strings ("15m") or bare seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
