package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	RabbitMQ  RabbitMQConfig
	Booking   BookingConfig
	Admission AdmissionConfig
	Auth      AuthConfig
	Tickets   TicketConfig
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type DatabaseConfig struct {
	Driver       string // sqlite | postgres | pg | mysql
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
	Retries      int
	AutoMigrate  bool
}

type RedisConfig struct {
	Addr string
}

type KafkaConfig struct {
	Brokers []string
	GroupID string
	Enabled bool
	Topics  TopicConfig
}

type TopicConfig struct {
	Created        string
	Confirmed      string
	Expired        string
	Cancelled      string
	PaymentSuccess string
}

type RabbitMQConfig struct {
	URL      string
	Exchange string
}

type BookingConfig struct {
	HoldTTL       time.Duration
	SweepInterval time.Duration
	SweepBatch    int
	EventsBackend string // kafka | rabbitmq | both | none
}

type AdmissionConfig struct {
	Mode           string // sync | queued | auto
	QueueThreshold int
	QueueCapacity  int
	MaxPerRequest  int
	LockBackend    string // local | redis
	LockWait       time.Duration
	TrackerBackend string // memory | redis
	TrackerTTL     time.Duration
}

type AuthConfig struct {
	JWTSecret    string
	OIDCIssuer   string
	OIDCClientID string
	AdminRole    string
	ServiceRole  string
}

type TicketConfig struct {
	QRSecretKey string
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", ":8080"),
			ReadTimeout:  15 * time.Second,
			// Zero leaves availability streams unbounded.
			WriteTimeout: getEnvDuration("HTTP_WRITE_TIMEOUT", 0),
			IdleTimeout:  60 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:       getEnv("DB_DRIVER", "sqlite"),
			DSN:          getEnv("DB_DSN", "file:booking.db?cache=shared"),
			MaxOpenConns: getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvInt("DB_MAX_IDLE_CONNS", 25),
			MaxLifetime:  time.Duration(getEnvInt("DB_MAX_LIFETIME_MINUTES", 5)) * time.Minute,
			Retries:      getEnvInt("STORE_RETRIES", 3),
			AutoMigrate:  getEnvBool("DB_AUTO_MIGRATE", true),
		},
		Redis: RedisConfig{
			Addr: getEnv("REDIS_ADDR", "localhost:6379"),
		},
		Kafka: KafkaConfig{
			Brokers: getEnvList("KAFKA_BROKERS", []string{"localhost:9092"}),
			GroupID: getEnv("KAFKA_GROUP_ID", "booking-engine"),
			Enabled: getEnvBool("KAFKA_ENABLED", false),
			Topics: TopicConfig{
				Created:        getEnv("KAFKA_TOPIC_CREATED", "reservation.created"),
				Confirmed:      getEnv("KAFKA_TOPIC_CONFIRMED", "reservation.confirmed"),
				Expired:        getEnv("KAFKA_TOPIC_EXPIRED", "reservation.expired"),
				Cancelled:      getEnv("KAFKA_TOPIC_CANCELLED", "reservation.cancelled"),
				PaymentSuccess: getEnv("KAFKA_TOPIC_PAYMENT_SUCCESS", "booking.payment.succeeded"),
			},
		},
		RabbitMQ: RabbitMQConfig{
			URL:      getEnv("RABBITMQ_URL", ""),
			Exchange: getEnv("RABBITMQ_EXCHANGE", ""),
		},
		Booking: BookingConfig{
			HoldTTL:       getEnvDuration("HOLD_TTL", 10*time.Minute),
			SweepInterval: getEnvDuration("SWEEP_INTERVAL", 15*time.Second),
			SweepBatch:    getEnvInt("SWEEP_BATCH", 100),
			EventsBackend: getEnv("EVENTS_BACKEND", "none"),
		},
		Admission: AdmissionConfig{
			Mode:           getEnv("ADMISSION_MODE", "auto"),
			QueueThreshold: getEnvInt("QUEUE_THRESHOLD", 8),
			QueueCapacity:  getEnvInt("QUEUE_CAPACITY", 1024),
			MaxPerRequest:  getEnvInt("MAX_PER_REQUEST", 10),
			LockBackend:    getEnv("LOCK_BACKEND", "local"),
			LockWait:       getEnvDuration("LOCK_WAIT", 2*time.Second),
			TrackerBackend: getEnv("TRACKER_BACKEND", "memory"),
			TrackerTTL:     getEnvDuration("TRACKER_TTL", time.Hour),
		},
		Auth: AuthConfig{
			JWTSecret:    getEnv("JWT_SECRET", ""),
			OIDCIssuer:   getEnv("OIDC_ISSUER", ""),
			OIDCClientID: getEnv("OIDC_CLIENT_ID", ""),
			AdminRole:    getEnv("ADMIN_ROLE", "admin"),
			ServiceRole:  getEnv("SERVICE_ROLE", "booking-service"),
		},
		Tickets: TicketConfig{
			QRSecretKey: getEnv("QR_SECRET_KEY", "change-me"),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
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
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
