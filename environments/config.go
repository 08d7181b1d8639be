package environments

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Gateway   GatewayConfig
	Dispatch  DispatchConfig
	Scheduler SchedulerConfig
	Auth      AuthConfig
}

type ServerConfig struct {
	Port string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// GatewayConfig points at the chat-gateway API used for every outbound send.
type GatewayConfig struct {
	BaseURL       string
	APIKey        string
	Timeout       time.Duration
	RatePerSecond float64
}

// DispatchConfig controls how send units are executed. Mode is chosen once
// per process: "inline" runs sends inside the orchestrator loop, "queue"
// hands them to the worker pool.
type DispatchConfig struct {
	Mode               string
	WorkerCount        int
	QueueSize          int
	MaxSendAttempts    int
	DefaultIntervalMin int
	DefaultIntervalMax int
}

type SchedulerConfig struct {
	TickInterval time.Duration
	AutoStart    bool
}

type AuthConfig struct {
	APIKey        string
	WebhookSecret string
}

const (
	DispatchModeInline = "inline"
	DispatchModeQueue  = "queue"
)

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port: GetEnv("SERVER_PORT", "8080"),
		},
		Database: DatabaseConfig{
			Host:     GetEnv("DB_HOST", "localhost"),
			Port:     GetEnv("DB_PORT", "3306"),
			User:     GetEnv("DB_USER", "campaigns"),
			Password: GetEnv("DB_PASSWORD", "campaigns123"),
			DBName:   GetEnv("DB_NAME", "campaign_service"),
		},
		Redis: RedisConfig{
			Host:     GetEnv("REDIS_HOST", "localhost"),
			Port:     GetEnv("REDIS_PORT", "6379"),
			Password: GetEnv("REDIS_PASSWORD", ""),
			DB:       GetEnvAsInt("REDIS_DB", 0),
		},
		Gateway: GatewayConfig{
			BaseURL:       GetEnv("GATEWAY_BASE_URL", "http://localhost:8081"),
			APIKey:        GetEnv("GATEWAY_API_KEY", ""),
			Timeout:       time.Duration(GetEnvAsInt("GATEWAY_TIMEOUT_SECONDS", 30)) * time.Second,
			RatePerSecond: GetEnvAsFloat("GATEWAY_RATE_PER_SECOND", 0),
		},
		Dispatch: DispatchConfig{
			Mode:               GetEnv("DISPATCH_MODE", DispatchModeInline),
			WorkerCount:        GetEnvAsInt("DISPATCH_WORKER_COUNT", 5),
			QueueSize:          GetEnvAsInt("DISPATCH_QUEUE_SIZE", 1000),
			MaxSendAttempts:    GetEnvAsInt("DISPATCH_MAX_SEND_ATTEMPTS", 3),
			DefaultIntervalMin: GetEnvAsInt("DISPATCH_DEFAULT_INTERVAL_MIN", 5),
			DefaultIntervalMax: GetEnvAsInt("DISPATCH_DEFAULT_INTERVAL_MAX", 15),
		},
		Scheduler: SchedulerConfig{
			TickInterval: GetEnvAsDuration("SCHEDULER_TICK_INTERVAL", 30*time.Second),
			AutoStart:    GetEnvAsBool("SCHEDULER_AUTO_START", true),
		},
		Auth: AuthConfig{
			APIKey:        GetEnv("API_KEY", ""),
			WebhookSecret: GetEnv("WEBHOOK_SECRET", ""),
		},
	}
}

func GetEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func GetEnvAsInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func GetEnvAsFloat(key string, defaultValue float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func GetEnvAsBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func GetEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
