package configs

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server   ServerConfig
	Store    StoreConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Services ServicesConfig
	Worker   WorkerConfig
}

type ServerConfig struct {
	Port           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	Environment    string
	RateLimitRPS   int
	RateLimitBurst int
}

type StoreConfig struct {
	URI      string
	Database string
	// Testing switches the store to the embedded in-memory driver
	Testing bool
}

type RedisConfig struct {
	URL           string
	StreamName    string
	ConsumerGroup string
	MaxRetries    int
	VerdictTTL    time.Duration
}

type KafkaConfig struct {
	// Brokers empty disables the transaction feed importer
	Brokers []string
	Topic   string
	GroupID string
}

type ServicesConfig struct {
	NNServiceURL    string
	TextAnalyzerURL string
	// RulesURL and GraphServiceURL switch those fraud check components to
	// remote deployments; empty runs them in process
	RulesURL        string
	GraphServiceURL string

	RemoteTimeout       time.Duration
	OrchestratorTimeout time.Duration
}

type WorkerConfig struct {
	Concurrency  int
	BatchSize    int
	PollInterval time.Duration
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			ReadTimeout:    getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:   getDurationEnv("SERVER_WRITE_TIMEOUT", 30*time.Second),
			Environment:    getEnv("ENVIRONMENT", "development"),
			RateLimitRPS:   getIntEnv("RATE_LIMIT_RPS", 100),
			RateLimitBurst: getIntEnv("RATE_LIMIT_BURST", 200),
		},
		Store: StoreConfig{
			URI:      getEnv("STORE_URI", "mongodb://localhost:27017"),
			Database: getEnv("STORE_DB", "fraud_detection"),
			Testing:  getBoolEnv("TESTING", false),
		},
		Redis: RedisConfig{
			URL:           getEnv("REDIS_URL", "redis://localhost:6379"),
			StreamName:    getEnv("REDIS_STREAM_NAME", "scoring:events"),
			ConsumerGroup: getEnv("REDIS_CONSUMER_GROUP", "stats-workers"),
			MaxRetries:    getIntEnv("REDIS_MAX_RETRIES", 3),
			VerdictTTL:    getDurationEnv("VERDICT_CACHE_TTL", 2*time.Minute),
		},
		Kafka: KafkaConfig{
			Brokers: getSliceEnv("KAFKA_BROKERS"),
			Topic:   getEnv("KAFKA_TOPIC", "transactions"),
			GroupID: getEnv("KAFKA_GROUP_ID", "fraud-engine-importers"),
		},
		Services: ServicesConfig{
			NNServiceURL:        getEnv("NN_SERVICE_URL", "http://localhost:8004"),
			TextAnalyzerURL:     getEnv("TEXT_ANALYZER_URL", "http://localhost:8001"),
			RulesURL:            getEnv("RULES_URL", ""),
			GraphServiceURL:     getEnv("GRAPH_SERVICE_URL", ""),
			RemoteTimeout:       getDurationEnv("REMOTE_TIMEOUT", 2*time.Second),
			OrchestratorTimeout: getDurationEnv("ORCHESTRATOR_TIMEOUT", 5*time.Second),
		},
		Worker: WorkerConfig{
			Concurrency:  getIntEnv("WORKER_CONCURRENCY", 5),
			BatchSize:    getIntEnv("WORKER_BATCH_SIZE", 100),
			PollInterval: getDurationEnv("WORKER_POLL_INTERVAL", 100*time.Millisecond),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getSliceEnv(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
