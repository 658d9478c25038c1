package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Server
	ServerPort     string
	ServerHost     string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxRequestBody int64
	RateLimitRPS   int
	RateLimitBurst int
	LogLevel       string

	// Database
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Redis
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// Kafka
	KafkaEnabled   bool
	KafkaBrokers   []string
	KafkaGroupID   string
	IntakeTopic    string
	ScoredTopic    string
	IntakeDLQTopic string

	// Classifier
	ClassifierMode    string // artifact, remote or none
	ModelArtifactDir  string
	ModelName         string
	ModelRemoteURL    string
	ClassifierTimeout time.Duration

	// Reference and scoring data
	SRIRCWeightsFile string
	RegionsFile      string
	TerminologyFile  string
	DLPRulesFile     string

	// Snapshot cache
	SnapshotPrefix   string
	SnapshotTTL      time.Duration
	SnapshotInterval time.Duration
	SnapshotTopN     int

	// Batch scoring and registry imports
	Workers       int
	ImportSources []string
	ImportJobTTL  time.Duration
}

func Load() *Config {
	return &Config{
		ServerPort:     getEnv("SERVER_PORT", "8090"),
		ServerHost:     getEnv("SERVER_HOST", "0.0.0.0"),
		ReadTimeout:    getDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:   getDuration("WRITE_TIMEOUT", 30*time.Second),
		MaxRequestBody: int64(getIntEnv("MAX_REQUEST_BODY_BYTES", 1024*1024)),
		RateLimitRPS:   getIntEnv("RATE_LIMIT_RPS", 50),
		RateLimitBurst: getIntEnv("RATE_LIMIT_BURST", 100),
		LogLevel:       getEnv("LOG_LEVEL", "info"),

		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "ai4ckd"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "ai4ckd"),
		PostgresDB:       getEnv("POSTGRES_DB", "ai4ckd"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),

		KafkaEnabled:   getBoolEnv("KAFKA_ENABLED", false),
		KafkaBrokers:   getStringSliceEnv("KAFKA_BROKERS", []string{"localhost:9092"}),
		KafkaGroupID:   getEnv("KAFKA_GROUP_ID", "ckd-triage"),
		IntakeTopic:    getEnv("KAFKA_INTAKE_TOPIC", "ckd.patient-records"),
		ScoredTopic:    getEnv("KAFKA_SCORED_TOPIC", "ckd.patient-scored"),
		IntakeDLQTopic: getEnv("KAFKA_INTAKE_DLQ_TOPIC", "ckd.patient-records.dlq"),

		ClassifierMode:    strings.ToLower(getEnv("CLASSIFIER_MODE", "artifact")),
		ModelArtifactDir:  getEnv("MODEL_ARTIFACT_DIR", "./artifacts"),
		ModelName:         getEnv("MODEL_NAME", "ckd-stage"),
		ModelRemoteURL:    getEnv("MODEL_REMOTE_URL", "http://localhost:8000"),
		ClassifierTimeout: getDuration("CLASSIFIER_TIMEOUT", 2*time.Second),

		SRIRCWeightsFile: getEnv("SRIRC_WEIGHTS_FILE", ""),
		RegionsFile:      getEnv("REGIONS_FILE", ""),
		TerminologyFile:  getEnv("TERMINOLOGY_FILE", ""),
		DLPRulesFile:     getEnv("DLP_RULES_FILE", ""),

		SnapshotPrefix:   getEnv("SNAPSHOT_PREFIX", "ckd:snapshot"),
		SnapshotTTL:      getDuration("SNAPSHOT_TTL", 2*time.Minute),
		SnapshotInterval: getDuration("SNAPSHOT_INTERVAL", 15*time.Second),
		SnapshotTopN:     getIntEnv("SNAPSHOT_TOP_N", 100),

		Workers:       getIntEnv("SCORING_WORKERS", 8),
		ImportSources: getStringSliceEnv("IMPORT_SOURCES", nil),
		ImportJobTTL:  getDuration("IMPORT_JOB_TTL", 30*24*time.Hour),
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
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getStringSliceEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
