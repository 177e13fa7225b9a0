package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Change feed backends for live pool updates.
const (
	FeedLocal         = "local"
	FeedRedis         = "redis"
	FeedDynamoStreams = "dynamostreams"
)

// Pool document backends.
const (
	PoolStoreDynamo = "dynamo"
	PoolStoreMemory = "memory"
)

// Config holds all runtime configuration loaded from environment variables.
type Config struct {
	AppPort        string
	AppEnv         string
	AWSRegion      string
	AWSEndpointURL string // empty in prod, set to LocalStack URL in dev
	AWSAccessKeyID string
	AWSSecretKey   string
	AWSMaxAttempts int
	DynamoTables   DynamoTables

	// SnapshotBucket receives a JSON copy of a category before it is cleared. Empty disables it.
	SnapshotBucket string

	JWTPrivateKeyPath string
	JWTPublicKeyPath  string
	JWTExpiry         time.Duration

	NumberingUpperBound int
	PoolStore           string
	ChangeFeed          string
	StreamPollInterval  time.Duration
	RedisURL            string
	RedisChannel        string

	ChallengeRatePerSec float64
	ChallengeBurst      int

	AllowedOrigins []string // CORS allowed origins
}

// DynamoTables holds the DynamoDB table name for each entity.
type DynamoTables struct {
	Users       string
	NumberPools string
}

// Load reads all configuration from environment variables.
func Load() *Config {
	return &Config{
		AppPort:        getEnv("APP_PORT", "3000"),
		AppEnv:         getEnv("APP_ENV", "development"),
		AWSRegion:      getEnv("AWS_REGION", "us-east-1"),
		AWSEndpointURL: getEnv("AWS_ENDPOINT_URL", ""),
		AWSAccessKeyID: getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretKey:   getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSMaxAttempts: getEnvInt("AWS_MAX_ATTEMPTS", 5),
		DynamoTables: DynamoTables{
			Users:       getEnv("DYNAMO_TABLE_USERS", "users"),
			NumberPools: getEnv("DYNAMO_TABLE_NUMBER_POOLS", "number_pools"),
		},
		SnapshotBucket:      getEnv("SNAPSHOT_BUCKET", ""),
		JWTPrivateKeyPath:   getEnv("JWT_PRIVATE_KEY_PATH", "./private_key.pem"),
		JWTPublicKeyPath:    getEnv("JWT_PUBLIC_KEY_PATH", "./public_key.pem"),
		JWTExpiry:           time.Duration(getEnvInt("JWT_EXPIRY_DAYS", 7)) * 24 * time.Hour,
		NumberingUpperBound: getEnvInt("NUMBERING_UPPER_BOUND", 9999),
		PoolStore:           strings.ToLower(getEnv("POOL_STORE", PoolStoreDynamo)),
		ChangeFeed:          strings.ToLower(getEnv("CHANGE_FEED", FeedLocal)),
		StreamPollInterval:  getEnvDuration("STREAM_POLL_INTERVAL", time.Second),
		RedisURL:            getEnv("REDIS_URL", ""),
		RedisChannel:        getEnv("REDIS_CHANNEL", "number_pools:changed"),
		ChallengeRatePerSec: getEnvFloat("CHALLENGE_RATE_PER_SEC", 1),
		ChallengeBurst:      getEnvInt("CHALLENGE_BURST", 5),
		AllowedOrigins:      strings.Split(getEnv("ALLOWED_ORIGINS", "*"), ","),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
