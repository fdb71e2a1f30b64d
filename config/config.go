package config

import (
	"flag"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"
)

// StorageTypes lists the accepted values of Config.StorageType.
var StorageTypes = []string{"memory", "badger", "sqlite", "postgres", "mongodb", "dynamodb", "s3"}

// Config holds all configuration for the quickbin service
type Config struct {
	// Server configuration
	Port         int   `json:"port"`
	MaxBodyBytes int64 `json:"max_body_bytes"`

	// Storage configuration
	StorageType string        `json:"storage_type"`
	OpTimeout   time.Duration `json:"op_timeout"`

	DataDir string `json:"data_dir"` // badger

	SQLitePath  string `json:"sqlite_path"`
	PostgresDSN string `json:"-"`

	MongoDBURI        string `json:"-"`
	MongoDBDatabase   string `json:"mongodb_database"`
	MongoDBCollection string `json:"mongodb_collection"`

	DynamoDBTable  string `json:"dynamodb_table"`
	DynamoDBRegion string `json:"dynamodb_region"`

	S3Bucket string `json:"s3_bucket"`
	S3Prefix string `json:"s3_prefix"`

	// Expiry and reaping
	ReapInterval  time.Duration `json:"reap_interval"`
	ReapBatchSize int           `json:"reap_batch_size"`

	// Store retries for transient failures
	RetryAttempts int           `json:"retry_attempts"`
	RetryBackoff  time.Duration `json:"retry_backoff"`

	// Rate limit on snippet creation, per client IP. 0 disables it.
	RateLimit float64 `json:"rate_limit"`
	RateBurst int     `json:"rate_burst"`

	CORSOrigins []string `json:"cors_origins"`

	// Operational configuration
	LogLevel      string `json:"log_level"`
	LogFormat     string `json:"log_format"`
	EnableMetrics bool   `json:"enable_metrics"`

	Version    string `json:"version"`
	BuildTime  string `json:"build_time"`
	CommitHash string `json:"commit_hash"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Port:              8080,
		MaxBodyBytes:      1024 * 1024,
		StorageType:       "memory",
		OpTimeout:         5 * time.Second,
		DataDir:           "./data",
		SQLitePath:        "./quickbin.db",
		MongoDBURI:        "mongodb://localhost:27017",
		MongoDBDatabase:   "quickbin",
		MongoDBCollection: "snippets",
		DynamoDBTable:     "quickbin-snippets",
		DynamoDBRegion:    "us-east-1",
		ReapInterval:      time.Minute,
		ReapBatchSize:     500,
		RetryAttempts:     3,
		RetryBackoff:      50 * time.Millisecond,
		RateLimit:         5,
		RateBurst:         20,
		CORSOrigins:       []string{"*"},
		LogLevel:          "info",
		LogFormat:         "text",
		EnableMetrics:     true,
		Version:           "dev",
		BuildTime:         "unknown",
		CommitHash:        "unknown",
	}
}

// LoadConfig loads configuration from CLI flags and QUICKBIN_* environment
// variables, then validates it. Environment variables win over flags.
func LoadConfig() (*Config, error) {
	return Load(flag.CommandLine, os.Args[1:])
}

// Load parses args into a fresh configuration using fs.
func Load(fs *flag.FlagSet, args []string) (*Config, error) {
	cfg := DefaultConfig()
	var corsOrigins string

	fs.IntVar(&cfg.Port, "port", cfg.Port, "Port to listen on")
	fs.Int64Var(&cfg.MaxBodyBytes, "max-body-bytes", cfg.MaxBodyBytes, "Maximum request body size in bytes")

	fs.StringVar(&cfg.StorageType, "storage-type", cfg.StorageType, "Storage backend: "+strings.Join(StorageTypes, ", "))
	fs.DurationVar(&cfg.OpTimeout, "store-timeout", cfg.OpTimeout, "Timeout for a single storage operation")
	fs.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "Data directory (badger)")
	fs.StringVar(&cfg.SQLitePath, "sqlite-path", cfg.SQLitePath, "SQLite database file, or :memory:")
	fs.StringVar(&cfg.PostgresDSN, "postgres-dsn", cfg.PostgresDSN, "PostgreSQL connection string")
	fs.StringVar(&cfg.MongoDBURI, "mongodb-uri", cfg.MongoDBURI, "MongoDB connection URI")
	fs.StringVar(&cfg.MongoDBDatabase, "mongodb-database", cfg.MongoDBDatabase, "MongoDB database name")
	fs.StringVar(&cfg.MongoDBCollection, "mongodb-collection", cfg.MongoDBCollection, "MongoDB collection name")
	fs.StringVar(&cfg.DynamoDBTable, "dynamodb-table", cfg.DynamoDBTable, "DynamoDB table name")
	fs.StringVar(&cfg.DynamoDBRegion, "dynamodb-region", cfg.DynamoDBRegion, "DynamoDB region")
	fs.StringVar(&cfg.S3Bucket, "s3-bucket", cfg.S3Bucket, "S3 bucket")
	fs.StringVar(&cfg.S3Prefix, "s3-prefix", cfg.S3Prefix, "S3 key prefix")

	fs.DurationVar(&cfg.ReapInterval, "reap-interval", cfg.ReapInterval, "How often expired snippets are removed")
	fs.IntVar(&cfg.ReapBatchSize, "reap-batch-size", cfg.ReapBatchSize, "Expired snippets removed per batch")
	fs.IntVar(&cfg.RetryAttempts, "retry-attempts", cfg.RetryAttempts, "Attempts for a store write before giving up")
	fs.DurationVar(&cfg.RetryBackoff, "retry-backoff", cfg.RetryBackoff, "Initial backoff between store write attempts")

	fs.Float64Var(&cfg.RateLimit, "rate-limit", cfg.RateLimit, "Snippet creations per second per client IP (0 disables)")
	fs.IntVar(&cfg.RateBurst, "rate-burst", cfg.RateBurst, "Burst size for the creation rate limit")
	fs.StringVar(&corsOrigins, "cors-origins", strings.Join(cfg.CORSOrigins, ","), "Comma-separated allowed CORS origins")

	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format (text, json)")
	fs.BoolVar(&cfg.EnableMetrics, "enable-metrics", cfg.EnableMetrics, "Expose Prometheus metrics on /metrics")

	fs.Usage = func() {
		out := fs.Output()
		fmt.Fprintf(out, "quickbin - share code snippets that expire\n\n")
		fmt.Fprintf(out, "Usage: %s [options]\n\n", fs.Name())
		fmt.Fprintf(out, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(out, "\nEnvironment Variables:\n")
		fmt.Fprintf(out, "  All flags can be set via environment variables with QUICKBIN_ prefix\n")
		fmt.Fprintf(out, "  Example: QUICKBIN_STORAGE_TYPE=sqlite\n")
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	cfg.CORSOrigins = splitList(corsOrigins)

	cfg.applyEnv()
	return cfg, cfg.Validate()
}

// applyEnv overrides fields with QUICKBIN_* environment variables.
func (c *Config) applyEnv() {
	c.Port = getEnvInt("QUICKBIN_PORT", c.Port)
	c.MaxBodyBytes = int64(getEnvInt("QUICKBIN_MAX_BODY_BYTES", int(c.MaxBodyBytes)))

	c.StorageType = getEnvString("QUICKBIN_STORAGE_TYPE", c.StorageType)
	c.OpTimeout = getEnvDuration("QUICKBIN_STORE_TIMEOUT", c.OpTimeout)
	c.DataDir = getEnvString("QUICKBIN_DATA_DIR", c.DataDir)
	c.SQLitePath = getEnvString("QUICKBIN_SQLITE_PATH", c.SQLitePath)
	c.PostgresDSN = getEnvString("QUICKBIN_POSTGRES_DSN", c.PostgresDSN)
	c.MongoDBURI = getEnvString("QUICKBIN_MONGODB_URI", c.MongoDBURI)
	c.MongoDBDatabase = getEnvString("QUICKBIN_MONGODB_DATABASE", c.MongoDBDatabase)
	c.MongoDBCollection = getEnvString("QUICKBIN_MONGODB_COLLECTION", c.MongoDBCollection)
	c.DynamoDBTable = getEnvString("QUICKBIN_DYNAMODB_TABLE", c.DynamoDBTable)
	c.DynamoDBRegion = getEnvString("QUICKBIN_DYNAMODB_REGION", getEnvString("AWS_REGION", c.DynamoDBRegion))
	c.S3Bucket = getEnvString("QUICKBIN_S3_BUCKET", c.S3Bucket)
	c.S3Prefix = getEnvString("QUICKBIN_S3_PREFIX", c.S3Prefix)

	c.ReapInterval = getEnvDuration("QUICKBIN_REAP_INTERVAL", c.ReapInterval)
	c.ReapBatchSize = getEnvInt("QUICKBIN_REAP_BATCH_SIZE", c.ReapBatchSize)
	c.RetryAttempts = getEnvInt("QUICKBIN_RETRY_ATTEMPTS", c.RetryAttempts)
	c.RetryBackoff = getEnvDuration("QUICKBIN_RETRY_BACKOFF", c.RetryBackoff)

	c.RateLimit = getEnvFloat("QUICKBIN_RATE_LIMIT", c.RateLimit)
	c.RateBurst = getEnvInt("QUICKBIN_RATE_BURST", c.RateBurst)
	if val := os.Getenv("QUICKBIN_CORS_ORIGINS"); val != "" {
		c.CORSOrigins = splitList(val)
	}

	c.LogLevel = getEnvString("QUICKBIN_LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnvString("QUICKBIN_LOG_FORMAT", c.LogFormat)
	c.EnableMetrics = getEnvBool("QUICKBIN_ENABLE_METRICS", c.EnableMetrics)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}

	if c.MaxBodyBytes < 1024 || c.MaxBodyBytes > 10*1024*1024 {
		return fmt.Errorf("max body bytes must be between 1KB and 10MB: %d", c.MaxBodyBytes)
	}

	if !slices.Contains(StorageTypes, c.StorageType) {
		return fmt.Errorf("invalid storage type: %s (valid: %s)", c.StorageType, strings.Join(StorageTypes, ", "))
	}

	switch c.StorageType {
	case "badger":
		if c.DataDir == "" {
			return fmt.Errorf("data dir is required for badger storage")
		}
	case "sqlite":
		if c.SQLitePath == "" {
			return fmt.Errorf("sqlite path is required for sqlite storage")
		}
	case "postgres":
		if c.PostgresDSN == "" {
			return fmt.Errorf("postgres dsn is required for postgres storage")
		}
	case "mongodb":
		if c.MongoDBURI == "" || c.MongoDBDatabase == "" {
			return fmt.Errorf("mongodb uri and database are required for mongodb storage")
		}
	case "dynamodb":
		if c.DynamoDBTable == "" {
			return fmt.Errorf("dynamodb table is required for dynamodb storage")
		}
	case "s3":
		if c.S3Bucket == "" {
			return fmt.Errorf("s3 bucket is required for s3 storage")
		}
	}

	if c.OpTimeout <= 0 {
		return fmt.Errorf("store timeout must be positive: %v", c.OpTimeout)
	}

	if c.ReapInterval < time.Second {
		return fmt.Errorf("reap interval must be at least 1s: %v", c.ReapInterval)
	}

	if c.ReapBatchSize < 1 {
		return fmt.Errorf("reap batch size must be positive: %d", c.ReapBatchSize)
	}

	if c.RetryAttempts < 1 || c.RetryAttempts > 10 {
		return fmt.Errorf("retry attempts must be between 1 and 10: %d", c.RetryAttempts)
	}

	if c.RetryBackoff < 0 {
		return fmt.Errorf("retry backoff cannot be negative: %v", c.RetryBackoff)
	}

	if c.RateLimit < 0 {
		return fmt.Errorf("rate limit cannot be negative: %v", c.RateLimit)
	}

	if c.RateLimit > 0 && c.RateBurst < 1 {
		return fmt.Errorf("rate burst must be positive when rate limiting: %d", c.RateBurst)
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.LogLevel)
	}

	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format: %s", c.LogFormat)
	}

	return nil
}

// NewFlagSet returns a flag set suitable for Load in tests and tools.
func NewFlagSet(name string, output io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(output)
	return fs
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Helper functions for environment variable parsing
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
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
