package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"relaybox.app/relay/core/db"
)

type Config struct {
	OTel        OTelConfig
	Mailbox     MailboxConfig
	Secrets     SecretsConfig
	Attachments AttachmentConfig
	Workflow    WorkflowConfig
	Pipeline    PipelineConfig
	Audit       AuditConfig
	RateLimit   RateLimitConfig
	Env         string
	Port        string
	MetricsPort string
	PublicURL   string
	Delivery    DeliveryMode
	// Snowflake node of this replica. Replicas sharing a node ID mint
	// colliding message IDs.
	NodeID int64
	DB     db.Config
}

type OTelConfig struct {
	Endpoint       string
	Headers        string
	ServiceName    string
	ServiceVersion string
}

type MailboxConfig struct {
	RedisURL  string
	KeyPrefix string
	TTL       time.Duration
	// Upper bound for every store round trip; exceeding it reads as unavailable.
	OpTimeout time.Duration
}

type SecretsConfig struct {
	HeaderName string
	Ingress    string
	Callback   string
}

type AttachmentConfig struct {
	MaxBytes int64
	MaxFiles int
	// BucketURL selects a gocloud bucket ("s3://...", "mem://"). Empty
	// stores files under BlobDir.
	BucketURL string
	BlobDir   string
	BaseURL   string
}

// WorkflowConfig points at the external workflow engine that receives outbound
// messages and answers through the reply ingress.
type WorkflowConfig struct {
	WebhookURL    string
	WebhookSecret string
	Timeout       time.Duration
}

type PipelineConfig struct {
	RedisStream     string
	RedisGroup      string
	RedisDLQStream  string
	RedisConsumer   string
	TraceHeaderName string
	MaxAttempts     int
}

type AuditConfig struct {
	Stream string
	MaxLen int64
}

type RateLimitConfig struct {
	PerSecond float64
	Burst     int
}

type DeliveryMode string

const (
	DeliveryPull DeliveryMode = "pull"
	DeliveryPush DeliveryMode = "push"
)

// MaxNodeID is the largest node a 10-bit snowflake node field holds.
const MaxNodeID = 1023

type ServiceType string

const (
	ServiceTypeServer ServiceType = "server"
	ServiceTypeWorker ServiceType = "worker"
)

// Load loads configuration from environment variables.
// In development, it loads from service-specific .env files:
//   - .env.server for the API server
//   - .env.worker for the dispatch worker
//
// Falls back to .env if service-specific file doesn't exist.
func Load(serviceType ServiceType) (Config, error) {
	if getEnv("RELAY_ENV", "development") == "development" {
		envFile := fmt.Sprintf(".env.%s", serviceType)
		if err := godotenv.Load(envFile); err != nil {
			_ = godotenv.Load(".env")
		}
	}

	nodeID, err := strconv.ParseInt(getEnv("SNOWFLAKE_NODE_ID", "1"), 10, 64)
	if err != nil {
		return Config{}, fmt.Errorf("SNOWFLAKE_NODE_ID must be an integer: %w", err)
	}

	cfg := Config{
		Env:         getEnv("RELAY_ENV", "development"),
		Port:        getEnv("PORT", "8080"),
		MetricsPort: getEnv("METRICS_PORT", "9090"),
		PublicURL:   getEnv("PUBLIC_BASE_URL", "http://localhost:8080"),
		Delivery:    DeliveryMode(getEnv("DELIVERY_MODE", string(DeliveryPull))),
		NodeID:      nodeID,
		DB: db.Config{
			DSN:      getEnv("DATABASE_URL", ""),
			MaxConns: getEnvInt32("DB_MAX_CONNS", 10),
			MinConns: getEnvInt32("DB_MIN_CONNS", 2),
		},
		OTel: OTelConfig{
			Endpoint:       getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			Headers:        getEnv("OTEL_EXPORTER_OTLP_HEADERS", ""),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "relay-"+string(serviceType)),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "dev"),
		},
		Mailbox: MailboxConfig{
			RedisURL:  getEnv("REDIS_URL", "redis://localhost:6379/0"),
			KeyPrefix: getEnv("MAILBOX_KEY_PREFIX", "mailbox:"),
			TTL:       getEnvDuration("MAILBOX_TTL", 5*time.Minute),
			OpTimeout: getEnvDuration("MAILBOX_OP_TIMEOUT", 10*time.Second),
		},
		Secrets: SecretsConfig{
			HeaderName: getEnv("SECRET_HEADER_NAME", "X-Relay-Secret"),
			Ingress:    getEnv("INGRESS_SECRET", ""),
			Callback:   getEnv("CALLBACK_SECRET", ""),
		},
		Attachments: AttachmentConfig{
			MaxBytes:  getEnvInt64("ATTACHMENT_MAX_BYTES", 10<<20),
			MaxFiles:  getEnvInt("ATTACHMENT_MAX_FILES", 10),
			BucketURL: getEnv("BLOB_BUCKET_URL", ""),
			BlobDir:   getEnv("BLOB_DIR", "./data/blobs"),
			BaseURL:   getEnv("BLOB_BASE_URL", "/blobs"),
		},
		Workflow: WorkflowConfig{
			WebhookURL:    getEnv("WORKFLOW_WEBHOOK_URL", ""),
			WebhookSecret: getEnv("WORKFLOW_WEBHOOK_SECRET", ""),
			Timeout:       getEnvDuration("WORKFLOW_TIMEOUT", 10*time.Second),
		},
		Pipeline: PipelineConfig{
			RedisStream:     getEnv("REDIS_STREAM", "relay_dispatch"),
			RedisGroup:      getEnv("REDIS_CONSUMER_GROUP", "relay_dispatch_group"),
			RedisDLQStream:  getEnv("REDIS_DLQ_STREAM", "relay_dispatch_dlq"),
			RedisConsumer:   getEnv("REDIS_CONSUMER_NAME", "relay-worker"),
			TraceHeaderName: getEnv("TRACE_HEADER_NAME", "X-Trace-Id"),
			MaxAttempts:     getEnvInt("DISPATCH_MAX_ATTEMPTS", 5),
		},
		Audit: AuditConfig{
			Stream: getEnv("AUDIT_STREAM", "relay_audit"),
			MaxLen: getEnvInt64("AUDIT_MAX_LEN", 10000),
		},
		RateLimit: RateLimitConfig{
			PerSecond: getEnvFloat("INGRESS_RATE_LIMIT", 50),
			Burst:     getEnvInt("INGRESS_RATE_BURST", 100),
		},
	}

	if err := cfg.validate(serviceType); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) validate(serviceType ServiceType) error {
	if c.Delivery != DeliveryPull && c.Delivery != DeliveryPush {
		return fmt.Errorf("DELIVERY_MODE must be %q or %q, got %q", DeliveryPull, DeliveryPush, c.Delivery)
	}
	if c.NodeID < 0 || c.NodeID > MaxNodeID {
		return fmt.Errorf("SNOWFLAKE_NODE_ID must be between 0 and %d, got %d", MaxNodeID, c.NodeID)
	}
	if c.Attachments.MaxFiles <= 0 {
		return fmt.Errorf("ATTACHMENT_MAX_FILES must be positive")
	}
	if c.Mailbox.TTL <= 0 {
		return fmt.Errorf("MAILBOX_TTL must be positive")
	}
	if c.Mailbox.OpTimeout <= 0 {
		return fmt.Errorf("MAILBOX_OP_TIMEOUT must be positive")
	}
	if c.Delivery == DeliveryPush && !c.DB.Enabled() {
		return fmt.Errorf("DATABASE_URL is required when DELIVERY_MODE=push")
	}
	if serviceType == ServiceTypeWorker && c.Workflow.WebhookURL == "" {
		return fmt.Errorf("WORKFLOW_WEBHOOK_URL is required for the worker")
	}
	return nil
}

func (c Config) IsProduction() bool {
	return c.Env == "production"
}

func (c Config) IsDevelopment() bool {
	return c.Env == "development"
}

func (c OTelConfig) Enabled() bool {
	return c.Endpoint != ""
}

func (c AttachmentConfig) Enabled() bool {
	return (c.BucketURL != "" || c.BlobDir != "") && c.MaxBytes > 0
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt32(key string, fallback int32) int32 {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(i)
		}
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

// Accepts Go durations ("5m", "1500ms") or a bare number of seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}
