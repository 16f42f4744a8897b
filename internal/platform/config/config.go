package config

import (
	"os"
	"strconv"
)

// Server captures process level configuration.
type Server struct {
	Addr          string
	PublicBaseURL string
	PostgresURL   string
	RedisURL      string

	KafkaBrokers      string
	IssuanceTopic     string
	IssuanceGroupID   string
	StatusListMinSize int
	SigningKeysJSON   string
	AuditBufferSize   int
}

// Defaults kept as vars so tests and FromEnv overrides share one source.
var (
	DefaultStatusListMinSize = 16384
	DefaultAuditBufferSize   = 256
	DefaultIssuanceTopic     = "emblem.issuance.jobs"
)

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	addr := os.Getenv("EMBLEM_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	baseURL := os.Getenv("EMBLEM_PUBLIC_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	topic := os.Getenv("ISSUANCE_TOPIC")
	if topic == "" {
		topic = DefaultIssuanceTopic
	}

	groupID := os.Getenv("ISSUANCE_GROUP_ID")
	if groupID == "" {
		groupID = "emblem-issuance"
	}

	minSize := DefaultStatusListMinSize
	if raw := os.Getenv("STATUS_LIST_MIN_SIZE"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			minSize = parsed
		}
	}

	auditBuffer := DefaultAuditBufferSize
	if raw := os.Getenv("AUDIT_BUFFER_SIZE"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			auditBuffer = parsed
		}
	}

	return Server{
		Addr:              addr,
		PublicBaseURL:     baseURL,
		PostgresURL:       os.Getenv("DATABASE_URL"),
		RedisURL:          os.Getenv("REDIS_URL"),
		KafkaBrokers:      os.Getenv("KAFKA_BROKERS"),
		IssuanceTopic:     topic,
		IssuanceGroupID:   groupID,
		StatusListMinSize: minSize,
		// SIGNING_KEYS carries the per-tenant key registry as JSON. It is
		// parsed into an explicit signing.Registry at startup and handed to
		// components at construction time, never read as ambient state.
		SigningKeysJSON: os.Getenv("SIGNING_KEYS"),
		AuditBufferSize: auditBuffer,
	}
}
