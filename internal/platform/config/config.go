package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Server captures process-level configuration.
type Server struct {
	Addr            string
	DatabaseURL     string
	RedisURL        string
	KafkaBrokers    []string
	KafkaAuditTopic string
	TxRetries       int
	IdentifyTimeout time.Duration
}

// FromEnv builds a Server config from environment variables so main stays
// lean. An empty DATABASE_URL selects the in-memory store (dev mode).
func FromEnv() Server {
	addr := os.Getenv("WELD_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	topic := os.Getenv("KAFKA_AUDIT_TOPIC")
	if topic == "" {
		topic = "weld.audit"
	}

	retries := 3
	if v := os.Getenv("RECONCILE_TX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			retries = n
		}
	}

	timeout := 10 * time.Second
	if v := os.Getenv("RECONCILE_IDENTIFY_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			timeout = d
		}
	}

	return Server{
		Addr:            addr,
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		RedisURL:        os.Getenv("REDIS_URL"),
		KafkaBrokers:    splitBrokers(os.Getenv("KAFKA_BROKERS")),
		KafkaAuditTopic: topic,
		TxRetries:       retries,
		IdentifyTimeout: timeout,
	}
}

func splitBrokers(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	brokers := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			brokers = append(brokers, p)
		}
	}
	return brokers
}
