package config

import (
	"os"
	"strconv"
	"time"
)

// Config captures process-level configuration. Everything comes from the
// environment so main stays lean and deployments need no config files.
type Config struct {
	Addr    string
	Version string

	// Persistence and collaborators
	PostgresDSN  string
	RedisAddr    string
	KafkaBrokers string
	AuditTopic   string

	// External directory and ownership index
	DirectoryURL      string
	OwnershipIndexURL string

	// Client auth
	JWTSigningKey string

	// Node key material (base64 raw X25519 keypair for sealing toward us)
	SealingPublicKey  string
	SealingPrivateKey string

	// Timing
	CallbackTimeout  time.Duration
	PeerDialTimeout  time.Duration
	ShutdownDeadline time.Duration
}

// FromEnv builds a Config from environment variables with development
// defaults. Production deployments are expected to override the signing key
// and DSNs.
func FromEnv() Config {
	cfg := Config{
		Addr:              getEnv("LIAISON_ADDR", ":8443"),
		Version:           getEnv("LIAISON_VERSION", "dev"),
		PostgresDSN:       os.Getenv("LIAISON_POSTGRES_DSN"),
		RedisAddr:         os.Getenv("LIAISON_REDIS_ADDR"),
		KafkaBrokers:      os.Getenv("LIAISON_KAFKA_BROKERS"),
		AuditTopic:        getEnv("LIAISON_AUDIT_TOPIC", "liaison.audit"),
		DirectoryURL:      os.Getenv("LIAISON_DIRECTORY_URL"),
		OwnershipIndexURL: os.Getenv("LIAISON_OWNERSHIP_INDEX_URL"),
		JWTSigningKey:     getEnv("LIAISON_JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		SealingPublicKey:  os.Getenv("LIAISON_SEALING_PUBLIC_KEY"),
		SealingPrivateKey: os.Getenv("LIAISON_SEALING_PRIVATE_KEY"),
		CallbackTimeout:   getDuration("LIAISON_CALLBACK_TIMEOUT", 30*time.Second),
		PeerDialTimeout:   getDuration("LIAISON_PEER_DIAL_TIMEOUT", 10*time.Second),
		ShutdownDeadline:  getDuration("LIAISON_SHUTDOWN_DEADLINE", 15*time.Second),
	}
	return cfg
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	// Accept bare seconds for operators who forget the unit suffix.
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}
