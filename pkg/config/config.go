// Package config resolves runtime configuration from environment variables
// and optional YAML device profiles.
package config

import (
	"os"
	"strconv"
)

// Config holds device runtime configuration.
type Config struct {
	DataDir      string
	LogLevel     string
	StoreBackend string // "sqlite" | "postgres"
	DatabaseURL  string // postgres DSN when StoreBackend is "postgres"
	SignerMode   string // "auto" | "hardware" | "software"
	ProfilesDir  string
	Profile      string // device profile code, e.g. "trailcam"

	ArtifactBucket   string // non-empty enables the S3 artifact store
	ArtifactRegion   string
	ArtifactEndpoint string

	RedisAddr      string // non-empty enables Redis broadcast
	OTLPEndpoint   string
	TracingEnabled bool
	DebouncePerSec float64
	DebounceBurst  int
}

// Load loads configuration from environment variables.
func Load() *Config {
	dataDir := os.Getenv("WITNESS_DATA_DIR")
	if dataDir == "" {
		dataDir = "/var/lib/witness"
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	backend := os.Getenv("WITNESS_STORE")
	if backend == "" {
		backend = "sqlite"
	}

	signerMode := os.Getenv("WITNESS_SIGNER")
	if signerMode == "" {
		signerMode = "auto"
	}

	profilesDir := os.Getenv("WITNESS_PROFILES_DIR")
	if profilesDir == "" {
		profilesDir = "profiles"
	}

	perSec := 1.0
	if v := os.Getenv("WITNESS_DEBOUNCE_PER_SEC"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			perSec = f
		}
	}

	burst := 1
	if v := os.Getenv("WITNESS_DEBOUNCE_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			burst = n
		}
	}

	return &Config{
		DataDir:          dataDir,
		LogLevel:         logLevel,
		StoreBackend:     backend,
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		SignerMode:       signerMode,
		ProfilesDir:      profilesDir,
		Profile:          os.Getenv("WITNESS_PROFILE"),
		ArtifactBucket:   os.Getenv("WITNESS_ARTIFACT_BUCKET"),
		ArtifactRegion:   os.Getenv("WITNESS_ARTIFACT_REGION"),
		ArtifactEndpoint: os.Getenv("WITNESS_ARTIFACT_ENDPOINT"),
		RedisAddr:        os.Getenv("WITNESS_REDIS_ADDR"),
		OTLPEndpoint:     os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		TracingEnabled:   os.Getenv("WITNESS_TRACING") == "true",
		DebouncePerSec:   perSec,
		DebounceBurst:    burst,
	}
}
