package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/lib/pq"  // Postgres driver
	_ "modernc.org/sqlite" // SQLite driver (lite mode)

	"github.com/witnesslabs/witness/pkg/artifacts"
	"github.com/witnesslabs/witness/pkg/broadcast"
	"github.com/witnesslabs/witness/pkg/clock"
	"github.com/witnesslabs/witness/pkg/config"
	"github.com/witnesslabs/witness/pkg/crypto"
	"github.com/witnesslabs/witness/pkg/observability"
	"github.com/witnesslabs/witness/pkg/provenance"
	"github.com/witnesslabs/witness/pkg/store"
	"github.com/witnesslabs/witness/pkg/trigger"
)

// runtime bundles everything a command needs, wired from config.
type runtime struct {
	cfg       *config.Config
	logger    *slog.Logger
	db        *sql.DB
	engine    *provenance.Engine
	validator *trigger.Validator
	debouncer trigger.Gate
	artifacts artifacts.Store
	publisher broadcast.Publisher
	obs       *observability.Provider
}

func (r *runtime) Close(ctx context.Context) {
	if c, ok := r.publisher.(interface{ Close() error }); ok {
		_ = c.Close()
	}
	if r.obs != nil {
		_ = r.obs.Shutdown(ctx)
	}
	_ = r.db.Close()
}

func setup(ctx context.Context) (*runtime, error) {
	cfg := config.Load()
	if cfg.Profile != "" {
		profile, err := config.LoadProfile(cfg.ProfilesDir, cfg.Profile)
		if err != nil {
			return nil, err
		}
		profile.Apply(cfg)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	// Key material, debounce state, and the lite-mode database all live
	// under the data dir regardless of backend.
	if err := os.MkdirAll(cfg.DataDir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	obs, err := setupObservability(ctx, cfg)
	if err != nil {
		return nil, err
	}

	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}

	events := store.NewSQLEventStore(db)
	if err := events.Init(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to init event store: %w", err)
	}
	chain := store.NewSQLChainStore(db)
	if err := chain.Init(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to init chain store: %w", err)
	}

	signer, err := buildSigner(cfg, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	ts := buildClock(logger)

	engine, err := provenance.NewEngine(ctx, signer, events, chain, ts, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	validator, err := trigger.NewValidator()
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	artStore, err := buildArtifactStore(ctx, cfg)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	var publisher broadcast.Publisher
	if cfg.RedisAddr != "" {
		publisher = broadcast.NewRedisPublisher(cfg.RedisAddr, "")
	} else {
		publisher = broadcast.NewLogPublisher(logger)
	}

	// The CLI is one-shot, so the rate limiter alone would reset with
	// every invocation; the file debouncer carries spacing state across
	// processes.
	debouncer := trigger.Gates(
		trigger.NewDebouncer(cfg.DebouncePerSec, cfg.DebounceBurst),
		trigger.NewFileDebouncer(filepath.Join(cfg.DataDir, "debounce"), cfg.DebouncePerSec),
	)

	return &runtime{
		cfg:       cfg,
		logger:    logger,
		db:        db,
		engine:    engine,
		validator: validator,
		debouncer: debouncer,
		artifacts: artStore,
		publisher: publisher,
		obs:       obs,
	}, nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func setupObservability(ctx context.Context, cfg *config.Config) (*observability.Provider, error) {
	obsCfg := observability.DefaultConfig()
	obsCfg.Enabled = cfg.TracingEnabled
	if cfg.OTLPEndpoint != "" {
		obsCfg.OTLPEndpoint = cfg.OTLPEndpoint
	}
	return observability.New(ctx, obsCfg)
}

func openDB(cfg *config.Config) (*sql.DB, error) {
	switch cfg.StoreBackend {
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("postgres backend requires DATABASE_URL")
		}
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres: %w", err)
		}
		return db, nil
	case "sqlite", "":
		dbPath := filepath.Join(cfg.DataDir, "witness.db")
		db, err := sql.Open("sqlite", dbPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite: %w", err)
		}
		// modernc sqlite serializes writes; a single connection avoids
		// SQLITE_BUSY under concurrent appends.
		db.SetMaxOpenConns(1)
		return db, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

// signingKeyPath is the single source of truth for where the software
// signing seed lives under the data directory.
func signingKeyPath(dataDir string) string {
	return filepath.Join(dataDir, "signing.key")
}

func buildSigner(cfg *config.Config, logger *slog.Logger) (crypto.Signer, error) {
	keyPath := signingKeyPath(cfg.DataDir)

	switch cfg.SignerMode {
	case "software":
		return crypto.LoadOrGenerateEd25519(keyPath)
	case "hardware":
		element, err := openSecureElement()
		if err != nil {
			return nil, fmt.Errorf("hardware signer required but unavailable: %w", err)
		}
		return crypto.NewElementSigner(element), nil
	case "auto", "":
		software, err := crypto.LoadOrGenerateEd25519(keyPath)
		if err != nil {
			return nil, err
		}
		var hardware *crypto.ElementSigner
		if element, err := openSecureElement(); err == nil {
			hardware = crypto.NewElementSigner(element)
		} else {
			logger.Warn("secure element unavailable, software signing only", "error", err)
		}
		return crypto.NewFallbackSigner(hardware, software, logger), nil
	default:
		return nil, fmt.Errorf("unknown signer mode %q", cfg.SignerMode)
	}
}

// buildClock prefers the hardware RTC and tags host time as fallback. No
// RTC driver is wired on generic hosts, so the primary stays nil there.
func buildClock(logger *slog.Logger) clock.TimeSource {
	rtc, err := openRTC()
	if err != nil {
		logger.Warn("rtc unavailable, host clock only", "error", err)
		return clock.NewFallback(nil, clock.NewHostClock())
	}
	return clock.NewFallback(clock.NewDeviceClock(rtc), clock.NewHostClock())
}

// openRTC attaches to the device real-time clock. The I2C driver is
// platform-specific and not wired on generic hosts.
func openRTC() (clock.RTC, error) {
	return nil, fmt.Errorf("no rtc driver configured")
}

// openSecureElement attaches to the device secure element. Real hardware
// needs a platform driver; WITNESS_SIMULATED_ELEMENT opts into the in-memory
// element for development and tests.
func openSecureElement() (crypto.SecureElement, error) {
	if os.Getenv("WITNESS_SIMULATED_ELEMENT") == "1" {
		return crypto.NewSimulatedElement()
	}
	return nil, fmt.Errorf("no secure element driver configured")
}

func buildArtifactStore(ctx context.Context, cfg *config.Config) (artifacts.Store, error) {
	if cfg.ArtifactBucket != "" {
		return artifacts.NewS3Store(ctx, artifacts.S3StoreConfig{
			Bucket:   cfg.ArtifactBucket,
			Region:   cfg.ArtifactRegion,
			Endpoint: cfg.ArtifactEndpoint,
			Prefix:   "captures/",
		})
	}
	return artifacts.NewFileStore(filepath.Join(cfg.DataDir, "artifacts"))
}
