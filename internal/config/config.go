// Package config provides configuration management functionality.
// Boot configuration is read once at startup; policy keys are
// re-snapshotted at the top of each loop tick (see the policy package).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/klawleybot/fleetd/internal/domain"
)

// Config holds application configuration
type Config struct {
	DataDir       string // Base directory for both sqlite stores
	SignalDBPath  string // Path of the signal store (defaults under DataDir)
	Port          int
	LogLevel      string
	DevMode       bool
	MasterOwner   string // Owner EOA expected to back the master wallet
	SignerBackend string // "local" clamps execution concurrency to 1

	Bundler  BundlerConfig
	Engine   EngineConfig
	Autonomy AutonomyConfig
	Swing    SwingConfig
	Backup   BackupConfig
}

// BundlerConfig tunes the bundler router.
type BundlerConfig struct {
	PrimaryURL          string
	SecondaryURL        string
	SendTimeout         time.Duration
	HedgeDelay          time.Duration
	ReceiptPoll         time.Duration
	ReceiptTimeout      time.Duration
	SponsorshipPolicyID string
}

// EngineConfig tunes execution fan-out.
type EngineConfig struct {
	Concurrency         int // Per-operation wallet pool; 1 when SignerBackend is "local"
	StaggerDelay        time.Duration
	WalletMinBalanceWei string
}

// AutonomyConfig drives the signal-to-operation loop.
type AutonomyConfig struct {
	Enabled     bool
	Interval    time.Duration
	Mode        string // top_momentum | watchlist_top
	ClusterIDs  []int64
	AmountWei   string
	SlippageBps int64
	Watchlist   string
	MinMomentum float64
}

// SwingConfig drives the take-profit / stop-loss loop.
type SwingConfig struct {
	Enabled  bool
	Interval time.Duration
}

// BackupConfig drives R2 snapshots of both stores.
type BackupConfig struct {
	Enabled         bool
	Endpoint        string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	RetentionDays   int
	Schedule        string // cron spec
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("FLEET_DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, domain.WrapError(domain.KindConfigInvalid, err, "failed to resolve data directory")
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, domain.WrapError(domain.KindConfigInvalid, err, "failed to create data directory")
	}

	cfg := &Config{
		DataDir:       absDataDir,
		SignalDBPath:  getEnv("SIGNAL_DB_PATH", filepath.Join(absDataDir, "signals.db")),
		Port:          getEnvAsInt("PORT", 8080),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		DevMode:       getEnvAsBool("DEV_MODE", false),
		MasterOwner:   getEnv("MASTER_OWNER_ADDRESS", ""),
		SignerBackend: getEnv("SIGNER_BACKEND", "cdp"),

		Bundler: BundlerConfig{
			PrimaryURL:          getEnv("BUNDLER_PRIMARY_URL", ""),
			SecondaryURL:        getEnv("BUNDLER_SECONDARY_URL", ""),
			SendTimeout:         getEnvAsMillis("BUNDLER_SEND_TIMEOUT_MS", 15000),
			HedgeDelay:          getEnvAsMillis("BUNDLER_HEDGE_DELAY_MS", 500),
			ReceiptPoll:         getEnvAsMillis("BUNDLER_RECEIPT_POLL_MS", 2000),
			ReceiptTimeout:      getEnvAsMillis("BUNDLER_RECEIPT_TIMEOUT_MS", 120000),
			SponsorshipPolicyID: getEnv("BUNDLER_SPONSORSHIP_POLICY_ID", ""),
		},

		Engine: EngineConfig{
			Concurrency:         getEnvAsInt("ENGINE_CONCURRENCY", 3),
			StaggerDelay:        getEnvAsMillis("STAGGER_DELAY_MS", 750),
			WalletMinBalanceWei: getEnv("WALLET_MIN_BALANCE_WEI", "0"),
		},

		Autonomy: AutonomyConfig{
			Enabled:     getEnvAsBool("AUTONOMY_ENABLED", false),
			Interval:    getEnvAsSeconds("AUTONOMY_INTERVAL_SEC", 300),
			Mode:        getEnv("AUTONOMY_MODE", "top_momentum"),
			ClusterIDs:  getEnvAsInt64List("AUTONOMY_CLUSTER_IDS"),
			AmountWei:   getEnv("AUTONOMY_AMOUNT_WEI", "0"),
			SlippageBps: int64(getEnvAsInt("AUTONOMY_SLIPPAGE_BPS", 100)),
			Watchlist:   getEnv("AUTONOMY_WATCHLIST", "default"),
			MinMomentum: getEnvAsFloat("AUTONOMY_MIN_MOMENTUM", 0),
		},

		Swing: SwingConfig{
			Enabled:  getEnvAsBool("SWING_ENABLED", false),
			Interval: getEnvAsSeconds("SWING_INTERVAL_SEC", 60),
		},

		Backup: BackupConfig{
			Enabled:         getEnvAsBool("R2_BACKUP_ENABLED", false),
			Endpoint:        getEnv("R2_ENDPOINT", ""),
			Bucket:          getEnv("R2_BUCKET", ""),
			AccessKeyID:     getEnv("R2_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("R2_SECRET_ACCESS_KEY", ""),
			RetentionDays:   getEnvAsInt("R2_RETENTION_DAYS", 14),
			Schedule:        getEnv("R2_BACKUP_SCHEDULE", "0 0 3 * * *"),
		},
	}

	// A local signer cannot sign concurrently; force serial wallet actions.
	if cfg.SignerBackend == "local" {
		cfg.Engine.Concurrency = 1
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks required fields and value ranges. Failures are fatal
// at boot.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return domain.NewError(domain.KindConfigInvalid, "PORT %d out of range", c.Port)
	}
	if c.Engine.Concurrency < 1 {
		return domain.NewError(domain.KindConfigInvalid, "ENGINE_CONCURRENCY must be at least 1")
	}
	if c.MasterOwner != "" && !domain.ValidAddress(c.MasterOwner) {
		return domain.NewError(domain.KindConfigInvalid, "MASTER_OWNER_ADDRESS %q is not a valid address", c.MasterOwner)
	}
	if _, err := domain.ParseWei(c.Engine.WalletMinBalanceWei); err != nil {
		return domain.NewError(domain.KindConfigInvalid, "WALLET_MIN_BALANCE_WEI: %v", err)
	}
	if c.Autonomy.Enabled {
		if c.Autonomy.Mode != "top_momentum" && c.Autonomy.Mode != "watchlist_top" {
			return domain.NewError(domain.KindConfigInvalid, "AUTONOMY_MODE %q unknown", c.Autonomy.Mode)
		}
		if len(c.Autonomy.ClusterIDs) == 0 {
			return domain.NewError(domain.KindConfigInvalid, "AUTONOMY_ENABLED requires AUTONOMY_CLUSTER_IDS")
		}
		amount, err := domain.ParseWei(c.Autonomy.AmountWei)
		if err != nil || amount.IsZero() {
			return domain.NewError(domain.KindConfigInvalid, "AUTONOMY_AMOUNT_WEI must be a positive wei amount")
		}
	}
	if c.Backup.Enabled {
		if c.Backup.Endpoint == "" || c.Backup.Bucket == "" {
			return domain.NewError(domain.KindConfigInvalid, "R2 backup enabled but R2_ENDPOINT or R2_BUCKET missing")
		}
	}
	return nil
}

// getEnv retrieves an environment variable value with a fallback.
func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsMillis(key string, fallbackMs int) time.Duration {
	return time.Duration(getEnvAsInt(key, fallbackMs)) * time.Millisecond
}

func getEnvAsSeconds(key string, fallbackSec int) time.Duration {
	return time.Duration(getEnvAsInt(key, fallbackSec)) * time.Second
}

// getEnvAsInt64List parses a comma-separated list of integer ids.
func getEnvAsInt64List(key string) []int64 {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	var out []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if id, err := strconv.ParseInt(part, 10, 64); err == nil {
			out = append(out, id)
		}
	}
	return out
}

// String renders a redacted one-line summary for the boot log.
func (c *Config) String() string {
	return fmt.Sprintf("dataDir=%s port=%d signer=%s autonomy=%t swing=%t backup=%t",
		c.DataDir, c.Port, c.SignerBackend, c.Autonomy.Enabled, c.Swing.Enabled, c.Backup.Enabled)
}
