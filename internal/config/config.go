// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir  string // Base directory for all databases, always absolute
	Port     int
	DevMode  bool
	LogLevel string

	// Venue connectivity. Empty VenueURL selects the built-in paper venue.
	VenueURL           string
	VenueStreamURL     string
	VenueStreamSymbols []string // quote stream subscriptions
	VenueAPIKey        string
	VenueAPISecret     string
	VenueRateLimit     float64 // venue requests per second

	Dispatch     DispatchConfig
	Confirmation ConfirmationConfig
	Execution    ExecutionConfig
	Positions    PositionsConfig
	Performance  PerformanceConfig
	Backup       BackupConfig

	// ExitRulesPath points at the YAML stop-loss/take-profit tables.
	// Compiled-in defaults apply when the file is absent.
	ExitRulesPath string
}

// DispatchConfig tunes the signal dispatcher and queue workers.
type DispatchConfig struct {
	MinConfidence    float64       // signals below this are rejected outright
	PriorityCutoff   int           // scores at or above go to the priority queue
	ConfidenceWeight float64       // priority blend weight for confidence
	RiskWeight       float64       // priority blend weight for agent risk appetite
	BatchSize        int           // signals popped per queue per drain cycle
	FreshnessWindow  time.Duration // signals older than this fail on dequeue
	DrainInterval    time.Duration
}

// ConfirmationConfig tunes the preview/commit state machine.
type ConfirmationConfig struct {
	PreviewTTL           time.Duration
	AutoConfirmThreshold float64 // default cost ceiling when the agent has none
	MaxAutoPositionValue float64 // manual trigger: position value above this
	MaxAutoSlippage      float64 // manual trigger: slippage estimate above this, percent
	FeeRate              float64 // venue taker fee estimate, fraction
	SweepInterval        time.Duration
}

// ExecutionConfig tunes order tracking.
type ExecutionConfig struct {
	PollInterval time.Duration
	MaxAttempts  int
}

// PositionsConfig tunes the position monitor.
type PositionsConfig struct {
	CheckInterval        time.Duration
	MaterialityThreshold float64 // relative PnL change, percent
	QuoteTTL             time.Duration
}

// PerformanceConfig tunes per-agent metric recomputation.
type PerformanceConfig struct {
	Lookback       time.Duration // completed orders older than this are ignored
	PeriodsPerYear int           // Sharpe annualization, 252 for daily-ish cadence
	RiskFreeRate   float64       // annual, as a fraction
}

// BackupConfig holds S3-compatible backup settings. Backups are skipped
// when Bucket is empty.
type BackupConfig struct {
	Bucket    string
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Retention int // how many archives to keep remotely
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("TRADEWIND_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "./data"
	}

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:  absDataDir,
		Port:     getEnvAsInt("PORT", 8080),
		DevMode:  getEnvAsBool("DEV_MODE", false),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		VenueURL:           getEnv("VENUE_URL", ""),
		VenueStreamURL:     getEnv("VENUE_STREAM_URL", ""),
		VenueStreamSymbols: getEnvAsSlice("VENUE_STREAM_SYMBOLS", nil),
		VenueAPIKey:        getEnv("VENUE_API_KEY", ""),
		VenueAPISecret:     getEnv("VENUE_API_SECRET", ""),
		VenueRateLimit:     getEnvAsFloat("VENUE_RATE_LIMIT", 5),

		Dispatch: DispatchConfig{
			MinConfidence:    getEnvAsFloat("DISPATCH_MIN_CONFIDENCE", 0.6),
			PriorityCutoff:   getEnvAsInt("DISPATCH_PRIORITY_CUTOFF", 80),
			ConfidenceWeight: getEnvAsFloat("DISPATCH_CONFIDENCE_WEIGHT", 70),
			RiskWeight:       getEnvAsFloat("DISPATCH_RISK_WEIGHT", 30),
			BatchSize:        getEnvAsInt("DISPATCH_BATCH_SIZE", 5),
			FreshnessWindow:  getEnvAsDuration("DISPATCH_FRESHNESS_WINDOW", 300*time.Second),
			DrainInterval:    getEnvAsDuration("DISPATCH_DRAIN_INTERVAL", 5*time.Second),
		},
		Confirmation: ConfirmationConfig{
			PreviewTTL:           getEnvAsDuration("CONFIRM_PREVIEW_TTL", 120*time.Second),
			AutoConfirmThreshold: getEnvAsFloat("CONFIRM_AUTO_THRESHOLD", 50),
			MaxAutoPositionValue: getEnvAsFloat("CONFIRM_MAX_AUTO_POSITION", 1000),
			MaxAutoSlippage:      getEnvAsFloat("CONFIRM_MAX_AUTO_SLIPPAGE", 0.5),
			FeeRate:              getEnvAsFloat("CONFIRM_FEE_RATE", 0.001),
			SweepInterval:        getEnvAsDuration("CONFIRM_SWEEP_INTERVAL", time.Minute),
		},
		Execution: ExecutionConfig{
			PollInterval: getEnvAsDuration("EXEC_POLL_INTERVAL", 2500*time.Millisecond),
			MaxAttempts:  getEnvAsInt("EXEC_MAX_ATTEMPTS", 120),
		},
		Positions: PositionsConfig{
			CheckInterval:        getEnvAsDuration("POSITIONS_CHECK_INTERVAL", 10*time.Second),
			MaterialityThreshold: getEnvAsFloat("POSITIONS_MATERIALITY", 0.5),
			QuoteTTL:             getEnvAsDuration("POSITIONS_QUOTE_TTL", 5*time.Second),
		},
		Performance: PerformanceConfig{
			Lookback:       getEnvAsDuration("PERF_LOOKBACK", 720*time.Hour),
			PeriodsPerYear: getEnvAsInt("PERF_PERIODS_PER_YEAR", 252),
			RiskFreeRate:   getEnvAsFloat("PERF_RISK_FREE_RATE", 0),
		},
		Backup: BackupConfig{
			Bucket:    getEnv("BACKUP_BUCKET", ""),
			Endpoint:  getEnv("BACKUP_ENDPOINT", ""),
			Region:    getEnv("BACKUP_REGION", "auto"),
			AccessKey: getEnv("BACKUP_ACCESS_KEY", ""),
			SecretKey: getEnv("BACKUP_SECRET_KEY", ""),
			Retention: getEnvAsInt("BACKUP_RETENTION", 14),
		},

		ExitRulesPath: getEnv("EXIT_RULES_PATH", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present and sane
func (c *Config) Validate() error {
	if c.Dispatch.MinConfidence < 0 || c.Dispatch.MinConfidence > 1 {
		return fmt.Errorf("DISPATCH_MIN_CONFIDENCE must be within [0,1], got %.2f", c.Dispatch.MinConfidence)
	}
	if c.Dispatch.PriorityCutoff < 0 || c.Dispatch.PriorityCutoff > 100 {
		return fmt.Errorf("DISPATCH_PRIORITY_CUTOFF must be within [0,100], got %d", c.Dispatch.PriorityCutoff)
	}
	if c.Dispatch.BatchSize < 1 {
		return fmt.Errorf("DISPATCH_BATCH_SIZE must be at least 1, got %d", c.Dispatch.BatchSize)
	}
	if c.Execution.MaxAttempts < 1 {
		return fmt.Errorf("EXEC_MAX_ATTEMPTS must be at least 1, got %d", c.Execution.MaxAttempts)
	}
	if c.Positions.MaterialityThreshold < 0 {
		return fmt.Errorf("POSITIONS_MATERIALITY must not be negative, got %.2f", c.Positions.MaterialityThreshold)
	}
	if c.Performance.PeriodsPerYear < 1 {
		return fmt.Errorf("PERF_PERIODS_PER_YEAR must be at least 1, got %d", c.Performance.PeriodsPerYear)
	}

	// Venue credentials are optional: the paper venue needs none
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
