package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	// Telegram transport
	TelegramBotToken string
	TelegramChatID   string

	// Binance API
	BinanceFAPIBase string

	// Database configuration
	DBPath string

	// Redis configuration (optional live-value mirror)
	RedisHost     string
	RedisPort     string
	RedisPassword string

	Collect  CollectConfig
	Anomaly  AnomalyConfig
	Flush    FlushConfig
	Notify   NotifyConfig
	Severity SeverityConfig
	Stats    StatsConfig
	Archive  ArchiveConfig
}

// CollectConfig holds collection cycle parameters
type CollectConfig struct {
	Interval               time.Duration // period between cycles
	RequestDelay           time.Duration // pacing between per-symbol task dispatches
	MaxConcurrent          int           // shared cap on in-flight exchange calls
	WatchdogTimeout        time.Duration // whole-cycle deadline
	HotVolumeThreshold     float64       // 24h quote volume floor for the hot tier
	SymbolsRefreshInterval time.Duration
}

// AnomalyConfig holds static detection thresholds (used when per-symbol stats are missing)
type AnomalyConfig struct {
	MinHistoryForAnomaly  int
	FundingSpikeThreshold float64
	OISurgeThreshold      float64
	LSExtremeThreshold    float64
	TakerExtremeThreshold float64
}

// FlushConfig holds OI buildup/flush pattern parameters
type FlushConfig struct {
	BuildupThreshold float64 // min pct growth counted as buildup
	BuildupMinPoints int
	DropPct          float64 // min pct drop from series peak
	CurrentMax       float64 // current pct must be below this
	Lookback         int     // window size in points
	Cooldown         time.Duration
}

// NotifyConfig holds alert gating and queue parameters
type NotifyConfig struct {
	AlertCooldown      time.Duration
	MinAlertSeverity   string
	NotifierDelay      time.Duration
	NotifierMaxQueue   int
	MassAlertThreshold int
	MassAlertWindow    time.Duration
}

// SeverityConfig maps average OI in USD to alert severity
type SeverityConfig struct {
	CriticalOI float64
	MediumOI   float64
	TopN       int
}

// StatsConfig holds the daily stats worker and summary parameters
type StatsConfig struct {
	WorkerHourUTC int
	MinPoints     int
	LookbackDays  int
	// Daily summary
	SummaryHourUTC int
}

// ArchiveConfig holds the monthly archival parameters
type ArchiveConfig struct {
	AfterDays int
	Dir       string
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() *Config {
	// Load .env file if exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	return &Config{
		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID:   os.Getenv("TELEGRAM_CHAT_ID"),

		BinanceFAPIBase: getEnvOrDefault("BINANCE_FAPI_BASE", "https://fapi.binance.com"),

		DBPath: getEnvOrDefault("DB_PATH", "market_data.db"),

		RedisHost:     os.Getenv("REDIS_HOST"),
		RedisPort:     getEnvOrDefault("REDIS_PORT", "6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),

		Collect: CollectConfig{
			Interval:               getEnvSeconds("COLLECT_INTERVAL", 300),
			RequestDelay:           getEnvDuration("REQUEST_DELAY", 50*time.Millisecond),
			MaxConcurrent:          getEnvInt("MAX_CONCURRENT", 10),
			WatchdogTimeout:        getEnvSeconds("WATCHDOG_TIMEOUT", 240),
			HotVolumeThreshold:     getEnvFloat("HOT_VOLUME_THRESHOLD", 1_000_000),
			SymbolsRefreshInterval: getEnvSeconds("SYMBOLS_REFRESH_INTERVAL", 4*3600),
		},

		Anomaly: AnomalyConfig{
			MinHistoryForAnomaly:  getEnvInt("MIN_HISTORY_FOR_ANOMALY", 12),
			FundingSpikeThreshold: getEnvFloat("FUNDING_SPIKE_THRESHOLD", 0.001),
			OISurgeThreshold:      getEnvFloat("OI_SURGE_THRESHOLD", 0.10),
			LSExtremeThreshold:    getEnvFloat("LS_EXTREME_THRESHOLD", 3.0),
			TakerExtremeThreshold: getEnvFloat("TAKER_EXTREME_THRESHOLD", 2.0),
		},

		Flush: FlushConfig{
			BuildupThreshold: getEnvFloat("OI_BUILDUP_THRESHOLD", 3.0),
			BuildupMinPoints: getEnvInt("OI_BUILDUP_MIN_POINTS", 12),
			DropPct:          getEnvFloat("OI_FLUSH_DROP_PCT", 2.0),
			CurrentMax:       getEnvFloat("OI_FLUSH_CURRENT_MAX", 2.0),
			Lookback:         getEnvInt("OI_FLUSH_LOOKBACK", 24),
			Cooldown:         getEnvSeconds("OI_FLUSH_COOLDOWN", 1800),
		},

		Notify: NotifyConfig{
			AlertCooldown:      getEnvSeconds("ALERT_COOLDOWN", 3600),
			MinAlertSeverity:   getEnvOrDefault("MIN_ALERT_SEVERITY", "high"),
			NotifierDelay:      getEnvDuration("NOTIFIER_DELAY", 500*time.Millisecond),
			NotifierMaxQueue:   getEnvInt("NOTIFIER_MAX_QUEUE", 100),
			MassAlertThreshold: getEnvInt("MASS_ALERT_THRESHOLD", 5),
			MassAlertWindow:    getEnvSeconds("MASS_ALERT_WINDOW", 60),
		},

		Severity: SeverityConfig{
			CriticalOI: getEnvFloat("SEVERITY_CRITICAL_OI", 10_000_000_000), // $10B
			MediumOI:   getEnvFloat("SEVERITY_MEDIUM_OI", 100_000_000),     // $100M
			TopN:       getEnvInt("SEVERITY_TOP_N", 20),
		},

		Stats: StatsConfig{
			WorkerHourUTC:  getEnvInt("STATS_WORKER_HOUR_UTC", 4),
			MinPoints:      getEnvInt("STATS_MIN_POINTS", 100),
			LookbackDays:   getEnvInt("STATS_LOOKBACK_DAYS", 7),
			SummaryHourUTC: getEnvInt("DAILY_SUMMARY_HOUR_UTC", 9),
		},

		Archive: ArchiveConfig{
			AfterDays: getEnvInt("ARCHIVE_AFTER_DAYS", 30),
			Dir:       getEnvOrDefault("ARCHIVE_DIR", "archives"),
		},
	}
}

// getEnvInt gets environment variable as int or returns default value
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var intValue int
	if _, err := fmt.Sscanf(value, "%d", &intValue); err != nil {
		return defaultValue
	}
	return intValue
}

// getEnvFloat gets environment variable as float64 or returns default value
func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var floatValue float64
	if _, err := fmt.Sscanf(value, "%f", &floatValue); err != nil {
		return defaultValue
	}
	return floatValue
}

// getEnvSeconds reads a whole-seconds environment variable as a duration
func getEnvSeconds(key string, defaultSeconds int) time.Duration {
	return time.Duration(getEnvInt(key, defaultSeconds)) * time.Second
}

// getEnvDuration reads a fractional-seconds environment variable as a duration.
// REQUEST_DELAY and NOTIFIER_DELAY are sub-second values (e.g. "0.05").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var sec float64
	if _, err := fmt.Sscanf(value, "%f", &sec); err != nil || sec < 0 {
		return defaultValue
	}
	return time.Duration(sec * float64(time.Second))
}

// getEnvOrDefault gets environment variable or returns default value
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
