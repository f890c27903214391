// Package config holds the core Xordon engine configuration.
package config

// Config represents the core engine configuration
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Server   ServerConfig   `mapstructure:"server"`
	Engine   EngineConfig   `mapstructure:"engine"`
}

// DatabaseConfig configures the SQLite database
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// ServerConfig configures the HTTP API server
type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	TickSecret     string   `mapstructure:"tick_secret"` // Shared secret for the cron tick endpoint; empty disables the check
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Default server port (above the privileged range, easy to remember)
const DefaultServerPort = 8780

// EngineConfig configures the dispatcher, scheduler and built-in handlers
type EngineConfig struct {
	// Dispatcher tick configuration
	TickIntervalSeconds   int `mapstructure:"tick_interval_seconds"`   // How often the in-process ticker runs a dispatch cycle (default: 60)
	ScheduleSweepLimit    int `mapstructure:"schedule_sweep_limit"`    // Max scheduled jobs materialized per tick (default: 10)
	ExecutionBatchLimit   int `mapstructure:"execution_batch_limit"`   // Max queue jobs executed per tick (default: 10)
	StaleThresholdMinutes int `mapstructure:"stale_threshold_minutes"` // Processing jobs older than this are released back to pending (default: 10)

	Push   PushConfig   `mapstructure:"push"`
	Report ReportConfig `mapstructure:"report"`
}

// PushConfig configures the push notification handler
type PushConfig struct {
	BatchSize         int     `mapstructure:"batch_size"`          // Notifications delivered per job execution (default: 50)
	MaxAttempts       int     `mapstructure:"max_attempts"`        // Delivery attempts before permanent failure (default: 3)
	RetryDelayMinutes int     `mapstructure:"retry_delay_minutes"` // Constant delay between attempts (default: 5)
	RatePerSecond     float64 `mapstructure:"rate_per_second"`     // Gateway send rate limit (default: 20)
}

// ReportConfig configures the report generation handler
type ReportConfig struct {
	RowLimit   int    `mapstructure:"row_limit"`   // Max rows fetched per report (default: 10000)
	ExpiryDays int    `mapstructure:"expiry_days"` // Days before a generated export expires (default: 7)
	ExportDir  string `mapstructure:"export_dir"`  // Directory for generated report files
}
