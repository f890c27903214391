package config

import (
	"github.com/spf13/viper"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.path", "xordon.db")

	// Server defaults
	v.SetDefault("server.port", DefaultServerPort)
	v.SetDefault("server.tick_secret", "")
	v.SetDefault("server.allowed_origins", []string{
		"http://localhost",
		"http://127.0.0.1",
	})

	// Engine defaults
	v.SetDefault("engine.tick_interval_seconds", 60)
	v.SetDefault("engine.schedule_sweep_limit", 10)
	v.SetDefault("engine.execution_batch_limit", 10)
	v.SetDefault("engine.stale_threshold_minutes", 10)

	// Push notification handler defaults
	v.SetDefault("engine.push.batch_size", 50)
	v.SetDefault("engine.push.max_attempts", 3)
	v.SetDefault("engine.push.retry_delay_minutes", 5) // Constant delay between retries
	v.SetDefault("engine.push.rate_per_second", 20.0)

	// Report generation handler defaults
	v.SetDefault("engine.report.row_limit", 10000)
	v.SetDefault("engine.report.expiry_days", 7)
	v.SetDefault("engine.report.export_dir", "exports")
}

// BindSensitiveEnvVars explicitly binds sensitive configuration to environment variables
func BindSensitiveEnvVars(v *viper.Viper) {
	v.BindEnv("server.tick_secret", "XORDON_TICK_SECRET")
}
