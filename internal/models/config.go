// Package models contains the data structures used throughout dynabackup.
package models

import "time"

// AppConfig holds the complete configuration for a backup or restore run.
type AppConfig struct {
	Environment EnvironmentConfig
	Probe       ProbeSettings
	Tool        ToolConfig
	Backup      BackupSettings
	Metrics     *MetricsConfig  // nil if not configured
	Telegram    *TelegramConfig // nil if not configured
	Offsite     *OffsiteConfig  // nil if not configured
}

// ProbeSettings controls the connectivity probe.
type ProbeSettings struct {
	Timeout  time.Duration
	Endpoint string // path appended to the environment URL
}

// BackupSettings holds export-specific settings.
type BackupSettings struct {
	OutputDir         string        // parent of the timestamped run directories
	SampleInterval    time.Duration // progress sampling interval
	Timeout           time.Duration // 0 means unbounded
	MaxErrorSamples   int
	WarningsAsPartial bool
}

// MetricsConfig holds the node_exporter textfile settings.
type MetricsConfig struct {
	TextfileDir string
}
