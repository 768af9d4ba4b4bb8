// Package config provides settings file parsing and environment resolution.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fgeck/dynabackup/internal/models"
	"github.com/spf13/viper"
)

// Defaults applied when a key is absent.
const (
	DefaultProbeTimeout   = 10 * time.Second
	DefaultProbeEndpoint  = "/api/v1/config/clusterversion"
	DefaultToolVersion    = "v2.15.2"
	DefaultToolBaseURL    = "https://github.com/dynatrace/dynatrace-configuration-as-code/releases"
	DefaultToolRetries    = 3
	DefaultToolRetryDelay = 2 * time.Second
	DefaultOutputDir      = "./backups"
	DefaultSampleInterval = 5 * time.Second
	DefaultErrorSamples   = 10
)

// Environment variables consulted for the target environment.
const (
	EnvURL         = "DT_CLUSTER_URL"
	EnvToken       = "DT_API_TOKEN"
	EnvTokenLegacy = "DYNATRACE_API_TOKEN"
)

// Parser handles configuration file parsing.
type Parser struct {
	v *viper.Viper
}

// NewParser creates a new configuration parser.
func NewParser() *Parser {
	v := viper.New()
	v.SetConfigType("yaml")
	_ = v.BindEnv("environment.url", EnvURL)
	_ = v.BindEnv("environment.token", EnvToken, EnvTokenLegacy)
	return &Parser{v: v}
}

// LoadFile loads configuration from a file path.
func (p *Parser) LoadFile(path string) (*models.AppConfig, error) {
	p.v.SetConfigFile(path)

	if err := p.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return p.parse()
}

// LoadReader loads configuration from a reader (useful for testing).
func (p *Parser) LoadReader(content string) (*models.AppConfig, error) {
	if err := p.v.ReadConfig(strings.NewReader(content)); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	return p.parse()
}

// LoadDefaults builds a configuration from defaults and environment variables only.
func (p *Parser) LoadDefaults() (*models.AppConfig, error) {
	return p.parse()
}

//nolint:gocognit,gocyclo // parsing config requires checking many fields
func (p *Parser) parse() (*models.AppConfig, error) {
	cfg := &models.AppConfig{}

	cfg.Environment = models.EnvironmentConfig{
		URL:   strings.TrimRight(p.expandEnv(p.v.GetString("environment.url")), "/"),
		Name:  p.v.GetString("environment.name"),
		Token: models.NewSecret(p.expandEnv(p.v.GetString("environment.token"))),
	}
	if cfg.Environment.Name == "" {
		cfg.Environment.Name = models.DefaultEnvironmentName
	}

	cfg.Probe = models.ProbeSettings{
		Timeout:  p.v.GetDuration("probe.timeout"),
		Endpoint: p.v.GetString("probe.endpoint"),
	}
	if cfg.Probe.Timeout == 0 {
		cfg.Probe.Timeout = DefaultProbeTimeout
	}
	if cfg.Probe.Endpoint == "" {
		cfg.Probe.Endpoint = DefaultProbeEndpoint
	}
	if !strings.HasPrefix(cfg.Probe.Endpoint, "/") {
		cfg.Probe.Endpoint = "/" + cfg.Probe.Endpoint
	}

	cfg.Tool = models.ToolConfig{
		Path:       p.expandEnv(p.v.GetString("tool.path")),
		Version:    p.v.GetString("tool.version"),
		CacheDir:   p.expandEnv(p.v.GetString("tool.cache_dir")),
		BaseURL:    strings.TrimRight(p.v.GetString("tool.base_url"), "/"),
		SHA256:     strings.ToLower(p.v.GetString("tool.sha256")),
		Retries:    p.v.GetInt("tool.retries"),
		RetryDelay: p.v.GetDuration("tool.retry_delay"),
	}
	if cfg.Tool.Version == "" {
		cfg.Tool.Version = DefaultToolVersion
	}
	if cfg.Tool.CacheDir == "" {
		cfg.Tool.CacheDir = defaultCacheDir()
	}
	if cfg.Tool.BaseURL == "" {
		cfg.Tool.BaseURL = DefaultToolBaseURL
	}
	if cfg.Tool.Retries <= 0 {
		cfg.Tool.Retries = DefaultToolRetries
	}
	if cfg.Tool.RetryDelay == 0 {
		cfg.Tool.RetryDelay = DefaultToolRetryDelay
	}

	cfg.Backup = models.BackupSettings{
		OutputDir:         p.expandEnv(p.v.GetString("backup.output_dir")),
		SampleInterval:    p.v.GetDuration("backup.sample_interval"),
		Timeout:           p.v.GetDuration("backup.timeout"),
		MaxErrorSamples:   p.v.GetInt("backup.max_error_samples"),
		WarningsAsPartial: true,
	}
	if cfg.Backup.OutputDir == "" {
		cfg.Backup.OutputDir = DefaultOutputDir
	}
	if cfg.Backup.SampleInterval <= 0 {
		cfg.Backup.SampleInterval = DefaultSampleInterval
	}
	if cfg.Backup.Timeout < 0 {
		return nil, fmt.Errorf("backup.timeout must not be negative")
	}
	if cfg.Backup.MaxErrorSamples <= 0 {
		cfg.Backup.MaxErrorSamples = DefaultErrorSamples
	}
	if p.v.IsSet("backup.warnings_as_partial") {
		cfg.Backup.WarningsAsPartial = p.v.GetBool("backup.warnings_as_partial")
	}

	// Parse optional metrics config.
	if p.v.IsSet("metrics") {
		cfg.Metrics = &models.MetricsConfig{
			TextfileDir: p.expandEnv(p.v.GetString("metrics.textfile_dir")),
		}
		if cfg.Metrics.TextfileDir == "" {
			return nil, fmt.Errorf("metrics.textfile_dir is required when metrics is configured")
		}
	}

	// Parse optional Telegram config.
	if p.v.IsSet("telegram") {
		cfg.Telegram = &models.TelegramConfig{
			BotToken: p.expandEnv(p.v.GetString("telegram.bot_token")),
			ChatID:   p.expandEnv(p.v.GetString("telegram.chat_id")),
		}

		if cfg.Telegram.BotToken == "" {
			return nil, fmt.Errorf("telegram.bot_token is required when telegram is configured")
		}
		if cfg.Telegram.ChatID == "" {
			return nil, fmt.Errorf("telegram.chat_id is required when telegram is configured")
		}
	}

	// Parse optional offsite config.
	if p.v.IsSet("offsite") { //nolint:nestif // config parsing with defaults
		cfg.Offsite = &models.OffsiteConfig{
			Bucket:          p.expandEnv(p.v.GetString("offsite.bucket")),
			Region:          p.expandEnv(p.v.GetString("offsite.region")),
			Endpoint:        p.expandEnv(p.v.GetString("offsite.endpoint")),
			Prefix:          strings.Trim(p.v.GetString("offsite.prefix"), "/"),
			AccessKeyID:     p.expandEnv(p.v.GetString("offsite.access_key_id")),
			SecretAccessKey: p.expandEnv(p.v.GetString("offsite.secret_access_key")),
		}

		if cfg.Offsite.Bucket == "" {
			return nil, fmt.Errorf("offsite.bucket is required when offsite is configured")
		}
		if cfg.Offsite.Region == "" {
			cfg.Offsite.Region = "us-east-1"
		}
		if (cfg.Offsite.AccessKeyID == "") != (cfg.Offsite.SecretAccessKey == "") {
			return nil, fmt.Errorf("offsite.access_key_id and offsite.secret_access_key must be set together")
		}
	}

	return cfg, nil
}

// expandEnv expands environment variables in the format ${VAR} or $VAR.
func (p *Parser) expandEnv(s string) string {
	return os.ExpandEnv(s)
}

func defaultCacheDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "dynabackup")
	}
	return filepath.Join(dir, "dynabackup")
}
