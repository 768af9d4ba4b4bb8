package main

import (
	"fmt"
	"time"

	"github.com/fgeck/dynabackup/internal/services/runner"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration, connectivity and the monaco binary",
	Long: `Validate the configuration, check the URL and API token against the environment
and make sure monaco is available, without exporting anything.`,
	Args: cobra.NoArgs,
	RunE: validateConfig,
}

func validateConfig(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fail(err, "configuration validation failed")
	}

	ctx, cancel := signalContext()
	defer cancel()

	res, err := runner.New(log.Logger, *cfg, runner.Hooks{}).Check(ctx)
	defer cfg.Environment.Token.Wipe()
	if err != nil {
		return fail(err, "validation failed")
	}

	// Print configuration summary
	fmt.Println("Configuration is valid!")
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Printf("  URL: %s\n", cfg.Environment.URL)
	fmt.Printf("  Token: %s\n", cfg.Environment.MaskedToken())
	fmt.Printf("  Probe: HTTP %d in %s\n", res.Probe.StatusCode, res.Probe.Duration.Round(time.Millisecond))
	fmt.Println()
	fmt.Println("Monaco:")
	fmt.Printf("  Path: %s\n", res.Tool.Path)
	fmt.Printf("  Downloaded now: %v\n", res.Tool.Downloaded)
	if res.Tool.Checksum != "" {
		fmt.Printf("  SHA-256: %s\n", res.Tool.Checksum)
	}
	fmt.Println()
	fmt.Println("Backup:")
	fmt.Printf("  Output directory: %s\n", cfg.Backup.OutputDir)
	fmt.Printf("  Sample interval: %s\n", cfg.Backup.SampleInterval)
	if cfg.Backup.Timeout > 0 {
		fmt.Printf("  Timeout: %s\n", cfg.Backup.Timeout)
	} else {
		fmt.Println("  Timeout: none")
	}
	fmt.Println()
	fmt.Println("Optional Features:")
	fmt.Printf("  Metrics: %v\n", cfg.Metrics != nil)
	fmt.Printf("  Offsite copy: %v\n", cfg.Offsite != nil)
	fmt.Printf("  Telegram: %v\n", cfg.Telegram != nil)

	if cfg.Offsite != nil {
		fmt.Println()
		fmt.Println("Offsite Configuration:")
		fmt.Printf("  Bucket: %s\n", cfg.Offsite.Bucket)
		fmt.Printf("  Region: %s\n", cfg.Offsite.Region)
		if cfg.Offsite.Endpoint != "" {
			fmt.Printf("  Endpoint: %s\n", cfg.Offsite.Endpoint)
		}
	}

	if cfg.Telegram != nil {
		fmt.Println()
		fmt.Println("Telegram Configuration:")
		fmt.Printf("  Chat ID: %s\n", cfg.Telegram.ChatID)
		fmt.Printf("  Bot Token: (configured)\n")
	}

	return nil
}
