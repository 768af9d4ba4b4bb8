package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/fgeck/dynabackup/internal/config"
	"github.com/fgeck/dynabackup/internal/models"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// Process exit codes.
const (
	exitFailed  = 1
	exitPartial = 2
)

var (
	// Version is set at build time.
	Version = "dev"

	// Configuration flags.
	configFile string
	verbose    bool
	quiet      bool
	jsonOutput bool
	urlFlag    string
	envName    string
)

var rootCmd = &cobra.Command{
	Use:   "dynabackup",
	Short: "Backup and restore Dynatrace configuration with monaco",
	Long: `dynabackup exports the configuration of a Dynatrace environment by driving
the monaco CLI:
  - checks the URL and API token against the environment
  - downloads and caches the monaco binary for this platform
  - runs monaco download into a timestamped directory and reports progress
  - classifies monaco output and writes a report
  - optionally writes node_exporter metrics, uploads to S3 and notifies Telegram

The API token is read from DT_API_TOKEN, a .env file or dynatrace.config.
Use as a one-shot command with an external scheduler (cron, systemd timer, etc.)`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging()
	},
	SilenceUsage:  true,
	SilenceErrors: true,
	Version:       Version,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (optional, environment variables are used otherwise)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose (debug) output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "enable quiet mode (errors only)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output logs in JSON format")
	rootCmd.PersistentFlags().StringVar(&urlFlag, "url", "", "environment URL, overrides DT_CLUSTER_URL and the config file")
	rootCmd.PersistentFlags().StringVar(&envName, "environment-name", "", "environment name used in the generated monaco manifest")

	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(validateCmd)
}

func setupLogging() {
	// Set output format
	if jsonOutput {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		output := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
		output.FormatLevel = func(i interface{}) string {
			if s, ok := i.(string); ok {
				return strings.ToUpper(s)
			}
			return ""
		}
		log.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	// Set log level
	switch {
	case quiet:
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case verbose:
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// loadConfig reads the config file (if any) and resolves the environment credentials.
func loadConfig() (*models.AppConfig, error) {
	parser := config.NewParser()

	var (
		cfg *models.AppConfig
		err error
	)
	if configFile != "" {
		cfg, err = parser.LoadFile(configFile)
	} else {
		cfg, err = parser.LoadDefaults()
	}
	if err != nil {
		log.Error().Err(err).Str("file", configFile).Msg("failed to load config")
		return nil, err
	}

	if envName != "" {
		cfg.Environment.Name = envName
	}

	workDir, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("determining working directory: %w", err)
	}

	if err := resolveEnvironment(cfg, workDir, config.Overrides{URL: urlFlag}); err != nil {
		return nil, err
	}

	log.Info().
		Str("config", configFile).
		Str("environment", cfg.Environment.URL).
		Str("token", cfg.Environment.MaskedToken()).
		Msg("configuration loaded")

	return cfg, nil
}

// resolveEnvironment replaces cfg.Environment with the resolved settings. The credential
// read by the parser is wiped either way; only the resolved copy survives.
func resolveEnvironment(cfg *models.AppConfig, workDir string, ov config.Overrides) error {
	parsed := cfg.Environment.Token
	defer parsed.Wipe()

	env, err := config.NewResolver(cfg.Environment, workDir).Resolve(ov)
	if err != nil {
		return err
	}
	cfg.Environment = *env
	return nil
}

// fail logs a fatal error together with its corrective action.
func fail(err error, msg string) error {
	event := log.Error().Err(err)
	if kind := models.FailureKind(err); kind != "Error" {
		event = event.Str("kind", kind)
	}
	event.Msg(msg)

	if hint := models.Hint(err); hint != "" {
		fmt.Fprintf(os.Stderr, "Hint: %s\n", hint)
	}
	return &exitCodeError{code: exitFailed, err: err}
}

// exitCodeError carries the process exit status out of a command.
type exitCodeError struct {
	code int
	err  error
}

func (e *exitCodeError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitCodeError) Unwrap() error { return e.err }

// exitFor maps a run status to the process exit status.
func exitFor(status models.RunStatus) error {
	switch status {
	case models.StatusSuccess:
		return nil
	case models.StatusPartial:
		return &exitCodeError{code: exitPartial}
	default:
		return &exitCodeError{code: exitFailed}
	}
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
