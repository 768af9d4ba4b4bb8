package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/fgeck/dynabackup/internal/services/report"
	"github.com/fgeck/dynabackup/internal/services/runner"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Export the environment configuration",
	Long: `Export the complete environment configuration:
1. Check URL and API token against the environment
2. Download monaco for this platform (if not cached)
3. Run monaco download into <output_dir>/backup_YYYYMMDD_HHMMSS
4. Write report.json and print a summary
5. Write metrics (if configured)
6. Upload a tar.gz copy to S3 (if configured)
7. Send Telegram notification (if configured)

Exit status is 0 on success, 2 when monaco reported errors or warnings, 1 on failure.`,
	Args: cobra.NoArgs,
	RunE: runBackup,
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			log.Warn().Str("signal", sig.String()).Msg("received signal, shutting down")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()

	return ctx, cancel
}

func runBackup(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fail(err, "invalid configuration")
	}

	ctx, cancel := signalContext()
	defer cancel()

	printer := newProgressPrinter()
	runnerSvc := runner.New(log.Logger, *cfg, runner.Hooks{OnProgress: printer.Sample})

	rep, runErr := runnerSvc.Backup(ctx)
	printer.Done()

	if err := report.Render(os.Stdout, rep); err != nil {
		log.Error().Err(err).Msg("failed to print report")
	}

	if runErr != nil {
		return fail(runErr, "backup failed")
	}
	return exitFor(rep.Status)
}
