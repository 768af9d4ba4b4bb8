package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fgeck/dynabackup/internal/services/report"
	"github.com/fgeck/dynabackup/internal/services/runner"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var restoreCmd = &cobra.Command{
	Use:   "restore [backup-dir]",
	Short: "Deploy a previous backup to the environment",
	Long: `Deploy the configuration stored in a backup directory with monaco deploy.
Without an argument the newest backup_* directory below backup.output_dir is used.

The target environment is taken from the same settings as for backup, so it can
differ from the one the backup was taken from.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRestore,
}

func runRestore(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fail(err, "invalid configuration")
	}

	var backupDir string
	if len(args) == 1 {
		backupDir = args[0]
	} else {
		backupDir, err = latestBackup(cfg.Backup.OutputDir)
		if err != nil {
			return fail(err, "no backup to restore")
		}
	}

	log.Info().Str("source", backupDir).Msg("restoring backup")

	ctx, cancel := signalContext()
	defer cancel()

	rep, runErr := runner.New(log.Logger, *cfg, runner.Hooks{}).Restore(ctx, backupDir)

	if err := report.Render(os.Stdout, rep); err != nil {
		log.Error().Err(err).Msg("failed to print report")
	}

	if runErr != nil {
		return fail(runErr, "restore failed")
	}
	return exitFor(rep.Status)
}

// latestBackup returns the newest run directory below dir. Run directory names sort by time.
func latestBackup(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", dir, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), runner.RunDirPrefix) {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return "", fmt.Errorf("no %s* directory found in %s", runner.RunDirPrefix, dir)
	}

	sort.Strings(names)
	return filepath.Join(dir, names[len(names)-1]), nil
}
