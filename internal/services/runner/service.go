// Package runner orchestrates backup and restore runs.
package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fgeck/dynabackup/internal/metrics"
	"github.com/fgeck/dynabackup/internal/models"
	"github.com/fgeck/dynabackup/internal/services/classifier"
	"github.com/fgeck/dynabackup/internal/services/monaco"
	"github.com/fgeck/dynabackup/internal/services/offsite"
	"github.com/fgeck/dynabackup/internal/services/probe"
	"github.com/fgeck/dynabackup/internal/services/progress"
	"github.com/fgeck/dynabackup/internal/services/report"
	"github.com/fgeck/dynabackup/internal/services/telegram"
	"github.com/fgeck/dynabackup/internal/services/tool"
	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/rs/zerolog"
)

// RunDirPrefix prefixes every run directory name.
const RunDirPrefix = "backup_"

// Service defines the interface for the backup runner.
type Service interface {
	Backup(ctx context.Context) (models.RunReport, error)
	Restore(ctx context.Context, backupDir string) (models.RunReport, error)
	Check(ctx context.Context) (*CheckResult, error)
}

// CheckResult is the outcome of a dry connectivity and provisioning check.
type CheckResult struct {
	Probe *models.ProbeResult
	Tool  *models.ToolResult
}

// Hooks let the caller observe a running export. Both are optional.
type Hooks struct {
	OnProgress progress.Emitter
	OnLine     classifier.LineHandler
}

// Services bundles the collaborators of a run.
type Services struct {
	Probe    probe.Service
	Tool     tool.Service
	Monaco   monaco.Service
	Offsite  offsite.Service
	Telegram telegram.Service
	Metrics  *metrics.Exporter
}

// Impl implements the runner Service interface.
type Impl struct {
	cfg     models.AppConfig
	svc     Services
	monitor *progress.Monitor
	builder *report.Builder
	hooks   Hooks
	clock   clock.Clock
	newID   func() string
	logger  zerolog.Logger
}

// New creates a new runner service for cfg.
func New(logger zerolog.Logger, cfg models.AppConfig, hooks Hooks) *Impl {
	return NewWithServices(logger, cfg, hooks, Services{
		Probe:    probe.New(logger, cfg.Probe),
		Tool:     tool.New(logger, cfg.Tool),
		Monaco:   monaco.New(logger),
		Offsite:  offsite.New(logger),
		Telegram: telegram.New(logger),
		Metrics:  metrics.NewExporter(),
	}, clock.WallClock, uuid.NewString)
}

// NewWithServices creates a new runner service with custom services (for testing).
func NewWithServices(
	logger zerolog.Logger,
	cfg models.AppConfig,
	hooks Hooks,
	svc Services,
	clk clock.Clock,
	newID func() string,
) *Impl {
	return &Impl{
		cfg:     cfg,
		svc:     svc,
		monitor: progress.New(logger, cfg.Backup.SampleInterval),
		builder: report.NewBuilderWithClock(cfg.Backup.MaxErrorSamples, cfg.Backup.WarningsAsPartial, clk),
		hooks:   hooks,
		clock:   clk,
		newID:   newID,
		logger:  logger,
	}
}

// Check resolves connectivity and provisions the tool without running an export.
func (s *Impl) Check(ctx context.Context) (*CheckResult, error) {
	res := &CheckResult{}

	probeResult, err := s.svc.Probe.Probe(ctx, s.cfg.Environment)
	res.Probe = probeResult
	if err != nil {
		return res, err
	}

	toolResult, err := s.svc.Tool.EnsureTool(ctx)
	res.Tool = toolResult
	if err != nil {
		return res, err
	}

	return res, nil
}

// Backup exports the environment's configuration into a new timestamped run directory.
//
//nolint:gocognit // backup workflow has multiple steps by design
func (s *Impl) Backup(ctx context.Context) (models.RunReport, error) {
	run := models.NewRun(s.newID(), models.OperationBackup, s.clock.Now())
	defer s.cfg.Environment.Token.Wipe()

	run.Start()
	s.logger.Info().
		Str("run_id", run.ID).
		Str("state", string(run.Status())).
		Str("environment", s.cfg.Environment.URL).
		Str("token", s.cfg.Environment.MaskedToken()).
		Msg("starting backup run")

	cls := classifier.New(nil)
	var exit *models.ExitStatus

	toolPath, err := s.prepare(ctx)
	if err == nil {
		runDir := filepath.Join(s.cfg.Backup.OutputDir, RunDirPrefix+run.Token())
		if err = createRunDir(runDir); err == nil {
			run.OutputDir = runDir
			exit, err = s.svc.Monaco.Download(ctx, monaco.Request{
				Env:        s.cfg.Environment,
				ToolPath:   toolPath,
				Dir:        runDir,
				Timeout:    s.cfg.Backup.Timeout,
				Classifier: cls,
				OnLine:     s.onLine,
				Monitor:    s.monitor,
				OnProgress: s.onProgress,
			})
		}
	}

	// The remaining steps run to completion even when ctx was cancelled.
	bg := context.WithoutCancel(ctx)
	rep := s.builder.Build(bg, report.Input{
		Run:            run,
		Classification: cls.Record(),
		Exit:           exit,
		Err:            err,
		ProjectDir:     filepath.Join(run.OutputDir, monaco.ProjectName),
	})

	if run.OutputDir != "" {
		if werr := report.WriteJSON(filepath.Join(run.OutputDir, report.FileName), rep); werr != nil {
			s.logger.Warn().Err(werr).Msg("failed to write run report")
		}
	}

	s.finish(bg, rep)
	return rep, err
}

// Restore deploys a previous backup directory back to the environment.
func (s *Impl) Restore(ctx context.Context, backupDir string) (models.RunReport, error) {
	run := models.NewRun(s.newID(), models.OperationRestore, s.clock.Now())
	defer s.cfg.Environment.Token.Wipe()

	run.Start()
	s.logger.Info().
		Str("run_id", run.ID).
		Str("state", string(run.Status())).
		Str("environment", s.cfg.Environment.URL).
		Str("source", backupDir).
		Msg("starting restore run")

	cls := classifier.New(nil)
	var exit *models.ExitStatus

	projectDir, err := findProject(backupDir)
	if err == nil {
		run.OutputDir = backupDir
		var toolPath string
		toolPath, err = s.prepare(ctx)
		if err == nil {
			exit, err = s.svc.Monaco.Deploy(ctx, monaco.Request{
				Env:        s.cfg.Environment,
				ToolPath:   toolPath,
				Dir:        projectDir,
				Timeout:    s.cfg.Backup.Timeout,
				Classifier: cls,
				OnLine:     s.onLine,
			})
		}
	}

	bg := context.WithoutCancel(ctx)
	rep := s.builder.Build(bg, report.Input{
		Run:            run,
		Classification: cls.Record(),
		Exit:           exit,
		Err:            err,
		ProjectDir:     projectDir,
	})

	s.finish(bg, rep)
	return rep, err
}

// prepare runs the preconditions shared by both directions and returns the tool path.
func (s *Impl) prepare(ctx context.Context) (string, error) {
	probeResult, err := s.svc.Probe.Probe(ctx, s.cfg.Environment)
	if err != nil {
		return "", err
	}
	s.logger.Info().
		Int("status", probeResult.StatusCode).
		Dur("duration", probeResult.Duration).
		Msg("environment reachable")

	toolResult, err := s.svc.Tool.EnsureTool(ctx)
	if err != nil {
		return "", err
	}
	s.logger.Info().
		Str("path", toolResult.Path).
		Bool("downloaded", toolResult.Downloaded).
		Msg("monaco ready")

	return toolResult.Path, nil
}

func (s *Impl) finish(ctx context.Context, rep models.RunReport) {
	event := s.logger.Info()
	if rep.Status == models.StatusFailed {
		event = s.logger.Error()
	} else if rep.Status == models.StatusPartial {
		event = s.logger.Warn()
	}
	event.
		Str("run_id", rep.RunID).
		Str("status", string(rep.Status)).
		Int("files", rep.TotalFiles).
		Int64("bytes", rep.TotalBytes).
		Int("warnings", rep.WarningCount).
		Int("errors", rep.ErrorCount).
		Dur("duration", rep.Duration).
		Msgf("%s run finished", rep.Operation)

	if s.cfg.Metrics != nil && s.svc.Metrics != nil {
		s.svc.Metrics.Observe(rep)
		if path, err := s.svc.Metrics.WriteTextfile(s.cfg.Metrics.TextfileDir); err != nil {
			s.logger.Error().Err(err).Msg("failed to write metrics")
		} else {
			s.logger.Debug().Str("path", path).Msg("metrics written")
		}
	}

	if s.cfg.Offsite != nil && rep.Operation == models.OperationBackup && rep.Status != models.StatusFailed {
		if _, err := s.svc.Offsite.Upload(ctx, *s.cfg.Offsite, rep.OutputPath); err != nil {
			s.logger.Error().Err(err).Msg("failed to upload offsite copy")
		}
	}

	if s.cfg.Telegram != nil {
		s.sendNotification(ctx, rep)
	}
}

func (s *Impl) sendNotification(ctx context.Context, rep models.RunReport) {
	msg := models.TelegramMessage{
		Environment: s.cfg.Environment.URL,
		Report:      rep,
	}

	result, err := s.svc.Telegram.SendNotification(ctx, *s.cfg.Telegram, msg)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to send Telegram notification")
		return
	}
	if result.Error != nil {
		s.logger.Error().Err(result.Error).Msg("failed to send Telegram notification")
		return
	}

	s.logger.Info().Msg("Telegram notification sent")
}

func (s *Impl) onLine(line models.ClassifiedLine, sev models.Severity) {
	switch sev {
	case models.SeverityError:
		s.logger.Error().Str("line", line.Text).Msg("monaco")
	case models.SeverityWarning:
		s.logger.Warn().Str("line", line.Text).Msg("monaco")
	default:
		s.logger.Debug().Str("line", line.Text).Msg("monaco")
	}
	if s.hooks.OnLine != nil {
		s.hooks.OnLine(line, sev)
	}
}

func (s *Impl) onProgress(sample models.ProgressSample) {
	s.logger.Debug().
		Int("files", sample.Files).
		Float64("rate", sample.Rate).
		Dur("elapsed", sample.Elapsed).
		Msg("export progress")
	if s.hooks.OnProgress != nil {
		s.hooks.OnProgress(sample)
	}
}

// createRunDir creates dir, failing if it already exists.
func createRunDir(dir string) error {
	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	if err := os.Mkdir(dir, 0o755); err != nil {
		return fmt.Errorf("creating run directory: %w", err)
	}
	return nil
}

// findProject returns the monaco project folder of a backup directory.
func findProject(backupDir string) (string, error) {
	info, err := os.Stat(backupDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("backup directory %s does not exist", backupDir)
		}
		return "", err
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s is not a directory", backupDir)
	}

	project := filepath.Join(backupDir, monaco.ProjectName)
	if info, err := os.Stat(project); err == nil && info.IsDir() {
		return project, nil
	}
	return backupDir, nil
}
