package monaco

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/fgeck/dynabackup/internal/models"
	"github.com/fgeck/dynabackup/internal/services/classifier"
	"github.com/fgeck/dynabackup/internal/services/progress"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Service defines the interface for monaco operations.
type Service interface {
	Download(ctx context.Context, req Request) (*models.ExitStatus, error)
	Deploy(ctx context.Context, req Request) (*models.ExitStatus, error)
}

// Request carries everything one invocation needs. Classifier is required; Monitor is optional.
type Request struct {
	Env      models.EnvironmentConfig
	ToolPath string
	// Dir is the export target for Download and the project directory for Deploy.
	Dir     string
	Timeout time.Duration

	Classifier *classifier.Classifier
	OnLine     classifier.LineHandler
	Monitor    *progress.Monitor
	OnProgress progress.Emitter
}

// Impl implements the Service interface.
type Impl struct {
	executor CommandExecutor
	environ  func() []string
	logger   zerolog.Logger
}

// New creates a new monaco service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		executor: &DefaultExecutor{},
		environ:  os.Environ,
		logger:   logger,
	}
}

// NewWithExecutor creates a new monaco service with a custom executor (for testing).
func NewWithExecutor(logger zerolog.Logger, executor CommandExecutor, environ func() []string) *Impl {
	if environ == nil {
		environ = os.Environ
	}
	return &Impl{
		executor: executor,
		environ:  environ,
		logger:   logger,
	}
}

// Download exports the environment's configuration into req.Dir.
func (s *Impl) Download(ctx context.Context, req Request) (*models.ExitStatus, error) {
	outDir, err := filepath.Abs(req.Dir)
	if err != nil {
		return &models.ExitStatus{}, fmt.Errorf("resolving output directory: %w", err)
	}

	scratch, err := os.MkdirTemp("", "dynabackup-")
	if err != nil {
		return &models.ExitStatus{}, fmt.Errorf("creating scratch directory: %w", err)
	}
	defer func() { _ = os.RemoveAll(scratch) }()

	manifestPath, err := writeManifest(scratch, req.Env, "")
	if err != nil {
		return &models.ExitStatus{}, err
	}

	args := []string{
		"download",
		"--manifest", manifestPath,
		"--environment", req.Env.Name,
		"--project", ProjectName,
		"--output-folder", outDir,
	}
	return s.run(ctx, req, scratch, args, outDir)
}

// Deploy pushes the project stored in req.Dir back to the environment.
func (s *Impl) Deploy(ctx context.Context, req Request) (*models.ExitStatus, error) {
	projectDir, err := filepath.Abs(req.Dir)
	if err != nil {
		return &models.ExitStatus{}, fmt.Errorf("resolving project directory: %w", err)
	}
	if info, err := os.Stat(projectDir); err != nil || !info.IsDir() {
		return &models.ExitStatus{}, fmt.Errorf("project directory %s not found", projectDir)
	}

	scratch, err := os.MkdirTemp("", "dynabackup-")
	if err != nil {
		return &models.ExitStatus{}, fmt.Errorf("creating scratch directory: %w", err)
	}
	defer func() { _ = os.RemoveAll(scratch) }()

	manifestPath, err := writeManifest(scratch, req.Env, projectDir)
	if err != nil {
		return &models.ExitStatus{}, err
	}

	args := []string{"deploy", manifestPath, "--environment", req.Env.Name}
	return s.run(ctx, req, scratch, args, "")
}

// run starts the tool and supervises it until it exits, the timeout elapses or ctx is cancelled.
// Output classification and progress sampling run alongside and are drained before returning.
func (s *Impl) run(ctx context.Context, req Request, workDir string, args []string, watchDir string) (*models.ExitStatus, error) {
	if req.Classifier == nil {
		return &models.ExitStatus{}, errors.New("classifier is required")
	}

	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if req.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, req.Timeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	spec := CommandSpec{
		Path: req.ToolPath,
		Args: args,
		Dir:  workDir,
		Env:  s.childEnv(req.Env),
	}

	s.logger.Info().
		Str("tool", req.ToolPath).
		Str("verb", args[0]).
		Str("environment", req.Env.Name).
		Msg("Starting monaco")

	start := time.Now()
	proc, err := s.executor.Start(runCtx, spec)
	if err != nil {
		return &models.ExitStatus{Duration: time.Since(start)}, &models.ExecutionError{Path: req.ToolPath, Err: err}
	}

	s.logger.Debug().Int("pid", proc.Pid()).Msg("Monaco started")

	g, gctx := errgroup.WithContext(runCtx)
	monitorCtx, stopMonitor := context.WithCancel(gctx)
	defer stopMonitor()

	g.Go(func() error {
		out := proc.Output()
		defer func() { _ = out.Close() }()
		return req.Classifier.Consume(out, req.OnLine)
	})
	if req.Monitor != nil && watchDir != "" {
		g.Go(func() error {
			req.Monitor.Run(monitorCtx, watchDir, req.OnProgress)
			return nil
		})
	}

	code, waitErr := proc.Wait()
	stopMonitor()
	streamErr := g.Wait()

	if errors.Is(waitErr, exec.ErrWaitDelay) {
		s.logger.Warn().
			Int("exit_code", code).
			Msg("Monaco exited but a leftover process kept its output open")
		waitErr = nil
	}

	status := &models.ExitStatus{
		Started:  true,
		ExitCode: code,
		Duration: time.Since(start),
	}

	switch {
	case ctx.Err() != nil:
		return status, &models.RunError{Kind: models.Canceled, Err: ctx.Err()}
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		return status, &models.RunError{
			Kind: models.Timeout,
			Err:  fmt.Errorf("monaco did not finish within %s", req.Timeout),
		}
	case waitErr != nil:
		return status, &models.ExecutionError{Path: req.ToolPath, Err: waitErr}
	}

	if streamErr != nil {
		s.logger.Warn().Err(streamErr).Msg("Reading monaco output failed")
	}

	s.logger.Info().
		Int("exit_code", code).
		Dur("duration", status.Duration).
		Msg("Monaco finished")

	return status, nil
}

// childEnv returns the inherited environment minus any stale credential, plus the run's token.
func (s *Impl) childEnv(env models.EnvironmentConfig) []string {
	inherited := s.environ()
	out := make([]string, 0, len(inherited)+1)
	for _, kv := range inherited {
		name, _, _ := strings.Cut(kv, "=")
		if name == TokenEnvVar || name == "DYNATRACE_API_TOKEN" {
			continue
		}
		out = append(out, kv)
	}
	if env.Token != nil {
		out = append(out, TokenEnvVar+"="+env.Token.Reveal())
	}
	return out
}
