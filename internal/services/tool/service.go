// Package tool provisions the monaco binary for the host platform.
package tool

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/fgeck/dynabackup/internal/httpclient"
	"github.com/fgeck/dynabackup/internal/models"
	"github.com/juju/clock"
	"github.com/juju/retry"
	"github.com/rs/zerolog"
)

// LatestVersion follows the newest release. Its cache entry is never refreshed.
const LatestVersion = "latest"

// Service defines the interface for tool provisioning.
type Service interface {
	EnsureTool(ctx context.Context) (*models.ToolResult, error)
}

// HTTPClient allows mocking HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Impl implements the tool Service interface.
type Impl struct {
	httpClient HTTPClient
	strategy   Strategy
	platform   models.Platform
	clock      clock.Clock
	cfg        models.ToolConfig
	logger     zerolog.Logger
}

// New creates a new provisioning service for the host platform.
func New(logger zerolog.Logger, cfg models.ToolConfig) *Impl {
	return &Impl{
		httpClient: httpclient.New(5 * time.Minute),
		strategy: MonacoStrategy{},
		platform: HostPlatform(),
		clock:    clock.WallClock,
		cfg:      cfg,
		logger:   logger,
	}
}

// NewWithOptions creates a provisioning service with custom collaborators (for testing).
func NewWithOptions(
	logger zerolog.Logger,
	cfg models.ToolConfig,
	httpClient HTTPClient,
	strategy Strategy,
	platform models.Platform,
	clk clock.Clock,
) *Impl {
	return &Impl{
		httpClient: httpClient,
		strategy:   strategy,
		platform:   platform,
		clock:      clk,
		cfg:        cfg,
		logger:     logger,
	}
}

// EnsureTool returns an executable monaco binary, downloading it when the cache is cold.
func (s *Impl) EnsureTool(ctx context.Context) (*models.ToolResult, error) {
	start := time.Now()

	if s.cfg.Path != "" {
		if err := ensureExecutable(s.cfg.Path, s.platform); err != nil {
			return nil, err
		}
		s.logger.Info().Str("path", s.cfg.Path).Msg("using configured monaco binary")
		return &models.ToolResult{Path: s.cfg.Path, Duration: time.Since(start)}, nil
	}

	if s.cfg.Version == "" {
		return nil, &models.ToolError{Kind: models.DownloadFailed, Err: errors.New("tool.version is not set")}
	}

	asset, err := s.strategy.AssetName(s.platform)
	if err != nil {
		return nil, err
	}

	target := filepath.Join(s.cfg.CacheDir, s.cfg.Version, s.strategy.BinaryName(s.platform))

	if info, statErr := os.Stat(target); statErr == nil && info.Mode().IsRegular() {
		sum, err := s.cachedChecksum(target)
		if err != nil {
			return nil, &models.ToolError{Kind: models.NotExecutable, Err: err}
		}
		if s.cfg.SHA256 == "" || sum == s.cfg.SHA256 {
			if err := ensureExecutable(target, s.platform); err != nil {
				return nil, err
			}
			s.logger.Info().Str("path", target).Msg("monaco found in cache")
			return &models.ToolResult{Path: target, Checksum: sum, Duration: time.Since(start)}, nil
		}
		s.logger.Warn().
			Str("path", target).
			Str("sha256", sum).
			Str("expected", s.cfg.SHA256).
			Msg("cached monaco does not match the configured checksum, downloading again")
	}

	downloadURL, err := s.assetURL(asset)
	if err != nil {
		return nil, &models.ToolError{Kind: models.DownloadFailed, Err: err}
	}

	s.logger.Info().
		Str("url", downloadURL).
		Str("platform", s.platform.String()).
		Msg("downloading monaco")

	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return nil, &models.ToolError{Kind: models.DownloadFailed, Err: fmt.Errorf("creating cache directory: %w", err)}
	}

	var checksum string
	err = retry.Call(retry.CallArgs{
		Func: func() error {
			sum, dlErr := s.download(ctx, downloadURL, target)
			checksum = sum
			return dlErr
		},
		IsFatalError: func(err error) bool {
			var (
				perm    *permanentError
				toolErr *models.ToolError
			)
			return errors.As(err, &perm) || errors.As(err, &toolErr) || ctx.Err() != nil
		},
		NotifyFunc: func(err error, attempt int) {
			s.logger.Warn().Err(err).Int("attempt", attempt).Msg("monaco download failed")
		},
		Attempts:    s.cfg.Retries,
		Delay:       s.cfg.RetryDelay,
		BackoffFunc: retry.DoubleDelay,
		Clock:       s.clock,
		Stop:        ctx.Done(),
	})
	if err != nil {
		if retry.IsAttemptsExceeded(err) || retry.IsRetryStopped(err) {
			err = retry.LastError(err)
		}
		var toolErr *models.ToolError
		if errors.As(err, &toolErr) {
			return nil, toolErr
		}
		return nil, &models.ToolError{Kind: models.DownloadFailed, Err: err}
	}

	result := &models.ToolResult{
		Path:       target,
		Downloaded: true,
		Checksum:   checksum,
		Duration:   time.Since(start),
	}

	s.logger.Info().
		Str("path", result.Path).
		Str("sha256", result.Checksum).
		Dur("duration", result.Duration).
		Msg("monaco downloaded")

	return result, nil
}

func (s *Impl) assetURL(asset string) (string, error) {
	base, err := url.Parse(s.cfg.BaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid tool.base_url: %w", err)
	}
	if base.Scheme != "https" {
		return "", fmt.Errorf("refusing to download over %q, https is required", base.Scheme)
	}
	if s.cfg.Version == LatestVersion {
		return base.JoinPath("latest", "download", asset).String(), nil
	}
	return base.JoinPath("download", s.cfg.Version, asset).String(), nil
}

// cachedChecksum hashes a cached binary when a checksum is configured.
func (s *Impl) cachedChecksum(path string) (string, error) {
	if s.cfg.SHA256 == "" {
		return "", nil
	}
	f, err := os.Open(path) //nolint:gosec // path is derived from the cache directory
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	hash := sha256.New()
	if _, err := io.Copy(hash, f); err != nil {
		return "", fmt.Errorf("hashing cached binary: %w", err)
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}

// permanentError marks failures that another attempt will not fix.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func (s *Impl) download(ctx context.Context, downloadURL, target string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return "", &permanentError{err: fmt.Errorf("failed to create request: %w", err)}
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, httpclient.ErrInsecureRedirect) {
			return "", &permanentError{err: fmt.Errorf("download failed: %w", err)}
		}
		return "", fmt.Errorf("download failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("download failed with status: %d", resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return "", &permanentError{err: err}
		}
		return "", err
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".monaco-*")
	if err != nil {
		return "", &permanentError{err: fmt.Errorf("failed to create temp file: %w", err)}
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	hash := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, hash), resp.Body)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return "", fmt.Errorf("failed to download file: %w", err)
	}
	if size == 0 {
		return "", errors.New("downloaded file is empty")
	}

	sum := hex.EncodeToString(hash.Sum(nil))
	if s.cfg.SHA256 != "" && sum != s.cfg.SHA256 {
		return "", &permanentError{err: fmt.Errorf("checksum mismatch: got %s, want %s", sum, s.cfg.SHA256)}
	}

	if err := os.Chmod(tmpPath, 0o755); err != nil { //nolint:gosec // executable binary
		return "", &models.ToolError{Kind: models.NotExecutable, Err: err}
	}
	if err := os.Rename(tmpPath, target); err != nil {
		return "", &permanentError{err: fmt.Errorf("failed to move binary into cache: %w", err)}
	}

	return sum, nil
}

// ensureExecutable sets the execute bits when they are missing.
func ensureExecutable(path string, p models.Platform) error {
	info, err := os.Stat(path)
	if err != nil {
		return &models.ToolError{Kind: models.NotExecutable, Err: err}
	}
	if !info.Mode().IsRegular() {
		return &models.ToolError{Kind: models.NotExecutable, Err: fmt.Errorf("%s is not a regular file", path)}
	}
	if p.OS == "windows" || info.Mode().Perm()&0o111 != 0 {
		return nil
	}
	if err := os.Chmod(path, info.Mode().Perm()|0o755); err != nil {
		return &models.ToolError{Kind: models.NotExecutable, Err: err}
	}
	return nil
}
