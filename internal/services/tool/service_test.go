package tool

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/fgeck/dynabackup/internal/httpclient"
	"github.com/fgeck/dynabackup/internal/models"
	"github.com/juju/clock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var linuxAMD64 = models.Platform{OS: "linux", Arch: "amd64"}

var binaryContent = []byte("#!/bin/sh\necho monaco\n")

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func requireToolError(t *testing.T, err error, kind models.ToolErrorKind) {
	t.Helper()
	var toolErr *models.ToolError
	require.True(t, errors.As(err, &toolErr), "expected ToolError, got %v", err)
	assert.Equal(t, kind, toolErr.Kind)
}

type requestLog struct {
	mu    sync.Mutex
	paths []string
}

func (l *requestLog) add(path string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.paths = append(l.paths, path)
	return len(l.paths)
}

func (l *requestLog) Paths() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.paths...)
}

func (l *requestLog) Count() int {
	return len(l.Paths())
}

// releaseServer serves assets; failures lists the status codes returned for the first
// requests before it starts answering 200.
func releaseServer(t *testing.T, failures ...int) (*httptest.Server, *requestLog) {
	t.Helper()
	log := &requestLog{}
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := log.add(r.URL.Path)
		if n <= len(failures) {
			w.WriteHeader(failures[n-1])
			return
		}
		_, _ = w.Write(binaryContent)
	}))
	t.Cleanup(server.Close)
	return server, log
}

func testConfig(t *testing.T, baseURL string) models.ToolConfig {
	t.Helper()
	return models.ToolConfig{
		Version:    "v2.15.2",
		CacheDir:   t.TempDir(),
		BaseURL:    baseURL,
		Retries:    3,
		RetryDelay: time.Millisecond,
	}
}

func newService(cfg models.ToolConfig, client HTTPClient, platform models.Platform) *Impl {
	return NewWithOptions(testLogger(), cfg, client, MonacoStrategy{}, platform, clock.WallClock)
}

func TestMonacoStrategy_AssetName(t *testing.T) {
	tests := []struct {
		platform models.Platform
		want     string
	}{
		{platform: models.Platform{OS: "linux", Arch: "amd64"}, want: "monaco-linux-amd64"},
		{platform: models.Platform{OS: "linux", Arch: "arm64"}, want: "monaco-linux-arm64"},
		{platform: models.Platform{OS: "linux", Arch: "386"}, want: "monaco-linux-386"},
		{platform: models.Platform{OS: "darwin", Arch: "arm64"}, want: "monaco-darwin-arm64"},
		{platform: models.Platform{OS: "windows", Arch: "amd64"}, want: "monaco-windows-amd64.exe"},
	}

	for _, tt := range tests {
		t.Run(tt.platform.String(), func(t *testing.T) {
			got, err := MonacoStrategy{}.AssetName(tt.platform)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMonacoStrategy_Unsupported(t *testing.T) {
	for _, p := range []models.Platform{
		{OS: "freebsd", Arch: "amd64"},
		{OS: "darwin", Arch: "386"},
		{OS: "linux", Arch: "riscv64"},
	} {
		_, err := MonacoStrategy{}.AssetName(p)
		requireToolError(t, err, models.UnsupportedPlatform)
	}
}

func TestMonacoStrategy_BinaryName(t *testing.T) {
	assert.Equal(t, "monaco", MonacoStrategy{}.BinaryName(linuxAMD64))
	assert.Equal(t, "monaco.exe", MonacoStrategy{}.BinaryName(models.Platform{OS: "windows", Arch: "amd64"}))
}

func TestEnsureTool_DownloadsThenHitsCache(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits are not meaningful on windows")
	}
	server, requests := releaseServer(t)
	cfg := testConfig(t, server.URL+"/releases")
	svc := newService(cfg, server.Client(), linuxAMD64)

	first, err := svc.EnsureTool(context.Background())
	require.NoError(t, err)
	assert.True(t, first.Downloaded)
	assert.Equal(t, filepath.Join(cfg.CacheDir, "v2.15.2", "monaco"), first.Path)
	assert.Equal(t, []string{"/releases/download/v2.15.2/monaco-linux-amd64"}, requests.Paths())

	info, err := os.Stat(first.Path)
	require.NoError(t, err)
	assert.NotZero(t, info.Mode().Perm()&0o111)

	content, err := os.ReadFile(first.Path)
	require.NoError(t, err)
	assert.Equal(t, binaryContent, content)

	second, err := svc.EnsureTool(context.Background())
	require.NoError(t, err)
	assert.False(t, second.Downloaded)
	assert.Equal(t, first.Path, second.Path)
	assert.Equal(t, 1, requests.Count())
}

func TestEnsureTool_WindowsAsset(t *testing.T) {
	server, requests := releaseServer(t)
	cfg := testConfig(t, server.URL+"/releases")
	svc := newService(cfg, server.Client(), models.Platform{OS: "windows", Arch: "amd64"})

	result, err := svc.EnsureTool(context.Background())

	require.NoError(t, err)
	assert.Equal(t, filepath.Join(cfg.CacheDir, "v2.15.2", "monaco.exe"), result.Path)
	assert.Equal(t, []string{"/releases/download/v2.15.2/monaco-windows-amd64.exe"}, requests.Paths())
}

func TestEnsureTool_LatestIsOptIn(t *testing.T) {
	server, requests := releaseServer(t)
	cfg := testConfig(t, server.URL+"/releases")
	cfg.Version = LatestVersion

	result, err := newService(cfg, server.Client(), linuxAMD64).EnsureTool(context.Background())

	require.NoError(t, err)
	assert.Equal(t, filepath.Join(cfg.CacheDir, "latest", "monaco"), result.Path)
	assert.Equal(t, []string{"/releases/latest/download/monaco-linux-amd64"}, requests.Paths())
}

func TestEnsureTool_MissingVersion(t *testing.T) {
	server, requests := releaseServer(t)
	cfg := testConfig(t, server.URL)
	cfg.Version = ""

	_, err := newService(cfg, server.Client(), linuxAMD64).EnsureTool(context.Background())

	requireToolError(t, err, models.DownloadFailed)
	assert.Equal(t, 0, requests.Count())
}

func TestEnsureTool_ChecksumVerified(t *testing.T) {
	server, _ := releaseServer(t)
	sum := sha256.Sum256(binaryContent)
	cfg := testConfig(t, server.URL)
	cfg.SHA256 = hex.EncodeToString(sum[:])
	svc := newService(cfg, server.Client(), linuxAMD64)

	result, err := svc.EnsureTool(context.Background())

	require.NoError(t, err)
	assert.Equal(t, cfg.SHA256, result.Checksum)
}

func TestEnsureTool_ChecksumMismatch(t *testing.T) {
	server, requests := releaseServer(t)
	cfg := testConfig(t, server.URL)
	cfg.SHA256 = "deadbeef"
	svc := newService(cfg, server.Client(), linuxAMD64)

	_, err := svc.EnsureTool(context.Background())

	requireToolError(t, err, models.DownloadFailed)
	assert.Contains(t, err.Error(), "checksum mismatch")
	assert.Equal(t, 1, requests.Count())
	_, statErr := os.Stat(filepath.Join(cfg.CacheDir, cfg.Version, "monaco"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestEnsureTool_RetriesTransientFailures(t *testing.T) {
	server, requests := releaseServer(t, http.StatusBadGateway, http.StatusServiceUnavailable)
	svc := newService(testConfig(t, server.URL), server.Client(), linuxAMD64)

	result, err := svc.EnsureTool(context.Background())

	require.NoError(t, err)
	assert.True(t, result.Downloaded)
	assert.Equal(t, 3, requests.Count())
}

func TestEnsureTool_GivesUpAfterRetries(t *testing.T) {
	server, requests := releaseServer(t, 500, 500, 500, 500)
	svc := newService(testConfig(t, server.URL), server.Client(), linuxAMD64)

	_, err := svc.EnsureTool(context.Background())

	requireToolError(t, err, models.DownloadFailed)
	assert.Contains(t, err.Error(), "status: 500")
	assert.Equal(t, 3, requests.Count())
}

func TestEnsureTool_NotFoundIsNotRetried(t *testing.T) {
	server, requests := releaseServer(t, http.StatusNotFound)
	svc := newService(testConfig(t, server.URL), server.Client(), linuxAMD64)

	_, err := svc.EnsureTool(context.Background())

	requireToolError(t, err, models.DownloadFailed)
	assert.Equal(t, 1, requests.Count())
}

func TestEnsureTool_RejectsPlainHTTP(t *testing.T) {
	svc := newService(testConfig(t, "http://example.com/releases"), http.DefaultClient, linuxAMD64)

	_, err := svc.EnsureTool(context.Background())

	requireToolError(t, err, models.DownloadFailed)
	assert.Contains(t, err.Error(), "https is required")
}

func TestEnsureTool_RefusesRedirectToPlainHTTP(t *testing.T) {
	plain := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(binaryContent)
	}))
	t.Cleanup(plain.Close)

	requests := &requestLog{}
	release := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.add(r.URL.Path)
		http.Redirect(w, r, plain.URL+r.URL.Path, http.StatusFound)
	}))
	t.Cleanup(release.Close)

	client := release.Client()
	client.CheckRedirect = httpclient.HTTPSOnly
	cfg := testConfig(t, release.URL)

	_, err := newService(cfg, client, linuxAMD64).EnsureTool(context.Background())

	requireToolError(t, err, models.DownloadFailed)
	assert.ErrorIs(t, err, httpclient.ErrInsecureRedirect)
	assert.Equal(t, 1, requests.Count(), "an insecure redirect is not retried")
	_, statErr := os.Stat(filepath.Join(cfg.CacheDir, cfg.Version, "monaco"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestEnsureTool_UnsupportedPlatform(t *testing.T) {
	server, requests := releaseServer(t)
	svc := newService(testConfig(t, server.URL), server.Client(), models.Platform{OS: "plan9", Arch: "amd64"})

	_, err := svc.EnsureTool(context.Background())

	requireToolError(t, err, models.UnsupportedPlatform)
	assert.Equal(t, 0, requests.Count())
}

func TestEnsureTool_CachedBinaryMadeExecutable(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits are not meaningful on windows")
	}
	server, requests := releaseServer(t)
	cfg := testConfig(t, server.URL)
	target := filepath.Join(cfg.CacheDir, cfg.Version, "monaco")
	require.NoError(t, os.MkdirAll(filepath.Dir(target), 0o750))
	require.NoError(t, os.WriteFile(target, binaryContent, 0o600))

	result, err := newService(cfg, server.Client(), linuxAMD64).EnsureTool(context.Background())

	require.NoError(t, err)
	assert.False(t, result.Downloaded)
	info, err := os.Stat(target)
	require.NoError(t, err)
	assert.NotZero(t, info.Mode().Perm()&0o111)
	assert.Equal(t, 0, requests.Count())
}

func TestEnsureTool_CachedBinaryMatchingChecksum(t *testing.T) {
	server, requests := releaseServer(t)
	sum := sha256.Sum256(binaryContent)
	cfg := testConfig(t, server.URL)
	cfg.SHA256 = hex.EncodeToString(sum[:])
	target := filepath.Join(cfg.CacheDir, cfg.Version, "monaco")
	require.NoError(t, os.MkdirAll(filepath.Dir(target), 0o750))
	require.NoError(t, os.WriteFile(target, binaryContent, 0o700)) //nolint:gosec // test binary

	result, err := newService(cfg, server.Client(), linuxAMD64).EnsureTool(context.Background())

	require.NoError(t, err)
	assert.False(t, result.Downloaded)
	assert.Equal(t, cfg.SHA256, result.Checksum)
	assert.Equal(t, 0, requests.Count())
}

func TestEnsureTool_CachedBinaryWithWrongChecksumIsReplaced(t *testing.T) {
	server, requests := releaseServer(t)
	sum := sha256.Sum256(binaryContent)
	cfg := testConfig(t, server.URL)
	cfg.SHA256 = hex.EncodeToString(sum[:])
	target := filepath.Join(cfg.CacheDir, cfg.Version, "monaco")
	require.NoError(t, os.MkdirAll(filepath.Dir(target), 0o750))
	require.NoError(t, os.WriteFile(target, []byte("tampered"), 0o700)) //nolint:gosec // test binary

	result, err := newService(cfg, server.Client(), linuxAMD64).EnsureTool(context.Background())

	require.NoError(t, err)
	assert.True(t, result.Downloaded)
	assert.Equal(t, 1, requests.Count())
	content, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, binaryContent, content)
}

func TestEnsureTool_ExplicitPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "monaco")
	require.NoError(t, os.WriteFile(path, binaryContent, 0o700)) //nolint:gosec // test binary

	cfg := models.ToolConfig{Path: path}
	result, err := newService(cfg, http.DefaultClient, linuxAMD64).EnsureTool(context.Background())

	require.NoError(t, err)
	assert.Equal(t, path, result.Path)
	assert.False(t, result.Downloaded)
}

func TestEnsureTool_ExplicitPathMissing(t *testing.T) {
	cfg := models.ToolConfig{Path: filepath.Join(t.TempDir(), "missing")}

	_, err := newService(cfg, http.DefaultClient, linuxAMD64).EnsureTool(context.Background())

	requireToolError(t, err, models.NotExecutable)
}

func TestEnsureTool_ExplicitPathIsDirectory(t *testing.T) {
	cfg := models.ToolConfig{Path: t.TempDir()}

	_, err := newService(cfg, http.DefaultClient, linuxAMD64).EnsureTool(context.Background())

	requireToolError(t, err, models.NotExecutable)
}
