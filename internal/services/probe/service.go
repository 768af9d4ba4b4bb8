// Package probe checks that the target environment is reachable and accepts the credential.
package probe

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/fgeck/dynabackup/internal/httpclient"
	"github.com/fgeck/dynabackup/internal/models"
	"github.com/rs/zerolog"
)

// Service defines the interface for connectivity checks.
type Service interface {
	Probe(ctx context.Context, env models.EnvironmentConfig) (*models.ProbeResult, error)
}

// HTTPClient allows mocking HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Impl implements the probe Service interface.
type Impl struct {
	httpClient HTTPClient
	logger     zerolog.Logger
	settings   models.ProbeSettings
}

// New creates a new probe service.
func New(logger zerolog.Logger, settings models.ProbeSettings) *Impl {
	return &Impl{
		httpClient: httpclient.New(settings.Timeout),
		logger:   logger,
		settings: settings,
	}
}

// NewWithClient creates a new probe service with a custom HTTP client (for testing).
func NewWithClient(logger zerolog.Logger, httpClient HTTPClient, settings models.ProbeSettings) *Impl {
	return &Impl{
		httpClient: httpClient,
		logger:     logger,
		settings:   settings,
	}
}

// Probe issues one authenticated GET against a side-effect-free endpoint.
func (s *Impl) Probe(ctx context.Context, env models.EnvironmentConfig) (*models.ProbeResult, error) {
	endpoint := env.URL + s.settings.Endpoint

	s.logger.Info().
		Str("url", endpoint).
		Str("token", env.MaskedToken()).
		Msg("testing connectivity")

	if s.settings.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.settings.Timeout)
		defer cancel()
	}

	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &models.ConnectivityError{Kind: models.Unreachable, Err: err}
	}
	req.Header.Set("Authorization", "Api-Token "+env.Token.Reveal())
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, err
		}
		return nil, &models.ConnectivityError{Kind: models.Unreachable, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	result := &models.ProbeResult{
		StatusCode: resp.StatusCode,
		Duration:   time.Since(start),
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
	case resp.StatusCode == http.StatusUnauthorized:
		return result, &models.ConnectivityError{Kind: models.Unauthorized, Status: resp.StatusCode}
	case resp.StatusCode == http.StatusForbidden:
		return result, &models.ConnectivityError{Kind: models.Forbidden, Status: resp.StatusCode}
	default:
		return result, &models.ConnectivityError{Kind: models.UnknownStatus, Status: resp.StatusCode}
	}

	s.logger.Info().
		Int("status", result.StatusCode).
		Dur("duration", result.Duration).
		Msg("connectivity OK, token accepted")

	return result, nil
}
