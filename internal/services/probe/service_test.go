package probe

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fgeck/dynabackup/internal/httpclient"
	"github.com/fgeck/dynabackup/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockHTTPClient struct {
	doFunc func(req *http.Request) (*http.Response, error)
}

func (m *mockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	if m.doFunc != nil {
		return m.doFunc(req)
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader("{}")),
	}, nil
}

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func testSettings() models.ProbeSettings {
	return models.ProbeSettings{
		Timeout:  time.Second,
		Endpoint: "/api/v1/config/clusterversion",
	}
}

func testEnv() models.EnvironmentConfig {
	return models.EnvironmentConfig{
		URL:   "https://abc12345.live.dynatrace.com",
		Token: models.NewSecret("dt0c01.secret"),
	}
}

func statusResponse(code int) func(req *http.Request) (*http.Response, error) {
	return func(req *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: code,
			Body:       io.NopCloser(strings.NewReader("{}")),
		}, nil
	}
}

func TestProbe_Success(t *testing.T) {
	var captured *http.Request
	httpClient := &mockHTTPClient{
		doFunc: func(req *http.Request) (*http.Response, error) {
			captured = req
			return &http.Response{
				StatusCode: http.StatusOK,
				Body:       io.NopCloser(strings.NewReader(`{"version":"1.290.0"}`)),
			}, nil
		},
	}

	svc := NewWithClient(testLogger(), httpClient, testSettings())
	result, err := svc.Probe(context.Background(), testEnv())

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, result.StatusCode)
	assert.Equal(t, http.MethodGet, captured.Method)
	assert.Equal(t, "https://abc12345.live.dynatrace.com/api/v1/config/clusterversion", captured.URL.String())
	assert.Equal(t, "Api-Token dt0c01.secret", captured.Header.Get("Authorization"))
}

func TestProbe_StatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		kind   models.ConnectivityErrorKind
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, kind: models.Unauthorized},
		{name: "forbidden", status: http.StatusForbidden, kind: models.Forbidden},
		{name: "not found", status: http.StatusNotFound, kind: models.UnknownStatus},
		{name: "server error", status: http.StatusBadGateway, kind: models.UnknownStatus},
		{name: "redirect", status: http.StatusFound, kind: models.UnknownStatus},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewWithClient(testLogger(), &mockHTTPClient{doFunc: statusResponse(tt.status)}, testSettings())
			result, err := svc.Probe(context.Background(), testEnv())

			require.Error(t, err)
			var connErr *models.ConnectivityError
			require.True(t, errors.As(err, &connErr))
			assert.Equal(t, tt.kind, connErr.Kind)
			assert.Equal(t, tt.status, connErr.Status)
			require.NotNil(t, result)
			assert.Equal(t, tt.status, result.StatusCode)
		})
	}
}

func TestProbe_NetworkError(t *testing.T) {
	httpClient := &mockHTTPClient{
		doFunc: func(req *http.Request) (*http.Response, error) {
			return nil, errors.New("dial tcp: connection refused")
		},
	}

	svc := NewWithClient(testLogger(), httpClient, testSettings())
	_, err := svc.Probe(context.Background(), testEnv())

	var connErr *models.ConnectivityError
	require.True(t, errors.As(err, &connErr))
	assert.Equal(t, models.Unreachable, connErr.Kind)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestProbe_Timeout(t *testing.T) {
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	settings := models.ProbeSettings{Timeout: 50 * time.Millisecond, Endpoint: "/api/v1/config/clusterversion"}
	svc := NewWithClient(testLogger(), server.Client(), settings)

	env := testEnv()
	env.URL = server.URL
	_, err := svc.Probe(context.Background(), env)

	var connErr *models.ConnectivityError
	require.True(t, errors.As(err, &connErr))
	assert.Equal(t, models.Unreachable, connErr.Kind)
}

func TestProbe_AgainstTLSServer(t *testing.T) {
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Api-Token dt0c01.secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"version":"1.290.0"}`))
	}))
	defer server.Close()

	svc := NewWithClient(testLogger(), server.Client(), testSettings())

	env := testEnv()
	env.URL = server.URL
	result, err := svc.Probe(context.Background(), env)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, result.StatusCode)

	env.Token = models.NewSecret("wrong")
	_, err = svc.Probe(context.Background(), env)
	var connErr *models.ConnectivityError
	require.True(t, errors.As(err, &connErr))
	assert.Equal(t, models.Unauthorized, connErr.Kind)
}

func TestProbe_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	httpClient := &mockHTTPClient{
		doFunc: func(req *http.Request) (*http.Response, error) {
			return nil, req.Context().Err()
		},
	}

	svc := NewWithClient(testLogger(), httpClient, testSettings())
	_, err := svc.Probe(ctx, testEnv())

	require.ErrorIs(t, err, context.Canceled)
	var connErr *models.ConnectivityError
	assert.False(t, errors.As(err, &connErr))
}

func TestProbe_RedirectToPlainHTTPKeepsTokenOffTheWire(t *testing.T) {
	var leaked atomic.Int32
	plain := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			leaked.Add(1)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer plain.Close()

	secure := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, plain.URL+r.URL.Path, http.StatusFound)
	}))
	defer secure.Close()

	client := secure.Client()
	client.CheckRedirect = httpclient.HTTPSOnly
	env := testEnv()
	env.URL = secure.URL

	_, err := NewWithClient(testLogger(), client, testSettings()).Probe(context.Background(), env)

	var connErr *models.ConnectivityError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, models.Unreachable, connErr.Kind)
	assert.ErrorIs(t, err, httpclient.ErrInsecureRedirect)
	assert.Zero(t, leaked.Load())
}
