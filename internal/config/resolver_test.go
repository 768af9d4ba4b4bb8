package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/fgeck/dynabackup/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testToken = "dt0c01.ABCDEFGHIJKLMNOPQRSTUVWX.0123456789"

func requireConfigError(t *testing.T, err error, kind models.ConfigErrorKind) {
	t.Helper()
	var cfgErr *models.ConfigError
	require.True(t, errors.As(err, &cfgErr), "expected ConfigError, got %v", err)
	assert.Equal(t, kind, cfgErr.Kind)
}

func TestResolve_FromBase(t *testing.T) {
	base := models.EnvironmentConfig{
		URL:   "https://abc12345.live.dynatrace.com",
		Token: models.NewSecret(testToken),
	}

	env, err := NewResolver(base, t.TempDir()).Resolve(Overrides{})

	require.NoError(t, err)
	assert.Equal(t, "https://abc12345.live.dynatrace.com", env.URL)
	assert.Equal(t, testToken, env.Token.Reveal())
	assert.Equal(t, "backup", env.Name)
	assert.Equal(t, "dt0c01.ABC...0123456789", env.MaskedToken())
}

func TestResolve_OverridesWin(t *testing.T) {
	base := models.EnvironmentConfig{
		URL:   "https://base.live.dynatrace.com",
		Token: models.NewSecret("base-token"),
	}

	env, err := NewResolver(base, t.TempDir()).Resolve(Overrides{
		URL:   "https://override.live.dynatrace.com/",
		Token: "override-token",
	})

	require.NoError(t, err)
	assert.Equal(t, "https://override.live.dynatrace.com", env.URL)
	assert.Equal(t, "override-token", env.Token.Reveal())
}

func TestResolve_DotEnvFile(t *testing.T) {
	dir := t.TempDir()
	content := "DT_CLUSTER_URL=https://dotenv.live.dynatrace.com\nDT_API_TOKEN=\"dotenv-token\"\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, DotEnvFile), []byte(content), 0o600))

	env, err := NewResolver(models.EnvironmentConfig{}, dir).Resolve(Overrides{})

	require.NoError(t, err)
	assert.Equal(t, "https://dotenv.live.dynatrace.com", env.URL)
	assert.Equal(t, "dotenv-token", env.Token.Reveal())
}

func TestResolve_SettingsBeatDotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, DotEnvFile), []byte("DT_API_TOKEN=dotenv-token\n"), 0o600))

	base := models.EnvironmentConfig{
		URL:   "https://abc12345.live.dynatrace.com",
		Token: models.NewSecret("settings-token"),
	}
	env, err := NewResolver(base, dir).Resolve(Overrides{})

	require.NoError(t, err)
	assert.Equal(t, "settings-token", env.Token.Reveal())
}

func TestResolve_LegacyConfigFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, LegacyConfigFile), []byte(`{"token": "legacy-token"}`), 0o600))

	base := models.EnvironmentConfig{URL: "https://abc12345.live.dynatrace.com"}
	env, err := NewResolver(base, dir).Resolve(Overrides{})

	require.NoError(t, err)
	assert.Equal(t, "legacy-token", env.Token.Reveal())
}

func TestResolve_Errors(t *testing.T) {
	tests := []struct {
		name string
		base models.EnvironmentConfig
		want models.ConfigErrorKind
	}{
		{
			name: "nothing configured",
			base: models.EnvironmentConfig{},
			want: models.MissingURL,
		},
		{
			name: "token without url",
			base: models.EnvironmentConfig{Token: models.NewSecret(testToken)},
			want: models.MissingURL,
		},
		{
			name: "url without token",
			base: models.EnvironmentConfig{URL: "https://abc12345.live.dynatrace.com"},
			want: models.MissingToken,
		},
		{
			name: "whitespace token",
			base: models.EnvironmentConfig{URL: "https://abc12345.live.dynatrace.com", Token: models.NewSecret("   ")},
			want: models.MissingToken,
		},
		{
			name: "plain http",
			base: models.EnvironmentConfig{URL: "http://abc12345.live.dynatrace.com", Token: models.NewSecret(testToken)},
			want: models.MalformedURL,
		},
		{
			name: "not a url",
			base: models.EnvironmentConfig{URL: "abc12345.live.dynatrace.com", Token: models.NewSecret(testToken)},
			want: models.MalformedURL,
		},
		{
			name: "no host",
			base: models.EnvironmentConfig{URL: "https://", Token: models.NewSecret(testToken)},
			want: models.MalformedURL,
		},
		{
			name: "query string",
			base: models.EnvironmentConfig{URL: "https://abc.live.dynatrace.com?x=1", Token: models.NewSecret(testToken)},
			want: models.MalformedURL,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewResolver(tt.base, t.TempDir()).Resolve(Overrides{})
			requireConfigError(t, err, tt.want)
		})
	}
}

func TestResolve_ManagedEnvironmentPath(t *testing.T) {
	base := models.EnvironmentConfig{
		URL:   "https://managed.example.com/e/1234-5678",
		Token: models.NewSecret(testToken),
	}

	env, err := NewResolver(base, t.TempDir()).Resolve(Overrides{})

	require.NoError(t, err)
	assert.Equal(t, "https://managed.example.com/e/1234-5678", env.URL)
}
