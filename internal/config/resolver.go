package config

import (
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/fgeck/dynabackup/internal/models"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Files consulted in the working directory when the settings above them are empty.
const (
	DotEnvFile       = ".env"
	LegacyConfigFile = "dynatrace.config"
)

// Overrides are explicit values that win over every other source. The CLI only sets URL;
// the credential never travels as a command-line argument.
type Overrides struct {
	URL   string
	Token string
}

// Resolver produces a validated EnvironmentConfig from layered sources:
// overrides, then environment variables and the settings file (already merged in base),
// then a .env file, then the legacy dynatrace.config JSON file.
type Resolver struct {
	base     models.EnvironmentConfig
	workDir  string
	validate *validator.Validate
}

// NewResolver creates a resolver on top of the parsed settings.
func NewResolver(base models.EnvironmentConfig, workDir string) *Resolver {
	return &Resolver{
		base:     base,
		workDir:  workDir,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Resolve returns the environment configuration or a *models.ConfigError.
func (r *Resolver) Resolve(ov Overrides) (*models.EnvironmentConfig, error) {
	dotenv := r.readFile(DotEnvFile, "env")
	legacy := r.readFile(LegacyConfigFile, "json")

	rawURL := firstNonEmpty(
		ov.URL,
		r.base.URL,
		lookup(dotenv, EnvURL),
		lookup(legacy, "url"),
	)
	token := firstNonEmpty(
		ov.Token,
		r.base.Token.Reveal(),
		lookup(dotenv, EnvToken),
		lookup(dotenv, EnvTokenLegacy),
		lookup(legacy, "token"),
	)

	env := &models.EnvironmentConfig{
		URL:   strings.TrimRight(strings.TrimSpace(rawURL), "/"),
		Name:  r.base.Name,
		Token: models.NewSecret(token),
	}
	if env.Name == "" {
		env.Name = models.DefaultEnvironmentName
	}

	if err := r.check(env); err != nil {
		env.Token.Wipe()
		return nil, err
	}
	return env, nil
}

func (r *Resolver) check(env *models.EnvironmentConfig) error {
	if err := r.validate.Struct(env); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return &models.ConfigError{Kind: models.MalformedURL, Detail: err.Error()}
		}
		failed := map[string]string{}
		for _, fe := range verrs {
			failed[fe.Field()] = fe.Tag()
		}
		switch {
		case failed["URL"] == "required":
			return &models.ConfigError{Kind: models.MissingURL}
		case failed["Token"] == "required":
			return &models.ConfigError{Kind: models.MissingToken}
		case failed["URL"] != "":
			return &models.ConfigError{Kind: models.MalformedURL, Detail: env.URL}
		}
	}

	u, err := url.Parse(env.URL)
	if err != nil {
		return &models.ConfigError{Kind: models.MalformedURL, Detail: err.Error()}
	}
	if u.Scheme != "https" || u.Hostname() == "" || u.User != nil || u.RawQuery != "" || u.Fragment != "" {
		return &models.ConfigError{Kind: models.MalformedURL, Detail: env.URL}
	}
	return nil
}

// readFile loads an optional key/value file; a missing or unreadable file yields nil.
func (r *Resolver) readFile(name, format string) *viper.Viper {
	path := filepath.Join(r.workDir, name)
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType(format)
	if err := v.ReadInConfig(); err != nil {
		return nil
	}
	return v
}

func lookup(v *viper.Viper, key string) string {
	if v == nil {
		return ""
	}
	return strings.Trim(strings.TrimSpace(v.GetString(key)), `"'`)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
