package models

import (
	"strings"
	"time"
)

// DefaultEnvironmentName is the environment name written into generated manifests.
const DefaultEnvironmentName = "backup"

// EnvironmentConfig holds the connection settings for the target environment.
type EnvironmentConfig struct {
	URL   string  `validate:"required,url"`
	Token *Secret `validate:"required"`
	Name  string
}

// MaskedToken returns a display-safe form of the credential.
func (e EnvironmentConfig) MaskedToken() string {
	return e.Token.Masked()
}

// Secret holds an opaque credential. The zero value and nil are empty.
type Secret struct {
	b []byte
}

// NewSecret copies s into a new Secret. It returns nil for an empty string.
func NewSecret(s string) *Secret {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &Secret{b: []byte(s)}
}

// Reveal returns the credential in clear text.
func (s *Secret) Reveal() string {
	if s == nil {
		return ""
	}
	return string(s.b)
}

// Empty reports whether the secret holds no data.
func (s *Secret) Empty() bool {
	return s == nil || len(s.b) == 0
}

// Masked shows the first and last 10 characters of long credentials only.
func (s *Secret) Masked() string {
	if s.Empty() {
		return "(none)"
	}
	if len(s.b) < 24 {
		return strings.Repeat("*", 8)
	}
	return string(s.b[:10]) + "..." + string(s.b[len(s.b)-10:])
}

// Wipe zeroes the underlying buffer.
func (s *Secret) Wipe() {
	if s == nil {
		return
	}
	for i := range s.b {
		s.b[i] = 0
	}
	s.b = s.b[:0]
}

// String never prints the credential.
func (s *Secret) String() string {
	return s.Masked()
}

// ProbeResult holds the result of a connectivity probe.
type ProbeResult struct {
	StatusCode int
	Duration   time.Duration
}
