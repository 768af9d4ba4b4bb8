package models

import (
	"errors"
	"fmt"
)

// ConfigErrorKind enumerates configuration failures.
type ConfigErrorKind string

// Configuration failure kinds.
const (
	MissingURL   ConfigErrorKind = "MissingURL"
	MissingToken ConfigErrorKind = "MissingToken"
	MalformedURL ConfigErrorKind = "MalformedURL"
)

// ConfigError is returned when the environment settings are absent or invalid.
type ConfigError struct {
	Kind   ConfigErrorKind
	Detail string
}

func (e *ConfigError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("config error (%s): %s", e.Kind, e.Detail)
	}
	return fmt.Sprintf("config error (%s)", e.Kind)
}

// ConnectivityErrorKind enumerates probe failures.
type ConnectivityErrorKind string

// Connectivity failure kinds.
const (
	Unreachable   ConnectivityErrorKind = "Unreachable"
	Unauthorized  ConnectivityErrorKind = "Unauthorized"
	Forbidden     ConnectivityErrorKind = "Forbidden"
	UnknownStatus ConnectivityErrorKind = "Unknown"
)

// ConnectivityError is returned when the target API cannot be reached or rejects the credential.
type ConnectivityError struct {
	Kind   ConnectivityErrorKind
	Status int // set for UnknownStatus
	Err    error
}

func (e *ConnectivityError) Error() string {
	switch {
	case e.Kind == UnknownStatus:
		return fmt.Sprintf("connectivity error (%s): unexpected status %d", e.Kind, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("connectivity error (%s): %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("connectivity error (%s)", e.Kind)
	}
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// ToolErrorKind enumerates provisioning failures.
type ToolErrorKind string

// Provisioning failure kinds.
const (
	DownloadFailed      ToolErrorKind = "DownloadFailed"
	UnsupportedPlatform ToolErrorKind = "UnsupportedPlatform"
	NotExecutable       ToolErrorKind = "NotExecutable"
)

// ToolError is returned when the monaco binary cannot be provisioned.
type ToolError struct {
	Kind ToolErrorKind
	Err  error
}

func (e *ToolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("tool error (%s): %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("tool error (%s)", e.Kind)
}

func (e *ToolError) Unwrap() error { return e.Err }

// ExecutionError is returned when the child process cannot be started.
type ExecutionError struct {
	Path string
	Err  error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("failed to start %s: %v", e.Path, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// RunErrorKind enumerates ways a started run can be cut short.
type RunErrorKind string

// Run interruption kinds.
const (
	Timeout  RunErrorKind = "Timeout"
	Canceled RunErrorKind = "Canceled"
)

// RunError is returned when the child was terminated before it finished on its own.
type RunError struct {
	Kind RunErrorKind
	Err  error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("run %s: %v", e.Kind, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// FailureKind returns the taxonomy name of a fatal error, e.g. "ConnectivityError(Forbidden)".
func FailureKind(err error) string {
	var (
		cfgErr  *ConfigError
		connErr *ConnectivityError
		toolErr *ToolError
		execErr *ExecutionError
		runErr  *RunError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &cfgErr):
		return fmt.Sprintf("ConfigError(%s)", cfgErr.Kind)
	case errors.As(err, &connErr):
		if connErr.Kind == UnknownStatus {
			return fmt.Sprintf("ConnectivityError(Unknown(%d))", connErr.Status)
		}
		return fmt.Sprintf("ConnectivityError(%s)", connErr.Kind)
	case errors.As(err, &toolErr):
		return fmt.Sprintf("ToolError(%s)", toolErr.Kind)
	case errors.As(err, &execErr):
		return "ExecutionError"
	case errors.As(err, &runErr):
		return string(runErr.Kind)
	default:
		return "Error"
	}
}

// Hint returns the corrective action shown to the operator for a fatal error.
//
//nolint:gocyclo // one case per error kind
func Hint(err error) string {
	var (
		cfgErr  *ConfigError
		connErr *ConnectivityError
		toolErr *ToolError
		execErr *ExecutionError
		runErr  *RunError
	)
	switch {
	case errors.As(err, &cfgErr):
		switch cfgErr.Kind {
		case MissingURL:
			return "set DT_CLUSTER_URL (e.g. https://abc12345.live.dynatrace.com) or environment.url in the config file"
		case MissingToken:
			return "configure the credential: export DT_API_TOKEN=<token> or add DT_API_TOKEN=<token> to a .env file"
		case MalformedURL:
			return "the environment URL must look like https://<host>"
		}
	case errors.As(err, &connErr):
		switch connErr.Kind {
		case Unauthorized:
			return "the token is invalid or expired; generate a new API token"
		case Forbidden:
			return "regenerate the token with the missing permission (read configuration / read settings)"
		case Unreachable:
			return "check the URL, proxy settings and network connectivity to the environment"
		case UnknownStatus:
			return "the environment answered unexpectedly; retry later or check its status page"
		}
	case errors.As(err, &toolErr):
		switch toolErr.Kind {
		case DownloadFailed:
			return "download monaco manually and point tool.path at it"
		case UnsupportedPlatform:
			return "no monaco release exists for this platform; build it from source and set tool.path"
		case NotExecutable:
			return "make the monaco binary executable (chmod +x) or choose a writable tool.cache_dir"
		}
	case errors.As(err, &execErr):
		return "verify the monaco binary exists and runs on this host"
	case errors.As(err, &runErr):
		if runErr.Kind == Timeout {
			return "raise backup.timeout or set it to 0 for no limit"
		}
		return "the run was interrupted; start it again"
	}
	return ""
}
