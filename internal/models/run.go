package models

import (
	"strings"
	"sync"
	"time"
)

// RunStatus is the lifecycle state of a backup or restore run.
type RunStatus string

// Run states. Success, Partial and Failed are terminal.
const (
	StatusPending RunStatus = "pending"
	StatusRunning RunStatus = "running"
	StatusSuccess RunStatus = "success"
	StatusPartial RunStatus = "partial"
	StatusFailed  RunStatus = "failed"
)

// Terminal reports whether s is a final state.
func (s RunStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusPartial || s == StatusFailed
}

// Operation names the direction of a run.
type Operation string

// Supported operations.
const (
	OperationBackup  Operation = "backup"
	OperationRestore Operation = "restore"
)

// Title returns the operation name with an upper-case first letter, e.g. "Backup".
func (o Operation) Title() string {
	if o == "" {
		return ""
	}
	return strings.ToUpper(string(o[:1])) + string(o[1:])
}

// RunTimestampFormat names run directories so that they sort by creation time.
const RunTimestampFormat = "20060102_150405"

// Run tracks one end-to-end execution.
type Run struct {
	ID        string
	Operation Operation
	StartedAt time.Time
	OutputDir string

	mu     sync.Mutex
	status RunStatus
	err    error
}

// NewRun creates a pending run.
func NewRun(id string, op Operation, startedAt time.Time) *Run {
	return &Run{
		ID:        id,
		Operation: op,
		StartedAt: startedAt,
		status:    StatusPending,
	}
}

// Token returns the sortable timestamp token of the run.
func (r *Run) Token() string {
	return r.StartedAt.Format(RunTimestampFormat)
}

// Status returns the current state.
func (r *Run) Status() RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Err returns the fatal error recorded with a failed run.
func (r *Run) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Start moves a pending run to running.
func (r *Run) Start() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status != StatusPending {
		return false
	}
	r.status = StatusRunning
	return true
}

// Finish sets the terminal state. Only the first call has an effect.
func (r *Run) Finish(status RunStatus, err error) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status.Terminal() || !status.Terminal() {
		return false
	}
	r.status = status
	r.err = err
	return true
}

// ExitStatus describes how the child process ended.
type ExitStatus struct {
	Started  bool
	ExitCode int
	Duration time.Duration
}

// Severity classifies one line of child output.
type Severity string

// Severities, in increasing order of importance.
const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// ClassifiedLine is a single output line and its position in the stream.
type ClassifiedLine struct {
	Index int
	Text  string
}

// Classification is the severity-bucketed view of the child's output.
type Classification struct {
	Lines  map[Severity][]ClassifiedLine
	Counts map[Severity]int
}

// ProgressSample is a point-in-time view of a running export.
type ProgressSample struct {
	Elapsed time.Duration
	Files   int
	Rate    float64 // files per second since the previous sample
}

// CategoryCount is the number of exported files for one configuration type.
type CategoryCount struct {
	Name  string `json:"name"`
	Files int    `json:"files"`
}

// RunReport is the final summary of a run.
type RunReport struct {
	RunID        string          `json:"run_id"`
	Operation    Operation       `json:"operation"`
	Status       RunStatus       `json:"status"`
	FailureKind  string          `json:"failure_kind,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	StartedAt    time.Time       `json:"started_at"`
	Duration     time.Duration   `json:"duration"`
	OutputPath   string          `json:"output_path,omitempty"`
	TotalFiles   int             `json:"total_files"`
	TotalBytes   int64           `json:"total_bytes"`
	Categories   []CategoryCount `json:"categories,omitempty"`
	WarningCount int             `json:"warning_count"`
	ErrorCount   int             `json:"error_count"`
	ErrorSamples []string        `json:"error_samples,omitempty"`
	ExitCode     int             `json:"exit_code"`
}
