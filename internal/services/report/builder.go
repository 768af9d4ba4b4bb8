// Package report turns a finished run into its operator-facing summary.
package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fgeck/dynabackup/internal/models"
	"github.com/fgeck/dynabackup/internal/services/classifier"
	"github.com/juju/clock"
)

// FileName is the report stored in each run directory.
const FileName = "report.json"

// NoOutputKind is the failure kind of a run that finished without exporting anything.
const NoOutputKind = "NoOutput"

// Input is the recorded state of a finished run.
type Input struct {
	Run            *models.Run
	Classification models.Classification
	Exit           *models.ExitStatus
	// Err is the fatal error that ended the run, if any.
	Err error
	// ProjectDir is the folder holding one subdirectory per configuration category.
	ProjectDir string
}

// Builder assembles run reports.
type Builder struct {
	maxSamples        int
	warningsAsPartial bool
	clock             clock.Clock
}

// NewBuilder creates a builder keeping at most maxSamples error lines.
func NewBuilder(maxSamples int, warningsAsPartial bool) *Builder {
	return NewBuilderWithClock(maxSamples, warningsAsPartial, clock.WallClock)
}

// NewBuilderWithClock creates a builder with a custom clock (for testing).
func NewBuilderWithClock(maxSamples int, warningsAsPartial bool, clk clock.Clock) *Builder {
	return &Builder{
		maxSamples:        maxSamples,
		warningsAsPartial: warningsAsPartial,
		clock:             clk,
	}
}

// Build derives the report and records the terminal state on the run. It reads the output
// directory once. A run that already ended keeps its state.
func (b *Builder) Build(ctx context.Context, in Input) models.RunReport {
	rep := models.RunReport{
		RunID:        in.Run.ID,
		Operation:    in.Run.Operation,
		StartedAt:    in.Run.StartedAt,
		Duration:     b.clock.Now().Sub(in.Run.StartedAt),
		OutputPath:   in.Run.OutputDir,
		WarningCount: in.Classification.Counts[models.SeverityWarning],
		ErrorCount:   in.Classification.Counts[models.SeverityError],
		ErrorSamples: classifier.ErrorSamples(in.Classification, b.maxSamples),
	}
	if in.Exit != nil {
		rep.ExitCode = in.Exit.ExitCode
	}

	if in.Run.OutputDir != "" {
		if _, err := os.Stat(in.Run.OutputDir); err == nil {
			stats, err := walk(ctx, in.Run.OutputDir, in.ProjectDir)
			if err != nil && in.Err == nil {
				in.Err = fmt.Errorf("accounting output directory: %w", err)
			}
			rep.TotalFiles = stats.files
			rep.TotalBytes = stats.bytes
			rep.Categories = stats.categories()
		} else {
			rep.OutputPath = ""
		}
	}

	in.Run.Finish(b.outcome(in, rep))
	rep.Status = in.Run.Status()
	if err := in.Run.Err(); err != nil {
		rep.FailureKind = failureKind(err)
		rep.ErrorMessage = err.Error()
	}

	return rep
}

// outcome decides the terminal state from the fatal error, the exit status and the totals.
func (b *Builder) outcome(in Input, rep models.RunReport) (models.RunStatus, error) {
	switch {
	case in.Err != nil:
		return models.StatusFailed, in.Err
	case in.Exit == nil || !in.Exit.Started:
		return models.StatusFailed, &outcomeError{kind: "ExecutionError", msg: "the tool was not started"}
	case rep.TotalFiles == 0:
		return models.StatusFailed, &outcomeError{kind: NoOutputKind, msg: "no files were produced"}
	case rep.ErrorCount > 0:
		return models.StatusPartial, nil
	case rep.WarningCount > 0 && b.warningsAsPartial:
		return models.StatusPartial, nil
	default:
		return models.StatusSuccess, nil
	}
}

// outcomeError is a failure detected after the tool ran rather than returned by it.
type outcomeError struct {
	kind string
	msg  string
}

func (e *outcomeError) Error() string { return e.msg }

func failureKind(err error) string {
	var oe *outcomeError
	if errors.As(err, &oe) {
		return oe.kind
	}
	return models.FailureKind(err)
}

type walkStats struct {
	files   int
	bytes   int64
	perType map[string]int
}

func (s walkStats) categories() []models.CategoryCount {
	if len(s.perType) == 0 {
		return nil
	}
	out := make([]models.CategoryCount, 0, len(s.perType))
	for name, n := range s.perType {
		out = append(out, models.CategoryCount{Name: name, Files: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Files != out[j].Files {
			return out[i].Files > out[j].Files
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// walk counts regular files below root. Files below projectDir are also counted per
// category, the first path component under it.
func walk(ctx context.Context, root, projectDir string) (walkStats, error) {
	stats := walkStats{perType: map[string]int{}}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		stats.files++
		stats.bytes += info.Size()

		if projectDir == "" {
			return nil
		}
		rel, err := filepath.Rel(projectDir, path)
		if err != nil {
			return nil
		}
		parts := strings.Split(filepath.ToSlash(rel), "/")
		if len(parts) >= 2 && parts[0] != ".." {
			stats.perType[parts[0]]++
		}
		return nil
	})
	return stats, err
}

// WriteJSON stores the report as indented JSON.
func WriteJSON(path string, rep models.RunReport) error {
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	return nil
}

// ReadJSON loads a report written by WriteJSON.
func ReadJSON(path string) (models.RunReport, error) {
	var rep models.RunReport
	data, err := os.ReadFile(path)
	if err != nil {
		return rep, err
	}
	if err := json.Unmarshal(data, &rep); err != nil {
		return rep, fmt.Errorf("decoding report: %w", err)
	}
	return rep, nil
}

// Elapsed rounds a duration for display.
func Elapsed(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(time.Second).String()
}
