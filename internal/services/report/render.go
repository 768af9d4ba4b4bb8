package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/fgeck/dynabackup/internal/models"
)

// maxRenderedCategories bounds the per-category listing.
const maxRenderedCategories = 10

// Render prints the operator summary of rep.
func Render(w io.Writer, rep models.RunReport) error {
	var b strings.Builder

	fmt.Fprintf(&b, "%s %s in %s\n", rep.Operation.Title(), strings.ToUpper(string(rep.Status)), Elapsed(rep.Duration))
	fmt.Fprintf(&b, "  Run:        %s\n", rep.RunID)
	if rep.OutputPath != "" {
		fmt.Fprintf(&b, "  Output:     %s\n", rep.OutputPath)
	}
	fmt.Fprintf(&b, "  Files:      %s (%s)\n", humanize.Comma(int64(rep.TotalFiles)), humanize.IBytes(uint64(rep.TotalBytes)))
	fmt.Fprintf(&b, "  Warnings:   %d\n", rep.WarningCount)
	fmt.Fprintf(&b, "  Errors:     %d\n", rep.ErrorCount)
	fmt.Fprintf(&b, "  Exit code:  %d\n", rep.ExitCode)

	if len(rep.Categories) > 0 {
		b.WriteString("  Categories:\n")
		for i, c := range rep.Categories {
			if i == maxRenderedCategories {
				fmt.Fprintf(&b, "    ... and %d more\n", len(rep.Categories)-maxRenderedCategories)
				break
			}
			fmt.Fprintf(&b, "    %-40s %s\n", c.Name, humanize.Comma(int64(c.Files)))
		}
	}

	if len(rep.ErrorSamples) > 0 {
		b.WriteString("  Error samples:\n")
		for _, line := range rep.ErrorSamples {
			fmt.Fprintf(&b, "    %s\n", line)
		}
	}

	if rep.Status == models.StatusFailed {
		fmt.Fprintf(&b, "  Failure:    %s: %s\n", rep.FailureKind, rep.ErrorMessage)
	}

	_, err := io.WriteString(w, b.String())
	return err
}
