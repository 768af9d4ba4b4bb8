package main

import (
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/fgeck/dynabackup/internal/models"
	"github.com/fgeck/dynabackup/internal/services/report"
	"golang.org/x/term"
)

// progressPrinter redraws a single status line on an interactive terminal.
type progressPrinter struct {
	out     io.Writer
	enabled bool
	drawn   bool
}

func newProgressPrinter() *progressPrinter {
	return &progressPrinter{
		out:     os.Stderr,
		enabled: !jsonOutput && !quiet && term.IsTerminal(int(os.Stderr.Fd())),
	}
}

func (p *progressPrinter) Sample(s models.ProgressSample) {
	if !p.enabled {
		return
	}
	fmt.Fprintf(p.out, "\r\033[K  %s files exported (%.1f files/s, %s elapsed)",
		humanize.Comma(int64(s.Files)), s.Rate, report.Elapsed(s.Elapsed))
	p.drawn = true
}

// Done terminates the status line so that later output starts on a fresh line.
func (p *progressPrinter) Done() {
	if p.drawn {
		fmt.Fprintln(p.out)
		p.drawn = false
	}
}
