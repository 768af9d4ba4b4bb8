// Package classifier sorts the external tool's output lines into severities.
package classifier

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"sync"

	"github.com/fgeck/dynabackup/internal/models"
)

// maxLineSize bounds a single output line; longer lines are split.
const maxLineSize = 1 << 20

// Rule assigns Severity to lines matching Pattern.
type Rule struct {
	Name     string
	Pattern  *regexp.Regexp
	Severity models.Severity
}

// Only explicit level markers count. An optional RFC3339 timestamp may precede the level
// token, which is how monaco prints its console log.
const timestampPrefix = `^(?:\d{4}-\d{2}-\d{2}[T ][0-9:.]+(?:Z|[+-]\d{2}:?\d{2})?\s+)?`

// DefaultRules returns the marker set used for monaco output. Errors are matched first.
func DefaultRules() []Rule {
	return []Rule{
		{Name: "error-level", Pattern: regexp.MustCompile(timestampPrefix + `(?i:error|fatal)(?:\s|:|$)`), Severity: models.SeverityError},
		{Name: "error-bracket", Pattern: regexp.MustCompile(`\[(?i:error|fatal)\]`), Severity: models.SeverityError},
		{Name: "error-logfmt", Pattern: regexp.MustCompile(`(?:^|\s)level=(?i:error|fatal)\b`), Severity: models.SeverityError},
		{Name: "error-json", Pattern: regexp.MustCompile(`"level"\s*:\s*"(?i:error|fatal)"`), Severity: models.SeverityError},
		{Name: "warn-level", Pattern: regexp.MustCompile(timestampPrefix + `(?i:warn|warning)(?:\s|:|$)`), Severity: models.SeverityWarning},
		{Name: "warn-bracket", Pattern: regexp.MustCompile(`\[(?i:warn|warning)\]`), Severity: models.SeverityWarning},
		{Name: "warn-logfmt", Pattern: regexp.MustCompile(`(?:^|\s)level=(?i:warn|warning)\b`), Severity: models.SeverityWarning},
		{Name: "warn-json", Pattern: regexp.MustCompile(`"level"\s*:\s*"(?i:warn|warning)"`), Severity: models.SeverityWarning},
	}
}

// LineHandler is called for every line in emission order.
type LineHandler func(line models.ClassifiedLine, severity models.Severity)

// Classifier accumulates a Classification from a line stream.
type Classifier struct {
	rules []Rule

	mu     sync.Mutex
	lines  map[models.Severity][]models.ClassifiedLine
	counts map[models.Severity]int
	next   int
}

// New creates a classifier. A nil rule set uses DefaultRules.
func New(rules []Rule) *Classifier {
	if rules == nil {
		rules = DefaultRules()
	}
	return &Classifier{
		rules:  rules,
		lines:  map[models.Severity][]models.ClassifiedLine{},
		counts: map[models.Severity]int{},
	}
}

// Classify returns the severity of the first matching rule, or info.
func (c *Classifier) Classify(text string) models.Severity {
	for _, r := range c.rules {
		if r.Pattern.MatchString(text) {
			return r.Severity
		}
	}
	return models.SeverityInfo
}

// Add classifies and records one line.
func (c *Classifier) Add(text string) (models.ClassifiedLine, models.Severity) {
	sev := c.Classify(text)

	c.mu.Lock()
	defer c.mu.Unlock()

	line := models.ClassifiedLine{Index: c.next, Text: text}
	c.next++
	c.lines[sev] = append(c.lines[sev], line)
	c.counts[sev]++
	return line, sev
}

// Consume reads r until EOF. onLine may be nil.
func (c *Classifier) Consume(r io.Reader, onLine LineHandler) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	scanner.Split(scanLinesSplitting)

	for scanner.Scan() {
		line, sev := c.Add(scanner.Text())
		if onLine != nil {
			onLine(line, sev)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading output: %w", err)
	}
	return nil
}

// Record returns a snapshot of everything classified so far.
func (c *Classifier) Record() models.Classification {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := models.Classification{
		Lines:  make(map[models.Severity][]models.ClassifiedLine, len(c.lines)),
		Counts: make(map[models.Severity]int, len(c.counts)),
	}
	for sev, lines := range c.lines {
		out.Lines[sev] = append([]models.ClassifiedLine(nil), lines...)
	}
	for sev, n := range c.counts {
		out.Counts[sev] = n
	}
	return out
}

// ErrorSamples returns the text of the first k error lines.
func ErrorSamples(rec models.Classification, k int) []string {
	errs := rec.Lines[models.SeverityError]
	if k > len(errs) {
		k = len(errs)
	}
	out := make([]string, 0, k)
	for _, l := range errs[:k] {
		out = append(out, l.Text)
	}
	return out
}

// scanLinesSplitting behaves like bufio.ScanLines but emits over-long lines in pieces
// instead of failing with bufio.ErrTooLong.
func scanLinesSplitting(data []byte, atEOF bool) (int, []byte, error) {
	advance, token, err := bufio.ScanLines(data, atEOF)
	if advance == 0 && token == nil && err == nil && len(data) >= maxLineSize {
		return maxLineSize, data[:maxLineSize], nil
	}
	return advance, token, err
}

