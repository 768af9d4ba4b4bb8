// Package metrics exports the outcome of the last run for the node_exporter textfile collector.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fgeck/dynabackup/internal/models"
	"github.com/prometheus/client_golang/prometheus"
)

// FileName is the textfile written into the collector directory.
const FileName = "dynabackup.prom"

var statuses = []models.RunStatus{models.StatusSuccess, models.StatusPartial, models.StatusFailed}

// Exporter holds the last-run gauges on a private registry.
type Exporter struct {
	registry *prometheus.Registry

	status    *prometheus.GaugeVec
	duration  *prometheus.GaugeVec
	files     *prometheus.GaugeVec
	bytes     *prometheus.GaugeVec
	warnings  *prometheus.GaugeVec
	errors    *prometheus.GaugeVec
	timestamp *prometheus.GaugeVec
}

// NewExporter creates an exporter with all gauges registered.
func NewExporter() *Exporter {
	labels := []string{"operation"}
	e := &Exporter{
		registry: prometheus.NewRegistry(),
		status: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dynabackup_last_run_status",
			Help: "1 for the status of the last run, 0 for the others",
		}, []string{"operation", "status"}),
		duration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dynabackup_last_run_duration_seconds",
			Help: "Wall-clock duration of the last run in seconds",
		}, labels),
		files: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dynabackup_last_run_files",
			Help: "Number of exported files in the last run",
		}, labels),
		bytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dynabackup_last_run_bytes",
			Help: "Total size of exported files in the last run",
		}, labels),
		warnings: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dynabackup_last_run_warnings",
			Help: "Warning lines printed by monaco in the last run",
		}, labels),
		errors: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dynabackup_last_run_errors",
			Help: "Error lines printed by monaco in the last run",
		}, labels),
		timestamp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dynabackup_last_run_timestamp_seconds",
			Help: "Unix time the last run started",
		}, labels),
	}
	e.registry.MustRegister(e.status, e.duration, e.files, e.bytes, e.warnings, e.errors, e.timestamp)
	return e
}

// Observe records rep as the last run of its operation.
func (e *Exporter) Observe(rep models.RunReport) {
	op := string(rep.Operation)
	for _, s := range statuses {
		v := 0.0
		if s == rep.Status {
			v = 1
		}
		e.status.WithLabelValues(op, string(s)).Set(v)
	}
	e.duration.WithLabelValues(op).Set(rep.Duration.Seconds())
	e.files.WithLabelValues(op).Set(float64(rep.TotalFiles))
	e.bytes.WithLabelValues(op).Set(float64(rep.TotalBytes))
	e.warnings.WithLabelValues(op).Set(float64(rep.WarningCount))
	e.errors.WithLabelValues(op).Set(float64(rep.ErrorCount))
	e.timestamp.WithLabelValues(op).Set(float64(rep.StartedAt.Unix()))
}

// WriteTextfile writes the gauges to dir/FileName atomically.
func (e *Exporter) WriteTextfile(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating textfile directory: %w", err)
	}
	path := filepath.Join(dir, FileName)
	if err := prometheus.WriteToTextfile(path, e.registry); err != nil {
		return "", fmt.Errorf("writing metrics textfile: %w", err)
	}
	return path, nil
}
