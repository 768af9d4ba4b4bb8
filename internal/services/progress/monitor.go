// Package progress samples the growing export directory while the child runs.
package progress

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fgeck/dynabackup/internal/models"
	"github.com/juju/clock"
	"github.com/rs/zerolog"
)

// Emitter receives each sample.
type Emitter func(models.ProgressSample)

// Counter counts files below dir, stopping early when ctx ends.
type Counter func(ctx context.Context, dir string) (int, error)

// Monitor produces a ProgressSample every interval.
type Monitor struct {
	interval time.Duration
	clock    clock.Clock
	count    Counter
	logger   zerolog.Logger
}

// New creates a monitor that counts regular files.
func New(logger zerolog.Logger, interval time.Duration) *Monitor {
	return NewWithClock(logger, interval, clock.WallClock, CountFiles)
}

// NewWithClock creates a monitor with a custom clock and counter (for testing).
func NewWithClock(logger zerolog.Logger, interval time.Duration, clk clock.Clock, count Counter) *Monitor {
	return &Monitor{
		interval: interval,
		clock:    clk,
		count:    count,
		logger:   logger,
	}
}

// Run samples dir until ctx is cancelled. A count still in flight at cancellation is
// given at most one more interval to notice ctx and finish.
func (m *Monitor) Run(ctx context.Context, dir string, emit Emitter) {
	start := m.clock.Now()
	lastAt := start
	lastFiles := 0

	results := make(chan int, 1)
	busy := false

	timer := m.clock.NewTimer(m.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if busy {
				select {
				case <-results:
				case <-m.clock.After(m.interval):
				}
			}
			return

		case <-timer.Chan():
			timer.Reset(m.interval)
			if busy {
				m.logger.Debug().Msg("previous progress sample still running, skipping")
				continue
			}
			busy = true
			go func() {
				n, err := m.count(ctx, dir)
				if err != nil {
					n = -1
				}
				results <- n
			}()

		case n := <-results:
			busy = false
			if n < 0 {
				continue
			}
			now := m.clock.Now()
			sample := models.ProgressSample{
				Elapsed: now.Sub(start),
				Files:   n,
			}
			if dt := now.Sub(lastAt).Seconds(); dt > 0 {
				sample.Rate = float64(n-lastFiles) / dt
			}
			lastAt, lastFiles = now, n
			if emit != nil {
				emit(sample)
			}
		}
	}
}

// CountFiles counts regular files below dir. A missing dir counts as zero.
func CountFiles(ctx context.Context, dir string) (int, error) {
	n := 0
	err := filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.Type().IsRegular() {
			n++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}
