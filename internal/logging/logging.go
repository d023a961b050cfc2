// Copyright 2026 The Exposure Engine Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package logging provides the charmbracelet/log logger threaded through
// context.Context that the CLI and batch driver use for progress and
// per-candidate tracing, grounded on stacktower's internal/cli logging
// helper.
package logging

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// New creates a logger writing to w at the given level, with the same
// timestamp formatting stacktower uses.
func New(w io.Writer, level log.Level) *log.Logger {
	return log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      "15:04:05.00",
		Level:           level,
	})
}

type ctxKey int

const loggerKey ctxKey = 0

// WithLogger attaches l to ctx.
func WithLogger(ctx context.Context, l *log.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// FromContext retrieves the attached logger, or log.Default() if none was
// attached — batch workers and tests can always log safely.
func FromContext(ctx context.Context) *log.Logger {
	if l, ok := ctx.Value(loggerKey).(*log.Logger); ok {
		return l
	}
	return log.Default()
}

// Progress tracks an operation's start time plus a set of named counters
// accumulated as work completes, used by the batch driver's errgroup
// worker pool to tally exposure outcomes (resolved, and one count per
// §7 FailReason) as they stream in; the tally is logged once, by Done.
// Count is safe to call from multiple
// goroutines; Done is not, and should only be called once all workers
// have finished.
type Progress struct {
	logger *log.Logger
	start  time.Time

	mu     sync.Mutex
	counts map[string]int
}

// NewProgress starts a progress tracker against l.
func NewProgress(l *log.Logger) *Progress {
	return &Progress{logger: l, start: time.Now(), counts: make(map[string]int)}
}

// Count increments the named counter by one.
func (p *Progress) Count(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.counts[name]++
}

// Done logs msg with the elapsed time since the tracker started, rounded
// to the nearest millisecond, followed by the accumulated counter tally
// if Count was ever called.
func (p *Progress) Done(msg string) {
	p.logger.Infof("%s (%s)", msg, time.Since(p.start).Round(time.Millisecond))
	if len(p.counts) > 0 {
		p.logger.Info("counts", "breakdown", p.counts)
	}
}
