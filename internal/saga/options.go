package saga

import (
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultTimeout       = 5 * time.Minute
	DefaultSweepInterval = 60 * time.Second
	DefaultRetention     = 60 * time.Second
)

type Option func(*Orchestrator)

func WithClock(c clockwork.Clock) Option {
	return func(o *Orchestrator) { o.clock = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithTimeout sets the age after which a non-terminal saga is compensated.
func WithTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.timeout = d }
}

func WithSweepInterval(d time.Duration) Option {
	return func(o *Orchestrator) { o.sweepInterval = d }
}

// WithRetention sets how long a terminal saga stays queryable in memory.
func WithRetention(d time.Duration) Option {
	return func(o *Orchestrator) { o.retention = d }
}

func WithJournal(j Journal) Option {
	return func(o *Orchestrator) { o.journal = j }
}

func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}
