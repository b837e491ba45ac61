package poller

import "github.com/VictoriaMetrics/metrics"

// Stats counts what the loop did. The counters live in a metrics.Set so the
// promfile output can export them.
type Stats struct {
	LinesRead       *metrics.Counter
	LinesRejected   *metrics.Counter
	Updates         *metrics.Counter
	PublishErrors   *metrics.Counter
	IterationErrors *metrics.Counter
}

func NewStats(set *metrics.Set) *Stats {
	return &Stats{
		LinesRead:       set.NewCounter("aeroponic_lines_read_total"),
		LinesRejected:   set.NewCounter("aeroponic_lines_rejected_total"),
		Updates:         set.NewCounter("aeroponic_updates_total"),
		PublishErrors:   set.NewCounter("aeroponic_publish_errors_total"),
		IterationErrors: set.NewCounter("aeroponic_iteration_errors_total"),
	}
}
