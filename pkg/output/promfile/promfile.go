// Package promfile exposes the latest reading and the loop counters as a
// Prometheus textfile, for node_exporter's textfile collector.
package promfile

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/VictoriaMetrics/metrics"
	"github.com/ericogr/aeroponic-to-json/pkg/output"
	"github.com/ericogr/aeroponic-to-json/pkg/sensor"
)

type PromFileOutput struct {
	path   string
	gauges *metrics.Set
	shared *metrics.Set
	last   sensor.Reading
}

// NewPromFile keeps its reading gauges in a set of its own, so several
// textfiles can coexist. The shared set, holding the loop counters, is
// appended to every file.
func NewPromFile(path string, shared *metrics.Set) output.Output {
	gauges := metrics.NewSet()
	p := &PromFileOutput{path: path, gauges: gauges, shared: shared}
	gauges.NewGauge("aeroponic_temperature_celsius", func() float64 { return p.last.Temperature })
	gauges.NewGauge("aeroponic_humidity_percent", func() float64 { return p.last.Humidity })
	gauges.NewGauge("aeroponic_luminosity_lux", func() float64 { return float64(p.last.Luminosity) })
	gauges.NewGauge("aeroponic_last_update_timestamp_seconds", func() float64 {
		if p.last.Timestamp.IsZero() {
			return 0
		}
		return float64(p.last.Timestamp.Unix())
	})
	return p
}

// Publish rewrites the textfile through a temporary file and a rename so the
// collector never reads a partial file.
func (p *PromFileOutput) Publish(r sensor.Reading) error {
	p.last = r
	var buf bytes.Buffer
	p.gauges.WritePrometheus(&buf)
	if p.shared != nil {
		p.shared.WritePrometheus(&buf)
	}

	dir := filepath.Dir(p.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}
	tmp := p.path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, p.path); err != nil {
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}

func (p *PromFileOutput) Close() error { return nil }
