// Package poller runs the read, parse and publish loop.
//
// The loop owns the only Reading. A line is applied to it only when it
// parses completely, then the whole reading is handed to every output.
// Errors in one iteration are logged and never stop the loop; Run returns
// when its context is cancelled.
package poller

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/ericogr/aeroponic-to-json/pkg/output"
	"github.com/ericogr/aeroponic-to-json/pkg/sensor"
	"github.com/rs/zerolog"
)

const permissionHint = "run as a user allowed to write there (e.g. sudo) or fix the directory permissions"

type Options struct {
	PollInterval time.Duration
	ErrorBackoff time.Duration
	Logger       zerolog.Logger
	Stats        *Stats

	// Now stamps accepted readings; time.Now when nil.
	Now func() time.Time
}

type Poller struct {
	source       sensor.Source
	outputs      []output.Entry
	log          zerolog.Logger
	stats        *Stats
	now          func() time.Time
	pollInterval time.Duration
	errorBackoff time.Duration

	reading sensor.Reading
}

func New(src sensor.Source, outputs []output.Entry, opts Options) *Poller {
	p := &Poller{
		source:       src,
		outputs:      outputs,
		log:          opts.Logger,
		stats:        opts.Stats,
		now:          opts.Now,
		pollInterval: opts.PollInterval,
		errorBackoff: opts.ErrorBackoff,
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p
}

// Reading returns a copy of the current reading.
func (p *Poller) Reading() sensor.Reading { return p.reading }

// Run polls until ctx is cancelled. It always returns nil; the source is
// closed by the caller.
func (p *Poller) Run(ctx context.Context) error {
	p.log.Info().Msg("waiting for data")
	for {
		if ctx.Err() != nil {
			return nil
		}
		wait := p.pollInterval
		if err := p.Step(); err != nil {
			p.log.Error().Err(err).Dur("backoff", p.errorBackoff).Msg("poll iteration failed")
			p.count(func(s *Stats) { s.IterationErrors.Inc() })
			wait = p.errorBackoff
		}
		if !Sleep(ctx, wait) {
			return nil
		}
	}
}

// Step handles at most one line. The returned error concerns the iteration
// itself (read failure or panic); rejected lines and output failures are
// logged and not returned.
func (p *Poller) Step() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while processing line: %v", r)
		}
	}()

	raw, ok, err := p.source.Poll()
	if err != nil {
		return fmt.Errorf("read line: %w", err)
	}
	if !ok {
		return nil
	}
	p.count(func(s *Stats) { s.LinesRead.Inc() })

	line := sensor.DecodeLine(raw)
	u, err := sensor.ParseLine(line)
	switch {
	case err == nil:
	case errors.Is(err, sensor.ErrEmpty):
		return nil
	case errors.Is(err, sensor.ErrInvalidValue):
		p.log.Warn().Err(err).Str("line", line).Msg("line rejected")
		p.count(func(s *Stats) { s.LinesRejected.Inc() })
		return nil
	default:
		p.log.Debug().Err(err).Str("line", line).Msg("line ignored")
		p.count(func(s *Stats) { s.LinesRejected.Inc() })
		return nil
	}

	p.reading.Apply(u, p.now())
	p.count(func(s *Stats) { s.Updates.Inc() })
	p.publish()
	return nil
}

func (p *Poller) publish() {
	for _, e := range p.outputs {
		if err := e.Output.Publish(p.reading); err != nil {
			p.count(func(s *Stats) { s.PublishErrors.Inc() })
			ev := p.log.Error().Err(err).Str("output", e.Name)
			if errors.Is(err, fs.ErrPermission) {
				ev = ev.Str("hint", permissionHint)
			}
			ev.Msg("publish failed")
			continue
		}
		p.log.Debug().Str("output", e.Name).Msg("reading published")
	}
	p.log.Info().
		Float64("temperature", p.reading.Temperature).
		Float64("humidity", p.reading.Humidity).
		Int("luminosity", p.reading.Luminosity).
		Str("timestamp", p.reading.FormattedTimestamp()).
		Msg("reading updated")
}

func (p *Poller) count(f func(*Stats)) {
	if p.stats != nil {
		f(p.stats)
	}
}

// Sleep waits for d or until ctx is done; it reports whether ctx is still live.
func Sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
