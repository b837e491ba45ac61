package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/ericogr/aeroponic-to-json/pkg/config"
	"github.com/ericogr/aeroponic-to-json/pkg/output"
	"github.com/ericogr/aeroponic-to-json/pkg/output/console"
	"github.com/ericogr/aeroponic-to-json/pkg/output/jsonfile"
	"github.com/ericogr/aeroponic-to-json/pkg/output/mqtt"
	"github.com/ericogr/aeroponic-to-json/pkg/output/promfile"
	"github.com/ericogr/aeroponic-to-json/pkg/poller"
	"github.com/ericogr/aeroponic-to-json/pkg/sensor"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// errOpenSource is returned when the device cannot be opened; guidance has
// already been logged.
var errOpenSource = errors.New("cannot open sensor source")

func main() {
	cmd := newRootCmd()
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, errOpenSource) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "aeroponic-to-json",
		Short: "Read the aeroponic tower sensors from a serial port into a JSON file",
		Long: `aeroponic-to-json reads "temp:<float>,humi:<float>,lumi:<float>" lines sent
by the sensor board over a serial port and rewrites a JSON file with the latest
values after every valid line. The web page polls that file.

Examples:
  aeroponic-to-json --port /dev/ttyACM0 --output /var/www/html/data.json
  aeroponic-to-json --sensor-type simulation --output ./data.json
  aeroponic-to-json --config /etc/aeroponic.yaml`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	config.BindFlags(cmd.Flags())
	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(viper.New(), cmd.Flags())
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return run(ctx, cfg, newLogger(cfg.LogLevel))
	}
	return cmd
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.DateTime}).
		Level(lvl).
		With().Timestamp().Logger()
}

func run(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
	outTypes := make([]string, 0, len(cfg.Outputs))
	for _, o := range cfg.Outputs {
		outTypes = append(outTypes, o.Type)
	}
	log.Info().
		Str("sensor", cfg.SensorType).
		Str("port", cfg.Serial.Port).
		Int("baud", cfg.Serial.BaudRate).
		Strs("outputs", outTypes).
		Msg("aeroponic tower data collector starting")

	src, err := openSource(cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := src.Close(); err != nil {
			log.Warn().Err(err).Msg("close sensor source")
			return
		}
		log.Info().Msg("sensor source closed")
	}()

	if !poller.Sleep(ctx, time.Duration(cfg.Serial.SettleMs)*time.Millisecond) {
		log.Info().Msg("interrupted before the connection settled")
		return nil
	}
	log.Info().Msg("connection established")

	set := metrics.NewSet()
	stats := poller.NewStats(set)
	entries, err := initOutputs(cfg, set, log)
	if err != nil {
		return err
	}
	defer closeOutputs(entries, log)

	p := poller.New(src, entries, poller.Options{
		PollInterval: time.Duration(cfg.PollIntervalMs) * time.Millisecond,
		ErrorBackoff: time.Duration(cfg.ErrorBackoffMs) * time.Millisecond,
		Logger:       log,
		Stats:        stats,
	})
	err = p.Run(ctx)
	log.Info().
		Uint64("lines", stats.LinesRead.Get()).
		Uint64("updates", stats.Updates.Get()).
		Uint64("rejected", stats.LinesRejected.Get()).
		Uint64("publish_errors", stats.PublishErrors.Get()).
		Msg("shutting down")
	return err
}

func openSource(cfg config.Config, log zerolog.Logger) (sensor.Source, error) {
	pollInterval := time.Duration(cfg.PollIntervalMs) * time.Millisecond
	if cfg.SensorType == config.SensorSimulation {
		log.Warn().Msg("using simulated sensor data")
		return sensor.NewFakeSource(time.Second, time.Now().UnixNano()), nil
	}

	sc := cfg.Serial
	if sc.ReadTimeoutMs == 0 {
		sc.ReadTimeoutMs = int(pollInterval / time.Millisecond)
	}
	log.Info().Str("port", sc.Port).Int("baud", sc.BaudRate).Msg("connecting to serial port")
	src, err := sensor.OpenSerial(sc)
	if err != nil {
		log.Error().Err(err).Str("port", sc.Port).Msg("cannot open serial port")
		log.Error().Msg("check that the board is plugged in over USB")
		log.Error().Msg("check the port name (list candidates with: ls /dev/tty*)")
		log.Error().Msg("check permissions (run with sudo or add the user to the dialout group)")
		return nil, fmt.Errorf("%w: %v", errOpenSource, err)
	}
	return src, nil
}

func initOutputs(cfg config.Config, set *metrics.Set, log zerolog.Logger) ([]output.Entry, error) {
	entries := make([]output.Entry, 0, len(cfg.Outputs))
	for _, oc := range cfg.Outputs {
		var out output.Output
		switch oc.Type {
		case config.OutputJSON:
			out = jsonfile.NewJSONFile(oc.Path)
		case config.OutputConsole:
			out = console.NewConsole()
		case config.OutputPromFile:
			out = promfile.NewPromFile(oc.Path, set)
		case config.OutputMQTT:
			if oc.MQTT == nil {
				closeOutputs(entries, log)
				return nil, fmt.Errorf("mqtt output missing configuration")
			}
			m, err := mqtt.NewMQTT(*oc.MQTT, log)
			if err != nil {
				closeOutputs(entries, log)
				return nil, err
			}
			out = m
		default:
			closeOutputs(entries, log)
			return nil, fmt.Errorf("unknown output type %q", oc.Type)
		}
		name := oc.Type
		if oc.Path != "" {
			name = oc.Type + ":" + oc.Path
		}
		entries = append(entries, output.Entry{Name: name, Output: out})
	}
	return entries, nil
}

func closeOutputs(entries []output.Entry, log zerolog.Logger) {
	for _, e := range entries {
		if err := e.Output.Close(); err != nil {
			log.Warn().Err(err).Str("output", e.Name).Msg("close output")
		}
	}
}
