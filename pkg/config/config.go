package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	OutputJSON     = "json"
	OutputConsole  = "console"
	OutputMQTT     = "mqtt"
	OutputPromFile = "promfile"

	SensorSerial     = "serial"
	SensorSimulation = "simulation"

	envPrefix = "AEROPONIC"
)

type MQTTConfig struct {
	Server            string `json:"server" mapstructure:"server"`
	Username          string `json:"username" mapstructure:"username"`
	Password          string `json:"password" mapstructure:"password"`
	ClientID          string `json:"client_id" mapstructure:"client_id"`
	StateTopic        string `json:"state_topic" mapstructure:"state_topic"`
	DiscoveryTopic    string `json:"discovery_topic,omitempty" mapstructure:"discovery_topic"`
	DiscoveryName     string `json:"discovery_name,omitempty" mapstructure:"discovery_name"`
	DiscoveryUniqueID string `json:"discovery_unique_id,omitempty" mapstructure:"discovery_unique_id"`
}

type OutputConfig struct {
	Type string      `json:"type" mapstructure:"type"`
	Path string      `json:"path,omitempty" mapstructure:"path"`
	MQTT *MQTTConfig `json:"mqtt,omitempty" mapstructure:"mqtt"`
}

type SerialConfig struct {
	Port     string `json:"port" mapstructure:"port"`
	BaudRate int    `json:"baud_rate" mapstructure:"baud_rate"`
	SettleMs int    `json:"settle_ms" mapstructure:"settle_ms"`

	// ReadTimeoutMs bounds a single blocking read; the poll interval is used when zero.
	ReadTimeoutMs int `json:"read_timeout_ms,omitempty" mapstructure:"read_timeout_ms"`
}

type Config struct {
	Serial         SerialConfig   `json:"serial" mapstructure:"serial"`
	SensorType     string         `json:"sensor_type" mapstructure:"sensor_type"`
	PollIntervalMs int            `json:"poll_interval_ms" mapstructure:"poll_interval_ms"`
	ErrorBackoffMs int            `json:"error_backoff_ms" mapstructure:"error_backoff_ms"`
	LogLevel       string         `json:"log_level" mapstructure:"log_level"`
	Outputs        []OutputConfig `json:"outputs" mapstructure:"outputs"`
}

func DefaultConfig() Config {
	return Config{
		Serial: SerialConfig{
			Port:     "/dev/ttyACM0",
			BaudRate: 9600,
			SettleMs: 2000,
		},
		SensorType:     SensorSerial,
		PollIntervalMs: 100,
		ErrorBackoffMs: 1000,
		LogLevel:       "info",
		Outputs: []OutputConfig{
			{Type: OutputJSON, Path: "/var/www/html/data.json"},
			{Type: OutputConsole},
		},
	}
}

// BindFlags registers the command line flags. Defaults come from DefaultConfig.
func BindFlags(fs *pflag.FlagSet) {
	d := DefaultConfig()
	fs.StringP("config", "c", "", "Path to JSON or YAML config file")
	fs.StringP("port", "p", d.Serial.Port, "Serial device (e.g. /dev/ttyACM0, /dev/ttyUSB0, COM3)")
	fs.IntP("baud", "b", d.Serial.BaudRate, "Serial baud rate, must match the board")
	fs.Int("settle-ms", d.Serial.SettleMs, "Pause after opening the port before reading")
	fs.String("sensor-type", d.SensorType, "sensor type: serial|simulation")
	fs.Int("poll-interval-ms", d.PollIntervalMs, "Pause between two polls of the serial port")
	fs.Int("error-backoff-ms", d.ErrorBackoffMs, "Pause after a failed poll iteration")
	fs.String("log-level", d.LogLevel, "Log level (debug, info, warn, error)")
	fs.StringP("output", "o", "", "Path of the JSON file read by the web page")
	fs.String("outputs", "", "Comma-separated outputs (json,console,mqtt,promfile)")
	fs.String("metrics-file", "", "Path of the Prometheus textfile (enables the promfile output)")
	fs.String("mqtt-server", "", "MQTT server (tcp://host:port)")
	fs.String("mqtt-user", "", "MQTT username")
	fs.String("mqtt-pass", "", "MQTT password")
	fs.String("mqtt-client-id", "", "MQTT client id")
	fs.String("mqtt-topic", "", "MQTT state topic")
	fs.String("mqtt-discovery-topic", "", "Home Assistant discovery topic, %s is replaced by the field name")
}

// Load builds the configuration from defaults, an optional config file,
// AEROPONIC_* environment variables and flags, in increasing priority.
func Load(v *viper.Viper, fs *pflag.FlagSet) (Config, error) {
	cfg := DefaultConfig()

	binds := map[string]string{
		"serial.port":      "port",
		"serial.baud_rate": "baud",
		"serial.settle_ms": "settle-ms",
		"sensor_type":      "sensor-type",
		"poll_interval_ms": "poll-interval-ms",
		"error_backoff_ms": "error-backoff-ms",
		"log_level":        "log-level",
	}
	for key, name := range binds {
		if f := fs.Lookup(name); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return cfg, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path, _ := fs.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
	}

	defaultOutputs := cfg.Outputs
	cfg.Outputs = nil
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if len(cfg.Outputs) == 0 {
		cfg.Outputs = defaultOutputs
	}

	if err := applyOutputFlags(&cfg, fs); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func applyOutputFlags(cfg *Config, fs *pflag.FlagSet) error {
	get := func(name string) string {
		s, _ := fs.GetString(name)
		return s
	}

	if s := get("outputs"); s != "" {
		// keep settings of outputs that are still requested
		prev := map[string]OutputConfig{}
		for _, o := range cfg.Outputs {
			prev[o.Type] = o
		}
		parts := parseCSV(s)
		outs := make([]OutputConfig, 0, len(parts))
		for _, p := range parts {
			t := strings.ToLower(p)
			if o, ok := prev[t]; ok {
				outs = append(outs, o)
				continue
			}
			outs = append(outs, OutputConfig{Type: t})
		}
		cfg.Outputs = outs
	}

	if path := get("output"); path != "" {
		setPath(cfg, OutputJSON, path)
	}
	if path := get("metrics-file"); path != "" {
		setPath(cfg, OutputPromFile, path)
	}
	// default paths for outputs requested without one
	for i := range cfg.Outputs {
		if cfg.Outputs[i].Type == OutputJSON && cfg.Outputs[i].Path == "" {
			cfg.Outputs[i].Path = DefaultConfig().Outputs[0].Path
		}
	}

	server, user, pass := get("mqtt-server"), get("mqtt-user"), get("mqtt-pass")
	clientID, topic, discovery := get("mqtt-client-id"), get("mqtt-topic"), get("mqtt-discovery-topic")
	if server == "" && user == "" && pass == "" && clientID == "" && topic == "" && discovery == "" {
		return nil
	}
	// Apply MQTT flags to all mqtt outputs; if none exist, create one.
	apply := func(m *MQTTConfig) {
		if server != "" {
			m.Server = server
		}
		if user != "" {
			m.Username = user
		}
		if pass != "" {
			m.Password = pass
		}
		if clientID != "" {
			m.ClientID = clientID
		}
		if topic != "" {
			m.StateTopic = topic
		}
		if discovery != "" {
			m.DiscoveryTopic = discovery
		}
	}
	applied := false
	for i := range cfg.Outputs {
		if cfg.Outputs[i].Type != OutputMQTT {
			continue
		}
		if cfg.Outputs[i].MQTT == nil {
			cfg.Outputs[i].MQTT = &MQTTConfig{}
		}
		apply(cfg.Outputs[i].MQTT)
		applied = true
	}
	if !applied {
		out := OutputConfig{Type: OutputMQTT, MQTT: &MQTTConfig{}}
		apply(out.MQTT)
		cfg.Outputs = append(cfg.Outputs, out)
	}
	return nil
}

// setPath sets the path of the first output of type t, adding one if missing.
func setPath(cfg *Config, t, path string) {
	for i := range cfg.Outputs {
		if cfg.Outputs[i].Type == t {
			cfg.Outputs[i].Path = path
			return
		}
	}
	cfg.Outputs = append(cfg.Outputs, OutputConfig{Type: t, Path: path})
}

func (c Config) Validate() error {
	if c.SensorType == SensorSerial {
		if c.Serial.Port == "" {
			return errors.New("serial port must be set")
		}
		if c.Serial.BaudRate <= 0 {
			return errors.New("baud rate must be > 0")
		}
	} else if c.SensorType != SensorSimulation {
		return fmt.Errorf("unknown sensor type %q", c.SensorType)
	}
	if c.PollIntervalMs < 0 || c.ErrorBackoffMs < 0 || c.Serial.SettleMs < 0 {
		return errors.New("intervals must be >= 0")
	}
	if _, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel)); err != nil {
		return fmt.Errorf("unknown log level %q", c.LogLevel)
	}
	if len(c.Outputs) == 0 {
		return errors.New("at least one output is required")
	}
	for _, o := range c.Outputs {
		switch o.Type {
		case OutputJSON, OutputPromFile:
			if o.Path == "" {
				return fmt.Errorf("%s output requires a path", o.Type)
			}
		case OutputMQTT:
			if o.MQTT == nil || o.MQTT.Server == "" {
				return errors.New("mqtt output requires a server")
			}
		case OutputConsole:
		default:
			return fmt.Errorf("unknown output type %q", o.Type)
		}
	}
	return nil
}

func parseCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
