package mqtt

import (
	"encoding/json"
	"fmt"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/ericogr/aeroponic-to-json/pkg/config"
	"github.com/ericogr/aeroponic-to-json/pkg/output"
	"github.com/ericogr/aeroponic-to-json/pkg/sensor"
	"github.com/rs/zerolog"
)

const (
	// defaults
	DefaultClientID   = "aeroponic-reader"
	DefaultStateTopic = "aeroponic/state"
	// discovery payload keys/values
	keyName                = "name"
	keyStateTopic          = "state_topic"
	keyUnitOfMeasurement   = "unit_of_measurement"
	keyDeviceClass         = "device_class"
	keyStateClass          = "state_class"
	keyValueTemplate       = "value_template"
	keyJSONAttributesTopic = "json_attributes_topic"
	keyUniqueID            = "unique_id"
	stateClassMeasurement  = "measurement"

	disconnectQuiesceMs = 250
)

// field describes one value of the JSON state document for discovery.
type field struct {
	key         string
	label       string
	unit        string
	deviceClass string
}

var fields = []field{
	{key: "temperature", label: "temperature", unit: "°C", deviceClass: "temperature"},
	{key: "humidite", label: "humidity", unit: "%", deviceClass: "humidity"},
	{key: "luminosite", label: "illuminance", unit: "lx", deviceClass: "illuminance"},
}

type MQTTOutput struct {
	client     mqtt.Client
	stateTopic string
}

func NewMQTT(cfg config.MQTTConfig, log zerolog.Logger) (output.Output, error) {
	cfg = withDefaults(cfg)
	opts := mqtt.NewClientOptions().AddBroker(cfg.Server).SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	client := mqtt.NewClient(opts)
	token := client.Connect()
	if token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect: %w", token.Error())
	}
	return newWithClient(client, cfg, log), nil
}

// newWithClient wraps a connected client and publishes Home Assistant
// discovery payloads when a discovery topic is configured.
func newWithClient(client mqtt.Client, cfg config.MQTTConfig, log zerolog.Logger) *MQTTOutput {
	m := &MQTTOutput{client: client, stateTopic: cfg.StateTopic}
	if cfg.DiscoveryTopic == "" {
		return m
	}
	for _, f := range fields {
		dTopic := discoveryTopic(cfg.DiscoveryTopic, f)
		payload := baseDiscoveryPayload(discoveryName(cfg, f), m.stateTopic, discoveryUniqueID(cfg, f), f)
		if err := publishJSON(client, dTopic, true, payload); err != nil {
			log.Warn().Err(err).Str("topic", dTopic).Msg("mqtt discovery publish failed")
		}
	}
	return m
}

func withDefaults(cfg config.MQTTConfig) config.MQTTConfig {
	if cfg.ClientID == "" {
		cfg.ClientID = DefaultClientID
	}
	if cfg.StateTopic == "" {
		cfg.StateTopic = DefaultStateTopic
	}
	return cfg
}

// Publish sends the same document as the JSON file, retained so that new
// subscribers get the latest reading immediately.
func (m *MQTTOutput) Publish(r sensor.Reading) error {
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return m.PublishRaw(m.stateTopic, b, true)
}

func (m *MQTTOutput) Close() error {
	if m.client != nil {
		m.client.Disconnect(disconnectQuiesceMs)
	}
	return nil
}

// PublishRaw publishes a raw payload to the given topic. The caller can set the
// retain flag which is useful for discovery messages.
func (m *MQTTOutput) PublishRaw(topic string, payload []byte, retained bool) error {
	if m.client == nil {
		return fmt.Errorf("mqtt client not connected")
	}
	token := m.client.Publish(topic, 0, retained, payload)
	token.Wait()
	return token.Error()
}

// helper: discovery topics may contain %s, replaced by the field label
func discoveryTopic(base string, f field) string {
	if strings.Contains(base, "%s") {
		return fmt.Sprintf(base, f.label)
	}
	return strings.TrimSuffix(base, "/") + "/" + f.label + "/config"
}

// helper: build a human-friendly discovery name
func discoveryName(cfg config.MQTTConfig, f field) string {
	name := cfg.DiscoveryName
	if name == "" {
		name = fmt.Sprintf("Aeroponic %s", cfg.ClientID)
	}
	return fmt.Sprintf("%s %s", name, f.label)
}

// helper: build a unique id for discovery
func discoveryUniqueID(cfg config.MQTTConfig, f field) string {
	uid := cfg.DiscoveryUniqueID
	if uid == "" {
		uid = cfg.ClientID
	}
	if uid == "" {
		return ""
	}
	return fmt.Sprintf("%s_%s", uid, f.label)
}

// helper: base discovery payload map common to all entries
func baseDiscoveryPayload(name, stateTopic, uniqueID string, f field) map[string]interface{} {
	payload := map[string]interface{}{
		keyName:                name,
		keyStateTopic:          stateTopic,
		keyUnitOfMeasurement:   f.unit,
		keyDeviceClass:         f.deviceClass,
		keyStateClass:          stateClassMeasurement,
		keyValueTemplate:       fmt.Sprintf("{{ value_json.%s }}", f.key),
		keyJSONAttributesTopic: stateTopic,
	}
	if uniqueID != "" {
		payload[keyUniqueID] = uniqueID
	}
	return payload
}

// helper: marshal and publish JSON payload
func publishJSON(client mqtt.Client, topic string, retained bool, payload map[string]interface{}) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	token := client.Publish(topic, 0, retained, b)
	token.Wait()
	return token.Error()
}
