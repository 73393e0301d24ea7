package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/ericogr/luxmeter/pkg/config"
	"github.com/ericogr/luxmeter/pkg/logger"
	"github.com/ericogr/luxmeter/pkg/output"
)

const (
	// defaults
	DefaultServer     = "tcp://localhost:1883"
	DefaultClientID   = "luxmeter-client"
	DefaultStateTopic = "luxmeter"
	perKindTopicFmt   = "%s/%s"
	// discovery payload keys/values
	keyName                = "name"
	keyStateTopic          = "state_topic"
	keyUnitOfMeasurement   = "unit_of_measurement"
	keyDeviceClass         = "device_class"
	keyStateClass          = "state_class"
	keyValueTemplate       = "value_template"
	keyJSONAttributesTopic = "json_attributes_topic"
	keyUniqueID            = "unique_id"
	unitLux                = "lx"
	unitCounts             = "counts"
	deviceClassIlluminance = "illuminance"
	stateClassMeasurement  = "measurement"
	valueTemplateValue     = "{{ value_json.value }}"
)

// MQTTOutput publishes every record as JSON. It cannot answer queries.
type MQTTOutput struct {
	client     mqtt.Client
	stateTopic string
	log        *slog.Logger
}

func NewMQTT(cfg config.MQTTConfig, log *slog.Logger) (*MQTTOutput, error) {
	if cfg.Server == "" {
		cfg.Server = DefaultServer
	}
	if cfg.ClientID == "" {
		cfg.ClientID = DefaultClientID
	}
	opts := mqtt.NewClientOptions().AddBroker(cfg.Server).SetClientID(cfg.ClientID).SetAutoReconnect(true)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	client := mqtt.NewClient(opts)
	token := client.Connect()
	if token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect: %w", token.Error())
	}
	return newMQTT(client, cfg, log), nil
}

func newMQTT(client mqtt.Client, cfg config.MQTTConfig, log *slog.Logger) *MQTTOutput {
	st := cfg.Topic
	if st == "" {
		st = DefaultStateTopic
	}
	m := &MQTTOutput{client: client, stateTopic: st, log: logger.OrDefault(log).With("component", "mqtt")}

	// Publish Home Assistant discovery payload(s) if requested
	if cfg.DiscoveryTopic != "" {
		kinds := []output.Kind{output.KindDerived}
		if strings.Contains(cfg.DiscoveryTopic, "%s") {
			kinds = []output.Kind{output.KindRaw, output.KindDerived}
		}
		for _, k := range kinds {
			dTopic := cfg.DiscoveryTopic
			if strings.Contains(dTopic, "%s") {
				dTopic = fmt.Sprintf(dTopic, k)
			}
			payload := baseDiscoveryPayload(discoveryName(cfg, k), formatStateTopic(st, k), discoveryUniqueID(cfg, k), k)
			if err := publishJSON(client, dTopic, true, payload); err != nil {
				m.log.Error("mqtt discovery publish error", "topic", dTopic, "error", err)
			}
		}
	}
	return m
}

func (m *MQTTOutput) InsertRaw(ctx context.Context, value float64, at time.Time) error {
	return m.publish(ctx, output.Record{Kind: output.KindRaw, Value: value, Timestamp: at})
}

func (m *MQTTOutput) InsertDerived(ctx context.Context, value float64, trace []float64, at time.Time) error {
	return m.publish(ctx, output.Record{Kind: output.KindDerived, Value: value, Trace: trace, Timestamp: at})
}

func (m *MQTTOutput) QueryAllRaw(context.Context) ([]output.Record, error) {
	return nil, output.ErrQueryUnsupported
}

func (m *MQTTOutput) QueryAllDerived(context.Context) ([]output.Record, error) {
	return nil, output.ErrQueryUnsupported
}

func (m *MQTTOutput) publish(ctx context.Context, r output.Record) error {
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	token := m.client.Publish(formatStateTopic(m.stateTopic, r.Kind), 0, false, b)
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *MQTTOutput) Close() error {
	if m.client != nil {
		m.client.Disconnect(250)
	}
	return nil
}

// helper: state topic for a record kind; a %s in base is replaced by kind,
// otherwise kind is appended as a sub-topic
func formatStateTopic(base string, kind output.Kind) string {
	if base == "" {
		base = DefaultStateTopic
	}
	if strings.Contains(base, "%s") {
		return fmt.Sprintf(base, kind)
	}
	return fmt.Sprintf(perKindTopicFmt, base, kind)
}

// helper: build a human-friendly discovery name for a record kind
func discoveryName(cfg config.MQTTConfig, kind output.Kind) string {
	name := cfg.DiscoveryName
	if name == "" {
		name = fmt.Sprintf("Luxmeter %s", cfg.ClientID)
	}
	return fmt.Sprintf("%s %s", name, kind)
}

// helper: build a unique id for discovery
func discoveryUniqueID(cfg config.MQTTConfig, kind output.Kind) string {
	uid := cfg.DiscoveryUniqueID
	if uid == "" {
		uid = cfg.ClientID
	}
	if uid != "" {
		uid = fmt.Sprintf("%s_%s", uid, kind)
	}
	return uid
}

// helper: base discovery payload map common to all entries
func baseDiscoveryPayload(name, stateTopic, uniqueID string, kind output.Kind) map[string]interface{} {
	payload := map[string]interface{}{
		keyName:                name,
		keyStateTopic:          stateTopic,
		keyStateClass:          stateClassMeasurement,
		keyValueTemplate:       valueTemplateValue,
		keyJSONAttributesTopic: stateTopic,
	}
	if kind == output.KindDerived {
		payload[keyUnitOfMeasurement] = unitLux
		payload[keyDeviceClass] = deviceClassIlluminance
	} else {
		payload[keyUnitOfMeasurement] = unitCounts
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
