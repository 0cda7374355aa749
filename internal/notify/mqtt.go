// Package notify fans cue audit entries out to an MQTT broker so venue
// dashboards can follow cue lifecycles without polling the API.
package notify

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/quickpayplatform/autocue/internal/config"
	"github.com/quickpayplatform/autocue/internal/logger"
	"github.com/quickpayplatform/autocue/internal/models"
)

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
	keepAlive      = 60 * time.Second
	maxQoS         = 2

	topicFormat = "autocue/venues/%s/cues/%s/events"
)

var (
	ErrDisabled      = errors.New("notify: mqtt is disabled")
	ErrNoBroker      = errors.New("notify: mqtt.broker is required")
	ErrConnectFailed = errors.New("notify: mqtt connection failed")
)

// publisher is the slice of the paho client the audit fan-out needs.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
}

// MQTTPublisher publishes every audit entry as JSON. Publishing never blocks
// the caller; broker trouble is logged and dropped.
type MQTTPublisher struct {
	client publisher
	paho   pahomqtt.Client
	qos    byte
	log    *logger.Logger
}

// Connect dials the broker described by cfg. Auto-reconnect is left to paho.
func Connect(cfg config.MQTTConfig, log *logger.Logger) (*MQTTPublisher, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	if cfg.Broker == "" {
		return nil, ErrNoBroker
	}
	if cfg.QoS < 0 || cfg.QoS > maxQoS {
		return nil, fmt.Errorf("notify: mqtt.qos must be 0..2, got %d", cfg.QoS)
	}
	if log == nil {
		log = logger.Nop()
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectTimeout(connectTimeout).
		SetKeepAlive(keepAlive)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		log.Warnw("mqtt_connection_lost", "err", err)
	})
	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		log.Infow("mqtt_connected", "broker", cfg.Broker)
	})

	c := pahomqtt.NewClient(opts)
	tok := c.Connect()
	if !tok.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectFailed, connectTimeout)
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectFailed, err)
	}
	return &MQTTPublisher{client: c, paho: c, qos: byte(cfg.QoS), log: log}, nil
}

func newPublisher(client publisher, qos byte, log *logger.Logger) *MQTTPublisher {
	if log == nil {
		log = logger.Nop()
	}
	return &MQTTPublisher{client: client, qos: qos, log: log}
}

// Topic returns the per-cue event topic. MQTT wildcard and separator
// characters in ids are replaced so every entry maps to exactly one level.
func Topic(venueID, cueID string) string {
	return fmt.Sprintf(topicFormat, topicLevel(venueID), topicLevel(cueID))
}

func topicLevel(s string) string {
	if s == "" {
		return "_"
	}
	return strings.NewReplacer("/", "_", "+", "_", "#", "_").Replace(s)
}

// Publish sends e to its cue topic. Safe on a nil receiver.
func (p *MQTTPublisher) Publish(e models.AuditEntry) {
	if p == nil || p.client == nil {
		return
	}
	payload, err := json.Marshal(e)
	if err != nil {
		p.log.Errorw("mqtt_encode_failed", "cue_id", e.CueID, "err", err)
		return
	}
	topic := Topic(e.VenueID, e.CueID)
	tok := p.client.Publish(topic, p.qos, false, payload)
	go func() {
		if !tok.WaitTimeout(publishTimeout) {
			p.log.Warnw("mqtt_publish_timeout", "topic", topic)
			return
		}
		if err := tok.Error(); err != nil {
			p.log.Warnw("mqtt_publish_failed", "topic", topic, "err", err)
		}
	}()
}

// Close disconnects, giving in-flight publishes a second to finish.
func (p *MQTTPublisher) Close() {
	if p == nil || p.paho == nil {
		return
	}
	p.paho.Disconnect(1000)
}
