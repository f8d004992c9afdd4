package match

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Publisher publishes rank responses to MQTT
type Publisher struct {
	client        mqtt.Client
	publishPrefix string
	qos           byte
	retain        bool
	logger        *slog.Logger
	last          *RankResponse
	mu            sync.RWMutex
}

// NewPublisher creates a result publisher. The topic prefix comes from
// MQTT_PUBLISH_PREFIX, then prefix, then "rugmatch".
// If client is nil, publishing is disabled (for testing).
func NewPublisher(client mqtt.Client, prefix string, logger *slog.Logger) *Publisher {
	if env := os.Getenv("MQTT_PUBLISH_PREFIX"); env != "" {
		prefix = env
	}
	if prefix == "" {
		prefix = "rugmatch"
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Publisher{
		client:        client,
		publishPrefix: prefix,
		qos:           1,     // results must not be lost
		retain:        false, // per-request topics are not retained; see PublishResult
		logger:        logger.With("component", "publisher"),
	}
}

// ResultTopic returns the topic a request's response is published on.
func (p *Publisher) ResultTopic(requestID string) string {
	return fmt.Sprintf("%s/results/%s", p.publishPrefix, requestID)
}

// LatestTopic returns the retained topic holding the most recent response.
func (p *Publisher) LatestTopic() string {
	return fmt.Sprintf("%s/results/%s", p.publishPrefix, latestResultID)
}

// PublishResult publishes resp to its request topic and to the retained
// latest topic.
func (p *Publisher) PublishResult(resp *RankResponse) error {
	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}

	payload, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("marshaling rank response: %w", err)
	}

	if err := p.publish(p.ResultTopic(resp.RequestID), p.retain, payload); err != nil {
		return err
	}
	if err := p.publish(p.LatestTopic(), true, payload); err != nil {
		return err
	}

	p.mu.Lock()
	p.last = resp
	p.mu.Unlock()

	p.logger.Info("published rank response",
		"request_id", resp.RequestID,
		"ranked", len(resp.Ranked),
		"skipped", len(resp.Skipped))
	return nil
}

func (p *Publisher) publish(topic string, retain bool, payload []byte) error {
	token := p.client.Publish(topic, p.qos, retain, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}
	return nil
}

// LastResult returns the most recently published response
func (p *Publisher) LastResult() (*RankResponse, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.last, p.last != nil
}

// SetQoS sets the Quality of Service level for publishing (0, 1, or 2)
func (p *Publisher) SetQoS(qos byte) {
	if qos <= 2 {
		p.qos = qos
	}
}

// SetRetain sets whether per-request responses are retained by the broker
func (p *Publisher) SetRetain(retain bool) {
	p.retain = retain
}
