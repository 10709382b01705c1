package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/grott-scheduler/internal/infrastructure/mqtt"
)

// Publisher is the MQTT publish call. *mqtt.Client satisfies it.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// alertPayload is published to the alert topic.
type alertPayload struct {
	Title     string `json:"title"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// MQTT publishes alerts to grottsched/alert.
type MQTT struct {
	pub Publisher
	now func() time.Time
}

// NewMQTT creates an MQTT alert notifier.
func NewMQTT(pub Publisher) *MQTT {
	return &MQTT{pub: pub, now: time.Now}
}

// Notify implements Notifier.
func (m *MQTT) Notify(_ context.Context, title, message string) error {
	payload, err := json.Marshal(alertPayload{
		Title:     title,
		Message:   message,
		Timestamp: m.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("encoding alert: %w", err)
	}
	if err := m.pub.Publish(mqtt.Topics{}.Alert(), payload, 1, false); err != nil {
		return fmt.Errorf("publishing alert: %w", err)
	}
	return nil
}
