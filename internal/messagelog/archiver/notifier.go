package archiver

import (
	"context"
	"encoding/json"
	"fmt"

	"msglog/pkg/platform/circuit"
)

// Publisher sends a keyed message to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// KafkaNotifier publishes the manifest of every sealed unit, keyed by unit ID,
// so downstream consumers can fetch and verify it. While the broker keeps
// failing, notifications are skipped instead of delaying every run.
type KafkaNotifier struct {
	pub     Publisher
	topic   string
	breaker *circuit.Breaker
}

// NewKafkaNotifier publishes to topic through pub.
func NewKafkaNotifier(pub Publisher, topic string, opts ...circuit.Option) *KafkaNotifier {
	return &KafkaNotifier{
		pub:     pub,
		topic:   topic,
		breaker: circuit.New("archive-notifier", opts...),
	}
}

// UnitSealed implements Notifier.
func (n *KafkaNotifier) UnitSealed(ctx context.Context, m Manifest) error {
	payload, err := json.Marshal(sealedEvent{
		Manifest: m,
		FileName: UnitFileName(m.Sequence, m.UnitID),
	})
	if err != nil {
		return fmt.Errorf("encode sealed unit: %w", err)
	}
	return n.breaker.Do(func() error {
		return n.pub.Publish(ctx, n.topic, []byte(m.UnitID), payload)
	})
}

type sealedEvent struct {
	Manifest Manifest `json:"manifest"`
	FileName string   `json:"fileName"`
}
