package middleware

import (
	"context"
	"fmt"

	"PriceIntel/internal/domain/models"
)

// Publisher is satisfied by *kafka.Producer.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, value interface{}) error
}

// KafkaSink routes alerts to the alerts topic and run lifecycle events to the
// runs topic. Alerts are keyed by product so they stay ordered per product.
type KafkaSink struct {
	pub         Publisher
	alertsTopic string
	runsTopic   string
}

func NewKafkaSink(pub Publisher, alertsTopic, runsTopic string) *KafkaSink {
	return &KafkaSink{pub: pub, alertsTopic: alertsTopic, runsTopic: runsTopic}
}

func (k *KafkaSink) Name() string { return "kafka" }

func (k *KafkaSink) PublishEvent(ctx context.Context, ev models.PipelineEvent) error {
	topic, key := k.runsTopic, ev.RunID
	if ev.Kind == models.EventAlert {
		topic = k.alertsTopic
		if a, ok := ev.Payload.(models.Alert); ok {
			key = a.ProductID
		}
	}
	if topic == "" {
		return nil
	}
	if err := k.pub.Publish(ctx, topic, key, ev); err != nil {
		return fmt.Errorf("publish %s: %w", ev.Kind, err)
	}
	return nil
}
