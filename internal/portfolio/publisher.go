package portfolio

import (
	"context"
	"strconv"

	"github.com/Adithya-Monish-Kumar-K/ourportfolio/pkg/kafka"
)

// KafkaPublisher publishes lifecycle events keyed by portfolio id, so every
// event for one portfolio lands on the same partition in commit order.
type KafkaPublisher struct {
	producer *kafka.Producer
}

func NewKafkaPublisher(p *kafka.Producer) *KafkaPublisher {
	return &KafkaPublisher{producer: p}
}

func (k *KafkaPublisher) Publish(ctx context.Context, ev Event) error {
	return k.producer.Publish(ctx, kafka.Event{
		Key:   strconv.FormatInt(ev.PortfolioID, 10),
		Value: ev,
	})
}
