package kafka

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/ourportfolio/pkg/config"
)

type sample struct {
	Type string `json:"type"`
	ID   int64  `json:"id"`
}

func TestDecodeJSON(t *testing.T) {
	got, err := DecodeJSON[sample]([]byte(`{"type":"created","id":7}`))
	require.NoError(t, err)
	assert.Equal(t, sample{Type: "created", ID: 7}, got)

	_, err = DecodeJSON[sample]([]byte(`{"type":`))
	require.Error(t, err)
}

func TestProducerTopic(t *testing.T) {
	p := NewProducer(config.KafkaConfig{Brokers: []string{"localhost:9092"}}, "portfolio-events")
	defer p.Close()
	assert.Equal(t, "portfolio-events", p.Topic())
}
