package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/ariefcatur/go-order-saga/internal/events"
	"github.com/segmentio/kafka-go"
)

// Publisher routes envelopes to their topic, keyed by transaction id.
type Publisher struct {
	p *Producer
}

func NewPublisher(p *Producer) *Publisher { return &Publisher{p: p} }

func (pub *Publisher) Publish(ctx context.Context, env events.Envelope) error {
	topic, err := events.Topic(env.Event)
	if err != nil {
		return err
	}
	value, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode %s envelope: %w", env.Event, err)
	}
	headers := injectTrace(ctx, []kafka.Header{
		{Key: HeaderEventType, Value: []byte(env.Event)},
		{Key: HeaderEventVersion, Value: []byte(strconv.Itoa(env.EventVersion))},
	})
	return pub.p.Publish(ctx, topic, events.PartitionKey(env.TransactionID), value, headers...)
}
