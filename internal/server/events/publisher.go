// Package events publishes message lifecycle events to kafka for
// downstream consumers (notifications, analytics). Publishing is
// best-effort and never blocks the websocket path on broker errors.
package events

import (
	"context"
	"encoding/json"
	"time"

	kafkago "github.com/segmentio/kafka-go"
)

const (
	MessageNew  = "message.new"
	MessageRead = "message.read"
)

type Publisher struct {
	writer *kafkago.Writer
}

func NewPublisher(brokers []string, topic string) *Publisher {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireOne,
		Async:        true,
	}
	return &Publisher{writer: w}
}

// Publish emits one event keyed by conversation id so per-conversation
// ordering survives partitioning. A nil receiver is a no-op.
func (p *Publisher) Publish(ctx context.Context, event, conversationID string, payload any) error {
	if p == nil {
		return nil
	}
	b, err := json.Marshal(map[string]any{"event": event, "payload": payload})
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafkago.Message{
		Key:   []byte(conversationID),
		Value: b,
		Time:  time.Now(),
	})
}

func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	return p.writer.Close()
}
