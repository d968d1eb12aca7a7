package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/psds-microservice/conversation-router/internal/events"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Producer пишет события маршрутизации в топик Kafka (best-effort). Ключ —
// id беседы, события одной беседы упорядочены внутри партиции.
type Producer struct {
	writer *kafka.Writer
	topic  string
	logger *zap.Logger
}

// NewProducer создаёт продюсер. Если brokers или topic пустые — Send no-op.
func NewProducer(brokers []string, topic string, logger *zap.Logger) *Producer {
	if len(brokers) == 0 || topic == "" {
		return &Producer{logger: logger}
	}
	logger.Info("kafka: mirroring routing events", zap.Strings("brokers", brokers), zap.String("topic", topic))
	return &Producer{
		topic:  topic,
		logger: logger,
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

func (p *Producer) Enabled() bool { return p.writer != nil }

func (p *Producer) Send(ctx context.Context, evt events.Event) error {
	if p.writer == nil {
		return nil
	}
	body, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(events.ConversationIDOf(evt.Payload)),
		Value: body,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(evt.Type)},
			{Key: "event_id", Value: []byte(evt.ID)},
		},
		Time: evt.Timestamp,
	})
}

func (p *Producer) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
