// Package rabbitmq mirrors routing events to a topic exchange.
package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/psds-microservice/conversation-router/internal/events"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const maxDialDelay = 30 * time.Second

type Publisher struct {
	conn     *amqp.Connection
	exchange string
	logger   *zap.Logger
}

// Dial connects with exponential backoff and declares the exchange.
func Dial(ctx context.Context, url, exchange string, attempts int, delay time.Duration, logger *zap.Logger) (*Publisher, error) {
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for i := 1; i <= attempts; i++ {
		conn, err := amqp.Dial(url)
		if err == nil {
			p := &Publisher{conn: conn, exchange: exchange, logger: logger}
			if err := p.declare(); err != nil {
				conn.Close()
				return nil, err
			}
			logger.Info("rabbitmq: connected", zap.String("exchange", exchange), zap.Int("attempt", i))
			return p, nil
		}
		lastErr = err
		if i == attempts {
			break
		}

		sleep := delay << (i - 1)
		if sleep > maxDialDelay {
			sleep = maxDialDelay
		}
		logger.Warn("rabbitmq: dial failed", zap.Int("attempt", i), zap.Duration("sleep", sleep), zap.Error(err))
		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, errors.Join(ctx.Err(), lastErr)
		case <-timer.C:
		}
	}
	return nil, fmt.Errorf("rabbitmq: connect after %d attempts: %w", attempts, lastErr)
}

func (p *Publisher) declare() error {
	ch, err := p.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()
	return ch.ExchangeDeclare(p.exchange, "topic", true, false, false, false, nil)
}

// RoutingKey is the event type, e.g. "conversation.assigned".
func RoutingKey(evt events.Event) string { return string(evt.Type) }

func (p *Publisher) Send(ctx context.Context, evt events.Event) error {
	if p == nil || p.conn == nil {
		return nil
	}
	body, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	ch, err := p.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	return ch.PublishWithContext(ctx, p.exchange, RoutingKey(evt), false, false, amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     evt.ID,
		CorrelationId: events.ConversationIDOf(evt.Payload),
		Timestamp:     evt.Timestamp,
		Type:          string(evt.Type),
		AppId:         evt.Source,
		Body:          body,
	})
}

func (p *Publisher) Close() error {
	if p == nil || p.conn == nil {
		return nil
	}
	return p.conn.Close()
}
