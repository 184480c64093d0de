package queue

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

const confirmChannelPoolSize = 8

var _ Broker = (*RabbitMQPublisher)(nil)

// RabbitMQPublisher publishes to the direct exchange and waits for the
// broker's publisher confirm before reporting success. Confirm-mode channels
// are pooled; a channel that saw any error is discarded.
type RabbitMQPublisher struct {
	client *RabbitMQ
	pool   chan *amqp.Channel
}

func NewRabbitMQPublisher(client *RabbitMQ) *RabbitMQPublisher {
	return &RabbitMQPublisher{
		client: client,
		pool:   make(chan *amqp.Channel, confirmChannelPoolSize),
	}
}

func (p *RabbitMQPublisher) Publish(ctx context.Context, routingKey string, msg Outbound) error {
	if p == nil || p.client == nil {
		return fmt.Errorf("publisher is not initialized")
	}
	if routingKey == "" {
		return fmt.Errorf("routing key is required")
	}

	ch, err := p.acquire(ctx)
	if err != nil {
		return err
	}

	err = p.publish(ctx, ch, routingKey, msg)
	if err != nil {
		_ = ch.Close()
		return err
	}
	p.release(ch)
	return nil
}

func (p *RabbitMQPublisher) publish(ctx context.Context, ch *amqp.Channel, routingKey string, msg Outbound) error {
	confirmation, err := ch.PublishWithDeferredConfirmWithContext(ctx, p.client.Exchange(), routingKey, false, false, amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		Timestamp:     msg.Timestamp,
		MessageId:     msg.MessageID,
		CorrelationId: msg.CorrelationID,
		Priority:      msg.Priority,
		Body:          msg.Body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish %s to %q: %w", msg.MessageID, routingKey, err)
	}

	acked, err := confirmation.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("no publish confirm for %s: %w", msg.MessageID, err)
	}
	if !acked {
		return fmt.Errorf("broker nacked message %s", msg.MessageID)
	}
	return nil
}

func (p *RabbitMQPublisher) acquire(ctx context.Context) (*amqp.Channel, error) {
	for {
		select {
		case ch := <-p.pool:
			if !ch.IsClosed() {
				return ch, nil
			}
		default:
			return p.open(ctx)
		}
	}
}

func (p *RabbitMQPublisher) open(ctx context.Context) (*amqp.Channel, error) {
	ch, err := p.client.channel(ctx)
	if err != nil {
		return nil, err
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("failed to enable publisher confirms: %w", err)
	}
	return ch, nil
}

func (p *RabbitMQPublisher) release(ch *amqp.Channel) {
	select {
	case p.pool <- ch:
	default:
		_ = ch.Close()
	}
}

func (p *RabbitMQPublisher) Ping(ctx context.Context) error {
	if p == nil || p.client == nil {
		return fmt.Errorf("publisher is not initialized")
	}
	return p.client.Ping(ctx)
}

// Close drains the channel pool and closes the connection.
func (p *RabbitMQPublisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	for {
		select {
		case ch := <-p.pool:
			_ = ch.Close()
		default:
			return p.client.Close()
		}
	}
}
