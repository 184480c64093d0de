package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kweku-annan/api-gateway/internal/domain"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// settlement is what happens to a delivery once its handler has run.
type settlement int

const (
	settleAck settlement = iota
	settleRequeue
	settleDrop
)

func (s settlement) String() string {
	switch s {
	case settleAck:
		return "ack"
	case settleRequeue:
		return "requeue"
	default:
		return "drop"
	}
}

// acknowledger is the subset of amqp.Delivery the consumer needs.
type acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
	Reject(requeue bool) error
}

// RabbitMQConsumer delivers status events to a handler, re-subscribing with
// backoff whenever the channel drops.
type RabbitMQConsumer struct {
	client   *RabbitMQ
	prefetch int
	logger   *zap.Logger
}

func NewRabbitMQConsumer(client *RabbitMQ, prefetch int, logger *zap.Logger) *RabbitMQConsumer {
	if prefetch < 1 {
		prefetch = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RabbitMQConsumer{client: client, prefetch: prefetch, logger: logger}
}

// Consume blocks until ctx is canceled.
func (c *RabbitMQConsumer) Consume(ctx context.Context, queue string, handler StatusHandler) error {
	switch {
	case c == nil || c.client == nil:
		return fmt.Errorf("consumer is not initialized")
	case queue == "":
		return fmt.Errorf("queue name is required")
	case handler == nil:
		return fmt.Errorf("status handler is required")
	}

	retry := newReconnectBackOff()
	for {
		started := time.Now()
		err := c.subscribe(ctx, queue, handler)
		if ctx.Err() != nil {
			return nil
		}
		// A subscription that lived a while was healthy; start over.
		if time.Since(started) > reconnectInterval {
			retry.Reset()
		}

		wait := retry.NextBackOff()
		c.logger.Warn("status consumer interrupted",
			zap.String("queue", queue),
			zap.Duration("retryIn", wait),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

func (c *RabbitMQConsumer) subscribe(ctx context.Context, queue string, handler StatusHandler) error {
	ch, err := c.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close() //nolint:errcheck

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}
	deliveries, err := ch.ConsumeWithContext(ctx, queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume queue %q: %w", queue, err)
	}

	closed := ch.NotifyClose(make(chan *amqp.Error, 1))
	for {
		select {
		case <-ctx.Done():
			return nil
		case amqpErr := <-closed:
			return fmt.Errorf("channel closed: %v", amqpErr)
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}
			if err := c.dispatch(ctx, d.Body, d.RoutingKey, &d, handler); err != nil {
				return err
			}
		}
	}
}

// dispatch decodes one delivery, runs handler and settles the delivery.
// Only settlement failures are returned; they mean the channel is unusable.
func (c *RabbitMQConsumer) dispatch(ctx context.Context, body []byte, routingKey string, ack acknowledger, handler StatusHandler) error {
	s, evt, err := c.process(ctx, body, handler)
	if err != nil {
		c.logger.Warn("status event not applied",
			zap.String("routingKey", routingKey),
			zap.String("notificationId", evt.NotificationID),
			zap.String("settlement", s.String()),
			zap.Error(err),
		)
	}

	var settleErr error
	switch s {
	case settleAck:
		settleErr = ack.Ack(false)
	case settleRequeue:
		settleErr = ack.Nack(false, true)
	default:
		settleErr = ack.Reject(false)
	}
	if settleErr != nil {
		return fmt.Errorf("failed to %s delivery: %w", s, settleErr)
	}
	return nil
}

func (c *RabbitMQConsumer) process(ctx context.Context, body []byte, handler StatusHandler) (settlement, StatusEvent, error) {
	var evt StatusEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		return settleDrop, evt, fmt.Errorf("invalid JSON: %w", err)
	}
	if err := evt.Validate(); err != nil {
		return settleDrop, evt, err
	}

	err := handler(ctx, evt)
	switch {
	case err == nil:
		return settleAck, evt, nil
	case isPermanent(err):
		return settleDrop, evt, err
	default:
		return settleRequeue, evt, err
	}
}

// isPermanent marks events that can never succeed on redelivery.
func isPermanent(err error) bool {
	return errors.Is(err, domain.ErrValidation) ||
		errors.Is(err, domain.ErrInvalidTransition) ||
		errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, domain.ErrCorruptRecord)
}

func (c *RabbitMQConsumer) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
