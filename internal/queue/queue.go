package queue

import (
	"context"
	"time"

	"github.com/kweku-annan/api-gateway/internal/domain"
)

const (
	DefaultExchange = "notifications.direct"

	FailedQueue      = "failed.queue"
	FailedRoutingKey = "failed"
	StatusQueue      = "status.queue"
	StatusRoutingKey = "status"
)

// Broker hands encoded messages to the message broker and confirms receipt.
type Broker interface {
	Publish(ctx context.Context, routingKey string, msg Outbound) error
	Ping(ctx context.Context) error
	Close() error
}

// Outbound is a broker-agnostic message ready to publish.
type Outbound struct {
	MessageID     string
	CorrelationID string
	Priority      uint8
	Timestamp     time.Time
	Body          []byte
}

// StatusHandler applies a consumed status event.
type StatusHandler func(ctx context.Context, evt StatusEvent) error

// Binding ties a durable queue to the exchange.
type Binding struct {
	Queue      string
	RoutingKey string
}

var supportedTypes = []domain.Type{
	domain.TypeEmail,
	domain.TypePush,
}

// QueueName returns the work queue for a notification type, e.g. email.queue.
func QueueName(t domain.Type) string {
	return t.String() + ".queue"
}

// RoutingKey is the direct-exchange key for a notification type.
func RoutingKey(t domain.Type) string {
	return t.String()
}

// Bindings lists every queue the gateway declares: one per notification
// type plus the shared failed and status queues.
func Bindings() []Binding {
	bindings := make([]Binding, 0, len(supportedTypes)+2)
	for _, t := range supportedTypes {
		bindings = append(bindings, Binding{Queue: QueueName(t), RoutingKey: RoutingKey(t)})
	}
	return append(bindings,
		Binding{Queue: FailedQueue, RoutingKey: FailedRoutingKey},
		Binding{Queue: StatusQueue, RoutingKey: StatusRoutingKey},
	)
}

// PriorityValue maps domain priority to RabbitMQ message priority.
func PriorityValue(priority domain.Priority) uint8 {
	switch priority {
	case domain.PriorityHigh:
		return 3
	case domain.PriorityNormal:
		return 2
	case domain.PriorityLow:
		return 1
	default:
		return 0
	}
}
