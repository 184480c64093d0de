package queue

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/singleflight"
)

const (
	dialTimeout       = 5 * time.Second
	heartbeat         = 10 * time.Second
	connectTimeout    = 15 * time.Second
	reconnectInitial  = 500 * time.Millisecond
	reconnectInterval = 30 * time.Second
)

// RabbitMQ owns one broker connection, re-dialing it on demand, and declares
// the gateway topology once per connection.
type RabbitMQ struct {
	url      string
	exchange string
	props    amqp.Table

	mu       sync.RWMutex
	dials    singleflight.Group
	conn     *amqp.Connection
	declared *amqp.Connection
}

func NewRabbitMQ(ctx context.Context, url, exchange, connectionName string) (*RabbitMQ, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("rabbitmq url is required")
	}
	if strings.TrimSpace(exchange) == "" {
		exchange = DefaultExchange
	}

	r := newRabbitMQ(url, exchange, connectionName)

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	// Opening a channel forces the topology declaration up front so a
	// misconfigured broker fails startup instead of the first request.
	open := func() error {
		ch, err := r.channel(ctx)
		if err != nil {
			return err
		}
		return ch.Close()
	}
	if err := backoff.Retry(open, backoff.WithContext(newReconnectBackOff(), ctx)); err != nil {
		_ = r.Close()
		return nil, err
	}

	return r, nil
}

// newRabbitMQ builds a client without connecting.
func newRabbitMQ(url, exchange, connectionName string) *RabbitMQ {
	props := amqp.NewConnectionProperties()
	if connectionName != "" {
		props.SetClientConnectionName(connectionName)
	}
	return &RabbitMQ{url: url, exchange: exchange, props: props}
}

func (r *RabbitMQ) Exchange() string {
	return r.exchange
}

func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	conn := r.conn
	r.conn = nil
	r.declared = nil
	r.mu.Unlock()

	if conn == nil || conn.IsClosed() {
		return nil
	}
	return conn.Close()
}

// Ping succeeds when a live connection exists or can be re-established
// before ctx expires.
func (r *RabbitMQ) Ping(ctx context.Context) error {
	_, err := r.connection(ctx)
	return err
}

func (r *RabbitMQ) current() *amqp.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.conn == nil || r.conn.IsClosed() {
		return nil
	}
	return r.conn
}

// connection returns the live connection, dialing when there is none.
// Concurrent callers share one dial, but each stops waiting when its own ctx
// is done. The dial itself is bounded by dialTimeout.
func (r *RabbitMQ) connection(ctx context.Context) (*amqp.Connection, error) {
	if conn := r.current(); conn != nil {
		return conn, nil
	}

	result := r.dials.DoChan("dial", func() (interface{}, error) {
		if conn := r.current(); conn != nil {
			return conn, nil
		}

		dialCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), dialTimeout)
		defer cancel()
		conn, err := r.dial(dialCtx)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		r.conn = conn
		r.mu.Unlock()
		return conn, nil
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("failed to connect rabbitmq: %w", ctx.Err())
	case res := <-result:
		if res.Err != nil {
			return nil, fmt.Errorf("failed to connect rabbitmq: %w", res.Err)
		}
		return res.Val.(*amqp.Connection), nil
	}
}

// dial opens a connection whose TCP connect and AMQP handshake both end by
// ctx's deadline.
func (r *RabbitMQ) dial(ctx context.Context) (*amqp.Connection, error) {
	return amqp.DialConfig(r.url, amqp.Config{
		Properties: r.props,
		Heartbeat:  heartbeat,
		Locale:     "en_US",
		Dial: func(network, addr string) (net.Conn, error) {
			conn, err := (&net.Dialer{}).DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			deadline := time.Now().Add(dialTimeout)
			if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
				deadline = d
			}
			// amqp clears the deadline once the handshake completes.
			if err := conn.SetDeadline(deadline); err != nil {
				_ = conn.Close()
				return nil, err
			}
			return conn, nil
		},
	})
}

// channel opens a fresh channel, retrying once on a new connection if the
// current one turns out to be dead.
func (r *RabbitMQ) channel(ctx context.Context) (*amqp.Channel, error) {
	conn, err := r.connection(ctx)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		if conn, err = r.connection(ctx); err != nil {
			return nil, err
		}
		if ch, err = conn.Channel(); err != nil {
			return nil, fmt.Errorf("failed to open rabbitmq channel: %w", err)
		}
	}

	r.mu.RLock()
	declared := r.declared == conn
	r.mu.RUnlock()
	if declared {
		return ch, nil
	}

	if err := declareTopology(ch, r.exchange); err != nil {
		_ = ch.Close()
		return nil, err
	}
	r.mu.Lock()
	r.declared = conn
	r.mu.Unlock()
	return ch, nil
}

func newReconnectBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = reconnectInitial
	b.MaxInterval = reconnectInterval
	b.MaxElapsedTime = 0
	return b
}

// declareTopology is idempotent. Queues carry no arguments so declarations
// from downstream consumers stay compatible.
func declareTopology(ch *amqp.Channel, exchange string) error {
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange %q: %w", exchange, err)
	}

	for _, b := range Bindings() {
		if _, err := ch.QueueDeclare(b.Queue, true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare queue %q: %w", b.Queue, err)
		}
		if err := ch.QueueBind(b.Queue, b.RoutingKey, exchange, false, nil); err != nil {
			return fmt.Errorf("failed to bind queue %s to %s: %w", b.Queue, exchange, err)
		}
	}
	return nil
}
