package queue

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"
)

// silentBroker accepts TCP connections and never speaks AMQP.
func silentBroker(t *testing.T) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen() error = %v", err)
	}

	var (
		mu    sync.Mutex
		conns []net.Conn
	)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, conn)
			mu.Unlock()
		}
	}()
	t.Cleanup(func() {
		_ = ln.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, c := range conns {
			_ = c.Close()
		}
	})

	return "amqp://guest:guest@" + ln.Addr().String() + "/"
}

func TestRabbitMQPingHonorsDeadlineWhileDialing(t *testing.T) {
	t.Parallel()

	client := newRabbitMQ(silentBroker(t), DefaultExchange, "test")

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = client.Ping(ctx)
		}()
	}
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := client.Ping(ctx)
	elapsed := time.Since(start)

	if err == nil {
		t.Fatal("Ping() against a silent broker should fail")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Ping() error = %v, want deadline exceeded", err)
	}
	if elapsed > time.Second {
		t.Fatalf("Ping() returned after %s, want about 300ms", elapsed)
	}

	wg.Wait()
}

func TestRabbitMQDialBoundedByContext(t *testing.T) {
	t.Parallel()

	client := newRabbitMQ(silentBroker(t), DefaultExchange, "test")

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	if _, err := client.dial(ctx); err == nil {
		t.Fatal("dial() against a silent broker should fail")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("dial() returned after %s, want about 200ms", elapsed)
	}
}

func TestPublishAttemptHonorsTimeoutOnSilentBroker(t *testing.T) {
	t.Parallel()

	client := newRabbitMQ(silentBroker(t), DefaultExchange, "test")
	broker := NewRabbitMQPublisher(client)

	policy := testPolicy(1)
	policy.AttemptTimeout = 200 * time.Millisecond
	publisher, err := NewNotificationPublisher(broker, policy, nil, nil, nil)
	if err != nil {
		t.Fatalf("NewNotificationPublisher() error = %v", err)
	}

	start := time.Now()
	_, err = publisher.Publish(context.Background(), testRequest())
	elapsed := time.Since(start)

	var pubErr *PublishError
	if !errors.As(err, &pubErr) {
		t.Fatalf("Publish() error = %v, want *PublishError", err)
	}
	if pubErr.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", pubErr.Attempts)
	}
	if elapsed > time.Second {
		t.Fatalf("Publish() took %s, want about 200ms", elapsed)
	}
}

func TestRabbitMQPublisherRejectsMissingRoutingKey(t *testing.T) {
	t.Parallel()

	broker := NewRabbitMQPublisher(newRabbitMQ("amqp://localhost/", DefaultExchange, ""))
	if err := broker.Publish(context.Background(), "", Outbound{MessageID: "n-1"}); err == nil {
		t.Fatal("expected error for empty routing key")
	}

	var unset *RabbitMQPublisher
	if err := unset.Publish(context.Background(), "email", Outbound{}); err == nil {
		t.Fatal("expected error for uninitialized publisher")
	}
	if err := unset.Close(); err != nil {
		t.Fatalf("Close() on nil publisher error = %v", err)
	}
}
