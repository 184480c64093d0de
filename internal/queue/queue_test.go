package queue

import (
	"testing"
	"time"

	"github.com/kweku-annan/api-gateway/internal/domain"
)

func TestBindings(t *testing.T) {
	bindings := Bindings()
	if len(bindings) != 4 {
		t.Fatalf("Bindings len = %d, want 4", len(bindings))
	}

	expected := map[string]string{
		"email.queue":  "email",
		"push.queue":   "push",
		"failed.queue": "failed",
		"status.queue": "status",
	}

	for _, b := range bindings {
		key, ok := expected[b.Queue]
		if !ok {
			t.Fatalf("unexpected queue name: %s", b.Queue)
		}
		if key != b.RoutingKey {
			t.Fatalf("queue %s routing key = %s, want %s", b.Queue, b.RoutingKey, key)
		}
	}
}

func TestQueueName(t *testing.T) {
	if got := QueueName(domain.TypeEmail); got != "email.queue" {
		t.Fatalf("QueueName = %s, want email.queue", got)
	}
	if got := RoutingKey(domain.TypePush); got != "push" {
		t.Fatalf("RoutingKey = %s, want push", got)
	}
}

func TestPriorityValue(t *testing.T) {
	tests := []struct {
		name     string
		priority domain.Priority
		want     uint8
	}{
		{name: "high", priority: domain.PriorityHigh, want: 3},
		{name: "normal", priority: domain.PriorityNormal, want: 2},
		{name: "low", priority: domain.PriorityLow, want: 1},
		{name: "invalid", priority: domain.Priority("invalid"), want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PriorityValue(tt.priority)
			if got != tt.want {
				t.Fatalf("PriorityValue(%q) = %d, want %d", tt.priority, got, tt.want)
			}
		})
	}
}

func TestMessageValidate(t *testing.T) {
	msg := Message{
		NotificationID: "n-1",
		Type:           domain.TypeEmail,
		UserID:         "u-1",
		TemplateID:     "welcome",
		EmittedAt:      time.Now(),
	}
	if err := msg.Validate(); err != nil {
		t.Fatalf("Validate() unexpected error = %v", err)
	}

	msg.Type = "sms"
	if err := msg.Validate(); err == nil {
		t.Fatal("Validate() should reject unknown type")
	}

	msg.Type = domain.TypePush
	msg.NotificationID = " "
	if err := msg.Validate(); err == nil {
		t.Fatal("Validate() should require notification_id")
	}
}

func TestStatusEventValidate(t *testing.T) {
	tests := []struct {
		name    string
		evt     StatusEvent
		wantErr bool
	}{
		{name: "sent", evt: StatusEvent{NotificationID: "n-1", Status: domain.StatusSent}},
		{name: "failed with reason", evt: StatusEvent{NotificationID: "n-1", Status: domain.StatusFailed, Reason: "bounced"}},
		{name: "queued is gateway only", evt: StatusEvent{NotificationID: "n-1", Status: domain.StatusQueued}, wantErr: true},
		{name: "unknown status", evt: StatusEvent{NotificationID: "n-1", Status: "lost"}, wantErr: true},
		{name: "missing id", evt: StatusEvent{Status: domain.StatusSent}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.evt.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
