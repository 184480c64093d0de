package queue

import (
	"fmt"
	"strings"
	"time"

	"github.com/kweku-annan/api-gateway/internal/domain"
)

// Message is the payload downstream email and push services consume.
type Message struct {
	NotificationID string            `json:"notification_id"`
	Type           domain.Type       `json:"type"`
	UserID         string            `json:"user_id"`
	TemplateID     string            `json:"template_id"`
	Variables      map[string]string `json:"variables"`
	CorrelationID  string            `json:"correlation_id"`
	Priority       domain.Priority   `json:"priority"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
	EmittedAt      time.Time         `json:"emitted_at"`
}

func (m Message) Validate() error {
	if strings.TrimSpace(m.NotificationID) == "" {
		return fmt.Errorf("notification_id is required")
	}
	if !m.Type.IsValid() {
		return fmt.Errorf("invalid type %q", m.Type)
	}
	if strings.TrimSpace(m.UserID) == "" {
		return fmt.Errorf("user_id is required")
	}
	if strings.TrimSpace(m.TemplateID) == "" {
		return fmt.Errorf("template_id is required")
	}
	return nil
}

// StatusEvent is a delivery state report published by downstream services.
type StatusEvent struct {
	NotificationID string        `json:"notification_id"`
	Status         domain.Status `json:"status"`
	Reason         string        `json:"reason,omitempty"`
	OccurredAt     time.Time     `json:"occurred_at"`
}

func (e StatusEvent) Validate() error {
	if strings.TrimSpace(e.NotificationID) == "" {
		return fmt.Errorf("notification_id is required")
	}
	if !e.Status.IsValid() {
		return fmt.Errorf("invalid status %q", e.Status)
	}
	if e.Status == domain.StatusQueued {
		return fmt.Errorf("status %q is assigned by the gateway only", e.Status)
	}
	return nil
}
