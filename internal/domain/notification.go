package domain

import (
	"fmt"
	"strings"
	"time"
)

// Type is the delivery channel, which doubles as the broker routing key.
type Type string

const (
	TypeEmail Type = "email"
	TypePush  Type = "push"
)

func (t Type) String() string { return string(t) }

func (t Type) IsValid() bool {
	switch t {
	case TypeEmail, TypePush:
		return true
	}
	return false
}

func ParseType(s string) (Type, error) {
	tp := Type(strings.ToLower(strings.TrimSpace(s)))
	if !tp.IsValid() {
		return "", NewValidationError("type", "must be one of email, push (got %q)", s)
	}
	return tp, nil
}

// EstimatedDelivery is the advisory delay reported to callers on admission.
func (t Type) EstimatedDelivery() time.Duration {
	if t == TypeEmail {
		return 2 * time.Minute
	}
	return time.Minute
}

// Status is the lifecycle state of an admitted notification.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusSent       Status = "sent"
	StatusFailed     Status = "failed"
)

func (s Status) String() string { return string(s) }

func (s Status) IsValid() bool {
	switch s {
	case StatusQueued, StatusProcessing, StatusSent, StatusFailed:
		return true
	}
	return false
}

func (s Status) IsTerminal() bool {
	return s == StatusSent || s == StatusFailed
}

func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid status %q", ErrValidation, s)
	}
	return st, nil
}

// CanTransitionTo reports whether a record in s may move to next.
// Re-reporting the current state is allowed and treated as a no-op by callers.
func (s Status) CanTransitionTo(next Status) bool {
	if s == next {
		return true
	}
	switch s {
	case StatusQueued:
		return next == StatusProcessing || next == StatusSent || next == StatusFailed
	case StatusProcessing:
		return next == StatusSent || next == StatusFailed
	}
	return false
}

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

func (p Priority) IsValid() bool {
	switch p {
	case PriorityHigh, PriorityNormal, PriorityLow:
		return true
	}
	return false
}

func ParsePriority(s string) (Priority, error) {
	normalized := strings.ToLower(strings.TrimSpace(s))
	if normalized == "" {
		return PriorityNormal, nil
	}
	pr := Priority(normalized)
	if !pr.IsValid() {
		return "", NewValidationError("priority", "must be one of high, normal, low (got %q)", s)
	}
	return pr, nil
}

// NotificationRequest is a validated, normalized admission request.
type NotificationRequest struct {
	Type           Type
	UserID         string
	TemplateID     string
	Variables      map[string]string
	IdempotencyKey string
	CorrelationID  string
	Priority       Priority
}

// NotificationStatus is the tracked delivery state of one notification.
type NotificationStatus struct {
	NotificationID string    `json:"notification_id"`
	Status         Status    `json:"status"`
	Type           Type      `json:"type,omitempty"`
	CorrelationID  string    `json:"correlation_id,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
