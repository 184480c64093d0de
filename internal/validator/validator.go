// Package validator decodes and normalizes notification submissions.
package validator

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/kweku-annan/api-gateway/internal/domain"
)

const (
	MaxIdempotencyKeyLength = 128
	MaxTemplateIDLength     = 255
	MaxVariables            = 100
	MaxVariableKeyLength    = 128
	MaxVariableValueLength  = 10000
	MaxBodyBytes            = 64 << 10
)

var (
	idempotencyKeyPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]+$`)
	scriptBlockPattern    = regexp.MustCompile(`(?is)<script\b[^>]*>.*?</script\s*>`)
)

// Payload is the submission as sent. Pointer fields distinguish absent from empty.
type Payload struct {
	Type           *string        `json:"type"`
	UserID         *string        `json:"user_id"`
	TemplateID     *string        `json:"template_id"`
	Variables      map[string]any `json:"variables"`
	IdempotencyKey *string        `json:"idempotency_key"`
	Priority       *string        `json:"priority"`
}

type Validator struct{}

func New() *Validator {
	return &Validator{}
}

// Decode parses a single JSON object. Unknown fields are tolerated.
func (v *Validator) Decode(body []byte) (*Payload, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, domain.NewValidationError("body", "request body is required")
	}
	if len(body) > MaxBodyBytes {
		return nil, domain.NewValidationError("body", "request body exceeds %d bytes", MaxBodyBytes)
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var payload Payload
	if err := dec.Decode(&payload); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			return nil, domain.NewValidationError(typeErr.Field, "has an invalid type")
		}
		return nil, domain.NewValidationError("body", "malformed JSON")
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, domain.NewValidationError("body", "unexpected data after JSON object")
	}

	return &payload, nil
}

// IdempotencyKey returns "" when the payload carries none.
func (v *Validator) IdempotencyKey(p *Payload) (string, error) {
	if p == nil || p.IdempotencyKey == nil {
		return "", nil
	}

	key := *p.IdempotencyKey
	switch {
	case key == "":
		return "", domain.NewValidationError("idempotency_key", "must not be empty")
	case len(key) > MaxIdempotencyKeyLength:
		return "", domain.NewValidationError("idempotency_key", "must be at most %d characters", MaxIdempotencyKeyLength)
	case !idempotencyKeyPattern.MatchString(key):
		return "", domain.NewValidationError("idempotency_key", "may only contain letters, digits, '.', '_', ':' and '-'")
	}
	return key, nil
}

// Normalize checks required fields and produces the canonical request for
// the route's notification type.
func (v *Validator) Normalize(p *Payload, notificationType domain.Type, correlationID string) (domain.NotificationRequest, error) {
	if p == nil {
		return domain.NotificationRequest{}, domain.NewValidationError("body", "request body is required")
	}
	if !notificationType.IsValid() {
		return domain.NotificationRequest{}, domain.NewValidationError("type", "unsupported notification type %q", notificationType)
	}
	if p.Type != nil {
		bodyType, err := domain.ParseType(*p.Type)
		if err != nil {
			return domain.NotificationRequest{}, err
		}
		if bodyType != notificationType {
			return domain.NotificationRequest{}, domain.NewValidationError("type", "%q does not match endpoint type %q", bodyType, notificationType)
		}
	}

	userID, err := normalizeUserID(p.UserID)
	if err != nil {
		return domain.NotificationRequest{}, err
	}
	templateID, err := normalizeTemplateID(p.TemplateID)
	if err != nil {
		return domain.NotificationRequest{}, err
	}
	variables, err := normalizeVariables(p.Variables)
	if err != nil {
		return domain.NotificationRequest{}, err
	}

	priority := domain.PriorityNormal
	if p.Priority != nil {
		if priority, err = domain.ParsePriority(*p.Priority); err != nil {
			return domain.NotificationRequest{}, err
		}
	}

	idempotencyKey, err := v.IdempotencyKey(p)
	if err != nil {
		return domain.NotificationRequest{}, err
	}

	return domain.NotificationRequest{
		Type:           notificationType,
		UserID:         userID,
		TemplateID:     templateID,
		Variables:      variables,
		IdempotencyKey: idempotencyKey,
		CorrelationID:  correlationID,
		Priority:       priority,
	}, nil
}

func normalizeUserID(raw *string) (string, error) {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return "", domain.NewValidationError("user_id", "is required")
	}
	id, err := uuid.Parse(strings.TrimSpace(*raw))
	if err != nil {
		return "", domain.NewValidationError("user_id", "must be a valid UUID")
	}
	return id.String(), nil
}

func normalizeTemplateID(raw *string) (string, error) {
	if raw == nil {
		return "", domain.NewValidationError("template_id", "is required")
	}
	templateID := strings.TrimSpace(*raw)
	if templateID == "" {
		return "", domain.NewValidationError("template_id", "is required")
	}
	if utf8.RuneCountInString(templateID) > MaxTemplateIDLength {
		return "", domain.NewValidationError("template_id", "must be at most %d characters", MaxTemplateIDLength)
	}
	return templateID, nil
}

// normalizeVariables stringifies scalar values, trims keys and values and
// strips script blocks. Nested objects and arrays are rejected.
func normalizeVariables(raw map[string]any) (map[string]string, error) {
	out := make(map[string]string, len(raw))
	if len(raw) > MaxVariables {
		return nil, domain.NewValidationError("variables", "must contain at most %d entries", MaxVariables)
	}

	for rawKey, rawValue := range raw {
		key := strings.TrimSpace(rawKey)
		if key == "" {
			return nil, domain.NewValidationError("variables", "keys must not be empty")
		}
		if len(key) > MaxVariableKeyLength {
			return nil, domain.NewValidationError("variables."+key, "key must be at most %d characters", MaxVariableKeyLength)
		}

		var value string
		switch tv := rawValue.(type) {
		case nil:
		case string:
			value = tv
		case json.Number:
			value = tv.String()
		case bool:
			value = strconv.FormatBool(tv)
		default:
			return nil, domain.NewValidationError("variables."+key, "must be a string, number or boolean")
		}

		value = strings.TrimSpace(scriptBlockPattern.ReplaceAllString(value, ""))
		if utf8.RuneCountInString(value) > MaxVariableValueLength {
			return nil, domain.NewValidationError("variables."+key, "must be at most %d characters", MaxVariableValueLength)
		}
		out[key] = value
	}
	return out, nil
}
