package domain

import (
	"errors"
	"testing"
)

func TestParseStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    Status
		wantErr bool
	}{
		{name: "valid lowercase", input: "sent", want: StatusSent},
		{name: "valid uppercase with spaces", input: " QUEUED ", want: StatusQueued},
		{name: "invalid", input: "unknown", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := ParseStatus(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrValidation) {
					t.Fatalf("ParseStatus() error = %v, want ErrValidation", err)
				}
				return
			}

			if err != nil {
				t.Fatalf("ParseStatus() unexpected error = %v", err)
			}
			if got != tt.want {
				t.Fatalf("ParseStatus() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestParseType(t *testing.T) {
	t.Parallel()

	got, err := ParseType(" Email ")
	if err != nil {
		t.Fatalf("ParseType() unexpected error = %v", err)
	}
	if got != TypeEmail {
		t.Fatalf("ParseType() = %s, want %s", got, TypeEmail)
	}

	_, err = ParseType("sms")
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("ParseType() error = %v, want ErrValidation", err)
	}
	var vErr *ValidationError
	if !errors.As(err, &vErr) || vErr.Field != "type" {
		t.Fatalf("ParseType() error = %v, want ValidationError on type", err)
	}
}

func TestParsePriority(t *testing.T) {
	t.Parallel()

	got, err := ParsePriority("")
	if err != nil || got != PriorityNormal {
		t.Fatalf("ParsePriority(\"\") = %s, %v, want normal", got, err)
	}

	got, err = ParsePriority("HIGH")
	if err != nil || got != PriorityHigh {
		t.Fatalf("ParsePriority(HIGH) = %s, %v, want high", got, err)
	}

	if _, err := ParsePriority("urgent"); !errors.Is(err, ErrValidation) {
		t.Fatalf("ParsePriority(urgent) error = %v, want ErrValidation", err)
	}
}

func TestStatusTransitions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusQueued, StatusProcessing, true},
		{StatusQueued, StatusSent, true},
		{StatusQueued, StatusFailed, true},
		{StatusProcessing, StatusSent, true},
		{StatusProcessing, StatusQueued, false},
		{StatusSent, StatusFailed, false},
		{StatusFailed, StatusProcessing, false},
		{StatusSent, StatusSent, true},
	}

	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
			t.Errorf("%s.CanTransitionTo(%s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestEstimatedDelivery(t *testing.T) {
	t.Parallel()

	if TypeEmail.EstimatedDelivery() <= TypePush.EstimatedDelivery() {
		t.Fatal("email should be estimated slower than push")
	}
}
