package transport

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
)

// SuccessEnvelope wraps every successful response body.
type SuccessEnvelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data"`
	Message string      `json:"message"`
	Meta    interface{} `json:"meta"`
}

// ErrorEnvelope wraps every failed response body.
type ErrorEnvelope struct {
	Success bool        `json:"success"`
	Error   string      `json:"error"`
	Message string      `json:"message"`
	Meta    interface{} `json:"meta"`
}

func Success(data interface{}, message string) SuccessEnvelope {
	return SuccessEnvelope{Success: true, Data: data, Message: message}
}

// APIError is an error already classified for the HTTP surface.
type APIError struct {
	Status     int
	Code       string
	Message    string
	RetryAfter int
	Cause      error
}

func (e *APIError) Error() string {
	if e.Cause != nil {
		return e.Code + ": " + e.Cause.Error()
	}
	return e.Code + ": " + e.Message
}

func (e *APIError) Unwrap() error { return e.Cause }

func NewAPIError(status int, code, message string) *APIError {
	return &APIError{Status: status, Code: code, Message: message}
}

// WriteError renders e as the uniform error envelope.
func WriteError(c *fiber.Ctx, e *APIError) error {
	if e.RetryAfter > 0 {
		c.Set(fiber.HeaderRetryAfter, strconv.Itoa(e.RetryAfter))
	}
	return c.Status(e.Status).JSON(ErrorEnvelope{
		Success: false,
		Error:   e.Code,
		Message: e.Message,
	})
}
