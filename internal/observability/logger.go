package observability

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// requestFields are the per-request values every log line should carry.
type requestFields struct {
	correlationID string
	apiKey        string
}

type requestFieldsKey struct{}

// NewLogger builds a JSON logger on stdout. Every entry carries the service
// name so gateway and relay output can share a sink.
func NewLogger(level string, service string) (*zap.Logger, error) {
	parsedLevel, err := parseLevel(level)
	if err != nil {
		return nil, err
	}

	encoder := zap.NewProductionEncoderConfig()
	encoder.TimeKey = "timestamp"
	encoder.MessageKey = "message"
	encoder.EncodeTime = zapcore.ISO8601TimeEncoder

	cfg := zap.Config{
		Level:             zap.NewAtomicLevelAt(parsedLevel),
		Encoding:          "json",
		EncoderConfig:     encoder,
		OutputPaths:       []string{"stdout"},
		ErrorOutputPaths:  []string{"stderr"},
		DisableStacktrace: true,
	}
	if service = strings.TrimSpace(service); service != "" {
		cfg.InitialFields = map[string]interface{}{"service": service}
	}

	logger, err := cfg.Build(zap.AddCaller())
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger, nil
}

func parseLevel(level string) (zapcore.Level, error) {
	normalized := strings.ToLower(strings.TrimSpace(level))
	switch normalized {
	case "":
		return zapcore.InfoLevel, nil
	case "warning":
		normalized = "warn"
	}

	parsed, err := zapcore.ParseLevel(normalized)
	if err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return parsed, nil
}

func fieldsFrom(ctx context.Context) requestFields {
	if ctx == nil {
		return requestFields{}
	}
	f, _ := ctx.Value(requestFieldsKey{}).(requestFields)
	return f
}

func withFields(ctx context.Context, update func(*requestFields)) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	f := fieldsFrom(ctx)
	update(&f)
	return context.WithValue(ctx, requestFieldsKey{}, f)
}

func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return withFields(ctx, func(f *requestFields) { f.correlationID = correlationID })
}

// WithAPIKeyFingerprint tags the context with a caller identity that is safe
// to log. Never pass the raw key.
func WithAPIKeyFingerprint(ctx context.Context, fingerprint string) context.Context {
	return withFields(ctx, func(f *requestFields) { f.apiKey = fingerprint })
}

func CorrelationIDFromContext(ctx context.Context) (string, bool) {
	id := fieldsFrom(ctx).correlationID
	return id, id != ""
}

// WithContextLogger attaches the request fields found on ctx.
func WithContextLogger(logger *zap.Logger, ctx context.Context) *zap.Logger {
	if logger == nil {
		return nil
	}

	f := fieldsFrom(ctx)
	fields := make([]zap.Field, 0, 2)
	if f.correlationID != "" {
		fields = append(fields, zap.String("correlationId", f.correlationID))
	}
	if f.apiKey != "" {
		fields = append(fields, zap.String("apiKey", f.apiKey))
	}
	if len(fields) == 0 {
		return logger
	}
	return logger.With(fields...)
}
