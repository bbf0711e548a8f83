package logging

import (
	"context"
	"log/slog"

	"keyredeem/internal/services"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldRunID identifies one redeem or reconcile run.
	FieldRunID = "run_id"
	// FieldGamekey is the order/subscription identifier a key belongs to.
	FieldGamekey = "gamekey"
	// FieldKeyName is the human-readable title of a key.
	FieldKeyName = "key_name"
	// FieldKeyValue carries a revealed key; sinks redact it.
	FieldKeyValue = "key_value"
	// FieldBucket names a ledger bucket.
	FieldBucket = "bucket"
	// FieldRemaining is the number of keys still queued in a pass.
	FieldRemaining = "remaining"
	// FieldResultCode is the registrar result code of a redeem attempt.
	FieldResultCode = "result_code"
	// FieldEventType classifies a log line for filtering.
	FieldEventType = "event_type"
	// FieldErrorHint tells the operator what to do next.
	FieldErrorHint = "error_hint"
	// FieldImpact is the user-facing consequence of a warning.
	FieldImpact = "impact"
)

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 3)
	if id, ok := services.RunIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldRunID, id))
	}
	if gamekey, name, ok := services.KeyFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldGamekey, gamekey), slog.String(FieldKeyName, name))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(Args(fields...)...)
}
