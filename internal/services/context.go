package services

import "context"

type contextKey string

const (
	runIDKey contextKey = "run_id"
	keyKey   contextKey = "key"
)

type keyIdentity struct {
	gamekey string
	name    string
}

// WithRunID annotates context with the run correlation identifier.
func WithRunID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, runIDKey, id)
}

// RunIDFromContext extracts the run identifier if present.
func RunIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(runIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithKey annotates context with the key currently being processed.
func WithKey(ctx context.Context, gamekey, name string) context.Context {
	if gamekey == "" && name == "" {
		return ctx
	}
	return context.WithValue(ctx, keyKey, keyIdentity{gamekey: gamekey, name: name})
}

// KeyFromContext returns the gamekey and name of the key in flight.
func KeyFromContext(ctx context.Context) (string, string, bool) {
	v, ok := ctx.Value(keyKey).(keyIdentity)
	if !ok {
		return "", "", false
	}
	return v.gamekey, v.name, true
}
