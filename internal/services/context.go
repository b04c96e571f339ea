package services

import "context"

type contextKey string

const (
	videoIDKey   contextKey = "video_id"
	strategyKey  contextKey = "strategy"
	requestIDKey contextKey = "request_id"
	baseURLKey   contextKey = "base_url"
)

// WithVideoID annotates context with the resolved video identifier.
func WithVideoID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, videoIDKey, id)
}

// VideoIDFromContext extracts the video identifier if present.
func VideoIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(videoIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithStrategy annotates context with the extraction strategy currently attempted.
func WithStrategy(ctx context.Context, strategy string) context.Context {
	if strategy == "" {
		return ctx
	}
	return context.WithValue(ctx, strategyKey, strategy)
}

// StrategyFromContext returns the strategy name if present.
func StrategyFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(strategyKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithRequestID annotates context with a correlation identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the correlation identifier if present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(requestIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithBaseURL records the externally visible scheme and host of the inbound
// request so cached files can be addressed with absolute URLs.
func WithBaseURL(ctx context.Context, base string) context.Context {
	if base == "" {
		return ctx
	}
	return context.WithValue(ctx, baseURLKey, base)
}

// BaseURLFromContext returns the request base URL if present.
func BaseURLFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(baseURLKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}
