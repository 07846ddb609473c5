// Package logctx decorates slog records with request-scoped storage
// attributes carried in the context, so every log line inside a locked
// session flow or a reap batch identifies itself without plumbing loggers
// around.
package logctx

import (
	"context"
	"log/slog"
)

type Handler struct {
	slog.Handler
}

func (h Handler) Handle(ctx context.Context, r slog.Record) error {
	if sd, ok := ctx.Value(sessionDataKey{}).(*SessionData); ok {
		r.AddAttrs(slog.Group("sess",
			slog.String("id", sd.SessionID),
			slog.String("backend", sd.Backend),
			slog.String("request_id", sd.RequestID),
		))
	}

	if rd, ok := ctx.Value(reapDataKey{}).(*ReapData); ok {
		r.AddAttrs(slog.Group("reap",
			slog.String("batch_id", rd.BatchID),
			slog.String("backend", rd.Backend),
		))
	}

	return h.Handler.Handle(ctx, r)
}

type sessionDataKey struct{}

type SessionData struct {
	SessionID string
	Backend   string
	RequestID string
}

func WithSessionData(ctx context.Context, data *SessionData) context.Context {
	return context.WithValue(ctx, sessionDataKey{}, data)
}

type reapDataKey struct{}

type ReapData struct {
	BatchID string
	Backend string
}

func WithReapData(ctx context.Context, data *ReapData) context.Context {
	return context.WithValue(ctx, reapDataKey{}, data)
}
