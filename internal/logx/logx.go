package logx

import (
	"context"

	"pkt.systems/paveurpath/schema"
	"pkt.systems/pslog"
)

type contextKey int

const (
	emailKey contextKey = iota
	threadKey
	boundKey
)

// Ctx returns the logger bound to the provided context.
func Ctx(ctx context.Context) pslog.Logger {
	return pslog.Ctx(ctx)
}

// WithEmail annotates the logger with the account email if present.
func WithEmail(ctx context.Context, email string) pslog.Logger {
	log := pslog.Ctx(ctx)
	if email != "" {
		if current, ok := ctx.Value(emailKey).(string); ok && current == email {
			return log
		}
		log = log.With("email", email)
	}
	return log
}

// WithEmailThread annotates the logger with email and thread identifiers.
func WithEmailThread(ctx context.Context, email, threadID string) pslog.Logger {
	log := WithEmail(ctx, email)
	if threadID != "" {
		if current, ok := ctx.Value(threadKey).(string); ok && current == threadID {
			return log
		}
		log = log.With("thread", threadID)
	}
	return log
}

// WithSession annotates the logger with session fields when available.
// The token is never logged.
func WithSession(log pslog.Logger, session schema.Session) pslog.Logger {
	if log == nil {
		return nil
	}
	if session.Email != "" {
		log = log.With("email", session.Email)
	}
	if session.ThreadID != "" {
		log = log.With("thread", session.ThreadID)
	}
	return log
}

// WithMessage annotates the logger with a transcript entry id.
func WithMessage(log pslog.Logger, id schema.MessageID) pslog.Logger {
	if log != nil && id != "" {
		log = log.With("message", id)
	}
	return log
}

// ContextWithEmail stores the email marker on the context for log de-duplication.
func ContextWithEmail(ctx context.Context, email string) context.Context {
	if ctx == nil || email == "" {
		return ctx
	}
	return context.WithValue(ctx, emailKey, email)
}

// ContextWithThread stores the thread marker on the context for log de-duplication.
func ContextWithThread(ctx context.Context, threadID string) context.Context {
	if ctx == nil || threadID == "" {
		return ctx
	}
	return context.WithValue(ctx, threadKey, threadID)
}

// ContextWithSessionLogger attaches the logger and session markers to the context.
func ContextWithSessionLogger(ctx context.Context, log pslog.Logger, session schema.Session) context.Context {
	ctx = context.WithValue(pslog.ContextWithLogger(ctx, WithSession(log, session)), boundKey, true)
	return ContextWithThread(ContextWithEmail(ctx, session.Email), session.ThreadID)
}

// Bind returns ctx unchanged when ContextWithSessionLogger already bound a
// logger to it, otherwise a child context carrying fallback.
func Bind(ctx context.Context, fallback pslog.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if bound, _ := ctx.Value(boundKey).(bool); bound {
		return ctx
	}
	return pslog.ContextWithLogger(ctx, fallback)
}
