package core

import (
	"context"
	"errors"
	"net"

	"pkt.systems/paveurpath/schema"
)

// SendError reports a failed chat request. The human message stays in the
// transcript with status failed.
type SendError struct {
	MessageID schema.MessageID
	Err       error
}

func (e *SendError) Error() string {
	if e == nil || e.Err == nil {
		return "send message failed"
	}
	return "send message: " + e.Err.Error()
}

func (e *SendError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Retryable reports whether resending the same text could succeed.
func (e *SendError) Retryable() bool {
	if e == nil || e.Err == nil {
		return false
	}
	if errors.Is(e.Err, context.Canceled) {
		return false
	}
	var classified interface{ Retryable() bool }
	if errors.As(e.Err, &classified) {
		return classified.Retryable()
	}
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(e.Err, &netErr)
}
