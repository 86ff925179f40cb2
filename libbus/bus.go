// Package libbus fans session events (trace changes, plan replacements) out to
// whoever renders them. The workflow only ever publishes; UIs subscribe.
package libbus

import (
	"context"
	"errors"
)

var ErrConnectionClosed = errors.New("libbus: connection closed")

type Subscription interface {
	Unsubscribe() error
}

// Messenger is implemented by the in-memory bus and the NATS bus.
type Messenger interface {
	Publish(ctx context.Context, subject string, data []byte) error
	Stream(ctx context.Context, subject string, ch chan<- []byte) (Subscription, error)
	Close() error
}
