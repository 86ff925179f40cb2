package libbus

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// NATS is a Messenger backed by a NATS connection.
type NATS struct {
	conn *nats.Conn
}

// NewNATS connects to url. The connection is owned by the returned Messenger.
func NewNATS(ctx context.Context, url string, opts ...nats.Option) (*NATS, error) {
	opts = append([]nats.Option{nats.Name("analyst"), nats.Timeout(5 * time.Second)}, opts...)
	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats at %s: %w", url, err)
	}
	if err := ctx.Err(); err != nil {
		conn.Close()
		return nil, err
	}
	return &NATS{conn: conn}, nil
}

func (n *NATS) Publish(_ context.Context, subject string, data []byte) error {
	if n.conn.IsClosed() {
		return ErrConnectionClosed
	}
	if err := n.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}
	return nil
}

func (n *NATS) Stream(ctx context.Context, subject string, ch chan<- []byte) (Subscription, error) {
	if n.conn.IsClosed() {
		return nil, ErrConnectionClosed
	}
	sub, err := n.conn.Subscribe(subject, func(msg *nats.Msg) {
		select {
		case ch <- msg.Data:
		case <-ctx.Done():
		}
	})
	if err != nil {
		return nil, fmt.Errorf("nats subscribe %s: %w", subject, err)
	}
	go func() {
		<-ctx.Done()
		_ = sub.Unsubscribe()
	}()
	return sub, nil
}

func (n *NATS) Close() error {
	n.conn.Close()
	return nil
}

var _ Messenger = (*NATS)(nil)
