package events

import (
	"context"
	"fmt"
	"time"

	"github.com/diagnosis/gatekeeper-relay/pkg/logger"
	"github.com/nats-io/nats.go"
)

type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

type Subscriber interface {
	Subscribe(subject string, handler func(msg *Message)) error
}

type EventBus interface {
	Publisher
	Subscriber
	Close() error
}

var _ EventBus = (*NATSEventBus)(nil)

type Message struct {
	Subject   string
	Data      []byte
	Timestamp time.Time
}

type Options struct {
	Name          string
	ReconnectWait time.Duration
	MaxReconnects int
}

type NATSEventBus struct {
	conn *nats.Conn
	subs []*nats.Subscription
}

// NewNATSEventBus connects to the broker. Reconnects are left to the client
// library; the handlers registered here only log connection state changes.
func NewNATSEventBus(url string, opts Options) (*NATSEventBus, error) {
	conn, err := nats.Connect(url,
		nats.Name(opts.Name),
		nats.ReconnectWait(opts.ReconnectWait),
		nats.MaxReconnects(opts.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS reconnected", "url", c.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			logger.Info("NATS connection closed")
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			logger.Error("NATS async error", "subject", subject, "error", err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &NATSEventBus{conn: conn}, nil
}

func (n *NATSEventBus) Publish(ctx context.Context, subject string, data []byte) error {
	logger.DebugContext(ctx, "Publishing event", "subject", subject, "data", string(data))

	if err := n.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}

func (n *NATSEventBus) Subscribe(subject string, handler func(msg *Message)) error {
	sub, err := n.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(newMessage(msg))
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	n.subs = append(n.subs, sub)
	return nil
}

// Close drains subscriptions so in-flight messages are handled before the
// connection goes away.
func (n *NATSEventBus) Close() error {
	if err := n.conn.Drain(); err != nil {
		n.conn.Close()
		return fmt.Errorf("failed to drain NATS connection: %w", err)
	}
	return nil
}

func newMessage(msg *nats.Msg) *Message {
	return &Message{
		Subject:   msg.Subject,
		Data:      msg.Data,
		Timestamp: time.Now(),
	}
}
