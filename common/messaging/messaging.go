// Package messaging defines the broker abstraction vidcat services publish
// domain events through.
package messaging

import (
	"context"
	"time"
)

// Message is a payload bound for (or received from) a subject.
type Message struct {
	Subject   string
	Data      []byte
	Reply     string
	Metadata  map[string]string
	Timestamp time.Time
}

// Publisher sends messages to subjects. Publishing is fire-and-forget.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
	PublishMsg(ctx context.Context, msg *Message) error
	Close() error
}

// NoopPublisher discards every message. It stands in when no broker is
// configured.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, string, []byte) error { return nil }

func (NoopPublisher) PublishMsg(context.Context, *Message) error { return nil }

func (NoopPublisher) Close() error { return nil }

// PublishOption configures a single publish.
type PublishOption func(*publishOptions)

type publishOptions struct {
	headers map[string]string
}

// WithHeader adds a header to the published message.
func WithHeader(key, value string) PublishOption {
	return func(o *publishOptions) {
		if o.headers == nil {
			o.headers = make(map[string]string)
		}
		o.headers[key] = value
	}
}

// NewMessage builds a Message for subject with the given options applied.
func NewMessage(subject string, data []byte, opts ...PublishOption) *Message {
	var o publishOptions
	for _, opt := range opts {
		opt(&o)
	}
	return &Message{
		Subject:   subject,
		Data:      data,
		Metadata:  o.headers,
		Timestamp: time.Now().UTC(),
	}
}
