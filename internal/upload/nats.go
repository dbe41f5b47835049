package upload

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NATSTransport publishes payloads to a JetStream subject. The batch
// deduplication id is sent as the message id so that a retried batch
// within the stream's duplicate window is stored once.
type NATSTransport struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	subject string
}

// NewNATSTransport connects to the NATS server at url
func NewNATSTransport(url, subject, name string) (*NATSTransport, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.PingInterval(5*time.Second),
		nats.MaxPingsOutstanding(3),
		nats.ReconnectWait(500*time.Millisecond),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", url, err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("nats jetstream init: %w", err)
	}

	return &NATSTransport{nc: nc, js: js, subject: subject}, nil
}

func (t *NATSTransport) Send(ctx context.Context, p *Payload) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}

	msg := &nats.Msg{
		Subject: t.subject,
		Data:    data,
		Header:  make(nats.Header),
	}
	msg.Header.Set("Nats-Msg-Id", p.DeduplicationID())

	if _, err = t.js.PublishMsg(ctx, msg); err != nil {
		return fmt.Errorf("publishing payload: %w", err)
	}
	return nil
}

// Close drains and closes the connection
func (t *NATSTransport) Close() error {
	return t.nc.Drain()
}
