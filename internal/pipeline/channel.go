package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/roman-kulish/signal-logger/internal/measurement"
)

// ErrChannelClosed is returned by Submit after Close
var ErrChannelClosed = errors.New("persistence channel is closed")

// Sink persists one record. It is only ever called from a single goroutine.
type Sink interface {
	Persist(ctx context.Context, r measurement.Record) error
}

// SinkFunc adapts a function to the Sink interface
type SinkFunc func(ctx context.Context, r measurement.Record) error

func (f SinkFunc) Persist(ctx context.Context, r measurement.Record) error {
	return f(ctx, r)
}

// WithChannelLogger sets the logger for the channel
func WithChannelLogger(logger *slog.Logger) func(*Channel) {
	return func(c *Channel) {
		c.logger = logger
	}
}

// Channel is an unbounded FIFO queue with a single consumer. Producers never
// block; the consumer hands records to the Sink strictly in submission
// order, and a failed record is logged and skipped.
type Channel struct {
	sink Sink

	mu       sync.Mutex
	queue    []measurement.Record
	inFlight bool
	closed   bool

	wake chan struct{}
	done chan struct{}

	logger *slog.Logger
}

// NewChannel creates a Channel and starts its consumer
func NewChannel(sink Sink, options ...func(*Channel)) *Channel {
	c := Channel{
		sink:   sink,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&c)
	}

	go c.consume()

	return &c
}

// Submit enqueues r without blocking.
func (c *Channel) Submit(r measurement.Record) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrChannelClosed
	}
	c.queue = append(c.queue, r)
	c.mu.Unlock()

	c.signal()
	return nil
}

// Pending returns the number of records not yet persisted, including the
// one being persisted.
func (c *Channel) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.queue)
	if c.inFlight {
		n++
	}
	return n
}

// Close stops accepting records and returns once everything already
// submitted has been handed to the Sink. Close is idempotent.
func (c *Channel) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.signal()
	<-c.done
}

func (c *Channel) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Channel) consume() {
	defer close(c.done)

	ctx := context.Background()
	for {
		c.mu.Lock()
		if len(c.queue) == 0 {
			closed := c.closed
			c.mu.Unlock()

			if closed {
				return
			}
			<-c.wake
			continue
		}

		r := c.queue[0]
		c.queue[0] = measurement.Record{}
		c.queue = c.queue[1:]
		c.inFlight = true
		c.mu.Unlock()

		if err := c.sink.Persist(ctx, r); err != nil {
			c.logger.Error(fmt.Sprintf("persisting record: %s", err.Error()),
				slog.String("session", r.SessionID),
				slog.Int("subscription", r.SubscriptionID),
				slog.Time("timestamp", r.Timestamp))
		}

		c.mu.Lock()
		c.inFlight = false
		c.mu.Unlock()
	}
}
