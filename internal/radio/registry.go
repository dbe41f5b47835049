package radio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultPollInterval is the cadence of per-identity snapshots
	DefaultPollInterval = 2 * time.Second

	// DefaultDiscoveryInterval is the cadence at which new identities are looked up
	DefaultDiscoveryInterval = 30 * time.Second
)

// ErrIdentityGone is returned by a Sensor when the identity is no longer active.
var ErrIdentityGone = errors.New("radio identity is no longer available")

// Sensor is the platform radio adapter. Reads are synchronous point-in-time
// queries.
type Sensor interface {
	// ActiveIdentities returns the radio identities currently active on the device.
	// It may return an empty slice, e.g. when permission is not granted.
	ActiveIdentities(ctx context.Context) ([]Identity, error)

	// Read returns the current signal state of one identity. It returns
	// ErrIdentityGone when the identity disappeared.
	Read(ctx context.Context, subscriptionID int) (Snapshot, error)
}

// WithLogger sets the logger for the registry
func WithLogger(logger *slog.Logger) func(*Registry) {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithPollInterval sets the snapshot cadence
func WithPollInterval(d time.Duration) func(*Registry) {
	return func(r *Registry) {
		r.pollInterval = d
	}
}

// WithDiscoveryInterval sets how often Stream looks for new identities. Zero
// disables rediscovery.
func WithDiscoveryInterval(d time.Duration) func(*Registry) {
	return func(r *Registry) {
		r.discoveryInterval = d
	}
}

// WithClock sets the time source used to stamp stale snapshots
func WithClock(now func() time.Time) func(*Registry) {
	return func(r *Registry) {
		r.now = now
	}
}

// Registry turns a Sensor into per-identity snapshot streams.
type Registry struct {
	sensor Sensor

	pollInterval      time.Duration
	discoveryInterval time.Duration
	now               func() time.Time

	logger *slog.Logger
}

// NewRegistry creates a Registry polling the given sensor
func NewRegistry(sensor Sensor, options ...func(*Registry)) *Registry {
	r := Registry{
		sensor:            sensor,
		pollInterval:      DefaultPollInterval,
		discoveryInterval: DefaultDiscoveryInterval,
		now:               time.Now,
		logger:            slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&r)
	}

	if r.pollInterval <= 0 {
		r.pollInterval = DefaultPollInterval
	}

	return &r
}

// ListActiveIdentities returns the active identities. Sensor failures are
// logged and reported as an empty set.
func (r *Registry) ListActiveIdentities(ctx context.Context) []Identity {
	ids, err := r.sensor.ActiveIdentities(ctx)
	if err != nil {
		r.logger.Warn(fmt.Sprintf("listing radio identities: %s", err.Error()))
		return nil
	}
	return ids
}

// Snapshots polls one identity: once immediately, then every poll interval.
// The channel is closed when ctx is cancelled or the identity disappears.
// Read failures never end the stream; the last good snapshot is re-emitted
// with a fresh timestamp, or an Unavailable snapshot if there is none.
func (r *Registry) Snapshots(ctx context.Context, id Identity) <-chan Snapshot {
	out := make(chan Snapshot)

	go func() {
		defer close(out)

		logger := r.logger.With(slog.Int("subscription", id.SubscriptionID))

		ticker := time.NewTicker(r.pollInterval)
		defer ticker.Stop()

		var last *Snapshot
		for {
			snap, err := r.sensor.Read(ctx, id.SubscriptionID)
			switch {
			case errors.Is(err, ErrIdentityGone):
				logger.Info("radio identity is gone, stopping snapshots")
				return

			case err != nil:
				if ctx.Err() != nil {
					return
				}

				logger.Warn(fmt.Sprintf("reading signal state: %s", err.Error()))
				if last != nil {
					snap = last.Stale(r.now())
				} else {
					snap = UnavailableSnapshot(id, r.now(), err.Error())
				}

			default:
				if snap.Timestamp.IsZero() {
					snap.Timestamp = r.now()
				}
				snap.SubscriptionID = id.SubscriptionID
				last = &snap
			}

			select {
			case out <- snap:
			case <-ctx.Done():
				return
			}

			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}

// Stream merges the snapshot streams of all active identities. Identities
// appearing later are picked up on the discovery cadence; all polling
// goroutines stop together when ctx is cancelled, after which the channel
// is closed.
func (r *Registry) Stream(ctx context.Context) <-chan Snapshot {
	out := make(chan Snapshot)

	go func() {
		defer close(out)

		var wg sync.WaitGroup
		var mu sync.Mutex
		active := make(map[int]struct{})

		start := func(id Identity) {
			mu.Lock()
			if _, ok := active[id.SubscriptionID]; ok {
				mu.Unlock()
				return
			}
			active[id.SubscriptionID] = struct{}{}
			mu.Unlock()

			r.logger.Info("polling radio identity",
				slog.Int("subscription", id.SubscriptionID),
				slog.Int("slot", id.SlotIndex))

			wg.Add(1)
			go func() {
				defer wg.Done()
				defer func() {
					mu.Lock()
					delete(active, id.SubscriptionID)
					mu.Unlock()
				}()

				for snap := range r.Snapshots(ctx, id) {
					select {
					case out <- snap:
					case <-ctx.Done():
						return
					}
				}
			}()
		}

		discover := func() {
			for _, id := range r.ListActiveIdentities(ctx) {
				start(id)
			}
		}

		discover()

		var tick <-chan time.Time
		if r.discoveryInterval > 0 {
			ticker := time.NewTicker(r.discoveryInterval)
			defer ticker.Stop()
			tick = ticker.C
		}

	loop:
		for {
			select {
			case <-ctx.Done():
				break loop
			case <-tick:
				discover()
			}
		}

		wg.Wait()
	}()

	return out
}
