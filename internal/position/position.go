package position

import (
	"context"
	"sync"
	"time"
)

// Source produces position samples until ctx is cancelled or the underlying
// device stops. A Source that cannot start returns an error; callers treat
// that as "no position ever arrives".
type Source interface {
	Positions(ctx context.Context) (<-chan Sample, error)
}

// Sample is a single position fix
type Sample struct {
	Timestamp time.Time `json:"timestamp"`          // Timestamp of the fix
	Latitude  float64   `json:"latitude"`           // WGS84 latitude in degrees
	Longitude float64   `json:"longitude"`          // WGS84 longitude in degrees
	Altitude  *float64  `json:"altitude,omitempty"` // Altitude above mean sea level in meters
	Speed     *float64  `json:"speed,omitempty"`    // Ground speed in m/s
	Bearing   *float64  `json:"bearing,omitempty"`  // Course over ground in degrees [0, 360)
	Accuracy  *float64  `json:"accuracy,omitempty"` // Horizontal accuracy in meters
}

// Tracker keeps the most recent position sample. It is safe for concurrent use.
type Tracker struct {
	mu     sync.RWMutex
	latest Sample
	valid  bool
}

// Update replaces the latest sample.
func (t *Tracker) Update(s Sample) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.latest = s
	t.valid = true
}

// Latest returns the most recent sample and false if none has been observed
// since the tracker was created or reset.
func (t *Tracker) Latest() (Sample, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.latest, t.valid
}

// Reset forgets the latest sample.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.latest = Sample{}
	t.valid = false
}

// ChanSource adapts a caller-owned channel to the Source interface.
type ChanSource struct {
	C <-chan Sample
}

func (s ChanSource) Positions(ctx context.Context) (<-chan Sample, error) {
	out := make(chan Sample)
	go func() {
		defer close(out)

		for {
			select {
			case <-ctx.Done():
				return
			case sample, ok := <-s.C:
				if !ok {
					return
				}
				select {
				case out <- sample:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}
