package measurement

import (
	"context"
	"sync"
	"time"
)

// View is a point-in-time snapshot of a Log delivered to subscribers.
type View struct {
	Total   int      // Number of records in the log
	Records []Record // The most recent records, at most the requested tail
}

// Log is an append-only, concurrency-safe sequence of records. Readers get
// copies; the backing slice is never exposed.
type Log struct {
	mu      sync.RWMutex
	records []Record
	version uint64
}

// NewLog creates an empty Log
func NewLog() *Log {
	return &Log{}
}

// Append adds r to the end of the log and returns its index.
func (l *Log) Append(r Record) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.records = append(l.records, r)
	l.version++
	return len(l.records) - 1
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return len(l.records)
}

// Since returns a copy of the records from index i onwards.
func (l *Log) Since(i int) []Record {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if i < 0 {
		i = 0
	}
	if i >= len(l.records) {
		return nil
	}

	out := make([]Record, len(l.records)-i)
	copy(out, l.records[i:])
	return out
}

// Tail returns a copy of the last n records.
func (l *Log) Tail(n int) []Record {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.tail(n)
}

// Reset empties the log, e.g. when a new session starts.
func (l *Log) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.records = nil
	l.version++
}

// Subscribe delivers a View every interval, but only when the log changed
// since the previous delivery. Slow subscribers miss intermediate views
// rather than holding up appends. The channel is closed when ctx is done.
func (l *Log) Subscribe(ctx context.Context, interval time.Duration, tail int) <-chan View {
	out := make(chan View, 1)

	go func() {
		defer close(out)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var seen uint64
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			l.mu.RLock()
			version := l.version
			view := View{Total: len(l.records), Records: l.tail(tail)}
			l.mu.RUnlock()

			if version == seen {
				continue
			}

			select {
			case out <- view:
				seen = version
			default:
			}
		}
	}()

	return out
}

func (l *Log) tail(n int) []Record {
	if n <= 0 || len(l.records) == 0 {
		return nil
	}
	if n > len(l.records) {
		n = len(l.records)
	}

	out := make([]Record, n)
	copy(out, l.records[len(l.records)-n:])
	return out
}
