package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/roman-kulish/signal-logger/internal/measurement"
)

type recordingSink struct {
	mu     sync.Mutex
	got    []int
	failOn int
	delay  time.Duration
}

func (s *recordingSink) Persist(_ context.Context, r measurement.Record) error {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if r.RSRP == s.failOn {
		return errors.New("disk full")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, r.RSRP)
	return nil
}

func (s *recordingSink) persisted() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.got...)
}

func TestChannel_Order(t *testing.T) {
	sink := &recordingSink{failOn: -1}
	c := NewChannel(sink)

	for i := range 1000 {
		if err := c.Submit(measurement.Record{RSRP: i}); err != nil {
			t.Fatalf("submitting: %v", err)
		}
	}
	c.Close()

	got := sink.persisted()
	if len(got) != 1000 {
		t.Fatalf("expected 1000 persisted records, got %d", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("record %d persisted out of order: got %d", i, v)
		}
	}
}

func TestChannel_FailureDoesNotStopConsumer(t *testing.T) {
	sink := &recordingSink{failOn: 3}
	c := NewChannel(sink)

	for i := range 6 {
		_ = c.Submit(measurement.Record{RSRP: i})
	}
	c.Close()

	got := sink.persisted()
	want := []int{0, 1, 2, 4, 5}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestChannel_CloseDrains(t *testing.T) {
	sink := &recordingSink{failOn: -1, delay: 5 * time.Millisecond}
	c := NewChannel(sink)

	for i := range 10 {
		_ = c.Submit(measurement.Record{RSRP: i})
	}
	if c.Pending() == 0 {
		t.Error("expected pending records before close")
	}

	c.Close()

	if n := len(sink.persisted()); n != 10 {
		t.Errorf("close must drain the queue, persisted %d of 10", n)
	}
	if c.Pending() != 0 {
		t.Errorf("expected no pending records, got %d", c.Pending())
	}
	if err := c.Submit(measurement.Record{}); !errors.Is(err, ErrChannelClosed) {
		t.Errorf("expected ErrChannelClosed, got %v", err)
	}

	c.Close()
}

func TestChannel_ConcurrentProducers(t *testing.T) {
	sink := &recordingSink{failOn: -1}
	c := NewChannel(sink)

	var wg sync.WaitGroup
	for p := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 100 {
				_ = c.Submit(measurement.Record{RSRP: p*1000 + i})
			}
		}()
	}
	wg.Wait()
	c.Close()

	got := sink.persisted()
	if len(got) != 400 {
		t.Fatalf("expected 400 records, got %d", len(got))
	}

	// Records of one producer keep their relative order.
	last := map[int]int{0: -1, 1: -1, 2: -1, 3: -1}
	for _, v := range got {
		p, i := v/1000, v%1000
		if i <= last[p] {
			t.Fatalf("producer %d: record %d persisted after %d", p, i, last[p])
		}
		last[p] = i
	}
}
