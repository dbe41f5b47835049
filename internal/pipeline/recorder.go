package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/roman-kulish/signal-logger/internal/export"
	"github.com/roman-kulish/signal-logger/internal/measurement"
	"github.com/roman-kulish/signal-logger/internal/position"
	"github.com/roman-kulish/signal-logger/internal/radio"
	"github.com/roman-kulish/signal-logger/internal/storage"
)

var (
	// ErrSessionActive is returned by Start while a session is recording
	ErrSessionActive = errors.New("a session is already recording")

	// ErrStopPending is returned while the previous session is still closing
	ErrStopPending = errors.New("previous session is still stopping")

	// ErrNotRecording is returned by Stop when no session is recording
	ErrNotRecording = errors.New("no session is recording")

	// ErrNoPosition means a snapshot arrived before any position sample
	ErrNoPosition = errors.New("no position observed yet")
)

// SignalSource produces signal snapshots of all radio identities until ctx
// is cancelled. *radio.Registry implements it.
type SignalSource interface {
	Stream(ctx context.Context) <-chan radio.Snapshot
}

// WithLogger sets the logger for the recorder
func WithLogger(logger *slog.Logger) func(*Recorder) {
	return func(r *Recorder) {
		r.logger = logger
	}
}

// WithLog sets the in-memory log records of the current session are
// appended to
func WithLog(log *measurement.Log) func(*Recorder) {
	return func(r *Recorder) {
		r.log = log
	}
}

// WithClock sets the time source for session start and end times
func WithClock(now func() time.Time) func(*Recorder) {
	return func(r *Recorder) {
		r.now = now
	}
}

type state int

const (
	stateIdle state = iota
	stateRunning
	stateStopping
)

// Status describes the recorder for callers such as the control API
type Status struct {
	Recording bool             `json:"recording"`
	Stopping  bool             `json:"stopping"`
	Session   *storage.Session `json:"session,omitempty"`
	Records   int              `json:"records"`
	Pending   int              `json:"pending"`
}

// Recorder runs logging sessions: it joins position samples and signal
// snapshots into records and persists them through a Channel to the export
// Writer and the Store.
type Recorder struct {
	deviceID  string
	store     storage.Store
	writer    *export.Writer
	positions position.Source
	signals   SignalSource

	log    *measurement.Log
	now    func() time.Time
	logger *slog.Logger

	mu      sync.Mutex
	state   state
	session *activeSession
}

// activeSession is the state owned by one running session
type activeSession struct {
	info    storage.Session
	tracker position.Tracker
	channel *Channel
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu       sync.Mutex
	last     time.Time
	profiles map[int]radio.Profile
}

// NewRecorder creates an idle Recorder
func NewRecorder(deviceID string, store storage.Store, writer *export.Writer, positions position.Source, signals SignalSource, options ...func(*Recorder)) *Recorder {
	r := Recorder{
		deviceID:  deviceID,
		store:     store,
		writer:    writer,
		positions: positions,
		signals:   signals,
		log:       measurement.NewLog(),
		now:       time.Now,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&r)
	}

	return &r
}

// Log returns the in-memory log of the current session
func (r *Recorder) Log() *measurement.Log {
	return r.log
}

// Start begins a session whose export files are named after filename.
func (r *Recorder) Start(ctx context.Context, filename string) (*storage.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.state {
	case stateRunning:
		return nil, ErrSessionActive
	case stateStopping:
		return nil, ErrStopPending
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generating session id: %w", err)
	}

	sess := activeSession{
		info: storage.Session{
			ID:        id.String(),
			Filename:  filename,
			DeviceID:  r.deviceID,
			StartTime: r.now().UTC().Truncate(time.Millisecond),
		},
		profiles: make(map[int]radio.Profile),
	}

	if err = r.writer.Open(filename); err != nil {
		return nil, fmt.Errorf("opening export files: %w", err)
	}

	if err = r.store.CreateSession(ctx, sess.info.ID, filename, r.deviceID, sess.info.StartTime); err != nil {
		if cerr := r.writer.Close(); cerr != nil {
			r.logger.Error(fmt.Sprintf("closing export files: %s", cerr.Error()))
		}
		return nil, fmt.Errorf("creating session: %w", err)
	}

	logger := r.logger.With(slog.String("session", sess.info.ID))

	r.log.Reset()
	sess.channel = NewChannel(SinkFunc(r.persist), WithChannelLogger(logger))

	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sess.cancel = cancel

	positions, err := r.positions.Positions(sctx)
	if err != nil {
		logger.Warn(fmt.Sprintf("position source unavailable, no records will be assembled: %s", err.Error()))
	}

	if positions != nil {
		sess.wg.Add(1)
		go func() {
			defer sess.wg.Done()
			for sample := range positions {
				sess.tracker.Update(sample)
			}
		}()
	}

	snapshots := r.signals.Stream(sctx)
	sess.wg.Add(1)
	go func() {
		defer sess.wg.Done()
		for snap := range snapshots {
			r.handleSnapshot(sctx, &sess, snap, logger)
		}
	}()

	r.session = &sess
	r.state = stateRunning

	logger.Info("session started", slog.String("file", filename))

	info := sess.info
	return &info, nil
}

// Stop cancels the session's streams, persists every record already
// submitted, closes the export files and records the end time. Start is
// refused with ErrStopPending until Stop returns.
func (r *Recorder) Stop(ctx context.Context) (*storage.Session, error) {
	r.mu.Lock()
	switch r.state {
	case stateIdle:
		r.mu.Unlock()
		return nil, ErrNotRecording
	case stateStopping:
		r.mu.Unlock()
		return nil, ErrStopPending
	}
	r.state = stateStopping
	sess := r.session
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.state = stateIdle
		r.session = nil
		r.mu.Unlock()
	}()

	logger := r.logger.With(slog.String("session", sess.info.ID))

	sess.cancel()
	sess.wg.Wait()

	pending := sess.channel.Pending()
	sess.channel.Close()
	logger.Debug(fmt.Sprintf("drained %s pending records", humanize.Comma(int64(pending))))

	var errs []error
	if err := r.writer.Finalize(sess.info.Filename); err != nil {
		errs = append(errs, fmt.Errorf("finalizing export files: %w", err))
	}

	end := r.now().UTC().Truncate(time.Millisecond)
	if end.Before(sess.info.StartTime) {
		end = sess.info.StartTime
	}
	if err := r.store.CloseSession(ctx, sess.info.ID, end); err != nil {
		errs = append(errs, fmt.Errorf("closing session: %w", err))
	}
	sess.info.EndTime = &end

	logger.Info("session stopped",
		slog.String("file", sess.info.Filename),
		slog.String("records", humanize.Comma(int64(r.log.Len()))))

	info := sess.info
	return &info, errors.Join(errs...)
}

// Status returns the current state
func (r *Recorder) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Status{
		Recording: r.state == stateRunning,
		Stopping:  r.state == stateStopping,
		Records:   r.log.Len(),
	}
	if r.session != nil {
		info := r.session.info
		s.Session = &info
		s.Pending = r.session.channel.Pending()
	}
	return s
}

func (r *Recorder) handleSnapshot(ctx context.Context, sess *activeSession, snap radio.Snapshot, logger *slog.Logger) {
	profile := snap.Profile
	profile.SubscriptionID = snap.SubscriptionID
	r.upsertProfile(ctx, sess, profile, logger)

	rec, err := sess.assemble(snap, profile)
	if err != nil {
		logger.Debug(fmt.Sprintf("dropping snapshot: %s", err.Error()), slog.Int("subscription", snap.SubscriptionID))
		return
	}

	// Submission happens under the session lock so that channel order
	// matches timestamp order.
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if rec.Timestamp.Before(sess.last) {
		rec.Timestamp = sess.last
	}
	sess.last = rec.Timestamp

	r.log.Append(rec)
	if err = sess.channel.Submit(rec); err != nil {
		logger.Error(fmt.Sprintf("submitting record: %s", err.Error()))
	}
}

func (s *activeSession) assemble(snap radio.Snapshot, profile radio.Profile) (measurement.Record, error) {
	p, ok := s.tracker.Latest()
	if !ok {
		return measurement.Record{}, ErrNoPosition
	}

	rec := measurement.Assemble(p, snap, profile)
	rec.SessionID = s.info.ID
	return rec, nil
}

// upsertProfile stores the identity profile when it differs from the last
// one stored during this session.
func (r *Recorder) upsertProfile(ctx context.Context, sess *activeSession, p radio.Profile, logger *slog.Logger) {
	sess.mu.Lock()
	prev, ok := sess.profiles[p.SubscriptionID]
	sess.mu.Unlock()
	if ok && prev == p {
		return
	}

	if err := r.store.UpsertProfile(ctx, p); err != nil {
		logger.Warn(fmt.Sprintf("storing radio profile: %s", err.Error()), slog.Int("subscription", p.SubscriptionID))
		return
	}

	sess.mu.Lock()
	sess.profiles[p.SubscriptionID] = p
	sess.mu.Unlock()
}

// persist is the Channel sink: one row and track point in the export files,
// one row in the store. Both are attempted even if the first fails.
func (r *Recorder) persist(ctx context.Context, rec measurement.Record) error {
	var errs []error
	if err := r.writer.Append(rec); err != nil {
		errs = append(errs, fmt.Errorf("writing export files: %w", err))
	}
	if err := r.store.InsertRecord(ctx, rec); err != nil {
		errs = append(errs, fmt.Errorf("storing record: %w", err))
	}
	return errors.Join(errs...)
}
