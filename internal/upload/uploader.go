package upload

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/dustin/go-humanize"

	"github.com/roman-kulish/signal-logger/internal/storage"
)

// DefaultBatchSize is the number of records per uploaded batch
const DefaultBatchSize = 50

// Status is the outcome of an upload run
type Status int

const (
	StatusSuccess Status = iota
	StatusRetry
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusRetry:
		return "retry"
	default:
		return "unknown"
	}
}

// Result is the run-level outcome reported to the invoker
type Result struct {
	Status         Status `json:"-"`
	SessionsSynced int    `json:"sessionsSynced"`
	Batches        int    `json:"batches"`
	Pending        int    `json:"pending"` // Records still waiting for upload
	Err            error  `json:"-"`
}

// Message is the user-facing summary of the result
func (r Result) Message() string {
	if r.Status == StatusRetry {
		return fmt.Sprintf("pending %s records", humanize.Comma(int64(r.Pending)))
	}
	return fmt.Sprintf("synced %s sessions", humanize.Comma(int64(r.SessionsSynced)))
}

// WithLogger sets the logger for the uploader
func WithLogger(logger *slog.Logger) func(*Uploader) {
	return func(u *Uploader) {
		u.logger = logger
	}
}

// WithBatchSize sets the number of records per batch
func WithBatchSize(size int) func(*Uploader) {
	return func(u *Uploader) {
		u.batchSize = size
	}
}

// Uploader sends the records of unsynced sessions to the collector in
// batches and marks each session synced once every batch was accepted.
// It is the only component that sets the synced flag.
type Uploader struct {
	deviceID  string
	store     storage.Store
	transport Transport
	batchSize int

	logger *slog.Logger
}

// NewUploader creates an Uploader
func NewUploader(deviceID string, store storage.Store, transport Transport, options ...func(*Uploader)) *Uploader {
	u := Uploader{
		deviceID:  deviceID,
		store:     store,
		transport: transport,
		batchSize: DefaultBatchSize,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&u)
	}

	if u.batchSize <= 0 {
		u.batchSize = DefaultBatchSize
	}

	return &u
}

// Run uploads unsynced sessions in start order. Sessions still recording
// are skipped. The first failed batch aborts the run with StatusRetry;
// nothing of the failing session is marked synced, so the next run starts
// over with it.
func (u *Uploader) Run(ctx context.Context) Result {
	var res Result

	sessions, err := u.store.UnsyncedSessions(ctx)
	if err != nil {
		return u.retry(ctx, res, nil, fmt.Errorf("listing unsynced sessions: %w", err))
	}

	for i, sess := range sessions {
		if sess.IsOpen() {
			u.logger.Debug("skipping open session", slog.String("session", sess.ID))
			continue
		}

		batches, err := u.syncSession(ctx, sess)
		res.Batches += batches
		if err != nil {
			return u.retry(ctx, res, sessions[i:], err)
		}
		res.SessionsSynced++
	}

	res.Status = StatusSuccess
	return res
}

func (u *Uploader) syncSession(ctx context.Context, sess *storage.Session) (batches int, err error) {
	logger := u.logger.With(slog.String("session", sess.ID))

	records, err := u.store.RecordsForSession(ctx, sess.ID)
	if err != nil {
		return 0, fmt.Errorf("reading records of session %s: %w", sess.ID, err)
	}

	for batch := range slices.Chunk(records, u.batchSize) {
		if err = u.transport.Send(ctx, NewPayload(u.deviceID, sess.ID, batch)); err != nil {
			return batches, fmt.Errorf("uploading batch %d of session %s: %w", batches+1, sess.ID, err)
		}
		batches++
	}

	if err = u.store.MarkSessionSynced(ctx, sess.ID); err != nil {
		return batches, fmt.Errorf("marking session %s synced: %w", sess.ID, err)
	}

	logger.Info("session synced",
		slog.String("records", humanize.Comma(int64(len(records)))),
		slog.Int("batches", batches))

	return batches, nil
}

func (u *Uploader) retry(ctx context.Context, res Result, remaining []*storage.Session, err error) Result {
	res.Status = StatusRetry
	res.Err = err

	ids := make([]string, len(remaining))
	for i, sess := range remaining {
		ids[i] = sess.ID
	}

	if n, cerr := u.store.CountRecords(ctx, ids...); cerr != nil {
		u.logger.Warn(fmt.Sprintf("counting pending records: %s", cerr.Error()))
	} else {
		res.Pending = n
	}

	u.logger.Warn(fmt.Sprintf("sync aborted, %s: %s", res.Message(), err.Error()))
	return res
}
