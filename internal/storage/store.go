package storage

import (
	"context"
	"errors"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/roman-kulish/signal-logger/internal/measurement"
	"github.com/roman-kulish/signal-logger/internal/radio"
)

// ErrNotFound is returned when a session or profile does not exist
var ErrNotFound = errors.New("not found")

// Store persists sessions, their records and radio identity profiles.
// Records are stored normalized: profile fields are joined on read.
type Store interface {
	// CreateSession records the start of a logging session.
	CreateSession(ctx context.Context, id, filename, deviceID string, start time.Time) error

	// CloseSession sets the end time of an open session. Closing a closed
	// session keeps the original end time.
	CloseSession(ctx context.Context, id string, end time.Time) error

	// Session returns one session or ErrNotFound.
	Session(ctx context.Context, id string) (*Session, error)

	// Sessions returns all sessions ordered by start time.
	Sessions(ctx context.Context) ([]*Session, error)

	// UnsyncedSessions returns the sessions not yet synced, ordered by
	// start time ascending.
	UnsyncedSessions(ctx context.Context) ([]*Session, error)

	// MarkSessionSynced flags a session as synced. It is idempotent.
	MarkSessionSynced(ctx context.Context, id string) error

	// InsertRecord appends one record to its session.
	InsertRecord(ctx context.Context, r measurement.Record) error

	// InsertRecords appends records in a single transaction using
	// multi-row inserts.
	InsertRecords(ctx context.Context, records []measurement.Record) error

	// RecordsForSession returns the records of a session in insertion
	// order with their profiles joined.
	RecordsForSession(ctx context.Context, id string) ([]measurement.Record, error)

	// CountRecords returns the total number of records of the sessions.
	CountRecords(ctx context.Context, sessionIDs ...string) (int, error)

	// UpsertProfile stores a radio identity profile, last write wins.
	UpsertProfile(ctx context.Context, p radio.Profile) error

	// Profile returns the profile of a subscription or ErrNotFound.
	Profile(ctx context.Context, subscriptionID int) (*radio.Profile, error)

	// Close releases all database connections. It is safe to call Close
	// multiple times.
	Close() error
}
