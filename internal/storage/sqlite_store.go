package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/roman-kulish/signal-logger/internal/measurement"
	"github.com/roman-kulish/signal-logger/internal/radio"
)

// insertBatchSize bounds the rows of one multi-row insert statement so the
// bound parameters stay below SQLite's variable limit.
const insertBatchSize = 200

// SqliteStore implements Store on an SQLite database file
type SqliteStore struct {
	dbPath string

	writeDB     *sql.DB
	writeDBOnce sync.Once
	writeDBErr  error

	readDB     *sql.DB
	readDBOnce sync.Once
	readDBErr  error

	closeOnce sync.Once
	closeErr  error
}

// NewSqliteStore creates a store on dbPath. Connections are opened and the
// schema initialized on first use.
func NewSqliteStore(dbPath string) *SqliteStore {
	return &SqliteStore{dbPath: dbPath}
}

func runSQLCommand(db *sql.DB, sql string) error {
	_, err := db.Exec(sql)
	return err
}

func (s *SqliteStore) getWriteDB() (*sql.DB, error) {
	s.writeDBOnce.Do(func() {
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath, "_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"))
		if err != nil {
			s.writeDBErr = fmt.Errorf("opening write connection: %w", err)
			return
		}
		db.SetMaxOpenConns(1)

		if err = runSQLCommand(db, initSchemaSQL); err != nil {
			_ = db.Close()
			s.writeDBErr = fmt.Errorf("initializing schema: %w", err)
			return
		}

		s.writeDB = db
	})

	return s.writeDB, s.writeDBErr
}

func (s *SqliteStore) getReadDB() (*sql.DB, error) {
	s.readDBOnce.Do(func() {
		// The database file and schema must exist before a read-only open.
		if _, err := s.getWriteDB(); err != nil {
			s.readDBErr = err
			return
		}

		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath, "mode=ro&_busy_timeout=5000"))
		if err != nil {
			s.readDBErr = fmt.Errorf("opening read connection: %w", err)
			return
		}
		s.readDB = db
	})

	return s.readDB, s.readDBErr
}

func (s *SqliteStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	db, err := s.getWriteDB()
	if err != nil {
		return nil, fmt.Errorf("getting write connection: %w", err)
	}
	return db.ExecContext(ctx, query, args...)
}

func (s *SqliteStore) CreateSession(ctx context.Context, id, filename, deviceID string, start time.Time) error {
	if _, err := s.exec(ctx, insertSessionSQL, id, filename, deviceID, start.UnixMilli()); err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}
	return nil
}

func (s *SqliteStore) CloseSession(ctx context.Context, id string, end time.Time) error {
	if _, err := s.exec(ctx, closeSessionSQL, end.UnixMilli(), id); err != nil {
		return fmt.Errorf("closing session: %w", err)
	}
	return nil
}

func (s *SqliteStore) MarkSessionSynced(ctx context.Context, id string) error {
	if _, err := s.exec(ctx, markSessionSyncedSQL, id); err != nil {
		return fmt.Errorf("marking session synced: %w", err)
	}
	return nil
}

func (s *SqliteStore) Session(ctx context.Context, id string) (session *Session, err error) {
	db, err := s.getReadDB()
	if err != nil {
		err = fmt.Errorf("getting read connection: %w", err)
		return
	}

	var data sessionData
	err = db.QueryRowContext(ctx, selectSessionSQL, id).
		Scan(&data.ID, &data.Filename, &data.DeviceID, &data.StartTime, &data.EndTime, &data.Synced)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scanning session: %w", err)
	}

	return data.toSession(), nil
}

func (s *SqliteStore) Sessions(ctx context.Context) ([]*Session, error) {
	return s.querySessions(ctx, selectSessionsSQL)
}

func (s *SqliteStore) UnsyncedSessions(ctx context.Context) ([]*Session, error) {
	return s.querySessions(ctx, selectUnsyncedSessionsSQL)
}

func (s *SqliteStore) querySessions(ctx context.Context, query string) (sessions []*Session, err error) {
	db, err := s.getReadDB()
	if err != nil {
		err = fmt.Errorf("getting read connection: %w", err)
		return
	}

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		err = fmt.Errorf("querying sessions: %w", err)
		return
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var data sessionData
		if err = rows.Scan(&data.ID, &data.Filename, &data.DeviceID, &data.StartTime, &data.EndTime, &data.Synced); err != nil {
			err = fmt.Errorf("scanning session: %w", err)
			return
		}
		sessions = append(sessions, data.toSession())
	}

	if err = rows.Err(); err != nil {
		err = fmt.Errorf("iterating sessions: %w", err)
	}
	return
}

func (s *SqliteStore) InsertRecord(ctx context.Context, r measurement.Record) error {
	if _, err := s.exec(ctx, insertRecordSQL+placeholders(1), toRecordData(&r).values()...); err != nil {
		return fmt.Errorf("inserting record: %w", err)
	}
	return nil
}

func (s *SqliteStore) InsertRecords(ctx context.Context, records []measurement.Record) (err error) {
	if len(records) == 0 {
		return
	}

	db, err := s.getWriteDB()
	if err != nil {
		return fmt.Errorf("getting write connection: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollbackWithError(tx, &err)

	for batch := range slices.Chunk(records, insertBatchSize) {
		values := make([]any, 0, len(batch)*recordColumnCount)
		for i := range batch {
			values = append(values, toRecordData(&batch[i]).values()...)
		}

		if _, err = tx.ExecContext(ctx, insertRecordSQL+placeholders(len(batch)), values...); err != nil {
			return fmt.Errorf("batch inserting records: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	return nil
}

func (s *SqliteStore) RecordsForSession(ctx context.Context, id string) (records []measurement.Record, err error) {
	db, err := s.getReadDB()
	if err != nil {
		err = fmt.Errorf("getting read connection: %w", err)
		return
	}

	rows, err := db.QueryContext(ctx, selectRecordsSQL, id)
	if err != nil {
		err = fmt.Errorf("querying records: %w", err)
		return
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var data recordData
		var profile profileData
		if err = rows.Scan(data.scanTargets(&profile)...); err != nil {
			err = fmt.Errorf("scanning record: %w", err)
			return
		}
		records = append(records, data.toRecord(&profile))
	}

	if err = rows.Err(); err != nil {
		err = fmt.Errorf("iterating records: %w", err)
	}
	return
}

func (s *SqliteStore) CountRecords(ctx context.Context, sessionIDs ...string) (int, error) {
	if len(sessionIDs) == 0 {
		return 0, nil
	}

	db, err := s.getReadDB()
	if err != nil {
		return 0, fmt.Errorf("getting read connection: %w", err)
	}

	args := make([]any, len(sessionIDs))
	for i, id := range sessionIDs {
		args[i] = id
	}

	query := fmt.Sprintf(countRecordsSQL, strings.TrimSuffix(strings.Repeat("?, ", len(sessionIDs)), ", "))

	var n int
	if err = db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting records: %w", err)
	}
	return n, nil
}

func (s *SqliteStore) UpsertProfile(ctx context.Context, p radio.Profile) error {
	_, err := s.exec(ctx, upsertProfileSQL,
		p.SubscriptionID,
		p.SlotIndex,
		p.MCC,
		p.MNC,
		p.DisplayName,
		p.Embedded,
		time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("upserting profile: %w", err)
	}
	return nil
}

func (s *SqliteStore) Profile(ctx context.Context, subscriptionID int) (*radio.Profile, error) {
	db, err := s.getReadDB()
	if err != nil {
		return nil, fmt.Errorf("getting read connection: %w", err)
	}

	var p radio.Profile
	err = db.QueryRowContext(ctx, selectProfileSQL, subscriptionID).
		Scan(&p.SubscriptionID, &p.SlotIndex, &p.MCC, &p.MNC, &p.DisplayName, &p.Embedded)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("profile %d: %w", subscriptionID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scanning profile: %w", err)
	}
	return &p, nil
}

func (s *SqliteStore) Close() error {
	s.closeOnce.Do(func() {
		var errs []error

		if s.readDB != nil {
			errs = append(errs, s.readDB.Close())
			s.readDB = nil
		}

		if s.writeDB != nil {
			errs = append(errs, s.writeDB.Close())
			s.writeDB = nil
		}

		s.closeErr = errors.Join(errs...)
	})

	return s.closeErr
}

// placeholders returns the VALUES tuples for n records
func placeholders(n int) string {
	tuple := "(" + strings.TrimSuffix(strings.Repeat("?, ", recordColumnCount), ", ") + ")"

	var sb strings.Builder
	for i := range n {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(tuple)
	}
	return sb.String()
}
