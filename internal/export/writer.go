package export

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/roman-kulish/signal-logger/internal/measurement"
)

const (
	CSVExtension = ".csv"
	GPXExtension = ".gpx"

	// tailSize is how much of a track file is inspected for the closing block
	tailSize = 256
)

// ErrWriterClosed is returned by Append when no session is open
var ErrWriterClosed = errors.New("writer is closed")

// WithLogger sets the logger for the writer
func WithLogger(logger *slog.Logger) func(*Writer) {
	return func(w *Writer) {
		w.logger = logger
	}
}

// Writer appends records of one session to a CSV file and a GPX track file
// in the same directory, both named after the session filename. It moves
// between Closed and Open; all state is guarded by a single lock so that
// concurrent callers never interleave partial writes.
type Writer struct {
	dir string

	mu       sync.Mutex
	filename string
	csvFile  *os.File
	gpxFile  *os.File
	csvBuf   *bufio.Writer
	gpxBuf   *bufio.Writer
	csv      *Encoder

	logger *slog.Logger
}

// NewWriter creates a closed Writer storing files under dir
func NewWriter(dir string, options ...func(*Writer)) *Writer {
	w := Writer{
		dir:    dir,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&w)
	}

	return &w
}

// Paths returns the CSV and GPX paths of filename
func (w *Writer) Paths(filename string) (csvPath, gpxPath string) {
	base := filepath.Join(w.dir, filename)
	return base + CSVExtension, base + GPXExtension
}

// Current returns the filename of the open session, or an empty string.
func (w *Writer) Current() string {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.filename
}

// Open append-opens both files of filename. A header is written only to an
// empty file, so reopening a filename never duplicates it. A track file
// that was cleanly closed has its closing block removed so appended points
// stay inside the track. Opening while another session is open closes it
// first.
func (w *Writer) Open(filename string) (err error) {
	if err = validFilename(filename); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.filename == filename {
		return nil
	}
	if w.filename != "" {
		if err = w.closeLocked(); err != nil {
			w.logger.Warn(fmt.Sprintf("closing previous session: %s", err.Error()))
		}
	}

	if err = os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("creating export directory: %w", err)
	}

	csvPath, gpxPath := w.Paths(filename)

	csvFile, schema, err := openCSV(csvPath)
	if err != nil {
		return err
	}

	gpxFile, err := openGPX(gpxPath, filename)
	if err != nil {
		_ = csvFile.Close()
		return err
	}

	w.filename = filename
	w.csvFile = csvFile
	w.gpxFile = gpxFile
	w.csvBuf = bufio.NewWriter(csvFile)
	w.gpxBuf = bufio.NewWriter(gpxFile)
	w.csv = NewEncoder(w.csvBuf, schema)

	w.logger.Info("export files opened",
		slog.String("csv", csvPath),
		slog.String("gpx", gpxPath))

	return nil
}

// Append writes r as one CSV row and one track point and flushes both
// buffers. A write failure closes the session and is returned.
func (w *Writer) Append(r measurement.Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.filename == "" {
		return ErrWriterClosed
	}

	if err := w.appendLocked(r); err != nil {
		w.logger.Error(fmt.Sprintf("appending record: %s", err.Error()), slog.String("file", w.filename))
		if cerr := w.closeLocked(); cerr != nil {
			w.logger.Error(fmt.Sprintf("closing after failed append: %s", cerr.Error()))
		}
		return err
	}
	return nil
}

func (w *Writer) appendLocked(r measurement.Record) error {
	if err := w.csv.Encode(r); err != nil {
		return err
	}
	if err := w.csv.Flush(); err != nil {
		return fmt.Errorf("flushing csv: %w", err)
	}

	pt, err := encodePoint(r)
	if err != nil {
		return err
	}
	if _, err = w.gpxBuf.Write(pt); err != nil {
		return fmt.Errorf("writing track point: %w", err)
	}
	if err = w.gpxBuf.Flush(); err != nil {
		return fmt.Errorf("flushing gpx: %w", err)
	}
	return nil
}

// Close writes the closing block of the track, flushes and releases both
// files. Closing a closed Writer is a no-op.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.closeLocked()
}

// Finalize makes sure the track file of filename ends with the closing
// block. If filename is the open session it is closed; otherwise a track
// file left without its closing block, e.g. by a crash, gets it appended.
// Finalize is idempotent.
func (w *Writer) Finalize(filename string) error {
	if err := validFilename(filename); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.filename == filename {
		return w.closeLocked()
	}

	_, gpxPath := w.Paths(filename)
	return finalizeGPX(gpxPath)
}

func (w *Writer) closeLocked() error {
	if w.filename == "" {
		return nil
	}

	var errs []error
	if _, err := w.gpxBuf.WriteString(gpxFooter); err != nil {
		errs = append(errs, fmt.Errorf("writing track footer: %w", err))
	}
	if err := w.gpxBuf.Flush(); err != nil {
		errs = append(errs, fmt.Errorf("flushing gpx: %w", err))
	}
	if err := w.csv.Flush(); err != nil {
		errs = append(errs, fmt.Errorf("flushing csv: %w", err))
	}
	if err := w.gpxFile.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing gpx: %w", err))
	}
	if err := w.csvFile.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing csv: %w", err))
	}

	w.logger.Info("export files closed", slog.String("file", w.filename))

	w.filename = ""
	w.csvFile, w.gpxFile = nil, nil
	w.csvBuf, w.gpxBuf = nil, nil
	w.csv = nil

	return errors.Join(errs...)
}

// openCSV opens path for appending and writes the extended header if the
// file is empty. The schema of an existing file is taken from its header.
func openCSV(path string) (_ *os.File, _ measurement.Schema, err error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, 0, fmt.Errorf("opening csv: %w", err)
	}
	defer func() {
		if err != nil {
			_ = f.Close()
		}
	}()

	info, err := f.Stat()
	if err != nil {
		return nil, 0, fmt.Errorf("reading csv file info: %w", err)
	}

	if info.Size() == 0 {
		enc := NewEncoder(f, measurement.SchemaExtended)
		if err = enc.WriteHeader(); err != nil {
			return nil, 0, err
		}
		if err = enc.Flush(); err != nil {
			return nil, 0, fmt.Errorf("writing csv header: %w", err)
		}
		return f, measurement.SchemaExtended, nil
	}

	line, err := bufio.NewReader(io.NewSectionReader(f, 0, info.Size())).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, 0, fmt.Errorf("reading csv header: %w", err)
	}

	schema, ok := schemaForColumns(len(strings.Split(strings.TrimRight(line, "\r\n"), ",")))
	if !ok {
		return nil, 0, fmt.Errorf("existing csv file %s has an unknown header", path)
	}
	return f, schema, nil
}

// openGPX opens path positioned for appending points. An empty file gets
// the opening block; a trailing closing block is truncated away.
func openGPX(path, name string) (_ *os.File, err error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening gpx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = f.Close()
		}
	}()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("reading gpx file info: %w", err)
	}

	if info.Size() == 0 {
		if _, err = f.Write(gpxHeader(name)); err != nil {
			return nil, fmt.Errorf("writing gpx header: %w", err)
		}
		return f, nil
	}

	tail, start, err := readTail(f, info.Size())
	if err != nil {
		return nil, err
	}
	if off := footerOffset(tail); off >= 0 {
		if err = f.Truncate(start + int64(off)); err != nil {
			return nil, fmt.Errorf("reopening track: %w", err)
		}
	}

	if _, err = f.Seek(0, io.SeekEnd); err != nil {
		return nil, fmt.Errorf("seeking gpx: %w", err)
	}
	return f, nil
}

// finalizeGPX appends the closing block to the track at path unless it is
// already there. A missing file is not an error.
func finalizeGPX(path string) (err error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("opening gpx: %w", err)
	}
	defer closeWithError(f, &err)

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("reading gpx file info: %w", err)
	}
	if info.Size() == 0 {
		return nil
	}

	tail, _, err := readTail(f, info.Size())
	if err != nil {
		return err
	}
	if hasFooter(tail) {
		return nil
	}

	if _, err = f.WriteAt([]byte(gpxFooter), info.Size()); err != nil {
		return fmt.Errorf("writing track footer: %w", err)
	}
	return nil
}

func readTail(f *os.File, size int64) ([]byte, int64, error) {
	start := max(size-tailSize, 0)
	tail := make([]byte, size-start)
	if _, err := f.ReadAt(tail, start); err != nil && !errors.Is(err, io.EOF) {
		return nil, 0, fmt.Errorf("reading gpx tail: %w", err)
	}
	return tail, start, nil
}

func validFilename(filename string) error {
	if filename == "" || filename == "." || filename == ".." || filepath.Base(filename) != filename {
		return fmt.Errorf("invalid session filename %q", filename)
	}
	return nil
}

func closeWithError(cl io.Closer, err *error) {
	if cerr := cl.Close(); cerr != nil && *err == nil {
		*err = cerr
	}
}
