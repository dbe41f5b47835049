package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/roman-kulish/signal-logger/internal/api"
	"github.com/roman-kulish/signal-logger/internal/export"
	"github.com/roman-kulish/signal-logger/internal/pipeline"
	"github.com/roman-kulish/signal-logger/internal/position"
	"github.com/roman-kulish/signal-logger/internal/radio"
	"github.com/roman-kulish/signal-logger/internal/storage"
	"github.com/roman-kulish/signal-logger/internal/upload"
)

const deviceIDFile = "device_id"

func Run(ctx context.Context, config *Config, logger *slog.Logger) error {
	dataDir, err := ensureDir(config.Storage.DataDirectory)
	if err != nil {
		return fmt.Errorf("preparing data directory: %w", err)
	}

	deviceID, err := resolveDeviceID(config.Settings.DeviceID, dataDir)
	if err != nil {
		return fmt.Errorf("resolving device id: %w", err)
	}
	logger = logger.With(slog.String("device", deviceID))

	store := storage.NewSqliteStore(filepath.Join(dataDir, config.Storage.Database))
	defer func() {
		if cerr := store.Close(); cerr != nil {
			logger.Error(fmt.Sprintf("closing storage: %s", cerr.Error()))
		}
	}()

	exportDir := config.Storage.ExportDirectory
	if !filepath.IsAbs(exportDir) {
		exportDir = filepath.Join(dataDir, exportDir)
	}
	writer := export.NewWriter(exportDir, export.WithLogger(logger))

	if err = recoverSessions(ctx, store, writer, logger); err != nil {
		return fmt.Errorf("recovering interrupted sessions: %w", err)
	}

	recorder, err := createRecorder(config, deviceID, store, writer, logger)
	if err != nil {
		return err
	}
	defer func() {
		if !recorder.Status().Recording {
			return
		}
		if _, serr := recorder.Stop(context.WithoutCancel(ctx)); serr != nil {
			logger.Error(fmt.Sprintf("stopping session: %s", serr.Error()))
		}
	}()

	options := []func(*api.Server){api.WithLogger(logger)}
	if config.Sync.Enabled {
		recurring, closer, err := createSync(config, deviceID, store, logger)
		if err != nil {
			return err
		}
		defer closer.Close()

		if err = recurring.Start(ctx); err != nil {
			return fmt.Errorf("starting sync schedule: %w", err)
		}
		defer recurring.Stop()

		options = append(options, api.WithSyncer(recurring))
	}

	server := api.NewServer(deviceID, recorder, store, options...)
	logger.Info("control API listening", slog.String("addr", config.API.Addr))

	if err = server.Serve(ctx, config.API.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving control API: %w", err)
	}

	return nil
}

func createRecorder(config *Config, deviceID string, store storage.Store, writer *export.Writer, logger *slog.Logger) (*pipeline.Recorder, error) {
	positions, err := position.NewCommandSource(config.Position.Command,
		position.WithLogger(logger),
		position.WithParseErrorsThreshold(config.Position.ParseErrorsThreshold),
	)
	if err != nil {
		return nil, fmt.Errorf("creating position source: %w", err)
	}

	sensor, err := radio.NewCommandSensor(config.Radio.ListCommand, config.Radio.ReadCommand, config.Radio.CommandTimeout.Duration())
	if err != nil {
		return nil, fmt.Errorf("creating radio sensor: %w", err)
	}

	registry := radio.NewRegistry(sensor,
		radio.WithLogger(logger),
		radio.WithPollInterval(config.Radio.PollInterval.Duration()),
		radio.WithDiscoveryInterval(config.Radio.DiscoveryInterval.Duration()),
	)

	return pipeline.NewRecorder(deviceID, store, writer, positions, registry, pipeline.WithLogger(logger)), nil
}

func createSync(config *Config, deviceID string, store storage.Store, logger *slog.Logger) (*upload.Recurring, io.Closer, error) {
	var transport upload.Transport
	var closer io.Closer = io.NopCloser(nil)

	if config.Sync.NATSURL != "" {
		nt, err := upload.NewNATSTransport(config.Sync.NATSURL, config.Sync.NATSSubject, "signal-logger-"+deviceID)
		if err != nil {
			return nil, nil, fmt.Errorf("creating NATS transport: %w", err)
		}
		transport, closer = nt, nt
	} else {
		options := []func(*upload.HTTPTransport){
			upload.WithHTTPClient(&http.Client{Timeout: config.Sync.Timeout.Duration()}),
		}
		if config.Sync.AuthSecret != "" {
			options = append(options, upload.WithSigningSecret([]byte(config.Sync.AuthSecret)))
		}
		transport = upload.NewHTTPTransport(config.Sync.Endpoint, options...)
	}

	var constraints []upload.Constraint
	if config.Sync.RequireNetwork {
		addr, err := config.Sync.reachabilityAddr()
		if err != nil {
			_ = closer.Close()
			return nil, nil, err
		}
		constraints = append(constraints, upload.NetworkReachable(addr, 5*time.Second))
	}
	if config.Sync.MinBattery > 0 {
		constraints = append(constraints, upload.BatteryNotLow(config.Sync.PowerSupplyDir, config.Sync.MinBattery))
	}

	uploader := upload.NewUploader(deviceID, store, transport,
		upload.WithLogger(logger),
		upload.WithBatchSize(config.Sync.BatchSize),
	)

	recurring, err := upload.NewRecurring(config.Sync.Schedule, uploader.Run,
		upload.WithScheduleLogger(logger),
		upload.WithConstraints(constraints...),
	)
	if err != nil {
		_ = closer.Close()
		return nil, nil, fmt.Errorf("creating sync schedule: %w", err)
	}

	return recurring, closer, nil
}

// recoverSessions closes the sessions left open by an unclean shutdown. The
// GPX document gets its closing tags and the session ends at its last record.
func recoverSessions(ctx context.Context, store storage.Store, writer *export.Writer, logger *slog.Logger) error {
	sessions, err := store.Sessions(ctx)
	if err != nil {
		return err
	}

	for _, sess := range sessions {
		if !sess.IsOpen() {
			continue
		}

		if err = writer.Finalize(sess.Filename); err != nil {
			logger.Warn(fmt.Sprintf("finalizing export files: %s", err.Error()), slog.String("session", sess.ID))
		}

		records, err := store.RecordsForSession(ctx, sess.ID)
		if err != nil {
			return fmt.Errorf("reading records of session %s: %w", sess.ID, err)
		}

		end := sess.StartTime
		if len(records) > 0 {
			end = records[len(records)-1].Timestamp
		}
		if err = store.CloseSession(ctx, sess.ID, end); err != nil {
			return fmt.Errorf("closing session %s: %w", sess.ID, err)
		}

		logger.Info("recovered interrupted session",
			slog.String("session", sess.ID),
			slog.String("file", sess.Filename),
			slog.Int("records", len(records)),
		)
	}

	return nil
}

// resolveDeviceID returns the configured id or the one persisted in dir,
// generating and storing a new id on first run.
func resolveDeviceID(configured, dir string) (string, error) {
	if configured != "" {
		return configured, nil
	}

	path := filepath.Join(dir, deviceIDFile)
	data, err := os.ReadFile(path)
	if err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, nil
		}
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}

	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generating device id: %w", err)
	}
	if err = os.WriteFile(path, []byte(id.String()+"\n"), 0o644); err != nil {
		return "", fmt.Errorf("writing %s: %w", path, err)
	}

	return id.String(), nil
}

func ensureDir(dir string) (string, error) {
	if !filepath.IsAbs(dir) {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("failed to get current working directory: %w", err)
		}
		dir = filepath.Join(wd, dir)
	}

	stat, err := os.Stat(dir)
	switch {
	case os.IsNotExist(err):
		if err = os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("creating directory '%s': %w", dir, err)
		}
	case err != nil:
		return "", err
	case !stat.IsDir():
		return "", fmt.Errorf("invalid storage directory '%s'", dir)
	}

	return dir, nil
}
