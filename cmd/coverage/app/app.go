package app

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"log/slog"
	"os"

	"github.com/dustin/go-humanize"

	"github.com/roman-kulish/signal-logger/internal/storage"
)

func Run(ctx context.Context, config *Config, logger *slog.Logger) error {
	if _, err := os.Stat(config.DBPath); err != nil && os.IsNotExist(err) {
		return fmt.Errorf("database file '%s' does not exist: %w", config.DBPath, err)
	}

	store := storage.NewSqliteStore(config.DBPath)
	defer store.Close()

	return renderCoverage(ctx, store, config, logger)
}

func renderCoverage(ctx context.Context, store storage.Store, config *Config, logger *slog.Logger) (err error) {
	sess, err := store.Session(ctx, config.SessionID)
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("session '%s' does not exist", config.SessionID)
	}
	if err != nil {
		return fmt.Errorf("reading session: %w", err)
	}

	records, err := store.RecordsForSession(ctx, sess.ID)
	if err != nil {
		return fmt.Errorf("reading records: %w", err)
	}
	if len(records) == 0 {
		return fmt.Errorf("session '%s' has no records", sess.ID)
	}

	data := NewCoverageData(sess, records, config.Level)

	logger.Info("aggregated coverage",
		slog.Group("stats",
			slog.String("session", sess.ID),
			slog.String("records", humanize.Comma(int64(data.Records))),
			slog.Int("cells", len(data.Cells)),
			slog.String("distance", humanize.SIWithDigits(data.Distance, 2, "m")),
		))

	renderConfig := RenderConfig{
		Width:         config.Width,
		ColorTheme:    config.Theme,
		NoAnnotations: config.NoAnnotations,
	}
	if config.MinRSRP != nil || config.MaxRSRP != nil {
		bounds := data.RSRPRange()
		if config.MinRSRP != nil {
			bounds.Min = *config.MinRSRP
		}
		if config.MaxRSRP != nil {
			bounds.Max = *config.MaxRSRP
		}
		renderConfig.Bounds = &bounds
	}

	renderer, err := NewCoverageRenderer(renderConfig)
	if err != nil {
		return fmt.Errorf("creating coverage renderer: %w", err)
	}

	img, mapper, err := renderer.Render(data)
	if err != nil {
		return fmt.Errorf("rendering coverage: %w", err)
	}

	logger.Info("writing image",
		slog.Group("image",
			slog.String("destination", config.OutputFile),
			slog.String("format", string(config.Format)),
			slog.String("theme", string(config.Theme)),
			slog.Float64("minRsrp", mapper.Bounds().Min),
			slog.Float64("maxRsrp", mapper.Bounds().Max),
		))

	out, err := os.Create(config.OutputFile)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	return encodeImage(out, img, config.Format)
}

func encodeImage(w io.Writer, img image.Image, format ImageFormat) error {
	switch format {
	case ImagePNG:
		return png.Encode(w, img)
	case ImageJPEG:
		return jpeg.Encode(w, img, &jpeg.Options{Quality: 95})
	default:
		return fmt.Errorf("unsupported image format: %s", format)
	}
}
