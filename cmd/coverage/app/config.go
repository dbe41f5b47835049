package app

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/roman-kulish/signal-logger/internal/geo"
)

const (
	ImagePNG  ImageFormat = "png"
	ImageJPEG ImageFormat = "jpeg"

	defaultWidth = 1200
)

type ImageFormat string

type Config struct {
	DBPath        string
	SessionID     string
	OutputFile    string
	Format        ImageFormat
	Level         int
	Width         int
	Theme         ColorTheme
	MinRSRP       *float64
	MaxRSRP       *float64
	NoAnnotations bool
}

var validImageFormats = map[ImageFormat]struct{}{
	ImagePNG:  {},
	ImageJPEG: {},
}

func NewConfig() *Config {
	return &Config{
		Format: ImagePNG,
		Level:  geo.DefaultLevel,
		Width:  defaultWidth,
	}
}

func NewConfigFromCLI() (*Config, error) {
	return parseConfig(flag.CommandLine, os.Args[1:])
}

func parseConfig(fs *flag.FlagSet, args []string) (*Config, error) {
	c := NewConfig()

	var imageFormat, theme string
	var minRSRP, maxRSRP float64
	fs.StringVar(&c.DBPath, "db", "", "Path to the database file")
	fs.StringVar(&c.SessionID, "s", "", "Session ID")
	fs.StringVar(&c.OutputFile, "o", "", "Path to the output file, without extension")
	fs.StringVar(&imageFormat, "f", string(ImagePNG), "Output image format. [png, jpeg]")
	fs.IntVar(&c.Level, "level", geo.DefaultLevel, "S2 cell level of the coverage grid [1-30]")
	fs.IntVar(&c.Width, "width", defaultWidth, "Width of the map area in pixels")
	fs.StringVar(&theme, "theme", string(SignalTheme), "Color theme. [signal, classic, grayscale, jungle, thermal, marine]")
	fs.Float64Var(&minRSRP, "min-rsrp", 0, "Define a manual minimum RSRP in dBm")
	fs.Float64Var(&maxRSRP, "max-rsrp", 0, "Define a manual maximum RSRP in dBm")
	fs.BoolVar(&c.NoAnnotations, "no-annotations", false, "Disable the legend and session information")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	imageFormat = strings.ToLower(imageFormat)

	fs.Visit(func(f *flag.Flag) {
		if f.Name == "min-rsrp" {
			c.MinRSRP = &minRSRP
		}
		if f.Name == "max-rsrp" {
			c.MaxRSRP = &maxRSRP
		}
	})

	var err error
	if c.DBPath == "" {
		err = errors.New("db path is required")
	} else if c.SessionID == "" {
		err = errors.New("session id is required")
	} else if c.OutputFile == "" {
		err = errors.New("output file is required")
	} else if _, ok := validImageFormats[ImageFormat(imageFormat)]; !ok {
		err = fmt.Errorf("invalid image format: %s", imageFormat)
	} else if c.Level < 1 || c.Level > 30 {
		err = fmt.Errorf("invalid cell level: %d", c.Level)
	} else if c.Width < 100 {
		err = fmt.Errorf("width must be at least 100 pixels: %d", c.Width)
	} else if !validTheme(ColorTheme(theme)) {
		err = fmt.Errorf("invalid color theme: %s", theme)
	} else if c.MinRSRP != nil && c.MaxRSRP != nil && *c.MinRSRP >= *c.MaxRSRP {
		err = errors.New("min-rsrp must be lower than max-rsrp")
	}

	if err != nil {
		fs.Usage()
		return nil, err
	}

	c.Format = ImageFormat(imageFormat)
	c.Theme = ColorTheme(theme)
	c.OutputFile = fmt.Sprintf("%s.%s", c.OutputFile, c.Format)
	return c, nil
}
