package app

import (
	"image/color"
	"math"

	"github.com/lucasb-eyer/go-colorful"
)

const (
	SignalTheme    ColorTheme = "signal"
	ClassicTheme   ColorTheme = "classic"
	GrayscaleTheme ColorTheme = "grayscale"
	JungleTheme    ColorTheme = "jungle"
	ThermalTheme   ColorTheme = "thermal"
	MarineTheme    ColorTheme = "marine"

	defaultColorMapSize = 256
)

type ColorTheme string

var NoDataColor = color.RGBA{R: 0x20, G: 0x20, B: 0x20, A: 0xff}

// RSRPBounds is the RSRP range mapped onto the color ramp, in dBm
type RSRPBounds struct {
	Min float64
	Max float64
}

// ColorMapper maps RSRP values onto a pre-computed color ramp
type ColorMapper struct {
	colorMap     []color.Color
	bounds       RSRPBounds
	theme        func(float64) color.Color
	rsrpPerIndex float64
}

func NewColorMapper(size int, theme ColorTheme, bounds RSRPBounds) *ColorMapper {
	if size < 2 {
		size = defaultColorMapSize
	}
	if bounds.Max <= bounds.Min {
		bounds.Max = bounds.Min + 1
	}

	cm := &ColorMapper{
		colorMap:     make([]color.Color, size),
		bounds:       bounds,
		theme:        GetColorTheme(theme),
		rsrpPerIndex: (bounds.Max - bounds.Min) / float64(size-1),
	}

	for i := range cm.colorMap {
		cm.colorMap[i] = cm.theme(float64(i) / float64(size-1))
	}

	return cm
}

// Bounds returns the RSRP range of the ramp
func (cm *ColorMapper) Bounds() RSRPBounds {
	return cm.bounds
}

// Color returns the color of rsrp, clamped to the bounds
func (cm *ColorMapper) Color(rsrp float64) color.Color {
	if math.IsNaN(rsrp) {
		return NoDataColor
	}

	rsrp = math.Max(cm.bounds.Min, math.Min(rsrp, cm.bounds.Max))
	index := int((rsrp - cm.bounds.Min) / cm.rsrpPerIndex)
	index = max(0, min(index, len(cm.colorMap)-1))

	return cm.colorMap[index]
}

func validTheme(theme ColorTheme) bool {
	switch theme {
	case SignalTheme, ClassicTheme, GrayscaleTheme, JungleTheme, ThermalTheme, MarineTheme:
		return true
	}
	return false
}

// GetColorTheme returns a ramp function taking a normalized value in [0,1]
func GetColorTheme(theme ColorTheme) func(float64) color.Color {
	switch theme {
	case ClassicTheme: // Blue -> Red
		return func(v float64) color.Color {
			return colorful.Hsv(240-(v*240), 0.9+(v*0.1), 0.3+math.Pow(v, 0.7)*0.7)
		}

	case GrayscaleTheme: // Black -> White
		return func(v float64) color.Color {
			return colorful.Color{R: math.Pow(v, 0.7), G: math.Pow(v, 0.7), B: math.Pow(v, 0.7)}
		}

	case JungleTheme: // Dark Green -> Yellow
		return func(v float64) color.Color {
			return colorful.Hsv(120-(v*60), 1.0, 0.3+(math.Pow(v, 0.6)*0.7))
		}

	case ThermalTheme: // Black -> Red -> Yellow -> White
		return func(v float64) color.Color {
			if v < 0.33 {
				return colorful.Color{R: v * 3}
			} else if v < 0.66 {
				return colorful.Color{R: 1, G: (v - 0.33) * 3}
			}
			return colorful.Color{R: 1, G: 1, B: math.Min(1, (v-0.66)*3)}
		}

	case MarineTheme: // Deep Blue -> Cyan -> White
		return func(v float64) color.Color {
			return colorful.Hsv(240-(v*60), 1.0-(v*0.8), 0.3+(math.Pow(v, 0.6)*0.7))
		}

	default: // Red (weak) -> Yellow -> Green (strong), blended in Lab space
		weak := colorful.Hsv(0, 0.85, 0.9)
		fair := colorful.Hsv(55, 0.85, 0.95)
		strong := colorful.Hsv(125, 0.8, 0.75)
		return func(v float64) color.Color {
			v = math.Max(0, math.Min(1, v))
			if v < 0.5 {
				return weak.BlendLab(fair, v*2).Clamped()
			}
			return fair.BlendLab(strong, (v-0.5)*2).Clamped()
		}
	}
}
