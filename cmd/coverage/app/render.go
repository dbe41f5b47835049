package app

import (
	"image"
	"image/color"
	"image/draw"
	"math"
	"time"

	"github.com/roman-kulish/signal-logger/internal/geo"
	"github.com/roman-kulish/signal-logger/internal/measurement"
	"github.com/roman-kulish/signal-logger/internal/storage"
)

const (
	// Default border sizes in pixels
	defaultTopBorder    = 40
	defaultLeftBorder   = 20
	defaultBottomBorder = 110
	defaultRightBorder  = 20

	minMapHeight = 100
	minSpan      = 0.001 // Degrees
	trackDotSize = 2
)

var trackColor = color.RGBA{R: 0x10, G: 0x10, B: 0x10, A: 0xff}

// BorderConfig defines the sizes of white space around the map
type BorderConfig struct {
	Top    int // Space for the title
	Left   int
	Bottom int // Space for the legend and information bar
	Right  int
}

// RenderConfig holds all configuration options for coverage rendering
type RenderConfig struct {
	Width         int // Map area width in pixels
	ColorTheme    ColorTheme
	Bounds        *RSRPBounds // Fixed RSRP range, nil derives it from the data
	Location      *time.Location
	NoAnnotations bool
	BorderConfig  BorderConfig
}

// CoverageData is a session's coverage grid and the points it was built from
type CoverageData struct {
	Session  *storage.Session
	Level    int
	Records  int
	Distance float64 // Meters travelled
	Cells    []geo.CellStat
	Track    [][2]float64 // lat, lon
	Bounds   geo.Bounds
}

// NewCoverageData aggregates records into cells of the given s2 level
func NewCoverageData(sess *storage.Session, records []measurement.Record, level int) *CoverageData {
	data := CoverageData{
		Session:  sess,
		Level:    level,
		Records:  len(records),
		Distance: geo.PathLength(records),
		Cells:    geo.Coverage(records, level),
		Track:    make([][2]float64, 0, len(records)),
	}

	first := true
	extend := func(b geo.Bounds) {
		if first {
			data.Bounds, first = b, false
			return
		}
		data.Bounds = data.Bounds.Extend(b.MinLat, b.MinLon).Extend(b.MaxLat, b.MaxLon)
	}

	for _, cell := range data.Cells {
		extend(geo.CellBounds(cell.ID))
	}
	for _, r := range records {
		data.Track = append(data.Track, [2]float64{r.Latitude, r.Longitude})
		extend(geo.Bounds{MinLat: r.Latitude, MinLon: r.Longitude, MaxLat: r.Latitude, MaxLon: r.Longitude})
	}

	if data.Bounds.MaxLat-data.Bounds.MinLat < minSpan {
		data.Bounds.MinLat -= minSpan / 2
		data.Bounds.MaxLat += minSpan / 2
	}
	if data.Bounds.MaxLon-data.Bounds.MinLon < minSpan {
		data.Bounds.MinLon -= minSpan / 2
		data.Bounds.MaxLon += minSpan / 2
	}

	return &data
}

// RSRPRange returns the lowest and highest mean RSRP of the cells
func (d *CoverageData) RSRPRange() RSRPBounds {
	if len(d.Cells) == 0 {
		return RSRPBounds{Min: -140, Max: -44}
	}

	b := RSRPBounds{Min: math.Inf(1), Max: math.Inf(-1)}
	for _, cell := range d.Cells {
		b.Min = math.Min(b.Min, cell.MeanRSRP)
		b.Max = math.Max(b.Max, cell.MeanRSRP)
	}
	if b.Max-b.Min < 10 {
		mid := (b.Max + b.Min) / 2
		b.Min, b.Max = mid-5, mid+5
	}
	return b
}

// projection maps lat/lon onto the map area with an equirectangular
// projection scaled at the center latitude
type projection struct {
	bounds geo.Bounds
	area   image.Rectangle
}

func (p projection) point(lat, lon float64) image.Point {
	b := p.bounds
	x := (lon - b.MinLon) / (b.MaxLon - b.MinLon) * float64(p.area.Dx())
	y := (lat - b.MinLat) / (b.MaxLat - b.MinLat) * float64(p.area.Dy())
	return image.Pt(p.area.Min.X+int(x), p.area.Max.Y-int(y))
}

func (p projection) rect(b geo.Bounds) image.Rectangle {
	r := image.Rectangle{Min: p.point(b.MaxLat, b.MinLon), Max: p.point(b.MinLat, b.MaxLon)}
	if r.Dx() == 0 {
		r.Max.X++
	}
	if r.Dy() == 0 {
		r.Max.Y++
	}
	return r.Intersect(p.area)
}

// mapHeight keeps the aspect ratio of bounds for a map of the given width
func mapHeight(b geo.Bounds, width int) int {
	lonSpan := (b.MaxLon - b.MinLon) * math.Cos((b.MinLat+b.MaxLat)/2*math.Pi/180)
	latSpan := b.MaxLat - b.MinLat
	if lonSpan <= 0 || latSpan <= 0 {
		return width
	}

	h := int(float64(width) * latSpan / lonSpan)
	return max(minMapHeight, min(h, width*4))
}

// CoverageRenderer draws coverage grids
type CoverageRenderer struct {
	config    RenderConfig
	annotator *Annotator
}

// NewCoverageRenderer creates a renderer, filling in defaults for zero
// values of config
func NewCoverageRenderer(config RenderConfig) (*CoverageRenderer, error) {
	if config.Width == 0 {
		config.Width = defaultWidth
	}
	if config.Location == nil {
		config.Location = time.Local
	}
	if config.BorderConfig.Top == 0 {
		config.BorderConfig.Top = defaultTopBorder
	}
	if config.BorderConfig.Left == 0 {
		config.BorderConfig.Left = defaultLeftBorder
	}
	if config.BorderConfig.Bottom == 0 {
		config.BorderConfig.Bottom = defaultBottomBorder
	}
	if config.BorderConfig.Right == 0 {
		config.BorderConfig.Right = defaultRightBorder
	}

	r := CoverageRenderer{config: config}
	if !config.NoAnnotations {
		annotator, err := NewAnnotator(config.Location)
		if err != nil {
			return nil, err
		}
		r.annotator = annotator
	}

	return &r, nil
}

// Render creates the coverage image
func (r *CoverageRenderer) Render(data *CoverageData) (*image.RGBA, *ColorMapper, error) {
	border := r.config.BorderConfig
	width := r.config.Width
	height := mapHeight(data.Bounds, width)

	img := image.NewRGBA(image.Rect(0, 0, width+border.Left+border.Right, height+border.Top+border.Bottom))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)

	area := image.Rect(border.Left, border.Top, border.Left+width, border.Top+height)
	draw.Draw(img, area, image.NewUniform(NoDataColor), image.Point{}, draw.Src)

	bounds := data.RSRPRange()
	if r.config.Bounds != nil {
		bounds = *r.config.Bounds
	}
	mapper := NewColorMapper(defaultColorMapSize, r.config.ColorTheme, bounds)

	proj := projection{bounds: data.Bounds, area: area}
	for _, cell := range data.Cells {
		rect := proj.rect(geo.CellBounds(cell.ID))
		draw.Draw(img, rect, image.NewUniform(mapper.Color(cell.MeanRSRP)), image.Point{}, draw.Src)
	}

	dot := image.NewUniform(trackColor)
	for _, pt := range data.Track {
		p := proj.point(pt[0], pt[1])
		draw.Draw(img, image.Rect(p.X, p.Y, p.X+trackDotSize, p.Y+trackDotSize).Intersect(area), dot, image.Point{}, draw.Src)
	}

	if r.annotator != nil {
		legend := image.Rect(border.Left, area.Max.Y+10, border.Left+min(width, defaultColorMapSize*2), area.Max.Y+30)
		if err := r.annotator.Annotate(img, legend, mapper, data); err != nil {
			return nil, nil, err
		}
	}

	return img, mapper, nil
}
