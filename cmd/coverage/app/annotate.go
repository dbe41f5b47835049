package app

import (
	"fmt"
	"image"
	"image/draw"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/golang/freetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
)

const (
	dpi     float64 = 72
	size    float64 = 14
	spacing float64 = 1.3
)

type Annotator struct {
	context  *freetype.Context
	location *time.Location
}

func NewAnnotator(location *time.Location) (*Annotator, error) {
	parsedFont, err := freetype.ParseFont(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("parsing font: %w", err)
	}

	context := freetype.NewContext()
	context.SetDPI(dpi)
	context.SetFont(parsedFont)
	context.SetFontSize(size)
	context.SetSrc(image.Black)
	context.SetHinting(font.HintingFull)

	return &Annotator{context: context, location: location}, nil
}

func (a *Annotator) Annotate(img *image.RGBA, legend image.Rectangle, mapper *ColorMapper, data *CoverageData) error {
	a.context.SetClip(img.Bounds())
	a.context.SetDst(img)

	ops := []struct {
		msg string
		fn  func() error
	}{
		{"drawing title", func() error { return a.drawTitle(data) }},
		{"drawing legend", func() error { return a.drawLegend(img, legend, mapper) }},
		{"drawing info", func() error { return a.drawInfo(img, legend, data) }},
	}
	for _, op := range ops {
		if err := op.fn(); err != nil {
			return fmt.Errorf("%s: %w", op.msg, err)
		}
	}

	return nil
}

func (a *Annotator) drawTitle(data *CoverageData) error {
	title := "Coverage"
	if data.Session != nil {
		title = fmt.Sprintf("%s: %s", data.Session.Filename, a.timeRange(data))
	}

	_, err := a.context.DrawString(title, freetype.Pt(5, 25))
	return err
}

func (a *Annotator) drawLegend(img *image.RGBA, legend image.Rectangle, mapper *ColorMapper) error {
	bounds := mapper.Bounds()
	span := bounds.Max - bounds.Min

	for x := legend.Min.X; x < legend.Max.X; x++ {
		rsrp := bounds.Min + span*float64(x-legend.Min.X)/float64(legend.Dx()-1)
		col := image.NewUniform(mapper.Color(rsrp))
		draw.Draw(img, image.Rect(x, legend.Min.Y, x+1, legend.Max.Y), col, image.Point{}, draw.Src)
	}

	const ticks = 4
	lineHeight := a.context.PointToFixed(size * spacing).Ceil()
	y := legend.Max.Y + lineHeight
	for i := 0; i <= ticks; i++ {
		x := legend.Min.X + (legend.Dx()-1)*i/ticks
		for ty := legend.Max.Y; ty < legend.Max.Y+4; ty++ {
			img.Set(x, ty, image.Black)
		}

		label := fmt.Sprintf("%.0f dBm", bounds.Min+span*float64(i)/ticks)
		if _, err := a.context.DrawString(label, freetype.Pt(max(x-20, 0), y)); err != nil {
			return err
		}
	}

	return nil
}

func (a *Annotator) drawInfo(img *image.RGBA, legend image.Rectangle, data *CoverageData) error {
	lineHeight := a.context.PointToFixed(size * spacing).Ceil()
	pt := freetype.Pt(legend.Min.X, legend.Max.Y+2*lineHeight+5)

	lines := []string{
		fmt.Sprintf("%s records in %s cells (level %d)",
			humanize.Comma(int64(data.Records)), humanize.Comma(int64(len(data.Cells))), data.Level),
		fmt.Sprintf("Distance: %s", humanize.SIWithDigits(data.Distance, 2, "m")),
	}

	for _, s := range lines {
		if _, err := a.context.DrawString(s, pt); err != nil {
			return err
		}
		pt.Y += a.context.PointToFixed(size * spacing)
	}

	return nil
}

func (a *Annotator) timeRange(data *CoverageData) string {
	start := data.Session.StartTime.In(a.location).Format(time.DateTime)
	if data.Session.EndTime == nil {
		return start + " (recording)"
	}

	end := data.Session.EndTime.In(a.location)
	return fmt.Sprintf("%s to %s (%s)", start, end.Format(time.TimeOnly), end.Sub(data.Session.StartTime).Round(time.Second))
}
