package monitor

import (
	"errors"
	"fmt"
	"image/color"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/tarcisiobannwart/tennis-tracking/internal/tracking/court"
	"github.com/tarcisiobannwart/tennis-tracking/internal/tracking/tracks"
	"github.com/tarcisiobannwart/tennis-tracking/internal/tracking/trajectory"
)

// ErrNoCourtPositions is returned when there is nothing to draw in court space.
var ErrNoCourtPositions = errors.New("no samples with a court position")

var (
	lineColor   = color.RGBA{R: 90, G: 90, B: 90, A: 255}
	pathColor   = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	bounceColor = color.RGBA{R: 44, G: 160, B: 44, A: 255}
	outColor    = color.RGBA{R: 214, G: 39, B: 40, A: 255}
)

// CourtPlot draws the court lines, the ball path and the court position of
// every bounce and out-of-bounds event.
func CourtPlot(title string, samples []tracks.Sample, events []trajectory.Event) (*plot.Plot, error) {
	path := make(plotter.XYs, 0, len(samples))
	for _, s := range samples {
		if s.HasCourt {
			path = append(path, plotter.XY{X: s.Court.X, Y: s.Court.Y})
		}
	}
	if len(path) == 0 {
		return nil, ErrNoCourtPositions
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Across (m)"
	p.Y.Label.Text = "Along (m)"
	p.X.Min, p.X.Max = -3, court.DoublesWidth+3
	p.Y.Min, p.Y.Max = -4, court.Length+4

	for _, seg := range court.Lines() {
		l, err := plotter.NewLine(plotter.XYs{{X: seg.From.X, Y: seg.From.Y}, {X: seg.To.X, Y: seg.To.Y}})
		if err != nil {
			return nil, err
		}
		l.Color = lineColor
		l.Width = vg.Points(1)
		p.Add(l)
	}

	pathLine, err := plotter.NewLine(path)
	if err != nil {
		return nil, err
	}
	pathLine.Color = pathColor
	pathLine.Width = vg.Points(1.5)
	p.Add(pathLine)
	p.Legend.Add("ball", pathLine)

	var bounces, outs plotter.XYs
	for _, ev := range events {
		if !ev.HasPosition {
			continue
		}
		xy := plotter.XY{X: ev.Position.X, Y: ev.Position.Y}
		switch ev.Type {
		case trajectory.EventBounce:
			bounces = append(bounces, xy)
		case trajectory.EventOutOfBounds:
			outs = append(outs, xy)
		}
	}
	if err := addMarkers(p, "bounce", bounces, draw.CircleGlyph{}, bounceColor); err != nil {
		return nil, err
	}
	if err := addMarkers(p, "out", outs, draw.CrossGlyph{}, outColor); err != nil {
		return nil, err
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	return p, nil
}

func addMarkers(p *plot.Plot, label string, pts plotter.XYs, shape draw.GlyphDrawer, c color.Color) error {
	if len(pts) == 0 {
		return nil
	}
	sc, err := plotter.NewScatter(pts)
	if err != nil {
		return err
	}
	sc.GlyphStyle.Shape = shape
	sc.GlyphStyle.Color = c
	sc.GlyphStyle.Radius = vg.Points(4)
	p.Add(sc)
	p.Legend.Add(label, sc)
	return nil
}

// SaveCourtPlot renders CourtPlot to a PNG file.
func SaveCourtPlot(path, title string, samples []tracks.Sample, events []trajectory.Event) error {
	p, err := CourtPlot(title, samples, events)
	if err != nil {
		return err
	}
	if err := p.Save(6*vg.Inch, 12*vg.Inch, path); err != nil {
		return fmt.Errorf("save court plot: %w", err)
	}
	return nil
}
