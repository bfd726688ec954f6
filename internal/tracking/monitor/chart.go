package monitor

import (
	"fmt"
	"io"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/tarcisiobannwart/tennis-tracking/internal/tracking/tracks"
	"github.com/tarcisiobannwart/tennis-tracking/internal/tracking/trajectory"
	"github.com/tarcisiobannwart/tennis-tracking/internal/units"
)

// RenderSpeedPage writes an HTML page with the ball speed per frame, bounce
// markers and an event count bar chart. Court speeds are converted to unit.
func RenderSpeedPage(w io.Writer, match string, samples []tracks.Sample, events []trajectory.Event, unit string) error {
	frames, speeds, space := speedSeries(samples)
	label := "px/s"
	if space == trajectory.SpaceCourt {
		label = units.Label(unit)
		for i := range speeds {
			speeds[i] = units.ConvertSpeed(speeds[i], unit)
		}
	}

	x := make([]string, len(frames))
	data := make([]opts.LineData, len(speeds))
	at := make(map[int64]float64, len(frames))
	for i, f := range frames {
		x[i] = strconv.FormatInt(f, 10)
		data[i] = opts.LineData{Value: speeds[i]}
		at[f] = speeds[i]
	}

	var marks []opts.MarkPointNameCoordItem
	for _, ev := range events {
		if ev.Type != trajectory.EventBounce {
			continue
		}
		if v, ok := at[ev.Frame]; ok {
			marks = append(marks, opts.MarkPointNameCoordItem{
				Name:       fmt.Sprintf("bounce %d", ev.Frame),
				Coordinate: []interface{}{strconv.FormatInt(ev.Frame, 10), v},
				Symbol:     "pin",
			})
		}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Ball speed", Width: "100%", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{Title: "Ball speed", Subtitle: fmt.Sprintf("match=%s samples=%d space=%s", match, len(samples), space)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Frame", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: label, NameLocation: "middle", NameGap: 40}),
	)
	line.SetXAxis(x).
		AddSeries("speed", data,
			charts.WithLineChartOpts(opts.LineChart{Smooth: opts.Bool(false)}),
			charts.WithMarkPointNameCoordItemOpts(marks...),
		)

	summary := Summarize(samples, events)
	types := []trajectory.EventType{trajectory.EventBounce, trajectory.EventOutOfBounds, trajectory.EventAnomaly}
	names := make([]string, len(types))
	counts := make([]opts.BarData, len(types))
	for i, typ := range types {
		names[i] = typ.String()
		counts[i] = opts.BarData{Value: summary.Events[typ]}
	}
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "320px"}),
		charts.WithTitleOpts(opts.Title{Title: "Events", Subtitle: summary.Format(unit)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(names).
		AddSeries("events", counts,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)

	page := components.NewPage()
	page.SetPageTitle(fmt.Sprintf("Match %s", match))
	page.AddCharts(line, bar)
	if err := page.Render(w); err != nil {
		return fmt.Errorf("render speed page: %w", err)
	}
	return nil
}
