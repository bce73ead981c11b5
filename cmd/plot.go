package cmd

import (
	"fmt"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// PlotHistories draws the relative residual of every report against the
// iteration count on a log scale. The format follows the file extension.
func PlotHistories(file, title string, reports []PrecondReport) (err error) {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "iteration"
	p.Y.Label.Text = "relative residual"
	p.Y.Scale = plot.LogScale{}
	p.Y.Tick.Marker = plot.LogTicks{Prec: -1}
	p.Legend.Top = true

	var nlines int
	for i, rep := range reports {
		var pts plotter.XYs
		for k, r := range rep.History {
			// Log axes cannot show an exact zero
			if r > 0 {
				pts = append(pts, plotter.XY{X: float64(k), Y: r})
			}
		}
		if len(pts) == 0 {
			continue
		}
		var l *plotter.Line
		if l, err = plotter.NewLine(pts); err != nil {
			return fmt.Errorf("plot %s: %w", rep.Method, err)
		}
		l.Color = plotutil.Color(i)
		l.Dashes = plotutil.Dashes(i)
		p.Add(l)
		p.Legend.Add(rep.Method, l)
		nlines++
	}
	if nlines == 0 {
		return fmt.Errorf("plot: no residual history to draw")
	}
	p.Add(plotter.NewGrid())
	return p.Save(8*vg.Inch, 5*vg.Inch, file)
}
